package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq"},
	"stt":        {"deepgram", "openai"},
	"tts":        {"elevenlabs", "openai", "piper"},
	"embeddings": {"openai", "ollama"},
}

// envPrefix is the prefix for all Ember environment variables
// (EMBER_LLM_API_KEY, EMBER_POSTGRES_DSN, ...).
const envPrefix = "ember"

// envOverlay holds the secrets that may be supplied through the environment
// instead of the YAML file. A non-empty environment value wins over the file
// so credentials never have to be written to disk.
type envOverlay struct {
	LLMAPIKey           string `envconfig:"LLM_API_KEY"`
	STTAPIKey           string `envconfig:"STT_API_KEY"`
	TTSAPIKey           string `envconfig:"TTS_API_KEY"`
	EmbeddingsAPIKey    string `envconfig:"EMBEDDINGS_API_KEY"`
	PostgresDSN         string `envconfig:"POSTGRES_DSN"`
	TwilioAccountSID    string `envconfig:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken     string `envconfig:"TWILIO_AUTH_TOKEN"`
	PushoverAppToken    string `envconfig:"PUSHOVER_APP_TOKEN"`
	HomeAssistantToken  string `envconfig:"HOME_ASSISTANT_TOKEN"`
	VoiceBankPassphrase string `envconfig:"VOICE_BANK_PASSPHRASE"`
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with the environment overlay applied. It is a convenience wrapper
// around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies the environment
// overlay, and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := ApplyEnvOverlay(cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverlay copies EMBER_-prefixed environment variables over the
// corresponding secret fields of cfg. Empty environment values leave the file
// values untouched. Loading a .env file beforehand (godotenv) is the caller's
// concern.
func ApplyEnvOverlay(cfg *Config) error {
	var env envOverlay
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return fmt.Errorf("config: process environment: %w", err)
	}

	setIf(&cfg.Providers.LLM.APIKey, env.LLMAPIKey)
	setIf(&cfg.Providers.STT.APIKey, env.STTAPIKey)
	setIf(&cfg.Providers.TTS.APIKey, env.TTSAPIKey)
	setIf(&cfg.Providers.Embeddings.APIKey, env.EmbeddingsAPIKey)
	setIf(&cfg.Storage.PostgresDSN, env.PostgresDSN)
	setIf(&cfg.VoiceBank.Passphrase, env.VoiceBankPassphrase)

	if env.TwilioAccountSID != "" || env.TwilioAuthToken != "" {
		if cfg.Alerts.Twilio == nil {
			cfg.Alerts.Twilio = &TwilioConfig{}
		}
		setIf(&cfg.Alerts.Twilio.AccountSID, env.TwilioAccountSID)
		setIf(&cfg.Alerts.Twilio.AuthToken, env.TwilioAuthToken)
	}
	if env.PushoverAppToken != "" {
		if cfg.Alerts.Pushover == nil {
			cfg.Alerts.Pushover = &PushoverConfig{}
		}
		cfg.Alerts.Pushover.AppToken = env.PushoverAppToken
	}
	if env.HomeAssistantToken != "" {
		if cfg.SmartHome.HomeAssistant == nil {
			cfg.SmartHome.HomeAssistant = &HomeAssistantConfig{}
		}
		cfg.SmartHome.HomeAssistant.Token = env.HomeAssistantToken
	}
	return nil
}

func setIf(dst *string, val string) {
	if val != "" {
		*dst = val
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Warn for unknown provider names, including fallback chains.
	validateProviderEntry("llm", cfg.Providers.LLM)
	validateProviderEntry("stt", cfg.Providers.STT)
	validateProviderEntry("tts", cfg.Providers.TTS)
	validateProviderEntry("embeddings", cfg.Providers.Embeddings)

	// Provider availability warnings
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; utterances will not be interpreted into candidates")
	}
	if cfg.Providers.TTS.Name == "" {
		slog.Warn("no TTS provider configured; voice playback will be unavailable")
	}

	// Embeddings ↔ storage dimensions
	if cfg.Providers.Embeddings.Name != "" && cfg.Storage.EmbeddingDimensions <= 0 {
		slog.Warn("providers.embeddings is configured but storage.embedding_dimensions is not set; defaulting to 1536")
	}

	// Storage availability
	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; messages, corrections, and phrases will not survive restarts")
	}

	// Dialog ranges
	if cfg.Dialog.AutoConfirmSeconds < 0 || cfg.Dialog.AutoConfirmSeconds > 300 {
		errs = append(errs, fmt.Errorf("dialog.auto_confirm_seconds %d is out of range [0, 300]", cfg.Dialog.AutoConfirmSeconds))
	}
	if cfg.Dialog.ConfirmDelayMillis < 0 || cfg.Dialog.ConfirmDelayMillis > 5000 {
		errs = append(errs, fmt.Errorf("dialog.confirm_delay_millis %d is out of range [0, 5000]", cfg.Dialog.ConfirmDelayMillis))
	}
	if cfg.Dialog.MaxCandidates < 0 || cfg.Dialog.MaxCandidates > 10 {
		errs = append(errs, fmt.Errorf("dialog.max_candidates %d is out of range [0, 10]", cfg.Dialog.MaxCandidates))
	}

	// Alerts
	if tw := cfg.Alerts.Twilio; tw != nil {
		if tw.AccountSID == "" || tw.AuthToken == "" {
			errs = append(errs, errors.New("alerts.twilio requires both account_sid and auth_token"))
		}
		if tw.FromNumber == "" {
			errs = append(errs, errors.New("alerts.twilio.from_number is required when twilio is configured"))
		}
	}
	if po := cfg.Alerts.Pushover; po != nil && po.AppToken == "" {
		errs = append(errs, errors.New("alerts.pushover.app_token is required when pushover is configured"))
	}

	// Smart home
	if ha := cfg.SmartHome.HomeAssistant; ha != nil {
		if ha.BaseURL == "" {
			errs = append(errs, errors.New("smart_home.home_assistant.base_url is required when home_assistant is configured"))
		}
		if ha.Token == "" {
			slog.Warn("smart_home.home_assistant.token is empty; requests will likely be rejected")
		}
	}

	// Voice bank
	if cfg.VoiceBank.Passphrase != "" && cfg.VoiceBank.Dir == "" {
		errs = append(errs, errors.New("voice_bank.dir is required when a passphrase is set"))
	}

	return errors.Join(errs...)
}

// validateProviderEntry warns about unrecognised provider names on the entry
// and its fallbacks.
func validateProviderEntry(kind string, e ProviderEntry) {
	validateProviderName(kind, e.Name)
	for _, fb := range e.Fallbacks {
		validateProviderName(kind, fb.Name)
	}
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name; may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
