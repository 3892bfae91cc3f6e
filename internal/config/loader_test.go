package config_test

import (
	"strings"
	"testing"

	"github.com/emberassist/ember/internal/config"
)

func TestApplyEnvOverlay_SecretsWinOverFile(t *testing.T) {
	t.Setenv("EMBER_LLM_API_KEY", "sk-from-env")
	t.Setenv("EMBER_POSTGRES_DSN", "postgres://env-host/ember")
	t.Setenv("EMBER_VOICE_BANK_PASSPHRASE", "env-secret")

	yaml := `
providers:
  llm:
    name: openai
    api_key: sk-from-file
storage:
  postgres_dsn: postgres://file-host/ember
voice_bank:
  dir: /tmp/voices
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.LLM.APIKey != "sk-from-env" {
		t.Errorf("llm api key: got %q, want env value", cfg.Providers.LLM.APIKey)
	}
	if cfg.Storage.PostgresDSN != "postgres://env-host/ember" {
		t.Errorf("postgres dsn: got %q, want env value", cfg.Storage.PostgresDSN)
	}
	if cfg.VoiceBank.Passphrase != "env-secret" {
		t.Errorf("voice bank passphrase: got %q, want env value", cfg.VoiceBank.Passphrase)
	}
}

func TestApplyEnvOverlay_EmptyEnvKeepsFileValues(t *testing.T) {
	yaml := `
providers:
  stt:
    name: deepgram
    api_key: dg-from-file
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.STT.APIKey != "dg-from-file" {
		t.Errorf("stt api key: got %q, want file value", cfg.Providers.STT.APIKey)
	}
}

func TestApplyEnvOverlay_CreatesTwilioBlock(t *testing.T) {
	t.Setenv("EMBER_TWILIO_ACCOUNT_SID", "AC-env")
	t.Setenv("EMBER_TWILIO_AUTH_TOKEN", "tok-env")

	cfg := &config.Config{}
	if err := config.ApplyEnvOverlay(cfg); err != nil {
		t.Fatalf("ApplyEnvOverlay: %v", err)
	}
	if cfg.Alerts.Twilio == nil {
		t.Fatal("expected twilio block to be created from env")
	}
	if cfg.Alerts.Twilio.AccountSID != "AC-env" || cfg.Alerts.Twilio.AuthToken != "tok-env" {
		t.Errorf("unexpected twilio credentials: %+v", cfg.Alerts.Twilio)
	}
}

func TestApplyEnvOverlay_HomeAssistantToken(t *testing.T) {
	t.Setenv("EMBER_HOME_ASSISTANT_TOKEN", "ha-env")

	cfg := &config.Config{}
	cfg.SmartHome.HomeAssistant = &config.HomeAssistantConfig{BaseURL: "http://ha.local:8123"}
	if err := config.ApplyEnvOverlay(cfg); err != nil {
		t.Fatalf("ApplyEnvOverlay: %v", err)
	}
	if cfg.SmartHome.HomeAssistant.Token != "ha-env" {
		t.Errorf("token: got %q, want env value", cfg.SmartHome.HomeAssistant.Token)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	yaml := `
server:
  log_level: loud
dialog:
  max_candidates: 99
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
	if !strings.Contains(errStr, "max_candidates") {
		t.Errorf("error should mention max_candidates, got: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	// Sanity-check that the map is populated.
	if len(config.ValidProviderNames) == 0 {
		t.Fatal("ValidProviderNames should not be empty")
	}
	for _, kind := range []string{"llm", "stt", "tts", "embeddings"} {
		if len(config.ValidProviderNames[kind]) == 0 {
			t.Errorf("ValidProviderNames[%q] should not be empty", kind)
		}
	}
	found := false
	for _, n := range config.ValidProviderNames["tts"] {
		if n == "elevenlabs" {
			found = true
			break
		}
	}
	if !found {
		t.Error("ValidProviderNames[\"tts\"] should contain \"elevenlabs\"")
	}
}
