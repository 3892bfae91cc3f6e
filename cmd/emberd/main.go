// Command emberd is the main entry point for the Ember assistive
// communication server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/emberassist/ember/internal/app"
	"github.com/emberassist/ember/internal/config"
	"github.com/emberassist/ember/internal/observe"
	"github.com/emberassist/ember/internal/resilience"
	"github.com/emberassist/ember/pkg/provider/embeddings"
	ollamaembed "github.com/emberassist/ember/pkg/provider/embeddings/ollama"
	oaembed "github.com/emberassist/ember/pkg/provider/embeddings/openai"
	"github.com/emberassist/ember/pkg/provider/llm"
	"github.com/emberassist/ember/pkg/provider/llm/anyllm"
	oallm "github.com/emberassist/ember/pkg/provider/llm/openai"
	"github.com/emberassist/ember/pkg/provider/stt"
	"github.com/emberassist/ember/pkg/provider/stt/deepgram"
	oastt "github.com/emberassist/ember/pkg/provider/stt/openai"
	"github.com/emberassist/ember/pkg/provider/tts"
	"github.com/emberassist/ember/pkg/provider/tts/elevenlabs"
	oatts "github.com/emberassist/ember/pkg/provider/tts/openai"
	"github.com/emberassist/ember/pkg/provider/tts/piper"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Environment ────────────────────────────────────────────────────────────
	// Secrets may live in a .env file next to the binary; a missing file is
	// not an error.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "emberd: load .env: %v\n", err)
		return 1
	}

	// ── Load configuration ─────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "emberd: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "emberd: %v\n", err)
		}
		return 1
	}

	// ── Logger ─────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so a config reload can change it without
	// rebuilding the handler.
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(newLogger(logLevel))

	slog.Info("emberd starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ─────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ──────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "ember",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ──────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ──────────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ────────────────────────────────────────────────────────
	printStartupSummary(cfg)

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	// ── Config watcher ─────────────────────────────────────────────────────────
	// Safe fields (log level, dialog defaults, emergency phrases) apply
	// without a restart; everything else is picked up on the next start.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if !d.Any() {
			slog.Info("config changed; only restart-required fields differ")
			return
		}
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		application.ApplyDiff(d)
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("server ready; press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")

	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ────────────────────────────────────────────────────────────────────
	// openai goes through its native client; anthropic, gemini, deepseek,
	// mistral, and groq share the any-llm gateway with optional APIKey and
	// BaseURL.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oallm.WithOrganization(org))
		}
		p, err := oallm.New(entry.APIKey, entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	for _, providerName := range []string{"anthropic", "gemini", "deepseek", "mistral", "groq"} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			p, err := anyllm.New(providerName, entry.Model, opts...)
			if err != nil {
				return nil, err
			}
			return p, nil
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		p, err := anyllm.New("ollama", entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// ── STT ────────────────────────────────────────────────────────────────────

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if kw := optStrings(entry.Options, "keywords"); len(kw) > 0 {
			opts = append(opts, deepgram.WithKeywords(kw))
		}
		p, err := deepgram.New(entry.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oastt.Option
		if entry.Model != "" {
			opts = append(opts, oastt.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oastt.WithBaseURL(entry.BaseURL))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, oastt.WithLanguage(lang))
		}
		p, err := oastt.New(entry.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// ── TTS ────────────────────────────────────────────────────────────────────

	reg.RegisterTTS("elevenlabs", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if entry.Model != "" {
			opts = append(opts, elevenlabs.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithAPIBaseURL(entry.BaseURL))
		}
		if format := optString(entry.Options, "output_format"); format != "" {
			opts = append(opts, elevenlabs.WithOutputFormat(format))
		}
		if voice := optString(entry.Options, "default_voice"); voice != "" {
			opts = append(opts, elevenlabs.WithDefaultVoice(voice))
		}
		p, err := elevenlabs.New(entry.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	reg.RegisterTTS("openai", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []oatts.Option
		if entry.Model != "" {
			opts = append(opts, oatts.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, oatts.WithBaseURL(entry.BaseURL))
		}
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, oatts.WithVoice(voice))
		}
		p, err := oatts.New(entry.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// piper is a local server; BaseURL is the address.
	reg.RegisterTTS("piper", func(entry config.ProviderEntry) (tts.Provider, error) {
		var opts []piper.Option
		if voice := optString(entry.Options, "voice"); voice != "" {
			opts = append(opts, piper.WithVoiceName(voice))
		}
		p, err := piper.New(entry.BaseURL, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// ── Embeddings ─────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaembed.WithOrganization(org))
		}
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, oaembed.WithDimensions(dims))
		}
		p, err := oaembed.New(entry.APIKey, entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []ollamaembed.Option
		if dims := optInt(entry.Options, "dimensions"); dims > 0 {
			opts = append(opts, ollamaembed.WithDimensions(dims))
		}
		p, err := ollamaembed.New(entry.BaseURL, entry.Model, opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	})

	// Debug log of all registered providers.
	for kind, names := range config.ValidProviderNames {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to
// consume. Entries with fallbacks are wrapped in a failover chain with
// per-provider circuit breakers.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if entry := cfg.Providers.LLM; entry.Name != "" {
		p, err := reg.CreateLLM(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not registered; skipping", "kind", "llm", "name", entry.Name)
		} else if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", entry.Name, err)
		} else {
			ps.LLM = llmWithFallbacks(p, entry, reg)
			slog.Info("provider created", "kind", "llm", "name", entry.Name)
		}
	}

	if entry := cfg.Providers.STT; entry.Name != "" {
		p, err := reg.CreateSTT(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not registered; skipping", "kind", "stt", "name", entry.Name)
		} else if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", entry.Name, err)
		} else {
			ps.STT = sttWithFallbacks(p, entry, reg)
			slog.Info("provider created", "kind", "stt", "name", entry.Name)
		}
	}

	if entry := cfg.Providers.TTS; entry.Name != "" {
		p, err := reg.CreateTTS(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not registered; skipping", "kind", "tts", "name", entry.Name)
		} else if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", entry.Name, err)
		} else {
			ps.TTS = ttsWithFallbacks(p, entry, reg)
			slog.Info("provider created", "kind", "tts", "name", entry.Name)
		}
	}

	if entry := cfg.Providers.Embeddings; entry.Name != "" {
		p, err := reg.CreateEmbeddings(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not registered; skipping", "kind", "embeddings", "name", entry.Name)
		} else if err != nil {
			return nil, fmt.Errorf("create embeddings provider %q: %w", entry.Name, err)
		} else {
			ps.Embeddings = embeddingsWithFallbacks(p, entry, reg)
			slog.Info("provider created", "kind", "embeddings", "name", entry.Name)
		}
	}

	return ps, nil
}

// llmWithFallbacks wraps primary in a failover chain when entry declares
// fallbacks. A fallback that cannot be constructed is skipped with a warning
// rather than failing startup; the primary still works without it.
func llmWithFallbacks(primary llm.Provider, entry config.ProviderEntry, reg *config.Registry) llm.Provider {
	if len(entry.Fallbacks) == 0 {
		return primary
	}
	group := resilience.NewLLMFallback(primary, entry.Name, resilience.FallbackConfig{})
	for _, fb := range entry.Fallbacks {
		p, err := reg.CreateLLM(fb)
		if err != nil {
			slog.Warn("skipping llm fallback", "name", fb.Name, "err", err)
			continue
		}
		group.AddFallback(fb.Name, p)
		slog.Info("fallback registered", "kind", "llm", "primary", entry.Name, "fallback", fb.Name)
	}
	return group
}

func sttWithFallbacks(primary stt.Provider, entry config.ProviderEntry, reg *config.Registry) stt.Provider {
	if len(entry.Fallbacks) == 0 {
		return primary
	}
	group := resilience.NewSTTFallback(primary, entry.Name, resilience.FallbackConfig{})
	for _, fb := range entry.Fallbacks {
		p, err := reg.CreateSTT(fb)
		if err != nil {
			slog.Warn("skipping stt fallback", "name", fb.Name, "err", err)
			continue
		}
		group.AddFallback(fb.Name, p)
		slog.Info("fallback registered", "kind", "stt", "primary", entry.Name, "fallback", fb.Name)
	}
	return group
}

func ttsWithFallbacks(primary tts.Provider, entry config.ProviderEntry, reg *config.Registry) tts.Provider {
	if len(entry.Fallbacks) == 0 {
		return primary
	}
	group := resilience.NewTTSFallback(primary, entry.Name, resilience.FallbackConfig{})
	for _, fb := range entry.Fallbacks {
		p, err := reg.CreateTTS(fb)
		if err != nil {
			slog.Warn("skipping tts fallback", "name", fb.Name, "err", err)
			continue
		}
		group.AddFallback(fb.Name, p)
		slog.Info("fallback registered", "kind", "tts", "primary", entry.Name, "fallback", fb.Name)
	}
	return group
}

func embeddingsWithFallbacks(primary embeddings.Provider, entry config.ProviderEntry, reg *config.Registry) embeddings.Provider {
	if len(entry.Fallbacks) == 0 {
		return primary
	}
	group := resilience.NewEmbeddingsFallback(primary, entry.Name, resilience.FallbackConfig{})
	for _, fb := range entry.Fallbacks {
		p, err := reg.CreateEmbeddings(fb)
		if err != nil {
			slog.Warn("skipping embeddings fallback", "name", fb.Name, "err", err)
			continue
		}
		group.AddFallback(fb.Name, p)
		slog.Info("fallback registered", "kind", "embeddings", "primary", entry.Name, "fallback", fb.Name)
	}
	return group
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔════════════════════════════════════════╗")
	fmt.Println("║          Ember startup summary         ║")
	fmt.Println("╠════════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("TTS", cfg.Providers.TTS.Name, cfg.Providers.TTS.Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)

	storage := "in-memory"
	if cfg.Storage.PostgresDSN != "" {
		storage = "postgres"
	}
	printRow("Storage", storage)

	channels := ""
	if cfg.Alerts.Twilio != nil {
		channels = "twilio"
	}
	if cfg.Alerts.Pushover != nil {
		if channels != "" {
			channels += "+pushover"
		} else {
			channels = "pushover"
		}
	}
	if channels == "" {
		channels = "(log only)"
	}
	printRow("Alerts", channels)

	smartHome := "(disabled)"
	if ha := cfg.SmartHome.HomeAssistant; ha != nil && ha.BaseURL != "" {
		smartHome = "home-assistant"
	}
	printRow("Smart home", smartHome)

	voiceBank := "(disabled)"
	if cfg.VoiceBank.Dir != "" && cfg.VoiceBank.Passphrase != "" {
		voiceBank = "enabled"
	}
	printRow("Voice bank", voiceBank)

	if cfg.PhraseBank.SeedFile != "" {
		printRow("Seed file", cfg.PhraseBank.SeedFile)
	}
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	tlsMode := "(plain http)"
	if cfg.Server.TLS != nil {
		tlsMode = "enabled"
	}
	printRow("TLS", tlsMode)
	fmt.Println("╚════════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	printRow(kind, value)
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level *slog.LevelVar) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	v, ok := opts[key]
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		return ""
	}
	return s
}

// optInt extracts an integer value from a provider Options map. YAML decodes
// whole numbers as int.
func optInt(opts map[string]any, key string) int {
	if opts == nil {
		return 0
	}
	v, ok := opts[key]
	if !ok {
		return 0
	}
	n, ok := v.(int)
	if !ok {
		return 0
	}
	return n
}

// optStrings extracts a string list from a provider Options map. YAML decodes
// sequences as []any; non-string elements are dropped.
func optStrings(opts map[string]any, key string) []string {
	if opts == nil {
		return nil
	}
	items, ok := opts[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
