// Package app wires all Ember subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves until its context is cancelled, and Shutdown tears
// everything down in reverse initialisation order.
//
// For testing, inject doubles via functional options (WithStore,
// WithMetrics, WithDialogClock). When an option is not provided, New creates
// real implementations from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/emberassist/ember/internal/alerts"
	"github.com/emberassist/ember/internal/config"
	"github.com/emberassist/ember/internal/correction"
	"github.com/emberassist/ember/internal/dialog"
	"github.com/emberassist/ember/internal/health"
	"github.com/emberassist/ember/internal/interpret"
	"github.com/emberassist/ember/internal/observe"
	"github.com/emberassist/ember/internal/phrasebank"
	"github.com/emberassist/ember/internal/server"
	"github.com/emberassist/ember/internal/settings"
	"github.com/emberassist/ember/internal/smarthome"
	"github.com/emberassist/ember/internal/voicebank"
	"github.com/emberassist/ember/pkg/provider/embeddings"
	"github.com/emberassist/ember/pkg/provider/llm"
	"github.com/emberassist/ember/pkg/provider/stt"
	"github.com/emberassist/ember/pkg/provider/tts"
	"github.com/emberassist/ember/pkg/store"
	"github.com/emberassist/ember/pkg/store/memstore"
	"github.com/emberassist/ember/pkg/store/postgres"
	"github.com/emberassist/ember/pkg/types"
)

const (
	// serverShutdownGrace caps how long in-flight HTTP requests get to finish
	// once the server is told to stop.
	serverShutdownGrace = 10 * time.Second

	// homeSyncInterval is how often the smart-home device inventory is
	// refreshed from Home Assistant.
	homeSyncInterval = 5 * time.Minute

	// defaultEmbeddingDimensions matches OpenAI's text-embedding-3-small.
	defaultEmbeddingDimensions = 1536
)

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main via the config registry.
type Providers struct {
	LLM        llm.Provider
	STT        stt.Provider
	TTS        tts.Provider
	Embeddings embeddings.Provider
}

// App owns all subsystem lifetimes, from storage to the HTTP surface.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	store        store.Store
	pg           *postgres.Store
	metrics      *observe.Metrics
	learner      *correction.Learner
	pipeline     *interpret.Pipeline
	phrases      *phrasebank.Service
	seed         *phrasebank.SeedFile
	settings     *settings.Service
	detector     *alerts.Detector
	alerts       *alerts.Service
	homeClient   *smarthome.Client
	homeRegistry *smarthome.Registry
	home         *smarthome.Service
	bank         *voicebank.Bank
	enroller     *voicebank.Enroller
	speech       *Speech
	sessions     *SessionManager
	server       *server.Server

	// clock drives session countdowns; nil means wall time.
	clock dialog.Clock

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a storage backend instead of opening one from config.
func WithStore(st store.Store) Option {
	return func(a *App) { a.store = st }
}

// WithMetrics injects a metric set instead of building one from the global
// meter provider.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithDialogClock injects the clock driving session countdowns.
func WithDialogClock(c dialog.Clock) Option {
	return func(a *App) { a.clock = c }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main (populated via the config registry); any slot may be nil,
// in which case the features needing it are disabled and the corresponding
// endpoints report that.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil {
		providers = &Providers{}
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	// ── 1. Storage ───────────────────────────────────────────────────────
	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	// ── 2. Metrics ───────────────────────────────────────────────────────
	if a.metrics == nil {
		m, err := observe.NewMetrics(otel.GetMeterProvider())
		if err != nil {
			return nil, fmt.Errorf("app: init metrics: %w", err)
		}
		a.metrics = m
	}

	// ── 3. Interpretation pipeline ───────────────────────────────────────
	a.initInterpret()

	// ── 4. Phrase bank ───────────────────────────────────────────────────
	if err := a.initPhrases(); err != nil {
		return nil, fmt.Errorf("app: init phrase bank: %w", err)
	}

	// ── 5. Settings ──────────────────────────────────────────────────────
	a.settings = settings.NewService(a.store.Settings(),
		settings.WithDefaults(dialogDefaults(a.cfg.Dialog)))

	// ── 6. Alerts ────────────────────────────────────────────────────────
	a.initAlerts()

	// ── 7. Smart home ────────────────────────────────────────────────────
	a.initSmartHome()

	// ── 8. Voice bank ────────────────────────────────────────────────────
	if err := a.initVoiceBank(); err != nil {
		return nil, fmt.Errorf("app: init voice bank: %w", err)
	}

	// ── 9. Speech synthesis ──────────────────────────────────────────────
	if providers.TTS != nil {
		a.speech = NewSpeech(providers.TTS, cfg.Providers.TTS.Name, a.bank, a.settings, a.metrics)
	} else {
		slog.Warn("no TTS provider configured, candidate playback and speak disabled")
	}

	// ── 10. Session manager ──────────────────────────────────────────────
	a.sessions = NewSessionManager(SessionManagerConfig{
		Settings: a.settings,
		Messages: a.store.Messages(),
		Learner:  a.learner,
		Phrases:  a.phrases,
		Seed:     a.seed,
		Detector: a.detector,
		Alerts:   a.alerts,
		Home:     a.home,
		Speech:   a.speech,
		Metrics:  a.metrics,
		Clock:    a.clock,
	})
	a.closers = append(a.closers, func() error {
		a.sessions.CloseAll()
		return nil
	})

	// ── 11. HTTP server ──────────────────────────────────────────────────
	a.initServer()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStore opens the PostgreSQL store, or falls back to the in-memory store
// when no DSN is configured.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil // injected
	}

	dsn := a.cfg.Storage.PostgresDSN
	if dsn == "" {
		slog.Warn("no postgres_dsn configured, using in-memory storage")
		a.store = memstore.New()
		return nil
	}

	dims := a.cfg.Storage.EmbeddingDimensions
	if dims == 0 {
		dims = defaultEmbeddingDimensions
	}

	pg, err := postgres.New(ctx, dsn, dims)
	if err != nil {
		return err
	}
	a.pg = pg
	a.store = pg
	a.closers = append(a.closers, func() error {
		pg.Close()
		return nil
	})
	return nil
}

// initInterpret builds the correction learner and the utterance pipeline.
// Without an LLM provider, interpretation is unavailable and the interpret
// endpoint reports it.
func (a *App) initInterpret() {
	a.learner = correction.NewLearner(a.store.Corrections(), correction.NewMatcher())

	if a.providers.LLM == nil {
		slog.Warn("no LLM provider configured, interpretation disabled")
		return
	}

	var interpOpts []interpret.InterpreterOption
	if n := a.cfg.Dialog.MaxCandidates; n > 0 {
		interpOpts = append(interpOpts, interpret.WithMaxCandidates(n))
	}
	interp := interpret.NewInterpreter(a.providers.LLM, interpOpts...)

	builder := interpret.NewContextBuilder(
		a.store.Messages(),
		a.store.Corrections(),
		a.store.Phrases(),
		a.providers.Embeddings,
	)

	a.pipeline = interpret.NewPipeline(a.providers.STT, a.learner, interp, builder,
		interpret.WithMetrics(a.metrics, a.cfg.Providers.STT.Name, a.cfg.Providers.LLM.Name))
}

// initPhrases builds the phrase bank and loads the seed file when one is
// configured. The seed itself is applied per user on their first session.
func (a *App) initPhrases() error {
	a.phrases = phrasebank.NewService(a.store.Phrases(), a.providers.Embeddings,
		phrasebank.WithMetrics(a.metrics))

	path := a.cfg.PhraseBank.SeedFile
	if path == "" {
		return nil
	}
	sf, err := phrasebank.LoadSeedFile(path)
	if err != nil {
		return err
	}
	if err := sf.Validate(); err != nil {
		return fmt.Errorf("seed file %s: %w", path, err)
	}
	a.seed = sf
	slog.Info("loaded phrase seed file",
		slog.String("path", path),
		slog.Int("phrases", len(sf.Phrases)))
	return nil
}

// initAlerts builds the emergency detector and the caregiver notification
// service with whichever delivery channels are configured.
func (a *App) initAlerts() {
	a.detector = alerts.NewDetector(a.cfg.Alerts.EmergencyPhrases)

	svcOpts := []alerts.ServiceOption{alerts.WithMetrics(a.metrics)}
	if tw := a.cfg.Alerts.Twilio; tw != nil {
		svcOpts = append(svcOpts, alerts.WithTwilio(
			alerts.NewTwilioClient(tw.AccountSID, tw.AuthToken, tw.FromNumber)))
		slog.Info("twilio alert channel configured", slog.String("from", tw.FromNumber))
	}
	if po := a.cfg.Alerts.Pushover; po != nil {
		svcOpts = append(svcOpts, alerts.WithPushover(alerts.NewPushoverClient(po.AppToken)))
		slog.Info("pushover alert channel configured")
	}
	a.alerts = alerts.NewService(a.store.Contacts(), svcOpts...)
}

// initSmartHome connects the Home Assistant client when configured. The
// device registry is populated by the first sync in Run.
func (a *App) initSmartHome() {
	ha := a.cfg.SmartHome.HomeAssistant
	if ha == nil || ha.BaseURL == "" {
		return
	}
	a.homeClient = smarthome.NewClient(ha.BaseURL, ha.Token)
	a.homeRegistry = smarthome.NewRegistry(a.homeClient)
	a.home = smarthome.NewService(a.homeClient, a.homeRegistry,
		smarthome.WithMetrics(a.metrics))
	slog.Info("home assistant configured", slog.String("base_url", ha.BaseURL))
}

// initVoiceBank opens the encrypted voice record store. Without one every
// user gets the provider's default voice and enrollment is unavailable.
func (a *App) initVoiceBank() error {
	vb := a.cfg.VoiceBank
	if vb.Dir == "" || vb.Passphrase == "" {
		return nil
	}
	bank, err := voicebank.New(vb.Dir, vb.Passphrase)
	if err != nil {
		return err
	}
	a.bank = bank
	if a.providers.TTS != nil {
		a.enroller = voicebank.NewEnroller(bank, a.providers.TTS)
	}
	return nil
}

// initServer assembles the HTTP surface. A disabled subsystem must stay a
// true nil interface value so the handlers can detect it.
func (a *App) initServer() {
	deps := server.Deps{
		Phrases:  a.phrases,
		Settings: a.settings,
		Contacts: a.store.Contacts(),
		Sessions: a.sessions,
		Metrics:  a.metrics,
		Health:   a.healthHandler(),
	}
	if a.pipeline != nil {
		deps.Interpreter = a.pipeline
	}
	if a.speech != nil {
		deps.Synthesizer = a.speech
	}
	if a.enroller != nil {
		deps.Enroller = a.enroller
	}

	var srvOpts []server.Option
	if addr := a.cfg.Server.ListenAddr; addr != "" {
		srvOpts = append(srvOpts, server.WithAddr(addr))
	}
	a.server = server.New(deps, srvOpts...)
	a.closers = append(a.closers, func() error {
		shutCtx, cancel := context.WithTimeout(context.Background(), serverShutdownGrace)
		defer cancel()
		return a.server.Shutdown(shutCtx)
	})
}

// healthHandler assembles readiness checks for the dependencies this
// deployment actually has.
func (a *App) healthHandler() *health.Handler {
	checkers := []health.Checker{
		health.Synthesis(func() bool { return a.speech != nil }),
	}
	if a.pg != nil {
		checkers = append(checkers, health.Database(a.pg.Pool()))
	}
	if a.homeClient != nil {
		checkers = append(checkers, health.SmartHome(a.homeClient))
	}
	return health.New(checkers...)
}

// dialogDefaults merges the configured dialog timings into the built-in
// preference defaults.
func dialogDefaults(dc config.DialogConfig) types.Prefs {
	p := settings.Defaults()
	if n := dc.AutoConfirmSeconds; n > 0 {
		p.AutoConfirmSeconds = n
	}
	if n := dc.ConfirmDelayMillis; n > 0 {
		p.ConfirmDelayMillis = n
	}
	return p
}

// ApplyDiff applies the hot-reloadable parts of a configuration change:
// dialog timing defaults and the emergency phrase list. The log level lives
// with whoever built the logger, and MaxCandidates keeps its boot value
// until restart.
func (a *App) ApplyDiff(d config.ConfigDiff) {
	if d.DialogChanged {
		a.settings.SetDefaults(dialogDefaults(d.NewDialog))
		slog.Info("dialog defaults reloaded",
			slog.Int("auto_confirm_seconds", d.NewDialog.AutoConfirmSeconds),
			slog.Int("confirm_delay_millis", d.NewDialog.ConfirmDelayMillis))
	}
	if d.AlertPhrasesChanged {
		a.sessions.SetDetector(alerts.NewDetector(d.NewAlertPhrases))
		slog.Info("emergency phrases reloaded",
			slog.Int("custom_phrases", len(d.NewAlertPhrases)))
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP (or HTTPS when TLS is configured) and keeps the smart-home
// registry fresh until ctx is cancelled. It returns ctx's error after a clean
// stop, or the subsystem error that brought the app down.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if tls := a.cfg.Server.TLS; tls != nil {
			return a.server.StartTLS(tls.CertFile, tls.KeyFile)
		}
		return a.server.Start()
	})

	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), serverShutdownGrace)
		defer cancel()
		return a.server.Shutdown(shutCtx)
	})

	if a.homeRegistry != nil {
		g.Go(func() error {
			a.syncHomeRegistry(gctx)
			return nil
		})
	}

	slog.Info("app running",
		slog.String("addr", a.server.Addr()),
		slog.Bool("tls", a.cfg.Server.TLS != nil))

	err := g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// syncHomeRegistry refreshes the device inventory immediately and then on an
// interval until ctx is cancelled.
func (a *App) syncHomeRegistry(ctx context.Context) {
	refresh := func() {
		if err := a.homeRegistry.Sync(ctx); err != nil {
			slog.Warn("smart-home registry sync failed", slog.String("error", err.Error()))
		}
	}
	refresh()

	ticker := time.NewTicker(homeSyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			refresh()
		}
	}
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order: HTTP server
// first, then live sessions, storage last. It respects the context deadline:
// if ctx expires before all closers finish, the rest are skipped and the
// context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", slog.Int("closers", len(a.closers)))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", slog.Int("remaining", i+1))
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", slog.Int("index", i), slog.String("error", err.Error()))
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler exposes the full HTTP surface, mainly for tests that drive the app
// through httptest.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Sessions returns the dialog session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }
