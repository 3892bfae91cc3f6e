// Package server exposes Ember's HTTP and WebSocket API.
//
// The REST surface covers interpretation, one-shot speech synthesis, phrase
// bank management, per-user settings, caregiver contacts, and voice
// enrollment. Live disambiguation sessions run over a WebSocket at
// /api/v1/session: the server pushes state snapshots and the final outcome,
// the client sends input events.
//
// The server owns no domain state. Everything it serves is delegated through
// the narrow interfaces declared here, which the app layer implements.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/emberassist/ember/internal/dialog"
	"github.com/emberassist/ember/internal/health"
	"github.com/emberassist/ember/internal/interpret"
	"github.com/emberassist/ember/internal/observe"
	"github.com/emberassist/ember/internal/phrasebank"
	"github.com/emberassist/ember/internal/settings"
	"github.com/emberassist/ember/internal/voicebank"
	"github.com/emberassist/ember/pkg/store"
	"github.com/emberassist/ember/pkg/types"
)

// ─── Consumer interfaces ─────────────────────────────────────────────────────

// Interpreter turns user input, spoken or typed, into ranked interpretation
// candidates. Implemented by [interpret.Pipeline].
type Interpreter interface {
	Process(ctx context.Context, userID string, clip *types.AudioClip) (*interpret.Result, error)
	ProcessText(ctx context.Context, userID, utterance string) (*interpret.Result, error)
}

// Synthesizer produces speech audio for a user. An empty voiceID means the
// user's enrolled or preferred voice.
type Synthesizer interface {
	Speak(ctx context.Context, userID, text, voiceID string) (*types.AudioClip, error)
}

// Enroller registers a cloned voice from uploaded samples. Implemented by
// [voicebank.Enroller].
type Enroller interface {
	Enroll(ctx context.Context, userID, displayName string, samples [][]byte) (*voicebank.Record, error)
}

// SessionRequest describes one disambiguation round for a user.
type SessionRequest struct {
	UserID     string
	Original   string
	Candidates []types.Candidate

	// AutoConfirmSeconds overrides the countdown for this session. Zero
	// means the user's saved preference.
	AutoConfirmSeconds int

	// Emergency carries the interpreter's emergency flag for the utterance
	// being disambiguated. It arms, but does not send, caregiver alerts: they
	// fire only if the user confirms.
	Emergency bool

	// HomeCommand is the interpreter's device-control reading of the
	// utterance, if any. It is executed on confirm.
	HomeCommand *types.HomeCommand
}

// SessionHandle is a live dialog session as the transport sees it.
type SessionHandle interface {
	// Submit forwards one client input event to the session.
	Submit(dialog.Input)

	// Outcome yields the session result exactly once, after the app has run
	// its confirm side effects.
	Outcome() <-chan dialog.Outcome

	// Close tears the session down. A confirm already in its feedback delay
	// still resolves as confirmed.
	Close()
}

// AudioWriter receives synthesized playback audio for delivery to the
// client. The WebSocket handler implements it with binary frames.
type AudioWriter interface {
	WriteAudio(ctx context.Context, frame []byte) error
}

// SessionStarter creates dialog sessions. Starting a session for a user who
// already has one closes the old session first.
type SessionStarter interface {
	StartSession(ctx context.Context, req SessionRequest, sink dialog.Sink, audio AudioWriter) (SessionHandle, error)
}

// ─── Server ──────────────────────────────────────────────────────────────────

// Deps holds everything a [Server] serves. Interpreter, Synthesizer,
// Enroller, and Sessions may be nil; their endpoints then answer 503.
type Deps struct {
	Interpreter Interpreter
	Synthesizer Synthesizer
	Enroller    Enroller
	Sessions    SessionStarter

	Phrases  *phrasebank.Service
	Settings *settings.Service
	Contacts store.ContactStore

	Health  *health.Handler
	Metrics *observe.Metrics
}

// Server is Ember's HTTP front end.
type Server struct {
	deps Deps
	addr string

	httpSrv *http.Server
}

// Option configures a [Server].
type Option func(*Server)

// WithAddr sets the listen address. Default ":8080".
func WithAddr(addr string) Option {
	return func(s *Server) {
		if addr != "" {
			s.addr = addr
		}
	}
}

// New builds a Server around the given dependencies.
func New(deps Deps, opts ...Option) *Server {
	s := &Server{
		deps: deps,
		addr: ":8080",
	}
	for _, o := range opts {
		o(s)
	}
	if s.deps.Metrics == nil {
		s.deps.Metrics = observe.DefaultMetrics()
	}

	s.httpSrv = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the full route table wrapped in the telemetry middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/interpret", s.handleInterpret)
	mux.HandleFunc("POST /api/v1/speak", s.handleSpeak)

	mux.HandleFunc("GET /api/v1/phrases", s.handleListPhrases)
	mux.HandleFunc("POST /api/v1/phrases", s.handleAddPhrase)
	mux.HandleFunc("DELETE /api/v1/phrases/{id}", s.handleDeletePhrase)
	mux.HandleFunc("GET /api/v1/phrases/suggest", s.handleSuggestPhrases)

	mux.HandleFunc("GET /api/v1/settings/{user}", s.handleGetSettings)
	mux.HandleFunc("PUT /api/v1/settings/{user}", s.handlePutSettings)

	mux.HandleFunc("GET /api/v1/contacts", s.handleListContacts)
	mux.HandleFunc("POST /api/v1/contacts", s.handleAddContact)
	mux.HandleFunc("DELETE /api/v1/contacts/{id}", s.handleDeleteContact)

	mux.HandleFunc("POST /api/v1/voice/enroll", s.handleVoiceEnroll)

	mux.HandleFunc("GET /api/v1/session", s.handleSession)

	if s.deps.Health != nil {
		s.deps.Health.Register(mux)
	}
	mux.Handle("GET /metrics", promhttp.Handler())

	return observe.Middleware(s.deps.Metrics)(mux)
}

// Addr returns the listen address the server was configured with.
func (s *Server) Addr() string { return s.addr }

// Start listens on the configured address and serves until Shutdown is
// called. It blocks; run it in a goroutine. Returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	slog.Info("http server listening", slog.String("addr", s.addr))
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen on %s: %w", s.addr, err)
	}
	return nil
}

// StartTLS is Start with TLS enabled.
func (s *Server) StartTLS(certFile, keyFile string) error {
	slog.Info("http server listening", slog.String("addr", s.addr), slog.Bool("tls", true))
	if err := s.httpSrv.ListenAndServeTLS(certFile, keyFile); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen tls on %s: %w", s.addr, err)
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests up
// to the ctx deadline. Live WebSocket sessions are hijacked connections and
// are not waited for here; the app closes them through its session manager.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
