package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/emberassist/ember/internal/alerts"
	"github.com/emberassist/ember/internal/correction"
	"github.com/emberassist/ember/internal/dialog"
	"github.com/emberassist/ember/internal/observe"
	"github.com/emberassist/ember/internal/phrasebank"
	"github.com/emberassist/ember/internal/server"
	"github.com/emberassist/ember/internal/settings"
	"github.com/emberassist/ember/internal/smarthome"
	"github.com/emberassist/ember/pkg/store"
	"github.com/emberassist/ember/pkg/types"
)

// sideEffectTimeout caps the post-outcome bookkeeping: persisting the
// message, learning a correction, the home command, and alert delivery.
const sideEffectTimeout = 10 * time.Second

// ErrManagerClosed is returned by StartSession after CloseAll.
var ErrManagerClosed = errors.New("app: session manager is closed")

// SessionManager runs at most one disambiguation session per user; starting
// a new session replaces the user's previous one. It owns the confirm path:
// when a session resolves, the manager persists the message, learns
// corrections, executes home commands, and sends emergency alerts before
// handing the outcome to the transport. All exported methods are safe for
// concurrent use.
type SessionManager struct {
	mu     sync.Mutex
	active map[string]*managedSession
	seeded map[string]bool
	closed bool

	// wg tracks outcome watchers so CloseAll can wait for bookkeeping.
	wg sync.WaitGroup

	// Dependencies injected at construction.
	settings *settings.Service
	messages store.MessageStore
	learner  *correction.Learner
	phrases  *phrasebank.Service
	seed     *phrasebank.SeedFile
	detector *alerts.Detector
	alerts   *alerts.Service
	home     *smarthome.Service
	speech   *Speech
	metrics  *observe.Metrics
	clock    dialog.Clock
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
// Settings and Messages are required; the rest degrade to skipped features
// when nil.
type SessionManagerConfig struct {
	Settings *settings.Service
	Messages store.MessageStore
	Learner  *correction.Learner
	Phrases  *phrasebank.Service
	Seed     *phrasebank.SeedFile
	Detector *alerts.Detector
	Alerts   *alerts.Service
	Home     *smarthome.Service
	Speech   *Speech
	Metrics  *observe.Metrics

	// Clock drives session countdowns; nil means wall time.
	Clock dialog.Clock
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	m := cfg.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &SessionManager{
		active:   make(map[string]*managedSession),
		seeded:   make(map[string]bool),
		settings: cfg.Settings,
		messages: cfg.Messages,
		learner:  cfg.Learner,
		phrases:  cfg.Phrases,
		seed:     cfg.Seed,
		detector: cfg.Detector,
		alerts:   cfg.Alerts,
		home:     cfg.Home,
		speech:   cfg.Speech,
		metrics:  m,
		clock:    cfg.Clock,
	}
}

// SetDetector swaps the emergency detector, typically after a configuration
// reload changed the alert phrase list. A confirm already in flight keeps the
// detector it started with.
func (m *SessionManager) SetDetector(d *alerts.Detector) {
	m.mu.Lock()
	m.detector = d
	m.mu.Unlock()
}

func (m *SessionManager) currentDetector() *alerts.Detector {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.detector
}

// managedSession pairs a dialog session with its bookkeeping. It implements
// [server.SessionHandle].
type managedSession struct {
	userID string
	sess   *dialog.Session
	unsub  func()

	// outcome delivers the session result to the transport after the
	// manager's side effects have run.
	outcome chan dialog.Outcome
}

var _ server.SessionHandle = (*managedSession)(nil)

// Submit forwards one client input event to the dialog.
func (ms *managedSession) Submit(in dialog.Input) { ms.sess.Submit(in) }

// Outcome yields the session result exactly once.
func (ms *managedSession) Outcome() <-chan dialog.Outcome { return ms.outcome }

// Close tears the session down. A confirm already in its feedback delay
// still resolves as confirmed.
func (ms *managedSession) Close() { ms.sess.Close() }

// ─── StartSession ────────────────────────────────────────────────────────────

var _ server.SessionStarter = (*SessionManager)(nil)

// StartSession opens a disambiguation session for req.UserID, closing any
// session the user already has. Timings come from the user's preferences;
// req.AutoConfirmSeconds overrides the countdown for this session only.
// The returned handle delivers exactly one outcome.
func (m *SessionManager) StartSession(ctx context.Context, req server.SessionRequest, sink dialog.Sink, audioOut server.AudioWriter) (server.SessionHandle, error) {
	if len(req.Candidates) == 0 {
		return nil, errors.New("app: session needs at least one candidate")
	}

	prefs, err := m.settings.Get(ctx, req.UserID)
	if err != nil {
		slog.Warn("session: preferences unavailable, using defaults",
			slog.String("user_id", req.UserID),
			slog.String("error", err.Error()))
	}
	seconds := prefs.AutoConfirmSeconds
	if req.AutoConfirmSeconds > 0 {
		seconds = req.AutoConfirmSeconds
	}

	opts := []dialog.Option{
		dialog.WithSink(sink),
		dialog.WithAutoConfirmSeconds(seconds),
		dialog.WithConfirmDelay(time.Duration(prefs.ConfirmDelayMillis) * time.Millisecond),
	}
	if m.clock != nil {
		opts = append(opts, dialog.WithClock(m.clock))
	}
	if m.speech != nil && prefs.VoicePlaybackEnabled {
		opts = append(opts, dialog.WithSpeaker(&sessionSpeaker{
			speech: m.speech,
			userID: req.UserID,
			out:    audioOut,
		}))
	}

	ms := &managedSession{
		userID:  req.UserID,
		outcome: make(chan dialog.Outcome, 1),
	}
	ms.sess = dialog.New(req.Original, req.Candidates, opts...)

	ch, unsub := m.settings.Subscribe(req.UserID)
	ms.unsub = unsub
	go func() {
		for p := range ch {
			ms.sess.SetTimings(p.AutoConfirmSeconds, time.Duration(p.ConfirmDelayMillis)*time.Millisecond)
		}
	}()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		ms.sess.Close()
		unsub()
		return nil, ErrManagerClosed
	}
	prev := m.active[req.UserID]
	m.active[req.UserID] = ms
	seedUser := m.seed != nil && m.phrases != nil && !m.seeded[req.UserID]
	if seedUser {
		m.seeded[req.UserID] = true
	}
	m.wg.Add(1)
	m.mu.Unlock()

	if prev != nil {
		slog.Info("session: closing replaced session", slog.String("user_id", req.UserID))
		prev.Close()
	}
	if seedUser {
		go m.seedPhrases(req.UserID)
	}

	m.metrics.ActiveSessions.Add(ctx, 1)
	slog.Info("session started",
		slog.String("user_id", req.UserID),
		slog.Int("candidates", len(req.Candidates)),
		slog.Int("auto_confirm_seconds", seconds),
		slog.Bool("emergency_armed", req.Emergency))

	go m.watch(ms, req)
	return ms, nil
}

// Active returns the number of live sessions.
func (m *SessionManager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// CloseAll cancels every active session, waits for their bookkeeping to
// finish, and refuses new sessions afterwards.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	alreadyClosed := m.closed
	m.closed = true
	open := make([]*managedSession, 0, len(m.active))
	for _, ms := range m.active {
		open = append(open, ms)
	}
	m.mu.Unlock()

	if !alreadyClosed && len(open) > 0 {
		slog.Info("closing active sessions", slog.Int("count", len(open)))
	}
	for _, ms := range open {
		ms.Close()
	}
	m.wg.Wait()
}

// ─── Outcome handling ────────────────────────────────────────────────────────

// watch waits for the session's single outcome, runs the side effects, and
// forwards the outcome to the transport. The start request's context is long
// gone by the time an outcome arrives, so bookkeeping runs under its own
// deadline and survives a dropped client.
func (m *SessionManager) watch(ms *managedSession, req server.SessionRequest) {
	defer m.wg.Done()
	out := <-ms.sess.Done()

	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()

	switch out.Kind {
	case dialog.OutcomeConfirmed:
		m.handleConfirm(ctx, req, out)
	case dialog.OutcomeCancelled:
		m.metrics.RecordCancellation(ctx)
		slog.Info("session cancelled", slog.String("user_id", req.UserID))
	}

	ms.unsub()
	m.metrics.ActiveSessions.Add(ctx, -1)

	m.mu.Lock()
	if m.active[ms.userID] == ms {
		delete(m.active, ms.userID)
	}
	m.mu.Unlock()

	ms.outcome <- out
}

// handleConfirm runs the confirm path: persist the message, learn a
// correction when the user overrode the top candidate, execute the home
// command, and notify caregivers on emergency.
func (m *SessionManager) handleConfirm(ctx context.Context, req server.SessionRequest, out dialog.Outcome) {
	log := slog.With(slog.String("user_id", req.UserID))
	m.metrics.RecordConfirmation(ctx, string(out.Mode))

	msg := types.Message{
		UserID:     req.UserID,
		Heard:      req.Original,
		Text:       out.Text,
		Confidence: out.Confidence,
		CreatedAt:  time.Now().UTC(),
	}
	if _, err := m.messages.Add(ctx, msg); err != nil {
		log.Warn("session: message not persisted", slog.String("error", err.Error()))
	}

	m.learnCorrection(ctx, req, out, log)
	m.markPhraseUsed(ctx, req.UserID, out.Text)

	if req.HomeCommand != nil && m.home != nil {
		if err := m.home.Execute(ctx, req.HomeCommand); err != nil {
			log.Warn("session: home command failed",
				slog.String("action", req.HomeCommand.Action),
				slog.String("target", req.HomeCommand.Target),
				slog.String("error", err.Error()))
		}
	}

	m.sendAlert(ctx, req, out, log)

	log.Info("session confirmed",
		slog.String("mode", string(out.Mode)),
		slog.Int("confidence", out.Confidence))
}

// learnCorrection records original → confirmed when the user picked
// something other than the top candidate, so future utterances are
// pre-corrected. Confirming the original verbatim teaches nothing.
func (m *SessionManager) learnCorrection(ctx context.Context, req server.SessionRequest, out dialog.Outcome, log *slog.Logger) {
	if m.learner == nil {
		return
	}
	if strings.EqualFold(out.Text, req.Candidates[0].Text) || strings.EqualFold(out.Text, req.Original) {
		return
	}
	if err := m.learner.Learn(ctx, req.UserID, req.Original, out.Text); err != nil {
		log.Warn("session: correction not learned", slog.String("error", err.Error()))
	}
}

// markPhraseUsed bumps the use counter when the confirmed text is one of the
// user's saved phrases. Best effort.
func (m *SessionManager) markPhraseUsed(ctx context.Context, userID, text string) {
	if m.phrases == nil {
		return
	}
	items, err := m.phrases.List(ctx, userID)
	if err != nil {
		return
	}
	for _, p := range items {
		if strings.EqualFold(p.Text, text) {
			_ = m.phrases.MarkUsed(ctx, p.ID)
			return
		}
	}
}

// sendAlert evaluates the confirmed text against the emergency detector and
// notifies caregivers when it trips.
func (m *SessionManager) sendAlert(ctx context.Context, req server.SessionRequest, out dialog.Outcome, log *slog.Logger) {
	det := m.currentDetector()
	if det == nil || m.alerts == nil {
		return
	}
	trigger, emergency := det.Evaluate(out.Text, req.Emergency)
	if !emergency {
		return
	}
	log.Info("emergency detected", slog.String("trigger", trigger))
	alert := types.Alert{
		UserID:     req.UserID,
		Text:       out.Text,
		Trigger:    trigger,
		OccurredAt: time.Now().UTC(),
	}
	if err := m.alerts.Notify(ctx, alert); err != nil {
		log.Error("alert delivery failed", slog.String("error", err.Error()))
	}
}

// seedPhrases imports the starter phrase file on a user's first session.
func (m *SessionManager) seedPhrases(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), sideEffectTimeout)
	defer cancel()

	n, err := m.phrases.Seed(ctx, userID, m.seed)
	if err != nil {
		slog.Warn("session: phrase seeding failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		slog.Info("seeded starter phrases", slog.String("user_id", userID), slog.Int("count", n))
	}
}
