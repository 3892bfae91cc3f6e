package dialog

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/emberassist/ember/pkg/types"
)

const (
	// DefaultAutoConfirmSeconds is the countdown length when no user
	// preference is supplied.
	DefaultAutoConfirmSeconds = 8

	// DefaultConfirmDelay is the visual feedback pause between a confirm
	// action and the outcome.
	DefaultConfirmDelay = 400 * time.Millisecond
)

// playResult is the completion event of one playback goroutine.
type playResult struct {
	gen int
	err error
}

// timings is a live settings update applied to a running session.
type timings struct {
	autoConfirmSeconds int
	confirmDelay       time.Duration
}

// Session is one disambiguation flow. Create it with New, feed it events
// with Submit, read the single result from Done, and always Close it.
type Session struct {
	original   string
	candidates []types.Candidate

	speaker Speaker
	sink    Sink
	clock   Clock

	inputs      chan Input
	playResults chan playResult
	timingsCh   chan timings
	closing     chan struct{}
	exited      chan struct{}
	done        chan Outcome
	closeOnce   sync.Once

	// Everything below is owned by the run goroutine.
	autoConfirmSeconds int
	confirmDelay       time.Duration
	state              State
	selected           int
	customText         string
	remaining          int
	playing            int
	playGen            int
	playCancel         context.CancelFunc
	confirmC           <-chan time.Time
	pending            Outcome
	outcome            *Outcome
}

// Option configures a [Session].
type Option func(*Session)

// WithSpeaker sets the playback adapter. Without one, play requests produce
// a notice instead of audio.
func WithSpeaker(sp Speaker) Option {
	return func(s *Session) { s.speaker = sp }
}

// WithSink sets the snapshot and notice receiver.
func WithSink(sink Sink) Option {
	return func(s *Session) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithClock replaces the wall clock, for tests.
func WithClock(c Clock) Option {
	return func(s *Session) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithAutoConfirmSeconds sets the countdown length. Values below 1 keep the
// default.
func WithAutoConfirmSeconds(n int) Option {
	return func(s *Session) {
		if n >= 1 {
			s.autoConfirmSeconds = n
		}
	}
}

// WithConfirmDelay sets the pause between a confirm action and the outcome.
func WithConfirmDelay(d time.Duration) Option {
	return func(s *Session) {
		if d >= 0 {
			s.confirmDelay = d
		}
	}
}

// New creates a session over an interpretation result and starts its event
// loop. candidates are in backend order, best first; the first is selected.
func New(original string, candidates []types.Candidate, opts ...Option) *Session {
	s := &Session{
		original:           original,
		candidates:         candidates,
		sink:               nopSink{},
		clock:              realClock{},
		inputs:             make(chan Input, 16),
		playResults:        make(chan playResult, 4),
		timingsCh:          make(chan timings, 1),
		closing:            make(chan struct{}),
		exited:             make(chan struct{}),
		done:               make(chan Outcome, 1),
		autoConfirmSeconds: DefaultAutoConfirmSeconds,
		confirmDelay:       DefaultConfirmDelay,
		state:              StateBrowsing,
		playing:            -1,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.remaining = s.autoConfirmSeconds

	go s.run()
	return s
}

// Submit delivers a client input event. It is safe to call from any
// goroutine; events after the session ends are dropped.
func (s *Session) Submit(in Input) {
	select {
	case s.inputs <- in:
	case <-s.exited:
	}
}

// SetTimings applies updated user preferences to the running session. The
// countdown is reset so the new length takes effect immediately. Zero or
// negative values leave the corresponding setting unchanged.
func (s *Session) SetTimings(autoConfirmSeconds int, confirmDelay time.Duration) {
	select {
	case s.timingsCh <- timings{autoConfirmSeconds, confirmDelay}:
	case <-s.exited:
	}
}

// Done returns the channel delivering the session's single outcome.
func (s *Session) Done() <-chan Outcome {
	return s.done
}

// Close tears the session down. If no outcome was produced yet the session
// cancels; a confirm already in its feedback delay is emitted as confirmed.
// Close is idempotent and returns without waiting for the loop to finish.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.closing) })
}

// run is the event loop. All session state is owned here; it exits once an
// outcome is decided.
func (s *Session) run() {
	ticker := s.clock.NewTicker(time.Second)
	defer ticker.Stop()

	s.publish()

	for s.outcome == nil {
		select {
		case in := <-s.inputs:
			s.handleInput(in)
		case <-ticker.C():
			s.handleTick()
		case res := <-s.playResults:
			s.handlePlayResult(res)
		case <-s.confirmC:
			s.outcome = &s.pending
		case tm := <-s.timingsCh:
			s.handleTimings(tm)
		case <-s.closing:
			s.handleClose()
		}
	}

	s.stopPlayback()
	s.done <- *s.outcome
	close(s.exited)
	slog.Debug("dialog session ended",
		slog.String("outcome", string(s.outcome.Kind)),
		slog.String("mode", string(s.outcome.Mode)))
}

// ── Event handlers ──────────────────────────────────────────────────────────

func (s *Session) handleInput(in Input) {
	// Confirming blocks all further input; double-confirm and late cancels
	// are impossible.
	if s.state == StateConfirming {
		return
	}

	switch in.Kind {
	case InputKey:
		s.handleKey(in.Key)
	case InputCustomText:
		if s.state == StateCustomEntry {
			s.customText = in.Text
			s.publish()
		}
	case InputPlay:
		s.play(in.Index)
	case InputConfirm:
		s.confirm()
	case InputCancel:
		s.cancel()
	}
}

func (s *Session) handleKey(key string) {
	if s.state == StateCustomEntry {
		// Typing reaches the session as InputCustomText; only the two
		// mode-control keys are meaningful here.
		switch key {
		case "Enter":
			s.confirm()
		case "Escape", "Esc":
			s.exitCustom()
		}
		return
	}

	switch key {
	case "1", "2", "3", "4", "5", "6", "7", "8", "9":
		s.selectIndex(int(key[0] - '1'))
	case "ArrowUp", "Up":
		s.moveSelection(-1)
	case "ArrowDown", "Down":
		s.moveSelection(1)
	case "Enter":
		s.confirm()
	case "Escape", "Esc":
		s.cancel()
	case " ", "Space", "Spacebar":
		s.enterCustom()
	case "p", "P":
		s.play(s.selected)
	}
}

func (s *Session) handleTick() {
	if s.suspended() {
		return
	}
	s.remaining--
	s.publish()
	if s.remaining <= 0 {
		s.beginConfirm(s.selectedText(), ConfirmAuto, s.selectedConfidence())
	}
}

func (s *Session) handlePlayResult(res playResult) {
	// A newer playback superseded this one; its completion must not touch
	// visible state.
	if res.gen != s.playGen {
		return
	}
	s.playing = -1
	s.playCancel = nil
	if res.err != nil && !errors.Is(res.err, context.Canceled) {
		slog.Warn("candidate playback failed", slog.String("error", res.err.Error()))
		s.sink.Notice("Voice playback failed. You can still confirm with Enter.")
	}
	s.publish()
}

func (s *Session) handleTimings(tm timings) {
	if tm.autoConfirmSeconds >= 1 {
		s.autoConfirmSeconds = tm.autoConfirmSeconds
	}
	if tm.confirmDelay > 0 {
		s.confirmDelay = tm.confirmDelay
	}
	s.resetCountdown()
	s.publish()
}

func (s *Session) handleClose() {
	if s.state == StateConfirming {
		// The user already confirmed; teardown must not swallow it.
		s.outcome = &s.pending
		return
	}
	s.outcome = &Outcome{Kind: OutcomeCancelled}
}

// ── Selection and modes ─────────────────────────────────────────────────────

func (s *Session) selectIndex(idx int) {
	if idx < 0 || idx >= len(s.candidates) {
		return
	}
	s.selected = idx
	s.resetCountdown()
	s.publish()
}

func (s *Session) moveSelection(delta int) {
	if len(s.candidates) == 0 {
		return
	}
	next := s.selected + delta
	if next < 0 {
		next = 0
	}
	if next > len(s.candidates)-1 {
		next = len(s.candidates) - 1
	}
	s.selected = next
	// The keypress counts as activity even when the selection was already
	// at the edge; expiring mid-interaction would confirm under the user's
	// fingers.
	s.resetCountdown()
	s.publish()
}

func (s *Session) enterCustom() {
	s.state = StateCustomEntry
	s.resetCountdown()
	s.publish()
}

// exitCustom returns to browsing. The draft is kept: typing is expensive for
// the people this exists for, and re-entering custom mode restores it.
func (s *Session) exitCustom() {
	s.state = StateBrowsing
	s.resetCountdown()
	s.publish()
}

func (s *Session) cancel() {
	s.outcome = &Outcome{Kind: OutcomeCancelled}
}

// ── Confirmation ────────────────────────────────────────────────────────────

func (s *Session) confirm() {
	if s.state == StateCustomEntry {
		text := strings.TrimSpace(s.customText)
		if text == "" {
			// Refused, not an error: stay in custom entry.
			return
		}
		s.beginConfirm(text, ConfirmCustom, 0)
		return
	}
	s.beginConfirm(s.selectedText(), ConfirmSelected, s.selectedConfidence())
}

// beginConfirm enters the confirming state: input blocked, audio stopped,
// outcome emitted after the feedback delay.
func (s *Session) beginConfirm(text string, mode ConfirmMode, confidence int) {
	text = strings.TrimSpace(text)
	if text == "" {
		// Nothing usable to confirm. Reset so countdown expiry does not
		// refire every following tick.
		s.resetCountdown()
		return
	}
	s.stopPlayback()
	s.state = StateConfirming
	s.pending = Outcome{Kind: OutcomeConfirmed, Text: text, Mode: mode, Confidence: confidence}
	s.confirmC = s.clock.After(s.confirmDelay)
	s.publish()
}

// selectedText is the best-known selection: the highlighted candidate, or
// the original utterance for a session without candidates.
func (s *Session) selectedText() string {
	if s.selected >= 0 && s.selected < len(s.candidates) {
		return s.candidates[s.selected].Text
	}
	return s.original
}

func (s *Session) selectedConfidence() int {
	if s.selected >= 0 && s.selected < len(s.candidates) {
		return s.candidates[s.selected].Confidence
	}
	return 0
}

// ── Countdown ───────────────────────────────────────────────────────────────

// suspended reports whether countdown ticks are ignored: any state other
// than browsing, or audio playing.
func (s *Session) suspended() bool {
	return s.state != StateBrowsing || s.playing >= 0
}

func (s *Session) resetCountdown() {
	s.remaining = s.autoConfirmSeconds
}

// ── Playback ────────────────────────────────────────────────────────────────

// play toggles playback of the candidate at idx; negative plays the current
// selection. Starting a new playback stops any other first, and its
// completion events are fenced by generation so a superseded playback can
// never touch state afterwards.
func (s *Session) play(idx int) {
	if idx < 0 {
		idx = s.selected
	}
	if idx >= len(s.candidates) {
		return
	}
	if s.playing == idx {
		s.stopPlayback()
		s.publish()
		return
	}
	if s.speaker == nil {
		s.sink.Notice("Voice playback is not available.")
		return
	}

	s.stopPlayback()
	s.playGen++
	gen := s.playGen
	ctx, cancel := context.WithCancel(context.Background())
	s.playCancel = cancel
	s.playing = idx
	s.resetCountdown()

	text := s.candidates[idx].Text
	go func() {
		err := s.speaker.Speak(ctx, text)
		select {
		case s.playResults <- playResult{gen: gen, err: err}:
		case <-s.exited:
		}
	}()
	s.publish()
}

func (s *Session) stopPlayback() {
	if s.playCancel != nil {
		s.playCancel()
		s.playCancel = nil
	}
	s.playing = -1
}

// ── Output ──────────────────────────────────────────────────────────────────

func (s *Session) publish() {
	s.sink.State(Snapshot{
		State:      s.state,
		Original:   s.original,
		Candidates: s.candidates,
		Selected:   s.selected,
		CustomText: s.customText,
		Countdown:  s.remaining,
		Playing:    s.playing,
	})
}
