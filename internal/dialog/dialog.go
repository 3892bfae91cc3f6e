// Package dialog implements the disambiguation and confirmation flow: the
// session state machine that presents interpretation candidates, runs the
// auto-confirm countdown, plays candidate audio, and emits exactly one
// confirmed string or cancellation per session.
//
// A session is ephemeral. It is created from one interpretation result,
// driven by input events from the client, and destroyed on confirm or
// cancel. All state lives in a single event-loop goroutine; callers interact
// through Submit, Done, and Close.
package dialog

import (
	"context"
	"time"

	"github.com/emberassist/ember/pkg/types"
)

// State is the session's position in the disambiguation flow.
type State string

const (
	// StateBrowsing is the initial state: the user is reviewing candidates
	// while the auto-confirm countdown runs.
	StateBrowsing State = "browsing"

	// StateCustomEntry means the user is typing their own text. The
	// countdown is suspended.
	StateCustomEntry State = "custom_entry"

	// StateConfirming means a confirmation is in flight: input is blocked,
	// audio is stopped, and the outcome is emitted after a short visual
	// feedback delay.
	StateConfirming State = "confirming"
)

// OutcomeKind distinguishes the two ways a session ends.
type OutcomeKind string

const (
	OutcomeConfirmed OutcomeKind = "confirmed"
	OutcomeCancelled OutcomeKind = "cancelled"
)

// ConfirmMode records how a confirmation happened.
type ConfirmMode string

const (
	// ConfirmSelected is an explicit confirm of a candidate.
	ConfirmSelected ConfirmMode = "selected"

	// ConfirmCustom is a confirm of user-typed text.
	ConfirmCustom ConfirmMode = "custom"

	// ConfirmAuto is a countdown expiry confirming the current selection.
	ConfirmAuto ConfirmMode = "auto"
)

// Outcome is the single result of a session.
type Outcome struct {
	Kind OutcomeKind `json:"kind"`

	// Text is the confirmed string. Empty for cancellations.
	Text string `json:"text,omitempty"`

	// Mode records how the confirmation happened. Empty for cancellations.
	Mode ConfirmMode `json:"mode,omitempty"`

	// Confidence is the confirmed candidate's confidence, 0 for custom text.
	Confidence int `json:"confidence,omitempty"`
}

// InputKind identifies a client input event.
type InputKind string

const (
	// InputKey is a keyboard shortcut: digits select candidates, arrows move
	// the selection, Enter confirms, Escape cancels, Space opens custom
	// entry, p plays the selected candidate.
	InputKey InputKind = "key"

	// InputCustomText replaces the custom entry text. The client sends these
	// for typing into the custom field; they are never interpreted as
	// shortcuts.
	InputCustomText InputKind = "custom_text"

	// InputPlay toggles playback of the candidate at Index.
	InputPlay InputKind = "play"

	// InputConfirm confirms the current selection or custom text.
	InputConfirm InputKind = "confirm"

	// InputCancel cancels the session.
	InputCancel InputKind = "cancel"
)

// Input is one client event delivered to a session.
type Input struct {
	Kind InputKind `json:"kind"`

	// Key is the keyboard key for InputKey events, using browser key names
	// ("1".."9", "ArrowUp", "ArrowDown", "Enter", "Escape", " ", "p").
	Key string `json:"key,omitempty"`

	// Text is the full custom entry text for InputCustomText events.
	Text string `json:"text,omitempty"`

	// Index is the candidate to play for InputPlay events. Negative plays
	// the current selection.
	Index int `json:"index"`
}

// Snapshot is the session state pushed to the client after every visible
// change.
type Snapshot struct {
	State      State             `json:"state"`
	Original   string            `json:"original"`
	Candidates []types.Candidate `json:"candidates"`

	// Selected is the highlighted candidate index.
	Selected int `json:"selected"`

	// CustomText is the current custom entry draft.
	CustomText string `json:"custom_text"`

	// Countdown is the seconds remaining until auto-confirm. It is frozen
	// while the countdown is suspended.
	Countdown int `json:"countdown_seconds"`

	// Playing is the index of the candidate being spoken, -1 for none.
	Playing int `json:"playing_index"`
}

// Speaker synthesizes and delivers candidate audio to the client. Speak
// blocks until delivery finishes or ctx is cancelled; the session cancels
// ctx to stop playback. The audio handle stays inside the implementation;
// the session only tracks which index is playing.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Sink receives state snapshots and user-facing notices from a session.
// Methods are called from the session's event loop and must not block.
type Sink interface {
	// State delivers a snapshot after a visible state change.
	State(Snapshot)

	// Notice delivers a recoverable problem the user should see, such as a
	// playback failure.
	Notice(text string)
}

// Clock abstracts time so tests can drive the countdown deterministically.
type Clock interface {
	// NewTicker returns a ticker firing every d.
	NewTicker(d time.Duration) Ticker

	// After returns a channel that fires once after d.
	After(d time.Duration) <-chan time.Time
}

// Ticker is the subset of [time.Ticker] the session loop uses.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realClock struct{}

func (realClock) NewTicker(d time.Duration) Ticker { return &realTicker{time.NewTicker(d)} }
func (realClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

type realTicker struct{ t *time.Ticker }

func (rt *realTicker) C() <-chan time.Time { return rt.t.C }
func (rt *realTicker) Stop()               { rt.t.Stop() }

type nopSink struct{}

func (nopSink) State(Snapshot) {}
func (nopSink) Notice(string)  {}
