// Package types defines the shared types used across all Ember packages.
//
// These types form the lingua franca between the interpretation pipeline, the
// disambiguation dialog, speech providers, and the persistence layer. They are
// intentionally minimal — each package defines its own domain types, but
// cross-cutting data structures live here to avoid circular imports.
package types

import "time"

// Candidate is one possible correct interpretation of unclear input speech.
// Candidates are immutable once received; ordering is supplied by the
// interpretation backend (best first) and is never re-sorted downstream.
type Candidate struct {
	// Text is the candidate phrasing.
	Text string `json:"text"`

	// Confidence is the backend's confidence in this candidate, 0–100.
	Confidence int `json:"confidence"`
}

// Interpretation is the result of running an unclear utterance through the
// interpretation backend. It is the inbound payload of a disambiguation
// session.
type Interpretation struct {
	// Original is the utterance as heard (raw STT output or typed text).
	Original string `json:"original"`

	// Candidates are the ranked alternative phrasings, best first.
	// Always contains at least one entry; on backend failure the single
	// candidate is the original utterance with low confidence.
	Candidates []Candidate `json:"candidates"`

	// Emergency is set when the backend judged the utterance to be a call
	// for help (e.g., "I can't breathe"). The surrounding application uses
	// it to arm caregiver alerting on confirm.
	Emergency bool `json:"emergency"`

	// HomeCommand is a smart-home intent extracted from the utterance, or
	// nil when the utterance is plain communication.
	HomeCommand *HomeCommand `json:"home_command,omitempty"`

	// Model identifies which backend model produced this interpretation.
	Model string `json:"model"`
}

// HomeCommand is a device or scene action extracted from a confirmed
// utterance, expressed in Home Assistant terms.
type HomeCommand struct {
	// Action is the operation to perform: "turn_on", "turn_off", "set",
	// or "trigger_scene".
	Action string `json:"action"`

	// Target is the spoken name of the device or scene (e.g., "bedroom
	// light"). Resolved to an entity ID by the smart-home registry.
	Target string `json:"target"`

	// TargetType is "device" or "scene".
	TargetType string `json:"target_type"`

	// Parameters holds action arguments such as brightness or temperature.
	Parameters map[string]string `json:"parameters,omitempty"`

	// Confidence is the backend's confidence in this intent, 0.0–1.0.
	Confidence float64 `json:"confidence"`
}

// AudioClip is a finished chunk of PCM audio, either uploaded by the client
// for transcription or produced by a speech synthesizer for playback.
type AudioClip struct {
	// PCM holds little-endian 16-bit signed samples.
	PCM []byte

	// SampleRate in Hz (e.g., 16000 for STT uploads, 48000 for playback).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int
}

// Duration returns the play length of the clip, or zero for a malformed clip.
func (c *AudioClip) Duration() time.Duration {
	if c == nil || c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	samples := len(c.PCM) / 2 / c.Channels
	return time.Duration(samples) * time.Second / time.Duration(c.SampleRate)
}

// Transcript is a batch speech-to-text result for an uploaded clip.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string `json:"text"`

	// Confidence is the overall confidence score (0.0–1.0). May be zero if
	// the provider does not report confidence.
	Confidence float64 `json:"confidence"`

	// Language is the detected or requested BCP-47 language code.
	Language string `json:"language"`

	// Duration is the length of the transcribed audio.
	Duration time.Duration `json:"duration"`
}

// Message is one confirmed communication, persisted as conversation history.
type Message struct {
	// ID is the store-assigned identifier.
	ID string `json:"id"`

	// UserID identifies the speaker.
	UserID string `json:"user_id"`

	// Heard is the raw utterance before interpretation.
	Heard string `json:"heard"`

	// Text is the confirmed phrasing the user selected or typed.
	Text string `json:"text"`

	// Confidence is the confidence of the confirmed candidate, 0–100.
	// Zero for custom text.
	Confidence int `json:"confidence"`

	// CreatedAt is when the message was confirmed.
	CreatedAt time.Time `json:"created_at"`
}

// Correction records that a user corrected an interpretation: the utterance
// was heard as Misheard but the user confirmed Corrected. Corrections feed
// the fuzzy pre-pass that rewrites future utterances before interpretation.
type Correction struct {
	ID        string
	UserID    string
	Misheard  string
	Corrected string
	CreatedAt time.Time
}

// Phrase is a saved quick phrase the user can confirm with a single action.
type Phrase struct {
	ID       string `json:"id"`
	UserID   string `json:"user_id"`
	Text     string `json:"text"`
	Category string `json:"category"`

	// UseCount tracks how often the phrase has been confirmed, for ranking.
	UseCount int `json:"use_count"`

	CreatedAt time.Time `json:"created_at"`
}

// Contact is a caregiver who receives emergency alerts.
type Contact struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`

	// Phone is the E.164 number for SMS and voice-call alerts. Empty skips
	// telephony for this contact.
	Phone string `json:"phone"`

	// PushoverKey is the contact's Pushover user key. Empty skips push.
	PushoverKey string `json:"pushover_key"`

	// Priority orders contacts; lower values are notified first.
	Priority int `json:"priority"`

	CreatedAt time.Time `json:"created_at"`
}

// Alert is an emergency notification dispatched to caregivers.
type Alert struct {
	// UserID identifies whose utterance triggered the alert.
	UserID string

	// Text is the confirmed utterance.
	Text string

	// Trigger names what armed the alert: "interpreter" (backend emergency
	// flag) or the matched keyword phrase.
	Trigger string

	OccurredAt time.Time
}

// Prefs holds a user's accessibility preferences. They are applied as an
// explicit configuration object passed to the dialog and client, never as
// ambient global state.
type Prefs struct {
	// TextScale multiplies the client's base font size (0.75–2.0).
	TextScale float64 `json:"text_scale"`

	// HighContrast selects the high-contrast client theme.
	HighContrast bool `json:"high_contrast"`

	// ReducedMotion disables client animations.
	ReducedMotion bool `json:"reduced_motion"`

	// AutoConfirmSeconds is the disambiguation countdown length (3–60).
	AutoConfirmSeconds int `json:"auto_confirm_seconds"`

	// ConfirmDelayMillis is the fixed visual-feedback delay before a
	// confirm is finalized (100–2000).
	ConfirmDelayMillis int `json:"confirm_delay_millis"`

	// VoicePlaybackEnabled gates candidate audio preview.
	VoicePlaybackEnabled bool `json:"voice_playback_enabled"`

	// PreferredVoiceID overrides the synthesis voice. Empty means the
	// user's cloned voice when enrolled, otherwise the provider default.
	PreferredVoiceID string `json:"preferred_voice_id"`

	// Language is the BCP-47 code used for recognition and synthesis.
	Language string `json:"language"`
}

// VoiceProfile describes a synthesis voice offered by a TTS provider.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier.
	ID string

	// Name is the human-readable voice name.
	Name string

	// Provider identifies which TTS provider this voice belongs to.
	Provider string

	// Cloned marks voices created from the user's own samples.
	Cloned bool

	// Metadata holds provider-specific voice attributes (gender, age,
	// accent, etc.).
	Metadata map[string]string
}
