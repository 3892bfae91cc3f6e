// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs, OpenAI,
// or a local Piper instance) and presents two entry points. Synthesize turns
// a complete utterance into a single PCM clip; utterances in an
// assistive-communication session are short (a phrase, rarely more than a
// sentence), so buffering the whole clip keeps playback logic simple and makes
// cancellation semantics obvious. SynthesizeStream emits PCM chunks as they
// are produced, for callers that forward audio to a client while synthesis is
// still running.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"errors"

	"github.com/emberassist/ember/pkg/types"
)

// ErrCloningUnsupported is returned by CloneVoice on providers that have no
// voice cloning capability. Callers can test for it with errors.Is and fall
// back to a provider that supports cloning.
var ErrCloningUnsupported = errors.New("tts: voice cloning not supported by this provider")

// SpeechRequest describes one utterance to synthesise.
type SpeechRequest struct {
	// Text is the utterance to speak. Must be non-empty.
	Text string

	// VoiceID selects the provider voice. When empty, the provider uses its
	// configured default voice.
	VoiceID string
}

// Stream carries synthesized audio as it is produced.
type Stream struct {
	// Chunks emits raw 16-bit little-endian mono PCM slices in synthesis
	// order. The provider closes the channel when synthesis finishes, fails,
	// or ctx is cancelled. The caller must drain it to avoid blocking the
	// provider's internal goroutine.
	Chunks <-chan []byte

	// SampleRate is the sample rate in Hz of every chunk.
	SampleRate int

	// err is set by the producer before Chunks is closed.
	err *error
}

// NewStream returns a Stream backed by ch, plus a fail function the producer
// calls (before closing ch) to record a synthesis error.
func NewStream(ch <-chan []byte, sampleRate int) (*Stream, func(error)) {
	s := &Stream{Chunks: ch, SampleRate: sampleRate, err: new(error)}
	return s, func(err error) { *s.err = err }
}

// Err returns the error that terminated the stream, or nil if synthesis
// completed. It is meaningful only after Chunks has been closed.
func (s *Stream) Err() error {
	if s.err == nil {
		return nil
	}
	return *s.err
}

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis requests
// may run in parallel (e.g., two sessions speaking at once).
type Provider interface {
	// Synthesize converts req.Text into a PCM clip using the requested voice.
	// The returned clip carries the provider's native sample rate and channel
	// count; callers that need a specific playback format convert it themselves.
	//
	// Returns an error if the provider cannot be reached, the voice does not
	// exist, or ctx is cancelled before synthesis completes. An empty req.Text
	// returns an error rather than an empty clip.
	Synthesize(ctx context.Context, req SpeechRequest) (*types.AudioClip, error)

	// SynthesizeStream starts synthesis of req and returns a Stream whose
	// Chunks channel emits PCM as it becomes available. A non-nil error means
	// the stream could not be started at all; errors during synthesis close
	// the channel early and are reported by Stream.Err.
	SynthesizeStream(ctx context.Context, req SpeechRequest) (*Stream, error)

	// ListVoices returns all voice profiles available from this provider. The
	// list reflects the provider's current catalogue and may change between
	// calls if the underlying service adds or removes voices.
	ListVoices(ctx context.Context) ([]types.VoiceProfile, error)

	// CloneVoice creates a new voice profile by training on the supplied audio
	// samples. Each element of samples must be a provider-supported encoded
	// format (WAV for every bundled implementation). name labels the voice in
	// the provider's catalogue.
	//
	// This is an expensive operation and should not be called in the hot path.
	// Returns the newly created profile with a provider-assigned ID. An empty
	// samples slice returns an error rather than panicking.
	CloneVoice(ctx context.Context, name string, samples [][]byte) (*types.VoiceProfile, error)
}
