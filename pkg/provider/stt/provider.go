// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a batch transcription service (e.g., Deepgram's
// pre-recorded API or OpenAI Whisper) and exposes a uniform one-shot
// interface. The client records a complete utterance and uploads it as a
// single clip; there is no live audio stream. Utterances from users with
// speech impairments are short and the downstream interpretation step needs
// the whole utterance anyway, so batch transcription keeps the pipeline
// simple without costing meaningful latency.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"

	"github.com/emberassist/ember/pkg/types"
)

// Provider is the abstraction over any STT backend.
//
// Implementations must be safe for concurrent use. Multiple transcriptions
// may run in parallel (e.g., two users uploading at once).
type Provider interface {
	// Transcribe converts a complete PCM clip into a transcript. The clip's
	// sample rate and channel count are taken from the clip itself; providers
	// that need a specific format convert internally.
	//
	// A clip containing no recognisable speech yields a transcript with empty
	// Text and a nil error — silence is not a failure. Returns an error if
	// the provider cannot be reached, rejects the audio, or ctx is cancelled.
	Transcribe(ctx context.Context, clip *types.AudioClip) (*types.Transcript, error)
}
