package resilience

import (
	"context"

	"github.com/emberassist/ember/pkg/provider/stt"
	"github.com/emberassist/ember/pkg/types"
)

// STTFallback implements [stt.Provider] with automatic failover across multiple
// STT backends. Each backend has its own circuit breaker. Transcription is the
// first step of every utterance, so a dead primary here would otherwise stall
// the whole pipeline.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

// Compile-time interface assertion.
var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional STT provider as a fallback.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe submits the clip to the first healthy provider. If the primary
// fails or its breaker is open, subsequent fallbacks are tried with the same
// clip.
func (f *STTFallback) Transcribe(ctx context.Context, clip *types.AudioClip) (*types.Transcript, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (*types.Transcript, error) {
		return p.Transcribe(ctx, clip)
	})
}
