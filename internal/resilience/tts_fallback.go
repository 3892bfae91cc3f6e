package resilience

import (
	"context"

	"github.com/emberassist/ember/pkg/provider/tts"
	"github.com/emberassist/ember/pkg/types"
)

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// TTS backends. Each backend has its own circuit breaker.
//
// Failing over loses the user's cloned voice (a fallback provider has no
// access to another vendor's voice ID), so the spoken output degrades to the
// fallback's default voice. Audible speech in the wrong voice still beats
// silence for an assistive device.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize converts text to a PCM clip using the first healthy provider.
// A voice ID that only the primary knows is passed through unchanged; a
// fallback provider that rejects it fails that entry and the next is tried.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.SpeechRequest) (*types.AudioClip, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (*types.AudioClip, error) {
		return p.Synthesize(ctx, req)
	})
}

// SynthesizeStream starts streaming synthesis against the first healthy
// provider. Only the initial stream setup is covered by failover; mid-stream
// errors are reported through [tts.Stream.Err] and are the caller's
// responsibility.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, req tts.SpeechRequest) (*tts.Stream, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (*tts.Stream, error) {
		return p.SynthesizeStream(ctx, req)
	})
}

// ListVoices returns available voices from the first healthy provider.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]types.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}

// CloneVoice creates a new voice profile using the first healthy provider.
// Providers without cloning support return [tts.ErrCloningUnsupported], which
// counts as a failure and moves on to the next entry.
func (f *TTSFallback) CloneVoice(ctx context.Context, name string, samples [][]byte) (*types.VoiceProfile, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (*types.VoiceProfile, error) {
		return p.CloneVoice(ctx, name, samples)
	})
}
