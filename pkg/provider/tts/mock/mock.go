// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to return controlled clips to consumers and to verify which
// text and voice were passed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{
//	    SynthesizeClip:   &types.AudioClip{PCM: pcm, SampleRate: 16000, Channels: 1},
//	    ListVoicesResult: []types.VoiceProfile{{ID: "v1", Name: "Alice"}},
//	}
//	clip, _ := p.Synthesize(ctx, tts.SpeechRequest{Text: "hello", VoiceID: "v1"})
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/emberassist/ember/pkg/provider/tts"
	"github.com/emberassist/ember/pkg/types"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Req is the request passed to Synthesize.
	Req tts.SpeechRequest
}

// SynthesizeStreamCall records a single invocation of SynthesizeStream.
type SynthesizeStreamCall struct {
	// Ctx is the context passed to SynthesizeStream.
	Ctx context.Context
	// Req is the request passed to SynthesizeStream.
	Req tts.SpeechRequest
}

// ListVoicesCall records a single invocation of ListVoices.
type ListVoicesCall struct {
	// Ctx is the context passed to ListVoices.
	Ctx context.Context
}

// CloneVoiceCall records a single invocation of CloneVoice.
type CloneVoiceCall struct {
	// Ctx is the context passed to CloneVoice.
	Ctx context.Context
	// Name is the voice name passed to CloneVoice.
	Name string
	// Samples is a copy of the audio samples passed to CloneVoice.
	Samples [][]byte
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SynthesizeClip is returned by Synthesize. When nil and SynthesizeErr is
	// also nil, a short silent 16 kHz mono clip is returned so callers never
	// see a nil clip without an error.
	SynthesizeClip *types.AudioClip

	// SynthesizeErr, if non-nil, is returned as the error from Synthesize.
	SynthesizeErr error

	// SynthesizeDelay, if non-zero, makes Synthesize wait for the delay (or
	// until ctx is done) before returning. Used to exercise cancellation and
	// supersede paths in playback tests.
	SynthesizeDelay time.Duration

	// StreamChunks are emitted on the channel returned by SynthesizeStream.
	// When nil, the stream emits the configured (or default) clip's PCM as a
	// single chunk.
	StreamChunks [][]byte

	// StreamErr, if non-nil, is reported by Stream.Err after the chunks have
	// been emitted.
	StreamErr error

	// ListVoicesResult is returned by ListVoices.
	ListVoicesResult []types.VoiceProfile

	// ListVoicesErr, if non-nil, is returned as the error from ListVoices.
	ListVoicesErr error

	// CloneVoiceResult is returned by CloneVoice. May be nil.
	CloneVoiceResult *types.VoiceProfile

	// CloneVoiceErr, if non-nil, is returned as the error from CloneVoice.
	CloneVoiceErr error

	// --- Call records ---

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall

	// SynthesizeStreamCalls records every call to SynthesizeStream in order.
	SynthesizeStreamCalls []SynthesizeStreamCall

	// ListVoicesCalls records every call to ListVoices in order.
	ListVoicesCalls []ListVoicesCall

	// CloneVoiceCalls records every call to CloneVoice in order.
	CloneVoiceCalls []CloneVoiceCall
}

// Synthesize records the call and returns the configured clip or error.
func (p *Provider) Synthesize(ctx context.Context, req tts.SpeechRequest) (*types.AudioClip, error) {
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Req: req})
	clip := p.SynthesizeClip
	err := p.SynthesizeErr
	delay := p.SynthesizeDelay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	if clip == nil {
		clip = &types.AudioClip{
			PCM:        make([]byte, 3200), // 100 ms of silence
			SampleRate: 16000,
			Channels:   1,
		}
	}
	return clip, nil
}

// SynthesizeStream records the call and emits StreamChunks (or the configured
// clip as one chunk) on the returned stream.
func (p *Provider) SynthesizeStream(ctx context.Context, req tts.SpeechRequest) (*tts.Stream, error) {
	p.mu.Lock()
	p.SynthesizeStreamCalls = append(p.SynthesizeStreamCalls, SynthesizeStreamCall{Ctx: ctx, Req: req})
	chunks := p.StreamChunks
	streamErr := p.StreamErr
	clip := p.SynthesizeClip
	err := p.SynthesizeErr
	p.mu.Unlock()

	if err != nil {
		return nil, err
	}

	rate := 16000
	if chunks == nil {
		if clip == nil {
			clip = &types.AudioClip{
				PCM:        make([]byte, 3200), // 100 ms of silence
				SampleRate: 16000,
				Channels:   1,
			}
		}
		chunks = [][]byte{clip.PCM}
		rate = clip.SampleRate
	}

	ch := make(chan []byte, len(chunks))
	stream, fail := tts.NewStream(ch, rate)
	go func() {
		defer close(ch)
		for _, chunk := range chunks {
			select {
			case ch <- chunk:
			case <-ctx.Done():
				fail(ctx.Err())
				return
			}
		}
		if streamErr != nil {
			fail(streamErr)
		}
	}()
	return stream, nil
}

// ListVoices records the call and returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls = append(p.ListVoicesCalls, ListVoicesCall{Ctx: ctx})
	return p.ListVoicesResult, p.ListVoicesErr
}

// CloneVoice records the call and returns CloneVoiceResult, CloneVoiceErr.
func (p *Provider) CloneVoice(ctx context.Context, name string, samples [][]byte) (*types.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	samplesCopy := make([][]byte, len(samples))
	copy(samplesCopy, samples)
	p.CloneVoiceCalls = append(p.CloneVoiceCalls, CloneVoiceCall{Ctx: ctx, Name: name, Samples: samplesCopy})
	return p.CloneVoiceResult, p.CloneVoiceErr
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.SynthesizeStreamCalls = nil
	p.ListVoicesCalls = nil
	p.CloneVoiceCalls = nil
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
