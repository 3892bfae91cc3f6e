// Package mock provides a test double for the stt.Provider interface.
//
// Use Provider to return controlled transcripts and to verify which clips
// were submitted for transcription.
//
// Example:
//
//	p := &mock.Provider{
//	    TranscribeResult: &types.Transcript{Text: "nee hel", Confidence: 0.52},
//	}
//	tr, _ := p.Transcribe(ctx, clip)
package mock

import (
	"context"
	"sync"

	"github.com/emberassist/ember/pkg/provider/stt"
	"github.com/emberassist/ember/pkg/types"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// Clip is the clip passed to Transcribe.
	Clip *types.AudioClip
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// TranscribeResult is returned by Transcribe when TranscribeResults is
	// empty. When both are nil and TranscribeErr is nil, an empty transcript
	// is returned.
	TranscribeResult *types.Transcript

	// TranscribeResults, when non-empty, is returned in sequence: the first
	// call gets element 0 and so on. The final element repeats once the
	// sequence is exhausted.
	TranscribeResults []*types.Transcript

	// TranscribeErr, if non-nil, is returned as the error from Transcribe.
	TranscribeErr error

	// --- Call records ---

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall
}

// Transcribe records the call and returns the configured transcript or error.
func (p *Provider) Transcribe(ctx context.Context, clip *types.AudioClip) (*types.Transcript, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	callIdx := len(p.TranscribeCalls)
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, Clip: clip})

	if p.TranscribeErr != nil {
		return nil, p.TranscribeErr
	}
	if len(p.TranscribeResults) > 0 {
		idx := callIdx
		if idx >= len(p.TranscribeResults) {
			idx = len(p.TranscribeResults) - 1
		}
		return p.TranscribeResults[idx], nil
	}
	if p.TranscribeResult != nil {
		return p.TranscribeResult, nil
	}
	return &types.Transcript{}, nil
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)
