package resilience

import (
	"context"
	"errors"
	"testing"

	sttmock "github.com/emberassist/ember/pkg/provider/stt/mock"
	"github.com/emberassist/ember/pkg/types"
)

func testClip() *types.AudioClip {
	return &types.AudioClip{
		PCM:        make([]byte, 3200),
		SampleRate: 16000,
		Channels:   1,
	}
}

func TestSTTFallback_Transcribe_PrimarySuccess(t *testing.T) {
	primary := &sttmock.Provider{
		TranscribeResult: &types.Transcript{Text: "nee hel", Confidence: 0.52},
	}
	secondary := &sttmock.Provider{
		TranscribeResult: &types.Transcript{Text: "from fallback", Confidence: 0.9},
	}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	tr, err := fb.Transcribe(context.Background(), testClip())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Text != "nee hel" {
		t.Fatalf("text = %q, want primary's transcript", tr.Text)
	}
	if len(primary.TranscribeCalls) != 1 {
		t.Fatalf("primary called %d times, want 1", len(primary.TranscribeCalls))
	}
	if len(secondary.TranscribeCalls) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.TranscribeCalls))
	}
}

func TestSTTFallback_Transcribe_Failover(t *testing.T) {
	primary := &sttmock.Provider{
		TranscribeErr: errors.New("primary down"),
	}
	secondary := &sttmock.Provider{
		TranscribeResult: &types.Transcript{Text: "from fallback", Confidence: 0.9},
	}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	tr, err := fb.Transcribe(context.Background(), testClip())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Text != "from fallback" {
		t.Fatalf("text = %q, want secondary's transcript", tr.Text)
	}
	if len(primary.TranscribeCalls) != 1 {
		t.Fatalf("primary called %d times, want 1", len(primary.TranscribeCalls))
	}
	if len(secondary.TranscribeCalls) != 1 {
		t.Fatalf("secondary called %d times, want 1", len(secondary.TranscribeCalls))
	}
}

func TestSTTFallback_Transcribe_AllFail(t *testing.T) {
	primary := &sttmock.Provider{TranscribeErr: errors.New("primary down")}
	secondary := &sttmock.Provider{TranscribeErr: errors.New("secondary down")}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Transcribe(context.Background(), testClip())
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}
