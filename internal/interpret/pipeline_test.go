package interpret_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/emberassist/ember/internal/correction"
	"github.com/emberassist/ember/internal/interpret"
	sttmock "github.com/emberassist/ember/pkg/provider/stt/mock"
	"github.com/emberassist/ember/pkg/store/memstore"
	"github.com/emberassist/ember/pkg/types"
)

// failingCorrections implements store.CorrectionStore and always errors.
type failingCorrections struct{}

func (failingCorrections) Add(ctx context.Context, c types.Correction) (string, error) {
	return "", errors.New("corrections store down")
}

func (failingCorrections) ListByUser(ctx context.Context, userID string) ([]types.Correction, error) {
	return nil, errors.New("corrections store down")
}

func pipelineClip() *types.AudioClip {
	return &types.AudioClip{PCM: make([]byte, 3200), SampleRate: 16000, Channels: 1}
}

func TestPipeline_FullFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	ms := memstore.New()
	learner := correction.NewLearner(ms.Corrections(), nil)
	if err := learner.Learn(ctx, "u1", "nee hel", "I need help"); err != nil {
		t.Fatalf("Learn: %v", err)
	}

	sttP := &sttmock.Provider{
		TranscribeResult: &types.Transcript{Text: "nee hel", Confidence: 0.52},
	}
	llmP := respond(`{"candidates":[{"text":"I need help","confidence":95},{"text":"I need a nap","confidence":30}]}`)

	p := interpret.NewPipeline(sttP, learner, interpret.NewInterpreter(llmP), nil)
	res, err := p.Process(ctx, "u1", pipelineClip())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if res.Heard != "nee hel" {
		t.Errorf("Heard = %q, want %q", res.Heard, "nee hel")
	}
	if res.Corrected != "I need help" {
		t.Errorf("Corrected = %q, want %q", res.Corrected, "I need help")
	}
	if !res.CorrectionApplied {
		t.Error("CorrectionApplied = false, want true")
	}
	if res.Transcript == nil || res.Transcript.Confidence != 0.52 {
		t.Errorf("Transcript = %+v, want raw STT output", res.Transcript)
	}

	// The corrected text drives interpretation; the original stays what was
	// heard so the UI can show it.
	if got := llmP.CompleteCalls[0].Req.Messages[0].Content; got != "I need help" {
		t.Errorf("LLM saw %q, want the corrected utterance", got)
	}
	if res.Interpretation.Original != "nee hel" {
		t.Errorf("Interpretation.Original = %q, want the heard text", res.Interpretation.Original)
	}
	if res.Interpretation.Candidates[0].Text != "I need help" {
		t.Errorf("top candidate = %+v", res.Interpretation.Candidates[0])
	}
}

func TestPipeline_NoCorrectionMatch(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	ms := memstore.New()
	learner := correction.NewLearner(ms.Corrections(), nil)
	sttP := &sttmock.Provider{TranscribeResult: &types.Transcript{Text: "wan wadder"}}
	llmP := respond(`{"candidates":[{"text":"I want water","confidence":90}]}`)

	p := interpret.NewPipeline(sttP, learner, interpret.NewInterpreter(llmP), nil)
	res, err := p.Process(ctx, "u1", pipelineClip())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if res.Corrected != "wan wadder" {
		t.Errorf("Corrected = %q, want the heard text", res.Corrected)
	}
	if res.CorrectionApplied {
		t.Error("CorrectionApplied = true, want false")
	}
}

func TestPipeline_ProcessTextSkipsTranscription(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	ms := memstore.New()
	learner := correction.NewLearner(ms.Corrections(), nil)
	if err := learner.Learn(ctx, "u1", "nee hel", "I need help"); err != nil {
		t.Fatalf("Learn: %v", err)
	}

	sttP := &sttmock.Provider{}
	llmP := respond(`{"candidates":[{"text":"I need help","confidence":95}]}`)

	p := interpret.NewPipeline(sttP, learner, interpret.NewInterpreter(llmP), nil)
	res, err := p.ProcessText(ctx, "u1", "  nee hel ")
	if err != nil {
		t.Fatalf("ProcessText: %v", err)
	}

	if len(sttP.TranscribeCalls) != 0 {
		t.Error("STT should not be called for text input")
	}
	if res.Transcript != nil {
		t.Errorf("Transcript = %+v, want nil for text input", res.Transcript)
	}
	if res.Heard != "nee hel" || res.Corrected != "I need help" || !res.CorrectionApplied {
		t.Errorf("Heard = %q Corrected = %q applied = %v", res.Heard, res.Corrected, res.CorrectionApplied)
	}
	if res.Interpretation.Original != "nee hel" {
		t.Errorf("Interpretation.Original = %q, want the heard text", res.Interpretation.Original)
	}
}

func TestPipeline_ProcessTextBlankIsNoSpeech(t *testing.T) {
	t.Parallel()

	p := interpret.NewPipeline(&sttmock.Provider{}, nil, interpret.NewInterpreter(respond(`{}`)), nil)
	if _, err := p.ProcessText(context.Background(), "u1", "   "); !errors.Is(err, interpret.ErrNoSpeech) {
		t.Fatalf("err = %v, want ErrNoSpeech", err)
	}
}

func TestPipeline_TranscribeErrorPropagates(t *testing.T) {
	t.Parallel()

	sttP := &sttmock.Provider{TranscribeErr: errors.New("stt offline")}
	p := interpret.NewPipeline(sttP, nil, interpret.NewInterpreter(respond(`{}`)), nil)

	_, err := p.Process(context.Background(), "u1", pipelineClip())
	if err == nil || !strings.Contains(err.Error(), "stt offline") {
		t.Fatalf("err = %v, want wrapped transcribe error", err)
	}
}

func TestPipeline_SilenceIsNoSpeech(t *testing.T) {
	t.Parallel()

	sttP := &sttmock.Provider{TranscribeResult: &types.Transcript{Text: "   "}}
	llmP := respond(`{}`)
	p := interpret.NewPipeline(sttP, nil, interpret.NewInterpreter(llmP), nil)

	_, err := p.Process(context.Background(), "u1", pipelineClip())
	if !errors.Is(err, interpret.ErrNoSpeech) {
		t.Fatalf("err = %v, want ErrNoSpeech", err)
	}
	if len(llmP.CompleteCalls) != 0 {
		t.Error("LLM should not be called for silence")
	}
}

func TestPipeline_CorrectionStoreFailureUsesHeardText(t *testing.T) {
	t.Parallel()

	learner := correction.NewLearner(failingCorrections{}, nil)
	sttP := &sttmock.Provider{TranscribeResult: &types.Transcript{Text: "nee hel"}}
	llmP := respond(`{"candidates":[{"text":"I need help","confidence":80}]}`)

	p := interpret.NewPipeline(sttP, learner, interpret.NewInterpreter(llmP), nil)
	res, err := p.Process(context.Background(), "u1", pipelineClip())
	if err != nil {
		t.Fatalf("Process should degrade on correction failure: %v", err)
	}

	if res.Corrected != "nee hel" || res.CorrectionApplied {
		t.Errorf("Corrected = %q applied = %v, want heard text unmodified", res.Corrected, res.CorrectionApplied)
	}
	if got := llmP.CompleteCalls[0].Req.Messages[0].Content; got != "nee hel" {
		t.Errorf("LLM saw %q, want the heard text", got)
	}
}

func TestPipeline_ContextBuilderFeedsPrompt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	ms := memstore.New()
	_, err := ms.Messages().Add(ctx, types.Message{
		UserID:    "u1",
		Text:      "I want my blanket",
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("seed message: %v", err)
	}

	sttP := &sttmock.Provider{TranscribeResult: &types.Transcript{Text: "col"}}
	llmP := respond(`{"candidates":[{"text":"I am cold","confidence":70}]}`)
	builder := interpret.NewContextBuilder(ms.Messages(), ms.Corrections(), ms.Phrases(), nil)

	p := interpret.NewPipeline(sttP, nil, interpret.NewInterpreter(llmP), builder)
	if _, err := p.Process(ctx, "u1", pipelineClip()); err != nil {
		t.Fatalf("Process: %v", err)
	}

	prompt := llmP.CompleteCalls[0].Req.SystemPrompt
	if !strings.Contains(prompt, "I want my blanket") {
		t.Errorf("prompt should carry the user's recent message:\n%s", prompt)
	}
}

func TestPipeline_MalformedModelOutputStillAnswers(t *testing.T) {
	t.Parallel()

	sttP := &sttmock.Provider{TranscribeResult: &types.Transcript{Text: "hel pls"}}
	llmP := respond("sorry, I cannot produce JSON today")

	p := interpret.NewPipeline(sttP, nil, interpret.NewInterpreter(llmP), nil)
	res, err := p.Process(context.Background(), "u1", pipelineClip())
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(res.Interpretation.Candidates) != 1 || res.Interpretation.Candidates[0].Text != "hel pls" {
		t.Errorf("Candidates = %+v, want single raw-utterance fallback", res.Interpretation.Candidates)
	}
}
