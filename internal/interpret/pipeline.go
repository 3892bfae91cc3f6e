package interpret

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/emberassist/ember/internal/correction"
	"github.com/emberassist/ember/internal/observe"
	"github.com/emberassist/ember/pkg/provider/stt"
	"github.com/emberassist/ember/pkg/types"
)

// ErrNoSpeech is returned when a clip transcribes to nothing.
var ErrNoSpeech = errors.New("interpret: no speech detected")

// Pipeline composes the full path from an uploaded audio clip to an
// interpretation: transcribe, apply learned corrections, interpret.
type Pipeline struct {
	stt     stt.Provider
	learner *correction.Learner
	interp  *Interpreter
	builder *ContextBuilder

	metrics *observe.Metrics
	sttName string
	llmName string
}

// PipelineOption configures a [Pipeline].
type PipelineOption func(*Pipeline)

// WithMetrics enables stage latency histograms and provider request
// counters. sttName and llmName become the "provider" attribute on the
// counters.
func WithMetrics(m *observe.Metrics, sttName, llmName string) PipelineOption {
	return func(p *Pipeline) {
		p.metrics = m
		p.sttName = sttName
		p.llmName = llmName
	}
}

// NewPipeline wires the stages together. learner and builder may be nil;
// their stages are then skipped. sttProvider may also be nil, in which case
// only [Pipeline.ProcessText] works.
func NewPipeline(sttProvider stt.Provider, learner *correction.Learner, interp *Interpreter, builder *ContextBuilder, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		stt:     sttProvider,
		learner: learner,
		interp:  interp,
		builder: builder,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Result carries every intermediate product of the pipeline so callers can
// show the user what was heard, what was corrected, and what was meant.
type Result struct {
	// Transcript is the raw STT output.
	Transcript *types.Transcript

	// Heard is the trimmed transcript text before any correction.
	Heard string

	// Corrected is the utterance after the correction pre-pass. Equal to
	// Heard when no learned correction matched.
	Corrected string

	// CorrectionApplied reports whether a learned correction rewrote the
	// utterance before interpretation.
	CorrectionApplied bool

	// Interpretation is the ranked-candidates result. Its Original field is
	// the heard text, not the corrected one, so the UI shows what the system
	// actually heard.
	Interpretation *types.Interpretation
}

// Process runs a clip through the pipeline for userID.
//
// A transcription failure or an empty transcript is an error; everything
// after that degrades. A correction-store failure falls back to the heard
// text, and interpretation itself degrades internally on malformed model
// output.
func (p *Pipeline) Process(ctx context.Context, userID string, clip *types.AudioClip) (*Result, error) {
	if p.stt == nil {
		return nil, errors.New("interpret: no transcription provider configured")
	}

	start := time.Now()
	transcript, err := p.stt.Transcribe(ctx, clip)
	if p.metrics != nil {
		p.metrics.STTDuration.Record(ctx, time.Since(start).Seconds())
		p.metrics.RecordProviderRequest(ctx, p.sttName, "stt", statusOf(err))
		if err != nil {
			p.metrics.RecordProviderError(ctx, p.sttName, "stt")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("interpret: transcribe: %w", err)
	}

	res := &Result{Transcript: transcript}
	res.Heard = strings.TrimSpace(transcript.Text)
	if res.Heard == "" {
		return nil, ErrNoSpeech
	}
	return p.finish(ctx, userID, res)
}

// ProcessText runs an already-transcribed utterance through the correction
// and interpretation stages. Used when the client sends text directly, for
// example from an on-device recognizer. Returns [ErrNoSpeech] for blank
// input.
func (p *Pipeline) ProcessText(ctx context.Context, userID, utterance string) (*Result, error) {
	res := &Result{Heard: strings.TrimSpace(utterance)}
	if res.Heard == "" {
		return nil, ErrNoSpeech
	}
	return p.finish(ctx, userID, res)
}

// finish applies the correction pre-pass and interpretation to res.Heard.
func (p *Pipeline) finish(ctx context.Context, userID string, res *Result) (*Result, error) {
	res.Corrected = res.Heard
	if p.learner != nil {
		corrected, applied, err := p.learner.Apply(ctx, userID, res.Heard)
		if err != nil {
			slog.Warn("correction pre-pass failed, using heard text",
				slog.String("user_id", userID),
				slog.String("error", err.Error()))
		} else {
			res.Corrected = corrected
			res.CorrectionApplied = applied
		}
	}

	var userCtx *PromptContext
	if p.builder != nil {
		var err error
		userCtx, err = p.builder.Build(ctx, userID, res.Corrected)
		if err != nil {
			return nil, err
		}
	}

	start := time.Now()
	interp, err := p.interp.Interpret(ctx, res.Corrected, userCtx)
	if p.metrics != nil {
		p.metrics.InterpretDuration.Record(ctx, time.Since(start).Seconds())
		p.metrics.RecordProviderRequest(ctx, p.llmName, "llm", statusOf(err))
		if err != nil {
			p.metrics.RecordProviderError(ctx, p.llmName, "llm")
		}
	}
	if err != nil {
		return nil, err
	}
	interp.Original = res.Heard
	res.Interpretation = interp

	slog.Debug("pipeline processed utterance",
		slog.String("user_id", userID),
		slog.String("heard", res.Heard),
		slog.Bool("correction_applied", res.CorrectionApplied),
		slog.Int("candidates", len(interp.Candidates)))
	return res, nil
}

// statusOf maps an error to the "status" metric attribute.
func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
