// Package openai provides an OpenAI Whisper-backed STT provider using the
// /v1/audio/transcriptions endpoint via the official Go SDK. It implements
// the stt.Provider interface.
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/emberassist/ember/pkg/audio"
	"github.com/emberassist/ember/pkg/provider/stt"
	"github.com/emberassist/ember/pkg/types"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "whisper-1"

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the OpenAI Provider.
type Option func(*Provider)

// WithModel sets the transcription model (e.g., "whisper-1",
// "gpt-4o-mini-transcribe").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the ISO-639-1 input language (e.g., "en"). Supplying it
// improves accuracy; when empty, Whisper auto-detects.
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithBaseURL overrides the API base URL, e.g. for an OpenAI-compatible
// transcription server.
func WithBaseURL(base string) Option {
	return func(p *Provider) {
		p.baseURL = base
	}
}

// Provider implements stt.Provider backed by the OpenAI transcription API.
type Provider struct {
	client   oai.Client
	model    string
	language string

	baseURL string
}

// New creates a new OpenAI transcription Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	p := &Provider{
		model: DefaultModel,
	}
	for _, o := range opts {
		o(p)
	}

	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if p.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(p.baseURL))
	}
	p.client = oai.NewClient(clientOpts...)
	return p, nil
}

// wavUpload names the multipart file part so the API recognises the format.
type wavUpload struct {
	io.Reader
}

func (wavUpload) Name() string { return "clip.wav" }

// Transcribe uploads the clip as WAV and returns the transcript. Whisper does
// not report a confidence score, so Confidence is always zero; callers that
// need one treat zero as "unknown", not "bad".
func (p *Provider) Transcribe(ctx context.Context, clip *types.AudioClip) (*types.Transcript, error) {
	if clip == nil || len(clip.PCM) == 0 {
		return nil, errors.New("openai: clip must contain audio")
	}

	wav := audio.EncodeWAV(clip)
	params := oai.AudioTranscriptionNewParams{
		File:  wavUpload{bytes.NewReader(wav)},
		Model: oai.AudioModel(p.model),
	}
	if p.language != "" {
		params.Language = param.NewOpt(p.language)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: transcription request: %w", err)
	}

	return &types.Transcript{
		Text:     resp.Text,
		Language: p.language,
		Duration: clip.Duration(),
	}, nil
}
