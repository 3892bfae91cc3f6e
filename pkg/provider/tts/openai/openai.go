// Package openai provides an OpenAI-backed TTS provider using the
// /v1/audio/speech endpoint via the official Go SDK. It implements the
// tts.Provider interface.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/emberassist/ember/pkg/provider/tts"
	"github.com/emberassist/ember/pkg/types"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "gpt-4o-mini-tts"

	// DefaultVoice is used when neither the request nor the configuration
	// names a voice.
	DefaultVoice = "alloy"

	// Speech responses in "pcm" format are raw 24 kHz 16-bit mono samples.
	pcmSampleRate = 24000

	// streamChunkBytes is the read size for streamed responses. Even so chunks
	// never split an int16 sample.
	streamChunkBytes = 8192
)

// builtinVoices is the fixed voice catalogue of the OpenAI speech API. There
// is no list endpoint; this mirrors the published voice names.
var builtinVoices = []string{
	"alloy", "ash", "ballad", "coral", "echo",
	"fable", "onyx", "nova", "sage", "shimmer",
}

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring the OpenAI Provider.
type Option func(*Provider)

// WithModel sets the speech model (e.g., "tts-1", "gpt-4o-mini-tts").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithVoice sets the default voice used when a request does not name one.
func WithVoice(voice string) Option {
	return func(p *Provider) {
		p.voice = voice
	}
}

// WithBaseURL overrides the API base URL, e.g. for an OpenAI-compatible
// speech server.
func WithBaseURL(base string) Option {
	return func(p *Provider) {
		p.baseURL = base
	}
}

// Provider implements tts.Provider backed by the OpenAI speech API.
type Provider struct {
	client oai.Client
	model  string
	voice  string

	baseURL string
}

// New creates a new OpenAI speech Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	p := &Provider{
		model: DefaultModel,
		voice: DefaultVoice,
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

// Synthesize converts text to a mono 24 kHz PCM clip via the speech endpoint.
func (p *Provider) Synthesize(ctx context.Context, req tts.SpeechRequest) (*types.AudioClip, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("openai: text must not be empty")
	}
	voice := req.VoiceID
	if voice == "" {
		voice = p.voice
	}

	res, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(p.model),
		Input:          req.Text,
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: speech request: %w", err)
	}
	defer res.Body.Close()

	pcm, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read speech response: %w", err)
	}
	if len(pcm) == 0 {
		return nil, errors.New("openai: synthesis returned no audio")
	}

	return &types.AudioClip{
		PCM:        pcm,
		SampleRate: pcmSampleRate,
		Channels:   1,
	}, nil
}

// SynthesizeStream starts a speech request and forwards the response body in
// PCM chunks as it downloads.
func (p *Provider) SynthesizeStream(ctx context.Context, req tts.SpeechRequest) (*tts.Stream, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("openai: text must not be empty")
	}
	voice := req.VoiceID
	if voice == "" {
		voice = p.voice
	}

	res, err := p.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Model:          oai.SpeechModel(p.model),
		Input:          req.Text,
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: speech request: %w", err)
	}

	ch := make(chan []byte, 4)
	stream, fail := tts.NewStream(ch, pcmSampleRate)

	go func() {
		defer close(ch)
		defer res.Body.Close()

		for {
			buf := make([]byte, streamChunkBytes)
			n, err := io.ReadFull(res.Body, buf)
			if n > 0 {
				select {
				case ch <- buf[:n]:
				case <-ctx.Done():
					fail(ctx.Err())
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
					fail(fmt.Errorf("openai: read speech response: %w", err))
				}
				return
			}
		}
	}()

	return stream, nil
}

// ListVoices returns the fixed OpenAI voice catalogue. The API has no list
// endpoint, so this reflects the published voice names rather than a
// per-account catalogue.
func (p *Provider) ListVoices(_ context.Context) ([]types.VoiceProfile, error) {
	profiles := make([]types.VoiceProfile, 0, len(builtinVoices))
	for _, name := range builtinVoices {
		profiles = append(profiles, types.VoiceProfile{
			ID:       name,
			Name:     name,
			Provider: "openai",
		})
	}
	return profiles, nil
}

// CloneVoice always fails: the OpenAI speech API offers no voice cloning.
func (p *Provider) CloneVoice(context.Context, string, [][]byte) (*types.VoiceProfile, error) {
	return nil, fmt.Errorf("openai: %w", tts.ErrCloningUnsupported)
}
