// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// pre-recorded audio API (POST /v1/listen). It implements the stt.Provider
// interface.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/emberassist/ember/pkg/audio"
	"github.com/emberassist/ember/pkg/provider/stt"
	"github.com/emberassist/ember/pkg/types"
)

const (
	defaultBaseURL  = "https://api.deepgram.com"
	listenPath      = "/v1/listen"
	defaultModel    = "nova-3"
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the BCP-47 language code for recognition (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithKeywords sets vocabulary hints that boost recognition probability for
// uncommon words (names of caregivers, medications, places).
func WithKeywords(keywords []string) Option {
	return func(p *Provider) {
		p.keywords = keywords
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// WithBaseURL overrides the API base URL. Intended for tests.
func WithBaseURL(base string) Option {
	return func(p *Provider) {
		p.baseURL = strings.TrimRight(base, "/")
	}
}

// Provider implements stt.Provider backed by the Deepgram pre-recorded API.
type Provider struct {
	apiKey     string
	model      string
	language   string
	keywords   []string
	baseURL    string
	httpClient *http.Client
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		baseURL:  defaultBaseURL,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe uploads the clip as WAV and returns the best transcript.
func (p *Provider) Transcribe(ctx context.Context, clip *types.AudioClip) (*types.Transcript, error) {
	if clip == nil || len(clip.PCM) == 0 {
		return nil, errors.New("deepgram: clip must contain audio")
	}

	reqURL, err := p.buildURL()
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	wav := audio.EncodeWAV(clip)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(wav))
	if err != nil {
		return nil, fmt.Errorf("deepgram: create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram: POST %s: %w", listenPath, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("deepgram: POST %s returned status %d", listenPath, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("deepgram: read response: %w", err)
	}

	transcript, err := parseListenResponse(body)
	if err != nil {
		return nil, fmt.Errorf("deepgram: %w", err)
	}
	if transcript.Language == "" {
		transcript.Language = p.language
	}
	return transcript, nil
}

// buildURL constructs the pre-recorded endpoint URL with recognition options.
func (p *Provider) buildURL() (string, error) {
	u, err := url.Parse(p.baseURL + listenPath)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", p.language)
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	for _, kw := range p.keywords {
		q.Add("keywords", kw)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// listenResponse is the JSON structure returned by the pre-recorded API.
type listenResponse struct {
	Metadata struct {
		Duration float64 `json:"duration"`
	} `json:"metadata"`
	Results struct {
		Channels []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string  `json:"transcript"`
				Confidence float64 `json:"confidence"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// parseListenResponse extracts the best alternative of the first channel.
// An empty transcript (silence) is a valid result, not an error.
func parseListenResponse(data []byte) (*types.Transcript, error) {
	var lr listenResponse
	if err := json.Unmarshal(data, &lr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(lr.Results.Channels) == 0 {
		return nil, errors.New("response contains no channels")
	}
	ch := lr.Results.Channels[0]
	if len(ch.Alternatives) == 0 {
		return nil, errors.New("response contains no alternatives")
	}
	best := ch.Alternatives[0]

	return &types.Transcript{
		Text:       best.Transcript,
		Confidence: best.Confidence,
		Language:   ch.DetectedLanguage,
		Duration:   time.Duration(lr.Metadata.Duration * float64(time.Second)),
	}, nil
}
