// Package piper provides a local Piper-backed TTS provider that connects to a
// Piper HTTP server via its REST API. It implements the tts.Provider interface.
//
// A Piper server is started with a single voice model and synthesises one
// utterance per HTTP call: GET /?text=... returns a complete WAV file. Because
// the voice is fixed at server start, ListVoices reports exactly one profile
// and requests naming a different voice fail rather than silently using the
// wrong one. Piper is the offline fallback when cloud synthesis is down, so
// the provider keeps no state beyond the server URL.
//
// Typical usage:
//
//	p, err := piper.New("http://localhost:5000",
//	    piper.WithVoiceName("en_US-lessac-medium"),
//	    piper.WithTimeout(15*time.Second),
//	)
//	clip, err := p.Synthesize(ctx, tts.SpeechRequest{Text: "I need help"})
package piper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/emberassist/ember/pkg/audio"
	"github.com/emberassist/ember/pkg/provider/tts"
	"github.com/emberassist/ember/pkg/types"
)

const defaultTimeout = 30 * time.Second

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Piper Provider.
type Option func(*Provider)

// WithVoiceName sets the name of the voice model the server was started with.
// Used for ListVoices reporting and request validation; it does not change
// which model the server uses.
func WithVoiceName(name string) Option {
	return func(p *Provider) {
		p.voiceName = name
	}
}

// WithTimeout sets the per-request HTTP timeout for calls to the Piper server.
// Defaults to 30 s if not set.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// Provider implements tts.Provider backed by a locally-running Piper server.
// It is safe for concurrent use.
type Provider struct {
	serverURL  string
	voiceName  string
	httpClient *http.Client
}

// New creates a new Piper Provider that targets the server at serverURL
// (e.g., "http://localhost:5000"). serverURL must be non-empty.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("piper: serverURL must not be empty")
	}
	p := &Provider{
		serverURL: strings.TrimRight(serverURL, "/"),
		voiceName: "default",
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Synthesize performs a single GET /?text=... call and decodes the WAV
// response into a PCM clip at the model's native rate.
func (p *Provider) Synthesize(ctx context.Context, req tts.SpeechRequest) (*types.AudioClip, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("piper: text must not be empty")
	}
	// The server has exactly one voice; a request for a different one is a
	// configuration error, not something to paper over.
	if req.VoiceID != "" && req.VoiceID != p.voiceName {
		return nil, fmt.Errorf("piper: voice %q not available (server voice is %q)", req.VoiceID, p.voiceName)
	}

	params := url.Values{}
	params.Set("text", req.Text)
	reqURL := p.serverURL + "/?" + params.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("piper: create tts request: %w", err)
	}
	httpReq.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("piper: GET /: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("piper: GET / returned status %d", resp.StatusCode)
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("piper: read WAV response: %w", err)
	}

	clip, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("piper: decode WAV: %w", err)
	}
	if len(clip.PCM) == 0 {
		return nil, errors.New("piper: synthesis returned no audio")
	}
	return clip, nil
}

// SynthesizeStream synthesises the full clip, then emits it in fixed-size
// chunks. The Piper HTTP server returns one complete WAV per call, so audio
// only becomes available after the header arrives anyway; chunking the decoded
// clip keeps the interface uniform for callers that forward audio as it plays.
func (p *Provider) SynthesizeStream(ctx context.Context, req tts.SpeechRequest) (*tts.Stream, error) {
	clip, err := p.Synthesize(ctx, req)
	if err != nil {
		return nil, err
	}

	// 100 ms of mono int16 per chunk.
	chunkBytes := clip.SampleRate / 10 * 2
	if chunkBytes <= 0 {
		chunkBytes = 4096
	}

	ch := make(chan []byte, 4)
	stream, fail := tts.NewStream(ch, clip.SampleRate)

	go func() {
		defer close(ch)
		for off := 0; off < len(clip.PCM); off += chunkBytes {
			end := min(off+chunkBytes, len(clip.PCM))
			select {
			case ch <- clip.PCM[off:end]:
			case <-ctx.Done():
				fail(ctx.Err())
				return
			}
		}
	}()

	return stream, nil
}

// ListVoices returns the single voice the server was started with.
func (p *Provider) ListVoices(_ context.Context) ([]types.VoiceProfile, error) {
	return []types.VoiceProfile{
		{
			ID:       p.voiceName,
			Name:     p.voiceName,
			Provider: "piper",
			Metadata: map[string]string{"type": "local"},
		},
	}, nil
}

// CloneVoice always fails: Piper voices are trained offline, not via the server.
func (p *Provider) CloneVoice(context.Context, string, [][]byte) (*types.VoiceProfile, error) {
	return nil, fmt.Errorf("piper: %w", tts.ErrCloningUnsupported)
}
