// Package elevenlabs provides an ElevenLabs-backed TTS provider. Synthesis
// uses the ElevenLabs streaming WebSocket API; SynthesizeStream forwards PCM
// chunks as they arrive and Synthesize buffers the stream into a single clip.
// Voice management (list, clone) uses the REST API. It implements the
// tts.Provider interface.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"
	"github.com/emberassist/ember/pkg/provider/tts"
	"github.com/emberassist/ember/pkg/types"
)

const (
	defaultAPIBaseURL = "https://api.elevenlabs.io"
	defaultWSBaseURL  = "wss://api.elevenlabs.io"
	defaultModel      = "eleven_flash_v2_5"
	defaultOutputFmt  = "pcm_16000"

	// Audio messages carry base64-encoded PCM and routinely exceed the
	// coder/websocket default read limit of 32 KiB.
	wsReadLimit = 1 << 20
)

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the audio output format (e.g., "pcm_16000", "pcm_24000").
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// WithDefaultVoice sets the voice used when a request does not name one.
func WithDefaultVoice(voiceID string) Option {
	return func(p *Provider) {
		p.defaultVoice = voiceID
	}
}

// WithAPIBaseURL overrides the REST API base URL. Intended for tests.
func WithAPIBaseURL(base string) Option {
	return func(p *Provider) {
		p.apiBaseURL = strings.TrimRight(base, "/")
	}
}

// WithWSBaseURL overrides the WebSocket base URL. Intended for tests.
func WithWSBaseURL(base string) Option {
	return func(p *Provider) {
		p.wsBaseURL = strings.TrimRight(base, "/")
	}
}

// Provider implements tts.Provider backed by the ElevenLabs API.
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	defaultVoice string
	apiBaseURL   string
	wsBaseURL    string
	httpClient   *http.Client
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		apiBaseURL:   defaultAPIBaseURL,
		wsBaseURL:    defaultWSBaseURL,
		httpClient:   &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
// An empty Text value is the flush command that ends the stream.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"` // error or info
}

// boiMessage is used for the initial "begin of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
	OutputFormat  string         `json:"output_format,omitempty"`
}

// Synthesize sends the utterance over the streaming WebSocket and drains the
// audio into a single mono PCM clip.
//
// Utterances in this system are short, so buffering the full clip costs little
// and keeps the caller's playback logic trivial.
func (p *Provider) Synthesize(ctx context.Context, req tts.SpeechRequest) (*types.AudioClip, error) {
	stream, err := p.SynthesizeStream(ctx, req)
	if err != nil {
		return nil, err
	}
	var pcm []byte
	for chunk := range stream.Chunks {
		pcm = append(pcm, chunk...)
	}
	if err := stream.Err(); err != nil {
		return nil, err
	}
	if len(pcm) == 0 {
		return nil, errors.New("elevenlabs: synthesis returned no audio")
	}
	return &types.AudioClip{
		PCM:        pcm,
		SampleRate: stream.SampleRate,
		Channels:   1,
	}, nil
}

// SynthesizeStream opens a WebSocket to ElevenLabs, sends the utterance, and
// forwards decoded PCM chunks as they arrive.
func (p *Provider) SynthesizeStream(ctx context.Context, req tts.SpeechRequest) (*tts.Stream, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, errors.New("elevenlabs: text must not be empty")
	}
	voiceID := req.VoiceID
	if voiceID == "" {
		voiceID = p.defaultVoice
	}
	if voiceID == "" {
		return nil, errors.New("elevenlabs: no voice ID in request and no default voice configured")
	}

	wsURL := buildSynthesisURL(p.wsBaseURL, voiceID, p.model)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}
	conn.SetReadLimit(wsReadLimit)

	// Authenticate and configure the stream. ElevenLabs requires a non-empty
	// first text value.
	boi := boiMessage{
		Text: " ",
		VoiceSettings: &voiceSettings{
			Stability:       0.5,
			SimilarityBoost: 0.75,
		},
		XiAPIKey:     p.apiKey,
		OutputFormat: p.outputFormat,
	}
	boiBytes, _ := json.Marshal(boi)
	if err := conn.Write(ctx, websocket.MessageText, boiBytes); err != nil {
		conn.Close(websocket.StatusInternalError, "send failed")
		return nil, fmt.Errorf("elevenlabs: send BOI: %w", err)
	}

	msgBytes, err := buildWSMessage(req.Text, nil)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "encode failed")
		return nil, fmt.Errorf("elevenlabs: encode text: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, msgBytes); err != nil {
		conn.Close(websocket.StatusInternalError, "send failed")
		return nil, fmt.Errorf("elevenlabs: send text: %w", err)
	}

	// Empty text is the flush command; it tells ElevenLabs no more input is
	// coming so it synthesises and finalises the stream.
	flushBytes, _ := buildWSMessage("", nil)
	if err := conn.Write(ctx, websocket.MessageText, flushBytes); err != nil {
		conn.Close(websocket.StatusInternalError, "send failed")
		return nil, fmt.Errorf("elevenlabs: send flush: %w", err)
	}

	ch := make(chan []byte, 8)
	stream, fail := tts.NewStream(ch, sampleRateFromFormat(p.outputFormat))

	go func() {
		defer close(ch)
		defer conn.Close(websocket.StatusNormalClosure, "done")

		gotAudio := false
		for {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				// Some server builds close the socket instead of marking the
				// last chunk final. Audio already received is still usable.
				if gotAudio && ctx.Err() == nil {
					return
				}
				fail(fmt.Errorf("elevenlabs: read audio: %w", err))
				return
			}
			var resp audioResponse
			if err := json.Unmarshal(msg, &resp); err != nil {
				continue
			}
			if resp.Audio != "" {
				chunk, err := base64.StdEncoding.DecodeString(resp.Audio)
				if err == nil && len(chunk) > 0 {
					gotAudio = true
					select {
					case ch <- chunk:
					case <-ctx.Done():
						fail(ctx.Err())
						return
					}
				}
			}
			if resp.IsFinal {
				return
			}
		}
	}()

	return stream, nil
}

// ---- ListVoices ----

// voicesResponse is the top-level response from GET /v1/voices.
type voicesResponse struct {
	Voices []elevenLabsVoice `json:"voices"`
}

// elevenLabsVoice is a single voice entry from the ElevenLabs API.
type elevenLabsVoice struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

// ListVoices returns all voices available from ElevenLabs for the configured API key.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBaseURL+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: unexpected status %d", resp.StatusCode)
	}

	body := new(bytes.Buffer)
	if _, err := body.ReadFrom(resp.Body); err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices read: %w", err)
	}
	profiles, err := parseVoicesResponse(body.Bytes())
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices decode: %w", err)
	}
	return profiles, nil
}

// ---- CloneVoice ----

// addVoiceResponse is the response from POST /v1/voices/add.
type addVoiceResponse struct {
	VoiceID string `json:"voice_id"`
}

// CloneVoice creates a new voice by uploading WAV samples to the ElevenLabs
// instant voice cloning endpoint (POST /v1/voices/add). Each element of
// samples must be a complete encoded audio file; WAV works across all plans.
//
// Returns the new profile with the provider-assigned voice ID. The caller is
// responsible for persisting the ID (the voice bank does this).
func (p *Provider) CloneVoice(ctx context.Context, name string, samples [][]byte) (*types.VoiceProfile, error) {
	if name == "" {
		return nil, errors.New("elevenlabs: CloneVoice requires a voice name")
	}
	if len(samples) == 0 {
		return nil, errors.New("elevenlabs: CloneVoice requires at least one audio sample")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if err := mw.WriteField("name", name); err != nil {
		return nil, fmt.Errorf("elevenlabs: write name field: %w", err)
	}
	for i, sample := range samples {
		filename := fmt.Sprintf("sample_%02d.wav", i)
		fw, err := mw.CreateFormFile("files", filename)
		if err != nil {
			return nil, fmt.Errorf("elevenlabs: create form file %s: %w", filename, err)
		}
		if _, err := fw.Write(sample); err != nil {
			return nil, fmt.Errorf("elevenlabs: write form file %s: %w", filename, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("elevenlabs: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBaseURL+"/v1/voices/add", &body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create clone request: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: POST /v1/voices/add: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: POST /v1/voices/add returned status %d", resp.StatusCode)
	}

	var cloneResp addVoiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&cloneResp); err != nil {
		return nil, fmt.Errorf("elevenlabs: decode clone response: %w", err)
	}
	if cloneResp.VoiceID == "" {
		return nil, errors.New("elevenlabs: clone response missing voice_id")
	}

	return &types.VoiceProfile{
		ID:       cloneResp.VoiceID,
		Name:     name,
		Provider: "elevenlabs",
		Cloned:   true,
		Metadata: map[string]string{"category": "cloned"},
	}, nil
}

// ---- helpers ----

// buildWSMessage constructs the JSON text payload for a single text fragment.
// Used by tests to verify the payload shape without opening a real connection.
func buildWSMessage(text string, vs *voiceSettings) ([]byte, error) {
	return json.Marshal(textMessage{Text: text, VoiceSettings: vs})
}

// buildSynthesisURL constructs the WebSocket URL for a given voice and model.
func buildSynthesisURL(base, voiceID, model string) string {
	return fmt.Sprintf("%s/v1/text-to-speech/%s/stream-input?model_id=%s",
		base, url.PathEscape(voiceID), url.QueryEscape(model))
}

// sampleRateFromFormat extracts the sample rate from an ElevenLabs PCM output
// format string such as "pcm_16000". Unrecognised formats fall back to 16 kHz.
func sampleRateFromFormat(format string) int {
	rest, ok := strings.CutPrefix(format, "pcm_")
	if !ok {
		return 16000
	}
	rate, err := strconv.Atoi(rest)
	if err != nil || rate <= 0 {
		return 16000
	}
	return rate
}

// parseVoicesResponse parses a raw JSON byte slice (matching the ElevenLabs
// /v1/voices response) into a slice of VoiceProfile values.
func parseVoicesResponse(data []byte) ([]types.VoiceProfile, error) {
	var vr voicesResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		return nil, err
	}
	profiles := make([]types.VoiceProfile, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		meta := make(map[string]string, len(v.Labels)+1)
		for k, val := range v.Labels {
			meta[k] = val
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		profiles = append(profiles, types.VoiceProfile{
			ID:       v.VoiceID,
			Name:     v.Name,
			Provider: "elevenlabs",
			Cloned:   v.Category == "cloned",
			Metadata: meta,
		})
	}
	return profiles, nil
}
