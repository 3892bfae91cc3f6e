package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/emberassist/ember/pkg/provider/tts"
)

// ---- WebSocket message construction ----

func TestBuildWSMessage_WithVoiceSettings(t *testing.T) {
	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	data, err := buildWSMessage("Hello there", vs)
	if err != nil {
		t.Fatalf("buildWSMessage: %v", err)
	}

	var msg textMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Text != "Hello there" {
		t.Errorf("expected text 'Hello there', got %q", msg.Text)
	}
	if msg.VoiceSettings == nil {
		t.Fatal("expected non-nil voice settings")
	}
	if msg.VoiceSettings.Stability != 0.5 {
		t.Errorf("expected stability 0.5, got %f", msg.VoiceSettings.Stability)
	}
}

func TestBuildWSMessage_FlushCommand(t *testing.T) {
	// ElevenLabs flush = {"text":""} with no other fields.
	data, err := buildWSMessage("", nil)
	if err != nil {
		t.Fatalf("buildWSMessage: %v", err)
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal flush: %v", err)
	}
	textVal, ok := raw["text"]
	if !ok {
		t.Fatal("expected 'text' field in flush message")
	}
	if string(textVal) != `""` {
		t.Errorf("expected empty string for text, got %s", textVal)
	}
	if _, exists := raw["voice_settings"]; exists {
		t.Error("flush message should not contain voice_settings")
	}
}

// ---- URL and format helpers ----

func TestBuildSynthesisURL(t *testing.T) {
	url := buildSynthesisURL(defaultWSBaseURL, "voice-abc123", "eleven_flash_v2_5")
	if !strings.Contains(url, "voice-abc123") {
		t.Errorf("URL should contain voice ID, got: %s", url)
	}
	if !strings.Contains(url, "eleven_flash_v2_5") {
		t.Errorf("URL should contain model ID, got: %s", url)
	}
	if !strings.HasPrefix(url, "wss://") {
		t.Errorf("URL should be a WebSocket URL, got: %s", url)
	}
}

func TestSampleRateFromFormat(t *testing.T) {
	cases := []struct {
		format string
		want   int
	}{
		{"pcm_16000", 16000},
		{"pcm_24000", 24000},
		{"pcm_44100", 44100},
		{"mp3_44100_128", 16000},
		{"pcm_garbage", 16000},
		{"", 16000},
	}
	for _, tc := range cases {
		if got := sampleRateFromFormat(tc.format); got != tc.want {
			t.Errorf("sampleRateFromFormat(%q) = %d, want %d", tc.format, got, tc.want)
		}
	}
}

// ---- Voice list response parsing ----

func TestParseVoicesResponse_Success(t *testing.T) {
	raw := []byte(`{
		"voices": [
			{
				"voice_id": "abc123",
				"name": "Rachel",
				"category": "premade",
				"labels": {"gender": "female", "accent": "american"}
			},
			{
				"voice_id": "def456",
				"name": "My Voice",
				"category": "cloned",
				"labels": {}
			}
		]
	}`)

	profiles, err := parseVoicesResponse(raw)
	if err != nil {
		t.Fatalf("parseVoicesResponse: %v", err)
	}
	if len(profiles) != 2 {
		t.Fatalf("expected 2 profiles, got %d", len(profiles))
	}

	rachel := profiles[0]
	if rachel.ID != "abc123" {
		t.Errorf("expected ID 'abc123', got %q", rachel.ID)
	}
	if rachel.Provider != "elevenlabs" {
		t.Errorf("expected Provider 'elevenlabs', got %q", rachel.Provider)
	}
	if rachel.Cloned {
		t.Error("premade voice should not be marked cloned")
	}
	if rachel.Metadata["gender"] != "female" {
		t.Errorf("expected gender 'female', got %q", rachel.Metadata["gender"])
	}

	mine := profiles[1]
	if !mine.Cloned {
		t.Error("expected cloned category to set Cloned")
	}
}

func TestParseVoicesResponse_InvalidJSON(t *testing.T) {
	_, err := parseVoicesResponse([]byte(`{invalid`))
	if err == nil {
		t.Error("expected error for invalid JSON")
	}
}

// ---- Constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	_, err := New("")
	if err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != defaultModel {
		t.Errorf("expected model %q, got %q", defaultModel, p.model)
	}
	if p.outputFormat != defaultOutputFmt {
		t.Errorf("expected outputFormat %q, got %q", defaultOutputFmt, p.outputFormat)
	}
}

// ---- Synthesize against a local WebSocket server ----

func TestSynthesize_DrainsStream(t *testing.T) {
	chunk1 := []byte{0x01, 0x00, 0x02, 0x00}
	chunk2 := []byte{0x03, 0x00}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()

		// BOI handshake.
		_, raw, err := conn.Read(ctx)
		if err != nil {
			t.Errorf("read BOI: %v", err)
			return
		}
		var boi boiMessage
		if err := json.Unmarshal(raw, &boi); err != nil {
			t.Errorf("unmarshal BOI: %v", err)
			return
		}
		if boi.XiAPIKey != "test-key" {
			t.Errorf("expected api key in BOI, got %q", boi.XiAPIKey)
		}

		// Utterance.
		_, raw, err = conn.Read(ctx)
		if err != nil {
			t.Errorf("read text: %v", err)
			return
		}
		var tm textMessage
		if err := json.Unmarshal(raw, &tm); err != nil {
			t.Errorf("unmarshal text: %v", err)
			return
		}
		if tm.Text != "I need help" {
			t.Errorf("expected utterance, got %q", tm.Text)
		}

		// Flush.
		if _, _, err := conn.Read(ctx); err != nil {
			t.Errorf("read flush: %v", err)
			return
		}

		write := func(audio []byte, final bool) {
			resp := audioResponse{IsFinal: final}
			if audio != nil {
				resp.Audio = base64.StdEncoding.EncodeToString(audio)
			}
			data, _ := json.Marshal(resp)
			_ = conn.Write(ctx, websocket.MessageText, data)
		}
		write(chunk1, false)
		write(chunk2, false)
		write(nil, true)
	}))
	defer srv.Close()

	p, err := New("test-key", WithWSBaseURL(srv.URL), WithDefaultVoice("voice-1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	clip, err := p.Synthesize(ctx, tts.SpeechRequest{Text: "I need help"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if clip.SampleRate != 16000 {
		t.Errorf("expected 16000 Hz, got %d", clip.SampleRate)
	}
	if clip.Channels != 1 {
		t.Errorf("expected mono, got %d channels", clip.Channels)
	}
	want := append(append([]byte{}, chunk1...), chunk2...)
	if len(clip.PCM) != len(want) {
		t.Fatalf("expected %d PCM bytes, got %d", len(want), len(clip.PCM))
	}
	for i := range want {
		if clip.PCM[i] != want[i] {
			t.Fatalf("PCM mismatch at byte %d", i)
		}
	}
}

func TestSynthesizeStream_EmitsChunksInOrder(t *testing.T) {
	chunks := [][]byte{
		{0x01, 0x00, 0x02, 0x00},
		{0x03, 0x00},
		{0x04, 0x00, 0x05, 0x00, 0x06, 0x00},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "")
		ctx := r.Context()

		// BOI, utterance, flush.
		for range 3 {
			if _, _, err := conn.Read(ctx); err != nil {
				t.Errorf("read: %v", err)
				return
			}
		}
		for _, c := range chunks {
			data, _ := json.Marshal(audioResponse{Audio: base64.StdEncoding.EncodeToString(c)})
			_ = conn.Write(ctx, websocket.MessageText, data)
		}
		data, _ := json.Marshal(audioResponse{IsFinal: true})
		_ = conn.Write(ctx, websocket.MessageText, data)
	}))
	defer srv.Close()

	p, err := New("test-key", WithWSBaseURL(srv.URL), WithDefaultVoice("voice-1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := p.SynthesizeStream(ctx, tts.SpeechRequest{Text: "I need water"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	if stream.SampleRate != 16000 {
		t.Errorf("expected 16000 Hz, got %d", stream.SampleRate)
	}

	var got [][]byte
	for chunk := range stream.Chunks {
		got = append(got, chunk)
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if len(got) != len(chunks) {
		t.Fatalf("expected %d chunks, got %d", len(chunks), len(got))
	}
	for i := range chunks {
		if string(got[i]) != string(chunks[i]) {
			t.Errorf("chunk %d mismatch", i)
		}
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	p, err := New("key", WithDefaultVoice("voice-1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Synthesize(context.Background(), tts.SpeechRequest{Text: "   "}); err == nil {
		t.Error("expected error for blank text")
	}
}

func TestSynthesize_NoVoice(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Synthesize(context.Background(), tts.SpeechRequest{Text: "hello"}); err == nil {
		t.Error("expected error when no voice is configured")
	}
}

// ---- ListVoices and CloneVoice against a local HTTP server ----

func TestListVoices_SendsAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/voices" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("xi-api-key"); got != "test-key" {
			t.Errorf("expected xi-api-key header, got %q", got)
		}
		_, _ = w.Write([]byte(`{"voices":[{"voice_id":"v1","name":"Test","category":"premade"}]}`))
	}))
	defer srv.Close()

	p, err := New("test-key", WithAPIBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 1 || voices[0].ID != "v1" {
		t.Errorf("unexpected voices: %+v", voices)
	}
}

func TestCloneVoice_UploadsSamples(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/voices/add" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(10 << 20); err != nil {
			http.Error(w, "parse multipart: "+err.Error(), http.StatusBadRequest)
			return
		}
		if got := r.FormValue("name"); got != "My Voice" {
			t.Errorf("expected name field 'My Voice', got %q", got)
		}
		files := r.MultipartForm.File["files"]
		if len(files) != 2 {
			t.Errorf("expected 2 sample files, got %d", len(files))
		}
		_, _ = w.Write([]byte(`{"voice_id":"cloned-123"}`))
	}))
	defer srv.Close()

	p, err := New("test-key", WithAPIBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	profile, err := p.CloneVoice(context.Background(), "My Voice", [][]byte{
		[]byte("RIFF-sample-one"),
		[]byte("RIFF-sample-two"),
	})
	if err != nil {
		t.Fatalf("CloneVoice: %v", err)
	}
	if profile.ID != "cloned-123" {
		t.Errorf("expected voice ID 'cloned-123', got %q", profile.ID)
	}
	if !profile.Cloned {
		t.Error("expected Cloned to be set")
	}
}

func TestCloneVoice_NoSamples(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.CloneVoice(context.Background(), "Name", nil); err == nil {
		t.Error("expected error for empty samples")
	}
	if _, err := p.CloneVoice(context.Background(), "", [][]byte{[]byte("x")}); err == nil {
		t.Error("expected error for empty name")
	}
}
