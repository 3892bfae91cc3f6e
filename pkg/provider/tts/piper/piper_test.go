package piper

import (
	"context"
	"encoding/binary"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/emberassist/ember/pkg/audio"
	"github.com/emberassist/ember/pkg/provider/tts"
	"github.com/emberassist/ember/pkg/types"
)

// serveWAV returns a handler that responds with a small WAV file and records
// the text query parameter it received.
func serveWAV(t *testing.T, gotText *string) http.HandlerFunc {
	t.Helper()
	samples := []int16{100, -200, 300, -400}
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	wav := audio.EncodeWAV(&types.AudioClip{PCM: pcm, SampleRate: 22050, Channels: 1})

	return func(w http.ResponseWriter, r *http.Request) {
		*gotText = r.URL.Query().Get("text")
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(wav)
	}
}

func TestSynthesize_DecodesWAV(t *testing.T) {
	var gotText string
	srv := httptest.NewServer(serveWAV(t, &gotText))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	clip, err := p.Synthesize(context.Background(), tts.SpeechRequest{Text: "I need water"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if gotText != "I need water" {
		t.Errorf("expected text param 'I need water', got %q", gotText)
	}
	if clip.SampleRate != 22050 {
		t.Errorf("expected 22050 Hz, got %d", clip.SampleRate)
	}
	if clip.Channels != 1 {
		t.Errorf("expected mono, got %d channels", clip.Channels)
	}
	if len(clip.PCM) != 8 {
		t.Errorf("expected 8 PCM bytes, got %d", len(clip.PCM))
	}
}

func TestSynthesizeStream_EmitsWholeClip(t *testing.T) {
	var gotText string
	srv := httptest.NewServer(serveWAV(t, &gotText))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	stream, err := p.SynthesizeStream(context.Background(), tts.SpeechRequest{Text: "hello"})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	if stream.SampleRate != 22050 {
		t.Errorf("expected 22050 Hz, got %d", stream.SampleRate)
	}

	var total int
	for chunk := range stream.Chunks {
		total += len(chunk)
	}
	if err := stream.Err(); err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if total != 8 {
		t.Errorf("expected 8 streamed bytes, got %d", total)
	}
}

func TestSynthesize_VoiceMismatch(t *testing.T) {
	p, err := New("http://localhost:5000", WithVoiceName("en_US-lessac-medium"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Synthesize(context.Background(), tts.SpeechRequest{Text: "hi", VoiceID: "other-voice"})
	if err == nil {
		t.Error("expected error for mismatched voice")
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Synthesize(context.Background(), tts.SpeechRequest{Text: "hi"}); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestListVoices_SingleVoice(t *testing.T) {
	p, err := New("http://localhost:5000", WithVoiceName("en_US-amy-low"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	voices, err := p.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 1 {
		t.Fatalf("expected 1 voice, got %d", len(voices))
	}
	if voices[0].ID != "en_US-amy-low" || voices[0].Provider != "piper" {
		t.Errorf("unexpected voice: %+v", voices[0])
	}
}

func TestCloneVoice_Unsupported(t *testing.T) {
	p, err := New("http://localhost:5000")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.CloneVoice(context.Background(), "Me", [][]byte{[]byte("wav")})
	if !errors.Is(err, tts.ErrCloningUnsupported) {
		t.Errorf("expected ErrCloningUnsupported, got %v", err)
	}
}

func TestNew_EmptyURL(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty server URL")
	}
}
