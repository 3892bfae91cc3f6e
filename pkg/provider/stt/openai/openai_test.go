package openai

import (
	"context"
	"testing"
)

func TestNew_EmptyAPIKey(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_DefaultModel(t *testing.T) {
	p, err := New("sk-test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != DefaultModel {
		t.Errorf("expected model %q, got %q", DefaultModel, p.model)
	}
}

func TestNew_WithOptions(t *testing.T) {
	p, err := New("sk-test", WithModel("gpt-4o-mini-transcribe"), WithLanguage("en"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != "gpt-4o-mini-transcribe" {
		t.Errorf("expected custom model, got %q", p.model)
	}
	if p.language != "en" {
		t.Errorf("expected language 'en', got %q", p.language)
	}
}

func TestWAVUpload_Name(t *testing.T) {
	// The SDK derives the multipart filename from Name(); the .wav extension
	// is what makes the API accept the upload.
	var f wavUpload
	if f.Name() != "clip.wav" {
		t.Errorf("expected 'clip.wav', got %q", f.Name())
	}
}

func TestTranscribe_EmptyClip(t *testing.T) {
	p, err := New("sk-test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Transcribe(context.Background(), nil); err == nil {
		t.Error("expected error for nil clip")
	}
}
