package voicebank_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/emberassist/ember/internal/voicebank"
	"github.com/emberassist/ember/pkg/provider/tts"
	ttsmock "github.com/emberassist/ember/pkg/provider/tts/mock"
	"github.com/emberassist/ember/pkg/types"
)

func newTestBank(t *testing.T) *voicebank.Bank {
	t.Helper()
	b, err := voicebank.New(t.TempDir(), "correct horse battery staple")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return b
}

func TestBank_PutGetRoundTrip(t *testing.T) {
	t.Parallel()

	b := newTestBank(t)
	want := voicebank.Record{
		ClonedVoiceID: "voice-abc123",
		DisplayName:   "My Voice",
		CreatedAt:     time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC),
	}

	if err := b.Put("u1", want); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := b.Get("u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("Get returned nil for a stored record")
	}
	if *got != want {
		t.Errorf("Get = %+v, want %+v", *got, want)
	}
}

func TestBank_AbsentUserIsNotAnError(t *testing.T) {
	t.Parallel()

	b := newTestBank(t)

	got, err := b.Get("never-enrolled")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("Get = %+v, want nil for a user with no record", got)
	}
}

func TestBank_RecordsEncryptedOnDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	b, err := voicebank.New(dir, "passphrase")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.Put("u1", voicebank.Record{ClonedVoiceID: "voice-xyz"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d files, want 1", len(entries))
	}
	raw, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if bytes.Contains(raw, []byte("voice-xyz")) {
		t.Error("voice ID appears in plaintext on disk")
	}
	if bytes.Contains(raw, []byte("cloned_voice_id")) {
		t.Error("JSON field names appear in plaintext on disk")
	}
}

func TestBank_WrongPassphraseTreatedAsAbsent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	b1, err := voicebank.New(dir, "passphrase one")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b1.Put("u1", voicebank.Record{ClonedVoiceID: "voice-1"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	b2, err := voicebank.New(dir, "different passphrase")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := b2.Get("u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("Get = %+v, want nil for an undecryptable record", got)
	}
}

func TestBank_CorruptedRecordTreatedAsAbsent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	b, err := voicebank.New(dir, "passphrase")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.Put("u1", voicebank.Record{ClonedVoiceID: "voice-1"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	path := filepath.Join(dir, entries[0].Name())
	if err := os.WriteFile(path, []byte("not a sealed record"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	got, err := b.Get("u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("Get = %+v, want nil for a corrupted record", got)
	}
}

func TestBank_PutReplacesExisting(t *testing.T) {
	t.Parallel()

	b := newTestBank(t)
	if err := b.Put("u1", voicebank.Record{ClonedVoiceID: "old"}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := b.Put("u1", voicebank.Record{ClonedVoiceID: "new"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	got, err := b.Get("u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ClonedVoiceID != "new" {
		t.Errorf("ClonedVoiceID = %q, want %q", got.ClonedVoiceID, "new")
	}
}

func TestBank_DeleteIsIdempotent(t *testing.T) {
	t.Parallel()

	b := newTestBank(t)
	if err := b.Put("u1", voicebank.Record{ClonedVoiceID: "voice-1"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := b.Delete("u1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err := b.Get("u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != nil {
		t.Errorf("Get after Delete = %+v, want nil", got)
	}

	// Second delete of an absent record succeeds.
	if err := b.Delete("u1"); err != nil {
		t.Fatalf("Delete (absent): %v", err)
	}
}

func TestBank_UserIDsCannotEscapeDirectory(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	b, err := voicebank.New(dir, "passphrase")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := b.Put("../../etc/evil", voicebank.Record{ClonedVoiceID: "v"}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d files in bank dir, want 1 (record must stay inside)", len(entries))
	}
}

func TestNew_RequiresConfiguration(t *testing.T) {
	t.Parallel()

	if _, err := voicebank.New("", "pass"); err == nil {
		t.Error("New with empty dir: want error")
	}
	if _, err := voicebank.New(t.TempDir(), ""); err == nil {
		t.Error("New with empty passphrase: want error")
	}
}

func TestEnroller_EnrollStoresClonedVoice(t *testing.T) {
	t.Parallel()

	b := newTestBank(t)
	provider := &ttsmock.Provider{
		CloneVoiceResult: &types.VoiceProfile{ID: "cloned-42", Name: "Sam's Voice"},
	}
	e := voicebank.NewEnroller(b, provider)

	samples := [][]byte{[]byte("wav-sample-1"), []byte("wav-sample-2")}
	rec, err := e.Enroll(context.Background(), "u1", "Sam's Voice", samples)
	if err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	if rec.ClonedVoiceID != "cloned-42" {
		t.Errorf("ClonedVoiceID = %q, want cloned-42", rec.ClonedVoiceID)
	}

	if len(provider.CloneVoiceCalls) != 1 {
		t.Fatalf("CloneVoice called %d times, want 1", len(provider.CloneVoiceCalls))
	}
	call := provider.CloneVoiceCalls[0]
	if call.Name != "Sam's Voice" {
		t.Errorf("clone name = %q, want Sam's Voice", call.Name)
	}
	if len(call.Samples) != 2 {
		t.Errorf("clone got %d samples, want 2", len(call.Samples))
	}

	stored, err := b.Get("u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored == nil || stored.ClonedVoiceID != "cloned-42" {
		t.Errorf("stored record = %+v, want ClonedVoiceID cloned-42", stored)
	}
}

func TestEnroller_CloningUnsupportedSurfaces(t *testing.T) {
	t.Parallel()

	b := newTestBank(t)
	provider := &ttsmock.Provider{CloneVoiceErr: tts.ErrCloningUnsupported}
	e := voicebank.NewEnroller(b, provider)

	_, err := e.Enroll(context.Background(), "u1", "Voice", [][]byte{[]byte("wav")})
	if !errors.Is(err, tts.ErrCloningUnsupported) {
		t.Fatalf("err = %v, want ErrCloningUnsupported", err)
	}

	rec, err := b.Get("u1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec != nil {
		t.Errorf("record stored despite clone failure: %+v", rec)
	}
}

func TestEnroller_RejectsEmptySamples(t *testing.T) {
	t.Parallel()

	b := newTestBank(t)
	provider := &ttsmock.Provider{}
	e := voicebank.NewEnroller(b, provider)

	if _, err := e.Enroll(context.Background(), "u1", "Voice", nil); err == nil {
		t.Fatal("Enroll with no samples: want error")
	}
	if len(provider.CloneVoiceCalls) != 0 {
		t.Error("CloneVoice called despite empty samples")
	}
}
