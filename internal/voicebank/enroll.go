package voicebank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/emberassist/ember/pkg/provider/tts"
)

// Enroller runs voice enrollment: it submits the user's audio samples to a
// cloning-capable TTS provider and stores the resulting voice ID in the bank.
type Enroller struct {
	bank *Bank
	tts  tts.Provider
}

// NewEnroller creates an [Enroller] cloning voices with p and persisting them
// in bank.
func NewEnroller(bank *Bank, p tts.Provider) *Enroller {
	return &Enroller{bank: bank, tts: p}
}

// Enroll clones a voice from the supplied WAV samples and stores it for
// userID, replacing any previous enrollment. displayName labels the voice in
// the provider's catalogue.
//
// Returns [tts.ErrCloningUnsupported] (wrapped) when the configured provider
// cannot clone; the caller should tell the user rather than retry.
func (e *Enroller) Enroll(ctx context.Context, userID, displayName string, samples [][]byte) (*Record, error) {
	if len(samples) == 0 {
		return nil, errors.New("voicebank: enroll: no audio samples")
	}

	profile, err := e.tts.CloneVoice(ctx, displayName, samples)
	if err != nil {
		return nil, fmt.Errorf("voicebank: enroll: %w", err)
	}

	rec := Record{
		ClonedVoiceID: profile.ID,
		DisplayName:   displayName,
		CreatedAt:     time.Now().UTC(),
	}
	if err := e.bank.Put(userID, rec); err != nil {
		return nil, fmt.Errorf("voicebank: enroll: %w", err)
	}

	slog.Info("voice enrolled",
		"user_id", userID,
		"voice_id", profile.ID,
		"samples", len(samples))
	return &rec, nil
}
