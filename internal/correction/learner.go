package correction

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/emberassist/ember/pkg/store"
	"github.com/emberassist/ember/pkg/types"
)

// Learner records confirmed corrections and applies them to new utterances.
// It is safe for concurrent use.
type Learner struct {
	corrections store.CorrectionStore
	matcher     *Matcher
}

// NewLearner creates a [Learner] backed by cs. A nil matcher gets the default
// thresholds.
func NewLearner(cs store.CorrectionStore, matcher *Matcher) *Learner {
	if matcher == nil {
		matcher = NewMatcher()
	}
	return &Learner{
		corrections: cs,
		matcher:     matcher,
	}
}

// Learn records that the user confirmed text differing from what was heard.
// Pairs where either side is empty, or where the two sides are equal ignoring
// case, are silently skipped — there is nothing to learn from them.
func (l *Learner) Learn(ctx context.Context, userID, misheard, confirmed string) error {
	misheard = strings.TrimSpace(misheard)
	confirmed = strings.TrimSpace(confirmed)
	if misheard == "" || confirmed == "" || strings.EqualFold(misheard, confirmed) {
		return nil
	}

	id, err := l.corrections.Add(ctx, types.Correction{
		UserID:    userID,
		Misheard:  misheard,
		Corrected: confirmed,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("correction: learn: %w", err)
	}
	slog.Info("learned correction",
		"user_id", userID,
		"correction_id", id,
		"misheard", misheard,
		"confirmed", confirmed)
	return nil
}

// Apply rewrites utterance using the user's best-matching stored correction.
// When no correction applies (or the user has none) the utterance is returned
// unchanged with applied=false. A store failure also returns the original
// utterance so the caller can continue uncorrected.
func (l *Learner) Apply(ctx context.Context, userID, utterance string) (text string, applied bool, err error) {
	list, err := l.corrections.ListByUser(ctx, userID)
	if err != nil {
		return utterance, false, fmt.Errorf("correction: apply: %w", err)
	}
	c, ok := l.matcher.Match(utterance, list)
	if !ok {
		return utterance, false, nil
	}
	slog.Debug("applying learned correction",
		"user_id", userID,
		"heard", utterance,
		"rewritten", c.Corrected)
	return c.Corrected, true, nil
}
