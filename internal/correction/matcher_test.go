package correction_test

import (
	"testing"
	"time"

	"github.com/emberassist/ember/internal/correction"
	"github.com/emberassist/ember/pkg/types"
)

func corr(misheard, corrected string, age time.Duration) types.Correction {
	return types.Correction{
		UserID:    "u1",
		Misheard:  misheard,
		Corrected: corrected,
		CreatedAt: time.Now().Add(-age),
	}
}

func TestMatcher_ExactWordsMatch(t *testing.T) {
	t.Parallel()

	m := correction.NewMatcher()
	stored := []types.Correction{
		corr("nee hel", "I need help", 0),
	}

	c, ok := m.Match("nee hel", stored)
	if !ok {
		t.Fatal("Match(\"nee hel\"): ok=false, want true")
	}
	if c.Corrected != "I need help" {
		t.Errorf("Corrected = %q, want %q", c.Corrected, "I need help")
	}
}

func TestMatcher_OrderIndependent(t *testing.T) {
	t.Parallel()

	m := correction.NewMatcher()
	stored := []types.Correction{
		corr("watter sum", "some water please", 0),
	}

	// Reversed order plus an extra word still covers every misheard word.
	_, ok := m.Match("sum more watter", stored)
	if !ok {
		t.Fatal("Match with reordered words: ok=false, want true")
	}
}

func TestMatcher_PhoneticEquivalence(t *testing.T) {
	t.Parallel()

	m := correction.NewMatcher()
	stored := []types.Correction{
		corr("nee hel", "I need help", 0),
	}

	// "hell" is phonetically identical to "hel" and close enough as a string.
	_, ok := m.Match("nee hell", stored)
	if !ok {
		t.Fatal("Match(\"nee hell\"): ok=false, want true (phonetic equivalence)")
	}
}

func TestMatcher_JaroWinklerGuardRejectsDistantWords(t *testing.T) {
	t.Parallel()

	m := correction.NewMatcher()
	stored := []types.Correction{
		corr("kat", "I want my cat", 0),
	}

	// "cat" shares Double Metaphone codes with "kat" but the Jaro-Winkler
	// score (~0.78) falls below the guard, so the words are not equivalent.
	_, ok := m.Match("cat", stored)
	if ok {
		t.Fatal("Match(\"cat\") against misheard \"kat\": ok=true, want false")
	}
}

func TestMatcher_BelowOverlapThreshold(t *testing.T) {
	t.Parallel()

	m := correction.NewMatcher()
	stored := []types.Correction{
		corr("nee sum watter pls", "I need some water please", 0),
	}

	// Only 3 of 4 misheard words present: 75% < 80%.
	_, ok := m.Match("nee sum watter", stored)
	if ok {
		t.Fatal("Match with 75%% overlap: ok=true, want false")
	}
}

func TestMatcher_ExtraUtteranceWordsAllowed(t *testing.T) {
	t.Parallel()

	m := correction.NewMatcher()
	stored := []types.Correction{
		corr("nee hel", "I need help", 0),
	}

	// Coverage is measured against the misheard form, so extra words in the
	// utterance do not dilute the ratio.
	_, ok := m.Match("uh nee hel now", stored)
	if !ok {
		t.Fatal("Match with extra utterance words: ok=false, want true")
	}
}

func TestMatcher_NewestWinsTies(t *testing.T) {
	t.Parallel()

	m := correction.NewMatcher()
	// Newest first, as the store returns them.
	stored := []types.Correction{
		corr("nee hel", "I need help now", time.Minute),
		corr("nee hel", "I need help", time.Hour),
	}

	c, ok := m.Match("nee hel", stored)
	if !ok {
		t.Fatal("Match: ok=false, want true")
	}
	if c.Corrected != "I need help now" {
		t.Errorf("Corrected = %q, want the newer correction %q", c.Corrected, "I need help now")
	}
}

func TestMatcher_HigherOverlapBeatsNewer(t *testing.T) {
	t.Parallel()

	m := correction.NewMatcher()
	stored := []types.Correction{
		// 4 of 5 words = 80%: applies, but not a full cover.
		corr("ah nee sum watter pls", "water please", time.Minute),
		// 3 of 3 words = 100%.
		corr("nee sum watter", "I need some water", time.Hour),
	}

	c, ok := m.Match("nee sum watter pls", stored)
	if !ok {
		t.Fatal("Match: ok=false, want true")
	}
	if c.Corrected != "I need some water" {
		t.Errorf("Corrected = %q, want the full-cover correction", c.Corrected)
	}
}

func TestMatcher_CaseAndPunctuationNormalised(t *testing.T) {
	t.Parallel()

	m := correction.NewMatcher()
	stored := []types.Correction{
		corr("Nee Hel!", "I need help", 0),
	}

	_, ok := m.Match("nee, hel", stored)
	if !ok {
		t.Fatal("Match with different case and punctuation: ok=false, want true")
	}
}

func TestMatcher_EmptyUtterance(t *testing.T) {
	t.Parallel()

	m := correction.NewMatcher()
	stored := []types.Correction{
		corr("nee hel", "I need help", 0),
	}

	if _, ok := m.Match("", stored); ok {
		t.Fatal("Match(\"\"): ok=true, want false")
	}
	if _, ok := m.Match("...", stored); ok {
		t.Fatal("Match(\"...\"): ok=true, want false")
	}
}

func TestMatcher_NoCorrections(t *testing.T) {
	t.Parallel()

	m := correction.NewMatcher()
	if _, ok := m.Match("nee hel", nil); ok {
		t.Fatal("Match with no stored corrections: ok=true, want false")
	}
}

func TestMatcher_CustomOverlapThreshold(t *testing.T) {
	t.Parallel()

	m := correction.NewMatcher(correction.WithOverlapThreshold(0.5))
	stored := []types.Correction{
		corr("nee sum watter pls", "I need some water please", 0),
	}

	// 2 of 4 words = 50%: passes at the lowered threshold.
	_, ok := m.Match("nee watter", stored)
	if !ok {
		t.Fatal("Match at 50%% threshold: ok=false, want true")
	}
}
