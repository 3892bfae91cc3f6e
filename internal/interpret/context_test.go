package interpret_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/emberassist/ember/internal/interpret"
	embmock "github.com/emberassist/ember/pkg/provider/embeddings/mock"
	"github.com/emberassist/ember/pkg/store"
	"github.com/emberassist/ember/pkg/store/memstore"
	"github.com/emberassist/ember/pkg/types"
)

// failingMessages implements store.MessageStore and always errors.
type failingMessages struct{}

func (failingMessages) Add(ctx context.Context, msg types.Message) (string, error) {
	return "", errors.New("messages store down")
}

func (failingMessages) Recent(ctx context.Context, userID string, limit int) ([]types.Message, error) {
	return nil, errors.New("messages store down")
}

func seedHistory(t *testing.T, ms *memstore.Store, userID string) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	msgs := []string{"I want water", "I need my glasses"}
	for i, text := range msgs {
		_, err := ms.Messages().Add(ctx, types.Message{
			UserID:    userID,
			Heard:     "garbled",
			Text:      text,
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("seed message: %v", err)
		}
	}

	_, err := ms.Corrections().Add(ctx, types.Correction{
		UserID:    userID,
		Misheard:  "nee hel",
		Corrected: "I need help",
		CreatedAt: base,
	})
	if err != nil {
		t.Fatalf("seed correction: %v", err)
	}

	phrases := []struct {
		text string
		vec  []float32
	}{
		{"I need help", []float32{1, 0, 0}},
		{"Good morning", []float32{0, 1, 0}},
	}
	for _, p := range phrases {
		_, err := ms.Phrases().Add(ctx, types.Phrase{
			UserID:    userID,
			Text:      p.text,
			Category:  "needs",
			CreatedAt: base,
		}, p.vec)
		if err != nil {
			t.Fatalf("seed phrase: %v", err)
		}
	}
}

func TestContextBuilder_FetchesAllSections(t *testing.T) {
	t.Parallel()

	ms := memstore.New()
	seedHistory(t, ms, "u1")
	emb := &embmock.Provider{EmbedResult: []float32{1, 0, 0}}

	b := interpret.NewContextBuilder(ms.Messages(), ms.Corrections(), ms.Phrases(), emb)
	pc, err := b.Build(context.Background(), "u1", "nee hel")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if len(pc.RecentMessages) != 2 {
		t.Fatalf("RecentMessages = %d, want 2", len(pc.RecentMessages))
	}
	if pc.RecentMessages[0].Text != "I need my glasses" {
		t.Errorf("newest message = %q, want %q", pc.RecentMessages[0].Text, "I need my glasses")
	}
	if len(pc.Corrections) != 1 || pc.Corrections[0].Misheard != "nee hel" {
		t.Errorf("Corrections = %+v, want the seeded pair", pc.Corrections)
	}
	if len(pc.SimilarPhrases) != 2 {
		t.Fatalf("SimilarPhrases = %d, want 2", len(pc.SimilarPhrases))
	}
	if pc.SimilarPhrases[0].Phrase.Text != "I need help" {
		t.Errorf("nearest phrase = %q, want %q", pc.SimilarPhrases[0].Phrase.Text, "I need help")
	}
	if len(emb.EmbedCalls) != 1 || emb.EmbedCalls[0].Text != "nee hel" {
		t.Errorf("EmbedCalls = %+v, want one call with the utterance", emb.EmbedCalls)
	}
}

func TestContextBuilder_NilEmbedderSkipsPhrases(t *testing.T) {
	t.Parallel()

	ms := memstore.New()
	seedHistory(t, ms, "u1")

	b := interpret.NewContextBuilder(ms.Messages(), ms.Corrections(), ms.Phrases(), nil)
	pc, err := b.Build(context.Background(), "u1", "nee hel")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if len(pc.SimilarPhrases) != 0 {
		t.Errorf("SimilarPhrases = %d, want 0 without an embedder", len(pc.SimilarPhrases))
	}
	if len(pc.RecentMessages) == 0 || len(pc.Corrections) == 0 {
		t.Error("other sections should still be fetched")
	}
}

func TestContextBuilder_EmptyUtteranceSkipsPhrases(t *testing.T) {
	t.Parallel()

	ms := memstore.New()
	seedHistory(t, ms, "u1")
	emb := &embmock.Provider{EmbedResult: []float32{1, 0, 0}}

	b := interpret.NewContextBuilder(ms.Messages(), ms.Corrections(), ms.Phrases(), emb)
	pc, err := b.Build(context.Background(), "u1", "   ")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if len(emb.EmbedCalls) != 0 {
		t.Errorf("EmbedCalls = %d, want 0 for an empty utterance", len(emb.EmbedCalls))
	}
	if len(pc.SimilarPhrases) != 0 {
		t.Errorf("SimilarPhrases = %d, want 0", len(pc.SimilarPhrases))
	}
}

func TestContextBuilder_StoreFailureLeavesSectionEmpty(t *testing.T) {
	t.Parallel()

	ms := memstore.New()
	seedHistory(t, ms, "u1")

	b := interpret.NewContextBuilder(failingMessages{}, ms.Corrections(), ms.Phrases(), nil)
	pc, err := b.Build(context.Background(), "u1", "nee hel")
	if err != nil {
		t.Fatalf("Build should not fail on a store error, got %v", err)
	}

	if len(pc.RecentMessages) != 0 {
		t.Errorf("RecentMessages = %d, want 0 after store failure", len(pc.RecentMessages))
	}
	if len(pc.Corrections) != 1 {
		t.Errorf("Corrections = %d, want 1 despite the failed section", len(pc.Corrections))
	}
}

func TestContextBuilder_EmbedFailureLeavesPhrasesEmpty(t *testing.T) {
	t.Parallel()

	ms := memstore.New()
	seedHistory(t, ms, "u1")
	emb := &embmock.Provider{EmbedErr: errors.New("embeddings down")}

	b := interpret.NewContextBuilder(ms.Messages(), ms.Corrections(), ms.Phrases(), emb)
	pc, err := b.Build(context.Background(), "u1", "nee hel")
	if err != nil {
		t.Fatalf("Build should degrade on embed failure, got %v", err)
	}

	if len(pc.SimilarPhrases) != 0 {
		t.Errorf("SimilarPhrases = %d, want 0 after embed failure", len(pc.SimilarPhrases))
	}
	if len(pc.RecentMessages) != 2 {
		t.Errorf("RecentMessages = %d, want 2", len(pc.RecentMessages))
	}
}

func TestContextBuilder_Caps(t *testing.T) {
	t.Parallel()

	ms := memstore.New()
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := range 5 {
		_, err := ms.Messages().Add(ctx, types.Message{
			UserID:    "u1",
			Text:      "message",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("seed message: %v", err)
		}
		_, err = ms.Corrections().Add(ctx, types.Correction{
			UserID:    "u1",
			Misheard:  "m",
			Corrected: "c",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("seed correction: %v", err)
		}
	}

	b := interpret.NewContextBuilder(ms.Messages(), ms.Corrections(), ms.Phrases(), nil,
		interpret.WithMaxMessages(2), interpret.WithMaxCorrections(3))
	pc, err := b.Build(ctx, "u1", "anything")
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if len(pc.RecentMessages) != 2 {
		t.Errorf("RecentMessages = %d, want 2", len(pc.RecentMessages))
	}
	if len(pc.Corrections) != 3 {
		t.Errorf("Corrections = %d, want 3", len(pc.Corrections))
	}
}

func TestFormatPromptContext_Empty(t *testing.T) {
	t.Parallel()

	if got := interpret.FormatPromptContext(nil, 0); got != "" {
		t.Errorf("FormatPromptContext(nil) = %q, want empty", got)
	}
	if got := interpret.FormatPromptContext(&interpret.PromptContext{}, 0); got != "" {
		t.Errorf("FormatPromptContext(empty) = %q, want empty", got)
	}
}

func TestFormatPromptContext_AllSections(t *testing.T) {
	t.Parallel()

	pc := &interpret.PromptContext{
		RecentMessages: []types.Message{{Text: "I want water"}},
		Corrections:    []types.Correction{{Misheard: "nee hel", Corrected: "I need help"}},
		SimilarPhrases: []store.PhraseMatch{
			{Phrase: types.Phrase{Text: "I need help", Category: "needs"}},
		},
	}

	got := interpret.FormatPromptContext(pc, 0)

	correctionsAt := strings.Index(got, "taught you")
	phrasesAt := strings.Index(got, "Saved phrases")
	messagesAt := strings.Index(got, "recent confirmed messages")
	if correctionsAt < 0 || phrasesAt < 0 || messagesAt < 0 {
		t.Fatalf("missing section header in:\n%s", got)
	}
	if !(correctionsAt < phrasesAt && phrasesAt < messagesAt) {
		t.Errorf("sections out of order in:\n%s", got)
	}

	for _, want := range []string{
		`"nee hel" -> "I need help"`,
		`"I need help" (category: needs)`,
		`"I want water"`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q:\n%s", want, got)
		}
	}
}

func TestFormatPromptContext_OmitsEmptySections(t *testing.T) {
	t.Parallel()

	pc := &interpret.PromptContext{
		Corrections: []types.Correction{{Misheard: "wadder", Corrected: "water"}},
	}

	got := interpret.FormatPromptContext(pc, 0)
	if !strings.Contains(got, "taught you") {
		t.Fatalf("corrections section missing:\n%s", got)
	}
	if strings.Contains(got, "Saved phrases") || strings.Contains(got, "recent confirmed") {
		t.Errorf("empty sections should be omitted:\n%s", got)
	}
}

func TestFormatPromptContext_BudgetDropsOverflow(t *testing.T) {
	t.Parallel()

	pc := &interpret.PromptContext{
		Corrections: []types.Correction{
			{Misheard: "nee hel", Corrected: "I need help"},
			{Misheard: "wan wadder", Corrected: "I want water"},
		},
		SimilarPhrases: []store.PhraseMatch{
			{Phrase: types.Phrase{Text: "Good morning"}},
		},
	}

	// Enough for the corrections header and its first line only.
	budget := len("Pronunciations this user has taught you (heard -> meant):") +
		len(`- "nee hel" -> "I need help"`) + 4
	got := interpret.FormatPromptContext(pc, budget)

	if len(got) > budget {
		t.Errorf("output length %d exceeds budget %d", len(got), budget)
	}
	if !strings.Contains(got, "nee hel") {
		t.Errorf("first line should fit the budget:\n%s", got)
	}
	if strings.Contains(got, "wan wadder") || strings.Contains(got, "Good morning") {
		t.Errorf("overflow content should be dropped:\n%s", got)
	}
	if strings.Contains(got, "Saved phrases") {
		t.Errorf("header without content should not appear:\n%s", got)
	}
}
