// Package phrasebank manages each user's saved quick phrases: frequently
// needed sentences ("I need help", "I want water") that can be offered
// alongside interpreter candidates and confirmed with a single keystroke.
//
// Suggestion is semantic when an embeddings provider is configured: the
// utterance is embedded and the nearest saved phrases by cosine distance are
// returned. Without a provider the service falls back to ranking by token
// overlap, so the phrase bank stays useful in minimal deployments.
package phrasebank

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/emberassist/ember/internal/observe"
	"github.com/emberassist/ember/pkg/provider/embeddings"
	"github.com/emberassist/ember/pkg/store"
	"github.com/emberassist/ember/pkg/types"
)

// ErrEmptyPhrase is returned when adding a phrase with no text.
var ErrEmptyPhrase = errors.New("phrasebank: phrase text is empty")

const (
	defaultSuggestLimit = 3

	// defaultMinScore filters suggestions too weak to be worth showing. A
	// wrong suggestion costs the user a scan of the candidate list, so the
	// bar errs toward showing fewer.
	defaultMinScore = 0.3
)

// Suggestion is one phrase-bank hit for an utterance.
type Suggestion struct {
	Phrase types.Phrase

	// Score estimates relevance in [0, 1]; higher is better.
	Score float64
}

// Service manages saved phrases and similarity suggestions for them.
type Service struct {
	phrases  store.PhraseStore
	embedder embeddings.Provider
	metrics  *observe.Metrics

	limit    int
	minScore float64
}

// Option configures a [Service].
type Option func(*Service)

// WithSuggestLimit sets the default number of suggestions returned when the
// caller does not pass a limit.
func WithSuggestLimit(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithMinScore sets the minimum relevance score a suggestion must reach to
// be returned.
func WithMinScore(min float64) Option {
	return func(s *Service) { s.minScore = min }
}

// WithMetrics enables embedding latency recording.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a phrase-bank service. embedder may be nil; suggestion
// then ranks by token overlap instead of embedding distance.
func NewService(phrases store.PhraseStore, embedder embeddings.Provider, opts ...Option) *Service {
	s := &Service{
		phrases:  phrases,
		embedder: embedder,
		limit:    defaultSuggestLimit,
		minScore: defaultMinScore,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add saves a new phrase for the user, embedding it when a provider is
// configured. An embedding failure downgrades the phrase to list-only rather
// than failing the save.
func (s *Service) Add(ctx context.Context, userID, text, category string) (types.Phrase, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return types.Phrase{}, ErrEmptyPhrase
	}

	p := types.Phrase{
		UserID:    userID,
		Text:      text,
		Category:  strings.TrimSpace(category),
		CreatedAt: time.Now().UTC(),
	}

	var embedding []float32
	if s.embedder != nil {
		vec, err := s.embed(ctx, text)
		if err != nil {
			slog.Warn("phrase embedding failed, saving without vector",
				slog.String("user_id", userID),
				slog.String("error", err.Error()))
		} else {
			embedding = vec
		}
	}

	id, err := s.phrases.Add(ctx, p, embedding)
	if err != nil {
		return types.Phrase{}, fmt.Errorf("phrasebank: add: %w", err)
	}
	p.ID = id
	return p, nil
}

// List returns the user's phrases ordered by descending use count.
func (s *Service) List(ctx context.Context, userID string) ([]types.Phrase, error) {
	phrases, err := s.phrases.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("phrasebank: list: %w", err)
	}
	return phrases, nil
}

// Delete removes a phrase owned by the user.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	if err := s.phrases.Delete(ctx, userID, id); err != nil {
		return fmt.Errorf("phrasebank: delete: %w", err)
	}
	return nil
}

// MarkUsed bumps a phrase's use counter after the user confirms it.
func (s *Service) MarkUsed(ctx context.Context, id string) error {
	if err := s.phrases.IncrementUse(ctx, id); err != nil {
		return fmt.Errorf("phrasebank: mark used: %w", err)
	}
	return nil
}

// Suggest returns up to limit saved phrases relevant to the utterance, best
// first. limit <= 0 applies the service default. An empty utterance returns
// no suggestions.
func (s *Service) Suggest(ctx context.Context, userID, utterance string, limit int) ([]Suggestion, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = s.limit
	}

	if s.embedder != nil {
		suggestions, ok := s.suggestSemantic(ctx, userID, utterance, limit)
		if ok {
			return suggestions, nil
		}
		// Embedding or retrieval failed; fall through to token overlap.
	}
	return s.suggestByOverlap(ctx, userID, utterance, limit)
}

// suggestSemantic ranks by embedding distance. ok is false when the
// embedding or the vector query failed and the caller should fall back.
func (s *Service) suggestSemantic(ctx context.Context, userID, utterance string, limit int) ([]Suggestion, bool) {
	vec, err := s.embed(ctx, utterance)
	if err != nil {
		slog.Warn("suggestion embedding failed, falling back to token overlap",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		return nil, false
	}

	matches, err := s.phrases.Nearest(ctx, userID, vec, limit)
	if err != nil {
		slog.Warn("phrase similarity query failed, falling back to token overlap",
			slog.String("user_id", userID),
			slog.String("error", err.Error()))
		return nil, false
	}

	suggestions := make([]Suggestion, 0, len(matches))
	for _, m := range matches {
		// Cosine distance is 0 for identical, 1 for orthogonal.
		score := 1 - m.Distance
		if score < s.minScore {
			continue
		}
		if score > 1 {
			score = 1
		}
		suggestions = append(suggestions, Suggestion{Phrase: m.Phrase, Score: score})
	}
	return suggestions, true
}

// suggestByOverlap ranks the user's phrases by word-set overlap with the
// utterance. List order (descending use count) breaks score ties.
func (s *Service) suggestByOverlap(ctx context.Context, userID, utterance string, limit int) ([]Suggestion, error) {
	phrases, err := s.phrases.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("phrasebank: suggest: %w", err)
	}

	query := wordSet(utterance)
	if len(query) == 0 {
		return nil, nil
	}

	suggestions := make([]Suggestion, 0, limit)
	for _, p := range phrases {
		score := overlapScore(query, wordSet(p.Text))
		if score < s.minScore {
			continue
		}
		suggestions = append(suggestions, Suggestion{Phrase: p, Score: score})
	}

	slices.SortStableFunc(suggestions, func(a, b Suggestion) int {
		return cmp.Compare(b.Score, a.Score)
	})
	if len(suggestions) > limit {
		suggestions = suggestions[:limit]
	}
	return suggestions, nil
}

// embed computes a text embedding, recording its latency when metrics are
// enabled.
func (s *Service) embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vec, err := s.embedder.Embed(ctx, text)
	if s.metrics != nil {
		s.metrics.EmbedDuration.Record(ctx, time.Since(start).Seconds())
	}
	return vec, err
}

// overlapScore is the Jaccard index of two word sets.
func overlapScore(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	common := 0
	for w := range a {
		if _, ok := b[w]; ok {
			common++
		}
	}
	union := len(a) + len(b) - common
	return float64(common) / float64(union)
}

// wordSet lowercases text, splits on whitespace, and strips surrounding
// punctuation from each word.
func wordSet(text string) map[string]struct{} {
	words := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.TrimFunc(w, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if w != "" {
			set[w] = struct{}{}
		}
	}
	return set
}
