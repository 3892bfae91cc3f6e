package interpret

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/emberassist/ember/pkg/provider/embeddings"
	"github.com/emberassist/ember/pkg/store"
	"github.com/emberassist/ember/pkg/types"
)

// Defaults for context assembly. Overridable via ContextOption.
const (
	defaultMaxMessages    = 8
	defaultMaxCorrections = 20
	defaultMaxPhrases     = 5
	defaultCharBudget     = 2000
)

// PromptContext holds everything known about the user that can sharpen an
// interpretation: what they said recently, what they have taught us about
// their speech, and saved phrases close in meaning to the current utterance.
type PromptContext struct {
	// RecentMessages are the user's latest confirmed messages, newest first.
	RecentMessages []types.Message

	// Corrections are learned misheard-to-intended pairs, newest first.
	Corrections []types.Correction

	// SimilarPhrases are saved phrases ranked by semantic closeness to the
	// current utterance, nearest first.
	SimilarPhrases []store.PhraseMatch
}

// Empty reports whether the context has nothing to contribute to a prompt.
func (pc *PromptContext) Empty() bool {
	return pc == nil ||
		(len(pc.RecentMessages) == 0 && len(pc.Corrections) == 0 && len(pc.SimilarPhrases) == 0)
}

// ContextBuilder assembles a [PromptContext] from the stores. The three
// fetches run concurrently; a failed fetch leaves its section empty rather
// than failing the build, because interpretation must work for a user whose
// history is unavailable.
type ContextBuilder struct {
	messages    store.MessageStore
	corrections store.CorrectionStore
	phrases     store.PhraseStore
	embedder    embeddings.Provider

	maxMessages    int
	maxCorrections int
	maxPhrases     int
}

// ContextOption configures a [ContextBuilder].
type ContextOption func(*ContextBuilder)

// WithMaxMessages caps how many recent messages are fetched.
func WithMaxMessages(n int) ContextOption {
	return func(b *ContextBuilder) {
		if n > 0 {
			b.maxMessages = n
		}
	}
}

// WithMaxCorrections caps how many learned corrections are included.
func WithMaxCorrections(n int) ContextOption {
	return func(b *ContextBuilder) {
		if n > 0 {
			b.maxCorrections = n
		}
	}
}

// WithMaxPhrases caps how many similar phrases are fetched.
func WithMaxPhrases(n int) ContextOption {
	return func(b *ContextBuilder) {
		if n > 0 {
			b.maxPhrases = n
		}
	}
}

// NewContextBuilder creates a builder over the given stores. embedder may be
// nil, in which case the similar-phrases section is skipped entirely.
func NewContextBuilder(messages store.MessageStore, corrections store.CorrectionStore, phrases store.PhraseStore, embedder embeddings.Provider, opts ...ContextOption) *ContextBuilder {
	b := &ContextBuilder{
		messages:       messages,
		corrections:    corrections,
		phrases:        phrases,
		embedder:       embedder,
		maxMessages:    defaultMaxMessages,
		maxCorrections: defaultMaxCorrections,
		maxPhrases:     defaultMaxPhrases,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build fetches all context sections for userID concurrently. utterance seeds
// the semantic phrase lookup and may be empty, which skips that section.
//
// Individual fetch failures are logged and leave their section empty. The only
// returned error is context cancellation.
func (b *ContextBuilder) Build(ctx context.Context, userID, utterance string) (*PromptContext, error) {
	pc := &PromptContext{}

	eg, egCtx := errgroup.WithContext(ctx)

	// ── Recent confirmed messages ─────────────────────────────────────────────
	eg.Go(func() error {
		msgs, err := b.messages.Recent(egCtx, userID, b.maxMessages)
		if err != nil {
			if egCtx.Err() != nil {
				return fmt.Errorf("interpret: fetch recent messages: %w", err)
			}
			slog.Warn("recent messages unavailable for prompt context",
				slog.String("user_id", userID),
				slog.String("error", err.Error()))
			return nil
		}
		pc.RecentMessages = msgs
		return nil
	})

	// ── Learned corrections ───────────────────────────────────────────────────
	eg.Go(func() error {
		corrs, err := b.corrections.ListByUser(egCtx, userID)
		if err != nil {
			if egCtx.Err() != nil {
				return fmt.Errorf("interpret: fetch corrections: %w", err)
			}
			slog.Warn("corrections unavailable for prompt context",
				slog.String("user_id", userID),
				slog.String("error", err.Error()))
			return nil
		}
		if len(corrs) > b.maxCorrections {
			corrs = corrs[:b.maxCorrections]
		}
		pc.Corrections = corrs
		return nil
	})

	// ── Semantically similar saved phrases ────────────────────────────────────
	if b.embedder != nil && strings.TrimSpace(utterance) != "" {
		eg.Go(func() error {
			vec, err := b.embedder.Embed(egCtx, utterance)
			if err != nil {
				if egCtx.Err() != nil {
					return fmt.Errorf("interpret: embed utterance: %w", err)
				}
				slog.Warn("utterance embedding failed, skipping similar phrases",
					slog.String("user_id", userID),
					slog.String("error", err.Error()))
				return nil
			}
			matches, err := b.phrases.Nearest(egCtx, userID, vec, b.maxPhrases)
			if err != nil {
				if egCtx.Err() != nil {
					return fmt.Errorf("interpret: nearest phrases: %w", err)
				}
				slog.Warn("phrase lookup failed, skipping similar phrases",
					slog.String("user_id", userID),
					slog.String("error", err.Error()))
				return nil
			}
			pc.SimilarPhrases = matches
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return pc, nil
}

// FormatPromptContext renders a [PromptContext] as prompt sections. Sections
// with no content are omitted; once the character budget is exhausted the
// remaining lines and sections are dropped. budget <= 0 applies the default.
//
// The formatter is pure: no I/O, no side effects, safe for concurrent use.
func FormatPromptContext(pc *PromptContext, budget int) string {
	if pc.Empty() {
		return ""
	}
	if budget <= 0 {
		budget = defaultCharBudget
	}

	w := budgetWriter{budget: budget}

	// ── Corrections section ───────────────────────────────────────────────────
	if len(pc.Corrections) > 0 {
		w.section("Pronunciations this user has taught you (heard -> meant):")
		for _, c := range pc.Corrections {
			if !w.line(fmt.Sprintf("- %q -> %q", c.Misheard, c.Corrected)) {
				break
			}
		}
	}

	// ── Similar phrases section ───────────────────────────────────────────────
	if len(pc.SimilarPhrases) > 0 {
		w.section("Saved phrases similar to this utterance:")
		for _, m := range pc.SimilarPhrases {
			line := fmt.Sprintf("- %q", m.Phrase.Text)
			if m.Phrase.Category != "" {
				line += fmt.Sprintf(" (category: %s)", m.Phrase.Category)
			}
			if !w.line(line) {
				break
			}
		}
	}

	// ── Recent messages section ───────────────────────────────────────────────
	if len(pc.RecentMessages) > 0 {
		w.section("The user's recent confirmed messages, newest first:")
		for _, m := range pc.RecentMessages {
			if !w.line(fmt.Sprintf("- %q", m.Text)) {
				break
			}
		}
	}

	return w.String()
}

// budgetWriter accumulates prompt lines while tracking a character budget. A
// section header is only emitted when at least one of its lines fits.
type budgetWriter struct {
	sb      strings.Builder
	budget  int
	pending string
}

func (w *budgetWriter) section(header string) {
	w.pending = header
}

// line appends s under the current section if it fits the budget, emitting the
// deferred header first. Returns false when the budget is exhausted.
func (w *budgetWriter) line(s string) bool {
	need := len(s) + 1
	if w.pending != "" {
		need += len(w.pending) + 2
	}
	if w.sb.Len()+need > w.budget {
		return false
	}
	if w.pending != "" {
		if w.sb.Len() > 0 {
			w.sb.WriteString("\n")
		}
		w.sb.WriteString(w.pending)
		w.sb.WriteString("\n")
		w.pending = ""
	}
	w.sb.WriteString(s)
	w.sb.WriteString("\n")
	return true
}

func (w *budgetWriter) String() string {
	return strings.TrimRight(w.sb.String(), "\n")
}
