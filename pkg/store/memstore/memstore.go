// Package memstore provides a thread-safe, in-memory implementation of
// [store.Store]. It is suitable for tests and single-user development runs;
// nothing survives a restart.
package memstore

import (
	"cmp"
	"context"
	"math"
	"slices"
	"sync"

	"github.com/emberassist/ember/pkg/store"
	"github.com/emberassist/ember/pkg/types"
)

// Compile-time assertion that Store satisfies the store interfaces.
var (
	_ store.Store           = (*Store)(nil)
	_ store.MessageStore    = (*messageView)(nil)
	_ store.CorrectionStore = (*correctionView)(nil)
	_ store.PhraseStore     = (*phraseView)(nil)
	_ store.ContactStore    = (*contactView)(nil)
	_ store.SettingsStore   = (*settingsView)(nil)
)

// defaultRecentLimit caps Recent queries that pass limit <= 0.
const defaultRecentLimit = 50

// phraseRec pairs a phrase with its embedding, which postgres keeps in a
// vector column and memstore keeps alongside the record.
type phraseRec struct {
	phrase    types.Phrase
	embedding []float32
}

// Store is an in-memory implementation of [store.Store].
type Store struct {
	mu          sync.RWMutex
	messages    map[string]types.Message
	corrections map[string]types.Correction
	phrases     map[string]phraseRec
	contacts    map[string]types.Contact
	settings    map[string]types.Prefs
}

// New returns an initialised empty Store.
func New() *Store {
	return &Store{
		messages:    make(map[string]types.Message),
		corrections: make(map[string]types.Correction),
		phrases:     make(map[string]phraseRec),
		contacts:    make(map[string]types.Contact),
		settings:    make(map[string]types.Prefs),
	}
}

func (s *Store) Messages() store.MessageStore       { return &messageView{s} }
func (s *Store) Corrections() store.CorrectionStore { return &correctionView{s} }
func (s *Store) Phrases() store.PhraseStore         { return &phraseView{s} }
func (s *Store) Contacts() store.ContactStore       { return &contactView{s} }
func (s *Store) Settings() store.SettingsStore      { return &settingsView{s} }

// Close implements [store.Store]. There is nothing to release.
func (s *Store) Close() {}

// ---- messages ----

type messageView struct{ s *Store }

func (v *messageView) Add(_ context.Context, msg types.Message) (string, error) {
	if msg.ID == "" {
		id, err := store.NewID()
		if err != nil {
			return "", err
		}
		msg.ID = id
	}

	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if _, exists := v.s.messages[msg.ID]; exists {
		return "", store.ErrDuplicateID
	}
	v.s.messages[msg.ID] = msg
	return msg.ID, nil
}

func (v *messageView) Recent(_ context.Context, userID string, limit int) ([]types.Message, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	v.s.mu.RLock()
	out := make([]types.Message, 0)
	for _, m := range v.s.messages {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	v.s.mu.RUnlock()

	slices.SortFunc(out, func(a, b types.Message) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- corrections ----

type correctionView struct{ s *Store }

func (v *correctionView) Add(_ context.Context, c types.Correction) (string, error) {
	if c.ID == "" {
		id, err := store.NewID()
		if err != nil {
			return "", err
		}
		c.ID = id
	}

	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if _, exists := v.s.corrections[c.ID]; exists {
		return "", store.ErrDuplicateID
	}
	v.s.corrections[c.ID] = c
	return c.ID, nil
}

func (v *correctionView) ListByUser(_ context.Context, userID string) ([]types.Correction, error) {
	v.s.mu.RLock()
	out := make([]types.Correction, 0)
	for _, c := range v.s.corrections {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	v.s.mu.RUnlock()

	slices.SortFunc(out, func(a, b types.Correction) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

// ---- phrases ----

type phraseView struct{ s *Store }

func (v *phraseView) Add(_ context.Context, p types.Phrase, embedding []float32) (string, error) {
	if p.ID == "" {
		id, err := store.NewID()
		if err != nil {
			return "", err
		}
		p.ID = id
	}

	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if _, exists := v.s.phrases[p.ID]; exists {
		return "", store.ErrDuplicateID
	}
	v.s.phrases[p.ID] = phraseRec{phrase: p, embedding: slices.Clone(embedding)}
	return p.ID, nil
}

func (v *phraseView) List(_ context.Context, userID string) ([]types.Phrase, error) {
	v.s.mu.RLock()
	out := make([]types.Phrase, 0)
	for _, rec := range v.s.phrases {
		if rec.phrase.UserID == userID {
			out = append(out, rec.phrase)
		}
	}
	v.s.mu.RUnlock()

	slices.SortFunc(out, func(a, b types.Phrase) int {
		if c := cmp.Compare(b.UseCount, a.UseCount); c != 0 {
			return c
		}
		return cmp.Compare(a.Text, b.Text)
	})
	return out, nil
}

func (v *phraseView) Delete(_ context.Context, userID, id string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	rec, exists := v.s.phrases[id]
	if !exists || rec.phrase.UserID != userID {
		return store.ErrNotFound
	}
	delete(v.s.phrases, id)
	return nil
}

func (v *phraseView) IncrementUse(_ context.Context, id string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	rec, exists := v.s.phrases[id]
	if !exists {
		return store.ErrNotFound
	}
	rec.phrase.UseCount++
	v.s.phrases[id] = rec
	return nil
}

func (v *phraseView) Nearest(_ context.Context, userID string, embedding []float32, limit int) ([]store.PhraseMatch, error) {
	if limit <= 0 || len(embedding) == 0 {
		return []store.PhraseMatch{}, nil
	}

	v.s.mu.RLock()
	matches := make([]store.PhraseMatch, 0)
	for _, rec := range v.s.phrases {
		if rec.phrase.UserID != userID || len(rec.embedding) != len(embedding) {
			continue
		}
		matches = append(matches, store.PhraseMatch{
			Phrase:   rec.phrase,
			Distance: cosineDistance(embedding, rec.embedding),
		})
	}
	v.s.mu.RUnlock()

	slices.SortFunc(matches, func(a, b store.PhraseMatch) int {
		return cmp.Compare(a.Distance, b.Distance)
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// cosineDistance computes 1 - cosine similarity, matching pgvector's <=>
// operator. Zero-norm vectors are treated as maximally distant.
func cosineDistance(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

// ---- contacts ----

type contactView struct{ s *Store }

func (v *contactView) Add(_ context.Context, c types.Contact) (string, error) {
	if c.ID == "" {
		id, err := store.NewID()
		if err != nil {
			return "", err
		}
		c.ID = id
	}

	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	if _, exists := v.s.contacts[c.ID]; exists {
		return "", store.ErrDuplicateID
	}
	v.s.contacts[c.ID] = c
	return c.ID, nil
}

func (v *contactView) List(_ context.Context, userID string) ([]types.Contact, error) {
	v.s.mu.RLock()
	out := make([]types.Contact, 0)
	for _, c := range v.s.contacts {
		if c.UserID == userID {
			out = append(out, c)
		}
	}
	v.s.mu.RUnlock()

	slices.SortFunc(out, func(a, b types.Contact) int {
		if c := cmp.Compare(a.Priority, b.Priority); c != 0 {
			return c
		}
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func (v *contactView) Delete(_ context.Context, userID, id string) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	c, exists := v.s.contacts[id]
	if !exists || c.UserID != userID {
		return store.ErrNotFound
	}
	delete(v.s.contacts, id)
	return nil
}

// ---- settings ----

type settingsView struct{ s *Store }

func (v *settingsView) Get(_ context.Context, userID string) (types.Prefs, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()
	prefs, exists := v.s.settings[userID]
	if !exists {
		return types.Prefs{}, store.ErrNotFound
	}
	return prefs, nil
}

func (v *settingsView) Put(_ context.Context, userID string, prefs types.Prefs) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()
	v.s.settings[userID] = prefs
	return nil
}
