// Package store defines the persistence interfaces for Ember's user data:
// confirmed messages, learned corrections, the phrase bank, caregiver
// contacts, and per-user preferences.
//
// Two implementations exist: postgres (the production backend, with pgvector
// for phrase similarity) and memstore (in-memory, for tests and single-user
// development runs). Both are constructed once at startup and shared; all
// implementations must be safe for concurrent use.
package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/emberassist/ember/pkg/types"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrDuplicateID is returned when adding a record whose ID already exists.
var ErrDuplicateID = errors.New("store: duplicate id")

// Store aggregates every persistence concern behind one handle.
type Store interface {
	Messages() MessageStore
	Corrections() CorrectionStore
	Phrases() PhraseStore
	Contacts() ContactStore
	Settings() SettingsStore

	// Close releases the backing resources. Safe to call more than once.
	Close()
}

// MessageStore persists confirmed communications.
type MessageStore interface {
	// Add appends a confirmed message. A blank msg.ID is assigned; the final
	// ID is returned.
	Add(ctx context.Context, msg types.Message) (string, error)

	// Recent returns the newest messages for a user, newest first, capped at
	// limit. limit <= 0 applies a backend default.
	Recent(ctx context.Context, userID string, limit int) ([]types.Message, error)
}

// CorrectionStore persists learned misheard-to-corrected pairs.
type CorrectionStore interface {
	// Add records a correction. A blank c.ID is assigned; the final ID is
	// returned.
	Add(ctx context.Context, c types.Correction) (string, error)

	// ListByUser returns all corrections for a user, newest first.
	ListByUser(ctx context.Context, userID string) ([]types.Correction, error)
}

// PhraseMatch is one phrase-bank hit from a similarity query.
type PhraseMatch struct {
	Phrase types.Phrase

	// Distance is the cosine distance to the query embedding; smaller is
	// more similar.
	Distance float64
}

// PhraseStore persists the phrase bank with optional embeddings for
// similarity retrieval.
type PhraseStore interface {
	// Add saves a phrase with its embedding. A nil embedding is allowed; the
	// phrase is then invisible to Nearest but still listed. A blank p.ID is
	// assigned; the final ID is returned.
	Add(ctx context.Context, p types.Phrase, embedding []float32) (string, error)

	// List returns all phrases for a user ordered by descending use count.
	List(ctx context.Context, userID string) ([]types.Phrase, error)

	// Delete removes a phrase. Returns ErrNotFound if it does not exist or
	// belongs to another user.
	Delete(ctx context.Context, userID, id string) error

	// IncrementUse bumps the use counter of a confirmed phrase.
	IncrementUse(ctx context.Context, id string) error

	// Nearest returns up to limit phrases closest to the query embedding,
	// most similar first.
	Nearest(ctx context.Context, userID string, embedding []float32, limit int) ([]PhraseMatch, error)
}

// ContactStore persists caregiver alert contacts.
type ContactStore interface {
	// Add saves a contact. A blank c.ID is assigned; the final ID is returned.
	Add(ctx context.Context, c types.Contact) (string, error)

	// List returns all contacts for a user ordered by ascending priority.
	List(ctx context.Context, userID string) ([]types.Contact, error)

	// Delete removes a contact. Returns ErrNotFound if it does not exist or
	// belongs to another user.
	Delete(ctx context.Context, userID, id string) error
}

// SettingsStore persists per-user preferences.
type SettingsStore interface {
	// Get returns the stored preferences for a user. Returns ErrNotFound for
	// users who never saved any; callers apply defaults.
	Get(ctx context.Context, userID string) (types.Prefs, error)

	// Put stores the full preferences object, replacing any previous value.
	Put(ctx context.Context, userID string, prefs types.Prefs) error
}

// NewID produces a random 16-byte hex string using crypto/rand. Both backends
// assign IDs with it so records keep their identity when migrating between
// them.
func NewID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("store: generate id: %w", err)
	}
	return hex.EncodeToString(b), nil
}
