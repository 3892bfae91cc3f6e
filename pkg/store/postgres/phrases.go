package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/emberassist/ember/pkg/store"
	"github.com/emberassist/ember/pkg/types"
)

// PhraseStoreImpl persists the phrase bank in a phrases table with a pgvector
// HNSW index for fast approximate nearest-neighbour search.
//
// Obtain one via [Store.Phrases] rather than constructing directly.
// All methods are safe for concurrent use.
type PhraseStoreImpl struct {
	pool *pgxpool.Pool
}

// Add implements [store.PhraseStore]. A nil embedding stores SQL NULL, which
// excludes the phrase from Nearest results.
func (s *PhraseStoreImpl) Add(ctx context.Context, p types.Phrase, embedding []float32) (string, error) {
	if p.ID == "" {
		id, err := store.NewID()
		if err != nil {
			return "", err
		}
		p.ID = id
	}

	const q = `
		INSERT INTO phrases (id, user_id, text, category, use_count, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	var vec any
	if len(embedding) > 0 {
		vec = pgvector.NewVector(embedding)
	}
	_, err := s.pool.Exec(ctx, q, p.ID, p.UserID, p.Text, p.Category, p.UseCount, vec, p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return "", store.ErrDuplicateID
		}
		return "", fmt.Errorf("phrase store: add: %w", err)
	}
	return p.ID, nil
}

// List implements [store.PhraseStore]. Phrases are ordered by descending use
// count, then alphabetically for a stable display order.
func (s *PhraseStoreImpl) List(ctx context.Context, userID string) ([]types.Phrase, error) {
	const q = `
		SELECT id, user_id, text, category, use_count, created_at
		FROM   phrases
		WHERE  user_id = $1
		ORDER  BY use_count DESC, text ASC`

	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("phrase store: list: %w", err)
	}
	return collectPhrases(rows)
}

// Delete implements [store.PhraseStore].
func (s *PhraseStoreImpl) Delete(ctx context.Context, userID, id string) error {
	const q = `DELETE FROM phrases WHERE id = $1 AND user_id = $2`

	tag, err := s.pool.Exec(ctx, q, id, userID)
	if err != nil {
		return fmt.Errorf("phrase store: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// IncrementUse implements [store.PhraseStore].
func (s *PhraseStoreImpl) IncrementUse(ctx context.Context, id string) error {
	const q = `UPDATE phrases SET use_count = use_count + 1 WHERE id = $1`

	tag, err := s.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("phrase store: increment use: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Nearest implements [store.PhraseStore]. It finds the limit phrases whose
// embeddings are closest (cosine distance) to the query embedding.
//
// Results are ordered by ascending cosine distance (most similar first).
func (s *PhraseStoreImpl) Nearest(ctx context.Context, userID string, embedding []float32, limit int) ([]store.PhraseMatch, error) {
	if limit <= 0 || len(embedding) == 0 {
		return []store.PhraseMatch{}, nil
	}

	const q = `
		SELECT id, user_id, text, category, use_count, created_at,
		       embedding <=> $1 AS distance
		FROM   phrases
		WHERE  user_id = $2
		  AND  embedding IS NOT NULL
		ORDER  BY distance
		LIMIT  $3`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), userID, limit)
	if err != nil {
		return nil, fmt.Errorf("phrase store: nearest: %w", err)
	}

	matches, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (store.PhraseMatch, error) {
		var m store.PhraseMatch
		err := row.Scan(
			&m.Phrase.ID,
			&m.Phrase.UserID,
			&m.Phrase.Text,
			&m.Phrase.Category,
			&m.Phrase.UseCount,
			&m.Phrase.CreatedAt,
			&m.Distance,
		)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("phrase store: scan rows: %w", err)
	}
	if matches == nil {
		matches = []store.PhraseMatch{}
	}
	return matches, nil
}

// collectPhrases scans phrase rows without the embedding column.
func collectPhrases(rows pgx.Rows) ([]types.Phrase, error) {
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Phrase, error) {
		var p types.Phrase
		err := row.Scan(&p.ID, &p.UserID, &p.Text, &p.Category, &p.UseCount, &p.CreatedAt)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("phrase store: scan rows: %w", err)
	}
	if out == nil {
		out = []types.Phrase{}
	}
	return out, nil
}
