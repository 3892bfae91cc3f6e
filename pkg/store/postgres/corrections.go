package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emberassist/ember/pkg/store"
	"github.com/emberassist/ember/pkg/types"
)

// CorrectionStoreImpl persists learned corrections in the corrections table.
//
// Obtain one via [Store.Corrections] rather than constructing directly.
// All methods are safe for concurrent use.
type CorrectionStoreImpl struct {
	pool *pgxpool.Pool
}

// Add implements [store.CorrectionStore].
func (s *CorrectionStoreImpl) Add(ctx context.Context, c types.Correction) (string, error) {
	if c.ID == "" {
		id, err := store.NewID()
		if err != nil {
			return "", err
		}
		c.ID = id
	}

	const q = `
		INSERT INTO corrections (id, user_id, misheard, corrected, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.pool.Exec(ctx, q, c.ID, c.UserID, c.Misheard, c.Corrected, c.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return "", store.ErrDuplicateID
		}
		return "", fmt.Errorf("correction store: add: %w", err)
	}
	return c.ID, nil
}

// ListByUser implements [store.CorrectionStore]. Corrections are returned
// newest first.
func (s *CorrectionStoreImpl) ListByUser(ctx context.Context, userID string) ([]types.Correction, error) {
	const q = `
		SELECT id, user_id, misheard, corrected, created_at
		FROM   corrections
		WHERE  user_id = $1
		ORDER  BY created_at DESC`

	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("correction store: list: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Correction, error) {
		var c types.Correction
		err := row.Scan(&c.ID, &c.UserID, &c.Misheard, &c.Corrected, &c.CreatedAt)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("correction store: scan rows: %w", err)
	}
	if out == nil {
		out = []types.Correction{}
	}
	return out, nil
}
