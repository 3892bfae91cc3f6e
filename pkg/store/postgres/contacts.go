package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emberassist/ember/pkg/store"
	"github.com/emberassist/ember/pkg/types"
)

// ContactStoreImpl persists caregiver contacts in the contacts table.
//
// Obtain one via [Store.Contacts] rather than constructing directly.
// All methods are safe for concurrent use.
type ContactStoreImpl struct {
	pool *pgxpool.Pool
}

// Add implements [store.ContactStore].
func (s *ContactStoreImpl) Add(ctx context.Context, c types.Contact) (string, error) {
	if c.ID == "" {
		id, err := store.NewID()
		if err != nil {
			return "", err
		}
		c.ID = id
	}

	const q = `
		INSERT INTO contacts (id, user_id, name, phone, pushover_key, priority, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, q,
		c.ID,
		c.UserID,
		c.Name,
		c.Phone,
		c.PushoverKey,
		c.Priority,
		c.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", store.ErrDuplicateID
		}
		return "", fmt.Errorf("contact store: add: %w", err)
	}
	return c.ID, nil
}

// List implements [store.ContactStore]. Contacts are ordered by ascending
// priority so alert fan-out notifies the primary caregiver first.
func (s *ContactStoreImpl) List(ctx context.Context, userID string) ([]types.Contact, error) {
	const q = `
		SELECT id, user_id, name, phone, pushover_key, priority, created_at
		FROM   contacts
		WHERE  user_id = $1
		ORDER  BY priority ASC, created_at ASC`

	rows, err := s.pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("contact store: list: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Contact, error) {
		var c types.Contact
		err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Phone, &c.PushoverKey, &c.Priority, &c.CreatedAt)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("contact store: scan rows: %w", err)
	}
	if out == nil {
		out = []types.Contact{}
	}
	return out, nil
}

// Delete implements [store.ContactStore].
func (s *ContactStoreImpl) Delete(ctx context.Context, userID, id string) error {
	const q = `DELETE FROM contacts WHERE id = $1 AND user_id = $2`

	tag, err := s.pool.Exec(ctx, q, id, userID)
	if err != nil {
		return fmt.Errorf("contact store: delete: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}
