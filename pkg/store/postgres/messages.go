package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emberassist/ember/pkg/store"
	"github.com/emberassist/ember/pkg/types"
)

// defaultRecentLimit caps Recent queries that pass limit <= 0.
const defaultRecentLimit = 50

// MessageStoreImpl persists confirmed messages in the messages table.
//
// Obtain one via [Store.Messages] rather than constructing directly.
// All methods are safe for concurrent use.
type MessageStoreImpl struct {
	pool *pgxpool.Pool
}

// Add implements [store.MessageStore].
func (s *MessageStoreImpl) Add(ctx context.Context, msg types.Message) (string, error) {
	if msg.ID == "" {
		id, err := store.NewID()
		if err != nil {
			return "", err
		}
		msg.ID = id
	}

	const q = `
		INSERT INTO messages (id, user_id, heard, text, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, q,
		msg.ID,
		msg.UserID,
		msg.Heard,
		msg.Text,
		msg.Confidence,
		msg.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return "", store.ErrDuplicateID
		}
		return "", fmt.Errorf("message store: add: %w", err)
	}
	return msg.ID, nil
}

// Recent implements [store.MessageStore]. Messages are returned newest first.
func (s *MessageStoreImpl) Recent(ctx context.Context, userID string, limit int) ([]types.Message, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	const q = `
		SELECT id, user_id, heard, text, confidence, created_at
		FROM   messages
		WHERE  user_id = $1
		ORDER  BY created_at DESC
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("message store: recent: %w", err)
	}

	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.Message, error) {
		var m types.Message
		err := row.Scan(&m.ID, &m.UserID, &m.Heard, &m.Text, &m.Confidence, &m.CreatedAt)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("message store: scan rows: %w", err)
	}
	if msgs == nil {
		msgs = []types.Message{}
	}
	return msgs, nil
}
