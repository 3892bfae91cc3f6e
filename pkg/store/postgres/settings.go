package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/emberassist/ember/pkg/store"
	"github.com/emberassist/ember/pkg/types"
)

// SettingsStoreImpl persists per-user preferences as a JSONB document in the
// user_settings table. The whole Prefs object is written atomically; partial
// updates are the settings service's concern.
//
// Obtain one via [Store.Settings] rather than constructing directly.
// All methods are safe for concurrent use.
type SettingsStoreImpl struct {
	pool *pgxpool.Pool
}

// Get implements [store.SettingsStore].
func (s *SettingsStoreImpl) Get(ctx context.Context, userID string) (types.Prefs, error) {
	const q = `SELECT prefs FROM user_settings WHERE user_id = $1`

	var raw []byte
	if err := s.pool.QueryRow(ctx, q, userID).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Prefs{}, store.ErrNotFound
		}
		return types.Prefs{}, fmt.Errorf("settings store: get: %w", err)
	}

	var prefs types.Prefs
	if err := json.Unmarshal(raw, &prefs); err != nil {
		return types.Prefs{}, fmt.Errorf("settings store: decode prefs: %w", err)
	}
	return prefs, nil
}

// Put implements [store.SettingsStore].
func (s *SettingsStoreImpl) Put(ctx context.Context, userID string, prefs types.Prefs) error {
	raw, err := json.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("settings store: encode prefs: %w", err)
	}

	const q = `
		INSERT INTO user_settings (user_id, prefs, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (user_id) DO UPDATE SET
		    prefs      = EXCLUDED.prefs,
		    updated_at = now()`

	if _, err := s.pool.Exec(ctx, q, userID, raw); err != nil {
		return fmt.Errorf("settings store: put: %w", err)
	}
	return nil
}
