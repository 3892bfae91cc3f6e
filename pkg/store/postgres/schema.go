package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// DDL — messages, corrections, contacts, settings
// ─────────────────────────────────────────────────────────────────────────────

const ddlMessages = `
CREATE TABLE IF NOT EXISTS messages (
    id          TEXT         PRIMARY KEY,
    user_id     TEXT         NOT NULL,
    heard       TEXT         NOT NULL DEFAULT '',
    text        TEXT         NOT NULL,
    confidence  INT          NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_messages_user_created
    ON messages (user_id, created_at DESC);
`

const ddlCorrections = `
CREATE TABLE IF NOT EXISTS corrections (
    id          TEXT         PRIMARY KEY,
    user_id     TEXT         NOT NULL,
    misheard    TEXT         NOT NULL,
    corrected   TEXT         NOT NULL,
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_corrections_user_created
    ON corrections (user_id, created_at DESC);
`

const ddlContacts = `
CREATE TABLE IF NOT EXISTS contacts (
    id            TEXT         PRIMARY KEY,
    user_id       TEXT         NOT NULL,
    name          TEXT         NOT NULL,
    phone         TEXT         NOT NULL DEFAULT '',
    pushover_key  TEXT         NOT NULL DEFAULT '',
    priority      INT          NOT NULL DEFAULT 0,
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_contacts_user_priority
    ON contacts (user_id, priority);
`

const ddlSettings = `
CREATE TABLE IF NOT EXISTS user_settings (
    user_id     TEXT         PRIMARY KEY,
    prefs       JSONB        NOT NULL,
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

// ddlPhrases returns the phrase-bank DDL with the embedding dimension
// substituted. The vector dimension is baked into the column type at schema
// creation time.
func ddlPhrases(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS phrases (
    id          TEXT         PRIMARY KEY,
    user_id     TEXT         NOT NULL,
    text        TEXT         NOT NULL,
    category    TEXT         NOT NULL DEFAULT '',
    use_count   INT          NOT NULL DEFAULT 0,
    embedding   vector(%d),
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_phrases_user
    ON phrases (user_id);

CREATE INDEX IF NOT EXISTS idx_phrases_embedding_hnsw
    ON phrases USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

// Migrate creates all required tables, indexes, and extensions. Every
// statement is idempotent (IF NOT EXISTS), so Migrate can run on every
// startup.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if embeddingDimensions <= 0 {
		return fmt.Errorf("postgres store: embedding dimensions must be positive, got %d", embeddingDimensions)
	}

	ddls := []struct {
		name string
		sql  string
	}{
		{"phrases", ddlPhrases(embeddingDimensions)},
		{"messages", ddlMessages},
		{"corrections", ddlCorrections},
		{"contacts", ddlContacts},
		{"settings", ddlSettings},
	}
	for _, d := range ddls {
		if _, err := pool.Exec(ctx, d.sql); err != nil {
			return fmt.Errorf("postgres store: migrate %s: %w", d.name, err)
		}
	}
	return nil
}
