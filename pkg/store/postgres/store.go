// Package postgres provides the PostgreSQL-backed implementation of
// [store.Store]. All sub-stores share a single [pgxpool.Pool]; the pgvector
// extension backs phrase similarity search and is installed by [Migrate] via
// CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	st, err := postgres.New(ctx, dsn, 1536)
//	if err != nil { … }
//	defer st.Close()
//
//	id, _ := st.Messages().Add(ctx, msg)
//	matches, _ := st.Phrases().Nearest(ctx, userID, embedding, 5)
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/emberassist/ember/pkg/store"
)

// Compile-time interface checks.
var (
	_ store.Store           = (*Store)(nil)
	_ store.MessageStore    = (*MessageStoreImpl)(nil)
	_ store.CorrectionStore = (*CorrectionStoreImpl)(nil)
	_ store.PhraseStore     = (*PhraseStoreImpl)(nil)
	_ store.ContactStore    = (*ContactStoreImpl)(nil)
	_ store.SettingsStore   = (*SettingsStoreImpl)(nil)
)

// Store is the central PostgreSQL-backed store. It holds a single
// [pgxpool.Pool] and hands out per-concern sub-stores. All operations are
// safe for concurrent use.
type Store struct {
	pool        *pgxpool.Pool
	messages    *MessageStoreImpl
	corrections *CorrectionStoreImpl
	phrases     *PhraseStoreImpl
	contacts    *ContactStoreImpl
	settings    *SettingsStoreImpl
}

// New creates a new Store, establishes a connection pool to the PostgreSQL
// database at dsn, registers pgvector types on every connection, and runs
// [Migrate] to ensure all required tables and extensions exist.
//
// embeddingDimensions must match the output dimension of the embedding model
// used to produce phrase embeddings (e.g., 1536 for text-embedding-3-small).
// Changing this value after the first migration requires a manual schema
// change.
func New(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{
		pool:        pool,
		messages:    &MessageStoreImpl{pool: pool},
		corrections: &CorrectionStoreImpl{pool: pool},
		phrases:     &PhraseStoreImpl{pool: pool},
		contacts:    &ContactStoreImpl{pool: pool},
		settings:    &SettingsStoreImpl{pool: pool},
	}, nil
}

func (s *Store) Messages() store.MessageStore       { return s.messages }
func (s *Store) Corrections() store.CorrectionStore { return s.corrections }
func (s *Store) Phrases() store.PhraseStore         { return s.phrases }
func (s *Store) Contacts() store.ContactStore       { return s.contacts }
func (s *Store) Settings() store.SettingsStore      { return s.settings }

// Pool exposes the underlying pool for health checks.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close releases all connections held by the underlying connection pool.
// It should be called when the Store is no longer needed, typically via defer.
func (s *Store) Close() {
	s.pool.Close()
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation
// (SQLSTATE 23505), which the sub-stores translate to store.ErrDuplicateID.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
