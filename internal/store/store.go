// Package store wraps the single writable SQLite connection and exposes
// transactional primitives. It holds no object-graph cache; every read goes
// through the same connection the mutation operations use.
package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/leonletto/agentlip/internal/schema"
)

// Store owns the one writable connection to the workspace database.
type Store struct {
	db *sql.DB
}

// Open opens the database at path, initializes the schema if needed, and
// returns a ready Store.
func Open(path string) (*Store, error) {
	db, err := schema.OpenDB(path)
	if err != nil {
		return nil, err
	}
	if err := schema.InitDB(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db}, nil
}

// DB returns the underlying *sql.DB for packages (eventlog, mutate) that
// need to build queries this package doesn't wrap directly.
func (s *Store) DB() *sql.DB { return s.db }

// WithTx runs fn inside a transaction, committing on success and rolling
// back on error or panic. Every mutation operation in internal/mutate uses
// this so the row change and its event append are atomic (invariant 1).
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Meta returns the workspace_meta row.
func (s *Store) Meta() (schema.Meta, error) {
	return schema.ReadMeta(s.db)
}

// Checkpoint runs a truncating WAL checkpoint. Called on graceful shutdown.
func (s *Store) Checkpoint() error {
	return schema.Checkpoint(s.db)
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}
