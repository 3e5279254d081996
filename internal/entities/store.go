// Package entities is the access layer for the live lexicon tables (verbs,
// frames). The commit engine is its only writer; everything runs against the
// caller's transaction so a changeset commit stays atomic.
package entities

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lexistage/internal/lexvalue"
)

var (
	// ErrNotFound marks an unknown or soft-deleted entity id.
	ErrNotFound = errors.New("entity not found")

	// ErrUnknownType marks an entity type with no registered table.
	ErrUnknownType = errors.New("unknown entity type")
)

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Snapshot is an entity's editable fields plus its version counter.
type Snapshot struct {
	ID      int64
	Version int64
	Fields  lexvalue.Value // map of editable fields
}

// Store reads and writes live entities on behalf of the commit engine.
type Store interface {
	// Get returns the current snapshot of a live entity.
	Get(ctx context.Context, q Querier, entityType string, id int64) (*Snapshot, error)

	// ApplyFields merges approved field values into the entity and bumps its
	// version counter, returning the new version.
	ApplyFields(ctx context.Context, q Querier, entityType string, id int64, fields map[string]lexvalue.Value) (int64, error)

	// Create materializes a new entity from a full field snapshot and returns
	// its id.
	Create(ctx context.Context, q Querier, entityType string, fields lexvalue.Value) (int64, error)

	// Delete soft-deletes the entity.
	Delete(ctx context.Context, q Querier, entityType string, id int64) error
}
