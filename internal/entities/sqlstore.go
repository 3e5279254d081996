package entities

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lexistage/internal/lexvalue"
)

// entityTables maps the entity types accepted by the changeset API onto
// their backing tables. Every table shares the same layout: id, data jsonb,
// entity_version, timestamps, deleted_at.
var entityTables = map[string]string{
	"verb":  "verbs",
	"frame": "frames",
}

// SQLStore is the Postgres implementation of Store.
type SQLStore struct{}

// NewSQLStore creates the SQL-backed entity store.
func NewSQLStore() *SQLStore {
	return &SQLStore{}
}

func tableFor(entityType string) (string, error) {
	table, ok := entityTables[entityType]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownType, entityType)
	}
	return table, nil
}

// Get returns the current snapshot of a live entity.
func (s *SQLStore) Get(ctx context.Context, q Querier, entityType string, id int64) (*Snapshot, error) {
	table, err := tableFor(entityType)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, data, entity_version
		FROM %s
		WHERE id = $1 AND deleted_at IS NULL
	`, table)

	snap := &Snapshot{}
	err = q.QueryRowContext(ctx, query, id).Scan(&snap.ID, &snap.Fields, &snap.Version)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s %d", ErrNotFound, entityType, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s %d: %w", entityType, id, err)
	}
	return snap, nil
}

// ApplyFields merges approved field values into the entity document and bumps
// entity_version.
func (s *SQLStore) ApplyFields(ctx context.Context, q Querier, entityType string, id int64, fields map[string]lexvalue.Value) (int64, error) {
	table, err := tableFor(entityType)
	if err != nil {
		return 0, err
	}

	patch, err := json.Marshal(lexvalue.Map(fields))
	if err != nil {
		return 0, fmt.Errorf("failed to serialize field patch: %w", err)
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET data = data || $2::jsonb,
		    entity_version = entity_version + 1,
		    updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
		RETURNING entity_version
	`, table)

	var version int64
	err = q.QueryRowContext(ctx, query, id, patch).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("%w: %s %d", ErrNotFound, entityType, id)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to update %s %d: %w", entityType, id, err)
	}
	return version, nil
}

// Create materializes a new entity row from a full field snapshot.
func (s *SQLStore) Create(ctx context.Context, q Querier, entityType string, fields lexvalue.Value) (int64, error) {
	table, err := tableFor(entityType)
	if err != nil {
		return 0, err
	}

	doc, err := json.Marshal(fields)
	if err != nil {
		return 0, fmt.Errorf("failed to serialize entity snapshot: %w", err)
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (data, entity_version, created_at, updated_at)
		VALUES ($1::jsonb, 1, NOW(), NOW())
		RETURNING id
	`, table)

	var id int64
	if err := q.QueryRowContext(ctx, query, doc).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", entityType, err)
	}
	return id, nil
}

// Delete soft-deletes the entity; a second delete of the same id is a
// not-found.
func (s *SQLStore) Delete(ctx context.Context, q Querier, entityType string, id int64) error {
	table, err := tableFor(entityType)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET deleted_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL
	`, table)

	res, err := q.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete %s %d: %w", entityType, id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete of %s %d: %w", entityType, id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s %d", ErrNotFound, entityType, id)
	}
	return nil
}
