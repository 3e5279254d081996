package changeset

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lexistage/internal/lexvalue"
)

func (s *Store) getFieldChangeTx(ctx context.Context, tx *sql.Tx, id int64, forUpdate bool) (*FieldChange, error) {
	query := `SELECT` + fieldChangeColumns + ` FROM field_changes WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	fc, err := scanFieldChange(tx.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: field change %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read field change %d: %w", id, err)
	}
	return fc, nil
}

func (s *Store) writeFieldStatusTx(ctx context.Context, tx *sql.Tx, fc *FieldChange) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE field_changes
		SET status = $2,
		    approved_by = $3, approved_at = $4,
		    rejected_by = $5, rejected_at = $6
		WHERE id = $1
	`, fc.ID, fc.Status, fc.ApprovedBy, fc.ApprovedAt, fc.RejectedBy, fc.RejectedAt)
	if err != nil {
		return fmt.Errorf("failed to write status of field change %d: %w", fc.ID, err)
	}
	return nil
}

// UpdateFieldChangeStatus moves one field change between pending, approved
// and rejected, recording the acting reviewer. Rejecting the last field
// change still carrying reviewable work cascades into discarding the owning
// changeset, signaled through ChangesetDiscarded.
func (s *Store) UpdateFieldChangeStatus(ctx context.Context, fieldChangeID int64, status FieldStatus, actor string) (*StatusResult, error) {
	if actor == "" {
		return nil, fmt.Errorf("%w: actor is required", ErrValidation)
	}

	var result StatusResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		fc, err := s.getFieldChangeTx(ctx, tx, fieldChangeID, true)
		if err != nil {
			return err
		}
		cs, err := s.getChangesetTx(ctx, tx, fc.ChangesetID, true)
		if err != nil {
			return err
		}
		if cs.Terminal() {
			return fmt.Errorf("%w: changeset %d", ErrTerminal, cs.ID)
		}

		updated, err := TransitionFieldStatus(*fc, status, actor, time.Now().UTC())
		if err != nil {
			return err
		}
		if err := s.writeFieldStatusTx(ctx, tx, &updated); err != nil {
			return err
		}
		result.FieldChange = updated

		if updated.Status == FieldRejected {
			live, err := s.countLiveFieldChangesTx(ctx, tx, cs.ID)
			if err != nil {
				return err
			}
			for _, ev := range CascadeAfterRejection(live) {
				if ev == EventDiscardChangeset {
					if err := s.discardTx(ctx, tx, cs.ID, &actor); err != nil {
						return err
					}
					result.ChangesetDiscarded = true
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ApproveAllFieldChanges approves every pending field change in the
// changeset and returns the count affected.
func (s *Store) ApproveAllFieldChanges(ctx context.Context, changesetID int64, actor string) (int, error) {
	if actor == "" {
		return 0, fmt.Errorf("%w: actor is required", ErrValidation)
	}

	var count int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cs, err := s.getChangesetTx(ctx, tx, changesetID, true)
		if err != nil {
			return err
		}
		if cs.Terminal() {
			return fmt.Errorf("%w: changeset %d", ErrTerminal, changesetID)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE field_changes
			SET status = 'approved', approved_by = $2, approved_at = NOW(),
			    rejected_by = NULL, rejected_at = NULL
			WHERE changeset_id = $1 AND status = 'pending'
		`, changesetID, actor)
		if err != nil {
			return fmt.Errorf("failed to approve field changes of changeset %d: %w", changesetID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to count approved field changes: %w", err)
		}
		count = int(affected)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// RejectAllFieldChanges rejects every field change still carrying reviewable
// work. Nothing pending or approved can remain afterwards, so the changeset
// is always discarded.
func (s *Store) RejectAllFieldChanges(ctx context.Context, changesetID int64, actor string) (*RejectAllResult, error) {
	if actor == "" {
		return nil, fmt.Errorf("%w: actor is required", ErrValidation)
	}

	var result RejectAllResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cs, err := s.getChangesetTx(ctx, tx, changesetID, true)
		if err != nil {
			return err
		}
		if cs.Terminal() {
			return fmt.Errorf("%w: changeset %d", ErrTerminal, changesetID)
		}

		res, err := tx.ExecContext(ctx, `
			UPDATE field_changes
			SET status = 'rejected', rejected_by = $2, rejected_at = NOW(),
			    approved_by = NULL, approved_at = NULL
			WHERE changeset_id = $1 AND status IN ('pending', 'approved')
		`, changesetID, actor)
		if err != nil {
			return fmt.Errorf("failed to reject field changes of changeset %d: %w", changesetID, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to count rejected field changes: %w", err)
		}
		result.Count = int(affected)

		if err := s.discardTx(ctx, tx, changesetID, &actor); err != nil {
			return err
		}
		result.ChangesetDiscarded = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// UpsertFieldChange is the incremental-edit and suggestion-intake entry
// point. A proposal whose new value equals the true old value deletes any
// staged row for the field (reverting it), discarding the changeset if that
// empties it; otherwise the field change is created or its new value
// overwritten with status reset to pending. Repeating the same call never
// creates a duplicate.
func (s *Store) UpsertFieldChange(ctx context.Context, changesetID int64, fieldName string, oldValue, newValue lexvalue.Value) (*UpsertResult, error) {
	if fieldName == "" {
		return nil, fmt.Errorf("%w: field name is required", ErrValidation)
	}

	var result UpsertResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cs, err := s.getChangesetTx(ctx, tx, changesetID, true)
		if err != nil {
			return err
		}
		if cs.Terminal() {
			return fmt.Errorf("%w: changeset %d", ErrTerminal, changesetID)
		}

		var existing *FieldChange
		fc, err := scanFieldChange(tx.QueryRowContext(ctx,
			`SELECT`+fieldChangeColumns+` FROM field_changes WHERE changeset_id = $1 AND field_name = $2 FOR UPDATE`,
			changesetID, fieldName))
		switch {
		case err == sql.ErrNoRows:
			// no row yet
		case err != nil:
			return fmt.Errorf("failed to look up field change %q: %w", fieldName, err)
		default:
			existing = fc
		}

		// The staged row's captured old value stays authoritative over
		// whatever the caller re-supplied.
		effectiveOld := oldValue
		if existing != nil {
			effectiveOld = existing.OldValue
		}

		if lexvalue.Equal(effectiveOld, newValue) {
			if existing == nil {
				result.Action = UpsertSkipped
				return nil
			}
			if _, err := tx.ExecContext(ctx, `DELETE FROM field_changes WHERE id = $1`, existing.ID); err != nil {
				return fmt.Errorf("failed to delete field change %d: %w", existing.ID, err)
			}
			result.Action = UpsertDeleted
			remaining, err := s.countFieldChangesTx(ctx, tx, changesetID)
			if err != nil {
				return err
			}
			if len(CascadeAfterRemoval(remaining)) > 0 {
				if err := s.discardTx(ctx, tx, changesetID, nil); err != nil {
					return err
				}
				result.ChangesetDiscarded = true
				return nil
			}
			return s.refreshAfterSnapshotTx(ctx, tx, cs)
		}

		if existing != nil {
			if _, err := tx.ExecContext(ctx, `
				UPDATE field_changes
				SET new_value = $2, status = 'pending',
				    approved_by = NULL, approved_at = NULL,
				    rejected_by = NULL, rejected_at = NULL
				WHERE id = $1
			`, existing.ID, newValue); err != nil {
				return fmt.Errorf("failed to update field change %d: %w", existing.ID, err)
			}
			result.Action = UpsertUpdated
			result.FieldChangeID = &existing.ID
			return s.refreshAfterSnapshotTx(ctx, tx, cs)
		}

		var newID int64
		err = tx.QueryRowContext(ctx, `
			INSERT INTO field_changes (changeset_id, field_name, old_value, new_value, status, created_at)
			VALUES ($1, $2, $3, $4, 'pending', NOW())
			RETURNING id
		`, changesetID, fieldName, oldValue, newValue).Scan(&newID)
		if err != nil {
			return fmt.Errorf("failed to insert field change for %q: %w", fieldName, err)
		}
		result.Action = UpsertCreated
		result.FieldChangeID = &newID
		return s.refreshAfterSnapshotTx(ctx, tx, cs)
	})
	if err != nil {
		return nil, err
	}
	log.Debug().Int64("changeset_id", changesetID).Str("field", fieldName).
		Str("action", string(result.Action)).Bool("discarded", result.ChangesetDiscarded).
		Msg("Upserted field change")
	return &result, nil
}

// GetPendingInfoForEntity returns the newest pending changeset for an entity
// plus a per-field overlay, or nil when nothing is staged. Read views apply
// the overlay in memory so viewers see pending edits without storage
// changing.
func (s *Store) GetPendingInfoForEntity(ctx context.Context, entityType string, entityID int64) (*PendingInfo, error) {
	cs, err := s.findPendingChangesetTx(ctx, s.db, entityType, entityID, false)
	if err != nil {
		return nil, err
	}
	if cs == nil {
		return nil, nil
	}
	fcs, err := s.listFieldChangesTx(ctx, s.db, cs.ID)
	if err != nil {
		return nil, err
	}
	cs.FieldChanges = fcs

	info := &PendingInfo{
		Changeset: *cs,
		Fields:    make(map[string]PendingFieldInfo, len(fcs)),
	}
	for _, fc := range fcs {
		info.Fields[fc.FieldName] = PendingFieldInfo{
			Status:   fc.Status,
			OldValue: fc.OldValue,
			NewValue: fc.NewValue,
		}
	}
	return info, nil
}
