package changeset

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lexistage/internal/entities"
	"github.com/lexistage/internal/lexvalue"
)

// CommitError records one skipped field during a commit. Conflicts are data,
// not error returns: the caller gets enough detail to re-open the changeset
// and re-diff.
type CommitError struct {
	ChangesetID int64  `json:"changeset_id"`
	EntityID    *int64 `json:"entity_id"`
	FieldName   string `json:"field_name"`
	Reason      string `json:"reason"`
}

const reasonConflict = "conflict"

// CommitResult is the outcome of committing one changeset or a batch.
// Success is false only when nothing could be applied and the changeset(s)
// stayed pending; partial application is a successful outcome with Errors
// populated.
type CommitResult struct {
	Success        bool          `json:"success"`
	CommittedCount int           `json:"committed_count"`
	SkippedCount   int           `json:"skipped_count"`
	Errors         []CommitError `json:"errors"`
}

func (r *CommitResult) merge(other *CommitResult) {
	r.CommittedCount += other.CommittedCount
	r.SkippedCount += other.SkippedCount
	r.Errors = append(r.Errors, other.Errors...)
	if !other.Success {
		r.Success = false
	}
}

// CommitChangeset applies the approved field changes of a pending changeset
// to the live entity inside one transaction.
//
// The captured entity version is the fast path: when it still matches, every
// approved field applies. On a version mismatch each approved field is
// compared against its captured old value; only fields the concurrent edit
// actually touched conflict and are skipped. If every approved field
// conflicts the changeset stays pending so it can be retried after a
// re-diff; otherwise it is marked committed. A changeset with no approved
// fields commits as a no-op when invoked directly.
func (s *Store) CommitChangeset(ctx context.Context, id int64, committedBy string) (*CommitResult, error) {
	if committedBy == "" {
		return nil, fmt.Errorf("%w: actor is required", ErrValidation)
	}

	result := &CommitResult{Success: true}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cs, err := s.getChangesetTx(ctx, tx, id, true)
		if err != nil {
			return err
		}
		// The status write is the mutual-exclusion point: a concurrent commit
		// of the same changeset finds it non-pending here and fails fast.
		if cs.Status != StatusPending {
			return fmt.Errorf("%w: changeset %d is %s", ErrTerminal, id, cs.Status)
		}

		fcs, err := s.listFieldChangesTx(ctx, tx, id)
		if err != nil {
			return err
		}
		var approved []FieldChange
		for _, fc := range fcs {
			if fc.Status == FieldApproved {
				approved = append(approved, fc)
			}
		}

		switch cs.Operation {
		case OpCreate:
			return s.commitCreateTx(ctx, tx, cs, approved, committedBy, result)
		case OpDelete:
			return s.commitDeleteTx(ctx, tx, cs, committedBy, result)
		default:
			return s.commitUpdateTx(ctx, tx, cs, approved, committedBy, result)
		}
	})
	if err != nil {
		return nil, err
	}

	log.Info().Int64("changeset_id", id).Str("committed_by", committedBy).
		Bool("success", result.Success).
		Int("committed", result.CommittedCount).Int("skipped", result.SkippedCount).
		Msg("Commit finished")
	return result, nil
}

func (s *Store) commitUpdateTx(ctx context.Context, tx *sql.Tx, cs *Changeset, approved []FieldChange, committedBy string, result *CommitResult) error {
	if cs.EntityID == nil {
		return fmt.Errorf("%w: update changeset %d has no entity id", ErrValidation, cs.ID)
	}

	if len(approved) == 0 {
		// Nothing to apply; terminality was explicitly requested.
		return s.markCommittedTx(ctx, tx, cs.ID, committedBy)
	}

	snap, err := s.entities.Get(ctx, tx, cs.EntityType, *cs.EntityID)
	if err != nil {
		return mapEntityErr(err)
	}

	versionMatch := cs.EntityVersion == nil || snap.Version == *cs.EntityVersion

	apply := make(map[string]lexvalue.Value)
	for _, fc := range approved {
		if !versionMatch && fieldConflicts(snap, fc) {
			result.SkippedCount++
			result.Errors = append(result.Errors, CommitError{
				ChangesetID: cs.ID,
				EntityID:    cs.EntityID,
				FieldName:   fc.FieldName,
				Reason:      reasonConflict,
			})
			continue
		}
		if RoleSubChange(fc.FieldName) {
			base, ok := apply[RolesField]
			if !ok {
				live, _ := snap.Fields.MapGet(RolesField)
				base = live
			}
			apply[RolesField] = ApplyFrameRolesSubChanges(base, []SubChange{{FieldName: fc.FieldName, NewValue: fc.NewValue}})
		} else {
			apply[fc.FieldName] = fc.NewValue
		}
		result.CommittedCount++
	}

	if result.CommittedCount == 0 {
		// Every approved field conflicted; leave the changeset pending for a
		// re-diff and retry.
		result.Success = false
		return nil
	}

	if _, err := s.entities.ApplyFields(ctx, tx, cs.EntityType, *cs.EntityID, apply); err != nil {
		return mapEntityErr(err)
	}
	return s.markCommittedTx(ctx, tx, cs.ID, committedBy)
}

// fieldConflicts reports whether the live entity no longer carries the value
// this field change was diffed against.
func fieldConflicts(snap *entities.Snapshot, fc FieldChange) bool {
	if RoleSubChange(fc.FieldName) {
		// Resolve the addressed role attribute on the live list and compare
		// that scalar; unrelated edits to sibling roles don't conflict.
		key, attr, ok := parseRoleAddress(fc.FieldName)
		if !ok {
			return true
		}
		live, _ := snap.Fields.MapGet(RolesField)
		for _, role := range live.ListVal() {
			if role.Kind() == lexvalue.KindMap && roleMatches(role, key) {
				liveAttr, _ := role.MapGet(attr)
				return !lexvalue.Equal(liveAttr, fc.OldValue)
			}
		}
		// The role vanished from the live list.
		return true
	}
	live, _ := snap.Fields.MapGet(fc.FieldName)
	return !lexvalue.Equal(live, fc.OldValue)
}

func (s *Store) commitCreateTx(ctx context.Context, tx *sql.Tx, cs *Changeset, approved []FieldChange, committedBy string, result *CommitResult) error {
	// Materialize from the proposed record, overridden by approved edits made
	// after staging. Rejected overrides fall back to the snapshot value.
	fields := make(map[string]lexvalue.Value, len(cs.AfterSnapshot.MapVal()))
	for k, v := range cs.AfterSnapshot.MapVal() {
		fields[k] = v
	}
	for _, fc := range approved {
		fields[fc.FieldName] = fc.NewValue
		result.CommittedCount++
	}

	id, err := s.entities.Create(ctx, tx, cs.EntityType, lexvalue.Map(fields))
	if err != nil {
		return mapEntityErr(err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE changesets SET entity_id = $2 WHERE id = $1`, cs.ID, id); err != nil {
		return fmt.Errorf("failed to bind entity id to changeset %d: %w", cs.ID, err)
	}
	return s.markCommittedTx(ctx, tx, cs.ID, committedBy)
}

func (s *Store) commitDeleteTx(ctx context.Context, tx *sql.Tx, cs *Changeset, committedBy string, result *CommitResult) error {
	if cs.EntityID == nil {
		return fmt.Errorf("%w: delete changeset %d has no entity id", ErrValidation, cs.ID)
	}

	snap, err := s.entities.Get(ctx, tx, cs.EntityType, *cs.EntityID)
	if err != nil {
		return mapEntityErr(err)
	}
	if cs.EntityVersion != nil && snap.Version != *cs.EntityVersion {
		result.Success = false
		result.SkippedCount++
		result.Errors = append(result.Errors, CommitError{
			ChangesetID: cs.ID,
			EntityID:    cs.EntityID,
			Reason:      reasonConflict,
		})
		return nil
	}

	if err := s.entities.Delete(ctx, tx, cs.EntityType, *cs.EntityID); err != nil {
		return mapEntityErr(err)
	}
	result.CommittedCount++
	return s.markCommittedTx(ctx, tx, cs.ID, committedBy)
}

func (s *Store) markCommittedTx(ctx context.Context, tx *sql.Tx, changesetID int64, committedBy string) error {
	now := time.Now().UTC()
	_, err := tx.ExecContext(ctx, `
		UPDATE changesets
		SET status = 'committed', reviewed_by = $2, reviewed_at = $3, committed_at = $3
		WHERE id = $1
	`, changesetID, committedBy, now)
	if err != nil {
		return fmt.Errorf("failed to mark changeset %d committed: %w", changesetID, err)
	}
	return nil
}

// CommitByLlmJob commits every pending changeset produced by a job. Each
// changeset commits in its own transaction so one conflict cannot abort the
// rest; counters aggregate across the batch. Changesets with nothing
// approved are left pending rather than force-committed.
func (s *Store) CommitByLlmJob(ctx context.Context, jobID, committedBy string) (*CommitResult, error) {
	return s.commitGroup(ctx, `llm_job_id = $1`, jobID, committedBy)
}

// CommitByUser is the manual-provenance analog of CommitByLlmJob.
func (s *Store) CommitByUser(ctx context.Context, userID, committedBy string) (*CommitResult, error) {
	return s.commitGroup(ctx, `created_by = $1`, userID, committedBy)
}

func (s *Store) commitGroup(ctx context.Context, cond, arg, committedBy string) (*CommitResult, error) {
	if committedBy == "" {
		return nil, fmt.Errorf("%w: actor is required", ErrValidation)
	}

	ids, err := s.pendingIDs(ctx, cond, arg)
	if err != nil {
		return nil, err
	}

	aggregate := &CommitResult{Success: true}
	for _, id := range ids {
		// Skip changesets with nothing approved: the batch caller never
		// pointed at them individually.
		hasApproved, err := s.hasApprovedFieldChanges(ctx, id)
		if err != nil {
			return nil, err
		}
		if !hasApproved {
			continue
		}

		one, err := s.CommitChangeset(ctx, id, committedBy)
		if err != nil {
			log.Error().Err(err).Int64("changeset_id", id).Msg("Failed to commit changeset in batch")
			aggregate.Success = false
			aggregate.Errors = append(aggregate.Errors, CommitError{
				ChangesetID: id,
				Reason:      err.Error(),
			})
			continue
		}
		aggregate.merge(one)
	}
	return aggregate, nil
}

func (s *Store) hasApprovedFieldChanges(ctx context.Context, changesetID int64) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM field_changes WHERE changeset_id = $1 AND status = 'approved'`,
		changesetID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to count approved field changes: %w", err)
	}
	if n > 0 {
		return true, nil
	}
	// Create and delete changesets carry their proposal in the snapshots, not
	// in field changes.
	var op Operation
	err = s.db.QueryRowContext(ctx, `SELECT operation FROM changesets WHERE id = $1`, changesetID).Scan(&op)
	if err != nil {
		return false, fmt.Errorf("failed to read changeset operation: %w", err)
	}
	return op == OpCreate || op == OpDelete, nil
}
