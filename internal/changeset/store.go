package changeset

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/lexistage/internal/entities"
	"github.com/lexistage/internal/lexvalue"
)

// Store owns the changeset and field-change tables and the staging surface.
// All multi-row mutations run inside a single transaction.
type Store struct {
	db       *sql.DB
	entities entities.Store
}

// NewStore creates a changeset store over an open database handle.
func NewStore(db *sql.DB, ents entities.Store) *Store {
	return &Store{db: db, entities: ents}
}

const changesetColumns = `
	id, entity_type, entity_id, operation, entity_version,
	before_snapshot, after_snapshot, status,
	created_by, llm_job_id, reviewed_by, reviewed_at, committed_at, created_at`

const fieldChangeColumns = `
	id, changeset_id, field_name, old_value, new_value, status,
	approved_by, approved_at, rejected_by, rejected_at, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChangeset(row rowScanner) (*Changeset, error) {
	cs := &Changeset{}
	err := row.Scan(
		&cs.ID, &cs.EntityType, &cs.EntityID, &cs.Operation, &cs.EntityVersion,
		&cs.BeforeSnapshot, &cs.AfterSnapshot, &cs.Status,
		&cs.CreatedBy, &cs.LLMJobID, &cs.ReviewedBy, &cs.ReviewedAt, &cs.CommittedAt, &cs.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return cs, nil
}

func scanFieldChange(row rowScanner) (*FieldChange, error) {
	fc := &FieldChange{}
	err := row.Scan(
		&fc.ID, &fc.ChangesetID, &fc.FieldName, &fc.OldValue, &fc.NewValue, &fc.Status,
		&fc.ApprovedBy, &fc.ApprovedAt, &fc.RejectedBy, &fc.RejectedAt, &fc.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return fc, nil
}

// withTx runs fn inside one transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			log.Error().Err(rbErr).Msg("Transaction rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) getChangesetTx(ctx context.Context, q entities.Querier, id int64, forUpdate bool) (*Changeset, error) {
	query := `SELECT` + changesetColumns + ` FROM changesets WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	cs, err := scanChangeset(q.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: changeset %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read changeset %d: %w", id, err)
	}
	return cs, nil
}

type txQuerier interface {
	entities.Querier
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) listFieldChangesTx(ctx context.Context, q txQuerier, changesetID int64) ([]FieldChange, error) {
	query := `SELECT` + fieldChangeColumns + ` FROM field_changes WHERE changeset_id = $1 ORDER BY id`
	rows, err := q.QueryContext(ctx, query, changesetID)
	if err != nil {
		return nil, fmt.Errorf("failed to list field changes for changeset %d: %w", changesetID, err)
	}
	defer rows.Close()

	var out []FieldChange
	for rows.Next() {
		fc, err := scanFieldChange(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan field change: %w", err)
		}
		out = append(out, *fc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate field changes: %w", err)
	}
	return out, nil
}

// GetChangeset returns a changeset with its field changes.
func (s *Store) GetChangeset(ctx context.Context, id int64) (*Changeset, error) {
	cs, err := s.getChangesetTx(ctx, s.db, id, false)
	if err != nil {
		return nil, err
	}
	cs.FieldChanges, err = s.listFieldChangesTx(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return cs, nil
}

// findPendingChangesetTx returns the newest pending changeset for an entity,
// or nil.
func (s *Store) findPendingChangesetTx(ctx context.Context, q entities.Querier, entityType string, entityID int64, forUpdate bool) (*Changeset, error) {
	query := `SELECT` + changesetColumns + `
		FROM changesets
		WHERE entity_type = $1 AND entity_id = $2 AND status = 'pending'
		ORDER BY id DESC
		LIMIT 1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	cs, err := scanChangeset(q.QueryRowContext(ctx, query, entityType, entityID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pending changeset for %s %d: %w", entityType, entityID, err)
	}
	return cs, nil
}

// findPendingChangesetByProvTx is the provenance-scoped variant: it only
// returns a pending changeset belonging to the same author or job, so one
// producer's edits never land in another's batch.
func (s *Store) findPendingChangesetByProvTx(ctx context.Context, q entities.Querier, entityType string, entityID int64, prov Provenance, forUpdate bool) (*Changeset, error) {
	cond := `llm_job_id = $3`
	arg := prov.LLMJobID
	if prov.CreatedBy != "" {
		cond = `created_by = $3`
		arg = prov.CreatedBy
	}
	query := `SELECT` + changesetColumns + `
		FROM changesets
		WHERE entity_type = $1 AND entity_id = $2 AND status = 'pending' AND ` + cond + `
		ORDER BY id DESC
		LIMIT 1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	cs, err := scanChangeset(q.QueryRowContext(ctx, query, entityType, entityID, arg))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pending changeset for %s %d: %w", entityType, entityID, err)
	}
	return cs, nil
}

func (s *Store) insertChangesetTx(ctx context.Context, q entities.Querier, cs *Changeset) error {
	query := `
		INSERT INTO changesets (
			entity_type, entity_id, operation, entity_version,
			before_snapshot, after_snapshot, status, created_by, llm_job_id, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		RETURNING id, created_at
	`
	err := q.QueryRowContext(ctx, query,
		cs.EntityType, cs.EntityID, cs.Operation, cs.EntityVersion,
		cs.BeforeSnapshot, cs.AfterSnapshot, cs.Status, cs.CreatedBy, cs.LLMJobID,
	).Scan(&cs.ID, &cs.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert changeset: %w", err)
	}
	return nil
}

func provenanceColumns(prov Provenance) (createdBy, llmJobID *string) {
	if prov.CreatedBy != "" {
		createdBy = &prov.CreatedBy
	}
	if prov.LLMJobID != "" {
		llmJobID = &prov.LLMJobID
	}
	return createdBy, llmJobID
}

// mergeAfterSnapshot overlays live (non-rejected) field-change values onto the
// before snapshot to keep after_snapshot equal to "the entity as proposed".
func mergeAfterSnapshot(before lexvalue.Value, fcs []FieldChange) lexvalue.Value {
	merged := make(map[string]lexvalue.Value, len(before.MapVal())+len(fcs))
	for k, v := range before.MapVal() {
		merged[k] = v
	}
	for _, fc := range fcs {
		if fc.Status == FieldRejected {
			continue
		}
		if RoleSubChange(fc.FieldName) {
			base, ok := merged[RolesField]
			if !ok {
				continue
			}
			merged[RolesField] = ApplyFrameRolesSubChanges(base, []SubChange{{FieldName: fc.FieldName, NewValue: fc.NewValue}})
			continue
		}
		merged[fc.FieldName] = fc.NewValue
	}
	return lexvalue.Map(merged)
}

func (s *Store) refreshAfterSnapshotTx(ctx context.Context, tx *sql.Tx, cs *Changeset) error {
	if cs.Operation != OpUpdate {
		return nil
	}
	fcs, err := s.listFieldChangesTx(ctx, tx, cs.ID)
	if err != nil {
		return err
	}
	after := mergeAfterSnapshot(cs.BeforeSnapshot, fcs)
	_, err = tx.ExecContext(ctx, `UPDATE changesets SET after_snapshot = $2 WHERE id = $1`, cs.ID, after)
	if err != nil {
		return fmt.Errorf("failed to refresh after snapshot for changeset %d: %w", cs.ID, err)
	}
	return nil
}

// discardTx marks the changeset discarded and removes its field-change rows.
func (s *Store) discardTx(ctx context.Context, tx *sql.Tx, changesetID int64, reviewedBy *string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM field_changes WHERE changeset_id = $1`, changesetID); err != nil {
		return fmt.Errorf("failed to remove field changes for changeset %d: %w", changesetID, err)
	}
	_, err := tx.ExecContext(ctx, `
		UPDATE changesets
		SET status = 'discarded', reviewed_by = COALESCE($2, reviewed_by), reviewed_at = NOW()
		WHERE id = $1
	`, changesetID, reviewedBy)
	if err != nil {
		return fmt.Errorf("failed to discard changeset %d: %w", changesetID, err)
	}
	return nil
}

// applyDiffTx executes one staging plan entry.
func (s *Store) applyDiffTx(ctx context.Context, tx *sql.Tx, changesetID int64, diff FieldDiff, result *StagingResult) error {
	switch diff.Action {
	case DiffStage:
		if diff.Existing != nil {
			_, err := tx.ExecContext(ctx, `
				UPDATE field_changes
				SET new_value = $2, status = 'pending',
				    approved_by = NULL, approved_at = NULL,
				    rejected_by = NULL, rejected_at = NULL
				WHERE id = $1
			`, diff.Existing.ID, diff.NewValue)
			if err != nil {
				return fmt.Errorf("failed to update field change %d: %w", diff.Existing.ID, err)
			}
		} else {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO field_changes (changeset_id, field_name, old_value, new_value, status, created_at)
				VALUES ($1, $2, $3, $4, 'pending', NOW())
			`, changesetID, diff.FieldName, diff.OldValue, diff.NewValue)
			if err != nil {
				return fmt.Errorf("failed to insert field change for %q: %w", diff.FieldName, err)
			}
		}
		result.StagedFields++
	case DiffRemove:
		if _, err := tx.ExecContext(ctx, `DELETE FROM field_changes WHERE id = $1`, diff.Existing.ID); err != nil {
			return fmt.Errorf("failed to delete field change %d: %w", diff.Existing.ID, err)
		}
		result.RemovedFields++
	case DiffSkip:
		result.SkippedFields++
	}
	return nil
}

// StageUpdate diffs proposed field values against the live entity and
// creates or updates a pending update changeset. No-op proposals are skipped;
// proposals returning a staged field to its original value remove the staged
// row, discarding the changeset if that empties it.
func (s *Store) StageUpdate(ctx context.Context, entityType string, entityID int64, fields map[string]lexvalue.Value, prov Provenance) (*StagingResult, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no fields proposed", ErrValidation)
	}
	if !prov.Valid() {
		return nil, fmt.Errorf("%w: exactly one of created_by and llm_job_id must be set", ErrValidation)
	}

	var result StagingResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		snap, err := s.entities.Get(ctx, tx, entityType, entityID)
		if err != nil {
			return mapEntityErr(err)
		}

		cs, err := s.findPendingChangesetTx(ctx, tx, entityType, entityID, true)
		if err != nil {
			return err
		}

		var existing []FieldChange
		if cs != nil {
			existing, err = s.listFieldChangesTx(ctx, tx, cs.ID)
			if err != nil {
				return err
			}
		}

		diffs := ComputeFieldDiffs(snapshotForDiff(cs, snap), existing, fields)

		anyEffect := false
		for _, d := range diffs {
			if d.Action != DiffSkip {
				anyEffect = true
				break
			}
		}
		if cs == nil {
			if !anyEffect {
				// Nothing differs from the live entity; stage nothing.
				for range diffs {
					result.SkippedFields++
				}
				return nil
			}
			createdBy, llmJobID := provenanceColumns(prov)
			cs = &Changeset{
				EntityType:     entityType,
				EntityID:       &entityID,
				Operation:      OpUpdate,
				EntityVersion:  &snap.Version,
				BeforeSnapshot: snap.Fields,
				AfterSnapshot:  snap.Fields,
				Status:         StatusPending,
				CreatedBy:      createdBy,
				LLMJobID:       llmJobID,
			}
			if err := s.insertChangesetTx(ctx, tx, cs); err != nil {
				return err
			}
			result.Created = true
		}
		result.ChangesetID = cs.ID
		result.EntityVersion = cs.EntityVersion

		for _, d := range diffs {
			if err := s.applyDiffTx(ctx, tx, cs.ID, d, &result); err != nil {
				return err
			}
		}

		remaining, err := s.countFieldChangesTx(ctx, tx, cs.ID)
		if err != nil {
			return err
		}
		if len(CascadeAfterRemoval(remaining)) > 0 {
			if err := s.discardTx(ctx, tx, cs.ID, nil); err != nil {
				return err
			}
			result.ChangesetDiscarded = true
			return nil
		}
		return s.refreshAfterSnapshotTx(ctx, tx, cs)
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// snapshotForDiff picks the authoritative before-snapshot: the one the
// changeset captured when it was opened, else the live snapshot.
func snapshotForDiff(cs *Changeset, snap *entities.Snapshot) lexvalue.Value {
	if cs != nil {
		return cs.BeforeSnapshot
	}
	return snap.Fields
}

// StageCreate stages a brand-new entity: a pending create changeset whose
// after snapshot holds the full proposed record. The entity id stays null
// until commit materializes the row.
func (s *Store) StageCreate(ctx context.Context, entityType string, fields map[string]lexvalue.Value, prov Provenance) (*StagingResult, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("%w: no fields proposed", ErrValidation)
	}
	if !prov.Valid() {
		return nil, fmt.Errorf("%w: exactly one of created_by and llm_job_id must be set", ErrValidation)
	}

	var result StagingResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		createdBy, llmJobID := provenanceColumns(prov)
		cs := &Changeset{
			EntityType:     entityType,
			Operation:      OpCreate,
			BeforeSnapshot: lexvalue.Null(),
			AfterSnapshot:  lexvalue.Map(fields),
			Status:         StatusPending,
			CreatedBy:      createdBy,
			LLMJobID:       llmJobID,
		}
		if err := s.insertChangesetTx(ctx, tx, cs); err != nil {
			return err
		}
		result.ChangesetID = cs.ID
		result.Created = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// StageDelete stages removal of an entity: a pending delete changeset with a
// null after snapshot.
func (s *Store) StageDelete(ctx context.Context, entityType string, entityID int64, prov Provenance) (*StagingResult, error) {
	if !prov.Valid() {
		return nil, fmt.Errorf("%w: exactly one of created_by and llm_job_id must be set", ErrValidation)
	}

	var result StagingResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		snap, err := s.entities.Get(ctx, tx, entityType, entityID)
		if err != nil {
			return mapEntityErr(err)
		}
		createdBy, llmJobID := provenanceColumns(prov)
		cs := &Changeset{
			EntityType:     entityType,
			EntityID:       &entityID,
			Operation:      OpDelete,
			EntityVersion:  &snap.Version,
			BeforeSnapshot: snap.Fields,
			AfterSnapshot:  lexvalue.Null(),
			Status:         StatusPending,
			CreatedBy:      createdBy,
			LLMJobID:       llmJobID,
		}
		if err := s.insertChangesetTx(ctx, tx, cs); err != nil {
			return err
		}
		result.ChangesetID = cs.ID
		result.Created = true
		result.EntityVersion = cs.EntityVersion
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// StageRolesUpdate stages a frame's ordered role list (plus the optional
// role-grouping field) through the normal update path. New roles get a
// client-generated role_key before diffing so sub-field patches can address
// them stably.
func (s *Store) StageRolesUpdate(ctx context.Context, entityID int64, roles lexvalue.Value, roleGroups *lexvalue.Value, prov Provenance) (*StagingResult, error) {
	fields := map[string]lexvalue.Value{
		RolesField: AssignRoleKeys(roles),
	}
	if roleGroups != nil {
		fields[RoleGroupsField] = *roleGroups
	}
	return s.StageUpdate(ctx, "frame", entityID, fields, prov)
}

// ModerationResult reports which entities of a batch actually got a changeset.
type ModerationResult struct {
	StagedCount  int     `json:"staged_count"`
	ChangesetIDs []int64 `json:"changeset_ids"`
}

// StageModerationUpdates stages the same field update (flagged, forbidden,
// ...) across many entities, one changeset per entity. Entities that fail or
// where the update is a no-op simply don't contribute a changeset id; one bad
// entity never blocks the rest.
func (s *Store) StageModerationUpdates(ctx context.Context, entityType string, entityIDs []int64, updates map[string]lexvalue.Value, prov Provenance) (*ModerationResult, error) {
	if len(updates) == 0 {
		return nil, fmt.Errorf("%w: no updates proposed", ErrValidation)
	}
	if len(entityIDs) == 0 {
		return nil, fmt.Errorf("%w: no entity ids given", ErrValidation)
	}

	result := &ModerationResult{}
	for _, id := range entityIDs {
		staged, err := s.StageUpdate(ctx, entityType, id, updates, prov)
		if err != nil {
			log.Warn().Err(err).Str("entity_type", entityType).Int64("entity_id", id).
				Msg("Skipping entity in moderation batch")
			continue
		}
		if staged.StagedFields == 0 {
			continue
		}
		result.StagedCount++
		result.ChangesetIDs = append(result.ChangesetIDs, staged.ChangesetID)
	}
	return result, nil
}

// DiscardChangeset forces a pending changeset to discarded regardless of its
// field-change state and removes the field-change rows. Discarding an already
// discarded changeset is a no-op; a committed changeset cannot be discarded.
func (s *Store) DiscardChangeset(ctx context.Context, id int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		cs, err := s.getChangesetTx(ctx, tx, id, true)
		if err != nil {
			return err
		}
		switch cs.Status {
		case StatusDiscarded:
			return nil
		case StatusCommitted:
			return fmt.Errorf("%w: changeset %d is committed", ErrTerminal, id)
		}
		return s.discardTx(ctx, tx, id, nil)
	})
}

// DiscardByLlmJob discards every pending changeset produced by a job. One
// failure does not stop the rest.
func (s *Store) DiscardByLlmJob(ctx context.Context, jobID string) error {
	return s.discardGroup(ctx, `llm_job_id = $1`, jobID)
}

// DiscardByUser discards every pending changeset created by a user.
func (s *Store) DiscardByUser(ctx context.Context, userID string) error {
	return s.discardGroup(ctx, `created_by = $1`, userID)
}

// discardGroup discards every matching pending changeset independently. The
// first failure is returned after the rest have been attempted; later
// failures are logged only.
func (s *Store) discardGroup(ctx context.Context, cond string, arg any) error {
	ids, err := s.pendingIDs(ctx, cond, arg)
	if err != nil {
		return err
	}
	var firstErr error
	for _, id := range ids {
		if err := s.DiscardChangeset(ctx, id); err != nil {
			log.Error().Err(err).Int64("changeset_id", id).Msg("Failed to discard changeset in batch")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (s *Store) pendingIDs(ctx context.Context, cond string, arg any) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM changesets WHERE status = 'pending' AND `+cond+` ORDER BY id`, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending changesets: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan changeset id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending changesets: %w", err)
	}
	return ids, nil
}

// ListPending returns all pending changesets for reviewer dashboards, grouped
// by provenance and then entity type. Job groups come before manual groups.
func (s *Store) ListPending(ctx context.Context) ([]PendingGroup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT`+changesetColumns+` FROM changesets WHERE status = 'pending' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending changesets: %w", err)
	}
	defer rows.Close()

	type groupKey struct {
		job  string
		user string
	}
	groups := map[groupKey]*PendingGroup{}
	var order []groupKey

	for rows.Next() {
		cs, err := scanChangeset(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan changeset: %w", err)
		}
		key := groupKey{}
		if cs.LLMJobID != nil {
			key.job = *cs.LLMJobID
		}
		if cs.CreatedBy != nil {
			key.user = *cs.CreatedBy
		}
		g, ok := groups[key]
		if !ok {
			g = &PendingGroup{
				LLMJobID:  cs.LLMJobID,
				CreatedBy: cs.CreatedBy,
				ByEntity:  map[string][]Changeset{},
			}
			groups[key] = g
			order = append(order, key)
		}
		g.ByEntity[cs.EntityType] = append(g.ByEntity[cs.EntityType], *cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pending changesets: %w", err)
	}

	// Job-originated groups first; order within a bucket follows first
	// appearance.
	sort.SliceStable(order, func(i, j int) bool {
		return order[i].job != "" && order[j].job == ""
	})

	out := make([]PendingGroup, 0, len(order))
	for _, key := range order {
		out = append(out, *groups[key])
	}
	return out, nil
}

// EnsureChangeset returns the entity's pending changeset with the given
// provenance, creating an empty update changeset when none exists. A pending
// changeset from another author or job is left alone, so a job's suggestions
// stay reachable by that job's batch commit and discard. The suggestion-intake
// worker uses this to obtain the target for its upserts.
func (s *Store) EnsureChangeset(ctx context.Context, entityType string, entityID int64, prov Provenance) (*Changeset, error) {
	if !prov.Valid() {
		return nil, fmt.Errorf("%w: exactly one of created_by and llm_job_id must be set", ErrValidation)
	}

	var out *Changeset
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cs, err := s.findPendingChangesetByProvTx(ctx, tx, entityType, entityID, prov, true)
		if err != nil {
			return err
		}
		if cs != nil {
			out = cs
			return nil
		}
		snap, err := s.entities.Get(ctx, tx, entityType, entityID)
		if err != nil {
			return mapEntityErr(err)
		}
		createdBy, llmJobID := provenanceColumns(prov)
		cs = &Changeset{
			EntityType:     entityType,
			EntityID:       &entityID,
			Operation:      OpUpdate,
			EntityVersion:  &snap.Version,
			BeforeSnapshot: snap.Fields,
			AfterSnapshot:  snap.Fields,
			Status:         StatusPending,
			CreatedBy:      createdBy,
			LLMJobID:       llmJobID,
		}
		if err := s.insertChangesetTx(ctx, tx, cs); err != nil {
			return err
		}
		out = cs
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) countFieldChangesTx(ctx context.Context, q entities.Querier, changesetID int64) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM field_changes WHERE changeset_id = $1`, changesetID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count field changes for changeset %d: %w", changesetID, err)
	}
	return n, nil
}

// countLiveFieldChangesTx counts field changes still carrying reviewable work
// (pending or approved).
func (s *Store) countLiveFieldChangesTx(ctx context.Context, q entities.Querier, changesetID int64) (int, error) {
	var n int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM field_changes WHERE changeset_id = $1 AND status IN ('pending', 'approved')`,
		changesetID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count live field changes for changeset %d: %w", changesetID, err)
	}
	return n, nil
}

// mapEntityErr converts entity-layer sentinel errors to the engine's.
func mapEntityErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, entities.ErrNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, entities.ErrUnknownType):
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return err
}
