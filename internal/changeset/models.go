// Package changeset implements the staging and review engine: every proposed
// mutation of a lexicon entity is captured as a changeset of field-level
// diffs, reviewed field-by-field, and either committed to the entity tables
// or discarded.
package changeset

import (
	"errors"
	"time"

	"github.com/lexistage/internal/lexvalue"
)

// Operation is the kind of mutation a changeset proposes.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Status is the changeset lifecycle state. Committed and discarded are
// terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCommitted Status = "committed"
	StatusDiscarded Status = "discarded"
)

// FieldStatus is the per-field review state. Approved and rejected are both
// reversible back to pending until the changeset goes terminal.
type FieldStatus string

const (
	FieldPending  FieldStatus = "pending"
	FieldApproved FieldStatus = "approved"
	FieldRejected FieldStatus = "rejected"
)

var (
	// ErrNotFound marks lookups of unknown changesets, field changes, or
	// entities; the HTTP layer maps it to 404.
	ErrNotFound = errors.New("not found")

	// ErrValidation marks bad input (unknown status value, empty field set,
	// missing actor); mapped to 400.
	ErrValidation = errors.New("validation failed")

	// ErrTerminal marks an attempt to mutate a committed or discarded
	// changeset.
	ErrTerminal = errors.New("changeset is terminal")
)

// Changeset is one proposed mutation against exactly one entity instance.
// Exactly one of CreatedBy / LLMJobID is set; that determines which batch
// grouping the changeset belongs to.
type Changeset struct {
	ID             int64          `json:"id"`
	EntityType     string         `json:"entity_type"`
	EntityID       *int64         `json:"entity_id"` // nil for a pending create
	Operation      Operation      `json:"operation"`
	EntityVersion  *int64         `json:"entity_version"`
	BeforeSnapshot lexvalue.Value `json:"before_snapshot"`
	AfterSnapshot  lexvalue.Value `json:"after_snapshot"`
	Status         Status         `json:"status"`
	CreatedBy      *string        `json:"created_by"`
	LLMJobID       *string        `json:"llm_job_id"`
	ReviewedBy     *string        `json:"reviewed_by"`
	ReviewedAt     *time.Time     `json:"reviewed_at"`
	CommittedAt    *time.Time     `json:"committed_at"`
	CreatedAt      time.Time      `json:"created_at"`

	FieldChanges []FieldChange `json:"field_changes,omitempty"`
}

// Terminal reports whether the changeset can no longer be mutated.
func (c *Changeset) Terminal() bool {
	return c.Status == StatusCommitted || c.Status == StatusDiscarded
}

// FieldChange is one proposed value for one field of the owning changeset's
// entity. OldValue and NewValue are never structurally equal in storage; the
// upsert path deletes rather than stores a no-op.
type FieldChange struct {
	ID          int64          `json:"id"`
	ChangesetID int64          `json:"changeset_id"`
	FieldName   string         `json:"field_name"`
	OldValue    lexvalue.Value `json:"old_value"`
	NewValue    lexvalue.Value `json:"new_value"`
	Status      FieldStatus    `json:"status"`
	ApprovedBy  *string        `json:"approved_by"`
	ApprovedAt  *time.Time     `json:"approved_at"`
	RejectedBy  *string        `json:"rejected_by"`
	RejectedAt  *time.Time     `json:"rejected_at"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Provenance identifies the batch grouping of a changeset: a manual author or
// an LLM job, never both.
type Provenance struct {
	CreatedBy string
	LLMJobID  string
}

// Valid reports whether exactly one side is set.
func (p Provenance) Valid() bool {
	return (p.CreatedBy != "") != (p.LLMJobID != "")
}

// ByUser builds manual provenance.
func ByUser(userID string) Provenance { return Provenance{CreatedBy: userID} }

// ByJob builds LLM-job provenance.
func ByJob(jobID string) Provenance { return Provenance{LLMJobID: jobID} }

// StagingResult reports what staging did for one entity.
type StagingResult struct {
	ChangesetID        int64  `json:"changeset_id"`
	Created            bool   `json:"created"`             // a new changeset row was created
	StagedFields       int    `json:"staged_fields"`       // field changes created or updated
	RemovedFields      int    `json:"removed_fields"`      // field changes deleted by no-op dedup
	SkippedFields      int    `json:"skipped_fields"`      // proposed values that matched the original
	ChangesetDiscarded bool   `json:"changeset_discarded"` // dedup emptied the changeset
	EntityVersion      *int64 `json:"entity_version"`
}

// UpsertAction describes what UpsertFieldChange did.
type UpsertAction string

const (
	UpsertCreated UpsertAction = "created"
	UpsertUpdated UpsertAction = "updated"
	UpsertDeleted UpsertAction = "deleted"
	UpsertSkipped UpsertAction = "skipped"
)

// UpsertResult is the outcome of a single upsert.
type UpsertResult struct {
	Action             UpsertAction `json:"action"`
	FieldChangeID      *int64       `json:"field_change_id"`
	ChangesetDiscarded bool         `json:"changeset_discarded"`
}

// StatusResult is the outcome of a single field-change status transition.
type StatusResult struct {
	FieldChange        FieldChange `json:"field_change"`
	ChangesetDiscarded bool        `json:"changeset_discarded"`
}

// RejectAllResult is the outcome of rejecting every pending field change.
type RejectAllResult struct {
	Count              int  `json:"count"`
	ChangesetDiscarded bool `json:"changeset_discarded"`
}

// PendingFieldInfo is the overlay for one field of an entity's read view.
type PendingFieldInfo struct {
	Status   FieldStatus    `json:"status"`
	OldValue lexvalue.Value `json:"old_value"`
	NewValue lexvalue.Value `json:"new_value"`
}

// PendingInfo is the most relevant non-terminal changeset for an entity plus
// a per-field overlay, applied in-memory by read views so viewers see staged
// edits without storage mutating.
type PendingInfo struct {
	Changeset Changeset                   `json:"changeset"`
	Fields    map[string]PendingFieldInfo `json:"fields"`
}

// PendingGroup is one provenance bucket of the reviewer dashboard listing:
// job-originated groups sort before manual groups, subdivided by entity type.
type PendingGroup struct {
	LLMJobID  *string                `json:"llm_job_id"`
	CreatedBy *string                `json:"created_by"`
	ByEntity  map[string][]Changeset `json:"by_entity"`
}
