package changeset

import (
	"fmt"
	"time"
)

// TransitionEvent is a cascade side effect produced by a pure transition. The
// store executes events inside the same transaction as the transition itself.
type TransitionEvent string

const (
	// EventDiscardChangeset means the transition emptied the changeset of
	// live pending/approved work and the changeset must go to discarded.
	EventDiscardChangeset TransitionEvent = "discard_changeset"
)

// TransitionFieldStatus returns a copy of fc moved to the requested status,
// with the actor/timestamp pair for that status set and the opposite pair
// cleared. Moving back to pending clears both pairs. It does not touch
// storage.
func TransitionFieldStatus(fc FieldChange, status FieldStatus, actor string, now time.Time) (FieldChange, error) {
	switch status {
	case FieldPending:
		fc.Status = FieldPending
		fc.ApprovedBy, fc.ApprovedAt = nil, nil
		fc.RejectedBy, fc.RejectedAt = nil, nil
	case FieldApproved:
		fc.Status = FieldApproved
		fc.ApprovedBy, fc.ApprovedAt = &actor, &now
		fc.RejectedBy, fc.RejectedAt = nil, nil
	case FieldRejected:
		fc.Status = FieldRejected
		fc.RejectedBy, fc.RejectedAt = &actor, &now
		fc.ApprovedBy, fc.ApprovedAt = nil, nil
	default:
		return fc, fmt.Errorf("%w: unknown field status %q", ErrValidation, status)
	}
	return fc, nil
}

// CascadeAfterRejection decides the cascade for a rejection: when every other
// field change of the changeset is already rejected (or gone), the changeset
// carries no remaining reviewable work and must be discarded.
func CascadeAfterRejection(liveSiblings int) []TransitionEvent {
	if liveSiblings == 0 {
		return []TransitionEvent{EventDiscardChangeset}
	}
	return nil
}

// CascadeAfterRemoval decides the cascade for a field-change deletion (no-op
// revert): an emptied changeset carries no information and must be discarded.
func CascadeAfterRemoval(remaining int) []TransitionEvent {
	if remaining == 0 {
		return []TransitionEvent{EventDiscardChangeset}
	}
	return nil
}

// ParseFieldStatus validates a caller-supplied status string.
func ParseFieldStatus(s string) (FieldStatus, error) {
	switch FieldStatus(s) {
	case FieldPending, FieldApproved, FieldRejected:
		return FieldStatus(s), nil
	}
	return "", fmt.Errorf("%w: invalid field change status %q", ErrValidation, s)
}
