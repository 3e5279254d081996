package changeset

import (
	"sort"

	"github.com/lexistage/internal/lexvalue"
)

// DiffAction is the planned storage effect for one proposed field value.
type DiffAction string

const (
	// DiffStage creates or overwrites a field change.
	DiffStage DiffAction = "stage"
	// DiffRemove deletes an existing field change because the proposal
	// returned the field to its true original value.
	DiffRemove DiffAction = "remove"
	// DiffSkip is a no-op proposal with nothing staged to remove.
	DiffSkip DiffAction = "skip"
)

// FieldDiff is one entry of a staging plan.
type FieldDiff struct {
	FieldName string
	OldValue  lexvalue.Value
	NewValue  lexvalue.Value
	Action    DiffAction
	Existing  *FieldChange // live row for this field, if any
}

// ComputeFieldDiffs plans the storage effects of proposing new field values.
//
// The authoritative old value for a field is the old_value of an existing
// live field change when one exists, else the snapshot value. Diffing against
// the original rather than the latest staged value is what makes chained
// edits collapse: editing a field repeatedly and finally returning it to its
// original value leaves no trace.
//
// Results are ordered by field name so staging is deterministic.
func ComputeFieldDiffs(snapshot lexvalue.Value, existing []FieldChange, proposed map[string]lexvalue.Value) []FieldDiff {
	byField := make(map[string]*FieldChange, len(existing))
	for i := range existing {
		byField[existing[i].FieldName] = &existing[i]
	}

	names := make([]string, 0, len(proposed))
	for name := range proposed {
		names = append(names, name)
	}
	sort.Strings(names)

	diffs := make([]FieldDiff, 0, len(names))
	for _, name := range names {
		newVal := proposed[name]
		prior := byField[name]

		var oldVal lexvalue.Value
		if prior != nil {
			oldVal = prior.OldValue
		} else {
			snapVal, _ := snapshot.MapGet(name)
			oldVal = snapVal
		}

		diff := FieldDiff{
			FieldName: name,
			OldValue:  oldVal,
			NewValue:  newVal,
			Existing:  prior,
		}
		switch {
		case !lexvalue.Equal(oldVal, newVal):
			diff.Action = DiffStage
		case prior != nil:
			diff.Action = DiffRemove
		default:
			diff.Action = DiffSkip
		}
		diffs = append(diffs, diff)
	}
	return diffs
}
