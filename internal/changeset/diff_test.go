package changeset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexistage/internal/lexvalue"
)

func snapshotValue(fields map[string]lexvalue.Value) lexvalue.Value {
	return lexvalue.Map(fields)
}

func TestComputeFieldDiffs_StagesChangedFields(t *testing.T) {
	snap := snapshotValue(map[string]lexvalue.Value{
		"lemma": lexvalue.String("run"),
		"gloss": lexvalue.String("to move fast"),
	})
	proposed := map[string]lexvalue.Value{
		"lemma": lexvalue.String("sprint"),
		"gloss": lexvalue.String("to move fast"),
	}

	diffs := ComputeFieldDiffs(snap, nil, proposed)
	require.Len(t, diffs, 2)

	// ordered by field name
	assert.Equal(t, "gloss", diffs[0].FieldName)
	assert.Equal(t, DiffSkip, diffs[0].Action)

	assert.Equal(t, "lemma", diffs[1].FieldName)
	assert.Equal(t, DiffStage, diffs[1].Action)
	assert.True(t, lexvalue.Equal(lexvalue.String("run"), diffs[1].OldValue))
	assert.True(t, lexvalue.Equal(lexvalue.String("sprint"), diffs[1].NewValue))
}

func TestComputeFieldDiffs_OldValueFromExistingRow(t *testing.T) {
	// The snapshot already drifted (another changeset committed), but the
	// staged row remembers the value this changeset was drafted against.
	snap := snapshotValue(map[string]lexvalue.Value{
		"lemma": lexvalue.String("dash"),
	})
	existing := []FieldChange{{
		ID:        7,
		FieldName: "lemma",
		OldValue:  lexvalue.String("run"),
		NewValue:  lexvalue.String("sprint"),
		Status:    FieldPending,
	}}

	diffs := ComputeFieldDiffs(snap, existing, map[string]lexvalue.Value{
		"lemma": lexvalue.String("jog"),
	})
	require.Len(t, diffs, 1)
	assert.Equal(t, DiffStage, diffs[0].Action)
	assert.True(t, lexvalue.Equal(lexvalue.String("run"), diffs[0].OldValue))
	require.NotNil(t, diffs[0].Existing)
	assert.Equal(t, int64(7), diffs[0].Existing.ID)
}

func TestComputeFieldDiffs_RevertCollapsesChain(t *testing.T) {
	// Staging the original value again removes the row instead of storing a
	// no-op: A->B->A leaves no trace.
	snap := snapshotValue(map[string]lexvalue.Value{
		"lemma": lexvalue.String("run"),
	})
	existing := []FieldChange{{
		FieldName: "lemma",
		OldValue:  lexvalue.String("run"),
		NewValue:  lexvalue.String("sprint"),
		Status:    FieldPending,
	}}

	diffs := ComputeFieldDiffs(snap, existing, map[string]lexvalue.Value{
		"lemma": lexvalue.String("run"),
	})
	require.Len(t, diffs, 1)
	assert.Equal(t, DiffRemove, diffs[0].Action)
}

func TestComputeFieldDiffs_NullHandling(t *testing.T) {
	// A field absent from the snapshot diffs against null; proposing null for
	// it is a no-op.
	snap := snapshotValue(map[string]lexvalue.Value{})

	diffs := ComputeFieldDiffs(snap, nil, map[string]lexvalue.Value{
		"gloss": lexvalue.Null(),
		"lemma": lexvalue.String("run"),
	})
	require.Len(t, diffs, 2)
	assert.Equal(t, DiffSkip, diffs[0].Action)
	assert.Equal(t, DiffStage, diffs[1].Action)
	assert.True(t, diffs[1].OldValue.IsNull())
}

func TestComputeFieldDiffs_StructuralEquality(t *testing.T) {
	snap := snapshotValue(map[string]lexvalue.Value{
		"examples": lexvalue.List(lexvalue.String("a"), lexvalue.String("b")),
	})

	// Same elements, different order: lists are order-sensitive, so this is
	// a real change.
	diffs := ComputeFieldDiffs(snap, nil, map[string]lexvalue.Value{
		"examples": lexvalue.List(lexvalue.String("b"), lexvalue.String("a")),
	})
	require.Len(t, diffs, 1)
	assert.Equal(t, DiffStage, diffs[0].Action)

	// Structurally identical list is a skip.
	diffs = ComputeFieldDiffs(snap, nil, map[string]lexvalue.Value{
		"examples": lexvalue.List(lexvalue.String("a"), lexvalue.String("b")),
	})
	require.Len(t, diffs, 1)
	assert.Equal(t, DiffSkip, diffs[0].Action)
}
