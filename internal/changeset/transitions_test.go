package changeset

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionFieldStatus(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	earlier := now.Add(-time.Hour)
	reviewer := "alice"
	prior := "bob"

	t.Run("approve sets pair and clears rejection", func(t *testing.T) {
		fc := FieldChange{
			Status:     FieldRejected,
			RejectedBy: &prior,
			RejectedAt: &earlier,
		}
		got, err := TransitionFieldStatus(fc, FieldApproved, reviewer, now)
		require.NoError(t, err)
		assert.Equal(t, FieldApproved, got.Status)
		require.NotNil(t, got.ApprovedBy)
		assert.Equal(t, reviewer, *got.ApprovedBy)
		require.NotNil(t, got.ApprovedAt)
		assert.True(t, got.ApprovedAt.Equal(now))
		assert.Nil(t, got.RejectedBy)
		assert.Nil(t, got.RejectedAt)
	})

	t.Run("reject sets pair and clears approval", func(t *testing.T) {
		fc := FieldChange{
			Status:     FieldApproved,
			ApprovedBy: &prior,
			ApprovedAt: &earlier,
		}
		got, err := TransitionFieldStatus(fc, FieldRejected, reviewer, now)
		require.NoError(t, err)
		assert.Equal(t, FieldRejected, got.Status)
		require.NotNil(t, got.RejectedBy)
		assert.Equal(t, reviewer, *got.RejectedBy)
		assert.Nil(t, got.ApprovedBy)
		assert.Nil(t, got.ApprovedAt)
	})

	t.Run("back to pending clears both pairs", func(t *testing.T) {
		fc := FieldChange{
			Status:     FieldApproved,
			ApprovedBy: &prior,
			ApprovedAt: &earlier,
		}
		got, err := TransitionFieldStatus(fc, FieldPending, reviewer, now)
		require.NoError(t, err)
		assert.Equal(t, FieldPending, got.Status)
		assert.Nil(t, got.ApprovedBy)
		assert.Nil(t, got.ApprovedAt)
		assert.Nil(t, got.RejectedBy)
		assert.Nil(t, got.RejectedAt)
	})

	t.Run("unknown status is a validation error", func(t *testing.T) {
		_, err := TransitionFieldStatus(FieldChange{}, FieldStatus("merged"), reviewer, now)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrValidation))
	})

	t.Run("input is not mutated", func(t *testing.T) {
		fc := FieldChange{Status: FieldPending}
		_, err := TransitionFieldStatus(fc, FieldApproved, reviewer, now)
		require.NoError(t, err)
		assert.Equal(t, FieldPending, fc.Status)
		assert.Nil(t, fc.ApprovedBy)
	})
}

func TestCascadeAfterRejection(t *testing.T) {
	assert.Equal(t, []TransitionEvent{EventDiscardChangeset}, CascadeAfterRejection(0))
	assert.Nil(t, CascadeAfterRejection(1))
	assert.Nil(t, CascadeAfterRejection(5))
}

func TestCascadeAfterRemoval(t *testing.T) {
	assert.Equal(t, []TransitionEvent{EventDiscardChangeset}, CascadeAfterRemoval(0))
	assert.Nil(t, CascadeAfterRemoval(2))
}

func TestParseFieldStatus(t *testing.T) {
	for _, valid := range []string{"pending", "approved", "rejected"} {
		got, err := ParseFieldStatus(valid)
		require.NoError(t, err, valid)
		assert.Equal(t, FieldStatus(valid), got)
	}

	_, err := ParseFieldStatus("committed")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidation))

	_, err = ParseFieldStatus("")
	require.Error(t, err)
}

func TestProvenanceValid(t *testing.T) {
	assert.True(t, ByUser("alice").Valid())
	assert.True(t, ByJob("job-42").Valid())
	assert.False(t, Provenance{}.Valid())
	assert.False(t, Provenance{CreatedBy: "alice", LLMJobID: "job-42"}.Valid())
}

func TestChangesetTerminal(t *testing.T) {
	assert.False(t, (&Changeset{Status: StatusPending}).Terminal())
	assert.True(t, (&Changeset{Status: StatusCommitted}).Terminal())
	assert.True(t, (&Changeset{Status: StatusDiscarded}).Terminal())
}
