package changeset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexistage/internal/lexvalue"
)

func role(attrs map[string]lexvalue.Value) lexvalue.Value {
	return lexvalue.Map(attrs)
}

func TestRoleSubChange(t *testing.T) {
	assert.True(t, RoleSubChange("frame_roles.abc.description"))
	assert.False(t, RoleSubChange("frame_roles"))
	assert.False(t, RoleSubChange("role_groups.abc.description"))
	assert.False(t, RoleSubChange("lemma"))
}

func TestParseRoleAddress(t *testing.T) {
	key, attr, ok := parseRoleAddress("frame_roles.k1.description")
	require.True(t, ok)
	assert.Equal(t, "k1", key)
	assert.Equal(t, "description", attr)

	// keys with dots resolve because the attribute is the last segment
	key, attr, ok = parseRoleAddress("frame_roles.Agent.v2.description")
	require.True(t, ok)
	assert.Equal(t, "Agent.v2", key)
	assert.Equal(t, "description", attr)

	_, _, ok = parseRoleAddress("frame_roles.")
	assert.False(t, ok)
	_, _, ok = parseRoleAddress("frame_roles.k1")
	assert.False(t, ok)
	_, _, ok = parseRoleAddress("frame_roles.k1.")
	assert.False(t, ok)
}

func TestApplyFrameRolesSubChanges(t *testing.T) {
	base := lexvalue.List(
		role(map[string]lexvalue.Value{
			"role_key":    lexvalue.String("k1"),
			"role_type":   lexvalue.String("Agent"),
			"description": lexvalue.String("the doer"),
		}),
		role(map[string]lexvalue.Value{
			"role_key":    lexvalue.String("k2"),
			"role_type":   lexvalue.String("Patient"),
			"description": lexvalue.String("the affected"),
		}),
	)

	t.Run("patches addressed attribute only", func(t *testing.T) {
		out := ApplyFrameRolesSubChanges(base, []SubChange{
			{FieldName: "frame_roles.k2.description", NewValue: lexvalue.String("the undergoer")},
		})
		roles := out.ListVal()
		require.Len(t, roles, 2)

		desc, _ := roles[1].MapGet("description")
		assert.Equal(t, "the undergoer", desc.StringVal())
		rt, _ := roles[1].MapGet("role_type")
		assert.Equal(t, "Patient", rt.StringVal())

		// sibling untouched
		desc0, _ := roles[0].MapGet("description")
		assert.Equal(t, "the doer", desc0.StringVal())
	})

	t.Run("role_type label works as fallback key", func(t *testing.T) {
		out := ApplyFrameRolesSubChanges(base, []SubChange{
			{FieldName: "frame_roles.Agent.description", NewValue: lexvalue.String("initiator")},
		})
		desc, _ := out.ListVal()[0].MapGet("description")
		assert.Equal(t, "initiator", desc.StringVal())
	})

	t.Run("unknown key is a no-op", func(t *testing.T) {
		out := ApplyFrameRolesSubChanges(base, []SubChange{
			{FieldName: "frame_roles.nope.description", NewValue: lexvalue.String("x")},
		})
		assert.True(t, lexvalue.Equal(base, out))
		assert.Len(t, out.ListVal(), 2)
	})

	t.Run("patches apply in order", func(t *testing.T) {
		out := ApplyFrameRolesSubChanges(base, []SubChange{
			{FieldName: "frame_roles.k1.description", NewValue: lexvalue.String("first")},
			{FieldName: "frame_roles.k1.description", NewValue: lexvalue.String("second")},
		})
		desc, _ := out.ListVal()[0].MapGet("description")
		assert.Equal(t, "second", desc.StringVal())
	})

	t.Run("input list is not mutated", func(t *testing.T) {
		_ = ApplyFrameRolesSubChanges(base, []SubChange{
			{FieldName: "frame_roles.k1.description", NewValue: lexvalue.String("mutated?")},
		})
		desc, _ := base.ListVal()[0].MapGet("description")
		assert.Equal(t, "the doer", desc.StringVal())
	})

	t.Run("non-list base passes through", func(t *testing.T) {
		out := ApplyFrameRolesSubChanges(lexvalue.Null(), []SubChange{
			{FieldName: "frame_roles.k1.description", NewValue: lexvalue.String("x")},
		})
		assert.True(t, out.IsNull())
	})
}

func TestAssignRoleKeys(t *testing.T) {
	base := lexvalue.List(
		role(map[string]lexvalue.Value{
			"role_key":  lexvalue.String("keep-me"),
			"role_type": lexvalue.String("Agent"),
		}),
		role(map[string]lexvalue.Value{
			"role_type": lexvalue.String("Patient"),
		}),
	)

	out := AssignRoleKeys(base)
	roles := out.ListVal()
	require.Len(t, roles, 2)

	k0, ok := roles[0].MapGet("role_key")
	require.True(t, ok)
	assert.Equal(t, "keep-me", k0.StringVal())

	k1, ok := roles[1].MapGet("role_key")
	require.True(t, ok)
	assert.NotEmpty(t, k1.StringVal())
	assert.NotEqual(t, "keep-me", k1.StringVal())

	// generated keys are unique across calls
	again := AssignRoleKeys(base)
	k1b, _ := again.ListVal()[1].MapGet("role_key")
	assert.NotEqual(t, k1.StringVal(), k1b.StringVal())

	// non-map role elements pass through untouched
	mixed := AssignRoleKeys(lexvalue.List(lexvalue.String("loose")))
	assert.Equal(t, "loose", mixed.ListVal()[0].StringVal())
}
