package changeset

import (
	"strings"

	"github.com/google/uuid"

	"github.com/lexistage/internal/lexvalue"
)

// RolesField is the frame field holding the ordered role list.
const RolesField = "frame_roles"

// RoleGroupsField is the optional parallel role-grouping field.
const RoleGroupsField = "role_groups"

// Role-map attribute keys used by the patcher.
const (
	roleKeyAttr  = "role_key"
	roleTypeAttr = "role_type"
)

// SubChange is one sub-field patch against a single role attribute, addressed
// as "frame_roles.<key>.<attr>". The key is the role's client-generated
// role_key; the role-type label is accepted as a fallback for roles staged
// before keys existed.
type SubChange struct {
	FieldName string
	NewValue  lexvalue.Value
}

// RoleSubChange reports whether a field name addresses a role attribute.
func RoleSubChange(fieldName string) bool {
	return strings.HasPrefix(fieldName, RolesField+".")
}

// parseRoleAddress splits "frame_roles.<key>.<attr>" into key and attribute.
// The attribute is the last dot segment, so keys containing dots (legacy
// labels) still resolve.
func parseRoleAddress(fieldName string) (key, attr string, ok bool) {
	rest, found := strings.CutPrefix(fieldName, RolesField+".")
	if !found || rest == "" {
		return "", "", false
	}
	idx := strings.LastIndex(rest, ".")
	if idx <= 0 || idx == len(rest)-1 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}

// roleMatches reports whether one role element answers to the given key.
func roleMatches(role lexvalue.Value, key string) bool {
	if rk, ok := role.MapGet(roleKeyAttr); ok && rk.Kind() == lexvalue.KindString && rk.StringVal() == key {
		return true
	}
	if rt, ok := role.MapGet(roleTypeAttr); ok && rt.Kind() == lexvalue.KindString && rt.StringVal() == key {
		return true
	}
	return false
}

// ApplyFrameRolesSubChanges applies role-attribute patches onto an ordered
// role list and returns the patched list; the input is not mutated. Patches
// apply in the order supplied. A patch addressing a key no role answers to,
// or with a malformed field name, is a no-op: it never errors and never
// invents a role.
func ApplyFrameRolesSubChanges(baseRoles lexvalue.Value, subChanges []SubChange) lexvalue.Value {
	if baseRoles.Kind() != lexvalue.KindList {
		return baseRoles
	}

	roles := make([]lexvalue.Value, len(baseRoles.ListVal()))
	copy(roles, baseRoles.ListVal())

	for _, sc := range subChanges {
		key, attr, ok := parseRoleAddress(sc.FieldName)
		if !ok {
			continue
		}
		for i, role := range roles {
			if role.Kind() != lexvalue.KindMap || !roleMatches(role, key) {
				continue
			}
			patched := make(map[string]lexvalue.Value, len(role.MapVal())+1)
			for k, v := range role.MapVal() {
				patched[k] = v
			}
			patched[attr] = sc.NewValue
			roles[i] = lexvalue.Map(patched)
			break
		}
	}
	return lexvalue.List(roles...)
}

// AssignRoleKeys returns the role list with a generated role_key on every
// role map that lacks one. Keys are assigned at staging time so a role can be
// addressed stably before it has a persisted id, and so duplicate role-type
// labels cannot misroute a patch.
func AssignRoleKeys(roles lexvalue.Value) lexvalue.Value {
	if roles.Kind() != lexvalue.KindList {
		return roles
	}
	out := make([]lexvalue.Value, len(roles.ListVal()))
	for i, role := range roles.ListVal() {
		if role.Kind() != lexvalue.KindMap {
			out[i] = role
			continue
		}
		if rk, ok := role.MapGet(roleKeyAttr); ok && rk.Kind() == lexvalue.KindString && rk.StringVal() != "" {
			out[i] = role
			continue
		}
		withKey := make(map[string]lexvalue.Value, len(role.MapVal())+1)
		for k, v := range role.MapVal() {
			withKey[k] = v
		}
		withKey[roleKeyAttr] = lexvalue.String(uuid.NewString())
		out[i] = lexvalue.Map(withKey)
	}
	return lexvalue.List(out...)
}
