package lexvalue

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEqualScalars(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"null vs null", Null(), Null(), true},
		{"null vs false", Null(), Bool(false), false},
		{"bools equal", Bool(true), Bool(true), true},
		{"bools differ", Bool(true), Bool(false), false},
		{"numbers equal", Number(3.5), Number(3.5), true},
		{"numbers differ", Number(3.5), Number(3.6), false},
		{"int-valued float", Number(7), Number(7.0), true},
		{"strings equal", String("gloss"), String("gloss"), true},
		{"strings differ", String("gloss"), String("Gloss"), false},
		{"string vs number", String("1"), Number(1), false},
		{"zero number vs null", Number(0), Null(), false},
		{"empty string vs null", String(""), Null(), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Equal(tt.a, tt.b))
			assert.Equal(t, tt.want, Equal(tt.b, tt.a), "equality must be symmetric")
		})
	}
}

func TestEqualLists(t *testing.T) {
	assert.True(t, Equal(List(String("a"), Number(1)), List(String("a"), Number(1))))
	assert.False(t, Equal(List(String("a"), Number(1)), List(Number(1), String("a"))),
		"lists are order-sensitive")
	assert.False(t, Equal(List(String("a")), List(String("a"), String("a"))))
	assert.True(t, Equal(List(), List()))
	assert.False(t, Equal(List(), Null()))
}

func TestEqualMaps(t *testing.T) {
	a := MustFromAny(map[string]any{"gloss": "to run", "roles": []any{"Agent", "Theme"}})
	b := MustFromAny(map[string]any{"roles": []any{"Agent", "Theme"}, "gloss": "to run"})
	assert.True(t, Equal(a, b), "map key order must not matter")

	c := MustFromAny(map[string]any{"gloss": "to run"})
	assert.False(t, Equal(a, c), "missing key is inequality")

	d := MustFromAny(map[string]any{"gloss": "to run", "roles": []any{"Theme", "Agent"}})
	assert.False(t, Equal(a, d), "nested list order still matters")
}

func TestEqualNested(t *testing.T) {
	mk := func() Value {
		return MustFromAny(map[string]any{
			"frame_roles": []any{
				map[string]any{"role_type": "Agent", "description": "doer", "optional": false},
				map[string]any{"role_type": "Theme", "description": "thing", "optional": true},
			},
		})
	}
	assert.True(t, Equal(mk(), mk()))
}

func TestJSONRoundTrip(t *testing.T) {
	raw := []byte(`{"gloss":"to run","count":2,"tags":["motion",null],"meta":{"flagged":false}}`)
	v, err := FromJSON(raw)
	require.NoError(t, err)

	out, err := json.Marshal(v)
	require.NoError(t, err)

	var want, got any
	require.NoError(t, json.Unmarshal(raw, &want))
	require.NoError(t, json.Unmarshal(out, &got))
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	back, err := FromJSON(out)
	require.NoError(t, err)
	assert.True(t, Equal(v, back))
}

func TestFromJSONEmptyIsNull(t *testing.T) {
	v, err := FromJSON(nil)
	require.NoError(t, err)
	assert.True(t, v.IsNull())
}

func TestScanAndValue(t *testing.T) {
	var v Value
	require.NoError(t, v.Scan([]byte(`["a",1]`)))
	assert.Equal(t, KindList, v.Kind())

	dv, err := v.Value()
	require.NoError(t, err)
	assert.JSONEq(t, `["a",1]`, string(dv.([]byte)))

	var n Value
	require.NoError(t, n.Scan(nil))
	assert.True(t, n.IsNull())
}

func TestFromAnyRejectsNonJSON(t *testing.T) {
	_, err := FromAny(struct{}{})
	assert.Error(t, err)
}
