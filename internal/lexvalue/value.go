// Package lexvalue models the JSON-like values carried by field changes:
// scalars, ordered lists, and string-keyed maps. Values cross the storage
// boundary as jsonb and are compared structurally to classify edits as no-ops.
package lexvalue

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Kind identifies the shape of a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	}
	return "unknown"
}

// Value is a tagged union over the JSON value space. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	list []Value
	m    map[string]Value
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number wraps a numeric value.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// List wraps an ordered list of values.
func List(items ...Value) Value {
	return Value{kind: KindList, list: items}
}

// Map wraps a string-keyed map of values.
func Map(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindMap, m: m}
}

// Kind reports the value's shape.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// BoolVal returns the boolean payload; false for non-bools.
func (v Value) BoolVal() bool { return v.b }

// NumberVal returns the numeric payload; 0 for non-numbers.
func (v Value) NumberVal() float64 { return v.n }

// StringVal returns the string payload; "" for non-strings.
func (v Value) StringVal() string { return v.s }

// ListVal returns the list payload; nil for non-lists.
func (v Value) ListVal() []Value { return v.list }

// MapVal returns the map payload; nil for non-maps.
func (v Value) MapVal() map[string]Value { return v.m }

// MapGet looks up a key on a map value.
func (v Value) MapGet(key string) (Value, bool) {
	if v.kind != KindMap {
		return Value{}, false
	}
	val, ok := v.m[key]
	return val, ok
}

// FromAny normalizes a decoded-JSON Go value (nil, bool, float64, string,
// json.Number, []any, map[string]any) into a Value.
func FromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case float64:
		return Number(t), nil
	case int:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", t.String(), err)
		}
		return Number(f), nil
	case string:
		return String(t), nil
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return List(items...), nil
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, item := range t {
			v, err := FromAny(item)
			if err != nil {
				return Value{}, err
			}
			m[k] = v
		}
		return Map(m), nil
	}
	return Value{}, fmt.Errorf("unsupported value type %T", raw)
}

// MustFromAny is FromAny for values known to be JSON-shaped; it panics on
// anything else. Intended for literals in tests and fixtures.
func MustFromAny(raw any) Value {
	v, err := FromAny(raw)
	if err != nil {
		panic(err)
	}
	return v
}

// FromJSON parses a JSON document into a Value.
func FromJSON(data []byte) (Value, error) {
	if len(data) == 0 {
		return Null(), nil
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Value{}, fmt.Errorf("failed to parse value JSON: %w", err)
	}
	return FromAny(raw)
}

// ToAny converts the value back into the generic decoded-JSON representation.
func (v Value) ToAny() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindList:
		items := make([]any, len(v.list))
		for i, item := range v.list {
			items[i] = item.ToAny()
		}
		return items
	case KindMap:
		m := make(map[string]any, len(v.m))
		for k, item := range v.m {
			m[k] = item.ToAny()
		}
		return m
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.ToAny())
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := FromJSON(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Value implements driver.Valuer so a Value can be written to a jsonb column.
func (v Value) Value() (driver.Value, error) {
	data, err := json.Marshal(v.ToAny())
	if err != nil {
		return nil, fmt.Errorf("failed to serialize value: %w", err)
	}
	return data, nil
}

// Scan implements sql.Scanner for jsonb columns. SQL NULL scans as the null
// value.
func (v *Value) Scan(src any) error {
	switch t := src.(type) {
	case nil:
		*v = Null()
		return nil
	case []byte:
		return v.UnmarshalJSON(t)
	case string:
		return v.UnmarshalJSON([]byte(t))
	}
	return fmt.Errorf("cannot scan %T into lexvalue.Value", src)
}

// Equal reports strict structural equality: scalars by value, lists
// element-wise in order, maps by key set with per-key recursion. No
// normalization is applied; callers that want "" == null must normalize first.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindNumber:
		return a.n == b.n
	case KindString:
		return a.s == b.s
	case KindList:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if !Equal(a.list[i], b.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.m) != len(b.m) {
			return false
		}
		for k, av := range a.m {
			bv, ok := b.m[k]
			if !ok || !Equal(av, bv) {
				return false
			}
		}
		return true
	}
	return false
}

// String renders a compact debug form with deterministic map key order.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return strconv.FormatFloat(v.n, 'g', -1, 64)
	case KindString:
		return strconv.Quote(v.s)
	case KindList:
		out := "["
		for i, item := range v.list {
			if i > 0 {
				out += ","
			}
			out += item.String()
		}
		return out + "]"
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := "{"
		for i, k := range keys {
			if i > 0 {
				out += ","
			}
			out += strconv.Quote(k) + ":" + v.m[k].String()
		}
		return out + "}"
	}
	return "?"
}
