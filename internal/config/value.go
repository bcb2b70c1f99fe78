// Package config implements the dynamic, JSON-like value tree used to
// carry command parameters and configuration documents through the
// datasrc core: null, bool, integer, string, list, and map, with typed
// accessors that fail with a TypeError on mismatch.
package config

import (
	"encoding/json"
	"fmt"
)

// Kind identifies which variant of Value is populated.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
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
	case KindInt:
		return "int"
	case KindString:
		return "string"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is an immutable node in the configuration/parameter tree.
// The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	s    string
	l    []*Value
	m    map[string]*Value
}

// Null returns the null Value.
func Null() *Value { return &Value{kind: KindNull} }

// Bool wraps a bool.
func Bool(b bool) *Value { return &Value{kind: KindBool, b: b} }

// Int wraps an integer.
func Int(i int64) *Value { return &Value{kind: KindInt, i: i} }

// Str wraps a string.
func Str(s string) *Value { return &Value{kind: KindString, s: s} }

// List wraps a slice of Values.
func List(items ...*Value) *Value { return &Value{kind: KindList, l: items} }

// Map wraps a string-keyed map of Values.
func Map(m map[string]*Value) *Value {
	if m == nil {
		m = map[string]*Value{}
	}
	return &Value{kind: KindMap, m: m}
}

// Kind reports which variant is populated. A nil receiver is null.
func (v *Value) Kind() Kind {
	if v == nil {
		return KindNull
	}
	return v.kind
}

// IsNull reports whether v is nil or the null variant.
func (v *Value) IsNull() bool {
	return v == nil || v.kind == KindNull
}

// TypeError is returned by a typed accessor when the Value is not of
// the requested kind.
type TypeError struct {
	Want Kind
	Got  Kind
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("config: wrong type: want %s, got %s", e.Want, e.Got)
}

// AsBool returns the boolean value or a *TypeError.
func (v *Value) AsBool() (bool, error) {
	if v.Kind() != KindBool {
		return false, &TypeError{Want: KindBool, Got: v.Kind()}
	}
	return v.b, nil
}

// AsInt returns the integer value or a *TypeError.
func (v *Value) AsInt() (int64, error) {
	if v.Kind() != KindInt {
		return 0, &TypeError{Want: KindInt, Got: v.Kind()}
	}
	return v.i, nil
}

// AsString returns the string value or a *TypeError.
func (v *Value) AsString() (string, error) {
	if v.Kind() != KindString {
		return "", &TypeError{Want: KindString, Got: v.Kind()}
	}
	return v.s, nil
}

// AsList returns the list elements or a *TypeError.
func (v *Value) AsList() ([]*Value, error) {
	if v.Kind() != KindList {
		return nil, &TypeError{Want: KindList, Got: v.Kind()}
	}
	return v.l, nil
}

// AsMap returns the map contents or a *TypeError.
func (v *Value) AsMap() (map[string]*Value, error) {
	if v.Kind() != KindMap {
		return nil, &TypeError{Want: KindMap, Got: v.Kind()}
	}
	return v.m, nil
}

// Get looks up a key in a map Value. Returns nil (null) if v is not a
// map or the key is absent; callers that need to distinguish "absent"
// from "present and null" should use AsMap directly.
func (v *Value) Get(key string) *Value {
	if v.Kind() != KindMap {
		return nil
	}
	child, ok := v.m[key]
	if !ok {
		return nil
	}
	return child
}

// GetString looks up a key expected to hold a string.
func (v *Value) GetString(key string) (string, error) {
	return v.Get(key).AsString()
}

// GetInt looks up a key expected to hold an integer.
func (v *Value) GetInt(key string) (int64, error) {
	return v.Get(key).AsInt()
}

// GetBool looks up a key expected to hold a bool, defaulting to def
// if the key is absent entirely.
func (v *Value) GetBool(key string, def bool) (bool, error) {
	child := v.Get(key)
	if child == nil {
		return def, nil
	}
	return child.AsBool()
}

// FromJSON decodes a JSON document into a Value tree.
func FromJSON(data []byte) (*Value, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: decode json: %w", err)
	}
	return fromGo(raw), nil
}

// fromGo converts the result of json.Unmarshal (or yaml.Unmarshal with
// a compatible decoder) into a Value tree.
func fromGo(raw any) *Value {
	switch t := raw.(type) {
	case nil:
		return Null()
	case bool:
		return Bool(t)
	case string:
		return Str(t)
	case int:
		return Int(int64(t))
	case int64:
		return Int(t)
	case float64:
		return Int(int64(t))
	case []any:
		items := make([]*Value, len(t))
		for i, e := range t {
			items[i] = fromGo(e)
		}
		return List(items...)
	case map[string]any:
		m := make(map[string]*Value, len(t))
		for k, e := range t {
			m[k] = fromGo(e)
		}
		return Map(m)
	default:
		return Null()
	}
}

// ToGo converts a Value tree back into plain Go values (bool, int64,
// string, []any, map[string]any, nil), suitable for re-encoding with
// encoding/json or yaml.v3.
func ToGo(v *Value) any {
	switch v.Kind() {
	case KindBool:
		b, _ := v.AsBool()
		return b
	case KindInt:
		i, _ := v.AsInt()
		return i
	case KindString:
		s, _ := v.AsString()
		return s
	case KindList:
		l, _ := v.AsList()
		out := make([]any, len(l))
		for i, e := range l {
			out[i] = ToGo(e)
		}
		return out
	case KindMap:
		m, _ := v.AsMap()
		out := make(map[string]any, len(m))
		for k, e := range m {
			out[k] = ToGo(e)
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON implements json.Marshaler so a Value can be embedded
// directly in HTTP responses and log fields.
func (v *Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(ToGo(v))
}
