package config

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// FromYAML decodes a YAML document into a Value tree. Operators may
// author a RECONFIGURE classes document as YAML on disk; it is decoded
// through this path into the same tree a JSON command envelope would
// produce.
func FromYAML(data []byte) (*Value, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	return fromYAMLGo(raw), nil
}

// fromYAMLGo is like fromGo but also handles the map[any]any and
// []any shapes gopkg.in/yaml.v3 produces for untyped documents.
func fromYAMLGo(raw any) *Value {
	switch t := raw.(type) {
	case map[string]any:
		m := make(map[string]*Value, len(t))
		for k, e := range t {
			m[k] = fromYAMLGo(e)
		}
		return Map(m)
	case map[any]any:
		m := make(map[string]*Value, len(t))
		for k, e := range t {
			m[fmt.Sprint(k)] = fromYAMLGo(e)
		}
		return Map(m)
	case []any:
		items := make([]*Value, len(t))
		for i, e := range t {
			items[i] = fromYAMLGo(e)
		}
		return List(items...)
	default:
		return fromGo(raw)
	}
}
