package domain

import (
	"maps"
	"slices"
)

// State is an immutable key/value context threaded through pipeline stages.
// Every method that changes content returns a new State.
type State struct {
	values map[string]any
}

// NewState copies kv deeply.
func NewState(kv map[string]any) State {
	return State{values: cloneMap(kv)}
}

func (s State) Get(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

// String returns the value at key when it is a string, "" otherwise.
func (s State) String(key string) string {
	v, _ := s.values[key].(string)
	return v
}

func (s State) Len() int {
	return len(s.values)
}

func (s State) Keys() []string {
	return slices.Sorted(maps.Keys(s.values))
}

// With returns a copy of s with key set to v.
func (s State) With(key string, v any) State {
	out := cloneMap(s.values)
	if out == nil {
		out = make(map[string]any, 1)
	}
	out[key] = cloneValue(v)
	return State{values: out}
}

// Isolate builds a child state seeded with only the named keys.
func (s State) Isolate(keys ...string) State {
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		if v, ok := s.values[k]; ok {
			out[k] = cloneValue(v)
		}
	}
	return State{values: out}
}

// Map returns a deep copy of the underlying values.
func (s State) Map() map[string]any {
	out := cloneMap(s.values)
	if out == nil {
		out = map[string]any{}
	}
	return out
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return slices.Clone(t)
	case map[string]string:
		return maps.Clone(t)
	default:
		return v
	}
}
