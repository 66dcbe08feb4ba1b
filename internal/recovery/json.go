package recovery

import (
	"encoding/json"
	"strings"
)

// Outcome classifies how a model response was recovered.
type Outcome int

const (
	OutcomeStructured Outcome = iota // parsed into a structured value
	OutcomeFallback                  // kept as {"raw": ...}
	OutcomeFailed                    // no usable structure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStructured:
		return "structured"
	case OutcomeFallback:
		return "fallback"
	default:
		return "failed"
	}
}

// RawKey holds the original value when nothing could be parsed.
const RawKey = "raw"

// DefaultWrapperKeys are envelope keys models like to put around the payload.
var DefaultWrapperKeys = []string{"job_plan"}

// ParseJSONLoose decodes raw into a mapping using DefaultWrapperKeys.
func ParseJSONLoose(raw any) map[string]any {
	m, _ := DecodeJSON(raw, DefaultWrapperKeys...)
	return m
}

// DecodeJSON decodes raw into a mapping and reports how it got there.
// A mapping passes through unchanged, any other non-string is wrapped as
// {"raw": raw}. Strings are parsed strictly, then again with fences stripped,
// then via the outermost {...} span; if all fail the original string is
// wrapped.
// A result whose only key is one of wrapperKeys and holds a mapping is
// unwrapped one level.
func DecodeJSON(raw any, wrapperKeys ...string) (map[string]any, Outcome) {
	switch v := raw.(type) {
	case map[string]any:
		return v, OutcomeStructured
	case string:
		return decodeJSONText(v, wrapperKeys)
	default:
		return map[string]any{RawKey: raw}, OutcomeFallback
	}
}

func decodeJSONText(raw string, wrapperKeys []string) (map[string]any, Outcome) {
	// Well-formed input is taken as is, so fence markers inside string
	// values survive.
	if m, ok := decodeObject(strings.TrimSpace(raw)); ok {
		return unwrap(m, wrapperKeys), OutcomeStructured
	}

	text := StripFences(raw)
	if m, ok := decodeObject(text); ok {
		return unwrap(m, wrapperKeys), OutcomeStructured
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start != -1 && end > start {
		if m, ok := decodeObject(text[start : end+1]); ok {
			return unwrap(m, wrapperKeys), OutcomeStructured
		}
	}

	return map[string]any{RawKey: raw}, OutcomeFallback
}

func decodeObject(s string) (map[string]any, bool) {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}

func unwrap(m map[string]any, wrapperKeys []string) map[string]any {
	if len(m) != 1 {
		return m
	}
	for _, k := range wrapperKeys {
		if inner, ok := m[k].(map[string]any); ok {
			return inner
		}
	}
	return m
}
