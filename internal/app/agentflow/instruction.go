package agentflow

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/PabloGalante/deckflow-agent/internal/domain"
)

var placeholderRe = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_]*)(\?)?\}`)

// RenderInstruction substitutes {key} and {key?} placeholders with values
// from state. Strings are inserted verbatim, other values as JSON. A missing
// required key is an error; a missing optional key renders as "".
func RenderInstruction(tmpl string, state domain.State) (string, error) {
	var missing []string
	out := placeholderRe.ReplaceAllStringFunc(tmpl, func(m string) string {
		sub := placeholderRe.FindStringSubmatch(m)
		key, optional := sub[1], sub[2] == "?"

		v, ok := state.Get(key)
		if !ok || v == nil {
			if !optional {
				missing = append(missing, key)
			}
			return ""
		}
		if s, ok := v.(string); ok {
			return s
		}
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("instruction references missing state keys %v", missing)
	}
	return out, nil
}
