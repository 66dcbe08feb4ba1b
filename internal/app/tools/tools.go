package tools

import (
	"context"
	"fmt"
	"slices"

	"github.com/PabloGalante/deckflow-agent/internal/domain"
)

// ToolContext brings metadata of the call to the tool
type ToolContext struct {
	JobID  string
	Agent  string
	CallID string
}

// Tool represents a tool agents can invoke
// input/output is a generic map to maintain flexibility.
type Tool interface {
	Name() string
	Spec() domain.ToolSpec
	Call(ctx context.Context, tctx ToolContext, input map[string]any) (map[string]any, error)
}

// Registry resolves tool names declared by agents.
type Registry struct {
	tools map[string]Tool
}

func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
	return r
}

// Register adds t, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

// Get returns the tool registered under name.
// A nil registry has no tools.
func (r *Registry) Get(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	t, ok := r.tools[name]
	return t, ok
}

// Specs returns the declarations for names, skipping unknown ones.
func (r *Registry) Specs(names []string) []domain.ToolSpec {
	var out []domain.ToolSpec
	for _, n := range names {
		if t, ok := r.Get(n); ok {
			out = append(out, t.Spec())
		}
	}
	return out
}

// Names lists the registered tools in sorted order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.tools))
	for n := range r.tools {
		out = append(out, n)
	}
	slices.Sort(out)
	return out
}

// Execute runs the named tool and always produces a response payload.
// Failures are reported to the model as {"error": ...} so it can recover.
func (r *Registry) Execute(ctx context.Context, tctx ToolContext, call domain.FunctionCall) map[string]any {
	t, ok := r.Get(call.Name)
	if !ok {
		return map[string]any{"error": fmt.Sprintf("unknown tool %q", call.Name)}
	}
	out, err := t.Call(ctx, tctx, call.Args)
	if err != nil {
		return map[string]any{"error": err.Error()}
	}
	return out
}

// --- internal helpers --- //

func getString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
