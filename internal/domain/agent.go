package domain

import "fmt"

// AgentDescriptor is the static configuration of one agent.
// A descriptor with SubAgents is a sequential composite: each sub-agent
// runs in order against the same session scope.
type AgentDescriptor struct {
	Name        string
	Model       string
	Description string
	Instruction string

	// OutputKey is the session-state key the agent's final text is written to.
	// Empty means the agent declares none.
	OutputKey string

	Tools         []string
	SubAgents     []*AgentDescriptor
	MaxToolRounds int
}

// IsComposite reports whether the descriptor only sequences sub-agents.
func (a *AgentDescriptor) IsComposite() bool {
	return len(a.SubAgents) > 0
}

// DefaultOutputKey returns the declared key, or for a composite without one,
// the key of its last sub-agent.
func (a *AgentDescriptor) DefaultOutputKey() string {
	if a.OutputKey != "" {
		return a.OutputKey
	}
	if n := len(a.SubAgents); n > 0 {
		return a.SubAgents[n-1].DefaultOutputKey()
	}
	return ""
}

// ResolveOutputKey picks the caller override when given, otherwise the
// descriptor default.
func (a *AgentDescriptor) ResolveOutputKey(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if key := a.DefaultOutputKey(); key != "" {
		return key, nil
	}
	return "", fmt.Errorf("agent %s declares no output key", a.Name)
}
