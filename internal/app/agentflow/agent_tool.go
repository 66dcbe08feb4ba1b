package agentflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/PabloGalante/deckflow-agent/internal/app/tools"
	"github.com/PabloGalante/deckflow-agent/internal/domain"
)

// VisualizerToolName is the tool name under which the visualizer agent is exposed.
const VisualizerToolName = "visualizer_tool"

// AgentTool exposes an agent as a tool other agents can call. Each call runs
// the agent through the Invoker in its own scope.
type AgentTool struct {
	name    string
	agent   *domain.AgentDescriptor
	invoker *Invoker
}

func NewAgentTool(name string, agent *domain.AgentDescriptor, invoker *Invoker) *AgentTool {
	return &AgentTool{name: name, agent: agent, invoker: invoker}
}

func (t *AgentTool) Name() string {
	return t.name
}

func (t *AgentTool) Spec() domain.ToolSpec {
	return domain.ToolSpec{
		Name:        t.name,
		Description: t.agent.Description,
		Parameters: map[string]domain.ParamSpec{
			"data":        {Type: "string", Description: "JSON data to visualize."},
			"instruction": {Type: "string", Description: "What the visualization should show."},
		},
		Required: []string{"data", "instruction"},
	}
}

// Call expects {"data": "...", "instruction": "..."} and answers with
// {<output_key>: value}.
func (t *AgentTool) Call(ctx context.Context, tctx tools.ToolContext, input map[string]any) (map[string]any, error) {
	data, _ := input["data"].(string)
	instruction, _ := input["instruction"].(string)
	if data == "" && instruction == "" {
		return nil, errors.New("data or instruction is required")
	}

	key, err := t.agent.ResolveOutputKey("")
	if err != nil {
		return nil, err
	}

	value, err := t.invoker.Invoke(ctx, Invocation{
		Agent:         t.agent,
		CorrelationID: fmt.Sprintf("%s/%s", tctx.JobID, tctx.CallID),
		InitialState:  domain.NewState(map[string]any{"data": data, "instruction": instruction}),
		MessageParts:  []string{"Instruction: " + instruction, "Data: " + data},
		Namespace:     t.name,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{key: value}, nil
}
