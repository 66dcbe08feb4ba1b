package agentflow

import (
	"context"
	"fmt"
	"iter"
	"strings"

	"github.com/PabloGalante/deckflow-agent/internal/app/tools"
	"github.com/PabloGalante/deckflow-agent/internal/domain"
	"github.com/PabloGalante/deckflow-agent/internal/observability"
)

const defaultMaxToolRounds = 4

// RunEvent is one step of an agent run.
type RunEvent struct {
	Author            string
	Text              string
	FunctionCalls     []domain.FunctionCall
	FunctionResponses []domain.FunctionResponse
	// StateDelta has already been applied to the scope when the event is yielded.
	StateDelta map[string]any
	Partial    bool
}

// IsFinalResponse reports whether the event is a complete answer from its
// author rather than a streamed chunk or a tool exchange.
func (e *RunEvent) IsFinalResponse() bool {
	return e != nil && !e.Partial && len(e.FunctionCalls) == 0 && len(e.FunctionResponses) == 0
}

// Runner executes agent descriptors against a model.
type Runner struct {
	model        domain.ModelClient
	tools        *tools.Registry
	defaultModel string
}

func NewRunner(model domain.ModelClient, registry *tools.Registry, defaultModel string) *Runner {
	return &Runner{model: model, tools: registry, defaultModel: defaultModel}
}

// Run executes agent with msg as the opening user turn. Composites run their
// sub-agents in order against the same scope and conversation history. The
// sequence ends after the last final response or the first error.
func (r *Runner) Run(ctx context.Context, agent *domain.AgentDescriptor, scope *domain.Scope, msg domain.Content) iter.Seq2[*RunEvent, error] {
	return func(yield func(*RunEvent, error) bool) {
		history := []domain.Content{msg}
		r.runAgent(ctx, agent, scope, &history, yield)
	}
}

func (r *Runner) runAgent(
	ctx context.Context,
	agent *domain.AgentDescriptor,
	scope *domain.Scope,
	history *[]domain.Content,
	yield func(*RunEvent, error) bool,
) bool {
	if agent.IsComposite() {
		for _, sub := range agent.SubAgents {
			if !r.runAgent(ctx, sub, scope, history, yield) {
				return false
			}
		}
		return true
	}

	log := observability.LoggerFromContext(ctx).With("agent", agent.Name, "scope", scope.Key.String())

	instruction, err := RenderInstruction(agent.Instruction, scope.Snapshot())
	if err != nil {
		yield(nil, fmt.Errorf("agent %s: %w", agent.Name, err))
		return false
	}

	model := agent.Model
	if model == "" {
		model = r.defaultModel
	}
	maxRounds := agent.MaxToolRounds
	if maxRounds <= 0 {
		maxRounds = defaultMaxToolRounds
	}
	specs := r.tools.Specs(agent.Tools)

	for round := 0; ; round++ {
		req := domain.ModelRequest{
			Agent:             agent.Name,
			Model:             model,
			SystemInstruction: instruction,
			Contents:          *history,
			Tools:             specs,
		}

		var (
			text  strings.Builder
			calls []domain.FunctionCall
		)
		for chunk, err := range r.model.GenerateStream(ctx, req) {
			if err != nil {
				yield(nil, fmt.Errorf("agent %s: generate: %w", agent.Name, err))
				return false
			}
			for _, c := range chunk.FunctionCalls {
				if c.ID == "" {
					c.ID = fmt.Sprintf("%s-%d-%d", agent.Name, round, len(calls))
				}
				calls = append(calls, c)
			}
			if chunk.Text == "" {
				continue
			}
			text.WriteString(chunk.Text)
			if !yield(&RunEvent{Author: agent.Name, Text: chunk.Text, Partial: true}, nil) {
				return false
			}
		}

		if len(calls) == 0 {
			final := text.String()
			*history = append(*history, domain.Content{Role: domain.RoleModel, Parts: []domain.Part{{Text: final}}})

			ev := &RunEvent{Author: agent.Name, Text: final}
			if agent.OutputKey != "" {
				ev.StateDelta = map[string]any{agent.OutputKey: final}
				scope.Apply(ev.StateDelta)
			}
			log.Debug("agent final response", "round", round, "chars", len(final))
			return yield(ev, nil)
		}

		if round >= maxRounds {
			yield(nil, fmt.Errorf("agent %s: exceeded %d tool rounds", agent.Name, maxRounds))
			return false
		}

		modelTurn := domain.Content{Role: domain.RoleModel}
		if text.Len() > 0 {
			modelTurn.Parts = append(modelTurn.Parts, domain.Part{Text: text.String()})
		}
		for i := range calls {
			modelTurn.Parts = append(modelTurn.Parts, domain.Part{FunctionCall: &calls[i]})
		}
		*history = append(*history, modelTurn)
		if !yield(&RunEvent{Author: agent.Name, FunctionCalls: calls}, nil) {
			return false
		}

		responses := make([]domain.FunctionResponse, 0, len(calls))
		toolTurn := domain.Content{Role: domain.RoleUser}
		for _, call := range calls {
			tctx := tools.ToolContext{JobID: scope.Key.CorrelationID, Agent: agent.Name, CallID: call.ID}
			out := r.tools.Execute(ctx, tctx, call)
			if errMsg, ok := out["error"]; ok {
				log.Warn("tool call failed", "tool", call.Name, "error", errMsg)
			}
			responses = append(responses, domain.FunctionResponse{ID: call.ID, Name: call.Name, Response: out})
		}
		for i := range responses {
			toolTurn.Parts = append(toolTurn.Parts, domain.Part{FunctionResponse: &responses[i]})
		}
		*history = append(*history, toolTurn)
		if !yield(&RunEvent{Author: agent.Name, FunctionResponses: responses}, nil) {
			return false
		}
	}
}
