package agentflow

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/PabloGalante/deckflow-agent/internal/domain"
	"github.com/PabloGalante/deckflow-agent/internal/observability"
)

// DrainPolicy decides when the adapter stops consuming an agent run.
type DrainPolicy string

const (
	// DrainFully consumes every event before reading the scope back.
	DrainFully DrainPolicy = "drain"
	// BreakOnFinal stops at the first final response. Composites are cut
	// short after their first sub-agent under this policy.
	BreakOnFinal DrainPolicy = "early_break"
)

// ParseDrainPolicy maps a configuration value to a policy.
func ParseDrainPolicy(s string) (DrainPolicy, error) {
	switch DrainPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", DrainFully:
		return DrainFully, nil
	case BreakOnFinal:
		return BreakOnFinal, nil
	default:
		return "", fmt.Errorf("unknown drain policy %q", s)
	}
}

// AgentRunner produces the event sequence of one agent run.
type AgentRunner interface {
	Run(ctx context.Context, agent *domain.AgentDescriptor, scope *domain.Scope, msg domain.Content) iter.Seq2[*RunEvent, error]
}

// Invocation describes one isolated agent call.
type Invocation struct {
	Agent         *domain.AgentDescriptor
	CorrelationID string
	InitialState  domain.State
	MessageParts  []string
	Namespace     string
	// OutputKey overrides the descriptor's declared output key when set.
	OutputKey string
	// OnEvent, when set, observes every event the run produces.
	OnEvent func(*RunEvent)
}

// Invoker runs agents inside private session scopes.
type Invoker struct {
	runner   AgentRunner
	sessions domain.SessionService
	policy   DrainPolicy
}

func NewInvoker(runner AgentRunner, sessions domain.SessionService, policy DrainPolicy) *Invoker {
	if policy == "" {
		policy = DrainFully
	}
	return &Invoker{runner: runner, sessions: sessions, policy: policy}
}

// Invoke runs inv.Agent in a fresh scope seeded with exactly inv.InitialState
// and returns the value found at the resolved output key. The scope is deleted
// on return whatever the outcome. Errors are always *Failure.
func (i *Invoker) Invoke(ctx context.Context, inv Invocation) (any, error) {
	agent := inv.Agent
	log := observability.LoggerFromContext(ctx).With(
		"agent", agent.Name,
		"namespace", inv.Namespace,
		"correlation_id", inv.CorrelationID,
	)

	outputKey, err := agent.ResolveOutputKey(inv.OutputKey)
	if err != nil {
		log.Error("agent has no output key", "error", err)
		return nil, &Failure{Kind: FailureMissingOutput, Agent: agent.Name, Err: err}
	}

	key := domain.ScopeKey{Namespace: inv.Namespace, CorrelationID: inv.CorrelationID}
	scope, err := i.sessions.CreateScope(ctx, key, inv.InitialState)
	if err != nil {
		log.Error("create scope failed", "error", err)
		return nil, &Failure{Kind: FailureScopeUnavailable, Agent: agent.Name, Err: fmt.Errorf("%w: %w", ErrScopeUnavailable, err)}
	}
	defer func() {
		if err := i.sessions.DeleteScope(context.WithoutCancel(ctx), key); err != nil {
			log.Warn("delete scope failed", "error", err)
		}
	}()

	msg := domain.Content{Role: domain.RoleUser}
	for _, p := range inv.MessageParts {
		msg.Parts = append(msg.Parts, domain.Part{Text: p})
	}

	start := time.Now()
	log.Info("agent run start", "policy", string(i.policy))

	events := 0
	for ev, err := range i.runner.Run(ctx, agent, scope, msg) {
		if err != nil {
			log.Error("agent run failed", "error", err, "events", events)
			return nil, &Failure{Kind: FailureInvocation, Agent: agent.Name, Err: err}
		}
		events++
		if inv.OnEvent != nil {
			inv.OnEvent(ev)
		}
		if i.policy == BreakOnFinal && ev.IsFinalResponse() {
			break
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, &Failure{Kind: FailureInvocation, Agent: agent.Name, Err: err}
	}

	final, err := i.sessions.GetScope(ctx, key)
	if err != nil {
		log.Error("read scope failed", "error", err)
		return nil, &Failure{Kind: FailureScopeUnavailable, Agent: agent.Name, Err: fmt.Errorf("%w: %w", ErrScopeUnavailable, err)}
	}

	value, ok := final.Get(outputKey)
	if !ok || value == nil {
		log.Error("agent produced no output", "output_key", outputKey, "events", events)
		return nil, &Failure{Kind: FailureMissingOutput, Agent: agent.Name, Err: fmt.Errorf("%w at %q", ErrMissingOutput, outputKey)}
	}

	log.Info("agent run end", "events", events, "elapsed_ms", time.Since(start).Milliseconds())
	return value, nil
}
