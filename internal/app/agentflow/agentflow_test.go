package agentflow_test

import (
	"context"
	"errors"
	"iter"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/PabloGalante/deckflow-agent/internal/adapters/storage/memory"
	"github.com/PabloGalante/deckflow-agent/internal/app/agentflow"
	"github.com/PabloGalante/deckflow-agent/internal/app/tools"
	"github.com/PabloGalante/deckflow-agent/internal/domain"
)

// scriptedModel answers each agent with its queued responses in order.
type scriptedModel struct {
	mu       sync.Mutex
	replies  map[string][]*domain.ModelResponse
	err      error
	requests []domain.ModelRequest
}

func (m *scriptedModel) GenerateStream(_ context.Context, req domain.ModelRequest) iter.Seq2[*domain.ModelResponse, error] {
	return func(yield func(*domain.ModelResponse, error) bool) {
		m.mu.Lock()
		m.requests = append(m.requests, req)
		if m.err != nil {
			m.mu.Unlock()
			yield(nil, m.err)
			return
		}
		queue := m.replies[req.Agent]
		var next *domain.ModelResponse
		if len(queue) > 0 {
			next, m.replies[req.Agent] = queue[0], queue[1:]
		}
		m.mu.Unlock()

		if next == nil {
			yield(&domain.ModelResponse{Text: "default answer"}, nil)
			return
		}
		if len(next.FunctionCalls) > 0 {
			yield(next, nil)
			return
		}
		// Stream text in two chunks.
		half := len(next.Text) / 2
		if !yield(&domain.ModelResponse{Text: next.Text[:half]}, nil) {
			return
		}
		yield(&domain.ModelResponse{Text: next.Text[half:]}, nil)
	}
}

func (m *scriptedModel) requestsFor(agent string) []domain.ModelRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ModelRequest
	for _, r := range m.requests {
		if r.Agent == agent {
			out = append(out, r)
		}
	}
	return out
}

type echoTool struct{ calls int }

func (t *echoTool) Name() string { return "echo" }
func (t *echoTool) Spec() domain.ToolSpec {
	return domain.ToolSpec{Name: "echo", Parameters: map[string]domain.ParamSpec{"q": {Type: "string"}}}
}
func (t *echoTool) Call(_ context.Context, _ tools.ToolContext, in map[string]any) (map[string]any, error) {
	t.calls++
	return map[string]any{"echo": in["q"]}, nil
}

func leaf(name, key, instruction string, toolNames ...string) *domain.AgentDescriptor {
	return &domain.AgentDescriptor{Name: name, OutputKey: key, Instruction: instruction, Tools: toolNames}
}

func newInvoker(model domain.ModelClient, reg *tools.Registry, policy agentflow.DrainPolicy) (*agentflow.Invoker, *memory.SessionStore) {
	sessions := memory.NewSessionStore()
	runner := agentflow.NewRunner(model, reg, "test-model")
	return agentflow.NewInvoker(runner, sessions, policy), sessions
}

func TestInvokeReturnsOutputKeyValue(t *testing.T) {
	model := &scriptedModel{replies: map[string][]*domain.ModelResponse{
		"interp": {{Text: `{"interpretation":"x"}`}},
	}}
	inv, sessions := newInvoker(model, nil, agentflow.DrainFully)

	v, err := inv.Invoke(context.Background(), agentflow.Invocation{
		Agent:         leaf("interp", "job_plan", "Interpret."),
		CorrelationID: "job-1",
		MessageParts:  []string{"Interpret the job request", "Prompt: p"},
		Namespace:     "job_interpreter_app",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"interpretation":"x"}`, v)
	assert.Equal(t, 0, sessions.Len(), "scope must be torn down")

	reqs := model.requestsFor("interp")
	require.Len(t, reqs, 1)
	assert.Equal(t, "test-model", reqs[0].Model)
	require.Len(t, reqs[0].Contents, 1)
	parts := reqs[0].Contents[0].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, "Interpret the job request", parts[0].Text)
	assert.Equal(t, "Prompt: p", parts[1].Text)
}

func TestInvokeDoesNotTouchCallerState(t *testing.T) {
	model := &scriptedModel{replies: map[string][]*domain.ModelResponse{
		"arch": {{Text: "<SlideIdeas/>"}},
	}}
	inv, _ := newInvoker(model, nil, agentflow.DrainFully)

	caller := domain.NewState(map[string]any{"goal": "grow", "secret": "keep"})
	seed := caller.Isolate("goal")

	_, err := inv.Invoke(context.Background(), agentflow.Invocation{
		Agent:         leaf("arch", "simple_deck_slides_xml", "Goal: {goal}"),
		CorrelationID: "job-1",
		InitialState:  seed,
		Namespace:     "simple_deck_architect_app",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"goal", "secret"}, caller.Keys())
	_, leaked := seed.Get("simple_deck_slides_xml")
	assert.False(t, leaked)
	assert.Equal(t, "Goal: grow", model.requestsFor("arch")[0].SystemInstruction)
}

func TestInvokeMissingOutput(t *testing.T) {
	model := &scriptedModel{}
	inv, sessions := newInvoker(model, nil, agentflow.DrainFully)

	v, err := inv.Invoke(context.Background(), agentflow.Invocation{
		Agent:         leaf("a", "real_key", "i"),
		CorrelationID: "job-1",
		Namespace:     "ns",
		OutputKey:     "other_key",
	})
	assert.Nil(t, v)
	assert.True(t, agentflow.IsFailureKind(err, agentflow.FailureMissingOutput))
	assert.True(t, errors.Is(err, agentflow.ErrMissingOutput))
	assert.Equal(t, 0, sessions.Len())
}

func TestInvokeModelError(t *testing.T) {
	model := &scriptedModel{err: errors.New("503 unavailable")}
	inv, sessions := newInvoker(model, nil, agentflow.DrainFully)

	v, err := inv.Invoke(context.Background(), agentflow.Invocation{
		Agent:         leaf("a", "k", "i"),
		CorrelationID: "job-1",
		Namespace:     "ns",
	})
	assert.Nil(t, v)
	assert.True(t, agentflow.IsFailureKind(err, agentflow.FailureInvocation))
	assert.ErrorContains(t, err, "503 unavailable")
	assert.Equal(t, 0, sessions.Len(), "scope must be torn down after failure")
}

func TestInvokeMissingRequiredTemplateKey(t *testing.T) {
	inv, _ := newInvoker(&scriptedModel{}, nil, agentflow.DrainFully)

	_, err := inv.Invoke(context.Background(), agentflow.Invocation{
		Agent:         leaf("script", "script_output", "Plan: {analysis_proposals}"),
		CorrelationID: "job-1",
		Namespace:     "ns",
	})
	assert.True(t, agentflow.IsFailureKind(err, agentflow.FailureInvocation))
}

type brokenSessions struct {
	*memory.SessionStore
	failGet bool
}

func (b *brokenSessions) CreateScope(ctx context.Context, key domain.ScopeKey, seed domain.State) (*domain.Scope, error) {
	if !b.failGet {
		return nil, errors.New("backend down")
	}
	return b.SessionStore.CreateScope(ctx, key, seed)
}

func (b *brokenSessions) GetScope(ctx context.Context, key domain.ScopeKey) (*domain.Scope, error) {
	if b.failGet {
		return nil, errors.New("backend down")
	}
	return b.SessionStore.GetScope(ctx, key)
}

func TestInvokeScopeUnavailable(t *testing.T) {
	for _, failGet := range []bool{false, true} {
		sessions := &brokenSessions{SessionStore: memory.NewSessionStore(), failGet: failGet}
		runner := agentflow.NewRunner(&scriptedModel{}, nil, "m")
		inv := agentflow.NewInvoker(runner, sessions, agentflow.DrainFully)

		v, err := inv.Invoke(context.Background(), agentflow.Invocation{
			Agent:         leaf("a", "k", "i"),
			CorrelationID: "job-1",
			Namespace:     "ns",
		})
		assert.Nil(t, v)
		assert.True(t, agentflow.IsFailureKind(err, agentflow.FailureScopeUnavailable), "failGet=%v", failGet)
		assert.True(t, errors.Is(err, agentflow.ErrScopeUnavailable))
		assert.Equal(t, 0, sessions.Len())
	}
}

func TestCompositeSharesScopeAndHistory(t *testing.T) {
	model := &scriptedModel{replies: map[string][]*domain.ModelResponse{
		"analyst": {{Text: "use table sales"}},
		"script":  {{Text: "<Slide id=\"1\"/>"}},
	}}
	inv, _ := newInvoker(model, nil, agentflow.DrainFully)

	composite := &domain.AgentDescriptor{
		Name: "combo",
		SubAgents: []*domain.AgentDescriptor{
			leaf("analyst", "analysis_proposals", "Idea: {slide_idea}"),
			leaf("script", "script_output", "Plan: {analysis_proposals}"),
		},
	}

	v, err := inv.Invoke(context.Background(), agentflow.Invocation{
		Agent:         composite,
		CorrelationID: "job-1",
		InitialState:  domain.NewState(map[string]any{"slide_idea": "<SlideIdea/>"}),
		MessageParts:  []string{"<SlideIdea/>"},
		Namespace:     "slide_1",
	})
	require.NoError(t, err)
	assert.Equal(t, `<Slide id="1"/>`, v)

	scriptReq := model.requestsFor("script")[0]
	assert.Equal(t, "Plan: use table sales", scriptReq.SystemInstruction)
	require.Len(t, scriptReq.Contents, 2)
	assert.Equal(t, domain.RoleModel, scriptReq.Contents[1].Role)
	assert.Equal(t, "use table sales", scriptReq.Contents[1].Parts[0].Text)
}

func TestRunnerToolLoop(t *testing.T) {
	model := &scriptedModel{replies: map[string][]*domain.ModelResponse{
		"script": {
			{FunctionCalls: []domain.FunctionCall{{Name: "echo", Args: map[string]any{"q": "SELECT 1"}}}},
			{FunctionCalls: []domain.FunctionCall{{ID: "c2", Name: "missing_tool"}}},
			{Text: "<Slide/>"},
		},
	}}
	tool := &echoTool{}
	reg := tools.NewRegistry(tool)
	inv, _ := newInvoker(model, reg, agentflow.DrainFully)

	var kinds []string
	v, err := inv.Invoke(context.Background(), agentflow.Invocation{
		Agent:         leaf("script", "script_output", "Write the slide.", "echo"),
		CorrelationID: "job-1",
		Namespace:     "slide_1",
		OnEvent: func(ev *agentflow.RunEvent) {
			switch {
			case len(ev.FunctionCalls) > 0:
				kinds = append(kinds, "call")
			case len(ev.FunctionResponses) > 0:
				kinds = append(kinds, "response")
			case ev.Partial:
				kinds = append(kinds, "partial")
			default:
				kinds = append(kinds, "final")
			}
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "<Slide/>", v)
	assert.Equal(t, 1, tool.calls)
	assert.Equal(t, []string{"call", "response", "call", "response", "partial", "partial", "final"}, kinds)

	reqs := model.requestsFor("script")
	require.Len(t, reqs, 3)
	require.Len(t, reqs[0].Tools, 1)
	assert.Equal(t, "echo", reqs[0].Tools[0].Name)

	// opening message, call, response
	second := reqs[1].Contents
	require.Len(t, second, 3)
	resp := second[2].Parts[0].FunctionResponse
	require.NotNil(t, resp)
	assert.Equal(t, "SELECT 1", resp.Response["echo"])
	assert.NotEmpty(t, resp.ID)

	third := reqs[2].Contents
	unknown := third[len(third)-1].Parts[0].FunctionResponse
	require.NotNil(t, unknown)
	assert.Contains(t, unknown.Response["error"], "unknown tool")
}

func TestRunnerToolRoundLimit(t *testing.T) {
	call := &domain.ModelResponse{FunctionCalls: []domain.FunctionCall{{Name: "echo"}}}
	model := &scriptedModel{replies: map[string][]*domain.ModelResponse{
		"looper": {call, call, call},
	}}
	inv, _ := newInvoker(model, tools.NewRegistry(&echoTool{}), agentflow.DrainFully)

	agent := leaf("looper", "out", "loop", "echo")
	agent.MaxToolRounds = 2

	_, err := inv.Invoke(context.Background(), agentflow.Invocation{Agent: agent, CorrelationID: "j", Namespace: "ns"})
	assert.True(t, agentflow.IsFailureKind(err, agentflow.FailureInvocation))
	assert.ErrorContains(t, err, "exceeded 2 tool rounds")
}

// lateWriter emits a final response and then rewrites the output key.
type lateWriter struct{}

func (lateWriter) Run(_ context.Context, agent *domain.AgentDescriptor, scope *domain.Scope, _ domain.Content) iter.Seq2[*agentflow.RunEvent, error] {
	return func(yield func(*agentflow.RunEvent, error) bool) {
		scope.Set(agent.OutputKey, "early")
		if !yield(&agentflow.RunEvent{Author: agent.Name, Text: "early"}, nil) {
			return
		}
		scope.Set(agent.OutputKey, "late")
		yield(&agentflow.RunEvent{Author: agent.Name, StateDelta: map[string]any{agent.OutputKey: "late"}, Partial: true}, nil)
	}
}

func TestDrainPolicies(t *testing.T) {
	cases := []struct {
		policy agentflow.DrainPolicy
		want   string
	}{
		{agentflow.DrainFully, "late"},
		{agentflow.BreakOnFinal, "early"},
	}
	for _, tc := range cases {
		t.Run(string(tc.policy), func(t *testing.T) {
			inv := agentflow.NewInvoker(lateWriter{}, memory.NewSessionStore(), tc.policy)
			v, err := inv.Invoke(context.Background(), agentflow.Invocation{
				Agent:         leaf("a", "out", "i"),
				CorrelationID: "j",
				Namespace:     "ns",
			})
			require.NoError(t, err)
			assert.Equal(t, tc.want, v)
		})
	}
}

func TestBreakOnFinalCutsCompositeShort(t *testing.T) {
	model := &scriptedModel{}
	inv, _ := newInvoker(model, nil, agentflow.BreakOnFinal)

	composite := &domain.AgentDescriptor{
		Name: "combo",
		SubAgents: []*domain.AgentDescriptor{
			leaf("analyst", "analysis_proposals", "a"),
			leaf("script", "script_output", "s"),
		},
	}
	_, err := inv.Invoke(context.Background(), agentflow.Invocation{Agent: composite, CorrelationID: "j", Namespace: "slide_1"})

	assert.True(t, agentflow.IsFailureKind(err, agentflow.FailureMissingOutput))
	assert.Empty(t, model.requestsFor("script"))
}

func TestParseDrainPolicy(t *testing.T) {
	p, err := agentflow.ParseDrainPolicy("")
	require.NoError(t, err)
	assert.Equal(t, agentflow.DrainFully, p)

	p, err = agentflow.ParseDrainPolicy("early_break")
	require.NoError(t, err)
	assert.Equal(t, agentflow.BreakOnFinal, p)

	_, err = agentflow.ParseDrainPolicy("sometimes")
	assert.Error(t, err)
}

func TestAgentToolRunsNestedAgent(t *testing.T) {
	model := &scriptedModel{replies: map[string][]*domain.ModelResponse{
		"script": {
			{FunctionCalls: []domain.FunctionCall{{ID: "v1", Name: agentflow.VisualizerToolName, Args: map[string]any{
				"data": `[{"q":"Q1","v":1}]`, "instruction": "bar chart",
			}}}},
			{Text: "<Slide/>"},
		},
		"visualizer": {{Text: `{"type":"bar"}`}},
	}}
	reg := tools.NewRegistry()
	sessions := memory.NewSessionStore()
	runner := agentflow.NewRunner(model, reg, "m")
	inv := agentflow.NewInvoker(runner, sessions, agentflow.DrainFully)
	reg.Register(agentflow.NewAgentTool(agentflow.VisualizerToolName, leaf("visualizer", "visualization_json", "Chart it."), inv))

	v, err := inv.Invoke(context.Background(), agentflow.Invocation{
		Agent:         leaf("script", "script_output", "s", agentflow.VisualizerToolName),
		CorrelationID: "job-1",
		Namespace:     "slide_1",
	})
	require.NoError(t, err)
	assert.Equal(t, "<Slide/>", v)
	assert.Equal(t, 0, sessions.Len())

	vizReq := model.requestsFor("visualizer")
	require.Len(t, vizReq, 1)
	assert.True(t, strings.HasPrefix(vizReq[0].Contents[0].Parts[0].Text, "Instruction: bar chart"))

	scriptReqs := model.requestsFor("script")
	resp := scriptReqs[1].Contents[2].Parts[0].FunctionResponse
	require.NotNil(t, resp)
	assert.Equal(t, `{"type":"bar"}`, resp.Response["visualization_json"])
}
