package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/PabloGalante/deckflow-agent/internal/app/agentflow"
	"github.com/PabloGalante/deckflow-agent/internal/domain"
	"github.com/PabloGalante/deckflow-agent/internal/observability"
	"github.com/PabloGalante/deckflow-agent/internal/recovery"
)

// Scope namespaces of the stage invocations.
const (
	NamespaceInterpreter = "job_interpreter_app"
	NamespaceArchitect   = "simple_deck_architect_app"
)

// Keys of the stage state.
const (
	KeyPrompt    = "prompt"
	KeyAudiences = "audiences"
	KeyDBSchema  = "db_schema"
	KeyJobPlan   = "job_plan"
	KeyGoal      = "goal"
	KeyContext   = "context"
	KeyOutline   = "simple_deck_slides_xml"
	KeySlideIdea = "slide_idea"
)

// SlideNamespace is the scope namespace of the i-th slide, counted from 1.
func SlideNamespace(i int) string {
	return fmt.Sprintf("slide_%d", i)
}

// Invoker runs one isolated agent call.
type Invoker interface {
	Invoke(ctx context.Context, inv agentflow.Invocation) (any, error)
}

// Config names the agents of each stage.
type Config struct {
	InterpreterAgent string
	ArchitectAgent   string
	SlideAgent       string
	// SlideOutputKey overrides the slide agent's declared output key.
	SlideOutputKey string
	// SchemaText is forwarded to the architect and slide agents as db_schema.
	SchemaText string
}

// DefaultConfig uses the agents of the embedded catalog.
func DefaultConfig() Config {
	return Config{
		InterpreterAgent: agentflow.AgentJobInterpreter,
		ArchitectAgent:   agentflow.AgentDeckArchitect,
		SlideAgent:       agentflow.AgentSlideComposite,
		SlideOutputKey:   "script_output",
	}
}

type Request struct {
	JobID     domain.JobID
	Prompt    string
	Audiences []string
}

// Result is what a finished run hands back for logging and tests.
// Clients read progress from the event stream instead.
type Result struct {
	Plan            map[string]any
	ArchitectOutput any
	Slides          []any
	SlidesFailed    int
	// FailedStage is set when the run stopped before completing.
	FailedStage string
	// State is the stage state once the outline was produced.
	State domain.State
}

// Orchestrator drives a job through interpret, architect and slide filling.
type Orchestrator struct {
	invoker   Invoker
	publisher *Publisher
	jobs      domain.JobStore
	cfg       Config
	now       func() time.Time

	interpreter *domain.AgentDescriptor
	architect   *domain.AgentDescriptor
	slide       *domain.AgentDescriptor
}

func NewOrchestrator(
	invoker Invoker,
	catalog *agentflow.Catalog,
	stream domain.EventStream,
	jobs domain.JobStore,
	cfg Config,
) (*Orchestrator, error) {
	o := &Orchestrator{
		invoker:   invoker,
		publisher: NewPublisher(stream),
		jobs:      jobs,
		cfg:       cfg,
		now:       time.Now,
	}

	var err error
	if o.interpreter, err = catalog.Get(cfg.InterpreterAgent); err != nil {
		return nil, err
	}
	if o.architect, err = catalog.Get(cfg.ArchitectAgent); err != nil {
		return nil, err
	}
	if o.slide, err = catalog.Get(cfg.SlideAgent); err != nil {
		return nil, err
	}
	return o, nil
}

// Run executes the whole pipeline for one job. It never panics and never
// returns an error: a nil result means the job failed before the architect
// produced an outline, or crashed.
func (o *Orchestrator) Run(ctx context.Context, req Request) (result *Result) {
	ctx = observability.WithJobID(ctx, string(req.JobID))
	log := observability.LoggerFromContext(ctx)

	var tr *tracker
	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panic",
				"panic", r,
				"stack", string(debug.Stack()))
			if tr == nil {
				tr = &tracker{o: o, job: &domain.Job{ID: req.JobID, Status: domain.JobStatusSubmitted}}
			}
			o.fail(ctx, tr, tr.job.Status, fmt.Errorf("internal error: %v", r))
			result = nil
		}
	}()
	tr = o.track(ctx, req)

	start := time.Now()
	log.Info("pipeline started", "audiences", len(req.Audiences))

	state := domain.NewState(map[string]any{
		KeyPrompt:    req.Prompt,
		KeyAudiences: nonNil(req.Audiences),
		KeyDBSchema:  o.cfg.SchemaText,
	})

	// Interpreting
	tr.set(ctx, func(j *domain.Job) { j.Status = domain.JobStatusInterpreting })
	audiences, _ := json.Marshal(nonNil(req.Audiences))
	raw, err := o.invoker.Invoke(ctx, agentflow.Invocation{
		Agent:         o.interpreter,
		CorrelationID: string(req.JobID),
		InitialState:  state.Isolate(KeyPrompt, KeyAudiences),
		MessageParts: []string{
			"Interpret the job request",
			"Prompt: " + req.Prompt,
			"Audiences: " + string(audiences),
		},
		Namespace: NamespaceInterpreter,
	})
	if err != nil {
		o.fail(ctx, tr, domain.JobStatusInterpreting, err)
		return nil
	}

	plan, outcome := recovery.DecodeJSON(raw, recovery.DefaultWrapperKeys...)
	if outcome != recovery.OutcomeStructured {
		log.Warn("job plan kept as raw text", "outcome", outcome.String())
	}
	o.publisher.PublishJSON(ctx, req.JobID, plan)

	state = state.
		With(KeyJobPlan, plan).
		With(KeyContext, contextFromPlan(plan))
	if goal, ok := plan["interpretation"].(string); ok && goal != "" {
		state = state.With(KeyGoal, goal)
	}

	// ArchitectingOutline
	tr.set(ctx, func(j *domain.Job) { j.Status = domain.JobStatusArchitecting })
	archState := state.Isolate(KeyGoal, KeyContext, KeyDBSchema)
	stateJSON, _ := json.Marshal(archState.Map())
	archRaw, err := o.invoker.Invoke(ctx, agentflow.Invocation{
		Agent:         o.architect,
		CorrelationID: string(req.JobID),
		InitialState:  archState,
		MessageParts:  []string{"Generate presentation outline with the following state: " + string(stateJSON)},
		Namespace:     NamespaceArchitect,
	})
	if err != nil {
		o.fail(ctx, tr, domain.JobStatusArchitecting, err)
		return nil
	}

	archText := asText(archRaw)
	o.publisher.Publish(ctx, req.JobID, archText)
	state = state.With(KeyOutline, archText)
	result = &Result{Plan: plan, ArchitectOutput: archRaw, State: state}

	root, err := recovery.ParseXMLLoose(archText)
	if err != nil {
		log.Error("architect output is not recoverable xml",
			"error", err,
			"raw", archText)
		o.fail(ctx, tr, domain.JobStatusFillingSlides, err)
		result.FailedStage = string(domain.JobStatusFillingSlides)
		return result
	}

	// FillingSlides
	ideas := root.ChildElements()
	tr.set(ctx, func(j *domain.Job) {
		j.Status = domain.JobStatusFillingSlides
		j.SlidesTotal = len(ideas)
	})
	log.Info("filling slides", "slides", len(ideas))

	for i, idea := range ideas {
		n := i + 1
		slideLog := log.With("slide", n)

		ideaXML, err := recovery.SerializeElement(idea)
		if err != nil {
			slideLog.Error("serialize slide idea failed", "error", err)
			result.SlidesFailed++
			tr.set(ctx, func(j *domain.Job) { j.SlidesFailed++ })
			continue
		}

		value, err := o.invoker.Invoke(ctx, agentflow.Invocation{
			Agent:         o.slide,
			CorrelationID: string(req.JobID),
			InitialState:  state.With(KeySlideIdea, ideaXML).Isolate(KeySlideIdea, KeyDBSchema),
			MessageParts:  []string{ideaXML},
			Namespace:     SlideNamespace(n),
			OutputKey:     o.cfg.SlideOutputKey,
		})
		if err != nil {
			slideLog.Error("slide failed", "error", err)
			result.SlidesFailed++
			tr.set(ctx, func(j *domain.Job) { j.SlidesFailed++ })
			continue
		}

		o.publisher.Publish(ctx, req.JobID, asText(value))
		result.Slides = append(result.Slides, value)
		tr.set(ctx, func(j *domain.Job) { j.SlidesPublished++ })
	}

	// Completed
	tr.set(ctx, func(j *domain.Job) { j.Status = domain.JobStatusCompleted })
	o.publisher.PublishJSON(ctx, req.JobID, domain.TerminalMessage{
		Type:  domain.EventJobCompleted,
		JobID: req.JobID,
		Slides: &domain.SlideSummary{
			Total:     len(ideas),
			Published: len(result.Slides),
			Failed:    result.SlidesFailed,
		},
	})
	log.Info("pipeline completed",
		"slides_published", len(result.Slides),
		"slides_failed", result.SlidesFailed,
		"elapsed_ms", time.Since(start).Milliseconds())
	return result
}

func (o *Orchestrator) fail(ctx context.Context, tr *tracker, stage domain.JobStatus, err error) {
	observability.LoggerFromContext(ctx).Error("pipeline failed",
		"stage", string(stage),
		"error", err)

	tr.set(ctx, func(j *domain.Job) {
		j.Status = domain.JobStatusFailed
		j.Stage = string(stage)
		j.Error = err.Error()
	})
	o.publisher.PublishJSON(ctx, tr.job.ID, domain.TerminalMessage{
		Type:  domain.EventJobFailed,
		JobID: tr.job.ID,
		Stage: string(stage),
		Error: err.Error(),
	})
}

// contextFromPlan renders audience_strategies as JSON, or {} when absent.
func contextFromPlan(plan map[string]any) string {
	strategies, ok := plan["audience_strategies"].(map[string]any)
	if !ok {
		return "{}"
	}
	b, err := json.Marshal(strategies)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// asText returns strings unchanged and encodes anything else as JSON.
func asText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
