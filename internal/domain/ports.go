package domain

import (
	"context"
	"iter"
)

// ModelClient is the opaque LLM collaborator. GenerateStream yields response
// chunks in order; the sequence ends after the last chunk or the first error.
type ModelClient interface {
	GenerateStream(ctx context.Context, req ModelRequest) iter.Seq2[*ModelResponse, error]
}

type ModelRequest struct {
	// Agent is the name of the agent the request is made for.
	Agent             string
	Model             string
	SystemInstruction string
	Contents          []Content
	Tools             []ToolSpec
}

type Content struct {
	Role  Role
	Parts []Part
}

// Part holds exactly one of Text, FunctionCall or FunctionResponse.
type Part struct {
	Text             string
	FunctionCall     *FunctionCall
	FunctionResponse *FunctionResponse
}

type FunctionCall struct {
	ID   string
	Name string
	Args map[string]any
	// Signature is an opaque provider token echoed back with the call.
	Signature []byte
}

type FunctionResponse struct {
	ID       string
	Name     string
	Response map[string]any
}

type ModelResponse struct {
	Text          string
	FunctionCalls []FunctionCall
}

// ToolSpec declares a callable tool to the model.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]ParamSpec
	Required    []string
}

type ParamSpec struct {
	Type        string // "string", "integer", "number", "boolean"
	Description string
}

// EventStream is the per-job append-only log.
type EventStream interface {
	// Append adds payload to the job's stream and returns the stored event.
	Append(ctx context.Context, jobID JobID, payload string) (Event, error)
	// Subscribe yields the job's events from the beginning, in order, blocking
	// between events until ctx is done.
	Subscribe(ctx context.Context, jobID JobID) iter.Seq2[Event, error]
}

// JobStore keeps job status records.
type JobStore interface {
	CreateJob(ctx context.Context, job *Job) error
	UpdateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id JobID) (*Job, error)
}

// SessionService manages isolated scopes for nested agent invocations.
type SessionService interface {
	CreateScope(ctx context.Context, key ScopeKey, seed State) (*Scope, error)
	GetScope(ctx context.Context, key ScopeKey) (*Scope, error)
	DeleteScope(ctx context.Context, key ScopeKey) error
}

// TableSchema maps column name to declared type.
type TableSchema map[string]string

// DatabaseSchema maps table name to its columns.
type DatabaseSchema map[string]TableSchema

// SchemaFetcher introspects the analytics database.
type SchemaFetcher interface {
	FetchSchema(ctx context.Context) (DatabaseSchema, error)
}
