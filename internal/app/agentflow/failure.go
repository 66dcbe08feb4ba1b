package agentflow

import (
	"errors"
	"fmt"
)

// FailureKind classifies why an invocation produced no value.
type FailureKind int

const (
	// FailureInvocation means the model call or agent run itself failed.
	FailureInvocation FailureKind = iota + 1
	// FailureMissingOutput means the agent ran but left nothing at its output key.
	FailureMissingOutput
	// FailureScopeUnavailable means the isolated state scope could not be
	// created or read back.
	FailureScopeUnavailable
)

func (k FailureKind) String() string {
	switch k {
	case FailureInvocation:
		return "invocation"
	case FailureMissingOutput:
		return "missing_output"
	case FailureScopeUnavailable:
		return "scope_unavailable"
	default:
		return "unknown"
	}
}

var (
	ErrMissingOutput    = errors.New("agent produced no output")
	ErrScopeUnavailable = errors.New("session scope unavailable")
)

// Failure is returned by Invoke when no value could be produced.
type Failure struct {
	Kind  FailureKind
	Agent string
	Err   error
}

func (f *Failure) Error() string {
	return fmt.Sprintf("agent %s: %s: %v", f.Agent, f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// IsFailureKind reports whether err is a *Failure of kind k.
func IsFailureKind(err error, k FailureKind) bool {
	var f *Failure
	return errors.As(err, &f) && f.Kind == k
}
