package pipeline

import (
	"context"
	"encoding/json"

	"github.com/PabloGalante/deckflow-agent/internal/domain"
	"github.com/PabloGalante/deckflow-agent/internal/observability"
)

// Publisher appends progress to a job's event stream. Publishing is best
// effort: failures are logged and never stop the pipeline.
type Publisher struct {
	stream domain.EventStream
}

func NewPublisher(stream domain.EventStream) *Publisher {
	return &Publisher{stream: stream}
}

// Publish appends payload as is and reports whether it was stored.
func (p *Publisher) Publish(ctx context.Context, jobID domain.JobID, payload string) bool {
	if _, err := p.stream.Append(context.WithoutCancel(ctx), jobID, payload); err != nil {
		observability.LoggerFromContext(ctx).Error("publish event failed", "error", err)
		return false
	}
	return true
}

// PublishJSON encodes v and publishes it.
func (p *Publisher) PublishJSON(ctx context.Context, jobID domain.JobID, v any) bool {
	b, err := json.Marshal(v)
	if err != nil {
		observability.LoggerFromContext(ctx).Error("encode event failed", "error", err)
		return false
	}
	return p.Publish(ctx, jobID, string(b))
}
