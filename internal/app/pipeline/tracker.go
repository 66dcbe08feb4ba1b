package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/PabloGalante/deckflow-agent/internal/domain"
	"github.com/PabloGalante/deckflow-agent/internal/observability"
)

// tracker records status transitions of one job. Writes are best effort.
type tracker struct {
	store domain.JobStore
	job   *domain.Job
	o     *Orchestrator
}

func (o *Orchestrator) track(ctx context.Context, req Request) *tracker {
	tr := &tracker{store: o.jobs, o: o}
	if o.jobs != nil {
		var job *domain.Job
		err := guard(func() (err error) {
			job, err = o.jobs.GetJob(ctx, req.JobID)
			return err
		})
		if err == nil && job != nil {
			tr.job = job
			return tr
		}
	}

	now := o.now()
	tr.job = &domain.Job{
		ID:        req.JobID,
		Prompt:    req.Prompt,
		Audiences: req.Audiences,
		Status:    domain.JobStatusSubmitted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if o.jobs != nil {
		err := guard(func() error { return o.jobs.CreateJob(ctx, tr.job) })
		if err != nil && !errors.Is(err, domain.ErrJobExists) {
			observability.LoggerFromContext(ctx).Warn("record job failed", "error", err)
		}
	}
	return tr
}

func (t *tracker) set(ctx context.Context, mutate func(*domain.Job)) {
	mutate(t.job)
	t.job.UpdatedAt = t.o.now()
	if t.store == nil {
		return
	}
	err := guard(func() error { return t.store.UpdateJob(context.WithoutCancel(ctx), t.job) })
	if err != nil {
		observability.LoggerFromContext(ctx).Warn("record job status failed",
			"status", string(t.job.Status),
			"error", err)
	}
}

// guard runs a job store call and turns a panic into an error.
func guard(call func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job store panic: %v", r)
		}
	}()
	return call()
}
