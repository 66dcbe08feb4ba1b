package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/PabloGalante/deckflow-agent/internal/app/pipeline"
	"github.com/PabloGalante/deckflow-agent/internal/domain"
	"github.com/PabloGalante/deckflow-agent/internal/observability"
)

// ErrInvalidRequest is returned when a job request fails validation.
var ErrInvalidRequest = errors.New("invalid job request")

// Runner executes a job's pipeline to completion.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) *pipeline.Result
}

// Service is the boundary for submitting jobs and following their progress.
type Service struct {
	runner Runner
	stream domain.EventStream
	jobs   domain.JobStore
	now    func() time.Time
	newID  func() string

	wg      sync.WaitGroup
	mu      sync.Mutex
	running map[domain.JobID]chan struct{}
}

func NewService(runner Runner, stream domain.EventStream, jobs domain.JobStore) *Service {
	return &Service{
		runner: runner,
		stream: stream,
		jobs:   jobs,
		now:    time.Now,
		newID:  uuid.NewString,

		running: make(map[domain.JobID]chan struct{}),
	}
}

type CreateJobInput struct {
	Prompt    string
	Audiences []string
}

type CreateJobOutput struct {
	JobID domain.JobID
}

// CreateJob validates the request, records the job and starts its pipeline in
// the background. It returns before any stage runs.
func (s *Service) CreateJob(ctx context.Context, in CreateJobInput) (*CreateJobOutput, error) {
	if strings.TrimSpace(in.Prompt) == "" {
		return nil, fmt.Errorf("%w: prompt is required", ErrInvalidRequest)
	}
	audiences := append([]string{}, in.Audiences...)

	id := domain.JobID(s.newID())
	log := observability.LoggerFromContext(ctx).With("job_id", id)

	now := s.now()
	job := &domain.Job{
		ID:        id,
		Prompt:    in.Prompt,
		Audiences: audiences,
		Status:    domain.JobStatusSubmitted,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		log.Error("failed to record job", "error", err)
		return nil, err
	}

	// The pipeline outlives the request that created it.
	bg := observability.WithJobID(context.WithoutCancel(ctx), string(id))
	done := make(chan struct{})
	s.mu.Lock()
	s.running[id] = done
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			delete(s.running, id)
			s.mu.Unlock()
			close(done)
		}()
		s.runner.Run(bg, pipeline.Request{
			JobID:     id,
			Prompt:    in.Prompt,
			Audiences: audiences,
		})
	}()

	log.Info("job submitted", "audiences", len(audiences))
	return &CreateJobOutput{JobID: id}, nil
}

// Subscribe yields a connected acknowledgement and then every payload of the
// job's stream from the beginning, until ctx is done.
func (s *Service) Subscribe(ctx context.Context, jobID domain.JobID) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		hello, err := json.Marshal(domain.ConnectedMessage{Type: domain.EventConnected, JobID: jobID})
		if err != nil {
			yield("", err)
			return
		}
		if !yield(string(hello), nil) {
			return
		}

		for ev, err := range s.stream.Subscribe(ctx, jobID) {
			if err != nil {
				yield("", err)
				return
			}
			if !yield(ev.Payload, nil) {
				return
			}
		}
	}
}

// PushDiagnostic appends payload, JSON encoded, to the job's stream.
func (s *Service) PushDiagnostic(ctx context.Context, jobID domain.JobID, payload any) error {
	if jobID == "" {
		return fmt.Errorf("%w: jobId is required", ErrInvalidRequest)
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if _, err := s.stream.Append(ctx, jobID, string(b)); err != nil {
		return fmt.Errorf("push diagnostic: %w", err)
	}
	return nil
}

func (s *Service) GetJob(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	return s.jobs.GetJob(ctx, id)
}

// Done returns a channel closed once the job's pipeline has returned. Jobs
// this process is not running report done immediately.
func (s *Service) Done(id domain.JobID) <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.running[id]; ok {
		return ch
	}
	ch := make(chan struct{})
	close(ch)
	return ch
}

// Wait blocks until every started pipeline has returned.
func (s *Service) Wait() {
	s.wg.Wait()
}
