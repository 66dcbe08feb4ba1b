package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/PabloGalante/deckflow-agent/internal/domain"
)

type JobStore struct {
	mu   sync.RWMutex
	jobs map[domain.JobID]*domain.Job
}

func NewJobStore() *JobStore {
	return &JobStore{
		jobs: make(map[domain.JobID]*domain.Job),
	}
}

func (s *JobStore) CreateJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", domain.ErrJobExists, job.ID)
	}

	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *JobStore) UpdateJob(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; !exists {
		return fmt.Errorf("%w: %s", domain.ErrJobNotFound, job.ID)
	}

	s.jobs[job.ID] = job.Clone()
	return nil
}

func (s *JobStore) GetJob(_ context.Context, id domain.JobID) (*domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}

	return job.Clone(), nil
}
