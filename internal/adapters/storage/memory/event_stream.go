package memory

import (
	"context"
	"iter"
	"sync"
	"time"

	"github.com/PabloGalante/deckflow-agent/internal/domain"
)

// EventStream is an in-process, append-only log per job.
// Subscribers block on a channel that is closed and replaced on every append.
type EventStream struct {
	mu      sync.Mutex
	logs    map[domain.JobID][]domain.Event
	changed chan struct{}
	now     func() time.Time
}

func NewEventStream() *EventStream {
	return &EventStream{
		logs:    make(map[domain.JobID][]domain.Event),
		changed: make(chan struct{}),
		now:     time.Now,
	}
}

func (s *EventStream) Append(_ context.Context, jobID domain.JobID, payload string) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev := domain.Event{
		JobID:     jobID,
		Seq:       uint64(len(s.logs[jobID]) + 1),
		Payload:   payload,
		CreatedAt: s.now(),
	}
	s.logs[jobID] = append(s.logs[jobID], ev)

	close(s.changed)
	s.changed = make(chan struct{})
	return ev, nil
}

// Subscribe yields every event of jobID from the first one, then waits for
// new appends until ctx is done or the consumer stops.
func (s *EventStream) Subscribe(ctx context.Context, jobID domain.JobID) iter.Seq2[domain.Event, error] {
	return func(yield func(domain.Event, error) bool) {
		next := 0
		for {
			if ctx.Err() != nil {
				return
			}
			s.mu.Lock()
			pending := s.logs[jobID][next:]
			wait := s.changed
			s.mu.Unlock()

			// The log only grows, so the slice header stays valid after unlocking.
			for _, ev := range pending {
				if !yield(ev, nil) {
					return
				}
				next++
			}
			if len(pending) > 0 {
				continue
			}

			select {
			case <-ctx.Done():
				return
			case <-wait:
			}
		}
	}
}

// Len returns how many events jobID has.
func (s *EventStream) Len(jobID domain.JobID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logs[jobID])
}
