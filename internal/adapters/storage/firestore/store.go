package firestore

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PabloGalante/deckflow-agent/internal/domain"
)

type Store struct {
	client *firestore.Client
	now    func() time.Time
}

// NewStore creates a Firestore store.
// Uses the project passed (DECKFLOW_GCP_PROJECT).
func NewStore(ctx context.Context, projectID string) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &Store{client: client, now: time.Now}, nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

// ─────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────

func (s *Store) jobsCol() *firestore.CollectionRef {
	return s.client.Collection("jobs")
}

func (s *Store) jobDoc(id domain.JobID) *firestore.DocumentRef {
	return s.jobsCol().Doc(string(id))
}

func (s *Store) eventsCol(jobID domain.JobID) *firestore.CollectionRef {
	return s.jobDoc(jobID).Collection("events")
}

// eventDocID zero-pads seq so document ids sort like sequence numbers.
func eventDocID(seq uint64) string {
	return fmt.Sprintf("%020d", seq)
}

// ─────────────────────────────────────────
// Firestore Types
// ─────────────────────────────────────────

type jobDoc struct {
	Prompt          string    `firestore:"prompt"`
	Audiences       []string  `firestore:"audiences"`
	Status          string    `firestore:"status"`
	Stage           string    `firestore:"stage"`
	Error           string    `firestore:"error"`
	SlidesTotal     int       `firestore:"slides_total"`
	SlidesPublished int       `firestore:"slides_published"`
	SlidesFailed    int       `firestore:"slides_failed"`
	CreatedAt       time.Time `firestore:"created_at"`
	UpdatedAt       time.Time `firestore:"updated_at"`
}

type eventDoc struct {
	Seq       int64     `firestore:"seq"`
	Payload   string    `firestore:"payload"`
	CreatedAt time.Time `firestore:"created_at"`
}

func toJobDoc(job *domain.Job) jobDoc {
	return jobDoc{
		Prompt:          job.Prompt,
		Audiences:       job.Audiences,
		Status:          string(job.Status),
		Stage:           job.Stage,
		Error:           job.Error,
		SlidesTotal:     job.SlidesTotal,
		SlidesPublished: job.SlidesPublished,
		SlidesFailed:    job.SlidesFailed,
		CreatedAt:       job.CreatedAt,
		UpdatedAt:       job.UpdatedAt,
	}
}

// ─────────────────────────────────────────
// JobStore implementation
// ─────────────────────────────────────────

func (s *Store) CreateJob(ctx context.Context, job *domain.Job) error {
	_, err := s.jobDoc(job.ID).Create(ctx, toJobDoc(job))
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return fmt.Errorf("%w: %s", domain.ErrJobExists, job.ID)
		}
		return fmt.Errorf("firestore CreateJob: %w", err)
	}
	return nil
}

func (s *Store) UpdateJob(ctx context.Context, job *domain.Job) error {
	d := toJobDoc(job)
	doc := map[string]interface{}{
		"prompt":           d.Prompt,
		"audiences":        d.Audiences,
		"status":           d.Status,
		"stage":            d.Stage,
		"error":            d.Error,
		"slides_total":     d.SlidesTotal,
		"slides_published": d.SlidesPublished,
		"slides_failed":    d.SlidesFailed,
		"created_at":       d.CreatedAt,
		"updated_at":       d.UpdatedAt,
	}

	// MergeAll keeps the next_seq counter owned by Append.
	_, err := s.jobDoc(job.ID).Set(ctx, doc, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("firestore UpdateJob: %w", err)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id domain.JobID) (*domain.Job, error) {
	snap, err := s.jobDoc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("firestore GetJob: %w", err)
	}

	var doc jobDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("firestore GetJob decode: %w", err)
	}
	// A job document created only by Append has no status yet.
	if doc.Status == "" {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}

	return &domain.Job{
		ID:              id,
		Prompt:          doc.Prompt,
		Audiences:       doc.Audiences,
		Status:          domain.JobStatus(doc.Status),
		Stage:           doc.Stage,
		Error:           doc.Error,
		SlidesTotal:     doc.SlidesTotal,
		SlidesPublished: doc.SlidesPublished,
		SlidesFailed:    doc.SlidesFailed,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
	}, nil
}

// ─────────────────────────────────────────
// EventStream implementation
// ─────────────────────────────────────────

// Append allocates the next sequence number from the job document's
// next_seq counter and stores the event in the same transaction.
func (s *Store) Append(ctx context.Context, jobID domain.JobID, payload string) (domain.Event, error) {
	var ev domain.Event
	jobRef := s.jobDoc(jobID)

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		seq := int64(1)
		snap, err := tx.Get(jobRef)
		switch {
		case status.Code(err) == codes.NotFound:
		case err != nil:
			return err
		default:
			if v, err := snap.DataAt("next_seq"); err == nil {
				if n, ok := v.(int64); ok && n > 0 {
					seq = n
				}
			}
		}

		now := s.now().UTC()
		if err := tx.Set(jobRef, map[string]interface{}{"next_seq": seq + 1}, firestore.MergeAll); err != nil {
			return err
		}
		if err := tx.Create(s.eventsCol(jobID).Doc(eventDocID(uint64(seq))), eventDoc{
			Seq:       seq,
			Payload:   payload,
			CreatedAt: now,
		}); err != nil {
			return err
		}

		ev = domain.Event{JobID: jobID, Seq: uint64(seq), Payload: payload, CreatedAt: now}
		return nil
	})
	if err != nil {
		return domain.Event{}, fmt.Errorf("firestore Append: %w", err)
	}
	return ev, nil
}

// Subscribe listens to the job's events collection. Every snapshot is
// filtered by the last delivered sequence, so each event is yielded once and
// in order.
func (s *Store) Subscribe(ctx context.Context, jobID domain.JobID) iter.Seq2[domain.Event, error] {
	return func(yield func(domain.Event, error) bool) {
		snaps := s.eventsCol(jobID).OrderBy("seq", firestore.Asc).Snapshots(ctx)
		defer snaps.Stop()

		var last int64
		for {
			qs, err := snaps.Next()
			if err != nil {
				if errors.Is(err, iterator.Done) || ctx.Err() != nil || status.Code(err) == codes.Canceled {
					return
				}
				yield(domain.Event{}, fmt.Errorf("firestore Subscribe: %w", err))
				return
			}

			docs, err := qs.Documents.GetAll()
			if err != nil {
				yield(domain.Event{}, fmt.Errorf("firestore Subscribe read: %w", err))
				return
			}
			for _, snap := range docs {
				var doc eventDoc
				if err := snap.DataTo(&doc); err != nil {
					yield(domain.Event{}, fmt.Errorf("decode eventDoc: %w", err))
					return
				}
				if doc.Seq <= last {
					continue
				}
				last = doc.Seq
				if !yield(domain.Event{
					JobID:     jobID,
					Seq:       uint64(doc.Seq),
					Payload:   doc.Payload,
					CreatedAt: doc.CreatedAt,
				}, nil) {
					return
				}
			}
		}
	}
}
