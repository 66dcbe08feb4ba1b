package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/PabloGalante/deckflow-agent/internal/domain"
)

const pageSize = 256

// EventStream persists job events in a SQLite database.
// Subscribers are woken by appends made through the same EventStream value;
// appends from other processes are not observed until the next local append.
type EventStream struct {
	db     *sql.DB
	dbPath string
	now    func() time.Time

	mu      sync.Mutex
	waiters map[domain.JobID]chan struct{}
}

// NewEventStream creates or opens the event database at dbPath.
func NewEventStream(dbPath string) (*EventStream, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection serializes sequence allocation.
	db.SetMaxOpenConns(1)

	s := &EventStream{
		db:      db,
		dbPath:  dbPath,
		now:     time.Now,
		waiters: make(map[domain.JobID]chan struct{}),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *EventStream) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *EventStream) Path() string {
	return s.dbPath
}

func (s *EventStream) initSchema() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS events (
		job_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		payload TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (job_id, seq)
	);`)
	return err
}

func (s *EventStream) Append(ctx context.Context, jobID domain.JobID, payload string) (domain.Event, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Event{}, fmt.Errorf("sqlite append begin: %w", err)
	}
	defer tx.Rollback()

	var seq uint64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM events WHERE job_id = ?`, string(jobID),
	).Scan(&seq); err != nil {
		return domain.Event{}, fmt.Errorf("sqlite append next seq: %w", err)
	}

	ev := domain.Event{JobID: jobID, Seq: seq, Payload: payload, CreatedAt: s.now().UTC()}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO events (job_id, seq, payload, created_at) VALUES (?, ?, ?, ?)`,
		string(jobID), seq, payload, ev.CreatedAt.UnixNano(),
	); err != nil {
		return domain.Event{}, fmt.Errorf("sqlite append insert: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Event{}, fmt.Errorf("sqlite append commit: %w", err)
	}

	s.notify(jobID)
	return ev, nil
}

// Subscribe yields the job's events from seq 1, polling the table in pages
// and blocking between appends until ctx is done.
func (s *EventStream) Subscribe(ctx context.Context, jobID domain.JobID) iter.Seq2[domain.Event, error] {
	return func(yield func(domain.Event, error) bool) {
		var after uint64
		for {
			// Take the wait channel before reading so an append in between is not missed.
			wait := s.waitChan(jobID)

			batch, err := s.readAfter(ctx, jobID, after)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				yield(domain.Event{}, err)
				return
			}
			for _, ev := range batch {
				if !yield(ev, nil) {
					return
				}
				after = ev.Seq
			}
			if len(batch) > 0 {
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

func (s *EventStream) readAfter(ctx context.Context, jobID domain.JobID, after uint64) ([]domain.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, payload, created_at FROM events WHERE job_id = ? AND seq > ? ORDER BY seq LIMIT ?`,
		string(jobID), after, pageSize,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite subscribe query: %w", err)
	}
	defer rows.Close()

	var out []domain.Event
	for rows.Next() {
		var (
			ev      domain.Event
			created int64
		)
		if err := rows.Scan(&ev.Seq, &ev.Payload, &created); err != nil {
			return nil, fmt.Errorf("sqlite subscribe scan: %w", err)
		}
		ev.JobID = jobID
		ev.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *EventStream) waitChan(jobID domain.JobID) chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.waiters[jobID]
	if !ok {
		ch = make(chan struct{})
		s.waiters[jobID] = ch
	}
	return ch
}

func (s *EventStream) notify(jobID domain.JobID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.waiters[jobID]; ok {
		close(ch)
		delete(s.waiters, jobID)
	}
}
