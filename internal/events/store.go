package events

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/roadwatch/roadwatch/internal/database"
)

// ErrNotFound is returned when a run or event does not exist
var ErrNotFound = errors.New("not found")

// Store manages runs and accident events
type Store struct {
	db          *database.DB
	logger      *slog.Logger
	subscribers []chan *Event
	mu          sync.RWMutex
}

// NewStore creates a new event store
func NewStore(db *database.DB) *Store {
	return &Store{
		db:          db,
		logger:      slog.Default().With("component", "event_store"),
		subscribers: make([]chan *Event, 0),
	}
}

// Subscribe returns a channel that receives new accident events
func (s *Store) Subscribe() chan *Event {
	ch := make(chan *Event, 100)
	s.mu.Lock()
	s.subscribers = append(s.subscribers, ch)
	s.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscription
func (s *Store) Unsubscribe(ch chan *Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sub := range s.subscribers {
		if sub == ch {
			s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
			close(ch)
			break
		}
	}
}

// CreateRun records the start of an analysis run
func (s *Store) CreateRun(ctx context.Context, run *Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	if run.Status == "" {
		run.Status = RunRunning
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (
			id, base_name, source, fps, conf_thres, iou_thres, growth_factor,
			max_frames, frames_processed, event_count, csv_path, status, started_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID, run.BaseName, run.Source, run.FPS, run.ConfThreshold, run.IoUThreshold,
		run.GrowthFactor, run.MaxFrames, run.FramesProcessed, run.EventCount,
		run.CSVPath, string(run.Status), run.StartedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	s.logger.Info("Run created", "id", run.ID, "source", run.Source)
	return nil
}

// FinishRun records the final state of a completed or failed run
func (s *Store) FinishRun(ctx context.Context, id string, status RunStatus, framesProcessed, eventCount int, csvPath string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs
		SET status = ?, frames_processed = ?, event_count = ?, csv_path = ?, finished_at = ?
		WHERE id = ?
	`, string(status), framesProcessed, eventCount, csvPath, time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	s.logger.Info("Run finished", "id", id, "status", status, "events", eventCount)
	return nil
}

// GetRun retrieves a run by ID
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, base_name, source, fps, conf_thres, iou_thres, growth_factor,
		       max_frames, frames_processed, event_count, csv_path, status,
		       started_at, finished_at
		FROM runs WHERE id = ?
	`, id)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns returns runs matching the options, newest first, plus the total count
func (s *Store) ListRuns(ctx context.Context, opts ListOptions) ([]*Run, int, error) {
	where := ""
	args := []interface{}{}
	if opts.Status != "" {
		where = "WHERE status = ?"
		args = append(args, string(opts.Status))
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count runs: %w", err)
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := fmt.Sprintf(`
		SELECT id, base_name, source, fps, conf_thres, iou_thres, growth_factor,
		       max_frames, frames_processed, event_count, csv_path, status,
		       started_at, finished_at
		FROM runs %s
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`, where)
	args = append(args, limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, 0, err
		}
		runs = append(runs, run)
	}

	return runs, total, rows.Err()
}

// CreateEvent records an accident event and notifies subscribers
func (s *Store) CreateEvent(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accident_events (
			id, run_id, event_id, frame, time_seconds, time_hhmmss, snapshot_path, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.ID, event.RunID, event.EventID, event.Frame,
		event.TimeSeconds, event.TimeHHMMSS, event.SnapshotPath, event.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}

	s.notifySubscribers(event)

	s.logger.Info("Accident event recorded", "run", event.RunID, "event_id", event.EventID, "frame", event.Frame)
	return nil
}

// ListEvents returns the events of a run in detection order
func (s *Store) ListEvents(ctx context.Context, runID string) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, event_id, frame, time_seconds, time_hhmmss, snapshot_path, created_at
		FROM accident_events
		WHERE run_id = ?
		ORDER BY event_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var result []*Event
	for rows.Next() {
		var ev Event
		var createdAt int64
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.EventID, &ev.Frame,
			&ev.TimeSeconds, &ev.TimeHHMMSS, &ev.SnapshotPath, &createdAt); err != nil {
			return nil, err
		}
		ev.CreatedAt = time.Unix(createdAt, 0)
		result = append(result, &ev)
	}

	return result, rows.Err()
}

func (s *Store) notifySubscribers(event *Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
}

// scanner lets scanRun work with both *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(sc scanner) (*Run, error) {
	var run Run
	var status string
	var startedAt int64
	var finishedAt sql.NullInt64

	err := sc.Scan(&run.ID, &run.BaseName, &run.Source, &run.FPS,
		&run.ConfThreshold, &run.IoUThreshold, &run.GrowthFactor,
		&run.MaxFrames, &run.FramesProcessed, &run.EventCount,
		&run.CSVPath, &status, &startedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	run.Status = RunStatus(status)
	run.StartedAt = time.Unix(startedAt, 0)
	if finishedAt.Valid {
		t := time.Unix(finishedAt.Int64, 0)
		run.FinishedAt = &t
	}

	return &run, nil
}
