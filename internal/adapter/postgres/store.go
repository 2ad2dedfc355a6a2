package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/toolgate/internal/domain"
	"github.com/Strob0t/toolgate/internal/domain/event"
	"github.com/Strob0t/toolgate/internal/domain/task"
	"github.com/Strob0t/toolgate/internal/port/database"
)

// Store implements database.Store using PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ database.Store = (*Store)(nil)

// NewStore creates a new Store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Events ---

const eventColumns = `id, type, user_id, data, metadata, occurred_at, processed, execution_log, created_at`

func scanEvent(row scannable) (event.Event, error) {
	var (
		e                   event.Event
		data, meta, execLog []byte
	)
	if err := row.Scan(&e.ID, &e.Type, &e.UserID, &data, &meta, &e.Timestamp, &e.Processed, &execLog, &e.CreatedAt); err != nil {
		return e, err
	}
	if err := unmarshalJSON(data, &e.Data); err != nil {
		return e, fmt.Errorf("decode event data: %w", err)
	}
	if err := unmarshalJSON(meta, &e.Metadata); err != nil {
		return e, fmt.Errorf("decode event metadata: %w", err)
	}
	if err := unmarshalJSON(execLog, &e.ExecutionLog); err != nil {
		return e, fmt.Errorf("decode execution log: %w", err)
	}
	e.ExecutionLog = orEmpty(e.ExecutionLog)
	return e, nil
}

func (s *Store) CreateEvent(ctx context.Context, e *event.Event) error {
	data, err := marshalJSON(e.Data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	meta, err := marshalJSON(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal event metadata: %w", err)
	}
	execLog, err := json.Marshal(orEmpty(e.ExecutionLog))
	if err != nil {
		return fmt.Errorf("marshal execution log: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO events (id, type, user_id, data, metadata, occurred_at, processed, execution_log, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.Type, e.UserID, data, meta, e.Timestamp, e.Processed, execLog, e.CreatedAt)
	if err != nil {
		return conflictWrap(err, "create event %s", e.ID)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, id string) (*event.Event, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id)
	e, err := scanEvent(row)
	if err != nil {
		return nil, notFoundWrap(err, "get event %s", id)
	}
	return &e, nil
}

// AppendExecutionRecord appends rec to the event's JSONB audit trail in a
// single statement, so concurrent appends never overwrite each other.
func (s *Store) AppendExecutionRecord(ctx context.Context, eventID string, rec event.ExecutionRecord) error {
	entry, err := json.Marshal([]event.ExecutionRecord{rec})
	if err != nil {
		return fmt.Errorf("marshal execution record: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE events SET execution_log = execution_log || $2::jsonb WHERE id = $1`, eventID, entry)
	return execExpectOne(tag, err, "append execution record to %s", eventID)
}

func (s *Store) MarkEventProcessed(ctx context.Context, eventID string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE events SET processed = TRUE WHERE id = $1`, eventID)
	return execExpectOne(tag, err, "mark event %s processed", eventID)
}

func (s *Store) ListUnprocessedEvents(ctx context.Context, limit int) ([]event.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM events WHERE NOT processed ORDER BY created_at, id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Tasks ---

const taskColumns = `id, tool_name, user_id, event_id, status, parameters, result, error, created_at, updated_at, finished_at`

func scanTask(row scannable) (task.Task, error) {
	var (
		t              task.Task
		params, result []byte
	)
	if err := row.Scan(&t.ID, &t.ToolName, &t.UserID, &t.EventID, &t.Status, &params, &result, &t.Error,
		&t.CreatedAt, &t.UpdatedAt, &t.FinishedAt); err != nil {
		return t, err
	}
	if err := unmarshalJSON(params, &t.Parameters); err != nil {
		return t, fmt.Errorf("decode task parameters: %w", err)
	}
	if err := unmarshalJSON(result, &t.Result); err != nil {
		return t, fmt.Errorf("decode task result: %w", err)
	}
	return t, nil
}

func (s *Store) CreateTask(ctx context.Context, t *task.Task) error {
	params, err := json.Marshal(t.Parameters)
	if err != nil {
		return fmt.Errorf("marshal task parameters: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO tasks (id, tool_name, user_id, event_id, status, parameters, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		t.ID, t.ToolName, t.UserID, t.EventID, string(t.Status), params, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return conflictWrap(err, "create task %s", t.ID)
	}
	return nil
}

// FinishTask stores the terminal state of a processing task. A task that
// already finished yields domain.ErrConflict.
func (s *Store) FinishTask(ctx context.Context, t *task.Task) error {
	result, err := marshalJSON(t.Result)
	if err != nil {
		return fmt.Errorf("marshal task result: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE tasks SET status = $2, result = $3, error = $4, updated_at = $5, finished_at = $6
		 WHERE id = $1 AND status = 'processing'`,
		t.ID, string(t.Status), result, t.Error, t.UpdatedAt, nullTime(t.FinishedAt))
	if err != nil {
		return fmt.Errorf("finish task %s: %w", t.ID, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tasks WHERE id = $1)`, t.ID).Scan(&exists); err != nil {
		return fmt.Errorf("finish task %s: %w", t.ID, err)
	}
	if !exists {
		return fmt.Errorf("finish task %s: %w", t.ID, domain.ErrNotFound)
	}
	return fmt.Errorf("finish task %s: already terminal: %w", t.ID, domain.ErrConflict)
}

func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id)
	t, err := scanTask(row)
	if err != nil {
		return nil, notFoundWrap(err, "get task %s", id)
	}
	return &t, nil
}

func (s *Store) ListTasksByEvent(ctx context.Context, eventID string) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE event_id = $1 ORDER BY created_at, id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list tasks for event %s: %w", eventID, err)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}
