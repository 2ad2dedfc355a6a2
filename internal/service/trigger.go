package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	tgotel "github.com/Strob0t/toolgate/internal/adapter/otel"
	"github.com/Strob0t/toolgate/internal/domain"
	"github.com/Strob0t/toolgate/internal/domain/event"
	"github.com/Strob0t/toolgate/internal/domain/task"
	"github.com/Strob0t/toolgate/internal/domain/tool"
	"github.com/Strob0t/toolgate/internal/port/database"
)

// Executor runs one tool invocation.
type Executor interface {
	Execute(ctx context.Context, name string, args map[string]any, cc tool.CallContext) (*task.Task, error)
}

// OutcomeSink receives trigger outcomes. Implementations must not block.
type OutcomeSink interface {
	Outcome(ev *event.Event, rec event.ExecutionRecord)
	Processed(ev *event.Event, attempts int)
}

// TriggerEngine matches a dequeued event against registered triggers and
// runs every match in turn.
type TriggerEngine struct {
	store    database.Store
	tools    *ToolRegistry
	executor Executor
	outcomes OutcomeSink
	metrics  *tgotel.Metrics
	now      func() time.Time
}

// NewTriggerEngine creates a TriggerEngine. outcomes and metrics may be nil.
func NewTriggerEngine(store database.Store, tools *ToolRegistry, executor Executor, outcomes OutcomeSink, metrics *tgotel.Metrics) *TriggerEngine {
	return &TriggerEngine{
		store:    store,
		tools:    tools,
		executor: executor,
		outcomes: outcomes,
		metrics:  metrics,
		now:      time.Now,
	}
}

// matchesFor returns the candidates whose conditions hold for ev, highest
// priority first. Ties are broken by tool name, then trigger index.
func (e *TriggerEngine) matchesFor(ev *event.Event, doc map[string]any) []Candidate {
	var out []Candidate
	for _, c := range e.tools.Matches(ev.Type) {
		if c.Condition.Match(doc) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Trigger.Priority != b.Trigger.Priority {
			return a.Trigger.Priority > b.Trigger.Priority
		}
		if a.Tool.Name != b.Tool.Name {
			return a.Tool.Name < b.Tool.Name
		}
		return a.TriggerIndex < b.TriggerIndex
	})
	return out
}

// Process runs every matching trigger of ev sequentially and marks ev
// processed. A failing match is recorded in the execution log and never
// stops its siblings. Matches already present in the log are skipped, so
// an event interrupted midway resumes where it stopped. A store error
// leaves the event unprocessed for a later retry.
func (e *TriggerEngine) Process(ctx context.Context, ev *event.Event) error {
	ctx, span := tgotel.StartEventSpan(ctx, ev.ID, ev.Type)
	defer span.End()

	doc := ev.Document()
	matches := e.matchesFor(ev, doc)
	attempts := 0

	for _, m := range matches {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ev.Attempted(m.Tool.Name, m.TriggerIndex) {
			continue
		}

		rec := e.attempt(ctx, ev, doc, m)
		if err := e.store.AppendExecutionRecord(ctx, ev.ID, rec); err != nil {
			return fmt.Errorf("%w: append execution record for %s: %w", domain.ErrPersistence, ev.ID, err)
		}
		ev.ExecutionLog = append(ev.ExecutionLog, rec)
		attempts++

		if e.metrics != nil {
			e.metrics.TriggerAttempts.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool", rec.ToolName),
				attribute.String("status", string(rec.Status)),
			))
		}
		if e.outcomes != nil {
			e.outcomes.Outcome(ev, rec)
		}
	}

	if err := e.store.MarkEventProcessed(ctx, ev.ID); err != nil {
		return fmt.Errorf("%w: mark event %s processed: %w", domain.ErrPersistence, ev.ID, err)
	}
	ev.Processed = true

	if e.metrics != nil {
		e.metrics.EventsProcessed.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", ev.Type)))
	}
	if e.outcomes != nil {
		e.outcomes.Processed(ev, attempts)
	}
	slog.Info("event processed", "event_id", ev.ID, "event_type", ev.Type, "matches", len(matches), "attempts", attempts)
	return nil
}

// attempt runs one match and converts its outcome to an execution record.
// Panics from the executor are recovered and recorded as failures.
func (e *TriggerEngine) attempt(ctx context.Context, ev *event.Event, doc map[string]any, m Candidate) (rec event.ExecutionRecord) {
	rec = event.ExecutionRecord{
		ToolName:     m.Tool.Name,
		TriggerType:  m.Trigger.EventType,
		TriggerIndex: m.TriggerIndex,
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("trigger attempt panicked", "event_id", ev.ID, "tool", m.Tool.Name, "panic", r)
			rec.Status = event.RecordFailed
			rec.Error = fmt.Sprintf("panic: %v", r)
			rec.ErrorKind = KindInternal
		}
		rec.Timestamp = e.now()
	}()

	args, err := m.Tool.Schema.BuildArgs(doc, ev.UserID)
	if err != nil {
		rec.Status = event.RecordFailed
		rec.Error = err.Error()
		rec.ErrorKind = ErrorKind(err)
		return rec
	}

	cc := tool.CallContext{
		UserID:        ev.UserID,
		Authenticated: ev.UserID != "",
		EventID:       ev.ID,
		EventType:     ev.Type,
	}
	t, err := e.executor.Execute(ctx, m.Tool.Name, args, cc)
	if t != nil {
		rec.TaskID = t.ID
	}
	if err != nil {
		rec.Status = event.RecordFailed
		rec.Error = err.Error()
		rec.ErrorKind = ErrorKind(err)
		if t != nil && t.Error != "" {
			rec.Error = t.Error
		}
		return rec
	}
	rec.Status = event.RecordSuccess
	rec.Result = t.Result
	return rec
}
