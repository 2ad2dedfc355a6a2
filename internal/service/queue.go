package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	tgotel "github.com/Strob0t/toolgate/internal/adapter/otel"
	"github.com/Strob0t/toolgate/internal/domain"
	"github.com/Strob0t/toolgate/internal/domain/event"
	"github.com/Strob0t/toolgate/internal/port/database"
)

// Processor handles one dequeued event.
type Processor interface {
	Process(ctx context.Context, ev *event.Event) error
}

// ConsumerLock is a system-wide lease on event consumption. At most one
// holder may process events at a time.
type ConsumerLock interface {
	// TryAcquire takes the lock without blocking and reports whether it is
	// now held. Calling it while holding the lock returns true.
	TryAcquire(ctx context.Context) (bool, error)
	// Check returns an error once a held lock has been lost.
	Check(ctx context.Context) error
	Release(ctx context.Context) error
}

// QueueOptions tunes the consumer loop.
type QueueOptions struct {
	PollInterval time.Duration
	RescanOnIdle bool
	ReplayBatch  int
	// Lock, when set, makes the queue consume only while it holds the lock.
	// While another process holds it the queue stands by, only persisting
	// events, and retries every PollInterval. Idle rescans are forced on so
	// the holder picks up events stored by standby replicas.
	Lock ConsumerLock
}

// EventQueue persists events and feeds them, strictly in arrival order, to
// a single consumer goroutine. Only one event is processed at a time across
// the whole process; a slow tool delays every later event.
type EventQueue struct {
	store   database.Store
	proc    Processor
	metrics *tgotel.Metrics
	opts    QueueOptions
	now     func() time.Time

	mu      sync.Mutex
	pending []string
	queued  map[string]bool
	signal  chan struct{}

	leading atomic.Bool

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEventQueue creates an EventQueue. metrics may be nil.
func NewEventQueue(store database.Store, proc Processor, metrics *tgotel.Metrics, opts QueueOptions) *EventQueue {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.ReplayBatch <= 0 {
		opts.ReplayBatch = 500
	}
	if opts.Lock != nil {
		opts.RescanOnIdle = true
	}
	q := &EventQueue{
		store:   store,
		proc:    proc,
		metrics: metrics,
		opts:    opts,
		now:     time.Now,
		queued:  make(map[string]bool),
		signal:  make(chan struct{}, 1),
	}
	q.leading.Store(opts.Lock == nil)
	return q
}

// Leading reports whether this queue is the active consumer.
func (q *EventQueue) Leading() bool { return q.leading.Load() }

// Enqueue validates and persists ev, then schedules it. ID and timestamps
// are assigned when unset. The returned event is the stored one.
func (q *EventQueue) Enqueue(ctx context.Context, ev *event.Event) (*event.Event, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}
	now := q.now().UTC()
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = now
	}
	ev.CreatedAt = now
	ev.Processed = false
	ev.ExecutionLog = []event.ExecutionRecord{}

	if err := q.store.CreateEvent(ctx, ev); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: create event: %w", domain.ErrPersistence, err)
	}

	q.push(ctx, ev.ID)
	if q.metrics != nil {
		q.metrics.EventsEnqueued.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", ev.Type)))
	}
	slog.Debug("event enqueued", "event_id", ev.ID, "event_type", ev.Type, "user_id", ev.UserID)
	return ev, nil
}

// push appends id unless it is already waiting, and wakes the consumer. A
// standby queue schedules nothing; the event is already stored for the
// active consumer.
func (q *EventQueue) push(ctx context.Context, id string) bool {
	if !q.leading.Load() {
		return false
	}
	q.mu.Lock()
	if q.queued[id] {
		q.mu.Unlock()
		return false
	}
	q.queued[id] = true
	q.pending = append(q.pending, id)
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.QueueDepth.Add(ctx, 1)
	}
	q.wake()
	return true
}

func (q *EventQueue) pop(ctx context.Context) (string, bool) {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return "", false
	}
	id := q.pending[0]
	q.pending[0] = ""
	q.pending = q.pending[1:]
	delete(q.queued, id)
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.QueueDepth.Add(ctx, -1)
	}
	return id, true
}

func (q *EventQueue) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// Len returns the number of events waiting in memory.
func (q *EventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Replay schedules persisted events that were never marked processed,
// oldest first. It returns the number of newly scheduled events.
func (q *EventQueue) Replay(ctx context.Context) (int, error) {
	evs, err := q.store.ListUnprocessedEvents(ctx, q.opts.ReplayBatch)
	if err != nil {
		return 0, fmt.Errorf("%w: list unprocessed events: %w", domain.ErrPersistence, err)
	}
	n := 0
	for i := range evs {
		if q.push(ctx, evs[i].ID) {
			n++
		}
	}
	return n, nil
}

// Start replays unprocessed events and starts the consumer goroutine. With
// a ConsumerLock held elsewhere the goroutine starts in standby.
func (q *EventQueue) Start(ctx context.Context) error {
	if q.opts.Lock != nil {
		ok, err := q.tryLead(ctx)
		if err != nil {
			return err
		}
		if !ok {
			slog.Info("event consumer lock held elsewhere, standing by")
		}
	} else if err := q.replayOnStart(ctx); err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	q.cancel = cancel
	q.done = make(chan struct{})
	go q.loop(loopCtx)
	return nil
}

func (q *EventQueue) replayOnStart(ctx context.Context) error {
	n, err := q.Replay(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("replaying unprocessed events", "count", n)
	}
	return nil
}

// tryLead takes the consumer lock if it is free and replays on success.
func (q *EventQueue) tryLead(ctx context.Context) (bool, error) {
	ok, err := q.opts.Lock.TryAcquire(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: acquire consumer lock: %w", domain.ErrPersistence, err)
	}
	if !ok {
		slog.Debug("event consumer lock held elsewhere")
		return false, nil
	}
	q.leading.Store(true)
	slog.Info("acquired event consumer lock")
	if err := q.replayOnStart(ctx); err != nil {
		slog.Warn("replay after acquiring consumer lock failed", "error", err)
	}
	return true, nil
}

// stepDown drops in-memory work after the lock was lost.
func (q *EventQueue) stepDown(ctx context.Context, cause error) {
	q.leading.Store(false)
	q.mu.Lock()
	dropped := len(q.pending)
	q.pending = nil
	q.queued = make(map[string]bool)
	q.mu.Unlock()
	if q.metrics != nil && dropped > 0 {
		q.metrics.QueueDepth.Add(ctx, -int64(dropped))
	}
	slog.Error("lost event consumer lock, standing by", "error", cause, "dropped", dropped)
}

// Stop stops the consumer after its current event and waits for it, or for
// ctx to expire. A held consumer lock is released.
func (q *EventQueue) Stop(ctx context.Context) error {
	if q.cancel == nil {
		return nil
	}
	q.cancel()
	select {
	case <-q.done:
	case <-ctx.Done():
		return fmt.Errorf("event queue stop: %w", ctx.Err())
	}
	if q.opts.Lock != nil && q.leading.Swap(false) {
		if err := q.opts.Lock.Release(ctx); err != nil {
			return fmt.Errorf("release consumer lock: %w", err)
		}
	}
	return nil
}

func (q *EventQueue) loop(ctx context.Context) {
	defer close(q.done)
	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.signal:
		case <-ticker.C:
			if q.opts.Lock != nil {
				if !q.leading.Load() {
					if ok, err := q.tryLead(ctx); err != nil || !ok {
						if err != nil {
							slog.Warn("consumer lock attempt failed", "error", err)
						}
						continue
					}
				} else if err := q.opts.Lock.Check(ctx); err != nil {
					q.stepDown(ctx, err)
					continue
				}
			}
			if q.opts.RescanOnIdle && q.Len() == 0 {
				if _, err := q.Replay(ctx); err != nil {
					slog.Warn("idle rescan failed", "error", err)
				}
			}
		}
		q.Drain(ctx)
	}
}

// Drain processes queued events until the queue is empty or ctx is done.
// It returns the number of events handed to the processor. Outside tests
// and the replay command it is only called from the consumer goroutine.
func (q *EventQueue) Drain(ctx context.Context) int {
	n := 0
	for ctx.Err() == nil {
		id, ok := q.pop(ctx)
		if !ok {
			break
		}
		if q.processOne(ctx, id) {
			n++
		}
	}
	return n
}

func (q *EventQueue) processOne(ctx context.Context, id string) (handled bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event processing panicked", "event_id", id, "panic", r)
		}
	}()

	ev, err := q.store.GetEvent(ctx, id)
	if err != nil {
		slog.Error("load queued event failed", "event_id", id, "error", err)
		return false
	}
	if ev.Processed {
		return false
	}
	if err := q.proc.Process(ctx, ev); err != nil {
		slog.Error("process event failed", "event_id", id, "event_type", ev.Type, "error", err)
		return false
	}
	return true
}
