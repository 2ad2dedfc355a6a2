package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	tgotel "github.com/Strob0t/toolgate/internal/adapter/otel"
	"github.com/Strob0t/toolgate/internal/domain/event"
	"github.com/Strob0t/toolgate/internal/port/broadcast"
	"github.com/Strob0t/toolgate/internal/port/messagequeue"
	"github.com/Strob0t/toolgate/internal/resilience"
)

// DefaultOutcomeBuffer is the number of outcomes held while the publisher
// is busy. Outcomes beyond it are dropped.
const DefaultOutcomeBuffer = 1024

// EventProcessedPayload is broadcast once all of an event's matches ran.
type EventProcessedPayload struct {
	EventID   string `json:"event_id"`
	EventType string `json:"event_type"`
	UserID    string `json:"user_id,omitempty"`
	Attempts  int    `json:"attempts"`
}

type outcomeItem struct {
	ev        *event.Event
	rec       *event.ExecutionRecord
	processed *EventProcessedPayload
}

// OutcomePublisher delivers trigger outcomes to live clients, the outcome
// subject and operator notifiers. Delivery is fire-and-forget: it happens on
// its own goroutine and failures are only logged and counted.
type OutcomePublisher struct {
	hub     broadcast.Broadcaster
	queue   messagequeue.Queue
	breaker *resilience.Breaker
	notify  *NotificationService
	metrics *tgotel.Metrics

	mu      sync.Mutex
	closed  bool
	ch      chan outcomeItem
	wg      sync.WaitGroup
	dropped int64
}

// NewOutcomePublisher creates an OutcomePublisher. Every collaborator may be
// nil; a nil breaker publishes unguarded.
func NewOutcomePublisher(hub broadcast.Broadcaster, queue messagequeue.Queue, breaker *resilience.Breaker, notify *NotificationService, metrics *tgotel.Metrics, buffer int) *OutcomePublisher {
	if buffer <= 0 {
		buffer = DefaultOutcomeBuffer
	}
	return &OutcomePublisher{
		hub:     hub,
		queue:   queue,
		breaker: breaker,
		notify:  notify,
		metrics: metrics,
		ch:      make(chan outcomeItem, buffer),
	}
}

// Start launches the delivery goroutine.
func (p *OutcomePublisher) Start() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for item := range p.ch {
			p.deliver(item)
		}
	}()
}

// Close stops accepting outcomes and waits for queued ones to be delivered.
func (p *OutcomePublisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.ch)
	p.mu.Unlock()
	p.wg.Wait()
}

// Dropped returns the number of outcomes dropped because the buffer was full.
func (p *OutcomePublisher) Dropped() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Outcome queues one trigger attempt outcome.
func (p *OutcomePublisher) Outcome(ev *event.Event, rec event.ExecutionRecord) {
	p.enqueue(outcomeItem{ev: ev, rec: &rec})
}

// Processed queues the notice that ev finished processing.
func (p *OutcomePublisher) Processed(ev *event.Event, attempts int) {
	p.enqueue(outcomeItem{ev: ev, processed: &EventProcessedPayload{
		EventID:   ev.ID,
		EventType: ev.Type,
		UserID:    ev.UserID,
		Attempts:  attempts,
	}})
}

func (p *OutcomePublisher) enqueue(item outcomeItem) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.ch <- item:
	default:
		p.dropped++
		slog.Warn("outcome buffer full, dropping", "event_id", item.ev.ID)
	}
}

func (p *OutcomePublisher) deliver(item outcomeItem) {
	// Delivery outlives the request that produced the outcome.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if item.processed != nil {
		if p.hub != nil {
			p.hub.BroadcastEvent(ctx, broadcast.EventProcessed, item.processed)
		}
		return
	}

	ev, rec := item.ev, *item.rec
	payload := messagequeue.EventOutcomePayload{
		EventID:      ev.ID,
		EventType:    ev.Type,
		UserID:       ev.UserID,
		ToolName:     rec.ToolName,
		TriggerIndex: rec.TriggerIndex,
		TaskID:       rec.TaskID,
		Status:       string(rec.Status),
		Error:        rec.Error,
		ErrorKind:    rec.ErrorKind,
		Timestamp:    rec.Timestamp,
	}

	if p.hub != nil {
		p.hub.BroadcastEvent(ctx, broadcast.EventTriggerOutcome, payload)
	}
	if p.queue != nil {
		p.publish(ctx, payload)
	}
	if p.notify != nil && rec.Status == event.RecordFailed {
		p.notify.NotifyTriggerFailure(ctx, ev, rec)
	}
}

func (p *OutcomePublisher) publish(ctx context.Context, payload messagequeue.EventOutcomePayload) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal outcome", "event_id", payload.EventID, "error", err)
		return
	}
	send := func() error { return p.queue.Publish(ctx, messagequeue.SubjectEventOutcome, data) }
	if p.breaker != nil {
		err = p.breaker.Execute(send)
	} else {
		err = send()
	}
	if err != nil {
		slog.Warn("publish outcome failed", "event_id", payload.EventID, "tool", payload.ToolName, "error", err)
		if p.metrics != nil {
			p.metrics.OutcomePublishErr.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", payload.ToolName)))
		}
	}
}
