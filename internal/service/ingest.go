package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/Strob0t/toolgate/internal/domain"
	"github.com/Strob0t/toolgate/internal/domain/event"
	"github.com/Strob0t/toolgate/internal/port/messagequeue"
)

// EventIngestor feeds events published on events.ingest into the queue.
type EventIngestor struct {
	queue  messagequeue.Queue
	events *EventQueue
}

// NewEventIngestor creates an EventIngestor.
func NewEventIngestor(queue messagequeue.Queue, events *EventQueue) *EventIngestor {
	return &EventIngestor{queue: queue, events: events}
}

// Start subscribes to events.ingest. The returned function cancels the
// subscription.
func (i *EventIngestor) Start(ctx context.Context) (func(), error) {
	return i.queue.Subscribe(ctx, messagequeue.SubjectEventIngest, i.Handle)
}

// Handle decodes and enqueues one message. Malformed or invalid events are
// logged and acknowledged; only persistence failures are returned so the
// message is redelivered.
func (i *EventIngestor) Handle(ctx context.Context, _ string, data []byte) error {
	var p messagequeue.EventIngestPayload
	if err := json.Unmarshal(data, &p); err != nil {
		slog.Warn("discarding malformed ingest message", "error", err)
		return nil
	}

	ev := &event.Event{
		Type:     p.Type,
		UserID:   p.UserID,
		Data:     p.Data,
		Metadata: p.Metadata,
	}
	if p.Timestamp != nil {
		ev.Timestamp = *p.Timestamp
	}

	if _, err := i.events.Enqueue(ctx, ev); err != nil {
		if errors.Is(err, domain.ErrValidation) || errors.Is(err, domain.ErrConflict) {
			slog.Warn("discarding invalid ingest event", "event_type", p.Type, "error", err)
			return nil
		}
		return err
	}
	return nil
}
