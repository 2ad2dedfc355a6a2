// Package event defines the Event domain entity that drives triggers.
package event

import (
	"fmt"
	"time"

	"github.com/Strob0t/toolgate/internal/domain"
)

// RecordStatus is the outcome of one trigger attempt.
type RecordStatus string

const (
	RecordSuccess RecordStatus = "success"
	RecordFailed  RecordStatus = "failed"
)

// ExecutionRecord is one entry of an event's append-only audit trail.
type ExecutionRecord struct {
	ToolName     string       `json:"tool_name"`
	TriggerType  string       `json:"trigger_type"`
	TriggerIndex int          `json:"trigger_index"`
	TaskID       string       `json:"task_id,omitempty"`
	Status       RecordStatus `json:"status"`
	Result       any          `json:"result,omitempty"`
	Error        string       `json:"error,omitempty"`
	ErrorKind    string       `json:"error_kind,omitempty"`
	Timestamp    time.Time    `json:"timestamp"`
}

// Event is an append-only record of something that happened. Only the
// trigger engine mutates it, by appending to ExecutionLog and flipping
// Processed.
type Event struct {
	ID           string            `json:"id"`
	Type         string            `json:"type"`
	UserID       string            `json:"user_id,omitempty"`
	Data         map[string]any    `json:"data,omitempty"`
	Metadata     map[string]any    `json:"metadata,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
	Processed    bool              `json:"processed"`
	ExecutionLog []ExecutionRecord `json:"execution_log"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Validate checks that an event can be enqueued.
func (e *Event) Validate() error {
	if e.Type == "" {
		return fmt.Errorf("%w: event type is required", domain.ErrValidation)
	}
	if len(e.Type) > 128 {
		return fmt.Errorf("%w: event type too long (max 128 chars)", domain.ErrValidation)
	}
	return nil
}

// Document returns the map form of the event that conditions and argument
// paths are evaluated against.
func (e *Event) Document() map[string]any {
	data := e.Data
	if data == nil {
		data = map[string]any{}
	}
	meta := e.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	doc := map[string]any{
		"id":        e.ID,
		"type":      e.Type,
		"data":      data,
		"metadata":  meta,
		"timestamp": e.Timestamp,
	}
	if e.UserID != "" {
		doc["userId"] = e.UserID
	}
	return doc
}

// Attempted reports whether the log already holds an outcome for the given
// tool and trigger index.
func (e *Event) Attempted(toolName string, triggerIndex int) bool {
	for i := range e.ExecutionLog {
		r := &e.ExecutionLog[i]
		if r.ToolName == toolName && r.TriggerIndex == triggerIndex {
			return true
		}
	}
	return false
}
