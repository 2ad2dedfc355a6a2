package messagequeue

import "time"

// EventIngestPayload is the schema for events.ingest messages.
type EventIngestPayload struct {
	Type      string         `json:"type"`
	UserID    string         `json:"user_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp *time.Time     `json:"timestamp,omitempty"`
}

// EventOutcomePayload is the schema for events.outcome messages.
type EventOutcomePayload struct {
	EventID      string    `json:"event_id"`
	EventType    string    `json:"event_type"`
	UserID       string    `json:"user_id,omitempty"`
	ToolName     string    `json:"tool_name"`
	TriggerIndex int       `json:"trigger_index"`
	TaskID       string    `json:"task_id,omitempty"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}
