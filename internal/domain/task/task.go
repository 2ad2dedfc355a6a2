// Package task defines the Task domain entity: one execution attempt of a tool.
package task

import (
	"errors"
	"time"
)

// Status represents the current state of a task.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// ErrTerminal is returned when a finished task is transitioned again.
var ErrTerminal = errors.New("task already in terminal state")

// Task records a single tool invocation. Status moves one way from
// processing to completed or failed, exactly once.
type Task struct {
	ID         string         `json:"id"`
	ToolName   string         `json:"tool_name"`
	UserID     string         `json:"user_id,omitempty"`
	EventID    string         `json:"event_id,omitempty"`
	Status     Status         `json:"status"`
	Parameters map[string]any `json:"parameters"`
	Result     any            `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// IsTerminal reports whether the task has finished.
func (t *Task) IsTerminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// Complete marks the task completed with the given result.
func (t *Task) Complete(result any, at time.Time) error {
	if t.IsTerminal() {
		return ErrTerminal
	}
	t.Status = StatusCompleted
	t.Result = result
	t.UpdatedAt = at
	t.FinishedAt = &at
	return nil
}

// Fail marks the task failed with the given message.
func (t *Task) Fail(msg string, at time.Time) error {
	if t.IsTerminal() {
		return ErrTerminal
	}
	t.Status = StatusFailed
	t.Error = msg
	t.UpdatedAt = at
	t.FinishedAt = &at
	return nil
}
