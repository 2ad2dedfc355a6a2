// Package tool defines registered capability definitions, their triggers and
// the availability rules the executor enforces before dispatch.
package tool

import (
	"fmt"
	"strings"
	"time"

	"github.com/Strob0t/toolgate/internal/domain"
	"github.com/Strob0t/toolgate/internal/domain/condition"
)

const (
	MinPriority     = 1
	MaxPriority     = 10
	DefaultPriority = 5
)

// Trigger binds an event type and optional conditions to an invocation.
type Trigger struct {
	EventType  string         `json:"event_type" yaml:"event_type"`
	Conditions map[string]any `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Priority   int            `json:"priority" yaml:"priority"`
}

// Meta holds rolling execution statistics.
type Meta struct {
	ExecutionCount int64   `json:"execution_count" yaml:"-"`
	SuccessRate    float64 `json:"success_rate" yaml:"-"`
}

// Record folds one outcome into the rolling statistics.
func (m *Meta) Record(success bool) {
	var s float64
	if success {
		s = 1
	}
	m.SuccessRate = (m.SuccessRate*float64(m.ExecutionCount) + s) / float64(m.ExecutionCount+1)
	m.ExecutionCount++
}

// Definition is a named, schema-described capability.
type Definition struct {
	Name              string    `json:"name" yaml:"name"`
	Description       string    `json:"description,omitempty" yaml:"description,omitempty"`
	Enabled           bool      `json:"enabled" yaml:"enabled"`
	RequiresAuth      bool      `json:"requires_auth" yaml:"requires_auth"`
	RequiresPayment   bool      `json:"requires_payment" yaml:"requires_payment"`
	CostPerExecution  int64     `json:"cost_per_execution" yaml:"cost_per_execution"`
	Schema            Schema    `json:"schema" yaml:"schema"`
	ImplementationRef string    `json:"implementation_ref" yaml:"implementation_ref"`
	Triggers          []Trigger `json:"triggers,omitempty" yaml:"triggers,omitempty"`
	Meta              Meta      `json:"meta" yaml:"-"`
	Version           int       `json:"version" yaml:"-"`
	CreatedAt         time.Time `json:"created_at" yaml:"-"`
	UpdatedAt         time.Time `json:"updated_at" yaml:"-"`
}

// ApplyDefaults fills unset trigger priorities.
func (d *Definition) ApplyDefaults() {
	for i := range d.Triggers {
		if d.Triggers[i].Priority == 0 {
			d.Triggers[i].Priority = DefaultPriority
		}
	}
}

// Validate checks the definition's fields, compiles every trigger condition
// and checks the argument schema.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", domain.ErrValidation)
	}
	if len(d.Name) > 128 {
		return fmt.Errorf("%w: name too long (max 128 chars)", domain.ErrValidation)
	}
	if strings.ContainsAny(d.Name, " \t\n") {
		return fmt.Errorf("%w: name %q must not contain whitespace", domain.ErrValidation, d.Name)
	}
	if d.ImplementationRef == "" {
		return fmt.Errorf("%w: implementation_ref is required", domain.ErrValidation)
	}
	if d.CostPerExecution < 0 {
		return fmt.Errorf("%w: cost_per_execution must be >= 0", domain.ErrValidation)
	}
	if d.RequiresPayment && d.CostPerExecution == 0 {
		return fmt.Errorf("%w: requires_payment needs a positive cost_per_execution", domain.ErrValidation)
	}

	for i, tr := range d.Triggers {
		if tr.EventType == "" {
			return fmt.Errorf("%w: trigger %d: event_type is required", domain.ErrValidation, i)
		}
		if tr.Priority < MinPriority || tr.Priority > MaxPriority {
			return fmt.Errorf("%w: trigger %d: priority %d out of range [%d,%d]",
				domain.ErrValidation, i, tr.Priority, MinPriority, MaxPriority)
		}
		if _, err := condition.Compile(tr.Conditions); err != nil {
			return fmt.Errorf("trigger %d: %w", i, err)
		}
	}

	return d.Schema.Validate()
}

// TriggersFor returns the indexes of triggers bound to eventType.
func (d *Definition) TriggersFor(eventType string) []int {
	var idx []int
	for i := range d.Triggers {
		if d.Triggers[i].EventType == eventType {
			idx = append(idx, i)
		}
	}
	return idx
}
