// Package notifier defines the notification port for operator alerts about
// failed trigger attempts.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrNotConfigured is returned when a notifier is not properly configured.
var ErrNotConfigured = errors.New("notifier: not configured")

// Level values.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// Notification is the payload sent through a Notifier.
type Notification struct {
	Title    string `json:"title"`
	Message  string `json:"message"`
	Level    string `json:"level"`
	Source   string `json:"source"` // e.g. "trigger.failed"
	EventID  string `json:"event_id,omitempty"`
	ToolName string `json:"tool_name,omitempty"`
}

// Notifier delivers notifications to one channel.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n Notification) error
}

// Factory builds a Notifier from string settings.
type Factory func(config map[string]string) (Notifier, error)

var (
	mu        sync.RWMutex
	factories = make(map[string]Factory)
)

// Register makes a notifier factory available by name. Adapters call it
// from init().
func Register(name string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := factories[name]; exists {
		panic(fmt.Sprintf("notifier: duplicate registration for %q", name))
	}
	factories[name] = factory
}

// Build creates one notifier per configured provider, in name order.
// Providers whose factory reports ErrNotConfigured are skipped.
func Build(configs map[string]map[string]string) ([]Notifier, error) {
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)

	mu.RLock()
	defer mu.RUnlock()

	var out []Notifier
	for _, name := range names {
		factory, ok := factories[name]
		if !ok {
			return nil, fmt.Errorf("notifier: unknown provider %q", name)
		}
		n, err := factory(configs[name])
		if errors.Is(err, ErrNotConfigured) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("notifier %s: %w", name, err)
		}
		out = append(out, n)
	}
	return out, nil
}
