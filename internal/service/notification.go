package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Strob0t/toolgate/internal/domain/event"
	"github.com/Strob0t/toolgate/internal/port/notifier"
)

// Notification sources.
const (
	SourceTriggerFailed = "trigger.failed"
	SourceBudgetDrift   = "budget.drift"
)

// NotificationService fans operator alerts out to every configured notifier.
type NotificationService struct {
	notifiers []notifier.Notifier
	enabled   map[string]bool
}

// NewNotificationService creates a NotificationService. An empty
// enabledSources list lets every source through.
func NewNotificationService(notifiers []notifier.Notifier, enabledSources []string) *NotificationService {
	enabled := make(map[string]bool, len(enabledSources))
	for _, s := range enabledSources {
		enabled[s] = true
	}
	return &NotificationService{notifiers: notifiers, enabled: enabled}
}

// Notify sends n to all notifiers. A failing notifier is logged and skipped.
func (s *NotificationService) Notify(ctx context.Context, n notifier.Notification) {
	if len(s.enabled) > 0 && !s.enabled[n.Source] {
		return
	}
	for _, p := range s.notifiers {
		if err := p.Send(ctx, n); err != nil {
			slog.Warn("notification send failed", "provider", p.Name(), "source", n.Source, "error", err)
			continue
		}
		slog.Debug("notification sent", "provider", p.Name(), "source", n.Source)
	}
}

// NotifyTriggerFailure alerts operators about one failed trigger attempt.
func (s *NotificationService) NotifyTriggerFailure(ctx context.Context, ev *event.Event, rec event.ExecutionRecord) {
	s.Notify(ctx, notifier.Notification{
		Title:    fmt.Sprintf("Trigger failed: %s", rec.ToolName),
		Message:  fmt.Sprintf("event %s (%s): %s [%s]", ev.ID, ev.Type, rec.Error, rec.ErrorKind),
		Level:    notifier.LevelError,
		Source:   SourceTriggerFailed,
		EventID:  ev.ID,
		ToolName: rec.ToolName,
	})
}

// NotifierCount returns the number of configured notifiers.
func (s *NotificationService) NotifierCount() int {
	return len(s.notifiers)
}
