package otel

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "toolgate"

// Metrics holds all toolgate metric instruments.
type Metrics struct {
	ToolExecutions    metric.Int64Counter
	ToolFailures      metric.Int64Counter
	ToolDuration      metric.Float64Histogram
	RateLimited       metric.Int64Counter
	BudgetRejections  metric.Int64Counter
	CreditsDebited    metric.Int64Counter
	EventsEnqueued    metric.Int64Counter
	EventsProcessed   metric.Int64Counter
	TriggerAttempts   metric.Int64Counter
	QueueDepth        metric.Int64UpDownCounter
	OutcomePublishErr metric.Int64Counter
}

// NewMetrics creates all metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.ToolExecutions, err = meter.Int64Counter("toolgate.tool.executions",
		metric.WithDescription("Tool executions that created a task")); err != nil {
		return nil, err
	}
	if m.ToolFailures, err = meter.Int64Counter("toolgate.tool.failures",
		metric.WithDescription("Tool executions that ended failed")); err != nil {
		return nil, err
	}
	if m.ToolDuration, err = meter.Float64Histogram("toolgate.tool.duration_seconds",
		metric.WithDescription("Tool implementation duration in seconds")); err != nil {
		return nil, err
	}
	if m.RateLimited, err = meter.Int64Counter("toolgate.ratelimit.rejections",
		metric.WithDescription("Executions rejected by the per-tool rate limit")); err != nil {
		return nil, err
	}
	if m.BudgetRejections, err = meter.Int64Counter("toolgate.budget.rejections",
		metric.WithDescription("Spends rejected by credit pool rules")); err != nil {
		return nil, err
	}
	if m.CreditsDebited, err = meter.Int64Counter("toolgate.budget.debited",
		metric.WithDescription("Credits debited in minor units")); err != nil {
		return nil, err
	}
	if m.EventsEnqueued, err = meter.Int64Counter("toolgate.events.enqueued",
		metric.WithDescription("Events accepted by the queue")); err != nil {
		return nil, err
	}
	if m.EventsProcessed, err = meter.Int64Counter("toolgate.events.processed",
		metric.WithDescription("Events whose triggers were all attempted")); err != nil {
		return nil, err
	}
	if m.TriggerAttempts, err = meter.Int64Counter("toolgate.trigger.attempts",
		metric.WithDescription("Trigger attempts by outcome status")); err != nil {
		return nil, err
	}
	if m.QueueDepth, err = meter.Int64UpDownCounter("toolgate.queue.depth",
		metric.WithDescription("Event ids waiting in the in-memory queue")); err != nil {
		return nil, err
	}
	if m.OutcomePublishErr, err = meter.Int64Counter("toolgate.outcome.publish_errors",
		metric.WithDescription("Outcome notifications that could not be published")); err != nil {
		return nil, err
	}

	return m, nil
}
