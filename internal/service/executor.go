package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	tgotel "github.com/Strob0t/toolgate/internal/adapter/otel"
	"github.com/Strob0t/toolgate/internal/domain"
	"github.com/Strob0t/toolgate/internal/domain/task"
	"github.com/Strob0t/toolgate/internal/domain/tool"
	"github.com/Strob0t/toolgate/internal/port/database"
	"github.com/Strob0t/toolgate/internal/port/plugin"
	"github.com/Strob0t/toolgate/internal/ratelimit"
)

// DefaultToolTimeout bounds one implementation call when none is configured.
const DefaultToolTimeout = 30 * time.Second

// ToolExecutor runs one tool invocation through admission control and owns
// the resulting Task's lifecycle.
type ToolExecutor struct {
	store   database.Store
	tools   *ToolRegistry
	plugins *plugin.Registry
	limiter *ratelimit.Limiter
	budget  *BudgetGuard
	metrics *tgotel.Metrics
	timeout time.Duration
	now     func() time.Time
}

// NewToolExecutor creates a ToolExecutor. metrics may be nil.
func NewToolExecutor(
	store database.Store,
	tools *ToolRegistry,
	plugins *plugin.Registry,
	limiter *ratelimit.Limiter,
	budget *BudgetGuard,
	metrics *tgotel.Metrics,
	timeout time.Duration,
) *ToolExecutor {
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	return &ToolExecutor{
		store:   store,
		tools:   tools,
		plugins: plugins,
		limiter: limiter,
		budget:  budget,
		metrics: metrics,
		timeout: timeout,
		now:     time.Now,
	}
}

// Execute invokes the named tool. Admission failures (unknown tool, rate
// limit, availability, budget pre-check) return before any Task exists.
// Once a Task is created it is always returned, in a terminal state, along
// with the error that failed it. Every call creates a new Task.
func (e *ToolExecutor) Execute(ctx context.Context, name string, args map[string]any, cc tool.CallContext) (*task.Task, error) {
	ctx, span := tgotel.StartExecuteSpan(ctx, name, cc.UserID)
	defer span.End()

	t, err := e.execute(ctx, name, args, cc)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ErrorKind(err))
	}
	if t != nil {
		span.SetAttributes(attribute.String("task.id", t.ID), attribute.String("task.status", string(t.Status)))
	}
	return t, err
}

func (e *ToolExecutor) execute(ctx context.Context, name string, args map[string]any, cc tool.CallContext) (*task.Task, error) {
	def, err := e.tools.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	if cc.UserID != "" {
		if err := e.limiter.Allow(name, cc.UserID); err != nil {
			if e.metrics != nil {
				e.metrics.RateLimited.Add(ctx, 1, metric.WithAttributes(attribute.String("tool", name)))
			}
			return nil, err
		}
	}

	if def.RequiresPayment && !cc.BudgetAttached && e.budget != nil {
		attached, err := e.budget.HasPool(ctx, cc.UserID)
		if err != nil {
			return nil, err
		}
		cc.BudgetAttached = attached
	}
	if err := def.CheckAvailable(cc); err != nil {
		return nil, err
	}
	if def.RequiresPayment {
		if err := e.budget.CanSpend(ctx, cc.UserID, def.CostPerExecution); err != nil {
			return nil, err
		}
	}

	now := e.now()
	if args == nil {
		args = map[string]any{}
	}
	t := &task.Task{
		ID:         uuid.NewString(),
		ToolName:   def.Name,
		UserID:     cc.UserID,
		EventID:    cc.EventID,
		Status:     task.StatusProcessing,
		Parameters: args,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := e.store.CreateTask(ctx, t); err != nil {
		return nil, fmt.Errorf("%w: create task: %w", domain.ErrPersistence, err)
	}

	start := time.Now()
	result, err := e.invoke(ctx, def, args, cc)
	if e.metrics != nil {
		e.metrics.ToolDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("tool", def.Name)))
	}

	if err == nil && def.RequiresPayment {
		_, err = e.budget.Deduct(ctx, cc.UserID, def.CostPerExecution, Charge{
			ToolName:    def.Name,
			TaskID:      t.ID,
			Description: fmt.Sprintf("execution of %s", def.Name),
		})
	}

	return e.finish(ctx, def.Name, t, result, err)
}

// finish moves t to its terminal state, stores it and updates statistics.
// The store write uses a context detached from cancellation so a canceled
// caller still leaves a terminal Task behind.
func (e *ToolExecutor) finish(ctx context.Context, name string, t *task.Task, result any, execErr error) (*task.Task, error) {
	now := e.now()
	if execErr == nil {
		_ = t.Complete(result, now)
	} else {
		msg := execErr.Error()
		if errors.Is(execErr, plugin.ErrTimeout) {
			msg = "timeout"
		}
		_ = t.Fail(msg, now)
	}

	storeCtx := context.WithoutCancel(ctx)
	if err := e.store.FinishTask(storeCtx, t); err != nil {
		slog.Error("finish task failed", "task_id", t.ID, "tool", name, "status", t.Status, "error", err)
		if execErr == nil {
			execErr = fmt.Errorf("%w: finish task: %w", domain.ErrPersistence, err)
		}
	}

	success := execErr == nil
	e.tools.RecordOutcome(storeCtx, name, success)
	if e.metrics != nil {
		attrs := metric.WithAttributes(attribute.String("tool", name))
		e.metrics.ToolExecutions.Add(ctx, 1, attrs)
		if !success {
			e.metrics.ToolFailures.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool", name),
				attribute.String("kind", ErrorKind(execErr)),
			))
		}
	}

	if success {
		slog.Info("tool executed", "tool", name, "task_id", t.ID, "user_id", t.UserID)
	} else {
		slog.Warn("tool execution failed", "tool", name, "task_id", t.ID, "user_id", t.UserID, "error", execErr)
	}
	return t, execErr
}

type invokeResult struct {
	value any
	err   error
}

// invoke calls the implementation with a deadline. An implementation that
// ignores cancellation keeps running in its goroutine; its result is
// discarded.
func (e *ToolExecutor) invoke(ctx context.Context, def *tool.Definition, args map[string]any, cc tool.CallContext) (any, error) {
	impl, ok := e.plugins.Resolve(def.ImplementationRef)
	if !ok {
		return nil, &plugin.ImplementationError{
			Ref: def.ImplementationRef,
			Err: errors.New("no implementation registered"),
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan invokeResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- invokeResult{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		v, err := impl.Invoke(callCtx, args, cc)
		done <- invokeResult{value: v, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil {
			return res.value, nil
		}
		if errors.Is(res.err, context.DeadlineExceeded) && callCtx.Err() != nil && ctx.Err() == nil {
			return nil, fmt.Errorf("%s after %s: %w", def.Name, e.timeout, plugin.ErrTimeout)
		}
		return nil, &plugin.ImplementationError{Ref: def.ImplementationRef, Err: res.err}
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return nil, &plugin.ImplementationError{Ref: def.ImplementationRef, Err: ctx.Err()}
		}
		return nil, fmt.Errorf("%s after %s: %w", def.Name, e.timeout, plugin.ErrTimeout)
	}
}
