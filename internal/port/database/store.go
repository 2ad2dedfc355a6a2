// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/Strob0t/toolgate/internal/domain/credit"
	"github.com/Strob0t/toolgate/internal/domain/event"
	"github.com/Strob0t/toolgate/internal/domain/task"
	"github.com/Strob0t/toolgate/internal/domain/tool"
)

// Store is the port interface for database operations.
type Store interface {
	// Events
	CreateEvent(ctx context.Context, e *event.Event) error
	GetEvent(ctx context.Context, id string) (*event.Event, error)
	AppendExecutionRecord(ctx context.Context, eventID string, rec event.ExecutionRecord) error
	MarkEventProcessed(ctx context.Context, eventID string) error
	// ListUnprocessedEvents returns up to limit unprocessed events, oldest first.
	ListUnprocessedEvents(ctx context.Context, limit int) ([]event.Event, error)

	// Tasks
	CreateTask(ctx context.Context, t *task.Task) error
	// FinishTask stores a terminal status. Tasks not in processing yield domain.ErrConflict.
	FinishTask(ctx context.Context, t *task.Task) error
	GetTask(ctx context.Context, id string) (*task.Task, error)
	ListTasksByEvent(ctx context.Context, eventID string) ([]task.Task, error)

	// Tools
	ListTools(ctx context.Context) ([]tool.Definition, error)
	GetTool(ctx context.Context, name string) (*tool.Definition, error)
	UpsertTool(ctx context.Context, d *tool.Definition) error
	DeleteTool(ctx context.Context, name string) error
	// RecordToolOutcome folds one execution outcome into the tool's rolling stats.
	RecordToolOutcome(ctx context.Context, name string, success bool) (tool.Meta, error)

	// Credit pools
	GetCreditPool(ctx context.Context, userID string) (*credit.Pool, error)
	CreateCreditPool(ctx context.Context, p *credit.Pool) error
	UpdateCreditPoolSettings(ctx context.Context, userID string, expectedVersion int, s credit.Settings, active, verified bool) (*credit.Pool, error)
	ListCreditTransactions(ctx context.Context, userID string, since time.Time) ([]credit.Transaction, error)
	// ApplyCreditTransaction appends txn to the ledger and moves the balance
	// by its delta in one transaction. It returns domain.ErrConflict when the
	// pool version differs from expectedVersion and an *InsufficientBudgetError
	// when the balance would go negative. Nothing is written on error.
	ApplyCreditTransaction(ctx context.Context, userID string, expectedVersion int, txn credit.Transaction) (*credit.Pool, error)
	// LedgerBalance sums the signed effect of all completed ledger entries.
	LedgerBalance(ctx context.Context, userID string) (int64, error)
	// SetCreditBalance overwrites the cached balance when the pool version
	// still equals expectedVersion. The ledger is left untouched.
	SetCreditBalance(ctx context.Context, userID string, expectedVersion int, balance int64) (*credit.Pool, error)
	ListCreditPoolUsers(ctx context.Context) ([]string, error)

	Ping(ctx context.Context) error
}
