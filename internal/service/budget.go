package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	tgotel "github.com/Strob0t/toolgate/internal/adapter/otel"
	"github.com/Strob0t/toolgate/internal/domain"
	"github.com/Strob0t/toolgate/internal/domain/credit"
	"github.com/Strob0t/toolgate/internal/port/database"
	"github.com/Strob0t/toolgate/internal/port/notifier"
)

// Charge attributes a ledger entry.
type Charge struct {
	ToolName    string
	TaskID      string
	Description string
}

// PoolUpdate changes pool settings. Nil fields are left unchanged.
type PoolUpdate struct {
	Limits   *credit.SpendingLimits
	Active   *bool
	Verified *bool
}

// userBudget serializes one user's read-then-write cycles and holds the
// user's rolling spend window. version is the pool version the window
// reflects.
type userBudget struct {
	id       string
	mu       sync.Mutex
	refs     int // guarded by BudgetGuard.mu
	window   *credit.Window
	version  int
	lastUsed time.Time // guarded by BudgetGuard.mu
}

// advance moves the window's version past a write of our own that took the
// pool from version from to version to. Writes by others leave it behind.
func (ub *userBudget) advance(from, to int) {
	if ub.window != nil && ub.version == from {
		ub.version = to
	}
}

// BudgetGuard enforces credit pool rules. All checks and mutations for one
// user run under that user's lock; commits are additionally version checked
// in the store so concurrent processes cannot double spend.
type BudgetGuard struct {
	store      database.Store
	metrics    *tgotel.Metrics
	maxRetries int
	notify     *NotificationService
	now        func() time.Time

	mu    sync.Mutex
	users map[string]*userBudget
}

// NewBudgetGuard creates a BudgetGuard. metrics may be nil.
func NewBudgetGuard(store database.Store, metrics *tgotel.Metrics, maxRetries int) *BudgetGuard {
	if maxRetries < 1 {
		maxRetries = 3
	}
	return &BudgetGuard{
		store:      store,
		metrics:    metrics,
		maxRetries: maxRetries,
		now:        time.Now,
		users:      make(map[string]*userBudget),
	}
}

// SetNotifier sends balance drift found by Reconcile to n.
func (g *BudgetGuard) SetNotifier(n *NotificationService) { g.notify = n }

func (g *BudgetGuard) acquire(userID string) *userBudget {
	return g.lock(userID, true)
}

// lock takes the user's lock. Background passes use touch=false so they do
// not keep idle users cached.
func (g *BudgetGuard) lock(userID string, touch bool) *userBudget {
	g.mu.Lock()
	ub, ok := g.users[userID]
	if !ok {
		ub = &userBudget{id: userID}
		g.users[userID] = ub
	}
	ub.refs++
	if touch {
		ub.lastUsed = g.now()
	}
	g.mu.Unlock()

	ub.mu.Lock()
	return ub
}

func (g *BudgetGuard) release(ub *userBudget) {
	ub.mu.Unlock()
	g.mu.Lock()
	ub.refs--
	if ub.refs == 0 && ub.lastUsed.IsZero() && g.users[ub.id] == ub {
		delete(g.users, ub.id)
	}
	g.mu.Unlock()
}

// windowFor returns the user's spend window for pool version. The window is
// rebuilt from the last month of the ledger on first use and whenever the
// pool moved on without us, e.g. a debit from another process. Must be
// called with ub.mu held.
func (g *BudgetGuard) windowFor(ctx context.Context, userID string, ub *userBudget, version int, now time.Time) (*credit.Window, error) {
	if ub.window != nil && ub.version == version {
		return ub.window, nil
	}
	txns, err := g.store.ListCreditTransactions(ctx, userID, now.Add(-credit.MonthSpan))
	if err != nil {
		ub.window = nil
		return nil, fmt.Errorf("%w: load ledger for %s: %w", domain.ErrPersistence, userID, err)
	}
	ub.window = credit.NewWindow(txns, now)
	ub.version = version
	return ub.window, nil
}

func (g *BudgetGuard) loadPool(ctx context.Context, userID string) (*credit.Pool, error) {
	p, err := g.store.GetCreditPool(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("credit pool for user %s: %w", userID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get credit pool: %w", domain.ErrPersistence, err)
	}
	return p, nil
}

// Pool returns the user's credit pool.
func (g *BudgetGuard) Pool(ctx context.Context, userID string) (*credit.Pool, error) {
	return g.loadPool(ctx, userID)
}

// HasPool reports whether the user has a credit pool.
func (g *BudgetGuard) HasPool(ctx context.Context, userID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	_, err := g.store.GetCreditPool(ctx, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: get credit pool: %w", domain.ErrPersistence, err)
	}
	return true, nil
}

// OpenPool creates an active, unverified pool with a zero balance.
func (g *BudgetGuard) OpenPool(ctx context.Context, userID, currency string, limits credit.SpendingLimits) (*credit.Pool, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", domain.ErrValidation)
	}
	if currency == "" {
		return nil, fmt.Errorf("%w: currency is required", domain.ErrValidation)
	}
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	now := g.now()
	p := &credit.Pool{
		ID:        uuid.NewString(),
		UserID:    userID,
		Currency:  currency,
		IsActive:  true,
		Settings:  credit.Settings{SpendingLimits: limits},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := g.store.CreateCreditPool(ctx, p); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, fmt.Errorf("credit pool for user %s already exists: %w", userID, err)
		}
		return nil, fmt.Errorf("%w: create credit pool: %w", domain.ErrPersistence, err)
	}
	return p, nil
}

// UpdatePool changes limits and flags under the user's lock.
func (g *BudgetGuard) UpdatePool(ctx context.Context, userID string, u PoolUpdate) (*credit.Pool, error) {
	if u.Limits != nil {
		if err := u.Limits.Validate(); err != nil {
			return nil, err
		}
	}
	ub := g.acquire(userID)
	defer g.release(ub)

	for range g.maxRetries {
		p, err := g.loadPool(ctx, userID)
		if err != nil {
			return nil, err
		}
		settings, active, verified := p.Settings, p.IsActive, p.IsVerified
		if u.Limits != nil {
			settings.SpendingLimits = *u.Limits
		}
		if u.Active != nil {
			active = *u.Active
		}
		if u.Verified != nil {
			verified = *u.Verified
		}
		updated, err := g.store.UpdateCreditPoolSettings(ctx, userID, p.Version, settings, active, verified)
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: update credit pool: %w", domain.ErrPersistence, err)
		}
		ub.advance(p.Version, updated.Version)
		return updated, nil
	}
	return nil, fmt.Errorf("update credit pool for %s: %w", userID, domain.ErrConflict)
}

// SetLimits replaces the pool's spending limits.
func (g *BudgetGuard) SetLimits(ctx context.Context, userID string, limits credit.SpendingLimits) (*credit.Pool, error) {
	return g.UpdatePool(ctx, userID, PoolUpdate{Limits: &limits})
}

// CanSpend reports whether amount could be debited now.
func (g *BudgetGuard) CanSpend(ctx context.Context, userID string, amount int64) error {
	ub := g.acquire(userID)
	defer g.release(ub)

	p, err := g.loadPool(ctx, userID)
	if err != nil {
		return err
	}
	now := g.now()
	w, err := g.windowFor(ctx, userID, ub, p.Version, now)
	if err != nil {
		return err
	}
	if err := p.CanSpend(amount, w.Totals(now)); err != nil {
		g.recordRejection(ctx, err)
		return err
	}
	return nil
}

// Deduct debits amount after re-running the spend rules at commit time. A
// rejected or failed debit leaves the balance and ledger unchanged.
func (g *BudgetGuard) Deduct(ctx context.Context, userID string, amount int64, c Charge) (*credit.Transaction, error) {
	ctx, span := tgotel.StartDeductSpan(ctx, userID, amount)
	defer span.End()

	ub := g.acquire(userID)
	defer g.release(ub)

	for range g.maxRetries {
		p, err := g.loadPool(ctx, userID)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		now := g.now()
		w, err := g.windowFor(ctx, userID, ub, p.Version, now)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if err := p.CanSpend(amount, w.Totals(now)); err != nil {
			g.recordRejection(ctx, err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		txn := newTransaction(credit.TxDebit, amount, c, now)
		updated, err := g.store.ApplyCreditTransaction(ctx, userID, p.Version, txn)
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		if err != nil {
			if errors.Is(err, credit.ErrInsufficientBudget) {
				g.recordRejection(ctx, err)
				return nil, err
			}
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("%w: apply debit: %w", domain.ErrPersistence, err)
		}

		w.Add(txn.CreatedAt, amount)
		ub.advance(p.Version, updated.Version)
		if g.metrics != nil {
			g.metrics.CreditsDebited.Add(ctx, amount, metric.WithAttributes(attribute.String("tool", c.ToolName)))
		}
		slog.Debug("credit debited", "user_id", userID, "amount", amount, "tool", c.ToolName, "task_id", c.TaskID)
		return &txn, nil
	}
	span.SetStatus(codes.Error, "version conflict")
	return nil, fmt.Errorf("debit for %s: %w", userID, domain.ErrConflict)
}

// Add credits amount, modelling an externally settled top-up.
func (g *BudgetGuard) Add(ctx context.Context, userID string, amount int64, c Charge) (*credit.Transaction, error) {
	return g.apply(ctx, userID, credit.TxCredit, amount, c)
}

// Refund returns amount to the pool. Refunds do not reduce window totals.
func (g *BudgetGuard) Refund(ctx context.Context, userID string, amount int64, c Charge) (*credit.Transaction, error) {
	return g.apply(ctx, userID, credit.TxRefund, amount, c)
}

func (g *BudgetGuard) apply(ctx context.Context, userID string, typ credit.TxType, amount int64, c Charge) (*credit.Transaction, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}
	ub := g.acquire(userID)
	defer g.release(ub)

	for range g.maxRetries {
		p, err := g.loadPool(ctx, userID)
		if err != nil {
			return nil, err
		}
		txn := newTransaction(typ, amount, c, g.now())
		updated, err := g.store.ApplyCreditTransaction(ctx, userID, p.Version, txn)
		if errors.Is(err, domain.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: apply %s: %w", domain.ErrPersistence, typ, err)
		}
		ub.advance(p.Version, updated.Version)
		return &txn, nil
	}
	return nil, fmt.Errorf("%s for %s: %w", typ, userID, domain.ErrConflict)
}

func newTransaction(typ credit.TxType, amount int64, c Charge, now time.Time) credit.Transaction {
	return credit.Transaction{
		ID:          uuid.NewString(),
		Type:        typ,
		Amount:      amount,
		Status:      credit.TxCompleted,
		ToolName:    c.ToolName,
		TaskID:      c.TaskID,
		Description: c.Description,
		CreatedAt:   now,
	}
}

func (g *BudgetGuard) recordRejection(ctx context.Context, err error) {
	if g.metrics == nil {
		return
	}
	var be *credit.InsufficientBudgetError
	if errors.As(err, &be) {
		g.metrics.BudgetRejections.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", string(be.Reason))))
	}
}

// Reconcile compares every pool's cached balance with its ledger sum and
// resets drifted balances to the ledger, notifying operators. Cached spend
// windows are dropped so the next use rebuilds them, and users idle longer
// than maxIdle are evicted. It returns the number of pools with drift.
func (g *BudgetGuard) Reconcile(ctx context.Context, maxIdle time.Duration) int {
	g.mu.Lock()
	cutoff := g.now().Add(-maxIdle)
	for id, ub := range g.users {
		if ub.refs == 0 && ub.lastUsed.Before(cutoff) {
			delete(g.users, id)
		}
	}
	g.mu.Unlock()

	users, err := g.store.ListCreditPoolUsers(ctx)
	if err != nil {
		slog.Warn("budget reconcile: list pools failed", "error", err)
		return 0
	}

	drifted := 0
	for _, userID := range users {
		if ctx.Err() != nil {
			break
		}
		if g.reconcileUser(ctx, userID) {
			drifted++
		}
	}
	return drifted
}

func (g *BudgetGuard) reconcileUser(ctx context.Context, userID string) bool {
	ub := g.lock(userID, false)
	defer g.release(ub)

	ub.window = nil

	p, err := g.store.GetCreditPool(ctx, userID)
	if err != nil {
		slog.Warn("budget reconcile: load pool failed", "user_id", userID, "error", err)
		return false
	}
	sum, err := g.store.LedgerBalance(ctx, userID)
	if err != nil {
		slog.Warn("budget reconcile: ledger sum failed", "user_id", userID, "error", err)
		return false
	}
	if sum == p.Balance {
		return false
	}

	status := "corrected"
	if _, err := g.store.SetCreditBalance(ctx, userID, p.Version, sum); err != nil {
		// A conflicting commit means the pool moved; the next pass re-checks it.
		status = "not corrected"
		slog.Warn("budget reconcile: correct balance failed", "user_id", userID, "error", err)
	}
	slog.Error("credit pool balance drift", "user_id", userID, "balance", p.Balance, "ledger", sum, "status", status)
	if g.notify != nil {
		g.notify.Notify(ctx, notifier.Notification{
			Title:   "Credit pool balance drift",
			Message: fmt.Sprintf("user %s: balance %d, ledger %d (%s)", userID, p.Balance, sum, status),
			Level:   notifier.LevelWarning,
			Source:  SourceBudgetDrift,
		})
	}
	return true
}

// StartReconciler runs Reconcile every interval. Returns a cancel function
// that stops the goroutine.
func (g *BudgetGuard) StartReconciler(interval time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := g.Reconcile(ctx, interval); n > 0 {
					slog.Warn("budget reconcile found drift", "pools", n)
				}
			}
		}
	}()
	return cancel
}

// cachedUsers returns the number of users with cached budget state.
func (g *BudgetGuard) cachedUsers() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.users)
}
