// Package credit defines the per-user credit pool, its append-only ledger and
// the multi-window spending rules enforced before any debit.
package credit

import (
	"errors"
	"fmt"
	"time"

	"github.com/Strob0t/toolgate/internal/domain"
)

// TxType is the kind of a ledger entry.
type TxType string

const (
	TxCredit TxType = "credit"
	TxDebit  TxType = "debit"
	TxRefund TxType = "refund"
	TxFee    TxType = "fee"
)

// TxStatus is the settlement state of a ledger entry.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxCompleted TxStatus = "completed"
	TxFailed    TxStatus = "failed"
	TxCancelled TxStatus = "cancelled"
)

// Transaction is one ledger entry. Amount is always positive; the type
// decides the sign of its effect on the balance.
type Transaction struct {
	ID          string    `json:"id"`
	Type        TxType    `json:"type"`
	Amount      int64     `json:"amount"`
	Status      TxStatus  `json:"status"`
	ToolName    string    `json:"tool_name,omitempty"`
	TaskID      string    `json:"task_id,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Delta returns the signed balance change of a completed entry. Entries in
// any other status do not move the balance.
func (t *Transaction) Delta() int64 {
	if t.Status != TxCompleted {
		return 0
	}
	switch t.Type {
	case TxCredit, TxRefund:
		return t.Amount
	case TxDebit, TxFee:
		return -t.Amount
	}
	return 0
}

// IsSpend reports whether the entry counts towards the spending windows.
func (t *Transaction) IsSpend() bool {
	return t.Type == TxDebit && t.Status == TxCompleted
}

// LedgerBalance sums the signed effect of every completed entry.
func LedgerBalance(txns []Transaction) int64 {
	var sum int64
	for i := range txns {
		sum += txns[i].Delta()
	}
	return sum
}

// SpendingLimits caps spending per window. Zero means no limit.
type SpendingLimits struct {
	Daily          int64 `json:"daily"`
	Weekly         int64 `json:"weekly"`
	Monthly        int64 `json:"monthly"`
	PerTransaction int64 `json:"per_transaction"`
}

// Validate rejects negative limits.
func (l SpendingLimits) Validate() error {
	if l.Daily < 0 || l.Weekly < 0 || l.Monthly < 0 || l.PerTransaction < 0 {
		return fmt.Errorf("%w: spending limits must be >= 0", domain.ErrValidation)
	}
	return nil
}

// Settings holds per-pool configuration.
type Settings struct {
	SpendingLimits SpendingLimits `json:"spending_limits"`
}

// PaymentMethod is an externally managed funding source reference.
type PaymentMethod struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Label     string `json:"label,omitempty"`
	IsDefault bool   `json:"is_default"`
}

// Pool is one user's ledger and budget record. Balance is a cached
// projection of the completed ledger entries and never goes negative.
type Pool struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Balance        int64           `json:"balance"`
	Currency       string          `json:"currency"`
	IsActive       bool            `json:"is_active"`
	IsVerified     bool            `json:"is_verified"`
	PaymentMethods []PaymentMethod `json:"payment_methods,omitempty"`
	Settings       Settings        `json:"settings"`
	Transactions   []Transaction   `json:"transactions,omitempty"`
	Version        int             `json:"version"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Totals are the completed-debit sums for each spending window.
type Totals struct {
	Day   int64 `json:"day"`
	Week  int64 `json:"week"`
	Month int64 `json:"month"`
}

// Reason names the rule a rejected spend violated.
type Reason string

const (
	ReasonInactive       Reason = "inactive"
	ReasonUnverified     Reason = "unverified"
	ReasonBalance        Reason = "balance"
	ReasonPerTransaction Reason = "perTransaction"
	ReasonDaily          Reason = "daily"
	ReasonWeekly         Reason = "weekly"
	ReasonMonthly        Reason = "monthly"
)

// ErrInsufficientBudget is the sentinel matched by *InsufficientBudgetError.
var ErrInsufficientBudget = errors.New("insufficient budget")

// InsufficientBudgetError reports a spend rejected by the pool rules.
type InsufficientBudgetError struct {
	UserID string
	Amount int64
	Reason Reason
}

func (e *InsufficientBudgetError) Error() string {
	return fmt.Sprintf("insufficient budget for user %q: %s (amount %d)", e.UserID, e.Reason, e.Amount)
}

func (e *InsufficientBudgetError) Is(target error) bool { return target == ErrInsufficientBudget }

// CanSpend checks whether amount may be debited given the window totals.
func (p *Pool) CanSpend(amount int64, t Totals) error {
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}
	reject := func(r Reason) error {
		return &InsufficientBudgetError{UserID: p.UserID, Amount: amount, Reason: r}
	}

	l := p.Settings.SpendingLimits
	switch {
	case !p.IsActive:
		return reject(ReasonInactive)
	case !p.IsVerified:
		return reject(ReasonUnverified)
	case p.Balance < amount:
		return reject(ReasonBalance)
	case exceeds(l.PerTransaction, 0, amount):
		return reject(ReasonPerTransaction)
	case exceeds(l.Daily, t.Day, amount):
		return reject(ReasonDaily)
	case exceeds(l.Weekly, t.Week, amount):
		return reject(ReasonWeekly)
	case exceeds(l.Monthly, t.Month, amount):
		return reject(ReasonMonthly)
	}
	return nil
}

func exceeds(limit, spent, amount int64) bool {
	return limit > 0 && spent+amount > limit
}

// Apply appends a completed entry and moves the balance. It refuses entries
// that would take the balance below zero and leaves the pool untouched.
func (p *Pool) Apply(t Transaction, at time.Time) error {
	if t.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", domain.ErrValidation)
	}
	next := p.Balance + t.Delta()
	if next < 0 {
		return &InsufficientBudgetError{UserID: p.UserID, Amount: t.Amount, Reason: ReasonBalance}
	}
	p.Transactions = append(p.Transactions, t)
	p.Balance = next
	p.Version++
	p.UpdatedAt = at
	return nil
}
