package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/toolgate/internal/domain"
	"github.com/Strob0t/toolgate/internal/domain/credit"
)

const poolColumns = `id, user_id, balance, currency, is_active, is_verified, payment_methods, settings, version, created_at, updated_at`

func scanPool(row scannable) (credit.Pool, error) {
	var (
		p                 credit.Pool
		methods, settings []byte
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.Balance, &p.Currency, &p.IsActive, &p.IsVerified,
		&methods, &settings, &p.Version, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return p, err
	}
	if err := unmarshalJSON(methods, &p.PaymentMethods); err != nil {
		return p, fmt.Errorf("decode payment methods: %w", err)
	}
	if err := unmarshalJSON(settings, &p.Settings); err != nil {
		return p, fmt.Errorf("decode pool settings: %w", err)
	}
	return p, nil
}

func (s *Store) GetCreditPool(ctx context.Context, userID string) (*credit.Pool, error) {
	p, err := scanPool(s.pool.QueryRow(ctx, `SELECT `+poolColumns+` FROM credit_pools WHERE user_id = $1`, userID))
	if err != nil {
		return nil, notFoundWrap(err, "get credit pool for %s", userID)
	}
	return &p, nil
}

func (s *Store) CreateCreditPool(ctx context.Context, p *credit.Pool) error {
	methods, err := json.Marshal(orEmpty(p.PaymentMethods))
	if err != nil {
		return fmt.Errorf("marshal payment methods: %w", err)
	}
	settings, err := json.Marshal(p.Settings)
	if err != nil {
		return fmt.Errorf("marshal pool settings: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO credit_pools (id, user_id, balance, currency, is_active, is_verified, payment_methods, settings, version, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.UserID, p.Balance, p.Currency, p.IsActive, p.IsVerified, methods, settings, p.Version, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return conflictWrap(err, "create credit pool for %s", p.UserID)
	}
	return nil
}

// UpdateCreditPoolSettings replaces settings and flags when the stored
// version still equals expectedVersion.
func (s *Store) UpdateCreditPoolSettings(ctx context.Context, userID string, expectedVersion int, st credit.Settings, active, verified bool) (*credit.Pool, error) {
	settings, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("marshal pool settings: %w", err)
	}
	p, err := scanPool(s.pool.QueryRow(ctx,
		`UPDATE credit_pools SET settings = $3, is_active = $4, is_verified = $5, version = version + 1, updated_at = now()
		 WHERE user_id = $1 AND version = $2
		 RETURNING `+poolColumns,
		userID, expectedVersion, settings, active, verified))
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update credit pool for %s: %w", userID, err)
	}
	return nil, s.missingOrConflict(ctx, userID, "update credit pool")
}

// missingOrConflict tells a vanished pool from a version mismatch after an
// optimistic write matched no row.
func (s *Store) missingOrConflict(ctx context.Context, userID, op string) error {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM credit_pools WHERE user_id = $1)`, userID).Scan(&exists); err != nil {
		return fmt.Errorf("%s for %s: %w", op, userID, err)
	}
	if !exists {
		return fmt.Errorf("%s for %s: %w", op, userID, domain.ErrNotFound)
	}
	return fmt.Errorf("%s for %s: %w", op, userID, domain.ErrConflict)
}

func (s *Store) ListCreditTransactions(ctx context.Context, userID string, since time.Time) ([]credit.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, type, amount, status, tool_name, task_id, description, created_at
		 FROM credit_transactions WHERE user_id = $1 AND created_at >= $2 ORDER BY created_at, id`, userID, since)
	if err != nil {
		return nil, fmt.Errorf("list credit transactions for %s: %w", userID, err)
	}
	defer rows.Close()

	var txns []credit.Transaction
	for rows.Next() {
		var t credit.Transaction
		if err := rows.Scan(&t.ID, &t.Type, &t.Amount, &t.Status, &t.ToolName, &t.TaskID, &t.Description, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan credit transaction: %w", err)
		}
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// ApplyCreditTransaction appends txn and moves the balance atomically. The
// pool row is locked for the duration so the version check and the balance
// rule see the same state.
func (s *Store) ApplyCreditTransaction(ctx context.Context, userID string, expectedVersion int, txn credit.Transaction) (*credit.Pool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	p, err := scanPool(tx.QueryRow(ctx, `SELECT `+poolColumns+` FROM credit_pools WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		return nil, notFoundWrap(err, "lock credit pool for %s", userID)
	}
	if p.Version != expectedVersion {
		return nil, fmt.Errorf("apply %s for %s: %w", txn.Type, userID, domain.ErrConflict)
	}
	if err := p.Apply(txn, txn.CreatedAt); err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO credit_transactions (id, user_id, type, amount, status, tool_name, task_id, description, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		txn.ID, userID, string(txn.Type), txn.Amount, string(txn.Status), txn.ToolName, txn.TaskID, txn.Description, txn.CreatedAt); err != nil {
		return nil, conflictWrap(err, "insert credit transaction %s", txn.ID)
	}
	if _, err := tx.Exec(ctx,
		`UPDATE credit_pools SET balance = $2, version = $3, updated_at = $4 WHERE user_id = $1`,
		userID, p.Balance, p.Version, p.UpdatedAt); err != nil {
		return nil, fmt.Errorf("update credit pool balance for %s: %w", userID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit credit transaction: %w", err)
	}
	p.Transactions = nil
	return &p, nil
}

// LedgerBalance sums the signed effect of the user's completed entries.
func (s *Store) LedgerBalance(ctx context.Context, userID string) (int64, error) {
	var (
		exists  bool
		balance int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM credit_pools WHERE user_id = $1),
		        COALESCE(SUM(CASE
		            WHEN type IN ('credit', 'refund') THEN amount
		            WHEN type IN ('debit', 'fee') THEN -amount
		            ELSE 0 END), 0)::BIGINT
		 FROM credit_transactions WHERE user_id = $1 AND status = 'completed'`, userID,
	).Scan(&exists, &balance)
	if err != nil {
		return 0, fmt.Errorf("ledger balance for %s: %w", userID, err)
	}
	if !exists {
		return 0, fmt.Errorf("ledger balance for %s: %w", userID, domain.ErrNotFound)
	}
	return balance, nil
}

func (s *Store) SetCreditBalance(ctx context.Context, userID string, expectedVersion int, balance int64) (*credit.Pool, error) {
	p, err := scanPool(s.pool.QueryRow(ctx,
		`UPDATE credit_pools SET balance = $3, version = version + 1, updated_at = now()
		 WHERE user_id = $1 AND version = $2
		 RETURNING `+poolColumns,
		userID, expectedVersion, balance))
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("set credit balance for %s: %w", userID, err)
	}
	return nil, s.missingOrConflict(ctx, userID, "set credit balance")
}

func (s *Store) ListCreditPoolUsers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM credit_pools ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list credit pool users: %w", err)
	}
	defer rows.Close()
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
