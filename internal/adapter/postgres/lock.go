package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EventConsumerLockKey is the advisory lock key guarding event consumption.
const EventConsumerLockKey int64 = 0x746f6f6c67617465 // "toolgate"

var errLockNotHeld = errors.New("advisory lock not held")

// AdvisoryLock is a session-level pg advisory lock. It pins one pool
// connection while held; the lock ends with that session.
type AdvisoryLock struct {
	pool *pgxpool.Pool
	key  int64

	mu   sync.Mutex
	conn *pgxpool.Conn
}

// NewAdvisoryLock creates a lock on key. Nothing is acquired yet.
func NewAdvisoryLock(pool *pgxpool.Pool, key int64) *AdvisoryLock {
	return &AdvisoryLock{pool: pool, key: key}
}

func (l *AdvisoryLock) TryAcquire(ctx context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		return true, nil
	}

	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection: %w", err)
	}
	var ok bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, l.key).Scan(&ok); err != nil {
		discard(ctx, conn)
		return false, fmt.Errorf("try advisory lock %d: %w", l.key, err)
	}
	if !ok {
		conn.Release()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

// Check pings the session holding the lock. On failure the connection is
// closed, so the lock is gone either way.
func (l *AdvisoryLock) Check(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return errLockNotHeld
	}
	if err := l.conn.Ping(ctx); err != nil {
		discard(ctx, l.conn)
		l.conn = nil
		return fmt.Errorf("advisory lock %d session: %w", l.key, err)
	}
	return nil
}

func (l *AdvisoryLock) Release(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	conn := l.conn
	l.conn = nil

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, l.key); err != nil {
		discard(ctx, conn)
		return fmt.Errorf("advisory unlock %d: %w", l.key, err)
	}
	conn.Release()
	return nil
}

// discard closes conn instead of returning it to the pool, so a lock it may
// still hold never leaks to another pool user.
func discard(ctx context.Context, conn *pgxpool.Conn) {
	_ = conn.Hijack().Close(context.WithoutCancel(ctx))
}
