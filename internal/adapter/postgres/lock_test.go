package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Strob0t/toolgate/internal/adapter/postgres"
)

func TestAdvisoryLockIsExclusive(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	t.Cleanup(pool.Close)

	const key int64 = 0x7465737431 // distinct from the consumer key
	first := postgres.NewAdvisoryLock(pool, key)
	second := postgres.NewAdvisoryLock(pool, key)
	t.Cleanup(func() {
		_ = first.Release(ctx)
		_ = second.Release(ctx)
	})

	ok, err := first.TryAcquire(ctx)
	if err != nil || !ok {
		t.Fatalf("first acquire = %v, %v", ok, err)
	}
	if ok, _ := first.TryAcquire(ctx); !ok {
		t.Fatal("re-acquire by holder should report held")
	}
	if err := first.Check(ctx); err != nil {
		t.Fatalf("check: %v", err)
	}

	ok, err = second.TryAcquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("second acquirer got a held lock")
	}
	if err := second.Check(ctx); err == nil {
		t.Fatal("check without the lock should fail")
	}

	if err := first.Release(ctx); err != nil {
		t.Fatal(err)
	}
	ok, err = second.TryAcquire(ctx)
	if err != nil || !ok {
		t.Fatalf("acquire after release = %v, %v", ok, err)
	}
}
