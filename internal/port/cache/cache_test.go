package cache_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/Strob0t/toolgate/internal/domain/tool"
	"github.com/Strob0t/toolgate/internal/port/cache"
)

// RunComplianceTests checks a Cache against the ways the registry and the
// idempotency middleware use it.
func RunComplianceTests(t *testing.T, c cache.Cache) {
	t.Helper()
	ctx := context.Background()

	t.Run("ToolSnapshot", func(t *testing.T) {
		defs := []tool.Definition{
			{Name: "notify", Enabled: true, ImplementationRef: "echo"},
			{Name: "award", Enabled: true, ImplementationRef: "echo", CostPerExecution: 5, RequiresPayment: true},
		}
		raw, err := json.Marshal(defs)
		if err != nil {
			t.Fatal(err)
		}
		if err := c.Set(ctx, cache.KeyToolSnapshot, raw, time.Minute); err != nil {
			t.Fatal(err)
		}

		val, found, err := c.Get(ctx, cache.KeyToolSnapshot)
		if err != nil || !found {
			t.Fatalf("snapshot get = %v, %v", found, err)
		}
		var got []tool.Definition
		if err := json.Unmarshal(val, &got); err != nil {
			t.Fatalf("decode snapshot: %v", err)
		}
		if len(got) != 2 || got[1].Name != "award" || got[1].CostPerExecution != 5 || !got[1].RequiresPayment {
			t.Fatalf("snapshot = %+v", got)
		}

		if err := c.Delete(ctx, cache.KeyToolSnapshot); err != nil {
			t.Fatal(err)
		}
		if _, found, _ := c.Get(ctx, cache.KeyToolSnapshot); found {
			t.Fatal("snapshot still cached after invalidation")
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, found, err := c.Get(ctx, "nonexistent-key")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss for nonexistent key")
		}
	})

	t.Run("DeleteNonexistent", func(t *testing.T) {
		if err := c.Delete(ctx, "never-existed"); err != nil {
			t.Fatal("Delete of nonexistent key should not error")
		}
	})

	t.Run("ScopedReplayKeys", func(t *testing.T) {
		u1 := "idem:u1:POST:/api/v1/events:key-1"
		u2 := "idem:u2:POST:/api/v1/events:key-1"
		_ = c.Set(ctx, u1, []byte(`{"status":202}`), time.Minute)

		if _, found, _ := c.Get(ctx, u2); found {
			t.Fatal("replay entry leaked across users")
		}
		_ = c.Set(ctx, u1, []byte(`{"status":201}`), time.Minute)
		val, found, err := c.Get(ctx, u1)
		if err != nil || !found {
			t.Fatalf("get = %v, %v", found, err)
		}
		if string(val) != `{"status":201}` {
			t.Fatalf("expected overwritten entry, got %s", val)
		}
	})

	t.Run("TTLExpiry", func(t *testing.T) {
		_ = c.Set(ctx, "short-lived", []byte("v"), 50*time.Millisecond)
		if _, found, _ := c.Get(ctx, "short-lived"); !found {
			t.Fatal("expected hit before expiry")
		}
		time.Sleep(150 * time.Millisecond)
		if _, found, _ := c.Get(ctx, "short-lived"); found {
			t.Fatal("expected miss after expiry")
		}
	})
}
