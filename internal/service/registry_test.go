package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/toolgate/internal/domain"
	"github.com/Strob0t/toolgate/internal/domain/tool"
	"github.com/Strob0t/toolgate/internal/port/cache"
	"github.com/Strob0t/toolgate/internal/port/plugin"
)

var _ cache.Cache = (*mockCache)(nil)

type mockCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	getErr error
}

func newMockCache() *mockCache { return &mockCache{data: make(map[string][]byte)} }

func (c *mockCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *mockCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *mockCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func testPlugins(t *testing.T) *plugin.Registry {
	t.Helper()
	r := plugin.NewRegistry()
	must := func(ref string, fn plugin.Func) {
		if err := r.Register(ref, fn); err != nil {
			t.Fatal(err)
		}
	}
	must("echo", func(_ context.Context, args map[string]any, _ tool.CallContext) (any, error) {
		return args, nil
	})
	must("fail", func(context.Context, map[string]any, tool.CallContext) (any, error) {
		return nil, errors.New("upstream returned 500")
	})
	must("block", func(ctx context.Context, _ map[string]any, _ tool.CallContext) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	must("stuck", func(context.Context, map[string]any, tool.CallContext) (any, error) {
		time.Sleep(time.Second)
		return "late", nil
	})
	must("panic", func(context.Context, map[string]any, tool.CallContext) (any, error) {
		panic("boom")
	})
	return r
}

func echoTool(name string, triggers ...tool.Trigger) *tool.Definition {
	return &tool.Definition{
		Name:              name,
		Enabled:           true,
		ImplementationRef: "echo",
		Triggers:          triggers,
	}
}

func TestRegisterValidates(t *testing.T) {
	r := NewToolRegistry(newMockStore(), nil, testPlugins(t), 0)
	ctx := context.Background()

	tests := []struct {
		name string
		def  *tool.Definition
	}{
		{"missing name", &tool.Definition{ImplementationRef: "echo"}},
		{"unknown implementation", &tool.Definition{Name: "x", ImplementationRef: "nope"}},
		{"priority out of range", echoTool("x", tool.Trigger{EventType: "a", Priority: 11})},
		{"bad condition", echoTool("x", tool.Trigger{EventType: "a", Conditions: map[string]any{"data.n": map[string]any{"$gte": 1, "$lt": 5}}})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := r.Register(ctx, tt.def); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
	if len(r.List()) != 0 {
		t.Errorf("invalid definitions were registered: %v", r.List())
	}
}

func TestRegisterIndexesEnabledTriggers(t *testing.T) {
	r := NewToolRegistry(newMockStore(), nil, testPlugins(t), 0)
	ctx := context.Background()

	if err := r.Register(ctx, echoTool("a", tool.Trigger{EventType: "order.created"}, tool.Trigger{EventType: "order.paid", Priority: 9})); err != nil {
		t.Fatal(err)
	}
	off := echoTool("b", tool.Trigger{EventType: "order.created"})
	off.Enabled = false
	if err := r.Register(ctx, off); err != nil {
		t.Fatal(err)
	}

	created := r.Matches("order.created")
	if len(created) != 1 || created[0].Tool.Name != "a" {
		t.Fatalf("Matches(order.created) = %+v", created)
	}
	if created[0].Trigger.Priority != tool.DefaultPriority {
		t.Errorf("priority = %d, want default %d", created[0].Trigger.Priority, tool.DefaultPriority)
	}
	paid := r.Matches("order.paid")
	if len(paid) != 1 || paid[0].TriggerIndex != 1 {
		t.Fatalf("Matches(order.paid) = %+v", paid)
	}

	d, err := r.Get(ctx, "b")
	if err != nil || d.Enabled {
		t.Errorf("Get(b) = %+v, %v", d, err)
	}
	if got := r.List(); len(got) != 2 || got[0].Name != "a" {
		t.Errorf("List = %v", got)
	}
}

func TestUnregister(t *testing.T) {
	r := NewToolRegistry(newMockStore(), nil, testPlugins(t), 0)
	ctx := context.Background()

	var changes []string
	r.OnChange(func(name string, removed bool) {
		if removed {
			changes = append(changes, "-"+name)
		} else {
			changes = append(changes, "+"+name)
		}
	})

	if err := r.Register(ctx, echoTool("a", tool.Trigger{EventType: "e"})); err != nil {
		t.Fatal(err)
	}
	if err := r.Unregister(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	if len(r.Matches("e")) != 0 {
		t.Error("unregistered tool still matches")
	}
	if _, err := r.Get(ctx, "a"); !errors.Is(err, tool.ErrNotFound) {
		t.Errorf("Get after unregister: %v", err)
	}
	if err := r.Unregister(ctx, "a"); !errors.Is(err, tool.ErrNotFound) {
		t.Errorf("second Unregister: %v", err)
	}
	if len(changes) != 2 || changes[0] != "+a" || changes[1] != "-a" {
		t.Errorf("changes = %v", changes)
	}
}

func TestLoadPrefersSnapshot(t *testing.T) {
	store := newMockStore()
	c := newMockCache()
	raw, _ := json.Marshal([]tool.Definition{*echoTool("cached", tool.Trigger{EventType: "e", Priority: 5})})
	c.data[cache.KeyToolSnapshot] = raw

	r := NewToolRegistry(store, c, nil, time.Minute)
	if err := r.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if store.listToolsCalls != 0 {
		t.Errorf("store consulted %d times despite snapshot", store.listToolsCalls)
	}
	if m := r.Matches("e"); len(m) != 1 || m[0].Tool.Name != "cached" {
		t.Errorf("Matches = %+v", m)
	}
}

func TestLoadFallsBackToStore(t *testing.T) {
	store := newMockStore()
	_ = store.UpsertTool(context.Background(), echoTool("stored", tool.Trigger{EventType: "e", Priority: 5}))
	c := newMockCache()
	c.getErr = errors.New("kv unavailable")

	r := NewToolRegistry(store, c, nil, time.Minute)
	if err := r.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if m := r.Matches("e"); len(m) != 1 || m[0].Tool.Name != "stored" {
		t.Errorf("Matches = %+v", m)
	}
}

func TestLoadStoreFailure(t *testing.T) {
	store := newMockStore()
	store.listToolsErr = errors.New("db down")
	r := NewToolRegistry(store, nil, nil, 0)
	if err := r.Load(context.Background()); !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
}

func TestRegisterRefreshesSnapshot(t *testing.T) {
	c := newMockCache()
	r := NewToolRegistry(newMockStore(), c, testPlugins(t), time.Minute)
	if err := r.Register(context.Background(), echoTool("a")); err != nil {
		t.Fatal(err)
	}
	raw, ok := c.data[cache.KeyToolSnapshot]
	if !ok {
		t.Fatal("snapshot not written")
	}
	var defs []tool.Definition
	if err := json.Unmarshal(raw, &defs); err != nil {
		t.Fatal(err)
	}
	if len(defs) != 1 || defs[0].Name != "a" {
		t.Errorf("snapshot = %+v", defs)
	}
}

func TestSeedKeepsExisting(t *testing.T) {
	store := newMockStore()
	r := NewToolRegistry(store, nil, testPlugins(t), 0)
	ctx := context.Background()

	existing := echoTool("a")
	existing.Description = "edited by operator"
	if err := r.Register(ctx, existing); err != nil {
		t.Fatal(err)
	}

	n, err := r.Seed(ctx, []tool.Definition{*echoTool("a"), *echoTool("b")})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("seeded %d, want 1", n)
	}
	d, _ := r.Get(ctx, "a")
	if d.Description != "edited by operator" {
		t.Errorf("seed overwrote existing definition: %q", d.Description)
	}
}

func TestIsAvailable(t *testing.T) {
	r := NewToolRegistry(newMockStore(), nil, testPlugins(t), 0)
	ctx := context.Background()
	d := echoTool("secure")
	d.RequiresAuth = true
	if err := r.Register(ctx, d); err != nil {
		t.Fatal(err)
	}

	ok, reason, err := r.IsAvailable(ctx, "secure", tool.CallContext{})
	if err != nil || ok || reason != tool.ReasonUnauthenticated {
		t.Errorf("anonymous: %v %q %v", ok, reason, err)
	}
	ok, _, _ = r.IsAvailable(ctx, "secure", tool.CallContext{UserID: "u1", Authenticated: true})
	if !ok {
		t.Error("authenticated caller should be admitted")
	}
	if _, _, err := r.IsAvailable(ctx, "missing", tool.CallContext{}); !errors.Is(err, tool.ErrNotFound) {
		t.Errorf("missing tool: %v", err)
	}
}

func TestRecordOutcomeUpdatesMeta(t *testing.T) {
	r := NewToolRegistry(newMockStore(), nil, testPlugins(t), 0)
	ctx := context.Background()
	if err := r.Register(ctx, echoTool("a")); err != nil {
		t.Fatal(err)
	}
	r.RecordOutcome(ctx, "a", true)
	r.RecordOutcome(ctx, "a", false)

	d, _ := r.Get(ctx, "a")
	if d.Meta.ExecutionCount != 2 || d.Meta.SuccessRate != 0.5 {
		t.Errorf("meta = %+v", d.Meta)
	}
}
