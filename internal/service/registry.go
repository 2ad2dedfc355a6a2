package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Strob0t/toolgate/internal/domain"
	"github.com/Strob0t/toolgate/internal/domain/condition"
	"github.com/Strob0t/toolgate/internal/domain/tool"
	"github.com/Strob0t/toolgate/internal/port/cache"
	"github.com/Strob0t/toolgate/internal/port/database"
	"github.com/Strob0t/toolgate/internal/port/plugin"
)

// Candidate is one enabled trigger of a registered tool, with its condition
// compiled once at registration time.
type Candidate struct {
	Tool         *tool.Definition
	TriggerIndex int
	Trigger      tool.Trigger
	Condition    condition.Condition
}

// ToolRegistry is the in-memory view of registered tool definitions backed
// by the store. Lookups never hit the store on the hot path; the snapshot
// is shared across replicas through the cache.
type ToolRegistry struct {
	store       database.Store
	cache       cache.Cache
	plugins     *plugin.Registry
	snapshotTTL time.Duration
	sf          singleflight.Group

	mu      sync.RWMutex
	all     map[string]*tool.Definition
	byEvent map[string][]Candidate

	listenersMu sync.RWMutex
	listeners   []func(name string, removed bool)
}

// NewToolRegistry creates a ToolRegistry. c and plugins may be nil.
func NewToolRegistry(store database.Store, c cache.Cache, plugins *plugin.Registry, snapshotTTL time.Duration) *ToolRegistry {
	return &ToolRegistry{
		store:       store,
		cache:       c,
		plugins:     plugins,
		snapshotTTL: snapshotTTL,
		all:         make(map[string]*tool.Definition),
		byEvent:     make(map[string][]Candidate),
	}
}

// OnChange registers fn to be called after a tool is registered or removed.
func (r *ToolRegistry) OnChange(fn func(name string, removed bool)) {
	r.listenersMu.Lock()
	r.listeners = append(r.listeners, fn)
	r.listenersMu.Unlock()
}

func (r *ToolRegistry) notifyChange(name string, removed bool) {
	r.listenersMu.RLock()
	defer r.listenersMu.RUnlock()
	for _, fn := range r.listeners {
		fn(name, removed)
	}
}

// Load fills the registry, preferring the cached snapshot over the store.
func (r *ToolRegistry) Load(ctx context.Context) error {
	_, err, _ := r.sf.Do("load", func() (any, error) {
		defs, err := r.readSnapshot(ctx)
		if err != nil || defs == nil {
			defs, err = r.store.ListTools(ctx)
			if err != nil {
				return nil, fmt.Errorf("%w: list tools: %w", domain.ErrPersistence, err)
			}
			r.writeSnapshot(ctx, defs)
		}
		r.rebuild(defs)
		return nil, nil
	})
	return err
}

// refresh reloads from the store, bypassing the snapshot.
func (r *ToolRegistry) refresh(ctx context.Context) error {
	_, err, _ := r.sf.Do("refresh", func() (any, error) {
		defs, err := r.store.ListTools(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: list tools: %w", domain.ErrPersistence, err)
		}
		r.writeSnapshot(ctx, defs)
		r.rebuild(defs)
		return nil, nil
	})
	return err
}

func (r *ToolRegistry) readSnapshot(ctx context.Context) ([]tool.Definition, error) {
	if r.cache == nil {
		return nil, nil
	}
	raw, found, err := r.cache.Get(ctx, cache.KeyToolSnapshot)
	if err != nil || !found {
		return nil, err
	}
	var defs []tool.Definition
	if err := json.Unmarshal(raw, &defs); err != nil {
		slog.Warn("tool snapshot unreadable, reloading from store", "error", err)
		return nil, nil
	}
	return defs, nil
}

func (r *ToolRegistry) writeSnapshot(ctx context.Context, defs []tool.Definition) {
	if r.cache == nil {
		return
	}
	raw, err := json.Marshal(defs)
	if err != nil {
		slog.Warn("tool snapshot encode failed", "error", err)
		return
	}
	if err := r.cache.Set(ctx, cache.KeyToolSnapshot, raw, r.snapshotTTL); err != nil {
		slog.Warn("tool snapshot write failed", "error", err)
	}
}

func (r *ToolRegistry) invalidateSnapshot(ctx context.Context) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Delete(ctx, cache.KeyToolSnapshot); err != nil {
		slog.Warn("tool snapshot invalidate failed", "error", err)
	}
}

// rebuild swaps in a fresh index built from defs. Definitions whose
// conditions no longer compile are kept for lookup but match nothing.
func (r *ToolRegistry) rebuild(defs []tool.Definition) {
	all := make(map[string]*tool.Definition, len(defs))
	byEvent := make(map[string][]Candidate)
	for i := range defs {
		d := &defs[i]
		all[d.Name] = d
		if !d.Enabled {
			continue
		}
		for idx, tr := range d.Triggers {
			cond, err := condition.Compile(tr.Conditions)
			if err != nil {
				slog.Error("skipping trigger with invalid conditions", "tool", d.Name, "trigger", idx, "error", err)
				continue
			}
			byEvent[tr.EventType] = append(byEvent[tr.EventType], Candidate{
				Tool:         d,
				TriggerIndex: idx,
				Trigger:      tr,
				Condition:    cond,
			})
		}
	}

	r.mu.Lock()
	r.all = all
	r.byEvent = byEvent
	r.mu.Unlock()
}

// Seed registers defs that are not yet stored. Existing definitions with
// the same name are left untouched so operator edits survive restarts.
func (r *ToolRegistry) Seed(ctx context.Context, defs []tool.Definition) (int, error) {
	n := 0
	for i := range defs {
		d := defs[i]
		if _, err := r.store.GetTool(ctx, d.Name); err == nil {
			continue
		} else if !errors.Is(err, domain.ErrNotFound) {
			return n, fmt.Errorf("%w: get tool %s: %w", domain.ErrPersistence, d.Name, err)
		}
		if err := r.Register(ctx, &d); err != nil {
			return n, fmt.Errorf("seed %s: %w", d.Name, err)
		}
		n++
	}
	return n, nil
}

// Register validates and stores d, replacing any definition with the same
// name. The implementation ref must resolve when a plugin registry is set.
func (r *ToolRegistry) Register(ctx context.Context, d *tool.Definition) error {
	d.ApplyDefaults()
	if err := d.Validate(); err != nil {
		return err
	}
	if r.plugins != nil && !r.plugins.Has(d.ImplementationRef) {
		return fmt.Errorf("%w: unknown implementation_ref %q", domain.ErrValidation, d.ImplementationRef)
	}
	if err := r.store.UpsertTool(ctx, d); err != nil {
		return fmt.Errorf("%w: upsert tool %s: %w", domain.ErrPersistence, d.Name, err)
	}
	r.invalidateSnapshot(ctx)
	if err := r.refresh(ctx); err != nil {
		return err
	}
	slog.Info("tool registered", "tool", d.Name, "enabled", d.Enabled, "triggers", len(d.Triggers))
	r.notifyChange(d.Name, false)
	return nil
}

// Unregister removes the named tool.
func (r *ToolRegistry) Unregister(ctx context.Context, name string) error {
	if err := r.store.DeleteTool(ctx, name); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fmt.Errorf("%w: %s", tool.ErrNotFound, name)
		}
		return fmt.Errorf("%w: delete tool %s: %w", domain.ErrPersistence, name, err)
	}
	r.invalidateSnapshot(ctx)
	if err := r.refresh(ctx); err != nil {
		return err
	}
	slog.Info("tool unregistered", "tool", name)
	r.notifyChange(name, true)
	return nil
}

// Get returns a copy of the named definition, consulting the store when
// the in-memory view does not have it.
func (r *ToolRegistry) Get(ctx context.Context, name string) (*tool.Definition, error) {
	r.mu.RLock()
	d, ok := r.all[name]
	r.mu.RUnlock()
	if ok {
		c := *d
		return &c, nil
	}

	d, err := r.store.GetTool(ctx, name)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", tool.ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get tool %s: %w", domain.ErrPersistence, name, err)
	}
	return d, nil
}

// IsAvailable reports whether the named tool may run in cc.
func (r *ToolRegistry) IsAvailable(ctx context.Context, name string, cc tool.CallContext) (bool, tool.Reason, error) {
	d, err := r.Get(ctx, name)
	if err != nil {
		return false, tool.ReasonNone, err
	}
	reason := d.Availability(cc)
	return reason == tool.ReasonNone, reason, nil
}

// Matches returns the enabled triggers bound to eventType.
func (r *ToolRegistry) Matches(eventType string) []Candidate {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src := r.byEvent[eventType]
	out := make([]Candidate, len(src))
	copy(out, src)
	return out
}

// List returns all registered definitions sorted by name.
func (r *ToolRegistry) List() []tool.Definition {
	r.mu.RLock()
	out := make([]tool.Definition, 0, len(r.all))
	for _, d := range r.all {
		out = append(out, *d)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RecordOutcome folds one execution outcome into the tool's statistics.
func (r *ToolRegistry) RecordOutcome(ctx context.Context, name string, success bool) {
	meta, err := r.store.RecordToolOutcome(ctx, name, success)
	if err != nil {
		slog.Warn("record tool outcome failed", "tool", name, "error", err)
		return
	}
	r.mu.Lock()
	if d, ok := r.all[name]; ok {
		c := *d
		c.Meta = meta
		r.all[name] = &c
	}
	r.mu.Unlock()
}
