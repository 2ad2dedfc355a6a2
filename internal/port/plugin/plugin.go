// Package plugin defines the capability implementation port and the
// name-keyed registry the executor resolves implementation refs against.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/Strob0t/toolgate/internal/domain/tool"
)

// ErrImplementation is the sentinel matched by *ImplementationError.
var ErrImplementation = errors.New("implementation error")

// ErrTimeout is returned when an implementation exceeds its deadline.
var ErrTimeout = errors.New("timeout")

// ImplementationError wraps a failure raised by a capability implementation.
type ImplementationError struct {
	Ref string
	Err error
}

func (e *ImplementationError) Error() string {
	return fmt.Sprintf("implementation %q: %v", e.Ref, e.Err)
}

func (e *ImplementationError) Unwrap() error { return e.Err }

func (e *ImplementationError) Is(target error) bool { return target == ErrImplementation }

// Implementation is a unit of behavior invoked with arguments and a call
// context. It must honor ctx cancellation; implementations that ignore it
// are abandoned when their deadline passes.
type Implementation interface {
	Invoke(ctx context.Context, args map[string]any, cc tool.CallContext) (any, error)
}

// Func adapts a function to Implementation.
type Func func(ctx context.Context, args map[string]any, cc tool.CallContext) (any, error)

func (f Func) Invoke(ctx context.Context, args map[string]any, cc tool.CallContext) (any, error) {
	return f(ctx, args, cc)
}

// Registry maps implementation refs to implementations. It is populated at
// startup and read on every execution.
type Registry struct {
	mu    sync.RWMutex
	impls map[string]Implementation
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{impls: make(map[string]Implementation)}
}

// Register binds ref to impl. Registering the same ref twice is an error.
func (r *Registry) Register(ref string, impl Implementation) error {
	if ref == "" || impl == nil {
		return fmt.Errorf("plugin: ref and implementation are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.impls[ref]; exists {
		return fmt.Errorf("plugin: duplicate registration for %q", ref)
	}
	r.impls[ref] = impl
	return nil
}

// Resolve returns the implementation bound to ref.
func (r *Registry) Resolve(ref string) (Implementation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	impl, ok := r.impls[ref]
	return impl, ok
}

// Has reports whether ref is registered.
func (r *Registry) Has(ref string) bool {
	_, ok := r.Resolve(ref)
	return ok
}

// Refs returns the registered refs in sorted order.
func (r *Registry) Refs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	refs := make([]string, 0, len(r.impls))
	for ref := range r.impls {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}
