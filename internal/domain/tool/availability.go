package tool

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when no definition is registered under a name.
var ErrNotFound = errors.New("tool not found")

// ErrUnavailable is the sentinel matched by *UnavailableError.
var ErrUnavailable = errors.New("tool unavailable")

// Reason explains why a tool cannot be invoked in a given context.
type Reason string

const (
	ReasonNone            Reason = ""
	ReasonDisabled        Reason = "disabled"
	ReasonUnauthenticated Reason = "unauthenticated"
	ReasonUnverified      Reason = "unverified"
)

// UnavailableError is returned when a resolved tool fails its availability check.
type UnavailableError struct {
	Tool   string
	Reason Reason
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("tool %q unavailable: %s", e.Tool, e.Reason)
}

func (e *UnavailableError) Is(target error) bool { return target == ErrUnavailable }

// CallContext carries the caller identity and collaborator references for
// one invocation.
type CallContext struct {
	UserID        string
	Authenticated bool
	EventID       string
	EventType     string
	// BudgetAttached is set once a credit pool for UserID is known to exist.
	BudgetAttached bool
}

// Availability evaluates the definition against cc. It returns ReasonNone
// when the tool may be invoked.
func (d *Definition) Availability(cc CallContext) Reason {
	switch {
	case !d.Enabled:
		return ReasonDisabled
	case d.RequiresAuth && (!cc.Authenticated || cc.UserID == ""):
		return ReasonUnauthenticated
	case d.RequiresPayment && !cc.BudgetAttached:
		return ReasonUnverified
	}
	return ReasonNone
}

// CheckAvailable returns an *UnavailableError when the tool may not run.
func (d *Definition) CheckAvailable(cc CallContext) error {
	if r := d.Availability(cc); r != ReasonNone {
		return &UnavailableError{Tool: d.Name, Reason: r}
	}
	return nil
}
