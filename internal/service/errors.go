// Package service contains the engine services: tool registry, budget
// guard, executor, trigger engine and event queue.
package service

import (
	"errors"

	"github.com/Strob0t/toolgate/internal/domain"
	"github.com/Strob0t/toolgate/internal/domain/credit"
	"github.com/Strob0t/toolgate/internal/domain/tool"
	"github.com/Strob0t/toolgate/internal/port/plugin"
	"github.com/Strob0t/toolgate/internal/ratelimit"
)

// Error kinds recorded in execution records and returned over the API.
const (
	KindToolNotFound       = "ToolNotFound"
	KindToolUnavailable    = "ToolUnavailable"
	KindRateLimitExceeded  = "RateLimitExceeded"
	KindInsufficientBudget = "InsufficientBudget"
	KindImplementation     = "ImplementationError"
	KindTimeout            = "Timeout"
	KindPersistence        = "PersistenceError"
	KindValidation         = "ValidationError"
	KindConflict           = "Conflict"
	KindInternal           = "InternalError"
)

// ErrorKind maps an error to its stable kind string. It returns "" for nil.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, tool.ErrNotFound):
		return KindToolNotFound
	case errors.Is(err, tool.ErrUnavailable):
		return KindToolUnavailable
	case errors.Is(err, ratelimit.ErrRateLimited):
		return KindRateLimitExceeded
	case errors.Is(err, credit.ErrInsufficientBudget):
		return KindInsufficientBudget
	case errors.Is(err, plugin.ErrTimeout):
		return KindTimeout
	case errors.Is(err, plugin.ErrImplementation):
		return KindImplementation
	case errors.Is(err, domain.ErrPersistence):
		return KindPersistence
	case errors.Is(err, domain.ErrValidation):
		return KindValidation
	case errors.Is(err, domain.ErrConflict):
		return KindConflict
	}
	return KindInternal
}
