package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/toolgate/internal/domain"
	"github.com/Strob0t/toolgate/internal/domain/credit"
	"github.com/Strob0t/toolgate/internal/domain/tool"
	"github.com/Strob0t/toolgate/internal/port/plugin"
	"github.com/Strob0t/toolgate/internal/ratelimit"
	"github.com/Strob0t/toolgate/internal/service"
)

const maxRequestBodySize = 1 << 20 // 1 MB

// ---------------------------------------------------------------------------
// Request helpers
// ---------------------------------------------------------------------------

// readJSON decodes a JSON request body with a size limit.
func readJSON[T any](w http.ResponseWriter, r *http.Request) (T, bool) {
	var v T
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid request body")
		}
		return v, false
	}
	return v, true
}

// urlParam is a short alias for chi.URLParam.
func urlParam(r *http.Request, name string) string {
	return chi.URLParam(r, name)
}

// requireField writes a 400 error and returns false when value is empty.
func requireField(w http.ResponseWriter, value, fieldName string) bool {
	if value == "" {
		writeError(w, http.StatusBadRequest, fieldName+" is required")
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// Response helpers
// ---------------------------------------------------------------------------

type errorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind,omitempty"`
	TaskID string `json:"task_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// domainStatus maps an error to its HTTP status.
func domainStatus(err error) int {
	switch {
	case errors.Is(err, tool.ErrNotFound), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, tool.ErrUnavailable):
		return http.StatusForbidden
	case errors.Is(err, ratelimit.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, credit.ErrInsufficientBudget):
		return http.StatusPaymentRequired
	case errors.Is(err, plugin.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, plugin.ErrImplementation):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeDomainError maps err onto a status and a body carrying the stable
// error kind. Server-side failures are logged and returned without detail.
func writeDomainError(w http.ResponseWriter, err error, taskID string) {
	status := domainStatus(err)
	body := errorResponse{Error: err.Error(), Kind: service.ErrorKind(err), TaskID: taskID}
	if body.Kind == service.KindInternal && status != http.StatusInternalServerError {
		body.Kind = ""
	}

	var limited *ratelimit.ExceededError
	if errors.As(err, &limited) {
		secs := (limited.RetryAfterMs() + 999) / 1000
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}

	switch {
	case status == http.StatusInternalServerError:
		slog.Error("unhandled domain error", "error", err)
		body.Error = "internal server error"
	case errors.Is(err, domain.ErrValidation):
		body.Error = strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": ")
	}
	writeJSON(w, status, body)
}

// writeInternalError logs the actual error server-side and returns a generic message to the client.
func writeInternalError(w http.ResponseWriter, err error) {
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
