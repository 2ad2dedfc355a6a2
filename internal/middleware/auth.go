package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"unicode"

	"github.com/Strob0t/toolgate/internal/domain/tool"
)

// HeaderUserID carries the caller identity established by the upstream
// gateway. toolgate trusts it and does not authenticate users itself.
const HeaderUserID = "X-User-ID"

const (
	headerAdminKey = "X-Admin-Key"
	maxUserIDLen   = 128
)

type userCtxKey struct{}

// WithUser returns a copy of ctx carrying userID.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userCtxKey{}, userID)
}

// UserID returns the caller identity stored in ctx, or "" for anonymous
// callers.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userCtxKey{}).(string)
	return id
}

// CallContext builds the tool call context for the caller in ctx.
func CallContext(ctx context.Context) tool.CallContext {
	id := UserID(ctx)
	return tool.CallContext{UserID: id, Authenticated: id != ""}
}

// ValidUserID reports whether id is usable as a user identity.
func ValidUserID(id string) bool {
	if id == "" || len(id) > maxUserIDLen {
		return false
	}
	return !strings.ContainsFunc(id, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	})
}

// Identity extracts X-User-ID into the request context. Requests without
// the header continue anonymously; malformed identities are rejected.
func Identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}
		if !ValidUserID(id) {
			writeJSONError(w, http.StatusBadRequest, "invalid "+HeaderUserID+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), id)))
	})
}

// RequireUser rejects anonymous requests.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserID(r.Context()) == "" {
			writeJSONError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Secret yields the current value of a rotatable credential. A nil Secret
// is empty.
type Secret func() string

// Static returns a Secret that always yields s.
func Static(s string) Secret {
	return func() string { return s }
}

// Value returns the current secret.
func (s Secret) Value() string {
	if s == nil {
		return ""
	}
	return s()
}

// RequireAdmin guards operator routes with a static key sent as X-Admin-Key
// or "Authorization: Bearer <key>". The key is read per request; an empty
// key closes the routes.
func RequireAdmin(key Secret) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := key.Value()
			if key == "" {
				writeJSONError(w, http.StatusForbidden, "admin routes are disabled")
				return
			}
			got := r.Header.Get(headerAdminKey)
			if got == "" {
				got = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if got == "" {
				writeJSONError(w, http.StatusUnauthorized, "admin key required")
				return
			}
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				writeJSONError(w, http.StatusForbidden, "invalid admin key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
