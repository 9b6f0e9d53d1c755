package middleware

import (
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/primex-melvin/ppdo-next-sub004/pkg/contextkeys"
	"github.com/primex-melvin/ppdo-next-sub004/pkg/httputil"
	"github.com/primex-melvin/ppdo-next-sub004/pkg/observability"
)

// Headers set by the API gateway after it has authenticated the caller.
const (
	RequestIDHeader       = httputil.RequestIDHeader
	UserIDHeader          = "X-User-ID"
	DepartmentScopeHeader = "X-Department-Scope"
)

// maxRequestIDLen bounds client-supplied request IDs before they reach logs.
const maxRequestIDLen = 128

// RequestID propagates the caller's X-Request-ID or assigns a new UUID,
// echoes it on the response and stores it, together with logger, on the
// request context.
func RequestID(logger *observability.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := strings.TrimSpace(r.Header.Get(RequestIDHeader))
			if id == "" || len(id) > maxRequestIDLen {
				id = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, id)

			ctx := contextkeys.WithRequestID(r.Context(), id)
			if logger != nil {
				ctx = observability.WithLogger(ctx, logger)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Scope copies the gateway identity headers into the request context. A
// request without X-Department-Scope is unrestricted; with it, every read
// path filters candidates to that department.
func Scope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if userID := strings.TrimSpace(r.Header.Get(UserIDHeader)); userID != "" {
			ctx = contextkeys.WithUserID(ctx, userID)
		}
		if dept := strings.TrimSpace(r.Header.Get(DepartmentScopeHeader)); dept != "" {
			ctx = contextkeys.WithDepartmentScope(ctx, dept)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
