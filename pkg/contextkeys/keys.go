// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//
//	import "github.com/primex-melvin/ppdo-next-sub004/pkg/contextkeys"
//	ctx = contextkeys.WithDepartmentScope(ctx, deptID)
//	deptID := contextkeys.GetDepartmentScope(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// RequestIDKey contains request ID string (UUID)
	// Set by: middleware.RequestID (pkg/middleware/scope.go)
	// Used by: Logger, search handlers
	// Type: string
	RequestIDKey Key = "request_id"

	// UserIDKey contains the caller's user ID
	// Set by: middleware.Scope from the gateway-authenticated X-User-ID header
	// Used by: Logger
	// Type: string
	UserIDKey Key = "user_id"

	// DepartmentScopeKey contains the department a department-scoped caller
	// is restricted to. Absent for unrestricted callers.
	// Set by: middleware.Scope from the X-Department-Scope header
	// Required by: search read paths (pre-filter on candidates)
	// Type: string
	DepartmentScopeKey Key = "department_scope"

	// LoggerKey contains *observability.Logger
	// Set by: middleware.RequestID
	// Used by: Handlers that need structured logging with request context
	// Type: *observability.Logger
	LoggerKey Key = "logger"
)

// WithRequestID adds request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithUserID adds user ID to the context
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

// WithDepartmentScope restricts the caller to one department
func WithDepartmentScope(ctx context.Context, departmentID string) context.Context {
	return context.WithValue(ctx, DepartmentScopeKey, departmentID)
}

// WithLogger adds logger to the context
func WithLogger(ctx context.Context, logger interface{}) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// GetRequestID retrieves request ID from context
func GetRequestID(ctx context.Context) string {
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// GetUserID retrieves user ID from context
func GetUserID(ctx context.Context) string {
	if userID, ok := ctx.Value(UserIDKey).(string); ok {
		return userID
	}
	return ""
}

// GetDepartmentScope retrieves the department scope from context
func GetDepartmentScope(ctx context.Context) string {
	if dept, ok := ctx.Value(DepartmentScopeKey).(string); ok {
		return dept
	}
	return ""
}
