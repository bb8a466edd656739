// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// AuthKey contains *auth.Context
	// Set by: middleware.AuthMiddleware (pkg/middleware/auth.go)
	// Required by: permission gate, all protected endpoints
	AuthKey Key = "auth_context"

	// RequestIDKey contains request ID string (UUID)
	// Set by: middleware.RequestID
	// Used by: logger, audit trail
	RequestIDKey Key = "request_id"

	// UserIDKey contains the authenticated user's ID string
	// Set by: middleware.AuthMiddleware after token validation
	// Used by: logger, audit trail, self-service resolution
	UserIDKey Key = "user_id"

	// LoggerKey contains *observability.Logger
	// Set by: middleware.Logging
	LoggerKey Key = "logger"

	// AuditLoggerKey contains audit.Logger
	// Set by: audit.Middleware
	AuditLoggerKey Key = "audit_logger"
)

// WithValue stores a value under a typed key.
func WithValue(ctx context.Context, key Key, value interface{}) context.Context {
	return context.WithValue(ctx, key, value)
}

// Value retrieves a value stored under a typed key.
func Value(ctx context.Context, key Key) interface{} {
	return ctx.Value(key)
}
