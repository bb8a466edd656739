package audit

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/observability"
)

// Middleware provides HTTP middleware for audit logging
type Middleware struct {
	logger         Logger
	logAllRequests bool // If false, only log mutations and failures
}

// NewMiddleware creates a new audit middleware
func NewMiddleware(logger Logger, logAllRequests bool) *Middleware {
	return &Middleware{
		logger:         logger,
		logAllRequests: logAllRequests,
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Handler wraps an HTTP handler with audit logging
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithLogger(r.Context(), m.logger)

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r.WithContext(ctx))

		if !m.logAllRequests && !m.shouldLogRequest(r, wrapped.statusCode) {
			return
		}

		event := &Event{
			Timestamp:  time.Now(),
			EventType:  eventTypeForRequest(r, wrapped.statusCode),
			Status:     statusForCode(wrapped.statusCode),
			ActorID:    observability.GetUserID(ctx),
			RequestID:  observability.GetRequestID(ctx),
			Method:     r.Method,
			Path:       r.URL.Path,
			StatusCode: wrapped.statusCode,
			IPAddress:  clientIP(r),
			UserAgent:  r.UserAgent(),
		}

		// A failed audit write must not fail the request
		_ = m.logger.Log(ctx, event)
	})
}

// shouldLogRequest determines if a request should be logged
func (m *Middleware) shouldLogRequest(r *http.Request, statusCode int) bool {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		return true
	}
	return statusCode >= 400
}

func statusForCode(code int) EventStatus {
	switch {
	case code == http.StatusForbidden || code == http.StatusUnauthorized:
		return EventStatusDenied
	case code >= 400:
		return EventStatusFailure
	default:
		return EventStatusSuccess
	}
}

// eventTypeForRequest maps a request to its audit event type
func eventTypeForRequest(r *http.Request, statusCode int) EventType {
	if statusCode == http.StatusForbidden {
		return EventTypeAuthzAccessDenied
	}
	if statusCode == http.StatusUnauthorized {
		return EventTypeAuthTokenValidateFail
	}

	path := r.URL.Path
	switch {
	case strings.Contains(path, "/avatar/"):
		if r.Method == http.MethodDelete {
			return EventTypeUserAvatarDelete
		}
		return EventTypeUserAvatarReplace
	case strings.Contains(path, "/indexs"):
		if r.Method == http.MethodDelete {
			return EventTypeUserIndexDelete
		}
		return EventTypeUserIndexCreate
	case strings.Contains(path, "/groups/"):
		if r.Method == http.MethodDelete {
			return EventTypeUserGroupRemove
		}
		return EventTypeUserGroupAdd
	case strings.HasSuffix(path, "/status"):
		return EventTypeUserStatusChange
	case r.Method == http.MethodPost:
		return EventTypeUserCreate
	case r.Method == http.MethodDelete:
		return EventTypeUserDelete
	default:
		return EventTypeUserUpdate
	}
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		return strings.TrimSpace(parts[0])
	}
	return r.RemoteAddr
}

// WithLogger adds an audit logger to the context
func WithLogger(ctx context.Context, logger Logger) context.Context {
	return contextkeys.WithValue(ctx, contextkeys.AuditLoggerKey, logger)
}

// LoggerFromContext retrieves the audit logger from context, or nil
func LoggerFromContext(ctx context.Context) Logger {
	if logger, ok := ctx.Value(contextkeys.AuditLoggerKey).(Logger); ok {
		return logger
	}
	return nil
}
