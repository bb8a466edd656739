package middleware

import (
	"net/http"
	"strings"

	"github.com/platinummonkey/warden/pkg/auth"
	"github.com/platinummonkey/warden/pkg/contextkeys"
	"github.com/platinummonkey/warden/pkg/observability"
)

// AuthMiddleware provides authentication middleware
type AuthMiddleware struct {
	tokenManager *auth.TokenManager
	optional     bool // If true, allow requests without auth
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(tokenManager *auth.TokenManager, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		tokenManager: tokenManager,
		optional:     optional,
	}
}

// Handler wraps an HTTP handler with authentication.
// Expects "Authorization: Bearer <token>".
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			if m.optional {
				next.ServeHTTP(w, r)
				return
			}
			m.unauthorizedResponse(w, "missing authorization header")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			m.unauthorizedResponse(w, "invalid authorization header format")
			return
		}

		authCtx, err := m.tokenManager.ValidateToken(r.Context(), parts[1])
		if err != nil {
			m.unauthorizedResponse(w, "invalid or expired token")
			return
		}

		ctx := contextkeys.WithValue(r.Context(), contextkeys.AuthKey, authCtx)
		ctx = observability.WithUserID(ctx, authCtx.UserID.String())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) unauthorizedResponse(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	w.Write([]byte(`{"error":"` + message + `"}`))
}

// GetAuthContext extracts the caller context from a request
func GetAuthContext(r *http.Request) *auth.Context {
	v := r.Context().Value(contextkeys.AuthKey)
	if v == nil {
		return nil
	}
	authCtx, ok := v.(*auth.Context)
	if !ok {
		return nil
	}
	return authCtx
}
