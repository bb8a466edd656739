package auth

import (
	"time"

	"github.com/google/uuid"
)

// Permission is a flat permission string granted to a caller.
type Permission string

const (
	PermissionUsersGet    Permission = "users.get"
	PermissionUsersCreate Permission = "users.create"
	PermissionUsersUpdate Permission = "users.update"
	PermissionUsersDelete Permission = "users.delete"
	PermissionAuditRead   Permission = "audit.read"
	// PermissionAll grants every permission (for admin tokens)
	PermissionAll Permission = "*"
)

// APIToken represents an API token record
type APIToken struct {
	ID          int64        `json:"id"`
	UserID      uuid.UUID    `json:"user_id"`
	TokenHash   string       `json:"-"` // Never expose hash
	TokenPrefix string       `json:"token_prefix"`
	Name        string       `json:"name"`
	Permissions []Permission `json:"permissions"`
	ExpiresAt   *time.Time   `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time   `json:"last_used_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	RevokedAt   *time.Time   `json:"revoked_at,omitempty"`
}

// IsValid reports whether the token is usable at the given instant
func (t *APIToken) IsValid(now time.Time) bool {
	if t.RevokedAt != nil {
		return false
	}
	if t.ExpiresAt != nil && now.After(*t.ExpiresAt) {
		return false
	}
	return true
}

// Context carries the authenticated caller through a request.
type Context struct {
	// UserID is the identity the token belongs to
	UserID uuid.UUID
	// Permissions is the caller's effective permission set
	Permissions []Permission
	// Token is the validated API token, nil for internally-built contexts
	Token *APIToken
}

// Has reports whether the caller holds the given permission.
func (c *Context) Has(perm Permission) bool {
	if c == nil {
		return false
	}
	for _, p := range c.Permissions {
		if p == perm || p == PermissionAll {
			return true
		}
	}
	return false
}
