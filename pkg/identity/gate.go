package identity

import (
	"github.com/google/uuid"

	"github.com/platinummonkey/warden/pkg/auth"
)

// Authorize decides whether the caller may perform an operation.
//
// The caller is allowed if it holds the required permission, or if the
// operation permits self-service and the resolved target is the
// caller's own identity. Authorization runs before any mutation, so a
// denial has no observable side effects. selfService is per-operation
// static configuration, never derived from data.
func Authorize(caller *auth.Context, required auth.Permission, selfService bool, target uuid.UUID) error {
	if caller == nil {
		return ErrPermissionDenied
	}
	if caller.Has(required) {
		return nil
	}
	if selfService && caller.UserID == target {
		return nil
	}
	return ErrPermissionDenied
}
