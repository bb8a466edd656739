package identity

import (
	"github.com/google/uuid"

	"github.com/platinummonkey/warden/pkg/auth"
)

// SelfOperator is the reserved path token meaning "the caller's own identity"
const SelfOperator = "self"

// ResolveOperator resolves a path identifier that may be either the self
// sentinel or an explicit user id. It has no side effects.
func ResolveOperator(caller *auth.Context, pathValue string) (uuid.UUID, error) {
	if pathValue == SelfOperator {
		if caller == nil {
			return uuid.Nil, invalidIdentifier(pathValue)
		}
		return caller.UserID, nil
	}
	return ParseID(pathValue)
}

// ParseID parses an explicit identity token, failing with
// ErrInvalidIdentifier on malformed input
func ParseID(token string) (uuid.UUID, error) {
	id, err := uuid.Parse(token)
	if err != nil {
		return uuid.Nil, invalidIdentifier(token)
	}
	return id, nil
}
