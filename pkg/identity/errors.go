package identity

import (
	"errors"
	"fmt"
)

// Error taxonomy. All four are terminal for the current request; the
// HTTP layer maps them to 400/400/403/404 respectively.
var (
	// ErrInvalidIdentifier indicates a malformed identity token
	ErrInvalidIdentifier = errors.New("invalid identifier")

	// ErrUndefinedIndexType indicates a typeid outside the registry
	ErrUndefinedIndexType = errors.New("undefined index type")

	// ErrPermissionDenied indicates the caller may not perform the
	// operation. It never leaks whether the target exists.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrNotFound indicates the user or avatar is absent
	ErrNotFound = errors.New("not found")
)

// invalidIdentifier wraps ErrInvalidIdentifier with the offending token
func invalidIdentifier(token string) error {
	return fmt.Errorf("%w: %q", ErrInvalidIdentifier, token)
}

// undefinedIndexType wraps ErrUndefinedIndexType with the offending typeid
func undefinedIndexType(typeid string) error {
	return fmt.Errorf("%w: %q", ErrUndefinedIndexType, typeid)
}
