package identity

import (
	"context"

	"github.com/google/uuid"
)

// Repository persists user documents. Load and Save are strongly
// consistent per call but not transactional across a read-modify-write
// sequence; the service serializes writers per user on top of this.
type Repository interface {
	// Create inserts a new user document
	Create(ctx context.Context, user *User) error

	// Get loads a user by id, returning ErrNotFound when absent
	Get(ctx context.Context, id uuid.UUID) (*User, error)

	// List returns up to count users with id greater than previous,
	// ordered by id. A zero count means no limit.
	List(ctx context.Context, previous uuid.UUID, count int) ([]*User, error)

	// FindByIndex returns all users holding an index entry with the
	// given typeid and value, ordered by id
	FindByIndex(ctx context.Context, typeid, value string) ([]*User, error)

	// Save writes back the whole user document and returns the stored state
	Save(ctx context.Context, user *User) (*User, error)

	// Delete removes a user document, returning ErrNotFound when absent
	Delete(ctx context.Context, id uuid.UUID) error

	// Count returns the total number of user documents
	Count(ctx context.Context) (int64, error)
}
