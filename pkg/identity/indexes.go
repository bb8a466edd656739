package identity

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
)

// ListIndexTypes returns the discovery mapping of typeid to description
func (s *Service) ListIndexTypes() map[string]string {
	return s.indexTypes.All()
}

// CreateOrReplaceIndex attaches a secondary index to the user. A user
// holds at most one index per typeid, so any existing entry with the
// same typeid is replaced rather than appended to. The description is
// copied from the registry at creation time and never re-validated.
// Returns the user's full updated index list.
func (s *Service) CreateOrReplaceIndex(ctx context.Context, userID uuid.UUID, typeid, value string, extension json.RawMessage) ([]UserIndex, error) {
	description, ok := s.indexTypes.Description(typeid)
	if !ok {
		return nil, undefinedIndexType(typeid)
	}

	user, err := s.mutate(ctx, userID, func(user *User) error {
		kept := user.Indexes[:0]
		for _, idx := range user.Indexes {
			if idx.TypeID != typeid {
				kept = append(kept, idx)
			}
		}
		user.Indexes = append(kept, UserIndex{
			TypeID:      typeid,
			Value:       value,
			Description: description,
			Extension:   extension,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user.Indexes, nil
}

// DeleteIndex removes the user's index with the given typeid. Deletion
// is idempotent: a missing entry is not an error. Returns the user's
// remaining index list.
func (s *Service) DeleteIndex(ctx context.Context, userID uuid.UUID, typeid string) ([]UserIndex, error) {
	user, err := s.mutate(ctx, userID, func(user *User) error {
		kept := user.Indexes[:0]
		for _, idx := range user.Indexes {
			if idx.TypeID != typeid {
				kept = append(kept, idx)
			}
		}
		user.Indexes = kept
		return nil
	})
	if err != nil {
		return nil, err
	}
	return user.Indexes, nil
}

// LookupByIndex returns all users holding an index entry with the given
// typeid and value, ordered by id. The result may be empty.
func (s *Service) LookupByIndex(ctx context.Context, typeid, value string) ([]*User, error) {
	users, err := s.repo.FindByIndex(ctx, typeid, value)
	if err != nil {
		return nil, err
	}
	if s.metrics != nil {
		s.metrics.IndexLookupsTotal.Inc()
	}
	return users, nil
}
