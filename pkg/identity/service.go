package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/warden/pkg/observability"
)

// lockStripes is the number of per-identity lock stripes. Writers to the
// same user always hash to the same stripe, which serializes the
// read-modify-write sequence and closes the lost-update window the
// document model would otherwise have.
const lockStripes = 64

// Service implements the identity operations on top of a Repository
type Service struct {
	repo       Repository
	indexTypes *IndexTypes
	metrics    *observability.Metrics
	avatars    *avatarCache
	locks      [lockStripes]sync.Mutex
}

// NewService creates the identity service. metrics may be nil.
func NewService(repo Repository, indexTypes *IndexTypes, metrics *observability.Metrics) *Service {
	if indexTypes == nil {
		indexTypes = DefaultIndexTypes()
	}
	return &Service{
		repo:       repo,
		indexTypes: indexTypes,
		metrics:    metrics,
		avatars:    newAvatarCache(),
	}
}

// IndexTypes returns the immutable index type registry
func (s *Service) IndexTypes() *IndexTypes {
	return s.indexTypes
}

func (s *Service) lockFor(id uuid.UUID) *sync.Mutex {
	h := fnv.New32a()
	h.Write(id[:])
	return &s.locks[h.Sum32()%lockStripes]
}

// withUserLock serializes mutations of a single user document
func (s *Service) withUserLock(id uuid.UUID, fn func() error) error {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()
	return fn()
}

// CreateUser creates a new user with an initial password credential and
// seeds the document-id index when the registry defines the "id" type.
func (s *Service) CreateUser(ctx context.Context, password string, informations map[string]string) (*User, error) {
	if informations == nil {
		informations = make(map[string]string)
	}

	user := &User{
		ID:           uuid.New(),
		Informations: informations,
		Groups:       make([]uuid.UUID, 0),
		Indexes:      make([]UserIndex, 0),
		PasswordHash: hashPassword(password),
	}

	if description, ok := s.indexTypes.Description("id"); ok {
		user.Indexes = append(user.Indexes, UserIndex{
			TypeID:      "id",
			Value:       user.ID.String(),
			Description: description,
		})
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, err
	}

	s.refreshUserCount(ctx)
	return user, nil
}

// GetUser loads a user by id
func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	return s.repo.Get(ctx, id)
}

// ListUsers returns up to count users after the previous id cursor,
// ordered by id (forward-only pagination)
func (s *Service) ListUsers(ctx context.Context, previous uuid.UUID, count int) ([]*User, error) {
	return s.repo.List(ctx, previous, count)
}

// DeleteUser removes a user document
func (s *Service) DeleteUser(ctx context.Context, id uuid.UUID) error {
	err := s.withUserLock(id, func() error {
		return s.repo.Delete(ctx, id)
	})
	if err != nil {
		return err
	}
	s.avatars.invalidate(id)
	s.refreshUserCount(ctx)
	return nil
}

// UpdateInformations replaces the user's free-form informations map
func (s *Service) UpdateInformations(ctx context.Context, id uuid.UUID, informations map[string]string) (*User, error) {
	if informations == nil {
		informations = make(map[string]string)
	}
	return s.mutate(ctx, id, func(user *User) error {
		user.Informations = informations
		return nil
	})
}

// UpdateStatus sets the disabled flag from the requested status
// (status true means enabled)
func (s *Service) UpdateStatus(ctx context.Context, id uuid.UUID, status bool) (*User, error) {
	return s.mutate(ctx, id, func(user *User) error {
		user.Disabled = !status
		return nil
	})
}

// AddGroup adds the user to a group; adding an existing membership is a no-op
func (s *Service) AddGroup(ctx context.Context, id, groupID uuid.UUID) (*User, error) {
	return s.mutate(ctx, id, func(user *User) error {
		if user.HasGroup(groupID) {
			return nil
		}
		user.Groups = append(user.Groups, groupID)
		return nil
	})
}

// RemoveGroup removes the user from a group; removal is idempotent
func (s *Service) RemoveGroup(ctx context.Context, id, groupID uuid.UUID) (*User, error) {
	return s.mutate(ctx, id, func(user *User) error {
		groups := user.Groups[:0]
		for _, g := range user.Groups {
			if g != groupID {
				groups = append(groups, g)
			}
		}
		user.Groups = groups
		return nil
	})
}

// mutate runs a locked read-modify-write cycle on one user document
func (s *Service) mutate(ctx context.Context, id uuid.UUID, fn func(*User) error) (*User, error) {
	var result *User
	err := s.withUserLock(id, func() error {
		user, err := s.repo.Get(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(user); err != nil {
			return err
		}
		user.UpdatedAt = time.Now()
		result, err = s.repo.Save(ctx, user)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) refreshUserCount(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	if count, err := s.repo.Count(ctx); err == nil {
		s.metrics.UsersTotal.Set(float64(count))
	}
}

// hashPassword derives a salted SHA-256 credential hash in salt$digest form
func hashPassword(password string) string {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		// crypto/rand failing means the process is in no state to
		// mint credentials
		panic(fmt.Sprintf("identity: reading random salt: %v", err))
	}

	digest := sha256.Sum256(append(salt, []byte(password)...))
	return hex.EncodeToString(salt) + "$" + hex.EncodeToString(digest[:])
}

// CheckPassword verifies a password against a stored salt$digest hash
func CheckPassword(stored, password string) bool {
	parts := strings.SplitN(stored, "$", 2)
	if len(parts) != 2 {
		return false
	}
	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return false
	}
	digest := sha256.Sum256(append(salt, []byte(password)...))
	return subtle.ConstantTimeCompare([]byte(hex.EncodeToString(digest[:])), []byte(parts[1])) == 1
}
