package identity

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
)

// User is a single identity record. Secondary indexes and the avatar
// binary live on the record itself; every mutation is a read-modify-write
// of the whole document.
type User struct {
	ID           uuid.UUID         `json:"id"`
	Informations map[string]string `json:"informations"`
	Disabled     bool              `json:"disabled"`
	Groups       []uuid.UUID       `json:"groups"`
	Indexes      []UserIndex       `json:"indexs"`
	Avatar       Avatar            `json:"avatar"`
	PasswordHash string            `json:"-"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// HasGroup reports whether the user belongs to the given group
func (u *User) HasGroup(groupID uuid.UUID) bool {
	for _, g := range u.Groups {
		if g == groupID {
			return true
		}
	}
	return false
}

// IndexFor returns the user's index entry with the given typeid, if any.
// A user holds at most one index per typeid.
func (u *User) IndexFor(typeid string) (UserIndex, bool) {
	for _, idx := range u.Indexes {
		if idx.TypeID == typeid {
			return idx, true
		}
	}
	return UserIndex{}, false
}

// UserIndex is a typed alternate identifier attached to a user
type UserIndex struct {
	TypeID      string          `json:"typeid"`
	Value       string          `json:"value"`
	Description string          `json:"description"`
	Extension   json.RawMessage `json:"extension,omitempty"`
}

// Avatar is the user's avatar binary pair. Size == 0 means no avatar;
// the thumbnail exists iff the original exists.
type Avatar struct {
	Size       int64     `json:"size"`
	Format     string    `json:"format,omitempty"`
	UploadDate time.Time `json:"upload_date,omitempty"`
	Data       []byte    `json:"-"`
	Thumbnail  []byte    `json:"-"`
}

// Present reports whether the user has an avatar
func (a *Avatar) Present() bool {
	return a.Size > 0
}

// IndexTypes is the immutable registry of valid index types, built once
// at startup and passed by reference into the service.
type IndexTypes struct {
	descriptions map[string]string
}

// NewIndexTypes builds the registry from a typeid to description mapping
func NewIndexTypes(descriptions map[string]string) *IndexTypes {
	copied := make(map[string]string, len(descriptions))
	for typeid, description := range descriptions {
		copied[typeid] = description
	}
	return &IndexTypes{descriptions: copied}
}

// DefaultIndexTypes returns the registry used when none is configured
func DefaultIndexTypes() *IndexTypes {
	return NewIndexTypes(map[string]string{
		"id":    "document id",
		"email": "email address",
		"phone": "phone number",
	})
}

// Description returns the description for a typeid and whether it is defined
func (t *IndexTypes) Description(typeid string) (string, bool) {
	description, ok := t.descriptions[typeid]
	return description, ok
}

// Defined reports whether the typeid is a member of the registry
func (t *IndexTypes) Defined(typeid string) bool {
	_, ok := t.descriptions[typeid]
	return ok
}

// All returns a copy of the full typeid to description mapping
func (t *IndexTypes) All() map[string]string {
	copied := make(map[string]string, len(t.descriptions))
	for typeid, description := range t.descriptions {
		copied[typeid] = description
	}
	return copied
}

// TypeIDs returns the sorted list of defined typeids
func (t *IndexTypes) TypeIDs() []string {
	ids := make([]string, 0, len(t.descriptions))
	for typeid := range t.descriptions {
		ids = append(ids, typeid)
	}
	sort.Strings(ids)
	return ids
}
