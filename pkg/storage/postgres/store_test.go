package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/identity"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	// Every pooled connection would get its own private in-memory
	// database, so pin the pool to one connection.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db, "sqlite3", nil)
	require.NoError(t, err)
	return store
}

func newTestUser() *identity.User {
	return &identity.User{
		ID:           uuid.New(),
		Informations: map[string]string{"name": "alice"},
		Groups:       []uuid.UUID{},
		Indexes: []identity.UserIndex{
			{TypeID: "email", Value: "alice@example.com", Description: "email address"},
		},
		PasswordHash: "abcd$1234",
	}
}

func TestStoreCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user := newTestUser()
	require.NoError(t, store.Create(ctx, user))

	loaded, err := store.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, loaded.ID)
	assert.Equal(t, "alice", loaded.Informations["name"])
	assert.Equal(t, "abcd$1234", loaded.PasswordHash)
	require.Len(t, loaded.Indexes, 1)
	assert.Equal(t, "email", loaded.Indexes[0].TypeID)
	assert.False(t, loaded.CreatedAt.IsZero())
	assert.False(t, loaded.Disabled)
}

func TestStoreGetNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, identity.ErrNotFound)
}

func TestStoreSaveUpdatesDocumentAndIndexRows(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user := newTestUser()
	require.NoError(t, store.Create(ctx, user))

	user.Disabled = true
	user.Informations["name"] = "alice2"
	user.Indexes = []identity.UserIndex{
		{TypeID: "email", Value: "alice2@example.com", Description: "email address"},
	}
	user.UpdatedAt = time.Now().UTC()

	_, err := store.Save(ctx, user)
	require.NoError(t, err)

	loaded, err := store.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, loaded.Disabled)
	assert.Equal(t, "alice2", loaded.Informations["name"])

	// the index side table follows the document
	matches, err := store.FindByIndex(ctx, "email", "alice2@example.com")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, user.ID, matches[0].ID)

	stale, err := store.FindByIndex(ctx, "email", "alice@example.com")
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestStoreSaveNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Save(context.Background(), newTestUser())
	assert.ErrorIs(t, err, identity.ErrNotFound)
}

func TestStoreDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user := newTestUser()
	require.NoError(t, store.Create(ctx, user))
	require.NoError(t, store.Delete(ctx, user.ID))

	_, err := store.Get(ctx, user.ID)
	assert.ErrorIs(t, err, identity.ErrNotFound)

	// index rows are gone with the document
	matches, err := store.FindByIndex(ctx, "email", "alice@example.com")
	require.NoError(t, err)
	assert.Empty(t, matches)

	assert.ErrorIs(t, store.Delete(ctx, user.ID), identity.ErrNotFound)
}

func TestStoreListPagination(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		user := newTestUser()
		user.ID = uuid.New()
		user.Indexes = nil
		require.NoError(t, store.Create(ctx, user))
	}

	all, err := store.List(ctx, uuid.Nil, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.Less(t, all[i-1].ID.String(), all[i].ID.String())
	}

	page1, err := store.List(ctx, uuid.Nil, 2)
	require.NoError(t, err)
	require.Len(t, page1, 2)

	page2, err := store.List(ctx, page1[1].ID, 2)
	require.NoError(t, err)
	require.Len(t, page2, 2)
	assert.NotEqual(t, page1[0].ID, page2[0].ID)

	page3, err := store.List(ctx, page2[1].ID, 2)
	require.NoError(t, err)
	assert.Len(t, page3, 1)
}

func TestStoreCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)

	user := newTestUser()
	require.NoError(t, store.Create(ctx, user))

	count, err = store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestStoreAvatarRoundtrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user := newTestUser()
	require.NoError(t, store.Create(ctx, user))

	user.Avatar = identity.Avatar{
		Size:       4,
		Format:     "png",
		UploadDate: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Data:       []byte{1, 2, 3, 4},
		Thumbnail:  []byte{1, 2},
	}
	_, err := store.Save(ctx, user)
	require.NoError(t, err)

	loaded, err := store.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 4, loaded.Avatar.Size)
	assert.Equal(t, "png", loaded.Avatar.Format)
	assert.Equal(t, []byte{1, 2, 3, 4}, loaded.Avatar.Data)
	assert.Equal(t, []byte{1, 2}, loaded.Avatar.Thumbnail)
	assert.True(t, loaded.Avatar.UploadDate.Equal(user.Avatar.UploadDate))
}
