package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/warden/pkg/identity"
)

func newTestCache(t *testing.T) (*CachedRepository, *Store) {
	t.Helper()

	store := newTestStore(t)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewCachedRepository(store, client, time.Minute, nil), store
}

func TestCachedRepositoryServesFromCache(t *testing.T) {
	cached, store := newTestCache(t)
	ctx := context.Background()

	user := newTestUser()
	require.NoError(t, cached.Create(ctx, user))

	loaded, err := cached.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, loaded.ID)

	// remove from the backing store; the cached copy still serves
	require.NoError(t, store.Delete(ctx, user.ID))
	loaded, err = cached.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, loaded.ID)
}

func TestCachedRepositoryPreservesHiddenFields(t *testing.T) {
	// The credential hash and avatar binaries are excluded from the
	// public JSON form; losing them through the cache would corrupt
	// the document on the next save.
	cached, _ := newTestCache(t)
	ctx := context.Background()

	user := newTestUser()
	user.Avatar = identity.Avatar{
		Size:       3,
		Format:     "png",
		UploadDate: time.Now().UTC().Truncate(time.Second),
		Data:       []byte{9, 9, 9},
		Thumbnail:  []byte{9},
	}
	require.NoError(t, cached.Create(ctx, user))

	loaded, err := cached.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "abcd$1234", loaded.PasswordHash)
	assert.Equal(t, []byte{9, 9, 9}, loaded.Avatar.Data)
	assert.Equal(t, []byte{9}, loaded.Avatar.Thumbnail)
}

func TestCachedRepositoryDeleteInvalidates(t *testing.T) {
	cached, _ := newTestCache(t)
	ctx := context.Background()

	user := newTestUser()
	require.NoError(t, cached.Create(ctx, user))

	_, err := cached.Get(ctx, user.ID)
	require.NoError(t, err)

	require.NoError(t, cached.Delete(ctx, user.ID))

	_, err = cached.Get(ctx, user.ID)
	assert.ErrorIs(t, err, identity.ErrNotFound)
}

func TestCachedRepositorySaveRefreshes(t *testing.T) {
	cached, _ := newTestCache(t)
	ctx := context.Background()

	user := newTestUser()
	require.NoError(t, cached.Create(ctx, user))

	user.Informations["name"] = "renamed"
	user.UpdatedAt = time.Now().UTC()
	_, err := cached.Save(ctx, user)
	require.NoError(t, err)

	loaded, err := cached.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "renamed", loaded.Informations["name"])
}

func TestCachedRepositoryPassThrough(t *testing.T) {
	cached, _ := newTestCache(t)
	ctx := context.Background()

	user := newTestUser()
	require.NoError(t, cached.Create(ctx, user))

	users, err := cached.List(ctx, uuid.Nil, 0)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	matches, err := cached.FindByIndex(ctx, "email", "alice@example.com")
	require.NoError(t, err)
	assert.Len(t, matches, 1)

	count, err := cached.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}
