package identity

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// seedAvatar plants an existing avatar directly in the repository,
// bypassing the replace-only store policy
func seedAvatar(t *testing.T, repo *memRepo, id uuid.UUID, blob []byte) {
	t.Helper()
	user, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	user.Avatar = Avatar{
		Size:       int64(len(blob)),
		Format:     "png",
		UploadDate: time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC),
		Data:       blob,
		Thumbnail:  blob,
	}
	_, err = repo.Save(context.Background(), user)
	require.NoError(t, err)
}

func TestStoreAvatarFirstUploadIsNoOp(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, "pw", nil)
	require.NoError(t, err)

	size, err := svc.StoreAvatar(ctx, user.ID, encodePNG(t, 10, 10))
	require.NoError(t, err)
	assert.EqualValues(t, 0, size)

	loaded, err := svc.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, loaded.Avatar.Size)
}

func TestStoreAvatarReplacesExisting(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, "pw", nil)
	require.NoError(t, err)
	seedAvatar(t, repo, user.ID, encodePNG(t, 10, 10))

	blob := encodePNG(t, 300, 200)
	size, err := svc.StoreAvatar(ctx, user.ID, blob)
	require.NoError(t, err)
	assert.EqualValues(t, len(blob), size)

	loaded, err := svc.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "png", loaded.Avatar.Format)
	assert.Equal(t, blob, loaded.Avatar.Data)
	assert.NotEmpty(t, loaded.Avatar.Thumbnail)

	// thumbnail fits the bound and keeps aspect ratio
	thumb, format, err := image.Decode(bytes.NewReader(loaded.Avatar.Thumbnail))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, 128, thumb.Bounds().Dx())
	assert.Equal(t, 85, thumb.Bounds().Dy())
}

func TestStoreAvatarEmptyBlobIsNoOp(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, "pw", nil)
	require.NoError(t, err)
	original := encodePNG(t, 10, 10)
	seedAvatar(t, repo, user.ID, original)

	size, err := svc.StoreAvatar(ctx, user.ID, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 0, size)

	loaded, err := svc.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, original, loaded.Avatar.Data)
}

func TestStoreAvatarRejectsGarbage(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, "pw", nil)
	require.NoError(t, err)
	seedAvatar(t, repo, user.ID, encodePNG(t, 10, 10))

	_, err = svc.StoreAvatar(ctx, user.ID, []byte("definitely not an image"))
	assert.Error(t, err)
}

func TestFetchAvatarNotFound(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, "pw", nil)
	require.NoError(t, err)

	for _, thumbnail := range []bool{false, true} {
		content, err := svc.FetchAvatar(ctx, user.ID, thumbnail, "")
		require.NoError(t, err)
		assert.Equal(t, AvatarNotFound, content.Status)
	}
}

func TestFetchAvatarConditional(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, "pw", nil)
	require.NoError(t, err)
	blob := encodePNG(t, 10, 10)
	seedAvatar(t, repo, user.ID, blob)

	content, err := svc.FetchAvatar(ctx, user.ID, false, "")
	require.NoError(t, err)
	require.Equal(t, AvatarOK, content.Status)
	assert.Equal(t, blob, content.Data)
	assert.Equal(t, "image/png", content.ContentType)

	stored := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	assert.Equal(t, stored.Format(http.TimeFormat), content.LastModified)

	// exact match short-circuits
	content, err = svc.FetchAvatar(ctx, user.ID, false, content.LastModified)
	require.NoError(t, err)
	assert.Equal(t, AvatarNotModified, content.Status)

	// any other value returns full content, a later timestamp included
	later := stored.Add(time.Hour).Format(http.TimeFormat)
	content, err = svc.FetchAvatar(ctx, user.ID, false, later)
	require.NoError(t, err)
	assert.Equal(t, AvatarOK, content.Status)
}

func TestFetchAvatarThumbnailVariant(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, "pw", nil)
	require.NoError(t, err)
	seedAvatar(t, repo, user.ID, encodePNG(t, 10, 10))

	blob := encodePNG(t, 300, 200)
	_, err = svc.StoreAvatar(ctx, user.ID, blob)
	require.NoError(t, err)

	full, err := svc.FetchAvatar(ctx, user.ID, false, "")
	require.NoError(t, err)
	thumb, err := svc.FetchAvatar(ctx, user.ID, true, "")
	require.NoError(t, err)

	assert.Equal(t, blob, full.Data)
	assert.NotEqual(t, full.Data, thumb.Data)
	assert.Equal(t, full.LastModified, thumb.LastModified)
}

func TestDeleteAvatar(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, "pw", nil)
	require.NoError(t, err)

	// nothing to delete yet
	deleted, err := svc.DeleteAvatar(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, deleted)

	seedAvatar(t, repo, user.ID, encodePNG(t, 10, 10))

	deleted, err = svc.DeleteAvatar(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	content, err := svc.FetchAvatar(ctx, user.ID, false, "")
	require.NoError(t, err)
	assert.Equal(t, AvatarNotFound, content.Status)
}
