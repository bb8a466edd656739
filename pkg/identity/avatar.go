package identity

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"net/http"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	xdraw "golang.org/x/image/draw"
)

const (
	// thumbnailMaxDim bounds the longest edge of the generated thumbnail
	thumbnailMaxDim = 128

	// avatarCacheSize bounds the number of cached avatar variants
	avatarCacheSize = 256

	// avatarCacheTTL bounds staleness for writers outside this process;
	// in-process writers invalidate explicitly
	avatarCacheTTL = 30 * time.Second
)

// AvatarStatus is the outcome of a conditional avatar fetch
type AvatarStatus int

const (
	// AvatarOK carries the binary content
	AvatarOK AvatarStatus = iota
	// AvatarNotFound means the user has no avatar (or does not exist)
	AvatarNotFound
	// AvatarNotModified means the client's cached copy is current
	AvatarNotModified
)

// AvatarContent is the result of fetching an avatar variant
type AvatarContent struct {
	Status       AvatarStatus
	Data         []byte
	ContentType  string
	LastModified string
}

type cachedVariant struct {
	data         []byte
	contentType  string
	lastModified string
}

// avatarCache is a small expirable LRU over served avatar variants,
// keyed by user id and variant
type avatarCache struct {
	cache *lru.LRU[string, cachedVariant]
}

func newAvatarCache() *avatarCache {
	return &avatarCache{
		cache: lru.NewLRU[string, cachedVariant](avatarCacheSize, nil, avatarCacheTTL),
	}
}

func variantKey(id uuid.UUID, thumbnail bool) string {
	if thumbnail {
		return id.String() + "|thumb"
	}
	return id.String() + "|orig"
}

func (c *avatarCache) get(id uuid.UUID, thumbnail bool) (cachedVariant, bool) {
	return c.cache.Get(variantKey(id, thumbnail))
}

func (c *avatarCache) put(id uuid.UUID, thumbnail bool, v cachedVariant) {
	c.cache.Add(variantKey(id, thumbnail), v)
}

func (c *avatarCache) invalidate(id uuid.UUID) {
	c.cache.Remove(variantKey(id, false))
	c.cache.Remove(variantKey(id, true))
}

// StoreAvatar replaces the user's avatar binary and regenerates the
// thumbnail variant, returning the new byte length.
//
// Replacement only happens when the user already has an avatar; a
// first-time upload (or an empty blob) returns 0 and performs no
// mutation. That matches the long-standing behavior of the identity
// endpoint this service replaces, and clients depend on the 0 response.
func (s *Service) StoreAvatar(ctx context.Context, userID uuid.UUID, blob []byte) (int64, error) {
	var size int64
	err := s.withUserLock(userID, func() error {
		user, err := s.repo.Get(ctx, userID)
		if err != nil {
			return err
		}

		if !user.Avatar.Present() || len(blob) == 0 {
			size = 0
			return nil
		}

		format, thumbnail, err := renderThumbnail(blob)
		if err != nil {
			return err
		}

		user.Avatar = Avatar{
			Size:       int64(len(blob)),
			Format:     format,
			UploadDate: time.Now().UTC().Truncate(time.Second),
			Data:       blob,
			Thumbnail:  thumbnail,
		}
		user.UpdatedAt = time.Now()

		if _, err := s.repo.Save(ctx, user); err != nil {
			return err
		}
		size = user.Avatar.Size
		return nil
	})
	if err != nil {
		return 0, err
	}

	if size > 0 {
		s.avatars.invalidate(userID)
		if s.metrics != nil {
			s.metrics.AvatarBytesWritten.Add(float64(size))
		}
	}
	return size, nil
}

// DeleteAvatar removes both avatar variants. Returns true when an
// avatar was present and deleted, false for the no-op case.
func (s *Service) DeleteAvatar(ctx context.Context, userID uuid.UUID) (bool, error) {
	var deleted bool
	err := s.withUserLock(userID, func() error {
		user, err := s.repo.Get(ctx, userID)
		if err != nil {
			return err
		}

		if !user.Avatar.Present() {
			deleted = false
			return nil
		}

		user.Avatar = Avatar{}
		user.UpdatedAt = time.Now()
		if _, err := s.repo.Save(ctx, user); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if deleted {
		s.avatars.invalidate(userID)
	}
	return deleted, nil
}

// FetchAvatar returns the requested avatar variant with conditional-GET
// semantics. The ifModifiedSince value short-circuits to NotModified
// only when it is exactly equal to the stored Last-Modified string;
// any other value, later timestamps included, returns full content.
// The exact-match rule is inherited behavior, preserved on purpose.
func (s *Service) FetchAvatar(ctx context.Context, userID uuid.UUID, wantThumbnail bool, ifModifiedSince string) (*AvatarContent, error) {
	if entry, ok := s.avatars.get(userID, wantThumbnail); ok {
		if s.metrics != nil {
			s.metrics.CacheHitsTotal.WithLabelValues("avatar").Inc()
		}
		return avatarResponse(entry, ifModifiedSince), nil
	}
	if s.metrics != nil {
		s.metrics.CacheMissesTotal.WithLabelValues("avatar").Inc()
	}

	user, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if !user.Avatar.Present() {
		return &AvatarContent{Status: AvatarNotFound}, nil
	}

	data := user.Avatar.Data
	if wantThumbnail {
		data = user.Avatar.Thumbnail
	}

	entry := cachedVariant{
		data:         data,
		contentType:  "image/" + user.Avatar.Format,
		lastModified: user.Avatar.UploadDate.UTC().Format(http.TimeFormat),
	}
	s.avatars.put(userID, wantThumbnail, entry)

	return avatarResponse(entry, ifModifiedSince), nil
}

func avatarResponse(entry cachedVariant, ifModifiedSince string) *AvatarContent {
	if ifModifiedSince != "" && ifModifiedSince == entry.lastModified {
		return &AvatarContent{
			Status:       AvatarNotModified,
			LastModified: entry.lastModified,
		}
	}
	return &AvatarContent{
		Status:       AvatarOK,
		Data:         entry.data,
		ContentType:  entry.contentType,
		LastModified: entry.lastModified,
	}
}

// renderThumbnail decodes the uploaded blob and produces a thumbnail
// variant in the same format, fitting within thumbnailMaxDim
func renderThumbnail(blob []byte) (format string, thumbnail []byte, err error) {
	src, format, err := image.Decode(bytes.NewReader(blob))
	if err != nil {
		return "", nil, fmt.Errorf("unsupported image: %w", err)
	}

	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 {
		return "", nil, fmt.Errorf("unsupported image: empty bounds")
	}

	scaledW, scaledH := width, height
	if width > thumbnailMaxDim || height > thumbnailMaxDim {
		if width >= height {
			scaledW = thumbnailMaxDim
			scaledH = height * thumbnailMaxDim / width
		} else {
			scaledH = thumbnailMaxDim
			scaledW = width * thumbnailMaxDim / height
		}
		if scaledW < 1 {
			scaledW = 1
		}
		if scaledH < 1 {
			scaledH = 1
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, scaledW, scaledH))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)

	var buf bytes.Buffer
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 85})
	case "gif":
		err = gif.Encode(&buf, dst, nil)
	default:
		err = png.Encode(&buf, dst)
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}

	return format, buf.Bytes(), nil
}
