package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/warden/pkg/identity"
	"github.com/platinummonkey/warden/pkg/observability"
	"github.com/platinummonkey/warden/pkg/storage"
)

// NewRedisClient connects to Redis using the storage config
func NewRedisClient(config storage.Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if config.RedisPassword != "" {
		opts.Password = config.RedisPassword
	}
	if config.RedisDB >= 0 {
		opts.DB = config.RedisDB
	}
	if config.RedisMaxRetries > 0 {
		opts.MaxRetries = config.RedisMaxRetries
	}
	if config.RedisPoolSize > 0 {
		opts.PoolSize = config.RedisPoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return client, nil
}

// CachedRepository layers a Redis read-through cache over another
// repository. Single-key reads are cached; list and index queries pass
// through. All writes invalidate the key before returning, and a cache
// failure never fails the request, only skips the cache.
type CachedRepository struct {
	inner   identity.Repository
	client  *redis.Client
	ttl     time.Duration
	group   singleflight.Group
	metrics *observability.Metrics
}

// NewCachedRepository wraps a repository with the cache. metrics may be nil.
func NewCachedRepository(inner identity.Repository, client *redis.Client, ttl time.Duration, metrics *observability.Metrics) *CachedRepository {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedRepository{
		inner:   inner,
		client:  client,
		ttl:     ttl,
		metrics: metrics,
	}
}

// cachedUser carries the fields the public JSON representation hides
// (credential hash, avatar binaries). Dropping them here would corrupt
// the document on the next read-modify-write cycle.
type cachedUser struct {
	User            *identity.User `json:"user"`
	PasswordHash    string         `json:"password_hash"`
	AvatarData      []byte         `json:"avatar_data,omitempty"`
	AvatarThumbnail []byte         `json:"avatar_thumbnail,omitempty"`
}

func userKey(id uuid.UUID) string {
	return "user:" + id.String()
}

// Get loads a user, serving from cache when possible. Concurrent misses
// for the same id collapse into one backing load.
func (c *CachedRepository) Get(ctx context.Context, id uuid.UUID) (*identity.User, error) {
	key := userKey(id)

	if data, err := c.client.Get(ctx, key).Result(); err == nil {
		var cached cachedUser
		if err := json.Unmarshal([]byte(data), &cached); err == nil && cached.User != nil {
			c.observeCache(true)
			cached.User.PasswordHash = cached.PasswordHash
			cached.User.Avatar.Data = cached.AvatarData
			cached.User.Avatar.Thumbnail = cached.AvatarThumbnail
			return cached.User, nil
		}
		// Corrupt entry; drop it and fall through to the backing store
		c.client.Del(ctx, key)
	}
	c.observeCache(false)

	value, err, _ := c.group.Do(key, func() (interface{}, error) {
		user, err := c.inner.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		c.set(ctx, user)
		return user, nil
	})
	if err != nil {
		return nil, err
	}
	return value.(*identity.User), nil
}

// Create inserts through to the backing store and primes the cache
func (c *CachedRepository) Create(ctx context.Context, user *identity.User) error {
	if err := c.inner.Create(ctx, user); err != nil {
		return err
	}
	c.set(ctx, user)
	return nil
}

// Save writes through to the backing store and refreshes the cache
func (c *CachedRepository) Save(ctx context.Context, user *identity.User) (*identity.User, error) {
	saved, err := c.inner.Save(ctx, user)
	if err != nil {
		c.invalidate(ctx, user.ID)
		return nil, err
	}
	c.set(ctx, saved)
	return saved, nil
}

// Delete removes the user and its cache entry
func (c *CachedRepository) Delete(ctx context.Context, id uuid.UUID) error {
	if err := c.inner.Delete(ctx, id); err != nil {
		return err
	}
	c.invalidate(ctx, id)
	return nil
}

// List passes through; the cursor windows are not worth caching
func (c *CachedRepository) List(ctx context.Context, previous uuid.UUID, count int) ([]*identity.User, error) {
	return c.inner.List(ctx, previous, count)
}

// FindByIndex passes through; the side table already makes this a join
func (c *CachedRepository) FindByIndex(ctx context.Context, typeid, value string) ([]*identity.User, error) {
	return c.inner.FindByIndex(ctx, typeid, value)
}

// Count passes through
func (c *CachedRepository) Count(ctx context.Context) (int64, error) {
	return c.inner.Count(ctx)
}

func (c *CachedRepository) set(ctx context.Context, user *identity.User) {
	data, err := json.Marshal(cachedUser{
		User:            user,
		PasswordHash:    user.PasswordHash,
		AvatarData:      user.Avatar.Data,
		AvatarThumbnail: user.Avatar.Thumbnail,
	})
	if err != nil {
		return
	}
	c.client.Set(ctx, userKey(user.ID), data, c.ttl)
}

func (c *CachedRepository) invalidate(ctx context.Context, id uuid.UUID) {
	c.client.Del(ctx, userKey(id))
}

func (c *CachedRepository) observeCache(hit bool) {
	if c.metrics == nil {
		return
	}
	if hit {
		c.metrics.CacheHitsTotal.WithLabelValues("user").Inc()
	} else {
		c.metrics.CacheMissesTotal.WithLabelValues("user").Inc()
	}
}
