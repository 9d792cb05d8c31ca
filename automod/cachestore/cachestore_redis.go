package cachestore

import (
	"context"
	"errors"
	"time"

	"github.com/LZ58840/AnimewallpaperBot/automod/platform"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

var redisStatusPrefix = "awb/post-status/"

// StatusCache shared between processes through redis, with a TinyLFU layer in front of it. Statuses are msgpack-encoded by the cache library.
//
// The local layer is not invalidated by Purge calls in other processes, so it gets a shorter TTL than redis.
type RedisStatusCache struct {
	Data *cache.Cache
	TTL  time.Duration
}

var _ StatusCache = (*RedisStatusCache)(nil)

func NewRedisStatusCache(redisURL string, ttl time.Duration) (*RedisStatusCache, error) {
	ctx := context.Background()
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	// check redis connection
	_, err = rdb.Ping(ctx).Result()
	if err != nil {
		return nil, err
	}
	return NewRedisStatusCacheFromClient(rdb, ttl), nil
}

func NewRedisStatusCacheFromClient(rdb *redis.Client, ttl time.Duration) *RedisStatusCache {
	local := ttl / 10
	if local < time.Second {
		local = time.Second
	}
	return &RedisStatusCache{
		Data: cache.New(&cache.Options{
			Redis:      rdb,
			LocalCache: cache.NewTinyLFU(10_000, local),
		}),
		TTL: ttl,
	}
}

func (s *RedisStatusCache) GetStatus(ctx context.Context, postID string) (*platform.Status, error) {
	var st platform.Status
	err := s.Data.Get(ctx, redisStatusPrefix+postID, &st)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *RedisStatusCache) SetStatus(ctx context.Context, postID string, st platform.Status) error {
	return s.Data.Set(&cache.Item{
		Ctx:   ctx,
		Key:   redisStatusPrefix + postID,
		Value: st,
		TTL:   s.TTL,
	})
}

func (s *RedisStatusCache) Purge(ctx context.Context, postID string) error {
	return s.Data.Delete(ctx, redisStatusPrefix+postID)
}
