package cachestore

import (
	"context"
	"testing"
	"time"

	"github.com/LZ58840/AnimewallpaperBot/automod/platform"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestMemStatusCacheBasics(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cs := NewMemStatusCache(10, time.Hour)

	st, err := cs.GetStatus(ctx, "abc")
	assert.NoError(err)
	assert.Nil(st)

	// a cached "nothing happened" status is a hit, not a miss
	assert.NoError(cs.SetStatus(ctx, "abc", platform.Status{}))
	st, err = cs.GetStatus(ctx, "abc")
	assert.NoError(err)
	assert.Equal(&platform.Status{}, st)

	assert.NoError(cs.SetStatus(ctx, "abc", platform.Status{Removed: true}))
	st, err = cs.GetStatus(ctx, "abc")
	assert.NoError(err)
	assert.True(st.Removed)
	assert.True(st.Acted())

	assert.NoError(cs.Purge(ctx, "abc"))
	st, err = cs.GetStatus(ctx, "abc")
	assert.NoError(err)
	assert.Nil(st)
	assert.NoError(cs.Purge(ctx, "missing"))
}

func TestMemStatusCacheEviction(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cs := NewMemStatusCache(2, 10*time.Millisecond)
	assert.NoError(cs.SetStatus(ctx, "a", platform.Status{Deleted: true}))
	assert.NoError(cs.SetStatus(ctx, "b", platform.Status{}))
	assert.NoError(cs.SetStatus(ctx, "c", platform.Status{}))
	st, _ := cs.GetStatus(ctx, "a")
	assert.Nil(st)

	time.Sleep(50 * time.Millisecond)
	st, _ = cs.GetStatus(ctx, "c")
	assert.Nil(st)
}

func TestRedisStatusCache(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cs := NewRedisStatusCacheFromClient(rdb, time.Minute)
	st, err := cs.GetStatus(ctx, "abc")
	assert.NoError(err)
	assert.Nil(st)

	assert.NoError(cs.SetStatus(ctx, "abc", platform.Status{Approved: true}))
	assert.True(mr.Exists(redisStatusPrefix + "abc"))

	// visible to another process sharing redis
	other := NewRedisStatusCacheFromClient(rdb, time.Minute)
	st, err = other.GetStatus(ctx, "abc")
	assert.NoError(err)
	assert.Equal(&platform.Status{Approved: true}, st)

	assert.NoError(cs.Purge(ctx, "abc"))
	assert.False(mr.Exists(redisStatusPrefix + "abc"))
	st, err = cs.GetStatus(ctx, "abc")
	assert.NoError(err)
	assert.Nil(st)
	assert.NoError(cs.Purge(ctx, "abc"))
}
