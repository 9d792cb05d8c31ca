package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnvelope(t *testing.T) {
	assert := assert.New(t)

	env, err := ParseEnvelope([]byte("abc123"))
	assert.NoError(err)
	assert.Equal(Envelope{ID: "abc123"}, env)

	env, err = ParseEnvelope([]byte(`{"id": "abc123", "filtered": true}`))
	assert.NoError(err)
	assert.Equal(Envelope{ID: "abc123", Filtered: true}, env)

	env, err = ParseEnvelope(Envelope{ID: "xyz"}.Encode())
	assert.NoError(err)
	assert.Equal("xyz", env.ID)
	assert.False(env.Filtered)

	_, err = ParseEnvelope([]byte(" "))
	assert.Error(err)
	_, err = ParseEnvelope([]byte(`{"filtered": true}`))
	assert.Error(err)
	_, err = ParseEnvelope([]byte(`{"id": `))
	assert.Error(err)
}

func TestDedupKey(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("900150983cd24fb0d6963f7d28e17f72", DedupKey("abc"))
	assert.Len(DedupKey("t3_xyz"), 32)
}

func TestMemQueueDedup(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	q := NewMemQueue()

	ok, err := q.Publish(ctx, Envelope{ID: "a"})
	assert.NoError(err)
	assert.True(ok)
	ok, err = q.Publish(ctx, Envelope{ID: "a", Filtered: true})
	assert.NoError(err)
	assert.False(ok)
	ok, err = q.Publish(ctx, Envelope{ID: "b"})
	assert.NoError(err)
	assert.True(ok)
	assert.Equal(2, q.Len())

	msg, err := q.Receive(ctx)
	require.NoError(err)
	assert.Equal("a", msg.ID)
	assert.False(msg.Filtered)

	// still in flight
	ok, _ = q.Publish(ctx, Envelope{ID: "a"})
	assert.False(ok)
	assert.Equal(1, q.Inflight())

	assert.NoError(q.Ack(ctx, msg))
	assert.Equal(0, q.Inflight())
	ok, _ = q.Publish(ctx, Envelope{ID: "a"})
	assert.True(ok)

	msg, err = q.Receive(ctx)
	require.NoError(err)
	assert.Equal("b", msg.ID)
}

func TestMemQueueRequeue(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	q := NewMemQueue()

	_, err := q.Publish(ctx, Envelope{ID: "a", Filtered: true})
	require.NoError(err)
	_, err = q.Publish(ctx, Envelope{ID: "b"})
	require.NoError(err)

	msg, err := q.Receive(ctx)
	require.NoError(err)
	assert.Equal(0, msg.Attempt)
	assert.NoError(q.Requeue(ctx, msg))

	// requeued message goes to the back, and keeps its dedup key
	ok, _ := q.Publish(ctx, Envelope{ID: "a"})
	assert.False(ok)
	msg, err = q.Receive(ctx)
	require.NoError(err)
	assert.Equal("b", msg.ID)
	msg, err = q.Receive(ctx)
	require.NoError(err)
	assert.Equal("a", msg.ID)
	assert.True(msg.Filtered)
	assert.Equal(1, msg.Attempt)

	// second ack of the same delivery is a no-op
	assert.NoError(q.Ack(ctx, msg))
	assert.NoError(q.Ack(ctx, msg))
}

func TestMemQueueBlockingReceive(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	q := NewMemQueue()

	got := make(chan string, 1)
	go func() {
		msg, err := q.Receive(ctx)
		if err == nil {
			got <- msg.ID
		}
	}()
	time.Sleep(10 * time.Millisecond)
	_, err := q.Publish(ctx, Envelope{ID: "late"})
	assert.NoError(err)

	select {
	case id := <-got:
		assert.Equal("late", id)
	case <-time.After(2 * time.Second):
		t.Fatal("receive did not wake up")
	}

	tctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = q.Receive(tctx)
	assert.True(errors.Is(err, context.DeadlineExceeded))
}

func TestMemQueueClose(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	q := NewMemQueue()

	errs := make(chan error, 1)
	go func() {
		_, err := q.Receive(ctx)
		errs <- err
	}()
	time.Sleep(10 * time.Millisecond)
	assert.NoError(q.Close())

	select {
	case err := <-errs:
		assert.ErrorIs(err, ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("receive did not return after close")
	}
	_, err := q.Publish(ctx, Envelope{ID: "a"})
	assert.ErrorIs(err, ErrClosed)
}

func testRedisQueue(t *testing.T, rdb *redis.Client, consumer string) *RedisQueue {
	q, err := NewRedisQueueFromClient(context.Background(), rdb, consumer, nil)
	require.NoError(t, err)
	q.Block = 10 * time.Millisecond
	q.ClaimIdle = 100 * time.Millisecond
	q.Heartbeat = 20 * time.Millisecond
	return q
}

func TestRedisQueueBasics(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	mr := miniredis.RunT(t)
	q := testRedisQueue(t, redis.NewClient(&redis.Options{Addr: mr.Addr()}), "worker-1")

	ok, err := q.Publish(ctx, Envelope{ID: "redis-test-1"})
	assert.NoError(err)
	assert.True(ok)
	ok, err = q.Publish(ctx, Envelope{ID: "redis-test-1"})
	assert.NoError(err)
	assert.False(ok)

	msg, err := q.Receive(ctx)
	require.NoError(err)
	assert.Equal("redis-test-1", msg.ID)
	assert.Equal(0, msg.Attempt)
	assert.NoError(q.Requeue(ctx, msg))

	msg, err = q.Receive(ctx)
	require.NoError(err)
	assert.Equal(1, msg.Attempt)
	assert.NoError(q.Ack(ctx, msg))
	assert.Equal(0, q.beats.Size())

	ok, err = q.Publish(ctx, Envelope{ID: "redis-test-1"})
	assert.NoError(err)
	assert.True(ok)
	msg, err = q.Receive(ctx)
	require.NoError(err)
	assert.NoError(q.Ack(ctx, msg))
}

func TestRedisQueueInflightNotReclaimed(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q1 := testRedisQueue(t, rdb, "worker-1")
	q2 := testRedisQueue(t, rdb, "worker-2")

	_, err := q1.Publish(ctx, Envelope{ID: "abc"})
	require.NoError(err)
	first, err := q1.Receive(ctx)
	require.NoError(err)
	assert.Equal("abc", first.ID)

	// evaluation runs well past ClaimIdle
	time.Sleep(3 * q1.ClaimIdle)

	for _, q := range []*RedisQueue{q1, q2} {
		tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		second, err := q.Receive(tctx)
		cancel()
		assert.Error(err)
		assert.Nil(second, "in-flight message delivered twice")
	}

	require.NoError(q1.Ack(ctx, first))
	n, err := rdb.XLen(ctx, q1.Stream).Result()
	require.NoError(err)
	assert.Equal(int64(0), n)
}

func TestRedisQueueClaimsAbandoned(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	crashed := testRedisQueue(t, rdb, "worker-1")
	crashed.Heartbeat = 0
	q := testRedisQueue(t, rdb, "worker-2")

	_, err := crashed.Publish(ctx, Envelope{ID: "abc", Filtered: true})
	require.NoError(err)
	first, err := crashed.Receive(ctx)
	require.NoError(err)

	time.Sleep(2 * q.ClaimIdle)
	msg, err := q.Receive(ctx)
	require.NoError(err)
	assert.Equal(first.Receipt, msg.Receipt)
	assert.Equal("abc", msg.ID)
	assert.True(msg.Filtered)
	assert.NoError(q.Ack(ctx, msg))
}

func TestRedisQueueDropsMalformed(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q := testRedisQueue(t, rdb, "worker-1")

	assert.NoError(rdb.XAdd(ctx, &redis.XAddArgs{Stream: q.Stream, Values: map[string]any{"payload": " "}}).Err())
	_, err := q.Publish(ctx, Envelope{ID: "good"})
	assert.NoError(err)

	msg, err := q.Receive(ctx)
	assert.NoError(err)
	assert.Equal("good", msg.ID)
	n, err := rdb.XLen(ctx, q.Stream).Result()
	assert.NoError(err)
	assert.Equal(int64(1), n)
	assert.NoError(q.Ack(ctx, msg))
}

func TestRedisQueueClose(t *testing.T) {
	assert := assert.New(t)
	mr := miniredis.RunT(t)
	q := testRedisQueue(t, redis.NewClient(&redis.Options{Addr: mr.Addr()}), "worker-1")

	assert.NoError(q.Close())
	_, err := q.Receive(context.Background())
	assert.ErrorIs(err, ErrClosed)
}
