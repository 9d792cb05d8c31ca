package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/LZ58840/AnimewallpaperBot/automod/engine"
	"github.com/LZ58840/AnimewallpaperBot/automod/platform"
	"github.com/LZ58840/AnimewallpaperBot/automod/queue"
	"github.com/LZ58840/AnimewallpaperBot/automod/settings"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transientErr struct{}

func (transientErr) Error() string   { return "429 too many requests" }
func (transientErr) Transient() bool { return true }

func testSettings(t *testing.T) *settings.Settings {
	st, err := settings.Parse([]byte(`{"enabled": true, "KeywordAny": {"enabled": true, "keyword": "banned"}, "PanicAny": {"enabled": false}}`))
	require.NoError(t, err)
	return st
}

func testPost(id, title string) platform.Post {
	return platform.Post{
		ID:         id,
		Subreddit:  "Animewallpaper",
		Author:     "someone",
		Title:      title,
		CreatedUTC: time.Now().Add(-time.Minute).UTC(),
	}
}

type consumerFixture struct {
	c      *Consumer
	q      *queue.MemQueue
	eng    *engine.Engine
	store  *engine.MemStore
	client *platform.MockClient
}

func newConsumerFixture(t *testing.T, st *settings.Settings) *consumerFixture {
	eng, store, client := engine.EngineTestFixture(engine.FixtureRuleSet(), st)
	q := queue.NewMemQueue()
	c := NewConsumer(q, eng, nil)
	c.BackoffMin = time.Millisecond
	c.BackoffMax = 2 * time.Millisecond
	return &consumerFixture{c: c, q: q, eng: eng, store: store, client: client}
}

// publishes and receives a message for the submission
func (f *consumerFixture) deliver(t *testing.T, id string, filtered bool) *queue.Message {
	ctx := context.Background()
	_, err := f.q.Publish(ctx, queue.Envelope{ID: id, Filtered: filtered})
	require.NoError(t, err)
	msg, err := f.q.Receive(ctx)
	require.NoError(t, err)
	return msg
}

func TestConsumerStates(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newConsumerFixture(t, testSettings(t))
	engine.AddTestSubmission(f.store, f.client, testPost("s1", "banned wallpaper"))
	engine.AddTestSubmission(f.store, f.client, testPost("s2", "nice wallpaper"))

	var lk sync.Mutex
	seen := make(map[string][]engine.Stage)
	hook := f.eng.OnStage
	f.eng.OnStage = func(id string, stage engine.Stage) {
		lk.Lock()
		seen[id] = append(seen[id], stage)
		lk.Unlock()
		hook(id, stage)
	}

	assert.Equal(StateAcked, f.c.HandleMessage(ctx, f.deliver(t, "s1", false)))
	assert.Equal(StateAcked, f.c.HandleMessage(ctx, f.deliver(t, "s2", false)))
	assert.Equal([]engine.Stage{engine.StageFetching, engine.StageEvaluating, engine.StageRemoving}, seen["s1"])
	assert.Equal([]engine.Stage{engine.StageFetching, engine.StageEvaluating, engine.StageClearing}, seen["s2"])

	_, inflight := f.c.StateOf("s1")
	assert.False(inflight)
	assert.Equal(0, f.q.Inflight())
	assert.Equal(0, f.q.Len())
	assert.Equal(1, len(f.client.ActionsOf("Remove")))

	row, _ := f.store.GetSubmission(ctx, "s2")
	assert.True(row.Moderated)
	assert.False(row.Removed)
}

func TestConsumerTransientRequeue(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newConsumerFixture(t, testSettings(t))
	engine.AddTestSubmission(f.store, f.client, testPost("s1", "banned wallpaper"))

	f.client.Fail["Remove"] = transientErr{}
	assert.Equal(StateRequeued, f.c.HandleMessage(ctx, f.deliver(t, "s1", false)))
	assert.Equal(1, f.q.Len())
	row, _ := f.store.GetSubmission(ctx, "s1")
	assert.False(row.Moderated)

	delete(f.client.Fail, "Remove")
	msg, err := f.q.Receive(ctx)
	assert.NoError(err)
	assert.Equal(1, msg.Attempt)
	assert.Equal(StateAcked, f.c.HandleMessage(ctx, msg))
	row, _ = f.store.GetSubmission(ctx, "s1")
	assert.True(row.Moderated)
	assert.True(row.Removed)
}

func TestConsumerNotIngested(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newConsumerFixture(t, testSettings(t))
	// on the platform, but no database row yet
	f.client.AddPost(testPost("s1", "wallpaper"))

	assert.Equal(StateRequeued, f.c.HandleMessage(ctx, f.deliver(t, "s1", false)))
	assert.Equal(1, f.q.Len())
}

func TestConsumerDropsPanics(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newConsumerFixture(t, testSettings(t))
	engine.AddTestSubmission(f.store, f.client, testPost("s1", "wallpaper"))

	// panics outside of rule goroutines are recovered by the engine
	f.eng.Settings = panicSettings{}
	assert.Equal(StateAcked, f.c.HandleMessage(ctx, f.deliver(t, "s1", false)))
	assert.Equal(0, f.q.Len())
}

type panicSettings struct{}

func (panicSettings) Load(ctx context.Context, subreddit string) (*settings.Settings, error) {
	panic("settings exploded")
}

func TestConsumerMaxAttempts(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newConsumerFixture(t, testSettings(t))
	f.c.MaxAttempts = 2
	engine.AddTestSubmission(f.store, f.client, testPost("s1", "banned"))
	f.client.Fail["Reply"] = errors.New("forbidden")

	assert.Equal(StateRequeued, f.c.HandleMessage(ctx, f.deliver(t, "s1", false)))
	msg, err := f.q.Receive(ctx)
	assert.NoError(err)
	assert.Equal(StateAcked, f.c.HandleMessage(ctx, msg))
	assert.Equal(0, f.q.Len())

	// dedup key was released
	ok, _ := f.q.Publish(ctx, queue.Envelope{ID: "s1"})
	assert.True(ok)
}

func TestConsumerRun(t *testing.T) {
	assert := assert.New(t)
	f := newConsumerFixture(t, testSettings(t))
	f.c.MaxInflight = 2
	ids := []string{"r1", "r2", "r3", "r4", "r5"}
	for _, id := range ids {
		engine.AddTestSubmission(f.store, f.client, testPost(id, "banned "+id))
		_, err := f.q.Publish(context.Background(), queue.Envelope{ID: id})
		assert.NoError(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- f.c.Run(ctx)
	}()

	assert.Eventually(func() bool {
		return len(f.client.ActionsOf("Remove")) == len(ids)
	}, 5*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(err)
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}
	for _, id := range ids {
		row, _ := f.store.GetSubmission(context.Background(), id)
		assert.True(row.Moderated, id)
	}
}

func TestConsumerRunClosedQueue(t *testing.T) {
	f := newConsumerFixture(t, testSettings(t))
	assert.NoError(t, f.q.Close())
	assert.NoError(t, f.c.Run(context.Background()))
}

func TestConsumerIgnoresDuplicateDelivery(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()
	st, err := settings.Parse([]byte(`{"enabled": true, "WaitAny": {"enabled": true, "timeout_ms": 300}}`))
	require.NoError(err)
	f := newConsumerFixture(t, st)
	engine.AddTestSubmission(f.store, f.client, testPost("s1", "wallpaper"))

	// a worker whose in-flight message goes idle, and a second worker reclaiming it
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	q1, err := queue.NewRedisQueueFromClient(ctx, rdb, "worker-1", nil)
	require.NoError(err)
	q1.Heartbeat = 0
	q1.Block = 10 * time.Millisecond
	q2, err := queue.NewRedisQueueFromClient(ctx, rdb, "worker-2", nil)
	require.NoError(err)
	q2.ClaimIdle = 50 * time.Millisecond
	q2.Block = 10 * time.Millisecond
	f.c.Queue = q1

	_, err = q1.Publish(ctx, queue.Envelope{ID: "s1"})
	require.NoError(err)
	first, err := q1.Receive(ctx)
	require.NoError(err)

	done := make(chan State, 1)
	go func() {
		done <- f.c.HandleMessage(ctx, first)
	}()
	assert.Eventually(func() bool {
		s, ok := f.c.StateOf("s1")
		return ok && s == StateEvaluating
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(2 * q2.ClaimIdle)
	second, err := q2.Receive(ctx)
	require.NoError(err)
	assert.Equal(first.Receipt, second.Receipt)
	assert.Equal(StateDuplicate, f.c.HandleMessage(ctx, second))

	// the original delivery is still the one being processed
	s, ok := f.c.StateOf("s1")
	assert.True(ok)
	assert.Equal(StateEvaluating, s)

	select {
	case s := <-done:
		assert.Equal(StateAcked, s)
	case <-time.After(5 * time.Second):
		t.Fatal("first delivery did not finish")
	}
	assert.Equal(1, len(f.client.ActionsOf("Remove")))
	assert.Equal(1, len(f.client.ActionsOf("Reply")))
	n, err := rdb.XLen(ctx, q1.Stream).Result()
	require.NoError(err)
	assert.Equal(int64(0), n)
}
