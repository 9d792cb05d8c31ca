package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/redis/go-redis/v9"
)

var (
	DefaultStream = "awb/submissions"
	DefaultGroup  = "awb-workers"
)

var redisDedupPrefix string = "awb/dedup/"

var _ Queue = (*RedisQueue)(nil)

// Queue backed by a Redis stream and consumer group.
//
// Delivered messages stay in the group's pending list until acked. While a message is in flight its idle time is reset every Heartbeat, so only messages left pending by a crashed consumer go idle for longer than ClaimIdle and get claimed by the next Receive call of any consumer.
type RedisQueue struct {
	Client   *redis.Client
	Logger   *slog.Logger
	Stream   string
	Group    string
	Consumer string
	// how long a dedup key is held if its message is never acked
	DedupTTL  time.Duration
	ClaimIdle time.Duration
	// must be well below ClaimIdle. zero disables the heartbeat
	Heartbeat time.Duration
	// max time a single XREADGROUP call blocks
	Block time.Duration

	closed atomic.Bool
	// stops the heartbeat of each in-flight delivery, by receipt
	beats *xsync.MapOf[string, context.CancelFunc]
}

// Connects to redis and ensures the stream and consumer group exist. consumer names this process within the group; messages it leaves pending are claimed by other consumers after ClaimIdle.
func NewRedisQueue(ctx context.Context, redisURL, consumer string, logger *slog.Logger) (*RedisQueue, error) {
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
	return NewRedisQueueFromClient(ctx, rdb, consumer, logger)
}

func NewRedisQueueFromClient(ctx context.Context, rdb *redis.Client, consumer string, logger *slog.Logger) (*RedisQueue, error) {
	if logger == nil {
		logger = slog.Default()
	}
	q := &RedisQueue{
		Client:    rdb,
		Logger:    logger.With("component", "queue"),
		Stream:    DefaultStream,
		Group:     DefaultGroup,
		Consumer:  consumer,
		DedupTTL:  24 * time.Hour,
		ClaimIdle: 15 * time.Minute,
		Heartbeat: 5 * time.Minute,
		Block:     5 * time.Second,
		beats:     xsync.NewMapOf[string, context.CancelFunc](),
	}
	err := rdb.XGroupCreateMkStream(ctx, q.Stream, q.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return nil, fmt.Errorf("creating consumer group: %w", err)
	}
	return q, nil
}

func (q *RedisQueue) Publish(ctx context.Context, env Envelope) (bool, error) {
	key := redisDedupPrefix + DedupKey(env.ID)
	ok, err := q.Client.SetNX(ctx, key, env.ID, q.DedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("setting dedup key: %w", err)
	}
	if !ok {
		return false, nil
	}
	err = q.Client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.Stream,
		Values: map[string]any{"payload": string(env.Encode()), "attempt": 0},
	}).Err()
	if err != nil {
		// release the key, so a later publish is not swallowed
		q.Client.Del(ctx, key)
		return false, fmt.Errorf("adding to stream: %w", err)
	}
	return true, nil
}

func (q *RedisQueue) Receive(ctx context.Context) (*Message, error) {
	for {
		if q.closed.Load() {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		claimed, _, err := q.Client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   q.Stream,
			Group:    q.Group,
			Consumer: q.Consumer,
			MinIdle:  q.ClaimIdle,
			Start:    "0-0",
			Count:    1,
		}).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("claiming idle messages: %w", err)
		}
		if len(claimed) > 0 {
			q.Logger.Info("claimed abandoned message", "msgID", claimed[0].ID)
			if msg := q.decode(ctx, claimed[0]); msg != nil {
				q.keepalive(msg.Receipt)
				return msg, nil
			}
			continue
		}

		streams, err := q.Client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.Group,
			Consumer: q.Consumer,
			Streams:  []string{q.Stream, ">"},
			Count:    1,
			Block:    q.Block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		} else if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("reading from stream: %w", err)
		}
		for _, s := range streams {
			for _, m := range s.Messages {
				if msg := q.decode(ctx, m); msg != nil {
					q.keepalive(msg.Receipt)
					return msg, nil
				}
			}
		}
	}
}

// returns nil for undecodable messages, which are dropped
func (q *RedisQueue) decode(ctx context.Context, m redis.XMessage) *Message {
	payload, _ := m.Values["payload"].(string)
	env, err := ParseEnvelope([]byte(payload))
	if err != nil {
		q.Logger.Error("dropping malformed message", "msgID", m.ID, "err", err)
		if err := q.remove(ctx, m.ID); err != nil {
			q.Logger.Error("failed to drop malformed message", "msgID", m.ID, "err", err)
		}
		return nil
	}
	attempt := 0
	if s, ok := m.Values["attempt"].(string); ok {
		attempt, _ = strconv.Atoi(s)
	}
	return &Message{Envelope: env, Receipt: m.ID, Attempt: attempt}
}

// Re-claims the delivery for this consumer every Heartbeat until it is acked or requeued. XCLAIM resets the entry's idle time, which keeps XAUTOCLAIM in other consumers away from a message that is still being evaluated.
func (q *RedisQueue) keepalive(receipt string) {
	if q.Heartbeat <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	if _, loaded := q.beats.LoadOrStore(receipt, cancel); loaded {
		cancel()
		return
	}
	go func() {
		ticker := time.NewTicker(q.Heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			err := q.Client.XClaimJustID(ctx, &redis.XClaimArgs{
				Stream:   q.Stream,
				Group:    q.Group,
				Consumer: q.Consumer,
				MinIdle:  0,
				Messages: []string{receipt},
			}).Err()
			if err != nil && ctx.Err() == nil {
				q.Logger.Warn("failed to refresh in-flight message", "msgID", receipt, "err", err)
			}
		}
	}()
}

func (q *RedisQueue) release(receipt string) {
	if cancel, ok := q.beats.LoadAndDelete(receipt); ok {
		cancel()
	}
}

func (q *RedisQueue) remove(ctx context.Context, msgID string) error {
	_, err := q.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAck(ctx, q.Stream, q.Group, msgID)
		pipe.XDel(ctx, q.Stream, msgID)
		return nil
	})
	return err
}

func (q *RedisQueue) Ack(ctx context.Context, msg *Message) error {
	q.release(msg.Receipt)
	_, err := q.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAck(ctx, q.Stream, q.Group, msg.Receipt)
		pipe.XDel(ctx, q.Stream, msg.Receipt)
		pipe.Del(ctx, redisDedupPrefix+DedupKey(msg.ID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("acking message %s: %w", msg.Receipt, err)
	}
	return nil
}

func (q *RedisQueue) Requeue(ctx context.Context, msg *Message) error {
	q.release(msg.Receipt)
	_, err := q.Client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.XAdd(ctx, &redis.XAddArgs{
			Stream: q.Stream,
			Values: map[string]any{"payload": string(msg.Envelope.Encode()), "attempt": msg.Attempt + 1},
		})
		pipe.XAck(ctx, q.Stream, q.Group, msg.Receipt)
		pipe.XDel(ctx, q.Stream, msg.Receipt)
		pipe.Expire(ctx, redisDedupPrefix+DedupKey(msg.ID), q.DedupTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("requeueing message %s: %w", msg.Receipt, err)
	}
	return nil
}

// Stops Receive from returning further messages. Does not close the redis client, which may be shared.
func (q *RedisQueue) Close() error {
	q.closed.Store(true)
	return nil
}
