// Queue consumer (submission identifier to moderation action) and the scheduler which feeds the queue.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/LZ58840/AnimewallpaperBot/automod/engine"
	"github.com/LZ58840/AnimewallpaperBot/automod/platform"
	"github.com/LZ58840/AnimewallpaperBot/automod/queue"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/semaphore"
)

// Processing state of a single queue message.
//
// received -> fetching -> evaluating -> (removing | clearing) -> acked, with any state before acked able to fault to requeued. A delivery of a submission which is already in flight ends as duplicate and is neither acked nor requeued.
type State string

const (
	StateReceived   State = "received"
	StateFetching   State = State(engine.StageFetching)
	StateEvaluating State = State(engine.StageEvaluating)
	StateRemoving   State = State(engine.StageRemoving)
	StateClearing   State = State(engine.StageClearing)
	StateAcked      State = "acked"
	StateRequeued   State = "requeued"
	StateDuplicate  State = "duplicate"
)

const DefaultMaxInflight = 50

type Consumer struct {
	Queue  queue.Queue
	Engine *engine.Engine
	Logger *slog.Logger
	// max messages processed concurrently
	MaxInflight int
	// randomized delay before requeueing a message which hit a transient error
	BackoffMin time.Duration
	BackoffMax time.Duration
	// deliveries after which a still-failing message is dropped; zero means never drop
	MaxAttempts int

	states *xsync.MapOf[string, State]
}

// Note that this installs a stage hook on the engine, so an engine should only be driven by a single consumer.
func NewConsumer(q queue.Queue, eng *engine.Engine, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Consumer{
		Queue:       q,
		Engine:      eng,
		Logger:      logger.With("component", "consumer"),
		MaxInflight: DefaultMaxInflight,
		BackoffMin:  30 * time.Second,
		BackoffMax:  60 * time.Second,
		MaxAttempts: 20,
		states:      xsync.NewMapOf[string, State](),
	}
	eng.OnStage = func(id string, stage engine.Stage) {
		if _, ok := c.states.Load(id); ok {
			c.transition(c.Logger.With("submission", id), id, State(stage))
		}
	}
	return c
}

// Processes messages until the context is cancelled or the queue is closed, then waits for in-flight messages to finish. Any other receive error (eg, lost connection) is returned.
func (c *Consumer) Run(ctx context.Context) error {
	if c.Engine == nil {
		return fmt.Errorf("nil engine")
	}
	limit := c.MaxInflight
	if limit <= 0 {
		limit = DefaultMaxInflight
	}
	sem := semaphore.NewWeighted(int64(limit))
	var wg sync.WaitGroup
	defer wg.Wait()

	c.Logger.Info("consuming submission queue", "maxInflight", limit)
	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil
		}
		msg, err := c.Queue.Receive(ctx)
		if err != nil {
			sem.Release(1)
			if ctx.Err() != nil || errors.Is(err, queue.ErrClosed) {
				c.Logger.Info("consumer shutting down")
				return nil
			}
			return fmt.Errorf("receiving from queue: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			c.HandleMessage(ctx, msg)
		}()
	}
}

func (c *Consumer) transition(logger *slog.Logger, id string, s State) {
	c.states.Store(id, s)
	stateTransitions.WithLabelValues(string(s)).Inc()
	logger.Debug("submission state", "state", s)
}

// Current processing state of a submission, if it is in flight.
func (c *Consumer) StateOf(id string) (State, bool) {
	return c.states.Load(id)
}

// Moderates the submission of one message, then acks or requeues it. Returns the final state.
func (c *Consumer) HandleMessage(ctx context.Context, msg *queue.Message) State {
	logger := c.Logger.With("submission", msg.ID, "filtered", msg.Filtered, "attempt", msg.Attempt)
	if prev, loaded := c.states.LoadOrStore(msg.ID, StateReceived); loaded {
		// the delivery in flight owns the message, and acks or requeues it when done
		logger.Warn("submission already in flight, ignoring duplicate delivery", "state", prev, "receipt", msg.Receipt)
		stateTransitions.WithLabelValues(string(StateDuplicate)).Inc()
		return StateDuplicate
	}
	stateTransitions.WithLabelValues(string(StateReceived)).Inc()
	defer c.states.Delete(msg.ID)
	messagesInflight.Inc()
	defer messagesInflight.Dec()

	resp, err := c.Engine.ModerateSubmission(ctx, msg.ID, msg.Filtered)
	if err == nil {
		logger.Info("processed submission", "status", resp.Status, "removed", resp.Removed)
		return c.ack(ctx, logger, msg)
	}

	last, _ := c.states.Load(msg.ID)
	logger = logger.With("state", last, "err", err)
	var pe *engine.PanicError
	switch {
	case errors.As(err, &pe):
		logger.Error("dropping submission after panic")
		messagesDropped.WithLabelValues("panic").Inc()
		return c.ack(ctx, logger, msg)
	case c.MaxAttempts > 0 && msg.Attempt+1 >= c.MaxAttempts:
		logger.Error("dropping submission after repeated failures", "maxAttempts", c.MaxAttempts)
		messagesDropped.WithLabelValues("attempts").Inc()
		return c.ack(ctx, logger, msg)
	case ctx.Err() != nil:
		logger.Info("interrupted while processing submission")
	case platform.IsTransient(err) || errors.Is(err, engine.ErrNotIngested):
		delay := c.backoff()
		logger.Warn("transient failure, backing off before requeue", "delay", delay)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
	default:
		logger.Error("failed to process submission")
	}
	return c.requeue(ctx, logger, msg)
}

func (c *Consumer) backoff() time.Duration {
	if c.BackoffMax <= c.BackoffMin {
		return c.BackoffMin
	}
	return c.BackoffMin + rand.N(c.BackoffMax-c.BackoffMin)
}

// queue operations outlive shutdown of the processing context
func queueContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
}

func (c *Consumer) ack(ctx context.Context, logger *slog.Logger, msg *queue.Message) State {
	qctx, cancel := queueContext(ctx)
	defer cancel()
	if err := c.Queue.Ack(qctx, msg); err != nil {
		// message will be redelivered; the moderated flag makes that a no-op
		logger.Error("failed to ack message", "ackErr", err)
	}
	c.transition(logger, msg.ID, StateAcked)
	return StateAcked
}

func (c *Consumer) requeue(ctx context.Context, logger *slog.Logger, msg *queue.Message) State {
	qctx, cancel := queueContext(ctx)
	defer cancel()
	if err := c.Queue.Requeue(qctx, msg); err != nil {
		logger.Error("failed to requeue message", "requeueErr", err)
	}
	c.transition(logger, msg.ID, StateRequeued)
	return StateRequeued
}
