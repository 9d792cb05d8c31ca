package queue

import (
	"context"
	"strconv"
	"sync"
)

var _ Queue = (*MemQueue)(nil)

// In-process Queue, used in tests and single-process setups. Not durable.
type MemQueue struct {
	lk       sync.Mutex
	pending  []*Message
	inflight map[string]*Message
	keys     map[string]bool
	seq      int
	notify   chan struct{}
	done     chan struct{}
	closed   bool
}

func NewMemQueue() *MemQueue {
	return &MemQueue{
		inflight: make(map[string]*Message),
		keys:     make(map[string]bool),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (q *MemQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *MemQueue) Publish(ctx context.Context, env Envelope) (bool, error) {
	q.lk.Lock()
	defer q.lk.Unlock()
	if q.closed {
		return false, ErrClosed
	}
	key := DedupKey(env.ID)
	if q.keys[key] {
		return false, nil
	}
	q.keys[key] = true
	q.enqueue(&Message{Envelope: env})
	return true, nil
}

// caller must hold lock
func (q *MemQueue) enqueue(msg *Message) {
	q.seq++
	msg.Receipt = strconv.Itoa(q.seq)
	q.pending = append(q.pending, msg)
	q.signal()
}

func (q *MemQueue) Receive(ctx context.Context) (*Message, error) {
	for {
		q.lk.Lock()
		if q.closed {
			q.lk.Unlock()
			return nil, ErrClosed
		}
		if len(q.pending) > 0 {
			msg := q.pending[0]
			q.pending = q.pending[1:]
			q.inflight[msg.Receipt] = msg
			if len(q.pending) > 0 {
				q.signal()
			}
			q.lk.Unlock()
			out := *msg
			return &out, nil
		}
		q.lk.Unlock()

		select {
		case <-q.notify:
		case <-q.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *MemQueue) Ack(ctx context.Context, msg *Message) error {
	q.lk.Lock()
	defer q.lk.Unlock()
	if _, ok := q.inflight[msg.Receipt]; !ok {
		return nil
	}
	delete(q.inflight, msg.Receipt)
	delete(q.keys, DedupKey(msg.ID))
	return nil
}

func (q *MemQueue) Requeue(ctx context.Context, msg *Message) error {
	q.lk.Lock()
	defer q.lk.Unlock()
	prev, ok := q.inflight[msg.Receipt]
	if !ok {
		return nil
	}
	delete(q.inflight, msg.Receipt)
	if q.closed {
		return ErrClosed
	}
	q.enqueue(&Message{Envelope: prev.Envelope, Attempt: prev.Attempt + 1})
	return nil
}

func (q *MemQueue) Close() error {
	q.lk.Lock()
	defer q.lk.Unlock()
	if !q.closed {
		q.closed = true
		close(q.done)
	}
	return nil
}

// Number of messages queued (not in flight).
func (q *MemQueue) Len() int {
	q.lk.Lock()
	defer q.lk.Unlock()
	return len(q.pending)
}

// Number of messages delivered but neither acked nor requeued.
func (q *MemQueue) Inflight() int {
	q.lk.Lock()
	defer q.lk.Unlock()
	return len(q.inflight)
}
