package engine

import (
	"context"
	"sync"
	"time"
)

// One-shot signal which any number of goroutines may set or wait on.
//
// Everything a goroutine did before calling Set happens-before any Wait (or receive from Done) which observes the latch as set. Rules only use this to exit early; it carries no data.
type Latch struct {
	once sync.Once
	ch   chan struct{}
}

func NewLatch() *Latch {
	return &Latch{ch: make(chan struct{})}
}

// Set is idempotent.
func (l *Latch) Set() {
	l.once.Do(func() { close(l.ch) })
}

func (l *Latch) IsSet() bool {
	select {
	case <-l.ch:
		return true
	default:
		return false
	}
}

func (l *Latch) Done() <-chan struct{} {
	return l.ch
}

// Blocks until the latch is set, the timeout elapses, or ctx is done. Returns whether the latch was set.
func (l *Latch) Wait(ctx context.Context, timeout time.Duration) bool {
	if l.IsSet() {
		return true
	}
	if timeout <= 0 {
		return false
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-l.ch:
		return true
	case <-t.C:
		return false
	case <-ctx.Done():
		return l.IsSet()
	}
}
