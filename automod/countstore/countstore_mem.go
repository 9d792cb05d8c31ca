package countstore

import (
	"context"
	"sync"
	"time"
)

var _ CountStore = (*MemCountStore)(nil)

// In-process counters. Buckets of past periods are never evicted, which is fine for tests and short-lived processes.
type MemCountStore struct {
	lk     sync.Mutex
	Counts map[string]int
	// nil means time.Now
	Clock func() time.Time
}

func NewMemCountStore() *MemCountStore {
	return &MemCountStore{
		Counts: make(map[string]int),
	}
}

func (s *MemCountStore) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now()
}

func (s *MemCountStore) GetCount(ctx context.Context, name, val, period string) (int, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	return s.Counts[periodBucket(name, val, period, s.now())], nil
}

func (s *MemCountStore) Increment(ctx context.Context, name, val string) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	now := s.now()
	for _, p := range periods {
		s.Counts[periodBucket(name, val, p, now)]++
	}
	return nil
}
