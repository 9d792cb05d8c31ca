package flagstore

import (
	"context"
	"slices"
	"sync"
)

var _ FlagStore = (*MemFlagStore)(nil)

type MemFlagStore struct {
	lk   sync.Mutex
	Data map[string]map[string]bool
}

func NewMemFlagStore() *MemFlagStore {
	return &MemFlagStore{
		Data: make(map[string]map[string]bool),
	}
}

func (s *MemFlagStore) Get(ctx context.Context, key string) ([]string, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	out := []string{}
	for f := range s.Data[key] {
		out = append(out, f)
	}
	slices.Sort(out)
	return out, nil
}

func (s *MemFlagStore) Add(ctx context.Context, key string, flags []string) error {
	if len(flags) == 0 {
		return nil
	}
	s.lk.Lock()
	defer s.lk.Unlock()
	set, ok := s.Data[key]
	if !ok {
		set = make(map[string]bool, len(flags))
		s.Data[key] = set
	}
	for _, f := range flags {
		set[f] = true
	}
	return nil
}
