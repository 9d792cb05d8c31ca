package cachestore

import (
	"context"
	"time"

	"github.com/LZ58840/AnimewallpaperBot/automod/platform"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// In-process StatusCache. Least recently used entries are evicted once capacity is reached.
type MemStatusCache struct {
	Data *expirable.LRU[string, platform.Status]
}

var _ StatusCache = (*MemStatusCache)(nil)

func NewMemStatusCache(capacity int, ttl time.Duration) *MemStatusCache {
	return &MemStatusCache{
		Data: expirable.NewLRU[string, platform.Status](capacity, nil, ttl),
	}
}

func (s *MemStatusCache) GetStatus(ctx context.Context, postID string) (*platform.Status, error) {
	st, ok := s.Data.Get(postID)
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (s *MemStatusCache) SetStatus(ctx context.Context, postID string, st platform.Status) error {
	s.Data.Add(postID, st)
	return nil
}

func (s *MemStatusCache) Purge(ctx context.Context, postID string) error {
	s.Data.Remove(postID)
	return nil
}
