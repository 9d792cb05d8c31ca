package cachestore

import (
	"context"

	"github.com/LZ58840/AnimewallpaperBot/automod/platform"
)

// Short-lived cache of platform moderation status, keyed by submission ID.
type StatusCache interface {
	// Returns nil (and no error) on a miss.
	GetStatus(ctx context.Context, postID string) (*platform.Status, error)
	SetStatus(ctx context.Context, postID string, st platform.Status) error
	Purge(ctx context.Context, postID string) error
}
