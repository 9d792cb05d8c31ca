package settings

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/LZ58840/AnimewallpaperBot/models"

	"github.com/puzpuzpuz/xsync/v3"
)

type Store interface {
	// returns nil (and no error) if the community is not known
	GetSubreddit(ctx context.Context, name string) (*models.Subreddit, error)
	ListSubreddits(ctx context.Context) ([]models.Subreddit, error)
	UpdateSubredditSettings(ctx context.Context, name, settingsJSON string, revisionUTC int64) error
}

// Loads community settings from the store, falling back to the last settings which parsed successfully (per community) when the stored document is malformed.
type Loader struct {
	Store    Store
	Logger   *slog.Logger
	lastGood *xsync.MapOf[string, *Settings]
}

func NewLoader(store Store, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		Store:    store,
		Logger:   logger,
		lastGood: xsync.NewMapOf[string, *Settings](),
	}
}

func (l *Loader) Load(ctx context.Context, subreddit string) (*Settings, error) {
	sub, err := l.Store.GetSubreddit(ctx, subreddit)
	if err != nil {
		return nil, fmt.Errorf("loading settings for %s: %w", subreddit, err)
	}
	if sub == nil || sub.Settings == "" {
		l.Logger.Info("no settings stored for community, using defaults", "subreddit", subreddit)
		return Defaults(), nil
	}
	s, err := Parse([]byte(sub.Settings))
	if err != nil {
		settingsMalformed.WithLabelValues(subreddit).Inc()
		if prev, ok := l.lastGood.Load(subreddit); ok {
			l.Logger.Error("stored settings malformed, using last known good", "subreddit", subreddit, "err", err)
			return prev, nil
		}
		l.Logger.Error("stored settings malformed, no previous settings, using defaults", "subreddit", subreddit, "err", err)
		return Defaults(), nil
	}
	l.lastGood.Store(subreddit, s)
	return s, nil
}
