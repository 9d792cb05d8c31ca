package settings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/LZ58840/AnimewallpaperBot/automod/platform"

	"golang.org/x/sync/errgroup"
)

const DefaultWikiPage = "awb"

// Mirrors each community's wiki settings page into the store.
type Refresher struct {
	Wiki   platform.WikiClient
	Store  Store
	Logger *slog.Logger
	Page   string
	// max concurrent communities refreshed
	Parallelism int
}

func (r *Refresher) page() string {
	if r.Page == "" {
		return DefaultWikiPage
	}
	return r.Page
}

// Refreshes settings for every known community. Errors for individual communities are joined; one failing community does not stop the others.
func (r *Refresher) RefreshAll(ctx context.Context) error {
	subs, err := r.Store.ListSubreddits(ctx)
	if err != nil {
		return fmt.Errorf("listing communities: %w", err)
	}
	var g errgroup.Group
	if r.Parallelism > 0 {
		g.SetLimit(r.Parallelism)
	}
	errs := make([]error, len(subs))
	for i, sub := range subs {
		g.Go(func() error {
			errs[i] = r.Refresh(ctx, sub.Name, sub.RevisionUTC)
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Reads the settings page for one community, creating it with defaults if missing. The store is only updated when the page revision is newer than lastRevision and the page content parses.
func (r *Refresher) Refresh(ctx context.Context, subreddit string, lastRevision *int64) error {
	logger := r.Logger.With("subreddit", subreddit, "page", r.page())

	wp, err := r.Wiki.GetWikiPage(ctx, subreddit, r.page())
	if errors.Is(err, platform.ErrNotFound) {
		logger.Info("settings page missing, creating with defaults")
		if err := r.Wiki.EditWikiPage(ctx, subreddit, r.page(), DefaultYAML(), "Initial AnimewallpaperBot config."); err != nil {
			return fmt.Errorf("creating settings page for %s: %w", subreddit, err)
		}
		if err := r.Wiki.HideWikiPage(ctx, subreddit, r.page()); err != nil {
			return fmt.Errorf("restricting settings page for %s: %w", subreddit, err)
		}
		wp, err = r.Wiki.GetWikiPage(ctx, subreddit, r.page())
	}
	if err != nil {
		return fmt.Errorf("reading settings page for %s: %w", subreddit, err)
	}

	rev := wp.RevisionUTC.Unix()
	if lastRevision != nil && rev <= *lastRevision {
		return nil
	}

	logger.Info("detected settings page update", "revision", rev)
	s, err := FromYAML(wp.Content)
	if err != nil {
		settingsMalformed.WithLabelValues(subreddit).Inc()
		logger.Warn("could not parse settings page, restoring previous settings", "err", err)
		return r.restore(ctx, subreddit)
	}
	b, err := s.MarshalJSON()
	if err != nil {
		return err
	}
	if err := r.Store.UpdateSubredditSettings(ctx, subreddit, string(b), rev); err != nil {
		return fmt.Errorf("saving settings for %s: %w", subreddit, err)
	}
	settingsRefreshed.WithLabelValues(subreddit).Inc()
	return nil
}

// rewrites the wiki page from the settings currently in the store (or defaults)
func (r *Refresher) restore(ctx context.Context, subreddit string) error {
	prev := Defaults()
	sub, err := r.Store.GetSubreddit(ctx, subreddit)
	if err != nil {
		return err
	}
	if sub != nil && sub.Settings != "" {
		if s, err := Parse([]byte(sub.Settings)); err == nil {
			prev = s
		}
	}
	content, err := ToYAML(prev)
	if err != nil {
		return err
	}
	if err := r.Wiki.EditWikiPage(ctx, subreddit, r.page(), content, "AnimewallpaperBot config (restored)."); err != nil {
		return fmt.Errorf("restoring settings page for %s: %w", subreddit, err)
	}
	return nil
}
