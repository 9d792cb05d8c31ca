package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/LZ58840/AnimewallpaperBot/automod/platform"
	"github.com/LZ58840/AnimewallpaperBot/automod/queue"
	"github.com/LZ58840/AnimewallpaperBot/automod/settings"
	"github.com/LZ58840/AnimewallpaperBot/models"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultMinBackoff = 30 * time.Second
	DefaultMaxBackoff = 600 * time.Second
	DefaultWindow     = 48 * time.Hour
	// account whose filter removals are re-evaluated rather than mirrored
	DefaultFilterModerator = "AutoModerator"
)

type SchedulerStore interface {
	ListSubreddits(ctx context.Context) ([]models.Subreddit, error)
	// IDs of submissions created at or after since which are neither deleted nor moderated, oldest first
	PendingSubmissionIDs(ctx context.Context, since time.Time) ([]string, error)
}

// Periodically refreshes community settings and enqueues recent submissions for moderation.
type Scheduler struct {
	Queue  queue.Queue
	Store  SchedulerStore
	Lister platform.Lister
	// optional; settings are not refreshed if nil
	Refresher *settings.Refresher
	Logger    *slog.Logger
	// how far back submissions are enqueued
	Window          time.Duration
	FilterModerator string
	MinBackoff      time.Duration
	MaxBackoff      time.Duration
	// overridable in tests; nil means time.Now
	Clock func() time.Time
}

func (s *Scheduler) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Scheduler) window() time.Duration {
	if s.Window > 0 {
		return s.Window
	}
	return DefaultWindow
}

func (s *Scheduler) bounds() (time.Duration, time.Duration) {
	lo, hi := s.MinBackoff, s.MaxBackoff
	if lo <= 0 {
		lo = DefaultMinBackoff
	}
	if hi < lo {
		hi = max(DefaultMaxBackoff, lo)
	}
	return lo, hi
}

// Next delay between passes: doubled (up to the max) after a transient platform error, divided by three (down to the min) after a successful pass, unchanged otherwise.
func (s *Scheduler) NextBackoff(cur time.Duration, err error) time.Duration {
	lo, hi := s.bounds()
	switch {
	case err == nil:
		cur = cur / 3
	case platform.IsTransient(err):
		cur = cur * 2
	}
	return min(max(cur, lo), hi)
}

// Runs scheduler passes until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	delay, _ := s.bounds()
	for {
		err := s.RunOnce(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			schedulerRuns.WithLabelValues("error").Inc()
			s.logger().Error("scheduler pass failed", "err", err, "transient", platform.IsTransient(err))
		} else {
			schedulerRuns.WithLabelValues("ok").Inc()
		}
		delay = s.NextBackoff(delay, err)
		s.logger().Debug("scheduler sleeping", "period", delay.String())
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

// One pass: refresh settings, find filtered submissions, enqueue every pending submission within the window.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	if s.Refresher != nil {
		if err := s.Refresher.RefreshAll(ctx); err != nil {
			return fmt.Errorf("refreshing settings: %w", err)
		}
	}

	filtered, err := s.filteredSubmissions(ctx)
	if err != nil {
		return err
	}

	now := time.Now
	if s.Clock != nil {
		now = s.Clock
	}
	ids, err := s.Store.PendingSubmissionIDs(ctx, now().Add(-s.window()))
	if err != nil {
		return fmt.Errorf("listing pending submissions: %w", err)
	}

	published, duplicate := 0, 0
	for _, id := range ids {
		ok, err := s.Queue.Publish(ctx, queue.Envelope{ID: id, Filtered: filtered[id]})
		if err != nil {
			return fmt.Errorf("enqueueing %s: %w", id, err)
		}
		if ok {
			published++
		} else {
			duplicate++
		}
	}
	schedulerEnqueued.WithLabelValues("published").Add(float64(published))
	schedulerEnqueued.WithLabelValues("duplicate").Add(float64(duplicate))
	s.logger().Info("enqueued submissions", "published", published, "duplicate", duplicate, "filtered", len(filtered))
	return nil
}

func (s *Scheduler) filteredSubmissions(ctx context.Context) (map[string]bool, error) {
	out := make(map[string]bool)
	if s.Lister == nil {
		return out, nil
	}
	subs, err := s.Store.ListSubreddits(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing communities: %w", err)
	}
	mod := s.FilterModerator
	if mod == "" {
		mod = DefaultFilterModerator
	}

	var lk sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, sub := range subs {
		g.Go(func() error {
			ids, err := s.Lister.ModQueueRemovedBy(gctx, sub.Name, mod)
			if err != nil {
				return fmt.Errorf("reading mod queue of %s: %w", sub.Name, err)
			}
			lk.Lock()
			defer lk.Unlock()
			for _, id := range ids {
				out[id] = true
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
