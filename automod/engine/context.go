package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/LZ58840/AnimewallpaperBot/automod/platform"
	"github.com/LZ58840/AnimewallpaperBot/automod/visual"
)

// The interface exposed to rules: the submission snapshot, access to engine collaborators, and the shared latches of the current evaluation.
type RuleContext struct {
	// Actual golang "context.Context"; cancelled when the evaluation is abandoned
	Ctx context.Context
	// slog logger handle, with submission and rule fields pre-populated. Pointer, but expected to never be nil.
	Logger *slog.Logger
	// Read-only. Shared between all rules of the evaluation.
	Submission *Submission

	engine *Engine // NOTE: pointer, but expected never to be nil
	book   *RuleBook
}

func (c *RuleContext) Store() Store {
	return c.engine.Store
}

func (c *RuleContext) Platform() platform.Client {
	return c.engine.Platform
}

// Similarity job client. May be nil if duplicate detection is not configured.
func (c *RuleContext) Similarity() visual.JobClient {
	return c.engine.Similarity
}

func (c *RuleContext) Now() time.Time {
	return c.engine.now()
}

func (c *RuleContext) PollInterval() time.Duration {
	return c.engine.pollInterval()
}

// Set once any rule (or the flair pre-filter) decided the submission gets removed.
func (c *RuleContext) Removal() *Latch {
	return c.book.Removal
}

// Set when somebody else moderated the submission while rules were running.
func (c *RuleContext) Halt() *Latch {
	return c.book.Halt
}

// Reports whether a long-running rule should give up: the submission is being removed anyway, it was moderated externally, or the evaluation was cancelled.
func (c *RuleContext) Stopped() bool {
	return c.book.Removal.IsSet() || c.book.Halt.IsSet() || c.Ctx.Err() != nil
}

// Sleeps for one poll interval, or until deadline if that is sooner. Wakes early when the evaluation is stopped.
//
// Returns false if the caller should stop polling and exit without effect.
func (c *RuleContext) WaitUntil(deadline time.Time) bool {
	wait := c.PollInterval()
	if rem := deadline.Sub(c.Now()); rem < wait {
		wait = rem
	}
	if wait < 0 {
		wait = 0
	}
	t := time.NewTimer(wait)
	defer t.Stop()
	select {
	case <-t.C:
	case <-c.book.Removal.Done():
	case <-c.book.Halt.Done():
	case <-c.Ctx.Done():
	}
	return !c.Stopped()
}

// Current platform status of any submission (not necessarily the one under evaluation). Results are cached; a submission the platform no longer knows about counts as deleted.
func (c *RuleContext) PostStatus(id string) (*platform.Status, error) {
	cache := c.engine.Cache
	if cache != nil {
		st, err := cache.GetStatus(c.Ctx, id)
		if err != nil {
			c.Logger.Warn("post status cache read failed", "post", id, "err", err)
		} else if st != nil {
			return st, nil
		}
	}

	var st platform.Status
	post, err := c.engine.Platform.GetPost(c.Ctx, id)
	if errors.Is(err, platform.ErrNotFound) {
		st = platform.Status{Deleted: true}
	} else if err != nil {
		return nil, err
	} else {
		st = post.Status
	}
	postStatusFetches.Inc()

	if cache != nil {
		if err := cache.SetStatus(c.Ctx, id, st); err != nil {
			c.Logger.Warn("post status cache write failed", "post", id, "err", err)
		}
	}
	return &st, nil
}
