package rules

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/LZ58840/AnimewallpaperBot/automod/engine"
	"github.com/LZ58840/AnimewallpaperBot/automod/helpers"
	"github.com/LZ58840/AnimewallpaperBot/automod/visual"
)

const RepostAnyName = "RepostAny"

type repostAnyConfig struct {
	Threshold   *float64 `json:"threshold"`
	Months      int      `json:"months"`
	ReportOnly  bool     `json:"report_only"`
	TimeoutMins *float64 `json:"timeout_mins"`
}

// Flags images which near-duplicate an image of an earlier, still visible submission in the same community.
type RepostAny struct {
	Threshold  float64
	Months     int
	ReportOnly bool
	Timeout    time.Duration
}

func NewRepostAny(raw json.RawMessage) (engine.Rule, error) {
	cfg, err := engine.DecodeConfig[repostAnyConfig](raw)
	if err != nil {
		return nil, err
	}
	r := &RepostAny{
		Threshold:  visual.DefaultThreshold,
		Months:     cfg.Months,
		ReportOnly: cfg.ReportOnly,
		Timeout:    10 * time.Minute,
	}
	if cfg.Threshold != nil {
		if *cfg.Threshold <= 0 || *cfg.Threshold >= 1 {
			return nil, fmt.Errorf("threshold must be between 0 and 1, got %v", *cfg.Threshold)
		}
		r.Threshold = *cfg.Threshold
	}
	if cfg.Months < 0 {
		return nil, errors.New("months must not be negative")
	}
	if cfg.TimeoutMins != nil {
		if *cfg.TimeoutMins <= 0 {
			return nil, errors.New("timeout_mins must be positive")
		}
		r.Timeout = time.Duration(*cfg.TimeoutMins * float64(time.Minute))
	}
	return r, nil
}

func (r *RepostAny) Name() string {
	return RepostAnyName
}

func (r *RepostAny) Evaluate(c *engine.RuleContext) (*engine.Outcome, error) {
	sim := c.Similarity()
	if sim == nil {
		return nil, errors.New("similarity checks are not configured")
	}
	if len(c.Submission.Images) == 0 {
		return nil, nil
	}

	jobID, err := sim.Submit(c.Ctx, visual.Request{
		SubmissionID: c.Submission.ID,
		Subreddit:    c.Submission.Subreddit,
		Threshold:    r.Threshold,
		Months:       r.Months,
	})
	if err != nil {
		c.Logger.Warn("failed to submit similarity job, treating as no match", "err", err)
		return nil, nil
	}
	logger := c.Logger.With("job", jobID)

	finished := false
	defer func() {
		if finished {
			return
		}
		// the evaluation context may already be cancelled
		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Ctx), 10*time.Second)
		defer cancel()
		if err := sim.Revoke(ctx, jobID); err != nil && !errors.Is(err, visual.ErrJobNotFound) {
			logger.Warn("failed to revoke similarity job", "err", err)
		}
	}()

	deadline := c.Now().Add(r.Timeout)
	var status *visual.JobStatus
	for {
		if !c.WaitUntil(deadline) {
			return nil, nil
		}
		status, err = sim.Status(c.Ctx, jobID)
		if err != nil {
			logger.Warn("failed to poll similarity job, treating as no match", "err", err)
			return nil, nil
		}
		if status.State.Terminal() {
			finished = true
			break
		}
		if !c.Now().Before(deadline) {
			logger.Warn("similarity job timed out, treating as no match", "timeout", r.Timeout)
			return nil, nil
		}
	}
	if status.State != visual.JobDone {
		logger.Warn("similarity job did not complete, treating as no match", "state", status.State, "err", status.Err)
		return nil, nil
	}

	section := r.describeMatches(c, status.Matches)
	if section == "" {
		return nil, nil
	}
	if r.ReportOnly {
		return engine.Warn(section), nil
	}
	return engine.Remove(section), nil
}

// Formats one line per query image with at least one live match. Dead (removed or deleted) matches are mirrored to the store and skipped.
func (r *RepostAny) describeMatches(c *engine.RuleContext, matches map[uint][]visual.Candidate) string {
	now := c.Now()
	alive := make(map[string]bool)
	var lines []string
	for i, img := range c.Submission.Images {
		var links []string
		seen := make(map[string]bool)
		for _, cand := range matches[img.ID] {
			if cand.Score <= r.Threshold || seen[cand.SubmissionID] {
				continue
			}
			seen[cand.SubmissionID] = true
			ok, checked := alive[cand.SubmissionID]
			if !checked {
				ok = r.isAlive(c, cand.SubmissionID)
				alive[cand.SubmissionID] = ok
			}
			if !ok {
				continue
			}
			age := helpers.RelativeAge(now.Sub(time.Unix(cand.CreatedUTC, 0)))
			pct := math.Round(cand.Score * 100)
			links = append(links, fmt.Sprintf("[submitted %s](%s) (%d%% similar)", age, submissionLink(cand.SubmissionID), int(pct)))
		}
		if len(links) == 0 {
			continue
		}
		ref := imageRef{N: i + 1, Image: img}
		lines = append(lines, fmt.Sprintf("\n\n\t- %s matches an earlier submission%s: %s", ref.Link(""), helpers.Plural(len(links)), strings.Join(links, ", ")))
	}
	if len(lines) == 0 {
		return ""
	}
	return "\n\n- **Repost detected.** " +
		"Please do not submit images which have already been posted to this subreddit." +
		strings.Join(lines, "")
}

func (r *RepostAny) isAlive(c *engine.RuleContext, id string) bool {
	st, err := c.PostStatus(id)
	if err != nil {
		c.Logger.Warn("failed to verify matched submission, ignoring it", "match", id, "err", err)
		return false
	}
	if st.Removed || st.Deleted {
		if err := c.Store().SetStatus(c.Ctx, id, *st); err != nil {
			c.Logger.Warn("failed to mirror matched submission status", "match", id, "err", err)
		}
		return false
	}
	return true
}
