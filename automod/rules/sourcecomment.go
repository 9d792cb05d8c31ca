package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/LZ58840/AnimewallpaperBot/automod/engine"
	"github.com/LZ58840/AnimewallpaperBot/automod/helpers"
	"github.com/LZ58840/AnimewallpaperBot/automod/platform"
)

const SourceCommentAnyName = "SourceCommentAny"

type sourceCommentAnyConfig struct {
	TimeoutHrs *float64 `json:"timeout_hrs"`
}

// The author must leave a top-level comment (conventionally, the image source) within Timeout of posting.
type SourceCommentAny struct {
	Timeout time.Duration

	timeoutHrs float64
}

func NewSourceCommentAny(raw json.RawMessage) (engine.Rule, error) {
	cfg, err := engine.DecodeConfig[sourceCommentAnyConfig](raw)
	if err != nil {
		return nil, err
	}
	if cfg.TimeoutHrs == nil || *cfg.TimeoutHrs <= 0 {
		return nil, errors.New("timeout_hrs must be a positive number")
	}
	return &SourceCommentAny{
		Timeout:    time.Duration(*cfg.TimeoutHrs * float64(time.Hour)),
		timeoutHrs: *cfg.TimeoutHrs,
	}, nil
}

func (r *SourceCommentAny) Name() string {
	return SourceCommentAnyName
}

func (r *SourceCommentAny) Evaluate(c *engine.RuleContext) (*engine.Outcome, error) {
	sub := c.Submission
	deadline := sub.CreatedUTC.Add(r.Timeout)
	var lastErr error
	for {
		found, err := r.hasAuthorComment(c)
		if err != nil {
			if !platform.IsTransient(err) {
				return nil, fmt.Errorf("listing comments: %w", err)
			}
			c.Logger.Warn("failed to list comments, will retry", "err", err)
			lastErr = err
		} else {
			lastErr = nil
		}
		if found {
			return nil, nil
		}
		if !c.Now().Before(deadline) {
			break
		}
		if !c.WaitUntil(deadline) {
			return nil, nil
		}
	}
	if lastErr != nil {
		return nil, fmt.Errorf("could not verify source comment: %w", lastErr)
	}

	hours := strconv.FormatFloat(r.timeoutHrs, 'f', -1, 64)
	hoursPlural := "s"
	if r.timeoutHrs == 1 {
		hoursPlural = ""
	}
	return engine.Remove(fmt.Sprintf("\n\n- **Missing source.** "+
		"Please reply to your submission with a comment linking the source of your image%s "+
		"within %s hour%s of posting.",
		helpers.Plural(len(sub.Images)), hours, hoursPlural)), nil
}

func (r *SourceCommentAny) hasAuthorComment(c *engine.RuleContext) (bool, error) {
	comments, err := c.Platform().TopLevelComments(c.Ctx, c.Submission.ID)
	if err != nil {
		return false, err
	}
	for _, cm := range comments {
		if strings.EqualFold(cm.Author, c.Submission.Author) {
			return true, nil
		}
	}
	return false, nil
}
