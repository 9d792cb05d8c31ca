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
)

const RateLimitAnyName = "RateLimitAny"

type rateLimitAnyConfig struct {
	IntervalHours *float64 `json:"interval_hours"`
	Frequency     *int     `json:"frequency"`
	InclDeleted   bool     `json:"incl_deleted"`
}

// At most Frequency submissions per author per rolling Interval.
type RateLimitAny struct {
	Interval    time.Duration
	Frequency   int
	InclDeleted bool

	intervalHours float64
}

func NewRateLimitAny(raw json.RawMessage) (engine.Rule, error) {
	cfg, err := engine.DecodeConfig[rateLimitAnyConfig](raw)
	if err != nil {
		return nil, err
	}
	if cfg.IntervalHours == nil || *cfg.IntervalHours <= 0 {
		return nil, errors.New("interval_hours must be a positive number")
	}
	if cfg.Frequency == nil || *cfg.Frequency <= 0 {
		return nil, errors.New("frequency must be a positive integer")
	}
	return &RateLimitAny{
		Interval:      time.Duration(*cfg.IntervalHours * float64(time.Hour)),
		Frequency:     *cfg.Frequency,
		InclDeleted:   cfg.InclDeleted,
		intervalHours: *cfg.IntervalHours,
	}, nil
}

func (r *RateLimitAny) Name() string {
	return RateLimitAnyName
}

func (r *RateLimitAny) Evaluate(c *engine.RuleContext) (*engine.Outcome, error) {
	sub := c.Submission
	priors, err := c.Store().PriorSubmissions(c.Ctx, engine.PriorQuery{
		Subreddit:   sub.Subreddit,
		Author:      sub.Author,
		ExceptID:    sub.ID,
		Since:       sub.CreatedUTC.Add(-r.Interval),
		Before:      sub.CreatedUTC,
		InclDeleted: r.InclDeleted,
	})
	if err != nil {
		return nil, fmt.Errorf("counting prior submissions: %w", err)
	}
	if len(priors) < r.Frequency {
		return nil, nil
	}

	now := c.Now()
	links := make([]string, len(priors))
	for i, p := range priors {
		created := time.Unix(p.CreatedUTC, 0)
		links[i] = fmt.Sprintf("[%s](%s)", helpers.RelativeAge(now.Sub(created)), submissionLink(p.ID))
	}
	// the oldest submission which has to age out of the window before another is allowed
	next := time.Unix(priors[len(priors)-r.Frequency].CreatedUTC, 0).Add(r.Interval)

	hours := strconv.FormatFloat(r.intervalHours, 'f', -1, 64)
	hoursPlural := "s"
	if r.intervalHours == 1 {
		hoursPlural = ""
	}
	return engine.Remove(fmt.Sprintf("\n\n- **Submission limit reached.** "+
		"You may only submit %d time%s every %s hour%s.\n"+
		"\n\t- Your recent submission%s: %s\n\n\t- You may submit again after **%s**.",
		r.Frequency, helpers.Plural(r.Frequency), hours, hoursPlural,
		helpers.Plural(len(priors)), strings.Join(links, ", "), helpers.FormatUTC(next))), nil
}
