package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/LZ58840/AnimewallpaperBot/automod/cachestore"
	"github.com/LZ58840/AnimewallpaperBot/automod/countstore"
	"github.com/LZ58840/AnimewallpaperBot/automod/flagstore"
	"github.com/LZ58840/AnimewallpaperBot/automod/helpers"
	"github.com/LZ58840/AnimewallpaperBot/automod/platform"
	"github.com/LZ58840/AnimewallpaperBot/automod/settings"
	"github.com/LZ58840/AnimewallpaperBot/automod/visual"
	"github.com/LZ58840/AnimewallpaperBot/models"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("engine")

// Returned when a queued submission has no database row yet. The ingestion pipeline is expected to catch up, so this is worth retrying.
var ErrNotIngested = errors.New("submission not ingested yet")

// Counter (per community, per day) of removals, used for the removal quota.
const removalCounter = "awb-removals"

const DefaultPollInterval = 30 * time.Second

// runtime for evaluating rules against submissions and carrying out the resulting moderation actions.
//
// TODO: careful when initializing: several fields should not be null or zero, even though they are pointer type.
type Engine struct {
	Logger   *slog.Logger
	Store    Store
	Settings SettingsLoader
	Platform platform.Client
	// used by the repost rule (optional)
	Similarity visual.JobClient
	Rules      RuleSet
	Counters   countstore.CountStore
	Cache      cachestore.StatusCache
	Flags      flagstore.FlagStore
	Notifiers  []Notifier
	// how often long-running rules and the status watcher poll; zero means DefaultPollInterval
	PollInterval time.Duration
	// max removals per community per day; zero disables the quota
	RemovalQuotaDay int
	// overridable in tests; nil means time.Now
	Clock func() time.Time
	// optional; called as ModerateSubmission moves through its stages
	OnStage func(submissionID string, stage Stage)
}

type Stage string

const (
	StageFetching   Stage = "fetching"
	StageEvaluating Stage = "evaluating"
	StageRemoving   Stage = "removing"
	StageClearing   Stage = "clearing"
)

func (eng *Engine) stage(id string, s Stage) {
	if eng.OnStage != nil {
		eng.OnStage(id, s)
	}
}

type ResponseStatus string

const (
	// platform status was mirrored locally without evaluation
	StatusRefreshed ResponseStatus = "refreshed"
	StatusSkipped   ResponseStatus = "skipped"
	StatusModerated ResponseStatus = "moderated"
	// a removal was decided but the daily removal quota is used up
	StatusThrottled ResponseStatus = "throttled"
)

type Response struct {
	Status      ResponseStatus
	Removed     bool
	CommentID   string
	CommentBody string
	// nil unless rules were evaluated
	Decision *Decision
}

// A panic recovered while moderating a submission. Retrying would most likely panic again.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("moderation panic: %v", e.Value)
}

func (eng *Engine) logger() *slog.Logger {
	if eng.Logger == nil {
		return slog.Default()
	}
	return eng.Logger
}

func (eng *Engine) now() time.Time {
	if eng.Clock != nil {
		return eng.Clock()
	}
	return time.Now()
}

func (eng *Engine) pollInterval() time.Duration {
	if eng.PollInterval > 0 {
		return eng.PollInterval
	}
	return DefaultPollInterval
}

// Fetches, evaluates, and acts on a single submission.
//
// filtered indicates the submission was caught by the platform's own filter: it shows as removed, but should still be evaluated.
func (eng *Engine) ModerateSubmission(ctx context.Context, id string, filtered bool) (resp *Response, err error) {
	ctx, span := tracer.Start(ctx, "ModerateSubmission", trace.WithAttributes(
		attribute.String("submission", id),
		attribute.Bool("filtered", filtered),
	))
	defer span.End()

	logger := eng.logger().With("submission", id)

	// similar to an HTTP server, we want to recover any panics from rule execution
	defer func() {
		if r := recover(); r != nil {
			logger.Error("automod submission execution exception", "err", r)
			submissionErrorCount.WithLabelValues("panic").Inc()
			resp = nil
			err = &PanicError{Value: r}
		}
	}()

	resp, err = eng.moderate(ctx, logger, id, filtered)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.String("status", string(resp.Status)))
	submissionProcessCount.WithLabelValues(string(resp.Status)).Inc()
	return resp, nil
}

func (eng *Engine) moderate(ctx context.Context, logger *slog.Logger, id string, filtered bool) (*Response, error) {
	eng.stage(id, StageFetching)
	post, err := eng.Platform.GetPost(ctx, id)
	if errors.Is(err, platform.ErrNotFound) {
		post = &platform.Post{ID: id, Status: platform.Status{Deleted: true}}
		filtered = false
	} else if err != nil {
		submissionErrorCount.WithLabelValues("fetch").Inc()
		return nil, fmt.Errorf("fetching submission: %w", err)
	}
	if post.Subreddit != "" {
		logger = logger.With("subreddit", post.Subreddit)
	}

	if post.Status.Acted() && !filtered {
		if err := eng.Store.SetStatus(ctx, id, post.Status); err != nil {
			submissionErrorCount.WithLabelValues("persist").Inc()
			return nil, fmt.Errorf("mirroring submission status: %w", err)
		}
		logger.Debug("refreshed submission status", "removed", post.Status.Removed, "deleted", post.Status.Deleted, "approved", post.Status.Approved)
		return &Response{Status: StatusRefreshed}, nil
	}

	row, err := eng.Store.GetSubmission(ctx, id)
	if err != nil {
		submissionErrorCount.WithLabelValues("fetch").Inc()
		return nil, fmt.Errorf("loading submission: %w", err)
	}
	if row == nil {
		return nil, ErrNotIngested
	}
	if row.Moderated {
		return &Response{Status: StatusSkipped}, nil
	}

	st, err := eng.Settings.Load(ctx, post.Subreddit)
	if err != nil {
		submissionErrorCount.WithLabelValues("fetch").Inc()
		return nil, fmt.Errorf("loading settings: %w", err)
	}
	if !st.Enabled {
		logger.Debug("community disabled, skipping")
		return &Response{Status: StatusSkipped}, nil
	}

	images, err := eng.Store.SubmissionImages(ctx, id)
	if err != nil {
		submissionErrorCount.WithLabelValues("fetch").Inc()
		return nil, fmt.Errorf("loading images: %w", err)
	}
	sub := NewSubmission(post, row, images)

	eng.stage(id, StageEvaluating)
	start := time.Now()
	dec := eng.Evaluate(ctx, sub, st)
	evaluationDuration.WithLabelValues(string(dec.Action)).Observe(time.Since(start).Seconds())
	eng.CanonicalLogLine(logger, dec)
	if dec.Aborted {
		return nil, fmt.Errorf("evaluating submission: %w", ctx.Err())
	}

	switch dec.Action {
	case ActionRemove:
		eng.stage(id, StageRemoving)
		return eng.removeSubmission(ctx, logger, sub, dec)
	case ActionClear:
		eng.stage(id, StageClearing)
		return eng.clearSubmission(ctx, logger, sub, dec)
	default:
		if dec.Halted {
			if err := eng.Store.SetStatus(ctx, id, dec.HaltStatus); err != nil {
				submissionErrorCount.WithLabelValues("persist").Inc()
				return nil, fmt.Errorf("mirroring submission status: %w", err)
			}
		}
		return &Response{Status: StatusSkipped, Decision: dec}, nil
	}
}

// Runs the flair pre-filter and then every enabled rule concurrently, returning the combined decision.
//
// Never returns nil. Rule errors end up in Decision.Errors and do not affect other rules. If ctx is cancelled before the rules finish, the decision is an aborted skip.
func (eng *Engine) Evaluate(ctx context.Context, sub *Submission, st *settings.Settings) *Decision {
	logger := eng.logger().With("submission", sub.ID, "subreddit", sub.Subreddit)

	if sub.Moderated {
		return skipDecision("already moderated")
	}

	book := NewRuleBook(len(eng.Rules.Entries))
	if eng.applyFlairPolicy(logger, book, sub, st) {
		return skipDecision("flair exempt from moderation")
	}

	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		eng.watchStatus(ctx, logger, book, sub)
	}()

	var wg sync.WaitGroup
	for slot, entry := range eng.Rules.Entries {
		cfg, enabled := st.RuleConfig(entry.Name)
		if !enabled {
			continue
		}
		wg.Add(1)
		go func(slot int, entry RuleEntry, cfg json.RawMessage) {
			defer wg.Done()
			book.record(slot, eng.runRule(ctx, logger, book, sub, entry, cfg))
		}(slot, entry, cfg)
	}
	wg.Wait()

	cancel()
	<-watcherDone

	// rules which gave up on a cancelled wait return no outcome, which would otherwise read as a clear
	if parent.Err() != nil {
		dec := skipDecision("evaluation cancelled")
		dec.Aborted = true
		return dec
	}
	return book.decide(sub.Subreddit)
}

// Applies the community's flair policy. Returns true if the submission is exempt from moderation.
func (eng *Engine) applyFlairPolicy(logger *slog.Logger, book *RuleBook, sub *Submission, st *settings.Settings) bool {
	policy, ok := st.Flairs[sub.Flair]
	if sub.Flair == "" || !ok {
		return false
	}
	if strings.TrimSpace(policy) == settings.FlairSkip {
		book.Skip.Set()
		return true
	}
	allowed := helpers.ParseOrientations(policy)
	if len(allowed) == 0 {
		logger.Warn("flair policy allows no known orientation, ignoring", "flair", sub.Flair, "policy", policy)
		return false
	}
	if section := FlairSection(sub.Flair, allowed, sub.Images); section != "" {
		book.setFlairSection(section)
	}
	return false
}

// Builds the comment section for images whose orientation is not allowed under a flair. Returns an empty string if every image is allowed.
//
// Images are numbered by their position in the submission, and grouped by orientation.
func FlairSection(flair string, allowed []string, images []models.Image) string {
	var sb strings.Builder
	for _, orientation := range helpers.Orientations {
		if containsString(allowed, orientation) {
			continue
		}
		var links []string
		for i, img := range images {
			if helpers.OrientationOf(img.Width, img.Height) == orientation {
				links = append(links, fmt.Sprintf("[Image #%d](%s)", i+1, img.URL))
			}
		}
		if len(links) == 0 {
			continue
		}
		fmt.Fprintf(&sb, "\n\n- %s images are not allowed under the **%s** flair.", strings.ToUpper(orientation[:1])+orientation[1:], flair)
		fmt.Fprintf(&sb, "\n\n\t- %s %s %s.", strings.Join(links, ", "), helpers.IsAre(len(links)), orientation)
	}
	return sb.String()
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Re-reads the submission's platform status every poll interval, and fires the halt latch if somebody else moderated it. Returns when ctx is done or after halting.
func (eng *Engine) watchStatus(ctx context.Context, logger *slog.Logger, book *RuleBook, sub *Submission) {
	ticker := time.NewTicker(eng.pollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		var st platform.Status
		post, err := eng.Platform.GetPost(ctx, sub.ID)
		if errors.Is(err, platform.ErrNotFound) {
			st = platform.Status{Deleted: true}
		} else if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("status watcher failed to fetch submission", "err", err)
			continue
		} else {
			st = post.Status
		}
		if st != sub.Status && st.Acted() {
			logger.Info("submission moderated externally, halting evaluation", "removed", st.Removed, "deleted", st.Deleted, "approved", st.Approved)
			haltCount.Inc()
			book.halt(st)
			return
		}
	}
}

func (eng *Engine) runRule(ctx context.Context, logger *slog.Logger, book *RuleBook, sub *Submission, entry RuleEntry, cfg json.RawMessage) (res *Result) {
	res = &Result{Rule: entry.Name}
	logger = logger.With("rule", entry.Name)
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			res.Outcome = nil
			res.Err = &RuleError{Rule: entry.Name, Err: fmt.Errorf("panic: %v", r)}
		}
		outcome := "none"
		switch {
		case res.Err != nil:
			outcome = "error"
			logger.Error("rule evaluation failed", "err", res.Err.Err)
		case res.Outcome != nil && res.Outcome.Fragment != "" && res.Outcome.Warning:
			outcome = "warn"
		case res.Outcome != nil && res.Outcome.Fragment != "":
			outcome = "remove"
		}
		ruleDuration.WithLabelValues(entry.Name).Observe(time.Since(start).Seconds())
		ruleOutcomeCount.WithLabelValues(entry.Name, outcome).Inc()
	}()

	rule, err := entry.New(cfg)
	if err != nil {
		res.Err = &RuleError{Rule: entry.Name, Err: err}
		return res
	}
	rc := &RuleContext{
		Ctx:        ctx,
		Logger:     logger,
		Submission: sub,
		engine:     eng,
		book:       book,
	}
	out, err := rule.Evaluate(rc)
	if err != nil {
		res.Err = &RuleError{Rule: entry.Name, Err: err}
		return res
	}
	res.Outcome = out
	return res
}

// Checks the per-community daily removal quota. Returns true if another removal is allowed.
func (eng *Engine) removalAllowed(ctx context.Context, subreddit string) (bool, error) {
	if eng.RemovalQuotaDay <= 0 || eng.Counters == nil {
		return true, nil
	}
	count, err := eng.Counters.GetCount(ctx, removalCounter, subreddit, countstore.PeriodDay)
	if err != nil {
		return false, fmt.Errorf("checking removal quota: %w", err)
	}
	return count < eng.RemovalQuotaDay, nil
}

// Reply, distinguish and sticky the reply, lock, remove; then mark the submission moderated.
func (eng *Engine) removeSubmission(ctx context.Context, logger *slog.Logger, sub *Submission, dec *Decision) (*Response, error) {
	allowed, err := eng.removalAllowed(ctx, sub.Subreddit)
	if err != nil {
		submissionErrorCount.WithLabelValues("remove").Inc()
		return nil, err
	}
	if !allowed {
		logger.Warn("daily removal quota reached, not removing", "quota", eng.RemovalQuotaDay)
		actionThrottledCount.WithLabelValues(sub.Subreddit).Inc()
		eng.notify(ctx, logger, Notification{Kind: NotifyThrottled, Submission: sub, Decision: dec})
		return &Response{Status: StatusThrottled, Decision: dec}, nil
	}

	commentID, err := eng.Platform.Reply(ctx, sub.ID, dec.Comment)
	if err != nil {
		submissionErrorCount.WithLabelValues("remove").Inc()
		return nil, fmt.Errorf("replying with removal comment: %w", err)
	}
	if err := eng.Platform.Distinguish(ctx, commentID, true); err != nil {
		submissionErrorCount.WithLabelValues("remove").Inc()
		return nil, fmt.Errorf("distinguishing removal comment: %w", err)
	}
	if err := eng.Platform.Lock(ctx, sub.ID); err != nil {
		submissionErrorCount.WithLabelValues("remove").Inc()
		return nil, fmt.Errorf("locking submission: %w", err)
	}
	if err := eng.Platform.Remove(ctx, sub.ID); err != nil {
		submissionErrorCount.WithLabelValues("remove").Inc()
		return nil, fmt.Errorf("removing submission: %w", err)
	}
	if eng.Counters != nil {
		if err := eng.Counters.Increment(ctx, removalCounter, sub.Subreddit); err != nil {
			logger.Error("failed to increment removal counter", "err", err)
		}
	}
	if err := eng.Store.SetModerated(ctx, sub.ID, true); err != nil {
		submissionErrorCount.WithLabelValues("persist").Inc()
		return nil, fmt.Errorf("marking submission moderated: %w", err)
	}
	// repost checks of later submissions may have cached this one as live
	if eng.Cache != nil {
		if err := eng.Cache.Purge(ctx, sub.ID); err != nil {
			logger.Warn("failed to purge cached post status", "err", err)
		}
	}
	actionRemovalCount.WithLabelValues(sub.Subreddit).Inc()
	logger.Info("removed submission", "url", "https://redd.it/"+sub.ID, "comment", commentID)
	eng.notify(ctx, logger, Notification{Kind: NotifyRemoved, Submission: sub, Decision: dec, CommentID: commentID})

	return &Response{
		Status:      StatusModerated,
		Removed:     true,
		CommentID:   commentID,
		CommentBody: dec.Comment,
		Decision:    dec,
	}, nil
}

func (eng *Engine) clearSubmission(ctx context.Context, logger *slog.Logger, sub *Submission, dec *Decision) (*Response, error) {
	if len(dec.WarningRules) > 0 {
		logger.Info("submission cleared with warnings", "rules", dec.WarningRules)
		if eng.Flags != nil {
			if err := eng.Flags.Add(ctx, sub.ID, dec.WarningRules); err != nil {
				logger.Error("failed to persist warning flags", "err", err)
			}
		}
		for _, r := range dec.WarningRules {
			actionWarningCount.WithLabelValues(r).Inc()
		}
		eng.notify(ctx, logger, Notification{Kind: NotifyWarned, Submission: sub, Decision: dec})
	}
	if err := eng.Store.SetModerated(ctx, sub.ID, false); err != nil {
		submissionErrorCount.WithLabelValues("persist").Inc()
		return nil, fmt.Errorf("marking submission moderated: %w", err)
	}
	return &Response{Status: StatusModerated, Decision: dec}, nil
}

func (eng *Engine) notify(ctx context.Context, logger *slog.Logger, n Notification) {
	for _, notifier := range eng.Notifiers {
		if err := notifier.SendDecision(ctx, n); err != nil {
			logger.Error("sending notification", "kind", n.Kind, "err", err)
		}
	}
}

// One summary line per evaluation, with everything needed to understand the decision.
func (eng *Engine) CanonicalLogLine(logger *slog.Logger, dec *Decision) {
	ruleErrors := make([]string, len(dec.Errors))
	for i, e := range dec.Errors {
		ruleErrors[i] = e.Rule
	}
	logger.Info("canonical-submission-line",
		"decision", string(dec.Action),
		"fragments", len(dec.Fragments),
		"warnings", dec.WarningRules,
		"ruleErrors", ruleErrors,
		"halted", dec.Halted,
		"reason", dec.Reason,
	)
}
