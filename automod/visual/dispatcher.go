package visual

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/semaphore"
)

var ErrJobNotFound = errors.New("similarity job not found")

type JobState string

const (
	JobPending JobState = "pending"
	JobRunning JobState = "running"
	JobDone    JobState = "done"
	JobFailed  JobState = "failed"
	JobRevoked JobState = "revoked"
)

// how long finished jobs are kept around for a status poll
var jobRetained = 10 * time.Minute

func (s JobState) Terminal() bool {
	return s == JobDone || s == JobFailed || s == JobRevoked
}

type JobStatus struct {
	ID      string
	State   JobState
	Matches map[uint][]Candidate
	Err     error
}

// Asynchronous similarity checks: submit a request, poll its status, or revoke it.
type JobClient interface {
	Submit(ctx context.Context, req Request) (string, error)
	Status(ctx context.Context, id string) (*JobStatus, error)
	Revoke(ctx context.Context, id string) error
}

type job struct {
	lk       sync.Mutex
	status   JobStatus
	cancel   context.CancelFunc
	finished time.Time
}

func (j *job) snapshot() *JobStatus {
	j.lk.Lock()
	defer j.lk.Unlock()
	st := j.status
	return &st
}

// In-process JobClient. Jobs run in their own goroutines, with at most Workers matching at once; revoking a job cancels its context.
type Dispatcher struct {
	Store   CorpusStore
	Matcher *Matcher
	Logger  *slog.Logger
	Clock   func() time.Time

	sem  *semaphore.Weighted
	jobs *xsync.MapOf[string, *job]
}

var _ JobClient = (*Dispatcher)(nil)

func NewDispatcher(store CorpusStore, logger *slog.Logger, workers int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		Store:   store,
		Matcher: NewMatcher(),
		Logger:  logger.With("component", "similarity"),
		Clock:   time.Now,
		sem:     semaphore.NewWeighted(int64(workers)),
		jobs:    xsync.NewMapOf[string, *job](),
	}
}

// Runs a similarity check synchronously.
func (d *Dispatcher) Similarity(ctx context.Context, req Request) (map[uint][]Candidate, error) {
	query, err := d.Store.SubmissionDescriptors(ctx, req.SubmissionID)
	if err != nil {
		return nil, fmt.Errorf("fetching descriptors for %s: %w", req.SubmissionID, err)
	}
	if len(query) == 0 {
		return map[uint][]Candidate{}, nil
	}
	var since time.Time
	if req.Months > 0 {
		since = d.Clock().AddDate(0, -req.Months, 0)
	}
	corpus, err := d.Store.CorpusDescriptors(ctx, req.Subreddit, req.SubmissionID, since)
	if err != nil {
		return nil, fmt.Errorf("fetching corpus for %s: %w", req.Subreddit, err)
	}
	threshold := req.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	d.Logger.Debug("matching submission", "submission", req.SubmissionID, "subreddit", req.Subreddit, "query", len(query), "corpus", len(corpus))
	return d.Matcher.FindDuplicates(ctx, query, corpus, threshold)
}

func (d *Dispatcher) Submit(ctx context.Context, req Request) (string, error) {
	d.evict()

	// job lifetime is independent of the submitting request
	jctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()
	j := &job{
		status: JobStatus{ID: id, State: JobPending},
		cancel: cancel,
	}
	d.jobs.Store(id, j)
	jobsSubmitted.Inc()

	go d.run(jctx, j, req)
	return id, nil
}

func (d *Dispatcher) run(ctx context.Context, j *job, req Request) {
	defer func() {
		if r := recover(); r != nil {
			d.Logger.Error("similarity job panic", "err", r, "submission", req.SubmissionID)
			d.finish(j, nil, fmt.Errorf("similarity job panic: %v", r))
		}
	}()

	if err := d.sem.Acquire(ctx, 1); err != nil {
		d.finish(j, nil, err)
		return
	}
	defer d.sem.Release(1)

	j.lk.Lock()
	if j.status.State == JobRevoked {
		j.lk.Unlock()
		return
	}
	j.status.State = JobRunning
	j.lk.Unlock()

	matches, err := d.Similarity(ctx, req)
	d.finish(j, matches, err)
}

func (d *Dispatcher) finish(j *job, matches map[uint][]Candidate, err error) {
	j.lk.Lock()
	defer j.lk.Unlock()
	j.cancel()
	j.finished = d.Clock()
	if j.status.State == JobRevoked {
		return
	}
	if err != nil {
		j.status.State = JobFailed
		j.status.Err = err
		jobsFinished.WithLabelValues(string(JobFailed)).Inc()
		return
	}
	j.status.State = JobDone
	j.status.Matches = matches
	jobsFinished.WithLabelValues(string(JobDone)).Inc()
}

func (d *Dispatcher) Status(ctx context.Context, id string) (*JobStatus, error) {
	j, ok := d.jobs.Load(id)
	if !ok {
		return nil, ErrJobNotFound
	}
	return j.snapshot(), nil
}

// Revoking a job which already finished is not an error; the result is discarded.
func (d *Dispatcher) Revoke(ctx context.Context, id string) error {
	j, ok := d.jobs.Load(id)
	if !ok {
		return ErrJobNotFound
	}
	j.lk.Lock()
	if !j.status.State.Terminal() {
		j.status.State = JobRevoked
		j.finished = d.Clock()
		jobsFinished.WithLabelValues(string(JobRevoked)).Inc()
	}
	j.lk.Unlock()
	j.cancel()
	d.jobs.Delete(id)
	return nil
}

// drops finished jobs nobody collected
func (d *Dispatcher) evict() {
	now := d.Clock()
	d.jobs.Range(func(id string, j *job) bool {
		j.lk.Lock()
		stale := j.status.State.Terminal() && now.Sub(j.finished) > jobRetained
		j.lk.Unlock()
		if stale {
			d.jobs.Delete(id)
		}
		return true
	})
}
