package rules

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/LZ58840/AnimewallpaperBot/automod/engine"
	"github.com/LZ58840/AnimewallpaperBot/automod/platform"
	"github.com/LZ58840/AnimewallpaperBot/automod/visual"
	"github.com/LZ58840/AnimewallpaperBot/models"

	"github.com/stretchr/testify/assert"
)

// JobClient which reports a canned status once the job has been polled a few times.
type fakeSimilarity struct {
	lk        sync.Mutex
	result    visual.JobStatus
	readyAt   int
	polls     int
	submitted []visual.Request
	revoked   []string
	submitErr error
}

func (s *fakeSimilarity) Submit(ctx context.Context, req visual.Request) (string, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	if s.submitErr != nil {
		return "", s.submitErr
	}
	s.submitted = append(s.submitted, req)
	return "job1", nil
}

func (s *fakeSimilarity) Status(ctx context.Context, id string) (*visual.JobStatus, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.polls++
	if s.readyAt <= 0 || s.polls < s.readyAt {
		return &visual.JobStatus{ID: id, State: visual.JobRunning}, nil
	}
	st := s.result
	st.ID = id
	return &st, nil
}

func (s *fakeSimilarity) Revoke(ctx context.Context, id string) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.revoked = append(s.revoked, id)
	return nil
}

func (s *fakeSimilarity) revokedJobs() []string {
	s.lk.Lock()
	defer s.lk.Unlock()
	return append([]string(nil), s.revoked...)
}

func repostFixture(t *testing.T, raw string) (*ruleFixture, *fakeSimilarity, *engine.Submission, *engine.Submission, *engine.Submission) {
	f := newRuleFixture(t, raw)
	sim := &fakeSimilarity{readyAt: 2}
	f.eng.Similarity = sim

	weekAgo := time.Now().Add(-7*24*time.Hour - time.Hour)
	alive := f.submission("original [1920x1080]", weekAgo, img(1920, 1080))
	dead := f.submission("removed [1920x1080]", weekAgo, img(1920, 1080))
	f.client.SetStatus(dead.ID, platform.Status{Removed: true})
	sub := f.submission("repost [1920x1080]", time.Now(), img(1920, 1080), img(1080, 1920))

	sim.result = visual.JobStatus{
		State: visual.JobDone,
		Matches: map[uint][]visual.Candidate{
			sub.Images[0].ID: {
				{QueryImageID: sub.Images[0].ID, ImageID: alive.Images[0].ID, SubmissionID: alive.ID, CreatedUTC: alive.CreatedUTC.Unix(), Score: 0.934, Count: 30},
				{QueryImageID: sub.Images[0].ID, ImageID: dead.Images[0].ID, SubmissionID: dead.ID, CreatedUTC: dead.CreatedUTC.Unix(), Score: 0.9, Count: 28},
			},
		},
	}
	return f, sim, sub, alive, dead
}

func TestRepostRemoves(t *testing.T) {
	assert := assert.New(t)
	f, sim, sub, alive, dead := repostFixture(t, `{"enabled": true, "RepostAny": {"enabled": true, "threshold": 0.75, "months": 6}}`)

	d := f.eval(sub)
	assert.Equal(engine.ActionRemove, d.Action)
	assert.Equal([]string{"\n\n- **Repost detected.** Please do not submit images which have already been posted to this subreddit." +
		"\n\n\t- [Image #1](" + sub.Images[0].URL + ") matches an earlier submission: [submitted 1 week ago](https://redd.it/" + alive.ID + ") (93% similar)"}, d.Fragments)

	assert.Equal([]visual.Request{{SubmissionID: sub.ID, Subreddit: "Animewallpaper", Threshold: 0.75, Months: 6}}, sim.submitted)
	assert.Empty(sim.revokedJobs())

	// dead match was mirrored locally
	row, err := f.store.GetSubmission(context.Background(), dead.ID)
	assert.NoError(err)
	assert.True(row.Removed)
}

func TestRepostReportOnly(t *testing.T) {
	assert := assert.New(t)
	f, _, sub, _, _ := repostFixture(t, `{"enabled": true, "RepostAny": {"enabled": true, "report_only": true}}`)

	d := f.eval(sub)
	assert.Equal(engine.ActionClear, d.Action)
	assert.Equal([]string{"RepostAny"}, d.WarningRules)
	assert.Equal(1, len(d.Warnings))
}

func TestRepostBelowThreshold(t *testing.T) {
	assert := assert.New(t)
	f, _, sub, _, _ := repostFixture(t, `{"enabled": true, "RepostAny": {"enabled": true, "threshold": 0.95}}`)

	d := f.eval(sub)
	assert.Equal(engine.ActionClear, d.Action)
}

func TestRepostTimeoutRevokes(t *testing.T) {
	assert := assert.New(t)
	// 0.002 minutes is 120ms
	f, sim, sub, _, _ := repostFixture(t, `{"enabled": true, "RepostAny": {"enabled": true, "timeout_mins": 0.002}}`)
	sim.readyAt = 0

	d := f.eval(sub)
	assert.Equal(engine.ActionClear, d.Action)
	assert.Empty(d.Errors)
	assert.Equal([]string{"job1"}, sim.revokedJobs())
}

func TestRepostStopsOnRemoval(t *testing.T) {
	assert := assert.New(t)
	f, sim, _, _, _ := repostFixture(t, `{"enabled": true, "ResolutionAny": {"enabled": true}, "RepostAny": {"enabled": true}}`)
	sim.readyAt = 0
	sub := f.submission("untagged repost", time.Now(), img(1920, 1080))

	start := time.Now()
	d := f.eval(sub)
	assert.Less(time.Since(start), 5*time.Second)
	assert.Equal(engine.ActionRemove, d.Action)
	assert.Equal([]string{resolutionAnyComment}, d.Fragments)
	assert.Equal([]string{"job1"}, sim.revokedJobs())
}

func TestRepostFailures(t *testing.T) {
	assert := assert.New(t)

	f, sim, sub, _, _ := repostFixture(t, `{"enabled": true, "RepostAny": {"enabled": true}}`)
	sim.result = visual.JobStatus{State: visual.JobFailed, Err: errors.New("index exploded")}
	d := f.eval(sub)
	assert.Equal(engine.ActionClear, d.Action)
	assert.Empty(d.Errors)

	f, sim, sub, _, _ = repostFixture(t, `{"enabled": true, "RepostAny": {"enabled": true}}`)
	sim.submitErr = errors.New("unavailable")
	d = f.eval(sub)
	assert.Equal(engine.ActionClear, d.Action)

	f, _, sub, _, _ = repostFixture(t, `{"enabled": true, "RepostAny": {"enabled": true}}`)
	f.eng.Similarity = nil
	d = f.eval(sub)
	assert.Equal([]string{"RepostAny"}, errorRules(d))

	_, err := NewRepostAny([]byte(`{"enabled": true, "threshold": 1.5}`))
	assert.Error(err)
}

func TestRepostAgainstDispatcher(t *testing.T) {
	assert := assert.New(t)
	f := newRuleFixture(t, `{"enabled": true, "RepostAny": {"enabled": true}}`)

	desc := make([][]float32, 40)
	for i := range desc {
		row := make([]float32, 8)
		for j := range row {
			row[j] = float32((i*7+j*13)%31) + float32(i)
		}
		desc[i] = row
	}
	d, err := visual.NewDescriptors(desc)
	assert.NoError(err)
	blob := visual.EncodeDescriptors(d)

	orig := f.submission("original [1920x1080]", time.Now().Add(-48*time.Hour), models.Image{Width: 1920, Height: 1080, Descriptors: blob})
	sub := f.submission("copy [1920x1080]", time.Now(), models.Image{Width: 1920, Height: 1080, Descriptors: blob})

	f.eng.Similarity = visual.NewDispatcher(f.store, f.eng.Logger, 2)
	dec := f.eval(sub)
	assert.Equal(engine.ActionRemove, dec.Action)
	assert.Contains(dec.Fragments[0], "https://redd.it/"+orig.ID)
	assert.Contains(dec.Fragments[0], "100% similar")
}
