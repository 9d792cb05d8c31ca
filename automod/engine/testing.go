package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/LZ58840/AnimewallpaperBot/automod/cachestore"
	"github.com/LZ58840/AnimewallpaperBot/automod/countstore"
	"github.com/LZ58840/AnimewallpaperBot/automod/flagstore"
	"github.com/LZ58840/AnimewallpaperBot/automod/platform"
	"github.com/LZ58840/AnimewallpaperBot/automod/settings"
	"github.com/LZ58840/AnimewallpaperBot/automod/visual"
	"github.com/LZ58840/AnimewallpaperBot/models"
)

var _ Store = (*MemStore)(nil)
var _ visual.CorpusStore = (*MemStore)(nil)

// In-memory Store (and similarity corpus), for tests. Intentionally exported, for use in other packages.
type MemStore struct {
	lk          sync.Mutex
	Submissions map[string]*models.Submission
	Images      map[string][]models.Image
}

func NewMemStore() *MemStore {
	return &MemStore{
		Submissions: make(map[string]*models.Submission),
		Images:      make(map[string][]models.Image),
	}
}

func (s *MemStore) AddSubmission(sub models.Submission, images ...models.Image) {
	s.lk.Lock()
	defer s.lk.Unlock()
	s.Submissions[sub.ID] = &sub
	for i := range images {
		images[i].SubmissionID = sub.ID
	}
	s.Images[sub.ID] = images
}

func (s *MemStore) GetSubmission(ctx context.Context, id string) (*models.Submission, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	row, ok := s.Submissions[id]
	if !ok {
		return nil, nil
	}
	out := *row
	return &out, nil
}

func (s *MemStore) SubmissionImages(ctx context.Context, id string) ([]models.Image, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	return append([]models.Image(nil), s.Images[id]...), nil
}

func (s *MemStore) PriorSubmissions(ctx context.Context, q PriorQuery) ([]models.Submission, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	var out []models.Submission
	for _, row := range s.Submissions {
		if row.Subreddit != q.Subreddit || row.Author != q.Author || row.ID == q.ExceptID {
			continue
		}
		if row.CreatedUTC < q.Since.Unix() || row.CreatedUTC >= q.Before.Unix() {
			continue
		}
		if row.Removed || (row.Deleted && !q.InclDeleted) {
			continue
		}
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedUTC < out[j].CreatedUTC })
	return out, nil
}

func (s *MemStore) SetStatus(ctx context.Context, id string, st platform.Status) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	if row, ok := s.Submissions[id]; ok {
		row.Removed = st.Removed
		row.Deleted = st.Deleted
		row.Approved = st.Approved
	}
	return nil
}

func (s *MemStore) SetModerated(ctx context.Context, id string, removed bool) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	row, ok := s.Submissions[id]
	if !ok {
		return fmt.Errorf("unknown submission: %s", id)
	}
	row.Moderated = true
	if removed {
		row.Removed = true
	}
	return nil
}

// Decodes the descriptors of every image of the submission which has them.
func (s *MemStore) SubmissionDescriptors(ctx context.Context, submissionID string) ([]visual.ImageDescriptors, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	row, ok := s.Submissions[submissionID]
	if !ok {
		return nil, nil
	}
	return s.descriptors(row)
}

func (s *MemStore) CorpusDescriptors(ctx context.Context, subreddit, exceptSubmissionID string, since time.Time) ([]visual.ImageDescriptors, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	var out []visual.ImageDescriptors
	for _, row := range s.Submissions {
		if row.Subreddit != subreddit || row.ID == exceptSubmissionID || row.Removed || row.Deleted {
			continue
		}
		if !since.IsZero() && row.CreatedUTC < since.Unix() {
			continue
		}
		descs, err := s.descriptors(row)
		if err != nil {
			return nil, err
		}
		out = append(out, descs...)
	}
	return out, nil
}

func (s *MemStore) descriptors(row *models.Submission) ([]visual.ImageDescriptors, error) {
	var out []visual.ImageDescriptors
	for _, img := range s.Images[row.ID] {
		if len(img.Descriptors) == 0 {
			continue
		}
		d, err := visual.DecodeDescriptors(img.Descriptors)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", img.ID, err)
		}
		out = append(out, visual.ImageDescriptors{
			ImageID:      img.ID,
			SubmissionID: row.ID,
			CreatedUTC:   row.CreatedUTC,
			URL:          img.URL,
			Descriptors:  d,
		})
	}
	return out, nil
}

// SettingsLoader which returns the same settings for every community.
type StaticSettings struct {
	Settings *settings.Settings
}

func (s StaticSettings) Load(ctx context.Context, subreddit string) (*settings.Settings, error) {
	if s.Settings == nil {
		return settings.Defaults(), nil
	}
	return s.Settings, nil
}

type keywordConfig struct {
	Keyword string `json:"keyword"`
	Warn    bool   `json:"warn"`
}

type keywordRule struct {
	cfg *keywordConfig
}

func (r *keywordRule) Name() string { return "KeywordAny" }

func (r *keywordRule) Evaluate(c *RuleContext) (*Outcome, error) {
	if r.cfg.Keyword == "" || !strings.Contains(strings.ToLower(c.Submission.Title), r.cfg.Keyword) {
		return nil, nil
	}
	frag := fmt.Sprintf("\n\n- Submission title mentions **%s**.", r.cfg.Keyword)
	if r.cfg.Warn {
		return Warn(frag), nil
	}
	return Remove(frag), nil
}

// Waits until the removal latch fires or its timeout passes, like the long-running platform rules do.
type waitConfig struct {
	TimeoutMS int `json:"timeout_ms"`
}

type waitRule struct {
	cfg *waitConfig
}

func (r *waitRule) Name() string { return "WaitAny" }

func (r *waitRule) Evaluate(c *RuleContext) (*Outcome, error) {
	deadline := c.Now().Add(time.Duration(r.cfg.TimeoutMS) * time.Millisecond)
	for c.Now().Before(deadline) {
		if !c.WaitUntil(deadline) {
			return nil, nil
		}
	}
	return Remove("\n\n- Waited too long."), nil
}

type panicRule struct{}

func (r *panicRule) Name() string { return "PanicAny" }

func (r *panicRule) Evaluate(c *RuleContext) (*Outcome, error) {
	panic("rule exploded")
}

func FixtureRuleSet() RuleSet {
	return RuleSet{
		Entries: []RuleEntry{
			{Name: "KeywordAny", New: func(cfg json.RawMessage) (Rule, error) {
				c, err := DecodeConfig[keywordConfig](cfg)
				if err != nil {
					return nil, err
				}
				return &keywordRule{cfg: c}, nil
			}},
			{Name: "WaitAny", New: func(cfg json.RawMessage) (Rule, error) {
				c, err := DecodeConfig[waitConfig](cfg)
				if err != nil {
					return nil, err
				}
				return &waitRule{cfg: c}, nil
			}},
			{Name: "PanicAny", New: func(cfg json.RawMessage) (Rule, error) {
				return &panicRule{}, nil
			}},
		},
	}
}

// Test engine with in-memory stores, a mock platform, and the given rules and settings. Intentionally exported, for use in other packages.
func EngineTestFixture(rules RuleSet, st *settings.Settings) (*Engine, *MemStore, *platform.MockClient) {
	store := NewMemStore()
	client := platform.NewMockClient()
	eng := &Engine{
		Logger:       slog.Default(),
		Store:        store,
		Settings:     StaticSettings{Settings: st},
		Platform:     client,
		Rules:        rules,
		Counters:     countstore.NewMemCountStore(),
		Cache:        cachestore.NewMemStatusCache(100, time.Hour),
		Flags:        flagstore.NewMemFlagStore(),
		PollInterval: 20 * time.Millisecond,
	}
	return eng, store, client
}

// Adds a submission to both the platform mock and the store.
func AddTestSubmission(store *MemStore, client *platform.MockClient, post platform.Post, images ...models.Image) {
	client.AddPost(post)
	store.AddSubmission(models.Submission{
		ID:         post.ID,
		Subreddit:  post.Subreddit,
		Author:     post.Author,
		CreatedUTC: post.CreatedUTC.Unix(),
		Removed:    post.Status.Removed,
		Deleted:    post.Status.Deleted,
		Approved:   post.Status.Approved,
	}, images...)
}
