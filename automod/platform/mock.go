package platform

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Records a single mutating call against the mock.
type Action struct {
	Kind   string
	Target string
	Body   string
}

// In-memory platform implementation, for tests. Safe for concurrent use.
type MockClient struct {
	lk       sync.Mutex
	Posts    map[string]*Post
	Comments map[string][]Comment
	Wiki     map[string]*WikiPage
	ModQueue map[string][]string
	Actions  []Action
	// if set, returned from the named operation (eg, "Remove") instead of acting
	Fail      map[string]error
	nextReply int
}

var _ Client = (*MockClient)(nil)
var _ WikiClient = (*MockClient)(nil)
var _ Lister = (*MockClient)(nil)

func NewMockClient() *MockClient {
	return &MockClient{
		Posts:    make(map[string]*Post),
		Comments: make(map[string][]Comment),
		Wiki:     make(map[string]*WikiPage),
		ModQueue: make(map[string][]string),
		Fail:     make(map[string]error),
	}
}

func (m *MockClient) AddPost(p Post) {
	m.lk.Lock()
	defer m.lk.Unlock()
	m.Posts[p.ID] = &p
}

func (m *MockClient) AddComment(postID string, c Comment) {
	m.lk.Lock()
	defer m.lk.Unlock()
	m.Comments[postID] = append(m.Comments[postID], c)
}

func (m *MockClient) SetStatus(postID string, st Status) {
	m.lk.Lock()
	defer m.lk.Unlock()
	if p, ok := m.Posts[postID]; ok {
		p.Status = st
	}
}

// Returns a copy of all recorded actions of the given kind (or all actions, if kind is empty).
func (m *MockClient) ActionsOf(kind string) []Action {
	m.lk.Lock()
	defer m.lk.Unlock()
	var out []Action
	for _, a := range m.Actions {
		if kind == "" || a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

func (m *MockClient) record(kind, target, body string) error {
	if err, ok := m.Fail[kind]; ok && err != nil {
		return err
	}
	m.Actions = append(m.Actions, Action{Kind: kind, Target: target, Body: body})
	return nil
}

func (m *MockClient) GetPost(ctx context.Context, id string) (*Post, error) {
	m.lk.Lock()
	defer m.lk.Unlock()
	if err, ok := m.Fail["GetPost"]; ok && err != nil {
		return nil, err
	}
	p, ok := m.Posts[id]
	if !ok {
		return nil, fmt.Errorf("post %s: %w", id, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (m *MockClient) Reply(ctx context.Context, postID, body string) (string, error) {
	m.lk.Lock()
	defer m.lk.Unlock()
	if err := m.record("Reply", postID, body); err != nil {
		return "", err
	}
	m.nextReply++
	return fmt.Sprintf("c%d", m.nextReply), nil
}

func (m *MockClient) Distinguish(ctx context.Context, commentID string, sticky bool) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	return m.record("Distinguish", commentID, fmt.Sprintf("sticky=%v", sticky))
}

func (m *MockClient) Lock(ctx context.Context, postID string) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	return m.record("Lock", postID, "")
}

func (m *MockClient) Remove(ctx context.Context, postID string) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	if err := m.record("Remove", postID, ""); err != nil {
		return err
	}
	if p, ok := m.Posts[postID]; ok {
		p.Status.Removed = true
	}
	return nil
}

func (m *MockClient) TopLevelComments(ctx context.Context, postID string) ([]Comment, error) {
	m.lk.Lock()
	defer m.lk.Unlock()
	if err, ok := m.Fail["TopLevelComments"]; ok && err != nil {
		return nil, err
	}
	out := make([]Comment, len(m.Comments[postID]))
	copy(out, m.Comments[postID])
	return out, nil
}

func wikiKey(subreddit, page string) string {
	return subreddit + "/" + page
}

func (m *MockClient) GetWikiPage(ctx context.Context, subreddit, page string) (*WikiPage, error) {
	m.lk.Lock()
	defer m.lk.Unlock()
	wp, ok := m.Wiki[wikiKey(subreddit, page)]
	if !ok {
		return nil, fmt.Errorf("wiki page %s: %w", wikiKey(subreddit, page), ErrNotFound)
	}
	cp := *wp
	return &cp, nil
}

func (m *MockClient) EditWikiPage(ctx context.Context, subreddit, page, content, reason string) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	if err := m.record("EditWikiPage", wikiKey(subreddit, page), content); err != nil {
		return err
	}
	m.Wiki[wikiKey(subreddit, page)] = &WikiPage{Content: content, RevisionUTC: time.Now().UTC()}
	return nil
}

func (m *MockClient) HideWikiPage(ctx context.Context, subreddit, page string) error {
	m.lk.Lock()
	defer m.lk.Unlock()
	return m.record("HideWikiPage", wikiKey(subreddit, page), "")
}

func (m *MockClient) ModQueueRemovedBy(ctx context.Context, subreddit, moderator string) ([]string, error) {
	m.lk.Lock()
	defer m.lk.Unlock()
	return append([]string{}, m.ModQueue[subreddit]...), nil
}
