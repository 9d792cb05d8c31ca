// Contract between the moderation engine and the social platform hosting the community.
//
// The engine, rules, and consumer only depend on the interfaces here. The production implementation lives in the top-level `reddit` package; `MockClient` is an in-process implementation for tests.
package platform

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("platform: not found")

// Moderation status of a submission, as reported by the platform.
type Status struct {
	Removed  bool
	Deleted  bool
	Approved bool
}

// true if any human or automation has already acted on the submission
func (s Status) Acted() bool {
	return s.Removed || s.Deleted || s.Approved
}

type Post struct {
	ID         string
	Subreddit  string
	Author     string
	Title      string
	Flair      string
	Permalink  string
	CreatedUTC time.Time
	Status     Status
}

type Comment struct {
	ID         string
	Author     string
	Body       string
	CreatedUTC time.Time
}

type WikiPage struct {
	Content     string
	RevisionUTC time.Time
}

// Operations the engine needs on individual submissions.
type Client interface {
	GetPost(ctx context.Context, id string) (*Post, error)
	// Replies to a submission, returning the new comment ID.
	Reply(ctx context.Context, postID, body string) (string, error)
	Distinguish(ctx context.Context, commentID string, sticky bool) error
	Lock(ctx context.Context, postID string) error
	Remove(ctx context.Context, postID string) error
	TopLevelComments(ctx context.Context, postID string) ([]Comment, error)
}

// Operations used by the settings refresher.
type WikiClient interface {
	GetWikiPage(ctx context.Context, subreddit, page string) (*WikiPage, error)
	EditWikiPage(ctx context.Context, subreddit, page, content, reason string) error
	// Restricts editing of the page to moderators.
	HideWikiPage(ctx context.Context, subreddit, page string) error
}

// Operations used by the scheduler to find submissions caught by the platform filter.
type Lister interface {
	// IDs of submissions in the mod queue which were removed by the named moderator account.
	ModQueueRemovedBy(ctx context.Context, subreddit, moderator string) ([]string, error)
}

// Reports whether an error from a platform call is worth retrying later (rate limits, server errors, timeouts).
type TransientError interface {
	Transient() bool
}

func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var te TransientError
	if errors.As(err, &te) {
		return te.Transient()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	return false
}
