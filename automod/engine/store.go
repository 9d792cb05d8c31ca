package engine

import (
	"context"
	"time"

	"github.com/LZ58840/AnimewallpaperBot/automod/platform"
	"github.com/LZ58840/AnimewallpaperBot/automod/settings"
	"github.com/LZ58840/AnimewallpaperBot/models"
)

// Filter for earlier submissions by the same author in the same community.
type PriorQuery struct {
	Subreddit string
	Author    string
	ExceptID  string
	// inclusive lower and exclusive upper bound on creation time
	Since  time.Time
	Before time.Time
	// also count submissions the author deleted
	InclDeleted bool
}

// Persistence the engine depends on. Only SetStatus and SetModerated write.
type Store interface {
	// Returns nil (and no error) if the submission has not been ingested yet.
	GetSubmission(ctx context.Context, id string) (*models.Submission, error)
	SubmissionImages(ctx context.Context, id string) ([]models.Image, error)
	// Non-removed prior submissions matching the query, oldest first.
	PriorSubmissions(ctx context.Context, q PriorQuery) ([]models.Submission, error)
	SetStatus(ctx context.Context, id string, st platform.Status) error
	// Marks a submission as moderated. removed also sets the removed status flag.
	SetModerated(ctx context.Context, id string, removed bool) error
}

type SettingsLoader interface {
	Load(ctx context.Context, subreddit string) (*settings.Settings, error)
}

// Everything rules get to look at about one submission. Assembled once per evaluation and never mutated.
type Submission struct {
	ID         string
	Subreddit  string
	Author     string
	Title      string
	Flair      string
	Permalink  string
	CreatedUTC time.Time
	Status     platform.Status
	Moderated  bool
	Images     []models.Image
}

func NewSubmission(post *platform.Post, row *models.Submission, images []models.Image) *Submission {
	s := &Submission{
		ID:         post.ID,
		Subreddit:  post.Subreddit,
		Author:     post.Author,
		Title:      post.Title,
		Flair:      post.Flair,
		Permalink:  post.Permalink,
		CreatedUTC: post.CreatedUTC,
		Status:     post.Status,
		Images:     images,
	}
	if row != nil {
		s.Moderated = row.Moderated
		if s.Subreddit == "" {
			s.Subreddit = row.Subreddit
		}
		if s.Author == "" {
			s.Author = row.Author
		}
		if s.CreatedUTC.IsZero() {
			s.CreatedUTC = time.Unix(row.CreatedUTC, 0).UTC()
		}
	}
	return s
}
