package visual

import (
	"context"
	"time"
)

// Read access to stored descriptors.
type CorpusStore interface {
	// descriptors of every image of the submission which has them
	SubmissionDescriptors(ctx context.Context, submissionID string) ([]ImageDescriptors, error)
	// descriptors of images in the community, excluding one submission and any removed or deleted submissions; a zero since means no time window
	CorpusDescriptors(ctx context.Context, subreddit, exceptSubmissionID string, since time.Time) ([]ImageDescriptors, error)
}

type Request struct {
	SubmissionID string  `json:"submission_id"`
	Subreddit    string  `json:"subreddit"`
	Threshold    float64 `json:"threshold"`
	// corpus window, in months before now; zero means all time
	Months int `json:"months"`
}
