package dbstore

import (
	"context"
	"time"

	"github.com/LZ58840/AnimewallpaperBot/automod/visual"

	"gorm.io/gorm"
)

type descriptorRow struct {
	ImageID      uint
	SubmissionID string
	CreatedUTC   int64
	URL          string
	Descriptors  []byte
}

func (s *DBStore) descriptorQuery(ctx context.Context) *gorm.DB {
	return s.DB.WithContext(ctx).Table("images").
		Select("images.id AS image_id, images.submission_id, submissions.created_utc, images.url, images.descriptors").
		Joins("JOIN submissions ON submissions.id = images.submission_id").
		Where("images.descriptors IS NOT NULL")
}

func (s *DBStore) SubmissionDescriptors(ctx context.Context, submissionID string) ([]visual.ImageDescriptors, error) {
	var rows []descriptorRow
	err := s.descriptorQuery(ctx).
		Where("images.submission_id = ?", submissionID).
		Order("images.id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return s.decodeRows(rows), nil
}

func (s *DBStore) CorpusDescriptors(ctx context.Context, subreddit, exceptSubmissionID string, since time.Time) ([]visual.ImageDescriptors, error) {
	tx := s.descriptorQuery(ctx).
		Where("submissions.subreddit = ? AND submissions.id <> ?", subreddit, exceptSubmissionID).
		Where("submissions.removed = ? AND submissions.deleted = ?", false, false)
	if !since.IsZero() {
		tx = tx.Where("submissions.created_utc >= ?", since.Unix())
	}
	var rows []descriptorRow
	if err := tx.Order("images.id").Scan(&rows).Error; err != nil {
		return nil, err
	}
	return s.decodeRows(rows), nil
}

// undecodable blobs are logged and skipped
func (s *DBStore) decodeRows(rows []descriptorRow) []visual.ImageDescriptors {
	out := make([]visual.ImageDescriptors, 0, len(rows))
	for _, r := range rows {
		if len(r.Descriptors) == 0 {
			continue
		}
		d, err := visual.DecodeDescriptors(r.Descriptors)
		if err != nil {
			s.Logger.Warn("skipping image with undecodable descriptors", "image", r.ImageID, "submission", r.SubmissionID, "err", err)
			continue
		}
		out = append(out, visual.ImageDescriptors{
			ImageID:      r.ImageID,
			SubmissionID: r.SubmissionID,
			CreatedUTC:   r.CreatedUTC,
			URL:          r.URL,
			Descriptors:  d,
		})
	}
	return out
}
