// Relational (gorm) implementation of the stores used by the engine, settings loader, similarity dispatcher, and scheduler.
package dbstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/LZ58840/AnimewallpaperBot/automod/consumer"
	"github.com/LZ58840/AnimewallpaperBot/automod/engine"
	"github.com/LZ58840/AnimewallpaperBot/automod/platform"
	"github.com/LZ58840/AnimewallpaperBot/automod/settings"
	"github.com/LZ58840/AnimewallpaperBot/automod/visual"
	"github.com/LZ58840/AnimewallpaperBot/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	_ engine.Store            = (*DBStore)(nil)
	_ settings.Store          = (*DBStore)(nil)
	_ visual.CorpusStore      = (*DBStore)(nil)
	_ consumer.SchedulerStore = (*DBStore)(nil)
)

type DBStore struct {
	DB     *gorm.DB
	Logger *slog.Logger
}

func NewDBStore(db *gorm.DB, logger *slog.Logger) *DBStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &DBStore{
		DB:     db,
		Logger: logger.With("component", "dbstore"),
	}
}

func (s *DBStore) Migrate() error {
	return s.DB.AutoMigrate(models.AllTables()...)
}

func (s *DBStore) GetSubmission(ctx context.Context, id string) (*models.Submission, error) {
	var row models.Submission
	err := s.DB.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *DBStore) SubmissionImages(ctx context.Context, id string) ([]models.Image, error) {
	var images []models.Image
	if err := s.DB.WithContext(ctx).Where("submission_id = ?", id).Order("id").Find(&images).Error; err != nil {
		return nil, err
	}
	return images, nil
}

func (s *DBStore) PriorSubmissions(ctx context.Context, q engine.PriorQuery) ([]models.Submission, error) {
	tx := s.DB.WithContext(ctx).
		Where("subreddit = ? AND author = ? AND id <> ?", q.Subreddit, q.Author, q.ExceptID).
		Where("created_utc >= ? AND created_utc < ?", q.Since.Unix(), q.Before.Unix()).
		Where("removed = ?", false)
	if !q.InclDeleted {
		tx = tx.Where("deleted = ?", false)
	}
	var out []models.Submission
	if err := tx.Order("created_utc").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (s *DBStore) SetStatus(ctx context.Context, id string, st platform.Status) error {
	return s.DB.WithContext(ctx).Model(&models.Submission{}).Where("id = ?", id).Updates(map[string]any{
		"removed":  st.Removed,
		"deleted":  st.Deleted,
		"approved": st.Approved,
	}).Error
}

func (s *DBStore) SetModerated(ctx context.Context, id string, removed bool) error {
	fields := map[string]any{"moderated": true}
	if removed {
		fields["removed"] = true
	}
	res := s.DB.WithContext(ctx).Model(&models.Submission{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("unknown submission: %s", id)
	}
	return nil
}

// Inserts or replaces a submission along with its images. Used by ingestion, and to seed test databases.
func (s *DBStore) SaveSubmission(ctx context.Context, sub models.Submission, images []models.Image) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(&sub).Error; err != nil {
			return err
		}
		for i := range images {
			images[i].SubmissionID = sub.ID
		}
		if len(images) == 0 {
			return nil
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&images).Error
	})
}

func (s *DBStore) GetSubreddit(ctx context.Context, name string) (*models.Subreddit, error) {
	var row models.Subreddit
	err := s.DB.WithContext(ctx).Where("name = ?", name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *DBStore) ListSubreddits(ctx context.Context) ([]models.Subreddit, error) {
	var out []models.Subreddit
	if err := s.DB.WithContext(ctx).Order("name").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Registers a community (with no settings yet); a no-op if it already exists.
func (s *DBStore) AddSubreddit(ctx context.Context, name string) error {
	return s.DB.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&models.Subreddit{Name: name}).Error
}

func (s *DBStore) UpdateSubredditSettings(ctx context.Context, name, settingsJSON string, revisionUTC int64) error {
	res := s.DB.WithContext(ctx).Model(&models.Subreddit{}).Where("name = ?", name).Updates(map[string]any{
		"settings":     settingsJSON,
		"revision_utc": revisionUTC,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("unknown community: %s", name)
	}
	return nil
}

func (s *DBStore) PendingSubmissionIDs(ctx context.Context, since time.Time) ([]string, error) {
	var ids []string
	err := s.DB.WithContext(ctx).Model(&models.Submission{}).
		Where("created_utc >= ? AND deleted = ? AND moderated = ?", since.Unix(), false, false).
		Order("created_utc").
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
