package models

// Per-community record. Settings holds the normalized JSON settings document read from the
// community wiki.
type Subreddit struct {
	Name        string `gorm:"primaryKey;size:64"`
	Settings    string
	LatestUTC   *int64
	RevisionUTC *int64
}

func (Subreddit) TableName() string {
	return "subreddits"
}

type Submission struct {
	ID         string `gorm:"primaryKey;size:32"`
	Subreddit  string `gorm:"size:64;index:idx_submission_author"`
	Author     string `gorm:"size:64;index:idx_submission_author"`
	CreatedUTC int64  `gorm:"index"`
	Removed    bool
	Deleted    bool
	Approved   bool
	// set only by the moderation engine, once a full rule pass removed or cleared the submission
	Moderated bool
}

func (Submission) TableName() string {
	return "submissions"
}

// Images are immutable once ingested. Descriptors is an encoded descriptor set (see
// automod/visual), nil when extraction failed.
type Image struct {
	ID           uint   `gorm:"primaryKey"`
	SubmissionID string `gorm:"size:32;index"`
	URL          string
	Width        int
	Height       int
	Descriptors  []byte
}

func (Image) TableName() string {
	return "images"
}

// All tables, in dependency order, for AutoMigrate.
func AllTables() []any {
	return []any{&Subreddit{}, &Submission{}, &Image{}}
}
