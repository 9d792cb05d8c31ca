package dbstore

import (
	"context"
	"testing"
	"time"

	"github.com/LZ58840/AnimewallpaperBot/automod/engine"
	"github.com/LZ58840/AnimewallpaperBot/automod/platform"
	"github.com/LZ58840/AnimewallpaperBot/automod/settings"
	"github.com/LZ58840/AnimewallpaperBot/automod/visual"
	"github.com/LZ58840/AnimewallpaperBot/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func testStore(t *testing.T) *DBStore {
	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{
		SkipDefaultTransaction: true,
		TranslateError:         true,
	})
	require.NoError(t, err)
	sqldb, err := db.DB()
	require.NoError(t, err)
	// every connection to an in-memory sqlite database gets its own database
	sqldb.SetMaxOpenConns(1)
	t.Cleanup(func() { sqldb.Close() })

	s := NewDBStore(db, nil)
	require.NoError(t, s.Migrate())
	return s
}

func testDescriptors(t *testing.T, offset float32) []byte {
	rows := make([][]float32, 40)
	for i := range rows {
		row := make([]float32, 8)
		for j := range row {
			row[j] = float32((i*7+j*13)%31) + float32(i) + offset
		}
		rows[i] = row
	}
	d, err := visual.NewDescriptors(rows)
	require.NoError(t, err)
	return visual.EncodeDescriptors(d)
}

func TestSubmissions(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := testStore(t)

	row, err := s.GetSubmission(ctx, "missing")
	assert.NoError(err)
	assert.Nil(row)

	sub := models.Submission{ID: "abc", Subreddit: "Animewallpaper", Author: "someone", CreatedUTC: 1700000000}
	assert.NoError(s.SaveSubmission(ctx, sub, []models.Image{
		{ID: 2, URL: "https://i.redd.it/b.png", Width: 1080, Height: 1920},
		{ID: 1, URL: "https://i.redd.it/a.png", Width: 1920, Height: 1080},
	}))

	row, err = s.GetSubmission(ctx, "abc")
	assert.NoError(err)
	assert.Equal("someone", row.Author)
	assert.False(row.Moderated)

	images, err := s.SubmissionImages(ctx, "abc")
	assert.NoError(err)
	assert.Equal(2, len(images))
	assert.Equal(uint(1), images[0].ID)
	assert.Equal("abc", images[0].SubmissionID)
	assert.Equal(1920, images[0].Width)

	assert.NoError(s.SetStatus(ctx, "abc", platform.Status{Approved: true}))
	row, _ = s.GetSubmission(ctx, "abc")
	assert.True(row.Approved)
	assert.False(row.Removed)

	assert.NoError(s.SetModerated(ctx, "abc", true))
	row, _ = s.GetSubmission(ctx, "abc")
	assert.True(row.Moderated)
	assert.True(row.Removed)

	assert.Error(s.SetModerated(ctx, "missing", false))
}

func TestPriorSubmissions(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := testStore(t)

	now := time.Unix(1700000000, 0)
	seed := []models.Submission{
		{ID: "cur", Author: "a", CreatedUTC: now.Unix()},
		{ID: "p1", Author: "a", CreatedUTC: now.Add(-30 * time.Minute).Unix()},
		{ID: "p2", Author: "a", CreatedUTC: now.Add(-50 * time.Minute).Unix()},
		{ID: "old", Author: "a", CreatedUTC: now.Add(-2 * time.Hour).Unix()},
		{ID: "removed", Author: "a", CreatedUTC: now.Add(-10 * time.Minute).Unix(), Removed: true},
		{ID: "deleted", Author: "a", CreatedUTC: now.Add(-20 * time.Minute).Unix(), Deleted: true},
		{ID: "other", Author: "b", CreatedUTC: now.Add(-10 * time.Minute).Unix()},
		{ID: "later", Author: "a", CreatedUTC: now.Add(10 * time.Minute).Unix()},
	}
	for _, sub := range seed {
		sub.Subreddit = "Animewallpaper"
		require.NoError(t, s.SaveSubmission(ctx, sub, nil))
	}

	q := engine.PriorQuery{
		Subreddit: "Animewallpaper",
		Author:    "a",
		ExceptID:  "cur",
		Since:     now.Add(-time.Hour),
		Before:    now,
	}
	prior, err := s.PriorSubmissions(ctx, q)
	assert.NoError(err)
	var ids []string
	for _, p := range prior {
		ids = append(ids, p.ID)
	}
	assert.Equal([]string{"p2", "p1"}, ids)

	q.InclDeleted = true
	prior, err = s.PriorSubmissions(ctx, q)
	assert.NoError(err)
	assert.Equal(3, len(prior))
	assert.Equal("deleted", prior[2].ID)
}

func TestPendingSubmissionIDs(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := testStore(t)

	now := time.Unix(1700000000, 0)
	require.NoError(t, s.SaveSubmission(ctx, models.Submission{ID: "new", CreatedUTC: now.Unix()}, nil))
	require.NoError(t, s.SaveSubmission(ctx, models.Submission{ID: "older", CreatedUTC: now.Add(-time.Hour).Unix()}, nil))
	require.NoError(t, s.SaveSubmission(ctx, models.Submission{ID: "stale", CreatedUTC: now.Add(-72 * time.Hour).Unix()}, nil))
	require.NoError(t, s.SaveSubmission(ctx, models.Submission{ID: "gone", CreatedUTC: now.Unix(), Deleted: true}, nil))
	require.NoError(t, s.SaveSubmission(ctx, models.Submission{ID: "done", CreatedUTC: now.Unix(), Moderated: true}, nil))

	ids, err := s.PendingSubmissionIDs(ctx, now.Add(-48*time.Hour))
	assert.NoError(err)
	assert.Equal([]string{"older", "new"}, ids)
}

func TestSubredditSettings(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := testStore(t)

	sub, err := s.GetSubreddit(ctx, "Animewallpaper")
	assert.NoError(err)
	assert.Nil(sub)
	assert.Error(s.UpdateSubredditSettings(ctx, "Animewallpaper", "{}", 1))

	assert.NoError(s.AddSubreddit(ctx, "Animewallpaper"))
	assert.NoError(s.AddSubreddit(ctx, "Animewallpaper"))
	assert.NoError(s.AddSubreddit(ctx, "Moescape"))
	subs, err := s.ListSubreddits(ctx)
	assert.NoError(err)
	assert.Equal(2, len(subs))
	assert.Equal("Animewallpaper", subs[0].Name)
	assert.Nil(subs[0].RevisionUTC)

	// loader falls back to defaults while nothing is stored
	loader := settings.NewLoader(s, nil)
	st, err := loader.Load(ctx, "Animewallpaper")
	assert.NoError(err)
	assert.Equal(settings.Defaults(), st)

	assert.NoError(s.UpdateSubredditSettings(ctx, "Animewallpaper", `{"enabled": false}`, 1700000000))
	sub, err = s.GetSubreddit(ctx, "Animewallpaper")
	assert.NoError(err)
	assert.Equal(int64(1700000000), *sub.RevisionUTC)
	st, err = loader.Load(ctx, "Animewallpaper")
	assert.NoError(err)
	assert.False(st.Enabled)
}

func TestCorpusDescriptors(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := testStore(t)

	now := time.Unix(1700000000, 0)
	blob := testDescriptors(t, 0)
	seed := []struct {
		sub    models.Submission
		images []models.Image
	}{
		{models.Submission{ID: "q", CreatedUTC: now.Unix()}, []models.Image{{ID: 1, Descriptors: blob}, {ID: 2}}},
		{models.Submission{ID: "recent", CreatedUTC: now.Add(-24 * time.Hour).Unix()}, []models.Image{{ID: 3, Descriptors: blob, URL: "https://i.redd.it/r.png"}}},
		{models.Submission{ID: "ancient", CreatedUTC: now.AddDate(-1, 0, 0).Unix()}, []models.Image{{ID: 4, Descriptors: blob}}},
		{models.Submission{ID: "removed", CreatedUTC: now.Unix(), Removed: true}, []models.Image{{ID: 5, Descriptors: blob}}},
		{models.Submission{ID: "corrupt", CreatedUTC: now.Unix()}, []models.Image{{ID: 6, Descriptors: []byte("junk")}}},
		{models.Submission{ID: "elsewhere", Subreddit: "Moescape", CreatedUTC: now.Unix()}, []models.Image{{ID: 7, Descriptors: blob}}},
	}
	for _, row := range seed {
		if row.sub.Subreddit == "" {
			row.sub.Subreddit = "Animewallpaper"
		}
		require.NoError(t, s.SaveSubmission(ctx, row.sub, row.images))
	}

	query, err := s.SubmissionDescriptors(ctx, "q")
	assert.NoError(err)
	assert.Equal(1, len(query))
	assert.Equal(uint(1), query[0].ImageID)
	assert.Equal(40, query[0].Descriptors.Len())

	corpus, err := s.CorpusDescriptors(ctx, "Animewallpaper", "q", time.Time{})
	assert.NoError(err)
	var ids []uint
	for _, c := range corpus {
		ids = append(ids, c.ImageID)
	}
	assert.Equal([]uint{3, 4}, ids)
	assert.Equal("recent", corpus[0].SubmissionID)
	assert.Equal(now.Add(-24*time.Hour).Unix(), corpus[0].CreatedUTC)
	assert.Equal("https://i.redd.it/r.png", corpus[0].URL)

	corpus, err = s.CorpusDescriptors(ctx, "Animewallpaper", "q", now.AddDate(0, -6, 0))
	assert.NoError(err)
	assert.Equal(1, len(corpus))
	assert.Equal(uint(3), corpus[0].ImageID)
}

func TestDispatcherOverStore(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := testStore(t)

	now := time.Now()
	blob := testDescriptors(t, 0)
	require.NoError(t, s.SaveSubmission(ctx, models.Submission{ID: "orig", Subreddit: "Animewallpaper", CreatedUTC: now.Add(-time.Hour).Unix()}, []models.Image{{ID: 1, Descriptors: blob}}))
	require.NoError(t, s.SaveSubmission(ctx, models.Submission{ID: "other", Subreddit: "Animewallpaper", CreatedUTC: now.Add(-time.Hour).Unix()}, []models.Image{{ID: 2, Descriptors: testDescriptors(t, 1000)}}))
	require.NoError(t, s.SaveSubmission(ctx, models.Submission{ID: "copy", Subreddit: "Animewallpaper", CreatedUTC: now.Unix()}, []models.Image{{ID: 3, Descriptors: blob}}))

	d := visual.NewDispatcher(s, nil, 1)
	matches, err := d.Similarity(ctx, visual.Request{SubmissionID: "copy", Subreddit: "Animewallpaper", Months: 1})
	assert.NoError(err)
	assert.Equal(1, len(matches[3]))
	assert.Equal("orig", matches[3][0].SubmissionID)
	assert.Greater(matches[3][0].Score, visual.DefaultThreshold)
}
