package rules

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/LZ58840/AnimewallpaperBot/automod/engine"
	"github.com/LZ58840/AnimewallpaperBot/automod/platform"
	"github.com/LZ58840/AnimewallpaperBot/automod/settings"
	"github.com/LZ58840/AnimewallpaperBot/models"

	"github.com/stretchr/testify/require"
)

type ruleFixture struct {
	eng    *engine.Engine
	store  *engine.MemStore
	client *platform.MockClient
	st     *settings.Settings
	n      int
}

func newRuleFixture(t *testing.T, rawSettings string) *ruleFixture {
	st, err := settings.Parse([]byte(rawSettings))
	require.NoError(t, err)
	eng, store, client := engine.EngineTestFixture(DefaultRules(), st)
	return &ruleFixture{eng: eng, store: store, client: client, st: st}
}

// Registers a submission (with images numbered 1..n) on the platform mock and in the store, and returns its snapshot.
func (f *ruleFixture) submission(title string, created time.Time, images ...models.Image) *engine.Submission {
	f.n++
	id := fmt.Sprintf("sub%d", f.n)
	for i := range images {
		images[i].ID = uint(f.n*100 + i + 1)
		if images[i].URL == "" {
			images[i].URL = fmt.Sprintf("https://i.example/%s/%d.png", id, i+1)
		}
	}
	post := platform.Post{
		ID:         id,
		Subreddit:  "Animewallpaper",
		Author:     "someone",
		Title:      title,
		CreatedUTC: created,
	}
	engine.AddTestSubmission(f.store, f.client, post, images...)
	row, _ := f.store.GetSubmission(context.Background(), id)
	return engine.NewSubmission(&post, row, images)
}

func (f *ruleFixture) eval(sub *engine.Submission) *engine.Decision {
	return f.eng.Evaluate(context.Background(), sub, f.st)
}

func img(w, h int) models.Image {
	return models.Image{Width: w, Height: h}
}

func errorRules(d *engine.Decision) []string {
	var out []string
	for _, e := range d.Errors {
		out = append(out, e.Rule)
	}
	return out
}

func mustParse(t *testing.T, raw string) *settings.Settings {
	st, err := settings.Parse([]byte(raw))
	require.NoError(t, err)
	return st
}
