package engine

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func testNotification() Notification {
	return Notification{
		Kind:       NotifyRemoved,
		Submission: &Submission{ID: "abc1", Subreddit: "Animewallpaper", Author: "someone", Title: "A wallpaper"},
		Decision:   &Decision{Action: ActionRemove, Fragments: []string{"\n\n- x"}},
		CommentID:  "c1",
	}
}

func TestSlackNotifier(t *testing.T) {
	assert := assert.New(t)

	var got SlackWebhookBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		json.Unmarshal(b, &got)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	n := &SlackNotifier{SlackWebhookURL: srv.URL}
	assert.NoError(n.SendDecision(context.Background(), testNotification()))
	assert.True(strings.HasPrefix(got.Text, "🧹 Submission Removed 🧹\n"))
	assert.Contains(got.Text, "<https://redd.it/abc1|post>")
	assert.Contains(got.Text, "Comment: `c1`")

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	n = &SlackNotifier{SlackWebhookURL: bad.URL}
	assert.Error(n.SendDecision(context.Background(), testNotification()))
}

func TestDiscordNotifier(t *testing.T) {
	assert := assert.New(t)

	var got DiscordWebhookBody
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		json.Unmarshal(b, &got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := &DiscordNotifier{WebhookURL: srv.URL, Username: "awb"}
	note := testNotification()
	note.Kind = NotifyWarned
	note.Decision = &Decision{Action: ActionClear, WarningRules: []string{"RepostAny"}, Warnings: []string{"\n\n- looks like a repost"}}
	assert.NoError(n.SendDecision(context.Background(), note))
	assert.Equal("awb", got.Username)
	assert.Contains(got.Content, "[post](<https://redd.it/abc1>)")
	assert.Contains(got.Content, "Warnings: `RepostAny`")
	assert.Contains(got.Content, "- looks like a repost")
}
