package reddit

import (
	"encoding/json"
	"strings"

	"github.com/LZ58840/AnimewallpaperBot/automod/platform"
	"github.com/LZ58840/AnimewallpaperBot/util"
)

type thing struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type listing struct {
	Kind string `json:"kind"`
	Data struct {
		After    string  `json:"after"`
		Children []thing `json:"children"`
	} `json:"data"`
}

type linkData struct {
	ID                string            `json:"id"`
	Subreddit         string            `json:"subreddit"`
	Author            string            `json:"author"`
	Title             string            `json:"title"`
	LinkFlairText     string            `json:"link_flair_text"`
	Permalink         string            `json:"permalink"`
	CreatedUTC        util.EpochSeconds `json:"created_utc"`
	BannedBy          any               `json:"banned_by"`
	ApprovedBy        any               `json:"approved_by"`
	RemovedByCategory string            `json:"removed_by_category"`
}

// banned_by and approved_by are a username, or `true` for spam removals, or null
func moderatedBy(v any) bool {
	switch t := v.(type) {
	case string:
		return t != ""
	case bool:
		return t
	default:
		return false
	}
}

func (l *linkData) post() *platform.Post {
	return &platform.Post{
		ID:         l.ID,
		Subreddit:  l.Subreddit,
		Author:     l.Author,
		Title:      l.Title,
		Flair:      l.LinkFlairText,
		Permalink:  l.Permalink,
		CreatedUTC: l.CreatedUTC.Time(),
		Status: platform.Status{
			Removed:  moderatedBy(l.BannedBy),
			Deleted:  l.RemovedByCategory == "deleted",
			Approved: moderatedBy(l.ApprovedBy),
		},
	}
}

type commentData struct {
	ID         string            `json:"id"`
	Author     string            `json:"author"`
	Body       string            `json:"body"`
	CreatedUTC util.EpochSeconds `json:"created_utc"`
}

type wikiPageData struct {
	ContentMD    string            `json:"content_md"`
	RevisionDate util.EpochSeconds `json:"revision_date"`
}

// response envelope of api_type=json endpoints
type jsonResponse struct {
	JSON jsonBody `json:"json"`
}

type jsonBody struct {
	// each error is [code, message, field]
	Errors [][]string `json:"errors"`
	Data   struct {
		Things []thing `json:"things"`
	} `json:"data"`
}

func (b *jsonBody) errorCode() string {
	if len(b.Errors) == 0 || len(b.Errors[0]) == 0 {
		return ""
	}
	return b.Errors[0][0]
}

func (b *jsonBody) errorMessage() string {
	var parts []string
	for _, e := range b.Errors {
		parts = append(parts, strings.Join(e, ": "))
	}
	return strings.Join(parts, "; ")
}

// Adds the type prefix to an ID, if missing.
func fullname(prefix, id string) string {
	if strings.HasPrefix(id, prefix+"_") {
		return id
	}
	return prefix + "_" + id
}
