package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/LZ58840/AnimewallpaperBot/automod/platform"
)

func (c *Client) GetWikiPage(ctx context.Context, subreddit, page string) (*platform.WikiPage, error) {
	var out thing
	path := fmt.Sprintf("/r/%s/wiki/%s", url.PathEscape(subreddit), url.PathEscape(page))
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	if out.Kind != "wikipage" {
		return nil, fmt.Errorf("wiki page %s of %s: %w", page, subreddit, ErrNotFound)
	}
	var wp wikiPageData
	if err := json.Unmarshal(out.Data, &wp); err != nil {
		return nil, fmt.Errorf("decoding wiki page %s of %s: %w", page, subreddit, err)
	}
	return &platform.WikiPage{
		Content:     wp.ContentMD,
		RevisionUTC: wp.RevisionDate.Time(),
	}, nil
}

// Creates or overwrites a wiki page.
func (c *Client) EditWikiPage(ctx context.Context, subreddit, page, content, reason string) error {
	form := url.Values{"page": {page}, "content": {content}, "reason": {reason}}
	return c.post(ctx, "/r/"+url.PathEscape(subreddit)+"/api/wiki/edit", form, nil)
}

func (c *Client) HideWikiPage(ctx context.Context, subreddit, page string) error {
	// permlevel 2: only moderators may edit
	form := url.Values{"permlevel": {"2"}, "listed": {"true"}}
	path := fmt.Sprintf("/r/%s/wiki/settings/%s", url.PathEscape(subreddit), url.PathEscape(page))
	return c.post(ctx, path, form, nil)
}
