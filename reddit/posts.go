package reddit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/LZ58840/AnimewallpaperBot/automod/platform"
)

func (c *Client) GetPost(ctx context.Context, id string) (*platform.Post, error) {
	var out listing
	if err := c.do(ctx, http.MethodGet, "/api/info", url.Values{"id": {fullname("t3", id)}}, nil, &out); err != nil {
		return nil, err
	}
	for _, child := range out.Data.Children {
		if child.Kind != "t3" {
			continue
		}
		var link linkData
		if err := json.Unmarshal(child.Data, &link); err != nil {
			return nil, fmt.Errorf("decoding submission %s: %w", id, err)
		}
		return link.post(), nil
	}
	return nil, fmt.Errorf("submission %s: %w", id, ErrNotFound)
}

func (c *Client) Reply(ctx context.Context, postID, body string) (string, error) {
	var out jsonResponse
	form := url.Values{"thing_id": {fullname("t3", postID)}, "text": {body}}
	if err := c.post(ctx, "/api/comment", form, &out); err != nil {
		return "", err
	}
	for _, t := range out.JSON.Data.Things {
		var cd commentData
		if err := json.Unmarshal(t.Data, &cd); err == nil && cd.ID != "" {
			return cd.ID, nil
		}
	}
	return "", fmt.Errorf("reply to %s: no comment in response", postID)
}

func (c *Client) Distinguish(ctx context.Context, commentID string, sticky bool) error {
	form := url.Values{"id": {fullname("t1", commentID)}, "how": {"yes"}}
	if sticky {
		form.Set("sticky", "true")
	}
	return c.post(ctx, "/api/distinguish", form, nil)
}

func (c *Client) Lock(ctx context.Context, postID string) error {
	return c.post(ctx, "/api/lock", url.Values{"id": {fullname("t3", postID)}}, nil)
}

func (c *Client) Remove(ctx context.Context, postID string) error {
	return c.post(ctx, "/api/remove", url.Values{"id": {fullname("t3", postID)}, "spam": {"false"}}, nil)
}

// Top-level comments of a submission, newest first. Only the first page of comments is read.
func (c *Client) TopLevelComments(ctx context.Context, postID string) ([]platform.Comment, error) {
	id := strings.TrimPrefix(postID, "t3_")
	query := url.Values{"depth": {"1"}, "limit": {"500"}, "sort": {"new"}}
	var out []listing
	if err := c.do(ctx, http.MethodGet, "/comments/"+id, query, nil, &out); err != nil {
		return nil, err
	}
	// first listing is the submission itself
	if len(out) < 2 {
		return nil, nil
	}
	var comments []platform.Comment
	for _, child := range out[1].Data.Children {
		if child.Kind != "t1" {
			continue
		}
		var cd commentData
		if err := json.Unmarshal(child.Data, &cd); err != nil {
			return nil, fmt.Errorf("decoding comment on %s: %w", postID, err)
		}
		comments = append(comments, platform.Comment{
			ID:         cd.ID,
			Author:     cd.Author,
			Body:       cd.Body,
			CreatedUTC: cd.CreatedUTC.Time(),
		})
	}
	return comments, nil
}

// Submissions in the community's mod queue which were removed by the given moderator account (eg, the platform's filter bot).
func (c *Client) ModQueueRemovedBy(ctx context.Context, subreddit, moderator string) ([]string, error) {
	var ids []string
	after := ""
	for page := 0; page < 10; page++ {
		query := url.Values{"only": {"links"}, "limit": {"100"}}
		if after != "" {
			query.Set("after", after)
		}
		var out listing
		if err := c.do(ctx, http.MethodGet, "/r/"+url.PathEscape(subreddit)+"/about/modqueue", query, nil, &out); err != nil {
			return nil, err
		}
		for _, child := range out.Data.Children {
			if child.Kind != "t3" {
				continue
			}
			var link linkData
			if err := json.Unmarshal(child.Data, &link); err != nil {
				return nil, fmt.Errorf("decoding mod queue of %s: %w", subreddit, err)
			}
			if by, ok := link.BannedBy.(string); ok && strings.EqualFold(by, moderator) {
				ids = append(ids, link.ID)
			}
		}
		if out.Data.After == "" {
			break
		}
		after = out.Data.After
	}
	return ids, nil
}
