// Package bluesky queries the Bluesky AT Protocol API for posts.
package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"socialtracker/backend/internal/logging"
	"socialtracker/backend/pkg/models"
)

// tokenLifetime is how long a session token is reused before a fresh
// createSession call. Bluesky access JWTs last longer; refreshing early
// avoids racing their expiry.
const tokenLifetime = 90 * time.Minute

// Client authenticates against Bluesky and searches posts. Safe for
// concurrent use; the session token is cached and refreshed lazily.
type Client struct {
	apiURL     string
	username   string
	password   string
	httpClient *http.Client
	logger     *logging.Logger

	mu           sync.Mutex
	token        string
	tokenFetched time.Time
}

// NewClient creates a new Client.
func NewClient(apiURL, username, password string, logger *logging.Logger) *Client {
	return &Client{
		apiURL:     apiURL,
		username:   username,
		password:   password,
		httpClient: http.DefaultClient,
		logger:     logger,
	}
}

type sessionResponse struct {
	AccessJWT string `json:"accessJwt"`
	Handle    string `json:"handle"`
}

type searchResponse struct {
	Cursor string `json:"cursor"`
	Posts  []struct {
		URI    string `json:"uri"`
		Author struct {
			Handle string `json:"handle"`
		} `json:"author"`
		Record struct {
			Text      string    `json:"text"`
			CreatedAt time.Time `json:"createdAt"`
		} `json:"record"`
		LikeCount   int `json:"likeCount"`
		RepostCount int `json:"repostCount"`
		ReplyCount  int `json:"replyCount"`
	} `json:"posts"`
}

// SearchPosts returns posts matching the query since the given time, at
// most limit of them, normalized for the pipeline.
func (c *Client) SearchPosts(ctx context.Context, query string, since time.Time, limit int) ([]models.FetchedPost, error) {
	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	var collected []models.FetchedPost
	cursor := ""
	for len(collected) < limit {
		page, err := c.searchPage(ctx, token, query, since, cursor)
		if err != nil {
			return nil, err
		}

		for _, post := range page.Posts {
			if post.Record.CreatedAt.Before(since) {
				continue
			}
			collected = append(collected, models.FetchedPost{
				Platform: "bluesky",
				Author:   post.Author.Handle,
				Text:     post.Record.Text,
				URL:      postURL(post.URI, post.Author.Handle),
				PostedAt: post.Record.CreatedAt,
				Likes:    post.LikeCount,
				Reposts:  post.RepostCount,
				Replies:  post.ReplyCount,
			})
			if len(collected) == limit {
				break
			}
		}

		if page.Cursor == "" || len(page.Posts) == 0 {
			break
		}
		cursor = page.Cursor
	}

	c.logger.Debug("Fetched %d Bluesky posts for %q", len(collected), query)
	return collected, nil
}

func (c *Client) searchPage(ctx context.Context, token, query string, since time.Time, cursor string) (*searchResponse, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("limit", strconv.Itoa(100))
	params.Set("since", since.UTC().Format(time.RFC3339))
	if cursor != "" {
		params.Set("cursor", cursor)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.apiURL+"/app.bsky.feed.searchPosts?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create search request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search posts: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to search posts: status code %d", resp.StatusCode)
	}

	var page searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	return &page, nil
}

// accessToken returns a cached session token, creating a session when the
// cache is cold or stale.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Since(c.tokenFetched) < tokenLifetime {
		return c.token, nil
	}

	body, err := json.Marshal(map[string]string{
		"identifier": c.username,
		"password":   c.password,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.apiURL+"/com.atproto.server.createSession", bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to create session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to create session: status code %d", resp.StatusCode)
	}

	var session sessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", fmt.Errorf("failed to decode session response: %w", err)
	}

	c.token = session.AccessJWT
	c.tokenFetched = time.Now()
	c.logger.Debug("Authenticated with Bluesky as %s", session.Handle)
	return c.token, nil
}

// postURL turns an AT URI into a public web link.
// at://did:plc:xyz/app.bsky.feed.post/rkey -> https://bsky.app/profile/{handle}/post/{rkey}
func postURL(atURI, handle string) string {
	parts := strings.Split(atURI, "/")
	if len(parts) == 0 {
		return atURI
	}
	rkey := parts[len(parts)-1]
	return fmt.Sprintf("https://bsky.app/profile/%s/post/%s", handle, rkey)
}
