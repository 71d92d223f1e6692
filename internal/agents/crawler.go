package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"socialtracker/backend/internal/logging"
	"socialtracker/backend/pkg/models"
)

const (
	// contextLookback bounds how far back raw posts are fetched for the
	// crawler's context block.
	contextLookback = 7 * 24 * time.Hour
	contextPostCap  = 100
)

// CrawlerAgent runs the data-fetching stage. It prefetches raw posts from
// the configured post source and hands them to the model for filtering,
// normalization and sentiment labeling. This is the only stage that can
// suspend on NEEDS_MORE_INPUT while the user narrows the request.
type CrawlerAgent struct {
	client Completer
	posts  PostSource
	logger *logging.Logger
}

// NewCrawlerAgent creates a new CrawlerAgent. posts may be nil, in which
// case the sidecar works from the request text alone.
func NewCrawlerAgent(client Completer, posts PostSource, logger *logging.Logger) *CrawlerAgent {
	return &CrawlerAgent{client: client, posts: posts, logger: logger}
}

// Run starts a fresh crawl for a user request.
func (a *CrawlerAgent) Run(ctx context.Context, userMessage string) (*models.CrawlerResult, error) {
	return a.send(ctx, userMessage, "")
}

// Continue feeds a follow-up answer into the sidecar session that asked
// for clarification.
func (a *CrawlerAgent) Continue(ctx context.Context, userMessage, conversationID string) (*models.CrawlerResult, error) {
	return a.send(ctx, userMessage, conversationID)
}

func (a *CrawlerAgent) send(ctx context.Context, userMessage, conversationID string) (*models.CrawlerResult, error) {
	user := userMessage
	if block := a.contextBlock(ctx, userMessage); block != "" {
		user = userMessage + "\n\nCONTEXT\n" + block
	}

	resp, err := a.client.Complete(ctx, CompletionRequest{
		System:         crawlerPrompt,
		User:           user,
		ConversationID: conversationID,
	})
	if err != nil {
		return nil, fmt.Errorf("crawler stage call failed: %w", err)
	}

	var result models.CrawlerResult
	if err := decodeResult(resp.Content, &result); err != nil {
		return nil, fmt.Errorf("crawler stage: %w", err)
	}
	result.Usage = resp.Usage
	if result.ConversationID == "" {
		result.ConversationID = resp.ConversationID
	}
	return &result, nil
}

// contextBlock fetches recent raw posts matching the request and renders
// them as a JSON block for the model. Failure to fetch is not fatal: the
// stage proceeds on the request text alone.
func (a *CrawlerAgent) contextBlock(ctx context.Context, userMessage string) string {
	if a.posts == nil {
		return ""
	}

	query := searchTerm(userMessage)
	if query == "" {
		return ""
	}

	posts, err := a.posts.SearchPosts(ctx, query, time.Now().Add(-contextLookback), contextPostCap)
	if err != nil {
		a.logger.Warn("Post prefetch for %q failed: %v", query, err)
		return ""
	}
	if len(posts) == 0 {
		return ""
	}

	data, err := json.Marshal(posts)
	if err != nil {
		a.logger.Warn("Failed to encode prefetched posts: %v", err)
		return ""
	}
	return string(data)
}

// searchTerm picks the post-search query from the user message: the first
// hashtag if present, otherwise the longest word. Crude, but the model
// filters aggressively downstream.
func searchTerm(message string) string {
	longest := ""
	for _, field := range strings.Fields(message) {
		word := strings.Trim(field, ".,!?:;\"'()")
		if strings.HasPrefix(word, "#") && len(word) > 1 {
			return strings.TrimPrefix(word, "#")
		}
		if len(word) > len(longest) {
			longest = word
		}
	}
	return longest
}
