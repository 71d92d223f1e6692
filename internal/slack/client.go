package slack

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"socialtracker/backend/internal/logging"
	"socialtracker/backend/internal/repository"
)

// Client talks to the Slack Web API. Message posting resolves the bot
// token per workspace, falling back to the statically configured token for
// single-workspace deployments.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	tokens       repository.TokenStore
	defaultToken string
	logger       *logging.Logger
}

// NewClient creates a new Client.
func NewClient(baseURL, defaultToken string, tokens repository.TokenStore, logger *logging.Logger) *Client {
	return &Client{
		baseURL:      baseURL,
		httpClient:   http.DefaultClient,
		tokens:       tokens,
		defaultToken: defaultToken,
		logger:       logger,
	}
}

type postMessageRequest struct {
	Channel  string `json:"channel"`
	Text     string `json:"text"`
	Mrkdwn   bool   `json:"mrkdwn,omitempty"`
	ThreadTS string `json:"thread_ts,omitempty"`
}

type postMessageResponse struct {
	OK    bool   `json:"ok"`
	TS    string `json:"ts"`
	Error string `json:"error"`
}

// SendMessage posts a plain message, optionally into a thread. Returns the
// timestamp of the posted message for threading.
func (c *Client) SendMessage(ctx context.Context, teamID, channel, text, threadTS string) (string, error) {
	return c.postMessage(ctx, teamID, postMessageRequest{
		Channel:  channel,
		Text:     text,
		ThreadTS: threadTS,
	})
}

// SendMarkdownMessage posts a mrkdwn-formatted message.
func (c *Client) SendMarkdownMessage(ctx context.Context, teamID, channel, markdown, threadTS string) (string, error) {
	return c.postMessage(ctx, teamID, postMessageRequest{
		Channel:  channel,
		Text:     markdown,
		Mrkdwn:   true,
		ThreadTS: threadTS,
	})
}

func (c *Client) postMessage(ctx context.Context, teamID string, payload postMessageRequest) (string, error) {
	token, err := c.botToken(ctx, teamID)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal message payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat.postMessage", bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to post message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to post message: status code %d", resp.StatusCode)
	}

	var result postMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode response body: %w", err)
	}
	if !result.OK {
		return "", fmt.Errorf("slack rejected message: %s", result.Error)
	}

	c.logger.Debug("Message sent to channel %s (thread: %s)", payload.Channel, payload.ThreadTS)
	return result.TS, nil
}

// botToken resolves the workspace bot token, preferring the stored OAuth
// token over the configured default.
func (c *Client) botToken(ctx context.Context, teamID string) (string, error) {
	if teamID != "" && c.tokens != nil {
		token, err := c.tokens.GetByTeam(ctx, teamID)
		if err != nil {
			c.logger.Error("Failed to look up token for team %s: %v", teamID, err)
		} else if token != nil && token.BotAccessToken != "" {
			return token.BotAccessToken, nil
		}
	}
	if c.defaultToken == "" {
		return "", fmt.Errorf("no bot token available for team %q", teamID)
	}
	return c.defaultToken, nil
}
