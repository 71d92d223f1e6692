// Package agents holds the clients for the four pipeline stages. Each
// stage is one call to the completion sidecar that returns structured
// JSON; the agents here own prompt construction and response decoding,
// not the reasoning itself.
package agents

import (
	"context"
	"time"

	"socialtracker/backend/pkg/models"
)

// Completer is the transport to the completion sidecar.
type Completer interface {
	// Complete sends one prompt and returns the raw structured response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// CompletionRequest is a single completion call.
type CompletionRequest struct {
	Model string `json:"model,omitempty"`

	// System is the stage's role prompt.
	System string `json:"system"`

	// User is the stage input: raw user text for the crawler, accumulated
	// prior-stage output for the rest.
	User string `json:"user"`

	// ConversationID continues an existing sidecar chat session. Empty
	// starts a fresh one.
	ConversationID string `json:"conversation_id,omitempty"`

	MaxTokens int `json:"max_tokens,omitempty"`
}

// CompletionResponse is the sidecar's reply.
type CompletionResponse struct {
	// Content is the model output, expected to be a JSON document in the
	// stage's result schema.
	Content string `json:"content"`

	ConversationID string `json:"conversation_id"`

	Model string `json:"model"`

	Usage models.TokenUsage `json:"usage"`
}

// PostSource supplies raw social media posts as crawler context.
type PostSource interface {
	SearchPosts(ctx context.Context, query string, since time.Time, limit int) ([]models.FetchedPost, error)
}
