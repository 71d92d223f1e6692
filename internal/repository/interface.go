package repository

import (
	"context"
	"time"

	"socialtracker/backend/pkg/models"
)

// ConversationStore is durable keyed storage for conversation state.
// Row removal is the store's job: expired records are invisible to Get
// and purged by DeleteExpired.
type ConversationStore interface {
	// Get retrieves the state for a composite key. Returns (nil, nil)
	// when no live record exists.
	Get(ctx context.Context, key string) (*models.ConversationState, error)
	// Put persists the full record, overwriting any stored version, and
	// pushes the expiry out by ttl from now.
	Put(ctx context.Context, state *models.ConversationState, ttl time.Duration) error
	// ListRunning returns all live records flagged running, for the
	// startup recovery sweep.
	ListRunning(ctx context.Context) ([]*models.ConversationState, error)
	// DeleteExpired purges records past their expiry.
	DeleteExpired(ctx context.Context) (int64, error)
}

// EventStore remembers processed Slack event ids for deduplication.
type EventStore interface {
	// MarkProcessed atomically records the event if it has not been seen
	// within the retention window. Returns true when the event is new.
	// The check-and-set must hold across concurrent callers.
	MarkProcessed(ctx context.Context, event *models.ProcessedEvent, ttl time.Duration) (bool, error)
	// DeleteExpired purges records past their expiry.
	DeleteExpired(ctx context.Context) (int64, error)
}

// TokenStore persists per-workspace Slack OAuth tokens.
type TokenStore interface {
	// GetByTeam retrieves the token record for a workspace. Returns
	// (nil, nil) when the workspace has not installed the app.
	GetByTeam(ctx context.Context, teamID string) (*models.SlackToken, error)
	// Save creates or updates a workspace token record.
	Save(ctx context.Context, token *models.SlackToken) error
}
