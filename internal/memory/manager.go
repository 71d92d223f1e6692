// Package memory manages durable conversation state for multi-turn agent
// pipelines.
package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"socialtracker/backend/internal/logging"
	"socialtracker/backend/internal/repository"
	"socialtracker/backend/pkg/models"
)

// ConversationTTL is how long a conversation survives after its last
// activity, finished or not. Expiry is the leak-prevention policy, not a
// correctness mechanism.
const ConversationTTL = 30 * time.Minute

// Manager is a get-or-create / update façade over the conversation store.
// It owns the composite key derivation; callers never build keys themselves.
type Manager struct {
	store  repository.ConversationStore
	logger *logging.Logger
}

// NewManager creates a new Manager.
func NewManager(store repository.ConversationStore, logger *logging.Logger) *Manager {
	return &Manager{store: store, logger: logger}
}

// Key derives the composite conversation key from the routing coordinates.
func Key(teamID, channel, threadTS string) string {
	return fmt.Sprintf("%s:%s:%s", teamID, channel, threadTS)
}

// GetOrCreate returns the live conversation for the routing coordinates,
// refreshing its activity timestamp, or persists and returns a fresh one at
// the first stage. The store hides expired records, so a stale hit starts
// over cleanly.
func (m *Manager) GetOrCreate(ctx context.Context, teamID, channel, threadTS string) (*models.ConversationState, error) {
	key := Key(teamID, channel, threadTS)

	state, err := m.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if state != nil {
		state.Touch()
		if err := m.store.Put(ctx, state, ConversationTTL); err != nil {
			return nil, err
		}
		m.logger.Info("Continuing existing conversation: %s", state.ConversationID)
		return state, nil
	}

	state = models.NewConversationState(key, uuid.New().String(), teamID, channel, threadTS)
	if err := m.store.Put(ctx, state, ConversationTTL); err != nil {
		return nil, err
	}
	m.logger.Info("Created new conversation: %s", state.ConversationID)
	return state, nil
}

// Update refreshes the activity timestamp and persists the full record,
// unconditionally overwriting the stored version. Last writer wins; single
// writer per conversation is assumed in steady state.
func (m *Manager) Update(ctx context.Context, state *models.ConversationState) error {
	state.Touch()
	return m.store.Put(ctx, state, ConversationTTL)
}
