package orchestrator

import (
	"context"

	"socialtracker/backend/internal/logging"
	"socialtracker/backend/pkg/models"
)

// RunningLister finds conversations a previous process instance left
// flagged running.
type RunningLister interface {
	ListRunning(ctx context.Context) ([]*models.ConversationState, error)
}

// Resumer re-enters an interrupted conversation.
type Resumer interface {
	Resume(state *models.ConversationState)
}

// Sweeper scans for conversations interrupted by a crash or restart and
// hands them back to the orchestrator. It runs once, right after the
// process is ready to serve.
type Sweeper struct {
	lister  RunningLister
	states  StateManager
	resumer Resumer
	logger  *logging.Logger
}

// NewSweeper creates a Sweeper.
func NewSweeper(lister RunningLister, states StateManager, resumer Resumer, logger *logging.Logger) *Sweeper {
	return &Sweeper{
		lister:  lister,
		states:  states,
		resumer: resumer,
		logger:  logger,
	}
}

// Sweep resumes every recoverable running conversation. Conversations
// still at the first stage cannot be resumed because the triggering user
// message is gone; those are marked not running so they do not loop
// through recovery forever. A failure on one conversation never aborts
// the sweep for the rest.
func (s *Sweeper) Sweep(ctx context.Context) error {
	running, err := s.lister.ListRunning(ctx)
	if err != nil {
		return err
	}
	if len(running) == 0 {
		s.logger.Info("Recovery sweep found no interrupted conversations")
		return nil
	}

	s.logger.Info("Recovery sweep found %d interrupted conversation(s)", len(running))
	for _, state := range running {
		s.recoverOne(ctx, state)
	}
	return nil
}

func (s *Sweeper) recoverOne(ctx context.Context, state *models.ConversationState) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovering conversation %s: %v", state.Key, r)
		}
	}()

	if state.Stage == models.StageCrawler {
		s.logger.Warn("Conversation %s was interrupted at stage %s, cannot resume without user input", state.Key, state.Stage)
		state.Running = false
		if err := s.states.Update(ctx, state); err != nil {
			s.logger.Error("Failed to mark conversation %s not running: %v", state.Key, err)
		}
		return
	}

	s.resumer.Resume(state)
}
