package slack

import (
	"context"
	"strings"
	"time"

	"socialtracker/backend/internal/logging"
	"socialtracker/backend/internal/repository"
	"socialtracker/backend/pkg/models"
)

// EventRetention is how long processed event ids are remembered. Slack
// typically retries within minutes, so one hour is a safe window.
const EventRetention = time.Hour

// Deduplicator suppresses duplicate Slack event deliveries. Slack retries
// events whenever the endpoint is slow to acknowledge, and some user
// actions fan out into multiple event types, so the same event id can
// arrive more than once and from more than one process instance.
type Deduplicator struct {
	events repository.EventStore
	logger *logging.Logger
}

// NewDeduplicator creates a new Deduplicator.
func NewDeduplicator(events repository.EventStore, logger *logging.Logger) *Deduplicator {
	return &Deduplicator{events: events, logger: logger}
}

// IsNewEvent reports whether the event id has not been seen within the
// retention window, atomically claiming it if so. It fails open: a missing
// id or a store failure yields true, trading an occasional duplicate run
// for never dropping a legitimate event.
func (d *Deduplicator) IsNewEvent(ctx context.Context, eventID, eventType, teamID string) bool {
	if strings.TrimSpace(eventID) == "" {
		d.logger.Warn("Received empty event ID, processing anyway")
		return true
	}

	event := &models.ProcessedEvent{
		EventID:   eventID,
		FirstSeen: time.Now(),
		EventType: eventType,
		TeamID:    teamID,
	}

	isNew, err := d.events.MarkProcessed(ctx, event, EventRetention)
	if err != nil {
		d.logger.Error("Event deduplication check failed for %s: %v", eventID, err)
		return true
	}

	if !isNew {
		d.logger.Info("Duplicate event detected: %s (type: %s)", eventID, eventType)
	}
	return isNew
}
