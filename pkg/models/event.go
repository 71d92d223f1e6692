package models

import "time"

// ProcessedEvent marks a Slack event id that has already been handled.
// Slack delivers events at least once (network retries, overlapping event
// types for the same action), so records are kept for one hour — longer
// than any realistic retry window — and then expired by the store.
type ProcessedEvent struct {
	EventID   string    `json:"event_id"`
	FirstSeen time.Time `json:"first_seen"`
	EventType string    `json:"event_type"`
	TeamID    string    `json:"team_id"`
}
