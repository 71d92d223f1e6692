// Package api contains the HTTP handlers for the social tracker service
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/labstack/echo/v4"

	"socialtracker/backend/internal/logging"
	"socialtracker/backend/internal/slack"
)

const helpText = "Mention me with a topic to track, for example: `track #gaming trends this week`."

// mentionPattern matches Slack user mention tokens like <@U012ABCDEF>.
var mentionPattern = regexp.MustCompile(`<@[^>]+>`)

// Processor starts or continues a pipeline run for an inbound message.
type Processor interface {
	Process(teamID, channel, threadTS, userMessage string)
}

// Messenger sends plain text back to a Slack conversation.
type Messenger interface {
	SendMessage(ctx context.Context, teamID, channel, text, threadTS string) (string, error)
}

// EventsServer handles the Slack Events API endpoint. Every request is
// authenticated and deduplicated before anything else runs, and the
// response is sent before the pipeline does any real work so Slack's
// delivery timeout is never hit.
type EventsServer struct {
	verifier  *slack.SignatureVerifier
	dedup     *slack.Deduplicator
	processor Processor
	messenger Messenger
	logger    *logging.Logger
}

// NewEventsServer creates a new EventsServer.
func NewEventsServer(verifier *slack.SignatureVerifier, dedup *slack.Deduplicator, processor Processor, messenger Messenger, logger *logging.Logger) *EventsServer {
	return &EventsServer{
		verifier:  verifier,
		dedup:     dedup,
		processor: processor,
		messenger: messenger,
		logger:    logger,
	}
}

type eventEnvelope struct {
	Type      string     `json:"type"`
	Challenge string     `json:"challenge"`
	TeamID    string     `json:"team_id"`
	EventID   string     `json:"event_id"`
	Event     innerEvent `json:"event"`
}

type innerEvent struct {
	Type        string          `json:"type"`
	Subtype     string          `json:"subtype"`
	User        string          `json:"user"`
	BotID       string          `json:"bot_id"`
	BotProfile  json.RawMessage `json:"bot_profile"`
	Channel     string          `json:"channel"`
	ChannelType string          `json:"channel_type"`
	Text        string          `json:"text"`
	TS          string          `json:"ts"`
	ThreadTS    string          `json:"thread_ts"`
}

// HandleEvents serves POST /slack/events.
// (POST /slack/events)
func (s *EventsServer) HandleEvents(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}

	timestamp := c.Request().Header.Get("X-Slack-Request-Timestamp")
	signature := c.Request().Header.Get("X-Slack-Signature")
	if !s.verifier.Verify(timestamp, signature, string(body)) {
		s.logger.Warn("Rejected Slack request with invalid signature from %s", c.RealIP())
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid request signature")
	}

	var envelope eventEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid event payload")
	}

	switch envelope.Type {
	case "url_verification":
		return c.JSON(http.StatusOK, map[string]string{"challenge": envelope.Challenge})
	case "event_callback":
		s.handleCallback(c.Request().Context(), &envelope)
		return c.JSON(http.StatusOK, map[string]bool{"ok": true})
	default:
		s.logger.Debug("Ignoring Slack envelope of type %q", envelope.Type)
		return c.JSON(http.StatusOK, map[string]bool{"ok": true})
	}
}

// handleCallback routes one deduplicated event. It must return quickly;
// pipeline work happens on the processor's own goroutine.
func (s *EventsServer) handleCallback(ctx context.Context, envelope *eventEnvelope) {
	event := &envelope.Event

	if !s.dedup.IsNewEvent(ctx, envelope.EventID, event.Type, envelope.TeamID) {
		s.logger.Debug("Skipping duplicate Slack event %s", envelope.EventID)
		return
	}

	switch event.Type {
	case "app_mention":
		s.handleMention(ctx, envelope.TeamID, event)
	case "message":
		s.handleMessage(envelope.TeamID, event)
	default:
		s.logger.Debug("Ignoring Slack event of type %q", event.Type)
	}
}

func (s *EventsServer) handleMention(ctx context.Context, teamID string, event *innerEvent) {
	text := strings.TrimSpace(mentionPattern.ReplaceAllString(event.Text, ""))
	thread := event.ThreadTS
	if thread == "" {
		// Reply in a thread under the triggering message.
		thread = event.TS
	}

	if text == "" {
		if _, err := s.messenger.SendMessage(ctx, teamID, event.Channel, helpText, thread); err != nil {
			s.logger.Error("Failed to send help message to %s/%s: %v", teamID, event.Channel, err)
		}
		return
	}

	s.processor.Process(teamID, event.Channel, thread, text)
}

// handleMessage picks up direct messages and thread replies, which is how
// a user answers a clarification question from the pipeline.
func (s *EventsServer) handleMessage(teamID string, event *innerEvent) {
	if event.BotID != "" || len(event.BotProfile) > 0 || event.Subtype != "" || event.User == "" {
		return
	}

	text := strings.TrimSpace(mentionPattern.ReplaceAllString(event.Text, ""))
	if text == "" {
		return
	}

	switch {
	case event.ChannelType == "im":
		s.processor.Process(teamID, event.Channel, event.ThreadTS, text)
	case event.ThreadTS != "":
		s.processor.Process(teamID, event.Channel, event.ThreadTS, text)
	}
}
