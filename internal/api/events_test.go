package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialtracker/backend/internal/logging"
	"socialtracker/backend/internal/repository"
	"socialtracker/backend/internal/slack"
	"socialtracker/backend/pkg/models"
)

const testSecret = "8f742231b10e8888abcd99yyyzzz85a5"

type memoryEventStore struct {
	mu   sync.Mutex
	seen map[string]bool
}

func newMemoryEventStore() *memoryEventStore {
	return &memoryEventStore{seen: map[string]bool{}}
}

func (m *memoryEventStore) MarkProcessed(ctx context.Context, event *models.ProcessedEvent, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[event.EventID] {
		return false, nil
	}
	m.seen[event.EventID] = true
	return true, nil
}

func (m *memoryEventStore) DeleteExpired(ctx context.Context) (int64, error) {
	return 0, nil
}

var _ repository.EventStore = (*memoryEventStore)(nil)

type recordingProcessor struct {
	mu    sync.Mutex
	calls []string
}

func (r *recordingProcessor) Process(teamID, channel, threadTS, userMessage string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, fmt.Sprintf("%s|%s|%s|%s", teamID, channel, threadTS, userMessage))
}

func (r *recordingProcessor) processed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type recordingMessenger struct {
	mu    sync.Mutex
	texts []string
}

func (r *recordingMessenger) SendMessage(ctx context.Context, teamID, channel, text, threadTS string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return "1.2", nil
}

func newTestServer() (*EventsServer, *recordingProcessor, *recordingMessenger, *slack.SignatureVerifier) {
	logger := logging.NewLogger()
	verifier := slack.NewSignatureVerifier(testSecret, logger)
	dedup := slack.NewDeduplicator(newMemoryEventStore(), logger)
	processor := &recordingProcessor{}
	messenger := &recordingMessenger{}
	return NewEventsServer(verifier, dedup, processor, messenger, logger), processor, messenger, verifier
}

func postEvent(t *testing.T, s *EventsServer, verifier *slack.SignatureVerifier, body string, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if sign {
		ts := fmt.Sprintf("%d", time.Now().Unix())
		req.Header.Set("X-Slack-Request-Timestamp", ts)
		req.Header.Set("X-Slack-Signature", verifier.ComputeSignature(ts, body))
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := s.HandleEvents(c)
	if err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func mentionEvent(eventID, text string) string {
	return fmt.Sprintf(`{
		"type": "event_callback",
		"team_id": "T1",
		"event_id": %q,
		"event": {
			"type": "app_mention",
			"user": "U1",
			"channel": "C1",
			"text": %q,
			"ts": "1000.100"
		}
	}`, eventID, text)
}

func TestHandleEventsURLVerification(t *testing.T) {
	s, processor, _, verifier := newTestServer()

	rec := postEvent(t, s, verifier, `{"type":"url_verification","challenge":"abc123"}`, true)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "abc123", resp["challenge"])
	assert.Empty(t, processor.processed())
}

func TestHandleEventsRejectsUnsignedRequest(t *testing.T) {
	s, processor, _, verifier := newTestServer()

	rec := postEvent(t, s, verifier, mentionEvent("Ev1", "<@UBOT> track #golang"), false)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, processor.processed())
}

func TestHandleEventsRejectsTamperedBody(t *testing.T) {
	s, processor, _, verifier := newTestServer()
	body := mentionEvent("Ev1", "<@UBOT> track #golang")

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/slack/events", strings.NewReader(body+" "))
	ts := fmt.Sprintf("%d", time.Now().Unix())
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", verifier.ComputeSignature(ts, body))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := s.HandleEvents(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, processor.processed())
}

func TestHandleEventsMentionStartsPipeline(t *testing.T) {
	s, processor, _, verifier := newTestServer()

	rec := postEvent(t, s, verifier, mentionEvent("Ev1", "<@UBOT> track #golang trends"), true)

	require.Equal(t, http.StatusOK, rec.Code)
	calls := processor.processed()
	require.Len(t, calls, 1)
	// Mention token stripped, reply threaded under the triggering message.
	assert.Equal(t, "T1|C1|1000.100|track #golang trends", calls[0])
}

func TestHandleEventsDuplicateIsAcknowledgedOnce(t *testing.T) {
	s, processor, _, verifier := newTestServer()
	body := mentionEvent("Ev1", "<@UBOT> track #golang")

	first := postEvent(t, s, verifier, body, true)
	second := postEvent(t, s, verifier, body, true)

	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Len(t, processor.processed(), 1)
}

func TestHandleEventsEmptyMentionGetsHelp(t *testing.T) {
	s, processor, messenger, verifier := newTestServer()

	rec := postEvent(t, s, verifier, mentionEvent("Ev1", "<@UBOT>"), true)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, processor.processed())
	messenger.mu.Lock()
	defer messenger.mu.Unlock()
	require.Len(t, messenger.texts, 1)
	assert.Contains(t, messenger.texts[0], "Mention me")
}

func TestHandleEventsDirectMessage(t *testing.T) {
	s, processor, _, verifier := newTestServer()
	body := `{
		"type": "event_callback",
		"team_id": "T1",
		"event_id": "Ev2",
		"event": {
			"type": "message",
			"user": "U1",
			"channel": "D1",
			"channel_type": "im",
			"text": "just bluesky please",
			"ts": "2000.100"
		}
	}`

	rec := postEvent(t, s, verifier, body, true)

	require.Equal(t, http.StatusOK, rec.Code)
	calls := processor.processed()
	require.Len(t, calls, 1)
	assert.Equal(t, "T1|D1||just bluesky please", calls[0])
}

func TestHandleEventsIgnoresBotAndChannelChatter(t *testing.T) {
	s, processor, _, verifier := newTestServer()

	botMessage := `{
		"type": "event_callback",
		"team_id": "T1",
		"event_id": "Ev3",
		"event": {"type": "message", "bot_id": "B1", "channel": "C1", "channel_type": "im", "text": "hi", "ts": "1.1"}
	}`
	plainChannelMessage := `{
		"type": "event_callback",
		"team_id": "T1",
		"event_id": "Ev4",
		"event": {"type": "message", "user": "U1", "channel": "C1", "channel_type": "channel", "text": "unrelated", "ts": "1.2"}
	}`

	postEvent(t, s, verifier, botMessage, true)
	postEvent(t, s, verifier, plainChannelMessage, true)

	assert.Empty(t, processor.processed())
}

func TestHandleEventsThreadReplyContinuesConversation(t *testing.T) {
	s, processor, _, verifier := newTestServer()
	body := `{
		"type": "event_callback",
		"team_id": "T1",
		"event_id": "Ev5",
		"event": {"type": "message", "user": "U1", "channel": "C1", "channel_type": "channel", "text": "narrow it to gaming", "ts": "3000.2", "thread_ts": "1000.100"}
	}`

	postEvent(t, s, verifier, body, true)

	calls := processor.processed()
	require.Len(t, calls, 1)
	assert.Equal(t, "T1|C1|1000.100|narrow it to gaming", calls[0])
}
