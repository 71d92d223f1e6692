package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"socialtracker/backend/pkg/models"
)

// Schema creates the tables used by the service. Safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS conversations (
	key             TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	stage           TEXT NOT NULL,
	running         BOOLEAN NOT NULL DEFAULT FALSE,
	team_id         TEXT NOT NULL,
	channel         TEXT NOT NULL,
	thread_ts       TEXT NOT NULL DEFAULT '',
	last_activity   TIMESTAMPTZ NOT NULL,
	expires_at      TIMESTAMPTZ NOT NULL,
	crawler_result  JSONB,
	analysis_result JSONB,
	insight_result  JSONB,
	report_result   JSONB
);
CREATE INDEX IF NOT EXISTS conversations_running_idx ON conversations (running) WHERE running;

CREATE TABLE IF NOT EXISTS processed_events (
	event_id   TEXT PRIMARY KEY,
	first_seen TIMESTAMPTZ NOT NULL,
	event_type TEXT NOT NULL,
	team_id    TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS slack_tokens (
	team_id           TEXT PRIMARY KEY,
	team_name         TEXT NOT NULL DEFAULT '',
	bot_user_id       TEXT NOT NULL DEFAULT '',
	bot_access_token  TEXT NOT NULL,
	user_access_token TEXT NOT NULL DEFAULT '',
	scope             TEXT NOT NULL DEFAULT '',
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL
);
`

// Migrate applies the schema to the connected database.
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// PostgresConversationStore is a PostgreSQL implementation of the
// ConversationStore interface.
type PostgresConversationStore struct {
	db *pgxpool.Pool
}

// NewPostgresConversationStore creates a new PostgresConversationStore.
func NewPostgresConversationStore(db *pgxpool.Pool) *PostgresConversationStore {
	return &PostgresConversationStore{db: db}
}

const conversationColumns = `key, conversation_id, stage, running, team_id, channel, thread_ts,
	last_activity, crawler_result, analysis_result, insight_result, report_result`

// Get retrieves a live conversation record. Expired rows are treated as a miss.
func (s *PostgresConversationStore) Get(ctx context.Context, key string) (*models.ConversationState, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE key = $1 AND expires_at > now()`, key)
	state, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation %s: %w", key, err)
	}
	return state, nil
}

// Put persists the full record, last writer wins.
func (s *PostgresConversationStore) Put(ctx context.Context, state *models.ConversationState, ttl time.Duration) error {
	crawler, err := marshalResult(state.Crawler)
	if err != nil {
		return err
	}
	analysis, err := marshalResult(state.Analysis)
	if err != nil {
		return err
	}
	insight, err := marshalResult(state.Insight)
	if err != nil {
		return err
	}
	report, err := marshalResult(state.Report)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO conversations (key, conversation_id, stage, running, team_id, channel, thread_ts,
			last_activity, expires_at, crawler_result, analysis_result, insight_result, report_result)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (key) DO UPDATE SET
			conversation_id = EXCLUDED.conversation_id,
			stage = EXCLUDED.stage,
			running = EXCLUDED.running,
			team_id = EXCLUDED.team_id,
			channel = EXCLUDED.channel,
			thread_ts = EXCLUDED.thread_ts,
			last_activity = EXCLUDED.last_activity,
			expires_at = EXCLUDED.expires_at,
			crawler_result = EXCLUDED.crawler_result,
			analysis_result = EXCLUDED.analysis_result,
			insight_result = EXCLUDED.insight_result,
			report_result = EXCLUDED.report_result`,
		state.Key, state.ConversationID, string(state.Stage), state.Running,
		state.TeamID, state.Channel, state.ThreadTS,
		state.LastActivity, state.LastActivity.Add(ttl),
		crawler, analysis, insight, report)
	if err != nil {
		return fmt.Errorf("failed to save conversation %s: %w", state.Key, err)
	}
	return nil
}

// ListRunning returns all live conversations flagged running.
func (s *PostgresConversationStore) ListRunning(ctx context.Context) ([]*models.ConversationState, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE running AND expires_at > now()`)
	if err != nil {
		return nil, fmt.Errorf("failed to list running conversations: %w", err)
	}
	defer rows.Close()

	var states []*models.ConversationState
	for rows.Next() {
		state, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

// DeleteExpired purges conversations past their expiry.
func (s *PostgresConversationStore) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM conversations WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired conversations: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanConversation(row pgx.Row) (*models.ConversationState, error) {
	var (
		state    models.ConversationState
		stage    string
		crawler  []byte
		analysis []byte
		insight  []byte
		report   []byte
	)
	err := row.Scan(&state.Key, &state.ConversationID, &stage, &state.Running,
		&state.TeamID, &state.Channel, &state.ThreadTS, &state.LastActivity,
		&crawler, &analysis, &insight, &report)
	if err != nil {
		return nil, err
	}
	state.Stage = models.Stage(stage)

	if err := unmarshalResult(crawler, &state.Crawler); err != nil {
		return nil, err
	}
	if err := unmarshalResult(analysis, &state.Analysis); err != nil {
		return nil, err
	}
	if err := unmarshalResult(insight, &state.Insight); err != nil {
		return nil, err
	}
	if err := unmarshalResult(report, &state.Report); err != nil {
		return nil, err
	}
	return &state, nil
}

func marshalResult(v any) ([]byte, error) {
	if v == nil || isNilPointer(v) {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode stage result: %w", err)
	}
	return data, nil
}

func isNilPointer(v any) bool {
	switch p := v.(type) {
	case *models.CrawlerResult:
		return p == nil
	case *models.AnalysisResult:
		return p == nil
	case *models.InsightResult:
		return p == nil
	case *models.ReportResult:
		return p == nil
	}
	return false
}

func unmarshalResult[T any](data []byte, dst **T) error {
	if len(data) == 0 {
		return nil
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode stage result: %w", err)
	}
	*dst = out
	return nil
}

// PostgresEventStore is a PostgreSQL implementation of the EventStore interface.
type PostgresEventStore struct {
	db *pgxpool.Pool
}

// NewPostgresEventStore creates a new PostgresEventStore.
func NewPostgresEventStore(db *pgxpool.Pool) *PostgresEventStore {
	return &PostgresEventStore{db: db}
}

// MarkProcessed inserts the event id if absent. The insert-or-nothing is a
// single statement, so concurrent deliveries of the same id resolve to
// exactly one winner. An expired row does not block a fresh claim.
func (s *PostgresEventStore) MarkProcessed(ctx context.Context, event *models.ProcessedEvent, ttl time.Duration) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		INSERT INTO processed_events (event_id, first_seen, event_type, team_id, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO UPDATE SET
			first_seen = EXCLUDED.first_seen,
			event_type = EXCLUDED.event_type,
			team_id = EXCLUDED.team_id,
			expires_at = EXCLUDED.expires_at
		WHERE processed_events.expires_at <= now()`,
		event.EventID, event.FirstSeen, event.EventType, event.TeamID, event.FirstSeen.Add(ttl))
	if err != nil {
		return false, fmt.Errorf("failed to record event %s: %w", event.EventID, err)
	}
	return tag.RowsAffected() > 0, nil
}

// DeleteExpired purges event records past their expiry.
func (s *PostgresEventStore) DeleteExpired(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM processed_events WHERE expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired events: %w", err)
	}
	return tag.RowsAffected(), nil
}

// PostgresTokenStore is a PostgreSQL implementation of the TokenStore interface.
type PostgresTokenStore struct {
	db *pgxpool.Pool
}

// NewPostgresTokenStore creates a new PostgresTokenStore.
func NewPostgresTokenStore(db *pgxpool.Pool) *PostgresTokenStore {
	return &PostgresTokenStore{db: db}
}

// GetByTeam retrieves the token record for a workspace.
func (s *PostgresTokenStore) GetByTeam(ctx context.Context, teamID string) (*models.SlackToken, error) {
	var token models.SlackToken
	err := s.db.QueryRow(ctx, `
		SELECT team_id, team_name, bot_user_id, bot_access_token, user_access_token, scope, created_at, updated_at
		FROM slack_tokens WHERE team_id = $1`, teamID).
		Scan(&token.TeamID, &token.TeamName, &token.BotUserID, &token.BotAccessToken,
			&token.UserAccessToken, &token.Scope, &token.CreatedAt, &token.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load token for team %s: %w", teamID, err)
	}
	return &token, nil
}

// Save creates or updates a workspace token record.
func (s *PostgresTokenStore) Save(ctx context.Context, token *models.SlackToken) error {
	now := time.Now()
	if token.CreatedAt.IsZero() {
		token.CreatedAt = now
	}
	token.UpdatedAt = now

	_, err := s.db.Exec(ctx, `
		INSERT INTO slack_tokens (team_id, team_name, bot_user_id, bot_access_token, user_access_token, scope, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (team_id) DO UPDATE SET
			team_name = EXCLUDED.team_name,
			bot_user_id = EXCLUDED.bot_user_id,
			bot_access_token = EXCLUDED.bot_access_token,
			user_access_token = EXCLUDED.user_access_token,
			scope = EXCLUDED.scope,
			updated_at = EXCLUDED.updated_at`,
		token.TeamID, token.TeamName, token.BotUserID, token.BotAccessToken,
		token.UserAccessToken, token.Scope, token.CreatedAt, token.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save token for team %s: %w", token.TeamID, err)
	}
	return nil
}
