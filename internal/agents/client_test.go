package agents

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialtracker/backend/internal/logging"
	"socialtracker/backend/pkg/models"
)

func sidecarReturning(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/complete", r.URL.Path)

		var req CompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req.System)

		resp := CompletionResponse{
			Content:        content,
			ConversationID: "sess-42",
			Model:          req.Model,
			Usage:          models.TokenUsage{PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestCrawlerRunCompleted(t *testing.T) {
	server := sidecarReturning(t, `{"finish_reason":"COMPLETED","final_response":{"fetched_data":[{"platform":"bluesky","author":"alice","text":"redis 8 is out"}],"data_quality_notes":"ok"}}`)
	defer server.Close()

	agent := NewCrawlerAgent(NewHTTPCompletionClient(server.URL, "test-model", 1024), nil, logging.NewLogger())

	result, err := agent.Run(context.Background(), "Search for posts about Redis")
	require.NoError(t, err)
	assert.Equal(t, models.FinishCompleted, result.FinishReason)
	require.NotNil(t, result.Data)
	assert.Len(t, result.Data.Posts, 1)
	assert.Equal(t, 150, result.Usage.TotalTokens)
	assert.Equal(t, "sess-42", result.ConversationID, "sidecar session id is carried when the model sets none")
}

func TestCrawlerRunNeedsMoreInput(t *testing.T) {
	server := sidecarReturning(t, `{"finish_reason":"NEEDS_MORE_INPUT","next_prompt":"Which timeframe?","conversation_id":"model-chose-7"}`)
	defer server.Close()

	agent := NewCrawlerAgent(NewHTTPCompletionClient(server.URL, "test-model", 1024), nil, logging.NewLogger())

	result, err := agent.Run(context.Background(), "Search for posts")
	require.NoError(t, err)
	assert.Equal(t, models.FinishNeedsMoreInput, result.FinishReason)
	assert.Equal(t, "Which timeframe?", result.NextPrompt)
	assert.Equal(t, "model-chose-7", result.ConversationID, "model-provided id wins over the transport id")
}

func TestCrawlerRunSidecarError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	agent := NewCrawlerAgent(NewHTTPCompletionClient(server.URL, "test-model", 1024), nil, logging.NewLogger())

	_, err := agent.Run(context.Background(), "Search for posts")
	assert.Error(t, err)
}

func TestAnalysisRunParsesTopics(t *testing.T) {
	server := sidecarReturning(t, `{"finish_reason":"COMPLETED","timeframe":"last 7 days","topics":[{"topic":"redis","trending":true,"mentions":12,"engagement":340}]}`)
	defer server.Close()

	agent := NewAnalysisAgent(NewHTTPCompletionClient(server.URL, "test-model", 1024))
	crawler := &models.CrawlerResult{Data: &models.FetchedData{}}

	result, err := agent.Run(context.Background(), crawler)
	require.NoError(t, err)
	assert.Equal(t, "last 7 days", result.Timeframe)
	require.Len(t, result.Topics, 1)
	assert.True(t, result.Topics[0].Trending)
}

func TestDecodeResultStripsCodeFence(t *testing.T) {
	fenced := "```json\n{\"finish_reason\":\"COMPLETED\"}\n```"

	var result models.AnalysisResult
	require.NoError(t, decodeResult(fenced, &result))
	assert.Equal(t, models.FinishCompleted, result.FinishReason)
}

func TestDecodeResultRejectsGarbage(t *testing.T) {
	var result models.AnalysisResult
	assert.Error(t, decodeResult("I could not produce JSON, sorry", &result))
}

func TestSearchTerm(t *testing.T) {
	assert.Equal(t, "redis", searchTerm("What is trending about #redis this week?"))
	assert.Equal(t, "discussions", searchTerm("Analyze recent discussions"))
	assert.Equal(t, "", searchTerm(""))
}

type slowCompleter struct{}

func (slowCompleter) Complete(ctx context.Context, _ CompletionRequest) (*CompletionResponse, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(5 * time.Second):
		return &CompletionResponse{Content: "{}"}, nil
	}
}

func TestCrawlerRunHonorsContext(t *testing.T) {
	agent := NewCrawlerAgent(slowCompleter{}, nil, logging.NewLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := agent.Run(ctx, "Search for posts")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
