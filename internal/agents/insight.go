package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"socialtracker/backend/pkg/models"
)

// InsightAgent runs the insight-generation stage over the crawler and
// analysis output.
type InsightAgent struct {
	client Completer
}

// NewInsightAgent creates a new InsightAgent.
func NewInsightAgent(client Completer) *InsightAgent {
	return &InsightAgent{client: client}
}

// Run derives insights from the accumulated prior-stage results.
func (a *InsightAgent) Run(ctx context.Context, crawler *models.CrawlerResult, analysis *models.AnalysisResult) (*models.InsightResult, error) {
	input, err := json.Marshal(map[string]any{
		"dataset":  crawler.Data,
		"analysis": analysis,
	})
	if err != nil {
		return nil, fmt.Errorf("insight stage: failed to encode input: %w", err)
	}

	resp, err := a.client.Complete(ctx, CompletionRequest{
		System: insightPrompt,
		User:   string(input),
	})
	if err != nil {
		return nil, fmt.Errorf("insight stage call failed: %w", err)
	}

	var result models.InsightResult
	if err := decodeResult(resp.Content, &result); err != nil {
		return nil, fmt.Errorf("insight stage: %w", err)
	}
	result.Usage = resp.Usage
	return &result, nil
}
