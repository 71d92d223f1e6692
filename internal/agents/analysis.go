package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"socialtracker/backend/pkg/models"
)

// AnalysisAgent runs the trend-analysis stage over the crawler's dataset.
type AnalysisAgent struct {
	client Completer
}

// NewAnalysisAgent creates a new AnalysisAgent.
func NewAnalysisAgent(client Completer) *AnalysisAgent {
	return &AnalysisAgent{client: client}
}

// Run analyzes the fetched dataset for topics and trends.
func (a *AnalysisAgent) Run(ctx context.Context, crawler *models.CrawlerResult) (*models.AnalysisResult, error) {
	input, err := json.Marshal(crawler.Data)
	if err != nil {
		return nil, fmt.Errorf("analysis stage: failed to encode input: %w", err)
	}

	resp, err := a.client.Complete(ctx, CompletionRequest{
		System: analysisPrompt,
		User:   string(input),
	})
	if err != nil {
		return nil, fmt.Errorf("analysis stage call failed: %w", err)
	}

	var result models.AnalysisResult
	if err := decodeResult(resp.Content, &result); err != nil {
		return nil, fmt.Errorf("analysis stage: %w", err)
	}
	result.Usage = resp.Usage
	return &result, nil
}
