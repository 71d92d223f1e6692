package agents

import (
	"context"
	"encoding/json"
	"fmt"

	"socialtracker/backend/pkg/models"
)

// ReportAgent runs the terminal report-writing stage.
type ReportAgent struct {
	client Completer
}

// NewReportAgent creates a new ReportAgent.
func NewReportAgent(client Completer) *ReportAgent {
	return &ReportAgent{client: client}
}

// Run assembles the final report from all accumulated stage results.
func (a *ReportAgent) Run(ctx context.Context, crawler *models.CrawlerResult, analysis *models.AnalysisResult, insight *models.InsightResult) (*models.ReportResult, error) {
	input, err := json.Marshal(map[string]any{
		"dataset":  crawler.Data,
		"analysis": analysis,
		"insights": insight,
	})
	if err != nil {
		return nil, fmt.Errorf("report stage: failed to encode input: %w", err)
	}

	resp, err := a.client.Complete(ctx, CompletionRequest{
		System: reportPrompt,
		User:   string(input),
	})
	if err != nil {
		return nil, fmt.Errorf("report stage call failed: %w", err)
	}

	var result models.ReportResult
	if err := decodeResult(resp.Content, &result); err != nil {
		return nil, fmt.Errorf("report stage: %w", err)
	}
	result.Usage = resp.Usage
	return &result, nil
}
