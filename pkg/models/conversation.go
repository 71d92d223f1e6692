// Package models defines the domain models for the social tracker service
package models

import (
	"fmt"
	"time"
)

// Stage identifies one step of the agent pipeline.
type Stage string

const (
	StageCrawler   Stage = "CRAWLER"
	StageAnalysis  Stage = "ANALYSIS"
	StageInsight   Stage = "INSIGHT"
	StageReport    Stage = "REPORT"
	StageCompleted Stage = "COMPLETED"
)

// stageOrder fixes the pipeline sequence. A conversation only ever moves
// to higher ranks, never back.
var stageOrder = map[Stage]int{
	StageCrawler:   0,
	StageAnalysis:  1,
	StageInsight:   2,
	StageReport:    3,
	StageCompleted: 4,
}

// Rank returns the ordinal position of the stage in the pipeline.
// Unknown stages rank below the first stage.
func (s Stage) Rank() int {
	rank, ok := stageOrder[s]
	if !ok {
		return -1
	}
	return rank
}

// Next returns the stage that follows s in the pipeline.
func (s Stage) Next() (Stage, error) {
	switch s {
	case StageCrawler:
		return StageAnalysis, nil
	case StageAnalysis:
		return StageInsight, nil
	case StageInsight:
		return StageReport, nil
	case StageReport:
		return StageCompleted, nil
	default:
		return s, fmt.Errorf("stage %q has no successor", s)
	}
}

// ConversationState is the persisted progress of one pipeline run for a
// single Slack conversation. The Key is derived from the routing
// coordinates and stays stable for the lifetime of one user request, so
// retried events and thread replies land on the same record.
type ConversationState struct {
	// Key is "{team}:{channel}:{thread-or-empty}".
	Key string `json:"key"`

	// ConversationID correlates with the upstream chat session of the
	// crawler agent when that agent asked for clarification. It is a
	// fresh UUID until the crawler hands back its own session id.
	ConversationID string `json:"conversation_id"`

	Stage Stage `json:"stage"`

	// Running marks an orchestration pass that is executing or queued
	// but not yet confirmed terminal. It is the crash-recovery marker:
	// records still flagged running at startup are resumed by the
	// recovery sweep.
	Running bool `json:"running"`

	TeamID   string `json:"team_id"`
	Channel  string `json:"channel"`
	ThreadTS string `json:"thread_ts"`

	LastActivity time.Time `json:"last_activity"`

	// One slot per completed stage, appended as stages finish and never
	// overwritten afterwards.
	Crawler  *CrawlerResult  `json:"crawler_result,omitempty"`
	Analysis *AnalysisResult `json:"analysis_result,omitempty"`
	Insight  *InsightResult  `json:"insight_result,omitempty"`
	Report   *ReportResult   `json:"report_result,omitempty"`
}

// NewConversationState creates a fresh record at the first stage.
func NewConversationState(key, conversationID, teamID, channel, threadTS string) *ConversationState {
	return &ConversationState{
		Key:            key,
		ConversationID: conversationID,
		Stage:          StageCrawler,
		TeamID:         teamID,
		Channel:        channel,
		ThreadTS:       threadTS,
		LastActivity:   time.Now(),
	}
}

// Touch refreshes the activity timestamp.
func (c *ConversationState) Touch() {
	c.LastActivity = time.Now()
}

// TotalTokens sums the token usage of every completed stage.
func (c *ConversationState) TotalTokens() int {
	total := 0
	if c.Crawler != nil {
		total += c.Crawler.Usage.TotalTokens
	}
	if c.Analysis != nil {
		total += c.Analysis.Usage.TotalTokens
	}
	if c.Insight != nil {
		total += c.Insight.Usage.TotalTokens
	}
	if c.Report != nil {
		total += c.Report.Usage.TotalTokens
	}
	return total
}
