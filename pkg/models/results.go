package models

import "time"

// FinishReason signals how an agent call ended.
type FinishReason string

const (
	FinishCompleted      FinishReason = "COMPLETED"
	FinishNeedsMoreInput FinishReason = "NEEDS_MORE_INPUT"
	FinishError          FinishReason = "ERROR"
)

// TokenUsage records the token cost of a single agent call.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// FetchedPost is one normalized social media post collected by the crawler.
type FetchedPost struct {
	Platform  string    `json:"platform"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	URL       string    `json:"url"`
	PostedAt  time.Time `json:"posted_at"`
	Likes     int       `json:"likes"`
	Reposts   int       `json:"reposts"`
	Replies   int       `json:"replies"`
	Sentiment string    `json:"sentiment"`
}

// FetchedData is the crawler's structured payload.
type FetchedData struct {
	SearchParameters map[string]string `json:"search_parameters"`
	Posts            []FetchedPost     `json:"fetched_data"`
	DataQualityNotes string            `json:"data_quality_notes"`
}

// CrawlerResult is the outcome of the data-fetching stage. It is the only
// stage result that can suspend the pipeline (NEEDS_MORE_INPUT) while the
// agent waits for the user to narrow the request.
type CrawlerResult struct {
	FinishReason   FinishReason `json:"finish_reason"`
	NextPrompt     string       `json:"next_prompt,omitempty"`
	ConversationID string       `json:"conversation_id,omitempty"`
	Data           *FetchedData `json:"final_response,omitempty"`
	Usage          TokenUsage   `json:"usage"`
}

// TopicTrend is one topic identified by the analysis stage.
type TopicTrend struct {
	Topic      string         `json:"topic"`
	Trending   bool           `json:"trending"`
	Mentions   int            `json:"mentions"`
	Engagement int            `json:"engagement"`
	Sentiment  map[string]int `json:"sentiment"`
	Sources    []string       `json:"sources"`
}

// AnalysisResult is the outcome of the trend-analysis stage.
type AnalysisResult struct {
	FinishReason FinishReason `json:"finish_reason"`
	Timeframe    string       `json:"timeframe"`
	Topics       []TopicTrend `json:"topics"`
	Usage        TokenUsage   `json:"usage"`
}

// Evidence backs a single insight with concrete numbers and sources.
type Evidence struct {
	Topic              string         `json:"topic"`
	Engagement         int            `json:"engagement"`
	SentimentBreakdown map[string]int `json:"sentiment_breakdown"`
	Platforms          []string       `json:"platforms"`
	SourceURLs         []string       `json:"source_urls"`
}

// Insight is one statement derived from the analyzed data.
type Insight struct {
	Statement string   `json:"statement"`
	Evidence  Evidence `json:"evidence"`
}

// InsightSet groups insights by analytical category.
type InsightSet struct {
	Descriptive  []Insight `json:"descriptive"`
	Diagnostic   []Insight `json:"diagnostic"`
	Predictive   []Insight `json:"predictive"`
	Prescriptive []Insight `json:"prescriptive"`
}

// InsightResult is the outcome of the insight-generation stage.
type InsightResult struct {
	FinishReason FinishReason `json:"finish_reason"`
	Timeframe    string       `json:"timeframe"`
	Insights     InsightSet   `json:"insights"`
	Usage        TokenUsage   `json:"usage"`
}

// ReportSection is one heading plus body of the final report.
type ReportSection struct {
	Heading string `json:"heading"`
	Body    string `json:"body"`
}

// Report is the final artifact assembled for delivery.
type Report struct {
	Title           string          `json:"title"`
	Summary         string          `json:"summary"`
	Sections        []ReportSection `json:"sections"`
	Recommendations []string        `json:"recommendations"`
}

// ReportResult is the outcome of the report-writing stage.
type ReportResult struct {
	FinishReason FinishReason `json:"finish_reason"`
	Timeframe    string       `json:"timeframe"`
	Report       *Report      `json:"report,omitempty"`
	Usage        TokenUsage   `json:"usage"`
}
