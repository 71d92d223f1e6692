package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"socialtracker/backend/internal/logging"
	"socialtracker/backend/pkg/models"
)

type fakeStates struct {
	mu      sync.Mutex
	state   *models.ConversationState
	history []models.Stage
	updates int
	failOn  int
}

func (f *fakeStates) GetOrCreate(ctx context.Context, teamID, channel, threadTS string) (*models.ConversationState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == nil {
		key := fmt.Sprintf("%s:%s:%s", teamID, channel, threadTS)
		f.state = models.NewConversationState(key, "conv-1", teamID, channel, threadTS)
	}
	return f.state, nil
}

func (f *fakeStates) Update(ctx context.Context, state *models.ConversationState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.failOn != 0 && f.updates == f.failOn {
		return fmt.Errorf("store unavailable")
	}
	f.state = state
	f.history = append(f.history, state.Stage)
	return nil
}

func (f *fakeStates) snapshot() (models.ConversationState, []models.Stage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == nil {
		// Polled before the orchestrator goroutine created the state.
		return models.ConversationState{}, nil
	}
	return *f.state, append([]models.Stage(nil), f.history...)
}

type fakeNotifier struct {
	mu        sync.Mutex
	messages  []string
	markdowns []string
}

func (f *fakeNotifier) SendMessage(ctx context.Context, teamID, channel, text, threadTS string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	return "1234.5678", nil
}

func (f *fakeNotifier) SendMarkdownMessage(ctx context.Context, teamID, channel, markdown, threadTS string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.markdowns = append(f.markdowns, markdown)
	return "1234.5678", nil
}

func (f *fakeNotifier) sent() ([]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...), append([]string(nil), f.markdowns...)
}

type fakeCrawler struct {
	mu        sync.Mutex
	result    *models.CrawlerResult
	err       error
	panicMsg  string
	runs      int
	continues []string
}

func (f *fakeCrawler) Run(ctx context.Context, userMessage string) (*models.CrawlerResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	f.runs++
	return f.result, f.err
}

func (f *fakeCrawler) Continue(ctx context.Context, userMessage, conversationID string) (*models.CrawlerResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.continues = append(f.continues, conversationID)
	return f.result, f.err
}

type fakeAnalyzer struct {
	mu     sync.Mutex
	result *models.AnalysisResult
	err    error
	calls  int
}

func (f *fakeAnalyzer) Run(ctx context.Context, crawler *models.CrawlerResult) (*models.AnalysisResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = f.calls + 1
	return f.result, f.err
}

type fakeInsights struct {
	result *models.InsightResult
	err    error
}

func (f *fakeInsights) Run(ctx context.Context, crawler *models.CrawlerResult, analysis *models.AnalysisResult) (*models.InsightResult, error) {
	return f.result, f.err
}

type fakeReporter struct {
	result *models.ReportResult
	err    error
}

func (f *fakeReporter) Run(ctx context.Context, crawler *models.CrawlerResult, analysis *models.AnalysisResult, insight *models.InsightResult) (*models.ReportResult, error) {
	return f.result, f.err
}

func completedCrawl() *models.CrawlerResult {
	return &models.CrawlerResult{
		FinishReason: models.FinishCompleted,
		Data: &models.FetchedData{
			Posts: []models.FetchedPost{{Platform: "bluesky", Text: "hello"}},
		},
		Usage: models.TokenUsage{TotalTokens: 100},
	}
}

func fullStack(crawler *fakeCrawler, analyzer *fakeAnalyzer, states *fakeStates, notifier *fakeNotifier) *Orchestrator {
	insights := &fakeInsights{result: &models.InsightResult{
		FinishReason: models.FinishCompleted,
		Usage:        models.TokenUsage{TotalTokens: 300},
	}}
	reporter := &fakeReporter{result: &models.ReportResult{
		FinishReason: models.FinishCompleted,
		Report:       &models.Report{Title: "Weekly Trends", Summary: "A calm week."},
		Usage:        models.TokenUsage{TotalTokens: 400},
	}}
	return New(states, crawler, analyzer, insights, reporter, notifier, time.Minute, logging.NewLogger())
}

func TestProcessRunsFullPipeline(t *testing.T) {
	states := &fakeStates{}
	notifier := &fakeNotifier{}
	crawler := &fakeCrawler{result: completedCrawl()}
	analyzer := &fakeAnalyzer{result: &models.AnalysisResult{
		FinishReason: models.FinishCompleted,
		Usage:        models.TokenUsage{TotalTokens: 200},
	}}

	o := fullStack(crawler, analyzer, states, notifier)
	o.Process("T1", "C1", "111.222", "track #golang this week")

	require.Eventually(t, func() bool {
		state, _ := states.snapshot()
		return state.Stage == models.StageCompleted && !state.Running
	}, 2*time.Second, 10*time.Millisecond)

	state, history := states.snapshot()
	assert.NotNil(t, state.Crawler)
	assert.NotNil(t, state.Analysis)
	assert.NotNil(t, state.Insight)
	assert.NotNil(t, state.Report)
	assert.Equal(t, 1000, state.TotalTokens())

	// Stage never regresses across persisted states.
	for i := 1; i < len(history); i++ {
		assert.GreaterOrEqual(t, history[i].Rank(), history[i-1].Rank())
	}

	messages, markdowns := notifier.sent()
	require.NotEmpty(t, markdowns)
	assert.Contains(t, markdowns[0], "# Weekly Trends")
	require.Len(t, messages, 2)
	assert.Equal(t, startNotice, messages[0])
	assert.Contains(t, messages[1], "1000")
}

func TestProcessCrawlerSuspension(t *testing.T) {
	states := &fakeStates{}
	notifier := &fakeNotifier{}
	crawler := &fakeCrawler{result: &models.CrawlerResult{
		FinishReason:   models.FinishNeedsMoreInput,
		NextPrompt:     "Which platform should I search?",
		ConversationID: "upstream-42",
	}}
	analyzer := &fakeAnalyzer{}

	o := fullStack(crawler, analyzer, states, notifier)
	o.Process("T1", "C1", "", "track stuff")

	require.Eventually(t, func() bool {
		state, _ := states.snapshot()
		return !state.Running && state.ConversationID == "upstream-42"
	}, 2*time.Second, 10*time.Millisecond)

	state, _ := states.snapshot()
	assert.Equal(t, models.StageCrawler, state.Stage)
	messages, _ := notifier.sent()
	require.Len(t, messages, 2)
	assert.Equal(t, startNotice, messages[0])
	assert.Equal(t, "Which platform should I search?", messages[1])

	// The follow-up message continues the stored upstream session.
	crawler.mu.Lock()
	crawler.result = completedCrawl()
	crawler.mu.Unlock()

	o.Process("T1", "C1", "", "just bluesky")
	require.Eventually(t, func() bool {
		state, _ := states.snapshot()
		return state.Stage == models.StageCompleted
	}, 2*time.Second, 10*time.Millisecond)

	crawler.mu.Lock()
	defer crawler.mu.Unlock()
	assert.Equal(t, []string{"upstream-42"}, crawler.continues)
	assert.Equal(t, 1, crawler.runs)
}

func TestProcessStageFailureLeavesResumableState(t *testing.T) {
	states := &fakeStates{}
	notifier := &fakeNotifier{}
	crawler := &fakeCrawler{result: completedCrawl()}
	analyzer := &fakeAnalyzer{err: fmt.Errorf("sidecar unreachable")}

	o := fullStack(crawler, analyzer, states, notifier)
	o.Process("T1", "C1", "", "track #golang")

	require.Eventually(t, func() bool {
		state, _ := states.snapshot()
		return !state.Running && state.Stage == models.StageAnalysis
	}, 2*time.Second, 10*time.Millisecond)

	// Crawler progress is kept, exactly one failure notice reaches the
	// channel, and the internal error text does not.
	state, _ := states.snapshot()
	assert.NotNil(t, state.Crawler)
	assert.Nil(t, state.Analysis)

	messages, markdowns := notifier.sent()
	assert.Empty(t, markdowns)
	require.Len(t, messages, 2)
	assert.Equal(t, failureNotice, messages[1])
	assert.NotContains(t, messages[1], "sidecar")
}

func TestProcessPersistFailureAfterCrawlerClearsRunning(t *testing.T) {
	// The second write is the CRAWLER -> ANALYSIS transition. When it
	// fails, the pass must still clear the running flag and tell the user,
	// like any other stage failure.
	states := &fakeStates{failOn: 2}
	notifier := &fakeNotifier{}
	crawler := &fakeCrawler{result: completedCrawl()}
	analyzer := &fakeAnalyzer{}

	o := fullStack(crawler, analyzer, states, notifier)
	o.Process("T1", "C1", "", "track #golang")

	require.Eventually(t, func() bool {
		messages, _ := notifier.sent()
		return len(messages) == 2
	}, 2*time.Second, 10*time.Millisecond)

	state, _ := states.snapshot()
	assert.False(t, state.Running)

	// The pipeline stops at the failed write, no later stage runs.
	analyzer.mu.Lock()
	assert.Equal(t, 0, analyzer.calls)
	analyzer.mu.Unlock()

	messages, markdowns := notifier.sent()
	assert.Empty(t, markdowns)
	require.Len(t, messages, 2)
	assert.Equal(t, startNotice, messages[0])
	assert.Equal(t, failureNotice, messages[1])
}

func TestProcessIgnoresCompletedConversation(t *testing.T) {
	states := &fakeStates{}
	notifier := &fakeNotifier{}
	crawler := &fakeCrawler{result: completedCrawl()}
	analyzer := &fakeAnalyzer{}

	existing := models.NewConversationState("T1:C1:", "conv-1", "T1", "C1", "")
	existing.Stage = models.StageCompleted
	states.state = existing

	o := fullStack(crawler, analyzer, states, notifier)
	o.Process("T1", "C1", "", "another message")

	require.Eventually(t, func() bool {
		_, history := states.snapshot()
		return len(history) > 0
	}, 2*time.Second, 10*time.Millisecond)

	crawler.mu.Lock()
	runs := crawler.runs
	crawler.mu.Unlock()
	assert.Equal(t, 0, runs)

	messages, markdowns := notifier.sent()
	assert.Empty(t, messages)
	assert.Empty(t, markdowns)
}

func TestProcessPanicClearsRunning(t *testing.T) {
	states := &fakeStates{}
	notifier := &fakeNotifier{}
	crawler := &fakeCrawler{panicMsg: "nil map write"}
	analyzer := &fakeAnalyzer{}

	o := fullStack(crawler, analyzer, states, notifier)
	o.Process("T1", "C1", "", "track #golang")

	require.Eventually(t, func() bool {
		messages, _ := notifier.sent()
		return len(messages) == 2
	}, 2*time.Second, 10*time.Millisecond)

	state, _ := states.snapshot()
	assert.False(t, state.Running)
	messages, _ := notifier.sent()
	assert.Equal(t, failureNotice, messages[1])
}

func TestResumeAdvancesFromStoredStage(t *testing.T) {
	states := &fakeStates{}
	notifier := &fakeNotifier{}
	crawler := &fakeCrawler{}
	analyzer := &fakeAnalyzer{result: &models.AnalysisResult{
		FinishReason: models.FinishCompleted,
		Usage:        models.TokenUsage{TotalTokens: 200},
	}}

	interrupted := models.NewConversationState("T1:C1:", "conv-1", "T1", "C1", "")
	interrupted.Stage = models.StageAnalysis
	interrupted.Running = true
	interrupted.Crawler = completedCrawl()
	states.state = interrupted

	o := fullStack(crawler, analyzer, states, notifier)
	o.Resume(interrupted)

	require.Eventually(t, func() bool {
		state, _ := states.snapshot()
		return state.Stage == models.StageCompleted && !state.Running
	}, 2*time.Second, 10*time.Millisecond)

	// The crawler is never re-run on resume.
	crawler.mu.Lock()
	defer crawler.mu.Unlock()
	assert.Equal(t, 0, crawler.runs)
	assert.Empty(t, crawler.continues)
}

func TestSplitMessageParagraphChunks(t *testing.T) {
	// Eighteen paragraphs of ~500 characters each, close to 9000 total.
	paragraph := strings.Repeat("a", 498)
	text := ""
	for i := 0; i < 18; i++ {
		if i > 0 {
			text += "\n\n"
		}
		text += paragraph
	}
	require.Greater(t, len(text), 8900)

	chunks := splitMessage(text, maxMessageLen)

	require.Len(t, chunks, 3)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), maxMessageLen)
	}
	// Paragraph order is preserved across chunks.
	assert.Equal(t, text, strings.Join(chunks, "\n\n"))
}

func TestSplitMessageShortTextUntouched(t *testing.T) {
	chunks := splitMessage("hello\n\nworld", maxMessageLen)
	assert.Equal(t, []string{"hello\n\nworld"}, chunks)
}

func TestSplitMessageHardSplitsOversizeParagraph(t *testing.T) {
	text := strings.Repeat("x", 2*maxMessageLen+100)
	chunks := splitMessage(text, maxMessageLen)

	require.Len(t, chunks, 3)
	for _, chunk := range chunks {
		assert.LessOrEqual(t, len(chunk), maxMessageLen)
	}
	assert.Equal(t, text, strings.Join(chunks, ""))
}
