// Package orchestrator drives a conversation through the agent pipeline,
// persisting state after every transition so a crashed process can be
// resumed where it left off.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"socialtracker/backend/internal/logging"
	"socialtracker/backend/internal/report"
	"socialtracker/backend/pkg/models"
)

// maxMessageLen is the largest text blob sent in a single Slack message.
// Slack caps message text at 4000 characters; staying under leaves room
// for formatting added downstream.
const maxMessageLen = 3900

// failureNotice is the only text a user sees when a stage fails. Internal
// detail stays in the logs.
const failureNotice = "Sorry, something went wrong while processing your request. Please try again."

// startNotice acknowledges a fresh request before the slow agent calls
// begin.
const startNotice = "On it! Collecting posts now, this can take a couple of minutes."

// Crawler is the data-fetching agent. Continue re-enters an upstream chat
// session that previously asked for clarification.
type Crawler interface {
	Run(ctx context.Context, userMessage string) (*models.CrawlerResult, error)
	Continue(ctx context.Context, userMessage, conversationID string) (*models.CrawlerResult, error)
}

// Analyzer turns fetched posts into topic trends.
type Analyzer interface {
	Run(ctx context.Context, crawler *models.CrawlerResult) (*models.AnalysisResult, error)
}

// InsightGenerator derives insights from the crawl and analysis.
type InsightGenerator interface {
	Run(ctx context.Context, crawler *models.CrawlerResult, analysis *models.AnalysisResult) (*models.InsightResult, error)
}

// Reporter writes the final report from all prior stage results.
type Reporter interface {
	Run(ctx context.Context, crawler *models.CrawlerResult, analysis *models.AnalysisResult, insight *models.InsightResult) (*models.ReportResult, error)
}

// Notifier delivers text to the conversation's channel.
type Notifier interface {
	SendMessage(ctx context.Context, teamID, channel, text, threadTS string) (string, error)
	SendMarkdownMessage(ctx context.Context, teamID, channel, markdown, threadTS string) (string, error)
}

// StateManager loads and persists conversation state.
type StateManager interface {
	GetOrCreate(ctx context.Context, teamID, channel, threadTS string) (*models.ConversationState, error)
	Update(ctx context.Context, state *models.ConversationState) error
}

// Orchestrator executes the pipeline for one conversation at a time per
// routing key. Stages within a conversation run strictly sequentially;
// different conversations run concurrently on their own goroutines.
type Orchestrator struct {
	states       StateManager
	crawler      Crawler
	analyzer     Analyzer
	insights     InsightGenerator
	reporter     Reporter
	notifier     Notifier
	logger       *logging.Logger
	stageTimeout time.Duration
}

// New creates an Orchestrator.
func New(states StateManager, crawler Crawler, analyzer Analyzer, insights InsightGenerator, reporter Reporter, notifier Notifier, stageTimeout time.Duration, logger *logging.Logger) *Orchestrator {
	return &Orchestrator{
		states:       states,
		crawler:      crawler,
		analyzer:     analyzer,
		insights:     insights,
		reporter:     reporter,
		notifier:     notifier,
		logger:       logger,
		stageTimeout: stageTimeout,
	}
}

// Process handles an inbound user message. It returns immediately; the
// pipeline runs on its own goroutine so the event handler can acknowledge
// the platform without waiting on agent latency.
func (o *Orchestrator) Process(teamID, channel, threadTS, userMessage string) {
	go func() {
		ctx := context.Background()

		state, err := o.states.GetOrCreate(ctx, teamID, channel, threadTS)
		if err != nil {
			o.logger.Error("Failed to load conversation state for %s/%s: %v", teamID, channel, err)
			o.notifyFailure(ctx, teamID, channel, threadTS)
			return
		}

		defer o.recoverPass(ctx, state)
		o.run(ctx, state, userMessage)
	}()
}

// Resume re-enters a conversation found running after a restart. The
// triggering user message is gone, so only conversations past the crawler
// stage can make progress; the recovery sweep filters those out before
// calling here.
func (o *Orchestrator) Resume(state *models.ConversationState) {
	go func() {
		ctx := context.Background()
		defer o.recoverPass(ctx, state)

		o.logger.Info("Resuming conversation %s at stage %s", state.Key, state.Stage)
		o.advance(ctx, state)
	}()
}

// recoverPass is the top-level error boundary for one orchestration pass.
// A panic must never leave the conversation stuck in the running state.
func (o *Orchestrator) recoverPass(ctx context.Context, state *models.ConversationState) {
	r := recover()
	if r == nil {
		return
	}
	o.logger.Error("Panic while processing conversation %s: %v", state.Key, r)
	state.Running = false
	if err := o.states.Update(ctx, state); err != nil {
		o.logger.Error("Failed to clear running flag for %s after panic: %v", state.Key, err)
	}
	o.notifyFailure(ctx, state.TeamID, state.Channel, state.ThreadTS)
}

func (o *Orchestrator) run(ctx context.Context, state *models.ConversationState, userMessage string) {
	if state.Stage == models.StageCompleted {
		o.logger.Info("Conversation %s already completed, ignoring message", state.Key)
		state.Running = false
		if err := o.states.Update(ctx, state); err != nil {
			o.logger.Error("Failed to persist conversation %s: %v", state.Key, err)
		}
		return
	}

	state.Running = true
	if err := o.states.Update(ctx, state); err != nil {
		o.logger.Error("Failed to mark conversation %s running: %v", state.Key, err)
		o.notifyFailure(ctx, state.TeamID, state.Channel, state.ThreadTS)
		return
	}

	if state.Stage == models.StageCrawler {
		if state.Crawler == nil {
			o.notify(ctx, state, startNotice)
		}
		if !o.runCrawlerStage(ctx, state, userMessage) {
			return
		}
	}

	o.advance(ctx, state)
}

// runCrawlerStage executes the first stage. It is the only stage that can
// suspend the pipeline waiting for user input. Returns true when the
// pipeline should continue to the next stage.
func (o *Orchestrator) runCrawlerStage(ctx context.Context, state *models.ConversationState, userMessage string) bool {
	stageCtx, cancel := context.WithTimeout(ctx, o.stageTimeout)
	defer cancel()

	var result *models.CrawlerResult
	var err error
	if state.Crawler != nil && state.Crawler.FinishReason == models.FinishNeedsMoreInput && state.ConversationID != "" {
		result, err = o.crawler.Continue(stageCtx, userMessage, state.ConversationID)
	} else {
		result, err = o.crawler.Run(stageCtx, userMessage)
	}
	if err != nil {
		o.failStage(ctx, state, err)
		return false
	}

	switch result.FinishReason {
	case models.FinishNeedsMoreInput:
		// Suspension: keep the partial result and the upstream session id
		// so the user's next message continues the same agent session.
		if result.ConversationID != "" {
			state.ConversationID = result.ConversationID
		}
		state.Crawler = result
		state.Running = false
		if err := o.states.Update(ctx, state); err != nil {
			o.logger.Error("Failed to persist suspended conversation %s: %v", state.Key, err)
			o.notifyFailure(ctx, state.TeamID, state.Channel, state.ThreadTS)
			return false
		}
		prompt := result.NextPrompt
		if prompt == "" {
			prompt = "I need a bit more detail to continue. What exactly should I look into?"
		}
		o.notify(ctx, state, prompt)
		return false

	case models.FinishCompleted:
		state.Crawler = result
		if !o.advanceStage(ctx, state) {
			o.failStage(ctx, state, errPersist)
			return false
		}
		return true

	default:
		o.failStage(ctx, state, fmt.Errorf("crawler finished with reason %q", result.FinishReason))
		return false
	}
}

// advance runs every stage after the crawler until the conversation
// completes or a stage fails. State is persisted after each transition so
// a crash loses at most the in-flight stage.
func (o *Orchestrator) advance(ctx context.Context, state *models.ConversationState) {
	for state.Running && state.Stage != models.StageCompleted {
		var err error
		switch state.Stage {
		case models.StageAnalysis:
			err = o.runAnalysisStage(ctx, state)
		case models.StageInsight:
			err = o.runInsightStage(ctx, state)
		case models.StageReport:
			err = o.runReportStage(ctx, state)
		case models.StageCrawler:
			// Reached only via a resume with no user input to replay.
			err = fmt.Errorf("cannot advance stage %s without user input", state.Stage)
		default:
			err = fmt.Errorf("unknown stage %q", state.Stage)
		}
		if err != nil {
			o.failStage(ctx, state, err)
			return
		}
	}

	if state.Stage == models.StageCompleted {
		o.deliver(ctx, state)
	}
}

func (o *Orchestrator) runAnalysisStage(ctx context.Context, state *models.ConversationState) error {
	stageCtx, cancel := context.WithTimeout(ctx, o.stageTimeout)
	defer cancel()

	result, err := o.analyzer.Run(stageCtx, state.Crawler)
	if err != nil {
		return err
	}
	if result.FinishReason == models.FinishError {
		return fmt.Errorf("analysis agent reported failure")
	}
	state.Analysis = result
	if !o.advanceStage(ctx, state) {
		return errPersist
	}
	return nil
}

func (o *Orchestrator) runInsightStage(ctx context.Context, state *models.ConversationState) error {
	stageCtx, cancel := context.WithTimeout(ctx, o.stageTimeout)
	defer cancel()

	result, err := o.insights.Run(stageCtx, state.Crawler, state.Analysis)
	if err != nil {
		return err
	}
	if result.FinishReason == models.FinishError {
		return fmt.Errorf("insight agent reported failure")
	}
	state.Insight = result
	if !o.advanceStage(ctx, state) {
		return errPersist
	}
	return nil
}

func (o *Orchestrator) runReportStage(ctx context.Context, state *models.ConversationState) error {
	stageCtx, cancel := context.WithTimeout(ctx, o.stageTimeout)
	defer cancel()

	result, err := o.reporter.Run(stageCtx, state.Crawler, state.Analysis, state.Insight)
	if err != nil {
		return err
	}
	if result.FinishReason == models.FinishError {
		return fmt.Errorf("report agent reported failure")
	}
	state.Report = result
	if !o.advanceStage(ctx, state) {
		return errPersist
	}
	return nil
}

// errPersist marks a state write failure after a successful agent call.
// The stage result may be lost on restart, which is why the write failure
// is logged loudly at the point it happens.
var errPersist = fmt.Errorf("conversation state update failed")

// advanceStage moves the conversation to the next stage and persists.
// Returns false when the write fails; the stage result already attached to
// the in-memory state may then be unrecoverable.
func (o *Orchestrator) advanceStage(ctx context.Context, state *models.ConversationState) bool {
	next, err := state.Stage.Next()
	if err != nil {
		o.logger.Error("Conversation %s: %v", state.Key, err)
		return false
	}
	state.Stage = next
	if err := o.states.Update(ctx, state); err != nil {
		o.logger.Error("LOST PROGRESS RISK: failed to persist conversation %s after advancing to %s: %v", state.Key, next, err)
		return false
	}
	o.logger.Info("Conversation %s advanced to stage %s", state.Key, next)
	return true
}

// deliver sends the completed report, chunked to fit the channel's message
// size limit, followed by an aggregate cost summary.
func (o *Orchestrator) deliver(ctx context.Context, state *models.ConversationState) {
	markdown := report.ToMarkdown(state.Report)

	for _, chunk := range splitMessage(markdown, maxMessageLen) {
		if _, err := o.notifier.SendMarkdownMessage(ctx, state.TeamID, state.Channel, chunk, state.ThreadTS); err != nil {
			o.logger.Error("Failed to deliver report chunk for %s: %v", state.Key, err)
			break
		}
	}

	summary := fmt.Sprintf("Report complete. Total tokens used across all stages: %d.", state.TotalTokens())
	if _, err := o.notifier.SendMessage(ctx, state.TeamID, state.Channel, summary, state.ThreadTS); err != nil {
		o.logger.Error("Failed to deliver cost summary for %s: %v", state.Key, err)
	}

	state.Running = false
	if err := o.states.Update(ctx, state); err != nil {
		o.logger.Error("Failed to persist completed conversation %s: %v", state.Key, err)
	}
	o.logger.Info("Conversation %s completed, %d tokens used", state.Key, state.TotalTokens())
}

// failStage handles a failed stage call: one generic notice to the user,
// full detail to the logs, stage unchanged so a fresh message retries from
// the same point.
func (o *Orchestrator) failStage(ctx context.Context, state *models.ConversationState, cause error) {
	o.logger.Error("Conversation %s failed at stage %s: %v", state.Key, state.Stage, cause)
	state.Running = false
	if err := o.states.Update(ctx, state); err != nil {
		o.logger.Error("Failed to clear running flag for %s: %v", state.Key, err)
	}
	o.notifyFailure(ctx, state.TeamID, state.Channel, state.ThreadTS)
}

func (o *Orchestrator) notify(ctx context.Context, state *models.ConversationState, text string) {
	if _, err := o.notifier.SendMessage(ctx, state.TeamID, state.Channel, text, state.ThreadTS); err != nil {
		o.logger.Error("Failed to send message for %s: %v", state.Key, err)
	}
}

func (o *Orchestrator) notifyFailure(ctx context.Context, teamID, channel, threadTS string) {
	if _, err := o.notifier.SendMessage(ctx, teamID, channel, failureNotice, threadTS); err != nil {
		o.logger.Error("Failed to send failure notice to %s/%s: %v", teamID, channel, err)
	}
}

// splitMessage splits text into chunks no longer than limit, preferring
// paragraph boundaries. A single paragraph longer than the limit is hard
// split. Order is preserved.
func splitMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, current.String())
			current.Reset()
		}
	}

	for _, paragraph := range strings.Split(text, "\n\n") {
		// Oversize paragraphs get hard split on rune boundaries.
		for len(paragraph) > limit {
			flush()
			cut := limit
			for cut > 0 && !isRuneStart(paragraph[cut]) {
				cut--
			}
			if cut == 0 {
				cut = limit
			}
			chunks = append(chunks, paragraph[:cut])
			paragraph = paragraph[cut:]
		}

		needed := len(paragraph)
		if current.Len() > 0 {
			needed += 2
		}
		if current.Len()+needed > limit {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(paragraph)
	}
	flush()

	return chunks
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
