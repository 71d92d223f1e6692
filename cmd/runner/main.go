// Command runner drives the agent pipeline from a terminal, without Slack
// in the loop. Useful for prompt iteration and sidecar debugging.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"socialtracker/backend/internal/agents"
	"socialtracker/backend/internal/bluesky"
	"socialtracker/backend/internal/config"
	"socialtracker/backend/internal/logging"
	"socialtracker/backend/internal/report"
	"socialtracker/backend/pkg/models"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var request string

	cmd := &cobra.Command{
		Use:   "runner",
		Short: "Run the social tracker agent pipeline from the terminal",
		Long: `Runs all four pipeline stages against the configured completion
sidecar and prints the final report as markdown. When the crawler asks a
clarifying question, the answer is read from stdin.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if request == "" {
				return fmt.Errorf("--request is required")
			}
			return run(cmd.Context(), request)
		},
	}

	cmd.Flags().StringVarP(&request, "request", "r", "", "what to track, e.g. '#gaming trends this week'")
	return cmd
}

func run(ctx context.Context, request string) error {
	logger := logging.NewLogger()

	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Agent.URL == "" {
		return fmt.Errorf("agent.url is required")
	}

	completer := agents.NewHTTPCompletionClient(cfg.Agent.URL, cfg.Agent.Model, cfg.Agent.MaxTokens)
	var posts agents.PostSource
	if cfg.Bluesky.Username != "" {
		posts = bluesky.NewClient(cfg.Bluesky.APIURL, cfg.Bluesky.Username, cfg.Bluesky.Password, logger)
	}
	crawler := agents.NewCrawlerAgent(completer, posts, logger)

	crawl, err := runCrawler(ctx, crawler, request)
	if err != nil {
		return err
	}

	fmt.Println("Running analysis stage...")
	analysis, err := agents.NewAnalysisAgent(completer).Run(ctx, crawl)
	if err != nil {
		return fmt.Errorf("analysis stage failed: %w", err)
	}

	fmt.Println("Running insight stage...")
	insight, err := agents.NewInsightAgent(completer).Run(ctx, crawl, analysis)
	if err != nil {
		return fmt.Errorf("insight stage failed: %w", err)
	}

	fmt.Println("Running report stage...")
	result, err := agents.NewReportAgent(completer).Run(ctx, crawl, analysis, insight)
	if err != nil {
		return fmt.Errorf("report stage failed: %w", err)
	}

	fmt.Println()
	fmt.Println(report.ToMarkdown(result))
	fmt.Println()

	total := crawl.Usage.TotalTokens + analysis.Usage.TotalTokens + insight.Usage.TotalTokens + result.Usage.TotalTokens
	fmt.Printf("Total tokens used across all stages: %d\n", total)
	return nil
}

// runCrawler loops on the crawler stage until it either completes or the
// user runs out of answers for its clarifying questions.
func runCrawler(ctx context.Context, crawler *agents.CrawlerAgent, request string) (*models.CrawlerResult, error) {
	fmt.Println("Running crawler stage...")

	scanner := bufio.NewScanner(os.Stdin)
	result, err := crawler.Run(ctx, request)
	for {
		if err != nil {
			return nil, fmt.Errorf("crawler stage failed: %w", err)
		}
		switch result.FinishReason {
		case models.FinishCompleted:
			return result, nil
		case models.FinishNeedsMoreInput:
			fmt.Printf("\n%s\n> ", result.NextPrompt)
			if !scanner.Scan() {
				return nil, fmt.Errorf("crawler needs more input but stdin is closed")
			}
			answer := strings.TrimSpace(scanner.Text())
			result, err = crawler.Continue(ctx, answer, result.ConversationID)
		default:
			return nil, fmt.Errorf("crawler finished with reason %q", result.FinishReason)
		}
	}
}
