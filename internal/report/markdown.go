// Package report renders the final pipeline artifact as markdown.
package report

import (
	"fmt"
	"strings"

	"socialtracker/backend/pkg/models"
)

// ToMarkdown renders a report result as a markdown document. Paragraphs
// are separated by blank lines so downstream chunking can split on them.
func ToMarkdown(result *models.ReportResult) string {
	if result == nil || result.Report == nil {
		return "*Report generation finished but produced no content.*"
	}
	rep := result.Report

	var b strings.Builder

	title := rep.Title
	if title == "" {
		title = "Social Media Report"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)

	if result.Timeframe != "" {
		fmt.Fprintf(&b, "> Timeframe: %s\n\n", result.Timeframe)
	}

	if rep.Summary != "" {
		fmt.Fprintf(&b, "%s\n\n", strings.TrimSpace(rep.Summary))
	}

	for _, section := range rep.Sections {
		if section.Heading != "" {
			fmt.Fprintf(&b, "## %s\n\n", section.Heading)
		}
		if section.Body != "" {
			fmt.Fprintf(&b, "%s\n\n", strings.TrimSpace(section.Body))
		}
	}

	if len(rep.Recommendations) > 0 {
		b.WriteString("## Recommendations\n\n")
		for _, rec := range rep.Recommendations {
			fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(rec))
		}
		b.WriteString("\n")
	}

	return strings.TrimSpace(b.String())
}
