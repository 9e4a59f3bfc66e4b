package processor

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/jo-hoe/fixsmith/internal/jobs"
)

// All user-visible text uses Slack mrkdwn only (bold, code spans, links) and
// reads fine as plain text.

const (
	requestPreviewLimit = 80
	titlePreviewLimit   = 60
)

func ackText(job *jobs.Job) string {
	return fmt.Sprintf(":hourglass_flowing_sand: Working on: _%s_", truncateText(job.Description, requestPreviewLimit))
}

func progressText(job *jobs.Job, stage string) string {
	return fmt.Sprintf("%s\n%s", ackText(job), stage)
}

const (
	stageSyncing    = ":arrows_counterclockwise: Preparing repository..."
	stageAnalyzing  = ":mag: Analyzing the request..."
	stageCommitting = ":floppy_disk: Committing changes..."
	stagePushing    = ":outbox_tray: Pushing branch..."
	stageOpeningPR  = ":git: Opening pull request..."
	stageDeploying  = ":rocket: Waiting for preview deployment..."
)

func stageBranching(branch string) string {
	return fmt.Sprintf(":herb: Creating branch `%s`...", branch)
}

// noChangeText reports the informational "no actionable change" outcome,
// surfacing the analysis so the requester knows why nothing happened.
func noChangeText(job *jobs.Job, fix *jobs.FixResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, ":information_source: *No code change needed* for: _%s_\n", truncateText(job.Description, requestPreviewLimit))
	if fix.Analysis != "" {
		fmt.Fprintf(&b, "\n*Analysis*\n%s", fix.Analysis)
	}
	return b.String()
}

// summaryText is the single final status-message edit: what succeeded, what is
// still pending, and what failed.
func summaryText(job *jobs.Job, res *jobs.JobResult) string {
	var b strings.Builder

	if res.Status == jobs.StatusFailed {
		fmt.Fprintf(&b, ":x: *Failed* to handle: _%s_\n", truncateText(job.Description, requestPreviewLimit))
		if res.Error != "" {
			fmt.Fprintf(&b, "\n*Error*\n`%s`\n", res.Error)
		}
	} else {
		fmt.Fprintf(&b, ":white_check_mark: *Done*: _%s_\n", truncateText(job.Description, requestPreviewLimit))
	}

	if res.BranchName != "" {
		fmt.Fprintf(&b, "\n*Branch*: `%s`", res.BranchName)
	}
	if res.PRURL != "" {
		fmt.Fprintf(&b, "\n*Pull request*: <%s|review the changes>", res.PRURL)
	}
	if res.PreviewURL != "" {
		fmt.Fprintf(&b, "\n*Preview*: <%s>", res.PreviewURL)
	}

	if res.Status == jobs.StatusCompleted && res.Error != "" {
		fmt.Fprintf(&b, "\n\n:warning: %s", res.Error)
	}
	if d := res.Deployment; d != nil && !d.Success {
		fmt.Fprintf(&b, "\n\n:warning: The PR is ready, but the preview deployment is still pending (%s).", d.Error)
	}

	if fix := res.Fix; fix != nil && fix.Success {
		if fix.Solution != "" {
			fmt.Fprintf(&b, "\n\n*Solution*\n%s", fix.Solution)
		}
		if len(fix.FilesChanged) > 0 {
			b.WriteString("\n\n*Files changed*")
			for _, p := range fix.FilesChanged {
				fmt.Fprintf(&b, "\n• `%s`", p)
			}
		}
		if fix.Analysis != "" {
			fmt.Fprintf(&b, "\n\n*Analysis*\n%s", fix.Analysis)
		}
	}
	return b.String()
}

// commitMessage embeds a truncated request preview, the solution summary, and
// the changed paths.
func commitMessage(description string, fix *jobs.FixResult) string {
	var b strings.Builder
	c := inferCategory(description)
	fmt.Fprintf(&b, "%s: %s\n", c.name, truncateText(description, titlePreviewLimit))
	if fix.Solution != "" {
		fmt.Fprintf(&b, "\n%s\n", fix.Solution)
	}
	if len(fix.FilesChanged) > 0 {
		b.WriteString("\nChanged files:\n")
		for _, p := range fix.FilesChanged {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}
	return b.String()
}

// prTitle is a type-tagged prefix plus a truncated request preview.
func prTitle(description string) string {
	c := inferCategory(description)
	return fmt.Sprintf("[%s] %s", c.prTag, truncateText(description, titlePreviewLimit))
}

func prBody(description string, fix *jobs.FixResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Automated change for the request:\n\n> %s\n", description)
	if fix.Analysis != "" {
		fmt.Fprintf(&b, "\n## Analysis\n\n%s\n", fix.Analysis)
	}
	if fix.Solution != "" {
		fmt.Fprintf(&b, "\n## Solution\n\n%s\n", fix.Solution)
	}
	if len(fix.FilesChanged) > 0 {
		b.WriteString("\n## Files changed\n\n")
		for _, p := range fix.FilesChanged {
			fmt.Fprintf(&b, "- `%s`\n", p)
		}
	}
	b.WriteString("\n## Manual review\n\n")
	b.WriteString("- [ ] The change addresses the request\n")
	b.WriteString("- [ ] No unrelated files were modified\n")
	b.WriteString("- [ ] Tests and builds pass\n")
	return b.String()
}

func truncateText(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	// Back up to a rune boundary so multi-byte characters are never split.
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return strings.TrimSpace(s[:n]) + "..."
}
