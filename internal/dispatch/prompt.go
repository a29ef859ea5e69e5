package dispatch

import (
	"fmt"
	"strings"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
)

// buildPrompt assembles the structured one-shot prompt: agent context,
// task description, file lists, prior feedback, and output instructions.
func buildPrompt(spec core.AgentSpec, task *core.Task, agentContext, toolPolicy string) string {
	var b strings.Builder

	if agentContext != "" {
		b.WriteString(agentContext)
		b.WriteString("\n\n")
	}
	if toolPolicy != "" {
		fmt.Fprintf(&b, "## Tool Policy\n%s\n\n", toolPolicy)
	}

	fmt.Fprintf(&b, "# Task %s: %s\n\n", task.ID, task.Title)
	if task.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", task.Description)
	}
	if len(task.AcceptanceCriteria) > 0 {
		b.WriteString("## Acceptance Criteria\n")
		for _, c := range task.AcceptanceCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		b.WriteString("\n")
	}
	writeList(&b, "Input Files", task.InputFiles)
	writeList(&b, "Expected Output Files", append(append([]string{}, task.FilesToCreate...), task.FilesToModify...))
	writeList(&b, "Test Files", task.TestFiles)

	if task.Iteration > 1 && len(task.PreviousFeedback) > 0 {
		b.WriteString("## Previous Review Feedback\n")
		for _, fb := range task.PreviousFeedback {
			fmt.Fprintf(&b, "### %s (score %.1f)\n", fb.ReviewerID, fb.Score)
			for _, issue := range fb.BlockingIssues {
				fmt.Fprintf(&b, "- BLOCKING: %s\n", issue)
			}
			for _, s := range fb.Suggestions {
				fmt.Fprintf(&b, "- %s\n", s)
			}
		}
		b.WriteString("\n")
	}

	b.WriteString("## Output Requirements\n")
	b.WriteString("Respond with a single JSON object.\n")
	if spec.IsReviewer {
		b.WriteString("Include `score` (0-10) and `approved` (boolean), plus `blocking_issues`, `suggestions`, and `security_findings` arrays.\n")
	} else {
		sentinel := "TASK_COMPLETE"
		if len(spec.CompletionPatterns) > 0 {
			sentinel = spec.CompletionPatterns[0]
		}
		fmt.Fprintf(&b, "When finished, emit the completion sentinel: %s\n", sentinel)
	}
	return b.String()
}

func writeList(b *strings.Builder, heading string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "## %s\n", heading)
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
	b.WriteString("\n")
}
