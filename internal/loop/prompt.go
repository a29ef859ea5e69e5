package loop

import (
	"fmt"
	"strings"

	"github.com/hugo-lorenzo-mato/foreman/internal/core"
)

// buildPrompt renders the iteration prompt from the task. The structure
// is fixed; per-iteration context and error guidance are injected by the
// runner before invocation.
func buildPrompt(task *core.Task, previousContext string, iteration, maxIterations int, sentinel string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Task %s: %s\n\n", task.ID, task.Title)
	fmt.Fprintf(&b, "Iteration %d of %d.\n\n", iteration, maxIterations)

	if task.Description != "" {
		fmt.Fprintf(&b, "## User Story\n%s\n\n", task.Description)
	}
	if len(task.AcceptanceCriteria) > 0 {
		b.WriteString("## Acceptance Criteria\n")
		for _, c := range task.AcceptanceCriteria {
			fmt.Fprintf(&b, "- %s\n", c)
		}
		b.WriteString("\n")
	}
	writeFileList(&b, "Files to Create", task.FilesToCreate)
	writeFileList(&b, "Files to Modify", task.FilesToModify)
	writeFileList(&b, "Test Files", task.TestFiles)

	if previousContext != "" {
		fmt.Fprintf(&b, "## Previous Iteration\n%s\n\n", previousContext)
	}

	b.WriteString("## Approach\n")
	b.WriteString("Follow test-driven development:\n")
	b.WriteString("1. Run the tests and observe the failure.\n")
	b.WriteString("2. Implement the minimal change that addresses it.\n")
	b.WriteString("3. Re-run and iterate until the tests pass.\n\n")

	if sentinel != "" {
		fmt.Fprintf(&b, "When the task is fully complete, output exactly: %s\n", sentinel)
	}
	return b.String()
}

func writeFileList(b *strings.Builder, heading string, files []string) {
	if len(files) == 0 {
		return
	}
	fmt.Fprintf(b, "## %s\n", heading)
	for _, f := range files {
		fmt.Fprintf(b, "- %s\n", f)
	}
	b.WriteString("\n")
}

// iterationContext summarises one iteration's outcome for the next prompt.
func iterationContext(filesChanged []string, vr *core.VerificationResult) string {
	var b strings.Builder
	if len(filesChanged) > 0 {
		b.WriteString("Files changed last iteration:\n")
		for _, f := range filesChanged {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	if vr != nil && !vr.Passed {
		fmt.Fprintf(&b, "Verification failed: %s\n", vr.Summary)
		for i, f := range vr.Failures {
			if i == 5 {
				break
			}
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	return b.String()
}
