package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/zjjiang/opd/internal/model"
)

// Coding stage artifacts. Both reports are deterministic pure functions of
// the collected message stream, so re-running with the same stream yields
// byte-identical documents.

const (
	reportToolLines   = 20
	reportToolLineCap = 200
)

// CodingRun is the material the coding stage hands to the report builders.
type CodingRun struct {
	Story        *model.Story
	Round        *model.Round
	BranchName   string
	PullRequests []model.PullRequest
	// AssistantMessages in stream order.
	AssistantMessages []string
	// ToolCalls in stream order, one line per call.
	ToolCalls []string
	// Finished is the UTC completion time.
	Finished time.Time
}

// lastAssistantMessage returns the final assistant message, or empty.
func (r *CodingRun) lastAssistantMessage() string {
	if len(r.AssistantMessages) == 0 {
		return ""
	}
	return r.AssistantMessages[len(r.AssistantMessages)-1]
}

// BuildCodingReport renders the delivery summary: round, branch, PR links,
// assistant recap, and the tail of the tool-call log.
func BuildCodingReport(run *CodingRun) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Coding Report: %s\n\n", run.Story.Title)
	fmt.Fprintf(&b, "- Round: %d (%s)\n", run.Round.RoundNumber, run.Round.Type)
	if run.BranchName != "" {
		fmt.Fprintf(&b, "- Branch: `%s`\n", run.BranchName)
	}
	for _, pr := range run.PullRequests {
		fmt.Fprintf(&b, "- PR [#%d](%s) — %s\n", pr.Number, pr.URL, pr.Status)
	}
	b.WriteString("\n## Summary\n\n")
	if recap := run.lastAssistantMessage(); recap != "" {
		b.WriteString(recap)
		b.WriteString("\n")
	} else {
		b.WriteString("(no assistant output)\n")
	}

	if len(run.ToolCalls) > 0 {
		b.WriteString("\n## Tool calls\n\n")
		calls := run.ToolCalls
		if len(calls) > reportToolLines {
			calls = calls[len(calls)-reportToolLines:]
		}
		for _, line := range calls {
			if len(line) > reportToolLineCap {
				line = line[:reportToolLineCap]
			}
			fmt.Fprintf(&b, "- %s\n", line)
		}
	}

	fmt.Fprintf(&b, "\n---\nGenerated %s\n", run.Finished.UTC().Format(time.RFC3339))
	return b.String()
}

// BuildTestGuide renders the verification guide: checkout instructions,
// the assistant's change description, and the standard checklist.
func BuildTestGuide(run *CodingRun) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Test Guide: %s\n\n", run.Story.Title)

	b.WriteString("## Checkout\n\n```\n")
	if run.BranchName != "" {
		fmt.Fprintf(&b, "git fetch origin\ngit checkout %s\n", run.BranchName)
	} else {
		b.WriteString("git pull\n")
	}
	b.WriteString("```\n\n")

	b.WriteString("## Changes\n\n")
	if recap := run.lastAssistantMessage(); recap != "" {
		b.WriteString(recap)
		b.WriteString("\n")
	} else {
		b.WriteString("(no change description)\n")
	}

	b.WriteString(`
## Verification checklist

- [ ] Code builds cleanly
- [ ] New and existing tests pass
- [ ] Feature behaves as described in the PRD
- [ ] No unrelated changes in the diff
- [ ] Edge cases from the detailed design are covered
`)
	return b.String()
}
