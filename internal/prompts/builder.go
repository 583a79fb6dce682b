// Package prompts renders a pull-request snapshot into the analysis prompt.
// Hunks are annotated with new-side line numbers so the provider can cite
// lines the diff index will later be able to resolve.
package prompts

import (
	"fmt"
	"strings"

	"github.com/reviewpilot/internal/diff"
	"github.com/reviewpilot/pkg/models"
)

const instructions = `You are a senior code reviewer. Analyze the pull request changes below and respond with a single JSON object, no prose, of the form:
{
  "summary": {"technical_debt": "<estimate such as 30m or 2h>"},
  "findings": [
    {"file": "<path>", "line": <new-side line number>, "issue": "<what is wrong>",
     "severity": "BLOCKER|CRITICAL|MAJOR|MINOR|INFO",
     "category": "BUG|VULNERABILITY|SECURITY_HOTSPOT|CODE_SMELL",
     "suggestion": "<how to fix it>"}
  ],
  "assessment": "PROPERLY_REVIEWED|NOT_PROPERLY_REVIEWED|REVIEW_REQUIRED",
  "recommendation": "<one paragraph>"
}
Line numbers refer to the NEW column of the annotated diffs. Only report findings on changed lines.`

// Build renders the full analysis prompt for one snapshot.
func Build(snapshot *models.PRSnapshot) string {
	var b strings.Builder

	b.WriteString(instructions)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Pull request: %s\nTitle: %s\n", snapshot.Fingerprint(), snapshot.Title)
	if snapshot.Body != "" {
		fmt.Fprintf(&b, "Description:\n%s\n", snapshot.Body)
	}

	b.WriteString("\nChanged files:\n")
	for _, f := range snapshot.Files {
		fmt.Fprintf(&b, "\n--- %s (%s) ---\n", f.Filename, f.Status)
		if f.Patch == "" {
			b.WriteString("(no textual diff available)\n")
			continue
		}
		b.WriteString(AnnotateHunks(f.Patch))
	}

	if prior := priorDiscussion(snapshot.ExistingComments); prior != "" {
		b.WriteString("\nExisting discussion on this pull request (do not repeat points already raised):\n")
		b.WriteString(prior)
	}

	return b.String()
}

// AnnotateHunks rewrites a patch as an OLD | NEW | CONTENT table so the
// provider sees explicit line numbers instead of inferring them.
func AnnotateHunks(patch string) string {
	idx := diff.BuildIndex(patch)

	var b strings.Builder
	for _, hunk := range idx.Hunks {
		fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", hunk.OldStart, hunk.OldCount, hunk.NewStart, hunk.NewCount)
		for _, line := range hunk.Lines {
			old, new := " ", " "
			if line.OldLine > 0 {
				old = fmt.Sprintf("%d", line.OldLine)
			}
			if line.NewLine > 0 {
				new = fmt.Sprintf("%d", line.NewLine)
			}
			marker := " "
			switch line.Kind {
			case diff.LineAdded:
				marker = "+"
			case diff.LineDeleted:
				marker = "-"
			}
			fmt.Fprintf(&b, "%4s | %4s | %s%s\n", old, new, marker, line.Content)
		}
	}
	return b.String()
}

// priorDiscussion renders existing human comments, most recent last. Bot
// comments are skipped; the provider should not converse with itself.
func priorDiscussion(comments []models.Comment) string {
	var b strings.Builder
	for _, c := range comments {
		if c.IsBot {
			continue
		}
		body := c.Body
		if len(body) > 500 {
			body = body[:500] + "…"
		}
		fmt.Fprintf(&b, "- %s: %s\n", c.Author, body)
	}
	return b.String()
}
