package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/reviewpilot/internal/analyzer"
	"github.com/reviewpilot/internal/diff"
	"github.com/reviewpilot/internal/logging"
	"github.com/reviewpilot/internal/prompts"
	"github.com/reviewpilot/internal/scm"
	"github.com/reviewpilot/pkg/models"
)

// ErrNoChanges reports that the pull request had no analyzable files, so no
// analysis ran and nothing was posted. An expected outcome, not a failure.
var ErrNoChanges = errors.New("pull request has no changed files to analyze")

// runPipeline executes one full analysis attempt: fetch the PR snapshot,
// run the analysis, resolve findings onto the diff, and post results.
// Every failure path still posts something to the PR so the author is never
// left waiting on a review that silently died.
func (c *Coordinator) runPipeline(ctx context.Context, entry *processingEntry) (err error) {
	logger := logging.ForAttempt(entry.key, entry.trackingID)
	ctx = logger.WithContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("analysis pipeline panicked")
			err = fmt.Errorf("internal error during analysis: %v", r)
			c.postErrorResult(ctx, logger, entry, err)
		}
	}()

	logger.Info().Str("trigger", entry.triggerAction).Msg("analysis attempt started")

	snapshot, err := c.scm.GetPRSnapshot(ctx, entry.owner, entry.repo, entry.number)
	if err != nil {
		logger.Error().Err(err).Msg("failed to fetch PR snapshot")
		c.postErrorResult(ctx, logger, entry, err)
		return err
	}

	if len(snapshot.Files) == 0 {
		logger.Info().Msg("pull request has no changed files, skipping analysis")
		return ErrNoChanges
	}

	prompt := prompts.Build(snapshot)

	raw, err := c.ai.Generate(ctx, prompt)
	if err != nil {
		logger.Error().Err(err).Msg("analysis provider failed after retries")
		c.postErrorResult(ctx, logger, entry, err)
		return err
	}

	result := analyzer.Normalize(raw)
	c.resolveFindings(snapshot, result, logger)

	if err := c.postResult(ctx, snapshot, result, logger); err != nil {
		logger.Error().Err(err).Msg("failed to post analysis result")
		return err
	}

	logger.Info().Int("findings", result.Summary.TotalFindings).
		Str("assessment", string(result.Assessment)).
		Msg("analysis attempt completed")
	return nil
}

// resolveFindings anchors each finding to a commentable diff line. Findings
// whose file has no usable patch, or whose line cannot be resolved within
// the window, keep a nil ResolvedLine and surface in the summary instead.
func (c *Coordinator) resolveFindings(snapshot *models.PRSnapshot, result *models.AnalysisResult, logger zerolog.Logger) {
	indexes := make(map[string]*diff.LineIndex, len(snapshot.Files))
	for _, f := range snapshot.Files {
		if f.Patch == "" || f.Status == models.FileDeleted {
			continue
		}
		idx := diff.BuildIndex(f.Patch)
		if c.opts.ResolveWindow > 0 {
			idx.ResolveWindow = c.opts.ResolveWindow
		}
		indexes[f.Filename] = idx
	}

	for i := range result.Findings {
		finding := &result.Findings[i]
		idx, ok := indexes[finding.File]
		if !ok {
			continue
		}
		resolved, err := idx.Resolve(finding.Line)
		if err != nil {
			logger.Debug().Str("file", finding.File).Int("line", finding.Line).
				Msg("finding line not near any commentable line, demoting to summary")
			continue
		}
		finding.ResolvedLine = &resolved
	}
}

// postResult publishes the summary comment and then the inline comments for
// every resolved finding. The summary always goes out; inline failures for
// individual findings are tolerated. A finding's Posted flag is set only
// once its comment has actually been attached.
func (c *Coordinator) postResult(ctx context.Context, snapshot *models.PRSnapshot, result *models.AnalysisResult, logger zerolog.Logger) error {
	summary := FormatSummary(result)
	if err := c.scm.PostSummaryComment(ctx, snapshot.Owner, snapshot.Repo, snapshot.Number, summary); err != nil {
		return err
	}

	var inline []scm.InlineComment
	var queued []*models.Finding
	for i := range result.Findings {
		finding := &result.Findings[i]
		if finding.ResolvedLine == nil {
			continue
		}
		inline = append(inline, scm.InlineComment{
			File: finding.File,
			Line: *finding.ResolvedLine,
			Body: formatFinding(finding),
		})
		queued = append(queued, finding)
	}
	if len(inline) == 0 {
		return nil
	}

	rejected, err := c.scm.PostInlineComments(ctx, snapshot.Owner, snapshot.Repo, snapshot.Number, snapshot.HeadSHA, inline)
	if err != nil {
		logger.Warn().Err(err).Int("count", len(inline)).Msg("inline comments could not be posted")
		return nil
	}
	for _, finding := range queued {
		finding.Posted = true
	}
	for _, i := range rejected {
		if i >= 0 && i < len(queued) {
			queued[i].Posted = false
		}
	}
	return nil
}

// postErrorResult publishes a synthetic analysis result describing the
// failure, so the PR shows what went wrong instead of nothing at all.
func (c *Coordinator) postErrorResult(ctx context.Context, logger zerolog.Logger, entry *processingEntry, cause error) {
	result := &models.AnalysisResult{
		Findings: []models.Finding{{
			File:     "(analysis)",
			Line:     1,
			Issue:    fmt.Sprintf("Automated review could not complete: %v", cause),
			Severity: models.SeverityCritical,
			Category: models.CategoryCodeSmell,
		}},
		Assessment:     models.AssessmentReviewRequired,
		Recommendation: "Automated analysis failed. Review this pull request manually.",
	}
	result.RecomputeSummary()

	body := FormatSummary(result)
	if err := c.scm.PostSummaryComment(ctx, entry.owner, entry.repo, entry.number, body); err != nil {
		logger.Error().Err(err).Msg("failed to post error result")
	}
}

var severityEmoji = map[models.Severity]string{
	models.SeverityBlocker:  "🛑",
	models.SeverityCritical: "🔴",
	models.SeverityMajor:    "🟠",
	models.SeverityMinor:    "🟡",
	models.SeverityInfo:     "🔵",
}

// FormatSummary renders an analysis result as the markdown body of the
// summary comment.
func FormatSummary(result *models.AnalysisResult) string {
	var b strings.Builder
	b.WriteString("## ReviewPilot Analysis\n\n")
	fmt.Fprintf(&b, "**Assessment:** %s\n\n", result.Assessment)

	if result.Summary.TotalFindings == 0 {
		b.WriteString("No issues found. ✅\n")
	} else {
		fmt.Fprintf(&b, "**%d finding(s)**\n\n", result.Summary.TotalFindings)
		b.WriteString("| Severity | Count |\n|---|---|\n")
		for _, sev := range models.Severities {
			if n := result.Summary.BySeverity[sev]; n > 0 {
				fmt.Fprintf(&b, "| %s %s | %d |\n", severityEmoji[sev], sev, n)
			}
		}
		b.WriteString("\n")

		// Findings not anchored to a diff line get listed here since they
		// will not appear as inline comments.
		var unanchored []*models.Finding
		for i := range result.Findings {
			if result.Findings[i].ResolvedLine == nil {
				unanchored = append(unanchored, &result.Findings[i])
			}
		}
		if len(unanchored) > 0 {
			b.WriteString("### Findings outside the diff\n\n")
			for _, f := range unanchored {
				fmt.Fprintf(&b, "- %s **%s** `%s:%d` — %s\n", severityEmoji[f.Severity], f.Severity, f.File, f.Line, f.Issue)
			}
			b.WriteString("\n")
		}
	}

	if result.Summary.DebtEstimate != "" {
		fmt.Fprintf(&b, "**Estimated effort:** %s\n\n", result.Summary.DebtEstimate)
	}
	if result.Recommendation != "" {
		fmt.Fprintf(&b, "**Recommendation:** %s\n", result.Recommendation)
	}
	return b.String()
}

func formatFinding(f *models.Finding) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s **%s** · %s\n\n%s\n", severityEmoji[f.Severity], f.Severity, f.Category, f.Issue)
	if f.Suggestion != "" {
		fmt.Fprintf(&b, "\n**Suggestion:** %s\n", f.Suggestion)
	}
	if f.ResolvedLine != nil && *f.ResolvedLine != f.Line {
		fmt.Fprintf(&b, "\n_Originally reported at line %d._\n", f.Line)
	}
	return b.String()
}
