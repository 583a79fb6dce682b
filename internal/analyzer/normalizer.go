// Package analyzer normalizes raw analysis-provider output into a canonical,
// schema-valid result. The provider is treated as hostile input: responses
// may be prose-wrapped, truncated, or structurally wrong, and Normalize must
// absorb all of that without ever failing.
package analyzer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/reviewpilot/pkg/models"
)

// SentinelFile marks the synthetic finding produced when provider output
// could not be parsed at all, distinguishing it from any real file path.
const SentinelFile = "(analysis)"

var errInvalidAfterRepair = errors.New("analyzer: JSON still invalid after repair")

// Field aliases accepted in raw findings, in resolution order. Providers have
// emitted every one of these key spellings at some point; first match wins.
var (
	fileAliases       = []string{"file", "path", "filename", "file_path", "filePath", "fileName"}
	lineAliases       = []string{"line", "line_number", "lineNumber", "start_line", "startLine"}
	issueAliases      = []string{"issue", "comment", "description", "message", "content", "body"}
	severityAliases   = []string{"severity", "level", "priority"}
	categoryAliases   = []string{"category", "type", "kind", "rule_type"}
	suggestionAliases = []string{"suggestion", "recommendation", "fix", "proposed_fix", "remediation"}
)

// Aliases accepted for the top-level findings list.
var findingsAliases = []string{"findings", "issues", "comments", "problems"}

// Normalize converts a raw provider response into a canonical AnalysisResult.
//
// The function is total: for any input, including the empty string, it
// returns a structurally valid result and never an error. Unparseable input
// degrades to a fallback result carrying a single synthetic finding that
// describes the parse failure.
func Normalize(raw string) *models.AnalysisResult {
	jsonStr := extractJSON(raw)
	if jsonStr == "" {
		return fallbackResult(fmt.Sprintf("analysis response contained no JSON object (%d bytes of text)", len(raw)))
	}

	repaired, wasRepaired, err := repairJSON(jsonStr)
	if err != nil {
		return fallbackResult(fmt.Sprintf("analysis response could not be repaired into valid JSON: %v", err))
	}
	if wasRepaired {
		log.Debug().Int("original_bytes", len(jsonStr)).Int("repaired_bytes", len(repaired)).
			Msg("analysis response required JSON repair")
	}

	var top map[string]any
	if err := json.Unmarshal([]byte(repaired), &top); err != nil {
		return fallbackResult(fmt.Sprintf("analysis response is not a JSON object: %v", err))
	}

	result := &models.AnalysisResult{
		Findings:       normalizeFindings(rawFindings(top)),
		Assessment:     normalizeAssessment(stringField(top, "assessment", "overall_assessment", "overallAssessment", "verdict")),
		Recommendation: stringField(top, "recommendation", "recommendations", "overall_recommendation"),
	}
	if result.Recommendation == "" {
		result.Recommendation = "Review the reported findings before merging."
	}

	// Provider-claimed counts are frequently inconsistent with the actual
	// finding list; only the debt estimate is worth keeping.
	if summary, ok := top["summary"].(map[string]any); ok {
		result.Summary.DebtEstimate = stringField(summary, "technical_debt", "technicalDebt", "debt_estimate", "debtEstimate")
	}
	result.RecomputeSummary()

	return result
}

// fallbackResult builds the parse-failure result: structurally valid so
// downstream consumers never special-case it.
func fallbackResult(reason string) *models.AnalysisResult {
	result := &models.AnalysisResult{
		Findings: []models.Finding{{
			File:       SentinelFile,
			Line:       1,
			Issue:      "The automated analysis response could not be parsed: " + reason,
			Severity:   models.SeverityMajor,
			Category:   models.CategoryCodeSmell,
			Suggestion: "Re-run the analysis; if the problem persists, inspect the provider output manually.",
		}},
		Assessment:     models.AssessmentReviewRequired,
		Recommendation: "Automated analysis failed to produce a valid result; manual review is required.",
	}
	result.RecomputeSummary()
	return result
}

// rawFindings pulls the findings list out of the top-level object, accepting
// historical key aliases. A missing or wrongly-typed list yields nil.
func rawFindings(top map[string]any) []any {
	for _, key := range findingsAliases {
		if list, ok := top[key].([]any); ok {
			return list
		}
	}
	return nil
}

func normalizeFindings(raw []any) []models.Finding {
	findings := make([]models.Finding, 0, len(raw))
	for _, item := range raw {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}

		f := models.Finding{
			File:       firstString(obj, fileAliases),
			Line:       coerceLine(firstValue(obj, lineAliases)),
			Issue:      firstString(obj, issueAliases),
			Severity:   normalizeSeverity(firstString(obj, severityAliases)),
			Category:   normalizeCategory(firstString(obj, categoryAliases)),
			Suggestion: firstString(obj, suggestionAliases),
		}
		if f.Issue == "" {
			// A finding with no description carries no signal.
			continue
		}
		findings = append(findings, f)
	}
	return findings
}

// coerceLine forces the provider-claimed line into a positive integer,
// defaulting to 1. Providers emit numbers, numeric strings, and garbage.
func coerceLine(v any) int {
	switch n := v.(type) {
	case float64:
		if n >= 1 {
			return int(n)
		}
	case string:
		if parsed, err := strconv.Atoi(strings.TrimSpace(n)); err == nil && parsed >= 1 {
			return parsed
		}
	}
	return 1
}

func normalizeSeverity(s string) models.Severity {
	switch models.Severity(strings.ToUpper(strings.TrimSpace(s))) {
	case models.SeverityBlocker:
		return models.SeverityBlocker
	case models.SeverityCritical:
		return models.SeverityCritical
	case models.SeverityMajor:
		return models.SeverityMajor
	case models.SeverityMinor:
		return models.SeverityMinor
	case models.SeverityInfo:
		return models.SeverityInfo
	}
	return models.SeverityInfo
}

func normalizeCategory(s string) models.Category {
	switch models.Category(strings.ToUpper(strings.TrimSpace(s))) {
	case models.CategoryBug:
		return models.CategoryBug
	case models.CategoryVulnerability:
		return models.CategoryVulnerability
	case models.CategorySecurityHotspot:
		return models.CategorySecurityHotspot
	case models.CategoryCodeSmell:
		return models.CategoryCodeSmell
	}
	return models.CategoryCodeSmell
}

func normalizeAssessment(s string) models.Assessment {
	switch models.Assessment(strings.ToUpper(strings.TrimSpace(s))) {
	case models.AssessmentProperlyReviewed:
		return models.AssessmentProperlyReviewed
	case models.AssessmentNotProperlyReviewed:
		return models.AssessmentNotProperlyReviewed
	case models.AssessmentReviewRequired:
		return models.AssessmentReviewRequired
	}
	return models.AssessmentReviewRequired
}

// firstValue returns the first present key from keys, in order.
func firstValue(obj map[string]any, keys []string) any {
	for _, k := range keys {
		if v, ok := obj[k]; ok {
			return v
		}
	}
	return nil
}

func firstString(obj map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
	}
	return ""
}

func stringField(obj map[string]any, keys ...string) string {
	return firstString(obj, keys)
}
