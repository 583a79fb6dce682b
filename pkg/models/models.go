package models

import (
	"fmt"
	"time"
)

// FileStatus describes how a file changed within a pull request.
type FileStatus string

const (
	FileAdded    FileStatus = "added"
	FileModified FileStatus = "modified"
	FileDeleted  FileStatus = "deleted"
)

// FileDiff represents one file's change in a pull request snapshot.
// Patch is the raw unified-diff text; it is empty for binary or oversized
// files, in which case the file cannot receive inline comments.
type FileDiff struct {
	Filename string     `json:"filename"`
	Status   FileStatus `json:"status"`
	Patch    string     `json:"patch,omitempty"`
}

// Comment is an existing discussion comment on a pull request.
type Comment struct {
	ID        int64     `json:"id"`
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	IsBot     bool      `json:"is_bot"`
	CreatedAt time.Time `json:"created_at"`
}

// PRSnapshot is everything the pipeline needs about a pull request at the
// moment an analysis attempt starts.
type PRSnapshot struct {
	Owner            string     `json:"owner"`
	Repo             string     `json:"repo"`
	Number           int        `json:"number"`
	Title            string     `json:"title"`
	Body             string     `json:"body"`
	HeadSHA          string     `json:"head_sha"`
	BaseBranch       string     `json:"base_branch"`
	Draft            bool       `json:"draft"`
	Files            []FileDiff `json:"files"`
	ExistingComments []Comment  `json:"existing_comments"`
}

// Fingerprint returns the deduplication key for this pull request.
func (s *PRSnapshot) Fingerprint() string {
	return Fingerprint(s.Owner, s.Repo, s.Number)
}

// Fingerprint builds the owner/repo#number key identifying a pull request
// independent of which event triggered processing.
func Fingerprint(owner, repo string, number int) string {
	return fmt.Sprintf("%s/%s#%d", owner, repo, number)
}

// Severity is the impact level of a finding.
type Severity string

const (
	SeverityBlocker  Severity = "BLOCKER"
	SeverityCritical Severity = "CRITICAL"
	SeverityMajor    Severity = "MAJOR"
	SeverityMinor    Severity = "MINOR"
	SeverityInfo     Severity = "INFO"
)

// Severities lists all valid severities from most to least severe.
var Severities = []Severity{SeverityBlocker, SeverityCritical, SeverityMajor, SeverityMinor, SeverityInfo}

// Category classifies what kind of problem a finding reports.
type Category string

const (
	CategoryBug             Category = "BUG"
	CategoryVulnerability   Category = "VULNERABILITY"
	CategorySecurityHotspot Category = "SECURITY_HOTSPOT"
	CategoryCodeSmell       Category = "CODE_SMELL"
)

// Categories lists all valid finding categories.
var Categories = []Category{CategoryBug, CategoryVulnerability, CategorySecurityHotspot, CategoryCodeSmell}

// Assessment is the overall verdict of an analysis pass.
type Assessment string

const (
	AssessmentProperlyReviewed    Assessment = "PROPERLY_REVIEWED"
	AssessmentNotProperlyReviewed Assessment = "NOT_PROPERLY_REVIEWED"
	AssessmentReviewRequired      Assessment = "REVIEW_REQUIRED"
)

// Finding is one reported issue from an analysis pass.
//
// Line is the line number the analysis provider claimed; ResolvedLine is the
// line actually used for posting after diff resolution and may differ or be
// nil when the finding could not be anchored to the diff.
type Finding struct {
	File         string   `json:"file"`
	Line         int      `json:"line"`
	Issue        string   `json:"issue"`
	Severity     Severity `json:"severity"`
	Category     Category `json:"category"`
	Suggestion   string   `json:"suggestion,omitempty"`
	Posted       bool     `json:"posted"`
	ResolvedLine *int     `json:"resolved_line,omitempty"`
}

// Summary holds the aggregate counts for one analysis pass. The counts are
// always recomputed from the finding list, never taken from provider output.
type Summary struct {
	TotalFindings int              `json:"total_findings"`
	BySeverity    map[Severity]int `json:"by_severity"`
	ByCategory    map[Category]int `json:"by_category"`
	DebtEstimate  string           `json:"debt_estimate,omitempty"`
}

// AnalysisResult is the canonical output of one analysis pass.
type AnalysisResult struct {
	Summary        Summary    `json:"summary"`
	Findings       []Finding  `json:"findings"`
	Assessment     Assessment `json:"assessment"`
	Recommendation string     `json:"recommendation"`
}

// RecomputeSummary rebuilds the summary counts from the finding list,
// preserving any debt estimate already set.
func (r *AnalysisResult) RecomputeSummary() {
	s := Summary{
		TotalFindings: len(r.Findings),
		BySeverity:    make(map[Severity]int),
		ByCategory:    make(map[Category]int),
		DebtEstimate:  r.Summary.DebtEstimate,
	}
	for _, f := range r.Findings {
		s.BySeverity[f.Severity]++
		s.ByCategory[f.Category]++
	}
	r.Summary = s
}

// TriggerKind identifies which kind of inbound event reached the coordinator.
type TriggerKind string

const (
	TriggerPR            TriggerKind = "pull_request"
	TriggerReview        TriggerKind = "review_submitted"
	TriggerReviewComment TriggerKind = "review_comment_created"
)

// TriggerEvent is an inbound event abstracted from the webhook transport.
type TriggerEvent struct {
	Kind       TriggerKind `json:"kind"`
	Owner      string      `json:"owner"`
	Repo       string      `json:"repo"`
	Number     int         `json:"number"`
	Action     string      `json:"action,omitempty"`
	Draft      bool        `json:"draft"`
	BaseBranch string      `json:"base_branch,omitempty"`
	IsBot      bool        `json:"is_bot"`
}

// Fingerprint returns the deduplication key for the pull request this event
// refers to.
func (e *TriggerEvent) Fingerprint() string {
	return Fingerprint(e.Owner, e.Repo, e.Number)
}
