// Package diff turns raw unified-diff patches into an addressable index of
// commentable lines and resolves logical line numbers against it.
package diff

import (
	"errors"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ErrLineNotFound reports that a target line could not be resolved to any
// commentable line. It is an expected outcome, not a failure: callers degrade
// the finding to a non-inline remark.
var ErrLineNotFound = errors.New("diff: no commentable line near target")

// DefaultResolveWindow is the maximum distance, in lines, between a target
// line and the commentable line it may be relocated to. The value is
// empirical; it is configurable per index and nothing depends on it being
// exactly 10 beyond "some bounded window".
const DefaultResolveWindow = 10

// LineKind classifies one line of a hunk.
type LineKind string

const (
	LineAdded   LineKind = "added"
	LineDeleted LineKind = "deleted"
	LineContext LineKind = "context"
)

// Line is one classified line of a hunk. OldLine is zero for added lines and
// NewLine is zero for deleted lines.
type Line struct {
	Kind    LineKind
	OldLine int
	NewLine int
	Content string
}

// Hunk is one @@-delimited region of a unified diff.
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Lines    []Line
}

// LineIndex is the per-file structural index derived from a patch. It is
// rebuilt from the patch on demand and never mutated in place.
type LineIndex struct {
	Hunks []Hunk

	// ResolveWindow bounds how far Resolve may relocate a target line.
	// Zero means DefaultResolveWindow.
	ResolveWindow int

	commentable map[int]bool
	sorted      []int
}

// Example: @@ -12,5 +12,7 @@ func foo() {
var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// BuildIndex parses a raw unified-diff patch into a LineIndex. Parsing is
// resilient: content lines appearing before any valid hunk header are skipped
// rather than treated as errors, since upstream sources truncate large
// patches. An empty patch yields an empty index.
func BuildIndex(patch string) *LineIndex {
	idx := &LineIndex{
		ResolveWindow: DefaultResolveWindow,
		commentable:   make(map[int]bool),
	}
	if patch == "" {
		return idx
	}

	var cur *Hunk
	oldLine, newLine := 0, 0

	for _, raw := range strings.Split(patch, "\n") {
		if m := hunkHeaderRe.FindStringSubmatch(raw); m != nil {
			oldStart, _ := strconv.Atoi(m[1])
			newStart, _ := strconv.Atoi(m[3])
			oldCount, newCount := 1, 1
			if m[2] != "" {
				oldCount, _ = strconv.Atoi(m[2])
			}
			if m[4] != "" {
				newCount, _ = strconv.Atoi(m[4])
			}

			idx.Hunks = append(idx.Hunks, Hunk{
				OldStart: oldStart,
				OldCount: oldCount,
				NewStart: newStart,
				NewCount: newCount,
			})
			cur = &idx.Hunks[len(idx.Hunks)-1]
			oldLine = oldStart - 1
			newLine = newStart - 1
			continue
		}

		// No counters to advance until a hunk header has been seen.
		if cur == nil {
			continue
		}

		switch {
		case strings.HasPrefix(raw, "+"):
			newLine++
			cur.Lines = append(cur.Lines, Line{
				Kind:    LineAdded,
				NewLine: newLine,
				Content: strings.TrimPrefix(raw, "+"),
			})
			idx.commentable[newLine] = true
		case strings.HasPrefix(raw, "-"):
			oldLine++
			cur.Lines = append(cur.Lines, Line{
				Kind:    LineDeleted,
				OldLine: oldLine,
				Content: strings.TrimPrefix(raw, "-"),
			})
		case strings.HasPrefix(raw, `\`):
			// "\ No newline at end of file" markers carry no line numbers.
		default:
			oldLine++
			newLine++
			cur.Lines = append(cur.Lines, Line{
				Kind:    LineContext,
				OldLine: oldLine,
				NewLine: newLine,
				Content: strings.TrimPrefix(raw, " "),
			})
		}
	}

	idx.sorted = make([]int, 0, len(idx.commentable))
	for n := range idx.commentable {
		idx.sorted = append(idx.sorted, n)
	}
	sort.Ints(idx.sorted)
	return idx
}

// CommentableLines returns the new-side line numbers eligible for an inline
// comment, in ascending order.
func (idx *LineIndex) CommentableLines() []int {
	out := make([]int, len(idx.sorted))
	copy(out, idx.sorted)
	return out
}

// IsCommentable reports whether line is directly commentable.
func (idx *LineIndex) IsCommentable(line int) bool {
	return idx.commentable[line]
}

// Resolve maps a logical target line to the nearest commentable line.
//
// An exact match is returned unchanged. Otherwise the commentable line
// minimizing the absolute distance wins, with ties broken in favor of the
// candidate at or after the target. Candidates farther than the resolve
// window, and any resolution against an empty index, return ErrLineNotFound.
func (idx *LineIndex) Resolve(target int) (int, error) {
	if idx.commentable[target] {
		return target, nil
	}

	window := idx.ResolveWindow
	if window <= 0 {
		window = DefaultResolveWindow
	}

	best := 0
	bestDist := window + 1
	for _, n := range idx.sorted {
		dist := n - target
		if dist < 0 {
			dist = -dist
		}
		if dist < bestDist {
			best, bestDist = n, dist
		} else if dist == bestDist && n > target && best < target {
			// Equidistant: prefer the candidate after the target.
			best = n
		}
	}

	if bestDist > window {
		return 0, ErrLineNotFound
	}
	return best, nil
}
