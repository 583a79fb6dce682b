package analyzer

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// extractJSON locates the JSON object inside a raw provider response. Models
// routinely wrap their output in markdown fences or surround it with prose,
// so the object is found by outermost brace positions rather than by trusting
// the response to be pure JSON. Returns "" when no object can be located.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	// Prefer fenced blocks when present.
	if strings.Contains(raw, "```") {
		var inside []string
		inBlock := false
		for _, line := range strings.Split(raw, "\n") {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				inBlock = !inBlock
				continue
			}
			if inBlock {
				inside = append(inside, line)
			}
		}
		if len(inside) > 0 {
			if fenced := strings.TrimSpace(strings.Join(inside, "\n")); strings.Contains(fenced, "{") {
				raw = fenced
			}
		}
	}

	start := strings.Index(raw, "{")
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return raw[start : i+1]
			}
		}
	}

	// Truncated object: hand back what we have, repair closes it.
	return raw[start:]
}

var (
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	lineCommentRe   = regexp.MustCompile(`(?m)^\s*//.*$`)
	blockCommentRe  = regexp.MustCompile(`(?s)/\*.*?\*/`)
)

// repairJSON attempts to turn almost-JSON into valid JSON. The cheap textual
// strategies from provider output we have actually observed run first
// (trailing commas, hallucinated comments, unbalanced braces); the jsonrepair
// library is the sophisticated fallback. The bool reports whether any repair
// was applied.
func repairJSON(s string) (string, bool, error) {
	var probe any
	if json.Unmarshal([]byte(s), &probe) == nil {
		return s, false, nil
	}

	repaired := s
	repaired = lineCommentRe.ReplaceAllString(repaired, "")
	repaired = blockCommentRe.ReplaceAllString(repaired, "")
	repaired = trailingCommaRe.ReplaceAllString(repaired, "$1")
	repaired = completeBraces(strings.TrimSpace(repaired))

	if json.Unmarshal([]byte(repaired), &probe) == nil {
		return repaired, true, nil
	}

	fixed, err := jsonrepair.JSONRepair(repaired)
	if err != nil {
		return repaired, true, err
	}
	if json.Unmarshal([]byte(fixed), &probe) != nil {
		return fixed, true, errInvalidAfterRepair
	}
	return fixed, true, nil
}

// completeBraces appends the closing braces/brackets a truncated response is
// missing, last opened first closed.
func completeBraces(s string) string {
	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			stack = append(stack, '}')
		case c == '[':
			stack = append(stack, ']')
		case c == '}' || c == ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}
	for i := len(stack) - 1; i >= 0; i-- {
		s += string(stack[i])
	}
	return s
}
