package gate

import (
	"regexp"
	"strings"
)

var verdictLinePattern = regexp.MustCompile(`(?i)^\s*REVIEW_VERDICT\s*:\s*(pass|fail)(?:\s*DONE)?\s*$`)
var needsWorkPattern = regexp.MustCompile(`(?i)\bneeds[ _-]work\b`)
var issueLinePattern = regexp.MustCompile(`^\s*(?:[-*]|\d+[.)])\s+(.+)$`)

const maxIssues = 20

// Verdict is what a direct reviewer said about a diff.
type Verdict struct {
	Passed  bool
	Summary string
	Issues  []string
}

// ParseVerdict reads reviewer output. A structured REVIEW_VERDICT line wins
// (the last one counts); otherwise an explicit "needs work" marker fails the
// review and anything else passes.
func ParseVerdict(output string) Verdict {
	normalized := strings.NewReplacer("\r\n", "\n", "\r", "\n").Replace(output)
	lines := strings.Split(normalized, "\n")

	structured := ""
	for _, line := range lines {
		if matches := verdictLinePattern.FindStringSubmatch(line); len(matches) == 2 {
			structured = strings.ToLower(matches[1])
		}
	}

	verdict := Verdict{Passed: true}
	switch {
	case structured != "":
		verdict.Passed = structured == "pass"
	case NeedsWork(normalized):
		verdict.Passed = false
	}

	for _, line := range lines {
		if matches := issueLinePattern.FindStringSubmatch(line); len(matches) == 2 && len(verdict.Issues) < maxIssues {
			verdict.Issues = append(verdict.Issues, strings.TrimSpace(matches[1]))
		}
	}
	verdict.Summary = summaryLine(lines, verdict.Passed)
	return verdict
}

func NeedsWork(text string) bool {
	return needsWorkPattern.MatchString(text)
}

func summaryLine(lines []string, passed bool) string {
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || verdictLinePattern.MatchString(trimmed) || issueLinePattern.MatchString(trimmed) {
			continue
		}
		if len(trimmed) > 200 {
			trimmed = trimmed[:200] + "..."
		}
		return trimmed
	}
	if passed {
		return "no issues reported"
	}
	return "reviewer reported issues"
}
