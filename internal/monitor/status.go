package monitor

import (
	"regexp"
	"strconv"
	"strings"
)

type Status string

const (
	StatusIdle          Status = "idle"
	StatusProcessing    Status = "processing"
	StatusToolUse       Status = "tool_use"
	StatusAwaitingInput Status = "awaiting_input"
	StatusAskingUser    Status = "asking_user"
	StatusStale         Status = "stale"
)

type marker struct {
	status  Status
	pattern *regexp.Regexp
}

// Checked in order; the first marker found on a line decides its status.
var markers = []marker{
	{StatusAskingUser, regexp.MustCompile(`(?i)❓|🙋|awaiting (?:user )?answer|asking (?:the )?user|askuserquestion|question pending`)},
	{StatusAwaitingInput, regexp.MustCompile(`(?i)⏸|⌛|awaiting input|waiting for input|paused|ready for input`)},
	{StatusToolUse, regexp.MustCompile(`(?i)🔧|🛠|⚙|\btool(?:_use)?:|running tool|using tool`)},
	{StatusProcessing, regexp.MustCompile(`(?i)🤔|💭|🧠|\bthinking\b|\bprocessing\b`)},
	{StatusStale, regexp.MustCompile(`(?i)💤|🥶|\bstale\b|no activity`)},
}

// Classify maps one probe line to a status. Lines with no recognised marker
// are idle.
func Classify(line string) Status {
	for _, m := range markers {
		if m.pattern.MatchString(line) {
			return m.status
		}
	}
	return StatusIdle
}

// ProbeLine is one worker row of the dashboard capture.
type ProbeLine struct {
	Session        string
	Status         Status
	ContextPercent *int
	Subagents      *int
	Raw            string
}

var (
	sessionNamePattern = regexp.MustCompile(`(?:^|[\s│|●○•▶►\[(])([A-Za-z][A-Za-z0-9_.]*[-_][A-Za-z0-9_.-]*[A-Za-z0-9])`)
	contextPattern     = regexp.MustCompile(`(?i)(?:ctx|context)?[:\s]*(\d{1,3})\s*%`)
	subagentPattern    = regexp.MustCompile(`(?i)(?:(\d+)\s*(?:sub-?agents?|agents?)\b|(?:sub-?agents?|agents?)\s*[:=]?\s*(\d+))`)
)

// ParseProbe reads a dashboard capture. Lines without a recognisable
// session name are skipped; nothing in the capture is an error.
func ParseProbe(text string) []ProbeLine {
	lines := []ProbeLine{}
	seen := map[string]bool{}
	for _, raw := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line, ok := ParseProbeLine(raw)
		if !ok || seen[line.Session] {
			continue
		}
		seen[line.Session] = true
		lines = append(lines, line)
	}
	return lines
}

func ParseProbeLine(raw string) (ProbeLine, bool) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ProbeLine{}, false
	}
	match := sessionNamePattern.FindStringSubmatch(trimmed)
	if len(match) < 2 {
		return ProbeLine{}, false
	}
	line := ProbeLine{Session: match[1], Status: Classify(trimmed), Raw: trimmed}
	if m := contextPattern.FindStringSubmatch(trimmed); len(m) == 2 {
		if value, err := strconv.Atoi(m[1]); err == nil && value <= 100 {
			line.ContextPercent = &value
		}
	}
	if m := subagentPattern.FindStringSubmatch(trimmed); len(m) == 3 {
		digits := m[1]
		if digits == "" {
			digits = m[2]
		}
		if value, err := strconv.Atoi(digits); err == nil {
			line.Subagents = &value
		}
	}
	return line, true
}
