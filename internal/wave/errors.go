package wave

import (
	"errors"
	"fmt"
	"strings"
)

const (
	ExitOK             = 0
	ExitFailed         = 1
	ExitUsage          = 2
	ExitInfrastructure = 3
)

// ErrFailed reports that at least one required gate or merge did not pass.
// The details are in the command's own output.
var ErrFailed = errors.New("one or more required gates or merges failed")

// UsageError is a malformed invocation, detected before any side effect.
type UsageError struct {
	Err error
}

func (e *UsageError) Error() string { return e.Err.Error() }
func (e *UsageError) Unwrap() error { return e.Err }

func Usagef(format string, args ...any) error {
	return &UsageError{Err: fmt.Errorf(format, args...)}
}

// ExitCode maps a command error to the process exit status.
func ExitCode(err error) int {
	var usage *UsageError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &usage):
		return ExitUsage
	case errors.Is(err, ErrFailed):
		return ExitFailed
	default:
		return ExitInfrastructure
	}
}

type errorClass struct {
	category    string
	remediation string
}

var errorTaxonomy = []struct {
	match func(string) bool
	class errorClass
}{
	{match: containsAny("invalid work item id", "is required", "unknown stage", "unknown command", "listed twice", "unknown flag", "must be", "accepts ", "config file at"), class: errorClass{category: "input", remediation: "Fix the command line or .yolo-wave/config.yaml; nothing was changed."}},
	{match: containsAny("already exists", "already resolved", "already gone", "nothing to"), class: errorClass{category: "noop", remediation: "Nothing to do; the requested state is already in place."}},
	{match: containsAny("conflict", "gates not passed", "timed_out", "needs work", "required gates or merges failed"), class: errorClass{category: "policy", remediation: "Follow the next steps in the summary, then rerun the command for the affected items only."}},
	{match: containsAny("session service unavailable", "connection refused", "no server running", "deadline exceeded", "timed out", "timeout", "i/o timeout", "unreachable"), class: errorClass{category: "transient", remediation: "Check that the session service and tmux are running, then retry; status is unknown until then."}},
	{match: containsAny("bd ", "beads", "backlog"), class: errorClass{category: "backlog", remediation: "Verify the bd CLI works in the repository root (bd ready --json), then rerun."}},
	{match: containsAny("git", "checkout", "branch", "worktree", "not a git repository", "would be overwritten"), class: errorClass{category: "git/vcs", remediation: "Fix repository state (clean trunk checkout, valid branches), then rerun."}},
}

// FormatActionableError renders err as category, cause and next step.
func FormatActionableError(err error) string {
	if err == nil {
		return ""
	}
	cause := normalizeCause(trimGenericExitStatus(err.Error()))
	class := classifyError(cause)
	return "Category: " + class.category + "\nCause: " + cause + "\nNext step: " + class.remediation
}

func normalizeCause(cause string) string {
	parts := strings.Split(cause, "\n")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		line := strings.TrimSpace(part)
		if line == "" || isExitStatusLine(line) {
			continue
		}
		normalized = append(normalized, line)
	}
	if len(normalized) == 0 {
		return strings.TrimSpace(cause)
	}
	return strings.Join(normalized, " | ")
}

func isExitStatusLine(line string) bool {
	line = strings.ToLower(strings.TrimSpace(line))
	n, ok := strings.CutPrefix(line, "exit status ")
	return ok && isDigits(n)
}

// trimGenericExitStatus drops a trailing ": exit status N" that carries no
// information beyond the command output before it.
func trimGenericExitStatus(cause string) string {
	trimmed := strings.TrimSpace(cause)
	idx := strings.LastIndex(strings.ToLower(trimmed), ": exit status ")
	if idx <= 0 {
		return trimmed
	}
	if !isDigits(strings.TrimSpace(trimmed[idx+len(": exit status "):])) {
		return trimmed
	}
	return strings.TrimSpace(trimmed[:idx])
}

func isDigits(text string) bool {
	if text == "" {
		return false
	}
	for _, r := range text {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func classifyError(cause string) errorClass {
	text := strings.ToLower(cause)
	for _, entry := range errorTaxonomy {
		if entry.match(text) {
			return entry.class
		}
	}
	return errorClass{
		category:    "unknown",
		remediation: "Check .yolo-wave/logs for details and retry; escalate with the full error text if it persists.",
	}
}

func containsAny(parts ...string) func(string) bool {
	return func(text string) bool {
		for _, part := range parts {
			if strings.Contains(text, part) {
				return true
			}
		}
		return false
	}
}
