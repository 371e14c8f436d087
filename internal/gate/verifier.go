package gate

import (
	"context"
	"fmt"
	"strings"
)

// Request describes one gate attempt for one item.
type Request struct {
	ItemID       string
	ItemTitle    string
	Gate         string
	Worktree     string
	Base         string
	ArtifactPath string

	// Fresh archives a previous attempt's artifact instead of reusing it.
	Fresh bool
}

func (r Request) validate() error {
	switch {
	case strings.TrimSpace(r.ItemID) == "":
		return fmt.Errorf("gate request: item id is required")
	case strings.TrimSpace(r.Gate) == "":
		return fmt.Errorf("gate request for %s: gate type is required", r.ItemID)
	case strings.TrimSpace(r.Worktree) == "":
		return fmt.Errorf("gate request for %s/%s: worktree is required", r.ItemID, r.Gate)
	case strings.TrimSpace(r.ArtifactPath) == "":
		return fmt.Errorf("gate request for %s/%s: artifact path is required", r.ItemID, r.Gate)
	}
	return nil
}

// Pending is what a verifier leaves behind after spawning. SessionID is set
// only for hosted checks.
type Pending struct {
	SessionID   string
	SessionName string
}

func (p Pending) Hosted() bool {
	return p.SessionID != ""
}

// Verifier launches a check for one gate. Implementations are DirectVerifier
// and HostedVerifier.
type Verifier interface {
	Spawn(ctx context.Context, request Request) (Pending, error)
}

// SessionName is the hosted session name for a gate on an item.
func SessionName(gateType string, itemID string) string {
	return "gate-" + gateType + "-" + itemID
}

type purpose struct {
	goal     string
	criteria string
}

var purposes = map[string]purpose{
	"review":        {"Review the branch diff for correctness and maintainability.", "No blocking defects, no unfinished code, no obvious regressions."},
	"tests":         {"Run the project's automated tests against this worktree.", "All tests pass and new behaviour is covered by at least one test."},
	"e2e":           {"Run the end-to-end suite for the affected flows.", "Every end-to-end scenario touching the change passes."},
	"security":      {"Audit the change for security problems.", "No injection, secret leakage, auth bypass or unsafe deserialization."},
	"accessibility": {"Check the changed UI for accessibility.", "Interactive elements are labelled and keyboard reachable; contrast is adequate."},
	"ui":            {"Verify the changed UI renders and behaves as described.", "The described screens render without errors and match the item description."},
	"migration":     {"Check database migrations for safety.", "Migrations apply and roll back cleanly and do not lose data."},
	"performance":   {"Check the change for performance regressions.", "No new hot-path allocations or queries without justification."},
}

// Short names accepted from gate:<type> labels.
var purposeAliases = map[string]string{
	"a11y": "accessibility",
	"perf": "performance",
}

func purposeFor(gateType string) purpose {
	if alias, ok := purposeAliases[gateType]; ok {
		gateType = alias
	}
	if p, ok := purposes[gateType]; ok {
		return p
	}
	return purpose{
		goal:     fmt.Sprintf("Run the %q quality gate for this change.", gateType),
		criteria: "The change meets the bar described by the gate name.",
	}
}

// Instruction is the text injected into a hosted gate session.
func Instruction(request Request) string {
	p := purposeFor(request.Gate)
	var b strings.Builder
	fmt.Fprintf(&b, "Quality gate %q for %s", request.Gate, request.ItemID)
	if request.ItemTitle != "" {
		fmt.Fprintf(&b, " (%s)", request.ItemTitle)
	}
	b.WriteString(".\n")
	fmt.Fprintf(&b, "Purpose: %s\n", p.goal)
	fmt.Fprintf(&b, "Success criteria: %s\n", p.criteria)
	if request.Base != "" {
		fmt.Fprintf(&b, "Compare against %s.\n", request.Base)
	}
	fmt.Fprintf(&b, "When done, write exactly one JSON file to %s with this shape:\n", request.ArtifactPath)
	fmt.Fprintf(&b, `{"checkpoint": %q, "timestamp": "<RFC3339>", "passed": true|false, "summary": "<one line>", "issues": ["<issue>", ...]}`, request.Gate)
	b.WriteString("\nDo not modify source files.")
	return b.String()
}
