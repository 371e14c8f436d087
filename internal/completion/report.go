package completion

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/egv/yolo-wave/internal/gate"
	"github.com/egv/yolo-wave/internal/vcs/git"
)

type MergeOutcome string

const (
	MergeSkipped  MergeOutcome = "skipped"
	MergeMerged   MergeOutcome = "merged"
	MergeBlocked  MergeOutcome = "blocked"
	MergeConflict MergeOutcome = "conflict"
	MergeError    MergeOutcome = "error"
)

// Failed reports whether the outcome needs a human before the item can land.
func (o MergeOutcome) Failed() bool {
	return o == MergeBlocked || o == MergeConflict || o == MergeError
}

type CaptureOutcome string

const (
	CaptureNotRun    CaptureOutcome = ""
	CaptureWritten   CaptureOutcome = "written"
	CaptureNoSession CaptureOutcome = "no_session"
	CaptureFailed    CaptureOutcome = "failed"
)

type ItemReport struct {
	ID            string
	Title         string
	Worktree      string
	Branch        string
	RequiredGates []string
	Blocks        []gate.Block

	Capture    CaptureOutcome
	Transcript string
	Usage      Usage
	Terminated []string

	Merge         MergeOutcome
	Reason        string
	ConflictFiles []string
	CommitSHA     string
	Closed        bool

	Cleaned      bool
	CleanupError string
	Warnings     []string

	loaded bool
	mu     sync.Mutex
}

func (i *ItemReport) warn(format string, args ...any) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.Warnings = append(i.Warnings, fmt.Sprintf(format, args...))
}

func (i *ItemReport) block(reason string) {
	i.Merge = MergeBlocked
	i.Reason = reason
}

type BacklogCounts struct {
	Ready   int
	Blocked int
}

type Report struct {
	WaveID      string
	Trunk       string
	Items       []*ItemReport
	Skipped     []Stage
	TrunkBefore string
	TrunkAfter  string
	Diff        git.DiffStat
	Backlog     *BacklogCounts
	Warnings    []string
	Summarized  bool
	Started     time.Time
	Finished    time.Time
}

func (r *Report) warn(format string, args ...any) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r Report) Count(outcome MergeOutcome) int {
	n := 0
	for _, item := range r.Items {
		if item.Merge == outcome {
			n++
		}
	}
	return n
}

func (r Report) MergeFailures() int {
	n := 0
	for _, item := range r.Items {
		if item.Merge.Failed() {
			n++
		}
	}
	return n
}

// Failed is true iff at least one merge failed or was blocked. Skipped
// telemetry never fails a wave.
func (r Report) Failed() bool {
	return r.MergeFailures() > 0
}

func (r Report) Headline() string {
	if r.Failed() {
		return fmt.Sprintf("%d merged, %d need manual attention", r.Count(MergeMerged), r.MergeFailures())
	}
	if r.Count(MergeMerged) == 0 {
		return "nothing merged; nothing requires further action"
	}
	return fmt.Sprintf("%d merged; nothing requires further action", r.Count(MergeMerged))
}

// Markdown renders the operator summary. When any merge failed the summary
// ends with the exact next steps instead of a success line.
func (r Report) Markdown() string {
	var b strings.Builder
	title := "Wave summary"
	if r.WaveID != "" {
		title += " " + r.WaveID
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "**%s**\n\n", r.Headline())

	if len(r.Skipped) > 0 {
		skipped := make([]string, 0, len(r.Skipped))
		for _, stage := range r.Skipped {
			skipped = append(skipped, string(stage))
		}
		fmt.Fprintf(&b, "Skipped stages: %s\n\n", strings.Join(skipped, ", "))
	}

	b.WriteString("| Item | Title | Merge | Closed | Detail |\n")
	b.WriteString("|---|---|---|---|---|\n")
	for _, item := range r.Items {
		closed := "open"
		if item.Closed {
			closed = "closed"
		}
		fmt.Fprintf(&b, "| %s | %s | %s | %s | %s |\n", item.ID, escapeCell(item.Title), item.Merge, closed, escapeCell(itemDetail(item)))
	}
	b.WriteString("\n")

	if r.Diff.Files > 0 || r.Diff.Insertions > 0 || r.Diff.Deletions > 0 {
		fmt.Fprintf(&b, "Changes on %s: %d files, +%d -%d\n\n", r.Trunk, r.Diff.Files, r.Diff.Insertions, r.Diff.Deletions)
	}
	if r.Backlog != nil {
		fmt.Fprintf(&b, "Backlog: %d ready, %d blocked\n\n", r.Backlog.Ready, r.Backlog.Blocked)
	}

	if r.Failed() {
		b.WriteString("## Next steps\n\n")
		for _, item := range r.Items {
			if step := remediation(r.Trunk, item); step != "" {
				fmt.Fprintf(&b, "- %s\n", step)
			}
		}
		b.WriteString("\n")
	}

	warnings := append([]string{}, r.Warnings...)
	for _, item := range r.Items {
		for _, warning := range item.Warnings {
			warnings = append(warnings, item.ID+": "+warning)
		}
		if item.CleanupError != "" {
			warnings = append(warnings, item.ID+": cleanup: "+item.CleanupError)
		}
	}
	if len(warnings) > 0 {
		b.WriteString("## Warnings\n\n")
		for _, warning := range warnings {
			fmt.Fprintf(&b, "- %s\n", warning)
		}
	}
	return b.String()
}

func itemDetail(item *ItemReport) string {
	parts := []string{}
	if item.Reason != "" {
		parts = append(parts, item.Reason)
	}
	if item.Usage.Found {
		parts = append(parts, fmt.Sprintf("%d tokens, $%.2f", item.Usage.Tokens, item.Usage.CostUSD))
	}
	if item.Cleaned {
		parts = append(parts, "worktree removed")
	}
	return strings.Join(parts, "; ")
}

func remediation(trunk string, item *ItemReport) string {
	switch item.Merge {
	case MergeConflict:
		return fmt.Sprintf("%s: resolve the conflict locally (`git checkout %s && git merge %s`, fix %s, commit), then run `yolo-wave complete %s`",
			item.ID, trunk, item.Branch, strings.Join(item.ConflictFiles, ", "), item.ID)
	case MergeBlocked:
		if len(item.Blocks) > 0 {
			gates := make([]string, 0, len(item.Blocks))
			for _, block := range item.Blocks {
				gates = append(gates, block.Gate)
			}
			return fmt.Sprintf("%s: gates %s did not pass; fix the branch and rerun `yolo-wave gate %s --gates %s --fresh`, then `yolo-wave complete %s`",
				item.ID, strings.Join(gates, ","), item.ID, strings.Join(gates, ","), item.ID)
		}
		return fmt.Sprintf("%s: %s; fix and rerun `yolo-wave complete %s`", item.ID, item.Reason, item.ID)
	case MergeError:
		return fmt.Sprintf("%s: merge failed (%s); inspect the worktree at %s and rerun `yolo-wave complete %s`", item.ID, item.Reason, item.Worktree, item.ID)
	}
	return ""
}

func escapeCell(text string) string {
	return strings.ReplaceAll(strings.ReplaceAll(text, "|", "\\|"), "\n", " ")
}
