package prompt

import (
	"fmt"
	"strings"
)

// Gate is one quality check the worker's branch must pass, with the path
// its verifier will write the result to.
type Gate struct {
	Type     string
	Artifact string
}

type Input struct {
	ItemID      string
	Title       string
	Description string
	Branch      string
	Worktree    string
	Hints       []string
	Gates       []Gate
	BatchID     string
	Position    int
	BatchSize   int
}

// Build renders the instruction a wave worker is started with.
func Build(in Input) string {
	return fmt.Sprintf(`You are a wave worker. All permissions granted inside your worktree.

Your task is: %s - %s

**Description:**
%s

**Workspace:**
- Worktree: %s
- Branch: %s
- %s

**Capability hints:**
%s

**Required gates:**
%s

**Rules:**
- Work only inside the worktree and commit to your branch
- Do not modify unrelated files
- Write failing tests before implementation code
- Do not merge into trunk; the wave completion step lands your branch
- Gate verifiers write their own results; never create result files yourself

Start now by reading the relevant code and writing your first failing test.
`, in.ItemID, in.Title, orNone(strings.TrimSpace(in.Description)), in.Worktree, in.Branch, batchLine(in), bullets(in.Hints), gateLines(in.Gates))
}

func batchLine(in Input) string {
	if in.BatchID == "" || in.BatchSize <= 1 {
		return "Batch: runs in parallel with other batches"
	}
	return fmt.Sprintf("Batch: %s, position %d of %d; items before you may touch the same files", in.BatchID, in.Position, in.BatchSize)
}

func bullets(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return "- " + strings.Join(items, "\n- ")
}

func gateLines(gates []Gate) string {
	if len(gates) == 0 {
		return "(none)"
	}
	lines := make([]string, 0, len(gates))
	for _, gate := range gates {
		lines = append(lines, fmt.Sprintf("- %s (result: %s)", gate.Type, gate.Artifact))
	}
	return strings.Join(lines, "\n")
}

func orNone(text string) string {
	if text == "" {
		return "(none)"
	}
	return text
}
