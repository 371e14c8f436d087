package gate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/egv/yolo-wave/internal/contracts"
	"github.com/egv/yolo-wave/internal/metadata"
)

type Block struct {
	Gate   string
	State  State
	Reason string
}

func (b Block) String() string {
	if b.Reason == "" {
		return fmt.Sprintf("%s %s", b.Gate, b.State)
	}
	return fmt.Sprintf("%s %s: %s", b.Gate, b.State, b.Reason)
}

type Eligibility struct {
	ItemID   string
	Eligible bool
	Blocks   []Block
}

func (e Eligibility) Reason() string {
	if e.Eligible {
		return ""
	}
	parts := make([]string, 0, len(e.Blocks))
	for _, block := range e.Blocks {
		parts = append(parts, block.String())
	}
	return strings.Join(parts, "; ")
}

// Evaluate decides merge eligibility: every required gate must be PASSED.
// A gate with no known outcome blocks as PENDING.
func Evaluate(itemID string, required []string, outcomes map[string]Result) Eligibility {
	gates := append([]string{}, required...)
	sort.Strings(gates)
	eligibility := Eligibility{ItemID: itemID, Eligible: true}
	for _, gateType := range gates {
		outcome, ok := outcomes[gateType]
		switch {
		case !ok:
			eligibility.Blocks = append(eligibility.Blocks, Block{Gate: gateType, State: StatePending, Reason: "no result recorded"})
		case outcome.State != StatePassed:
			eligibility.Blocks = append(eligibility.Blocks, Block{Gate: gateType, State: outcome.State, Reason: outcome.Reason})
		}
	}
	eligibility.Eligible = len(eligibility.Blocks) == 0
	return eligibility
}

// Outcomes collects what is known about each required gate. Artifacts in
// the worktree are authoritative; recorded states from item metadata fill
// in for gates whose artifact is missing.
func Outcomes(worktree string, artifactDir string, required []string, recorded map[string]string) map[string]Result {
	outcomes := map[string]Result{}
	for _, gateType := range required {
		if worktree != "" {
			artifact, err := ReadArtifact(ArtifactPath(worktree, artifactDir, gateType))
			if err == nil {
				outcomes[gateType] = Result{Gate: gateType, State: artifact.State(), Reason: artifact.Summary, Artifact: &artifact}
				continue
			}
			if !errors.Is(err, ErrArtifactMissing) {
				outcomes[gateType] = Result{Gate: gateType, State: StateFailed, Reason: err.Error()}
				continue
			}
		}
		if raw, ok := recorded[gateType]; ok {
			if state, err := ParseState(raw); err == nil && state.Terminal() {
				outcomes[gateType] = Result{Gate: gateType, State: state, Reason: "recorded in item metadata"}
			}
		}
	}
	return outcomes
}

// Store writes gate outcomes into the item's gates.results metadata,
// keeping outcomes for gates not in results.
func Store(ctx context.Context, backlog contracts.Backlog, itemID string, results []Result) error {
	if len(results) == 0 {
		return nil
	}
	item, err := backlog.Get(ctx, itemID)
	if err != nil {
		return fmt.Errorf("load %s: %w", itemID, err)
	}
	notes := metadata.Update(item.Notes, func(record *metadata.Record) {
		if record.GateResults == nil {
			record.GateResults = map[string]string{}
		}
		for _, result := range results {
			record.GateResults[result.Gate] = string(result.State)
		}
	})
	if notes == item.Notes {
		return nil
	}
	if err := backlog.SetNotes(ctx, itemID, notes); err != nil {
		return fmt.Errorf("store gate results for %s: %w", itemID, err)
	}
	return nil
}
