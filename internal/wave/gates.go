package wave

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/egv/yolo-wave/internal/contracts"
	"github.com/egv/yolo-wave/internal/gate"
	"github.com/egv/yolo-wave/internal/metadata"
	"github.com/egv/yolo-wave/internal/skills"
)

type GateRunner interface {
	RunAll(ctx context.Context, requests []gate.Request) ([]gate.Result, error)
}

// Gates runs the required gates of a set of items and records the outcome
// in their metadata.
type Gates struct {
	Backlog     contracts.Backlog
	Resolver    *skills.Resolver
	Runner      GateRunner
	Layout      Layout
	ArtifactDir string
	Trunk       string
}

type GateOptions struct {
	// Only restricts the run to these gate types.
	Only  []string
	Fresh bool

	// Worktree overrides the worktree location; only valid for one item.
	Worktree string
}

type ItemGates struct {
	ItemID      string
	Title       string
	Worktree    string
	Required    []string
	Results     []gate.Result
	Eligibility gate.Eligibility

	// StoreErr is set when the results could not be written back to the
	// backlog. Results and Eligibility still reflect this run.
	StoreErr error
}

// Failed reports whether any gate run for the item did not pass.
func (i ItemGates) Failed() bool {
	for _, result := range i.Results {
		if result.State != gate.StatePassed {
			return true
		}
	}
	return false
}

func (g *Gates) Run(ctx context.Context, ids []string, opts GateOptions) ([]ItemGates, error) {
	if len(ids) == 0 {
		return nil, Usagef("at least one item id is required")
	}
	for _, id := range ids {
		if err := contracts.ValidateItemID(id); err != nil {
			return nil, &UsageError{Err: err}
		}
	}
	if opts.Worktree != "" && len(ids) > 1 {
		return nil, Usagef("--worktree can only be used with a single item")
	}
	only := normalizeList(opts.Only)

	items := make([]ItemGates, 0, len(ids))
	notes := map[string]string{}
	requests := []gate.Request{}
	for _, id := range ids {
		item, err := g.Backlog.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", id, err)
		}
		required := metadata.Parse(item.Notes).Gates
		if len(required) == 0 {
			resolution, err := g.Resolver.ResolveAndStore(ctx, g.Backlog, id)
			if err != nil {
				return nil, fmt.Errorf("resolve required gates: %w", err)
			}
			required = resolution.Gates
		}
		notes[id] = item.Notes
		worktree := opts.Worktree
		if worktree == "" {
			worktree = g.Layout.PathFor(id)
		}
		entry := ItemGates{ItemID: id, Title: item.Title, Worktree: worktree, Required: required}

		selected := required
		if len(only) > 0 {
			selected = only
		}
		if info, err := os.Stat(worktree); err != nil || !info.IsDir() {
			for _, gateType := range selected {
				entry.Results = append(entry.Results, gate.Result{
					ItemID: id,
					Gate:   gateType,
					State:  gate.StateFailed,
					Reason: "worktree " + worktree + " does not exist; provision it first",
				})
			}
			items = append(items, entry)
			continue
		}
		for _, gateType := range selected {
			requests = append(requests, gate.Request{
				ItemID:       id,
				ItemTitle:    item.Title,
				Gate:         gateType,
				Worktree:     worktree,
				Base:         g.Trunk,
				ArtifactPath: gate.ArtifactPath(worktree, g.ArtifactDir, gateType),
				Fresh:        opts.Fresh,
			})
		}
		items = append(items, entry)
	}

	results, err := g.Runner.RunAll(ctx, requests)
	if err != nil {
		return nil, err
	}
	byItem := gate.ResultsByItem(results)
	for i := range items {
		entry := &items[i]
		ran := byItem[entry.ItemID]
		entry.Results = append(entry.Results, ran...)
		entry.StoreErr = gate.Store(ctx, g.Backlog, entry.ItemID, ran)

		recorded := map[string]string{}
		for gateType, state := range metadata.Parse(notes[entry.ItemID]).GateResults {
			recorded[gateType] = state
		}
		for _, result := range ran {
			recorded[result.Gate] = string(result.State)
		}
		outcomes := gate.Outcomes(entry.Worktree, g.ArtifactDir, entry.Required, recorded)
		entry.Eligibility = gate.Evaluate(entry.ItemID, entry.Required, outcomes)
	}
	return items, nil
}

// StoreErrors joins the per-item store failures of a run.
func StoreErrors(items []ItemGates) error {
	var errs []error
	for _, item := range items {
		if item.StoreErr != nil {
			errs = append(errs, item.StoreErr)
		}
	}
	return errors.Join(errs...)
}

func normalizeList(values []string) []string {
	out := []string{}
	seen := map[string]bool{}
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			part = strings.ToLower(strings.TrimSpace(part))
			if part != "" && !seen[part] {
				seen[part] = true
				out = append(out, part)
			}
		}
	}
	return out
}
