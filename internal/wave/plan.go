package wave

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/egv/yolo-wave/internal/contracts"
	"github.com/egv/yolo-wave/internal/gate"
	"github.com/egv/yolo-wave/internal/logging"
	"github.com/egv/yolo-wave/internal/metadata"
	"github.com/egv/yolo-wave/internal/prompt"
	"github.com/egv/yolo-wave/internal/scheduler"
	"github.com/egv/yolo-wave/internal/skills"
)

type Layout interface {
	PathFor(id string) string
	BranchFor(id string) string
}

type Planner struct {
	Backlog     contracts.Backlog
	Resolver    *skills.Resolver
	Layout      Layout
	ArtifactDir string
	WaveID      string
	Events      contracts.EventSink
	Logger      *slog.Logger
	Now         func() time.Time

	// DryRun computes batches without writing assignments or prompts.
	DryRun bool
}

type PlannedItem struct {
	Item       contracts.WorkItem
	Resolution skills.Resolution
	BatchID    string
	Position   int
	Updated    bool
}

type Plan struct {
	WaveID   string
	Items    []PlannedItem
	Batches  []scheduler.Batch
	Overlaps []scheduler.Overlap
}

func (p Plan) Item(id string) (PlannedItem, bool) {
	for _, item := range p.Items {
		if item.Item.ID == id {
			return item, true
		}
	}
	return PlannedItem{}, false
}

// Plan resolves gates for ids (every ready item when ids is empty), groups
// them into batches and records batch assignment and the worker prompt in
// each item's metadata. Failing to reach the backlog is fatal here.
func (p *Planner) Plan(ctx context.Context, ids []string) (Plan, error) {
	if p.Backlog == nil || p.Resolver == nil || p.Layout == nil {
		return Plan{}, errors.New("planner needs a backlog, resolver and worktree layout")
	}
	for _, id := range ids {
		if err := contracts.ValidateItemID(id); err != nil {
			return Plan{}, &UsageError{Err: err}
		}
	}
	if len(ids) == 0 {
		ready, err := p.Backlog.List(ctx, contracts.ItemStatusReady)
		if err != nil {
			return Plan{}, fmt.Errorf("list ready items: %w", err)
		}
		for _, item := range ready {
			ids = append(ids, item.ID)
		}
	}

	plan := Plan{WaveID: p.WaveID}
	candidates := make([]scheduler.Candidate, 0, len(ids))
	for _, id := range ids {
		resolution, err := p.Resolver.ResolveAndStore(ctx, p.Backlog, id)
		if err != nil {
			return Plan{}, fmt.Errorf("resolve required gates: %w", err)
		}
		item, err := p.Backlog.Get(ctx, id)
		if err != nil {
			return Plan{}, fmt.Errorf("load %s: %w", id, err)
		}
		record := metadata.Parse(item.Notes)
		plan.Items = append(plan.Items, PlannedItem{Item: item, Resolution: resolution})
		candidates = append(candidates, scheduler.Candidate{
			ID:        id,
			Text:      item.Text(),
			Files:     record.Files,
			Skills:    append(append([]string{}, resolution.Hints...), resolution.Gates...),
			DependsOn: item.DependsOn,
		})
		p.emit(ctx, contracts.Event{Type: contracts.EventTypeItemResolved, ItemID: id, ItemTitle: item.Title})
	}

	batches, overlaps, err := scheduler.Group(candidates, scheduler.OverlapOptions{IgnoreSkills: p.Resolver.Baseline()})
	if err != nil {
		return Plan{}, err
	}
	plan.Batches = batches
	plan.Overlaps = overlaps
	for _, batch := range batches {
		if len(batch.Cycle) > 0 {
			logging.OrDiscard(p.Logger).Warn("dependency cycle in batch, using input order", "batch", batch.ID, "cycle", strings.Join(batch.Cycle, " -> "))
		}
	}

	index := map[string]int{}
	for i, item := range plan.Items {
		index[item.Item.ID] = i
	}
	for _, batch := range batches {
		for position, id := range batch.Items {
			planned := &plan.Items[index[id]]
			planned.BatchID = batch.ID
			planned.Position = position + 1
			if p.DryRun {
				continue
			}
			updated, err := p.record(ctx, planned, len(batch.Items))
			if err != nil {
				return Plan{}, err
			}
			planned.Updated = updated
			p.emit(ctx, contracts.Event{
				Type:     contracts.EventTypeBatchPlanned,
				ItemID:   id,
				BatchPos: planned.Position,
				Message:  batch.ID,
			})
		}
	}
	return plan, nil
}

func (p *Planner) record(ctx context.Context, planned *PlannedItem, batchSize int) (bool, error) {
	item := planned.Item
	worktree := p.Layout.PathFor(item.ID)
	gates := make([]prompt.Gate, 0, len(planned.Resolution.Gates))
	for _, gateType := range planned.Resolution.Gates {
		gates = append(gates, prompt.Gate{Type: gateType, Artifact: gate.ArtifactPath(worktree, p.ArtifactDir, gateType)})
	}
	text := prompt.Build(prompt.Input{
		ItemID:      item.ID,
		Title:       item.Title,
		Description: item.Description,
		Branch:      p.Layout.BranchFor(item.ID),
		Worktree:    worktree,
		Hints:       planned.Resolution.Hints,
		Gates:       gates,
		BatchID:     planned.BatchID,
		Position:    planned.Position,
		BatchSize:   batchSize,
	})

	current, err := p.Backlog.Get(ctx, item.ID)
	if err != nil {
		return false, fmt.Errorf("load %s: %w", item.ID, err)
	}
	notes := metadata.Update(current.Notes, func(record *metadata.Record) {
		record.BatchID = planned.BatchID
		record.BatchPosition = planned.Position
		record.Prompt = text
	})
	if notes == current.Notes {
		return false, nil
	}
	if err := p.Backlog.SetNotes(ctx, item.ID, notes); err != nil {
		return false, fmt.Errorf("store plan for %s: %w", item.ID, err)
	}
	planned.Item.Notes = notes
	return true, nil
}

func (p *Planner) emit(ctx context.Context, event contracts.Event) {
	if p.Events == nil {
		return
	}
	event.WaveID = p.WaveID
	if event.Timestamp.IsZero() {
		now := time.Now
		if p.Now != nil {
			now = p.Now
		}
		event.Timestamp = now().UTC()
	}
	if err := p.Events.Emit(ctx, event); err != nil {
		logging.OrDiscard(p.Logger).Warn("emit event failed", "type", event.Type, "error", err)
	}
}
