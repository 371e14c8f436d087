package beads

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/egv/yolo-wave/internal/contracts"
)

type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// Adapter implements contracts.Backlog on top of the bd CLI, always run from
// the repository root that owns the .beads database.
type Adapter struct {
	runner   Runner
	repoRoot string
}

func New(runner Runner, repoRoot string) *Adapter {
	return &Adapter{runner: runner, repoRoot: repoRoot}
}

var _ contracts.Backlog = (*Adapter)(nil)

type bdDependency struct {
	ID          string `json:"id"`
	DependsOnID string `json:"depends_on_id"`
}

type bdIssue struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Description  string         `json:"description"`
	Status       string         `json:"status"`
	Labels       []string       `json:"labels"`
	Notes        string         `json:"notes"`
	Dependencies []bdDependency `json:"dependencies"`
}

func (a *Adapter) List(ctx context.Context, status contracts.ItemStatus) ([]contracts.WorkItem, error) {
	var args []string
	switch status {
	case contracts.ItemStatusReady:
		args = []string{"bd", "ready", "--json"}
	case contracts.ItemStatusInProgress, contracts.ItemStatusBlocked, contracts.ItemStatusClosed:
		args = []string{"bd", "list", "--status", string(status), "--json"}
	default:
		return nil, fmt.Errorf("%w: %q", contracts.ErrInvalidItemStatus, status)
	}
	output, err := a.runner.Run(ctx, a.repoRoot, args...)
	if err != nil {
		return nil, fmt.Errorf("%s failed: %s: %w", strings.Join(args, " "), strings.TrimSpace(output), err)
	}
	issues, err := decodeIssues(output)
	if err != nil {
		return nil, err
	}
	items := make([]contracts.WorkItem, 0, len(issues))
	for _, issue := range issues {
		item := toWorkItem(issue)
		if status == contracts.ItemStatusReady {
			item.Status = contracts.ItemStatusReady
		}
		items = append(items, item)
	}
	return items, nil
}

func (a *Adapter) Get(ctx context.Context, id string) (contracts.WorkItem, error) {
	if err := contracts.ValidateItemID(id); err != nil {
		return contracts.WorkItem{}, err
	}
	output, err := a.runner.Run(ctx, a.repoRoot, "bd", "show", id, "--json")
	if err != nil {
		return contracts.WorkItem{}, fmt.Errorf("bd show %s failed: %s: %w", id, strings.TrimSpace(output), err)
	}
	issues, err := decodeIssues(output)
	if err != nil {
		return contracts.WorkItem{}, err
	}
	if len(issues) == 0 {
		return contracts.WorkItem{}, fmt.Errorf("work item %q not found", id)
	}
	return toWorkItem(issues[0]), nil
}

func (a *Adapter) SetNotes(ctx context.Context, id string, notes string) error {
	if err := contracts.ValidateItemID(id); err != nil {
		return err
	}
	output, err := a.runner.Run(ctx, a.repoRoot, "bd", "update", id, "--notes", notes)
	if err != nil {
		return fmt.Errorf("bd update %s --notes failed: %s: %w", id, strings.TrimSpace(output), err)
	}
	return nil
}

func (a *Adapter) Close(ctx context.Context, id string, reason string) error {
	if err := contracts.ValidateItemID(id); err != nil {
		return err
	}
	args := []string{"bd", "close", id}
	if strings.TrimSpace(reason) != "" {
		args = append(args, "--reason", reason)
	}
	output, err := a.runner.Run(ctx, a.repoRoot, args...)
	if err != nil {
		return fmt.Errorf("bd close %s failed: %s: %w", id, strings.TrimSpace(output), err)
	}
	return nil
}

// decodeIssues accepts both the array form and the single-object form bd
// emits depending on the subcommand.
func decodeIssues(output string) ([]bdIssue, error) {
	trimmed := strings.TrimSpace(output)
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, "{") {
		var single bdIssue
		if err := json.Unmarshal([]byte(trimmed), &single); err != nil {
			return nil, fmt.Errorf("decode bd output: %w", err)
		}
		return []bdIssue{single}, nil
	}
	var issues []bdIssue
	if err := json.Unmarshal([]byte(trimmed), &issues); err != nil {
		return nil, fmt.Errorf("decode bd output: %w", err)
	}
	return issues, nil
}

func toWorkItem(issue bdIssue) contracts.WorkItem {
	status, err := contracts.ParseItemStatus(issue.Status)
	if err != nil {
		status = contracts.ItemStatusBlocked
	}
	deps := []string{}
	for _, dep := range issue.Dependencies {
		id := dep.DependsOnID
		if id == "" {
			id = dep.ID
		}
		if id != "" {
			deps = append(deps, id)
		}
	}
	return contracts.WorkItem{
		ID:          issue.ID,
		Title:       issue.Title,
		Description: issue.Description,
		Labels:      append([]string{}, issue.Labels...),
		Status:      status,
		Notes:       issue.Notes,
		DependsOn:   deps,
	}
}
