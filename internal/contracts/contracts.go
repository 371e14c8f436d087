package contracts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

type ItemStatus string

const (
	ItemStatusReady      ItemStatus = "ready"
	ItemStatusInProgress ItemStatus = "in_progress"
	ItemStatusBlocked    ItemStatus = "blocked"
	ItemStatusClosed     ItemStatus = "closed"
)

var ErrInvalidItemStatus = errors.New("invalid item status")

func ParseItemStatus(raw string) (ItemStatus, error) {
	switch ItemStatus(strings.TrimSpace(strings.ToLower(raw))) {
	case ItemStatusReady, "open":
		return ItemStatusReady, nil
	case ItemStatusInProgress:
		return ItemStatusInProgress, nil
	case ItemStatusBlocked:
		return ItemStatusBlocked, nil
	case ItemStatusClosed:
		return ItemStatusClosed, nil
	default:
		return "", ErrInvalidItemStatus
	}
}

var itemIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`)

// ValidateItemID rejects identifiers that cannot be used as branch, path or
// session name components.
func ValidateItemID(id string) error {
	if !itemIDPattern.MatchString(id) || strings.Contains(id, "..") {
		return fmt.Errorf("invalid work item id %q", id)
	}
	return nil
}

// WorkItem is one unit of backlog work. Notes carries the raw metadata blob;
// callers decode it with the metadata package.
type WorkItem struct {
	ID          string
	Title       string
	Description string
	Labels      []string
	Status      ItemStatus
	Notes       string
	DependsOn   []string
}

// Text is the combined title, description and labels used for rule matching.
func (w WorkItem) Text() string {
	parts := []string{w.Title, w.Description}
	parts = append(parts, w.Labels...)
	return strings.Join(parts, "\n")
}

func (w WorkItem) HasLabel(label string) bool {
	for _, candidate := range w.Labels {
		if strings.EqualFold(candidate, label) {
			return true
		}
	}
	return false
}

// Backlog is the read/write contract against the issue tracker.
type Backlog interface {
	List(ctx context.Context, status ItemStatus) ([]WorkItem, error)
	Get(ctx context.Context, id string) (WorkItem, error)
	SetNotes(ctx context.Context, id string, notes string) error
}

// Closer is implemented by backlogs that can close an item once its branch
// has landed.
type Closer interface {
	Close(ctx context.Context, id string, reason string) error
}

type EventType string

const (
	EventTypeWaveStarted       EventType = "wave_started"
	EventTypeWaveFinished      EventType = "wave_finished"
	EventTypeItemResolved      EventType = "item_resolved"
	EventTypeBatchPlanned      EventType = "batch_planned"
	EventTypeWorktreeReady     EventType = "worktree_ready"
	EventTypeWorktreeWarning   EventType = "worktree_warning"
	EventTypeGateTransition    EventType = "gate_transition"
	EventTypeGateResolved      EventType = "gate_resolved"
	EventTypeStageStarted      EventType = "stage_started"
	EventTypeStageFinished     EventType = "stage_finished"
	EventTypeStageSkipped      EventType = "stage_skipped"
	EventTypeCaptureCompleted  EventType = "capture_completed"
	EventTypeSessionTerminated EventType = "session_terminated"
	EventTypeMergeBlocked      EventType = "merge_blocked"
	EventTypeMergeLanded       EventType = "merge_landed"
	EventTypeMergeConflict     EventType = "merge_conflict"
	EventTypeCleanupCompleted  EventType = "cleanup_completed"
	EventTypeAlertRaised       EventType = "alert_raised"
)

type Event struct {
	Type      EventType
	WaveID    string
	ItemID    string
	ItemTitle string
	Gate      string
	Stage     string
	Worktree  string
	BatchPos  int
	Message   string
	Metadata  map[string]string
	Timestamp time.Time
}

type eventPayload struct {
	Type      EventType         `json:"type"`
	WaveID    string            `json:"wave_id,omitempty"`
	ItemID    string            `json:"item_id,omitempty"`
	ItemTitle string            `json:"item_title,omitempty"`
	Gate      string            `json:"gate,omitempty"`
	Stage     string            `json:"stage,omitempty"`
	Worktree  string            `json:"worktree,omitempty"`
	BatchPos  int               `json:"batch_pos,omitempty"`
	Message   string            `json:"message,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	TS        string            `json:"ts"`
}

func MarshalEventJSONL(event Event) (string, error) {
	payload := eventPayload{
		Type:      event.Type,
		WaveID:    event.WaveID,
		ItemID:    event.ItemID,
		ItemTitle: event.ItemTitle,
		Gate:      event.Gate,
		Stage:     event.Stage,
		Worktree:  event.Worktree,
		BatchPos:  event.BatchPos,
		Message:   event.Message,
		Metadata:  event.Metadata,
		TS:        event.Timestamp.UTC().Format(time.RFC3339),
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(encoded) + "\n", nil
}

type EventSink interface {
	Emit(ctx context.Context, event Event) error
}

// NopSink drops every event.
type NopSink struct{}

func (NopSink) Emit(context.Context, Event) error { return nil }
