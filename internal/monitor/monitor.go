package monitor

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/egv/yolo-wave/internal/contracts"
	"github.com/egv/yolo-wave/internal/logging"
	"github.com/egv/yolo-wave/internal/session"
)

type SessionLister interface {
	List(ctx context.Context) ([]session.Session, error)
}

type Dashboard interface {
	Dashboard(ctx context.Context) (string, error)
}

type ItemSource interface {
	List(ctx context.Context, status contracts.ItemStatus) ([]contracts.WorkItem, error)
}

// WorkerSession is rebuilt from scratch on every poll.
type WorkerSession struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ItemID         string `json:"item_id,omitempty"`
	Status         Status `json:"status"`
	ContextPercent *int   `json:"context_percent,omitempty"`
	Subagents      *int   `json:"subagents,omitempty"`
}

type Snapshot struct {
	Taken      time.Time       `json:"taken"`
	Workers    []WorkerSession `json:"workers"`
	ServiceOK  bool            `json:"service_ok"`
	ProbeOK    bool            `json:"probe_ok"`
	InProgress []string        `json:"in_progress,omitempty"`
	Unassigned []string        `json:"unassigned,omitempty"`
}

type Config struct {
	Sessions SessionLister
	Probe    Dashboard
	Items    ItemSource
	Timeout  time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
}

type Monitor struct {
	sessions SessionLister
	probe    Dashboard
	items    ItemSource
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

func New(cfg Config) *Monitor {
	m := &Monitor{
		sessions: cfg.Sessions,
		probe:    cfg.Probe,
		items:    cfg.Items,
		timeout:  cfg.Timeout,
		logger:   logging.OrDiscard(cfg.Logger),
		now:      cfg.Now,
	}
	if m.timeout <= 0 {
		m.timeout = 5 * time.Second
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Poll never fails. Sources that cannot be read contribute nothing and are
// flagged in the snapshot.
func (m *Monitor) Poll(ctx context.Context) Snapshot {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	snapshot := Snapshot{Taken: m.now(), Workers: []WorkerSession{}}
	inProgress := m.inProgress(ctx)
	for _, item := range inProgress {
		snapshot.InProgress = append(snapshot.InProgress, item.ID)
	}

	byName := map[string]int{}
	if m.sessions != nil {
		sessions, err := m.sessions.List(ctx)
		if err != nil {
			m.logger.Debug("session service unavailable", "error", err)
		} else {
			snapshot.ServiceOK = true
			for _, s := range sessions {
				if s.State == session.StateExited {
					continue
				}
				byName[s.Name] = len(snapshot.Workers)
				snapshot.Workers = append(snapshot.Workers, WorkerSession{
					ID:     s.ID,
					Name:   s.Name,
					ItemID: Correlate(s.Name, inProgress),
					Status: StatusIdle,
				})
			}
		}
	}

	if m.probe != nil {
		text, err := m.probe.Dashboard(ctx)
		if err != nil {
			m.logger.Debug("dashboard probe unavailable", "error", err)
		} else {
			snapshot.ProbeOK = true
			for _, line := range ParseProbe(text) {
				idx, ok := byName[line.Session]
				if !ok {
					idx = len(snapshot.Workers)
					byName[line.Session] = idx
					snapshot.Workers = append(snapshot.Workers, WorkerSession{
						ID:     line.Session,
						Name:   line.Session,
						ItemID: Correlate(line.Session, inProgress),
					})
				}
				worker := &snapshot.Workers[idx]
				worker.Status = line.Status
				worker.ContextPercent = line.ContextPercent
				worker.Subagents = line.Subagents
			}
		}
	}

	assigned := map[string]bool{}
	for _, worker := range snapshot.Workers {
		if worker.ItemID != "" {
			assigned[worker.ItemID] = true
		}
	}
	for _, id := range snapshot.InProgress {
		if !assigned[id] {
			snapshot.Unassigned = append(snapshot.Unassigned, id)
		}
	}
	sort.SliceStable(snapshot.Workers, func(i, j int) bool { return snapshot.Workers[i].Name < snapshot.Workers[j].Name })
	return snapshot
}

func (m *Monitor) inProgress(ctx context.Context) []contracts.WorkItem {
	if m.items == nil {
		return nil
	}
	items, err := m.items.List(ctx, contracts.ItemStatusInProgress)
	if err != nil {
		m.logger.Debug("backlog unavailable for correlation", "error", err)
		return nil
	}
	return items
}

// Correlate finds the in-progress item whose id appears in a session name.
// The longest matching id wins so bd-12 is not mistaken for bd-1.
func Correlate(sessionName string, items []contracts.WorkItem) string {
	best := ""
	lowered := strings.ToLower(sessionName)
	for _, item := range items {
		id := strings.ToLower(item.ID)
		if id == "" || !containsToken(lowered, id) {
			continue
		}
		if len(item.ID) > len(best) {
			best = item.ID
		}
	}
	return best
}

func containsToken(haystack string, needle string) bool {
	for start := 0; ; {
		idx := strings.Index(haystack[start:], needle)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(needle)
		if end == len(haystack) || !isIDChar(haystack[end]) {
			return true
		}
		start = idx + 1
	}
}

func isIDChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
}
