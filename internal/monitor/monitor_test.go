package monitor

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/egv/yolo-wave/internal/contracts"
	"github.com/egv/yolo-wave/internal/session"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		line string
		want Status
	}{
		{"● wave-bd-1  ❓ awaiting answer: which db?", StatusAskingUser},
		{"● wave-bd-2  ⏸ waiting for input", StatusAwaitingInput},
		{"● wave-bd-3  🔧 Edit src/app.ts", StatusToolUse},
		{"● wave-bd-4  🤔 thinking", StatusProcessing},
		{"● wave-bd-5  💤 stale 14m", StatusStale},
		{"● wave-bd-6  ~~~ %%% ###", StatusIdle},
		{"", StatusIdle},
	}
	for _, tc := range cases {
		if got := Classify(tc.line); got != tc.want {
			t.Fatalf("Classify(%q) = %q, want %q", tc.line, got, tc.want)
		}
	}
}

func TestParseProbeExtractsUsage(t *testing.T) {
	text := strings.Join([]string{
		"Wave dashboard",
		"────────────",
		"● wave-bd-1  🔧 Bash  ctx 82%  2 agents",
		"○ wave-bd-2  🤔 thinking  context: 15%",
		"● wave-bd-1  duplicate row ignored",
		"",
	}, "\n")

	lines := ParseProbe(text)
	if len(lines) != 2 {
		t.Fatalf("expected 2 probe lines, got %#v", lines)
	}
	first := lines[0]
	if first.Session != "wave-bd-1" || first.Status != StatusToolUse {
		t.Fatalf("unexpected first line: %#v", first)
	}
	if first.ContextPercent == nil || *first.ContextPercent != 82 {
		t.Fatalf("expected context 82, got %v", first.ContextPercent)
	}
	if first.Subagents == nil || *first.Subagents != 2 {
		t.Fatalf("expected 2 subagents, got %v", first.Subagents)
	}
	if lines[1].ContextPercent == nil || *lines[1].ContextPercent != 15 {
		t.Fatalf("expected context 15, got %v", lines[1].ContextPercent)
	}
	if lines[1].Subagents != nil {
		t.Fatalf("expected no subagent count, got %d", *lines[1].Subagents)
	}
}

func TestAskingUserRaisesExactlyOneAttentionAlert(t *testing.T) {
	line, ok := ParseProbeLine("● wave-bd-7 ❓ awaiting user answer")
	if !ok {
		t.Fatalf("expected line to parse")
	}
	snapshot := Snapshot{Workers: []WorkerSession{{ID: line.Session, Name: line.Session, Status: line.Status}}}

	alerts := Alerts(snapshot, DefaultThresholds())
	if len(alerts) != 1 {
		t.Fatalf("expected one alert, got %#v", alerts)
	}
	if alerts[0].Type != AlertAttention || alerts[0].Session != "wave-bd-7" {
		t.Fatalf("unexpected alert: %#v", alerts[0])
	}
}

func TestUnparseableLineIsIdleWithoutAlert(t *testing.T) {
	line, ok := ParseProbeLine("wave-bd-8 ?? garbled ~~~")
	if !ok {
		t.Fatalf("expected session name to parse")
	}
	if line.Status != StatusIdle {
		t.Fatalf("expected idle, got %q", line.Status)
	}
	snapshot := Snapshot{Workers: []WorkerSession{{Name: line.Session, Status: line.Status}}}
	if alerts := Alerts(snapshot, DefaultThresholds()); len(alerts) != 0 {
		t.Fatalf("expected no alerts, got %#v", alerts)
	}
}

func TestAlertsApplyContextThresholds(t *testing.T) {
	percent := func(v int) *int { return &v }
	snapshot := Snapshot{Workers: []WorkerSession{
		{Name: "a", ContextPercent: percent(69)},
		{Name: "b", ContextPercent: percent(70)},
		{Name: "c", ContextPercent: percent(95), Status: StatusStale},
	}}

	alerts := Alerts(snapshot, Thresholds{WarningPercent: 70, CriticalPercent: 90})
	got := []string{}
	for _, alert := range alerts {
		got = append(got, alert.Session+":"+string(alert.Type))
	}
	want := "b:warning,c:critical,c:stale"
	if strings.Join(got, ",") != want {
		t.Fatalf("expected %s, got %s", want, strings.Join(got, ","))
	}
}

type fakeLister struct {
	sessions []session.Session
	err      error
}

func (f fakeLister) List(context.Context) ([]session.Session, error) {
	return f.sessions, f.err
}

type fakeDashboard struct {
	text string
	err  error
}

func (f fakeDashboard) Dashboard(context.Context) (string, error) {
	return f.text, f.err
}

type fakeItems struct {
	items []contracts.WorkItem
	err   error
}

func (f fakeItems) List(context.Context, contracts.ItemStatus) ([]contracts.WorkItem, error) {
	return f.items, f.err
}

func TestPollMergesServiceAndProbe(t *testing.T) {
	m := New(Config{
		Sessions: fakeLister{sessions: []session.Session{
			{ID: "s1", Name: "wave-bd-12", State: session.StateRunning},
			{ID: "s2", Name: "wave-bd-3", State: session.StateExited},
		}},
		Probe: fakeDashboard{text: "● wave-bd-12 🔧 Edit ctx 40%\n● wave-bd-9 💤 stale\n"},
		Items: fakeItems{items: []contracts.WorkItem{{ID: "bd-1"}, {ID: "bd-12"}, {ID: "bd-9"}}},
		Now:   func() time.Time { return time.Unix(100, 0) },
	})

	snapshot := m.Poll(context.Background())
	if !snapshot.ServiceOK || !snapshot.ProbeOK {
		t.Fatalf("expected both sources ok: %#v", snapshot)
	}
	if len(snapshot.Workers) != 2 {
		t.Fatalf("expected 2 workers, got %#v", snapshot.Workers)
	}
	first := snapshot.Workers[0]
	if first.ID != "s1" || first.ItemID != "bd-12" || first.Status != StatusToolUse {
		t.Fatalf("unexpected merged worker: %#v", first)
	}
	second := snapshot.Workers[1]
	if second.Name != "wave-bd-9" || second.ItemID != "bd-9" || second.Status != StatusStale {
		t.Fatalf("unexpected probe-only worker: %#v", second)
	}
	if strings.Join(snapshot.Unassigned, ",") != "bd-1" {
		t.Fatalf("expected bd-1 unassigned, got %v", snapshot.Unassigned)
	}
}

func TestPollWithAllSourcesDownIsEmptyButValid(t *testing.T) {
	m := New(Config{
		Sessions: fakeLister{err: errors.New("connection refused")},
		Probe:    fakeDashboard{err: errors.New("tmux exploded")},
		Items:    fakeItems{err: errors.New("bd missing")},
	})

	snapshot := m.Poll(context.Background())
	if snapshot.ServiceOK || snapshot.ProbeOK {
		t.Fatalf("expected sources flagged unavailable: %#v", snapshot)
	}
	if snapshot.Workers == nil || len(snapshot.Workers) != 0 {
		t.Fatalf("expected empty non-nil workers, got %#v", snapshot.Workers)
	}
	if alerts := Alerts(snapshot, DefaultThresholds()); len(alerts) != 0 {
		t.Fatalf("expected no alerts, got %#v", alerts)
	}
}

func TestCorrelatePrefersLongestID(t *testing.T) {
	items := []contracts.WorkItem{{ID: "bd-1"}, {ID: "bd-12"}}
	if got := Correlate("wave-bd-12", items); got != "bd-12" {
		t.Fatalf("expected bd-12, got %q", got)
	}
	if got := Correlate("wave-bd-1", items); got != "bd-1" {
		t.Fatalf("expected bd-1, got %q", got)
	}
	if got := Correlate("wave-bd-123", items); got != "" {
		t.Fatalf("expected no match, got %q", got)
	}
}

func TestWatchModelLogsNewAlertsOnce(t *testing.T) {
	snapshot := Snapshot{
		Taken:   time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC),
		Workers: []WorkerSession{{Name: "wave-bd-1", Status: StatusAskingUser}},
	}
	raised := 0
	model := NewWatchModel(context.Background(), func(context.Context) Snapshot { return snapshot }, time.Second, DefaultThresholds(), func(Alert) { raised++ })

	updated, cmd := model.Update(snapshotMsg{snapshot: snapshot})
	if cmd == nil {
		t.Fatalf("expected a follow-up tick")
	}
	updated, _ = updated.(WatchModel).Update(snapshotMsg{snapshot: snapshot})
	m := updated.(WatchModel)

	if raised != 1 || len(m.Log()) != 1 {
		t.Fatalf("expected one logged alert, got raised=%d log=%v", raised, m.Log())
	}
	if !strings.Contains(m.View(), "wave-bd-1") {
		t.Fatalf("expected worker in view, got %q", m.View())
	}

	_, quit := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}})
	if quit == nil {
		t.Fatalf("expected quit command")
	}
}
