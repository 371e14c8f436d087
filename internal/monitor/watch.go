package monitor

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

type PollFunc func(ctx context.Context) Snapshot

const maxAlertLog = 200

// WatchModel polls on an interval and keeps a scrolling log of alerts the
// first time each one appears.
type WatchModel struct {
	ctx        context.Context
	poll       PollFunc
	interval   time.Duration
	thresholds Thresholds
	onAlert    func(Alert)

	snapshot Snapshot
	alerts   []Alert
	seen     map[string]bool
	log      []string
	viewport viewport.Model
	width    int
	height   int
	polled   bool
}

type snapshotMsg struct{ snapshot Snapshot }

type pollTickMsg struct{}

func NewWatchModel(ctx context.Context, poll PollFunc, interval time.Duration, thresholds Thresholds, onAlert func(Alert)) WatchModel {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	vp := viewport.New(80, 10)
	vp.SetContent("")
	return WatchModel{
		ctx:        ctx,
		poll:       poll,
		interval:   interval,
		thresholds: thresholds,
		onAlert:    onAlert,
		seen:       map[string]bool{},
		viewport:   vp,
		width:      80,
		height:     24,
	}
}

func (m WatchModel) Init() tea.Cmd {
	return m.pollCmd()
}

func (m WatchModel) pollCmd() tea.Cmd {
	ctx, poll := m.ctx, m.poll
	return func() tea.Msg {
		return snapshotMsg{snapshot: poll(ctx)}
	}
}

func (m WatchModel) tickCmd() tea.Cmd {
	return tea.Tick(m.interval, func(time.Time) tea.Msg {
		return pollTickMsg{}
	})
}

func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case snapshotMsg:
		m = m.apply(typed.snapshot)
		return m, m.tickCmd()
	case pollTickMsg:
		return m, m.pollCmd()
	case tea.WindowSizeMsg:
		m.width = typed.Width
		m.height = typed.Height
		m.viewport.Width = typed.Width
		m.viewport.Height = max(3, typed.Height-len(m.snapshot.Workers)-6)
		return m, nil
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

func (m WatchModel) apply(snapshot Snapshot) WatchModel {
	m.snapshot = snapshot
	m.polled = true
	m.alerts = Alerts(snapshot, m.thresholds)
	current := map[string]bool{}
	for _, alert := range m.alerts {
		key := string(alert.Type) + "|" + alert.Session
		current[key] = true
		if m.seen[key] {
			continue
		}
		m.log = append(m.log, fmt.Sprintf("%s %s", snapshot.Taken.Format("15:04:05"), RenderAlert(alert)))
		if m.onAlert != nil {
			m.onAlert(alert)
		}
	}
	// An alert that clears and comes back is logged again.
	m.seen = current
	if len(m.log) > maxAlertLog {
		m.log = m.log[len(m.log)-maxAlertLog:]
	}
	m.viewport.SetContent(strings.Join(m.log, "\n"))
	m.viewport.GotoBottom()
	return m
}

func (m WatchModel) View() string {
	if !m.polled {
		return "Polling workers...\n"
	}
	table := Render(m.snapshot, nil)
	logTitle := headerStyle.Render("Alerts")
	body := lipgloss.JoinVertical(lipgloss.Left, table, logTitle, m.viewport.View(), dimStyle.Render("q: quit"))
	return lipgloss.NewStyle().Width(m.width).Render(body) + "\n"
}

func (m WatchModel) Snapshot() Snapshot {
	return m.snapshot
}

func (m WatchModel) Log() []string {
	return append([]string{}, m.log...)
}

// RunWatch runs the watch view until the user quits or ctx ends.
func RunWatch(ctx context.Context, model WatchModel, in io.Reader, out io.Writer) error {
	program := tea.NewProgram(model, tea.WithInput(in), tea.WithOutput(out), tea.WithAltScreen())
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			program.Quit()
		case <-done:
		}
	}()
	_, err := program.Run()
	return err
}
