package monitor

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true)
	dimStyle    = lipgloss.NewStyle().Faint(true)

	statusStyles = map[Status]lipgloss.Style{
		StatusIdle:          lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		StatusProcessing:    lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		StatusToolUse:       lipgloss.NewStyle().Foreground(lipgloss.Color("14")),
		StatusAwaitingInput: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		StatusAskingUser:    lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true),
		StatusStale:         lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}

	alertStyles = map[AlertType]lipgloss.Style{
		AlertWarning:   lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		AlertCritical:  lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		AlertStale:     lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
		AlertAttention: lipgloss.NewStyle().Foreground(lipgloss.Color("13")).Bold(true),
	}
)

// Render draws a snapshot as a fixed-width table followed by its alerts.
func Render(snapshot Snapshot, alerts []Alert) string {
	var b strings.Builder
	b.WriteString(headerStyle.Render(fmt.Sprintf("Workers: %d  in progress: %d", len(snapshot.Workers), len(snapshot.InProgress))))
	b.WriteString("\n")
	if !snapshot.ServiceOK || !snapshot.ProbeOK {
		b.WriteString(dimStyle.Render(fmt.Sprintf("sources: service=%s probe=%s", availability(snapshot.ServiceOK), availability(snapshot.ProbeOK))))
		b.WriteString("\n")
	}
	if len(snapshot.Workers) == 0 {
		b.WriteString(dimStyle.Render("no live worker sessions"))
		b.WriteString("\n")
	}
	for _, worker := range snapshot.Workers {
		item := worker.ItemID
		if item == "" {
			item = "-"
		}
		status := fmt.Sprintf("%-14s", worker.Status)
		if style, ok := statusStyles[worker.Status]; ok {
			status = style.Render(status)
		}
		fmt.Fprintf(&b, "%-28s %-12s %s %s\n", worker.Name, item, status, usage(worker))
	}
	if len(snapshot.Unassigned) > 0 {
		fmt.Fprintf(&b, "no session for: %s\n", strings.Join(snapshot.Unassigned, ", "))
	}
	for _, alert := range alerts {
		b.WriteString(RenderAlert(alert))
		b.WriteString("\n")
	}
	return b.String()
}

func RenderAlert(alert Alert) string {
	label := "[" + string(alert.Type) + "]"
	if style, ok := alertStyles[alert.Type]; ok {
		label = style.Render(label)
	}
	return fmt.Sprintf("%s %s: %s", label, alert.Session, alert.Message)
}

func usage(worker WorkerSession) string {
	parts := []string{}
	if worker.ContextPercent != nil {
		parts = append(parts, fmt.Sprintf("ctx %d%%", *worker.ContextPercent))
	}
	if worker.Subagents != nil {
		parts = append(parts, fmt.Sprintf("agents %d", *worker.Subagents))
	}
	return strings.Join(parts, " ")
}

func availability(ok bool) string {
	if ok {
		return "ok"
	}
	return "unavailable"
}
