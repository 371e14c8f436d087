package monitor

import "fmt"

type AlertType string

const (
	AlertWarning   AlertType = "warning"
	AlertCritical  AlertType = "critical"
	AlertStale     AlertType = "stale"
	AlertAttention AlertType = "attention"
)

type Alert struct {
	Type    AlertType `json:"type"`
	Session string    `json:"session"`
	ItemID  string    `json:"item_id,omitempty"`
	Message string    `json:"message"`
}

type Thresholds struct {
	WarningPercent  int
	CriticalPercent int
}

func DefaultThresholds() Thresholds {
	return Thresholds{WarningPercent: 70, CriticalPercent: 90}
}

// Alerts derives the alerts for a snapshot. It is a pure function of its
// inputs; at most one context alert is raised per session.
func Alerts(snapshot Snapshot, thresholds Thresholds) []Alert {
	alerts := []Alert{}
	for _, worker := range snapshot.Workers {
		name := worker.Name
		if name == "" {
			name = worker.ID
		}
		if worker.ContextPercent != nil {
			percent := *worker.ContextPercent
			switch {
			case thresholds.CriticalPercent > 0 && percent >= thresholds.CriticalPercent:
				alerts = append(alerts, Alert{Type: AlertCritical, Session: name, ItemID: worker.ItemID, Message: fmt.Sprintf("context at %d%% (critical >= %d%%)", percent, thresholds.CriticalPercent)})
			case thresholds.WarningPercent > 0 && percent >= thresholds.WarningPercent:
				alerts = append(alerts, Alert{Type: AlertWarning, Session: name, ItemID: worker.ItemID, Message: fmt.Sprintf("context at %d%% (warning >= %d%%)", percent, thresholds.WarningPercent)})
			}
		}
		switch worker.Status {
		case StatusStale:
			alerts = append(alerts, Alert{Type: AlertStale, Session: name, ItemID: worker.ItemID, Message: "no recent activity"})
		case StatusAskingUser:
			alerts = append(alerts, Alert{Type: AlertAttention, Session: name, ItemID: worker.ItemID, Message: "waiting for an answer from the operator"})
		}
	}
	return alerts
}
