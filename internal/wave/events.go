package wave

import (
	"errors"
	"io"
	"os"
	"strings"

	"github.com/egv/yolo-wave/internal/config"
	"github.com/egv/yolo-wave/internal/contracts"
)

// EventFilter selects events from the event log. Empty fields match
// everything.
type EventFilter struct {
	WaveID string
	ItemID string
	Types  []contracts.EventType

	// Tail keeps only the last Tail matches when positive.
	Tail int
}

func (f EventFilter) match(event contracts.Event, types map[contracts.EventType]bool) bool {
	if f.WaveID != "" && event.WaveID != f.WaveID {
		return false
	}
	if f.ItemID != "" && event.ItemID != f.ItemID {
		return false
	}
	return len(types) == 0 || types[event.Type]
}

// ReadEvents decodes an event log and returns the matching events in log
// order plus the number of malformed lines skipped. A write cut short by a
// crash leaves one such line behind.
func ReadEvents(r io.Reader, filter EventFilter) ([]contracts.Event, int, error) {
	types := map[contracts.EventType]bool{}
	for _, eventType := range filter.Types {
		types[contracts.EventType(strings.ToLower(strings.TrimSpace(string(eventType))))] = true
	}
	decoder := contracts.NewEventDecoder(r)
	events := []contracts.Event{}
	skipped := 0
	for {
		event, err := decoder.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		var malformed *contracts.MalformedEventError
		if errors.As(err, &malformed) {
			skipped++
			continue
		}
		if err != nil {
			return nil, skipped, err
		}
		if filter.match(event, types) {
			events = append(events, event)
		}
	}
	if filter.Tail > 0 && len(events) > filter.Tail {
		events = events[len(events)-filter.Tail:]
	}
	return events, skipped, nil
}

// EventLogPath is the configured event log, or "" when the file sink is off.
func (a *App) EventLogPath() string {
	if a.Config.Events.File == "" {
		return ""
	}
	return config.ResolvePath(a.RepoRoot, a.Config.Events.File)
}

// ReplayEvents reads the wave's event log. A log that does not exist yet
// holds no events.
func (a *App) ReplayEvents(filter EventFilter) ([]contracts.Event, int, error) {
	path := a.EventLogPath()
	if path == "" {
		return nil, 0, Usagef("events.file is not configured; nothing is recorded to replay")
	}
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return []contracts.Event{}, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	defer file.Close()
	return ReadEvents(file, filter)
}
