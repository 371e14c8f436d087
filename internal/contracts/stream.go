package contracts

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

type EventStream struct {
	w io.Writer
}

func NewEventStream(writer io.Writer) *EventStream {
	return &EventStream{w: writer}
}

func (s *EventStream) Write(event Event) error {
	if s == nil || s.w == nil {
		return nil
	}
	line, err := MarshalEventJSONL(event)
	if err != nil {
		return err
	}
	_, err = io.WriteString(s.w, line)
	return err
}

const maxEventLine = 1 << 20

// MalformedEventError reports a log line that is not a valid event. The
// decoder stays usable after returning it.
type MalformedEventError struct {
	Line int
	Err  error
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("event log line %d: %v", e.Line, e.Err)
}

func (e *MalformedEventError) Unwrap() error { return e.Err }

// EventDecoder reads events written by EventStream or FileEventSink, one
// JSON object per line. Blank lines are skipped.
type EventDecoder struct {
	scanner *bufio.Scanner
	line    int
}

func NewEventDecoder(reader io.Reader) *EventDecoder {
	if reader == nil {
		return &EventDecoder{}
	}
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)
	return &EventDecoder{scanner: scanner}
}

func (d *EventDecoder) Next() (Event, error) {
	if d == nil || d.scanner == nil {
		return Event{}, io.EOF
	}
	for d.scanner.Scan() {
		d.line++
		raw := bytes.TrimSpace(d.scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		event, err := ParseEventJSONLLine(raw)
		if err != nil {
			return Event{}, &MalformedEventError{Line: d.line, Err: err}
		}
		return event, nil
	}
	if err := d.scanner.Err(); err != nil {
		return Event{}, err
	}
	return Event{}, io.EOF
}

func ParseEventJSONLLine(line []byte) (Event, error) {
	var payload eventPayload
	if err := json.Unmarshal(line, &payload); err != nil {
		return Event{}, err
	}
	timestamp := time.Time{}
	if payload.TS != "" {
		parsed, err := time.Parse(time.RFC3339, payload.TS)
		if err != nil {
			return Event{}, err
		}
		timestamp = parsed
	}
	return Event{
		Type:      payload.Type,
		WaveID:    payload.WaveID,
		ItemID:    payload.ItemID,
		ItemTitle: payload.ItemTitle,
		Gate:      payload.Gate,
		Stage:     payload.Stage,
		Worktree:  payload.Worktree,
		BatchPos:  payload.BatchPos,
		Message:   payload.Message,
		Metadata:  payload.Metadata,
		Timestamp: timestamp,
	}, nil
}
