package contracts

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestEventStreamRoundTripNDJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	stream := NewEventStream(buf)

	event := Event{
		Type:      EventTypeBatchPlanned,
		WaveID:    "wave-1",
		ItemID:    "wi-1",
		BatchPos:  2,
		Metadata:  map[string]string{"batch": "b1"},
		Timestamp: time.Date(2026, 2, 10, 2, 0, 0, 0, time.UTC),
	}
	if err := stream.Write(event); err != nil {
		t.Fatalf("write event: %v", err)
	}

	decoder := NewEventDecoder(bytes.NewReader(buf.Bytes()))
	decoded, err := decoder.Next()
	if err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if decoded.ItemID != event.ItemID || decoded.WaveID != event.WaveID || decoded.BatchPos != event.BatchPos {
		t.Fatalf("unexpected decoded event: %#v", decoded)
	}
	if !decoded.Timestamp.Equal(event.Timestamp) || decoded.Metadata["batch"] != "b1" {
		t.Fatalf("unexpected decoded event: %#v", decoded)
	}
	if _, err := decoder.Next(); err != io.EOF {
		t.Fatalf("expected EOF after one event, got %v", err)
	}
}

func TestEventDecoderSkipsBlankLinesAndReportsMalformedOnes(t *testing.T) {
	log := strings.Join([]string{
		`{"type":"gate_resolved","wave_id":"w1","item_id":"bd-1","ts":"2026-02-10T02:00:00Z"}`,
		"",
		`{"type":"merge_landed","item_id":`,
		`{"type":"merge_landed","wave_id":"w1","item_id":"bd-1","ts":"2026-02-10T02:01:00Z"}`,
	}, "\n")
	decoder := NewEventDecoder(strings.NewReader(log))

	first, err := decoder.Next()
	if err != nil || first.Type != EventTypeGateResolved {
		t.Fatalf("unexpected first event %#v, %v", first, err)
	}
	_, err = decoder.Next()
	var malformed *MalformedEventError
	if !errors.As(err, &malformed) || malformed.Line != 3 {
		t.Fatalf("expected malformed error for line 3, got %v", err)
	}
	next, err := decoder.Next()
	if err != nil || next.Type != EventTypeMergeLanded {
		t.Fatalf("decoder must continue after a bad line, got %#v, %v", next, err)
	}
	if _, err := decoder.Next(); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestParseItemStatus(t *testing.T) {
	tests := []struct {
		raw  string
		want ItemStatus
		err  bool
	}{
		{raw: "ready", want: ItemStatusReady},
		{raw: "open", want: ItemStatusReady},
		{raw: " IN_PROGRESS ", want: ItemStatusInProgress},
		{raw: "blocked", want: ItemStatusBlocked},
		{raw: "closed", want: ItemStatusClosed},
		{raw: "deferred", err: true},
	}
	for _, tc := range tests {
		got, err := ParseItemStatus(tc.raw)
		if tc.err {
			if err == nil {
				t.Fatalf("ParseItemStatus(%q) expected error", tc.raw)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("ParseItemStatus(%q) = %q, %v, want %q", tc.raw, got, err, tc.want)
		}
	}
}

func TestWorkItemTextAndLabels(t *testing.T) {
	item := WorkItem{Title: "Fix Login", Description: "body", Labels: []string{"gate:review", "ui"}}
	if !item.HasLabel("UI") {
		t.Fatal("expected case-insensitive label match")
	}
	if got := item.Text(); got != "Fix Login\nbody\ngate:review\nui" {
		t.Fatalf("Text() = %q", got)
	}
}

func TestValidateItemID(t *testing.T) {
	for _, id := range []string{"wi-1", "proj.42", "A_b"} {
		if err := ValidateItemID(id); err != nil {
			t.Fatalf("ValidateItemID(%q) = %v", id, err)
		}
	}
	for _, id := range []string{"", "-x", "a/b", "a..b", "with space"} {
		if err := ValidateItemID(id); err == nil {
			t.Fatalf("ValidateItemID(%q) expected error", id)
		}
	}
}
