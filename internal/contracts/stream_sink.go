package contracts

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StreamEventSink writes events as JSONL to a writer. Writes are serialized
// so gate goroutines can share one sink.
type StreamEventSink struct {
	stream *EventStream
	mu     sync.Mutex
	now    func() time.Time
}

func NewStreamEventSink(writer io.Writer) *StreamEventSink {
	return &StreamEventSink{stream: NewEventStream(writer), now: time.Now}
}

func (s *StreamEventSink) Emit(_ context.Context, event Event) error {
	if s == nil || s.stream == nil {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = s.now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream.Write(event)
}

// FileEventSink appends JSONL events to a file, creating parent directories.
type FileEventSink struct {
	path string
	mu   sync.Mutex
}

func NewFileEventSink(path string) *FileEventSink {
	return &FileEventSink{path: path}
}

func (s *FileEventSink) Emit(_ context.Context, event Event) error {
	if s == nil || s.path == "" {
		return nil
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	line, err := MarshalEventJSONL(event)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer file.Close()
	_, err = file.WriteString(line)
	return err
}

type FanoutEventSink struct {
	sinks []EventSink
}

func NewFanoutEventSink(sinks ...EventSink) *FanoutEventSink {
	filtered := make([]EventSink, 0, len(sinks))
	for _, sink := range sinks {
		if sink != nil {
			filtered = append(filtered, sink)
		}
	}
	return &FanoutEventSink{sinks: filtered}
}

func (f *FanoutEventSink) Emit(ctx context.Context, event Event) error {
	if f == nil {
		return nil
	}
	var err error
	for _, sink := range f.sinks {
		err = errors.Join(err, sink.Emit(ctx, event))
	}
	return err
}
