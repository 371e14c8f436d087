package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// NewLogger returns a JSON logger appending to path, teeing human-readable
// lines to stderr when verbose is set. The returned closer releases the file.
func NewLogger(path string, verbose bool, stderr io.Writer) (*slog.Logger, func() error, error) {
	handlers := []slog.Handler{}
	closer := func() error { return nil }
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, nil, err
		}
		file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, err
		}
		closer = file.Close
		handlers = append(handlers, slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	if verbose && stderr != nil {
		handlers = append(handlers, slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if len(handlers) == 0 {
		return Discard(), closer, nil
	}
	return slog.New(teeHandler(handlers)), closer, nil
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 100}))
}

// OrDiscard lets components accept a nil logger.
func OrDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return Discard()
	}
	return logger
}
