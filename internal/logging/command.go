package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CommandLogger handles logging of command stdout/stderr to files
type CommandLogger struct {
	logDir string
}

func NewCommandLogger(logDir string) *CommandLogger {
	return &CommandLogger{
		logDir: logDir,
	}
}

// LogCommand writes one file per command invocation.
func (cl *CommandLogger) LogCommand(dir string, command []string, stdout string, stderr string, err error, startTime time.Time) error {
	if cl.logDir == "" || len(command) == 0 {
		return nil
	}

	if err := os.MkdirAll(cl.logDir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	timestamp := startTime.UTC().Format("20060102_150405_000000")
	commandName := strings.Join(command[:min(3, len(command))], "_")
	safeCommandName := strings.NewReplacer("/", "_", " ", "_", ":", "_").Replace(commandName)

	logFilePath := filepath.Join(cl.logDir, fmt.Sprintf("%s_%s.log", timestamp, safeCommandName))
	logFile, openErr := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if openErr != nil {
		return fmt.Errorf("failed to create log file: %w", openErr)
	}
	defer logFile.Close()

	elapsed := time.Since(startTime)
	fmt.Fprintf(logFile, "Command: %s\n", strings.Join(command, " "))
	if dir != "" {
		fmt.Fprintf(logFile, "Dir: %s\n", dir)
	}
	fmt.Fprintf(logFile, "Start Time: %s\n", startTime.UTC().Format(time.RFC3339))
	fmt.Fprintf(logFile, "Elapsed: %s\n", elapsed.Round(time.Millisecond))
	if err != nil {
		fmt.Fprintf(logFile, "Error: %v\n", err)
	}

	fmt.Fprintf(logFile, "\n=== STDOUT ===\n%s\n", orNoOutput(stdout))
	fmt.Fprintf(logFile, "\n=== STDERR ===\n%s\n", orNoOutput(stderr))
	return nil
}

func orNoOutput(text string) string {
	if text == "" {
		return "(no output)"
	}
	return text
}
