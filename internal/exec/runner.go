package exec

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/egv/yolo-wave/internal/logging"
)

// CommandRunner runs external tools in an explicit directory. Commands in
// the logged set write their output to per-command log files; everything
// else is echoed to out.
type CommandRunner struct {
	logDir string
	out    io.Writer
	logged map[string]bool
}

func NewCommandRunner(logDir string, out io.Writer) *CommandRunner {
	return &CommandRunner{
		logDir: logDir,
		out:    out,
		logged: map[string]bool{"bd": true, "git": true, "tmux": true},
	}
}

// Run executes args[0] with the remaining args inside dir. On success it
// returns stdout; on failure stdout and stderr are combined so callers can
// include the tool's own message in their errors.
func (cr *CommandRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	if len(args) == 0 {
		return "", errors.New("no command given")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	var stdout, stderr strings.Builder
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	elapsed := time.Since(start)

	if cr.shouldLogCommand(args) {
		logger := logging.NewCommandLogger(cr.logDir)
		_ = logger.LogCommand(dir, args, stdout.String(), stderr.String(), err, start)
	} else {
		printCommand(cr.out, dir, args)
		printOutcome(cr.out, err, elapsed)
	}

	if err != nil {
		return joinOutput(stdout.String(), stderr.String()), err
	}
	return stdout.String(), nil
}

func (cr *CommandRunner) shouldLogCommand(args []string) bool {
	if len(args) == 0 {
		return false
	}
	return cr.logged[args[0]]
}

func joinOutput(stdout string, stderr string) string {
	stdout = strings.TrimRight(stdout, "\n")
	stderr = strings.TrimRight(stderr, "\n")
	switch {
	case stdout == "":
		return stderr
	case stderr == "":
		return stdout
	default:
		return stdout + "\n" + stderr
	}
}

func printCommand(out io.Writer, dir string, args []string) {
	if out == nil {
		return
	}
	prefix := "$ "
	if dir != "" {
		prefix = "[" + dir + "] $ "
	}
	_, _ = io.WriteString(out, prefix+strings.Join(args, " ")+"\n")
}

func printOutcome(out io.Writer, err error, elapsed time.Duration) {
	if out == nil {
		return
	}
	status := "ok"
	exitCode := 0
	if err != nil {
		status = "failed"
		exitCode = exitCodeFromError(err)
	}
	_, _ = io.WriteString(out, status+" (exit="+strconv.Itoa(exitCode)+", elapsed="+formatElapsed(elapsed)+")\n")
}

func formatElapsed(elapsed time.Duration) string {
	if elapsed < time.Millisecond {
		return "0ms"
	}
	return elapsed.Round(time.Millisecond).String()
}

func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
		return exitErr.ExitCode()
	}
	return 1
}
