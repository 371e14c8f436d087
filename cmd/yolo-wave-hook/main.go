package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/egv/yolo-wave/internal/exec"
	"github.com/egv/yolo-wave/internal/hook"
	"github.com/egv/yolo-wave/internal/vcs/git"
	"github.com/egv/yolo-wave/internal/wave"
)

type hookConfig struct {
	worktree string
	repoRoot string
	verbose  bool
	offline  bool
	stderr   io.Writer
}

type checkFunc func(context.Context, hookConfig) (hook.Decision, error)

// RunMain returns 1 only when the review blocks the commit. Anything that
// keeps the review from running lets the commit through with a warning.
func RunMain(args []string, stdout io.Writer, stderr io.Writer, check checkFunc) int {
	fs := flag.NewFlagSet("yolo-wave-hook", flag.ContinueOnError)
	fs.SetOutput(stderr)
	worktree := fs.String("worktree", "", "Worktree being committed (defaults to the current directory)")
	repo := fs.String("repo", "", "Main repository root (defaults to the worktree's common git directory parent)")
	verbose := fs.Bool("verbose", false, "Mirror the run log to stderr")
	offline := fs.Bool("offline", false, "Do not contact the session service")
	if err := fs.Parse(args); err != nil {
		return wave.ExitUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "unexpected arguments: %s\n", strings.Join(fs.Args(), " "))
		return wave.ExitUsage
	}
	dir := *worktree
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintf(stderr, "yolo-wave-hook: %v; allowing commit\n", err)
			return wave.ExitOK
		}
		dir = cwd
	}
	if check == nil {
		check = defaultCheck
	}

	decision, err := check(context.Background(), hookConfig{
		worktree: dir,
		repoRoot: *repo,
		verbose:  *verbose,
		offline:  *offline,
		stderr:   stderr,
	})
	if err != nil {
		fmt.Fprintf(stderr, "yolo-wave-hook: review unavailable, allowing commit:\n%s\n", wave.FormatActionableError(err))
		return wave.ExitOK
	}
	if decision.Allow {
		if decision.Verdict != nil && decision.Verdict.Summary != "" {
			fmt.Fprintf(stdout, "yolo-wave-hook: %s\n", decision.Verdict.Summary)
		}
		return wave.ExitOK
	}
	printBlock(stderr, decision)
	return wave.ExitFailed
}

func printBlock(out io.Writer, decision hook.Decision) {
	fmt.Fprintf(out, "yolo-wave-hook: commit blocked for %s: %s\n", decision.ItemID, decision.Reason)
	if decision.Verdict != nil {
		for _, issue := range decision.Verdict.Issues {
			fmt.Fprintf(out, "  - %s\n", issue)
		}
	}
	fmt.Fprintln(out, "Address the review feedback, stage the fixes and commit again.")
}

func defaultCheck(ctx context.Context, cfg hookConfig) (hook.Decision, error) {
	root := cfg.repoRoot
	if root == "" {
		common, err := git.New(exec.NewCommandRunner("", nil), cfg.worktree).CommonDir(ctx)
		if err != nil {
			return hook.Decision{}, err
		}
		root = filepath.Dir(common)
	}
	app, err := wave.Open(ctx, root, wave.Options{
		Verbose: cfg.verbose,
		Offline: cfg.offline,
		Stderr:  cfg.stderr,
	})
	if err != nil {
		return hook.Decision{}, err
	}
	defer func() {
		_ = app.Close()
	}()
	h, err := app.Hook()
	if err != nil {
		return hook.Decision{}, err
	}
	return h.Check(ctx, cfg.worktree), nil
}

func main() {
	os.Exit(RunMain(os.Args[1:], os.Stdout, os.Stderr, nil))
}
