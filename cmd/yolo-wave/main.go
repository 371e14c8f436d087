package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/egv/yolo-wave/internal/wave"
)

// streams carries the process stdio so commands can be driven from tests.
type streams struct {
	in  io.Reader
	out io.Writer
	err io.Writer
}

func RunMain(args []string, stdio streams) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := executeCLI(ctx, args, stdio)
	if err != nil && !errors.Is(err, wave.ErrFailed) {
		fmt.Fprintln(stdio.err, wave.FormatActionableError(err))
	}
	return wave.ExitCode(err)
}

func executeCLI(ctx context.Context, args []string, stdio streams) error {
	rootCmd, err := newRootCommand(stdio)
	if err != nil {
		return err
	}
	rootCmd.SetArgs(args)
	rootCmd.SetIn(stdio.in)
	rootCmd.SetOut(stdio.out)
	rootCmd.SetErr(stdio.err)
	return rootCmd.ExecuteContext(ctx)
}

func main() {
	os.Exit(RunMain(os.Args[1:], streams{in: os.Stdin, out: os.Stdout, err: os.Stderr}))
}
