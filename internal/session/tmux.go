package session

import (
	"context"
	"errors"
	"strings"
)

type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

type PaneState int

const (
	PaneUnknown PaneState = iota
	PanePresent
	PaneMissing
)

// TmuxProbe reads worker output directly from the multiplexer. It backs the
// monitor's dashboard probe, transcript capture, and termination when the
// session service cannot be reached.
type TmuxProbe struct {
	runner    Runner
	dashboard string
}

func NewTmuxProbe(runner Runner, dashboard string) *TmuxProbe {
	return &TmuxProbe{runner: runner, dashboard: strings.TrimSpace(dashboard)}
}

// Dashboard captures the visible dashboard pane. An empty string with a nil
// error means there is no dashboard to read.
func (p *TmuxProbe) Dashboard(ctx context.Context) (string, error) {
	if p == nil || p.runner == nil || p.dashboard == "" {
		return "", nil
	}
	out, err := p.runner.Run(ctx, "", "tmux", "capture-pane", "-p", "-t", p.dashboard)
	if err != nil {
		if isMissingMessage(out) || isMissingMessage(err.Error()) {
			return "", nil
		}
		return "", err
	}
	return out, nil
}

// Capture returns the full scrollback of the named session.
func (p *TmuxProbe) Capture(ctx context.Context, name string) (string, error) {
	if p == nil || p.runner == nil {
		return "", ErrNotFound
	}
	out, err := p.runner.Run(ctx, "", "tmux", "capture-pane", "-p", "-J", "-S", "-", "-t", name)
	if err != nil {
		if isMissingMessage(out) || isMissingMessage(err.Error()) {
			return "", ErrNotFound
		}
		return "", err
	}
	return out, nil
}

func (p *TmuxProbe) ListSessions(ctx context.Context) ([]string, error) {
	if p == nil || p.runner == nil {
		return nil, nil
	}
	out, err := p.runner.Run(ctx, "", "tmux", "ls", "-F", "#S")
	if err != nil {
		if isMissingMessage(out) || isMissingMessage(err.Error()) {
			return nil, nil
		}
		return nil, err
	}
	names := []string{}
	for _, line := range strings.Split(out, "\n") {
		if name := strings.TrimSpace(line); name != "" {
			names = append(names, name)
		}
	}
	return names, nil
}

func (p *TmuxProbe) State(ctx context.Context, name string) PaneState {
	names, err := p.ListSessions(ctx)
	if err != nil {
		return PaneUnknown
	}
	for _, candidate := range names {
		if candidate == name {
			return PanePresent
		}
	}
	return PaneMissing
}

// Kill terminates the named session. A session that is already gone, or a
// server that is not running, counts as success.
func (p *TmuxProbe) Kill(ctx context.Context, name string) error {
	if p == nil || p.runner == nil {
		return nil
	}
	out, err := p.runner.Run(ctx, "", "tmux", "kill-session", "-t", name)
	if err == nil {
		return nil
	}
	if isMissingMessage(out) || isMissingMessage(err.Error()) || strings.Contains(out, "error connecting") {
		return nil
	}
	return err
}

// KillMatching kills every session whose name satisfies match and returns
// the names it terminated.
func (p *TmuxProbe) KillMatching(ctx context.Context, match func(name string) bool) ([]string, error) {
	if match == nil {
		return nil, errors.New("kill matcher is required")
	}
	names, err := p.ListSessions(ctx)
	if err != nil {
		return nil, err
	}
	killed := []string{}
	var errs []error
	for _, name := range names {
		if !match(name) {
			continue
		}
		if err := p.Kill(ctx, name); err != nil {
			errs = append(errs, err)
			continue
		}
		killed = append(killed, name)
	}
	return killed, errors.Join(errs...)
}

func isMissingMessage(output string) bool {
	message := strings.ToLower(strings.TrimSpace(output))
	for _, marker := range []string{"can't find session", "can't find pane", "no server running", "no such file or directory", "no sessions"} {
		if strings.Contains(message, marker) {
			return true
		}
	}
	return false
}
