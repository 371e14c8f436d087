// Package hook implements the pre-commit review that runs inside a wave
// worktree.
package hook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/egv/yolo-wave/internal/contracts"
	"github.com/egv/yolo-wave/internal/gate"
	"github.com/egv/yolo-wave/internal/logging"
	"github.com/egv/yolo-wave/internal/session"
)

type Repository interface {
	CurrentBranch(ctx context.Context) (string, error)
	StagedFiles(ctx context.Context) ([]string, error)
	StagedDiff(ctx context.Context) (string, error)
}

type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// SessionFinder is the subset of the session client the hook uses.
type SessionFinder interface {
	FindByName(ctx context.Context, name string) (session.Session, error)
	Send(ctx context.Context, id string, text string, execute bool) error
}

type PaneProbe interface {
	State(ctx context.Context, name string) session.PaneState
}

type Config struct {
	BranchPrefix  string
	SessionPrefix string

	// Command is the reviewer invocation. {diff} is replaced with the path
	// of the saved staged diff and {worktree} with the worktree directory.
	Command []string
	Timeout time.Duration

	// Notify sends blocking feedback to the worker session.
	Notify bool

	Repo     func(worktree string) Repository
	Runner   Runner
	Sessions SessionFinder
	Panes    PaneProbe
	Logger   *slog.Logger
}

type Decision struct {
	Allow   bool
	Reason  string
	ItemID  string
	Session string
	Verdict *gate.Verdict
	Output  string
}

func allow(reason string) Decision {
	return Decision{Allow: true, Reason: reason}
}

type Hook struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config) (*Hook, error) {
	if cfg.Repo == nil {
		return nil, errors.New("repository factory is required")
	}
	if cfg.Runner == nil || len(cfg.Command) == 0 {
		return nil, errors.New("review command is required")
	}
	if cfg.BranchPrefix == "" {
		cfg.BranchPrefix = "wave/"
	}
	if cfg.SessionPrefix == "" {
		cfg.SessionPrefix = "wave-"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	return &Hook{cfg: cfg, logger: logging.OrDiscard(cfg.Logger)}, nil
}

// ItemFromBranch extracts the item id from a wave branch name.
func ItemFromBranch(branch string, prefix string) (string, bool) {
	branch = strings.TrimPrefix(strings.TrimSpace(branch), "refs/heads/")
	if !strings.HasPrefix(branch, prefix) {
		return "", false
	}
	id := strings.TrimPrefix(branch, prefix)
	if contracts.ValidateItemID(id) != nil {
		return "", false
	}
	return id, true
}

// Check decides whether the commit being made in worktree may proceed. Only
// an explicit negative review blocks; every lookup that comes up empty
// allows the commit.
func (h *Hook) Check(ctx context.Context, worktree string) Decision {
	repo := h.cfg.Repo(worktree)
	branch, err := repo.CurrentBranch(ctx)
	if err != nil {
		return allow("branch unknown: " + err.Error())
	}
	id, ok := ItemFromBranch(branch, h.cfg.BranchPrefix)
	if !ok {
		return allow("branch " + branch + " is not a wave branch")
	}

	name := h.cfg.SessionPrefix + id
	sessionID, found := h.findSession(ctx, name)
	if !found {
		return Decision{Allow: true, ItemID: id, Reason: "no worker session " + name}
	}

	staged, err := repo.StagedFiles(ctx)
	if err != nil {
		return Decision{Allow: true, ItemID: id, Session: name, Reason: "staged files unknown: " + err.Error()}
	}
	if len(staged) == 0 {
		return Decision{Allow: true, ItemID: id, Session: name, Reason: "nothing staged"}
	}

	decision := h.review(ctx, repo, worktree)
	decision.ItemID = id
	decision.Session = name
	if !decision.Allow && h.cfg.Notify && sessionID != "" && h.cfg.Sessions != nil {
		if err := h.cfg.Sessions.Send(ctx, sessionID, feedback(decision), true); err != nil {
			h.logger.Warn("send review feedback failed", "session", name, "error", err)
		}
	}
	return decision
}

// findSession looks the worker up through the session service and falls
// back to the multiplexer. The returned id is empty when only the pane
// was found.
func (h *Hook) findSession(ctx context.Context, name string) (string, bool) {
	if h.cfg.Sessions != nil {
		found, err := h.cfg.Sessions.FindByName(ctx, name)
		switch {
		case err == nil:
			return found.ID, true
		case errors.Is(err, session.ErrNotFound):
			return "", false
		default:
			h.logger.Info("session service lookup failed", "session", name, "error", err)
		}
	}
	if h.cfg.Panes != nil && h.cfg.Panes.State(ctx, name) == session.PanePresent {
		return "", true
	}
	return "", false
}

func (h *Hook) review(ctx context.Context, repo Repository, worktree string) Decision {
	diff, err := repo.StagedDiff(ctx)
	if err != nil {
		return allow("staged diff unavailable: " + err.Error())
	}
	file, err := os.CreateTemp("", "yolo-wave-staged-*.diff")
	if err != nil {
		return allow("save staged diff: " + err.Error())
	}
	defer os.Remove(file.Name())
	_, writeErr := file.WriteString(diff)
	closeErr := file.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		return allow("save staged diff: " + err.Error())
	}

	replacer := strings.NewReplacer("{diff}", file.Name(), "{worktree}", filepath.Clean(worktree))
	args := make([]string, len(h.cfg.Command))
	for i, arg := range h.cfg.Command {
		args[i] = replacer.Replace(arg)
	}

	reviewCtx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()
	output, runErr := h.cfg.Runner.Run(reviewCtx, worktree, args...)
	verdict := gate.ParseVerdict(output)
	decision := Decision{Allow: true, Verdict: &verdict, Output: output, Reason: verdict.Summary}
	switch {
	case !verdict.Passed:
		decision.Allow = false
		if decision.Reason == "" {
			decision.Reason = "review needs work"
		}
	case runErr != nil:
		// A reviewer that cannot run has no verdict to enforce.
		decision.Reason = "review did not run: " + runErr.Error()
	}
	return decision
}

func feedback(decision Decision) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pre-commit review blocked the commit: %s", decision.Reason)
	if decision.Verdict != nil {
		for _, issue := range decision.Verdict.Issues {
			fmt.Fprintf(&b, "\n- %s", issue)
		}
	}
	b.WriteString("\nAddress the findings and commit again.")
	return b.String()
}
