package worktree

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/egv/yolo-wave/internal/contracts"
	"github.com/egv/yolo-wave/internal/logging"
	"github.com/egv/yolo-wave/internal/vcs/git"
)

type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

type Config struct {
	RepoRoot     string
	WorktreeRoot string
	BranchPrefix string
	Trunk        string
	// HookTemplate is relative to RepoRoot unless absolute.
	HookTemplate string
	SkipInstall  bool
	Locker       Locker
	Runner       Runner
	Events       contracts.EventSink
	Logger       *slog.Logger
}

type InstallResult struct {
	Toolchain
	Output string
	Err    error
}

type Worktree struct {
	ItemID        string
	Path          string
	Branch        string
	Reused        bool
	Installs      []InstallResult
	HookInstalled bool
}

// InstallFailures counts sub-projects whose install failed.
func (w Worktree) InstallFailures() int {
	failed := 0
	for _, install := range w.Installs {
		if install.Err != nil {
			failed++
		}
	}
	return failed
}

type Provisioner struct {
	cfg    Config
	repo   *git.Repo
	events contracts.EventSink
	logger *slog.Logger
}

func NewProvisioner(cfg Config) (*Provisioner, error) {
	if strings.TrimSpace(cfg.RepoRoot) == "" {
		return nil, errors.New("repo root is required")
	}
	if cfg.Runner == nil {
		return nil, errors.New("command runner is required")
	}
	if cfg.WorktreeRoot == "" {
		cfg.WorktreeRoot = filepath.Join(cfg.RepoRoot, ".yolo-wave", "worktrees")
	}
	if cfg.BranchPrefix == "" {
		cfg.BranchPrefix = "wave/"
	}
	if cfg.Trunk == "" {
		cfg.Trunk = "main"
	}
	if cfg.Locker == nil {
		cfg.Locker = NewLocalLocker()
	}
	events := cfg.Events
	if events == nil {
		events = contracts.NopSink{}
	}
	return &Provisioner{
		cfg:    cfg,
		repo:   git.New(cfg.Runner, cfg.RepoRoot),
		events: events,
		logger: logging.OrDiscard(cfg.Logger),
	}, nil
}

func (p *Provisioner) PathFor(id string) string {
	return filepath.Join(p.cfg.WorktreeRoot, id)
}

func (p *Provisioner) BranchFor(id string) string {
	return p.cfg.BranchPrefix + id
}

// Provision materializes the worktree for id. An existing worktree for id is
// returned as is with Reused set and nothing reinstalled. Dependency install
// failures are reported on the result, not as an error.
func (p *Provisioner) Provision(ctx context.Context, id string) (Worktree, error) {
	if err := contracts.ValidateItemID(id); err != nil {
		return Worktree{}, err
	}
	wt := Worktree{ItemID: id, Path: p.PathFor(id), Branch: p.BranchFor(id)}

	reused, err := p.create(ctx, wt)
	if err != nil {
		return Worktree{}, err
	}
	if reused {
		wt.Reused = true
		p.logger.Info("worktree already provisioned", "item", id, "path", wt.Path)
		p.emit(ctx, contracts.Event{Type: contracts.EventTypeWorktreeReady, ItemID: id, Worktree: wt.Path, Message: "reused"})
		return wt, nil
	}

	if !p.cfg.SkipInstall {
		wt.Installs = p.install(ctx, wt)
	}
	installed, hookErr := p.installHook(ctx, wt)
	if hookErr != nil {
		p.logger.Warn("hook install failed", "item", id, "error", hookErr)
		p.emit(ctx, contracts.Event{Type: contracts.EventTypeWorktreeWarning, ItemID: id, Worktree: wt.Path, Message: "hook install failed: " + hookErr.Error()})
	}
	wt.HookInstalled = installed

	p.emit(ctx, contracts.Event{
		Type:     contracts.EventTypeWorktreeReady,
		ItemID:   id,
		Worktree: wt.Path,
		Message:  fmt.Sprintf("created on %s (%d install failures)", wt.Branch, wt.InstallFailures()),
	})
	return wt, nil
}

// create holds the repository lock only while git mutates worktree state.
func (p *Provisioner) create(ctx context.Context, wt Worktree) (bool, error) {
	release, err := p.cfg.Locker.Acquire(ctx, "worktree:"+p.cfg.RepoRoot)
	if err != nil {
		return false, err
	}
	defer release()

	existing, err := p.repo.ListWorktrees(ctx)
	if err != nil {
		return false, err
	}
	for _, candidate := range existing {
		if samePath(candidate.Path, wt.Path) {
			if candidate.Branch != "" && candidate.Branch != wt.Branch {
				return false, fmt.Errorf("worktree %s is on branch %s, expected %s", wt.Path, candidate.Branch, wt.Branch)
			}
			return true, nil
		}
	}
	if _, statErr := os.Stat(wt.Path); statErr == nil {
		return false, fmt.Errorf("worktree path %s exists but is not a registered worktree", wt.Path)
	}

	if err := os.MkdirAll(filepath.Dir(wt.Path), 0o755); err != nil {
		return false, err
	}
	if err := p.repo.AddWorktree(ctx, wt.Path, wt.Branch, p.cfg.Trunk); err != nil {
		return false, err
	}
	p.logger.Info("worktree created", "item", wt.ItemID, "path", wt.Path, "branch", wt.Branch)
	return false, nil
}

func (p *Provisioner) install(ctx context.Context, wt Worktree) []InstallResult {
	toolchains, err := DetectToolchains(wt.Path)
	if err != nil {
		p.logger.Warn("toolchain detection failed", "item", wt.ItemID, "error", err)
		return nil
	}
	results := make([]InstallResult, 0, len(toolchains))
	for _, toolchain := range toolchains {
		output, runErr := p.cfg.Runner.Run(ctx, toolchain.Dir, toolchain.Command...)
		result := InstallResult{Toolchain: toolchain, Output: output, Err: runErr}
		results = append(results, result)
		if runErr != nil {
			rel, _ := filepath.Rel(wt.Path, toolchain.Dir)
			p.logger.Warn("dependency install failed", "item", wt.ItemID, "dir", rel, "ecosystem", toolchain.Ecosystem, "error", runErr)
			p.emit(ctx, contracts.Event{
				Type:     contracts.EventTypeWorktreeWarning,
				ItemID:   wt.ItemID,
				Worktree: wt.Path,
				Message:  fmt.Sprintf("%s install failed in %s: %v", toolchain.Ecosystem, rel, runErr),
			})
		}
	}
	return results
}

func (p *Provisioner) installHook(ctx context.Context, wt Worktree) (bool, error) {
	if p.cfg.HookTemplate == "" {
		return false, nil
	}
	template := p.cfg.HookTemplate
	if !filepath.IsAbs(template) {
		template = filepath.Join(p.cfg.RepoRoot, template)
	}
	content, err := os.ReadFile(template)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	hooksDir, err := p.repo.At(wt.Path).HooksDir(ctx)
	if err != nil {
		return false, err
	}
	target := filepath.Join(hooksDir, "pre-commit")
	if current, readErr := os.ReadFile(target); readErr == nil && bytes.Equal(current, content) {
		return true, nil
	}
	if err := os.MkdirAll(hooksDir, 0o755); err != nil {
		return false, err
	}
	if err := os.WriteFile(target, content, 0o755); err != nil {
		return false, err
	}
	return true, os.Chmod(target, 0o755)
}

func (p *Provisioner) emit(ctx context.Context, event contracts.Event) {
	if err := p.events.Emit(ctx, event); err != nil {
		p.logger.Warn("event emit failed", "type", event.Type, "error", err)
	}
}

func samePath(a, b string) bool {
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	resolvedA, errA := filepath.EvalSymlinks(a)
	resolvedB, errB := filepath.EvalSymlinks(b)
	return errA == nil && errB == nil && resolvedA == resolvedB
}
