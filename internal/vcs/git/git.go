package git

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// Repo runs git inside one explicit directory, either the trunk checkout or
// a worktree. It never relies on the process working directory.
type Repo struct {
	runner Runner
	dir    string
}

func New(runner Runner, dir string) *Repo {
	return &Repo{runner: runner, dir: dir}
}

func (r *Repo) Dir() string {
	return r.dir
}

// At returns a Repo sharing the runner but bound to dir.
func (r *Repo) At(dir string) *Repo {
	return &Repo{runner: r.runner, dir: dir}
}

// ConflictError reports a merge that stopped on conflicting paths. The merge
// has already been aborted when it is returned.
type ConflictError struct {
	Branch string
	Files  []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("merge conflict merging %s: %s", e.Branch, strings.Join(e.Files, ", "))
}

func IsConflict(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict)
}

func (r *Repo) CheckoutTrunk(ctx context.Context, trunk string) error {
	_, err := r.runGit(ctx, "checkout", trunk)
	return err
}

func (r *Repo) HasRemote(ctx context.Context, remote string) bool {
	out, err := r.runGit(ctx, "remote")
	if err != nil {
		return false
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.TrimSpace(line) == remote {
			return true
		}
	}
	return false
}

func (r *Repo) PullFastForward(ctx context.Context, remote string, trunk string) error {
	_, err := r.runGit(ctx, "pull", "--ff-only", remote, trunk)
	return err
}

// Merge merges branch into the checked-out branch with a merge commit. On a
// textual conflict it aborts and returns *ConflictError.
func (r *Repo) Merge(ctx context.Context, branch string, message string) error {
	args := []string{"merge", "--no-ff", "--no-edit"}
	if message != "" {
		args = append(args, "-m", message)
	}
	args = append(args, branch)
	_, mergeErr := r.runGit(ctx, args...)
	if mergeErr == nil {
		return nil
	}

	files, _ := r.ConflictedFiles(ctx)
	if abortErr := r.AbortMerge(ctx); abortErr != nil && len(files) > 0 {
		return errors.Join(&ConflictError{Branch: branch, Files: files}, abortErr)
	}
	if len(files) > 0 {
		return &ConflictError{Branch: branch, Files: files}
	}
	return mergeErr
}

func (r *Repo) ConflictedFiles(ctx context.Context) ([]string, error) {
	out, err := r.runGit(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, err
	}
	return nonEmptyLines(out), nil
}

// AbortMerge is a no-op when no merge is in progress.
func (r *Repo) AbortMerge(ctx context.Context) error {
	if _, err := r.runGit(ctx, "rev-parse", "-q", "--verify", "MERGE_HEAD"); err != nil {
		return nil
	}
	_, err := r.runGit(ctx, "merge", "--abort")
	return err
}

func (r *Repo) BranchExists(ctx context.Context, branch string) bool {
	_, err := r.runGit(ctx, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

// AddWorktree creates path on a new branch from base, or checks out an
// existing branch when it is already there.
func (r *Repo) AddWorktree(ctx context.Context, path string, branch string, base string) error {
	if r.BranchExists(ctx, branch) {
		_, err := r.runGit(ctx, "worktree", "add", path, branch)
		return err
	}
	_, err := r.runGit(ctx, "worktree", "add", "-b", branch, path, base)
	return err
}

type Worktree struct {
	Path   string
	Branch string
	Head   string
}

func (r *Repo) ListWorktrees(ctx context.Context) ([]Worktree, error) {
	out, err := r.runGit(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return ParseWorktreeList(out), nil
}

func ParseWorktreeList(raw string) []Worktree {
	var worktrees []Worktree
	for _, block := range strings.Split(strings.TrimSpace(raw), "\n\n") {
		var wt Worktree
		for _, line := range strings.Split(strings.TrimSpace(block), "\n") {
			switch {
			case strings.HasPrefix(line, "worktree "):
				wt.Path = strings.TrimPrefix(line, "worktree ")
			case strings.HasPrefix(line, "HEAD "):
				wt.Head = strings.TrimPrefix(line, "HEAD ")
			case strings.HasPrefix(line, "branch "):
				wt.Branch = strings.TrimPrefix(line, "branch refs/heads/")
			case line == "detached":
				wt.Branch = ""
			}
		}
		if wt.Path != "" {
			worktrees = append(worktrees, wt)
		}
	}
	return worktrees
}

func (r *Repo) RemoveWorktree(ctx context.Context, path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	_, err := r.runGit(ctx, args...)
	return err
}

// DeleteBranch uses -d so unmerged work is never discarded.
func (r *Repo) DeleteBranch(ctx context.Context, branch string) error {
	_, err := r.runGit(ctx, "branch", "-d", branch)
	return err
}

// HooksDir is the hooks directory git consults for this checkout. Linked
// worktrees share the main repository's hooks.
func (r *Repo) HooksDir(ctx context.Context) (string, error) {
	out, err := r.runGit(ctx, "rev-parse", "--path-format=absolute", "--git-path", "hooks")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// CommonDir is the git directory shared by the main checkout and all of its
// linked worktrees.
func (r *Repo) CommonDir(ctx context.Context) (string, error) {
	out, err := r.runGit(ctx, "rev-parse", "--path-format=absolute", "--git-common-dir")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	out, err := r.runGit(ctx, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (r *Repo) RevParse(ctx context.Context, ref string) (string, error) {
	out, err := r.runGit(ctx, "rev-parse", ref)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (r *Repo) StagedFiles(ctx context.Context) ([]string, error) {
	out, err := r.runGit(ctx, "diff", "--cached", "--name-only")
	if err != nil {
		return nil, err
	}
	return nonEmptyLines(out), nil
}

func (r *Repo) StagedDiff(ctx context.Context) (string, error) {
	return r.runGit(ctx, "diff", "--cached")
}

// BranchDiff is the change set of head since it diverged from base.
func (r *Repo) BranchDiff(ctx context.Context, base string, head string) (string, error) {
	return r.runGit(ctx, "diff", base+"..."+head)
}

type DiffStat struct {
	Files      int
	Insertions int
	Deletions  int
}

func (r *Repo) DiffStat(ctx context.Context, from string, to string) (DiffStat, error) {
	out, err := r.runGit(ctx, "diff", "--shortstat", from, to)
	if err != nil {
		return DiffStat{}, err
	}
	return ParseShortStat(out), nil
}

// ParseShortStat reads "3 files changed, 10 insertions(+), 2 deletions(-)".
func ParseShortStat(out string) DiffStat {
	stat := DiffStat{}
	for _, part := range strings.Split(strings.TrimSpace(out), ",") {
		fields := strings.Fields(part)
		if len(fields) < 2 {
			continue
		}
		n, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		switch {
		case strings.HasPrefix(fields[1], "file"):
			stat.Files = n
		case strings.HasPrefix(fields[1], "insertion"):
			stat.Insertions = n
		case strings.HasPrefix(fields[1], "deletion"):
			stat.Deletions = n
		}
	}
	return stat
}

func (r *Repo) runGit(ctx context.Context, args ...string) (string, error) {
	out, err := r.runner.Run(ctx, r.dir, append([]string{"git"}, args...)...)
	if err == nil {
		return out, nil
	}
	command := "git " + strings.Join(args, " ")
	details := strings.TrimSpace(out)
	if details == "" {
		return "", fmt.Errorf("%s failed: %w", command, err)
	}
	return "", fmt.Errorf("%s failed: %s: %w", command, details, err)
}

func nonEmptyLines(out string) []string {
	lines := []string{}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
