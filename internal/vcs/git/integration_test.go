package git

import (
	"context"
	"os"
	osexec "os/exec"
	"path/filepath"
	"strings"
	"testing"
)

type shellRunner struct{}

func (shellRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := osexec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_AUTHOR_NAME=wave", "GIT_AUTHOR_EMAIL=wave@example.com", "GIT_COMMITTER_NAME=wave", "GIT_COMMITTER_EMAIL=wave@example.com")
	out, err := cmd.CombinedOutput()
	return string(out), err
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := osexec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

func mustGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, err := shellRunner{}.Run(context.Background(), dir, append([]string{"git"}, args...)...)
	if err != nil {
		t.Fatalf("git %s: %v: %s", strings.Join(args, " "), err, out)
	}
	return out
}

func writeFile(t *testing.T, path string, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestRealMergeConflictLeavesTrunkClean(t *testing.T) {
	requireGit(t)
	dir := t.TempDir()
	mustGit(t, dir, "init", "-q", "-b", "main")
	writeFile(t, filepath.Join(dir, "shared.txt"), "base\n")
	mustGit(t, dir, "add", ".")
	mustGit(t, dir, "commit", "-q", "-m", "base")

	mustGit(t, dir, "checkout", "-q", "-b", "feature")
	writeFile(t, filepath.Join(dir, "shared.txt"), "feature\n")
	mustGit(t, dir, "commit", "-q", "-am", "feature")
	mustGit(t, dir, "checkout", "-q", "main")
	writeFile(t, filepath.Join(dir, "shared.txt"), "trunk\n")
	mustGit(t, dir, "commit", "-q", "-am", "trunk")

	repo := New(shellRunner{}, dir)
	err := repo.Merge(context.Background(), "feature", "")
	if !IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if status := mustGit(t, dir, "status", "--porcelain"); strings.TrimSpace(status) != "" {
		t.Fatalf("expected clean tree after abort, got %q", status)
	}
	content, _ := os.ReadFile(filepath.Join(dir, "shared.txt"))
	if string(content) != "trunk\n" {
		t.Fatalf("unexpected trunk content %q", string(content))
	}
}
