package worktree

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDetectToolchainsFindsNestedAndMultipleEcosystems(t *testing.T) {
	root := t.TempDir()
	touch(t, filepath.Join(root, "go.mod"))
	touch(t, filepath.Join(root, "package.json"))
	touch(t, filepath.Join(root, "package-lock.json"))
	touch(t, filepath.Join(root, "services", "ml", "pyproject.toml"))
	touch(t, filepath.Join(root, "services", "ml", "requirements.txt"))
	touch(t, filepath.Join(root, "services", "ml", "uv.lock"))
	touch(t, filepath.Join(root, "node_modules", "dep", "package.json"))
	touch(t, filepath.Join(root, "a", "b", "c", "d", "Cargo.toml"))

	got, err := DetectToolchains(root)
	if err != nil {
		t.Fatalf("detect: %v", err)
	}
	summary := []string{}
	for _, tc := range got {
		rel, _ := filepath.Rel(root, tc.Dir)
		summary = append(summary, rel+":"+tc.Ecosystem+":"+strings.Join(tc.Command, " "))
	}
	want := []string{
		".:go:go mod download",
		".:node:npm ci",
		"services/ml:python:uv sync",
	}
	if strings.Join(summary, "|") != strings.Join(want, "|") {
		t.Fatalf("DetectToolchains() = %v, want %v", summary, want)
	}
}

func TestDetectToolchainsEmptyRepo(t *testing.T) {
	got, err := DetectToolchains(t.TempDir())
	if err != nil || len(got) != 0 {
		t.Fatalf("expected nothing, got %v %v", got, err)
	}
}
