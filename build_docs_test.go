package yolo_wave

import (
	"os"
	"regexp"
	"strings"
	"testing"
)

func TestMakefileTargets(t *testing.T) {
	content, err := os.ReadFile("Makefile")
	if err != nil {
		t.Fatalf("expected Makefile to exist: %v", err)
	}

	makefile := string(content)
	if !regexp.MustCompile(`(?m)^test:\n\tgo test \./\.\.\.`).MatchString(makefile) {
		t.Fatalf("expected make test to run go test ./...\nMakefile:\n%s", makefile)
	}
	for _, binary := range []string{"bin/yolo-wave ", "bin/yolo-wave-hook "} {
		if !regexp.MustCompile(`(?m)^build:(?:\n\t.*)*\n\tgo build .*` + regexp.QuoteMeta(binary)).MatchString(makefile) {
			t.Fatalf("expected make build to build %s\nMakefile:\n%s", strings.TrimSpace(binary), makefile)
		}
	}
}

func TestReadmeDocumentsRequirementsAndCommands(t *testing.T) {
	content, err := os.ReadFile("README.md")
	if err != nil {
		t.Fatalf("expected README.md to exist: %v", err)
	}

	readme := string(content)
	for _, requirement := range []string{"git", "bd", "tmux", "session.base_url"} {
		if !strings.Contains(readme, requirement) {
			t.Fatalf("expected README to mention %q", requirement)
		}
	}
	for _, command := range []string{"init", "plan", "overlap", "provision", "gate", "status", "watch", "complete", "events"} {
		if !strings.Contains(readme, "yolo-wave "+command) {
			t.Fatalf("expected README to include an example of %q", command)
		}
	}
	if !strings.Contains(readme, "Exit codes") {
		t.Fatalf("expected README to document exit codes")
	}
}

func TestReadmeDocumentsSmokeTest(t *testing.T) {
	content, err := os.ReadFile("README.md")
	if err != nil {
		t.Fatalf("expected README.md to exist: %v", err)
	}

	readme := string(content)
	requiredPhrases := []string{
		"Manual Smoke Test",
		"throwaway branch",
		"worktree",
		"`bd ready`",
		".yolo-wave/logs/wave.jsonl",
		".yolo-wave/transcripts/",
		"Success looks like",
	}
	for _, phrase := range requiredPhrases {
		if !strings.Contains(readme, phrase) {
			t.Fatalf("expected README smoke test instructions to mention %q", phrase)
		}
	}

	if !regexp.MustCompile(`(?i)inspect.*commit`).MatchString(readme) {
		t.Fatalf("expected README smoke test instructions to mention inspecting the resulting commit")
	}
}
