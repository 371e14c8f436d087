package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	root := t.TempDir()
	path := filepath.Join(root, RelPath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return root
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Trunk != "main" || cfg.Gates.Timeout != 15*time.Minute || cfg.Monitor.CriticalPercent != 90 {
		t.Fatalf("unexpected defaults: %#v", cfg)
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestLoadOverlaysFileOnDefaults(t *testing.T) {
	root := writeConfig(t, `trunk: develop
gates:
  timeout: 5m
  direct: []
  parallel: 2
session:
  retries: 0
events:
  redis_addr: 127.0.0.1:6379
`)
	cfg, err := Load(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Trunk != "develop" {
		t.Fatalf("expected trunk develop, got %q", cfg.Trunk)
	}
	if cfg.Gates.Timeout != 5*time.Minute || cfg.Gates.Parallel != 2 {
		t.Fatalf("unexpected gates config: %#v", cfg.Gates)
	}
	if len(cfg.Gates.Direct) != 0 {
		t.Fatalf("explicit empty direct list must clear the default, got %v", cfg.Gates.Direct)
	}
	if cfg.Session.Retries != 0 {
		t.Fatalf("explicit zero retries must be kept, got %d", cfg.Session.Retries)
	}
	if cfg.Gates.PollInterval != 5*time.Second || cfg.Events.RedisStream != "yolo-wave:events" {
		t.Fatalf("unset values must keep defaults: %#v", cfg)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	root := writeConfig(t, "gates:\n  timeuot: 5m\n")
	_, err := Load(root)
	if err == nil || !strings.Contains(err.Error(), "cannot parse config file at .yolo-wave/config.yaml") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestLoadReportsInvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "duration", content: "gates:\n  timeout: soon\n", want: "gates.timeout in .yolo-wave/config.yaml must be a valid duration"},
		{name: "thresholds", content: "monitor:\n  warning_percent: 95\n", want: "monitor.warning_percent"},
		{name: "percent range", content: "monitor:\n  critical_percent: 150\n", want: "monitor.critical_percent"},
		{name: "base url", content: "session:\n  base_url: localhost:7681\n", want: "session.base_url"},
		{name: "absolute artifacts", content: "gates:\n  artifact_dir: /tmp/gates\n", want: "gates.artifact_dir"},
		{name: "retries", content: "session:\n  retries: -1\n", want: "session.retries"},
		{name: "poll above timeout", content: "gates:\n  timeout: 1s\n  poll_interval: 2s\n", want: "gates.poll_interval"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestValidateRequiresSubjectForNATS(t *testing.T) {
	cfg := Default()
	cfg.Events.NATSURL = "nats://127.0.0.1:4222"
	cfg.Events.NATSSubject = ""
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "events.nats_subject") {
		t.Fatalf("expected nats subject error, got %v", err)
	}
}

func TestEmptyFileIsValid(t *testing.T) {
	if _, err := Load(writeConfig(t, "")); err != nil {
		t.Fatalf("empty config should load: %v", err)
	}
}

func TestWriteStarterRefusesOverwriteWithoutForce(t *testing.T) {
	root := t.TempDir()
	if err := WriteStarter(root, false); err != nil {
		t.Fatalf("write starter: %v", err)
	}
	if _, err := Load(root); err != nil {
		t.Fatalf("starter config must load: %v", err)
	}
	err := WriteStarter(root, false)
	if err == nil || !strings.Contains(err.Error(), "--force") {
		t.Fatalf("expected overwrite refusal, got %v", err)
	}
	if err := WriteStarter(root, true); err != nil {
		t.Fatalf("forced write: %v", err)
	}
}

func TestResolvePath(t *testing.T) {
	if got := ResolvePath("/repo", ".yolo-wave/worktrees"); got != "/repo/.yolo-wave/worktrees" {
		t.Fatalf("unexpected relative resolution %q", got)
	}
	if got := ResolvePath("/repo", "/abs"); got != "/abs" {
		t.Fatalf("absolute path must be kept, got %q", got)
	}
}
