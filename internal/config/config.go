package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const RelPath = ".yolo-wave/config.yaml"

type SessionConfig struct {
	BaseURL   string
	TokenFile string
	Timeout   time.Duration
	Retries   int
	Prefix    string
	Dashboard string
}

type GateConfig struct {
	Baseline      []string
	Direct        []string
	Timeout       time.Duration
	PollInterval  time.Duration
	ArtifactDir   string
	DirectCommand []string
	AgentCommand  string
	Parallel      int
}

type MonitorConfig struct {
	WarningPercent  int
	CriticalPercent int
	PollInterval    time.Duration
}

type EventsConfig struct {
	File        string
	RedisAddr   string
	RedisStream string
	NATSURL     string
	NATSSubject string
}

type HooksConfig struct {
	Template      string
	ReviewCommand []string
}

type LocksConfig struct {
	RedisAddr string
	TTL       time.Duration
}

// Config is the resolved configuration. Relative paths are kept as written;
// callers join them with the repository root or worktree they apply to.
type Config struct {
	Trunk        string
	Remote       string
	WorktreeRoot string
	BranchPrefix string
	Session      SessionConfig
	Gates        GateConfig
	Monitor      MonitorConfig
	Events       EventsConfig
	Hooks        HooksConfig
	Locks        LocksConfig
}

func Default() Config {
	return Config{
		Trunk:        "main",
		Remote:       "origin",
		WorktreeRoot: ".yolo-wave/worktrees",
		BranchPrefix: "wave/",
		Session: SessionConfig{
			BaseURL:   "http://127.0.0.1:7681",
			TokenFile: "~/.config/session-host/token",
			Timeout:   30 * time.Second,
			Retries:   3,
			Prefix:    "wave-",
			Dashboard: "dashboard",
		},
		Gates: GateConfig{
			Baseline:      []string{"review"},
			Direct:        []string{"review"},
			Timeout:       15 * time.Minute,
			PollInterval:  5 * time.Second,
			ArtifactDir:   ".yolo-wave/gates",
			DirectCommand: []string{"claude", "-p", "Review the diff in {diff} against {base}. List problems as bullets and finish with REVIEW_VERDICT: pass or REVIEW_VERDICT: fail."},
			AgentCommand:  "claude",
			Parallel:      4,
		},
		Monitor: MonitorConfig{
			WarningPercent:  70,
			CriticalPercent: 90,
			PollInterval:    5 * time.Second,
		},
		Events: EventsConfig{
			File:        ".yolo-wave/logs/events.jsonl",
			RedisStream: "yolo-wave:events",
			NATSSubject: "yolo-wave.events",
		},
		Hooks: HooksConfig{
			Template:      ".yolo-wave/hooks/pre-commit",
			ReviewCommand: []string{"claude", "-p", "Review the staged diff in {diff}. List problems as bullets and say NEEDS WORK if the commit should not land."},
		},
		Locks: LocksConfig{TTL: 2 * time.Minute},
	}
}

// Load reads <repoRoot>/.yolo-wave/config.yaml over the defaults. A missing
// file yields the defaults. Unknown keys are rejected.
func Load(repoRoot string) (Config, error) {
	cfg := Default()
	content, err := os.ReadFile(filepath.Join(repoRoot, RelPath))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("cannot read config file at %s: %w", RelPath, err)
	}
	cfg, err = Parse(content)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func Parse(content []byte) (Config, error) {
	var model fileModel
	decoder := yaml.NewDecoder(strings.NewReader(string(content)))
	decoder.KnownFields(true)
	if err := decoder.Decode(&model); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("cannot parse config file at %s: %w", RelPath, err)
	}
	cfg := Default()
	if err := model.apply(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate returns the first violation found.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Trunk) == "":
		return fieldError("trunk", "must not be empty")
	case strings.TrimSpace(c.BranchPrefix) == "":
		return fieldError("branch_prefix", "must not be empty")
	case strings.ContainsAny(c.BranchPrefix, " ~^:?*[\\"):
		return fieldError("branch_prefix", "is not a valid branch name prefix")
	case strings.TrimSpace(c.WorktreeRoot) == "":
		return fieldError("worktree_root", "must not be empty")
	case strings.TrimSpace(c.Session.Prefix) == "":
		return fieldError("session.prefix", "must not be empty")
	case c.Session.Timeout <= 0:
		return fieldError("session.timeout", "must be greater than 0")
	case c.Session.Retries < 0:
		return fieldError("session.retries", "must be greater than or equal to 0")
	case c.Gates.Timeout <= 0:
		return fieldError("gates.timeout", "must be greater than 0")
	case c.Gates.PollInterval <= 0:
		return fieldError("gates.poll_interval", "must be greater than 0")
	case c.Gates.PollInterval > c.Gates.Timeout:
		return fieldError("gates.poll_interval", "must not exceed gates.timeout")
	case c.Gates.Parallel <= 0:
		return fieldError("gates.parallel", "must be greater than 0")
	case strings.TrimSpace(c.Gates.ArtifactDir) == "" || filepath.IsAbs(c.Gates.ArtifactDir):
		return fieldError("gates.artifact_dir", "must be a path relative to the worktree")
	case len(c.Gates.DirectCommand) == 0:
		return fieldError("gates.direct_command", "must not be empty")
	case c.Monitor.WarningPercent <= 0 || c.Monitor.WarningPercent > 100:
		return fieldError("monitor.warning_percent", "must be between 1 and 100")
	case c.Monitor.CriticalPercent <= 0 || c.Monitor.CriticalPercent > 100:
		return fieldError("monitor.critical_percent", "must be between 1 and 100")
	case c.Monitor.WarningPercent >= c.Monitor.CriticalPercent:
		return fieldError("monitor.warning_percent", "must be below monitor.critical_percent")
	case c.Monitor.PollInterval <= 0:
		return fieldError("monitor.poll_interval", "must be greater than 0")
	case c.Events.RedisAddr != "" && strings.TrimSpace(c.Events.RedisStream) == "":
		return fieldError("events.redis_stream", "is required when events.redis_addr is set")
	case c.Events.NATSURL != "" && strings.TrimSpace(c.Events.NATSSubject) == "":
		return fieldError("events.nats_subject", "is required when events.nats_url is set")
	case c.Locks.TTL <= 0:
		return fieldError("locks.ttl", "must be greater than 0")
	}
	for _, gateType := range c.Gates.Direct {
		if strings.TrimSpace(gateType) == "" {
			return fieldError("gates.direct", "must not contain empty gate names")
		}
	}
	if c.Session.BaseURL != "" {
		parsed, err := url.Parse(c.Session.BaseURL)
		if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
			return fieldError("session.base_url", "must be an http or https URL")
		}
	}
	return nil
}

func fieldError(field string, problem string) error {
	return fmt.Errorf("%s in %s %s", field, RelPath, problem)
}

// ResolvePath joins a configured path with root unless it is absolute.
func ResolvePath(root string, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
