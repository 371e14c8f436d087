package config

import (
	"fmt"
	"strings"
	"time"
)

type fileModel struct {
	Trunk        string       `yaml:"trunk,omitempty"`
	Remote       string       `yaml:"remote,omitempty"`
	WorktreeRoot string       `yaml:"worktree_root,omitempty"`
	BranchPrefix string       `yaml:"branch_prefix,omitempty"`
	Session      sessionModel `yaml:"session,omitempty"`
	Gates        gatesModel   `yaml:"gates,omitempty"`
	Monitor      monitorModel `yaml:"monitor,omitempty"`
	Events       eventsModel  `yaml:"events,omitempty"`
	Hooks        hooksModel   `yaml:"hooks,omitempty"`
	Locks        locksModel   `yaml:"locks,omitempty"`
}

type sessionModel struct {
	BaseURL   string `yaml:"base_url,omitempty"`
	TokenFile string `yaml:"token_file,omitempty"`
	Timeout   string `yaml:"timeout,omitempty"`
	Retries   *int   `yaml:"retries,omitempty"`
	Prefix    string `yaml:"prefix,omitempty"`
	Dashboard string `yaml:"dashboard,omitempty"`
}

type gatesModel struct {
	Baseline      []string `yaml:"baseline,omitempty"`
	Direct        []string `yaml:"direct,omitempty"`
	Timeout       string   `yaml:"timeout,omitempty"`
	PollInterval  string   `yaml:"poll_interval,omitempty"`
	ArtifactDir   string   `yaml:"artifact_dir,omitempty"`
	DirectCommand []string `yaml:"direct_command,omitempty"`
	AgentCommand  string   `yaml:"agent_command,omitempty"`
	Parallel      *int     `yaml:"parallel,omitempty"`
}

type monitorModel struct {
	WarningPercent  *int   `yaml:"warning_percent,omitempty"`
	CriticalPercent *int   `yaml:"critical_percent,omitempty"`
	PollInterval    string `yaml:"poll_interval,omitempty"`
}

type eventsModel struct {
	File        string `yaml:"file,omitempty"`
	RedisAddr   string `yaml:"redis_addr,omitempty"`
	RedisStream string `yaml:"redis_stream,omitempty"`
	NATSURL     string `yaml:"nats_url,omitempty"`
	NATSSubject string `yaml:"nats_subject,omitempty"`
}

type hooksModel struct {
	Template      string   `yaml:"template,omitempty"`
	ReviewCommand []string `yaml:"review_command,omitempty"`
}

type locksModel struct {
	RedisAddr string `yaml:"redis_addr,omitempty"`
	TTL       string `yaml:"ttl,omitempty"`
}

func (m fileModel) apply(cfg *Config) error {
	setString(&cfg.Trunk, m.Trunk)
	setString(&cfg.Remote, m.Remote)
	setString(&cfg.WorktreeRoot, m.WorktreeRoot)
	setString(&cfg.BranchPrefix, m.BranchPrefix)

	setString(&cfg.Session.BaseURL, m.Session.BaseURL)
	setString(&cfg.Session.TokenFile, m.Session.TokenFile)
	setString(&cfg.Session.Prefix, m.Session.Prefix)
	setString(&cfg.Session.Dashboard, m.Session.Dashboard)
	setInt(&cfg.Session.Retries, m.Session.Retries)

	setList(&cfg.Gates.Baseline, m.Gates.Baseline)
	setList(&cfg.Gates.Direct, m.Gates.Direct)
	setString(&cfg.Gates.ArtifactDir, m.Gates.ArtifactDir)
	setList(&cfg.Gates.DirectCommand, m.Gates.DirectCommand)
	setString(&cfg.Gates.AgentCommand, m.Gates.AgentCommand)
	setInt(&cfg.Gates.Parallel, m.Gates.Parallel)

	setInt(&cfg.Monitor.WarningPercent, m.Monitor.WarningPercent)
	setInt(&cfg.Monitor.CriticalPercent, m.Monitor.CriticalPercent)

	setString(&cfg.Events.File, m.Events.File)
	setString(&cfg.Events.RedisAddr, m.Events.RedisAddr)
	setString(&cfg.Events.RedisStream, m.Events.RedisStream)
	setString(&cfg.Events.NATSURL, m.Events.NATSURL)
	setString(&cfg.Events.NATSSubject, m.Events.NATSSubject)

	setString(&cfg.Hooks.Template, m.Hooks.Template)
	setList(&cfg.Hooks.ReviewCommand, m.Hooks.ReviewCommand)
	setString(&cfg.Locks.RedisAddr, m.Locks.RedisAddr)

	durations := []struct {
		field  string
		raw    string
		target *time.Duration
	}{
		{"session.timeout", m.Session.Timeout, &cfg.Session.Timeout},
		{"gates.timeout", m.Gates.Timeout, &cfg.Gates.Timeout},
		{"gates.poll_interval", m.Gates.PollInterval, &cfg.Gates.PollInterval},
		{"monitor.poll_interval", m.Monitor.PollInterval, &cfg.Monitor.PollInterval},
		{"locks.ttl", m.Locks.TTL, &cfg.Locks.TTL},
	}
	for _, d := range durations {
		value := strings.TrimSpace(d.raw)
		if value == "" {
			continue
		}
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s in %s must be a valid duration: %w", d.field, RelPath, err)
		}
		*d.target = parsed
	}
	return nil
}

func setString(target *string, value string) {
	if value = strings.TrimSpace(value); value != "" {
		*target = value
	}
}

func setInt(target *int, value *int) {
	if value != nil {
		*target = *value
	}
}

func setList(target *[]string, values []string) {
	if values != nil {
		*target = append([]string{}, values...)
	}
}
