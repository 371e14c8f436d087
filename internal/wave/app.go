package wave

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/egv/yolo-wave/internal/beads"
	"github.com/egv/yolo-wave/internal/completion"
	"github.com/egv/yolo-wave/internal/config"
	"github.com/egv/yolo-wave/internal/contracts"
	"github.com/egv/yolo-wave/internal/eventbus"
	"github.com/egv/yolo-wave/internal/exec"
	"github.com/egv/yolo-wave/internal/gate"
	"github.com/egv/yolo-wave/internal/hook"
	"github.com/egv/yolo-wave/internal/logging"
	"github.com/egv/yolo-wave/internal/monitor"
	"github.com/egv/yolo-wave/internal/session"
	"github.com/egv/yolo-wave/internal/skills"
	"github.com/egv/yolo-wave/internal/vcs/git"
	"github.com/egv/yolo-wave/internal/worktree"
)

// NewID returns a fresh wave run id.
func NewID() string {
	return "wave-" + time.Now().UTC().Format("20060102-150405") + "-" + strings.Split(uuid.NewString(), "-")[0]
}

type Options struct {
	WaveID  string
	Verbose bool

	// EventsOut additionally streams events as JSONL, typically stdout.
	EventsOut io.Writer
	Stderr    io.Writer

	// Offline skips the session service even when one is configured.
	Offline bool
}

// App holds the components of one command invocation, built from the
// repository's config.
type App struct {
	RepoRoot string
	Config   config.Config
	WaveID   string
	Logger   *slog.Logger

	Runner   *exec.CommandRunner
	Repo     *git.Repo
	Backlog  *beads.Adapter
	Resolver *skills.Resolver
	Sessions *session.Client
	Tmux     *session.TmuxProbe
	Events   contracts.EventSink

	provisioner *worktree.Provisioner
	closers     []func() error
}

func Open(ctx context.Context, repoRoot string, opts Options) (*App, error) {
	if strings.TrimSpace(repoRoot) == "" {
		return nil, Usagef("repository root is required")
	}
	root, err := filepath.Abs(repoRoot)
	if err != nil {
		return nil, &UsageError{Err: err}
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, &UsageError{Err: err}
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}
	waveID := opts.WaveID
	if waveID == "" {
		waveID = NewID()
	}

	app := &App{RepoRoot: root, Config: cfg, WaveID: waveID}
	logger, closeLog, err := logging.NewLogger(filepath.Join(root, ".yolo-wave", "logs", "wave.jsonl"), opts.Verbose, stderr)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	app.closers = append(app.closers, closeLog)
	app.Logger = logger.With("wave_id", waveID)

	app.Runner = exec.NewCommandRunner(filepath.Join(root, ".yolo-wave", "logs", "commands"), stderr)
	app.Repo = git.New(app.Runner, root)
	app.Backlog = beads.New(app.Runner, root)
	app.Resolver = skills.NewResolver(cfg.Gates.Baseline)
	app.Tmux = session.NewTmuxProbe(app.Runner, cfg.Session.Dashboard)

	if !opts.Offline && cfg.Session.BaseURL != "" {
		token, err := session.LoadToken(cfg.Session.TokenFile)
		if err != nil {
			app.Logger.Warn("session token unreadable", "path", cfg.Session.TokenFile, "error", err)
		}
		client, err := session.NewClient(session.Config{
			BaseURL:      cfg.Session.BaseURL,
			Token:        token,
			Attempts:     uint(cfg.Session.Retries) + 1,
			ReadyTimeout: cfg.Session.Timeout,
		})
		if err != nil {
			return nil, errors.Join(&UsageError{Err: err}, app.Close())
		}
		app.Sessions = client
	}

	events, err := app.openEvents(ctx, opts.EventsOut)
	if err != nil {
		return nil, errors.Join(err, app.Close())
	}
	app.Events = events
	return app, nil
}

func (a *App) openEvents(ctx context.Context, stream io.Writer) (contracts.EventSink, error) {
	sinks := []contracts.EventSink{}
	if a.Config.Events.File != "" {
		sinks = append(sinks, contracts.NewFileEventSink(config.ResolvePath(a.RepoRoot, a.Config.Events.File)))
	}
	if stream != nil {
		sinks = append(sinks, contracts.NewStreamEventSink(stream))
	}
	if addr := a.Config.Events.RedisAddr; addr != "" {
		client, err := eventbus.DialRedis(addr)
		if err != nil {
			return nil, &UsageError{Err: err}
		}
		a.closers = append(a.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			a.Logger.Warn("redis event stream unreachable", "addr", addr, "error", err)
		}
		sink, err := eventbus.NewRedisSink(client, a.Config.Events.RedisStream, 10000)
		if err != nil {
			return nil, &UsageError{Err: err}
		}
		sinks = append(sinks, sink)
	}
	if url := a.Config.Events.NATSURL; url != "" {
		sink, err := eventbus.ConnectNATS(url, a.Config.Events.NATSSubject)
		if err != nil {
			a.Logger.Warn("nats event subject unavailable", "url", url, "error", err)
		} else {
			a.closers = append(a.closers, sink.Close)
			sinks = append(sinks, sink)
		}
	}
	return &loggingSink{sink: contracts.NewFanoutEventSink(sinks...), logger: a.Logger}, nil
}

// Close releases log files and broker connections.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) Provisioner() (*worktree.Provisioner, error) {
	if a.provisioner != nil {
		return a.provisioner, nil
	}
	cfg := worktree.Config{
		RepoRoot:     a.RepoRoot,
		WorktreeRoot: config.ResolvePath(a.RepoRoot, a.Config.WorktreeRoot),
		BranchPrefix: a.Config.BranchPrefix,
		Trunk:        a.Config.Trunk,
		HookTemplate: a.Config.Hooks.Template,
		Runner:       a.Runner,
		Events:       a.Events,
		Logger:       a.Logger,
	}
	if addr := a.Config.Locks.RedisAddr; addr != "" {
		client, err := eventbus.DialRedis(addr)
		if err != nil {
			return nil, &UsageError{Err: err}
		}
		a.closers = append(a.closers, client.Close)
		cfg.Locker = worktree.NewRedisLocker(client, worktree.RedisLockerConfig{TTL: a.Config.Locks.TTL})
	}
	provisioner, err := worktree.NewProvisioner(cfg)
	if err != nil {
		return nil, err
	}
	a.provisioner = provisioner
	return provisioner, nil
}

func (a *App) Planner() (*Planner, error) {
	layout, err := a.Provisioner()
	if err != nil {
		return nil, err
	}
	return &Planner{
		Backlog:     a.Backlog,
		Resolver:    a.Resolver,
		Layout:      layout,
		ArtifactDir: a.Config.Gates.ArtifactDir,
		WaveID:      a.WaveID,
		Events:      a.Events,
		Logger:      a.Logger,
	}, nil
}

// GateRunner builds the gate runner. A positive timeout overrides the
// configured budget.
func (a *App) GateRunner(timeout time.Duration) *gate.Runner {
	if timeout <= 0 {
		timeout = a.Config.Gates.Timeout
	}
	cfg := gate.Config{
		Direct: &gate.DirectVerifier{
			Runner:  a.Runner,
			Diffs:   func(dir string) gate.DiffSource { return a.Repo.At(dir) },
			Command: a.Config.Gates.DirectCommand,
		},
		DirectGates:  a.Config.Gates.Direct,
		Timeout:      timeout,
		PollInterval: a.Config.Gates.PollInterval,
		Parallel:     a.Config.Gates.Parallel,
		WaveID:       a.WaveID,
		Events:       a.Events,
		Logger:       a.Logger,
	}
	if a.Sessions != nil {
		cfg.Hosted = &gate.HostedVerifier{Sessions: a.Sessions, Command: a.Config.Gates.AgentCommand}
		cfg.Sessions = a.Sessions
	}
	return gate.NewRunner(cfg)
}

func (a *App) Gates(timeout time.Duration) (*Gates, error) {
	layout, err := a.Provisioner()
	if err != nil {
		return nil, err
	}
	return &Gates{
		Backlog:     a.Backlog,
		Resolver:    a.Resolver,
		Runner:      a.GateRunner(timeout),
		Layout:      layout,
		ArtifactDir: a.Config.Gates.ArtifactDir,
		Trunk:       a.Config.Trunk,
	}, nil
}

func (a *App) Monitor() *monitor.Monitor {
	cfg := monitor.Config{
		Probe:  a.Tmux,
		Items:  a.Backlog,
		Logger: a.Logger,
	}
	if a.Sessions != nil {
		cfg.Sessions = a.Sessions
	}
	return monitor.New(cfg)
}

func (a *App) Thresholds() monitor.Thresholds {
	return monitor.Thresholds{
		WarningPercent:  a.Config.Monitor.WarningPercent,
		CriticalPercent: a.Config.Monitor.CriticalPercent,
	}
}

// RaiseAlert logs an operator alert and publishes it on the event stream.
func (a *App) RaiseAlert(ctx context.Context, alert monitor.Alert) {
	a.Logger.Warn("worker alert", "type", alert.Type, "session", alert.Session, "item", alert.ItemID, "message", alert.Message)
	_ = a.Events.Emit(ctx, contracts.Event{
		Type:      contracts.EventTypeAlertRaised,
		WaveID:    a.WaveID,
		ItemID:    alert.ItemID,
		Message:   alert.Message,
		Metadata:  map[string]string{"alert": string(alert.Type), "session": alert.Session},
		Timestamp: time.Now().UTC(),
	})
}

func (a *App) Pipeline() (*completion.Pipeline, error) {
	layout, err := a.Provisioner()
	if err != nil {
		return nil, err
	}
	cfg := completion.Config{
		RepoRoot:      a.RepoRoot,
		Trunk:         a.Config.Trunk,
		Remote:        a.Config.Remote,
		SessionPrefix: a.Config.Session.Prefix,
		ArtifactDir:   a.Config.Gates.ArtifactDir,
		WaveID:        a.WaveID,
		Repo:          a.Repo,
		Backlog:       a.Backlog,
		Resolver:      a.Resolver,
		Mux:           a.Tmux,
		Layout:        layout,
		Events:        a.Events,
		Logger:        a.Logger,
	}
	if a.Sessions != nil {
		cfg.Sessions = a.Sessions
	}
	return completion.New(cfg)
}

// Hook builds the pre-commit hook. Worktrees share the main repository's
// config, so the hook is opened on the repository root.
func (a *App) Hook() (*hook.Hook, error) {
	cfg := hook.Config{
		BranchPrefix:  a.Config.BranchPrefix,
		SessionPrefix: a.Config.Session.Prefix,
		Command:       a.Config.Hooks.ReviewCommand,
		Notify:        true,
		Repo:          func(dir string) hook.Repository { return a.Repo.At(dir) },
		Runner:        a.Runner,
		Panes:         a.Tmux,
		Logger:        a.Logger,
	}
	if a.Sessions != nil {
		cfg.Sessions = a.Sessions
	}
	return hook.New(cfg)
}

// loggingSink keeps a broken event sink from failing the operation that
// emitted the event.
type loggingSink struct {
	sink   contracts.EventSink
	logger *slog.Logger
}

func (s *loggingSink) Emit(ctx context.Context, event contracts.Event) error {
	if err := s.sink.Emit(ctx, event); err != nil {
		s.logger.Warn("event sink failed", "type", event.Type, "error", err)
	}
	return nil
}
