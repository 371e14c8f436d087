package completion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/egv/yolo-wave/internal/contracts"
	"github.com/egv/yolo-wave/internal/logging"
	"github.com/egv/yolo-wave/internal/scheduler"
	"github.com/egv/yolo-wave/internal/session"
	"github.com/egv/yolo-wave/internal/skills"
	"github.com/egv/yolo-wave/internal/vcs/git"
)

type Stage string

const (
	StageCapture   Stage = "capture"
	StageTerminate Stage = "terminate"
	StageMerge     Stage = "merge"
	StageCleanup   Stage = "cleanup"
	StageSummarize Stage = "summarize"
)

var Stages = []Stage{StageCapture, StageTerminate, StageMerge, StageCleanup, StageSummarize}

func ParseStage(raw string) (Stage, error) {
	stage := Stage(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Stages {
		if stage == known {
			return stage, nil
		}
	}
	return "", fmt.Errorf("unknown stage %q (want one of capture, terminate, merge, cleanup, summarize)", raw)
}

type Repository interface {
	CheckoutTrunk(ctx context.Context, trunk string) error
	HasRemote(ctx context.Context, remote string) bool
	PullFastForward(ctx context.Context, remote string, trunk string) error
	BranchExists(ctx context.Context, branch string) bool
	Merge(ctx context.Context, branch string, message string) error
	RevParse(ctx context.Context, ref string) (string, error)
	DiffStat(ctx context.Context, from string, to string) (git.DiffStat, error)
	RemoveWorktree(ctx context.Context, path string, force bool) error
	DeleteBranch(ctx context.Context, branch string) error
}

type SessionService interface {
	Healthy(ctx context.Context) error
	List(ctx context.Context) ([]session.Session, error)
	Delete(ctx context.Context, id string) error
}

type Multiplexer interface {
	Capture(ctx context.Context, name string) (string, error)
	KillMatching(ctx context.Context, match func(name string) bool) ([]string, error)
}

type Layout interface {
	PathFor(id string) string
	BranchFor(id string) string
}

type Config struct {
	RepoRoot      string
	Trunk         string
	Remote        string
	SessionPrefix string
	ArtifactDir   string
	TranscriptDir string
	StepTimeout   time.Duration
	WaveID        string

	Repo     Repository
	Backlog  contracts.Backlog
	Resolver *skills.Resolver
	Sessions SessionService
	Mux      Multiplexer
	Layout   Layout
	Landing  *scheduler.LandingLock
	Events   contracts.EventSink
	Logger   *slog.Logger
	Now      func() time.Time
}

type Options struct {
	Skip map[Stage]bool
}

func (o Options) skipped(stage Stage) bool {
	return o.Skip[stage]
}

type Pipeline struct {
	cfg    Config
	logger *slog.Logger
	events contracts.EventSink
	now    func() time.Time
}

func New(cfg Config) (*Pipeline, error) {
	if strings.TrimSpace(cfg.RepoRoot) == "" {
		return nil, errors.New("repository root is required")
	}
	if cfg.Repo == nil || cfg.Backlog == nil || cfg.Layout == nil {
		return nil, errors.New("repository, backlog and worktree layout are required")
	}
	if cfg.Trunk == "" {
		cfg.Trunk = "main"
	}
	if cfg.Remote == "" {
		cfg.Remote = "origin"
	}
	if cfg.SessionPrefix == "" {
		cfg.SessionPrefix = "wave-"
	}
	if cfg.TranscriptDir == "" {
		cfg.TranscriptDir = filepath.Join(cfg.RepoRoot, ".yolo-wave", "transcripts")
	}
	if cfg.StepTimeout <= 0 {
		cfg.StepTimeout = 2 * time.Minute
	}
	if cfg.Landing == nil {
		cfg.Landing = scheduler.NewLandingLock()
	}
	p := &Pipeline{cfg: cfg, logger: logging.OrDiscard(cfg.Logger), events: cfg.Events, now: cfg.Now}
	if p.events == nil {
		p.events = contracts.NopSink{}
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p, nil
}

// Run closes a wave over ids, in order. The error is reserved for invalid
// input and is returned before anything is touched; per-item failures are
// recorded in the report.
func (p *Pipeline) Run(ctx context.Context, ids []string, opts Options) (Report, error) {
	if len(ids) == 0 {
		return Report{}, errors.New("at least one item id is required")
	}
	seen := map[string]bool{}
	for _, id := range ids {
		if err := contracts.ValidateItemID(id); err != nil {
			return Report{}, err
		}
		if seen[id] {
			return Report{}, fmt.Errorf("item %s listed twice", id)
		}
		seen[id] = true
	}

	report := Report{WaveID: p.cfg.WaveID, Trunk: p.cfg.Trunk, Started: p.now()}
	for _, id := range ids {
		report.Items = append(report.Items, &ItemReport{
			ID:       id,
			Worktree: p.cfg.Layout.PathFor(id),
			Branch:   p.cfg.Layout.BranchFor(id),
			Merge:    MergeSkipped,
		})
	}
	p.loadItems(ctx, &report)
	p.emit(ctx, contracts.Event{Type: contracts.EventTypeWaveStarted, Message: strings.Join(ids, ",")})

	stages := []struct {
		stage Stage
		run   func(context.Context, *Report)
	}{
		{StageCapture, p.capture},
		{StageTerminate, p.terminate},
		{StageMerge, p.merge},
		{StageCleanup, p.cleanup},
		{StageSummarize, p.summarize},
	}
	for _, entry := range stages {
		if opts.skipped(entry.stage) {
			report.Skipped = append(report.Skipped, entry.stage)
			p.emit(ctx, contracts.Event{Type: contracts.EventTypeStageSkipped, Stage: string(entry.stage)})
			continue
		}
		p.emit(ctx, contracts.Event{Type: contracts.EventTypeStageStarted, Stage: string(entry.stage)})
		entry.run(ctx, &report)
		p.emit(ctx, contracts.Event{Type: contracts.EventTypeStageFinished, Stage: string(entry.stage)})
	}

	report.Finished = p.now()
	p.emit(ctx, contracts.Event{
		Type:     contracts.EventTypeWaveFinished,
		Message:  report.Headline(),
		Metadata: map[string]string{"merged": fmt.Sprint(report.Count(MergeMerged)), "failed": fmt.Sprint(report.MergeFailures())},
	})
	return report, nil
}

func (p *Pipeline) loadItems(ctx context.Context, report *Report) {
	for _, item := range report.Items {
		loaded, err := p.cfg.Backlog.Get(ctx, item.ID)
		if err != nil {
			item.warn("load item: %v", err)
			continue
		}
		item.Title = loaded.Title
		item.loaded = true
	}
}

// stepContext bounds one external call.
func (p *Pipeline) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.cfg.StepTimeout)
}

// ownsSession reports whether a session name belongs to item id: its worker
// session or one of its gate sessions.
func (p *Pipeline) ownsSession(name string, id string) bool {
	return name == p.cfg.SessionPrefix+id || (strings.HasPrefix(name, "gate-") && strings.HasSuffix(name, "-"+id))
}

func (p *Pipeline) workerSession(id string) string {
	return p.cfg.SessionPrefix + id
}

func (p *Pipeline) serviceReachable(ctx context.Context) bool {
	if p.cfg.Sessions == nil {
		return false
	}
	stepCtx, cancel := p.stepContext(ctx)
	defer cancel()
	if err := p.cfg.Sessions.Healthy(stepCtx); err != nil {
		p.logger.Info("session service unreachable", "error", err)
		return false
	}
	return true
}

func (p *Pipeline) emit(ctx context.Context, event contracts.Event) {
	event.WaveID = p.cfg.WaveID
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now().UTC()
	}
	if err := p.events.Emit(ctx, event); err != nil {
		p.logger.Warn("emit event failed", "type", event.Type, "error", err)
	}
}

// Print writes the report using the terminal renderer when out is a
// terminal and as plain markdown otherwise.
func Print(out io.Writer, report Report) error {
	return RenderMarkdown(out, report.Markdown())
}
