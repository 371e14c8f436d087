package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/egv/yolo-wave/internal/contracts"
	"github.com/egv/yolo-wave/internal/logging"
	"github.com/egv/yolo-wave/internal/session"
)

const (
	DefaultTimeout      = 15 * time.Minute
	DefaultPollInterval = 5 * time.Second
	terminateTimeout    = 10 * time.Second
)

type Config struct {
	Direct Verifier
	Hosted Verifier

	// DirectGates lists gate types checked by Direct; everything else is
	// hosted. Defaults to review.
	DirectGates []string

	Sessions     SessionService
	Timeout      time.Duration
	PollInterval time.Duration
	Parallel     int
	WaveID       string
	Events       contracts.EventSink
	Logger       *slog.Logger
	Now          func() time.Time
}

type Result struct {
	ItemID    string
	Gate      string
	State     State
	Reason    string
	Artifact  *Artifact
	SessionID string
	Reused    bool
	History   []State
	Started   time.Time
	Finished  time.Time
}

type Runner struct {
	direct       Verifier
	hosted       Verifier
	directGates  map[string]bool
	sessions     SessionService
	timeout      time.Duration
	pollInterval time.Duration
	parallel     int
	waveID       string
	events       contracts.EventSink
	logger       *slog.Logger
	now          func() time.Time
}

func NewRunner(cfg Config) *Runner {
	r := &Runner{
		direct:       cfg.Direct,
		hosted:       cfg.Hosted,
		directGates:  map[string]bool{},
		sessions:     cfg.Sessions,
		timeout:      cfg.Timeout,
		pollInterval: cfg.PollInterval,
		parallel:     cfg.Parallel,
		waveID:       cfg.WaveID,
		events:       cfg.Events,
		logger:       logging.OrDiscard(cfg.Logger),
		now:          cfg.Now,
	}
	directGates := cfg.DirectGates
	if directGates == nil {
		directGates = []string{"review"}
	}
	for _, gate := range directGates {
		r.directGates[strings.ToLower(strings.TrimSpace(gate))] = true
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	if r.pollInterval <= 0 {
		r.pollInterval = DefaultPollInterval
	}
	if r.parallel <= 0 {
		r.parallel = 4
	}
	if r.events == nil {
		r.events = contracts.NopSink{}
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

func (r *Runner) verifierFor(gateType string) Verifier {
	if r.directGates[gateType] && r.direct != nil {
		return r.direct
	}
	if r.hosted != nil {
		return r.hosted
	}
	return r.direct
}

// Run drives one gate attempt to a terminal state. The returned error is
// reserved for malformed requests; every runtime outcome is in the Result.
func (r *Runner) Run(ctx context.Context, request Request) (Result, error) {
	if err := request.validate(); err != nil {
		return Result{}, err
	}
	if err := contracts.ValidateItemID(request.ItemID); err != nil {
		return Result{}, err
	}
	result := Result{ItemID: request.ItemID, Gate: request.Gate, Started: r.now()}

	if request.Fresh {
		if archived, err := ArchiveArtifact(request.ArtifactPath); err != nil {
			return Result{}, err
		} else if archived != "" {
			r.logger.Info("archived previous gate attempt", "item", request.ItemID, "gate", request.Gate, "path", archived)
		}
	} else if artifact, err := ReadArtifact(request.ArtifactPath); err == nil {
		result.State = artifact.State()
		result.Artifact = &artifact
		result.Reason = artifact.Summary
		result.Reused = true
		result.History = []State{result.State}
		result.Finished = r.now()
		r.emitResolved(ctx, request, result)
		return result, nil
	}

	m := newMachine()
	verifier := r.verifierFor(request.Gate)
	if verifier == nil {
		r.fail(ctx, m, request, &result, "no verifier configured")
		return result, nil
	}

	pending, err := verifier.Spawn(ctx, request)
	if err != nil {
		r.fail(ctx, m, request, &result, "spawn failed: "+err.Error())
		return result, nil
	}
	result.SessionID = pending.SessionID
	r.advance(ctx, m, request, StateSpawned, pending.SessionName)
	r.advance(ctx, m, request, StateAwaitingResult, "")

	r.await(ctx, m, request, pending, &result)
	result.History = append([]State{}, m.history...)
	result.Finished = r.now()
	r.emitResolved(ctx, request, result)
	return result, nil
}

func (r *Runner) await(ctx context.Context, m *machine, request Request, pending Pending, result *Result) {
	budget, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		if artifact, err := ReadArtifact(request.ArtifactPath); err == nil {
			r.resolve(ctx, m, request, result, artifact)
			return
		}
		if pending.Hosted() && r.sessionGone(budget, pending.SessionID) {
			if artifact, err := ReadArtifact(request.ArtifactPath); err == nil {
				r.resolve(ctx, m, request, result, artifact)
				return
			}
			r.recordFailure(ctx, m, request, result, StateFailed, "session exited without writing a result")
			return
		}

		select {
		case <-budget.Done():
			if pending.Hosted() {
				r.terminate(ctx, request, pending)
			}
			if ctx.Err() != nil {
				result.State = StateFailed
				result.Reason = "canceled: " + ctx.Err().Error()
				_ = m.advance(StateFailed)
				return
			}
			r.recordFailure(ctx, m, request, result, StateTimedOut, fmt.Sprintf("no result within %s", r.timeout))
			return
		case <-ticker.C:
		}
	}
}

func (r *Runner) sessionGone(ctx context.Context, id string) bool {
	if r.sessions == nil {
		return false
	}
	current, err := r.sessions.Get(ctx, id)
	if err != nil {
		return errors.Is(err, session.ErrNotFound)
	}
	return current.State == session.StateExited
}

func (r *Runner) terminate(ctx context.Context, request Request, pending Pending) {
	if r.sessions == nil {
		return
	}
	killCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), terminateTimeout)
	defer cancel()
	if err := r.sessions.Delete(killCtx, pending.SessionID); err != nil {
		r.logger.Warn("terminate gate session failed", "item", request.ItemID, "gate", request.Gate, "session", pending.SessionID, "error", err)
		return
	}
	r.emit(ctx, contracts.Event{Type: contracts.EventTypeSessionTerminated, ItemID: request.ItemID, Gate: request.Gate, Message: pending.SessionName})
}

func (r *Runner) resolve(ctx context.Context, m *machine, request Request, result *Result, artifact Artifact) {
	result.Artifact = &artifact
	result.Reason = artifact.Summary
	result.State = artifact.State()
	r.advance(ctx, m, request, result.State, artifact.Summary)
}

// recordFailure resolves the gate and writes the artifact that proves it.
// When another writer got there first, that artifact decides.
func (r *Runner) recordFailure(ctx context.Context, m *machine, request Request, result *Result, state State, reason string) {
	artifact := Artifact{
		Checkpoint:      request.Gate,
		Type:            request.Gate,
		Timestamp:       r.now().UTC().Format(time.RFC3339),
		Passed:          false,
		Summary:         reason,
		TimeoutOccurred: state == StateTimedOut,
	}
	if err := WriteArtifact(request.ArtifactPath, artifact); err != nil {
		if errors.Is(err, ErrAlreadyResolved) {
			if existing, readErr := ReadArtifact(request.ArtifactPath); readErr == nil {
				r.resolve(ctx, m, request, result, existing)
				return
			}
		}
		r.logger.Warn("write gate artifact failed", "item", request.ItemID, "gate", request.Gate, "error", err)
	}
	result.Artifact = &artifact
	result.State = state
	result.Reason = reason
	r.advance(ctx, m, request, state, reason)
}

func (r *Runner) fail(ctx context.Context, m *machine, request Request, result *Result, reason string) {
	r.recordFailure(ctx, m, request, result, StateFailed, reason)
	result.History = append([]State{}, m.history...)
	result.Finished = r.now()
	r.emitResolved(ctx, request, *result)
}

func (r *Runner) advance(ctx context.Context, m *machine, request Request, to State, message string) {
	from := m.state
	if err := m.advance(to); err != nil {
		r.logger.Error("gate transition rejected", "item", request.ItemID, "gate", request.Gate, "error", err)
		return
	}
	r.logger.Debug("gate transition", "item", request.ItemID, "gate", request.Gate, "from", from, "to", to)
	r.emit(ctx, contracts.Event{
		Type:     contracts.EventTypeGateTransition,
		ItemID:   request.ItemID,
		Gate:     request.Gate,
		Worktree: request.Worktree,
		Message:  message,
		Metadata: map[string]string{"from": string(from), "to": string(to)},
	})
}

func (r *Runner) emitResolved(ctx context.Context, request Request, result Result) {
	metadata := map[string]string{"state": string(result.State)}
	if result.Reused {
		metadata["reused"] = "true"
	}
	r.emit(ctx, contracts.Event{
		Type:      contracts.EventTypeGateResolved,
		ItemID:    request.ItemID,
		ItemTitle: request.ItemTitle,
		Gate:      request.Gate,
		Worktree:  request.Worktree,
		Message:   result.Reason,
		Metadata:  metadata,
	})
}

func (r *Runner) emit(ctx context.Context, event contracts.Event) {
	event.WaveID = r.waveID
	if event.Timestamp.IsZero() {
		event.Timestamp = r.now().UTC()
	}
	if err := r.events.Emit(ctx, event); err != nil {
		r.logger.Warn("emit event failed", "type", event.Type, "error", err)
	}
}

// RunAll runs every request concurrently and returns results in request
// order. Gates have no relative ordering; one gate's outcome never stops
// another.
func (r *Runner) RunAll(ctx context.Context, requests []Request) ([]Result, error) {
	for _, request := range requests {
		if err := request.validate(); err != nil {
			return nil, err
		}
	}
	results := make([]Result, len(requests))
	var group errgroup.Group
	group.SetLimit(r.parallel)
	for i, request := range requests {
		group.Go(func() error {
			result, err := r.Run(ctx, request)
			if err != nil {
				return err
			}
			results[i] = result
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ResultsByItem groups results by item id with gates sorted.
func ResultsByItem(results []Result) map[string][]Result {
	byItem := map[string][]Result{}
	for _, result := range results {
		byItem[result.ItemID] = append(byItem[result.ItemID], result)
	}
	for id := range byItem {
		sort.Slice(byItem[id], func(i, j int) bool { return byItem[id][i].Gate < byItem[id][j].Gate })
	}
	return byItem
}
