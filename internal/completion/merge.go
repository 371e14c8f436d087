package completion

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"github.com/egv/yolo-wave/internal/contracts"
	"github.com/egv/yolo-wave/internal/gate"
	"github.com/egv/yolo-wave/internal/logging"
	"github.com/egv/yolo-wave/internal/metadata"
	"github.com/egv/yolo-wave/internal/vcs/git"
)

// merge lands eligible branches onto trunk one at a time. A conflict aborts
// only that item's merge.
func (p *Pipeline) merge(ctx context.Context, report *Report) {
	p.cfg.Landing.Lock()
	defer p.cfg.Landing.Unlock()

	stepCtx, cancel := p.stepContext(ctx)
	err := p.cfg.Repo.CheckoutTrunk(stepCtx, p.cfg.Trunk)
	cancel()
	if err != nil {
		for _, item := range report.Items {
			item.Merge = MergeError
			item.Reason = "checkout " + p.cfg.Trunk + ": " + err.Error()
		}
		return
	}

	if p.cfg.Repo.HasRemote(ctx, p.cfg.Remote) {
		stepCtx, cancel := p.stepContext(ctx)
		if err := p.cfg.Repo.PullFastForward(stepCtx, p.cfg.Remote, p.cfg.Trunk); err != nil {
			report.warn("pull --ff-only %s/%s: %v", p.cfg.Remote, p.cfg.Trunk, err)
		}
		cancel()
	}

	if head, err := p.cfg.Repo.RevParse(ctx, "HEAD"); err == nil {
		report.TrunkBefore = head
	}

	for _, item := range report.Items {
		p.mergeItem(ctx, item)
	}

	if head, err := p.cfg.Repo.RevParse(ctx, "HEAD"); err == nil {
		report.TrunkAfter = head
	}
}

func (p *Pipeline) mergeItem(ctx context.Context, item *ItemReport) {
	if !item.loaded {
		item.block("item could not be loaded from the backlog")
		p.emit(ctx, contracts.Event{Type: contracts.EventTypeMergeBlocked, ItemID: item.ID, Message: item.Reason})
		return
	}

	eligibility, err := p.eligibility(ctx, item)
	if err != nil {
		item.block(err.Error())
		p.emit(ctx, contracts.Event{Type: contracts.EventTypeMergeBlocked, ItemID: item.ID, Message: item.Reason})
		return
	}
	if !eligibility.Eligible {
		item.Blocks = eligibility.Blocks
		item.block("gates not passed: " + eligibility.Reason())
		p.emit(ctx, contracts.Event{Type: contracts.EventTypeMergeBlocked, ItemID: item.ID, Message: item.Reason})
		return
	}

	if !p.cfg.Repo.BranchExists(ctx, item.Branch) {
		item.block("branch " + item.Branch + " does not exist")
		p.emit(ctx, contracts.Event{Type: contracts.EventTypeMergeBlocked, ItemID: item.ID, Message: item.Reason})
		return
	}

	stepCtx, cancel := p.stepContext(ctx)
	defer cancel()
	message := "Merge " + item.Branch
	if item.Title != "" {
		message += ": " + item.Title
	}
	err = p.cfg.Repo.Merge(stepCtx, item.Branch, message)
	var conflict *git.ConflictError
	switch {
	case err == nil:
		item.Merge = MergeMerged
		if sha, revErr := p.cfg.Repo.RevParse(ctx, "HEAD"); revErr == nil {
			item.CommitSHA = sha
		}
		p.emit(ctx, contracts.Event{Type: contracts.EventTypeMergeLanded, ItemID: item.ID, ItemTitle: item.Title, Message: item.CommitSHA})
		p.close(ctx, item)
	case errors.As(err, &conflict):
		item.Merge = MergeConflict
		item.ConflictFiles = conflict.Files
		item.Reason = "conflict in " + strings.Join(conflict.Files, ", ")
		p.emit(ctx, contracts.Event{Type: contracts.EventTypeMergeConflict, ItemID: item.ID, Message: item.Reason})
	default:
		item.Merge = MergeError
		item.Reason = err.Error()
		p.emit(ctx, contracts.Event{Type: contracts.EventTypeMergeConflict, ItemID: item.ID, Message: item.Reason})
	}
}

// eligibility checks the item's required gates. Gates missing from metadata
// are resolved now, since merging without knowing them is not allowed.
func (p *Pipeline) eligibility(ctx context.Context, item *ItemReport) (gate.Eligibility, error) {
	loaded, err := p.cfg.Backlog.Get(ctx, item.ID)
	if err != nil {
		return gate.Eligibility{}, err
	}
	record := metadata.Parse(loaded.Notes)
	required := record.Gates
	if len(required) == 0 {
		if p.cfg.Resolver == nil {
			return gate.Eligibility{}, errors.New("required gates were never resolved")
		}
		resolution, err := p.cfg.Resolver.ResolveAndStore(ctx, p.cfg.Backlog, item.ID)
		if err != nil {
			return gate.Eligibility{}, err
		}
		required = resolution.Gates
	}
	item.RequiredGates = required
	outcomes := gate.Outcomes(item.Worktree, p.cfg.ArtifactDir, required, record.GateResults)
	return gate.Evaluate(item.ID, required, outcomes), nil
}

func (p *Pipeline) close(ctx context.Context, item *ItemReport) {
	closer, ok := p.cfg.Backlog.(contracts.Closer)
	if !ok {
		return
	}
	reason := "merged into " + p.cfg.Trunk
	if p.cfg.WaveID != "" {
		reason += " by wave " + p.cfg.WaveID
	}
	if err := closer.Close(ctx, item.ID, reason); err != nil {
		item.warn("close: %v", err)
		return
	}
	item.Closed = true
}

// cleanup removes worktrees and branches of merged items only.
func (p *Pipeline) cleanup(ctx context.Context, report *Report) {
	for _, item := range report.Items {
		if item.Merge != MergeMerged {
			continue
		}
		stepCtx, cancel := p.stepContext(ctx)
		var errs []error
		if _, err := os.Stat(item.Worktree); err == nil {
			// Gate artifacts are untracked, so removal has to be forced.
			if err := p.cfg.Repo.RemoveWorktree(stepCtx, item.Worktree, true); err != nil {
				errs = append(errs, err)
			}
		}
		if err := p.cfg.Repo.DeleteBranch(stepCtx, item.Branch); err != nil {
			errs = append(errs, err)
		}
		cancel()
		if err := errors.Join(errs...); err != nil {
			item.CleanupError = err.Error()
			continue
		}
		item.Cleaned = true
		p.emit(ctx, contracts.Event{Type: contracts.EventTypeCleanupCompleted, ItemID: item.ID, Worktree: item.Worktree})
	}
}

func (p *Pipeline) summarize(ctx context.Context, report *Report) {
	if report.TrunkBefore != "" && report.TrunkAfter != "" && report.TrunkBefore != report.TrunkAfter {
		if stat, err := p.cfg.Repo.DiffStat(ctx, report.TrunkBefore, report.TrunkAfter); err == nil {
			report.Diff = stat
		} else {
			report.warn("diff stat: %v", err)
		}
	}

	ready, readyErr := p.cfg.Backlog.List(ctx, contracts.ItemStatusReady)
	blocked, blockedErr := p.cfg.Backlog.List(ctx, contracts.ItemStatusBlocked)
	if readyErr == nil && blockedErr == nil {
		report.Backlog = &BacklogCounts{Ready: len(ready), Blocked: len(blocked)}
	} else {
		report.warn("backlog counts unavailable: %v", errors.Join(readyErr, blockedErr))
	}

	for _, item := range report.Items {
		entry := logging.SummaryEntry{
			Timestamp: p.now().UTC().Format(time.RFC3339),
			WaveID:    p.cfg.WaveID,
			ItemID:    item.ID,
			Title:     item.Title,
			Outcome:   string(item.Merge),
			Reason:    item.Reason,
			CommitSHA: item.CommitSHA,
		}
		if err := logging.AppendWaveSummary(p.cfg.RepoRoot, entry); err != nil {
			report.warn("append wave summary: %v", err)
			break
		}
	}
	report.Summarized = true
}
