package completion

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/egv/yolo-wave/internal/contracts"
	"github.com/egv/yolo-wave/internal/metadata"
	"github.com/egv/yolo-wave/internal/session"
)

var (
	tokensLinePattern = regexp.MustCompile(`(?i)^\s*(?:total\s+)?tokens\s*[:=]\s*([\d,_]+)\s*$`)
	costLinePattern   = regexp.MustCompile(`(?i)^\s*(?:total\s+)?cost\s*[:=]\s*\$?\s*([\d.]+)\s*(?:usd)?\s*$`)
)

type Usage struct {
	Tokens  int64
	CostUSD float64
	Found   bool
}

// ParseUsage sums every "tokens: N" and "cost: $X" line the agent runtime
// printed. A transcript without such lines reports Found=false.
func ParseUsage(transcript string) Usage {
	usage := Usage{}
	for _, line := range strings.Split(strings.ReplaceAll(transcript, "\r\n", "\n"), "\n") {
		if m := tokensLinePattern.FindStringSubmatch(line); len(m) == 2 {
			digits := strings.NewReplacer(",", "", "_", "").Replace(m[1])
			if n, err := strconv.ParseInt(digits, 10, 64); err == nil {
				usage.Tokens += n
				usage.Found = true
			}
			continue
		}
		if m := costLinePattern.FindStringSubmatch(line); len(m) == 2 {
			if cost, err := strconv.ParseFloat(m[1], 64); err == nil {
				usage.CostUSD += cost
				usage.Found = true
			}
		}
	}
	return usage
}

// capture snapshots each worker's scrollback concurrently. A missing
// session is a skip.
func (p *Pipeline) capture(ctx context.Context, report *Report) {
	if p.cfg.Mux == nil {
		report.warn("capture: no multiplexer configured")
		return
	}
	var group errgroup.Group
	group.SetLimit(4)
	for _, item := range report.Items {
		group.Go(func() error {
			p.captureItem(ctx, item)
			return nil
		})
	}
	_ = group.Wait()
}

func (p *Pipeline) captureItem(ctx context.Context, item *ItemReport) {
	stepCtx, cancel := p.stepContext(ctx)
	defer cancel()

	name := p.workerSession(item.ID)
	output, err := p.cfg.Mux.Capture(stepCtx, name)
	if errors.Is(err, session.ErrNotFound) {
		item.Capture = CaptureNoSession
		return
	}
	if err != nil {
		item.Capture = CaptureFailed
		item.warn("capture %s: %v", name, err)
		return
	}

	path := filepath.Join(p.cfg.TranscriptDir, item.ID+".log")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		item.Capture = CaptureFailed
		item.warn("capture: %v", err)
		return
	}
	if err := os.WriteFile(path, []byte(output), 0o644); err != nil {
		item.Capture = CaptureFailed
		item.warn("write transcript: %v", err)
		return
	}
	item.Capture = CaptureWritten
	item.Transcript = path
	item.Usage = ParseUsage(output)

	if item.loaded {
		if err := p.storeUsage(stepCtx, item); err != nil {
			item.warn("store usage: %v", err)
		}
	}
	p.emit(ctx, contracts.Event{
		Type:     contracts.EventTypeCaptureCompleted,
		ItemID:   item.ID,
		Message:  path,
		Metadata: map[string]string{"tokens": fmt.Sprint(item.Usage.Tokens), "cost_usd": strconv.FormatFloat(item.Usage.CostUSD, 'f', 4, 64)},
	})
}

func (p *Pipeline) storeUsage(ctx context.Context, item *ItemReport) error {
	current, err := p.cfg.Backlog.Get(ctx, item.ID)
	if err != nil {
		return err
	}
	notes := metadata.Update(current.Notes, func(record *metadata.Record) {
		record.Transcript = item.Transcript
		if item.Usage.Found {
			record.Tokens = item.Usage.Tokens
			record.CostUSD = item.Usage.CostUSD
		}
	})
	if notes == current.Notes {
		return nil
	}
	return p.cfg.Backlog.SetNotes(ctx, item.ID, notes)
}

// terminate kills every session an item owns. The session service is
// preferred; when it is unreachable the multiplexer is used directly.
func (p *Pipeline) terminate(ctx context.Context, report *Report) {
	if p.serviceReachable(ctx) {
		stepCtx, cancel := p.stepContext(ctx)
		sessions, err := p.cfg.Sessions.List(stepCtx)
		cancel()
		if err == nil {
			for _, item := range report.Items {
				p.terminateViaService(ctx, item, sessions)
			}
			return
		}
		report.warn("terminate: list sessions: %v; falling back to multiplexer", err)
	}
	if p.cfg.Mux == nil {
		report.warn("terminate: session service unreachable and no multiplexer configured")
		return
	}
	for _, item := range report.Items {
		p.terminateViaMux(ctx, item)
	}
}

func (p *Pipeline) terminateViaService(ctx context.Context, item *ItemReport, sessions []session.Session) {
	for _, s := range sessions {
		if !p.ownsSession(s.Name, item.ID) {
			continue
		}
		stepCtx, cancel := p.stepContext(ctx)
		err := p.cfg.Sessions.Delete(stepCtx, s.ID)
		cancel()
		if err != nil {
			item.warn("terminate %s: %v", s.Name, err)
			continue
		}
		item.Terminated = append(item.Terminated, s.Name)
		p.emit(ctx, contracts.Event{Type: contracts.EventTypeSessionTerminated, ItemID: item.ID, Message: s.Name})
	}
}

func (p *Pipeline) terminateViaMux(ctx context.Context, item *ItemReport) {
	stepCtx, cancel := p.stepContext(ctx)
	defer cancel()
	killed, err := p.cfg.Mux.KillMatching(stepCtx, func(name string) bool { return p.ownsSession(name, item.ID) })
	if err != nil {
		item.warn("terminate: %v", err)
	}
	for _, name := range killed {
		item.Terminated = append(item.Terminated, name)
		p.emit(ctx, contracts.Event{Type: contracts.EventTypeSessionTerminated, ItemID: item.ID, Message: name})
	}
}
