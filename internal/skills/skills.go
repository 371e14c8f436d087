package skills

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/egv/yolo-wave/internal/contracts"
	"github.com/egv/yolo-wave/internal/metadata"
)

const GateLabelPrefix = "gate:"

type rule struct {
	category string
	pattern  *regexp.Regexp
	hint     string
	gate     string
}

func words(expr string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b(` + expr + `)\b`)
}

// Rules are evaluated in order; within a category only the first match
// counts, across categories results are unioned.
var defaultRules = []rule{
	{category: "security", pattern: words(`auth\w*|login|logout|password|secret|credential\w*|oauth|jwt|permission\w*|csrf|xss`), hint: "security", gate: "security"},
	{category: "testing", pattern: words(`e2e|end-to-end|playwright|cypress|browser test\w*`), hint: "e2e-testing", gate: "e2e"},
	{category: "testing", pattern: words(`test\w*|coverage|regression|bug|fix(es|ed)?|crash\w*`), hint: "testing", gate: "tests"},
	{category: "a11y", pattern: words(`accessib\w*|a11y|aria|screen reader|keyboard navigation`), hint: "accessibility", gate: "accessibility"},
	{category: "ui", pattern: words(`ui|ux|frontend|component|page|css|styles?|layout|button|modal|form|screen`), hint: "frontend", gate: "ui"},
	{category: "data", pattern: words(`migrations?|schema|database|sql|query|index(es)?`), hint: "database", gate: "migration"},
	{category: "perf", pattern: words(`perf|performance|latency|slow|optimi[sz]\w*|cach(e|ing)|memory leak`), hint: "performance", gate: "performance"},
	{category: "api", pattern: words(`api|endpoints?|http|rest|grpc|webhook\w*`), hint: "api"},
	{category: "docs", pattern: words(`docs?|documentation|readme|changelog|guide`), hint: "docs"},
	{category: "infra", pattern: words(`ci|pipeline|docker\w*|deploy\w*|terraform|k8s|kubernetes|helm`), hint: "infra"},
}

var gateNamePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

type Resolution struct {
	Hints []string
	Gates []string
	// FromLabels is set when gates came from gate:<type> labels.
	FromLabels bool
	Digest     string
}

type Resolver struct {
	rules    []rule
	baseline []string
}

// NewResolver builds a resolver with the built-in rule table. Baseline gates
// are always required when gates are inferred from text.
func NewResolver(baseline []string) *Resolver {
	return &Resolver{rules: defaultRules, baseline: normalizeGates(baseline)}
}

// Baseline returns the gates every inferred resolution includes.
func (r *Resolver) Baseline() []string {
	return append([]string{}, r.baseline...)
}

func (r *Resolver) Resolve(item contracts.WorkItem) Resolution {
	text := item.Text()
	hints := []string{}
	inferred := append([]string{}, r.baseline...)
	matched := map[string]bool{}
	for _, candidate := range r.rules {
		if matched[candidate.category] {
			continue
		}
		if !candidate.pattern.MatchString(text) {
			continue
		}
		matched[candidate.category] = true
		if candidate.hint != "" {
			hints = append(hints, candidate.hint)
		}
		if candidate.gate != "" {
			inferred = append(inferred, candidate.gate)
		}
	}

	resolution := Resolution{
		Hints:  dedupe(hints),
		Gates:  normalizeGates(inferred),
		Digest: Digest(item),
	}
	if labelled := GatesFromLabels(item.Labels); len(labelled) > 0 {
		resolution.Gates = labelled
		resolution.FromLabels = true
	}
	return resolution
}

// GatesFromLabels returns the sorted gate types named by gate:<type> labels.
func GatesFromLabels(labels []string) []string {
	gates := []string{}
	for _, label := range labels {
		label = strings.TrimSpace(label)
		if len(label) <= len(GateLabelPrefix) || !strings.EqualFold(label[:len(GateLabelPrefix)], GateLabelPrefix) {
			continue
		}
		gates = append(gates, label[len(GateLabelPrefix):])
	}
	return normalizeGates(gates)
}

// Digest fingerprints the content that resolution depends on.
func Digest(item contracts.WorkItem) string {
	labels := append([]string{}, item.Labels...)
	sort.Strings(labels)
	sum := sha256.Sum256([]byte(item.Title + "\x00" + item.Description + "\x00" + strings.Join(labels, ",")))
	return hex.EncodeToString(sum[:])[:16]
}

// ResolveAndStore resolves id and persists hints and gates into its notes.
// When the stored digest still matches, the stored resolution is returned
// without writing.
func (r *Resolver) ResolveAndStore(ctx context.Context, backlog contracts.Backlog, id string) (Resolution, error) {
	if err := contracts.ValidateItemID(id); err != nil {
		return Resolution{}, err
	}
	item, err := backlog.Get(ctx, id)
	if err != nil {
		return Resolution{}, fmt.Errorf("load %s: %w", id, err)
	}
	record := metadata.Parse(item.Notes)
	digest := Digest(item)
	if record.Digest == digest && len(record.Gates) > 0 {
		return Resolution{Hints: record.Skills, Gates: record.Gates, Digest: digest, FromLabels: len(GatesFromLabels(item.Labels)) > 0}, nil
	}

	resolution := r.Resolve(item)
	notes := metadata.Update(item.Notes, func(rec *metadata.Record) {
		rec.Skills = resolution.Hints
		rec.Gates = resolution.Gates
		rec.Digest = resolution.Digest
	})
	if err := backlog.SetNotes(ctx, id, notes); err != nil {
		return Resolution{}, fmt.Errorf("store resolution for %s: %w", id, err)
	}
	return resolution, nil
}

func normalizeGates(gates []string) []string {
	out := []string{}
	for _, gate := range gates {
		gate = strings.ToLower(strings.TrimSpace(gate))
		if gateNamePattern.MatchString(gate) {
			out = append(out, gate)
		}
	}
	out = dedupe(out)
	sort.Strings(out)
	return out
}

func dedupe(items []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if seen[item] {
			continue
		}
		seen[item] = true
		out = append(out, item)
	}
	return out
}
