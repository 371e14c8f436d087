package scheduler

import (
	"fmt"
	"sort"
	"strings"
)

const (
	ReasonFilePrefix  = "file:"
	ReasonSkillPrefix = "skill:"
)

// Candidate is the scheduling view of a work item. Files holds the explicit
// file list from metadata; when empty, files are guessed from Text.
type Candidate struct {
	ID        string
	Text      string
	Files     []string
	Skills    []string
	DependsOn []string
}

type Overlap struct {
	A      string
	B      string
	Reason string
}

func (o Overlap) String() string {
	return fmt.Sprintf("%s <-> %s (%s)", o.A, o.B, o.Reason)
}

type OverlapOptions struct {
	// IgnoreSkills are domains shared by nearly every item, such as the
	// baseline review gate, that would otherwise serialize everything.
	IgnoreSkills []string
}

// Footprint returns the candidate files for c: explicit files when present,
// otherwise the heuristic extraction.
func (c Candidate) Footprint() []string {
	if len(c.Files) > 0 {
		files := make([]string, 0, len(c.Files))
		for _, file := range c.Files {
			file = strings.TrimPrefix(strings.TrimSpace(file), "./")
			if file != "" {
				files = append(files, file)
			}
		}
		sort.Strings(files)
		return files
	}
	return ExtractFiles(c.Text)
}

// DetectOverlap reports at most one overlap per pair, preferring a shared
// file over a shared skill. Pairs are ordered by candidate position.
func DetectOverlap(candidates []Candidate, opts OverlapOptions) []Overlap {
	ignored := map[string]bool{}
	for _, skill := range opts.IgnoreSkills {
		ignored[strings.ToLower(skill)] = true
	}

	footprints := make([]map[string]bool, len(candidates))
	skills := make([]map[string]bool, len(candidates))
	for i, candidate := range candidates {
		footprints[i] = toSet(candidate.Footprint(), false)
		skills[i] = toSet(candidate.Skills, true)
		for skill := range ignored {
			delete(skills[i], skill)
		}
	}

	overlaps := []Overlap{}
	for i := 0; i < len(candidates); i++ {
		for j := i + 1; j < len(candidates); j++ {
			if candidates[i].ID == candidates[j].ID {
				continue
			}
			if file := firstShared(footprints[i], footprints[j]); file != "" {
				overlaps = append(overlaps, Overlap{A: candidates[i].ID, B: candidates[j].ID, Reason: ReasonFilePrefix + file})
				continue
			}
			if skill := firstShared(skills[i], skills[j]); skill != "" {
				overlaps = append(overlaps, Overlap{A: candidates[i].ID, B: candidates[j].ID, Reason: ReasonSkillPrefix + skill})
			}
		}
	}
	return overlaps
}

func toSet(values []string, lower bool) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if lower {
			value = strings.ToLower(value)
		}
		if value != "" {
			set[value] = true
		}
	}
	return set
}

func firstShared(left map[string]bool, right map[string]bool) string {
	shared := []string{}
	for value := range left {
		if right[value] {
			shared = append(shared, value)
		}
	}
	if len(shared) == 0 {
		return ""
	}
	sort.Strings(shared)
	return shared[0]
}
