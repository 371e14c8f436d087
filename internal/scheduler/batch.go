package scheduler

import (
	"fmt"
)

// Batch is an advisory group of overlapping items. Items run in order;
// different batches may run concurrently.
type Batch struct {
	ID      string
	Items   []string
	Reasons []string

	// Cycle lists a dependency cycle among the items, closed by repeating
	// its first member. Cycle members run in input order.
	Cycle []string
}

// Group batches candidates by the transitive closure of their overlaps.
// Batches and items keep the order in which candidates were given, except
// that an item is placed after any batch member it depends on.
func Group(candidates []Candidate, opts OverlapOptions) ([]Batch, []Overlap, error) {
	overlaps := DetectOverlap(candidates, opts)
	ids := make([]string, 0, len(candidates))
	deps := make(map[string][]string, len(candidates))
	for _, candidate := range candidates {
		ids = append(ids, candidate.ID)
		deps[candidate.ID] = candidate.DependsOn
	}
	batches, err := GroupPairs(ids, overlaps, deps)
	if err != nil {
		return nil, nil, err
	}
	return batches, overlaps, nil
}

// GroupPairs unions ids along the given overlaps. Items without overlaps form
// singleton batches.
func GroupPairs(ids []string, overlaps []Overlap, deps map[string][]string) ([]Batch, error) {
	set := NewDisjointSet()
	seen := map[string]bool{}
	ordered := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			return nil, fmt.Errorf("item id cannot be empty")
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		set.Add(id)
		ordered = append(ordered, id)
	}

	for _, overlap := range overlaps {
		if !seen[overlap.A] || !seen[overlap.B] {
			continue
		}
		set.Union(overlap.A, overlap.B)
	}

	members := map[string][]string{}
	roots := []string{}
	for _, id := range ordered {
		root := set.Find(id)
		if _, exists := members[root]; !exists {
			roots = append(roots, root)
		}
		members[root] = append(members[root], id)
	}
	reasons := map[string][]string{}
	for _, overlap := range overlaps {
		if !seen[overlap.A] || !seen[overlap.B] {
			continue
		}
		root := set.Find(overlap.A)
		reasons[root] = append(reasons[root], overlap.String())
	}

	batches := make([]Batch, 0, len(roots))
	for i, root := range roots {
		items, cycle := OrderWithinBatch(members[root], deps)
		batches = append(batches, Batch{
			ID:      fmt.Sprintf("batch-%d", i+1),
			Items:   items,
			Reasons: reasons[root],
			Cycle:   cycle,
		})
	}
	return batches, nil
}
