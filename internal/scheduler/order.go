package scheduler

import (
	"sort"
)

// OrderWithinBatch orders ids so that each item follows the batch members it
// depends on. Dependencies outside ids are ignored. Ties keep input order.
//
// A dependency cycle does not fail the batch: when only cycle members are
// left, the earliest one in input order goes next. The first cycle found is
// returned so callers can report it.
func OrderWithinBatch(ids []string, deps map[string][]string) ([]string, []string) {
	position := make(map[string]int, len(ids))
	for i, id := range ids {
		position[id] = i
	}

	local := make(map[string][]string, len(ids))
	dependents := make(map[string][]string, len(ids))
	inDegree := make(map[string]int, len(ids))
	for _, id := range ids {
		for _, dep := range deps[id] {
			if _, inBatch := position[dep]; !inBatch || dep == id {
				continue
			}
			local[id] = append(local[id], dep)
			dependents[dep] = append(dependents[dep], id)
			inDegree[id]++
		}
	}
	cycle := findDependencyCycle(local)

	byPosition := func(list []string) {
		sort.Slice(list, func(i, j int) bool { return position[list[i]] < position[list[j]] })
	}

	placed := make(map[string]bool, len(ids))
	ready := []string{}
	for _, id := range ids {
		if inDegree[id] == 0 {
			ready = append(ready, id)
		}
	}
	ordered := make([]string, 0, len(ids))
	for len(ordered) < len(ids) {
		if len(ready) == 0 {
			for _, id := range ids {
				if !placed[id] {
					ready = append(ready, id)
					break
				}
			}
		}
		byPosition(ready)
		next := ready[0]
		ready = ready[1:]
		if placed[next] {
			continue
		}
		placed[next] = true
		ordered = append(ordered, next)
		for _, dependent := range dependents[next] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 && !placed[dependent] {
				ready = append(ready, dependent)
			}
		}
	}
	return ordered, cycle
}

func findDependencyCycle(dependencies map[string][]string) []string {
	const (
		unvisited = iota
		visiting
		visited
	)

	state := make(map[string]int, len(dependencies))
	stack := make([]string, 0, len(dependencies))
	stackIndex := make(map[string]int, len(dependencies))
	orderedIDs := make([]string, 0, len(dependencies))
	for id := range dependencies {
		orderedIDs = append(orderedIDs, id)
	}
	sort.Strings(orderedIDs)

	var cycle []string
	var dfs func(id string) bool
	dfs = func(id string) bool {
		state[id] = visiting
		stackIndex[id] = len(stack)
		stack = append(stack, id)

		for _, depID := range dependencies[id] {
			switch state[depID] {
			case unvisited:
				if dfs(depID) {
					return true
				}
			case visiting:
				start := stackIndex[depID]
				cycle = append([]string(nil), stack[start:]...)
				cycle = append(cycle, depID)
				return true
			}
		}

		stack = stack[:len(stack)-1]
		delete(stackIndex, id)
		state[id] = visited
		return false
	}

	for _, id := range orderedIDs {
		if state[id] != unvisited {
			continue
		}
		if dfs(id) {
			return cycle
		}
	}
	return nil
}
