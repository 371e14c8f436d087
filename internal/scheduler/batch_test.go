package scheduler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroupWithoutOverlapReturnsSingletons(t *testing.T) {
	candidates := []Candidate{
		{ID: "wi-1", Files: []string{"api/users.go"}, Skills: []string{"api"}},
		{ID: "wi-2", Files: []string{"web/Header.tsx"}, Skills: []string{"frontend"}},
		{ID: "wi-3", Files: []string{"db/migrations/001.sql"}, Skills: []string{"database"}},
	}

	batches, overlaps, err := Group(candidates, OverlapOptions{})
	require.NoError(t, err)
	assert.Empty(t, overlaps)
	require.Len(t, batches, 3)
	for i, batch := range batches {
		assert.Equal(t, []string{candidates[i].ID}, batch.Items)
	}
}

func TestSharedExplicitFileIsReportedAndBatched(t *testing.T) {
	candidates := []Candidate{
		{ID: "wi-1", Files: []string{"src/auth/login.go", "src/auth/session.go"}},
		{ID: "wi-2", Files: []string{"./src/auth/login.go"}},
	}

	batches, overlaps, err := Group(candidates, OverlapOptions{})
	require.NoError(t, err)
	require.Len(t, overlaps, 1)
	assert.Equal(t, Overlap{A: "wi-1", B: "wi-2", Reason: "file:src/auth/login.go"}, overlaps[0])
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"wi-1", "wi-2"}, batches[0].Items)
	assert.Equal(t, "batch-1", batches[0].ID)
}

func TestGroupingIsTransitive(t *testing.T) {
	candidates := []Candidate{
		{ID: "a", Files: []string{"one.go"}},
		{ID: "b", Files: []string{"one.go", "two.go"}},
		{ID: "c", Files: []string{"two.go"}},
		{ID: "d", Files: []string{"three.go"}},
	}

	batches, overlaps, err := Group(candidates, OverlapOptions{})
	require.NoError(t, err)
	for _, overlap := range overlaps {
		assert.False(t, overlap.A == "a" && overlap.B == "c", "a and c should not overlap directly")
	}
	require.Len(t, batches, 2)
	assert.Equal(t, []string{"a", "b", "c"}, batches[0].Items)
	assert.Equal(t, []string{"d"}, batches[1].Items)
	assert.Len(t, batches[0].Reasons, 2)
}

func TestSkillOverlapUsedWhenNoFileShared(t *testing.T) {
	candidates := []Candidate{
		{ID: "wi-1", Files: []string{"a.go"}, Skills: []string{"review", "Database"}},
		{ID: "wi-2", Files: []string{"b.go"}, Skills: []string{"review", "database"}},
		{ID: "wi-3", Files: []string{"c.go"}, Skills: []string{"review"}},
	}

	overlaps := DetectOverlap(candidates, OverlapOptions{IgnoreSkills: []string{"review"}})
	require.Len(t, overlaps, 1)
	assert.Equal(t, "skill:database", overlaps[0].Reason)
}

func TestFileReasonPreferredOverSkill(t *testing.T) {
	candidates := []Candidate{
		{ID: "wi-1", Files: []string{"x.go"}, Skills: []string{"api"}},
		{ID: "wi-2", Files: []string{"x.go"}, Skills: []string{"api"}},
	}
	overlaps := DetectOverlap(candidates, OverlapOptions{})
	require.Len(t, overlaps, 1)
	assert.True(t, strings.HasPrefix(overlaps[0].Reason, ReasonFilePrefix))
}

func TestHeuristicFilesUsedWithoutExplicitList(t *testing.T) {
	candidates := []Candidate{
		{ID: "wi-1", Text: "Fix the User Profile layout on mobile"},
		{ID: "wi-2", Text: "Add avatar upload to UserProfile"},
		{ID: "wi-3", Text: "Tune logging levels"},
	}

	batches, overlaps, err := Group(candidates, OverlapOptions{})
	require.NoError(t, err)
	require.Len(t, overlaps, 1)
	assert.True(t, strings.HasPrefix(overlaps[0].Reason, "file:UserProfile."), overlaps[0].Reason)
	require.Len(t, batches, 2)
	assert.Equal(t, []string{"wi-1", "wi-2"}, batches[0].Items)
}

func TestExplicitFilesTakePriorityOverText(t *testing.T) {
	candidates := []Candidate{
		{ID: "wi-1", Text: "Touches src/shared.go", Files: []string{"src/only-mine.go"}},
		{ID: "wi-2", Text: "Also touches src/shared.go"},
	}
	assert.Empty(t, DetectOverlap(candidates, OverlapOptions{}))
}

func TestBatchOrderRespectsDependencies(t *testing.T) {
	candidates := []Candidate{
		{ID: "wi-2", Files: []string{"x.go"}, DependsOn: []string{"wi-1", "outside"}},
		{ID: "wi-1", Files: []string{"x.go"}},
	}
	batches, _, err := Group(candidates, OverlapOptions{})
	require.NoError(t, err)
	require.Len(t, batches, 1)
	assert.Equal(t, []string{"wi-1", "wi-2"}, batches[0].Items)
}

func TestBatchOrderFallsBackToInputOrderForCycles(t *testing.T) {
	ordered, cycle := OrderWithinBatch(
		[]string{"c", "a", "b", "d"},
		map[string][]string{"a": {"b"}, "b": {"a"}, "d": {"a"}},
	)
	assert.Equal(t, []string{"c", "a", "b", "d"}, ordered)
	assert.Equal(t, []string{"a", "b", "a"}, cycle)
}

func TestGroupKeepsPlanningWhenItemsDependOnEachOther(t *testing.T) {
	candidates := []Candidate{
		{ID: "wi-1", Files: []string{"x.go"}, DependsOn: []string{"wi-2"}},
		{ID: "wi-2", Files: []string{"x.go"}, DependsOn: []string{"wi-1"}},
		{ID: "wi-3", Files: []string{"y.go"}},
	}
	batches, _, err := Group(candidates, OverlapOptions{})
	require.NoError(t, err)
	require.Len(t, batches, 2)
	assert.Equal(t, []string{"wi-1", "wi-2"}, batches[0].Items)
	assert.Equal(t, []string{"wi-1", "wi-2", "wi-1"}, batches[0].Cycle)
	assert.Empty(t, batches[1].Cycle)
}

func TestGroupPairsRejectsEmptyIDs(t *testing.T) {
	_, err := GroupPairs([]string{"a", ""}, nil, nil)
	require.Error(t, err)
}

func TestDisjointSetPathCompression(t *testing.T) {
	set := NewDisjointSet("a", "b", "c", "d")
	assert.True(t, set.Union("a", "b"))
	assert.True(t, set.Union("c", "d"))
	assert.True(t, set.Union("b", "d"))
	assert.False(t, set.Union("a", "c"))

	root := set.Find("d")
	for _, id := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, root, set.Find(id))
		assert.Equal(t, root, set.parent[id], "expected %s to point directly at root after Find", id)
	}
	assert.False(t, set.Connected("a", "z"))
}
