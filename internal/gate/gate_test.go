package gate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egv/yolo-wave/internal/contracts"
	"github.com/egv/yolo-wave/internal/metadata"
	"github.com/egv/yolo-wave/internal/session"
)

type fakeSessions struct {
	mu      sync.Mutex
	created []session.CreateRequest
	sent    []string
	deleted []string
	gone    bool
	exited  bool
	onSend  func(text string)
}

func (f *fakeSessions) Create(_ context.Context, request session.CreateRequest) (session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, request)
	return session.Session{ID: "s-" + request.Name, Name: request.Name, State: session.StateReady}, nil
}

func (f *fakeSessions) Send(_ context.Context, _ string, text string, _ bool) error {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	onSend := f.onSend
	f.mu.Unlock()
	if onSend != nil {
		onSend(text)
	}
	return nil
}

func (f *fakeSessions) Get(_ context.Context, id string) (session.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.gone {
		return session.Session{}, session.ErrNotFound
	}
	if f.exited {
		return session.Session{ID: id, State: session.StateExited}, nil
	}
	return session.Session{ID: id, State: session.StateRunning}, nil
}

func (f *fakeSessions) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeSessions) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.deleted...)
}

type recordingSink struct {
	mu     sync.Mutex
	events []contracts.Event
}

func (s *recordingSink) Emit(_ context.Context, event contracts.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) count(eventType contracts.EventType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, event := range s.events {
		if event.Type == eventType {
			n++
		}
	}
	return n
}

func newRequest(t *testing.T, gateType string) Request {
	t.Helper()
	worktree := t.TempDir()
	return Request{
		ItemID:       "bd-1",
		ItemTitle:    "Add login form",
		Gate:         gateType,
		Worktree:     worktree,
		Base:         "main",
		ArtifactPath: ArtifactPath(worktree, "", gateType),
	}
}

func hostedRunner(sessions *fakeSessions, sink contracts.EventSink, timeout time.Duration) *Runner {
	return NewRunner(Config{
		Hosted:       &HostedVerifier{Sessions: sessions, Command: "claude"},
		DirectGates:  []string{},
		Sessions:     sessions,
		Timeout:      timeout,
		PollInterval: 5 * time.Millisecond,
		Events:       sink,
	})
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from State
		to   State
		want bool
	}{
		{StatePending, StateSpawned, true},
		{StatePending, StatePassed, false},
		{StateSpawned, StateAwaitingResult, true},
		{StateAwaitingResult, StatePassed, true},
		{StateAwaitingResult, StateTimedOut, true},
		{StatePassed, StateFailed, false},
		{StateTimedOut, StatePending, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestMachineRejectsMovesAfterTerminalState(t *testing.T) {
	m := newMachine()
	require.NoError(t, m.advance(StateSpawned))
	require.NoError(t, m.advance(StateAwaitingResult))
	require.NoError(t, m.advance(StateFailed))
	err := m.advance(StatePassed)
	require.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestHostedGateTimesOutAndTerminatesSession(t *testing.T) {
	sessions := &fakeSessions{}
	sink := &recordingSink{}
	request := newRequest(t, "tests")

	result, err := hostedRunner(sessions, sink, 40*time.Millisecond).Run(context.Background(), request)
	require.NoError(t, err)

	assert.Equal(t, StateTimedOut, result.State)
	assert.Equal(t, []State{StatePending, StateSpawned, StateAwaitingResult, StateTimedOut}, result.History)
	assert.Equal(t, []string{"s-gate-tests-bd-1"}, sessions.deletedIDs())

	artifact, err := ReadArtifact(request.ArtifactPath)
	require.NoError(t, err)
	assert.True(t, artifact.TimeoutOccurred)
	assert.False(t, artifact.Passed)
	assert.Equal(t, 1, sink.count(contracts.EventTypeSessionTerminated))
	assert.Equal(t, 1, sink.count(contracts.EventTypeGateResolved))
}

func TestHostedGatePassesWhenArtifactAppears(t *testing.T) {
	request := newRequest(t, "tests")
	sessions := &fakeSessions{}
	sessions.onSend = func(text string) {
		go func() {
			time.Sleep(15 * time.Millisecond)
			_ = os.MkdirAll(filepath.Dir(request.ArtifactPath), 0o755)
			_ = os.WriteFile(request.ArtifactPath, []byte(`{"checkpoint":"tests","timestamp":"2025-01-01T00:00:00Z","passed":true,"summary":"42 tests ok"}`), 0o644)
		}()
	}

	result, err := hostedRunner(sessions, nil, time.Second).Run(context.Background(), request)
	require.NoError(t, err)

	assert.Equal(t, StatePassed, result.State)
	assert.Equal(t, "42 tests ok", result.Reason)
	assert.Empty(t, sessions.deletedIDs())
	require.Len(t, sessions.sent, 1)
	assert.Contains(t, sessions.sent[0], request.ArtifactPath)
	assert.Contains(t, sessions.sent[0], "Success criteria:")
	assert.Equal(t, request.Worktree, sessions.created[0].Cwd)
}

func TestHostedGateFailsWhenSessionVanishes(t *testing.T) {
	sessions := &fakeSessions{gone: true}
	request := newRequest(t, "security")

	result, err := hostedRunner(sessions, nil, time.Second).Run(context.Background(), request)
	require.NoError(t, err)

	assert.Equal(t, StateFailed, result.State)
	assert.Contains(t, result.Reason, "session exited")
	artifact, err := ReadArtifact(request.ArtifactPath)
	require.NoError(t, err)
	assert.False(t, artifact.TimeoutOccurred)
}

func TestHostedGateFailsWhenSessionIsListedAsExited(t *testing.T) {
	sessions := &fakeSessions{exited: true}
	request := newRequest(t, "tests")

	result, err := hostedRunner(sessions, nil, 5*time.Second).Run(context.Background(), request)
	require.NoError(t, err)

	assert.Equal(t, StateFailed, result.State)
	assert.Contains(t, result.Reason, "session exited")
	assert.Less(t, result.Finished.Sub(result.Started), 5*time.Second)
	artifact, err := ReadArtifact(request.ArtifactPath)
	require.NoError(t, err)
	assert.False(t, artifact.TimeoutOccurred)
}

var _ CommandRunner = (*fakeReviewer)(nil)

type fakeReviewer struct {
	output string
	err    error
	args   []string
}

func (f *fakeReviewer) Run(_ context.Context, _ string, args ...string) (string, error) {
	f.args = args
	return f.output, f.err
}

type fakeDiff string

func (d fakeDiff) BranchDiff(context.Context, string, string) (string, error) {
	return string(d), nil
}

func TestDirectGateParsesVerdictIntoArtifact(t *testing.T) {
	reviewer := &fakeReviewer{output: "Found problems\n- missing nil check in handler.go\n- unused import\nREVIEW_VERDICT: fail\n"}
	runner := NewRunner(Config{
		Direct: &DirectVerifier{
			Runner:  reviewer,
			Diffs:   func(string) DiffSource { return fakeDiff("diff --git a/x b/x\n+x\n") },
			Command: []string{"reviewer", "--diff", "{diff}"},
		},
		PollInterval: 5 * time.Millisecond,
		Timeout:      time.Second,
	})
	request := newRequest(t, "review")

	result, err := runner.Run(context.Background(), request)
	require.NoError(t, err)

	assert.Equal(t, StateFailed, result.State)
	require.NotNil(t, result.Artifact)
	assert.Equal(t, "Found problems", result.Artifact.Summary)
	require.Len(t, result.Artifact.Issues, 2)
	assert.Equal(t, "missing nil check in handler.go", result.Artifact.Issues[0].Message)
	assert.True(t, strings.HasSuffix(reviewer.args[2], "review.diff"), "diff placeholder not replaced: %v", reviewer.args)
}

func TestDirectGatePassesWithoutChanges(t *testing.T) {
	reviewer := &fakeReviewer{}
	runner := NewRunner(Config{
		Direct: &DirectVerifier{
			Runner:  reviewer,
			Diffs:   func(string) DiffSource { return fakeDiff("") },
			Command: []string{"reviewer"},
		},
		PollInterval: 5 * time.Millisecond,
	})

	result, err := runner.Run(context.Background(), newRequest(t, "review"))
	require.NoError(t, err)
	assert.Equal(t, StatePassed, result.State)
	assert.Nil(t, reviewer.args, "reviewer should not run for an empty diff")
}

func TestExistingArtifactIsNotRetried(t *testing.T) {
	request := newRequest(t, "tests")
	require.NoError(t, WriteArtifact(request.ArtifactPath, Artifact{Checkpoint: "tests", Passed: false, Summary: "2 failing"}))
	sessions := &fakeSessions{}

	result, err := hostedRunner(sessions, nil, time.Second).Run(context.Background(), request)
	require.NoError(t, err)

	assert.Equal(t, StateFailed, result.State)
	assert.True(t, result.Reused)
	assert.Empty(t, sessions.created)
}

func TestFreshAttemptArchivesPreviousArtifact(t *testing.T) {
	request := newRequest(t, "tests")
	request.Fresh = true
	require.NoError(t, WriteArtifact(request.ArtifactPath, Artifact{Checkpoint: "tests", Passed: false}))
	sessions := &fakeSessions{gone: true}

	result, err := hostedRunner(sessions, nil, time.Second).Run(context.Background(), request)
	require.NoError(t, err)

	assert.False(t, result.Reused)
	assert.Len(t, sessions.created, 1)
	_, err = os.Stat(request.ArtifactPath + ".attempt-1")
	assert.NoError(t, err)
}

func TestRunRejectsMalformedRequestBeforeSpawning(t *testing.T) {
	sessions := &fakeSessions{}
	_, err := hostedRunner(sessions, nil, time.Second).Run(context.Background(), Request{ItemID: "bd-1", Gate: "tests"})
	require.Error(t, err)
	assert.Empty(t, sessions.created)
}

func TestRunAllAggregatesIntoEligibility(t *testing.T) {
	worktree := t.TempDir()
	passing := Request{ItemID: "bd-1", Gate: "review", Worktree: worktree, ArtifactPath: ArtifactPath(worktree, "", "review")}
	failing := Request{ItemID: "bd-1", Gate: "tests", Worktree: worktree, ArtifactPath: ArtifactPath(worktree, "", "tests")}
	require.NoError(t, WriteArtifact(passing.ArtifactPath, Artifact{Checkpoint: "review", Passed: true, Summary: "lgtm"}))
	sessions := &fakeSessions{}

	results, err := hostedRunner(sessions, nil, 30*time.Millisecond).RunAll(context.Background(), []Request{passing, failing})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, StatePassed, results[0].State)
	assert.Equal(t, StateTimedOut, results[1].State)

	outcomes := map[string]Result{}
	for _, result := range results {
		outcomes[result.Gate] = result
	}
	eligibility := Evaluate("bd-1", []string{"tests", "review"}, outcomes)
	assert.False(t, eligibility.Eligible)
	require.Len(t, eligibility.Blocks, 1)
	assert.Equal(t, "tests", eligibility.Blocks[0].Gate)
	assert.Equal(t, StateTimedOut, eligibility.Blocks[0].State)
}

func TestEvaluateRequiresEveryGatePassed(t *testing.T) {
	passed := map[string]Result{
		"review": {State: StatePassed},
		"tests":  {State: StatePassed},
	}
	assert.True(t, Evaluate("bd-1", []string{"review", "tests"}, passed).Eligible)

	missing := Evaluate("bd-1", []string{"review", "tests", "security"}, passed)
	assert.False(t, missing.Eligible)
	assert.Equal(t, "security PENDING: no result recorded", missing.Reason())
}

func TestOutcomesPreferArtifactsOverRecordedState(t *testing.T) {
	worktree := t.TempDir()
	require.NoError(t, WriteArtifact(ArtifactPath(worktree, "", "review"), Artifact{Passed: false, Summary: "needs work"}))

	outcomes := Outcomes(worktree, "", []string{"review", "tests", "e2e"}, map[string]string{
		"review": "PASSED",
		"tests":  "PASSED",
		"e2e":    "bogus",
	})
	assert.Equal(t, StateFailed, outcomes["review"].State)
	assert.Equal(t, StatePassed, outcomes["tests"].State)
	_, ok := outcomes["e2e"]
	assert.False(t, ok)
}

func TestArtifactIsWriteOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "review.json")
	require.NoError(t, WriteArtifact(path, Artifact{Passed: true}))
	err := WriteArtifact(path, Artifact{Passed: false})
	require.ErrorIs(t, err, ErrAlreadyResolved)
}

func TestParseArtifactRequiresBooleanPassed(t *testing.T) {
	_, err := ParseArtifact([]byte(`{"checkpoint":"review","passed":"yes"}`))
	require.Error(t, err)
	_, err = ParseArtifact([]byte(`{"checkpoint":"review"}`))
	require.Error(t, err)

	artifact, err := ParseArtifact([]byte(`{"passed":false,"issues":["plain",{"severity":"high","file":"a.go","message":"nil deref"}]}`))
	require.NoError(t, err)
	require.Len(t, artifact.Issues, 2)
	assert.Equal(t, "plain", artifact.Issues[0].Message)
	assert.Equal(t, "a.go", artifact.Issues[1].File)
}

func TestReadArtifactMissing(t *testing.T) {
	_, err := ReadArtifact(filepath.Join(t.TempDir(), "none.json"))
	assert.True(t, errors.Is(err, ErrArtifactMissing))
}

func TestParseVerdict(t *testing.T) {
	cases := []struct {
		name   string
		output string
		passed bool
	}{
		{"structured pass wins over prose", "this needs work\nREVIEW_VERDICT: pass\n", true},
		{"last structured line counts", "REVIEW_VERDICT: pass\nREVIEW_VERDICT: FAIL DONE\n", false},
		{"needs work marker", "Overall: Needs Work\n", false},
		{"plain output passes", "Looks good to me\n", true},
		{"empty output passes", "", true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.passed, ParseVerdict(tc.output).Passed)
		})
	}
}

type memoryBacklog struct {
	items map[string]contracts.WorkItem
}

func (b *memoryBacklog) List(context.Context, contracts.ItemStatus) ([]contracts.WorkItem, error) {
	return nil, nil
}

func (b *memoryBacklog) Get(_ context.Context, id string) (contracts.WorkItem, error) {
	return b.items[id], nil
}

func (b *memoryBacklog) SetNotes(_ context.Context, id string, notes string) error {
	item := b.items[id]
	item.Notes = notes
	b.items[id] = item
	return nil
}

func TestInstructionDescribesResolvedGateNames(t *testing.T) {
	cases := map[string]string{
		"accessibility": "keyboard reachable",
		"a11y":          "keyboard reachable",
		"performance":   "hot-path allocations",
		"perf":          "hot-path allocations",
	}
	for gateType, want := range cases {
		text := Instruction(Request{ItemID: "bd-1", Gate: gateType, Worktree: "/wt", ArtifactPath: "/wt/a.json"})
		assert.Contains(t, text, want, gateType)
		assert.NotContains(t, text, "bar described by the gate name", gateType)
	}
}

func TestStoreMergesGateResultsIntoNotes(t *testing.T) {
	backlog := &memoryBacklog{items: map[string]contracts.WorkItem{
		"bd-1": {ID: "bd-1", Notes: "owner: alice\ngates.results: review=FAILED, e2e=PASSED\n"},
	}}

	err := Store(context.Background(), backlog, "bd-1", []Result{
		{Gate: "review", State: StatePassed},
		{Gate: "tests", State: StateTimedOut},
	})
	require.NoError(t, err)

	record := metadata.Parse(backlog.items["bd-1"].Notes)
	assert.Equal(t, map[string]string{"review": "PASSED", "tests": "TIMED_OUT", "e2e": "PASSED"}, record.GateResults)
	assert.Contains(t, backlog.items["bd-1"].Notes, "owner: alice")
}
