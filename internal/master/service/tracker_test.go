package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/guoyu07/shuttle/internal/master/core"
	"github.com/guoyu07/shuttle/internal/shared/dfs"
	"github.com/guoyu07/shuttle/internal/shared/galaxy"
)

// mockLogger is a no-op logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(msg string, args ...any) {}
func (m *mockLogger) Info(msg string, args ...any)  {}
func (m *mockLogger) Warn(msg string, args ...any)  {}
func (m *mockLogger) Error(msg string, args ...any) {}
func (m *mockLogger) Fatal(msg string, args ...any) {}

// fakeGalaxy records resource-platform calls and optionally fails them.
type fakeGalaxy struct {
	mu      sync.Mutex
	nextID  int
	submits []galaxy.PodGroupSpec
	updates map[string][]galaxy.PodGroupUpdate
	killed  []string

	failSubmit bool
	failUpdate bool
}

func newFakeGalaxy() *fakeGalaxy {
	return &fakeGalaxy{updates: make(map[string][]galaxy.PodGroupUpdate)}
}

func (g *fakeGalaxy) SubmitJob(ctx context.Context, spec galaxy.PodGroupSpec) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failSubmit {
		return "", fmt.Errorf("galaxy unavailable")
	}
	g.nextID++
	id := fmt.Sprintf("pod-group-%d", g.nextID)
	g.submits = append(g.submits, spec)
	return id, nil
}

func (g *fakeGalaxy) UpdateJob(ctx context.Context, id string, update galaxy.PodGroupUpdate) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failUpdate {
		return fmt.Errorf("galaxy unavailable")
	}
	g.updates[id] = append(g.updates[id], update)
	return nil
}

func (g *fakeGalaxy) KillJob(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.killed = append(g.killed, id)
	return nil
}

func (g *fakeGalaxy) killCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.killed)
}

// fakeFS serves a fixed file listing for any pattern.
type fakeFS struct {
	files []dfs.FileInfo
	err   error
}

func (f *fakeFS) Glob(ctx context.Context, patterns []string) ([]dfs.FileInfo, error) {
	return f.files, f.err
}

func (f *fakeFS) Close() error { return nil }

func fakeFactory(fs *fakeFS) dfs.Factory {
	return func(addr dfs.Address) (dfs.FileSystem, error) {
		return fs, nil
	}
}

// fakeRetractor records trackers that retired themselves.
type fakeRetractor struct {
	mu        sync.Mutex
	retracted []string
}

func (r *fakeRetractor) RetractJob(jobID string) core.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retracted = append(r.retracted, jobID)
	return core.StatusOK
}

func (r *fakeRetractor) jobs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.retracted...)
}

func testDescriptor() core.JobDescriptor {
	return core.JobDescriptor{
		Name:           "wordcount",
		PipeStyle:      core.PipeStreaming,
		MapCommand:     "./mapper.py",
		ReduceCommand:  "./reducer.py",
		MapCapacity:    1,
		ReduceCapacity: 1,
		Priority:       core.PriorityOffline,
		ReduceTotal:    1,
		Inputs:         []string{"/data/*.txt"},
		SplitSize:      64 << 20,
		MaxAttempts:    3,
	}
}

func startedTracker(t *testing.T, desc core.JobDescriptor, fs *fakeFS) (*JobTracker, *fakeGalaxy, *fakeRetractor) {
	t.Helper()
	g := newFakeGalaxy()
	r := &fakeRetractor{}
	tracker := NewJobTracker(r, g, fakeFactory(fs), &mockLogger{}, desc)
	require.Equal(t, core.StatusOK, tracker.Start())
	require.Equal(t, core.JobRunning, tracker.State())
	return tracker, g, r
}

func TestTrackerSingleSplitSingleReducer(t *testing.T) {
	fs := &fakeFS{files: []dfs.FileInfo{{Path: "/data/a", Size: 64 << 20}}}
	tracker, _, retractor := startedTracker(t, testDescriptor(), fs)

	item, status := tracker.AssignMap("w1:80")
	require.Equal(t, core.StatusOK, status)
	require.Equal(t, 0, item.No)
	require.Equal(t, 0, item.Attempt)
	require.Equal(t, "/data/a", item.InputFile)
	require.Equal(t, int64(0), item.Offset)
	require.Equal(t, int64(64<<20), item.Size)

	require.Equal(t, core.StatusOK, tracker.FinishMap(0, 0, core.TaskCompleted))

	_, status = tracker.AssignMap("w1:80")
	require.Equal(t, core.StatusNoMore, status)

	reduceItem, status := tracker.AssignReduce("w1:80")
	require.Equal(t, core.StatusOK, status)
	require.Equal(t, 0, reduceItem.No)
	require.Equal(t, 0, reduceItem.Attempt)

	require.Equal(t, core.StatusOK, tracker.FinishReduce(0, 0, core.TaskCompleted))
	require.Equal(t, core.JobCompleted, tracker.State())
	require.Equal(t, []string{tracker.JobID()}, retractor.jobs())

	_, status = tracker.AssignMap("w1:80")
	require.Equal(t, core.StatusNoMore, status)
}

func TestTrackerRetryAfterFailure(t *testing.T) {
	fs := &fakeFS{files: []dfs.FileInfo{{Path: "/data/a", Size: 1 << 20}}}
	tracker, _, _ := startedTracker(t, testDescriptor(), fs)

	item, _ := tracker.AssignMap("w1:80")
	require.Equal(t, 0, item.Attempt)
	require.Equal(t, core.StatusOK, tracker.FinishMap(0, 0, core.TaskFailed))

	item, status := tracker.AssignMap("w2:80")
	require.Equal(t, core.StatusOK, status)
	require.Equal(t, 0, item.No)
	require.Equal(t, 1, item.Attempt)
	require.Equal(t, core.StatusOK, tracker.FinishMap(0, 1, core.TaskCompleted))

	// The straggler's stale report changes nothing.
	require.Equal(t, core.StatusOK, tracker.FinishMap(0, 0, core.TaskCompleted))
	check := tracker.Check()
	require.Equal(t, 1, check.MapStat.Completed)
	require.Equal(t, 1, check.MapStat.Failed)
}

func TestTrackerTerminalFailureFailsJob(t *testing.T) {
	desc := testDescriptor()
	desc.MaxAttempts = 2
	fs := &fakeFS{files: []dfs.FileInfo{{Path: "/data/a", Size: 1 << 20}}}
	tracker, g, retractor := startedTracker(t, desc, fs)

	tracker.AssignMap("w1:80")
	require.Equal(t, core.StatusOK, tracker.FinishMap(0, 0, core.TaskFailed))
	tracker.AssignMap("w2:80")
	require.Equal(t, core.StatusOK, tracker.FinishMap(0, 1, core.TaskFailed))

	require.Equal(t, core.JobFailed, tracker.State())
	require.Equal(t, []string{tracker.JobID()}, retractor.jobs())

	_, status := tracker.AssignMap("w3:80")
	require.Equal(t, core.StatusNoMore, status)

	// Failed state survives the Kill issued by retraction.
	tracker.Kill()
	require.Equal(t, core.JobFailed, tracker.State())
	require.Equal(t, 2, g.killCount())
}

func TestTrackerReduceGatedOnMapPhase(t *testing.T) {
	desc := testDescriptor()
	desc.ReduceTotal = 2
	fs := &fakeFS{files: []dfs.FileInfo{
		{Path: "/data/a", Size: 1 << 20},
		{Path: "/data/b", Size: 1 << 20},
	}}
	tracker, _, _ := startedTracker(t, desc, fs)

	_, status := tracker.AssignReduce("w1:80")
	require.Equal(t, core.StatusSuspend, status)

	tracker.AssignMap("w1:80")
	tracker.AssignMap("w2:80")
	require.Equal(t, core.StatusOK, tracker.FinishMap(0, 0, core.TaskCompleted))

	_, status = tracker.AssignReduce("w1:80")
	require.Equal(t, core.StatusSuspend, status)

	require.Equal(t, core.StatusOK, tracker.FinishMap(1, 0, core.TaskCompleted))

	item, status := tracker.AssignReduce("w1:80")
	require.Equal(t, core.StatusOK, status)
	require.Equal(t, 0, item.No)
	require.Equal(t, 0, item.Attempt)
}

func TestTrackerMapOnlyJobCompletesAfterMapPhase(t *testing.T) {
	desc := testDescriptor()
	desc.ReduceCommand = ""
	desc.ReduceTotal = 0
	fs := &fakeFS{files: []dfs.FileInfo{{Path: "/data/a", Size: 1 << 20}}}
	tracker, _, retractor := startedTracker(t, desc, fs)

	tracker.AssignMap("w1:80")
	require.Equal(t, core.StatusOK, tracker.FinishMap(0, 0, core.TaskCompleted))

	require.Equal(t, core.JobCompleted, tracker.State())
	require.Equal(t, []string{tracker.JobID()}, retractor.jobs())
}

func TestTrackerStartLaunchesPodGroups(t *testing.T) {
	fs := &fakeFS{files: []dfs.FileInfo{{Path: "/data/a", Size: 1 << 20}}}
	tracker, g, _ := startedTracker(t, testDescriptor(), fs)

	require.Len(t, g.submits, 2)
	require.Equal(t, "map_"+tracker.JobID(), g.submits[0].Name)
	require.Equal(t, "reduce_"+tracker.JobID(), g.submits[1].Name)
	require.Equal(t, "kOffline", g.submits[0].Priority)
}

func TestTrackerStartFailsOnGalaxyError(t *testing.T) {
	fs := &fakeFS{files: []dfs.FileInfo{{Path: "/data/a", Size: 1 << 20}}}
	g := newFakeGalaxy()
	g.failSubmit = true
	tracker := NewJobTracker(&fakeRetractor{}, g, fakeFactory(fs), &mockLogger{}, testDescriptor())

	require.Equal(t, core.StatusGalaxyError, tracker.Start())
	require.Equal(t, core.JobFailed, tracker.State())
	require.NotEmpty(t, tracker.JobID())
}

func TestTrackerStartFailsOnEmptyInput(t *testing.T) {
	fs := &fakeFS{}
	g := newFakeGalaxy()
	tracker := NewJobTracker(&fakeRetractor{}, g, fakeFactory(fs), &mockLogger{}, testDescriptor())

	require.Equal(t, core.StatusInvalidArg, tracker.Start())
	require.Equal(t, core.JobFailed, tracker.State())
	require.Empty(t, g.submits)
}

func TestTrackerRejectsForeignURIScheme(t *testing.T) {
	desc := testDescriptor()
	desc.Inputs = []string{"s3://bucket/data/*.txt"}
	fs := &fakeFS{files: []dfs.FileInfo{{Path: "/data/a", Size: 1 << 20}}}
	tracker := NewJobTracker(&fakeRetractor{}, newFakeGalaxy(), fakeFactory(fs), &mockLogger{}, desc)

	require.Equal(t, core.StatusNotImplement, tracker.Start())
	require.Equal(t, core.JobFailed, tracker.State())
}

func TestTrackerUpdateForwardsToGalaxy(t *testing.T) {
	fs := &fakeFS{files: []dfs.FileInfo{{Path: "/data/a", Size: 1 << 20}}}
	tracker, g, _ := startedTracker(t, testDescriptor(), fs)

	require.Equal(t, core.StatusOK, tracker.Update(core.PriorityOnline, 20, -1))

	g.mu.Lock()
	defer g.mu.Unlock()
	require.Len(t, g.updates["pod-group-1"], 1)
	require.Equal(t, "kOnline", g.updates["pod-group-1"][0].Priority)
	require.Equal(t, 20, g.updates["pod-group-1"][0].Capacity)
	require.Len(t, g.updates["pod-group-2"], 1)
	require.Equal(t, -1, g.updates["pod-group-2"][0].Capacity)

	desc := tracker.Descriptor()
	require.Equal(t, core.PriorityOnline, desc.Priority)
	require.Equal(t, 20, desc.MapCapacity)
	require.Equal(t, 1, desc.ReduceCapacity)
}

func TestTrackerUpdateGalaxyError(t *testing.T) {
	fs := &fakeFS{files: []dfs.FileInfo{{Path: "/data/a", Size: 1 << 20}}}
	tracker, g, _ := startedTracker(t, testDescriptor(), fs)

	g.failUpdate = true
	require.Equal(t, core.StatusGalaxyError, tracker.Update(-1, 5, -1))
}

func TestTrackerKillIsIdempotent(t *testing.T) {
	fs := &fakeFS{files: []dfs.FileInfo{{Path: "/data/a", Size: 1 << 20}}}
	tracker, g, _ := startedTracker(t, testDescriptor(), fs)

	require.Equal(t, core.StatusOK, tracker.Kill())
	require.Equal(t, core.JobKilled, tracker.State())
	require.Equal(t, 2, g.killCount())

	require.Equal(t, core.StatusOK, tracker.Kill())
	require.Equal(t, core.JobKilled, tracker.State())
	require.Equal(t, 2, g.killCount())
}

func TestTrackerCheckReportsRecentAllocations(t *testing.T) {
	fs := &fakeFS{files: []dfs.FileInfo{{Path: "/data/a", Size: 1 << 20}}}
	tracker, _, _ := startedTracker(t, testDescriptor(), fs)

	tracker.AssignMap("w1:80")
	tracker.FinishMap(0, 0, core.TaskCompleted)

	check := tracker.Check()
	require.Len(t, check.Recent, 1)
	require.Equal(t, "w1:80", check.Recent[0].Endpoint)
	require.Equal(t, core.TaskCompleted, check.Recent[0].State)
	require.True(t, check.Recent[0].IsMap)
	require.GreaterOrEqual(t, check.Recent[0].Period, int64(0))
}

func TestTrackerSnapshotLoadRoundTrip(t *testing.T) {
	fs := &fakeFS{files: []dfs.FileInfo{{Path: "/data/a", Size: 64 << 20}}}
	tracker, _, _ := startedTracker(t, testDescriptor(), fs)

	tracker.AssignMap("w1:80")
	require.Equal(t, core.StatusOK, tracker.FinishMap(0, 0, core.TaskCompleted))

	desc, state, history, inputs := tracker.Snapshot()
	require.Equal(t, core.JobRunning, state)
	require.Len(t, history, 1)
	require.Len(t, inputs, 1)

	restored := NewJobTracker(&fakeRetractor{}, newFakeGalaxy(), fakeFactory(fs), &mockLogger{}, desc)
	restored.Load(tracker.JobID(), state, history, inputs)

	require.Equal(t, tracker.JobID(), restored.JobID())
	require.Equal(t, core.JobRunning, restored.State())

	overview := restored.Overview()
	require.Equal(t, 1, overview.MapStat.Completed)
	require.Equal(t, 1, overview.MapStat.Total)

	_, status := restored.AssignMap("w2:80")
	require.Equal(t, core.StatusNoMore, status)

	item, status := restored.AssignReduce("w2:80")
	require.Equal(t, core.StatusOK, status)
	require.Equal(t, 0, item.No)
	require.Equal(t, 0, item.Attempt)
}

func TestTrackerLoadSkipsInFlightAllocations(t *testing.T) {
	fs := &fakeFS{files: []dfs.FileInfo{
		{Path: "/data/a", Size: 1 << 20},
		{Path: "/data/b", Size: 1 << 20},
	}}
	tracker, _, _ := startedTracker(t, testDescriptor(), fs)

	tracker.AssignMap("w1:80")
	tracker.AssignMap("w2:80")
	require.Equal(t, core.StatusOK, tracker.FinishMap(0, 0, core.TaskCompleted))

	desc, state, history, inputs := tracker.Snapshot()
	restored := NewJobTracker(&fakeRetractor{}, newFakeGalaxy(), fakeFactory(fs), &mockLogger{}, desc)
	restored.Load(tracker.JobID(), state, history, inputs)

	// Split 1 was in flight at snapshot time; it comes back assignable
	// with a fresh attempt number past the one already handed out.
	item, status := restored.AssignMap("w3:80")
	require.Equal(t, core.StatusOK, status)
	require.Equal(t, 1, item.No)
	require.Equal(t, 1, item.Attempt)
}
