package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/guoyu07/shuttle/internal/master/core"
	"github.com/guoyu07/shuttle/internal/shared/dfs"
	"github.com/guoyu07/shuttle/internal/shared/galaxy"
	"github.com/guoyu07/shuttle/internal/shared/logging"
)

const (
	defaultMaxAttempts = 3

	// maxCheckRecords bounds the allocation records returned by Check.
	maxCheckRecords = 30
)

// Retractor moves a terminal job out of the live registry. Implemented by
// MasterImpl; a tracker calls it exactly when it reaches a terminal state on
// its own.
type Retractor interface {
	RetractJob(jobID string) core.Status
}

// JobOverview is the per-job summary returned by ListJobs and ShowJob.
type JobOverview struct {
	JobID      string              `json:"jobid"`
	Desc       core.JobDescriptor  `json:"desc"`
	State      core.JobState       `json:"state"`
	MapStat    core.TaskStatistics `json:"map_stat"`
	ReduceStat core.TaskStatistics `json:"reduce_stat"`
}

// CheckSummary is the progress report ShowJob attaches to an overview.
type CheckSummary struct {
	MapStat    core.TaskStatistics `json:"map_stat"`
	ReduceStat core.TaskStatistics `json:"reduce_stat"`
	Recent     []core.AllocateItem `json:"recent"`
}

// allocKey identifies one outstanding attempt.
type allocKey struct {
	isMap   bool
	no      int
	attempt int
}

// JobTracker is the per-job state machine. It owns the map split pool, the
// reduce slot pool, the append-only allocation history and the job's pod
// groups on the resource platform. One mutex covers all of it; platform
// calls are made with the lock released.
type JobTracker struct {
	master Retractor
	galaxy galaxy.Client
	openFS dfs.Factory
	logger logging.Logger

	mu             sync.Mutex
	desc           core.JobDescriptor
	jobID          string
	state          core.JobState
	mapManager     *core.ResourceManager
	reduceManager  *core.IdAllocator
	history        []*core.AllocateItem
	outstanding    map[allocKey]*core.AllocateItem
	mapFailed      int
	reduceFailed   int
	mapPodGroup    string
	reducePodGroup string
}

func NewJobTracker(
	master Retractor,
	galaxyClient galaxy.Client,
	openFS dfs.Factory,
	logger logging.Logger,
	desc core.JobDescriptor,
) *JobTracker {
	if desc.MaxAttempts <= 0 {
		desc.MaxAttempts = defaultMaxAttempts
	}
	if desc.SplitSize <= 0 {
		desc.SplitSize = core.DefaultSplitSize
	}
	return &JobTracker{
		master:      master,
		galaxy:      galaxyClient,
		openFS:      openFS,
		logger:      logger,
		desc:        desc,
		state:       core.JobPending,
		outstanding: make(map[allocKey]*core.AllocateItem),
	}
}

// Start enumerates the job inputs, builds both schedulers, launches the pod
// groups and moves the job to Running. On any failure the job ends up Failed
// with the corresponding status; the job id is valid either way.
func (t *JobTracker) Start() core.Status {
	t.jobID = fmt.Sprintf("job_%s_%s",
		time.Now().Format("20060102_150405"), uuid.NewString()[:8])

	files, status := t.enumerateInputs()
	if status != core.StatusOK {
		t.fail(status)
		return status
	}

	mapManager := core.NewResourceManager(files, t.desc.SplitSize, t.desc.MaxAttempts)
	reduceSlots := 0
	if t.desc.ReduceRequired() {
		reduceSlots = t.desc.ReduceTotal
	}
	reduceManager := core.NewIdAllocator(reduceSlots, t.desc.MaxAttempts)

	ctx := context.Background()
	mapPodGroup, err := t.galaxy.SubmitJob(ctx, galaxy.PodGroupSpec{
		Name:     "map_" + t.jobID,
		Command:  t.desc.MapCommand,
		Capacity: t.desc.MapCapacity,
		Priority: galaxy.PriorityName(t.desc.Priority),
	})
	if err != nil {
		t.logger.Error("failed to launch map pod group", "job_id", t.jobID, "error", err)
		t.fail(core.StatusGalaxyError)
		return core.StatusGalaxyError
	}

	var reducePodGroup string
	if t.desc.ReduceRequired() {
		reducePodGroup, err = t.galaxy.SubmitJob(ctx, galaxy.PodGroupSpec{
			Name:     "reduce_" + t.jobID,
			Command:  t.desc.ReduceCommand,
			Capacity: t.desc.ReduceCapacity,
			Priority: galaxy.PriorityName(t.desc.Priority),
		})
		if err != nil {
			t.logger.Error("failed to launch reduce pod group", "job_id", t.jobID, "error", err)
			if kerr := t.galaxy.KillJob(ctx, mapPodGroup); kerr != nil {
				t.logger.Warn("failed to kill map pod group", "job_id", t.jobID, "error", kerr)
			}
			t.fail(core.StatusGalaxyError)
			return core.StatusGalaxyError
		}
	}

	t.mu.Lock()
	t.mapManager = mapManager
	t.reduceManager = reduceManager
	t.mapPodGroup = mapPodGroup
	t.reducePodGroup = reducePodGroup
	t.state = core.JobRunning
	t.mu.Unlock()

	_, _, _, total := mapManager.Count()
	t.logger.Info("job started",
		"job_id", t.jobID,
		"name", t.desc.Name,
		"map_splits", total,
		"reduce_slots", reduceSlots,
	)
	return core.StatusOK
}

func (t *JobTracker) enumerateInputs() ([]core.FileInfo, core.Status) {
	fs, err := t.openFS(dfs.Address{
		User: t.desc.InputDfs.User,
		Host: t.desc.InputDfs.Host,
		Port: t.desc.InputDfs.Port,
	})
	if err != nil {
		t.logger.Error("failed to open input filesystem", "job_id", t.jobID, "error", err)
		return nil, core.StatusOpenFileFail
	}
	defer fs.Close()

	if len(t.desc.Inputs) == 0 {
		return nil, core.StatusInvalidArg
	}
	// Inputs are paths inside the job's input DFS; a foreign URI scheme is
	// not a supported file source.
	for _, pattern := range t.desc.Inputs {
		if strings.Contains(pattern, "://") {
			return nil, core.StatusNotImplement
		}
	}
	found, err := fs.Glob(context.Background(), t.desc.Inputs)
	if err != nil {
		t.logger.Error("failed to enumerate inputs", "job_id", t.jobID, "error", err)
		return nil, core.StatusReadFileFail
	}
	if len(found) == 0 {
		return nil, core.StatusInvalidArg
	}
	files := make([]core.FileInfo, 0, len(found))
	for _, f := range found {
		files = append(files, core.FileInfo{Path: f.Path, Size: f.Size})
	}
	return files, core.StatusOK
}

func (t *JobTracker) fail(status core.Status) {
	t.mu.Lock()
	t.state = core.JobFailed
	t.mu.Unlock()
	t.logger.Warn("job failed to start", "job_id", t.jobID, "status", string(status))
}

// Update forwards priority and capacity changes to the resource platform.
// A negative capacity or priority means the argument was not provided.
func (t *JobTracker) Update(priority, mapCapacity, reduceCapacity int) core.Status {
	t.mu.Lock()
	mapPodGroup, reducePodGroup := t.mapPodGroup, t.reducePodGroup
	t.mu.Unlock()

	priorityName := ""
	if priority >= 0 {
		priorityName = galaxy.PriorityName(priority)
	}

	ctx := context.Background()
	if mapPodGroup != "" && (priorityName != "" || mapCapacity >= 0) {
		err := t.galaxy.UpdateJob(ctx, mapPodGroup, galaxy.PodGroupUpdate{
			Priority: priorityName,
			Capacity: mapCapacity,
		})
		if err != nil {
			t.logger.Error("failed to update map pod group", "job_id", t.jobID, "error", err)
			return core.StatusGalaxyError
		}
	}
	if reducePodGroup != "" && (priorityName != "" || reduceCapacity >= 0) {
		err := t.galaxy.UpdateJob(ctx, reducePodGroup, galaxy.PodGroupUpdate{
			Priority: priorityName,
			Capacity: reduceCapacity,
		})
		if err != nil {
			t.logger.Error("failed to update reduce pod group", "job_id", t.jobID, "error", err)
			return core.StatusGalaxyError
		}
	}

	t.mu.Lock()
	if priority >= 0 {
		t.desc.Priority = priority
	}
	if mapCapacity >= 0 {
		t.desc.MapCapacity = mapCapacity
	}
	if reduceCapacity >= 0 {
		t.desc.ReduceCapacity = reduceCapacity
	}
	t.mu.Unlock()
	return core.StatusOK
}

// Kill terminates both pod groups. A job that already reached a terminal
// state keeps it; anything else becomes Killed. Idempotent.
func (t *JobTracker) Kill() core.Status {
	t.mu.Lock()
	if !t.state.Terminal() {
		t.state = core.JobKilled
	}
	mapPodGroup, reducePodGroup := t.mapPodGroup, t.reducePodGroup
	t.mapPodGroup, t.reducePodGroup = "", ""
	t.mu.Unlock()

	ctx := context.Background()
	for _, podGroup := range []string{mapPodGroup, reducePodGroup} {
		if podGroup == "" {
			continue
		}
		if err := t.galaxy.KillJob(ctx, podGroup); err != nil {
			t.logger.Warn("failed to kill pod group",
				"job_id", t.jobID, "pod_group", podGroup, "error", err)
		}
	}
	return core.StatusOK
}

// AssignMap hands the next map split to the polling worker and records the
// attempt in the allocation history.
func (t *JobTracker) AssignMap(endpoint string) (*core.ResourceItem, core.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != core.JobRunning {
		return nil, core.StatusNoMore
	}
	item, status := t.mapManager.Get(endpoint)
	if item == nil {
		return nil, status
	}
	t.recordAllocation(true, item.No, item.Attempt, endpoint)
	return item, core.StatusOK
}

// AssignReduce hands the next reduce slot to the polling worker. Refused
// with kSuspend while the map phase is still running.
func (t *JobTracker) AssignReduce(endpoint string) (*core.IdItem, core.Status) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != core.JobRunning {
		return nil, core.StatusNoMore
	}
	if !t.mapManager.Complete() {
		return nil, core.StatusSuspend
	}
	item, status := t.reduceManager.Get(endpoint)
	if item == nil {
		return nil, status
	}
	t.recordAllocation(false, item.No, item.Attempt, endpoint)
	return item, core.StatusOK
}

// recordAllocation appends a Running history record. Caller holds t.mu.
func (t *JobTracker) recordAllocation(isMap bool, no, attempt int, endpoint string) {
	alloc := &core.AllocateItem{
		ResourceNo: no,
		Attempt:    attempt,
		Endpoint:   endpoint,
		State:      core.TaskRunning,
		AllocTime:  time.Now().UnixMilli(),
		IsMap:      isMap,
	}
	t.history = append(t.history, alloc)
	t.outstanding[allocKey{isMap: isMap, no: no, attempt: attempt}] = alloc
}

// FinishMap applies a worker's report for a map attempt.
func (t *JobTracker) FinishMap(no, attempt int, state core.TaskState) core.Status {
	return t.finish(true, no, attempt, state)
}

// FinishReduce applies a worker's report for a reduce attempt.
func (t *JobTracker) FinishReduce(no, attempt int, state core.TaskState) core.Status {
	return t.finish(false, no, attempt, state)
}

func (t *JobTracker) finish(isMap bool, no, attempt int, state core.TaskState) core.Status {
	t.mu.Lock()
	if t.state != core.JobRunning {
		t.mu.Unlock()
		return core.StatusOK
	}

	var res core.FinishResult
	var status core.Status
	if isMap {
		res, status = t.mapManager.Finish(no, attempt, state)
	} else {
		res, status = t.reduceManager.Finish(no, attempt, state)
	}
	if status != core.StatusOK {
		t.mu.Unlock()
		return status
	}

	t.closeAllocation(isMap, no, attempt, state)
	if state == core.TaskFailed {
		if isMap {
			t.mapFailed++
		} else {
			t.reduceFailed++
		}
	}

	retract := false
	switch {
	case res.Terminal:
		t.state = core.JobFailed
		retract = true
		t.logger.Warn("job ran out of attempts",
			"job_id", t.jobID, "is_map", isMap, "task_id", no, "attempt", attempt)
	case res.PhaseComplete && res.NewlyDone && isMap:
		if t.desc.ReduceRequired() {
			t.logger.Info("map phase complete", "job_id", t.jobID)
		} else {
			t.state = core.JobCompleted
			retract = true
			t.logger.Info("job complete", "job_id", t.jobID)
		}
	case res.PhaseComplete && res.NewlyDone:
		t.state = core.JobCompleted
		retract = true
		t.logger.Info("job complete", "job_id", t.jobID)
	}
	t.mu.Unlock()

	if retract {
		t.master.RetractJob(t.jobID)
	}
	return core.StatusOK
}

// closeAllocation stamps the history record of a finished attempt with its
// final state and measured period. Caller holds t.mu.
func (t *JobTracker) closeAllocation(isMap bool, no, attempt int, state core.TaskState) {
	key := allocKey{isMap: isMap, no: no, attempt: attempt}
	alloc, ok := t.outstanding[key]
	if !ok {
		return
	}
	alloc.State = state
	alloc.Period = time.Now().UnixMilli() - alloc.AllocTime
	delete(t.outstanding, key)
}

func (t *JobTracker) JobID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.jobID
}

func (t *JobTracker) Descriptor() core.JobDescriptor {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.desc
}

func (t *JobTracker) State() core.JobState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Overview summarizes the job for ListJobs and ShowJob.
func (t *JobTracker) Overview() JobOverview {
	t.mu.Lock()
	defer t.mu.Unlock()
	return JobOverview{
		JobID:      t.jobID,
		Desc:       t.desc,
		State:      t.state,
		MapStat:    t.mapStatistics(),
		ReduceStat: t.reduceStatistics(),
	}
}

// Check fills the progress summary: per-phase counts plus the most recent
// allocation records.
func (t *JobTracker) Check() CheckSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	start := len(t.history) - maxCheckRecords
	if start < 0 {
		start = 0
	}
	recent := make([]core.AllocateItem, 0, len(t.history)-start)
	for _, alloc := range t.history[start:] {
		recent = append(recent, *alloc)
	}
	return CheckSummary{
		MapStat:    t.mapStatistics(),
		ReduceStat: t.reduceStatistics(),
		Recent:     recent,
	}
}

// mapStatistics summarizes the map phase. Caller holds t.mu.
func (t *JobTracker) mapStatistics() core.TaskStatistics {
	if t.mapManager == nil {
		return core.TaskStatistics{}
	}
	pending, allocated, done, total := t.mapManager.Count()
	return core.TaskStatistics{
		Total:     total,
		Pending:   pending,
		Running:   allocated,
		Completed: done,
		Failed:    t.mapFailed,
	}
}

// reduceStatistics summarizes the reduce phase. Caller holds t.mu.
func (t *JobTracker) reduceStatistics() core.TaskStatistics {
	if t.reduceManager == nil {
		return core.TaskStatistics{}
	}
	pending, allocated, done, total := t.reduceManager.Count()
	return core.TaskStatistics{
		Total:     total,
		Pending:   pending,
		Running:   allocated,
		Completed: done,
		Failed:    t.reduceFailed,
	}
}

// historyForDump copies the allocation history for snapshotting.
// Caller holds t.mu.
func (t *JobTracker) historyForDump() []core.AllocateItem {
	out := make([]core.AllocateItem, 0, len(t.history))
	for _, alloc := range t.history {
		out = append(out, *alloc)
	}
	return out
}

// Snapshot captures a consistent (descriptor, state, history, inputs) view
// under the tracker's lock.
func (t *JobTracker) Snapshot() (core.JobDescriptor, core.JobState, []core.AllocateItem, []core.InputInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var inputs []core.InputInfo
	if t.mapManager != nil {
		inputs = t.mapManager.Inputs()
	}
	return t.desc, t.state, t.historyForDump(), inputs
}

// Load rebuilds the tracker from a persisted snapshot: the split pool comes
// straight from the input list, Completed history records mark their split
// Done, and every history record seeds the next-attempt counter of its split.
// In-flight allocations are not reconstructed; those splits simply come back
// Pending.
func (t *JobTracker) Load(jobID string, state core.JobState, history []core.AllocateItem, inputs []core.InputInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.jobID = jobID
	t.state = state

	mapDone := make(map[int]bool)
	mapAttempt := make(map[int]int)
	reduceDone := make(map[int]bool)
	reduceAttempt := make(map[int]int)
	t.history = make([]*core.AllocateItem, 0, len(history))
	t.mapFailed, t.reduceFailed = 0, 0
	for i := range history {
		alloc := history[i]
		t.history = append(t.history, &alloc)
		done, attempt := mapDone, mapAttempt
		if !alloc.IsMap {
			done, attempt = reduceDone, reduceAttempt
		}
		if alloc.Attempt+1 > attempt[alloc.ResourceNo] {
			attempt[alloc.ResourceNo] = alloc.Attempt + 1
		}
		switch alloc.State {
		case core.TaskCompleted:
			done[alloc.ResourceNo] = true
		case core.TaskFailed:
			if alloc.IsMap {
				t.mapFailed++
			} else {
				t.reduceFailed++
			}
		}
	}

	t.mapManager = core.LoadResourceManager(inputs, t.desc.MaxAttempts)
	t.mapManager.Restore(mapDone, mapAttempt)

	reduceSlots := 0
	if t.desc.ReduceRequired() {
		reduceSlots = t.desc.ReduceTotal
	}
	t.reduceManager = core.NewIdAllocator(reduceSlots, t.desc.MaxAttempts)
	t.reduceManager.Restore(reduceDone, reduceAttempt)

	t.outstanding = make(map[allocKey]*core.AllocateItem)
}
