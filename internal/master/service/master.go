package service

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/guoyu07/shuttle/internal/master/core"
	"github.com/guoyu07/shuttle/internal/shared/config"
	"github.com/guoyu07/shuttle/internal/shared/dfs"
	"github.com/guoyu07/shuttle/internal/shared/galaxy"
	"github.com/guoyu07/shuttle/internal/shared/logging"
	"github.com/guoyu07/shuttle/internal/shared/nexus"
)

const jobIDPrefix = "job_"

// TaskInput is the input span handed to a map worker.
type TaskInput struct {
	InputFile string `json:"input_file"`
	Offset    int64  `json:"offset"`
	Size      int64  `json:"size"`
}

// TaskInfo is one assigned task attempt.
type TaskInfo struct {
	TaskID  int                `json:"task_id"`
	Attempt int                `json:"attempt"`
	Job     core.JobDescriptor `json:"job"`
	Input   *TaskInput         `json:"input,omitempty"`
}

// MasterService is the RPC-facing surface of the master.
type MasterService interface {
	SubmitJob(desc core.JobDescriptor) (core.Status, string)
	UpdateJob(jobID string, priority, mapCapacity, reduceCapacity int) core.Status
	KillJob(jobID string) core.Status
	ListJobs(all bool) []JobOverview
	ShowJob(jobID string, all bool) (core.Status, *JobOverview, *CheckSummary)
	AssignTask(jobID, endpoint string, mode core.WorkMode) (core.Status, *TaskInfo)
	FinishTask(jobID string, taskID, attempt int, mode core.WorkMode, state core.TaskState) core.Status
}

// trackerEntry pairs a tracker with its liveness: a live tracker still
// accepts work, a retired one is kept for queries until the GC loop reaps it.
type trackerEntry struct {
	tracker *JobTracker
	live    bool
}

// MasterImpl is the process singleton coordinating every job. It owns the
// tracker registry, the leader lock, and the background GC and persistence
// loops.
type MasterImpl struct {
	cfg      *config.MasterConfig
	nexus    nexus.Client
	galaxy   galaxy.Client
	openFS   dfs.Factory
	logger   logging.Logger
	executor *core.DelayedTaskExecutor

	mu       sync.Mutex
	trackers map[string]*trackerEntry

	stop     chan struct{}
	stopOnce sync.Once
	exit     func(code int)
}

func NewMaster(
	cfg *config.MasterConfig,
	nexusClient nexus.Client,
	galaxyClient galaxy.Client,
	openFS dfs.Factory,
	logger logging.Logger,
) *MasterImpl {
	return &MasterImpl{
		cfg:      cfg,
		nexus:    nexusClient,
		galaxy:   galaxyClient,
		openFS:   openFS,
		logger:   logger,
		executor: core.NewDelayedTaskExecutor(),
		trackers: make(map[string]*trackerEntry),
		stop:     make(chan struct{}),
		exit:     defaultExit,
	}
}

// Init acquires the master lock (blocking until this process is the leader),
// optionally restores jobs from the lock/KV service, and starts the GC and
// persistence loops.
func (m *MasterImpl) Init(ctx context.Context) error {
	if err := m.acquireMasterLock(ctx); err != nil {
		return err
	}
	m.logger.Info("master alive, recovering")
	if m.cfg.Recovery {
		if err := m.reload(ctx); err != nil {
			return err
		}
		m.logger.Info("master recovered")
	}
	m.executor.DelayTask(m.cfg.GCInterval(), m.keepGarbageCollecting)
	m.executor.AddTask(m.keepDataPersistence)
	return nil
}

// Shutdown stops background work and releases the nexus session.
func (m *MasterImpl) Shutdown() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.executor.Stop()
	if err := m.nexus.Close(); err != nil {
		m.logger.Warn("failed to close nexus client", "error", err)
	}
}

func (m *MasterImpl) SubmitJob(desc core.JobDescriptor) (core.Status, string) {
	m.logger.Info("job submitted",
		"name", desc.Name,
		"input_dfs_user", desc.InputDfs.User,
		"output_dfs_user", desc.OutputDfs.User,
		"pipe_style", string(desc.PipeStyle),
	)
	tracker := NewJobTracker(m, m.galaxy, m.openFS, m.logger, desc)
	status := tracker.Start()
	jobID := tracker.JobID()

	m.mu.Lock()
	m.trackers[jobID] = &trackerEntry{tracker: tracker, live: status == core.StatusOK}
	m.mu.Unlock()
	return status, jobID
}

func (m *MasterImpl) UpdateJob(jobID string, priority, mapCapacity, reduceCapacity int) core.Status {
	tracker := m.findLive(jobID)
	if tracker == nil {
		m.logger.Warn("try to update an inexist job", "job_id", jobID)
		return core.StatusNoSuchJob
	}
	return tracker.Update(priority, mapCapacity, reduceCapacity)
}

func (m *MasterImpl) KillJob(jobID string) core.Status {
	if tracker := m.findLive(jobID); tracker == nil {
		m.logger.Warn("try to kill an inexist job", "job_id", jobID)
		return core.StatusNoSuchJob
	}
	return m.RetractJob(jobID)
}

func (m *MasterImpl) ListJobs(all bool) []JobOverview {
	m.mu.Lock()
	entries := make([]*trackerEntry, 0, len(m.trackers))
	for _, e := range m.trackers {
		if e.live || all {
			entries = append(entries, e)
		}
	}
	m.mu.Unlock()

	jobs := make([]JobOverview, 0, len(entries))
	for _, e := range entries {
		jobs = append(jobs, e.tracker.Overview())
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].JobID < jobs[j].JobID })
	return jobs
}

func (m *MasterImpl) ShowJob(jobID string, all bool) (core.Status, *JobOverview, *CheckSummary) {
	tracker, live, ok := m.find(jobID)
	if !ok || (!live && !all) {
		m.logger.Warn("try to access an inexist job", "job_id", jobID)
		return core.StatusNoSuchJob, nil, nil
	}
	overview := tracker.Overview()
	check := tracker.Check()
	return core.StatusOK, &overview, &check
}

func (m *MasterImpl) AssignTask(jobID, endpoint string, mode core.WorkMode) (core.Status, *TaskInfo) {
	tracker, live, ok := m.find(jobID)
	if !ok {
		m.logger.Warn("assign task failed: job inexist", "job_id", jobID)
		return core.StatusNoSuchJob, nil
	}
	if !live {
		return core.StatusNoMore, nil
	}

	if mode == core.ModeReduce {
		item, status := tracker.AssignReduce(endpoint)
		if item == nil {
			return status, nil
		}
		return status, &TaskInfo{
			TaskID:  item.No,
			Attempt: item.Attempt,
			Job:     tracker.Descriptor(),
		}
	}

	item, status := tracker.AssignMap(endpoint)
	if item == nil {
		return status, nil
	}
	return status, &TaskInfo{
		TaskID:  item.No,
		Attempt: item.Attempt,
		Job:     tracker.Descriptor(),
		Input: &TaskInput{
			InputFile: item.InputFile,
			Offset:    item.Offset,
			Size:      item.Size,
		},
	}
}

func (m *MasterImpl) FinishTask(jobID string, taskID, attempt int, mode core.WorkMode, state core.TaskState) core.Status {
	tracker, live, ok := m.find(jobID)
	if !ok {
		m.logger.Warn("finish task failed: job inexist", "job_id", jobID)
		return core.StatusNoSuchJob
	}
	if !live {
		return core.StatusOK
	}
	if mode == core.ModeReduce {
		return tracker.FinishReduce(taskID, attempt, state)
	}
	return tracker.FinishMap(taskID, attempt, state)
}

// RetractJob moves a job out of the live set and terminates its pod groups.
// Retracting an unknown or already-retired job is a no-op warning so
// duplicate retractions are tolerated.
func (m *MasterImpl) RetractJob(jobID string) core.Status {
	m.mu.Lock()
	e, ok := m.trackers[jobID]
	if !ok || !e.live {
		m.mu.Unlock()
		m.logger.Warn("retract job failed: job inexist", "job_id", jobID)
		return core.StatusOK
	}
	e.live = false
	m.mu.Unlock()
	return e.tracker.Kill()
}

func (m *MasterImpl) find(jobID string) (tracker *JobTracker, live, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.trackers[jobID]
	if !ok {
		return nil, false, false
	}
	return e.tracker, e.live, true
}

func (m *MasterImpl) findLive(jobID string) *JobTracker {
	tracker, live, ok := m.find(jobID)
	if !ok || !live {
		return nil
	}
	return tracker
}

// keepGarbageCollecting deletes every retired tracker, then reschedules
// itself.
func (m *MasterImpl) keepGarbageCollecting() {
	m.mu.Lock()
	for jobID, e := range m.trackers {
		if !e.live {
			m.logger.Info("[gc] remove dead job tracker", "job_id", jobID)
			delete(m.trackers, jobID)
		}
	}
	m.mu.Unlock()
	m.executor.DelayTask(m.cfg.GCInterval(), m.keepGarbageCollecting)
}

// keepDataPersistence snapshots every tracker to the lock/KV service, live
// trackers first, then reschedules itself. Write failures are logged and
// retried on the next tick.
func (m *MasterImpl) keepDataPersistence() {
	m.mu.Lock()
	live := make([]*JobTracker, 0, len(m.trackers))
	dead := make([]*JobTracker, 0)
	for _, e := range m.trackers {
		if e.live {
			live = append(live, e.tracker)
		} else {
			dead = append(dead, e.tracker)
		}
	}
	m.mu.Unlock()

	for _, tracker := range live {
		m.persistTracker(tracker, "running")
	}
	for _, tracker := range dead {
		m.persistTracker(tracker, "finished")
	}
	m.executor.DelayTask(m.cfg.BackupInterval(), m.keepDataPersistence)
}

func (m *MasterImpl) persistTracker(tracker *JobTracker, kind string) {
	desc, state, history, inputs := tracker.Snapshot()
	jobID := tracker.JobID()

	descriptor, err := core.EncodeJobDescriptor(&desc)
	if err != nil {
		m.logger.Error("failed to encode job descriptor", "job_id", jobID, "error", err)
		return
	}
	jobData, err := core.EncodeJobData(state, history, inputs)
	if err != nil {
		m.logger.Error("failed to encode job data", "job_id", jobID, "error", err)
		return
	}

	ctx := context.Background()
	root := m.cfg.NexusRootPath
	if err := m.nexus.Put(ctx, root+jobID, descriptor); err != nil {
		m.logger.Error("failed to persist job descriptor", "job_id", jobID, "error", err)
		return
	}
	if err := m.nexus.Put(ctx, root+m.cfg.JobDataHeader+jobID, jobData); err != nil {
		m.logger.Error("failed to persist job data", "job_id", jobID, "error", err)
		return
	}
	m.logger.Debug(kind+" job persistence",
		"job_id", jobID,
		"desc_bytes", len(descriptor),
		"data_bytes", len(jobData),
	)
}

// reload scans the lock/KV service for persisted jobs and rebuilds their
// trackers. Jobs whose restored state is Running go back to the live set;
// everything else is retired. Each call starts a fresh scan.
func (m *MasterImpl) reload(ctx context.Context) error {
	root := m.cfg.NexusRootPath
	kvs, err := m.nexus.ScanPrefix(ctx, root+jobIDPrefix)
	if err != nil {
		return err
	}
	for _, kv := range kvs {
		jobID := strings.TrimPrefix(kv.Key, root)
		desc, err := core.DecodeJobDescriptor(kv.Value)
		if err != nil {
			m.logger.Error("failed to decode job descriptor", "job_id", jobID, "error", err)
			continue
		}

		data := &core.JobData{State: core.JobKilled}
		blob, found, err := m.nexus.Get(ctx, root+m.cfg.JobDataHeader+jobID)
		if err != nil {
			m.logger.Error("failed to fetch job data", "job_id", jobID, "error", err)
		} else if found {
			if data, err = core.DecodeJobData(blob); err != nil {
				m.logger.Error("failed to decode job data", "job_id", jobID, "error", err)
				continue
			}
		}

		tracker := NewJobTracker(m, m.galaxy, m.openFS, m.logger, *desc)
		tracker.Load(jobID, data.State, data.History, data.Inputs)

		m.mu.Lock()
		m.trackers[jobID] = &trackerEntry{
			tracker: tracker,
			live:    data.State == core.JobRunning,
		}
		m.mu.Unlock()
		m.logger.Info("job reloaded", "job_id", jobID, "state", string(data.State))
	}
	return nil
}
