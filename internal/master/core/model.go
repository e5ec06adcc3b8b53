package core

// Status is the result code observable at the RPC boundary.
type Status string

const (
	StatusOK            Status = "kOk"
	StatusNoSuchJob     Status = "kNoSuchJob"
	StatusNoSuchTask    Status = "kNoSuchTask"
	StatusNoMore        Status = "kNoMore"
	StatusSuspend       Status = "kSuspend"
	StatusInvalidArg    Status = "kInvalidArg"
	StatusGalaxyError   Status = "kGalaxyError"
	StatusWriteFileFail Status = "kWriteFileFail"
	StatusReadFileFail  Status = "kReadFileFail"
	StatusOpenFileFail  Status = "kOpenFileFail"
	StatusCloseFileFail Status = "kCloseFileFail"
	StatusNotImplement  Status = "kNotImplement"
)

// JobState is the per-job lifecycle state.
type JobState string

const (
	JobPending   JobState = "PENDING"
	JobRunning   JobState = "RUNNING"
	JobCompleted JobState = "COMPLETED"
	JobFailed    JobState = "FAILED"
	JobKilled    JobState = "KILLED"
)

// Terminal reports whether a job in this state accepts no more work.
func (s JobState) Terminal() bool {
	switch s {
	case JobCompleted, JobFailed, JobKilled:
		return true
	}
	return false
}

// TaskState is the state of one task attempt.
type TaskState string

const (
	TaskRunning   TaskState = "RUNNING"
	TaskCompleted TaskState = "COMPLETED"
	TaskFailed    TaskState = "FAILED"
	TaskKilled    TaskState = "KILLED"
	TaskCanceled  TaskState = "CANCELED"
)

// WorkMode selects the phase a worker is asking about.
type WorkMode string

const (
	ModeMap    WorkMode = "MAP"
	ModeReduce WorkMode = "REDUCE"
)

// PipeStyle is how user commands exchange records with the framework.
type PipeStyle string

const (
	PipeStreaming   PipeStyle = "streaming"
	PipeBiStreaming PipeStyle = "bistreaming"
	PipeNative      PipeStyle = "native"
)

// Job priorities, passed to the resource platform by name.
const (
	PriorityMonitor = iota
	PriorityOnline
	PriorityOffline
	PriorityBestEffort
)

// DfsInfo locates a distributed filesystem namespace.
type DfsInfo struct {
	User string `json:"user"`
	Host string `json:"host"`
	Port string `json:"port"`
}

// JobDescriptor is the immutable description of a submitted job.
type JobDescriptor struct {
	Name           string    `json:"name"`
	PipeStyle      PipeStyle `json:"pipe_style"`
	InputDfs       DfsInfo   `json:"input_dfs"`
	OutputDfs      DfsInfo   `json:"output_dfs"`
	MapCommand     string    `json:"map_command"`
	ReduceCommand  string    `json:"reduce_command"`
	MapCapacity    int       `json:"map_capacity"`
	ReduceCapacity int       `json:"reduce_capacity"`
	Priority       int       `json:"priority"`
	ReduceTotal    int       `json:"reduce_total"`
	Inputs         []string  `json:"inputs"`
	SplitSize      int64     `json:"split_size"`
	TaskTimeoutSec int       `json:"task_timeout"`
	MaxAttempts    int       `json:"max_attempts"`
	Output         string    `json:"output"`
}

// ReduceRequired reports whether the job has a reduce phase at all.
func (d *JobDescriptor) ReduceRequired() bool {
	return d.ReduceTotal > 0 && d.ReduceCommand != ""
}

// ResourceStatus is the allocation state of one input split or reduce slot.
type ResourceStatus string

const (
	ResPending   ResourceStatus = "PENDING"
	ResAllocated ResourceStatus = "ALLOCATED"
	ResDone      ResourceStatus = "DONE"
)

// ResourceItem is one input split of the map phase. Attempt holds the next
// attempt number to hand out; an assignment returns the current value and
// bumps it, so no (No, Attempt) pair is ever issued twice.
type ResourceItem struct {
	No        int            `json:"no"`
	Attempt   int            `json:"attempt"`
	Status    ResourceStatus `json:"status"`
	Allocated int            `json:"allocated"`
	InputFile string         `json:"input_file"`
	Offset    int64          `json:"offset"`
	Size      int64          `json:"size"`
}

// IdItem is one reduce slot.
type IdItem struct {
	No        int            `json:"no"`
	Attempt   int            `json:"attempt"`
	Status    ResourceStatus `json:"status"`
	Allocated int            `json:"allocated"`
}

// AllocateItem is one record of the append-only allocation history.
type AllocateItem struct {
	ResourceNo int       `json:"resource_no"`
	Attempt    int       `json:"attempt"`
	Endpoint   string    `json:"endpoint"`
	State      TaskState `json:"state"`
	AllocTime  int64     `json:"alloc_time"` // unix ms
	Period     int64     `json:"period"`     // ms from alloc to report
	IsMap      bool      `json:"is_map"`
}

// InputInfo is the persisted form of one input split.
type InputInfo struct {
	InputFile string `json:"input_file"`
	Offset    int64  `json:"offset"`
	Size      int64  `json:"size"`
}

// FileInfo is one enumerated input file, before splitting.
type FileInfo struct {
	Path string
	Size int64
}

// TaskStatistics summarizes one phase of a job.
type TaskStatistics struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}
