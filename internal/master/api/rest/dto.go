package rest

import "github.com/guoyu07/shuttle/internal/master/service"

// DfsInfoDTO locates a distributed filesystem namespace.
type DfsInfoDTO struct {
	User string `json:"user"`
	Host string `json:"host"`
	Port string `json:"port"`
}

// SubmitJobRequest is the body of POST /api/jobs.
type SubmitJobRequest struct {
	Name           string     `json:"name"`
	PipeStyle      string     `json:"pipe_style"`
	InputDfs       DfsInfoDTO `json:"input_dfs"`
	OutputDfs      DfsInfoDTO `json:"output_dfs"`
	MapCommand     string     `json:"map_command"`
	ReduceCommand  string     `json:"reduce_command"`
	MapCapacity    int        `json:"map_capacity"`
	ReduceCapacity int        `json:"reduce_capacity"`
	Priority       int        `json:"priority"`
	ReduceTotal    int        `json:"reduce_total"`
	Inputs         []string   `json:"inputs"`
	SplitSize      int64      `json:"split_size"`
	TaskTimeoutSec int        `json:"task_timeout"`
	MaxAttempts    int        `json:"max_attempts"`
	Output         string     `json:"output"`
}

type SubmitJobResponse struct {
	Status string `json:"status"`
	JobID  string `json:"jobid"`
}

// UpdateJobRequest is the body of PUT /api/jobs/{id}. Nil fields were not
// provided and leave the corresponding setting unchanged.
type UpdateJobRequest struct {
	Priority       *int `json:"priority,omitempty"`
	MapCapacity    *int `json:"map_capacity,omitempty"`
	ReduceCapacity *int `json:"reduce_capacity,omitempty"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type ListJobsResponse struct {
	Jobs []service.JobOverview `json:"jobs"`
}

type ShowJobResponse struct {
	Status string                `json:"status"`
	Job    *service.JobOverview  `json:"job,omitempty"`
	Check  *service.CheckSummary `json:"check,omitempty"`
}

// AssignTaskRequest is the body of POST /api/tasks/assign, sent by a polling
// worker.
type AssignTaskRequest struct {
	JobID    string `json:"jobid"`
	Endpoint string `json:"endpoint"`
	WorkMode string `json:"work_mode"`
}

type AssignTaskResponse struct {
	Status string            `json:"status"`
	Task   *service.TaskInfo `json:"task,omitempty"`
}

// FinishTaskRequest is the body of POST /api/tasks/finish.
type FinishTaskRequest struct {
	JobID     string `json:"jobid"`
	TaskID    int    `json:"task_id"`
	Attempt   int    `json:"attempt"`
	WorkMode  string `json:"work_mode"`
	TaskState string `json:"task_state"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
