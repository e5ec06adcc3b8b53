package rest

import (
	"fmt"
	"strings"

	"github.com/guoyu07/shuttle/internal/master/core"
)

func (req *SubmitJobRequest) ToDescriptor() core.JobDescriptor {
	return core.JobDescriptor{
		Name:           req.Name,
		PipeStyle:      core.PipeStyle(req.PipeStyle),
		InputDfs:       core.DfsInfo(req.InputDfs),
		OutputDfs:      core.DfsInfo(req.OutputDfs),
		MapCommand:     req.MapCommand,
		ReduceCommand:  req.ReduceCommand,
		MapCapacity:    req.MapCapacity,
		ReduceCapacity: req.ReduceCapacity,
		Priority:       req.Priority,
		ReduceTotal:    req.ReduceTotal,
		Inputs:         req.Inputs,
		SplitSize:      req.SplitSize,
		TaskTimeoutSec: req.TaskTimeoutSec,
		MaxAttempts:    req.MaxAttempts,
		Output:         req.Output,
	}
}

func (req *SubmitJobRequest) Validate() error {
	if req.Name == "" {
		return fmt.Errorf("job name is required")
	}
	if req.MapCommand == "" {
		return fmt.Errorf("map command is required")
	}
	if len(req.Inputs) == 0 {
		return fmt.Errorf("at least one input pattern is required")
	}
	if req.ReduceTotal < 0 {
		return fmt.Errorf("reduce_total must not be negative")
	}
	return nil
}

func parseWorkMode(s string) (core.WorkMode, error) {
	switch strings.ToUpper(s) {
	case "MAP", "":
		return core.ModeMap, nil
	case "REDUCE":
		return core.ModeReduce, nil
	}
	return "", fmt.Errorf("unknown work mode: %s", s)
}

func parseTaskState(s string) (core.TaskState, error) {
	switch strings.ToUpper(s) {
	case "COMPLETED":
		return core.TaskCompleted, nil
	case "FAILED":
		return core.TaskFailed, nil
	case "KILLED":
		return core.TaskKilled, nil
	case "CANCELED":
		return core.TaskCanceled, nil
	}
	return "", fmt.Errorf("unknown task state: %s", s)
}

// optionalInt turns an absent request field into the sentinel the service
// layer expects.
func optionalInt(v *int) int {
	if v == nil {
		return -1
	}
	return *v
}
