package rest

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/guoyu07/shuttle/internal/master/core"
	"github.com/guoyu07/shuttle/internal/master/service"
)

// mockLogger is a no-op logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(msg string, args ...any) {}
func (m *mockLogger) Info(msg string, args ...any)  {}
func (m *mockLogger) Warn(msg string, args ...any)  {}
func (m *mockLogger) Error(msg string, args ...any) {}
func (m *mockLogger) Fatal(msg string, args ...any) {}

// stubMaster records calls and plays back canned answers.
type stubMaster struct {
	submitStatus core.Status
	submitJobID  string
	submittedJob core.JobDescriptor

	updateArgs []int
	updatedJob string

	killStatus core.Status
	killedJob  string

	listAll  bool
	listJobs []service.JobOverview

	showStatus core.Status
	showJob    *service.JobOverview
	showCheck  *service.CheckSummary
	showPanics bool

	assignStatus core.Status
	assignTask   *service.TaskInfo
	assignMode   core.WorkMode

	finishStatus core.Status
	finishState  core.TaskState
	finishTaskID int
}

func (s *stubMaster) SubmitJob(desc core.JobDescriptor) (core.Status, string) {
	s.submittedJob = desc
	return s.submitStatus, s.submitJobID
}

func (s *stubMaster) UpdateJob(jobID string, priority, mapCapacity, reduceCapacity int) core.Status {
	s.updatedJob = jobID
	s.updateArgs = []int{priority, mapCapacity, reduceCapacity}
	return core.StatusOK
}

func (s *stubMaster) KillJob(jobID string) core.Status {
	s.killedJob = jobID
	return s.killStatus
}

func (s *stubMaster) ListJobs(all bool) []service.JobOverview {
	s.listAll = all
	return s.listJobs
}

func (s *stubMaster) ShowJob(jobID string, all bool) (core.Status, *service.JobOverview, *service.CheckSummary) {
	if s.showPanics {
		panic("tracker poisoned")
	}
	return s.showStatus, s.showJob, s.showCheck
}

func (s *stubMaster) AssignTask(jobID, endpoint string, mode core.WorkMode) (core.Status, *service.TaskInfo) {
	s.assignMode = mode
	return s.assignStatus, s.assignTask
}

func (s *stubMaster) FinishTask(jobID string, taskID, attempt int, mode core.WorkMode, state core.TaskState) core.Status {
	s.finishTaskID = taskID
	s.finishState = state
	return s.finishStatus
}

func newTestServer(t *testing.T, master *stubMaster) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	NewAPI(master, &mockLogger{}).RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func postJSON(t *testing.T, url string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestSubmitJob(t *testing.T) {
	master := &stubMaster{submitStatus: core.StatusOK, submitJobID: "job_20260806_1a2b3c4d"}
	server := newTestServer(t, master)

	resp := postJSON(t, server.URL+"/api/jobs", SubmitJobRequest{
		Name:        "wordcount",
		MapCommand:  "./mapper.py",
		Inputs:      []string{"/data/*.txt"},
		ReduceTotal: 2,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body := decode[SubmitJobResponse](t, resp)
	require.Equal(t, "kOk", body.Status)
	require.Equal(t, "job_20260806_1a2b3c4d", body.JobID)
	require.Equal(t, "wordcount", master.submittedJob.Name)
	require.Equal(t, 2, master.submittedJob.ReduceTotal)
}

func TestSubmitJobValidation(t *testing.T) {
	master := &stubMaster{}
	server := newTestServer(t, master)

	resp := postJSON(t, server.URL+"/api/jobs", SubmitJobRequest{Name: "no-inputs", MapCommand: "cat"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decode[SubmitJobResponse](t, resp)
	require.Equal(t, "kInvalidArg", body.Status)
	require.Empty(t, master.submittedJob.Name)
}

func TestUpdateJobPartialArguments(t *testing.T) {
	master := &stubMaster{}
	server := newTestServer(t, master)

	capacity := 8
	payload, err := json.Marshal(UpdateJobRequest{MapCapacity: &capacity})
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPut, server.URL+"/api/jobs/job_x", bytes.NewReader(payload))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "job_x", master.updatedJob)
	require.Equal(t, []int{-1, 8, -1}, master.updateArgs)
}

func TestKillJob(t *testing.T) {
	master := &stubMaster{killStatus: core.StatusNoSuchJob}
	server := newTestServer(t, master)

	req, err := http.NewRequest(http.MethodDelete, server.URL+"/api/jobs/job_gone", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decode[StatusResponse](t, resp)
	require.Equal(t, "kNoSuchJob", body.Status)
	require.Equal(t, "job_gone", master.killedJob)
}

func TestListJobsAllFlag(t *testing.T) {
	master := &stubMaster{listJobs: []service.JobOverview{{JobID: "job_1", State: core.JobRunning}}}
	server := newTestServer(t, master)

	resp, err := http.Get(server.URL + "/api/jobs?all=true")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, master.listAll)

	body := decode[ListJobsResponse](t, resp)
	require.Len(t, body.Jobs, 1)
	require.Equal(t, "job_1", body.Jobs[0].JobID)
}

func TestShowJobNotFound(t *testing.T) {
	master := &stubMaster{showStatus: core.StatusNoSuchJob}
	server := newTestServer(t, master)

	resp, err := http.Get(server.URL + "/api/jobs/job_missing")
	require.NoError(t, err)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	body := decode[ShowJobResponse](t, resp)
	require.Equal(t, "kNoSuchJob", body.Status)
	require.Nil(t, body.Job)
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	master := &stubMaster{showPanics: true}
	server := newTestServer(t, master)

	resp, err := http.Get(server.URL + "/api/jobs/job_1")
	require.NoError(t, err)
	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	body := decode[ErrorResponse](t, resp)
	require.Equal(t, "internal server error", body.Error)
}

func TestAssignTaskMap(t *testing.T) {
	master := &stubMaster{
		assignStatus: core.StatusOK,
		assignTask: &service.TaskInfo{
			TaskID:  0,
			Attempt: 1,
			Input:   &service.TaskInput{InputFile: "/data/a", Offset: 0, Size: 64},
		},
	}
	server := newTestServer(t, master)

	resp := postJSON(t, server.URL+"/api/tasks/assign", AssignTaskRequest{
		JobID:    "job_1",
		Endpoint: "w1:80",
		WorkMode: "map",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, core.ModeMap, master.assignMode)

	body := decode[AssignTaskResponse](t, resp)
	require.Equal(t, "kOk", body.Status)
	require.Equal(t, 1, body.Task.Attempt)
	require.Equal(t, "/data/a", body.Task.Input.InputFile)
}

func TestAssignTaskSuspend(t *testing.T) {
	master := &stubMaster{assignStatus: core.StatusSuspend}
	server := newTestServer(t, master)

	resp := postJSON(t, server.URL+"/api/tasks/assign", AssignTaskRequest{
		JobID:    "job_1",
		Endpoint: "w1:80",
		WorkMode: "reduce",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, core.ModeReduce, master.assignMode)

	body := decode[AssignTaskResponse](t, resp)
	require.Equal(t, "kSuspend", body.Status)
	require.Nil(t, body.Task)
}

func TestAssignTaskRejectsMissingEndpoint(t *testing.T) {
	master := &stubMaster{}
	server := newTestServer(t, master)

	resp := postJSON(t, server.URL+"/api/tasks/assign", AssignTaskRequest{JobID: "job_1"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decode[AssignTaskResponse](t, resp)
	require.Equal(t, "kInvalidArg", body.Status)
}

func TestFinishTask(t *testing.T) {
	master := &stubMaster{finishStatus: core.StatusOK}
	server := newTestServer(t, master)

	resp := postJSON(t, server.URL+"/api/tasks/finish", FinishTaskRequest{
		JobID:     "job_1",
		TaskID:    3,
		Attempt:   1,
		WorkMode:  "map",
		TaskState: "completed",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 3, master.finishTaskID)
	require.Equal(t, core.TaskCompleted, master.finishState)
}

func TestFinishTaskRejectsBadState(t *testing.T) {
	master := &stubMaster{}
	server := newTestServer(t, master)

	resp := postJSON(t, server.URL+"/api/tasks/finish", FinishTaskRequest{
		JobID:     "job_1",
		WorkMode:  "map",
		TaskState: "sideways",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	body := decode[StatusResponse](t, resp)
	require.Equal(t, "kInvalidArg", body.Status)
}
