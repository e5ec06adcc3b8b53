package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/guoyu07/shuttle/internal/master/core"
	"github.com/guoyu07/shuttle/internal/master/service"
	"github.com/guoyu07/shuttle/internal/shared/config"
	"github.com/guoyu07/shuttle/internal/shared/logging"
)

// API is the validation and dispatch shim between the HTTP contract and the
// master service.
type API struct {
	master service.MasterService
	logger logging.Logger
}

func NewAPI(master service.MasterService, logger logging.Logger) *API {
	return &API{master: master, logger: logger}
}

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/jobs", a.wrap(a.submitJob))
	mux.HandleFunc("GET /api/jobs", a.wrap(a.listJobs))
	mux.HandleFunc("GET /api/jobs/{id}", a.wrap(a.showJob))
	mux.HandleFunc("PUT /api/jobs/{id}", a.wrap(a.updateJob))
	mux.HandleFunc("DELETE /api/jobs/{id}", a.wrap(a.killJob))
	mux.HandleFunc("POST /api/tasks/assign", a.wrap(a.assignTask))
	mux.HandleFunc("POST /api/tasks/finish", a.wrap(a.finishTask))
}

// statusWriter captures the status code a handler wrote.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// wrap recovers handler panics and writes one access log line per request,
// carrying the job id for the job-scoped routes.
func (a *API) wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}
		defer func() {
			if v := recover(); v != nil {
				a.logger.Error("panic in HTTP handler",
					"method", r.Method,
					"path", r.URL.Path,
					"error", v,
				)
				a.respondError(sw, http.StatusInternalServerError, "internal server error", "")
			}
			args := []any{
				"method", r.Method,
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
				"status", sw.status,
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if jobID := r.PathValue("id"); jobID != "" {
				args = append(args, "job_id", jobID)
			}
			a.logger.Debug("request served", args...)
		}()
		next(sw, r)
	}
}

func (a *API) submitJob(w http.ResponseWriter, r *http.Request) {
	var req SubmitJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if err := req.Validate(); err != nil {
		a.respondJSON(w, http.StatusBadRequest, SubmitJobResponse{
			Status: string(core.StatusInvalidArg),
		})
		return
	}

	status, jobID := a.master.SubmitJob(req.ToDescriptor())
	a.respondJSON(w, httpStatus(status), SubmitJobResponse{
		Status: string(status),
		JobID:  jobID,
	})
}

func (a *API) updateJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	var req UpdateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.Priority != nil && (*req.Priority < core.PriorityMonitor || *req.Priority > core.PriorityBestEffort) {
		a.respondJSON(w, http.StatusBadRequest, StatusResponse{
			Status: string(core.StatusInvalidArg),
		})
		return
	}

	status := a.master.UpdateJob(jobID,
		optionalInt(req.Priority),
		optionalInt(req.MapCapacity),
		optionalInt(req.ReduceCapacity),
	)
	a.respondJSON(w, httpStatus(status), StatusResponse{Status: string(status)})
}

func (a *API) killJob(w http.ResponseWriter, r *http.Request) {
	status := a.master.KillJob(r.PathValue("id"))
	a.respondJSON(w, httpStatus(status), StatusResponse{Status: string(status)})
}

func (a *API) listJobs(w http.ResponseWriter, r *http.Request) {
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	jobs := a.master.ListJobs(all)
	a.respondJSON(w, http.StatusOK, ListJobsResponse{Jobs: jobs})
}

func (a *API) showJob(w http.ResponseWriter, r *http.Request) {
	all, _ := strconv.ParseBool(r.URL.Query().Get("all"))
	status, job, check := a.master.ShowJob(r.PathValue("id"), all)
	a.respondJSON(w, httpStatus(status), ShowJobResponse{
		Status: string(status),
		Job:    job,
		Check:  check,
	})
}

func (a *API) assignTask(w http.ResponseWriter, r *http.Request) {
	var req AssignTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	mode, err := parseWorkMode(req.WorkMode)
	if err != nil || req.JobID == "" || req.Endpoint == "" {
		a.respondJSON(w, http.StatusBadRequest, AssignTaskResponse{
			Status: string(core.StatusInvalidArg),
		})
		return
	}

	status, task := a.master.AssignTask(req.JobID, req.Endpoint, mode)
	a.respondJSON(w, httpStatus(status), AssignTaskResponse{
		Status: string(status),
		Task:   task,
	})
}

func (a *API) finishTask(w http.ResponseWriter, r *http.Request) {
	var req FinishTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	mode, merr := parseWorkMode(req.WorkMode)
	state, serr := parseTaskState(req.TaskState)
	if merr != nil || serr != nil || req.JobID == "" {
		a.respondJSON(w, http.StatusBadRequest, StatusResponse{
			Status: string(core.StatusInvalidArg),
		})
		return
	}

	status := a.master.FinishTask(req.JobID, req.TaskID, req.Attempt, mode, state)
	a.respondJSON(w, httpStatus(status), StatusResponse{Status: string(status)})
}

// httpStatus maps an RPC status to the HTTP code carrying it. The status
// itself always travels in the body; workers switch on that, not on the
// HTTP code.
func httpStatus(status core.Status) int {
	switch status {
	case core.StatusNoSuchJob:
		return http.StatusNotFound
	case core.StatusInvalidArg:
		return http.StatusBadRequest
	default:
		return http.StatusOK
	}
}

func (a *API) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Error("failed to encode response", "error", err)
	}
}

func (a *API) respondError(w http.ResponseWriter, statusCode int, msg, details string) {
	a.respondJSON(w, statusCode, ErrorResponse{Error: msg, Details: details})
}

// Server serves the master API over HTTP.
type Server struct {
	httpServer *http.Server
	logger     logging.Logger
}

func NewServer(addr string, cfg config.RESTConfig, master service.MasterService, logger logging.Logger) *Server {
	mux := http.NewServeMux()
	api := NewAPI(master, logger)
	api.RegisterRoutes(mux)

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		logger: logger,
	}
}

func (s *Server) Start() error {
	s.logger.Info("HTTP API listening", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
