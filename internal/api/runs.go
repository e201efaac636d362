package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/helix/internal/engine"
	"github.com/seantiz/helix/internal/model"
	"github.com/seantiz/helix/internal/store"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
	maxBodySize     = 1 << 20 // 1 MB
)

// createRunRequest is the JSON body for POST /v1/runs.
type createRunRequest struct {
	Provider        string            `json:"provider"`
	WorkflowURL     string            `json:"workflow_url"`
	WorkflowType    string            `json:"workflow_type"`
	WorkflowVersion string            `json:"workflow_type_version"`
	Params          json.RawMessage   `json:"workflow_params"`
	Tags            map[string]string `json:"tags"`
}

type createRunResponse struct {
	RunID string `json:"run_id"`
	State string `json:"state"`
}

// listRunsResponse wraps the paginated list response.
type listRunsResponse struct {
	Runs          []*model.Run `json:"runs"`
	NextPageToken string       `json:"next_page_token,omitempty"`
}

// runDetailResponse is the full record for GET /v1/runs/{id}.
type runDetailResponse struct {
	*model.Run
	Tasks []model.Task `json:"tasks"`
}

type runStatusResponse struct {
	RunID string `json:"run_id"`
	State string `json:"state"`
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req createRunRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Params != nil && !isJSONObject(req.Params) {
		s.writeError(w, http.StatusBadRequest, "workflow_params must be a JSON object")
		return
	}

	id, err := s.ctrl.Submit(r.Context(), req.Provider, model.SubmissionSpec{
		WorkflowURL:     req.WorkflowURL,
		WorkflowType:    req.WorkflowType,
		WorkflowVersion: req.WorkflowVersion,
		Params:          req.Params,
		Tags:            req.Tags,
	})
	if err != nil {
		if errors.Is(err, engine.ErrInvalidSpec) || errors.Is(err, engine.ErrUnknownProvider) {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("create run", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to create run")
		return
	}

	if s.notifier != nil {
		s.notifier.Notify(id)
	}

	s.writeJSON(w, http.StatusCreated, createRunResponse{RunID: id, State: model.StateQueued})
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	pageSize := parseIntQuery(r, "page_size", defaultPageSize)
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = defaultPageSize
	}

	filter := store.ListFilter{
		State:        r.URL.Query().Get("state"),
		ProviderType: r.URL.Query().Get("provider"),
	}

	runs, nextToken, err := s.ctrl.List(r.Context(), filter, r.URL.Query().Get("page_token"), pageSize)
	if errors.Is(err, store.ErrInvalidCursor) {
		s.writeError(w, http.StatusBadRequest, "invalid page_token")
		return
	}
	if err != nil {
		s.logger.Error("list runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	if runs == nil {
		runs = []*model.Run{}
	}
	s.writeJSON(w, http.StatusOK, listRunsResponse{Runs: runs, NextPageToken: nextToken})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	run, tasks, err := s.ctrl.GetDetail(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("get run", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get run")
		return
	}

	if tasks == nil {
		tasks = []model.Task{}
	}
	s.writeJSON(w, http.StatusOK, runDetailResponse{Run: run, Tasks: tasks})
}

func (s *Server) handleGetRunStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	state, err := s.ctrl.GetStatus(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("get run status", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get run status")
		return
	}

	s.writeJSON(w, http.StatusOK, runStatusResponse{RunID: id, State: state})
}

func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	state, err := s.ctrl.Cancel(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("cancel run", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to cancel run")
		return
	}

	if s.notifier != nil {
		s.notifier.Notify(id)
	}

	s.writeJSON(w, http.StatusOK, runStatusResponse{RunID: id, State: state})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// isJSONObject reports whether raw is a complete JSON object. Scalars,
// arrays, and truncated documents (all valid or partially valid JSON) are
// rejected: workflow params are always a key/value mapping.
func isJSONObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(raw)
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
