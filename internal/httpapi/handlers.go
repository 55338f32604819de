package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"citegraph/internal/faults"
	"citegraph/internal/rag"
)

type ingestRequest struct {
	URL      string `json:"url"`
	Priority *int   `json:"priority,omitempty"`
}

type ingestResponse struct {
	JobID     string `json:"job_id"`
	StatusURL string `json:"status_url"`
	StreamURL string `json:"stream_url"`
}

type queryRequest struct {
	Query   string            `json:"query"`
	K       int               `json:"k,omitempty"`
	Filters map[string]string `json:"filters,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	priority := 5
	if req.Priority != nil {
		priority = *req.Priority
	}
	jobID, err := s.manager.Submit(r.Context(), req.URL, priority)
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ingestResponse{
		JobID:     jobID,
		StatusURL: "/jobs/" + jobID,
		StreamURL: "/jobs/" + jobID + "/stream",
	})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("jobID")
	job, ok, err := s.manager.Status(r.Context(), jobID)
	if err != nil {
		writeFault(w, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown job %s", jobID))
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Cancel(r.Context(), r.PathValue("jobID")); err != nil {
		writeFault(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleJobRetry(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Retry(r.Context(), r.PathValue("jobID"), true); err != nil {
		writeFault(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	ans, err := s.resolver.Query(r.Context(), req.Query, rag.Options{K: req.K, Filters: req.Filters})
	if err != nil {
		writeFault(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ans)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeFault maps error kinds to HTTP statuses: validation → 400,
// data_integrity → 422, cancelled → 409, transient → 503.
func writeFault(w http.ResponseWriter, err error) {
	var f *faults.Fault
	status := http.StatusInternalServerError
	if errors.As(err, &f) {
		switch f.Kind {
		case faults.Validation:
			status = http.StatusBadRequest
		case faults.DataIntegrity:
			status = http.StatusUnprocessableEntity
		case faults.Cancelled:
			status = http.StatusConflict
		case faults.Transient:
			status = http.StatusServiceUnavailable
		}
	}
	writeError(w, status, err)
}
