// Package httpx provides the HTTP API for the mobiletester job system.
package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/mobiletester/mt-api/internal/core"
	"github.com/mobiletester/mt-api/internal/domain/model"
	apperrors "github.com/mobiletester/mt-api/internal/errors"
	"github.com/mobiletester/mt-api/internal/service"
)

const defaultListLimit = 20

// JobHandlers provides HTTP handlers for job operations.
type JobHandlers struct {
	Jobs    *service.JobOrchestrator
	Reports core.ReportRenderer
}

// jobListResponse is the payload for GET /api/jobs.
type jobListResponse struct {
	Jobs       []*model.Job    `json:"jobs"`
	Stats      *model.JobStats `json:"stats"`
	Pagination paginationInfo  `json:"pagination"`
}

type paginationInfo struct {
	Limit   int  `json:"limit"`
	HasMore bool `json:"has_more"`
}

// List handles GET /api/jobs: the caller's jobs, newest first, with
// aggregate per-status counts.
func (h *JobHandlers) List(w http.ResponseWriter, r *http.Request) {
	session := GetSessionFromContext(r.Context())

	q := &model.ListJobsQuery{OwnerID: session.UserID, Limit: defaultListLimit}
	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 1 {
			WriteError(w, ErrorParams{
				Code:    http.StatusBadRequest,
				ErrCode: "invalid_limit",
				Err:     fmt.Errorf("limit must be a positive integer, got %q", v),
			})
			return
		}
		q.Limit = limit
	}
	if v := r.URL.Query().Get("status"); v != "" {
		status := model.JobStatus(v)
		if !status.Valid() {
			WriteError(w, ErrorParams{
				Code:    http.StatusBadRequest,
				ErrCode: "invalid_status",
				Err:     fmt.Errorf("unknown status %q", v),
			})
			return
		}
		q.Status = &status
	}

	jobs, err := h.Jobs.List(r.Context(), q)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	stats, err := h.Jobs.Stats(r.Context(), session.UserID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}

	WriteJSON(w, http.StatusOK, jobListResponse{
		Jobs:  jobs,
		Stats: stats,
		Pagination: paginationInfo{
			Limit:   q.Limit,
			HasMore: len(jobs) == q.Limit,
		},
	})
}

// ListActive handles GET /api/admin/jobs/active: queued and running jobs
// across all owners, oldest first. Admin only.
func (h *JobHandlers) ListActive(w http.ResponseWriter, r *http.Request) {
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			WriteError(w, ErrorParams{
				Code:    http.StatusBadRequest,
				ErrCode: "invalid_limit",
				Err:     fmt.Errorf("limit must be a positive integer, got %q", v),
			})
			return
		}
		limit = n
	}

	jobs, err := h.Jobs.ListActive(r.Context(), limit)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	if jobs == nil {
		jobs = []*model.Job{}
	}
	WriteJSON(w, http.StatusOK, map[string][]*model.Job{"jobs": jobs})
}

// Get handles GET /api/jobs/{id}.
func (h *JobHandlers) Get(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadOwnJob(w, r)
	if !ok {
		return
	}
	WriteJSON(w, http.StatusOK, map[string]*model.Job{"job": job})
}

// Cancel handles POST /api/jobs/{id}/cancel. Cancelling a job that already
// reached a terminal state leaves it unchanged.
func (h *JobHandlers) Cancel(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadOwnJob(w, r)
	if !ok {
		return
	}

	job, err := h.Jobs.Cancel(r.Context(), job.ID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]*model.Job{"job": job})
}

// Delete handles DELETE /api/jobs/{id}. Only terminal jobs can be deleted.
func (h *JobHandlers) Delete(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadOwnJob(w, r)
	if !ok {
		return
	}

	if err := h.Jobs.Delete(r.Context(), job.ID); err != nil {
		WriteAppError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Report handles GET /api/jobs/{id}/report: a downloadable report document
// for a completed job.
func (h *JobHandlers) Report(w http.ResponseWriter, r *http.Request) {
	job, ok := h.loadOwnJob(w, r)
	if !ok {
		return
	}
	if job.Status != model.JobStatusCompleted {
		WriteError(w, ErrorParams{
			Code:    http.StatusConflict,
			ErrCode: "report_unavailable",
			Err:     errors.New("report is only available for completed jobs"),
		})
		return
	}

	doc, err := h.Reports.Render(job)
	if err != nil {
		WriteAppError(w, apperrors.Wrap(err, apperrors.ErrCodeInternal, "render report"))
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "test-report-"+job.ID+".txt"))
	w.Header().Set("Content-Length", strconv.Itoa(len(doc)))
	if _, err := w.Write(doc); err != nil {
		return
	}
}

// loadOwnJob resolves the {id} path value to a job the caller may access.
// Missing jobs yield 404; another user's job yields 403.
func (h *JobHandlers) loadOwnJob(w http.ResponseWriter, r *http.Request) (*model.Job, bool) {
	id := r.PathValue("id")
	if id == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_path",
			Err:     errors.New("job id is required"),
		})
		return nil, false
	}

	job, err := h.Jobs.Get(r.Context(), id)
	if err != nil {
		WriteAppError(w, err)
		return nil, false
	}

	session := GetSessionFromContext(r.Context())
	if job.OwnerID != session.UserID && !session.IsAdmin() {
		WriteError(w, ErrorParams{
			Code:    http.StatusForbidden,
			ErrCode: "forbidden",
			Err:     errors.New("unauthorized access to job"),
		})
		return nil, false
	}
	return job, true
}
