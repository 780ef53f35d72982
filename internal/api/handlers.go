package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fpang/photo-intelligence/internal/feed"
	"github.com/fpang/photo-intelligence/internal/jobs"
	"github.com/fpang/photo-intelligence/internal/jobutil"
	"github.com/fpang/photo-intelligence/internal/pipeline"
)

// Job listing limits.
const (
	defaultJobListLimit = 50
	maxJobListLimit     = 500
)

const maxBodyBytes = 16 << 10

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := feed.Request{
		Mode:   feed.Mode(q.Get("mode")),
		Seed:   q.Get("seed"),
		Cursor: q.Get("cursor"),
	}
	var err error
	if req.Limit, err = intParam(q.Get("limit")); err != nil {
		httpError(w, http.StatusBadRequest, "limit must be an integer")
		return
	}
	if req.Year, err = intParam(q.Get("year")); err != nil {
		httpError(w, http.StatusBadRequest, "year must be an integer")
		return
	}

	resp, err := s.feed.GetNostalgiaFeed(r.Context(), userFrom(r.Context()), req)
	if err != nil {
		if errors.Is(err, feed.ErrInvalidRequest) {
			httpError(w, http.StatusBadRequest, err.Error())
			return
		}
		httpError(w, http.StatusInternalServerError, "feed unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, resp)
}

type enqueueRequest struct {
	PhotoID string `json:"photoId" validate:"required,max=128"`
}

func (s *Server) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		httpError(w, http.StatusBadRequest, "photoId is required")
		return
	}

	userID := userFrom(r.Context())
	p, err := s.photos.GetByID(r.Context(), req.PhotoID)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "photo lookup failed", err.Error())
		return
	}
	if p == nil || p.UserID != userID {
		httpError(w, http.StatusNotFound, "photo not found")
		return
	}

	job, err := s.queue.Enqueue(r.Context(), p.ID, userID)
	if errors.Is(err, pipeline.ErrJobLeased) {
		httpError(w, http.StatusConflict, "job is being processed")
		return
	}
	if err != nil {
		httpError(w, http.StatusInternalServerError, "enqueue failed", err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := pipeline.Status(q.Get("status"))
	if status == "" {
		status = pipeline.StatusFailed
	}
	if !status.Valid() {
		httpError(w, http.StatusBadRequest, "invalid status")
		return
	}
	limit, err := intParam(q.Get("limit"))
	if err != nil || limit < 0 || limit > maxJobListLimit {
		httpError(w, http.StatusBadRequest, "limit must be between 1 and 500")
		return
	}
	if limit == 0 {
		limit = defaultJobListLimit
	}

	all, err := s.queue.ListByStatus(r.Context(), status, limit)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "list jobs failed", err.Error())
		return
	}
	userID := userFrom(r.Context())
	owned := make([]*pipeline.Job, 0, len(all))
	for _, j := range all {
		if j.UserID == userID {
			owned = append(owned, j)
		}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"jobs": owned})
}

func (s *Server) handleJobByPhoto(w http.ResponseWriter, r *http.Request) {
	photoID := chi.URLParam(r, "photoId")
	job, err := s.queue.GetJobByPhoto(r.Context(), photoID)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "job lookup failed", err.Error())
		return
	}
	if job == nil || job.UserID != userFrom(r.Context()) {
		httpError(w, http.StatusNotFound, "job not found")
		return
	}
	respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleRequeue(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	if !jobs.ValidID(jobs.AIJobPrefix, jobID) {
		httpError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	job, err := s.queue.GetJob(r.Context(), jobID)
	if err != nil {
		httpError(w, http.StatusInternalServerError, "job lookup failed", err.Error())
		return
	}
	if job == nil || job.UserID != userFrom(r.Context()) {
		httpError(w, http.StatusNotFound, "job not found")
		return
	}
	if job.InFlight(s.now()) {
		httpError(w, http.StatusConflict, "job is being processed")
		return
	}
	if err := s.queue.Requeue(r.Context(), jobID); err != nil {
		switch {
		case errors.Is(err, pipeline.ErrJobLeased):
			httpError(w, http.StatusConflict, "job is being processed")
		case errors.Is(err, jobutil.ErrNotFound):
			httpError(w, http.StatusNotFound, "job not found")
		default:
			httpError(w, http.StatusInternalServerError, "requeue failed", err.Error())
		}
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"id": jobID, "status": string(pipeline.StatusPending)})
}

// intParam parses an optional integer query parameter; empty is 0.
func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
