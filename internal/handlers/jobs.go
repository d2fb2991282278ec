package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"autoclipper/internal/checkpoint"
	dbpkg "autoclipper/internal/db"
	"autoclipper/internal/httpx"
	"autoclipper/internal/jobs"
)

type jobCreateRequest struct {
	SourceURL  string `json:"source_url" validate:"required"`
	SourceType string `json:"source_type" validate:"required,oneof=youtube local"`
	UserID     string `json:"user_id"`
}

type jobReorderRequest struct {
	Index int `json:"index" validate:"gte=0"`
}

type jobStatusResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	ProgressPct  int    `json:"progress_pct"`
	CurrentStage string `json:"current_stage"`
	ErrorMsg     string `json:"error_msg"`
}

type queueActionResponse struct {
	ID       string `json:"id"`
	Accepted bool   `json:"accepted"`
}

func (s *Server) createJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowWrite(w, r) {
			return
		}
		var req jobCreateRequest
		if herr := decodeJSON(r, &req); herr != nil {
			httpx.Write(w, r, herr)
			return
		}
		if herr := validatePayload(&req); herr != nil {
			httpx.Write(w, r, herr)
			return
		}

		jobID := jobs.NewID()
		checkpointPath, err := s.Ckpt.Save(jobID, checkpoint.Record{
			JobID:        jobID,
			Status:       dbpkg.StatusQueued,
			CurrentStage: "queued",
			ProgressPct:  0,
			UpdatedAt:    time.Now().UTC().Format(time.RFC3339),
		})
		if err != nil {
			httpx.Write(w, r, httpx.Internal(err))
			return
		}

		job := &dbpkg.Job{
			ID:             jobID,
			UserID:         req.UserID,
			SourceURL:      req.SourceURL,
			SourceType:     req.SourceType,
			Status:         dbpkg.StatusPending,
			CurrentStage:   "created",
			CheckpointPath: checkpointPath,
		}
		if err := dbpkg.InsertJob(r.Context(), s.DB, job); err != nil {
			httpx.Write(w, r, httpx.Internal(err))
			return
		}

		if !s.Queue.Enqueue(jobID) {
			httpx.Write(w, r, httpx.Conflict("job is already queued"))
			return
		}

		zero := 0
		updated, err := dbpkg.UpdateJobStatus(r.Context(), s.DB, jobID, dbpkg.JobUpdate{
			Status:         dbpkg.StatusQueued,
			CurrentStage:   strPtr("queued"),
			ProgressPct:    &zero,
			CheckpointPath: &checkpointPath,
		})
		if err != nil || updated == nil {
			httpx.Write(w, r, httpx.Internal(err))
			return
		}
		log.Info().Str("job", jobID).Str("source_type", req.SourceType).Msg("job created")
		respondJSON(w, http.StatusCreated, updated)
	}
}

func (s *Server) listJobsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := queryInt(r, "limit", 50, 1, 200)
		offset := queryInt(r, "offset", 0, 0, 1<<30)
		list, err := dbpkg.ListJobs(r.Context(), s.DB, limit, offset)
		if err != nil {
			httpx.Write(w, r, httpx.Internal(err))
			return
		}
		respondJSON(w, http.StatusOK, list)
	}
}

func (s *Server) getJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, herr := s.lookupJob(r)
		if herr != nil {
			httpx.Write(w, r, herr)
			return
		}
		respondJSON(w, http.StatusOK, job)
	}
}

func (s *Server) jobStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, herr := s.lookupJob(r)
		if herr != nil {
			httpx.Write(w, r, herr)
			return
		}
		respondJSON(w, http.StatusOK, jobStatusResponse{
			ID:           job.ID,
			Status:       job.Status,
			ProgressPct:  job.ProgressPct,
			CurrentStage: job.CurrentStage,
			ErrorMsg:     job.ErrorMsg,
		})
	}
}

func (s *Server) cancelJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowWrite(w, r) {
			return
		}
		job, herr := s.lookupJob(r)
		if herr != nil {
			httpx.Write(w, r, herr)
			return
		}
		accepted := s.Queue.Cancel(job.ID)
		if accepted {
			if _, err := dbpkg.UpdateJobStatus(r.Context(), s.DB, job.ID, dbpkg.JobUpdate{
				Status:       dbpkg.StatusCanceled,
				CurrentStage: strPtr("canceled"),
				ProgressPct:  &job.ProgressPct,
				ErrorMsg:     strPtr("Canceled by user"),
			}); err != nil {
				httpx.Write(w, r, httpx.Internal(err))
				return
			}
		}
		respondJSON(w, http.StatusOK, queueActionResponse{ID: job.ID, Accepted: accepted})
	}
}

func (s *Server) reorderJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !allowWrite(w, r) {
			return
		}
		job, herr := s.lookupJob(r)
		if herr != nil {
			httpx.Write(w, r, herr)
			return
		}
		var req jobReorderRequest
		if herr := decodeJSON(r, &req); herr != nil {
			httpx.Write(w, r, herr)
			return
		}
		if herr := validatePayload(&req); herr != nil {
			httpx.Write(w, r, herr)
			return
		}
		accepted := s.Queue.Reorder(job.ID, req.Index)
		respondJSON(w, http.StatusOK, queueActionResponse{ID: job.ID, Accepted: accepted})
	}
}

func (s *Server) queueSnapshotHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, s.Queue.SnapshotState())
	}
}

func (s *Server) lookupJob(r *http.Request) (*dbpkg.Job, *httpx.HTTPError) {
	id := chi.URLParam(r, "id")
	job, err := dbpkg.GetJob(r.Context(), s.DB, id)
	if err != nil {
		return nil, httpx.Internal(err)
	}
	if job == nil {
		return nil, httpx.NotFound("job not found")
	}
	return job, nil
}

func queryInt(r *http.Request, key string, def, min, max int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < min {
		return def
	}
	if n > max {
		return max
	}
	return n
}

func strPtr(s string) *string { return &s }
