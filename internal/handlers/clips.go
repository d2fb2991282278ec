package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	dbpkg "autoclipper/internal/db"
	"autoclipper/internal/httpx"
)

type clipPreviewResponse struct {
	ClipID        string         `json:"clip_id"`
	FilePath      string         `json:"file_path"`
	ThumbnailPath string         `json:"thumbnail_path"`
	Metadata      map[string]any `json:"metadata"`
}

func (s *Server) clipsByJobHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "id")
		job, err := dbpkg.GetJob(r.Context(), s.DB, jobID)
		if err != nil {
			httpx.Write(w, r, httpx.Internal(err))
			return
		}
		if job == nil {
			httpx.Write(w, r, httpx.NotFound("job not found"))
			return
		}
		clips, err := dbpkg.ClipsByJob(r.Context(), s.DB, jobID)
		if err != nil {
			httpx.Write(w, r, httpx.Internal(err))
			return
		}
		respondJSON(w, http.StatusOK, clips)
	}
}

func (s *Server) clipPreviewHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clipID := chi.URLParam(r, "id")
		clip, err := dbpkg.GetClip(r.Context(), s.DB, clipID)
		if err != nil {
			httpx.Write(w, r, httpx.Internal(err))
			return
		}
		if clip == nil {
			httpx.Write(w, r, httpx.NotFound("clip not found"))
			return
		}
		meta := map[string]any{}
		if clip.MetadataJSON != "" {
			if err := json.Unmarshal([]byte(clip.MetadataJSON), &meta); err != nil {
				meta = map[string]any{}
			}
		}
		respondJSON(w, http.StatusOK, clipPreviewResponse{
			ClipID:        clip.ID,
			FilePath:      clip.FilePath,
			ThumbnailPath: clip.ThumbnailPath,
			Metadata:      meta,
		})
	}
}
