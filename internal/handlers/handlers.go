// Package handlers exposes the HTTP and websocket surface of the service.
package handlers

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	rate "golang.org/x/time/rate"

	"autoclipper/internal/checkpoint"
	"autoclipper/internal/httpx"
	"autoclipper/internal/hub"
	"autoclipper/internal/queue"
	"autoclipper/internal/secrets"
	"autoclipper/internal/settings"
)

var validate = validator.New()

var writeLimiter = rate.NewLimiter(rate.Every(time.Second), 5)

// Server bundles the components the handlers operate on.
type Server struct {
	DB       *sql.DB
	Queue    *queue.Manager
	Ckpt     *checkpoint.Store
	Hub      *hub.Hub
	Settings *settings.Store
	Keys     *secrets.Manager
	Secrets  *secrets.Service
	ClipsDir string
}

// New builds the router with all HTTP handlers.
func New(s *Server) http.Handler {
	r := chi.NewRouter()
	r.Use(securityHeaders)
	r.Use(recordLatency)

	r.Post("/jobs", s.createJobHandler())
	r.Get("/jobs", s.listJobsHandler())
	r.Get("/jobs/{id}", s.getJobHandler())
	r.Get("/jobs/{id}/status", s.jobStatusHandler())
	r.Post("/jobs/{id}/cancel", s.cancelJobHandler())
	r.Post("/jobs/{id}/reorder", s.reorderJobHandler())
	r.Get("/queue", s.queueSnapshotHandler())

	r.Get("/clips/{id}", s.clipsByJobHandler())
	r.Get("/clips/{id}/preview", s.clipPreviewHandler())

	r.Get("/settings", s.getSettingsHandler())
	r.Put("/settings", s.updateSettingsHandler())
	r.Post("/settings/api-key", s.setAPIKeyHandler())

	r.Get("/ws/{job_id}", s.wsHandler())

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]any{
			"status":  "ok",
			"service": "autoclipper",
			"latency_ms": map[string]int64{
				"p50": latencyP50.Load(),
				"p95": latencyP95.Load(),
			},
		})
	})
	return r
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v interface{}) *httpx.HTTPError {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return httpx.BadRequest(err.Error())
	}
	return nil
}

func validatePayload(v interface{}) *httpx.HTTPError {
	if err := validate.Struct(v); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			fields := make(map[string]string, len(ve))
			for _, fe := range ve {
				fields[strings.ToLower(fe.Field())] = fe.Tag()
			}
			return httpx.BadRequest("validation failed").WithDetails(fields)
		}
		return httpx.Internal(err)
	}
	return nil
}

func allowWrite(w http.ResponseWriter, r *http.Request) bool {
	if !writeLimiter.Allow() {
		httpx.Write(w, r, httpx.TooManyRequests("too many write requests"))
		return false
	}
	return true
}
