package httpadapter

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/PabloGalante/deckflow-agent/internal/app/jobs"
	"github.com/PabloGalante/deckflow-agent/internal/domain"
	"github.com/PabloGalante/deckflow-agent/internal/observability"
)

type Server struct {
	svc *jobs.Service
}

type Options struct {
	// CORSOrigin is the allowed browser origin; empty means "*".
	CORSOrigin string
}

func NewServer(svc *jobs.Service, opts Options) http.Handler {
	s := &Server{svc: svc}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(withRequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(withCORS(opts.CORSOrigin))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/jobs", s.handleCreateJob)
		r.Get("/jobs/{jobID}", s.handleGetJob)
		r.Get("/events/{jobID}", s.handleEvents)
		r.Post("/pushDummy", s.handlePushDummy)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		methodNotAllowed(w)
	})

	return r
}

// ─────────────────────────────────────────────
// DTOs (request/response)
// ─────────────────────────────────────────────

type createJobRequest struct {
	Prompt    string   `json:"prompt"`
	Audiences []string `json:"audiences"`
}

type createJobResponse struct {
	JobID string `json:"jobId"`
}

type jobResponse struct {
	JobID     string       `json:"jobId"`
	Prompt    string       `json:"prompt"`
	Audiences []string     `json:"audiences"`
	Status    string       `json:"status"`
	Stage     string       `json:"stage,omitempty"`
	Error     string       `json:"error,omitempty"`
	Slides    slidesCounts `json:"slides"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

type slidesCounts struct {
	Total     int `json:"total"`
	Published int `json:"published"`
	Failed    int `json:"failed"`
}

type pushDummyRequest struct {
	JobID   string `json:"jobId"`
	Payload any    `json:"payload"`
}

// ─────────────────────────────────────────────
// Handlers
// ─────────────────────────────────────────────

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "deckflow agent api"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	out, err := s.svc.CreateJob(r.Context(), jobs.CreateJobInput{
		Prompt:    req.Prompt,
		Audiences: req.Audiences,
	})
	if err != nil {
		if errors.Is(err, jobs.ErrInvalidRequest) {
			badRequest(w, err.Error())
			return
		}
		internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, createJobResponse{JobID: string(out.JobID)})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := domain.JobID(chi.URLParam(r, "jobID"))

	job, err := s.svc.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
			return
		}
		internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toJobResponse(job))
}

// handleEvents streams the job's event log as server-sent events until the
// client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := domain.JobID(chi.URLParam(r, "jobID"))
	log := observability.LoggerFromContext(r.Context()).With("job_id", id)

	flusher, ok := w.(http.Flusher)
	if !ok {
		internalError(w, r, errors.New("streaming unsupported"))
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log.Info("subscriber connected")
	sent := 0
	for payload, err := range s.svc.Subscribe(r.Context(), id) {
		if err != nil {
			log.Error("subscription failed", "error", err)
			return
		}
		if err := writeSSE(w, payload); err != nil {
			log.Info("subscriber write failed", "error", err, "frames", sent)
			return
		}
		flusher.Flush()
		sent++
	}
	log.Info("subscriber disconnected", "frames", sent)
}

func (s *Server) handlePushDummy(w http.ResponseWriter, r *http.Request) {
	var req pushDummyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}

	if err := s.svc.PushDiagnostic(r.Context(), domain.JobID(req.JobID), req.Payload); err != nil {
		if errors.Is(err, jobs.ErrInvalidRequest) {
			badRequest(w, err.Error())
			return
		}
		internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ─────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────

func toJobResponse(j *domain.Job) jobResponse {
	audiences := j.Audiences
	if audiences == nil {
		audiences = []string{}
	}
	return jobResponse{
		JobID:     string(j.ID),
		Prompt:    j.Prompt,
		Audiences: audiences,
		Status:    string(j.Status),
		Stage:     j.Stage,
		Error:     j.Error,
		Slides: slidesCounts{
			Total:     j.SlidesTotal,
			Published: j.SlidesPublished,
			Failed:    j.SlidesFailed,
		},
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{
		"error": msg,
	})
}

func internalError(w http.ResponseWriter, r *http.Request, err error) {
	observability.LoggerFromContext(r.Context()).Error("request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{
		"error": "internal server error",
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{
		"error": "method not allowed",
	})
}
