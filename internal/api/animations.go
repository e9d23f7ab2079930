package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/sketchmotion/internal/domain"
	"github.com/ashureev/sketchmotion/internal/events"
	"github.com/ashureev/sketchmotion/internal/identity"
	"github.com/ashureev/sketchmotion/internal/pipeline"
)

const maxRequestBody = 64 << 10

// RegisterRoutes registers the API routes. Callers install the identity
// middleware on r first.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)

	r.Route("/api", func(r chi.Router) {
		r.Get("/config", h.GetConfig)
		r.Get("/suggestions", h.ListSuggestions)

		r.Route("/animations", func(r chi.Router) {
			r.Get("/", h.ListAnimations)
			r.With(h.rateLimit).Post("/", h.CreateAnimation)
			r.Get("/{id}", h.GetAnimation)
			r.Delete("/{id}", h.DeleteAnimation)
			r.Get("/{id}/video", h.GetVideo)
			r.Get("/{id}/events", h.StreamEvents)
		})
	})

	r.Get("/ws/animations/{id}", h.StreamWebSocket)
}

func (h *Handler) rateLimit(next http.Handler) http.Handler {
	if h.opts.RateLimit == nil {
		return next
	}
	return h.opts.RateLimit(next)
}

// Health reports the status of the database and renderer.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(h.opts.Health))
	for _, c := range h.opts.Health {
		if err := c.Check(ctx); err != nil {
			slog.Warn("Health check failed", "check", c.Name, "error", err)
			checks[c.Name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[c.Name] = "ok"
	}

	overall := "ok"
	if status != http.StatusOK {
		overall = "degraded"
	}
	JSON(w, status, map[string]any{"status": overall, "checks": checks})
}

// GetConfig returns the server configuration for the frontend.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, h.opts.Info)
}

// ListSuggestions returns the suggestion shortcuts.
func (h *Handler) ListSuggestions(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]any{"suggestions": h.svc.Suggestions()})
}

// CreateAnimation starts a job and returns it with 202 Accepted.
func (h *Handler) CreateAnimation(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	var req pipeline.Request
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := h.svc.Submit(r.Context(), userID, req)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	w.Header().Set("Location", "/api/animations/"+job.ID)
	JSON(w, http.StatusAccepted, h.view(job))
}

// ListAnimations returns the caller's recent jobs.
func (h *Handler) ListAnimations(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())

	limit := h.opts.HistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = min(n, h.opts.HistoryLimit)
	}

	jobs, err := h.svc.List(r.Context(), userID, limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	views := make([]animationView, 0, len(jobs))
	for _, j := range jobs {
		views = append(views, h.view(j))
	}
	JSON(w, http.StatusOK, map[string]any{"animations": views})
}

// GetAnimation returns one job.
func (h *Handler) GetAnimation(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookup(w, r)
	if !ok {
		return
	}
	JSON(w, http.StatusOK, h.view(job))
}

// DeleteAnimation discards a finished job and its video.
func (h *Handler) DeleteAnimation(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if err := h.svc.Discard(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetVideo serves the rendered MP4 with range support.
func (h *Handler) GetVideo(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookup(w, r)
	if !ok {
		return
	}
	path := h.svc.VideoPath(job)
	if path == "" {
		Error(w, http.StatusNotFound, "video not available")
		return
	}

	f, err := os.Open(path)
	if err != nil {
		slog.Error("Failed to open video", "job_id", job.ID, "path", path, "error", err)
		Error(w, http.StatusNotFound, "video not available")
		return
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		Error(w, http.StatusInternalServerError, "failed to read video")
		return
	}
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	http.ServeContent(w, r, job.ID+".mp4", info.ModTime(), f)
}

// StreamEvents streams job progress as server-sent events.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookup(w, r)
	if !ok {
		return
	}
	events.ServeSSE(w, r, h.svc.Broker(), pipeline.Snapshot(job), h.opts.Stream)
}

// StreamWebSocket streams job progress over a WebSocket.
func (h *Handler) StreamWebSocket(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookup(w, r)
	if !ok {
		return
	}
	events.ServeWebSocket(w, r, h.svc.Broker(), pipeline.Snapshot(job), h.opts.OriginPatterns, h.opts.Stream)
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*domain.Job, bool) {
	userID := identity.UserIDFromContext(r.Context())
	job, err := h.svc.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return nil, false
	}
	return job, true
}

type animationView struct {
	*domain.Job
	VideoURL  string  `json:"video_url,omitempty"`
	EventsURL string  `json:"events_url"`
	ElapsedS  float64 `json:"elapsed_seconds"`
}

func (h *Handler) view(job *domain.Job) animationView {
	v := animationView{
		Job:       job,
		EventsURL: "/api/animations/" + job.ID + "/events",
		ElapsedS:  job.Elapsed(time.Now()).Seconds(),
	}
	if job.HasVideo() {
		v.VideoURL = "/api/animations/" + job.ID + "/video"
	}
	return v
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pipeline.ErrEmptyPrompt),
		errors.Is(err, pipeline.ErrPromptTooLong),
		errors.Is(err, pipeline.ErrInvalidQuality):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, pipeline.ErrJobNotFound):
		Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, pipeline.ErrJobInProgress), errors.Is(err, pipeline.ErrJobRunning):
		Error(w, http.StatusConflict, err.Error())
	case errors.Is(err, pipeline.ErrClosed):
		Error(w, http.StatusServiceUnavailable, err.Error())
	default:
		slog.Error("Animation request failed", "error", err)
		Error(w, http.StatusInternalServerError, "internal error")
	}
}
