// Package web serves the server-rendered SketchMotion pages.
package web

import (
	"context"
	"embed"
	"errors"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/sketchmotion/internal/domain"
	"github.com/ashureev/sketchmotion/internal/identity"
	"github.com/ashureev/sketchmotion/internal/pipeline"
	"github.com/ashureev/sketchmotion/internal/prompt"
)

//go:embed templates/*.tmpl static/*
var assets embed.FS

const emptyPromptWarning = "Empty prompt! Please type a description or click a suggestion, then hit 'Generate!'. 🤔"

// Service is the part of the pipeline the pages use.
type Service interface {
	Submit(ctx context.Context, userID string, req pipeline.Request) (*domain.Job, error)
	Get(ctx context.Context, userID, id string) (*domain.Job, error)
	List(ctx context.Context, userID string, limit int) ([]*domain.Job, error)
	Discard(ctx context.Context, userID, id string) error
	Suggestions() []prompt.Suggestion
}

// Server renders the prompt form and animation pages.
type Server struct {
	templates *template.Template
	svc       Service
	static    http.Handler
	qualities []domain.Quality
	quality   domain.Quality
	history   int
	limit     func(http.Handler) http.Handler
}

// Options configures the pages.
type Options struct {
	DefaultQuality domain.Quality
	HistoryLimit   int
	// RateLimit wraps the generate form handler when set.
	RateLimit func(http.Handler) http.Handler
}

// HistoryRow is one entry in the recent animations list.
type HistoryRow struct {
	ID      string
	Prompt  string
	Status  domain.JobStatus
	Created string
}

// IndexView is the data for the prompt form page.
type IndexView struct {
	Prompt      string
	Warning     string
	Suggestions []prompt.Suggestion
	Qualities   []domain.Quality
	Quality     domain.Quality
	History     []HistoryRow
}

// AnimationView is the data for a single animation page.
type AnimationView struct {
	Job      *domain.Job
	Done     bool
	Failed   bool
	VideoURL string
	Elapsed  string
}

// NewServer parses the embedded templates and returns a Server backed by svc.
func NewServer(svc Service, opts Options) (*Server, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"statusClass": statusClass,
	}).ParseFS(assets, "templates/*.tmpl")
	if err != nil {
		return nil, err
	}
	staticRoot, err := fs.Sub(assets, "static")
	if err != nil {
		return nil, err
	}
	if opts.DefaultQuality == "" {
		opts.DefaultQuality = domain.QualityLow
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 10
	}
	if opts.RateLimit == nil {
		opts.RateLimit = func(h http.Handler) http.Handler { return h }
	}
	return &Server{
		templates: tmpl,
		svc:       svc,
		static:    http.StripPrefix("/static/", http.FileServer(http.FS(staticRoot))),
		qualities: domain.Qualities,
		quality:   opts.DefaultQuality,
		history:   opts.HistoryLimit,
		limit:     opts.RateLimit,
	}, nil
}

// RegisterRoutes registers the page routes. Identity middleware must already
// be installed on r.
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Get("/", s.HandleIndex)
	r.With(s.limit).Post("/generate", s.HandleGenerate)
	r.Get("/animations/{id}", s.HandleAnimation)
	r.Post("/animations/{id}/discard", s.HandleDiscard)
	r.Handle("/static/*", s.static)
}

// HandleIndex shows the prompt form, prefilled when ?suggestion= names a shortcut.
func (s *Server) HandleIndex(w http.ResponseWriter, r *http.Request) {
	view := IndexView{}
	if label := r.URL.Query().Get("suggestion"); label != "" {
		if sg, ok := s.lookup(label); ok {
			view.Prompt = sg.Prompt
		}
	}
	s.renderIndex(w, r, http.StatusOK, view)
}

// HandleGenerate submits the form and redirects to the new animation.
func (s *Server) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	userID := identity.UserIDFromContext(r.Context())
	req := pipeline.Request{
		Prompt:  r.FormValue("prompt"),
		Quality: r.FormValue("quality"),
	}

	job, err := s.svc.Submit(r.Context(), userID, req)
	if err != nil {
		view := IndexView{Prompt: strings.TrimSpace(req.Prompt), Quality: domain.Quality(req.Quality)}
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, pipeline.ErrEmptyPrompt):
			view.Warning = emptyPromptWarning
		case errors.Is(err, pipeline.ErrPromptTooLong), errors.Is(err, pipeline.ErrInvalidQuality):
			view.Warning = capitalize(err.Error()) + "."
		case errors.Is(err, pipeline.ErrJobInProgress):
			view.Warning = "An animation is already being generated. Please wait for it to finish."
			status = http.StatusConflict
		default:
			slog.Error("Failed to submit animation", "user_id", userID, "error", err)
			view.Warning = "Something went wrong starting your animation. Please try again."
			status = http.StatusInternalServerError
		}
		s.renderIndex(w, r, status, view)
		return
	}

	http.Redirect(w, r, "/animations/"+job.ID, http.StatusSeeOther)
}

// HandleAnimation shows a job's status, video, output and code.
func (s *Server) HandleAnimation(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	job, err := s.svc.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		s.notFound(w, err)
		return
	}
	view := AnimationView{
		Job:     job,
		Done:    job.Status.IsTerminal(),
		Failed:  job.Status == domain.JobFailed,
		Elapsed: job.Elapsed(time.Now()).Round(100 * time.Millisecond).String(),
	}
	if job.HasVideo() {
		view.VideoURL = "/api/animations/" + job.ID + "/video"
	}
	s.execute(w, http.StatusOK, "animation", view)
}

// HandleDiscard clears the current animation and returns to an empty form.
func (s *Server) HandleDiscard(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	err := s.svc.Discard(r.Context(), userID, chi.URLParam(r, "id"))
	switch {
	case err == nil, errors.Is(err, pipeline.ErrJobNotFound):
	case errors.Is(err, pipeline.ErrJobRunning):
		http.Redirect(w, r, "/animations/"+chi.URLParam(r, "id"), http.StatusSeeOther)
		return
	default:
		slog.Error("Failed to discard animation", "user_id", userID, "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) renderIndex(w http.ResponseWriter, r *http.Request, status int, view IndexView) {
	view.Suggestions = s.svc.Suggestions()
	view.Qualities = s.qualities
	if view.Quality == "" {
		view.Quality = s.quality
	}

	userID := identity.UserIDFromContext(r.Context())
	jobs, err := s.svc.List(r.Context(), userID, s.history)
	if err != nil {
		slog.Warn("Failed to load history", "user_id", userID, "error", err)
	}
	for _, j := range jobs {
		view.History = append(view.History, HistoryRow{
			ID:      j.ID,
			Prompt:  j.Prompt,
			Status:  j.Status,
			Created: j.CreatedAt.Format("Jan 2 15:04"),
		})
	}
	s.execute(w, status, "index", view)
}

func (s *Server) execute(w http.ResponseWriter, status int, name string, data any) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := s.templates.ExecuteTemplate(w, name, data); err != nil {
		slog.Error("Failed to render page", "template", name, "error", err)
	}
}

func (s *Server) notFound(w http.ResponseWriter, err error) {
	if !errors.Is(err, pipeline.ErrJobNotFound) {
		slog.Error("Failed to load animation", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	s.execute(w, http.StatusNotFound, "not_found", nil)
}

func (s *Server) lookup(label string) (prompt.Suggestion, bool) {
	for _, sg := range s.svc.Suggestions() {
		if strings.EqualFold(sg.Label, strings.TrimSpace(label)) {
			return sg, true
		}
	}
	return prompt.Suggestion{}, false
}

func statusClass(s domain.JobStatus) string {
	switch s {
	case domain.JobSucceeded:
		return "ok"
	case domain.JobFailed:
		return "err"
	default:
		return "busy"
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
