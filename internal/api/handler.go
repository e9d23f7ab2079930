// Package api provides the JSON and streaming HTTP endpoints for animations.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/ashureev/sketchmotion/internal/domain"
	"github.com/ashureev/sketchmotion/internal/events"
	"github.com/ashureev/sketchmotion/internal/pipeline"
	"github.com/ashureev/sketchmotion/internal/prompt"
)

// AnimationService is the part of the pipeline the handlers drive.
type AnimationService interface {
	Submit(ctx context.Context, userID string, req pipeline.Request) (*domain.Job, error)
	Get(ctx context.Context, userID, id string) (*domain.Job, error)
	List(ctx context.Context, userID string, limit int) ([]*domain.Job, error)
	Discard(ctx context.Context, userID, id string) error
	VideoPath(job *domain.Job) string
	Suggestions() []prompt.Suggestion
	Broker() *events.Broker
}

// HealthCheck is a named dependency probe reported by /health.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// ServerInfo is what /api/config tells the frontend.
type ServerInfo struct {
	Provider        string           `json:"provider"`
	Model           string           `json:"model"`
	Renderer        string           `json:"renderer"`
	DefaultQuality  domain.Quality   `json:"default_quality"`
	Qualities       []domain.Quality `json:"qualities"`
	MaxPromptLength int              `json:"max_prompt_length"`
}

// Options configures a Handler.
type Options struct {
	Info    ServerInfo
	Health  []HealthCheck
	// RateLimit wraps animation creation when set.
	RateLimit func(http.Handler) http.Handler
	Stream  events.StreamOptions
	// OriginPatterns are the hosts allowed to open WebSocket streams.
	OriginPatterns []string
	HistoryLimit   int
}

// Handler serves the animation API.
type Handler struct {
	svc  AnimationService
	opts Options
}

// NewHandler creates a new Handler.
func NewHandler(svc AnimationService, opts Options) *Handler {
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 50
	}
	if len(opts.Info.Qualities) == 0 {
		opts.Info.Qualities = domain.Qualities
	}
	return &Handler{svc: svc, opts: opts}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
