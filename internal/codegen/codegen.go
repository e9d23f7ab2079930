// Package codegen turns a rendered prompt into Manim source code using a
// hosted language model.
package codegen

import (
	"context"
	"errors"
	"fmt"

	"github.com/ashureev/sketchmotion/internal/config"
)

var (
	// ErrEmptyResponse is returned when the model replies with no text.
	ErrEmptyResponse = errors.New("model returned an empty response")
	// ErrNoCode is returned when no code can be extracted from the reply.
	ErrNoCode = errors.New("no code found in model response")
	// ErrNoScene is returned when the code declares no Scene subclass.
	ErrNoScene = errors.New("could not find a Scene class in generated code")
)

// Generator sends a prompt to a model and returns the raw reply text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Provider() string
	Model() string
}

// NewGenerator builds the generator selected by cfg.Provider.
func NewGenerator(ctx context.Context, cfg config.LLMConfig) (Generator, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		return NewGemini(ctx, GeminiOptions{
			APIKey:      cfg.GeminiAPIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
		})
	case config.ProviderOpenAI:
		return NewOpenAI(OpenAIOptions{
			APIKey:      cfg.OpenAIAPIKey,
			BaseURL:     cfg.OpenAIBaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
		})
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
}
