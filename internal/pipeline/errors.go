package pipeline

import (
	"errors"
	"fmt"

	"github.com/ashureev/sketchmotion/internal/domain"
)

var (
	ErrEmptyPrompt    = errors.New("empty prompt")
	ErrPromptTooLong  = errors.New("prompt too long")
	ErrInvalidQuality = errors.New("invalid quality")
	ErrJobInProgress  = errors.New("an animation is already being generated")
	ErrJobNotFound    = errors.New("animation not found")
	ErrJobRunning     = errors.New("animation is still being generated")
	ErrClosed         = errors.New("pipeline is shut down")
)

// StageError records which pipeline stage failed.
type StageError struct {
	Stage domain.Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
