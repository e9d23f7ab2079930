// Package render runs Manim against generated scene code and collects the
// resulting video.
package render

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ashureev/sketchmotion/internal/domain"
)

// Error kinds. Match them with errors.Is.
var (
	ErrUnavailable   = errors.New("renderer unavailable")
	ErrExit          = errors.New("renderer exited with an error")
	ErrTimeout       = errors.New("renderer timed out")
	ErrVideoNotFound = errors.New("rendered video not found")
)

// Renderer turns a scene into a video file.
type Renderer interface {
	Render(ctx context.Context, job Job) (*Result, error)
	// Check reports whether the renderer can currently run jobs.
	Check(ctx context.Context) error
	Name() string
}

// Job describes one render.
type Job struct {
	// ID names the workspace and the script stem.
	ID        string
	Code      string
	SceneName string
	Quality   domain.Quality
	// OutputPath is where the finished video is moved.
	OutputPath string
	// OnOutput, if set, receives each output line as it is produced.
	// It is called from more than one goroutine.
	OnOutput func(stream, line string)
}

// Result describes a successful render.
type Result struct {
	VideoPath string
	Stdout    string
	Stderr    string
	Duration  time.Duration
}

// Error is returned by renderers for every failure of the renderer itself.
type Error struct {
	Kind     error
	ExitCode int
	Stdout   string
	Stderr   string
	Detail   string
}

func (e *Error) Error() string {
	switch {
	case errors.Is(e.Kind, ErrExit):
		return fmt.Sprintf("manim execution failed (exit code %d)", e.ExitCode)
	case e.Detail != "":
		return e.Kind.Error() + ": " + e.Detail
	default:
		return e.Kind.Error()
	}
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func (j Job) validate() error {
	if j.ID == "" {
		return fmt.Errorf("render job has no id")
	}
	if j.SceneName == "" {
		return fmt.Errorf("render job %s has no scene name", j.ID)
	}
	if j.OutputPath == "" {
		return fmt.Errorf("render job %s has no output path", j.ID)
	}
	return nil
}

func (j Job) emit(stream, line string) {
	if j.OnOutput != nil {
		j.OnOutput(stream, line)
	}
}
