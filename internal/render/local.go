package render

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os/exec"
	"time"
)

const localWaitDelay = 2 * time.Second

// LocalOptions configures the subprocess renderer.
type LocalOptions struct {
	Bin     string
	WorkDir string
	Timeout time.Duration
}

// Local runs Manim as a child process.
type Local struct {
	bin     string
	workDir string
	timeout time.Duration
}

// NewLocal creates a subprocess renderer.
func NewLocal(opts LocalOptions) *Local {
	if opts.Bin == "" {
		opts.Bin = "manim"
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	return &Local{bin: opts.Bin, workDir: opts.WorkDir, timeout: opts.Timeout}
}

// Name implements Renderer.
func (l *Local) Name() string { return "local" }

// Check implements Renderer.
func (l *Local) Check(_ context.Context) error {
	if _, err := exec.LookPath(l.bin); err != nil {
		return unavailable(l.bin, err)
	}
	return nil
}

// Render implements Renderer.
func (l *Local) Render(ctx context.Context, job Job) (*Result, error) {
	if err := job.validate(); err != nil {
		return nil, err
	}

	ws, err := newWorkspace(l.workDir, job)
	if err != nil {
		return nil, err
	}
	defer ws.remove()

	runCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	stdout := newCapture("stdout", job.emit)
	stderr := newCapture("stderr", job.emit)

	cmd := exec.CommandContext(runCtx, l.bin,
		job.Quality.Flag(), ws.script, job.SceneName, "--media_dir", ws.media)
	cmd.Dir = ws.dir
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = localWaitDelay

	slog.Debug("Starting manim", "job_id", job.ID, "scene", job.SceneName, "quality", job.Quality)
	start := time.Now()
	runErr := cmd.Run()
	stdout.Flush()
	stderr.Flush()
	elapsed := time.Since(start)

	if runErr != nil {
		if cmd.Process == nil {
			if errors.Is(runErr, exec.ErrNotFound) || errors.Is(runErr, fs.ErrNotExist) || errors.Is(runErr, fs.ErrPermission) {
				return nil, unavailable(l.bin, runErr)
			}
			return nil, fmt.Errorf("start manim: %w", runErr)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("render %s: %w", job.ID, ctx.Err())
		}
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return nil, &Error{
				Kind:   ErrTimeout,
				Stdout: stdout.String(),
				Stderr: stderr.String(),
				Detail: fmt.Sprintf("manim rendering timed out after %s; the animation might be too complex or long", l.timeout),
			}
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			return nil, &Error{
				Kind:     ErrExit,
				ExitCode: exitErr.ExitCode(),
				Stdout:   stdout.String(),
				Stderr:   stderr.String(),
			}
		}
		return nil, fmt.Errorf("run manim: %w", runErr)
	}

	res, err := finish(ws, job, stdout, stderr)
	if err != nil {
		return nil, err
	}
	res.Duration = elapsed
	return res, nil
}

func unavailable(bin string, err error) error {
	return &Error{
		Kind:   ErrUnavailable,
		Detail: fmt.Sprintf("manim command %q not found; please ensure Manim is installed and on PATH (%v)", bin, err),
	}
}
