package render

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"runtime"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

const (
	containerWorkDir = "/work"

	// Resource limits.
	memoryLimitBytes = 512 * 1024 * 1024 // 512MB
	cpuQuota         = 50000             // 0.5 CPU
	pidsLimit        = 256

	removeTimeout = 30 * time.Second
)

// DockerOptions configures the container renderer.
type DockerOptions struct {
	Image   string
	WorkDir string
	Timeout time.Duration
}

// Docker runs Manim inside a throwaway container with no network access.
// WorkDir must be a path the Docker daemon can bind-mount.
type Docker struct {
	cli     *client.Client
	image   string
	workDir string
	timeout time.Duration
}

// NewDocker creates a container renderer from the environment's Docker settings.
func NewDocker(opts DockerOptions) (*Docker, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 120 * time.Second
	}
	slog.Info("Docker client initialized", "image", opts.Image)
	return &Docker{cli: cli, image: opts.Image, workDir: opts.WorkDir, timeout: opts.Timeout}, nil
}

// Name implements Renderer.
func (d *Docker) Name() string { return "docker" }

// Check implements Renderer.
func (d *Docker) Check(ctx context.Context) error {
	if _, err := d.cli.Ping(ctx); err != nil {
		return &Error{Kind: ErrUnavailable, Detail: fmt.Sprintf("docker daemon unreachable: %v", err)}
	}
	return nil
}

// Close releases the Docker client.
func (d *Docker) Close() error {
	return d.cli.Close()
}

// Render implements Renderer.
func (d *Docker) Render(ctx context.Context, job Job) (*Result, error) {
	if err := job.validate(); err != nil {
		return nil, err
	}
	if err := d.ensureImage(ctx); err != nil {
		return nil, err
	}

	ws, err := newWorkspace(d.workDir, job)
	if err != nil {
		return nil, err
	}
	defer ws.remove()

	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	cfg, hostCfg := d.containerSpec(job, ws)
	resp, err := d.cli.ContainerCreate(runCtx, cfg, hostCfg, nil, nil, "sketchmotion-render-"+job.ID)
	if err != nil {
		return nil, fmt.Errorf("create render container: %w", err)
	}
	defer d.removeContainer(resp.ID)

	stdout := newCapture("stdout", job.emit)
	stderr := newCapture("stderr", job.emit)

	start := time.Now()
	if err := d.cli.ContainerStart(runCtx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("start render container %s: %w", resp.ID, err)
	}

	logsDone := make(chan struct{})
	go func() {
		defer close(logsDone)
		d.streamLogs(runCtx, resp.ID, stdout, stderr)
	}()

	statusCh, errCh := d.cli.ContainerWait(runCtx, resp.ID, container.WaitConditionNotRunning)
	var exitCode int64
	var waitErr error
	select {
	case status := <-statusCh:
		exitCode = status.StatusCode
		if status.Error != nil && status.Error.Message != "" {
			waitErr = fmt.Errorf("wait render container: %s", status.Error.Message)
		}
	case err := <-errCh:
		waitErr = err
	case <-runCtx.Done():
		waitErr = runCtx.Err()
	}

	if waitErr != nil {
		cancel()
	}
	<-logsDone
	stdout.Flush()
	stderr.Flush()
	elapsed := time.Since(start)

	if waitErr != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("render %s: %w", job.ID, ctx.Err())
		}
		if runCtx.Err() != nil {
			return nil, &Error{
				Kind:   ErrTimeout,
				Stdout: stdout.String(),
				Stderr: stderr.String(),
				Detail: fmt.Sprintf("manim rendering timed out after %s; the animation might be too complex or long", d.timeout),
			}
		}
		return nil, fmt.Errorf("wait render container %s: %w", resp.ID, waitErr)
	}
	if exitCode != 0 {
		return nil, &Error{
			Kind:     ErrExit,
			ExitCode: int(exitCode),
			Stdout:   stdout.String(),
			Stderr:   stderr.String(),
		}
	}

	res, err := finish(ws, job, stdout, stderr)
	if err != nil {
		return nil, err
	}
	res.Duration = elapsed
	return res, nil
}

func (d *Docker) containerSpec(job Job, ws *workspace) (*container.Config, *container.HostConfig) {
	script := path.Join(containerWorkDir, job.ID+".py")
	media := path.Join(containerWorkDir, "media")

	cfg := &container.Config{
		Image:      d.image,
		WorkingDir: containerWorkDir,
		Cmd:        []string{"manim", job.Quality.Flag(), script, job.SceneName, "--media_dir", media},
		Labels:     map[string]string{"sketchmotion.job": job.ID},
	}
	if u := hostUser(); u != "" {
		cfg.User = u
	}

	hostCfg := &container.HostConfig{
		NetworkMode: container.NetworkMode("none"),
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: ws.dir,
			Target: containerWorkDir,
		}},
		Resources: container.Resources{
			Memory:    memoryLimitBytes,
			CPUQuota:  cpuQuota,
			PidsLimit: ptr(int64(pidsLimit)),
		},
	}
	return cfg, hostCfg
}

func (d *Docker) ensureImage(ctx context.Context) error {
	_, err := d.cli.ImageInspect(ctx, d.image)
	if err == nil {
		return nil
	}
	if !errdefs.IsNotFound(err) {
		return &Error{Kind: ErrUnavailable, Detail: fmt.Sprintf("inspect image %s: %v", d.image, err)}
	}

	slog.Info("Pulling render image", "image", d.image)
	rc, err := d.cli.ImagePull(ctx, d.image, image.PullOptions{})
	if err != nil {
		return &Error{Kind: ErrUnavailable, Detail: fmt.Sprintf("pull image %s: %v", d.image, err)}
	}
	defer func() { _ = rc.Close() }()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return &Error{Kind: ErrUnavailable, Detail: fmt.Sprintf("pull image %s: %v", d.image, err)}
	}
	slog.Info("Render image pulled", "image", d.image)
	return nil
}

func (d *Docker) streamLogs(ctx context.Context, id string, stdout, stderr io.Writer) {
	rc, err := d.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		slog.Debug("Render container logs unavailable", "container_id", id, "error", err)
		return
	}
	defer func() { _ = rc.Close() }()
	if _, err := stdcopy.StdCopy(stdout, stderr, rc); err != nil && ctx.Err() == nil {
		slog.Debug("Render container log stream ended", "container_id", id, "error", err)
	}
}

// removeContainer force-removes the container. It runs on a fresh context so
// cleanup still happens after the render context is cancelled.
func (d *Docker) removeContainer(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), removeTimeout)
	defer cancel()

	err := d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true})
	switch {
	case err == nil:
		slog.Debug("Render container removed", "container_id", id)
	case errdefs.IsNotFound(err), strings.Contains(err.Error(), "is already in progress"):
	default:
		slog.Warn("Failed to remove render container", "container_id", id, "error", err)
	}
}

// hostUser maps the container user to the caller so files written into the
// bind mount stay removable.
func hostUser() string {
	if runtime.GOOS == "windows" {
		return ""
	}
	uid, gid := os.Getuid(), os.Getgid()
	if uid < 0 || gid < 0 {
		return ""
	}
	return fmt.Sprintf("%d:%d", uid, gid)
}

func ptr[T any](v T) *T {
	return &v
}
