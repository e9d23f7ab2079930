package render

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/sketchmotion/internal/domain"
)

// writeFakeManim writes a shell script standing in for manim. It receives
// <flag> <script> <scene> --media_dir <dir>, like the real binary.
func writeFakeManim(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake manim needs a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "manim")
	script := "#!/bin/sh\nstem=$(basename \"$2\" .py)\n" + body + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake manim: %v", err)
	}
	return path
}

type lineRecorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *lineRecorder) record(stream, line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, stream+":"+line)
}

func (r *lineRecorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

func newJob(t *testing.T, id string) Job {
	t.Helper()
	return Job{
		ID:         id,
		Code:       "from manim import *\n\nclass Dot(Scene):\n    pass\n",
		SceneName:  "Dot",
		Quality:    domain.QualityLow,
		OutputPath: filepath.Join(t.TempDir(), "out", id+".mp4"),
	}
}

func TestLocalRenderSuccess(t *testing.T) {
	bin := writeFakeManim(t, `
echo "flag=$1 scene=$3"
echo "warning: slow" >&2
out="$5/videos/$stem/480p15"
mkdir -p "$out"
printf 'video-bytes' > "$out/$3.mp4"
`)
	workDir := t.TempDir()
	r := NewLocal(LocalOptions{Bin: bin, WorkDir: workDir, Timeout: 10 * time.Second})

	rec := &lineRecorder{}
	job := newJob(t, "job-ok")
	job.OnOutput = rec.record

	res, err := r.Render(context.Background(), job)
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	data, err := os.ReadFile(res.VideoPath)
	if err != nil {
		t.Fatalf("read video: %v", err)
	}
	if string(data) != "video-bytes" {
		t.Errorf("unexpected video content %q", data)
	}
	if res.VideoPath != job.OutputPath {
		t.Errorf("expected video at %s, got %s", job.OutputPath, res.VideoPath)
	}
	if !strings.Contains(res.Stdout, "flag=-ql scene=Dot") {
		t.Errorf("unexpected stdout %q", res.Stdout)
	}
	if !strings.Contains(res.Stderr, "warning: slow") {
		t.Errorf("unexpected stderr %q", res.Stderr)
	}
	if _, err := os.Stat(filepath.Join(workDir, "job-ok")); !os.IsNotExist(err) {
		t.Errorf("expected workspace to be removed, stat err = %v", err)
	}

	lines := rec.snapshot()
	want := map[string]bool{"stdout:flag=-ql scene=Dot": false, "stderr:warning: slow": false}
	for _, l := range lines {
		if _, ok := want[l]; ok {
			want[l] = true
		}
	}
	for l, seen := range want {
		if !seen {
			t.Errorf("expected live line %q, got %v", l, lines)
		}
	}
}

func TestLocalRenderFindsVideoInOtherFolder(t *testing.T) {
	bin := writeFakeManim(t, `
out="$5/videos/$stem/720p30"
mkdir -p "$out/partial_movie_files/$3"
printf 'partial' > "$out/partial_movie_files/$3/000.mp4"
printf 'video' > "$out/$3.mp4"
`)
	r := NewLocal(LocalOptions{Bin: bin, WorkDir: t.TempDir(), Timeout: 10 * time.Second})

	res, err := r.Render(context.Background(), newJob(t, "job-fallback"))
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	data, _ := os.ReadFile(res.VideoPath)
	if string(data) != "video" {
		t.Errorf("expected fallback video, got %q", data)
	}
}

func TestLocalRenderVideoNotFound(t *testing.T) {
	bin := writeFakeManim(t, `echo "pretending to render"`)
	r := NewLocal(LocalOptions{Bin: bin, WorkDir: t.TempDir(), Timeout: 10 * time.Second})

	_, err := r.Render(context.Background(), newJob(t, "job-missing"))
	if !errors.Is(err, ErrVideoNotFound) {
		t.Fatalf("expected ErrVideoNotFound, got %v", err)
	}
	var rerr *Error
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if !strings.Contains(rerr.Detail, "480p15") || !strings.Contains(rerr.Detail, "does not exist") {
		t.Errorf("expected listing detail, got %q", rerr.Detail)
	}
	if !strings.Contains(rerr.Stdout, "pretending to render") {
		t.Errorf("expected stdout on error, got %q", rerr.Stdout)
	}
}

func TestLocalRenderExitFailure(t *testing.T) {
	bin := writeFakeManim(t, `
echo "Traceback: NameError" >&2
exit 3
`)
	r := NewLocal(LocalOptions{Bin: bin, WorkDir: t.TempDir(), Timeout: 10 * time.Second})

	_, err := r.Render(context.Background(), newJob(t, "job-exit"))
	if !errors.Is(err, ErrExit) {
		t.Fatalf("expected ErrExit, got %v", err)
	}
	var rerr *Error
	errors.As(err, &rerr)
	if rerr.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", rerr.ExitCode)
	}
	if !strings.Contains(rerr.Stderr, "NameError") {
		t.Errorf("expected stderr captured, got %q", rerr.Stderr)
	}
	if !strings.Contains(err.Error(), "exit code 3") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestLocalRenderTimeout(t *testing.T) {
	bin := writeFakeManim(t, `
echo "started"
exec sleep 5
`)
	workDir := t.TempDir()
	r := NewLocal(LocalOptions{Bin: bin, WorkDir: workDir, Timeout: 300 * time.Millisecond})

	start := time.Now()
	_, err := r.Render(context.Background(), newJob(t, "job-slow"))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if time.Since(start) > 4*time.Second {
		t.Errorf("render was not killed promptly")
	}
	var rerr *Error
	errors.As(err, &rerr)
	if !strings.Contains(rerr.Stdout, "started") {
		t.Errorf("expected partial stdout, got %q", rerr.Stdout)
	}
	if _, err := os.Stat(filepath.Join(workDir, "job-slow")); !os.IsNotExist(err) {
		t.Errorf("expected workspace removed after timeout")
	}
}

func TestLocalRenderCancelled(t *testing.T) {
	bin := writeFakeManim(t, `exec sleep 5`)
	r := NewLocal(LocalOptions{Bin: bin, WorkDir: t.TempDir(), Timeout: 10 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err := r.Render(ctx, newJob(t, "job-cancel"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestLocalRenderMissingBinary(t *testing.T) {
	r := NewLocal(LocalOptions{Bin: filepath.Join(t.TempDir(), "no-manim"), WorkDir: t.TempDir()})

	_, err := r.Render(context.Background(), newJob(t, "job-nobin"))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if !strings.Contains(err.Error(), "ensure Manim is installed") {
		t.Errorf("unexpected message %q", err.Error())
	}
	if err := r.Check(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected Check to report unavailable, got %v", err)
	}
}

func TestRenderRejectsIncompleteJob(t *testing.T) {
	r := NewLocal(LocalOptions{WorkDir: t.TempDir()})
	if _, err := r.Render(context.Background(), Job{ID: "x"}); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestDockerContainerSpec(t *testing.T) {
	d := &Docker{image: "manimcommunity/manim:stable"}
	ws := &workspace{dir: "/tmp/sketch/job-1"}
	job := Job{ID: "job-1", SceneName: "Dot", Quality: domain.QualityHigh}

	cfg, host := d.containerSpec(job, ws)

	want := []string{"manim", "-qh", "/work/job-1.py", "Dot", "--media_dir", "/work/media"}
	if strings.Join(cfg.Cmd, " ") != strings.Join(want, " ") {
		t.Errorf("unexpected command %v", cfg.Cmd)
	}
	if cfg.Image != "manimcommunity/manim:stable" {
		t.Errorf("unexpected image %q", cfg.Image)
	}
	if string(host.NetworkMode) != "none" {
		t.Errorf("expected networking disabled, got %q", host.NetworkMode)
	}
	if len(host.Mounts) != 1 || host.Mounts[0].Source != ws.dir || host.Mounts[0].Target != "/work" {
		t.Errorf("unexpected mounts %+v", host.Mounts)
	}
	if host.Resources.Memory != memoryLimitBytes || host.Resources.PidsLimit == nil || *host.Resources.PidsLimit != pidsLimit {
		t.Errorf("unexpected resource limits %+v", host.Resources)
	}
}
