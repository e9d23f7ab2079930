package render

import (
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ashureev/sketchmotion/internal/domain"
)

// workspace is the per-job scratch directory:
//
//	<root>/<id>/<id>.py
//	<root>/<id>/media/videos/<id>/<quality folder>/<Scene>.mp4
type workspace struct {
	dir    string
	script string
	media  string
	stem   string
}

func newWorkspace(root string, job Job) (*workspace, error) {
	dir := filepath.Join(root, job.ID)
	ws := &workspace{
		dir:    dir,
		script: filepath.Join(dir, job.ID+".py"),
		media:  filepath.Join(dir, "media"),
		stem:   job.ID,
	}

	// A leftover directory from an earlier attempt would shadow the new video.
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("clear workspace %s: %w", dir, err)
	}
	if err := os.MkdirAll(ws.media, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace %s: %w", dir, err)
	}
	if err := os.WriteFile(ws.script, []byte(job.Code), 0o644); err != nil {
		ws.remove()
		return nil, fmt.Errorf("write scene script: %w", err)
	}
	return ws, nil
}

func (ws *workspace) remove() {
	if err := os.RemoveAll(ws.dir); err != nil {
		slog.Warn("Failed to remove render workspace", "dir", ws.dir, "error", err)
	}
}

func (ws *workspace) expectedVideo(scene string, q domain.Quality) string {
	return filepath.Join(ws.media, "videos", ws.stem, q.Folder(), scene+".mp4")
}

// locateVideo finds the rendered file. Manim versions differ in the quality
// folder they use, so any <Scene>.mp4 under the script's video directory is
// accepted when the expected path is missing.
func (ws *workspace) locateVideo(scene string, q domain.Quality) (string, error) {
	expected := ws.expectedVideo(scene, q)
	if fileExists(expected) {
		return expected, nil
	}

	root := filepath.Join(ws.media, "videos", ws.stem)
	var found string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() && d.Name() == "partial_movie_files" {
			return filepath.SkipDir
		}
		if !d.IsDir() && d.Name() == scene+".mp4" {
			found = path
			return filepath.SkipAll
		}
		return nil
	})
	if found != "" {
		return found, nil
	}

	return "", fmt.Errorf("expected %s; %s", relTo(ws.dir, expected), ws.listing(root, q))
}

func (ws *workspace) listing(root string, q domain.Quality) string {
	entries, err := os.ReadDir(root)
	if err != nil {
		return fmt.Sprintf("media directory for script (%s) does not exist", relTo(ws.dir, root))
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Strings(dirs)
	out := fmt.Sprintf("contents of %s: [%s]", relTo(ws.dir, root), strings.Join(dirs, ", "))

	qdir := filepath.Join(root, q.Folder())
	if files, err := os.ReadDir(qdir); err == nil {
		names := make([]string, 0, len(files))
		for _, f := range files {
			names = append(names, f.Name())
		}
		sort.Strings(names)
		out += fmt.Sprintf("; contents of %s: [%s]", relTo(ws.dir, qdir), strings.Join(names, ", "))
	}
	return out
}

// moveFile renames src to dst, copying across filesystems when needed.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open rendered video: %w", err)
	}
	defer func() { _ = in.Close() }()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create output video: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("copy rendered video: %w", err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("close output video: %w", err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("finalize output video: %w", err)
	}
	return nil
}

// finish locates the video, moves it to job.OutputPath and builds the result.
func finish(ws *workspace, job Job, stdout, stderr *capture) (*Result, error) {
	video, err := ws.locateVideo(job.SceneName, job.Quality)
	if err != nil {
		return nil, &Error{
			Kind:   ErrVideoNotFound,
			Stdout: stdout.String(),
			Stderr: stderr.String(),
			Detail: err.Error(),
		}
	}
	if err := moveFile(video, job.OutputPath); err != nil {
		return nil, err
	}
	return &Result{
		VideoPath: job.OutputPath,
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
	}, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func relTo(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil {
		return path
	}
	return rel
}
