// Package app wires configuration into a running animation pipeline. The
// server and the CLI share it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/ashureev/sketchmotion/internal/codegen"
	"github.com/ashureev/sketchmotion/internal/config"
	"github.com/ashureev/sketchmotion/internal/events"
	"github.com/ashureev/sketchmotion/internal/pipeline"
	"github.com/ashureev/sketchmotion/internal/prompt"
	"github.com/ashureev/sketchmotion/internal/render"
	"github.com/ashureev/sketchmotion/internal/store"
)

// App holds the long-lived dependencies.
type App struct {
	Config    *config.Config
	Repo      store.Repository
	Prompts   *prompt.Library
	Generator codegen.Generator
	Renderer  render.Renderer
	Broker    *events.Broker
	Pipeline  *pipeline.Service

	closers []func() error
}

// New builds the dependency graph. ctx bounds background work such as the
// prompt pack watcher.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	if err := os.MkdirAll(cfg.MediaDir, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	a.Repo = repo
	a.closers = append(a.closers, repo.Close)

	if err := repo.Ping(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("database health check: %w", err)
	}

	if a.Prompts, err = loadPrompts(ctx, cfg.PromptPackPath); err != nil {
		a.Close()
		return nil, err
	}

	if a.Generator, err = codegen.NewGenerator(ctx, cfg.LLM); err != nil {
		a.Close()
		return nil, fmt.Errorf("initialize %s client: %w", cfg.LLM.Provider, err)
	}

	if a.Renderer, err = a.newRenderer(); err != nil {
		a.Close()
		return nil, err
	}

	a.Broker = events.NewBroker(0)
	a.Pipeline = pipeline.New(a.Repo, a.Generator, a.Renderer, a.Prompts, a.Broker, pipeline.Options{
		MediaDir:        cfg.MediaDir,
		DefaultQuality:  cfg.Render.Quality,
		MaxPromptLength: cfg.Jobs.MaxPromptLength,
		LLMTimeout:      cfg.LLM.Timeout,
		Concurrency:     cfg.Render.Concurrency,
	})
	// Close the pipeline before the repository it writes to.
	a.closers = append(a.closers, func() error { a.Pipeline.Close(); return nil })

	slog.Info("Pipeline ready",
		"provider", a.Generator.Provider(),
		"model", a.Generator.Model(),
		"renderer", a.Renderer.Name(),
		"quality", cfg.Render.Quality,
	)
	return a, nil
}

func loadPrompts(ctx context.Context, path string) (*prompt.Library, error) {
	if path == "" {
		return prompt.Default(), nil
	}
	lib, err := prompt.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load prompt pack: %w", err)
	}
	if err := lib.Watch(ctx); err != nil {
		slog.Warn("Prompt pack hot reload disabled", "path", path, "error", err)
	}
	return lib, nil
}

func (a *App) newRenderer() (render.Renderer, error) {
	rc := a.Config.Render
	switch rc.Backend {
	case config.BackendDocker:
		if config.IsContainer() {
			// Scene files are bind-mounted into the render container by
			// path, so the daemon has to see the same WORK_DIR.
			slog.Warn("Docker renderer inside a container, WORK_DIR must be a host bind mount at the same path",
				"work_dir", a.Config.WorkDir)
		}
		d, err := render.NewDocker(render.DockerOptions{
			Image:   rc.DockerImage,
			WorkDir: a.Config.WorkDir,
			Timeout: rc.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("initialize docker renderer: %w", err)
		}
		a.closers = append(a.closers, d.Close)
		return d, nil
	default:
		return render.NewLocal(render.LocalOptions{
			Bin:     rc.ManimBin,
			WorkDir: a.Config.WorkDir,
			Timeout: rc.Timeout,
		}), nil
	}
}

// Close releases resources in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
