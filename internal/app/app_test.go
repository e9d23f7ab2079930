package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashureev/sketchmotion/internal/config"
	"github.com/ashureev/sketchmotion/internal/domain"
)

func testConfig(t *testing.T) *config.Config {
	dir := t.TempDir()
	return &config.Config{
		DBPath:   filepath.Join(dir, "db", "sketch.db"),
		MediaDir: filepath.Join(dir, "media"),
		WorkDir:  filepath.Join(dir, "work"),
		LLM: config.LLMConfig{
			Provider:     config.ProviderOpenAI,
			Model:        "gpt-4o-mini",
			OpenAIAPIKey: "sk-test",
			Timeout:      time.Second,
		},
		Render: config.RenderConfig{
			Backend:     config.BackendLocal,
			ManimBin:    "manim",
			Quality:     domain.QualityLow,
			Timeout:     time.Second,
			Concurrency: 1,
		},
		Jobs: config.JobConfig{MaxPromptLength: 100},
	}
}

func TestNewWiresPipeline(t *testing.T) {
	a, err := New(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer func() { _ = a.Close() }()

	if a.Renderer.Name() != "local" || a.Generator.Provider() != config.ProviderOpenAI {
		t.Errorf("unexpected wiring %s/%s", a.Renderer.Name(), a.Generator.Provider())
	}
	if len(a.Pipeline.Suggestions()) == 0 {
		t.Error("expected built-in suggestions")
	}
	if a.Pipeline.Broker() != a.Broker {
		t.Error("pipeline should publish to the shared broker")
	}
}

func TestNewRejectsMissingPromptPack(t *testing.T) {
	cfg := testConfig(t)
	cfg.PromptPackPath = filepath.Join(t.TempDir(), "missing.yaml")
	if _, err := New(context.Background(), cfg); err == nil {
		t.Fatal("expected error for missing prompt pack")
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	a, err := New(context.Background(), testConfig(t))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
}
