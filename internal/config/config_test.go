package config

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/sketchmotion/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("expected port 8080, got %q", cfg.Port)
	}
	if cfg.LLM.Provider != ProviderGemini {
		t.Errorf("expected gemini provider, got %q", cfg.LLM.Provider)
	}
	if cfg.LLM.Model != "gemini-2.0-flash-001" {
		t.Errorf("unexpected default model %q", cfg.LLM.Model)
	}
	if cfg.Render.Quality != domain.QualityLow {
		t.Errorf("expected low quality, got %q", cfg.Render.Quality)
	}
	if cfg.Render.Timeout != 120*time.Second {
		t.Errorf("expected 120s render timeout, got %v", cfg.Render.Timeout)
	}
	if cfg.Render.Concurrency != 1 {
		t.Errorf("expected concurrency 1, got %d", cfg.Render.Concurrency)
	}
	if cfg.RateLimit.RequestsPerWindow != 10 || cfg.RateLimit.IPRequestsPerWindow != 30 {
		t.Errorf("unexpected rate limits %+v", cfg.RateLimit)
	}
	if !cfg.IsDevelopment() {
		t.Error("expected development mode without FRONTEND_URL")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "OpenAI")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("OPENAI_BASE_URL", "http://localhost:11434/v1")
	t.Setenv("MANIM_QUALITY", "-qh")
	t.Setenv("RENDER_TIMEOUT", "45s")
	t.Setenv("RENDER_BACKEND", "docker")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("FRONTEND_URL", "https://sketch.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LLM.Provider != ProviderOpenAI {
		t.Errorf("expected openai provider, got %q", cfg.LLM.Provider)
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("unexpected default openai model %q", cfg.LLM.Model)
	}
	if cfg.Render.Quality != domain.QualityHigh {
		t.Errorf("expected high quality, got %q", cfg.Render.Quality)
	}
	if cfg.Render.Timeout != 45*time.Second {
		t.Errorf("expected 45s, got %v", cfg.Render.Timeout)
	}
	if cfg.Render.Backend != BackendDocker {
		t.Errorf("expected docker backend, got %q", cfg.Render.Backend)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("expected debug level, got %v", cfg.LogLevel)
	}
	if cfg.IsDevelopment() {
		t.Error("expected production mode for public FRONTEND_URL")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantMsg string
	}{
		{
			name:    "missing gemini key",
			env:     map[string]string{"GEMINI_API_KEY": "", "GOOGLE_API_KEY": ""},
			wantMsg: "GEMINI_API_KEY",
		},
		{
			name:    "unknown provider",
			env:     map[string]string{"LLM_PROVIDER": "llama", "GEMINI_API_KEY": "k"},
			wantMsg: "LLM_PROVIDER",
		},
		{
			name:    "unknown quality",
			env:     map[string]string{"MANIM_QUALITY": "ultra", "GEMINI_API_KEY": "k"},
			wantMsg: "MANIM_QUALITY",
		},
		{
			name:    "unknown backend",
			env:     map[string]string{"RENDER_BACKEND": "cloud", "GEMINI_API_KEY": "k"},
			wantMsg: "RENDER_BACKEND",
		},
		{
			name:    "address limit below user limit",
			env:     map[string]string{"RATE_LIMIT_REQUESTS": "20", "RATE_LIMIT_IP_REQUESTS": "5", "GEMINI_API_KEY": "k"},
			wantMsg: "RATE_LIMIT_IP_REQUESTS",
		},
		{
			name:    "zero concurrency",
			env:     map[string]string{"RENDER_CONCURRENCY": "0", "GEMINI_API_KEY": "k"},
			wantMsg: "RENDER_CONCURRENCY",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Fatalf("expected error mentioning %s, got %v", tt.wantMsg, err)
			}
		})
	}
}

func TestGoogleAPIKeyFallback(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "google-key")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.GeminiAPIKey != "google-key" {
		t.Errorf("expected GOOGLE_API_KEY fallback, got %q", cfg.LLM.GeminiAPIKey)
	}
}

func TestIsContainerHonorsEnv(t *testing.T) {
	t.Setenv("CONTAINER", "true")
	if !IsContainer() {
		t.Fatal("expected CONTAINER=true to report a container")
	}
}
