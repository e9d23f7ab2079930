// Package config provides application configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/sketchmotion/internal/domain"
)

// LLM providers.
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Render backends.
const (
	BackendLocal  = "local"
	BackendDocker = "docker"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	MediaDir    string
	WorkDir     string
	LogLevel    slog.Level

	LLM       LLMConfig
	Render    RenderConfig
	Jobs      JobConfig
	RateLimit RateLimitConfig
	SSE       SSEConfig

	// PromptPackPath optionally points at a YAML prompt pack overriding the built-in one.
	PromptPackPath string
}

// LLMConfig selects and configures the code-generating model.
type LLMConfig struct {
	Provider      string
	Model         string
	GeminiAPIKey  string
	OpenAIAPIKey  string
	OpenAIBaseURL string
	Temperature   float64
	Timeout       time.Duration
}

// RenderConfig controls how Manim is invoked.
type RenderConfig struct {
	Backend     string
	ManimBin    string
	Quality     domain.Quality
	Timeout     time.Duration
	DockerImage string
	Concurrency int
}

// JobConfig bounds job inputs and retention.
type JobConfig struct {
	MaxPromptLength int
	Retention       time.Duration
	SweepInterval   time.Duration
}

// RateLimitConfig throttles generate requests per user and per client address.
type RateLimitConfig struct {
	RequestsPerWindow   int
	IPRequestsPerWindow int
	WindowDuration      time.Duration
}

// SSEConfig controls job event streams.
type SSEConfig struct {
	KeepaliveInterval time.Duration
	RetryDelay        time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	provider := strings.ToLower(getEnv("LLM_PROVIDER", ProviderGemini))

	quality, err := domain.ParseQuality(getEnv("MANIM_QUALITY", string(domain.QualityLow)))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: MANIM_QUALITY: %w", err)
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/sketchmotion.db"),
		MediaDir:    getEnv("MEDIA_DIR", "./data/media"),
		WorkDir:     getEnv("WORK_DIR", filepath.Join(os.TempDir(), "sketchmotion")),
		LogLevel:    parseLevel(getEnv("LOG_LEVEL", "info")),
		LLM: LLMConfig{
			Provider:      provider,
			Model:         getEnv("LLM_MODEL", defaultModel(provider)),
			GeminiAPIKey:  firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY"),
			OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
			Temperature:   getEnvFloat("LLM_TEMPERATURE", 0.2),
			Timeout:       getEnvDuration("LLM_TIMEOUT", 60*time.Second),
		},
		Render: RenderConfig{
			Backend:     strings.ToLower(getEnv("RENDER_BACKEND", BackendLocal)),
			ManimBin:    getEnv("MANIM_BIN", "manim"),
			Quality:     quality,
			Timeout:     getEnvDuration("RENDER_TIMEOUT", 120*time.Second),
			DockerImage: getEnv("RENDER_DOCKER_IMAGE", "manimcommunity/manim:stable"),
			Concurrency: getEnvInt("RENDER_CONCURRENCY", 1),
		},
		Jobs: JobConfig{
			MaxPromptLength: getEnvInt("MAX_PROMPT_LENGTH", 2000),
			Retention:       getEnvDuration("JOB_RETENTION", 24*time.Hour),
			SweepInterval:   getEnvDuration("SWEEP_INTERVAL", 10*time.Minute),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow:   getEnvInt("RATE_LIMIT_REQUESTS", 10),
			IPRequestsPerWindow: getEnvInt("RATE_LIMIT_IP_REQUESTS", 30),
			WindowDuration:      getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		SSE: SSEConfig{
			KeepaliveInterval: getEnvDuration("SSE_KEEPALIVE", 10*time.Second),
			RetryDelay:        getEnvDuration("SSE_RETRY_DELAY", 5*time.Second),
		},
		PromptPackPath: getEnv("PROMPT_PACK_PATH", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.MediaDir == "" {
		return fmt.Errorf("MEDIA_DIR cannot be empty")
	}
	if c.WorkDir == "" {
		return fmt.Errorf("WORK_DIR cannot be empty")
	}

	switch c.LLM.Provider {
	case ProviderGemini:
		if c.LLM.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY (or GOOGLE_API_KEY) is required for provider %q", ProviderGemini)
		}
	case ProviderOpenAI:
		if c.LLM.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for provider %q", ProviderOpenAI)
		}
	default:
		return fmt.Errorf("LLM_PROVIDER must be %q or %q, got %q", ProviderGemini, ProviderOpenAI, c.LLM.Provider)
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("LLM_MODEL cannot be empty")
	}
	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("LLM_TIMEOUT must be > 0")
	}

	switch c.Render.Backend {
	case BackendLocal:
		if c.Render.ManimBin == "" {
			return fmt.Errorf("MANIM_BIN cannot be empty")
		}
	case BackendDocker:
		if c.Render.DockerImage == "" {
			return fmt.Errorf("RENDER_DOCKER_IMAGE cannot be empty")
		}
	default:
		return fmt.Errorf("RENDER_BACKEND must be %q or %q, got %q", BackendLocal, BackendDocker, c.Render.Backend)
	}
	if c.Render.Timeout <= 0 {
		return fmt.Errorf("RENDER_TIMEOUT must be > 0")
	}
	if c.Render.Concurrency <= 0 {
		return fmt.Errorf("RENDER_CONCURRENCY must be > 0")
	}

	if c.Jobs.MaxPromptLength <= 0 {
		return fmt.Errorf("MAX_PROMPT_LENGTH must be > 0")
	}
	if c.Jobs.Retention <= 0 {
		return fmt.Errorf("JOB_RETENTION must be > 0")
	}
	if c.Jobs.SweepInterval <= 0 {
		return fmt.Errorf("SWEEP_INTERVAL must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	if c.RateLimit.IPRequestsPerWindow < c.RateLimit.RequestsPerWindow {
		return fmt.Errorf("RATE_LIMIT_IP_REQUESTS must be >= RATE_LIMIT_REQUESTS")
	}
	if c.SSE.KeepaliveInterval <= 0 {
		return fmt.Errorf("SSE_KEEPALIVE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func defaultModel(provider string) string {
	if provider == ProviderOpenAI {
		return "gpt-4o-mini"
	}
	return "gemini-2.0-flash-001"
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

// IsContainer returns true if running inside a Docker container.
func IsContainer() bool {
	if os.Getenv("CONTAINER") == "true" {
		return true
	}
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	return false
}
