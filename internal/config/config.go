package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all soundnerd configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Analysis pipeline configuration
	Analysis AnalysisConfig `yaml:"analysis"`

	// Tag resolution configuration
	Tags TagsConfig `yaml:"tags"`

	// AI tag reviewer
	Reviewer ReviewerConfig `yaml:"reviewer"`

	// Feature record storage
	Store StoreConfig `yaml:"store"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// AnalysisConfig configures the external feature-extraction pipeline.
type AnalysisConfig struct {
	// Path to the external extractor binary
	ExtractorBinary string `yaml:"extractor_binary"`

	// Path to the ffprobe binary used for lightweight metadata probing
	FFprobeBinary string `yaml:"ffprobe_binary"`

	// Maximum concurrent analyses (the extractor is resource-heavy)
	Concurrency int `yaml:"concurrency"`

	// Use a persistent worker process for Standard mode
	UseWorker bool `yaml:"use_worker"`

	// Timeouts (duration strings)
	OneShotTimeout       string `yaml:"oneshot_timeout"`
	WorkerReadyTimeout   string `yaml:"worker_ready_timeout"`
	WorkerRequestTimeout string `yaml:"worker_request_timeout"`
	ProbeTimeout         string `yaml:"probe_timeout"`

	// Cooldown windows armed by crash/timeout handlers
	SafeCooldown      string `yaml:"safe_cooldown"`
	EmergencyCooldown string `yaml:"emergency_cooldown"`

	// Cap on native library thread counts passed to the extractor
	NativeThreadCap int `yaml:"native_thread_cap"`

	// Escalation toggles
	SafeRetry         bool `yaml:"safe_retry"`
	EmergencyFallback bool `yaml:"emergency_fallback"`
}

// TagsConfig configures the deterministic tag resolver.
type TagsConfig struct {
	// Maximum tags returned per sample
	MaxTags int `yaml:"max_tags"`

	// Allow falling back to the AI reviewer when deterministic
	// resolution yields nothing
	AllowAIReview bool `yaml:"allow_ai_review"`
}

// ReviewerConfig configures the AI tag reviewer.
type ReviewerConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Timeout string `yaml:"timeout"`
}

// StoreConfig configures feature record persistence.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures categorized file logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "soundnerd",
		Version: "1.0.0",

		Analysis: AnalysisConfig{
			ExtractorBinary:      "sound-extractor",
			FFprobeBinary:        "ffprobe",
			Concurrency:          1,
			UseWorker:            true,
			OneShotTimeout:       "300s",
			WorkerReadyTimeout:   "120s",
			WorkerRequestTimeout: "300s",
			ProbeTimeout:         "15s",
			SafeCooldown:         "10m",
			EmergencyCooldown:    "10m",
			NativeThreadCap:      2,
			SafeRetry:            true,
			EmergencyFallback:    true,
		},

		Tags: TagsConfig{
			MaxTags:       5,
			AllowAIReview: true,
		},

		Reviewer: ReviewerConfig{
			Model:   "gemini-2.0-flash",
			Timeout: "60s",
		},

		Store: StoreConfig{
			DatabasePath: "data/soundnerd.db",
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SOUNDNERD_EXTRACTOR"); v != "" {
		c.Analysis.ExtractorBinary = v
	}
	if v := os.Getenv("SOUNDNERD_FFPROBE"); v != "" {
		c.Analysis.FFprobeBinary = v
	}
	if v := os.Getenv("SOUNDNERD_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Analysis.Concurrency = n
		}
	}
	if v := os.Getenv("SOUNDNERD_ONESHOT_TIMEOUT"); v != "" {
		c.Analysis.OneShotTimeout = v
	}
	if v := os.Getenv("SOUNDNERD_WORKER_READY_TIMEOUT"); v != "" {
		c.Analysis.WorkerReadyTimeout = v
	}
	if v := os.Getenv("SOUNDNERD_WORKER_REQUEST_TIMEOUT"); v != "" {
		c.Analysis.WorkerRequestTimeout = v
	}
	if v := os.Getenv("SOUNDNERD_SAFE_COOLDOWN"); v != "" {
		c.Analysis.SafeCooldown = v
	}
	if v := os.Getenv("SOUNDNERD_EMERGENCY_COOLDOWN"); v != "" {
		c.Analysis.EmergencyCooldown = v
	}
	if v := os.Getenv("SOUNDNERD_THREAD_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Analysis.NativeThreadCap = n
		}
	}
	if v := os.Getenv("SOUNDNERD_DISABLE_SAFE_RETRY"); v == "1" || v == "true" {
		c.Analysis.SafeRetry = false
	}
	if v := os.Getenv("SOUNDNERD_DISABLE_EMERGENCY_FALLBACK"); v == "1" || v == "true" {
		c.Analysis.EmergencyFallback = false
	}
	if v := os.Getenv("SOUNDNERD_DB"); v != "" {
		c.Store.DatabasePath = v
	}
	// Reviewer key from environment (check in priority order)
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Reviewer.APIKey = key
	}
	if key := os.Getenv("GOOGLE_API_KEY"); key != "" {
		c.Reviewer.APIKey = key
	}
}

// Validate checks the configuration for common mistakes.
func (c *Config) Validate() error {
	if c.Analysis.ExtractorBinary == "" {
		return fmt.Errorf("analysis.extractor_binary is required")
	}
	if c.Analysis.Concurrency < 1 {
		return fmt.Errorf("analysis.concurrency must be >= 1, got %d", c.Analysis.Concurrency)
	}
	for name, val := range map[string]string{
		"analysis.oneshot_timeout":        c.Analysis.OneShotTimeout,
		"analysis.worker_ready_timeout":   c.Analysis.WorkerReadyTimeout,
		"analysis.worker_request_timeout": c.Analysis.WorkerRequestTimeout,
		"analysis.safe_cooldown":          c.Analysis.SafeCooldown,
		"analysis.emergency_cooldown":     c.Analysis.EmergencyCooldown,
	} {
		if _, err := time.ParseDuration(val); err != nil {
			return fmt.Errorf("%s: invalid duration %q", name, val)
		}
	}
	if c.Tags.MaxTags < 1 {
		return fmt.Errorf("tags.max_tags must be >= 1, got %d", c.Tags.MaxTags)
	}
	return nil
}

// parseDuration is a helper that falls back when the string is invalid.
func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// GetOneShotTimeout returns the one-shot process timeout.
func (c *Config) GetOneShotTimeout() time.Duration {
	return parseDuration(c.Analysis.OneShotTimeout, 300*time.Second)
}

// GetWorkerReadyTimeout returns the worker readiness handshake timeout.
func (c *Config) GetWorkerReadyTimeout() time.Duration {
	return parseDuration(c.Analysis.WorkerReadyTimeout, 120*time.Second)
}

// GetWorkerRequestTimeout returns the per-request worker timeout.
func (c *Config) GetWorkerRequestTimeout() time.Duration {
	return parseDuration(c.Analysis.WorkerRequestTimeout, 300*time.Second)
}

// GetProbeTimeout returns the ffprobe timeout.
func (c *Config) GetProbeTimeout() time.Duration {
	return parseDuration(c.Analysis.ProbeTimeout, 15*time.Second)
}

// GetSafeCooldown returns the safe-mode cooldown window duration.
func (c *Config) GetSafeCooldown() time.Duration {
	return parseDuration(c.Analysis.SafeCooldown, 10*time.Minute)
}

// GetEmergencyCooldown returns the emergency-fallback cooldown window duration.
func (c *Config) GetEmergencyCooldown() time.Duration {
	return parseDuration(c.Analysis.EmergencyCooldown, 10*time.Minute)
}

// GetReviewerTimeout returns the AI reviewer call timeout.
func (c *Config) GetReviewerTimeout() time.Duration {
	return parseDuration(c.Reviewer.Timeout, 60*time.Second)
}
