package config

import (
	"encoding/json"
	"time"
)

// Config represents the main uxorbit configuration
type Config struct {
	Server       ServerConfig       `json:"server" mapstructure:"server"`
	Browser      BrowserConfig      `json:"browser" mapstructure:"browser"`
	Sessions     SessionsConfig     `json:"sessions" mapstructure:"sessions"`
	Orchestrator OrchestratorConfig `json:"orchestrator" mapstructure:"orchestrator"`
	Probe        ProbeConfig        `json:"probe" mapstructure:"probe"`
	Flows        FlowsConfig        `json:"flows" mapstructure:"flows"`
	Storage      StorageConfig      `json:"storage" mapstructure:"storage"`
	Logging      LoggingConfig      `json:"logging" mapstructure:"logging"`
	Tracing      TracingConfig      `json:"tracing" mapstructure:"tracing"`

	// Data directory, defaults to ~/.uxorbit
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds HTTP API settings
type ServerConfig struct {
	Host            string        `json:"host" mapstructure:"host"`
	Port            int           `json:"port" mapstructure:"port"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
}

// BrowserConfig holds Chrome launch and page settings
type BrowserConfig struct {
	Headless          bool          `json:"headless" mapstructure:"headless"`
	NoSandbox         bool          `json:"no_sandbox" mapstructure:"no_sandbox"`
	Bin               string        `json:"bin" mapstructure:"bin"`
	NavigationTimeout time.Duration `json:"navigation_timeout" mapstructure:"navigation_timeout"`
	ViewportWidth     int           `json:"viewport_width" mapstructure:"viewport_width"`
	ViewportHeight    int           `json:"viewport_height" mapstructure:"viewport_height"`
	ScreenshotDir     string        `json:"screenshot_dir" mapstructure:"screenshot_dir"`
	AllowLocalhost    bool          `json:"allow_localhost" mapstructure:"allow_localhost"`
	BlockedDomains    []string      `json:"blocked_domains" mapstructure:"blocked_domains"`
}

// SessionsConfig bounds the in-memory session store
type SessionsConfig struct {
	MaxSessions  int           `json:"max_sessions" mapstructure:"max_sessions"`
	TTL          time.Duration `json:"ttl" mapstructure:"ttl"`
	ReapSchedule string        `json:"reap_schedule" mapstructure:"reap_schedule"`
}

// OrchestratorConfig holds run scheduling and scoring settings
type OrchestratorConfig struct {
	MaxConcurrentRuns int           `json:"max_concurrent_runs" mapstructure:"max_concurrent_runs"`
	Trend             bool          `json:"trend" mapstructure:"trend"`
	Weights           WeightsConfig `json:"weights" mapstructure:"weights"`
}

// WeightsConfig holds per-category weights for the composite score
type WeightsConfig struct {
	Usability     float64 `json:"usability" mapstructure:"usability"`
	Accessibility float64 `json:"accessibility" mapstructure:"accessibility"`
	Performance   float64 `json:"performance" mapstructure:"performance"`
}

// ProbeConfig holds link probe settings
type ProbeConfig struct {
	Concurrency int           `json:"concurrency" mapstructure:"concurrency"`
	MaxRetries  int           `json:"max_retries" mapstructure:"max_retries"`
	BaseDelay   time.Duration `json:"base_delay" mapstructure:"base_delay"`
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`
}

// FlowsConfig holds navigation flow catalog settings
type FlowsConfig struct {
	Dir         string        `json:"dir" mapstructure:"dir"`
	Watch       bool          `json:"watch" mapstructure:"watch"`
	StepTimeout time.Duration `json:"step_timeout" mapstructure:"step_timeout"`
}

// StorageConfig holds result persistence settings
type StorageConfig struct {
	Path          string        `json:"path" mapstructure:"path"`
	Retention     time.Duration `json:"retention" mapstructure:"retention"`
	PruneSchedule string        `json:"prune_schedule" mapstructure:"prune_schedule"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            5000,
			ShutdownTimeout: 30 * time.Second,
		},
		Browser: BrowserConfig{
			Headless:          true,
			NoSandbox:         true,
			AllowLocalhost:    true,
			NavigationTimeout: 30 * time.Second,
			ViewportWidth:     1280,
			ViewportHeight:    720,
		},
		Sessions: SessionsConfig{
			MaxSessions:  1000,
			TTL:          time.Hour,
			ReapSchedule: "@every 10m",
		},
		Orchestrator: OrchestratorConfig{
			MaxConcurrentRuns: 4,
			Trend:             true,
			Weights: WeightsConfig{
				Usability:     1,
				Accessibility: 1,
				Performance:   1,
			},
		},
		Probe: ProbeConfig{
			Concurrency: 8,
			MaxRetries:  3,
			BaseDelay:   250 * time.Millisecond,
			Timeout:     10 * time.Second,
		},
		Flows: FlowsConfig{
			Watch:       true,
			StepTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Retention:     30 * 24 * time.Hour,
			PruneSchedule: "@daily",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			SampleRatio: 1,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid and returns the first problem found.
func (c *Config) Validate() error {
	if errs := NewValidator().ValidateConfig(c); len(errs) > 0 {
		return errs[0]
	}
	return nil
}
