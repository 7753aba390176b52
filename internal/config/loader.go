package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g. UXORBIT_SERVER_PORT.
const EnvPrefix = "UXORBIT"

// Loader handles configuration loading
type Loader struct {
	configPath string
	envFile    string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		envFile:    ".env",
	}
}

// WithEnvFile overrides the dotenv file read before the environment.
func (l *Loader) WithEnvFile(path string) *Loader {
	l.envFile = path
	return l
}

// Load reads the config file (if present), then applies environment overrides.
func (l *Loader) Load() (*Config, error) {
	if l.envFile != "" {
		if err := godotenv.Load(l.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", l.envFile, err)
		}
	}

	configPath, err := l.resolvePath()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if _, err := os.Stat(configPath); err == nil {
		v.SetConfigFile(configPath)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.ResolvePaths(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath, err := l.resolvePath()
	if err != nil {
		return err
	}

	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("server", cfg.Server)
	v.Set("browser", cfg.Browser)
	v.Set("sessions", cfg.Sessions)
	v.Set("orchestrator", cfg.Orchestrator)
	v.Set("probe", cfg.Probe)
	v.Set("flows", cfg.Flows)
	v.Set("storage", cfg.Storage)
	v.Set("logging", cfg.Logging)
	v.Set("tracing", cfg.Tracing)
	v.Set("data_dir", cfg.DataDir)

	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	p, err := l.resolvePath()
	if err != nil {
		return ""
	}
	return p
}

func (l *Loader) resolvePath() (string, error) {
	if l.configPath != "" {
		return l.configPath, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".uxorbit", "uxorbit.json"), nil
}

// ResolvePaths derives unset paths from the data directory.
func (cfg *Config) ResolvePaths() error {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".uxorbit")
	}
	if cfg.Browser.ScreenshotDir == "" {
		cfg.Browser.ScreenshotDir = filepath.Join(cfg.DataDir, "screenshots")
	}
	if cfg.Flows.Dir == "" {
		cfg.Flows.Dir = filepath.Join(cfg.DataDir, "flows")
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = filepath.Join(cfg.DataDir, "results.db")
	}
	return nil
}

// setDefaults registers every key so AutomaticEnv can override values
// that are absent from the config file.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("data_dir", d.DataDir)

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("browser.headless", d.Browser.Headless)
	v.SetDefault("browser.no_sandbox", d.Browser.NoSandbox)
	v.SetDefault("browser.bin", d.Browser.Bin)
	v.SetDefault("browser.navigation_timeout", d.Browser.NavigationTimeout)
	v.SetDefault("browser.viewport_width", d.Browser.ViewportWidth)
	v.SetDefault("browser.viewport_height", d.Browser.ViewportHeight)
	v.SetDefault("browser.screenshot_dir", d.Browser.ScreenshotDir)
	v.SetDefault("browser.allow_localhost", d.Browser.AllowLocalhost)
	v.SetDefault("browser.blocked_domains", d.Browser.BlockedDomains)

	v.SetDefault("sessions.max_sessions", d.Sessions.MaxSessions)
	v.SetDefault("sessions.ttl", d.Sessions.TTL)
	v.SetDefault("sessions.reap_schedule", d.Sessions.ReapSchedule)

	v.SetDefault("orchestrator.max_concurrent_runs", d.Orchestrator.MaxConcurrentRuns)
	v.SetDefault("orchestrator.trend", d.Orchestrator.Trend)
	v.SetDefault("orchestrator.weights.usability", d.Orchestrator.Weights.Usability)
	v.SetDefault("orchestrator.weights.accessibility", d.Orchestrator.Weights.Accessibility)
	v.SetDefault("orchestrator.weights.performance", d.Orchestrator.Weights.Performance)

	v.SetDefault("probe.concurrency", d.Probe.Concurrency)
	v.SetDefault("probe.max_retries", d.Probe.MaxRetries)
	v.SetDefault("probe.base_delay", d.Probe.BaseDelay)
	v.SetDefault("probe.timeout", d.Probe.Timeout)

	v.SetDefault("flows.dir", d.Flows.Dir)
	v.SetDefault("flows.watch", d.Flows.Watch)
	v.SetDefault("flows.step_timeout", d.Flows.StepTimeout)

	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.retention", d.Storage.Retention)
	v.SetDefault("storage.prune_schedule", d.Storage.PruneSchedule)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.file", d.Logging.File)
	v.SetDefault("logging.console", d.Logging.Console)
	v.SetDefault("logging.pretty", d.Logging.Pretty)
	v.SetDefault("logging.max_size", d.Logging.MaxSize)
	v.SetDefault("logging.max_age", d.Logging.MaxAge)
	v.SetDefault("logging.compress", d.Logging.Compress)
	v.SetDefault("logging.redaction", d.Logging.Redaction)

	v.SetDefault("tracing.enabled", d.Tracing.Enabled)
	v.SetDefault("tracing.sample_ratio", d.Tracing.SampleRatio)
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
