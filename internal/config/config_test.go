package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 1000, cfg.Sessions.MaxSessions)
	assert.Equal(t, time.Hour, cfg.Sessions.TTL)
	assert.Equal(t, "@every 10m", cfg.Sessions.ReapSchedule)
	assert.Equal(t, 8, cfg.Probe.Concurrency)
	assert.Equal(t, 3, cfg.Probe.MaxRetries)
	assert.Equal(t, 250*time.Millisecond, cfg.Probe.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Browser.NavigationTimeout)
	assert.Equal(t, 10*time.Second, cfg.Flows.StepTimeout)
	assert.Equal(t, 1280, cfg.Browser.ViewportWidth)
	assert.Equal(t, 720, cfg.Browser.ViewportHeight)
	assert.Equal(t, 4, cfg.Orchestrator.MaxConcurrentRuns)
	assert.True(t, cfg.Orchestrator.Trend)
	assert.Equal(t, WeightsConfig{Usability: 1, Accessibility: 1, Performance: 1}, cfg.Orchestrator.Weights)
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"zero capacity", func(c *Config) { c.Sessions.MaxSessions = 0 }, "sessions.max_sessions"},
		{"bad schedule", func(c *Config) { c.Sessions.ReapSchedule = "every ten" }, "sessions.reap_schedule"},
		{"negative weight", func(c *Config) { c.Orchestrator.Weights.Performance = -1 }, "weights.performance"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "invalid log level"},
		{"negative retries", func(c *Config) { c.Probe.MaxRetries = -1 }, "probe.max_retries"},
		{"bad ratio", func(c *Config) { c.Tracing.SampleRatio = 2 }, "sample_ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestConfigString(t *testing.T) {
	s := DefaultConfig().String()
	assert.Contains(t, s, `"max_sessions": 1000`)
}
