package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidator_ValidateSchedule(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateSchedule("x", "@every 10m"))
	assert.NoError(t, v.ValidateSchedule("x", "@daily"))
	assert.NoError(t, v.ValidateSchedule("x", "*/5 * * * *"))
	assert.Error(t, v.ValidateSchedule("x", ""))
	assert.Error(t, v.ValidateSchedule("x", "sometimes"))
}

func TestValidator_ValidateLogLevel(t *testing.T) {
	v := NewValidator()
	for _, level := range []string{"debug", "info", "warn", "error"} {
		assert.NoError(t, v.ValidateLogLevel(level))
	}
	assert.Error(t, v.ValidateLogLevel("trace"))
}

func TestValidator_ValidateConfig_CollectsAll(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Server.Port = 70000
	cfg.Probe.Concurrency = 0

	errs := NewValidator().ValidateConfig(cfg)
	assert.Len(t, errs, 2)
}
