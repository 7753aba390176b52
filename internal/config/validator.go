package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validator validates configuration values
type Validator struct {
	parser cron.Parser
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateSchedule validates a cron expression or descriptor such as "@every 10m"
func (v *Validator) ValidateSchedule(field, expr string) error {
	if strings.TrimSpace(expr) == "" {
		return fmt.Errorf("%s: schedule cannot be empty", field)
	}
	if _, err := v.parser.Parse(expr); err != nil {
		return fmt.Errorf("%s: invalid schedule %q: %w", field, expr, err)
	}
	return nil
}

// ValidatePort validates a TCP port
func (v *Validator) ValidatePort(port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", port)
	}
	return nil
}

// ValidateWeight validates a composite score weight
func (v *Validator) ValidateWeight(name string, w float64) error {
	if w < 0 {
		return fmt.Errorf("orchestrator.weights.%s must be >= 0, got %g", name, w)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidatePort(cfg.Server.Port); err != nil {
		errors = append(errors, err)
	}

	if cfg.Browser.NavigationTimeout <= 0 {
		errors = append(errors, fmt.Errorf("browser.navigation_timeout must be > 0"))
	}
	if cfg.Browser.ViewportWidth <= 0 || cfg.Browser.ViewportHeight <= 0 {
		errors = append(errors, fmt.Errorf("browser viewport must be positive, got %dx%d", cfg.Browser.ViewportWidth, cfg.Browser.ViewportHeight))
	}

	if cfg.Sessions.MaxSessions <= 0 {
		errors = append(errors, fmt.Errorf("sessions.max_sessions must be > 0"))
	}
	if cfg.Sessions.TTL <= 0 {
		errors = append(errors, fmt.Errorf("sessions.ttl must be > 0"))
	}
	if err := v.ValidateSchedule("sessions.reap_schedule", cfg.Sessions.ReapSchedule); err != nil {
		errors = append(errors, err)
	}

	if cfg.Orchestrator.MaxConcurrentRuns <= 0 {
		errors = append(errors, fmt.Errorf("orchestrator.max_concurrent_runs must be > 0"))
	}
	w := cfg.Orchestrator.Weights
	if err := v.ValidateWeight("usability", w.Usability); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateWeight("accessibility", w.Accessibility); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateWeight("performance", w.Performance); err != nil {
		errors = append(errors, err)
	}

	if cfg.Probe.Concurrency <= 0 {
		errors = append(errors, fmt.Errorf("probe.concurrency must be > 0"))
	}
	if cfg.Probe.MaxRetries < 0 {
		errors = append(errors, fmt.Errorf("probe.max_retries must be >= 0"))
	}
	if cfg.Probe.BaseDelay < 0 {
		errors = append(errors, fmt.Errorf("probe.base_delay must be >= 0"))
	}

	if cfg.Flows.StepTimeout <= 0 {
		errors = append(errors, fmt.Errorf("flows.step_timeout must be > 0"))
	}

	if cfg.Storage.PruneSchedule != "" {
		if err := v.ValidateSchedule("storage.prune_schedule", cfg.Storage.PruneSchedule); err != nil {
			errors = append(errors, err)
		}
	}

	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errors = append(errors, fmt.Errorf("tracing.sample_ratio must be within [0, 1]"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
