package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/harun/uxorbit/internal/metrics"
	"github.com/harun/uxorbit/internal/tracing"
	"github.com/harun/uxorbit/pkg/browser"
	"github.com/harun/uxorbit/pkg/flow"
	"github.com/harun/uxorbit/pkg/probe"
)

// DefaultNavigationTimeout bounds the initial page load of every run.
const DefaultNavigationTimeout = 30 * time.Second

// faultScreenshot is the artifact name captured when a run faults.
const faultScreenshot = "fatal_error"

// Target is what a runner is pointed at.
type Target struct {
	URL string
	// Flows names catalog flows to run. Empty means every flow matching URL.
	Flows []string
}

// Runner executes one role. Run never panics and never returns an error:
// faults are reported in Outcome.Error.
type Runner interface {
	Role() Role
	Run(ctx context.Context, target Target) Outcome
}

// FlowSource resolves the flows to run against a target.
type FlowSource interface {
	Select(target string, names []string) ([]flow.Flow, error)
}

// SecretSink receives generated secrets so they never reach the logs.
type SecretSink interface {
	AddLiteral(s string)
}

// Deps are the collaborators shared by every runner. Zero values get defaults.
type Deps struct {
	Driver            browser.Driver
	Prober            *probe.Prober
	Flows             FlowSource
	Executor          *flow.Executor
	Auditor           browser.AccessibilityAuditor
	Performance       browser.PerformanceSource
	Secrets           SecretSink
	Metrics           *metrics.Metrics
	NavigationTimeout time.Duration
	Logger            *zerolog.Logger
}

func (d Deps) withDefaults() Deps {
	if d.Prober == nil {
		d.Prober = probe.New(probe.WithMetrics(d.Metrics))
	}
	if d.Executor == nil {
		d.Executor = flow.NewExecutor(flow.WithMetrics(d.Metrics))
	}
	if d.Auditor == nil {
		d.Auditor = browser.NewRuleAuditor()
	}
	if d.Performance == nil {
		d.Performance = browser.NewTimingSource()
	}
	if d.NavigationTimeout <= 0 {
		d.NavigationTimeout = DefaultNavigationTimeout
	}
	if d.Logger == nil {
		d.Logger = &log.Logger
	}
	return d
}

// pageFunc does the role-specific work on a loaded page. It may return a
// partial payload together with an error.
type pageFunc func(ctx context.Context, page browser.Page, logger zerolog.Logger) (Payload, error)

// execute runs fn on a freshly acquired page and converts every fault into
// Outcome data. The page is closed on all exit paths.
func execute(ctx context.Context, d Deps, role Role, target Target, fn pageFunc) (out Outcome) {
	ctx = tracing.NewAgentRunContext(ctx, string(role))
	out = Outcome{Role: role, RunID: tracing.GetRunID(ctx)}
	logger := tracing.LoggerFromContext(ctx, *d.Logger)

	ctx, span := tracing.StartSpan(ctx, tracing.TracerAgent, "agent.run",
		attribute.String("url", target.URL),
	)
	started := time.Now()

	defer func() {
		if r := recover(); r != nil {
			out.Error = fmt.Sprintf("agent panicked: %v", r)
		}
		if out.Failed() {
			span.SetStatus(codes.Error, out.Error)
			logger.Error().Str("error", out.Error).Msg("Agent run failed")
		} else {
			logger.Info().Dur("duration", time.Since(started)).Msg("Agent run completed")
		}
		d.Metrics.AgentRun(string(role), out.Failed(), time.Since(started))
		span.End()
	}()

	if d.Driver == nil {
		out.Error = "no browser driver configured"
		return out
	}

	logger.Info().Str("url", target.URL).Msg("Agent run started")

	err := browser.WithPage(ctx, d.Driver, func(page browser.Page) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("agent panicked: %v", r)
			}
			if err != nil {
				out.Artifact = captureFault(ctx, page, logger)
			}
		}()

		if err := page.Navigate(ctx, target.URL, d.NavigationTimeout); err != nil {
			return err
		}
		logger.Debug().Str("url", target.URL).Msg("Navigated")

		payload, err := fn(ctx, page, logger)
		if payload != nil {
			out.Payload = payload
		}
		return err
	})
	if err != nil {
		out.Error = err.Error()
		span.RecordError(err)
	}
	return out
}

func captureFault(ctx context.Context, page browser.Page, logger zerolog.Logger) string {
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	path, err := page.Screenshot(sctx, faultScreenshot)
	if err != nil {
		logger.Debug().Err(err).Msg("Fault screenshot failed")
		return ""
	}
	return path
}

// Registry maps roles to runners.
type Registry struct {
	runners map[Role]Runner
}

// NewRegistry builds the form, navigation and feedback runners over d.
func NewRegistry(d Deps) *Registry {
	d = d.withDefaults()
	r := &Registry{runners: make(map[Role]Runner)}
	r.Register(NewFormRunner(d))
	r.Register(NewNavigationRunner(d))
	r.Register(NewFeedbackRunner(d))
	return r
}

// NewEmptyRegistry returns a registry with no runners.
func NewEmptyRegistry() *Registry {
	return &Registry{runners: make(map[Role]Runner)}
}

// Register adds or replaces the runner for its role.
func (r *Registry) Register(run Runner) {
	r.runners[run.Role()] = run
}

// Get returns the runner for role.
func (r *Registry) Get(role Role) (Runner, bool) {
	run, ok := r.runners[role]
	return run, ok
}
