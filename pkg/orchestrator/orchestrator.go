package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/harun/uxorbit/internal/metrics"
	"github.com/harun/uxorbit/internal/tracing"
	"github.com/harun/uxorbit/pkg/agent"
	"github.com/harun/uxorbit/pkg/aggregate"
	"github.com/harun/uxorbit/pkg/results"
	"github.com/harun/uxorbit/pkg/session"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// ErrNotPending is returned when a session has already been started.
var ErrNotPending = errors.New("session is not pending")

// Sessions is the part of the session store a run writes through.
type Sessions interface {
	Get(id string) (*session.Session, error)
	SetStatus(id string, status session.Status) error
	Finish(id string, status session.Status, report *aggregate.Report) error
}

// Runners resolves the runner of a role.
type Runners interface {
	Get(role agent.Role) (agent.Runner, bool)
}

// AggregateFunc merges settled outcomes into a report.
type AggregateFunc func(outcomes []agent.Outcome, opts aggregate.Options) *aggregate.Report

// Orchestrator coordinates the agent runs of a session.
type Orchestrator struct {
	sessions  Sessions
	runners   Runners
	results   results.Store
	aggregate AggregateFunc
	trend     bool
	weights   aggregate.Weights
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Option is a functional option for configuring the Orchestrator
type Option func(*Orchestrator)

// WithResults persists terminal reports and enables trend baselines.
func WithResults(store results.Store) Option {
	return func(o *Orchestrator) {
		o.results = store
	}
}

// WithTrend compares each report with the previous one for the same URL.
func WithTrend(enabled bool) Option {
	return func(o *Orchestrator) {
		o.trend = enabled
	}
}

// WithWeights adds a weighted composite score to every report.
func WithWeights(w aggregate.Weights) Option {
	return func(o *Orchestrator) {
		o.weights = w
	}
}

// WithMetrics records orchestration metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithAggregator replaces the aggregation step.
func WithAggregator(fn AggregateFunc) Option {
	return func(o *Orchestrator) {
		o.aggregate = fn
	}
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		o.now = now
	}
}

// New creates an Orchestrator.
func New(sessions Sessions, runners Runners, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		sessions:  sessions,
		runners:   runners,
		aggregate: aggregate.Aggregate,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes every role of a pending session and returns its report.
// It fails fast with session.ErrNotFound or ErrNotPending without touching
// the session.
func (o *Orchestrator) Run(ctx context.Context, sessionID string) (*aggregate.Report, error) {
	sess, err := o.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != session.StatusPending {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotPending, sessionID, sess.Status)
	}
	if err := o.sessions.SetStatus(sessionID, session.StatusRunning); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotPending, err)
	}

	ctx = tracing.NewSessionContext(ctx, sessionID)
	ctx, span := tracing.StartSpan(ctx, tracing.TracerOrchestrator, "orchestrator.run",
		attribute.String("url", sess.URL),
		attribute.StringSlice("roles", sess.Roles),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	started := o.now()
	logger.Info().Str("url", sess.URL).Strs("roles", sess.Roles).Msg("Orchestration started")

	target := agent.Target{URL: sess.URL, Flows: sess.Flows}
	outcomes := o.runAll(ctx, sess.Roles, target)

	status := session.StatusCompleted
	report, err := o.safeAggregate(outcomes, o.aggregateOptions(ctx, sess.URL, started))
	if err != nil {
		status = session.StatusFailed
		report = aggregate.Failed(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Msg("Aggregation failed")
	} else if report.HasFailures() {
		status = session.StatusCompletedWithErrors
	}

	finished := o.now()
	report.Metadata = &aggregate.Metadata{
		SessionID:  sessionID,
		URL:        sess.URL,
		Roles:      toRoles(sess.Roles),
		Flows:      sess.Flows,
		Status:     string(status),
		StartedAt:  started,
		FinishedAt: finished,
	}

	if err := o.sessions.Finish(sessionID, status, report); err != nil {
		logger.Error().Err(err).Msg("Failed to record terminal status")
	}
	o.persist(ctx, sess.URL, status, finished, report)

	o.metrics.OrchestrationFinished(string(status), finished.Sub(started))
	span.SetAttributes(attribute.String("status", string(status)))
	logger.Info().
		Str("status", string(status)).
		Int("failures", len(report.AgentFailures)).
		Dur("duration", finished.Sub(started)).
		Msg("Orchestration finished")

	return report, nil
}

// runAll launches every role and waits for all of them to settle.
func (o *Orchestrator) runAll(ctx context.Context, roles []string, target agent.Target) []agent.Outcome {
	outcomes := make([]agent.Outcome, len(roles))
	var wg sync.WaitGroup

	for i, name := range roles {
		role := agent.Role(name)
		runner, ok := o.runners.Get(role)
		if !ok {
			outcomes[i] = agent.Outcome{Role: role, Error: "Unknown agent type: " + name}
			continue
		}

		wg.Add(1)
		go func(index int, role agent.Role, runner agent.Runner) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					outcomes[index] = agent.Outcome{Role: role, Error: fmt.Sprintf("agent panicked: %v", r)}
				}
			}()
			outcomes[index] = runner.Run(ctx, target)
		}(i, role, runner)
	}

	wg.Wait()
	return outcomes
}

func (o *Orchestrator) aggregateOptions(ctx context.Context, url string, before time.Time) aggregate.Options {
	opts := aggregate.Options{Weights: o.weights}
	if !o.trend || o.results == nil {
		return opts
	}
	prev, err := o.results.LatestForURL(ctx, url, before)
	switch {
	case err == nil:
		opts.Previous = prev.Report
	case !errors.Is(err, results.ErrNotFound):
		log.Warn().Err(err).Str("url", url).Msg("Failed to load trend baseline")
	}
	return opts
}

func (o *Orchestrator) safeAggregate(outcomes []agent.Outcome, opts aggregate.Options) (report *aggregate.Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			report, err = nil, fmt.Errorf("aggregation panicked: %v", r)
		}
	}()
	report = o.aggregate(outcomes, opts)
	if report == nil {
		return nil, errors.New("aggregation produced no report")
	}
	return report, nil
}

func (o *Orchestrator) persist(ctx context.Context, url string, status session.Status, at time.Time, report *aggregate.Report) {
	if o.results == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	err := o.results.Save(ctx, results.Record{
		SessionID: report.Metadata.SessionID,
		URL:       url,
		Status:    string(status),
		CreatedAt: at,
		Report:    report,
	})
	if err != nil {
		log.Error().Err(err).Str("session_id", report.Metadata.SessionID).Msg("Failed to persist report")
	}
}

func toRoles(names []string) []agent.Role {
	out := make([]agent.Role, len(names))
	for i, n := range names {
		out[i] = agent.Role(n)
	}
	return out
}
