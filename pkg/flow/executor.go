package flow

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/harun/uxorbit/internal/metrics"
	"github.com/harun/uxorbit/pkg/browser"
)

// Default timeouts.
const (
	DefaultActionTimeout = 30 * time.Second
	DefaultExpectTimeout = 10 * time.Second
)

// Executor runs flows step by step against a page.
type Executor struct {
	actionTimeout time.Duration
	expectTimeout time.Duration
	screenshots   bool
	metrics       *metrics.Metrics
	now           func() time.Time
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithTimeouts sets the default action and post-condition timeouts.
func WithTimeouts(action, expect time.Duration) ExecutorOption {
	return func(e *Executor) {
		if action > 0 {
			e.actionTimeout = action
		}
		if expect > 0 {
			e.expectTimeout = expect
		}
	}
}

// WithScreenshots captures a screenshot after each successful action.
func WithScreenshots(on bool) ExecutorOption {
	return func(e *Executor) { e.screenshots = on }
}

// WithMetrics records step outcomes.
func WithMetrics(m *metrics.Metrics) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// NewExecutor creates an Executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		actionTimeout: DefaultActionTimeout,
		expectTimeout: DefaultExpectTimeout,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunAll runs every flow in order. A failing flow does not stop the others.
func (e *Executor) RunAll(ctx context.Context, page browser.Page, flows []Flow) []Result {
	results := make([]Result, 0, len(flows))
	for _, f := range flows {
		results = append(results, e.Run(ctx, page, f))
	}
	return results
}

// Run executes steps in order and stops at the first failing step.
func (e *Executor) Run(ctx context.Context, page browser.Page, f Flow) Result {
	res := Result{Name: f.Name, Success: true, Steps: make([]StepResult, 0, len(f.Steps))}

	for i, step := range f.Steps {
		sr := e.runStep(ctx, page, f.Name, i, step)
		e.metrics.FlowStep(sr.Success)
		res.Steps = append(res.Steps, sr)

		if !sr.Success {
			res.Success = false
			log.Debug().
				Str("flow", f.Name).
				Int("step", i).
				Str("error", sr.Error).
				Msg("Flow stopped at failing step")
			break
		}
	}

	return res
}

func (e *Executor) runStep(ctx context.Context, page browser.Page, flowName string, idx int, step Step) (sr StepResult) {
	started := e.now()
	sr = StepResult{Step: step, Success: true, Timing: &Timing{StartedAt: started}}

	defer func() {
		if r := recover(); r != nil {
			sr.Success = false
			sr.Error = fmt.Sprintf("step panicked: %v", r)
		}
		sr.Timing.TotalMs = ms(e.now().Sub(started))
	}()

	if err := e.perform(ctx, page, step); err != nil {
		sr.Success = false
		sr.Error = err.Error()
		sr.Timing.ActionMs = ms(e.now().Sub(started))
		return sr
	}
	afterAction := e.now()
	sr.Timing.ActionMs = ms(afterAction.Sub(started))

	if e.screenshots {
		path, err := page.Screenshot(ctx, fmt.Sprintf("flow_%s_step_%d", flowName, idx))
		if err != nil {
			log.Debug().Err(err).Str("flow", flowName).Msg("Flow screenshot failed")
		} else {
			sr.Screenshot = path
		}
	}

	if err := e.validate(ctx, page, step.Expect); err != nil {
		sr.Success = false
		sr.Error = err.Error()
	}
	sr.Timing.ValidationMs = ms(e.now().Sub(afterAction))

	return sr
}

func (e *Executor) perform(ctx context.Context, page browser.Page, step Step) error {
	timeout := step.Timeout
	if timeout <= 0 {
		timeout = e.actionTimeout
	}

	switch step.Action {
	case ActionGoto:
		if step.URL == "" {
			return fmt.Errorf("goto step requires a url")
		}
		return page.Navigate(ctx, step.URL, timeout)

	case ActionClick:
		if step.Selector == "" {
			return fmt.Errorf("click step requires a selector")
		}
		els, err := page.Query(ctx, step.Selector)
		if err != nil {
			return err
		}
		if len(els) == 0 {
			return &browser.BrowserError{
				Code:    browser.ErrCodeElementNotFound,
				Message: fmt.Sprintf("Element not found: %s", step.Selector),
			}
		}
		return els[0].Click(ctx)

	default:
		return fmt.Errorf("unknown step action %q", step.Action)
	}
}

func (e *Executor) validate(ctx context.Context, page browser.Page, exp *Expect) error {
	if exp.Empty() {
		return nil
	}
	timeout := exp.Timeout
	if timeout <= 0 {
		timeout = e.expectTimeout
	}

	if exp.WaitForSelector != "" {
		if err := page.WaitVisible(ctx, exp.WaitForSelector, timeout); err != nil {
			return err
		}
	}
	if exp.URLIncludes != "" {
		if err := page.WaitURL(ctx, exp.URLIncludes, timeout); err != nil {
			return err
		}
	}
	if exp.TextVisible != "" {
		if err := page.WaitText(ctx, exp.TextVisible, timeout); err != nil {
			return err
		}
	}
	return nil
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
