package agent

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/harun/uxorbit/pkg/browser"
)

// FeedbackRunner measures performance, analyzes structure and accessibility,
// captures responsive screenshots and scores the page.
type FeedbackRunner struct {
	deps Deps
}

// NewFeedbackRunner creates the feedback runner.
func NewFeedbackRunner(d Deps) *FeedbackRunner {
	return &FeedbackRunner{deps: d.withDefaults()}
}

func (r *FeedbackRunner) Role() Role { return RoleFeedback }

// Run implements Runner.
func (r *FeedbackRunner) Run(ctx context.Context, target Target) Outcome {
	return execute(ctx, r.deps, RoleFeedback, target, r.assess)
}

func (r *FeedbackRunner) assess(ctx context.Context, page browser.Page, logger zerolog.Logger) (Payload, error) {
	res := &FeedbackResult{Screenshots: []ViewportShot{}}

	perf, err := r.deps.Performance.Measure(ctx, page)
	if err != nil {
		return res, err
	}
	res.Performance = perf
	res.PerformanceScore = PerformanceScore(perf)

	dom, err := browser.AnalyzeDOM(ctx, page)
	if err != nil {
		return res, err
	}
	res.DOM = dom

	audit, err := r.deps.Auditor.Audit(ctx, page, browser.DefaultAuditTags)
	if err != nil {
		return res, err
	}
	violations := audit.Violations
	if violations == nil {
		violations = []browser.Violation{}
	}
	res.Accessibility = &Accessibility{
		Compliance: audit.Compliance(),
		WCAG:       browser.DefaultAuditTags,
		Violations: violations,
	}

	for _, vp := range browser.Breakpoints {
		if err := page.SetViewport(ctx, vp.Width, vp.Height); err != nil {
			return res, err
		}
		path, err := page.Screenshot(ctx, fmt.Sprintf("viewport_%dx%d", vp.Width, vp.Height))
		if err != nil {
			return res, err
		}
		overflow, err := browser.HasHorizontalOverflow(ctx, page)
		if err != nil {
			logger.Debug().Err(err).Str("viewport", vp.Name).Msg("Overflow check failed")
		}
		res.Screenshots = append(res.Screenshots, ViewportShot{Viewport: vp, Path: path, Overflowed: overflow})
	}

	res.Usability = GenerateInsights(dom, audit, res.Screenshots)
	logger.Info().Str("summary", res.Usability.Summary).Msg("Usability report generated")
	return res, nil
}
