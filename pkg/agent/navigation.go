package agent

import (
	"context"
	"fmt"
	"net/url"
	"regexp"

	"github.com/rs/zerolog"

	"github.com/harun/uxorbit/pkg/browser"
	"github.com/harun/uxorbit/pkg/probe"
)

const detectLinksScript = `() => {
  const sel = 'a[href], area[href], [role="link"], [data-nav], [data-link], button[formaction]';
  return Array.from(document.querySelectorAll(sel)).map((el) => {
    const r = el.getBoundingClientRect();
    return {
      href: el.getAttribute('href') || el.getAttribute('formaction') ||
        el.getAttribute('data-nav') || el.getAttribute('data-link') || '',
      text: (el.textContent || el.getAttribute('aria-label') || el.getAttribute('title') || '').trim(),
      visible: r.width > 0 && r.height > 0,
    };
  });
}`

var nonNavigational = regexp.MustCompile(`(?i)^\s*(mailto:|tel:|javascript:)`)

type rawLink struct {
	Href    string `json:"href"`
	Text    string `json:"text"`
	Visible bool   `json:"visible"`
}

// NavigationRunner detects and probes links, measures the page load and
// runs the matching navigation flows.
type NavigationRunner struct {
	deps Deps
}

// NewNavigationRunner creates the navigation-testing runner.
func NewNavigationRunner(d Deps) *NavigationRunner {
	return &NavigationRunner{deps: d.withDefaults()}
}

func (r *NavigationRunner) Role() Role { return RoleNavigation }

// Run implements Runner.
func (r *NavigationRunner) Run(ctx context.Context, target Target) Outcome {
	return execute(ctx, r.deps, RoleNavigation, target, func(ctx context.Context, page browser.Page, logger zerolog.Logger) (Payload, error) {
		return r.testNavigation(ctx, page, logger, target)
	})
}

func (r *NavigationRunner) testNavigation(ctx context.Context, page browser.Page, logger zerolog.Logger, target Target) (Payload, error) {
	res := &NavigationResult{Links: []Link{}, LinkChecks: []*probe.Result{}, Flows: nil}

	base, err := url.Parse(target.URL)
	if err != nil {
		return res, fmt.Errorf("parse target url: %w", err)
	}
	if current := page.URL(); current != "" {
		if u, err := url.Parse(current); err == nil && u.Host != "" {
			base = u
		}
	}

	links, err := r.detectLinks(ctx, page, base)
	if err != nil {
		return res, err
	}
	res.Links = links
	logger.Info().Int("links", len(links)).Msg("Detected links")

	res.LinkChecks = probe.Checked(r.deps.Prober.CheckAll(ctx, probeTargets(links)))

	perf, err := r.deps.Performance.Measure(ctx, page)
	if err != nil {
		logger.Warn().Err(err).Msg("Page load measurement failed")
	} else {
		res.Performance = perf
	}

	if r.deps.Flows != nil {
		flows, err := r.deps.Flows.Select(target.URL, target.Flows)
		if err != nil {
			return res, err
		}
		res.Flows = r.deps.Executor.RunAll(ctx, page, flows)
	}

	res.Report = navigationFindings(res)
	return res, nil
}

func (r *NavigationRunner) detectLinks(ctx context.Context, page browser.Page, base *url.URL) ([]Link, error) {
	var raw []rawLink
	if err := page.Evaluate(ctx, detectLinksScript, &raw); err != nil {
		return nil, fmt.Errorf("detect links: %w", err)
	}

	links := make([]Link, 0, len(raw))
	for _, l := range raw {
		if !l.Visible || nonNavigational.MatchString(l.Href) {
			continue
		}
		kind, abs := browser.ClassifyLink(base, l.Href)
		if kind == browser.LinkSkipped {
			continue
		}
		links = append(links, Link{Href: l.Href, AbsoluteURL: abs, Text: l.Text, Kind: kind})
	}
	return links, nil
}

// probeTargets returns the distinct internal and external URLs in order.
func probeTargets(links []Link) []string {
	seen := make(map[string]bool, len(links))
	var out []string
	for _, l := range links {
		if l.Kind != browser.LinkInternal && l.Kind != browser.LinkExternal {
			continue
		}
		if seen[l.AbsoluteURL] {
			continue
		}
		seen[l.AbsoluteURL] = true
		out = append(out, l.AbsoluteURL)
	}
	return out
}

func navigationFindings(res *NavigationResult) *UsabilityReport {
	var issues []Issue
	var recs []string

	if broken := probe.Broken(res.LinkChecks); len(broken) > 0 {
		for _, b := range broken {
			issues = append(issues, Issue{Type: "navigation", Severity: "high", Message: "Broken link: " + b.URL})
		}
		recs = append(recs, "Fix or remove broken links.")
	}

	for _, f := range res.Flows {
		if f.Success {
			continue
		}
		msg := fmt.Sprintf("Flow %q failed.", f.Name)
		if s := f.FailedStep(); s != nil {
			msg = fmt.Sprintf("Flow %q failed at step %q.", f.Name, s.Step.Label())
		}
		issues = append(issues, Issue{Type: "flow", Severity: "high", Message: msg})
		recs = append(recs, "Investigate failing user journeys.")
	}

	return Findings(issues, recs...)
}
