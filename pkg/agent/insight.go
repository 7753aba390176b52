package agent

import (
	"fmt"
	"math"

	"github.com/harun/uxorbit/pkg/browser"
)

// Recommendation texts keyed by issue type.
var recommendations = map[string]string{
	"structure": "Fix invalid HTML structure.",
	"heading":   "Correct heading hierarchy for better accessibility.",
	"form":      "Add labels to all form inputs.",
	"image":     "Add descriptive alt text to all images.",
	"layout":    "Remove horizontal overflow on narrow viewports.",
}

// SeverityWeight is the score penalty of one issue.
func SeverityWeight(severity string) int {
	switch severity {
	case "critical", "high":
		return 10
	case "medium", "serious":
		return 5
	case "low", "minor":
		return 2
	default:
		return 1
	}
}

// DOMIssues converts a DOM snapshot into issues.
func DOMIssues(dom *browser.DOMSnapshot) []Issue {
	if dom == nil {
		return nil
	}
	var issues []Issue
	if !dom.HTMLValid {
		issues = append(issues, Issue{Type: "structure", Severity: "critical", Message: "Invalid HTML structure."})
	}
	for _, msg := range dom.HeadingSkips() {
		issues = append(issues, Issue{Type: "heading", Severity: "medium", Message: msg})
	}
	if len(dom.UnlabeledInputs) > 0 {
		issues = append(issues, Issue{Type: "form", Severity: "high", Message: "Unlabeled input(s) found."})
	}
	if len(dom.MissingAlt()) > 0 {
		issues = append(issues, Issue{Type: "image", Severity: "high", Message: "Missing or empty alt text on images."})
	}
	return issues
}

// GenerateInsights scores the page from its DOM, audit and responsive checks.
// Any input may be nil.
func GenerateInsights(dom *browser.DOMSnapshot, audit *browser.AuditResult, shots []ViewportShot) *UsabilityReport {
	issues := DOMIssues(dom)

	if audit != nil {
		for _, v := range audit.Violations {
			issues = append(issues, Issue{
				Type:     "accessibility",
				Severity: v.Impact,
				Message:  v.Description,
				Help:     v.Help,
				Nodes:    v.Nodes,
			})
		}
	}

	for _, s := range shots {
		if s.Overflowed {
			issues = append(issues, Issue{
				Type:     "layout",
				Severity: "medium",
				Message:  fmt.Sprintf("Horizontal overflow at %dx%d.", s.Viewport.Width, s.Viewport.Height),
			})
		}
	}

	return scoreIssues(issues)
}

func scoreIssues(issues []Issue) *UsabilityReport {
	penalty := 0
	recs := newRecommendationSet()
	for _, issue := range issues {
		penalty += SeverityWeight(issue.Severity)
		if issue.Type == "accessibility" {
			recs.add("Accessibility: " + issue.Help)
			continue
		}
		if r, ok := recommendations[issue.Type]; ok {
			recs.add(r)
		}
	}

	score := float64(clamp(100-penalty, 0, 100))
	if issues == nil {
		issues = []Issue{}
	}
	return &UsabilityReport{
		Summary:         fmt.Sprintf("Usability score: %d/100. Found %d issues.", int(score), len(issues)),
		Score:           &score,
		Issues:          issues,
		Recommendations: recs.list(),
	}
}

// Findings builds an unscored report for roles that only surface issues.
func Findings(issues []Issue, recs ...string) *UsabilityReport {
	if len(issues) == 0 && len(recs) == 0 {
		return nil
	}
	set := newRecommendationSet()
	for _, r := range recs {
		set.add(r)
	}
	if issues == nil {
		issues = []Issue{}
	}
	return &UsabilityReport{
		Summary:         fmt.Sprintf("Found %d issues.", len(issues)),
		Issues:          issues,
		Recommendations: set.list(),
	}
}

type recommendationSet struct {
	seen  map[string]struct{}
	order []string
}

func newRecommendationSet() *recommendationSet {
	return &recommendationSet{seen: make(map[string]struct{})}
}

func (s *recommendationSet) add(r string) {
	if _, ok := s.seen[r]; ok {
		return
	}
	s.seen[r] = struct{}{}
	s.order = append(s.order, r)
}

func (s *recommendationSet) list() []string {
	if s.order == nil {
		return []string{}
	}
	return s.order
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Thresholds for the linear performance scale: at or below Good scores 100,
// at or above Poor scores 0.
type threshold struct{ good, poor float64 }

var (
	loadThreshold = threshold{3000, 6000}
	fcpThreshold  = threshold{1800, 3000}
	lcpThreshold  = threshold{2500, 4000}
	clsThreshold  = threshold{0.1, 0.25}
)

func (t threshold) score(v float64) float64 {
	switch {
	case v <= t.good:
		return 100
	case v >= t.poor:
		return 0
	default:
		return 100 * (t.poor - v) / (t.poor - t.good)
	}
}

// PerformanceScore averages the per-metric scores of the metrics present.
// It returns nil when no metric was measured.
func PerformanceScore(m *browser.PerformanceMetrics) *float64 {
	if m == nil {
		return nil
	}
	var sum float64
	var n int
	add := func(v *float64, t threshold) {
		if v == nil || math.IsNaN(*v) {
			return
		}
		sum += t.score(*v)
		n++
	}
	add(m.LoadTime, loadThreshold)
	add(m.FirstContentfulPaint, fcpThreshold)
	add(m.LargestContentfulPaint, lcpThreshold)
	add(m.CumulativeLayoutShift, clsThreshold)
	if n == 0 {
		return nil
	}
	s := math.Round(sum/float64(n)*100) / 100
	return &s
}
