package browser

import (
	"context"
	"fmt"
)

// PerformanceSource extracts timing metrics from a loaded page.
type PerformanceSource interface {
	Measure(ctx context.Context, page Page) (*PerformanceMetrics, error)
}

// PerformanceMetrics are milliseconds except CLS, which is unitless.
// A nil field means the browser did not report the metric.
type PerformanceMetrics struct {
	LoadTime               *float64       `json:"loadTime"`
	DOMContentLoaded       *float64       `json:"domContentLoaded"`
	FirstContentfulPaint   *float64       `json:"firstContentfulPaint"`
	LargestContentfulPaint *float64       `json:"largestContentfulPaint"`
	CumulativeLayoutShift  *float64       `json:"cumulativeLayoutShift"`
	ResourceCounts         map[string]int `json:"resourceCounts"`
}

// TimingSource reads the Navigation Timing, Paint Timing and buffered
// PerformanceObserver entries of the current document.
type TimingSource struct{}

// NewTimingSource creates the in-page performance source.
func NewTimingSource() *TimingSource {
	return &TimingSource{}
}

// Measure evaluates the timing script against the loaded page.
func (s *TimingSource) Measure(ctx context.Context, page Page) (*PerformanceMetrics, error) {
	var m PerformanceMetrics
	if err := page.Evaluate(ctx, timingScript, &m); err != nil {
		return nil, fmt.Errorf("measure performance: %w", err)
	}
	if m.ResourceCounts == nil {
		m.ResourceCounts = map[string]int{}
	}
	return &m, nil
}

const timingScript = `() => new Promise((resolve) => {
  let lcp = null;
  let cls = null;
  try {
    new PerformanceObserver((list) => {
      for (const e of list.getEntries()) lcp = e.startTime;
    }).observe({ type: 'largest-contentful-paint', buffered: true });
  } catch (e) {}
  try {
    new PerformanceObserver((list) => {
      for (const e of list.getEntries()) if (!e.hadRecentInput) cls = (cls || 0) + e.value;
    }).observe({ type: 'layout-shift', buffered: true });
  } catch (e) {}
  setTimeout(() => {
    const nav = performance.getEntriesByType('navigation')[0];
    const fcp = performance.getEntriesByType('paint').find(e => e.name === 'first-contentful-paint');
    const counts = {};
    performance.getEntriesByType('resource').forEach(r => { counts[r.initiatorType] = (counts[r.initiatorType] || 0) + 1; });
    resolve({
      loadTime: nav && nav.loadEventEnd > 0 ? nav.loadEventEnd - nav.startTime : null,
      domContentLoaded: nav && nav.domContentLoadedEventEnd > 0 ? nav.domContentLoadedEventEnd - nav.startTime : null,
      firstContentfulPaint: fcp ? fcp.startTime : null,
      largestContentfulPaint: lcp,
      cumulativeLayoutShift: cls === null && lcp !== null ? 0 : cls,
      resourceCounts: counts,
    });
  }, 100);
})`
