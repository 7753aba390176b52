// Package probe checks link reachability with bounded concurrency and
// exponential backoff on transient failures.
package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/harun/uxorbit/internal/metrics"
	"github.com/harun/uxorbit/internal/tracing"
	"github.com/harun/uxorbit/pkg/browser"
)

// Defaults match the link checker's historical behavior.
const (
	DefaultConcurrency = 8
	DefaultMaxRetries  = 3
	DefaultBaseDelay   = 250 * time.Millisecond
	DefaultTimeout     = 10 * time.Second
)

// Result is the outcome of probing one link.
type Result struct {
	URL        string `json:"url"`
	Status     *int   `json:"status"`
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
	Redirected bool   `json:"redirected"`
	Attempts   int    `json:"attempts"`
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Prober runs reachability checks.
type Prober struct {
	client      *http.Client
	concurrency int
	maxRetries  int
	baseDelay   time.Duration
	timeout     time.Duration
	sleep       SleepFunc
	metrics     *metrics.Metrics
}

// Option configures a Prober.
type Option func(*Prober)

// WithClient sets the HTTP client. It must follow redirects for Redirected to be reported.
func WithClient(c *http.Client) Option { return func(p *Prober) { p.client = c } }

// WithConcurrency sets the batch size.
func WithConcurrency(n int) Option {
	return func(p *Prober) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithRetry sets the retry count and the first backoff delay.
func WithRetry(maxRetries int, baseDelay time.Duration) Option {
	return func(p *Prober) {
		if maxRetries >= 0 {
			p.maxRetries = maxRetries
		}
		if baseDelay >= 0 {
			p.baseDelay = baseDelay
		}
	}
}

// WithTimeout bounds each HTTP attempt.
func WithTimeout(d time.Duration) Option {
	return func(p *Prober) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// WithSleep replaces the backoff wait, mainly for tests.
func WithSleep(fn SleepFunc) Option { return func(p *Prober) { p.sleep = fn } }

// WithMetrics records attempts.
func WithMetrics(m *metrics.Metrics) Option { return func(p *Prober) { p.metrics = m } }

// New creates a Prober.
func New(opts ...Option) *Prober {
	p := &Prober{
		client:      &http.Client{},
		concurrency: DefaultConcurrency,
		maxRetries:  DefaultMaxRetries,
		baseDelay:   DefaultBaseDelay,
		timeout:     DefaultTimeout,
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Excluded reports whether target is skipped without any network traffic:
// in-page anchors, non-http(s) schemes and direct downloads.
func Excluded(target string) bool {
	target = strings.TrimSpace(target)
	if target == "" || strings.HasPrefix(target, "#") {
		return true
	}
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return true
	}
	return browser.IsDownloadURL(target)
}

// Backoff returns the wait before retry number attempt (0-based).
func (p *Prober) Backoff(attempt int) time.Duration {
	return p.baseDelay * time.Duration(1<<attempt)
}

// Check probes one target. It returns nil for excluded targets and never an error:
// failures are reported in the result.
func (p *Prober) Check(ctx context.Context, target string) *Result {
	if Excluded(target) {
		return nil
	}

	res := &Result{URL: target}
	for attempt := 0; ; attempt++ {
		res.Attempts = attempt + 1

		status, finalURL, err := p.attempt(ctx, target)
		classified := Classify(status, err)

		if classified == nil {
			p.metrics.ProbeAttempt("ok")
			res.OK = true
			res.Status = &status
			res.Redirected = finalURL != "" && finalURL != target
			res.Error = ""
			return res
		}

		if !IsTransient(classified) {
			p.metrics.ProbeAttempt("terminal")
			return terminal(res, status, classified)
		}

		p.metrics.ProbeAttempt("transient")
		if attempt >= p.maxRetries {
			return terminal(res, status, classified)
		}

		delay := p.Backoff(attempt)
		log.Debug().Str("url", target).Int("attempt", attempt+1).Dur("delay", delay).Err(classified).Msg("Transient probe failure, retrying")
		if err := p.sleep(ctx, delay); err != nil {
			return terminal(res, status, err)
		}
	}
}

func terminal(res *Result, status int, err error) *Result {
	res.OK = false
	res.Redirected = false
	if status > 0 {
		res.Status = &status
	} else {
		res.Status = nil
	}
	res.Error = err.Error()
	return res
}

// attempt performs HEAD, falling back to GET when HEAD is not allowed.
func (p *Prober) attempt(ctx context.Context, target string) (int, string, error) {
	status, finalURL, err := p.do(ctx, http.MethodHead, target)
	if err == nil && status == http.StatusMethodNotAllowed {
		return p.do(ctx, http.MethodGet, target)
	}
	return status, finalURL, err
}

func (p *Prober) do(ctx context.Context, method, target string) (int, string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("User-Agent", "uxorbit-linkcheck/1.0")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	finalURL := target
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return resp.StatusCode, finalURL, nil
}

// CheckAll probes targets in fixed-size batches; each batch fully settles
// before the next starts. The result slice is index-aligned with targets
// and holds nil for excluded targets.
func (p *Prober) CheckAll(ctx context.Context, targets []string) []*Result {
	results := make([]*Result, len(targets))

	for start := 0; start < len(targets); start += p.concurrency {
		end := start + p.concurrency
		if end > len(targets) {
			end = len(targets)
		}

		bctx, span := tracing.StartSpan(ctx, tracing.TracerProbe, "probe.batch",
			attribute.Int("batch.start", start),
			attribute.Int("batch.size", end-start),
		)

		var g errgroup.Group
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				results[i] = p.Check(bctx, targets[i])
				return nil
			})
		}
		_ = g.Wait()
		span.End()
	}

	return results
}

// Checked filters excluded (nil) entries out of results, keeping order.
func Checked(results []*Result) []*Result {
	out := make([]*Result, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// Broken returns the checked results that are not OK.
func Broken(results []*Result) []*Result {
	var out []*Result
	for _, r := range results {
		if r != nil && !r.OK {
			out = append(out, r)
		}
	}
	return out
}

func (r *Result) String() string {
	if r.OK {
		return fmt.Sprintf("%s ok", r.URL)
	}
	return fmt.Sprintf("%s broken: %s", r.URL, r.Error)
}
