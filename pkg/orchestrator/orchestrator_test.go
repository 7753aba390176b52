package orchestrator

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/harun/uxorbit/internal/metrics"
	"github.com/harun/uxorbit/pkg/agent"
	"github.com/harun/uxorbit/pkg/aggregate"
	"github.com/harun/uxorbit/pkg/results"
	"github.com/harun/uxorbit/pkg/session"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 { return &v }

// fakeRunner returns a fixed outcome, optionally after a hook runs.
type fakeRunner struct {
	role    agent.Role
	outcome agent.Outcome
	before  func(ctx context.Context)
	panics  bool
	calls   atomic.Int32
	target  agent.Target
	mu      sync.Mutex
}

func (f *fakeRunner) Role() agent.Role { return f.role }

func (f *fakeRunner) Run(ctx context.Context, target agent.Target) agent.Outcome {
	f.calls.Add(1)
	f.mu.Lock()
	f.target = target
	f.mu.Unlock()
	if f.before != nil {
		f.before(ctx)
	}
	if f.panics {
		panic("runner exploded")
	}
	out := f.outcome
	out.Role = f.role
	return out
}

func feedbackRunner(usability float64) *fakeRunner {
	return &fakeRunner{
		role: agent.RoleFeedback,
		outcome: agent.Outcome{
			RunID: "run-feedback",
			Payload: &agent.FeedbackResult{
				Usability: &agent.UsabilityReport{
					Summary:         "Usability score: 90/100. Found 1 issues.",
					Score:           ptr(usability),
					Issues:          []agent.Issue{{Type: "image", Severity: "high", Message: "Missing or empty alt text on images."}},
					Recommendations: []string{"Add descriptive alt text to all images."},
				},
				Accessibility:    &agent.Accessibility{Compliance: ptr(75)},
				PerformanceScore: ptr(100),
			},
		},
	}
}

func formRunner() *fakeRunner {
	return &fakeRunner{
		role: agent.RoleForm,
		outcome: agent.Outcome{
			RunID:   "run-form",
			Payload: &agent.FormResult{Forms: []agent.FormReport{{Index: 0, Submitted: true, Success: true}}},
		},
	}
}

func failingNavigationRunner() *fakeRunner {
	return &fakeRunner{
		role: agent.RoleNavigation,
		outcome: agent.Outcome{
			RunID:    "run-nav",
			Error:    "navigation timeout",
			Artifact: "/shots/fatal_error.png",
		},
	}
}

func registry(runners ...*fakeRunner) *agent.Registry {
	r := agent.NewEmptyRegistry()
	for _, run := range runners {
		r.Register(run)
	}
	return r
}

func newStore() *session.Store {
	return session.NewStore(session.Options{MaxSessions: 10})
}

func createSession(t *testing.T, store *session.Store, roles ...string) string {
	t.Helper()
	sess, err := store.Create(context.Background(), "", "https://shop.test", roles)
	require.NoError(t, err)
	return sess.ID
}

func TestRun_AllSucceed(t *testing.T) {
	store := newStore()
	m := metrics.NewMetrics()
	fb, form := feedbackRunner(90), formRunner()
	o := New(store, registry(fb, form), WithMetrics(m))

	id := createSession(t, store, "feedback", "form")
	report, err := o.Run(context.Background(), id)
	require.NoError(t, err)

	assert.Empty(t, report.AgentFailures)
	require.NotNil(t, report.Scores.Usability)
	assert.Equal(t, 90.0, *report.Scores.Usability)
	assert.Equal(t, 75.0, *report.Scores.Accessibility)
	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, agent.RoleFeedback, report.Outcomes[0].Role)
	assert.Equal(t, agent.RoleForm, report.Outcomes[1].Role)

	require.NotNil(t, report.Metadata)
	assert.Equal(t, id, report.Metadata.SessionID)
	assert.Equal(t, "https://shop.test", report.Metadata.URL)
	assert.Equal(t, string(session.StatusCompleted), report.Metadata.Status)
	assert.Equal(t, []agent.Role{agent.RoleFeedback, agent.RoleForm}, report.Metadata.Roles)

	sess, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, sess.Status)
	assert.Same(t, report, sess.Result)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.OrchestrationsTotal.WithLabelValues("completed")))
}

func TestRun_PassesTarget(t *testing.T) {
	store := newStore()
	fb := feedbackRunner(80)
	o := New(store, registry(fb))

	sess, err := store.Create(context.Background(), "", "https://shop.test/cart", []string{"feedback"}, session.WithFlows("checkout"))
	require.NoError(t, err)
	_, err = o.Run(context.Background(), sess.ID)
	require.NoError(t, err)

	fb.mu.Lock()
	defer fb.mu.Unlock()
	assert.Equal(t, agent.Target{URL: "https://shop.test/cart", Flows: []string{"checkout"}}, fb.target)
}

func TestRun_FailureIsIsolated(t *testing.T) {
	store := newStore()
	fb, nav := feedbackRunner(90), failingNavigationRunner()
	o := New(store, registry(fb, nav))

	id := createSession(t, store, "navigation", "feedback")
	report, err := o.Run(context.Background(), id)
	require.NoError(t, err)

	require.Len(t, report.AgentFailures, 1)
	assert.Equal(t, agent.RoleNavigation, report.AgentFailures[0].Role)
	assert.Equal(t, "navigation timeout", report.AgentFailures[0].Error)
	assert.Equal(t, 90.0, *report.Scores.Usability)
	assert.Equal(t, int32(1), fb.calls.Load())

	status, err := store.GetStatus(id)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompletedWithErrors, status)
}

func TestRun_UnknownRole(t *testing.T) {
	store := newStore()
	o := New(store, registry(feedbackRunner(90)))

	id := createSession(t, store, "feedback", "bogus")
	report, err := o.Run(context.Background(), id)
	require.NoError(t, err)

	require.Len(t, report.Outcomes, 2)
	assert.Equal(t, agent.Role("bogus"), report.Outcomes[1].Role)
	assert.Equal(t, "Unknown agent type: bogus", report.Outcomes[1].Error)
	require.Len(t, report.AgentFailures, 1)

	status, _ := store.GetStatus(id)
	assert.Equal(t, session.StatusCompletedWithErrors, status)
}

func TestRun_RunnerPanicIsCaptured(t *testing.T) {
	store := newStore()
	fb := feedbackRunner(90)
	form := formRunner()
	form.panics = true
	o := New(store, registry(fb, form))

	id := createSession(t, store, "form", "feedback")
	report, err := o.Run(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, "agent panicked: runner exploded", report.Outcomes[0].Error)
	assert.False(t, report.Outcomes[1].Failed())
	status, _ := store.GetStatus(id)
	assert.Equal(t, session.StatusCompletedWithErrors, status)
}

func TestRun_AggregationFault(t *testing.T) {
	store := newStore()
	m := metrics.NewMetrics()
	o := New(store, registry(feedbackRunner(90)), WithMetrics(m), WithAggregator(func([]agent.Outcome, aggregate.Options) *aggregate.Report {
		panic("bad shape")
	}))

	id := createSession(t, store, "feedback")
	report, err := o.Run(context.Background(), id)
	require.NoError(t, err)

	assert.Equal(t, "Test run failed: aggregation panicked: bad shape", report.Summary)
	assert.Equal(t, "aggregation panicked: bad shape", report.Error)
	assert.Equal(t, string(session.StatusFailed), report.Metadata.Status)

	sess, err := store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, session.StatusFailed, sess.Status)
	assert.NotNil(t, sess.Result)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OrchestrationsTotal.WithLabelValues("failed")))
}

func TestRun_NilAggregationIsFault(t *testing.T) {
	store := newStore()
	o := New(store, registry(feedbackRunner(90)), WithAggregator(func([]agent.Outcome, aggregate.Options) *aggregate.Report {
		return nil
	}))

	id := createSession(t, store, "feedback")
	report, err := o.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "aggregation produced no report", report.Error)
}

func TestRun_Preconditions(t *testing.T) {
	store := newStore()
	o := New(store, registry(feedbackRunner(90)))

	_, err := o.Run(context.Background(), "missing")
	assert.ErrorIs(t, err, session.ErrNotFound)

	id := createSession(t, store, "feedback")
	_, err = o.Run(context.Background(), id)
	require.NoError(t, err)

	_, err = o.Run(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotPending)
	status, _ := store.GetStatus(id)
	assert.Equal(t, session.StatusCompleted, status)
}

func TestRun_RolesRunConcurrently(t *testing.T) {
	store := newStore()
	var started sync.WaitGroup
	started.Add(3)
	barrier := func(ctx context.Context) {
		started.Done()
		done := make(chan struct{})
		go func() {
			started.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(3 * time.Second):
		}
	}

	fb, form, nav := feedbackRunner(90), formRunner(), failingNavigationRunner()
	fb.before, form.before, nav.before = barrier, barrier, barrier
	o := New(store, registry(fb, form, nav))

	id := createSession(t, store, "feedback", "form", "navigation")
	start := time.Now()
	_, err := o.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRun_TransitionsInOrder(t *testing.T) {
	store := newStore()
	o := New(store, registry(feedbackRunner(90)))
	id := createSession(t, store, "feedback")

	events, cancel, err := store.Subscribe(id)
	require.NoError(t, err)
	defer cancel()

	_, err = o.Run(context.Background(), id)
	require.NoError(t, err)

	var path []session.Status
	for ev := range events {
		path = append(path, ev.To)
	}
	assert.Equal(t, []session.Status{session.StatusRunning, session.StatusCompleted}, path)
}

func TestRun_TrendAndPersistence(t *testing.T) {
	res, err := results.Open(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	defer res.Close()

	prev := &aggregate.Report{Scores: aggregate.Scores{Usability: ptr(70), Accessibility: ptr(80)}}
	require.NoError(t, res.Save(context.Background(), results.Record{
		SessionID: "earlier",
		URL:       "https://shop.test",
		Status:    "completed",
		CreatedAt: time.Now().Add(-time.Hour),
		Report:    prev,
	}))

	store := newStore()
	o := New(store, registry(feedbackRunner(90)),
		WithResults(res),
		WithTrend(true),
		WithWeights(aggregate.Weights{aggregate.Usability: 2}),
	)

	id := createSession(t, store, "feedback")
	report, err := o.Run(context.Background(), id)
	require.NoError(t, err)

	require.NotNil(t, report.Trend)
	assert.Equal(t, 20.0, *report.Trend.Usability)
	assert.Equal(t, -5.0, *report.Trend.Accessibility)
	assert.Equal(t, 100.0, *report.Trend.Performance)
	require.NotNil(t, report.Composite)
	assert.Equal(t, 88.75, *report.Composite)

	rec, err := res.Load(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "completed", rec.Status)
	assert.Equal(t, id, rec.Report.Metadata.SessionID)
}

func TestRun_TrendDisabled(t *testing.T) {
	res, err := results.Open(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	defer res.Close()

	store := newStore()
	o := New(store, registry(feedbackRunner(90)), WithResults(res))
	id := createSession(t, store, "feedback")
	report, err := o.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, report.Trend)
	assert.Nil(t, report.Composite)
}

type brokenResults struct{ results.Store }

func (brokenResults) LatestForURL(context.Context, string, time.Time) (*results.Record, error) {
	return nil, errors.New("disk on fire")
}

func (brokenResults) Save(context.Context, results.Record) error {
	return errors.New("disk on fire")
}

func TestRun_PersistenceErrorsAreNotFatal(t *testing.T) {
	store := newStore()
	o := New(store, registry(feedbackRunner(90)), WithResults(brokenResults{}), WithTrend(true))

	id := createSession(t, store, "feedback")
	report, err := o.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, report.Trend)

	status, _ := store.GetStatus(id)
	assert.Equal(t, session.StatusCompleted, status)
}
