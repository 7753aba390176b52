package orchestrator

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/harun/uxorbit/pkg/browser"
	"github.com/harun/uxorbit/pkg/dispatch"
	"github.com/harun/uxorbit/pkg/flow"
	"github.com/harun/uxorbit/pkg/results"
	"github.com/harun/uxorbit/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testService struct {
	*Service
	store   *session.Store
	results *results.SQLiteStore
	catalog *flow.Catalog
}

func newTestService(t *testing.T, maxSessions int, runners ...*fakeRunner) *testService {
	t.Helper()
	store := session.NewStore(session.Options{MaxSessions: maxSessions})
	res, err := results.Open(filepath.Join(t.TempDir(), "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { res.Close() })

	catalog := flow.NewCatalog(t.TempDir())
	require.NoError(t, catalog.Add(flow.Flow{
		Name:  "checkout",
		Match: "*",
		Steps: []flow.Step{{Action: flow.ActionGoto, URL: "https://shop.test/cart"}},
	}))

	d := dispatch.New(dispatch.Options{Concurrency: 2})
	t.Cleanup(func() { d.Close(context.Background()) })

	svc := NewService(ServiceConfig{
		Sessions:     store,
		Orchestrator: New(store, registry(runners...), WithResults(res)),
		Dispatcher:   d,
		Results:      res,
		Flows:        catalog,
	})
	return &testService{Service: svc, store: store, results: res, catalog: catalog}
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    Request
		wantErr bool
	}{
		{
			name: "full",
			body: `{"url":"https://shop.test","agents":["form","feedback"],"flows":["checkout"]}`,
			want: Request{URL: "https://shop.test", Agents: []string{"form", "feedback"}, Flows: []string{"checkout"}},
		},
		{
			name: "without flows",
			body: `{"url":"https://shop.test","agents":["navigation"]}`,
			want: Request{URL: "https://shop.test", Agents: []string{"navigation"}},
		},
		{name: "missing url", body: `{"agents":["form"]}`, wantErr: true},
		{name: "empty agents", body: `{"url":"https://shop.test","agents":[]}`, wantErr: true},
		{name: "agents not strings", body: `{"url":"https://shop.test","agents":[1]}`, wantErr: true},
		{name: "not json", body: `url=https://shop.test`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRequest([]byte(tt.body))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRequest)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestService_CreateSessionValidation(t *testing.T) {
	svc := newTestService(t, 10, feedbackRunner(90))

	tests := []struct {
		name string
		req  Request
	}{
		{"empty url", Request{Agents: []string{"feedback"}}},
		{"ftp url", Request{URL: "ftp://shop.test", Agents: []string{"feedback"}}},
		{"relative url", Request{URL: "/cart", Agents: []string{"feedback"}}},
		{"no agents", Request{URL: "https://shop.test"}},
		{"unknown agent", Request{URL: "https://shop.test", Agents: []string{"robot"}}},
		{"unknown flow", Request{URL: "https://shop.test", Agents: []string{"navigation"}, Flows: []string{"refund"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateSession(context.Background(), tt.req)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
	assert.Equal(t, 0, svc.store.Len())
}

func TestService_CreateSessionRespectsURLPolicy(t *testing.T) {
	store := session.NewStore(session.Options{})
	svc := NewService(ServiceConfig{
		Sessions: store,
		URLs:     browser.NewSecurityValidator(browser.SecurityConfig{BlockedDomains: []string{"evil.test"}}),
	})

	_, err := svc.CreateSession(context.Background(), Request{URL: "https://evil.test", Agents: []string{"feedback"}})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = svc.CreateSession(context.Background(), Request{URL: "http://localhost:3000", Agents: []string{"feedback"}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestService_SubmitAndResult(t *testing.T) {
	svc := newTestService(t, 10, feedbackRunner(90))

	id, h, err := svc.Submit(context.Background(), Request{
		URL:    "https://shop.test",
		Agents: []string{"feedback"},
		Flows:  []string{"checkout"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.NoError(t, h.Wait(waitCtx(t)))

	status, err := svc.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, status)

	report, status, err := svc.Result(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, status)
	require.NotNil(t, report)
	assert.Equal(t, []string{"checkout"}, report.Metadata.Flows)

	// Reads of a terminal session are stable.
	again, _, err := svc.Result(context.Background(), id)
	require.NoError(t, err)
	assert.Same(t, report, again)
}

func TestService_ResultWhileRunning(t *testing.T) {
	release := make(chan struct{})
	fb := feedbackRunner(90)
	fb.before = func(ctx context.Context) { <-release }
	svc := newTestService(t, 10, fb)

	id, h, err := svc.Submit(context.Background(), Request{URL: "https://shop.test", Agents: []string{"feedback"}})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		st, _ := svc.Status(context.Background(), id)
		return st == session.StatusRunning
	}, 2*time.Second, 10*time.Millisecond)

	report, status, err := svc.Result(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, report)
	assert.Equal(t, session.StatusRunning, status)

	close(release)
	require.NoError(t, h.Wait(waitCtx(t)))
}

func TestService_StartTwice(t *testing.T) {
	svc := newTestService(t, 10, feedbackRunner(90))
	id, err := svc.CreateSession(context.Background(), Request{URL: "https://shop.test", Agents: []string{"feedback"}})
	require.NoError(t, err)

	h, err := svc.Start(context.Background(), id)
	require.NoError(t, err)
	require.NoError(t, h.Wait(waitCtx(t)))

	_, err = svc.Start(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotPending)

	_, err = svc.Start(context.Background(), "missing")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestService_ResultFallsBackToPersisted(t *testing.T) {
	svc := newTestService(t, 1, feedbackRunner(90))

	first, h, err := svc.Submit(context.Background(), Request{URL: "https://shop.test", Agents: []string{"feedback"}})
	require.NoError(t, err)
	require.NoError(t, h.Wait(waitCtx(t)))

	// Admitting a second session evicts the finished first one from memory.
	_, err = svc.CreateSession(context.Background(), Request{URL: "https://shop.test", Agents: []string{"feedback"}})
	require.NoError(t, err)
	assert.False(t, svc.store.Exists(first))

	report, status, err := svc.Result(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, status)
	assert.Equal(t, first, report.Metadata.SessionID)

	st, err := svc.Status(context.Background(), first)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, st)
}

func TestService_UnknownSession(t *testing.T) {
	svc := newTestService(t, 10)
	_, err := svc.Status(context.Background(), "ghost")
	assert.ErrorIs(t, err, session.ErrNotFound)
	_, _, err = svc.Result(context.Background(), "ghost")
	assert.ErrorIs(t, err, session.ErrNotFound)
	_, _, err = svc.Watch("ghost")
	assert.ErrorIs(t, err, session.ErrNotFound)
}

func TestService_CapacityError(t *testing.T) {
	release := make(chan struct{})
	fb := feedbackRunner(90)
	fb.before = func(ctx context.Context) { <-release }
	svc := newTestService(t, 1, fb)

	id, h, err := svc.Submit(context.Background(), Request{URL: "https://shop.test", Agents: []string{"feedback"}})
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		st, _ := svc.store.GetStatus(id)
		return st == session.StatusRunning
	}, 2*time.Second, 10*time.Millisecond)

	_, err = svc.CreateSession(context.Background(), Request{URL: "https://shop.test", Agents: []string{"feedback"}})
	assert.ErrorIs(t, err, session.ErrCapacity)

	close(release)
	require.NoError(t, h.Wait(waitCtx(t)))
}

func TestService_Shutdown(t *testing.T) {
	svc := newTestService(t, 10, feedbackRunner(90))
	require.NoError(t, svc.Shutdown(context.Background()))

	id, err := svc.CreateSession(context.Background(), Request{URL: "https://shop.test", Agents: []string{"feedback"}})
	require.NoError(t, err)
	_, err = svc.Start(context.Background(), id)
	assert.ErrorIs(t, err, dispatch.ErrClosed)
}

func TestService_SubmitAfterShutdownReleasesSession(t *testing.T) {
	svc := newTestService(t, 10, feedbackRunner(90))
	require.NoError(t, svc.Shutdown(context.Background()))

	id, h, err := svc.Submit(context.Background(), Request{URL: "https://shop.test", Agents: []string{"feedback"}})
	assert.ErrorIs(t, err, dispatch.ErrClosed)
	assert.Empty(t, id)
	assert.Nil(t, h)
	assert.Equal(t, 0, svc.store.Len())
}

func TestService_Stats(t *testing.T) {
	release := make(chan struct{})
	fb := feedbackRunner(90)
	fb.before = func(ctx context.Context) { <-release }
	svc := newTestService(t, 10, fb)

	id, h, err := svc.Submit(context.Background(), Request{URL: "https://shop.test", Agents: []string{"feedback"}})
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		st, _ := svc.store.GetStatus(id)
		return st == session.StatusRunning
	}, 2*time.Second, 10*time.Millisecond)

	stats := svc.Stats()
	assert.Equal(t, 1, stats.Sessions)
	assert.Equal(t, 1, stats.Dispatch.Running)
	assert.Equal(t, 0, stats.Dispatch.Queued)
	assert.Equal(t, 2, stats.Dispatch.Concurrency)

	close(release)
	require.NoError(t, h.Wait(waitCtx(t)))
	assert.Eventually(t, func() bool { return svc.Stats().Dispatch.Running == 0 }, time.Second, 10*time.Millisecond)
}
