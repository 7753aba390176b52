package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harun/uxorbit/internal/metrics"
	"github.com/harun/uxorbit/pkg/agent"
	"github.com/harun/uxorbit/pkg/dispatch"
	"github.com/harun/uxorbit/pkg/orchestrator"
	"github.com/harun/uxorbit/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct {
	gate chan struct{}
}

func (r *stubRunner) Role() agent.Role { return agent.RoleFeedback }

func (r *stubRunner) Run(ctx context.Context, target agent.Target) agent.Outcome {
	if r.gate != nil {
		<-r.gate
	}
	score := 80.0
	return agent.Outcome{
		Role:  agent.RoleFeedback,
		RunID: "run-1",
		Payload: &agent.FeedbackResult{
			Usability: &agent.UsabilityReport{
				Summary: "Usability score: 80/100. Found 1 issues.",
				Score:   &score,
				Issues:  []agent.Issue{{Type: "image", Severity: "high", Message: "Missing or empty alt text on images."}},
			},
		},
	}
}

type testEnv struct {
	server *Server
	http   *httptest.Server
	store  *session.Store
}

func newTestEnv(t *testing.T, runner *stubRunner) *testEnv {
	t.Helper()
	store := session.NewStore(session.Options{MaxSessions: 10})
	registry := agent.NewEmptyRegistry()
	registry.Register(runner)

	d := dispatch.New(dispatch.Options{Concurrency: 2})
	t.Cleanup(func() { d.Close(context.Background()) })

	svc := orchestrator.NewService(orchestrator.ServiceConfig{
		Sessions:     store,
		Orchestrator: orchestrator.New(store, registry),
		Dispatcher:   d,
	})

	shots := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(shots, "home.png"), []byte("png"), 0o644))

	srv, err := New(Config{Service: svc, Metrics: metrics.NewMetrics(), ScreenshotDir: shots})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testEnv{server: srv, http: ts, store: store}
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(method, e.http.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (e *testEnv) start(t *testing.T, path string) string {
	t.Helper()
	resp, body := e.do(t, http.MethodPost, path, `{"url":"https://shop.test","agents":["feedback"]}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode, string(body))

	var out startResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "started", out.Status)
	require.NotEmpty(t, out.SessionID)
	return out.SessionID
}

func (e *testEnv) waitTerminal(t *testing.T, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, err := e.store.GetStatus(id)
		return err == nil && st.Terminal()
	}, 5*time.Second, 10*time.Millisecond)
}

func TestNew_RequiresService(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &stubRunner{})
	resp, body := env.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok","load":{"sessions":0,"dispatch":{"queued":0,"running":0,"concurrency":2}}}`, string(body))
}

func TestStartStatusResults(t *testing.T) {
	for _, paths := range []struct{ start, status, results string }{
		{"/api/sessions", "/api/sessions/%s/status", "/api/sessions/%s/results"},
		{"/api/start-testing", "/api/status/%s", "/api/get-results/%s"},
	} {
		t.Run(paths.start, func(t *testing.T) {
			env := newTestEnv(t, &stubRunner{})
			id := env.start(t, paths.start)
			env.waitTerminal(t, id)

			resp, body := env.do(t, http.MethodGet, strings.Replace(paths.status, "%s", id, 1), "")
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			assert.JSONEq(t, `{"status":"completed"}`, string(body))

			resp, body = env.do(t, http.MethodGet, strings.Replace(paths.results, "%s", id, 1), "")
			assert.Equal(t, http.StatusOK, resp.StatusCode)
			var out struct {
				Results struct {
					Summary  string `json:"executiveSummary"`
					Metadata struct {
						SessionID string `json:"sessionId"`
					} `json:"metadata"`
				} `json:"results"`
			}
			require.NoError(t, json.Unmarshal(body, &out))
			assert.Equal(t, id, out.Results.Metadata.SessionID)
			assert.NotEmpty(t, out.Results.Summary)
		})
	}
}

func TestStart_InvalidRequests(t *testing.T) {
	env := newTestEnv(t, &stubRunner{})
	for _, body := range []string{
		`not json`,
		`{"agents":["feedback"]}`,
		`{"url":"https://shop.test","agents":[]}`,
		`{"url":"https://shop.test","agents":["robot"]}`,
		`{"url":"ftp://shop.test","agents":["feedback"]}`,
	} {
		resp, data := env.do(t, http.MethodPost, "/api/sessions", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, body)
		assert.Contains(t, string(data), "error")
	}
	assert.Equal(t, 0, env.store.Len())
}

func TestUnknownSession(t *testing.T) {
	env := newTestEnv(t, &stubRunner{})
	for _, path := range []string{
		"/api/sessions/ghost/status",
		"/api/sessions/ghost/results",
		"/api/sessions/ghost/export",
		"/api/sessions/ghost/watch",
		"/api/status/ghost",
		"/api/get-results/ghost",
	} {
		resp, _ := env.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, path)
	}
}

func TestResults_PendingWhileRunning(t *testing.T) {
	gate := make(chan struct{})
	env := newTestEnv(t, &stubRunner{gate: gate})
	id := env.start(t, "/api/sessions")

	resp, body := env.do(t, http.MethodGet, "/api/sessions/"+id+"/results", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.JSONEq(t, `{"status":"pending"}`, string(body))

	resp, _ = env.do(t, http.MethodGet, "/api/sessions/"+id+"/export?format=csv", "")
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)

	close(gate)
	env.waitTerminal(t, id)
}

func TestExport(t *testing.T) {
	env := newTestEnv(t, &stubRunner{})
	id := env.start(t, "/api/sessions")
	env.waitTerminal(t, id)

	resp, body := env.do(t, http.MethodGet, "/api/sessions/"+id+"/export?format=csv", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "uxorbit-report-"+id+".csv")
	assert.True(t, strings.HasPrefix(string(body), "Agent,Category,Severity,Score,Summary"))

	resp, _ = env.do(t, http.MethodGet, "/api/sessions/"+id+"/export", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	resp, _ = env.do(t, http.MethodGet, "/api/sessions/"+id+"/export?format=docx", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = env.do(t, http.MethodGet, "/api/sessions/"+id+"/export?format=pdf", "")
	assert.Equal(t, http.StatusNotImplemented, resp.StatusCode)
}

func TestWatch(t *testing.T) {
	gate := make(chan struct{})
	env := newTestEnv(t, &stubRunner{gate: gate})
	id := env.start(t, "/api/sessions")

	wsURL := "ws" + strings.TrimPrefix(env.http.URL, "http") + "/api/sessions/" + id + "/watch"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	close(gate)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var last session.Event
	for {
		var ev session.Event
		if err := conn.ReadJSON(&ev); err != nil {
			var ce *websocket.CloseError
			if assert.ErrorAs(t, err, &ce) {
				assert.Equal(t, websocket.CloseNormalClosure, ce.Code)
				assert.Equal(t, string(session.StatusCompleted), ce.Text)
			}
			break
		}
		assert.Equal(t, id, ev.SessionID)
		last = ev
	}
	assert.Equal(t, session.StatusCompleted, last.To)
}

func TestMetricsAndScreenshots(t *testing.T) {
	env := newTestEnv(t, &stubRunner{})

	resp, body := env.do(t, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "# HELP")

	resp, body = env.do(t, http.MethodGet, "/static/screenshots/home.png", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "png", string(body))

	resp, _ = env.do(t, http.MethodGet, "/static/screenshots/missing.png", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartAndShutdown(t *testing.T) {
	store := session.NewStore(session.Options{})
	d := dispatch.New(dispatch.Options{})
	svc := orchestrator.NewService(orchestrator.ServiceConfig{
		Sessions:     store,
		Orchestrator: orchestrator.New(store, agent.NewEmptyRegistry()),
		Dispatcher:   d,
	})
	srv, err := New(Config{Host: "127.0.0.1", Port: 0, Service: svc})
	require.NoError(t, err)
	require.NoError(t, srv.Start())

	resp, err := http.Get("http://" + srv.Addr() + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	_, err = http.Get("http://" + srv.Addr() + "/api/health")
	assert.Error(t, err)
}
