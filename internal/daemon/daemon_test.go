package daemon

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/harun/uxorbit/internal/config"
	"github.com/harun/uxorbit/internal/logger"
	"github.com/harun/uxorbit/pkg/agent"
	"github.com/harun/uxorbit/pkg/orchestrator"
	"github.com/harun/uxorbit/pkg/session"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunner struct{ role agent.Role }

func (r stubRunner) Role() agent.Role { return r.role }

func (r stubRunner) Run(ctx context.Context, target agent.Target) agent.Outcome {
	score := 70.0
	return agent.Outcome{
		Role:  r.role,
		RunID: "run-" + string(r.role),
		Payload: &agent.FeedbackResult{
			Usability: &agent.UsabilityReport{Summary: "Usability score: 70/100. Found 0 issues.", Score: &score},
		},
	}
}

func stubRunners(t *testing.T) {
	t.Helper()
	prev := newRunners
	newRunners = func(d agent.Deps) orchestrator.Runners {
		reg := agent.NewEmptyRegistry()
		reg.Register(stubRunner{role: agent.RoleFeedback})
		return reg
	}
	t.Cleanup(func() { newRunners = prev })
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = freePort(t)
	cfg.Server.ShutdownTimeout = 5 * time.Second
	cfg.Flows.Watch = false
	cfg.Logging.Level = "error"
	return cfg
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Console: false})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })
	return log
}

func newTestDaemon(t *testing.T) *Daemon {
	t.Helper()
	stubRunners(t)
	d, err := New(testConfig(t), testLogger(t))
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d
}

func TestNew_ResolvesPaths(t *testing.T) {
	d := newTestDaemon(t)
	cfg := d.GetConfig()
	assert.Equal(t, filepath.Join(cfg.DataDir, "results.db"), cfg.Storage.Path)
	assert.Equal(t, filepath.Join(cfg.DataDir, "flows"), cfg.Flows.Dir)
	assert.Equal(t, filepath.Join(cfg.DataDir, "screenshots"), cfg.Browser.ScreenshotDir)
	assert.False(t, d.Status().Running)
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sessions.MaxSessions = 0
	_, err := New(cfg, testLogger(t))
	assert.ErrorContains(t, err, "invalid configuration")
}

func TestDaemon_StartStop(t *testing.T) {
	d := newTestDaemon(t)
	require.NoError(t, d.Start())
	assert.Error(t, d.Start())
	assert.True(t, d.Status().Running)

	_, err := os.Stat(PIDFile(d.config.DataDir))
	assert.NoError(t, err)

	resp, err := http.Get("http://" + d.Addr() + "/api/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, d.Stop())
	assert.Error(t, d.Stop())
	assert.False(t, d.Status().Running)

	_, err = os.Stat(PIDFile(d.config.DataDir))
	assert.True(t, os.IsNotExist(err))
	assert.Error(t, d.Start())
}

func TestDaemon_RunOnce(t *testing.T) {
	d := newTestDaemon(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rep, status, err := d.RunOnce(ctx, orchestrator.Request{URL: "https://shop.test", Agents: []string{"feedback"}})
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, status)
	require.NotNil(t, rep)
	require.NotNil(t, rep.Scores.Usability)
	assert.Equal(t, 70.0, *rep.Scores.Usability)
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(d.metrics.DispatchTasksTotal.WithLabelValues("success")) == 1
	}, time.Second, 10*time.Millisecond)

	_, _, err = d.RunOnce(ctx, orchestrator.Request{URL: "https://shop.test", Agents: []string{"robot"}})
	assert.ErrorIs(t, err, orchestrator.ErrInvalidRequest)
}
