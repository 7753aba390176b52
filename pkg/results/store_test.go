package results

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/harun/uxorbit/pkg/agent"
	"github.com/harun/uxorbit/pkg/aggregate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "results.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func score(v float64) *float64 { return &v }

func sampleReport(summary string, usability float64) *aggregate.Report {
	return &aggregate.Report{
		Summary: summary,
		Scores:  aggregate.Scores{Usability: score(usability)},
		Outcomes: []agent.Outcome{{
			Role:  agent.RoleFeedback,
			RunID: "run-1",
			Payload: &agent.FeedbackResult{
				Usability: &agent.UsabilityReport{
					Summary: "Usability score: 90/100. Found 1 issues.",
					Score:   score(usability),
					Issues:  []agent.Issue{{Type: "image", Severity: "high", Message: "Missing or empty alt text on images."}},
				},
			},
		}},
	}
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}

func TestSaveAndLoad(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, s.Save(ctx, Record{
		SessionID: "s1",
		URL:       "https://example.com",
		Status:    "completed",
		CreatedAt: created,
		Report:    sampleReport("first", 90),
	}))

	rec, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", rec.URL)
	assert.Equal(t, "completed", rec.Status)
	assert.True(t, created.Equal(rec.CreatedAt))
	assert.Equal(t, "first", rec.Report.Summary)
	require.NotNil(t, rec.Report.Scores.Usability)
	assert.Equal(t, 90.0, *rec.Report.Scores.Usability)

	require.Len(t, rec.Report.Outcomes, 1)
	fb, ok := rec.Report.Outcomes[0].Payload.(*agent.FeedbackResult)
	require.True(t, ok)
	assert.Equal(t, "image", fb.Usability.Issues[0].Type)
}

func TestSave_Replaces(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, Record{SessionID: "s1", URL: "https://a.test", Status: "failed", Report: aggregate.Failed(assert.AnError)}))
	require.NoError(t, s.Save(ctx, Record{SessionID: "s1", URL: "https://a.test", Status: "completed", Report: sampleReport("second", 70)}))

	rec, err := s.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "completed", rec.Status)
	assert.Equal(t, "second", rec.Report.Summary)
}

func TestSave_Validation(t *testing.T) {
	s := createTestStore(t)
	assert.Error(t, s.Save(context.Background(), Record{Report: sampleReport("x", 1)}))
	assert.Error(t, s.Save(context.Background(), Record{SessionID: "s1"}))
}

func TestLoad_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.Load(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLatestForURL(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	for i, r := range []struct {
		id, url string
	}{
		{"old", "https://shop.test"},
		{"newer", "https://shop.test"},
		{"other", "https://blog.test"},
	} {
		require.NoError(t, s.Save(ctx, Record{
			SessionID: r.id,
			URL:       r.url,
			Status:    "completed",
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
			Report:    sampleReport(r.id, 50),
		}))
	}

	rec, err := s.LatestForURL(ctx, "https://shop.test", base.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "newer", rec.SessionID)

	rec, err = s.LatestForURL(ctx, "https://shop.test", base.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, "old", rec.SessionID)

	_, err = s.LatestForURL(ctx, "https://shop.test", base)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.LatestForURL(ctx, "https://unknown.test", base.Add(24*time.Hour))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPrune(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Save(ctx, Record{SessionID: "ancient", URL: "u", Status: "completed", CreatedAt: now.Add(-60 * 24 * time.Hour), Report: sampleReport("a", 1)}))
	require.NoError(t, s.Save(ctx, Record{SessionID: "recent", URL: "u", Status: "completed", CreatedAt: now.Add(-time.Hour), Report: sampleReport("r", 1)}))

	n, err := s.Prune(ctx, now.Add(-DefaultRetention))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.Load(ctx, "ancient")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Load(ctx, "recent")
	assert.NoError(t, err)
}

func TestStartPruning(t *testing.T) {
	s := createTestStore(t)
	require.NoError(t, s.StartPruning("", 0))
	assert.Error(t, s.StartPruning("@hourly", time.Hour))

	other := createTestStore(t)
	assert.Error(t, other.StartPruning("never", time.Hour))
}

func TestReopenKeepsReports(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), Record{SessionID: "s1", URL: "u", Status: "completed", Report: sampleReport("kept", 80)}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	rec, err := s.Load(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "kept", rec.Report.Summary)
}
