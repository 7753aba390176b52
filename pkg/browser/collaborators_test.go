package browser_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/uxorbit/pkg/browser"
	"github.com/harun/uxorbit/pkg/browser/browsertest"
)

func TestWithPage_ClosesOnError(t *testing.T) {
	d := browsertest.NewDriver(nil)
	boom := errors.New("boom")

	err := browser.WithPage(context.Background(), d, func(p browser.Page) error {
		return boom
	})

	assert.ErrorIs(t, err, boom)
	require.Len(t, d.Pages(), 1)
	assert.Equal(t, 0, d.OpenPages())
}

func TestWithPage_ClosesOnPanic(t *testing.T) {
	d := browsertest.NewDriver(nil)

	assert.Panics(t, func() {
		_ = browser.WithPage(context.Background(), d, func(p browser.Page) error {
			panic("driver crashed")
		})
	})
	assert.Equal(t, 0, d.OpenPages())
}

func TestRuleAuditor_Audit(t *testing.T) {
	page := browsertest.NewPage().OnEval("image-alt", map[string]any{
		"violations": []map[string]any{{
			"id": "image-alt", "impact": "critical", "help": "Images must have alternate text",
			"tags": []string{"wcag2a"}, "nodes": []map[string]any{{"target": "img.logo", "html": "<img>"}},
		}},
		"passes":     []map[string]any{{"id": "label"}, {"id": "document-title"}, {"id": "html-has-lang"}},
		"incomplete": []map[string]any{},
	}, nil)

	res, err := browser.NewRuleAuditor().Audit(context.Background(), page, browser.DefaultAuditTags)
	require.NoError(t, err)
	require.Len(t, res.Violations, 1)
	assert.Equal(t, "image-alt", res.Violations[0].ID)
	assert.Equal(t, "img.logo", res.Violations[0].Nodes[0].Target)

	c := res.Compliance()
	require.NotNil(t, c)
	assert.InDelta(t, 75.0, *c, 0.001)
}

func TestAuditResult_ComplianceNilWhenNoRules(t *testing.T) {
	assert.Nil(t, (&browser.AuditResult{}).Compliance())
	var r *browser.AuditResult
	assert.Nil(t, r.Compliance())
}

func TestRuleAuditor_ScriptError(t *testing.T) {
	page := browsertest.NewPage().OnEval("image-alt", nil, errors.New("page gone"))
	_, err := browser.NewRuleAuditor().Audit(context.Background(), page, nil)
	assert.Error(t, err)
}

func TestTimingSource_Measure(t *testing.T) {
	page := browsertest.NewPage().OnEval("largest-contentful-paint", map[string]any{
		"loadTime":               1200.5,
		"firstContentfulPaint":   800,
		"largestContentfulPaint": nil,
		"cumulativeLayoutShift":  0.02,
		"resourceCounts":         map[string]int{"script": 3, "img": 2},
	}, nil)

	m, err := browser.NewTimingSource().Measure(context.Background(), page)
	require.NoError(t, err)
	require.NotNil(t, m.LoadTime)
	assert.Equal(t, 1200.5, *m.LoadTime)
	assert.Nil(t, m.LargestContentfulPaint)
	assert.Equal(t, 3, m.ResourceCounts["script"])
}

func TestAnalyzeDOM(t *testing.T) {
	empty := " "
	page := browsertest.NewPage().OnEval("unlabeledInputs", map[string]any{
		"headings": []map[string]any{{"level": 1, "text": "Home"}, {"level": 3, "text": "Deep"}, {"level": 4, "text": "Deeper"}},
		"images": []map[string]any{
			{"src": "a.png", "alt": "A"},
			{"src": "b.png", "alt": nil},
			{"src": "c.png", "alt": empty},
		},
		"htmlValid":       true,
		"unlabeledInputs": []string{"<input name=q>"},
	}, nil)

	snap, err := browser.AnalyzeDOM(context.Background(), page)
	require.NoError(t, err)
	assert.True(t, snap.HTMLValid)
	assert.Len(t, snap.MissingAlt(), 2)
	assert.Equal(t, []string{"Skipped heading level from H1 to H3"}, snap.HeadingSkips())
	assert.Len(t, snap.UnlabeledInputs, 1)
}

func TestHasHorizontalOverflow(t *testing.T) {
	page := browsertest.NewPage().OnEval("scrollWidth", true, nil)
	overflow, err := browser.HasHorizontalOverflow(context.Background(), page)
	require.NoError(t, err)
	assert.True(t, overflow)
}
