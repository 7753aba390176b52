// Package aggregate merges per-agent outcomes into one scored report.
package aggregate

import (
	"time"

	"github.com/harun/uxorbit/pkg/agent"
)

// Category is a scored dimension of the report.
type Category string

const (
	Usability     Category = "usability"
	Accessibility Category = "accessibility"
	Performance   Category = "performance"
)

// Categories lists every category in report order.
var Categories = []Category{Usability, Accessibility, Performance}

// Benchmark classifies a category score.
type Benchmark string

const (
	Good             Benchmark = "Good"
	NeedsImprovement Benchmark = "Needs Improvement"
	Poor             Benchmark = "Poor"
)

// Scores holds one average per category. A nil score means no outcome supplied it.
type Scores struct {
	Usability     *float64 `json:"usability"`
	Accessibility *float64 `json:"accessibility"`
	Performance   *float64 `json:"performance"`
}

// Get returns the score of c.
func (s Scores) Get(c Category) *float64 {
	switch c {
	case Usability:
		return s.Usability
	case Accessibility:
		return s.Accessibility
	case Performance:
		return s.Performance
	}
	return nil
}

func (s *Scores) set(c Category, v *float64) {
	switch c {
	case Usability:
		s.Usability = v
	case Accessibility:
		s.Accessibility = v
	case Performance:
		s.Performance = v
	}
}

// Benchmarks holds the classification of each scored category.
type Benchmarks struct {
	Usability     Benchmark `json:"usability,omitempty"`
	Accessibility Benchmark `json:"accessibility,omitempty"`
	Performance   Benchmark `json:"performance,omitempty"`
}

// Trend holds signed deltas against a previous report. A nil delta means
// the current report has no score for that category.
type Trend struct {
	Usability     *float64 `json:"usability"`
	Accessibility *float64 `json:"accessibility"`
	Performance   *float64 `json:"performance"`
}

// Weights maps categories to composite weights. Missing categories weigh 1.
type Weights map[Category]float64

// Failure is an outcome that carried an error or could not be read.
type Failure struct {
	Role     agent.Role `json:"agentType"`
	RunID    string     `json:"runId,omitempty"`
	Error    string     `json:"error"`
	Artifact string     `json:"artifact,omitempty"`
}

// Metadata describes the run that produced a report.
type Metadata struct {
	SessionID  string       `json:"sessionId"`
	URL        string       `json:"url"`
	Roles      []agent.Role `json:"agents"`
	Flows      []string     `json:"flows,omitempty"`
	Status     string       `json:"status"`
	StartedAt  time.Time    `json:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt"`
}

// Report is the aggregated result of one session. It is never mutated
// after construction except for Metadata, which the orchestrator fills in.
type Report struct {
	Metadata        *Metadata       `json:"metadata,omitempty"`
	Summary         string          `json:"executiveSummary"`
	Scores          Scores          `json:"scores"`
	Benchmarks      Benchmarks      `json:"benchmarks"`
	Patterns        []string        `json:"patterns"`
	Recommendations []string        `json:"recommendations"`
	AgentFailures   []Failure       `json:"agentFailures"`
	Trend           *Trend          `json:"trend,omitempty"`
	Composite       *float64        `json:"weightedScore,omitempty"`
	Outcomes        []agent.Outcome `json:"agents"`
	// Error is set only on the minimal report of a failed orchestration.
	Error string `json:"error,omitempty"`
}

// HasFailures reports whether any outcome failed.
func (r *Report) HasFailures() bool {
	return r != nil && len(r.AgentFailures) > 0
}

// Issues returns every usability issue of the successful outcomes, in order.
func (r *Report) Issues() []IssueRef {
	var out []IssueRef
	for _, o := range r.Outcomes {
		if o.Failed() || o.Payload == nil {
			continue
		}
		f := findings(o.Payload)
		if f == nil {
			continue
		}
		for _, is := range f.Issues {
			out = append(out, IssueRef{Role: o.Role, Issue: is, Score: f.Score})
		}
	}
	return out
}

// IssueRef is an issue together with the outcome that reported it.
type IssueRef struct {
	Role  agent.Role
	Issue agent.Issue
	Score *float64
}

// Failed builds the minimal report stored when orchestration itself faults.
func Failed(err error) *Report {
	return &Report{
		Summary:         "Test run failed: " + err.Error(),
		Patterns:        []string{},
		Recommendations: []string{},
		AgentFailures:   []Failure{},
		Outcomes:        []agent.Outcome{},
		Error:           err.Error(),
	}
}
