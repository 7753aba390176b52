package aggregate

import (
	"fmt"
	"math"

	"github.com/harun/uxorbit/pkg/agent"
)

// Options are the optional inputs of Aggregate.
type Options struct {
	// Previous enables trend deltas.
	Previous *Report
	// Weights enables the weighted composite.
	Weights Weights
}

type thresholds struct{ good, fair float64 }

var benchmarkThresholds = map[Category]thresholds{
	Usability:     {80, 60},
	Accessibility: {90, 70},
	Performance:   {80, 60},
}

// Classify maps a category score to its benchmark. A nil score has none.
func Classify(c Category, score *float64) Benchmark {
	if score == nil {
		return ""
	}
	t := benchmarkThresholds[c]
	switch {
	case *score >= t.good:
		return Good
	case *score >= t.fair:
		return NeedsImprovement
	default:
		return Poor
	}
}

// MalformedOutcomeError describes an outcome whose shape cannot be scored.
type MalformedOutcomeError struct {
	Role   agent.Role
	Reason string
}

func (e *MalformedOutcomeError) Error() string {
	return fmt.Sprintf("malformed %s outcome: %s", e.Role, e.Reason)
}

// contribution is what one readable outcome adds to the report.
type contribution struct {
	scores   map[Category]float64
	findings *agent.UsabilityReport
}

// Aggregate merges outcomes into a report. It never fails: errored and
// malformed outcomes become AgentFailures and are left out of scoring.
func Aggregate(outcomes []agent.Outcome, opts Options) *Report {
	rep := &Report{
		Patterns:        []string{},
		Recommendations: []string{},
		AgentFailures:   []Failure{},
		Outcomes:        append([]agent.Outcome{}, outcomes...),
	}

	sums := make(map[Category]float64)
	counts := make(map[Category]int)
	issueOutcomes := make(map[string]int)
	var issueOrder []string
	seenRec := make(map[string]bool)

	for _, o := range outcomes {
		if o.Failed() {
			rep.AgentFailures = append(rep.AgentFailures, Failure{Role: o.Role, RunID: o.RunID, Error: o.Error, Artifact: o.Artifact})
			continue
		}
		c, err := read(o)
		if err != nil {
			rep.AgentFailures = append(rep.AgentFailures, Failure{Role: o.Role, RunID: o.RunID, Error: err.Error()})
			continue
		}

		for cat, v := range c.scores {
			sums[cat] += v
			counts[cat]++
		}
		if c.findings == nil {
			continue
		}

		seenHere := make(map[string]bool)
		for _, is := range c.findings.Issues {
			key := is.Key()
			if seenHere[key] {
				continue
			}
			seenHere[key] = true
			if issueOutcomes[key] == 0 {
				issueOrder = append(issueOrder, key)
			}
			issueOutcomes[key]++
		}
		for _, r := range c.findings.Recommendations {
			if !seenRec[r] {
				seenRec[r] = true
				rep.Recommendations = append(rep.Recommendations, r)
			}
		}
	}

	for _, cat := range Categories {
		if counts[cat] == 0 {
			continue
		}
		rep.Scores.set(cat, round2(sums[cat]/float64(counts[cat])))
	}
	rep.Benchmarks = Benchmarks{
		Usability:     Classify(Usability, rep.Scores.Usability),
		Accessibility: Classify(Accessibility, rep.Scores.Accessibility),
		Performance:   Classify(Performance, rep.Scores.Performance),
	}

	for _, key := range issueOrder {
		if issueOutcomes[key] > 1 {
			rep.Patterns = append(rep.Patterns, key)
		}
	}

	rep.Summary = summary(rep.Scores, counts[Usability])

	if opts.Previous != nil {
		rep.Trend = trend(rep.Scores, opts.Previous.Scores)
	}
	if opts.Weights != nil {
		rep.Composite = Composite(rep.Scores, opts.Weights)
	}
	return rep
}

// read extracts the scores and findings of one outcome by its payload tag.
func read(o agent.Outcome) (c contribution, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &MalformedOutcomeError{Role: o.Role, Reason: fmt.Sprintf("%v", r)}
		}
	}()

	if o.Payload == nil {
		return c, &MalformedOutcomeError{Role: o.Role, Reason: "missing payload"}
	}
	if o.Payload.Role() != o.Role {
		return c, &MalformedOutcomeError{Role: o.Role, Reason: fmt.Sprintf("payload belongs to %s", o.Payload.Role())}
	}

	c.scores = make(map[Category]float64)
	switch p := o.Payload.(type) {
	case *agent.FeedbackResult:
		if p == nil {
			return c, &MalformedOutcomeError{Role: o.Role, Reason: "nil feedback result"}
		}
		if p.Usability != nil && p.Usability.Score != nil {
			c.scores[Usability] = *p.Usability.Score
		}
		if p.Accessibility != nil && p.Accessibility.Compliance != nil {
			c.scores[Accessibility] = *p.Accessibility.Compliance
		}
		if p.PerformanceScore != nil {
			c.scores[Performance] = *p.PerformanceScore
		}
		c.findings = p.Usability
	case *agent.FormResult:
		if p == nil {
			return c, &MalformedOutcomeError{Role: o.Role, Reason: "nil form result"}
		}
		c.findings = p.Report
	case *agent.NavigationResult:
		if p == nil {
			return c, &MalformedOutcomeError{Role: o.Role, Reason: "nil navigation result"}
		}
		c.findings = p.Report
	default:
		return c, &MalformedOutcomeError{Role: o.Role, Reason: fmt.Sprintf("unexpected payload %T", p)}
	}

	for cat, v := range c.scores {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 100 {
			return contribution{}, &MalformedOutcomeError{Role: o.Role, Reason: fmt.Sprintf("%s score out of range: %v", cat, v)}
		}
	}
	return c, nil
}

func findings(p agent.Payload) (f *agent.UsabilityReport) {
	defer func() {
		if recover() != nil {
			f = nil
		}
	}()
	return p.Findings()
}

// Composite is the weighted mean of the non-nil category scores. Categories
// without a score are left out of both sums. It returns nil when nothing
// can be weighted.
func Composite(s Scores, w Weights) *float64 {
	var num, den float64
	for _, cat := range Categories {
		v := s.Get(cat)
		if v == nil {
			continue
		}
		weight, ok := w[cat]
		if !ok {
			weight = 1
		}
		num += *v * weight
		den += weight
	}
	if den == 0 {
		return nil
	}
	return round2(num / den)
}

func trend(cur, prev Scores) *Trend {
	t := &Trend{}
	delta := func(c Category) *float64 {
		v := cur.Get(c)
		if v == nil {
			return nil
		}
		base := 0.0
		if p := prev.Get(c); p != nil {
			base = *p
		}
		return round2(*v - base)
	}
	t.Usability = delta(Usability)
	t.Accessibility = delta(Accessibility)
	t.Performance = delta(Performance)
	return t
}

func summary(s Scores, scored int) string {
	return fmt.Sprintf("Overall usability score: %s (%d agents). Accessibility: %s. Performance: %s.",
		formatScore(s.Usability, ""), scored, formatScore(s.Accessibility, "%"), formatScore(s.Performance, ""))
}

func formatScore(v *float64, suffix string) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%d%s", int(math.Round(*v)), suffix)
}

func round2(v float64) *float64 {
	r := math.Round(v*100) / 100
	return &r
}
