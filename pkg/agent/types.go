package agent

import (
	"encoding/json"
	"fmt"

	"github.com/harun/uxorbit/pkg/browser"
	"github.com/harun/uxorbit/pkg/flow"
	"github.com/harun/uxorbit/pkg/probe"
)

// Role names one testing responsibility.
type Role string

const (
	RoleForm       Role = "form"
	RoleNavigation Role = "navigation"
	RoleFeedback   Role = "feedback"
)

// Roles lists every known role in default run order.
var Roles = []Role{RoleForm, RoleNavigation, RoleFeedback}

// Known reports whether r is one of the built-in roles.
func (r Role) Known() bool {
	switch r {
	case RoleForm, RoleNavigation, RoleFeedback:
		return true
	}
	return false
}

// ParseRoles converts names to roles, rejecting unknown ones.
func ParseRoles(names []string) ([]Role, error) {
	roles := make([]Role, 0, len(names))
	for _, n := range names {
		r := Role(n)
		if !r.Known() {
			return nil, fmt.Errorf("unknown agent type: %s", n)
		}
		roles = append(roles, r)
	}
	return roles, nil
}

// Issue is one usability finding.
type Issue struct {
	Type     string                  `json:"type"`
	Severity string                  `json:"severity"`
	Message  string                  `json:"message"`
	Help     string                  `json:"help,omitempty"`
	Nodes    []browser.ViolationNode `json:"nodes,omitempty"`
}

// Key identifies an issue for recurrence detection.
func (i Issue) Key() string {
	return i.Type + ":" + i.Message
}

// UsabilityReport is the scored summary every role can contribute to.
// Score is nil for roles that report findings without scoring them.
type UsabilityReport struct {
	Summary         string   `json:"summary"`
	Score           *float64 `json:"score"`
	Issues          []Issue  `json:"issues"`
	Recommendations []string `json:"recommendations"`
}

// Payload is the role-specific result of a run.
type Payload interface {
	Role() Role
	// Findings returns the issues and recommendations of the run. It may be nil.
	Findings() *UsabilityReport
}

// FormField describes one interactive field the form agent touched.
type FormField struct {
	Name     string `json:"name,omitempty"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type"`
	Semantic string `json:"semantic,omitempty"`
	Filled   bool   `json:"filled"`
	Error    string `json:"error,omitempty"`
}

// FormReport is the outcome of filling and submitting one form.
type FormReport struct {
	Index       int         `json:"index"`
	Fields      []FormField `json:"fields"`
	Submitted   bool        `json:"submitted"`
	Success     bool        `json:"success"`
	Errors      []string    `json:"errors"`
	Screenshots []string    `json:"screenshots"`
}

// FormResult is the form agent's payload.
type FormResult struct {
	Forms  []FormReport     `json:"forms"`
	Report *UsabilityReport `json:"usabilityReport,omitempty"`
}

func (*FormResult) Role() Role                   { return RoleForm }
func (r *FormResult) Findings() *UsabilityReport { return r.Report }

// Link is a detected navigational element.
type Link struct {
	Href        string           `json:"href"`
	AbsoluteURL string           `json:"absoluteHref,omitempty"`
	Text        string           `json:"text,omitempty"`
	Kind        browser.LinkKind `json:"type"`
}

// NavigationResult is the navigation agent's payload.
type NavigationResult struct {
	Links       []Link                      `json:"links"`
	LinkChecks  []*probe.Result             `json:"brokenLinks"`
	Performance *browser.PerformanceMetrics `json:"performance,omitempty"`
	Flows       []flow.Result               `json:"navigationFlows"`
	Report      *UsabilityReport            `json:"usabilityReport,omitempty"`
}

func (*NavigationResult) Role() Role                   { return RoleNavigation }
func (r *NavigationResult) Findings() *UsabilityReport { return r.Report }

// Accessibility is the audit summary attached to feedback results.
type Accessibility struct {
	// Compliance is the percentage of applicable rules that passed, nil if none applied.
	Compliance *float64            `json:"compliance"`
	WCAG       []string            `json:"wcag"`
	Violations []browser.Violation `json:"violations"`
}

// ViewportShot is a screenshot at one breakpoint.
type ViewportShot struct {
	Viewport   browser.Viewport `json:"viewport"`
	Path       string           `json:"path"`
	Overflowed bool             `json:"horizontalOverflow"`
}

// FeedbackResult is the feedback agent's payload and the only one that
// carries category scores.
type FeedbackResult struct {
	Usability        *UsabilityReport            `json:"usabilityReport"`
	Accessibility    *Accessibility              `json:"accessibility,omitempty"`
	Performance      *browser.PerformanceMetrics `json:"performance,omitempty"`
	PerformanceScore *float64                    `json:"performanceScore"`
	DOM              *browser.DOMSnapshot        `json:"domAnalysis,omitempty"`
	Screenshots      []ViewportShot              `json:"screenshots"`
}

func (*FeedbackResult) Role() Role                   { return RoleFeedback }
func (r *FeedbackResult) Findings() *UsabilityReport { return r.Usability }

// Outcome is the settled result of one role within one session.
type Outcome struct {
	Role  Role   `json:"agentType"`
	RunID string `json:"runId"`
	Error string `json:"error,omitempty"`
	// Artifact is the diagnostic screenshot taken when the run faulted.
	Artifact string  `json:"artifact,omitempty"`
	Payload  Payload `json:"results,omitempty"`
}

// Failed reports whether the run carries an error.
func (o Outcome) Failed() bool { return o.Error != "" }

type outcomeJSON struct {
	Role     Role            `json:"agentType"`
	RunID    string          `json:"runId"`
	Error    string          `json:"error,omitempty"`
	Artifact string          `json:"artifact,omitempty"`
	Payload  json.RawMessage `json:"results,omitempty"`
}

// UnmarshalJSON decodes the payload according to the role tag.
func (o *Outcome) UnmarshalJSON(data []byte) error {
	var raw outcomeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*o = Outcome{Role: raw.Role, RunID: raw.RunID, Error: raw.Error, Artifact: raw.Artifact}
	if len(raw.Payload) == 0 || string(raw.Payload) == "null" {
		return nil
	}

	var p Payload
	switch raw.Role {
	case RoleForm:
		p = &FormResult{}
	case RoleNavigation:
		p = &NavigationResult{}
	case RoleFeedback:
		p = &FeedbackResult{}
	default:
		return nil
	}
	if err := json.Unmarshal(raw.Payload, p); err != nil {
		return fmt.Errorf("decode %s payload: %w", raw.Role, err)
	}
	o.Payload = p
	return nil
}
