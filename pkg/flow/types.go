// Package flow runs multi-step navigation journeys against a page and
// manages the catalog of flow definitions.
package flow

import (
	"fmt"
	"regexp"
	"time"
)

// Action is what a step does before its post-condition is checked.
type Action string

const (
	ActionGoto  Action = "goto"
	ActionClick Action = "click"
)

// Expect is an optional post-condition. Every non-empty field must hold.
// URLIncludes is a regular expression matched against the page URL.
type Expect struct {
	WaitForSelector string        `yaml:"wait_for_selector" json:"waitForSelector,omitempty"`
	URLIncludes     string        `yaml:"url_includes" json:"urlIncludes,omitempty"`
	TextVisible     string        `yaml:"text_visible" json:"textVisible,omitempty"`
	Timeout         time.Duration `yaml:"timeout" json:"timeout,omitempty"`
}

// Empty reports whether no condition is set.
func (e *Expect) Empty() bool {
	return e == nil || (e.WaitForSelector == "" && e.URLIncludes == "" && e.TextVisible == "")
}

func (e *Expect) validate() error {
	if e == nil || e.URLIncludes == "" {
		return nil
	}
	if _, err := regexp.Compile(e.URLIncludes); err != nil {
		return fmt.Errorf("url_includes %q: %w", e.URLIncludes, err)
	}
	return nil
}

// Step is one action of a flow.
type Step struct {
	Name     string        `yaml:"name" json:"name,omitempty"`
	Action   Action        `yaml:"action" json:"action"`
	URL      string        `yaml:"url" json:"url,omitempty"`
	Selector string        `yaml:"selector" json:"selector,omitempty"`
	Timeout  time.Duration `yaml:"timeout" json:"timeout,omitempty"`
	Expect   *Expect       `yaml:"expect" json:"expect,omitempty"`
}

// Label names the step for logs and screenshots.
func (s Step) Label() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Action == ActionGoto {
		return "goto " + s.URL
	}
	return string(s.Action) + " " + s.Selector
}

// Flow is an ordered journey.
type Flow struct {
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description,omitempty"`
	// Match is a URL glob selecting the targets this flow applies to.
	Match string `yaml:"match" json:"match,omitempty"`
	Steps []Step `yaml:"steps" json:"steps"`
}

// Validate checks the step expectations of f.
func (f Flow) Validate() error {
	for i, st := range f.Steps {
		if err := st.Expect.validate(); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, st.Label(), err)
		}
	}
	return nil
}

// Timing records when a step ran and how long each phase took.
type Timing struct {
	StartedAt    time.Time `json:"startedAt"`
	ActionMs     float64   `json:"actionMs"`
	ValidationMs float64   `json:"validationMs"`
	TotalMs      float64   `json:"totalMs"`
}

// StepResult is the outcome of one attempted step.
type StepResult struct {
	Step       Step    `json:"step"`
	Success    bool    `json:"success"`
	Error      string  `json:"error,omitempty"`
	Timing     *Timing `json:"timing"`
	Screenshot string  `json:"screenshot,omitempty"`
}

// Result is the outcome of one flow. Steps holds only attempted steps:
// execution stops at the first failure.
type Result struct {
	Name    string       `json:"name"`
	Success bool         `json:"success"`
	Steps   []StepResult `json:"steps"`
}

// FailedStep returns the failing step result, or nil.
func (r Result) FailedStep() *StepResult {
	for i := range r.Steps {
		if !r.Steps[i].Success {
			return &r.Steps[i]
		}
	}
	return nil
}
