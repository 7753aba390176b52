package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/harun/uxorbit/pkg/browser"
)

const formAttr = "data-uxorbit-form"

const markFormsScript = `() => {
  const forms = document.querySelectorAll('form');
  forms.forEach((f, i) => f.setAttribute('data-uxorbit-form', String(i)));
  return forms.length;
}`

const fieldInfoScript = `function() {
  const el = this;
  const tag = el.tagName.toLowerCase();
  let type = tag;
  if (tag === 'input') type = (el.getAttribute('type') || 'text').toLowerCase();
  if (el.isContentEditable && tag !== 'input' && tag !== 'textarea') type = 'contenteditable';
  const hidden = el.offsetParent === null || el.hidden || el.type === 'hidden';
  let semantic = el.getAttribute('aria-label') || el.getAttribute('placeholder') || '';
  if (!semantic && el.id) {
    const lbl = el.ownerDocument.querySelector('label[for="' + CSS.escape(el.id) + '"]');
    if (lbl) semantic = lbl.textContent.trim();
  }
  if (!semantic) {
    const wrap = el.closest('label');
    if (wrap) semantic = wrap.textContent.trim();
  }
  if (!semantic && el.getAttribute('aria-labelledby')) {
    semantic = el.getAttribute('aria-labelledby').split(/\s+/)
      .map((id) => el.ownerDocument.getElementById(id))
      .filter(Boolean).map((n) => n.textContent.trim()).join(' ');
  }
  return {
    tag, type, hidden, disabled: !!el.disabled,
    name: el.getAttribute('name') || '', id: el.id || '', semantic,
  };
}`

const checkScript = `function() {
  this.checked = true;
  this.dispatchEvent(new Event('change', { bubbles: true }));
  return true;
}`

const selectFirstScript = `function() {
  const opt = Array.from(this.options).find((o) => o.value !== '');
  if (!opt) return false;
  this.value = opt.value;
  this.dispatchEvent(new Event('change', { bubbles: true }));
  return true;
}`

const submitFormScript = `(i) => {
  const f = document.querySelector('[data-uxorbit-form="' + i + '"]');
  if (!f) throw new Error('form ' + i + ' disappeared');
  if (typeof f.requestSubmit === 'function') { f.requestSubmit(); return 'requestSubmit'; }
  const btn = f.querySelector('[type="submit"]');
  if (btn) { btn.click(); return 'button'; }
  f.submit();
  return 'submit';
}`

const validateFormScript = `() => ({
  errors: Array.from(document.querySelectorAll('.error, .validation-error'))
    .map((n) => n.textContent.trim()).filter(Boolean),
  success: document.querySelectorAll('.success, .validation-success').length > 0,
})`

type fieldInfo struct {
	Tag      string `json:"tag"`
	Type     string `json:"type"`
	Hidden   bool   `json:"hidden"`
	Disabled bool   `json:"disabled"`
	Name     string `json:"name"`
	ID       string `json:"id"`
	Semantic string `json:"semantic"`
}

func (f fieldInfo) label() string {
	for _, s := range []string{f.Semantic, f.Name, f.ID} {
		if s != "" {
			return s
		}
	}
	return f.Type
}

// Input types that are buttons rather than data fields.
var buttonTypes = map[string]bool{"submit": true, "button": true, "reset": true, "image": true}

type validation struct {
	Errors  []string `json:"errors"`
	Success bool     `json:"success"`
}

// FormRunner fills, submits and validates every form on the page.
type FormRunner struct {
	deps Deps
}

// NewFormRunner creates the form-filling runner.
func NewFormRunner(d Deps) *FormRunner {
	return &FormRunner{deps: d.withDefaults()}
}

func (r *FormRunner) Role() Role { return RoleForm }

// Run implements Runner.
func (r *FormRunner) Run(ctx context.Context, target Target) Outcome {
	return execute(ctx, r.deps, RoleForm, target, r.testForms)
}

func (r *FormRunner) testForms(ctx context.Context, page browser.Page, logger zerolog.Logger) (Payload, error) {
	res := &FormResult{Forms: []FormReport{}}

	var count int
	if err := page.Evaluate(ctx, markFormsScript, &count); err != nil {
		return res, fmt.Errorf("detect forms: %w", err)
	}
	logger.Info().Int("forms", count).Msg("Detected forms")

	data, err := GenerateTestData()
	if err != nil {
		return res, err
	}
	if r.deps.Secrets != nil {
		r.deps.Secrets.AddLiteral(data.Password())
	}

	var issues []Issue
	for i := 0; i < count; i++ {
		report := r.testForm(ctx, page, logger, i, data)
		res.Forms = append(res.Forms, report)

		if len(report.Errors) > 0 {
			issues = append(issues, Issue{Type: "form", Severity: "medium", Message: "Form submission reported validation errors."})
		}
		for _, f := range report.Fields {
			if f.Error != "" {
				issues = append(issues, Issue{Type: "form", Severity: "low", Message: "Form field could not be filled: " + f.Semantic})
			}
		}
	}

	res.Report = Findings(issues, formRecommendations(issues)...)
	return res, nil
}

func formRecommendations(issues []Issue) []string {
	var recs []string
	for _, is := range issues {
		switch {
		case strings.HasPrefix(is.Message, "Form submission"):
			recs = append(recs, "Review form validation messages and required fields.")
		case strings.HasPrefix(is.Message, "Form field"):
			recs = append(recs, "Make every form field reachable and editable.")
		}
	}
	return recs
}

func (r *FormRunner) testForm(ctx context.Context, page browser.Page, logger zerolog.Logger, idx int, data *TestData) FormReport {
	report := FormReport{Index: idx, Fields: []FormField{}, Errors: []string{}, Screenshots: []string{}}
	shot := func(name string) {
		path, err := page.Screenshot(ctx, fmt.Sprintf("form_%d_%s", idx, name))
		if err != nil {
			logger.Debug().Err(err).Int("form", idx).Str("shot", name).Msg("Form screenshot failed")
			return
		}
		report.Screenshots = append(report.Screenshots, path)
	}

	shot("baseline")

	scope := fmt.Sprintf(`[%s="%d"]`, formAttr, idx)
	sel := strings.Join([]string{
		scope + " input", scope + " textarea", scope + " select", scope + " [contenteditable]",
	}, ", ")
	fields, err := page.Query(ctx, sel)
	if err != nil {
		logger.Warn().Err(err).Int("form", idx).Msg("Field lookup failed")
	}

	for _, el := range fields {
		var info fieldInfo
		if err := el.Evaluate(ctx, fieldInfoScript, &info); err != nil {
			logger.Debug().Err(err).Int("form", idx).Msg("Field inspection failed")
			continue
		}
		if info.Type == "" {
			info.Type = "text"
		}
		if info.Hidden || info.Disabled || buttonTypes[info.Type] {
			continue
		}

		field := FormField{Name: info.Name, ID: info.ID, Type: info.Type, Semantic: info.label()}
		if err := fillField(ctx, el, info, data); err != nil {
			field.Error = err.Error()
			logger.Warn().Err(err).Str("field", field.Semantic).Msg("Error filling field")
			shot("error_" + field.Semantic)
		} else if info.Type != "file" {
			field.Filled = true
			logger.Debug().Str("field", field.Semantic).Msg("Filled field")
		}
		report.Fields = append(report.Fields, field)
	}

	shot("filled")

	var how string
	if err := page.Evaluate(ctx, submitFormScript, &how, idx); err != nil {
		logger.Warn().Err(err).Int("form", idx).Msg("Error submitting form")
		shot("submit_error")
	} else {
		report.Submitted = true
		logger.Info().Int("form", idx).Str("via", how).Msg("Form submitted")
	}

	shot("result")

	var v validation
	if err := page.Evaluate(ctx, validateFormScript, &v); err != nil {
		logger.Warn().Err(err).Int("form", idx).Msg("Form validation read failed")
	}
	report.Success = v.Success
	if v.Errors != nil {
		report.Errors = v.Errors
	}
	return report
}

func fillField(ctx context.Context, el browser.Element, info fieldInfo, data *TestData) error {
	value, found := data.Lookup(info.Semantic, info.Name, info.ID)

	switch info.Type {
	case "checkbox", "radio":
		if found && value == "false" {
			return nil
		}
		return el.Evaluate(ctx, checkScript, nil)
	case "select":
		var ok bool
		if err := el.Evaluate(ctx, selectFirstScript, &ok); err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("select has no selectable option")
		}
		return nil
	case "file":
		return nil
	default:
		if !found {
			value = defaultValue(info.Type)
		}
		return el.Fill(ctx, value)
	}
}

func defaultValue(fieldType string) string {
	switch fieldType {
	case "email":
		return "qa@example.com"
	case "number", "range":
		return "1"
	case "tel":
		return "+15555550100"
	case "url":
		return "https://example.com"
	case "date":
		return "1990-01-15"
	default:
		return "test"
	}
}
