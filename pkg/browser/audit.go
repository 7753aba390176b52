package browser

import (
	"context"
	"fmt"
)

// DefaultAuditTags restricts audits to WCAG 2.0 A and AA rules.
var DefaultAuditTags = []string{"wcag2a", "wcag2aa"}

// AccessibilityAuditor audits the current document of a page.
type AccessibilityAuditor interface {
	Audit(ctx context.Context, page Page, tags []string) (*AuditResult, error)
}

// AuditResult groups rule outcomes.
type AuditResult struct {
	Violations   []Violation   `json:"violations"`
	Passes       []RuleOutcome `json:"passes"`
	Incomplete   []RuleOutcome `json:"incomplete"`
	Inapplicable []RuleOutcome `json:"inapplicable"`
}

// RuleOutcome names a rule that passed or did not apply.
type RuleOutcome struct {
	ID   string   `json:"id"`
	Tags []string `json:"tags"`
}

// Violation is a failed rule with its offending nodes.
type Violation struct {
	ID          string          `json:"id"`
	Impact      string          `json:"impact"`
	Description string          `json:"description"`
	Help        string          `json:"help"`
	Tags        []string        `json:"tags"`
	Nodes       []ViolationNode `json:"nodes"`
}

// ViolationNode is one offending element.
type ViolationNode struct {
	Target string `json:"target"`
	HTML   string `json:"html"`
}

// Compliance is passes / (passes + violations) * 100, nil when no rule applied.
func (r *AuditResult) Compliance() *float64 {
	if r == nil {
		return nil
	}
	total := len(r.Passes) + len(r.Violations)
	if total == 0 {
		return nil
	}
	c := float64(len(r.Passes)) / float64(total) * 100
	return &c
}

// RuleAuditor evaluates a built-in WCAG rule set inside the page.
type RuleAuditor struct{}

// NewRuleAuditor creates the in-page auditor.
func NewRuleAuditor() *RuleAuditor {
	return &RuleAuditor{}
}

// Audit runs every rule whose tags intersect tags. Empty tags runs all rules.
func (a *RuleAuditor) Audit(ctx context.Context, page Page, tags []string) (*AuditResult, error) {
	if tags == nil {
		tags = []string{}
	}
	var res AuditResult
	if err := page.Evaluate(ctx, auditScript, &res, tags); err != nil {
		return nil, fmt.Errorf("accessibility audit: %w", err)
	}
	return &res, nil
}

const auditScript = `(tags) => {
  const describe = (el) => {
    if (el.id) return '#' + el.id;
    let s = el.tagName.toLowerCase();
    if (el.className && typeof el.className === 'string') s += '.' + el.className.trim().split(/\s+/).join('.');
    return s;
  };
  const html = (el) => el.outerHTML.slice(0, 250);
  const named = (el) => {
    if ((el.getAttribute('aria-label') || '').trim()) return true;
    const lb = el.getAttribute('aria-labelledby');
    if (lb && lb.split(/\s+/).some(id => { const t = document.getElementById(id); return t && t.textContent.trim(); })) return true;
    if ((el.getAttribute('title') || '').trim()) return true;
    return false;
  };
  const rules = [
    { id: 'image-alt', tags: ['wcag2a', 'wcag111'], impact: 'critical',
      description: 'Ensures <img> elements have alternate text', help: 'Images must have alternate text',
      nodes: () => Array.from(document.querySelectorAll('img')),
      fails: (el) => !el.hasAttribute('alt') && !named(el) && el.getAttribute('role') !== 'presentation' },
    { id: 'label', tags: ['wcag2a', 'wcag131', 'wcag412'], impact: 'critical',
      description: 'Ensures every form element has a label', help: 'Form elements must have labels',
      nodes: () => Array.from(document.querySelectorAll('input, select, textarea')).filter(el => !['hidden', 'submit', 'button', 'reset', 'image'].includes((el.type || '').toLowerCase())),
      fails: (el) => !(el.labels && el.labels.length) && !named(el) },
    { id: 'document-title', tags: ['wcag2a', 'wcag242'], impact: 'serious',
      description: 'Ensures each HTML document contains a non-empty <title>', help: 'Documents must have <title> element to aid in navigation',
      nodes: () => [document.documentElement],
      fails: () => !document.title.trim() },
    { id: 'html-has-lang', tags: ['wcag2a', 'wcag311'], impact: 'serious',
      description: 'Ensures every HTML document has a lang attribute', help: '<html> element must have a lang attribute',
      nodes: () => [document.documentElement],
      fails: (el) => !(el.getAttribute('lang') || '').trim() },
    { id: 'link-name', tags: ['wcag2a', 'wcag244', 'wcag412'], impact: 'serious',
      description: 'Ensures links have discernible text', help: 'Links must have discernible text',
      nodes: () => Array.from(document.querySelectorAll('a[href]')),
      fails: (el) => !el.textContent.trim() && !named(el) && !Array.from(el.querySelectorAll('img[alt]')).some(i => i.alt.trim()) },
    { id: 'button-name', tags: ['wcag2a', 'wcag412'], impact: 'critical',
      description: 'Ensures buttons have discernible text', help: 'Buttons must have discernible text',
      nodes: () => Array.from(document.querySelectorAll('button, input[type=button], input[type=submit], [role=button]')),
      fails: (el) => !(el.textContent.trim() || (el.value || '').trim()) && !named(el) },
    { id: 'heading-order', tags: ['wcag2a', 'wcag131'], impact: 'moderate',
      description: 'Ensures the order of headings is semantically correct', help: 'Heading levels should only increase by one',
      nodes: () => Array.from(document.querySelectorAll('h1, h2, h3, h4, h5, h6')),
      fails: (el, i, all) => i > 0 && parseInt(el.tagName[1]) > parseInt(all[i - 1].tagName[1]) + 1 },
    { id: 'duplicate-id', tags: ['wcag2a', 'wcag411'], impact: 'minor',
      description: 'Ensures every id attribute value is unique', help: 'id attribute value must be unique',
      nodes: () => Array.from(document.querySelectorAll('[id]')),
      fails: (el) => document.querySelectorAll('[id="' + CSS.escape(el.id) + '"]').length > 1 },
    { id: 'meta-viewport', tags: ['wcag2aa', 'wcag144'], impact: 'critical',
      description: 'Ensures <meta name="viewport"> does not disable zooming', help: 'Zooming and scaling must not be disabled',
      nodes: () => Array.from(document.querySelectorAll('meta[name=viewport]')),
      fails: (el) => { const c = (el.getAttribute('content') || '').toLowerCase().replace(/\s/g, '');
        const m = c.match(/maximum-scale=([\d.]+)/);
        return c.includes('user-scalable=no') || (m && parseFloat(m[1]) < 2); } },
  ];
  const out = { violations: [], passes: [], incomplete: [], inapplicable: [] };
  for (const r of rules) {
    if (tags.length && !r.tags.some(t => tags.includes(t))) continue;
    let nodes;
    try { nodes = r.nodes(); } catch (e) { out.incomplete.push({ id: r.id, tags: r.tags }); continue; }
    if (!nodes.length) { out.inapplicable.push({ id: r.id, tags: r.tags }); continue; }
    const failing = nodes.filter((el, i, all) => { try { return r.fails(el, i, all); } catch (e) { return false; } });
    if (failing.length) {
      out.violations.push({ id: r.id, impact: r.impact, description: r.description, help: r.help, tags: r.tags,
        nodes: failing.slice(0, 20).map(el => ({ target: describe(el), html: html(el) })) });
    } else {
      out.passes.push({ id: r.id, tags: r.tags });
    }
  }
  return out;
}`
