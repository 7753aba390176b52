package browser

import (
	"context"
	"fmt"
	"strings"
)

// DOMSnapshot is the structural summary of a document.
type DOMSnapshot struct {
	Headings        []Heading `json:"headings"`
	Semantics       []string  `json:"semantics"`
	Landmarks       []string  `json:"landmarks"`
	Forms           int       `json:"forms"`
	Images          []Image   `json:"images"`
	Links           int       `json:"links"`
	HTMLValid       bool      `json:"htmlValid"`
	UnlabeledInputs []string  `json:"unlabeledInputs"`
}

// Heading is one h1-h6 element.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// Image is one img element. Alt is nil when the attribute is absent.
type Image struct {
	Src string  `json:"src"`
	Alt *string `json:"alt"`
}

// MissingAlt returns images with no or blank alt text.
func (s *DOMSnapshot) MissingAlt() []Image {
	var out []Image
	for _, img := range s.Images {
		if img.Alt == nil || strings.TrimSpace(*img.Alt) == "" {
			out = append(out, img)
		}
	}
	return out
}

// HeadingSkips lists every place the heading level jumps by more than one.
func (s *DOMSnapshot) HeadingSkips() []string {
	var out []string
	last := 0
	for _, h := range s.Headings {
		if last != 0 && h.Level > last+1 {
			out = append(out, fmt.Sprintf("Skipped heading level from H%d to H%d", last, h.Level))
		}
		last = h.Level
	}
	return out
}

// AnalyzeDOM collects the structural summary of the current document.
func AnalyzeDOM(ctx context.Context, page Page) (*DOMSnapshot, error) {
	var snap DOMSnapshot
	if err := page.Evaluate(ctx, domScript, &snap); err != nil {
		return nil, fmt.Errorf("analyze dom: %w", err)
	}
	return &snap, nil
}

// HasHorizontalOverflow reports whether the document is wider than the viewport.
func HasHorizontalOverflow(ctx context.Context, page Page) (bool, error) {
	var overflow bool
	err := page.Evaluate(ctx, `() => document.documentElement.scrollWidth > window.innerWidth + 1`, &overflow)
	if err != nil {
		return false, fmt.Errorf("check overflow: %w", err)
	}
	return overflow, nil
}

const domScript = `() => {
  const all = (sel) => Array.from(document.querySelectorAll(sel));
  return {
    headings: all('h1, h2, h3, h4, h5, h6').map(n => ({ level: parseInt(n.tagName[1]), text: n.textContent.trim() })),
    semantics: all('nav, main, article, section, aside, header, footer').map(n => n.tagName.toLowerCase()),
    landmarks: all('[role]').map(n => n.getAttribute('role')),
    forms: all('form').length,
    images: all('img').map(n => ({ src: n.getAttribute('src') || '', alt: n.getAttribute('alt') })),
    links: all('a').length,
    htmlValid: document.documentElement instanceof HTMLElement && document.body instanceof HTMLElement,
    unlabeledInputs: all('input:not([type="hidden"]):not([aria-label]):not([aria-labelledby]):not([placeholder])')
      .filter(n => !(n.labels && n.labels.length > 0))
      .map(n => n.outerHTML.slice(0, 250)),
  };
}`
