// Package browsertest provides scriptable in-memory fakes of the browser
// interfaces for tests.
package browsertest

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/harun/uxorbit/pkg/browser"
)

// Driver is a fake browser.Driver.
type Driver struct {
	mu sync.Mutex

	// NewPageFunc builds each page. Defaults to NewPage().
	NewPageFunc func() (*Page, error)

	pages  []*Page
	closed bool
}

// NewDriver returns a driver whose pages come from factory.
func NewDriver(factory func() *Page) *Driver {
	d := &Driver{}
	if factory != nil {
		d.NewPageFunc = func() (*Page, error) { return factory(), nil }
	}
	return d
}

// NewPage implements browser.Driver.
func (d *Driver) NewPage(ctx context.Context) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var (
		p   *Page
		err error
	)
	if d.NewPageFunc != nil {
		p, err = d.NewPageFunc()
	} else {
		p = NewPage()
	}
	if err != nil {
		return nil, err
	}
	d.mu.Lock()
	d.pages = append(d.pages, p)
	d.mu.Unlock()
	return p, nil
}

// Close implements browser.Driver.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Pages returns every page handed out so far.
func (d *Driver) Pages() []*Page {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Page(nil), d.pages...)
}

// OpenPages counts pages that were never closed.
func (d *Driver) OpenPages() int {
	n := 0
	for _, p := range d.Pages() {
		if !p.IsClosed() {
			n++
		}
	}
	return n
}

type evalRule struct {
	match  string
	result any
	err    error
}

// Page is a fake browser.Page. Configure it before handing it to the code under test.
type Page struct {
	mu sync.Mutex

	NavigateFunc    func(url string) error
	WaitVisibleFunc func(selector string) error
	WaitURLFunc     func(pattern string) error
	WaitTextFunc    func(text string) error

	elements map[string][]*Element
	evals    []evalRule

	url         string
	closed      bool
	calls       []string
	screenshots []string
	viewports   []browser.Viewport
}

// NewPage returns an empty page at about:blank.
func NewPage() *Page {
	return &Page{url: "about:blank", elements: map[string][]*Element{}}
}

// SetElements registers the result of Query(selector).
func (p *Page) SetElements(selector string, els ...*Element) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, el := range els {
		el.page = p
	}
	p.elements[selector] = els
	return p
}

// OnEval answers any script containing match with result (or err).
// Rules are checked in registration order.
func (p *Page) OnEval(match string, result any, err error) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.evals = append(p.evals, evalRule{match: match, result: result, err: err})
	return p
}

func (p *Page) record(format string, args ...any) {
	p.calls = append(p.calls, fmt.Sprintf(format, args...))
}

// Navigate implements browser.Page.
func (p *Page) Navigate(ctx context.Context, url string, _ time.Duration) error {
	p.mu.Lock()
	p.record("navigate %s", url)
	fn := p.NavigateFunc
	p.mu.Unlock()
	if fn != nil {
		if err := fn(url); err != nil {
			return err
		}
	}
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
	return ctx.Err()
}

// Query implements browser.Page.
func (p *Page) Query(_ context.Context, selector string) ([]browser.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("query %s", selector)
	out := make([]browser.Element, 0, len(p.elements[selector]))
	for _, el := range p.elements[selector] {
		out = append(out, el)
	}
	return out, nil
}

// Evaluate implements browser.Page.
func (p *Page) Evaluate(_ context.Context, js string, out any, _ ...any) error {
	p.mu.Lock()
	rules := append([]evalRule(nil), p.evals...)
	p.record("eval")
	p.mu.Unlock()

	for _, r := range rules {
		if !strings.Contains(js, r.match) {
			continue
		}
		if r.err != nil {
			return r.err
		}
		return decode(r.result, out)
	}
	return &browser.BrowserError{Code: browser.ErrCodeScriptExecution, Message: "no fake result for script"}
}

// Screenshot implements browser.Page.
func (p *Page) Screenshot(_ context.Context, name string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	path := "/fake/screenshots/" + name + ".png"
	p.screenshots = append(p.screenshots, path)
	return path, nil
}

// WaitVisible implements browser.Page.
func (p *Page) WaitVisible(_ context.Context, selector string, _ time.Duration) error {
	p.mu.Lock()
	p.record("wait-visible %s", selector)
	fn := p.WaitVisibleFunc
	p.mu.Unlock()
	if fn != nil {
		return fn(selector)
	}
	return nil
}

// WaitURL implements browser.Page.
func (p *Page) WaitURL(_ context.Context, pattern string, _ time.Duration) error {
	p.mu.Lock()
	p.record("wait-url %s", pattern)
	fn := p.WaitURLFunc
	current := p.url
	p.mu.Unlock()
	if fn != nil {
		return fn(pattern)
	}
	ok, err := regexp.MatchString(pattern, current)
	if err != nil {
		return fmt.Errorf("url pattern %q: %w", pattern, err)
	}
	if !ok {
		return &browser.BrowserError{Code: browser.ErrCodeTimeout, Message: "url mismatch: " + current}
	}
	return nil
}

// WaitText implements browser.Page.
func (p *Page) WaitText(_ context.Context, text string, _ time.Duration) error {
	p.mu.Lock()
	p.record("wait-text %s", text)
	fn := p.WaitTextFunc
	p.mu.Unlock()
	if fn != nil {
		return fn(text)
	}
	return nil
}

// SetViewport implements browser.Page.
func (p *Page) SetViewport(_ context.Context, width, height int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.viewports = append(p.viewports, browser.Viewport{Width: width, Height: height})
	return nil
}

// URL implements browser.Page.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// Close implements browser.Page.
func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// IsClosed reports whether Close was called.
func (p *Page) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Calls returns the recorded navigation, query and wait calls in order.
func (p *Page) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

// Screenshots returns the stored screenshot paths.
func (p *Page) Screenshots() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.screenshots...)
}

// Viewports returns every viewport set on the page.
func (p *Page) Viewports() []browser.Viewport {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]browser.Viewport(nil), p.viewports...)
}

func (p *Page) navigateTo(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
}

// Element is a fake browser.Element.
type Element struct {
	mu sync.Mutex

	Attrs     map[string]string
	TextValue string
	Hidden    bool
	ClickErr  error
	FillErr   error
	// EvalResult answers Evaluate calls whose script contains the key.
	EvalResult map[string]any
	// Href, when set, makes Click navigate the owning page.
	Href string

	page   *Page
	filled []string
	clicks int
}

// NewElement returns an element with the given attributes.
func NewElement(attrs map[string]string) *Element {
	if attrs == nil {
		attrs = map[string]string{}
	}
	return &Element{Attrs: attrs, EvalResult: map[string]any{}}
}

// Click implements browser.Element.
func (e *Element) Click(context.Context) error {
	e.mu.Lock()
	if e.ClickErr != nil {
		e.mu.Unlock()
		return e.ClickErr
	}
	e.clicks++
	href, page := e.Href, e.page
	e.mu.Unlock()
	if href != "" && page != nil {
		page.navigateTo(href)
	}
	return nil
}

// Fill implements browser.Element.
func (e *Element) Fill(_ context.Context, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.FillErr != nil {
		return e.FillErr
	}
	e.filled = append(e.filled, value)
	return nil
}

// Attribute implements browser.Element.
func (e *Element) Attribute(_ context.Context, name string) (string, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.Attrs[name]
	return v, ok, nil
}

// Text implements browser.Element.
func (e *Element) Text(context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.TextValue, nil
}

// Visible implements browser.Element.
func (e *Element) Visible(context.Context) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return !e.Hidden, nil
}

// Evaluate implements browser.Element.
func (e *Element) Evaluate(_ context.Context, js string, out any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, v := range e.EvalResult {
		if strings.Contains(js, k) {
			return decode(v, out)
		}
	}
	return decode(nil, out)
}

// Filled returns the values typed into the element.
func (e *Element) Filled() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.filled...)
}

// Clicks returns how often the element was clicked.
func (e *Element) Clicks() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clicks
}

func decode(v any, out any) error {
	if out == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

var (
	_ browser.Driver  = (*Driver)(nil)
	_ browser.Page    = (*Page)(nil)
	_ browser.Element = (*Element)(nil)
)
