package browser

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog/log"
)

// RodDriver drives a local Chrome through go-rod. Chrome is launched lazily
// on the first page request and shared by every page.
type RodDriver struct {
	opts Options

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser
}

// NewRodDriver creates a driver; nothing is launched until NewPage.
func NewRodDriver(opts Options) *RodDriver {
	if opts.ViewportWidth <= 0 {
		opts.ViewportWidth = 1280
	}
	if opts.ViewportHeight <= 0 {
		opts.ViewportHeight = 720
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 30 * time.Second
	}
	return &RodDriver{opts: opts}
}

func (d *RodDriver) connect() (*rod.Browser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.browser != nil {
		return d.browser, nil
	}

	l := launcher.New().Headless(d.opts.Headless)
	if d.opts.NoSandbox {
		l = l.NoSandbox(true)
	}
	if d.opts.Bin != "" {
		l = l.Bin(d.opts.Bin)
	}

	u, err := l.Launch()
	if err != nil {
		return nil, &BrowserError{
			Code:    ErrCodeBrowserCrash,
			Message: fmt.Sprintf("Failed to launch Chrome: %v", err),
		}
	}

	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, &BrowserError{
			Code:    ErrCodeBrowserCrash,
			Message: fmt.Sprintf("Failed to connect to CDP: %v", err),
		}
	}

	log.Info().Str("control_url", u).Bool("headless", d.opts.Headless).Msg("Chrome launched")

	d.launcher = l
	d.browser = b
	return b, nil
}

// NewPage opens a blank tab at the default viewport.
func (d *RodDriver) NewPage(ctx context.Context) (Page, error) {
	b, err := d.connect()
	if err != nil {
		return nil, err
	}

	p, err := b.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, &BrowserError{
			Code:    ErrCodeBrowserCrash,
			Message: fmt.Sprintf("Failed to open page: %v", err),
		}
	}

	page := &rodPage{page: p, screenshotDir: d.opts.ScreenshotDir}
	if err := page.SetViewport(ctx, d.opts.ViewportWidth, d.opts.ViewportHeight); err != nil {
		_ = p.Close()
		return nil, err
	}
	return page, nil
}

// PrintPDF renders html in a scratch tab and prints it to PDF.
func (d *RodDriver) PrintPDF(ctx context.Context, html string) ([]byte, error) {
	b, err := d.connect()
	if err != nil {
		return nil, err
	}

	p, err := b.Context(ctx).Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, &BrowserError{Code: ErrCodeBrowserCrash, Message: fmt.Sprintf("Failed to open page: %v", err)}
	}
	defer p.Close()

	if err := p.SetDocumentContent(html); err != nil {
		return nil, &BrowserError{Code: ErrCodeScriptExecution, Message: fmt.Sprintf("Failed to set document: %v", err)}
	}

	r, err := p.PDF(&proto.PagePrintToPDF{PrintBackground: true})
	if err != nil {
		return nil, &BrowserError{Code: ErrCodeScriptExecution, Message: fmt.Sprintf("Failed to print PDF: %v", err)}
	}
	return io.ReadAll(r)
}

// Close shuts Chrome down. The driver can be reused afterwards.
func (d *RodDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var err error
	if d.browser != nil {
		err = d.browser.Close()
		d.browser = nil
	}
	if d.launcher != nil {
		d.launcher.Kill()
		d.launcher.Cleanup()
		d.launcher = nil
	}
	return err
}

type rodPage struct {
	page          *rod.Page
	screenshotDir string
}

func (p *rodPage) scoped(ctx context.Context, timeout time.Duration) *rod.Page {
	pg := p.page.Context(ctx)
	if timeout > 0 {
		pg = pg.Timeout(timeout)
	}
	return pg
}

func (p *rodPage) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	pg := p.scoped(ctx, timeout)
	if timeout > 0 {
		defer pg.CancelTimeout()
	}

	if err := pg.Navigate(url); err != nil {
		return wrapTimeout(err, ErrCodeNavigation, fmt.Sprintf("Failed to navigate to %s", url))
	}
	if err := pg.WaitLoad(); err != nil {
		return wrapTimeout(err, ErrCodeNavigation, fmt.Sprintf("Page did not finish loading: %s", url))
	}
	return nil
}

func (p *rodPage) Query(ctx context.Context, selector string) ([]Element, error) {
	els, err := p.page.Context(ctx).Elements(selector)
	if err != nil {
		return nil, &BrowserError{Code: ErrCodeElementNotFound, Message: fmt.Sprintf("Query %s failed: %v", selector, err)}
	}
	out := make([]Element, 0, len(els))
	for _, el := range els {
		out = append(out, &rodElement{el: el})
	}
	return out, nil
}

func (p *rodPage) Evaluate(ctx context.Context, js string, out any, args ...any) error {
	res, err := p.page.Context(ctx).Eval(js, args...)
	if err != nil {
		return &BrowserError{Code: ErrCodeScriptExecution, Message: fmt.Sprintf("Script failed: %v", err)}
	}
	if out == nil {
		return nil
	}
	if err := res.Value.Unmarshal(out); err != nil {
		return &BrowserError{Code: ErrCodeScriptExecution, Message: fmt.Sprintf("Decode script result: %v", err)}
	}
	return nil
}

var unsafeName = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

func (p *rodPage) Screenshot(ctx context.Context, name string) (string, error) {
	data, err := p.page.Context(ctx).Screenshot(false, nil)
	if err != nil {
		return "", &BrowserError{Code: ErrCodeScriptExecution, Message: fmt.Sprintf("Screenshot failed: %v", err)}
	}

	dir := p.screenshotDir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create screenshot dir: %w", err)
	}

	suffix, err := gonanoid.New(8)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.png", unsafeName.ReplaceAllString(name, "_"), suffix))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}
	return path, nil
}

func (p *rodPage) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	pg := p.scoped(ctx, timeout)
	if timeout > 0 {
		defer pg.CancelTimeout()
	}

	el, err := pg.Element(selector)
	if err != nil {
		return wrapTimeout(err, ErrCodeElementNotFound, fmt.Sprintf("Element not found: %s", selector))
	}
	if err := el.WaitVisible(); err != nil {
		return wrapTimeout(err, ErrCodeElementNotFound, fmt.Sprintf("Element not visible: %s", selector))
	}
	return nil
}

func (p *rodPage) WaitURL(ctx context.Context, pattern string, timeout time.Duration) error {
	pg := p.scoped(ctx, timeout)
	if timeout > 0 {
		defer pg.CancelTimeout()
	}

	if err := pg.Wait(rod.Eval(`(p) => new RegExp(p).test(location.href)`, pattern)); err != nil {
		return wrapTimeout(err, ErrCodeTimeout, fmt.Sprintf("URL never matched %q", pattern))
	}
	return nil
}

func (p *rodPage) WaitText(ctx context.Context, text string, timeout time.Duration) error {
	pg := p.scoped(ctx, timeout)
	if timeout > 0 {
		defer pg.CancelTimeout()
	}

	js := `(t) => !!document.body && document.body.innerText.includes(t)`
	if err := pg.Wait(rod.Eval(js, text)); err != nil {
		return wrapTimeout(err, ErrCodeTimeout, fmt.Sprintf("Text never became visible: %q", text))
	}
	return nil
}

func (p *rodPage) SetViewport(ctx context.Context, width, height int) error {
	err := p.page.Context(ctx).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             width,
		Height:            height,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		return &BrowserError{Code: ErrCodeScriptExecution, Message: fmt.Sprintf("Set viewport %dx%d: %v", width, height, err)}
	}
	return nil
}

func (p *rodPage) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (p *rodPage) Close() error {
	return p.page.Close()
}

type rodElement struct {
	el *rod.Element
}

func (e *rodElement) Click(ctx context.Context) error {
	if err := e.el.Context(ctx).Click(proto.InputMouseButtonLeft, 1); err != nil {
		return &BrowserError{Code: ErrCodeScriptExecution, Message: fmt.Sprintf("Failed to click element: %v", err)}
	}
	return nil
}

func (e *rodElement) Fill(ctx context.Context, value string) error {
	el := e.el.Context(ctx)
	if _, err := el.Eval(`function() { if ("value" in this) this.value = "" }`); err != nil {
		return &BrowserError{Code: ErrCodeScriptExecution, Message: fmt.Sprintf("Failed to clear element: %v", err)}
	}
	if err := el.Input(value); err != nil {
		return &BrowserError{Code: ErrCodeScriptExecution, Message: fmt.Sprintf("Failed to type into element: %v", err)}
	}
	return nil
}

func (e *rodElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, err := e.el.Context(ctx).Attribute(name)
	if err != nil {
		return "", false, &BrowserError{Code: ErrCodeScriptExecution, Message: fmt.Sprintf("Read attribute %s: %v", name, err)}
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

func (e *rodElement) Text(ctx context.Context) (string, error) {
	t, err := e.el.Context(ctx).Text()
	if err != nil {
		return "", &BrowserError{Code: ErrCodeScriptExecution, Message: fmt.Sprintf("Read text: %v", err)}
	}
	return t, nil
}

func (e *rodElement) Visible(ctx context.Context) (bool, error) {
	v, err := e.el.Context(ctx).Visible()
	if err != nil {
		return false, &BrowserError{Code: ErrCodeScriptExecution, Message: fmt.Sprintf("Check visibility: %v", err)}
	}
	return v, nil
}

func (e *rodElement) Evaluate(ctx context.Context, js string, out any) error {
	res, err := e.el.Context(ctx).Eval(js)
	if err != nil {
		return &BrowserError{Code: ErrCodeScriptExecution, Message: fmt.Sprintf("Element script failed: %v", err)}
	}
	if out == nil {
		return nil
	}
	return res.Value.Unmarshal(out)
}

func wrapTimeout(err error, code, msg string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		code = ErrCodeTimeout
	}
	return &BrowserError{Code: code, Message: fmt.Sprintf("%s: %v", msg, err)}
}
