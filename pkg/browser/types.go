package browser

import (
	"context"
	"errors"
	"time"
)

// Driver hands out pages. Every page obtained from NewPage must be closed.
type Driver interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is a single driven browser tab.
type Page interface {
	Navigate(ctx context.Context, url string, timeout time.Duration) error
	Query(ctx context.Context, selector string) ([]Element, error)
	// Evaluate runs a JS function expression and decodes its JSON result into out.
	// out may be nil when the result is not needed.
	Evaluate(ctx context.Context, js string, out any, args ...any) error
	// Screenshot stores a PNG of the viewport and returns the artifact path.
	Screenshot(ctx context.Context, name string) (string, error)
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	// WaitURL waits until the page URL matches the regular expression pattern.
	WaitURL(ctx context.Context, pattern string, timeout time.Duration) error
	WaitText(ctx context.Context, text string, timeout time.Duration) error
	SetViewport(ctx context.Context, width, height int) error
	URL() string
	Close() error
}

// Element is a DOM element handle.
type Element interface {
	Click(ctx context.Context) error
	Fill(ctx context.Context, value string) error
	Attribute(ctx context.Context, name string) (string, bool, error)
	Text(ctx context.Context) (string, error)
	Visible(ctx context.Context) (bool, error)
	// Evaluate runs a JS function with the element bound to this.
	Evaluate(ctx context.Context, js string, out any) error
}

// Options configures the rod driver.
type Options struct {
	Headless          bool
	NoSandbox         bool
	Bin               string
	ScreenshotDir     string
	ViewportWidth     int
	ViewportHeight    int
	NavigationTimeout time.Duration
}

// Viewport is a named screen size used for responsive checks.
type Viewport struct {
	Name   string `json:"name"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Breakpoints are the responsive sizes captured by the feedback agent.
var Breakpoints = []Viewport{
	{Name: "mobile", Width: 375, Height: 667},
	{Name: "tablet", Width: 768, Height: 1024},
	{Name: "desktop", Width: 1280, Height: 800},
}

// BrowserError is a typed driver failure.
type BrowserError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func (e *BrowserError) Error() string {
	return e.Message
}

// Error codes
const (
	ErrCodeValidation      = "VALIDATION_ERROR"
	ErrCodeNavigation      = "NAVIGATION_ERROR"
	ErrCodeTimeout         = "TIMEOUT_ERROR"
	ErrCodeElementNotFound = "ELEMENT_NOT_FOUND"
	ErrCodeScriptExecution = "SCRIPT_EXECUTION_ERROR"
	ErrCodeSecurity        = "SECURITY_ERROR"
	ErrCodeBrowserCrash    = "BROWSER_CRASH"
	ErrCodeConfiguration   = "CONFIGURATION_ERROR"
)

// IsCode reports whether err is a BrowserError with the given code.
func IsCode(err error, code string) bool {
	var be *BrowserError
	return errors.As(err, &be) && be.Code == code
}
