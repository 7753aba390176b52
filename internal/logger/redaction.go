package logger

import (
	"io"
	"regexp"
	"sync"
)

const redacted = "[REDACTED]"

// Redactor redacts sensitive information from logs
type Redactor struct {
	mu       sync.RWMutex
	patterns []replacement
}

type replacement struct {
	re   *regexp.Regexp
	with string
}

// NewRedactor creates a new redactor with default patterns
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []replacement{
			// Bearer tokens
			{regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._~+/=-]+`), "Bearer " + redacted},

			// Credentials embedded in URLs
			{regexp.MustCompile(`(https?://)[^/\s:@"]+:[^/\s@"]+@`), "${1}" + redacted + "@"},

			// Secret-looking query parameters in probed URLs
			{regexp.MustCompile(`(?i)([?&](?:password|passwd|pwd|token|access_token|api_key|apikey|secret|session)=)[^&\s"#]+`), "${1}" + redacted},

			// Generated form passwords and key/value secrets
			{regexp.MustCompile(`(?i)("?(?:password|pwd|secret)"?\s*[:=]\s*"?)[^\s",}&#]+`), "${1}" + redacted},

			// AWS keys
			{regexp.MustCompile(`AKIA[0-9A-Z]{16}`), redacted},
		},
	}
}

// AddPattern adds a custom redaction pattern; the whole match is replaced.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.patterns = append(r.patterns, replacement{re: re, with: redacted})
	r.mu.Unlock()
	return nil
}

// AddLiteral redacts every occurrence of s. Empty strings are ignored.
func (r *Redactor) AddLiteral(s string) {
	if s == "" {
		return
	}
	_ = r.AddPattern(regexp.QuoteMeta(s))
}

// Redact redacts sensitive information from a string
func (r *Redactor) Redact(s string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := s
	for _, p := range r.patterns {
		result = p.re.ReplaceAllString(result, p.with)
	}
	return result
}

// Wrap wraps an io.Writer to redact sensitive information
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success so zerolog does not treat a shorter
// redacted line as a short write.
func (w *redactingWriter) Write(p []byte) (int, error) {
	out := w.redactor.Redact(string(p))
	if _, err := w.writer.Write([]byte(out)); err != nil {
		return 0, err
	}
	return len(p), nil
}
