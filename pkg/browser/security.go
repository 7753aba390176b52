package browser

import (
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// SecurityConfig restricts which targets may be driven.
type SecurityConfig struct {
	AllowLocalhostUrls bool     `json:"allowLocalhostUrls"`
	AllowedDomains     []string `json:"allowedDomains,omitempty"`
	BlockedDomains     []string `json:"blockedDomains,omitempty"`
}

// SecurityValidator validates URLs and enforces security policies
type SecurityValidator struct {
	config SecurityConfig
}

// NewSecurityValidator creates a new security validator
func NewSecurityValidator(config SecurityConfig) *SecurityValidator {
	return &SecurityValidator{
		config: config,
	}
}

// ValidateURL checks that urlStr is an absolute http(s) URL permitted by policy.
func (sv *SecurityValidator) ValidateURL(urlStr string) error {
	parsedURL, err := url.Parse(strings.TrimSpace(urlStr))
	if err != nil || parsedURL.Host == "" {
		return &BrowserError{
			Code:    ErrCodeValidation,
			Message: fmt.Sprintf("Invalid URL format: %s", urlStr),
		}
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		sv.logSecurityViolation("scheme_blocked", urlStr)
		return &BrowserError{
			Code:    ErrCodeValidation,
			Message: fmt.Sprintf("Only http and https URLs can be tested, got %q", parsedURL.Scheme),
		}
	}

	if sv.isLocalhostURL(parsedURL) && !sv.config.AllowLocalhostUrls {
		sv.logSecurityViolation("localhost_url_blocked", urlStr)
		return &BrowserError{
			Code:    ErrCodeSecurity,
			Message: "localhost URLs are not allowed",
			Details: map[string]interface{}{
				"url": urlStr,
			},
		}
	}

	host := parsedURL.Hostname()

	if len(sv.config.AllowedDomains) > 0 && !sv.matchAny(host, sv.config.AllowedDomains) {
		sv.logSecurityViolation("domain_not_allowed", urlStr)
		return &BrowserError{
			Code:    ErrCodeSecurity,
			Message: fmt.Sprintf("Domain not in allowed list: %s", host),
			Details: map[string]interface{}{
				"url":    urlStr,
				"domain": host,
			},
		}
	}

	if sv.matchAny(host, sv.config.BlockedDomains) {
		sv.logSecurityViolation("domain_blocked", urlStr)
		return &BrowserError{
			Code:    ErrCodeSecurity,
			Message: fmt.Sprintf("Domain is blocked: %s", host),
			Details: map[string]interface{}{
				"url":    urlStr,
				"domain": host,
			},
		}
	}

	return nil
}

func (sv *SecurityValidator) isLocalhostURL(parsedURL *url.URL) bool {
	host := strings.ToLower(parsedURL.Hostname())
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && (ip.IsLoopback() || ip.IsUnspecified())
}

func (sv *SecurityValidator) matchAny(host string, patterns []string) bool {
	for _, p := range patterns {
		if matchDomain(host, p) {
			return true
		}
	}
	return false
}

// matchDomain checks if a host matches a domain pattern
func matchDomain(host, pattern string) bool {
	if host == pattern {
		return true
	}

	// *.example.com
	if strings.HasPrefix(pattern, "*.") {
		suffix := pattern[2:]
		return strings.HasSuffix(host, "."+suffix) || host == suffix
	}

	// .example.com
	if strings.HasPrefix(pattern, ".") {
		return strings.HasSuffix(host, pattern) || host == pattern[1:]
	}

	return false
}

func (sv *SecurityValidator) logSecurityViolation(violationType, details string) {
	log.Warn().Str("violation", violationType).Str("url", details).Msg("Target rejected")
}

// LinkKind classifies a discovered link.
type LinkKind string

const (
	LinkAnchor   LinkKind = "anchor"
	LinkDownload LinkKind = "download"
	LinkInternal LinkKind = "internal"
	LinkExternal LinkKind = "external"
	// LinkSkipped covers mailto:, tel:, javascript: and other non-navigational schemes.
	LinkSkipped LinkKind = "skipped"
)

var downloadExt = regexp.MustCompile(`(?i)\.(pdf|zip|docx?|xlsx?|csv|jpg|png|gif)$`)

// IsDownloadURL reports whether the URL path looks like a direct file download.
func IsDownloadURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return downloadExt.MatchString(raw)
	}
	return downloadExt.MatchString(u.Path)
}

// ClassifyLink resolves href against base and classifies it. The resolved
// absolute URL is returned for every kind except LinkSkipped.
func ClassifyLink(base *url.URL, href string) (LinkKind, string) {
	href = strings.TrimSpace(href)
	if href == "" {
		return LinkSkipped, ""
	}
	if strings.HasPrefix(href, "#") {
		return LinkAnchor, base.ResolveReference(&url.URL{Fragment: href[1:]}).String()
	}

	ref, err := url.Parse(href)
	if err != nil {
		return LinkSkipped, ""
	}
	abs := base.ResolveReference(ref)

	if abs.Scheme != "http" && abs.Scheme != "https" {
		return LinkSkipped, ""
	}

	// Same document with only a fragment change.
	if abs.Fragment != "" && sameDocument(base, abs) {
		return LinkAnchor, abs.String()
	}

	if downloadExt.MatchString(abs.Path) {
		return LinkDownload, abs.String()
	}

	if strings.EqualFold(abs.Host, base.Host) {
		return LinkInternal, abs.String()
	}
	return LinkExternal, abs.String()
}

func sameDocument(a, b *url.URL) bool {
	return strings.EqualFold(a.Host, b.Host) && a.Scheme == b.Scheme &&
		strings.TrimSuffix(a.Path, "/") == strings.TrimSuffix(b.Path, "/") && a.RawQuery == b.RawQuery
}
