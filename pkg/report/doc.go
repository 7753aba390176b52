// Package report renders aggregated reports as downloadable documents:
// JSON, CSV, HTML, PDF and a ZIP bundle with screenshots.
package report
