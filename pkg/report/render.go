package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/harun/uxorbit/pkg/aggregate"
)

// Format is an export format.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
	FormatZIP  Format = "zip"
)

// Formats lists every supported format.
var Formats = []Format{FormatJSON, FormatCSV, FormatHTML, FormatPDF, FormatZIP}

var (
	ErrUnknownFormat = errors.New("unknown export format")
	ErrNoPrinter     = errors.New("pdf export needs a browser")
)

// ParseFormat parses a format name. An empty name means JSON.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if f == "" {
		return FormatJSON, nil
	}
	for _, known := range Formats {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUnknownFormat, s)
}

// PDFPrinter turns an HTML document into PDF bytes.
type PDFPrinter interface {
	PrintPDF(ctx context.Context, html string) ([]byte, error)
}

// Document is a rendered export.
type Document struct {
	ContentType string
	Filename    string
	Data        []byte
}

// Renderer produces export documents.
type Renderer struct {
	printer PDFPrinter
}

// NewRenderer creates a Renderer. printer may be nil, which disables PDF export.
func NewRenderer(printer PDFPrinter) *Renderer {
	return &Renderer{printer: printer}
}

// Render produces report in format.
func (r *Renderer) Render(ctx context.Context, rep *aggregate.Report, format Format) (*Document, error) {
	if rep == nil {
		return nil, errors.New("no report to render")
	}
	base := "uxorbit-report"
	if rep.Metadata != nil && rep.Metadata.SessionID != "" {
		base += "-" + rep.Metadata.SessionID
	}

	var (
		data        []byte
		contentType string
		err         error
	)
	switch format {
	case FormatJSON:
		data, err = JSON(rep)
		contentType = "application/json"
	case FormatCSV:
		data, err = CSV(rep)
		contentType = "text/csv"
	case FormatHTML:
		var html string
		html, err = HTML(rep)
		data = []byte(html)
		contentType = "text/html; charset=utf-8"
	case FormatPDF:
		data, err = r.PDF(ctx, rep)
		contentType = "application/pdf"
	case FormatZIP:
		data, err = Bundle(rep)
		contentType = "application/zip"
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", format, err)
	}
	return &Document{ContentType: contentType, Filename: base + "." + string(format), Data: data}, nil
}

// PDF prints the HTML rendition through the configured printer.
func (r *Renderer) PDF(ctx context.Context, rep *aggregate.Report) ([]byte, error) {
	if r.printer == nil {
		return nil, ErrNoPrinter
	}
	html, err := HTML(rep)
	if err != nil {
		return nil, err
	}
	return r.printer.PrintPDF(ctx, html)
}

type jsonExport struct {
	Metadata *aggregate.Metadata `json:"metadata"`
	Results  *aggregate.Report   `json:"results"`
}

// JSON returns {metadata, results}, indented.
func JSON(rep *aggregate.Report) ([]byte, error) {
	return json.MarshalIndent(jsonExport{Metadata: rep.Metadata, Results: rep}, "", "  ")
}

// CSV returns one row per usability issue and a final Overall row.
func CSV(rep *aggregate.Report) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	rows := [][]string{{"Agent", "Category", "Severity", "Score", "Summary"}}
	for _, ref := range rep.Issues() {
		rows = append(rows, []string{
			string(ref.Role),
			ref.Issue.Type,
			ref.Issue.Severity,
			formatScore(ref.Score),
			ref.Issue.Message,
		})
	}
	rows = append(rows, []string{"Overall", "", "", formatScore(rep.Scores.Usability), rep.Summary})

	if err := w.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatScore(v *float64) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%g", *v)
}
