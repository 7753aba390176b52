package report

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
	texttemplate "text/template"

	"github.com/harun/uxorbit/pkg/aggregate"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

var markdownTemplate = texttemplate.Must(texttemplate.New("report").Funcs(texttemplate.FuncMap{
	"score": func(v *float64) string {
		if v == nil {
			return "N/A"
		}
		return fmt.Sprintf("%g", *v)
	},
	"cell": func(s string) string {
		return strings.ReplaceAll(strings.ReplaceAll(s, "|", "\\|"), "\n", " ")
	},
}).Parse(`# UX test report
{{with .Metadata}}
**Target:** {{.URL}}  
**Session:** {{.SessionID}}  
**Status:** {{.Status}}  
**Finished:** {{.FinishedAt.Format "2006-01-02 15:04:05 MST"}}
{{end}}
## Executive summary

{{.Summary}}

## Scores

| Category | Score | Benchmark |
|---|---|---|
| Usability | {{score .Scores.Usability}} | {{.Benchmarks.Usability}} |
| Accessibility | {{score .Scores.Accessibility}} | {{.Benchmarks.Accessibility}} |
| Performance | {{score .Scores.Performance}} | {{.Benchmarks.Performance}} |
{{with .Composite}}
Weighted score: **{{score .}}**
{{end}}{{with .Trend}}
## Trend

| Category | Change |
|---|---|
| Usability | {{score .Usability}} |
| Accessibility | {{score .Accessibility}} |
| Performance | {{score .Performance}} |
{{end}}{{with .IssueRows}}
## Issues

| Agent | Type | Severity | Message |
|---|---|---|---|
{{range .}}| {{.Role}} | {{.Issue.Type}} | {{.Issue.Severity}} | {{cell .Issue.Message}} |
{{end}}{{end}}{{with .Patterns}}
## Recurring issues
{{range .}}
- {{.}}{{end}}
{{end}}{{with .Recommendations}}
## Recommendations
{{range .}}
- {{.}}{{end}}
{{end}}{{with .AgentFailures}}
## Agent failures

| Agent | Error |
|---|---|
{{range .}}| {{.Role}} | {{cell .Error}} |
{{end}}{{end}}`))

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<style>
body { font-family: -apple-system, "Segoe UI", Helvetica, Arial, sans-serif; max-width: 960px; margin: 2rem auto; color: #1f2328; line-height: 1.5; }
h1 { border-bottom: 2px solid #d0d7de; padding-bottom: .3rem; }
h2 { margin-top: 2rem; border-bottom: 1px solid #d0d7de; }
table { border-collapse: collapse; width: 100%; margin: 1rem 0; }
th, td { border: 1px solid #d0d7de; padding: .4rem .6rem; text-align: left; }
th { background: #f6f8fa; }
</style>
</head>
<body>
{{.Body}}
</body>
</html>
`))

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// Markdown renders the report as Markdown.
func Markdown(rep *aggregate.Report) (string, error) {
	view := struct {
		*aggregate.Report
		IssueRows []aggregate.IssueRef
	}{Report: rep, IssueRows: rep.Issues()}

	var buf bytes.Buffer
	if err := markdownTemplate.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}

// HTML renders the report as a standalone HTML page.
func HTML(rep *aggregate.Report) (string, error) {
	md, err := Markdown(rep)
	if err != nil {
		return "", err
	}
	var body bytes.Buffer
	if err := markdown.Convert([]byte(md), &body); err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}

	title := "UX test report"
	if rep.Metadata != nil && rep.Metadata.URL != "" {
		title += ": " + rep.Metadata.URL
	}
	var page bytes.Buffer
	err = pageTemplate.Execute(&page, struct {
		Title string
		Body  template.HTML
	}{Title: title, Body: template.HTML(body.String())})
	if err != nil {
		return "", fmt.Errorf("render page: %w", err)
	}
	return page.String(), nil
}
