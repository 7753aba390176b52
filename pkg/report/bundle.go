package report

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/harun/uxorbit/pkg/agent"
	"github.com/harun/uxorbit/pkg/aggregate"
	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog/log"
)

// Screenshots lists every artifact path the report references, without duplicates.
func Screenshots(rep *aggregate.Report) []string {
	var out []string
	seen := map[string]bool{}
	add := func(p string) {
		if p != "" && !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}

	for _, o := range rep.Outcomes {
		add(o.Artifact)
		switch p := o.Payload.(type) {
		case *agent.FormResult:
			if p == nil {
				continue
			}
			for _, f := range p.Forms {
				for _, s := range f.Screenshots {
					add(s)
				}
			}
		case *agent.NavigationResult:
			if p == nil {
				continue
			}
			for _, fr := range p.Flows {
				for _, st := range fr.Steps {
					add(st.Screenshot)
				}
			}
		case *agent.FeedbackResult:
			if p == nil {
				continue
			}
			for _, s := range p.Screenshots {
				add(s.Path)
			}
		}
	}
	for _, f := range rep.AgentFailures {
		add(f.Artifact)
	}
	return out
}

// Bundle zips report.json, report.html and every readable screenshot.
// Missing screenshots are skipped.
func Bundle(rep *aggregate.Report) ([]byte, error) {
	jsonData, err := JSON(rep)
	if err != nil {
		return nil, err
	}
	html, err := HTML(rep)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	if err := writeEntry(zw, "report.json", jsonData); err != nil {
		return nil, err
	}
	if err := writeEntry(zw, "report.html", []byte(html)); err != nil {
		return nil, err
	}

	names := map[string]int{}
	for _, p := range Screenshots(rep) {
		data, err := os.ReadFile(p)
		if err != nil {
			log.Warn().Err(err).Str("path", p).Msg("Skipping screenshot missing from bundle")
			continue
		}
		name := filepath.Base(p)
		if n := names[name]; n > 0 {
			ext := filepath.Ext(name)
			name = fmt.Sprintf("%s_%d%s", name[:len(name)-len(ext)], n, ext)
		}
		names[filepath.Base(p)]++
		if err := writeEntry(zw, path.Join("screenshots", name), data); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finish zip: %w", err)
	}
	return buf.Bytes(), nil
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}
