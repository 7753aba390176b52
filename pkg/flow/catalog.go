package flow

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// ErrUnknownFlow is returned when a requested flow name is not in the catalog.
var ErrUnknownFlow = errors.New("unknown flow")

const durationPattern = `^[0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h)$`

var flowSchema = map[string]interface{}{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []interface{}{"steps"},
	"properties": map[string]interface{}{
		"name":        map[string]interface{}{"type": "string", "minLength": 1},
		"description": map[string]interface{}{"type": "string"},
		"match":       map[string]interface{}{"type": "string", "minLength": 1},
		"steps": map[string]interface{}{
			"type":     "array",
			"minItems": 1,
			"items": map[string]interface{}{
				"type":                 "object",
				"additionalProperties": false,
				"required":             []interface{}{"action"},
				"properties": map[string]interface{}{
					"name":     map[string]interface{}{"type": "string"},
					"action":   map[string]interface{}{"enum": []interface{}{"goto", "click"}},
					"url":      map[string]interface{}{"type": "string", "minLength": 1},
					"selector": map[string]interface{}{"type": "string", "minLength": 1},
					"timeout":  map[string]interface{}{"type": "string", "pattern": durationPattern},
					"expect": map[string]interface{}{
						"type":                 "object",
						"additionalProperties": false,
						"properties": map[string]interface{}{
							"wait_for_selector": map[string]interface{}{"type": "string"},
							"url_includes":      map[string]interface{}{"type": "string"},
							"text_visible":      map[string]interface{}{"type": "string"},
							"timeout":           map[string]interface{}{"type": "string", "pattern": durationPattern},
						},
					},
				},
				"allOf": []interface{}{
					map[string]interface{}{
						"if":   map[string]interface{}{"properties": map[string]interface{}{"action": map[string]interface{}{"const": "goto"}}},
						"then": map[string]interface{}{"required": []interface{}{"url"}},
					},
					map[string]interface{}{
						"if":   map[string]interface{}{"properties": map[string]interface{}{"action": map[string]interface{}{"const": "click"}}},
						"then": map[string]interface{}{"required": []interface{}{"selector"}},
					},
				},
			},
		},
	},
}

var (
	schemaOnce sync.Once
	schema     *gojsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		schema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewGoLoader(flowSchema))
	})
	return schema, schemaErr
}

// Parse validates a YAML flow definition and decodes it. An empty name is
// left for the caller to fill; an empty match defaults to "*".
func Parse(data []byte) (Flow, error) {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Flow{}, fmt.Errorf("parse flow yaml: %w", err)
	}
	if raw == nil {
		return Flow{}, fmt.Errorf("empty flow definition")
	}

	s, err := compiledSchema()
	if err != nil {
		return Flow{}, fmt.Errorf("compile flow schema: %w", err)
	}
	result, err := s.Validate(gojsonschema.NewGoLoader(raw))
	if err != nil {
		return Flow{}, fmt.Errorf("validate flow: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return Flow{}, fmt.Errorf("invalid flow: %s", strings.Join(msgs, "; "))
	}

	var f Flow
	if err := yaml.Unmarshal(data, &f); err != nil {
		return Flow{}, fmt.Errorf("decode flow: %w", err)
	}
	if f.Match == "" {
		f.Match = "*"
	}
	if err := f.Validate(); err != nil {
		return Flow{}, fmt.Errorf("invalid flow: %w", err)
	}
	return f, nil
}

type entry struct {
	flow    Flow
	matcher glob.Glob
	file    string
}

// Catalog holds the flows loaded from a directory of YAML files.
type Catalog struct {
	dir string

	mu      sync.RWMutex
	entries map[string]entry
}

// NewCatalog creates an empty catalog for dir. Call Load to populate it.
func NewCatalog(dir string) *Catalog {
	return &Catalog{dir: dir, entries: make(map[string]entry)}
}

// Dir returns the watched directory.
func (c *Catalog) Dir() string { return c.dir }

// Load replaces the catalog contents with the valid flows in the directory.
// Invalid files are logged and skipped. A missing directory yields an empty catalog.
func (c *Catalog) Load() error {
	files, err := flowFiles(c.dir)
	if err != nil {
		return err
	}

	next := make(map[string]entry, len(files))
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			log.Warn().Err(err).Str("file", file).Msg("Skipping unreadable flow file")
			continue
		}
		f, err := Parse(data)
		if err != nil {
			log.Warn().Err(err).Str("file", file).Msg("Skipping invalid flow file")
			continue
		}
		if f.Name == "" {
			f.Name = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		}
		g, err := glob.Compile(f.Match)
		if err != nil {
			log.Warn().Err(err).Str("file", file).Str("match", f.Match).Msg("Skipping flow with invalid match pattern")
			continue
		}
		if prev, dup := next[f.Name]; dup {
			log.Warn().Str("flow", f.Name).Str("file", file).Str("previous", prev.file).Msg("Duplicate flow name, keeping the first")
			continue
		}
		next[f.Name] = entry{flow: f, matcher: g, file: file}
	}

	c.mu.Lock()
	c.entries = next
	c.mu.Unlock()

	log.Info().Str("dir", c.dir).Int("flows", len(next)).Msg("Flow catalog loaded")
	return nil
}

func flowFiles(dir string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	ents, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read flow dir: %w", err)
	}
	var files []string
	for _, e := range ents {
		if e.IsDir() || !isFlowFile(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func isFlowFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return (ext == ".yaml" || ext == ".yml") && !strings.HasPrefix(filepath.Base(name), ".")
}

// Add registers a flow directly, replacing any flow with the same name.
func (c *Catalog) Add(f Flow) error {
	if f.Name == "" {
		return fmt.Errorf("flow name is required")
	}
	if f.Match == "" {
		f.Match = "*"
	}
	if err := f.Validate(); err != nil {
		return err
	}
	g, err := glob.Compile(f.Match)
	if err != nil {
		return fmt.Errorf("compile match %q: %w", f.Match, err)
	}
	c.mu.Lock()
	c.entries[f.Name] = entry{flow: f, matcher: g}
	c.mu.Unlock()
	return nil
}

// Get returns a flow by name.
func (c *Catalog) Get(name string) (Flow, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[name]
	return e.flow, ok
}

// Names returns all flow names, sorted.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.entries))
	for n := range c.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ForURL returns flows whose match glob accepts target, sorted by name.
func (c *Catalog) ForURL(target string) []Flow {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []Flow
	for _, e := range c.entries {
		if e.matcher.Match(target) {
			out = append(out, e.flow)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Select returns the named flows in the given order, or the flows matching
// target when names is empty.
func (c *Catalog) Select(target string, names []string) ([]Flow, error) {
	if len(names) == 0 {
		return c.ForURL(target), nil
	}
	out := make([]Flow, 0, len(names))
	for _, n := range names {
		f, ok := c.Get(n)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownFlow, n)
		}
		out = append(out, f)
	}
	return out, nil
}
