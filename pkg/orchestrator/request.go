package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/harun/uxorbit/pkg/agent"
	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidRequest marks a start request that cannot be accepted.
var ErrInvalidRequest = errors.New("invalid request")

// Request asks for one test session.
type Request struct {
	URL    string   `json:"url"`
	Agents []string `json:"agents"`
	Flows  []string `json:"flows,omitempty"`
}

var requestSchema = map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"url", "agents"},
	"properties": map[string]interface{}{
		"url": map[string]interface{}{"type": "string", "minLength": 1},
		"agents": map[string]interface{}{
			"type":     "array",
			"minItems": 1,
			"items":    map[string]interface{}{"type": "string", "minLength": 1},
		},
		"flows": map[string]interface{}{
			"type":  "array",
			"items": map[string]interface{}{"type": "string", "minLength": 1},
		},
	},
}

var (
	requestSchemaOnce sync.Once
	compiledRequest   *gojsonschema.Schema
	requestSchemaErr  error
)

// ParseRequest validates a JSON start request and decodes it.
func ParseRequest(data []byte) (Request, error) {
	requestSchemaOnce.Do(func() {
		compiledRequest, requestSchemaErr = gojsonschema.NewSchema(gojsonschema.NewGoLoader(requestSchema))
	})
	if requestSchemaErr != nil {
		return Request{}, fmt.Errorf("compile request schema: %w", requestSchemaErr)
	}

	result, err := compiledRequest.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return Request{}, fmt.Errorf("%w: malformed JSON body", ErrInvalidRequest)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return Request{}, fmt.Errorf("%w: %s", ErrInvalidRequest, strings.Join(msgs, "; "))
	}

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return req, nil
}

// validate checks the parts of a request that need no collaborators.
func (r Request) validate() error {
	if strings.TrimSpace(r.URL) == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	if len(r.Agents) == 0 {
		return fmt.Errorf("%w: at least one agent is required", ErrInvalidRequest)
	}
	if _, err := agent.ParseRoles(r.Agents); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}
