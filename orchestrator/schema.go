package orchestrator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/hupe1980/contextmesh/core"
)

// schemaCache memoizes compiled response schemas by their raw text so a
// definition reused across executions compiles once.
type schemaCache struct {
	mu      sync.Mutex
	schemas map[string]*jsonschema.Schema
}

func newSchemaCache() *schemaCache {
	return &schemaCache{schemas: make(map[string]*jsonschema.Schema)}
}

func (c *schemaCache) compile(raw json.RawMessage) (*jsonschema.Schema, error) {
	key := string(raw)

	c.mu.Lock()
	defer c.mu.Unlock()

	if compiled, ok := c.schemas[key]; ok {
		return compiled, nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("response.json", bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile("response.json")
	if err != nil {
		return nil, fmt.Errorf("compile response schema: %w", err)
	}

	c.schemas[key] = compiled
	return compiled, nil
}

// validateResponse checks generated content against the definition's response
// schema. Any violation, including non-JSON content, surfaces as a
// *core.SchemaError which is never retried. An uncompilable schema is a
// definition fault and surfaces as a validation error.
func (c *schemaCache) validateResponse(raw json.RawMessage, content string) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}

	compiled, err := c.compile(raw)
	if err != nil {
		return core.NewValidationError("responseSchema", err.Error())
	}

	var v any
	if err := json.Unmarshal([]byte(content), &v); err != nil {
		return &core.SchemaError{Err: fmt.Errorf("response is not valid JSON: %w", err)}
	}
	if err := compiled.Validate(v); err != nil {
		return &core.SchemaError{Err: err}
	}

	return nil
}
