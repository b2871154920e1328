// Package validation checks prediction requests and worker completions
// against the JSON schemas embedded in this package.
package validation

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/detectai/backend/internal/apperr"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const (
	SchemaPredictRequest = "predict_request"
	SchemaPredictResult  = "predict_result"
)

const schemaBase = "https://detect-ai.dev/schemas/"

type Validator struct {
	schemas map[string]*jsonschema.Schema
}

// NewValidator compiles every embedded schema.
func NewValidator() (*Validator, error) {
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	c.AssertFormat = true
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		data, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read %q: %w", e.Name(), err)
		}
		if err := c.AddResource(schemaBase+e.Name(), bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("add schema %q: %w", e.Name(), err)
		}
		names = append(names, e.Name())
	}
	schemas := make(map[string]*jsonschema.Schema, len(names))
	for _, n := range names {
		s, err := c.Compile(schemaBase + n)
		if err != nil {
			return nil, fmt.Errorf("compile schema %q: %w", n, err)
		}
		schemas[strings.TrimSuffix(n, ".json")] = s
	}
	return &Validator{schemas: schemas}, nil
}

// Validate reports a wrapped apperr.ErrValidation when doc does not match
// the named schema.
func (v *Validator) Validate(name string, doc json.RawMessage) error {
	schema, ok := v.schemas[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}
	var parsed any
	if err := json.Unmarshal(doc, &parsed); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", apperr.ErrValidation, err)
	}
	if err := schema.Validate(parsed); err != nil {
		return fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	return nil
}

func (v *Validator) ValidatePredictRequest(doc json.RawMessage) error {
	return v.Validate(SchemaPredictRequest, doc)
}

func (v *Validator) ValidatePredictResult(doc json.RawMessage) error {
	return v.Validate(SchemaPredictResult, doc)
}
