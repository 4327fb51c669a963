// Package jsonschema validates response bodies against JSON schemas that are
// compiled once and shared by every virtual user.
package jsonschema

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidationErrors lists every schema violation found in one document.
type ValidationErrors []error

// Error implements the error interface for ValidationErrors
func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, err := range ve {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// Schema is a compiled JSON schema. It is safe for concurrent use.
type Schema struct {
	name   string
	schema *jsonschema.Schema
}

// Compile compiles schemaStr. name identifies the schema in error messages.
func Compile(name, schemaStr string) (*Schema, error) {
	if name == "" {
		name = "schema.json"
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(schemaStr)); err != nil {
		return nil, fmt.Errorf("invalid schema %s: %w", name, err)
	}

	schema, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("invalid schema %s: %w", name, err)
	}
	return &Schema{name: name, schema: schema}, nil
}

// Name returns the name the schema was compiled under.
func (s *Schema) Name() string {
	return s.name
}

// Validate checks body against the schema. A body that breaks the schema
// yields ValidationErrors; a body that is not JSON yields a plain error.
func (s *Schema) Validate(body []byte) error {
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	err := s.schema.Validate(doc)
	if err == nil {
		return nil
	}

	var verr *jsonschema.ValidationError
	if errors.As(err, &verr) {
		return collectErrors(verr)
	}
	return ValidationErrors{err}
}

// collectErrors flattens the leaves of a validation error tree.
func collectErrors(err *jsonschema.ValidationError) ValidationErrors {
	if len(err.Causes) == 0 {
		return ValidationErrors{fmt.Errorf("at '%s': %s", err.InstanceLocation, err.Message)}
	}

	var out ValidationErrors
	for _, cause := range err.Causes {
		out = append(out, collectErrors(cause)...)
	}
	return out
}
