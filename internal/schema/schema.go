// Package schema validates documents against embedded JSON Schemas.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// ValidationResult represents the result of validating a document
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// Schema is a compiled JSON Schema
type Schema struct {
	name     string
	compiled *gojsonschema.Schema
}

// MustCompile compiles schemaJSON and panics on an invalid schema. Intended
// for package-level vars.
func MustCompile(name string, schemaJSON string) *Schema {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("schema %s: %v", name, err))
	}
	return &Schema{name: name, compiled: compiled}
}

// Validate checks doc, which is marshaled to JSON first
func (s *Schema) Validate(doc interface{}) ValidationResult {
	docJSON, err := json.Marshal(doc)
	if err != nil {
		return ValidationResult{
			Valid:  false,
			Errors: []string{fmt.Sprintf("Failed to marshal %s: %v", s.name, err)},
		}
	}

	result, err := s.compiled.Validate(gojsonschema.NewBytesLoader(docJSON))
	if err != nil {
		return ValidationResult{
			Valid:  false,
			Errors: []string{fmt.Sprintf("Schema validation failed: %v", err)},
		}
	}

	if result.Valid() {
		return ValidationResult{Valid: true}
	}

	var errors []string
	for _, desc := range result.Errors() {
		errors = append(errors, fmt.Sprintf("%s: %s", desc.Context().String(), desc.Description()))
	}

	return ValidationResult{
		Valid:  false,
		Errors: errors,
	}
}
