package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kaptinlin/jsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON []byte

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	schema, err := compiler.Compile(schemaJSON)
	if err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}
	return schema, nil
})

// validateSchema checks the shape of a YAML document before it is decoded.
func validateSchema(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode config for validation: %w", err)
	}

	schema, err := compiledSchema()
	if err != nil {
		return err
	}
	result := schema.ValidateJSON(raw)
	if result.IsValid() {
		return nil
	}
	return fmt.Errorf("config schema validation failed: %v", result.Errors)
}
