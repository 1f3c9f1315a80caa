package provider

import (
	"fmt"
	"sync"

	"github.com/edgebet/intelgate/pkg/models"
	"github.com/kaptinlin/jsonschema"
)

// Response shapes accepted per kind. They only pin what downstream consumers
// rely on: AI completions must carry at least one choice with content.
var responseSchemas = map[models.Kind]string{
	models.KindSearch: `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object"
	}`,
	models.KindNews: `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object"
	}`,
	models.KindAIReasoning: `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"required": ["choices"],
		"properties": {
			"choices": {
				"type": "array",
				"minItems": 1,
				"items": {
					"type": "object",
					"required": ["message"],
					"properties": {
						"message": {
							"type": "object",
							"required": ["content"],
							"properties": {"content": {"type": "string"}}
						}
					}
				}
			}
		}
	}`,
}

var compiledSchemas = sync.OnceValues(func() (map[models.Kind]*jsonschema.Schema, error) {
	out := make(map[models.Kind]*jsonschema.Schema, len(responseSchemas))
	for kind, src := range responseSchemas {
		compiler := jsonschema.NewCompiler()
		schema, err := compiler.Compile([]byte(src))
		if err != nil {
			return nil, fmt.Errorf("compile %s response schema: %w", kind, err)
		}
		out[kind] = schema
	}
	return out, nil
})

// validateResponse checks a JSON body against the schema for kind.
func validateResponse(kind models.Kind, body []byte) error {
	schemas, err := compiledSchemas()
	if err != nil {
		return err
	}
	schema, ok := schemas[kind]
	if !ok {
		return nil
	}
	result := schema.ValidateJSON(body)
	if result.IsValid() {
		return nil
	}
	return fmt.Errorf("response does not match %s schema: %v", kind, result.Errors)
}
