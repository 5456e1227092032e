package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/rendis/cortex/pkg/schema"
)

// catalogSchemaJSON is the JSON Schema for the tool definition file.
// Embedded as a constant to avoid filesystem dependencies.
const catalogSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://cortex.dev/schemas/catalog.json",
  "type": "object",
  "required": ["tools"],
  "properties": {
    "tools": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/tool" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "tool": {
      "type": "object",
      "required": ["name", "description", "endpoint", "capabilities", "parameters"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "description": { "type": "string", "minLength": 1 },
        "endpoint": { "type": "string", "pattern": "^https?://" },
        "capabilities": {
          "type": "array",
          "items": { "type": "string", "minLength": 1 }
        },
        "parameters": {
          "type": "object",
          "required": ["required"],
          "properties": {
            "required": { "type": "array", "items": { "type": "string", "minLength": 1 } },
            "optional": { "type": "array", "items": { "type": "string", "minLength": 1 } }
          },
          "additionalProperties": false
        },
        "examples": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["prompt"],
            "properties": {
              "prompt": { "type": "string", "minLength": 1 },
              "reasoning": { "type": "string" }
            },
            "additionalProperties": false
          }
        }
      },
      "additionalProperties": false
    }
  }
}`

// definitionFile is the on-disk shape of the catalog source.
type definitionFile struct {
	Tools []ToolDefinition `yaml:"tools" json:"tools"`
}

var catalogSchema = mustCompileCatalogSchema()

func mustCompileCatalogSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(catalogSchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("unmarshal catalog schema: %v", err))
	}
	if err := c.AddResource("https://cortex.dev/schemas/catalog.json", doc); err != nil {
		panic(fmt.Sprintf("add catalog schema resource: %v", err))
	}
	compiled, err := c.Compile("https://cortex.dev/schemas/catalog.json")
	if err != nil {
		panic(fmt.Sprintf("compile catalog schema: %v", err))
	}
	return compiled
}

// LoadFile reads a YAML tool definition file and builds a Catalog.
// Any failure is a CONFIG_ERROR and should abort startup.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig,
			"read catalog %s: %s", path, err.Error()).WithCause(err)
	}
	return Load(data)
}

// Load parses YAML catalog bytes, validates them against the catalog JSON
// Schema, and builds a Catalog.
func Load(data []byte) (*Catalog, error) {
	var file definitionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeConfig,
			"parse catalog yaml: %s", err.Error()).WithCause(err)
	}

	doc, err := toJSONValue(file)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeConfig,
			"serialize catalog for validation").WithCause(err)
	}
	if err := catalogSchema.Validate(doc); err != nil {
		return nil, toConfigError(err)
	}

	return New(file.Tools)
}

// toJSONValue round-trips a Go value through JSON encoding so numbers become
// json.Number, as the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toConfigError converts a jsonschema.ValidationError into a CONFIG_ERROR
// with the leaf violations collected for actionable reporting.
func toConfigError(err error) *schema.CortexError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeConfig, err.Error())
	}
	violations := collectViolations(verr)
	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeConfig, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	return schema.NewErrorf(schema.ErrCodeConfig,
		"catalog validation failed with %d errors", len(violations)).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages
// with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}
	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
