package diagram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/simachine/pkg/schema"
)

// diagramSchemaJSON is the JSON Schema for DiagramDef documents.
// Embedded as a constant to avoid filesystem dependencies. The sub_diagram
// reference makes the schema fully recursive, matching the data model.
const diagramSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://simachine.dev/schemas/diagram.json",
  "$ref": "#/$defs/diagram",
  "$defs": {
    "diagram": {
      "type": "object",
      "required": ["states"],
      "properties": {
        "states": {
          "type": "array",
          "minItems": 1,
          "items": { "$ref": "#/$defs/state" }
        },
        "transitions": {
          "type": "array",
          "items": { "$ref": "#/$defs/transition" }
        },
        "metadata": { "type": "object" }
      },
      "additionalProperties": false
    },
    "state": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": { "type": "string", "minLength": 1 },
        "is_initial": { "type": "boolean" },
        "is_final": { "type": "boolean" },
        "entry_action": { "type": "string" },
        "during_action": { "type": "string" },
        "exit_action": { "type": "string" },
        "is_superstate": { "type": "boolean" },
        "sub_diagram": { "$ref": "#/$defs/diagram" }
      },
      "additionalProperties": false
    },
    "transition": {
      "type": "object",
      "required": ["source", "target"],
      "properties": {
        "source": { "type": "string", "minLength": 1 },
        "target": { "type": "string", "minLength": 1 },
        "event": { "type": "string" },
        "condition": { "type": "string" },
        "action": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

var diagramSchema = mustCompileSchema()

func mustCompileSchema() *jsonschema.Schema {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(diagramSchemaJSON))
	if err != nil {
		panic(fmt.Sprintf("diagram: unmarshal embedded schema: %v", err))
	}
	if err := c.AddResource("https://simachine.dev/schemas/diagram.json", doc); err != nil {
		panic(fmt.Sprintf("diagram: add schema resource: %v", err))
	}
	s, err := c.Compile("https://simachine.dev/schemas/diagram.json")
	if err != nil {
		panic(fmt.Sprintf("diagram: compile embedded schema: %v", err))
	}
	return s
}

// ValidateDocument checks a raw diagram document against the embedded JSON
// Schema. It catches malformed shapes (wrong types, unknown fields, missing
// names) before structural loading sees them.
func ValidateDocument(raw []byte) error {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "diagram document is not valid JSON").WithCause(err)
	}
	if err := diagramSchema.Validate(doc); err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"diagram document rejected: %s", err.Error()).WithCause(err)
	}
	return nil
}

// ParseDocument validates raw JSON against the schema and decodes it into a
// DiagramDef. The result still needs Load for structural validation.
func ParseDocument(raw []byte) (*schema.DiagramDef, error) {
	if err := ValidateDocument(raw); err != nil {
		return nil, err
	}
	var def schema.DiagramDef
	if err := json.Unmarshal(raw, &def); err != nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "decode diagram document").WithCause(err)
	}
	return &def, nil
}
