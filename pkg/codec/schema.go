package codec

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// interchangeSchema constrains the outer bundle shape and the closed
// construct kind set. Kind-specific field validation happens during
// structural decoding; the schema's job is rejecting payloads that are not
// bundles at all before any tree is built.
const interchangeSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["id", "kind", "tenor", "tenor_version", "contract_id", "constructs"],
  "properties": {
    "id": {"type": "string", "minLength": 1},
    "kind": {"const": "Bundle"},
    "tenor": {"type": "string"},
    "tenor_version": {"type": "string", "pattern": "^[0-9]+\\.[0-9]+\\.[0-9]+$"},
    "contract_id": {"type": "string", "minLength": 1},
    "constructs": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "kind", "provenance"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "kind": {
            "enum": ["TypeDecl", "Fact", "Persona", "Entity", "Rule", "Operation", "Flow", "System"]
          },
          "provenance": {
            "type": "object",
            "required": ["file", "line"],
            "properties": {
              "file": {"type": "string"},
              "line": {"type": "integer"}
            }
          }
        }
      }
    }
  }
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
)

func bundleSchema() *jsonschema.Schema {
	schemaOnce.Do(func() {
		const url = "https://tenor.schemas.local/bundle-1.schema.json"
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(url, strings.NewReader(interchangeSchema)); err != nil {
			panic("codec: interchange schema load failed: " + err.Error())
		}
		compiledSchema = c.MustCompile(url)
	})
	return compiledSchema
}

func validateSchema(data []byte) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return &DecodeError{Reason: "invalid JSON", Detail: err.Error()}
	}
	if err := bundleSchema().Validate(doc); err != nil {
		return &DecodeError{Reason: "schema violation", Detail: err.Error()}
	}
	return nil
}
