package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaResourceURL = "https://sigilzero.internal/schemas/run-manifest.json"

// manifestSchemaDoc is the JSON Schema (Draft 2020-12) describing the
// static shape every manifest version must satisfy, independent of the
// semantic hash/derivation checks performed by the reindexer (C11).
const manifestSchemaDoc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "` + schemaResourceURL + `",
  "type": "object",
  "required": ["schema_version", "job_id", "run_id", "job_ref", "job_type", "status", "input_snapshots", "artifacts", "chain_metadata"],
  "properties": {
    "schema_version": {"type": "string"},
    "job_id": {"type": "string", "minLength": 1},
    "run_id": {"type": "string", "minLength": 1},
    "queue_job_id": {"type": "string"},
    "job_ref": {"type": "string"},
    "job_type": {"type": "string"},
    "status": {"enum": ["running", "succeeded", "failed"]},
    "inputs_hash": {"type": ["string", "null"]},
    "input_snapshots": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["path", "sha256", "bytes"],
        "properties": {
          "path": {"type": "string"},
          "sha256": {"type": "string"},
          "bytes": {"type": "integer"}
        }
      }
    },
    "doctrine": {
      "type": "object",
      "required": ["doctrine_id", "version", "sha256"],
      "properties": {
        "doctrine_id": {"type": "string"},
        "version": {"type": "string"},
        "sha256": {"type": "string"},
        "resolved_path": {"type": "string"}
      }
    },
    "artifacts": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "required": ["sha256", "bytes"],
        "properties": {
          "sha256": {"type": "string"},
          "bytes": {"type": "integer"}
        }
      }
    },
    "chain_metadata": {
      "type": "object",
      "required": ["is_chainable_stage", "prior_stages"],
      "properties": {
        "is_chainable_stage": {"type": "boolean"},
        "prior_stages": {"type": "array"}
      }
    },
    "error": {
      "type": "object",
      "properties": {
        "type": {"type": "string"},
        "message": {"type": "string"}
      }
    },
    "migration_history": {"type": "array"}
  }
}`

var compiledSchema *jsonschema.Schema

func compileSchema() (*jsonschema.Schema, error) {
	if compiledSchema != nil {
		return compiledSchema, nil
	}

	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	if err := compiler.AddResource(schemaResourceURL, bytes.NewReader([]byte(manifestSchemaDoc))); err != nil {
		return nil, fmt.Errorf("manifest: add schema resource: %w", err)
	}

	schema, err := compiler.Compile(schemaResourceURL)
	if err != nil {
		return nil, fmt.Errorf("manifest: compile schema: %w", err)
	}

	compiledSchema = schema
	return schema, nil
}

// ValidateStructure checks stored-form manifest bytes against the static
// JSON Schema, ahead of any semantic hash/derivation check.
func ValidateStructure(data []byte) error {
	schema, err := compileSchema()
	if err != nil {
		return err
	}

	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("manifest: invalid JSON: %w", err)
	}

	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("manifest: schema validation failed: %w", err)
	}
	return nil
}
