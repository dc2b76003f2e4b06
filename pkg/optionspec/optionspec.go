// Package optionspec validates a job brief's per-job-type option set
// against a closed schema: unknown keys are rejected, not silently
// dropped, since a silently dropped option is a silent-drift vector.
package optionspec

import (
	"encoding/json"
	"fmt"

	"github.com/jasoncookdesign/sigilzero-engine/pkg/canonicalize"
)

// Error codes for brief-option validation failures.
const (
	ErrUnknownField    = "ERR_OPTIONS_UNKNOWN_FIELD"
	ErrMissingRequired = "ERR_OPTIONS_MISSING_REQUIRED"
	ErrTypeMismatch    = "ERR_OPTIONS_TYPE_MISMATCH"
	ErrCanonFailed     = "ERR_OPTIONS_CANONICALIZATION_FAILED"
)

// FieldSpec describes one accepted option field.
type FieldSpec struct {
	Type     string // "string", "number", "boolean", "object", "array", "any"
	Required bool
}

// Schema is the closed set of fields a job type's options accept.
type Schema struct {
	Fields     map[string]FieldSpec
	AllowExtra bool
}

// ValidationResult is the successful result of validating and
// canonicalizing an options map.
type ValidationResult struct {
	CanonicalJSON []byte
	OptionsHash   string
}

// Error is a typed brief-options validation error.
type Error struct {
	Code    string
	Message string
	Field   string
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Kind() string { return "BriefInvalid" }

// ValidateAndCanonicalize validates options against schema, rejecting
// unknown keys unless schema.AllowExtra, then returns the canonicalized
// bytes and hash. A nil schema skips validation but still canonicalizes.
func ValidateAndCanonicalize(schema *Schema, options any) (*ValidationResult, error) {
	optionsMap, err := toMap(options)
	if err != nil {
		return nil, &Error{Code: ErrCanonFailed, Message: fmt.Sprintf("options must be a JSON object: %v", err)}
	}

	if schema != nil {
		if err := validate(schema, optionsMap); err != nil {
			return nil, err
		}
	}

	canonical, err := canonicalize.JCS(optionsMap)
	if err != nil {
		return nil, &Error{Code: ErrCanonFailed, Message: fmt.Sprintf("canonicalization failed: %v", err)}
	}

	return &ValidationResult{
		CanonicalJSON: canonical,
		OptionsHash:   "sha256:" + canonicalize.HashBytes(canonical),
	}, nil
}

func validate(schema *Schema, options map[string]interface{}) error {
	for name, spec := range schema.Fields {
		val, exists := options[name]
		if spec.Required && !exists {
			return &Error{Code: ErrMissingRequired, Message: fmt.Sprintf("required option %q is missing", name), Field: name}
		}
		if exists && spec.Type != "any" {
			if err := checkType(name, val, spec.Type); err != nil {
				return err
			}
		}
	}

	if !schema.AllowExtra {
		for name := range options {
			if _, ok := schema.Fields[name]; !ok {
				return &Error{Code: ErrUnknownField, Message: fmt.Sprintf("unknown option %q not in schema", name), Field: name}
			}
		}
	}

	return nil
}

func checkType(field string, val interface{}, expected string) *Error {
	var ok bool
	switch expected {
	case "string":
		_, ok = val.(string)
	case "number":
		switch val.(type) {
		case float64, json.Number, int, int64:
			ok = true
		}
	case "boolean":
		_, ok = val.(bool)
	case "object":
		_, ok = val.(map[string]interface{})
	case "array":
		_, ok = val.([]interface{})
	default:
		ok = true
	}

	if !ok {
		return &Error{Code: ErrTypeMismatch, Message: fmt.Sprintf("option %q expected type %s, got %T", field, expected, val), Field: field}
	}
	return nil
}

func toMap(v any) (map[string]interface{}, error) {
	switch t := v.(type) {
	case map[string]interface{}:
		return t, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		var m map[string]interface{}
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, err
		}
		return m, nil
	}
}
