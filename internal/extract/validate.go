package extract

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Validator checks fragments against a caller-supplied response schema.
// Validation is advisory: callers log mismatches and keep the fragment.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles schemaRaw. Both bare schemas and the common
// {"name","strict","schema":{...}} and {"json_schema":{"schema":{...}}}
// wrappers are accepted.
func NewValidator(schemaRaw []byte) (*Validator, error) {
	core, err := unwrapSchema(schemaRaw)
	if err != nil {
		return nil, err
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("response.json", bytes.NewReader(core)); err != nil {
		return nil, fmt.Errorf("failed to load response schema: %w", err)
	}
	schema, err := compiler.Compile("response.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile response schema: %w", err)
	}
	return &Validator{schema: schema}, nil
}

// Validate reports whether fragment conforms to the schema.
func (v *Validator) Validate(fragment any) error {
	if v == nil || v.schema == nil {
		return nil
	}

	// Round-trip so the validator sees plain decoded values.
	raw, err := json.Marshal(fragment)
	if err != nil {
		return fmt.Errorf("failed to encode fragment for validation: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to decode fragment for validation: %w", err)
	}

	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("fragment does not match response schema: %w", err)
	}
	return nil
}

func unwrapSchema(schemaRaw []byte) ([]byte, error) {
	var root any
	if err := json.Unmarshal(schemaRaw, &root); err != nil {
		return nil, fmt.Errorf("invalid response schema JSON: %w", err)
	}

	rootMap, ok := root.(map[string]any)
	if !ok {
		return schemaRaw, nil
	}
	if inner, ok := rootMap["schema"]; ok {
		return json.Marshal(inner)
	}
	if wrapped, ok := rootMap["json_schema"].(map[string]any); ok {
		if inner, ok := wrapped["schema"]; ok {
			return json.Marshal(inner)
		}
	}
	return schemaRaw, nil
}
