package model

import (
	"bytes"
	"encoding/json"
	"fmt"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaResource = "inmemory://config-schema.json"

func compileSchema(schema json.RawMessage) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(schemaResource, bytes.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("invalid schema document: %w", err)
	}
	compiled, err := compiler.Compile(schemaResource)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

// checkSchema reports whether schema is a usable JSON Schema document.
func checkSchema(schema json.RawMessage) error {
	_, err := compileSchema(schema)
	return err
}

// validateAgainstSchema checks a canonical JSON value against schema.
func validateAgainstSchema(schema, value json.RawMessage) error {
	compiled, err := compileSchema(schema)
	if err != nil {
		return err
	}
	var doc any
	if err := json.Unmarshal(value, &doc); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	if err := compiled.Validate(doc); err != nil {
		return fmt.Errorf("does not match schema: %w", err)
	}
	return nil
}
