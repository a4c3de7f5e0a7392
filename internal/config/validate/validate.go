package validate

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/deb2arch-config.schema.json
var ConfigSchema []byte

//go:embed schema/mapping-tables.schema.json
var TablesSchema []byte

// ValidateAgainstSchema validates JSON data against schema. ref selects a
// sub-schema ("#/$defs/..."); empty validates against the root.
func ValidateAgainstSchema(name string, schema, data []byte, ref string) error {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(name, bytes.NewReader(schema)); err != nil {
		return fmt.Errorf("failed to load schema %s: %w", name, err)
	}
	sch, err := c.Compile(name + ref)
	if err != nil {
		return fmt.Errorf("failed to compile schema %s%s: %w", name, ref, err)
	}

	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := sch.Validate(v); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return fmt.Errorf("%s validation failed:\n%s", name, flatten(ve))
		}
		return fmt.Errorf("%s validation failed: %w", name, err)
	}
	return nil
}

// flatten lists the leaf causes of a validation error, one per line.
func flatten(ve *jsonschema.ValidationError) string {
	var lines []string
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			lines = append(lines, fmt.Sprintf("  %s: %s", loc, e.Message))
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return strings.Join(lines, "\n")
}

// ValidateConfigJSON validates a global configuration converted to JSON.
func ValidateConfigJSON(data []byte) error {
	return ValidateAgainstSchema("deb2arch-config.schema.json", ConfigSchema, data, "")
}

// ValidateTablesJSON validates a mapping table file converted to JSON.
func ValidateTablesJSON(data []byte) error {
	return ValidateAgainstSchema("mapping-tables.schema.json", TablesSchema, data, "")
}
