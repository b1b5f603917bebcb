package config

import (
	"encoding/json"
	"fmt"
	"strings"

	_ "embed"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/device-v1.json
var deviceSchemaJSON string

type Validator struct {
	schema *jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	compiler := jsonschema.NewCompiler()

	if err := compiler.AddResource("device-v1.json",
		strings.NewReader(deviceSchemaJSON)); err != nil {
		return nil, fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile("device-v1.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &Validator{schema: schema}, nil
}

// ValidateDevice checks the device properties against the embedded schema.
func (v *Validator) ValidateDevice(d *DeviceConfig) error {
	doc := map[string]interface{}{
		"name":              d.Name,
		"endpoint":          d.Endpoint,
		"socket_port":       d.SocketPort,
		"timeout_ms":        d.Timeout.Milliseconds(),
		"terminator":        d.Terminator,
		"poll_interval_ms":  d.PollInterval.Milliseconds(),
		"polled_attributes": d.PolledAttributes,
	}
	if d.PolledAttributes == nil {
		doc["polled_attributes"] = []string{}
	}

	// Round-trip through JSON so the validator sees plain JSON types.
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal device config: %w", err)
	}

	var instance interface{}
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := v.schema.Validate(instance); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	return nil
}
