package engine

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// tickSchema rejects structurally broken tick frames before any field is
// read. It stays permissive about extras: the engine adds fields freely,
// and unknown keys are not an error.
const tickSchemaJSON = `{
	"type": "object",
	"properties": {
		"pnl": {"type": ["number", "string"]},
		"trades": {
			"type": "array",
			"items": {"type": "object"}
		}
	}
}`

var tickSchema = jsonschema.MustCompileString("tick_update.json", tickSchemaJSON)

// validateTickFrame checks one raw socket frame against the tick schema.
func validateTickFrame(raw []byte) error {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("tick frame is not valid JSON: %w", err)
	}
	if err := tickSchema.Validate(payload); err != nil {
		return fmt.Errorf("tick frame failed schema validation: %w", err)
	}
	return nil
}
