// Package models defines tool structures for assistant function calling.
package models

import (
	"encoding/json"
	"fmt"
)

// ToolNameCheckAvailability is the single tool the bridge services. The name
// must match the function registered on the assistant configuration.
const ToolNameCheckAvailability = "check_availability"

// AvailabilityToolParams defines the parameters for the availability tool call.
type AvailabilityToolParams struct {
	Message string `json:"message,omitempty"` // user text that prompted the lookup
}

// ParseAvailabilityToolParams decodes a JSON argument payload. A missing or
// malformed payload is not fatal to the invocation; callers fall back to the
// turn's original user text.
func ParseAvailabilityToolParams(arguments string) (*AvailabilityToolParams, error) {
	if arguments == "" {
		return nil, fmt.Errorf("empty tool arguments")
	}
	var params AvailabilityToolParams
	if err := json.Unmarshal([]byte(arguments), &params); err != nil {
		return nil, fmt.Errorf("failed to parse tool arguments: %w", err)
	}
	return &params, nil
}
