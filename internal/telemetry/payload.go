package telemetry

import (
	"encoding/json"
	"fmt"
)

// Payload is the JSON body published by the message broker sinks.
func (e Event) Payload() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event %s: %w", e.ID, err)
	}
	return data, nil
}
