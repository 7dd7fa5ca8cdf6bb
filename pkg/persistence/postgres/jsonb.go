package postgres

import (
	"encoding/json"
	"fmt"
)

// jsonbValue encodes a value for a JSONB column, mapping nil to SQL NULL.
func jsonbValue(v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode jsonb value: %w", err)
	}

	return data, nil
}

// scanJSONB decodes a JSONB column into out, leaving out untouched on NULL.
func scanJSONB(data []byte, out any) error {
	if len(data) == 0 {
		return nil
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode jsonb value: %w", err)
	}

	return nil
}
