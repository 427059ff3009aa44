package types

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// OptionMetadata describes how an item option is presented (e.g. size "M").
type OptionMetadata struct {
	Type     string `json:"type"`
	Label    string `json:"value"`
	Position int    `json:"position"`
}

// Value serializes the metadata to JSON.
func (m OptionMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// Scan decodes JSONB into the option metadata.
func (m *OptionMetadata) Scan(value interface{}) error {
	if value == nil {
		*m = OptionMetadata{}
		return nil
	}
	raw, err := asJSON(value)
	if err != nil {
		return err
	}
	var decoded OptionMetadata
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return err
	}
	*m = decoded
	return nil
}

func asJSON(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported scan type %T", value)
	}
}
