package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

var (
	_ sql.Scanner   = (*EventPayload)(nil)
	_ driver.Valuer = EventPayload(nil)
)

// EventPayload is the JSONB body of a subscription ledger event.
type EventPayload map[string]any

// scanJSONB scans a JSONB database value into dest. Drivers hand JSONB back
// as either []byte or string.
func scanJSONB(dest any, value any) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("jsonb: unsupported scan type %T", value)
	}
	return json.Unmarshal(data, dest)
}

// Scan implements the sql.Scanner interface for reading JSONB from the database.
func (p *EventPayload) Scan(value any) error {
	if value == nil {
		*p = nil
		return nil
	}
	return scanJSONB(p, value)
}

// Value implements the driver.Valuer interface. A nil payload is stored as
// an empty object so the column never holds SQL NULL.
func (p EventPayload) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(map[string]any(p))
}
