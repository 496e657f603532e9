package types

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Compile-time interface assertions.
// These ensure the JSONB types implement both sql.Scanner and driver.Valuer,
// catching any method signature drift at compile time rather than at runtime.
// Scan is on pointer receivers; Value is on value receivers.
var (
	_ sql.Scanner   = (*TemplateData)(nil)
	_ driver.Valuer = TemplateData(nil)
)

// scanJSONB is a generic helper that scans a JSONB database value into a Go pointer.
// It handles nil values, []byte, and string representations from different database drivers.
func scanJSONB(dest interface{}, value interface{}) error {
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
func (d *TemplateData) Scan(value interface{}) error {
	if value == nil {
		*d = nil
		return nil
	}
	return scanJSONB(d, value)
}

// Value implements the driver.Valuer interface for writing JSONB to the database.
// A nil map is stored as an empty JSON object so that the column stays NOT NULL
// and template merging never has to nil-check persisted data.
func (d TemplateData) Value() (driver.Value, error) {
	if d == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d)
}

// Merge returns a copy of d with the entries of other laid on top. Neither
// input is mutated. Used at dispatch time to fold recipient identity into the
// payload snapshot taken at enqueue time.
func (d TemplateData) Merge(other TemplateData) TemplateData {
	merged := make(TemplateData, len(d)+len(other))
	for k, v := range d {
		merged[k] = v
	}
	for k, v := range other {
		merged[k] = v
	}
	return merged
}
