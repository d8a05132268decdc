package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// Variables maps template placeholders (or attribute names) to values.
type Variables map[string]string

// Values are written as JSON text so they also survive COPY, which would
// otherwise encode []byte as bytea.
func (v Variables) Value() (driver.Value, error) {
	if v == nil {
		return "{}", nil
	}
	return jsonValue(v)
}

func (v *Variables) Scan(src any) error {
	return scanJSON(src, v)
}

func (m MessageTemplate) Value() (driver.Value, error) {
	return jsonValue(m)
}

func (m *MessageTemplate) Scan(src any) error {
	return scanJSON(src, m)
}

func (t Target) Value() (driver.Value, error) {
	return jsonValue(t)
}

func (t *Target) Scan(src any) error {
	return scanJSON(src, t)
}

func jsonValue(v any) (driver.Value, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func scanJSON(src any, dst any) error {
	switch b := src.(type) {
	case nil:
		return nil
	case []byte:
		return json.Unmarshal(b, dst)
	case string:
		return json.Unmarshal([]byte(b), dst)
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
}
