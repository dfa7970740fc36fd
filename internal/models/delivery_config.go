package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ConfigValues is a free-form key/value bag persisted as JSONB. Medium rows
// carry templates, subjects and sender identity; mode rows carry priority,
// pin duration, task deadlines and similar mode-specific settings.
type ConfigValues map[string]string

// Value marshals the bag to JSON for persistence.
func (v ConfigValues) Value() (driver.Value, error) {
	if v == nil {
		v = ConfigValues{}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal config values: %w", err)
	}
	return data, nil
}

// Scan unmarshals a JSON payload into the bag.
func (v *ConfigValues) Scan(value interface{}) error {
	return scanJSON(value, v, "config values")
}

// ModeConfig is one row per announcement per mode.
type ModeConfig struct {
	ID             string       `db:"id" json:"id"`
	AnnouncementID string       `db:"announcement_id" json:"announcement_id"`
	Mode           ModeType     `db:"mode" json:"mode"`
	Settings       ConfigValues `db:"settings" json:"settings"`
	Active         bool         `db:"active" json:"active"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
}

// MediumConfig is one row per announcement per medium.
type MediumConfig struct {
	ID             string       `db:"id" json:"id"`
	AnnouncementID string       `db:"announcement_id" json:"announcement_id"`
	Medium         MediumType   `db:"medium" json:"medium"`
	Config         ConfigValues `db:"config" json:"config"`
	Active         bool         `db:"active" json:"active"`
	CreatedAt      time.Time    `db:"created_at" json:"created_at"`
}
