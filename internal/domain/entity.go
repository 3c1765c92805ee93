package domain

import (
	"time"
)

// AppConfig is a persisted key-value setting (runtime state that must
// survive restarts, e.g. the last emergency close time).
type AppConfig struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
