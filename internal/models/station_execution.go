package models

import "time"

// StationExecution records one station's progress for a run. The ID is
// deterministic (station_<runID>_<station>) so redeliveries upsert the
// same row instead of duplicating it.
type StationExecution struct {
	ID           string  `gorm:"primaryKey;size:96"`
	RunID        string  `gorm:"size:32;index;not null"`
	Station      string  `gorm:"size:16;not null"`
	Status       string  `gorm:"size:16;default:pending"`
	Summary      *string `gorm:"size:500"`
	ExternalRef  *string `gorm:"size:255"`
	MetadataJSON *string `gorm:"type:text"`
	DurationMs   *int64
	StartedAt    *time.Time
	FinishedAt   *time.Time
}
