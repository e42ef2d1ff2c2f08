package models

import "time"

// Artifact storage modes.
const (
	ArtifactStorageInline   = "inline"
	ArtifactStorageExternal = "external"
)

// Artifact is a structured output produced by a station or by run
// finalization. The ID is deterministic (artifact_<runID>_<type>); a
// retried station overwrites its earlier payload.
type Artifact struct {
	ID        string `gorm:"primaryKey;size:96"`
	RunID     string `gorm:"size:32;index;not null"`
	Type      string `gorm:"size:64;not null"`
	Storage   string `gorm:"size:16;default:inline"`
	Payload   string `gorm:"type:text"`
	CreatedAt time.Time
}
