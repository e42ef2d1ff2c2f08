package models

import "time"

// Run is the unit of work: one attempt to drive one issue through the
// full station pipeline.
type Run struct {
	ID             string  `gorm:"primaryKey;size:32"`
	RepoID         string  `gorm:"size:32;index;not null"`
	IssueNumber    int     `gorm:"not null"`
	Goal           *string `gorm:"type:text"`
	Status         string  `gorm:"size:16;index;default:queued"`
	CurrentStation *string `gorm:"size:16"`
	Requestor      string  `gorm:"size:64;not null"`
	BaseBranch     string  `gorm:"size:128"`
	WorkBranch     *string `gorm:"size:128"`
	PRMode         string  `gorm:"size:8;default:draft"`
	PRURL          *string `gorm:"size:255"`
	FailureReason  *string `gorm:"size:500"`
	CreatedAt      time.Time
	StartedAt      *time.Time
	HeartbeatAt    *time.Time
	FinishedAt     *time.Time

	Repo Repo `gorm:"foreignKey:RepoID"`
}
