package models

import "time"

// QueueMessage is a row in the embedded at-least-once queue. A message is
// available when available_at has passed, it is unacked, and any previous
// lease has expired. A crashed consumer's message becomes deliverable again
// once its lease expires; the lease sweeper also clears expired lease fields.
type QueueMessage struct {
	ID             uint       `gorm:"primaryKey;autoIncrement"`
	Topic          string     `gorm:"size:64;index;not null"`
	Body           string     `gorm:"type:text;not null"`
	Attempts       int        `gorm:"default:0"`
	AvailableAt    time.Time  `gorm:"index"`
	LeasedAt       *time.Time
	LeaseExpiresAt *time.Time `gorm:"index"`
	AckedAt        *time.Time
	CreatedAt      time.Time
}
