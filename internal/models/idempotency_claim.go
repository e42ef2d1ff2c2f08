package models

import "time"

// Idempotency claim statuses.
const (
	ClaimPending   = "pending"
	ClaimSucceeded = "succeeded"
	ClaimFailed    = "failed"
)

// IdempotencyClaim gates duplicate run submissions. A claim is unique per
// client-supplied key; the request hash detects key reuse with a different
// payload. Status tracks whether the enqueue that followed the claim is
// known to have succeeded.
type IdempotencyClaim struct {
	Key         string `gorm:"primaryKey;size:255"`
	RequestHash string `gorm:"size:64;not null"`
	RunID       string `gorm:"size:32;index;not null"`
	Status      string `gorm:"size:16;default:pending"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
