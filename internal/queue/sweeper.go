package queue

import (
	"fmt"
	"log"
	"time"

	"github.com/arasmith/signalbox/internal/models"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

// StuckClaimGrace is how old a pending idempotency claim must be before
// the sweeper reports it. Pending claims are never requeued here; an
// operator decides what to do with them.
const StuckClaimGrace = 30 * time.Second

// Sweeper periodically re-opens expired message leases and reports stuck
// pending idempotency claims. Receive already treats a message with an
// expired lease as available; the sweep clears the stale lease fields.
type Sweeper struct {
	db   *gorm.DB
	cron *cron.Cron
}

// NewSweeper creates a Sweeper running on the given 5-field cron schedule.
func NewSweeper(db *gorm.DB, schedule string) (*Sweeper, error) {
	s := &Sweeper{db: db, cron: cron.New()}
	if _, err := s.cron.AddFunc(schedule, s.sweep); err != nil {
		return nil, fmt.Errorf("queue: sweeper schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start begins the sweep schedule in a background goroutine.
func (s *Sweeper) Start() { s.cron.Start() }

// Stop halts the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// sweep runs one pass of both maintenance tasks.
func (s *Sweeper) sweep() {
	s.reopenExpiredLeases()
	s.reportStuckClaims()
}

// reopenExpiredLeases clears lease fields on unacked messages whose lease
// deadline has passed.
func (s *Sweeper) reopenExpiredLeases() {
	now := time.Now()
	res := s.db.Model(&models.QueueMessage{}).
		Where("acked_at IS NULL AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?", now).
		Updates(map[string]interface{}{
			"leased_at":        nil,
			"lease_expires_at": nil,
		})
	if res.Error != nil {
		log.Printf("queue.sweep.leases.failed err=%v", res.Error)
		return
	}
	if res.RowsAffected > 0 {
		log.Printf("queue.sweep.leases.reopened count=%d", res.RowsAffected)
	}
}

// reportStuckClaims logs pending idempotency claims past the grace window.
func (s *Sweeper) reportStuckClaims() {
	cutoff := time.Now().Add(-StuckClaimGrace)
	var claims []models.IdempotencyClaim
	if err := s.db.Where("status = ? AND updated_at < ?", models.ClaimPending, cutoff).
		Find(&claims).Error; err != nil {
		log.Printf("queue.sweep.claims.failed err=%v", err)
		return
	}
	for _, c := range claims {
		log.Printf("idempotency.claim.stuck key=%s run=%s age=%s",
			c.Key, c.RunID, time.Since(c.UpdatedAt).Round(time.Second))
	}
}
