// Package queue implements the embedded at-least-once run queue on top of
// the relational store. Delivery is lease-based: a received message is
// invisible until its lease expires, an ack removes it from circulation,
// and a retry re-opens it after a backoff delay.
package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/arasmith/signalbox/internal/models"
	"gorm.io/gorm"
)

// Lease and backoff defaults.
const (
	DefaultLease   = 60 * time.Second
	baseRetryDelay = 5 * time.Second
	maxRetryDelay  = 60 * time.Second
)

// Publisher is the narrow interface the control plane depends on.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// Queue provides publish/receive/ack/retry over the queue_messages table.
type Queue struct {
	db *gorm.DB
}

// New returns a Queue backed by the given store.
func New(db *gorm.DB) *Queue {
	return &Queue{db: db}
}

// Publish inserts a message available for immediate delivery.
func (q *Queue) Publish(topic string, body []byte) error {
	if topic == "" {
		return fmt.Errorf("queue: topic is required")
	}
	now := time.Now()
	msg := models.QueueMessage{
		Topic:       topic,
		Body:        string(body),
		AvailableAt: now,
		CreatedAt:   now,
	}
	if err := q.db.Create(&msg).Error; err != nil {
		return fmt.Errorf("queue: publish to %s: %w", topic, err)
	}
	return nil
}

// Receive leases the oldest available message on the topic, or returns
// nil when the topic is empty. The lease is taken with a compare-and-set
// on the observed row, so concurrent receivers never share a message.
func (q *Queue) Receive(topic string, leaseFor time.Duration) (*models.QueueMessage, error) {
	if leaseFor <= 0 {
		leaseFor = DefaultLease
	}

	// A lost CAS means another receiver took the candidate; scan again.
	for attempt := 0; attempt < 3; attempt++ {
		now := time.Now()

		var candidate models.QueueMessage
		err := q.db.Where("topic = ? AND acked_at IS NULL AND available_at <= ?", topic, now).
			Where("lease_expires_at IS NULL OR lease_expires_at <= ?", now).
			Order("id ASC").
			First(&candidate).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("queue: receive from %s: %w", topic, err)
		}

		expires := now.Add(leaseFor)
		res := q.db.Model(&models.QueueMessage{}).
			Where("id = ? AND acked_at IS NULL", candidate.ID).
			Where("lease_expires_at IS NULL OR lease_expires_at <= ?", now).
			Updates(map[string]interface{}{
				"leased_at":        now,
				"lease_expires_at": expires,
				"attempts":         gorm.Expr("attempts + 1"),
			})
		if res.Error != nil {
			return nil, fmt.Errorf("queue: lease message %d: %w", candidate.ID, res.Error)
		}
		if res.RowsAffected == 1 {
			candidate.LeasedAt = &now
			candidate.LeaseExpiresAt = &expires
			candidate.Attempts++
			return &candidate, nil
		}
	}
	return nil, nil
}

// Ack marks a message as consumed. Acking twice is harmless.
func (q *Queue) Ack(id uint) error {
	now := time.Now()
	res := q.db.Model(&models.QueueMessage{}).
		Where("id = ? AND acked_at IS NULL", id).
		Update("acked_at", now)
	if res.Error != nil {
		return fmt.Errorf("queue: ack message %d: %w", id, res.Error)
	}
	return nil
}

// Retry releases a message for redelivery after a backoff proportional to
// its delivery attempts.
func (q *Queue) Retry(id uint) error {
	var msg models.QueueMessage
	if err := q.db.Where("id = ?", id).First(&msg).Error; err != nil {
		return fmt.Errorf("queue: retry message %d: %w", id, err)
	}

	res := q.db.Model(&models.QueueMessage{}).
		Where("id = ? AND acked_at IS NULL", id).
		Updates(map[string]interface{}{
			"leased_at":        nil,
			"lease_expires_at": nil,
			"available_at":     time.Now().Add(RetryDelay(msg.Attempts)),
		})
	if res.Error != nil {
		return fmt.Errorf("queue: retry message %d: %w", id, res.Error)
	}
	return nil
}

// RetryDelay returns the redelivery backoff after the given number of
// delivery attempts: 5s doubling per attempt, capped at 60s.
func RetryDelay(attempts int) time.Duration {
	delay := baseRetryDelay
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= maxRetryDelay {
			return maxRetryDelay
		}
	}
	return delay
}
