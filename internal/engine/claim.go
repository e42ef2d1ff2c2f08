package engine

import (
	"fmt"
	"time"

	"github.com/arasmith/signalbox/internal/models"
	"github.com/arasmith/signalbox/internal/station"
	"gorm.io/gorm"
)

// claimQueued atomically flips a queued run to running, granting this
// worker the writer role. Exactly one concurrent claimer sees one changed
// row.
func (w *Worker) claimQueued(runID string) (bool, error) {
	now := time.Now()
	res := w.db.Model(&models.Run{}).
		Where("id = ? AND status = ?", runID, station.RunQueued).
		Updates(map[string]interface{}{
			"status":          station.RunRunning,
			"started_at":      gorm.Expr("COALESCE(started_at, ?)", now),
			"current_station": station.Intake,
			"heartbeat_at":    now,
			"failure_reason":  nil,
		})
	if res.Error != nil {
		return false, fmt.Errorf("engine: claim queued run %s: %w", runID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// claimStale takes over a running run whose heartbeat stopped. The
// observed heartbeat snapshot is the optimistic-concurrency token: the
// update only lands if no other worker has touched the heartbeat since
// we read it.
func (w *Worker) claimStale(run *models.Run) (bool, error) {
	now := time.Now()
	q := w.db.Model(&models.Run{}).
		Where("id = ? AND status = ?", run.ID, station.RunRunning)

	switch {
	case run.HeartbeatAt != nil:
		q = q.Where("heartbeat_at = ?", *run.HeartbeatAt)
	case run.StartedAt != nil:
		q = q.Where("heartbeat_at IS NULL AND started_at = ?", *run.StartedAt)
	default:
		q = q.Where("heartbeat_at IS NULL AND started_at IS NULL")
	}

	res := q.Update("heartbeat_at", now)
	if res.Error != nil {
		return false, fmt.Errorf("engine: claim stale run %s: %w", run.ID, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// lastLiveness returns the most recent proof of life for a running run.
func lastLiveness(run *models.Run) *time.Time {
	if run.HeartbeatAt != nil {
		return run.HeartbeatAt
	}
	return run.StartedAt
}

// stale reports whether a running run is eligible for takeover.
func stale(run *models.Run, now time.Time) bool {
	last := lastLiveness(run)
	if last == nil {
		return true
	}
	return now.Sub(*last) >= StaleThreshold
}
