package engine

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/arasmith/signalbox/internal/coderunner"
	"github.com/arasmith/signalbox/internal/models"
	"github.com/arasmith/signalbox/internal/station"
	"gorm.io/gorm"
)

// upsertRunningStation writes the station row into the running state,
// preserving started_at, external_ref, and metadata_json from earlier
// deliveries.
func (w *Worker) upsertRunningStation(execID, runID, name string, found bool, startedAt time.Time) error {
	if !found {
		rec := models.StationExecution{
			ID:        execID,
			RunID:     runID,
			Station:   name,
			Status:    station.ExecRunning,
			StartedAt: &startedAt,
		}
		err := w.db.Create(&rec).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			// Unique violation from a racing writer lands here on drivers
			// that don't translate it; fall through to the update path.
			log.Printf("station.create.conflict run=%s station=%s err=%v", runID, name, err)
		}
	}

	res := w.db.Model(&models.StationExecution{}).
		Where("id = ?", execID).
		Updates(map[string]interface{}{
			"status":     station.ExecRunning,
			"started_at": gorm.Expr("COALESCE(started_at, ?)", startedAt),
		})
	if res.Error != nil {
		return fmt.Errorf("engine: mark station %s running: %w", execID, res.Error)
	}
	return nil
}

// persistInFlight records a non-terminal adapter response on the running
// station row. The external ref, once written, is never replaced with
// null.
func (w *Worker) persistInFlight(execID string, resp *coderunner.Response) {
	updates := map[string]interface{}{
		"summary":      station.TruncateSummary(resp.Summary),
		"external_ref": gorm.Expr("COALESCE(?, external_ref)", nullableString(resp.ExternalRef)),
	}
	if md := encodeMetadata(resp.Metadata); md != nil {
		updates["metadata_json"] = *md
	}

	res := w.db.Model(&models.StationExecution{}).
		Where("id = ? AND status = ?", execID, station.ExecRunning).
		Updates(updates)
	if res.Error != nil {
		log.Printf("station.in_flight.persist.failed id=%s err=%v", execID, res.Error)
	}
}

// succeedStation CAS-transitions the station row running → succeeded.
func (w *Worker) succeedStation(execID string, startedAt time.Time, resp *coderunner.Response) {
	now := time.Now()
	updates := map[string]interface{}{
		"status":       station.ExecSucceeded,
		"finished_at":  now,
		"duration_ms":  durationMs(startedAt, now),
		"summary":      station.TruncateSummary(resp.Summary),
		"external_ref": gorm.Expr("COALESCE(?, external_ref)", nullableString(resp.ExternalRef)),
	}
	if md := encodeMetadata(resp.Metadata); md != nil {
		updates["metadata_json"] = *md
	}

	res := w.db.Model(&models.StationExecution{}).
		Where("id = ? AND status = ?", execID, station.ExecRunning).
		Updates(updates)
	if res.Error != nil {
		log.Printf("station.succeed.failed id=%s err=%v", execID, res.Error)
	} else if res.RowsAffected == 0 {
		log.Printf("station.succeed.noop id=%s", execID)
	}
}

// failStation CAS-transitions the station row running → failed with a
// bounded failure summary. Best-effort: the run-level failure CAS is the
// authoritative record.
func (w *Worker) failStation(execID string, startedAt time.Time, reason string, resp *coderunner.Response) {
	now := time.Now()
	updates := map[string]interface{}{
		"status":      station.ExecFailed,
		"finished_at": now,
		"duration_ms": durationMs(startedAt, now),
		"summary":     station.TruncateSummary(reason),
	}
	if resp != nil {
		updates["external_ref"] = gorm.Expr("COALESCE(?, external_ref)", nullableString(resp.ExternalRef))
		if md := encodeMetadata(resp.Metadata); md != nil {
			updates["metadata_json"] = *md
		}
	}

	res := w.db.Model(&models.StationExecution{}).
		Where("id = ? AND status = ?", execID, station.ExecRunning).
		Updates(updates)
	if res.Error != nil {
		log.Printf("station.fail.persist.failed id=%s err=%v", execID, res.Error)
	}
}

// loadRepo fetches the run's repository row.
func (w *Worker) loadRepo(repoID string) (*models.Repo, error) {
	var repo models.Repo
	if err := w.db.Where("id = ?", repoID).First(&repo).Error; err != nil {
		return nil, err
	}
	return &repo, nil
}

// durationMs returns the elapsed milliseconds, never less than 1.
func durationMs(from, to time.Time) int64 {
	ms := to.Sub(from).Milliseconds()
	if ms < 1 {
		return 1
	}
	return ms
}

// nullableString maps "" to nil so COALESCE keeps the stored value.
func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// encodeMetadata serializes adapter metadata, logging instead of failing.
func encodeMetadata(md *coderunner.Metadata) *string {
	if md == nil {
		return nil
	}
	data, err := md.Encode()
	if err != nil {
		log.Printf("station.metadata.encode.failed err=%v", err)
		return nil
	}
	return &data
}
