package engine

import (
	"context"
	"log"
	"time"

	"github.com/arasmith/signalbox/internal/models"
	"github.com/arasmith/signalbox/internal/station"
)

// finalizeRun CAS-transitions a run running → succeeded after the last
// station. Zero changed rows means another writer finalized it; either
// way the message is acked.
func (w *Worker) finalizeRun(ctx context.Context, runID string) Outcome {
	now := time.Now()
	res := w.db.Model(&models.Run{}).
		Where("id = ? AND status = ?", runID, station.RunRunning).
		Updates(map[string]interface{}{
			"status":          station.RunSucceeded,
			"finished_at":     now,
			"current_station": nil,
			"failure_reason":  nil,
			"heartbeat_at":    now,
		})
	if res.Error != nil {
		log.Printf("run.finalize.failed run=%s err=%v", runID, res.Error)
		return OutcomeRetry
	}
	if res.RowsAffected == 0 {
		log.Printf("run.succeeded.noop run=%s", runID)
		return OutcomeAck
	}

	w.writeWorkflowSummary(runID)
	w.notifyFinished(ctx, runID)
	log.Printf("run.succeeded run=%s", runID)
	return OutcomeAck
}

// handleTerminalFailure CAS-transitions a run running → failed with the
// failing station and a bounded reason. If the CAS misses but the run is
// terminal anyway, the message is acked; otherwise it is retried so
// another worker can re-assess.
func (w *Worker) handleTerminalFailure(ctx context.Context, runID string, failure *StationFailureError) Outcome {
	now := time.Now()
	reason := station.TruncateSummary(failure.Reason)
	res := w.db.Model(&models.Run{}).
		Where("id = ? AND status = ?", runID, station.RunRunning).
		Updates(map[string]interface{}{
			"status":          station.RunFailed,
			"finished_at":     now,
			"current_station": failure.Station,
			"failure_reason":  reason,
			"heartbeat_at":    now,
		})
	if res.Error != nil {
		log.Printf("run.fail.persist.failed run=%s err=%v", runID, res.Error)
		return OutcomeRetry
	}
	if res.RowsAffected == 1 {
		w.notifyFinished(ctx, runID)
		log.Printf("run.failed run=%s station=%s reason=%q", runID, failure.Station, reason)
		return OutcomeAck
	}

	var current models.Run
	if err := w.db.Where("id = ?", runID).First(&current).Error; err != nil {
		log.Printf("run.fail.reread.failed run=%s err=%v", runID, err)
		return OutcomeRetry
	}
	if station.RunTerminal(current.Status) {
		log.Printf("run.failed.noop run=%s status=%s", runID, current.Status)
		return OutcomeAck
	}
	return OutcomeRetry
}

// notifyFinished delivers the terminal outcome, best-effort.
func (w *Worker) notifyFinished(ctx context.Context, runID string) {
	var run models.Run
	if err := w.db.Where("id = ?", runID).First(&run).Error; err != nil {
		log.Printf("notify.load.failed run=%s err=%v", runID, err)
		return
	}
	repo, err := w.loadRepo(run.RepoID)
	if err != nil {
		repo = nil
	}
	if err := w.notifier.RunFinished(ctx, &run, repo); err != nil {
		log.Printf("notify.run_finished.failed run=%s err=%v", runID, err)
	}
}
