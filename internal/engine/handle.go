package engine

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/arasmith/signalbox/internal/models"
	"github.com/arasmith/signalbox/internal/queue"
	"github.com/arasmith/signalbox/internal/station"
	"gorm.io/gorm"
)

// HandleMessage processes one delivered run message end to end and
// returns its queue disposition. Internal failures never escape as
// errors: the message is either acked (drop) or retried.
func (w *Worker) HandleMessage(ctx context.Context, body []byte) Outcome {
	msg, err := queue.DecodeRunMessage(body)
	if err != nil {
		log.Printf("queue.message.invalid err=%v", err)
		return OutcomeAck
	}

	var run models.Run
	if err := w.db.Where("id = ?", msg.RunID).First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("run.missing run=%s", msg.RunID)
			return OutcomeAck
		}
		log.Printf("run.load.failed run=%s err=%v", msg.RunID, err)
		return OutcomeRetry
	}

	status, err := station.ParseRunStatus(run.Status)
	if err != nil {
		log.Printf("run.status.invalid run=%s status=%q", run.ID, run.Status)
		return OutcomeAck
	}
	if station.RunTerminal(status) {
		log.Printf("run.skip.terminal run=%s status=%s", run.ID, status)
		return OutcomeAck
	}

	var startIdx int
	switch status {
	case station.RunQueued:
		claimed, err := w.claimQueued(run.ID)
		if err != nil {
			log.Printf("run.claim.failed run=%s err=%v", run.ID, err)
			return OutcomeRetry
		}
		if !claimed {
			// Someone else won; their progress decides our disposition.
			var current models.Run
			if err := w.db.Where("id = ?", run.ID).First(&current).Error; err != nil {
				log.Printf("run.claim.reread.failed run=%s err=%v", run.ID, err)
				return OutcomeRetry
			}
			if station.RunTerminal(current.Status) {
				log.Printf("run.skip.terminal run=%s status=%s", run.ID, current.Status)
				return OutcomeAck
			}
			log.Printf("run.claim.lost run=%s", run.ID)
			return OutcomeRetry
		}
		startIdx = 0

	case station.RunRunning:
		if !stale(&run, time.Now()) {
			log.Printf("run.defer.fresh run=%s", run.ID)
			return OutcomeRetry
		}
		claimed, err := w.claimStale(&run)
		if err != nil {
			log.Printf("run.takeover.failed run=%s err=%v", run.ID, err)
			return OutcomeRetry
		}
		if !claimed {
			log.Printf("run.takeover.lost run=%s", run.ID)
			return OutcomeRetry
		}
		startIdx = w.resumeIndex(&run)
		log.Printf("run.takeover run=%s start=%s", run.ID, station.Order[startIdx])

	default:
		log.Printf("run.status.unexpected run=%s status=%s", run.ID, status)
		return OutcomeAck
	}

	return w.drive(ctx, &run, startIdx)
}

// resumeIndex decides where a taken-over run continues. If the recorded
// current station already succeeded, the next one runs; otherwise the
// recorded station is re-entered.
func (w *Worker) resumeIndex(run *models.Run) int {
	if run.CurrentStation == nil {
		return 0
	}
	idx := station.Index(*run.CurrentStation)
	if idx < 0 {
		return 0
	}

	var exec models.StationExecution
	err := w.db.Where("id = ?", station.ExecutionID(run.ID, *run.CurrentStation)).First(&exec).Error
	if err == nil && exec.Status == station.ExecSucceeded && idx+1 < len(station.Order) {
		return idx + 1
	}
	return idx
}

// drive executes stations from startIdx to the end of the pipeline, then
// finalizes the run.
func (w *Worker) drive(ctx context.Context, run *models.Run, startIdx int) Outcome {
	for i := startIdx; i < len(station.Order); i++ {
		name := station.Order[i]
		if err := w.executeStation(ctx, run, name); err != nil {
			var retryable *RetryableStationError
			if errors.As(err, &retryable) {
				log.Printf("station.retry run=%s station=%s err=%v", run.ID, retryable.Station, retryable.Err)
				return OutcomeRetry
			}

			var failure *StationFailureError
			if !errors.As(err, &failure) {
				failure = &StationFailureError{
					Station: name,
					Reason:  err.Error(),
					Err:     err,
				}
			}
			return w.handleTerminalFailure(ctx, run.ID, failure)
		}
	}
	return w.finalizeRun(ctx, run.ID)
}
