package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/arasmith/signalbox/internal/coderunner"
	"github.com/arasmith/signalbox/internal/models"
	"github.com/arasmith/signalbox/internal/station"
	"gorm.io/gorm"
)

// executeStation runs one station for a run this worker owns. It returns
// nil on success, RetryableStationError when the station should be
// revisited on a later delivery, and StationFailureError on terminal
// failure.
func (w *Worker) executeStation(ctx context.Context, run *models.Run, name string) error {
	execID := station.ExecutionID(run.ID, name)

	var existing models.StationExecution
	found := true
	if err := w.db.Where("id = ?", execID).First(&existing).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return &RetryableStationError{Station: name, Err: fmt.Errorf("read station row: %w", err)}
		}
		found = false
	}
	if found && station.ExecTerminal(existing.Status) {
		if existing.Status == station.ExecSucceeded || existing.Status == station.ExecSkipped {
			log.Printf("station.skip.already_succeeded run=%s station=%s status=%s", run.ID, name, existing.Status)
			return nil
		}
		// A failed row on a running run means a prior writer died between
		// marking the station and the run; surface it as terminal.
		reason := "station previously failed"
		if existing.Summary != nil {
			reason = *existing.Summary
		}
		return &StationFailureError{Station: name, Reason: reason}
	}

	now := time.Now()
	startedAt := now
	if existing.StartedAt != nil {
		startedAt = *existing.StartedAt
	}

	// Point the run at this station. Zero changed rows is tolerated: the
	// run may have been finalized by a concurrent writer, which the CAS
	// on exit will catch.
	res := w.db.Model(&models.Run{}).
		Where("id = ? AND status = ?", run.ID, station.RunRunning).
		Updates(map[string]interface{}{"current_station": name, "heartbeat_at": now})
	if res.Error != nil {
		log.Printf("run.mark_station.failed run=%s station=%s err=%v", run.ID, name, res.Error)
	} else if res.RowsAffected == 0 {
		log.Printf("run.mark_station.noop run=%s station=%s", run.ID, name)
	}

	if err := w.upsertRunningStation(execID, run.ID, name, found, startedAt); err != nil {
		return &RetryableStationError{Station: name, Err: err}
	}

	hbCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.startHeartbeat(hbCtx, run.ID, name)

	resp, err := w.runStationBody(ctx, run, name, &existing)
	if err != nil {
		if coderunner.Retryable(err) || isTransient(err) {
			return &RetryableStationError{Station: name, Err: err}
		}
		reason := station.TruncateSummary(err.Error())
		w.failStation(execID, startedAt, reason, nil)
		return &StationFailureError{Station: name, Reason: reason, Err: err}
	}

	if !resp.Terminal() {
		w.persistInFlight(execID, resp)
		w.writeStationArtifacts(run.ID, name, resp)
		return &RetryableStationError{
			Station: name,
			Err:     fmt.Errorf("external job %s in flight", resp.ExternalRef),
		}
	}

	outcome := *resp.Outcome
	if outcome == station.OutcomeSucceeded {
		w.succeedStation(execID, startedAt, resp)
	} else {
		w.failStation(execID, startedAt, station.TruncateSummary(resp.Summary), resp)
	}
	w.writeStationArtifacts(run.ID, name, resp)

	if outcome != station.OutcomeSucceeded {
		return &StationFailureError{
			Station: name,
			Reason:  station.TruncateSummary(fmt.Sprintf("%s: %s", outcome, resp.Summary)),
		}
	}
	return nil
}

// runStationBody produces the station's response: deterministic summaries
// for the skeleton stations, adapter calls for implement and verify.
func (w *Worker) runStationBody(ctx context.Context, run *models.Run, name string, existing *models.StationExecution) (*coderunner.Response, error) {
	repo, err := w.loadRepo(run.RepoID)
	if err != nil {
		return nil, newTransient(fmt.Errorf("load repo %s: %w", run.RepoID, err))
	}

	switch name {
	case station.Intake:
		return terminalResponse(fmt.Sprintf("Intake captured %s/%s#%d", repo.Owner, repo.Name, run.IssueNumber)), nil

	case station.Plan:
		if run.Goal != nil && *run.Goal != "" {
			return terminalResponse(fmt.Sprintf("Plan drafted for goal: %s", *run.Goal)), nil
		}
		return terminalResponse(fmt.Sprintf("Plan drafted from issue #%d", run.IssueNumber)), nil

	case station.CreatePR:
		return terminalResponse(fmt.Sprintf("PR creation recorded for %s/%s#%d (%s mode)",
			repo.Owner, repo.Name, run.IssueNumber, run.PRMode)), nil

	case station.Implement:
		return w.adapter.RunImplement(ctx, w.taskInput(run, repo, existing))

	case station.Verify:
		return w.adapter.RunVerify(ctx, w.taskInput(run, repo, existing))
	}
	return nil, fmt.Errorf("engine: unknown station %q", name)
}

// taskInput assembles the adapter envelope, attaching a resume block when
// the station row already carries an external job handle.
func (w *Worker) taskInput(run *models.Run, repo *models.Repo, existing *models.StationExecution) *coderunner.TaskInput {
	input := &coderunner.TaskInput{
		RunID:       run.ID,
		IssueNumber: run.IssueNumber,
		Requestor:   run.Requestor,
		PRMode:      run.PRMode,
		Repo: coderunner.RepoInfo{
			ID:         repo.ID,
			Owner:      repo.Owner,
			Name:       repo.Name,
			BaseBranch: repo.DefaultBranch,
			ConfigPath: repo.ConfigPath,
		},
	}
	if run.Goal != nil {
		input.Goal = *run.Goal
	}
	if run.BaseBranch != "" {
		input.Repo.BaseBranch = run.BaseBranch
	}

	if existing.ExternalRef != nil && *existing.ExternalRef != "" {
		resume := &coderunner.Resume{ExternalRef: *existing.ExternalRef}
		if existing.MetadataJSON != nil {
			md, err := coderunner.ParseMetadata(*existing.MetadataJSON)
			if err != nil {
				log.Printf("station.metadata.invalid run=%s station=%s err=%v", run.ID, existing.Station, err)
			} else {
				resume.Metadata = md
			}
		}
		input.Resume = resume
	}
	return input
}

// terminalResponse builds a synchronous succeeded response for the
// skeleton stations.
func terminalResponse(summary string) *coderunner.Response {
	outcome := station.OutcomeSucceeded
	return &coderunner.Response{Outcome: &outcome, Summary: summary}
}

// transientError marks an internal store fault as retryable without
// involving the adapter taxonomy.
type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

func newTransient(err error) error { return &transientError{err: err} }

func isTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}
