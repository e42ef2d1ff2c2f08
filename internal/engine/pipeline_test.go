package engine

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/arasmith/signalbox/internal/coderunner"
	"github.com/arasmith/signalbox/internal/models"
	"github.com/arasmith/signalbox/internal/station"
	"gorm.io/gorm"
)

// scriptAdapter drives implement/verify from test-provided functions and
// records every input it sees.
type scriptAdapter struct {
	implement func(*coderunner.TaskInput) (*coderunner.Response, error)
	verify    func(*coderunner.TaskInput) (*coderunner.Response, error)

	implementInputs []*coderunner.TaskInput
	verifyInputs    []*coderunner.TaskInput
}

func succeededResponse(summary string) (*coderunner.Response, error) {
	outcome := station.OutcomeSucceeded
	return &coderunner.Response{Outcome: &outcome, Summary: summary}, nil
}

func (a *scriptAdapter) RunImplement(ctx context.Context, input *coderunner.TaskInput) (*coderunner.Response, error) {
	a.implementInputs = append(a.implementInputs, input)
	if a.implement != nil {
		return a.implement(input)
	}
	return succeededResponse("implemented")
}

func (a *scriptAdapter) RunVerify(ctx context.Context, input *coderunner.TaskInput) (*coderunner.Response, error) {
	a.verifyInputs = append(a.verifyInputs, input)
	if a.verify != nil {
		return a.verify(input)
	}
	return succeededResponse("verified")
}

// seedStation inserts a station execution row directly.
func seedStation(t *testing.T, db *gorm.DB, runID, name, status string, finished time.Time) *models.StationExecution {
	t.Helper()
	started := finished.Add(-time.Second)
	ms := int64(1000)
	exec := models.StationExecution{
		ID:         station.ExecutionID(runID, name),
		RunID:      runID,
		Station:    name,
		Status:     status,
		StartedAt:  &started,
		FinishedAt: &finished,
		DurationMs: &ms,
	}
	if err := db.Create(&exec).Error; err != nil {
		t.Fatalf("seed station %s: %v", name, err)
	}
	return &exec
}

func TestHandleMessage_StaleResume_SkipsFinishedStations(t *testing.T) {
	db := testDB(t)
	adapter := &scriptAdapter{}
	w := testWorker(t, db, adapter)
	repo := seedRepo(t, db)
	run := seedRun(t, db, repo, station.RunRunning, "")

	old := time.Now().Add(-time.Minute)
	if err := db.Model(run).Updates(map[string]interface{}{
		"started_at":      old,
		"heartbeat_at":    old,
		"current_station": station.Plan,
	}).Error; err != nil {
		t.Fatalf("seed run state: %v", err)
	}
	finished := old.Add(2 * time.Second).Truncate(time.Millisecond)
	intakeBefore := seedStation(t, db, run.ID, station.Intake, station.ExecSucceeded, finished)
	seedStation(t, db, run.ID, station.Plan, station.ExecSucceeded, finished)

	if got := w.HandleMessage(context.Background(), messageFor(t, run)); got != OutcomeAck {
		t.Fatalf("outcome = %q, want ack", got)
	}

	final := reloadRun(t, db, run.ID)
	if final.Status != station.RunSucceeded {
		t.Fatalf("run status = %q, want succeeded (failure: %v)", final.Status, final.FailureReason)
	}

	// Finished stations were not re-run.
	intakeAfter := reloadStation(t, db, run.ID, station.Intake)
	if !intakeAfter.FinishedAt.Equal(*intakeBefore.FinishedAt) {
		t.Error("intake station was re-executed on takeover")
	}
	if len(adapter.implementInputs) != 1 {
		t.Errorf("implement called %d times, want 1", len(adapter.implementInputs))
	}

	for _, name := range []string{station.Implement, station.Verify, station.CreatePR} {
		if exec := reloadStation(t, db, run.ID, name); exec.Status != station.ExecSucceeded {
			t.Errorf("station %s status = %q", name, exec.Status)
		}
	}
}

func TestHandleMessage_StaleResume_ReentersUnfinishedStation(t *testing.T) {
	db := testDB(t)
	adapter := &scriptAdapter{}
	w := testWorker(t, db, adapter)
	repo := seedRepo(t, db)
	run := seedRun(t, db, repo, station.RunRunning, "")

	old := time.Now().Add(-time.Minute)
	if err := db.Model(run).Updates(map[string]interface{}{
		"started_at":      old,
		"heartbeat_at":    old,
		"current_station": station.Implement,
	}).Error; err != nil {
		t.Fatalf("seed run state: %v", err)
	}
	finished := old.Add(time.Second)
	seedStation(t, db, run.ID, station.Intake, station.ExecSucceeded, finished)
	seedStation(t, db, run.ID, station.Plan, station.ExecSucceeded, finished)

	// Implement was mid-flight when the previous worker died.
	started := old.Add(2 * time.Second)
	exec := models.StationExecution{
		ID:        station.ExecutionID(run.ID, station.Implement),
		RunID:     run.ID,
		Station:   station.Implement,
		Status:    station.ExecRunning,
		StartedAt: &started,
	}
	if err := db.Create(&exec).Error; err != nil {
		t.Fatalf("seed implement: %v", err)
	}

	if got := w.HandleMessage(context.Background(), messageFor(t, run)); got != OutcomeAck {
		t.Fatalf("outcome = %q, want ack", got)
	}
	if len(adapter.implementInputs) != 1 {
		t.Errorf("implement called %d times, want 1", len(adapter.implementInputs))
	}
	final := reloadRun(t, db, run.ID)
	if final.Status != station.RunSucceeded {
		t.Errorf("run status = %q", final.Status)
	}

	// The original start time survived the re-entry.
	after := reloadStation(t, db, run.ID, station.Implement)
	if after.StartedAt == nil || !after.StartedAt.Equal(started) {
		t.Errorf("implement startedAt = %v, want preserved %v", after.StartedAt, started)
	}
}

func TestHandleMessage_ExternalJob_PersistsRefThenResumes(t *testing.T) {
	db := testDB(t)
	adapter := &scriptAdapter{
		implement: func(input *coderunner.TaskInput) (*coderunner.Response, error) {
			if input.Resume == nil {
				return &coderunner.Response{
					Summary:     "job submitted",
					ExternalRef: "j1",
					Metadata:    &coderunner.Metadata{Phase: "implement", Mode: "external", Attempt: 1},
				}, nil
			}
			return succeededResponse("job finished")
		},
	}
	w := testWorker(t, db, adapter)
	repo := seedRepo(t, db)
	run := seedRun(t, db, repo, station.RunQueued, "")

	// First delivery: the station parks on the external job.
	if got := w.HandleMessage(context.Background(), messageFor(t, run)); got != OutcomeRetry {
		t.Fatalf("first outcome = %q, want retry", got)
	}

	mid := reloadRun(t, db, run.ID)
	if mid.Status != station.RunRunning {
		t.Fatalf("run status = %q, want running", mid.Status)
	}
	exec := reloadStation(t, db, run.ID, station.Implement)
	if exec.Status != station.ExecRunning {
		t.Errorf("implement status = %q, want running", exec.Status)
	}
	if exec.ExternalRef == nil || *exec.ExternalRef != "j1" {
		t.Fatalf("implement externalRef = %v, want j1", exec.ExternalRef)
	}
	if exec.MetadataJSON == nil {
		t.Fatal("implement metadata not persisted")
	}

	// Age the heartbeat so the redelivery can take over.
	old := time.Now().Add(-time.Minute)
	if err := db.Model(&models.Run{}).Where("id = ?", run.ID).
		Update("heartbeat_at", old).Error; err != nil {
		t.Fatalf("age heartbeat: %v", err)
	}

	if got := w.HandleMessage(context.Background(), messageFor(t, run)); got != OutcomeAck {
		t.Fatalf("second outcome = %q, want ack", got)
	}

	if len(adapter.implementInputs) != 2 {
		t.Fatalf("implement called %d times, want 2", len(adapter.implementInputs))
	}
	resumed := adapter.implementInputs[1]
	if resumed.Resume == nil || resumed.Resume.ExternalRef != "j1" {
		t.Fatalf("resume input = %+v, want externalRef j1", resumed.Resume)
	}
	if resumed.Resume.Metadata == nil || resumed.Resume.Metadata.Attempt != 1 {
		t.Errorf("resume metadata = %+v", resumed.Resume.Metadata)
	}

	final := reloadRun(t, db, run.ID)
	if final.Status != station.RunSucceeded {
		t.Errorf("run status = %q, want succeeded", final.Status)
	}
}

func TestExecuteStation_AlreadySucceededIsNoop(t *testing.T) {
	db := testDB(t)
	adapter := &scriptAdapter{}
	w := testWorker(t, db, adapter)
	repo := seedRepo(t, db)
	run := seedRun(t, db, repo, station.RunRunning, "")

	finished := time.Now().Add(-time.Second).Truncate(time.Millisecond)
	before := seedStation(t, db, run.ID, station.Implement, station.ExecSucceeded, finished)

	if err := w.executeStation(context.Background(), run, station.Implement); err != nil {
		t.Fatalf("executeStation: %v", err)
	}
	if len(adapter.implementInputs) != 0 {
		t.Error("adapter invoked for an already-succeeded station")
	}
	after := reloadStation(t, db, run.ID, station.Implement)
	if !after.FinishedAt.Equal(*before.FinishedAt) || after.Status != station.ExecSucceeded {
		t.Error("no-op execution changed the station row")
	}
}

func TestHandleMessage_RetryableAdapterErrorDefersRun(t *testing.T) {
	db := testDB(t)
	adapter := &scriptAdapter{
		implement: func(input *coderunner.TaskInput) (*coderunner.Response, error) {
			return nil, &coderunner.Error{
				Category: coderunner.CategoryTransport,
				Op:       "submit job",
				Err:      context.DeadlineExceeded,
			}
		},
	}
	w := testWorker(t, db, adapter)
	repo := seedRepo(t, db)
	run := seedRun(t, db, repo, station.RunQueued, "")

	if got := w.HandleMessage(context.Background(), messageFor(t, run)); got != OutcomeRetry {
		t.Fatalf("outcome = %q, want retry", got)
	}

	mid := reloadRun(t, db, run.ID)
	if mid.Status != station.RunRunning {
		t.Errorf("run status = %q, want running", mid.Status)
	}
	exec := reloadStation(t, db, run.ID, station.Implement)
	if exec.Status != station.ExecRunning {
		t.Errorf("implement status = %q, want running (no failure recorded)", exec.Status)
	}
}

func TestHandleMessage_FailureReasonIsBounded(t *testing.T) {
	db := testDB(t)
	long := strings.Repeat("x", 700)
	adapter := &scriptAdapter{
		implement: func(input *coderunner.TaskInput) (*coderunner.Response, error) {
			outcome := station.OutcomeFailed
			return &coderunner.Response{Outcome: &outcome, Summary: long}, nil
		},
	}
	w := testWorker(t, db, adapter)
	repo := seedRepo(t, db)
	run := seedRun(t, db, repo, station.RunQueued, "")

	if got := w.HandleMessage(context.Background(), messageFor(t, run)); got != OutcomeAck {
		t.Fatalf("outcome = %q, want ack", got)
	}

	final := reloadRun(t, db, run.ID)
	if final.FailureReason == nil {
		t.Fatal("missing failureReason")
	}
	if n := len([]rune(*final.FailureReason)); n > station.SummaryLimit {
		t.Errorf("failureReason length = %d, want <= %d", n, station.SummaryLimit)
	}

	exec := reloadStation(t, db, run.ID, station.Implement)
	if exec.Summary == nil {
		t.Fatal("missing station summary")
	}
	if n := len([]rune(*exec.Summary)); n > station.SummaryLimit {
		t.Errorf("station summary length = %d, want <= %d", n, station.SummaryLimit)
	}
}

func TestWriteLogsExcerpt_Truncation(t *testing.T) {
	db := testDB(t)
	w := testWorker(t, db, nil)
	repo := seedRepo(t, db)
	run := seedRun(t, db, repo, station.RunQueued, "")

	logs := strings.Repeat("y", station.ExcerptLimit+1)
	w.writeLogsExcerpt(run.ID, station.Verify, logs)

	var artifact models.Artifact
	if err := db.Where("id = ?", station.ArtifactID(run.ID, "verify_runner_logs_excerpt")).
		First(&artifact).Error; err != nil {
		t.Fatalf("load artifact: %v", err)
	}
	if !strings.Contains(artifact.Payload, `"truncated":true`) {
		t.Error("truncated excerpt not flagged")
	}
	if !strings.Contains(artifact.Payload, `"originalLength":4001`) {
		t.Errorf("originalLength missing from payload")
	}
}

func TestUpsertArtifact_OverwritesPayload(t *testing.T) {
	db := testDB(t)
	w := testWorker(t, db, nil)
	repo := seedRepo(t, db)
	run := seedRun(t, db, repo, station.RunQueued, "")

	if err := w.upsertArtifact(run.ID, "implement_summary", map[string]string{"v": "first"}); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := w.upsertArtifact(run.ID, "implement_summary", map[string]string{"v": "second"}); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	var count int64
	db.Model(&models.Artifact{}).Where("run_id = ?", run.ID).Count(&count)
	if count != 1 {
		t.Fatalf("artifact count = %d, want 1", count)
	}
	var artifact models.Artifact
	db.Where("run_id = ?", run.ID).First(&artifact)
	if !strings.Contains(artifact.Payload, "second") {
		t.Errorf("payload = %q, want overwritten", artifact.Payload)
	}
}
