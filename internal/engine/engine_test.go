package engine

import (
	"context"
	"testing"
	"time"

	"github.com/arasmith/signalbox/internal/coderunner"
	"github.com/arasmith/signalbox/internal/models"
	"github.com/arasmith/signalbox/internal/queue"
	"github.com/arasmith/signalbox/internal/station"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// testDB creates an in-memory SQLite database with all tables.
func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Repo{},
		&models.Run{},
		&models.StationExecution{},
		&models.Artifact{},
		&models.QueueMessage{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func testWorker(t *testing.T, db *gorm.DB, adapter coderunner.Adapter) *Worker {
	t.Helper()
	if adapter == nil {
		adapter = coderunner.NewMockAdapter()
	}
	return New(db, queue.New(db), adapter, Options{Topic: "runs"})
}

func seedRepo(t *testing.T, db *gorm.DB) *models.Repo {
	t.Helper()
	repo := models.Repo{
		ID:            "repo_ef56ab78",
		Owner:         "acme",
		Name:          "svc",
		DefaultBranch: "main",
		ConfigPath:    "signalbox.yaml",
		Enabled:       true,
	}
	if err := db.Create(&repo).Error; err != nil {
		t.Fatalf("seed repo: %v", err)
	}
	return &repo
}

func seedRun(t *testing.T, db *gorm.DB, repo *models.Repo, status string, goal string) *models.Run {
	t.Helper()
	run := models.Run{
		ID:          "run_ab12cd34",
		RepoID:      repo.ID,
		IssueNumber: 7,
		Status:      status,
		Requestor:   "user",
		BaseBranch:  "main",
		PRMode:      "draft",
		CreatedAt:   time.Now(),
	}
	if goal != "" {
		run.Goal = &goal
	}
	if err := db.Create(&run).Error; err != nil {
		t.Fatalf("seed run: %v", err)
	}
	return &run
}

func messageFor(t *testing.T, run *models.Run) []byte {
	t.Helper()
	msg := queue.RunMessage{
		RunID:       run.ID,
		RepoID:      run.RepoID,
		IssueNumber: run.IssueNumber,
		RequestedAt: run.CreatedAt.UTC().Format(time.RFC3339),
		PRMode:      run.PRMode,
		Requestor:   run.Requestor,
	}
	data, err := msg.Encode()
	if err != nil {
		t.Fatalf("encode message: %v", err)
	}
	return data
}

func reloadRun(t *testing.T, db *gorm.DB, id string) *models.Run {
	t.Helper()
	var run models.Run
	if err := db.Where("id = ?", id).First(&run).Error; err != nil {
		t.Fatalf("reload run: %v", err)
	}
	return &run
}

func reloadStation(t *testing.T, db *gorm.DB, runID, name string) *models.StationExecution {
	t.Helper()
	var exec models.StationExecution
	if err := db.Where("id = ?", station.ExecutionID(runID, name)).First(&exec).Error; err != nil {
		t.Fatalf("reload station %s: %v", name, err)
	}
	return &exec
}

func TestHandleMessage_InvalidBody(t *testing.T) {
	w := testWorker(t, testDB(t), nil)
	if got := w.HandleMessage(context.Background(), []byte(`{"runId":""}`)); got != OutcomeAck {
		t.Errorf("outcome = %q, want ack", got)
	}
}

func TestHandleMessage_RunMissing(t *testing.T) {
	db := testDB(t)
	w := testWorker(t, db, nil)
	seedRepo(t, db)

	body := []byte(`{"runId":"run_missing0","repoId":"repo_ef56ab78","issueNumber":7,` +
		`"requestedAt":"2026-08-06T00:00:00Z","prMode":"draft","requestor":"user"}`)
	if got := w.HandleMessage(context.Background(), body); got != OutcomeAck {
		t.Errorf("outcome = %q, want ack", got)
	}
}

func TestHandleMessage_TerminalRun(t *testing.T) {
	db := testDB(t)
	w := testWorker(t, db, nil)
	repo := seedRepo(t, db)
	run := seedRun(t, db, repo, station.RunSucceeded, "")

	if got := w.HandleMessage(context.Background(), messageFor(t, run)); got != OutcomeAck {
		t.Errorf("outcome = %q, want ack", got)
	}
}

func TestHandleMessage_FreshRunningDefers(t *testing.T) {
	db := testDB(t)
	w := testWorker(t, db, nil)
	repo := seedRepo(t, db)
	run := seedRun(t, db, repo, station.RunRunning, "")

	now := time.Now()
	if err := db.Model(run).Updates(map[string]interface{}{
		"started_at": now, "heartbeat_at": now,
	}).Error; err != nil {
		t.Fatalf("seed heartbeat: %v", err)
	}

	if got := w.HandleMessage(context.Background(), messageFor(t, run)); got != OutcomeRetry {
		t.Errorf("outcome = %q, want retry", got)
	}
	if reloadRun(t, db, run.ID).Status != station.RunRunning {
		t.Error("deferring consumer mutated the run")
	}
}

func TestHandleMessage_HappyPath(t *testing.T) {
	db := testDB(t)
	w := testWorker(t, db, nil)
	repo := seedRepo(t, db)
	run := seedRun(t, db, repo, station.RunQueued, "fix the login bug")

	if got := w.HandleMessage(context.Background(), messageFor(t, run)); got != OutcomeAck {
		t.Fatalf("outcome = %q, want ack", got)
	}

	final := reloadRun(t, db, run.ID)
	if final.Status != station.RunSucceeded {
		t.Fatalf("run status = %q, want succeeded (failure: %v)", final.Status, final.FailureReason)
	}
	if final.FinishedAt == nil {
		t.Error("succeeded run missing finishedAt")
	}
	if final.CurrentStation != nil {
		t.Errorf("succeeded run currentStation = %q, want cleared", *final.CurrentStation)
	}
	if final.StartedAt == nil {
		t.Error("run missing startedAt")
	}

	for _, name := range station.Order {
		exec := reloadStation(t, db, run.ID, name)
		if exec.Status != station.ExecSucceeded {
			t.Errorf("station %s status = %q, want succeeded", name, exec.Status)
		}
		if exec.FinishedAt == nil {
			t.Errorf("station %s missing finishedAt", name)
		}
		if exec.DurationMs == nil || *exec.DurationMs < 1 {
			t.Errorf("station %s durationMs = %v, want >= 1", name, exec.DurationMs)
		}
	}

	var artifacts []models.Artifact
	if err := db.Where("run_id = ?", run.ID).Find(&artifacts).Error; err != nil {
		t.Fatalf("load artifacts: %v", err)
	}
	types := map[string]bool{}
	for _, a := range artifacts {
		types[a.Type] = true
	}
	for _, want := range []string{
		"intake_summary", "plan_summary", "implement_summary",
		"verify_summary", "create_pr_summary", "workflow_summary",
	} {
		if !types[want] {
			t.Errorf("missing artifact %s (have %v)", want, types)
		}
	}
}

func TestHandleMessage_Redelivery_IsIdempotent(t *testing.T) {
	db := testDB(t)
	w := testWorker(t, db, nil)
	repo := seedRepo(t, db)
	run := seedRun(t, db, repo, station.RunQueued, "")

	if got := w.HandleMessage(context.Background(), messageFor(t, run)); got != OutcomeAck {
		t.Fatalf("first delivery outcome = %q", got)
	}
	first := reloadRun(t, db, run.ID)

	if got := w.HandleMessage(context.Background(), messageFor(t, run)); got != OutcomeAck {
		t.Fatalf("second delivery outcome = %q", got)
	}
	second := reloadRun(t, db, run.ID)

	if !first.FinishedAt.Equal(*second.FinishedAt) {
		t.Error("redelivery re-finalized a terminal run")
	}
}

func TestHandleMessage_MockFailure(t *testing.T) {
	db := testDB(t)
	w := testWorker(t, db, nil)
	repo := seedRepo(t, db)
	run := seedRun(t, db, repo, station.RunQueued, "break it [mock-fail]")

	if got := w.HandleMessage(context.Background(), messageFor(t, run)); got != OutcomeAck {
		t.Fatalf("outcome = %q, want ack", got)
	}

	final := reloadRun(t, db, run.ID)
	if final.Status != station.RunFailed {
		t.Fatalf("run status = %q, want failed", final.Status)
	}
	if final.FailureReason == nil {
		t.Fatal("failed run missing failureReason")
	}
	if final.CurrentStation == nil || *final.CurrentStation != station.Implement {
		t.Errorf("currentStation = %v, want implement", final.CurrentStation)
	}
	if final.FinishedAt == nil {
		t.Error("failed run missing finishedAt")
	}

	exec := reloadStation(t, db, run.ID, station.Implement)
	if exec.Status != station.ExecFailed {
		t.Errorf("implement status = %q, want failed", exec.Status)
	}

	// The pipeline stopped: verify never ran.
	var count int64
	db.Model(&models.StationExecution{}).
		Where("id = ?", station.ExecutionID(run.ID, station.Verify)).Count(&count)
	if count != 0 {
		t.Error("verify station was created after implement failed")
	}
}

func TestClaimQueued_SecondCallNoop(t *testing.T) {
	db := testDB(t)
	w := testWorker(t, db, nil)
	repo := seedRepo(t, db)
	run := seedRun(t, db, repo, station.RunQueued, "")

	claimed, err := w.claimQueued(run.ID)
	if err != nil || !claimed {
		t.Fatalf("first claim: claimed=%v err=%v", claimed, err)
	}
	claimed, err = w.claimQueued(run.ID)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if claimed {
		t.Error("second claim should change 0 rows")
	}

	r := reloadRun(t, db, run.ID)
	if r.Status != station.RunRunning {
		t.Errorf("status = %q", r.Status)
	}
	if r.CurrentStation == nil || *r.CurrentStation != station.Intake {
		t.Errorf("currentStation = %v, want intake", r.CurrentStation)
	}
	if r.StartedAt == nil || r.HeartbeatAt == nil {
		t.Error("claim did not stamp started_at/heartbeat_at")
	}
}

func TestClaimStale_HeartbeatIsToken(t *testing.T) {
	db := testDB(t)
	w := testWorker(t, db, nil)
	repo := seedRepo(t, db)
	run := seedRun(t, db, repo, station.RunRunning, "")

	old := time.Now().Add(-time.Minute).Truncate(time.Millisecond)
	if err := db.Model(run).Updates(map[string]interface{}{
		"started_at": old, "heartbeat_at": old,
	}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	observed := reloadRun(t, db, run.ID)
	claimed, err := w.claimStale(observed)
	if err != nil || !claimed {
		t.Fatalf("first takeover: claimed=%v err=%v", claimed, err)
	}

	// The same stale snapshot no longer matches.
	claimed, err = w.claimStale(observed)
	if err != nil {
		t.Fatalf("second takeover: %v", err)
	}
	if claimed {
		t.Error("stale snapshot won the CAS twice")
	}
}

func TestStale(t *testing.T) {
	now := time.Now()
	recent := now.Add(-time.Second)
	old := now.Add(-time.Minute)

	tests := []struct {
		name      string
		heartbeat *time.Time
		started   *time.Time
		want      bool
	}{
		{"fresh heartbeat", &recent, &old, false},
		{"old heartbeat", &old, &recent, true},
		{"no heartbeat, old start", nil, &old, true},
		{"no heartbeat, recent start", nil, &recent, false},
		{"no liveness at all", nil, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := &models.Run{HeartbeatAt: tt.heartbeat, StartedAt: tt.started}
			if got := stale(run, now); got != tt.want {
				t.Errorf("stale = %v, want %v", got, tt.want)
			}
		})
	}
}
