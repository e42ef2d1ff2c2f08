package engine

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/arasmith/signalbox/internal/coderunner"
	"github.com/arasmith/signalbox/internal/models"
	"github.com/arasmith/signalbox/internal/station"
	"gorm.io/gorm/clause"
)

// upsertArtifact writes an artifact by its deterministic ID, replacing
// any earlier payload: a resumed station may produce an improved summary.
func (w *Worker) upsertArtifact(runID, artifactType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("engine: marshal %s artifact: %w", artifactType, err)
	}

	artifact := models.Artifact{
		ID:        station.ArtifactID(runID, artifactType),
		RunID:     runID,
		Type:      artifactType,
		Storage:   models.ArtifactStorageInline,
		Payload:   string(data),
		CreatedAt: time.Now(),
	}

	res := w.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"payload", "created_at"}),
	}).Create(&artifact)
	if res.Error != nil {
		return fmt.Errorf("engine: upsert %s artifact: %w", artifactType, res.Error)
	}
	return nil
}

// writeStationArtifacts persists the artifacts a station response
// produces. Artifact write failures are logged; they never change the
// station outcome.
func (w *Worker) writeStationArtifacts(runID, name string, resp *coderunner.Response) {
	switch name {
	case station.Implement, station.Verify:
		payload := map[string]interface{}{
			"station":     name,
			"outcome":     resp.Outcome,
			"summary":     station.TruncateSummary(resp.Summary),
			"externalRef": resp.ExternalRef,
			"metadata":    resp.Metadata,
		}
		if err := w.upsertArtifact(runID, name+"_summary", payload); err != nil {
			log.Printf("artifact.write.failed run=%s type=%s_summary err=%v", runID, name, err)
		}

		if resp.LogsInline != "" {
			w.writeLogsExcerpt(runID, name, resp.LogsInline)
		}

	default:
		payload := map[string]interface{}{
			"station": name,
			"summary": station.TruncateSummary(resp.Summary),
		}
		if err := w.upsertArtifact(runID, name+"_summary", payload); err != nil {
			log.Printf("artifact.write.failed run=%s type=%s_summary err=%v", runID, name, err)
		}
	}
}

// writeLogsExcerpt stores a bounded inline excerpt of runner logs.
func (w *Worker) writeLogsExcerpt(runID, name, logs string) {
	excerpt, truncated := station.TruncateExcerpt(logs)
	payload := map[string]interface{}{
		"station":   name,
		"excerpt":   excerpt,
		"truncated": truncated,
	}
	if truncated {
		payload["originalLength"] = len([]rune(logs))
		payload["note"] = fmt.Sprintf("excerpt truncated to %d characters", station.ExcerptLimit)
	}
	if err := w.upsertArtifact(runID, name+"_runner_logs_excerpt", payload); err != nil {
		log.Printf("artifact.write.failed run=%s type=%s_runner_logs_excerpt err=%v", runID, name, err)
	}
}

// writeWorkflowSummary records the final shape of a completed run.
func (w *Worker) writeWorkflowSummary(runID string) {
	var execs []models.StationExecution
	if err := w.db.Where("run_id = ?", runID).Find(&execs).Error; err != nil {
		log.Printf("artifact.workflow_summary.read.failed run=%s err=%v", runID, err)
		return
	}

	stations := make([]map[string]interface{}, 0, len(execs))
	for _, s := range station.Order {
		for _, e := range execs {
			if e.Station != s {
				continue
			}
			stations = append(stations, map[string]interface{}{
				"station":    e.Station,
				"status":     e.Status,
				"durationMs": e.DurationMs,
			})
		}
	}

	payload := map[string]interface{}{
		"status":     station.RunSucceeded,
		"stations":   stations,
		"finishedAt": time.Now().UTC().Format(time.RFC3339),
	}
	if err := w.upsertArtifact(runID, "workflow_summary", payload); err != nil {
		log.Printf("artifact.write.failed run=%s type=workflow_summary err=%v", runID, err)
	}
}
