package controlplane

import (
	"encoding/json"
	"time"

	"github.com/arasmith/signalbox/internal/models"
)

// repoJSON is the external repo projection.
type repoJSON struct {
	ID            string    `json:"id"`
	Owner         string    `json:"owner"`
	Name          string    `json:"name"`
	DefaultBranch string    `json:"defaultBranch"`
	ConfigPath    string    `json:"configPath"`
	Enabled       bool      `json:"enabled"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func serializeRepo(r *models.Repo) repoJSON {
	return repoJSON{
		ID:            r.ID,
		Owner:         r.Owner,
		Name:          r.Name,
		DefaultBranch: r.DefaultBranch,
		ConfigPath:    r.ConfigPath,
		Enabled:       r.Enabled,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}

// repoSummaryJSON is the embedded repo view inside a run.
type repoSummaryJSON struct {
	ID    string `json:"id"`
	Owner string `json:"owner"`
	Name  string `json:"name"`
}

// runJSON is the external run projection.
type runJSON struct {
	ID             string           `json:"id"`
	Repo           *repoSummaryJSON `json:"repo,omitempty"`
	RepoID         string           `json:"repoId"`
	IssueNumber    int              `json:"issueNumber"`
	Goal           *string          `json:"goal,omitempty"`
	Status         string           `json:"status"`
	CurrentStation *string          `json:"currentStation,omitempty"`
	Requestor      string           `json:"requestor"`
	BaseBranch     string           `json:"baseBranch"`
	WorkBranch     *string          `json:"workBranch,omitempty"`
	PRMode         string           `json:"prMode"`
	PRURL          *string          `json:"prUrl,omitempty"`
	FailureReason  *string          `json:"failureReason,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	StartedAt      *time.Time       `json:"startedAt,omitempty"`
	HeartbeatAt    *time.Time       `json:"heartbeatAt,omitempty"`
	FinishedAt     *time.Time       `json:"finishedAt,omitempty"`
}

func serializeRun(run *models.Run, repo *models.Repo) runJSON {
	out := runJSON{
		ID:             run.ID,
		RepoID:         run.RepoID,
		IssueNumber:    run.IssueNumber,
		Goal:           run.Goal,
		Status:         run.Status,
		CurrentStation: run.CurrentStation,
		Requestor:      run.Requestor,
		BaseBranch:     run.BaseBranch,
		WorkBranch:     run.WorkBranch,
		PRMode:         run.PRMode,
		PRURL:          run.PRURL,
		FailureReason:  run.FailureReason,
		CreatedAt:      run.CreatedAt,
		StartedAt:      run.StartedAt,
		HeartbeatAt:    run.HeartbeatAt,
		FinishedAt:     run.FinishedAt,
	}
	if repo != nil {
		out.Repo = &repoSummaryJSON{ID: repo.ID, Owner: repo.Owner, Name: repo.Name}
	}
	return out
}

// stationJSON is the external station execution projection. Metadata is
// surfaced as a parsed object when the stored JSON is valid.
type stationJSON struct {
	Station     string                 `json:"station"`
	Status      string                 `json:"status"`
	Summary     *string                `json:"summary,omitempty"`
	ExternalRef *string                `json:"externalRef,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	DurationMs  *int64                 `json:"durationMs,omitempty"`
	StartedAt   *time.Time             `json:"startedAt,omitempty"`
	FinishedAt  *time.Time             `json:"finishedAt,omitempty"`
}

func serializeStation(e *models.StationExecution) stationJSON {
	out := stationJSON{
		Station:     e.Station,
		Status:      e.Status,
		Summary:     e.Summary,
		ExternalRef: e.ExternalRef,
		DurationMs:  e.DurationMs,
		StartedAt:   e.StartedAt,
		FinishedAt:  e.FinishedAt,
	}
	if e.MetadataJSON != nil {
		var md map[string]interface{}
		if err := json.Unmarshal([]byte(*e.MetadataJSON), &md); err == nil {
			out.Metadata = md
		}
	}
	return out
}

// artifactJSON is the external artifact projection.
type artifactJSON struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Storage   string      `json:"storage"`
	Payload   interface{} `json:"payload"`
	CreatedAt time.Time   `json:"createdAt"`
}

func serializeArtifact(a *models.Artifact) artifactJSON {
	out := artifactJSON{
		ID:        a.ID,
		Type:      a.Type,
		Storage:   a.Storage,
		CreatedAt: a.CreatedAt,
	}
	var payload interface{}
	if err := json.Unmarshal([]byte(a.Payload), &payload); err == nil {
		out.Payload = payload
	} else {
		out.Payload = a.Payload
	}
	return out
}
