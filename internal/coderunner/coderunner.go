// Package coderunner wraps the external code execution service behind a
// small adapter: the engine hands it a task, and gets back either a
// terminal outcome or a handle to a still-running external job.
package coderunner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Phases the adapter executes.
const (
	PhaseImplement = "implement"
	PhaseVerify    = "verify"
)

// Adapter modes.
const (
	ModeMock     = "mock"
	ModeExternal = "external"
)

// RepoInfo carries the repository fields a task needs.
type RepoInfo struct {
	ID         string `json:"id"`
	Owner      string `json:"owner"`
	Name       string `json:"name"`
	BaseBranch string `json:"baseBranch"`
	ConfigPath string `json:"configPath"`
}

// Resume carries the handle of a previously submitted external job. When
// present, the adapter polls that job instead of submitting a new one.
type Resume struct {
	ExternalRef string
	Metadata    *Metadata
}

// TaskInput is the adapter's request envelope.
type TaskInput struct {
	RunID       string   `json:"runId"`
	IssueNumber int      `json:"issueNumber"`
	Goal        string   `json:"goal,omitempty"`
	Requestor   string   `json:"requestor"`
	PRMode      string   `json:"prMode"`
	Repo        RepoInfo `json:"repo"`
	Resume      *Resume  `json:"-"`
}

// Metadata describes an adapter attempt. It is persisted on the station
// execution row and round-trips through resumes.
type Metadata struct {
	Phase          string `json:"phase"`
	Mode           string `json:"mode"`
	Attempt        int    `json:"attempt"`
	ProviderStatus string `json:"providerStatus,omitempty"`
	UpdatedAt      string `json:"updatedAt,omitempty"`
}

// ParseMetadata validates a stored metadata JSON object.
func ParseMetadata(data string) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return nil, fmt.Errorf("coderunner: parse metadata: %w", err)
	}
	if m.Attempt < 1 {
		return nil, fmt.Errorf("coderunner: metadata attempt %d must be >= 1", m.Attempt)
	}
	return &m, nil
}

// Encode serializes metadata for storage.
func (m *Metadata) Encode() (string, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("coderunner: encode metadata: %w", err)
	}
	return string(data), nil
}

// Response is the adapter's reply. Outcome is the discriminant: nil means
// the external job is still in flight and ExternalRef identifies it;
// non-nil is one of succeeded, failed, canceled, timeout.
type Response struct {
	Outcome     *string
	Summary     string
	ExternalRef string
	Metadata    *Metadata
	LogsInline  string
}

// Terminal reports whether the response carries a final outcome.
func (r *Response) Terminal() bool {
	return r.Outcome != nil
}

// Adapter runs the implement and verify phases.
type Adapter interface {
	RunImplement(ctx context.Context, input *TaskInput) (*Response, error)
	RunVerify(ctx context.Context, input *TaskInput) (*Response, error)
}

// nextAttempt derives the attempt counter from resume metadata.
func nextAttempt(resume *Resume) int {
	if resume != nil && resume.Metadata != nil && resume.Metadata.Attempt > 0 {
		return resume.Metadata.Attempt + 1
	}
	return 1
}

// newMetadata stamps a metadata record for the current attempt.
func newMetadata(phase, mode string, attempt int, providerStatus string) *Metadata {
	return &Metadata{
		Phase:          phase,
		Mode:           mode,
		Attempt:        attempt,
		ProviderStatus: providerStatus,
		UpdatedAt:      time.Now().UTC().Format(time.RFC3339),
	}
}

// outcomePtr is a convenience for building terminal responses.
func outcomePtr(o string) *string {
	return &o
}
