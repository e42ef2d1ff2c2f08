package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// RunMessage is the wire shape published for each submitted run. Field
// validation is exact: a message that fails any check is dropped by the
// consumer rather than retried.
type RunMessage struct {
	RunID       string `json:"runId"`
	RepoID      string `json:"repoId"`
	IssueNumber int    `json:"issueNumber"`
	RequestedAt string `json:"requestedAt"`
	PRMode      string `json:"prMode"`
	Requestor   string `json:"requestor"`
}

// Encode serializes the message for publication.
func (m *RunMessage) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("queue: encode run message: %w", err)
	}
	return data, nil
}

// DecodeRunMessage parses and validates a run message body.
func DecodeRunMessage(data []byte) (*RunMessage, error) {
	var m RunMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("queue: decode run message: %w", err)
	}
	if m.RunID == "" {
		return nil, fmt.Errorf("queue: run message missing runId")
	}
	if m.RepoID == "" {
		return nil, fmt.Errorf("queue: run message missing repoId")
	}
	if m.IssueNumber <= 0 {
		return nil, fmt.Errorf("queue: run message issueNumber must be positive, got %d", m.IssueNumber)
	}
	if _, err := time.Parse(time.RFC3339, m.RequestedAt); err != nil {
		return nil, fmt.Errorf("queue: run message requestedAt %q is not RFC3339: %w", m.RequestedAt, err)
	}
	if m.PRMode != "draft" && m.PRMode != "ready" {
		return nil, fmt.Errorf("queue: run message prMode %q is not draft or ready", m.PRMode)
	}
	if m.Requestor == "" {
		return nil, fmt.Errorf("queue: run message missing requestor")
	}
	return &m, nil
}
