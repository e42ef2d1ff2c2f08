// Package station defines the fixed pipeline vocabulary: station names
// and ordering, run and station status enums, transition predicates, and
// the deterministic identifiers that make redelivery idempotent.
package station

import "fmt"

// Station names, in pipeline order.
const (
	Intake    = "intake"
	Plan      = "plan"
	Implement = "implement"
	Verify    = "verify"
	CreatePR  = "create_pr"
)

// Order is the fixed station sequence. A station may only execute once
// every earlier station is succeeded or skipped.
var Order = []string{Intake, Plan, Implement, Verify, CreatePR}

// Index returns the position of a station in the pipeline, or -1 if the
// name is not a station.
func Index(name string) int {
	for i, s := range Order {
		if s == name {
			return i
		}
	}
	return -1
}

// Run statuses.
const (
	RunQueued    = "queued"
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
	RunCanceled  = "canceled"
)

// Station execution statuses.
const (
	ExecPending   = "pending"
	ExecRunning   = "running"
	ExecSucceeded = "succeeded"
	ExecFailed    = "failed"
	ExecSkipped   = "skipped"
)

// ParseRunStatus validates a stored run status string.
func ParseRunStatus(s string) (string, error) {
	switch s {
	case RunQueued, RunRunning, RunSucceeded, RunFailed, RunCanceled:
		return s, nil
	}
	return "", fmt.Errorf("station: unknown run status %q", s)
}

// RunTerminal reports whether a run status admits no further transitions.
func RunTerminal(status string) bool {
	return status == RunSucceeded || status == RunFailed || status == RunCanceled
}

// ExecTerminal reports whether a station execution status is final.
func ExecTerminal(status string) bool {
	return status == ExecSucceeded || status == ExecFailed || status == ExecSkipped
}

// Adapter outcomes for terminal station responses.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeCanceled  = "canceled"
	OutcomeTimeout   = "timeout"
)

// ValidOutcome reports whether s is a terminal adapter outcome.
func ValidOutcome(s string) bool {
	switch s {
	case OutcomeSucceeded, OutcomeFailed, OutcomeCanceled, OutcomeTimeout:
		return true
	}
	return false
}

// ExecutionID returns the deterministic station execution row ID.
func ExecutionID(runID, name string) string {
	return fmt.Sprintf("station_%s_%s", runID, name)
}

// ArtifactID returns the deterministic artifact row ID.
func ArtifactID(runID, artifactType string) string {
	return fmt.Sprintf("artifact_%s_%s", runID, artifactType)
}
