package coderunner

import (
	"context"
	"fmt"
	"strings"

	"github.com/arasmith/signalbox/internal/station"
)

// Goal markers recognized by the mock adapter.
const (
	markerTimeout  = "[mock-timeout]"
	markerCanceled = "[mock-canceled]"
	markerFail     = "[mock-fail]"
	markerVerify   = "[verify-fail]"
	markerAsync    = "[mock-async]"
)

// MockAdapter resolves tasks deterministically from goal markers, without
// any external service. [mock-async] returns one non-terminal response
// and succeeds on resume, so the external-job resume path can be driven
// locally.
type MockAdapter struct{}

// NewMockAdapter returns the deterministic adapter.
func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) RunImplement(ctx context.Context, input *TaskInput) (*Response, error) {
	return a.run(ctx, PhaseImplement, input)
}

func (a *MockAdapter) RunVerify(ctx context.Context, input *TaskInput) (*Response, error) {
	return a.run(ctx, PhaseVerify, input)
}

func (a *MockAdapter) run(_ context.Context, phase string, input *TaskInput) (*Response, error) {
	if input == nil {
		return nil, newError(CategoryConfig, "mock "+phase, fmt.Errorf("input is required"))
	}

	attempt := nextAttempt(input.Resume)
	goal := input.Goal

	if strings.Contains(goal, markerAsync) {
		if input.Resume == nil {
			ref := fmt.Sprintf("mockjob_%s_%s", input.RunID, phase)
			return &Response{
				Summary:     fmt.Sprintf("Mock %s job submitted for %s/%s#%d", phase, input.Repo.Owner, input.Repo.Name, input.IssueNumber),
				ExternalRef: ref,
				Metadata:    newMetadata(phase, ModeMock, attempt, "running"),
			}, nil
		}
		return &Response{
			Outcome:     outcomePtr(station.OutcomeSucceeded),
			Summary:     fmt.Sprintf("Mock %s job %s completed on resume", phase, input.Resume.ExternalRef),
			ExternalRef: input.Resume.ExternalRef,
			Metadata:    newMetadata(phase, ModeMock, attempt, "succeeded"),
		}, nil
	}

	outcome := station.OutcomeSucceeded
	switch {
	case strings.Contains(goal, markerTimeout):
		outcome = station.OutcomeTimeout
	case strings.Contains(goal, markerCanceled):
		outcome = station.OutcomeCanceled
	case strings.Contains(goal, markerFail):
		outcome = station.OutcomeFailed
	case phase == PhaseVerify && strings.Contains(goal, markerVerify):
		outcome = station.OutcomeFailed
	}

	summary := fmt.Sprintf("Mock %s %s for %s/%s#%d", phase, outcome, input.Repo.Owner, input.Repo.Name, input.IssueNumber)
	return &Response{
		Outcome:    outcomePtr(outcome),
		Summary:    summary,
		Metadata:   newMetadata(phase, ModeMock, attempt, outcome),
		LogsInline: fmt.Sprintf("mock %s run: %s\n", phase, outcome),
	}, nil
}
