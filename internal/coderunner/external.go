package coderunner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/arasmith/signalbox/internal/station"
)

// External job states reported by the runner service.
const (
	JobQueued    = "queued"
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
	JobCanceled  = "canceled"
	JobTimeout   = "timeout"
)

// jobTerminal reports whether an external job state is final.
func jobTerminal(status string) bool {
	switch status {
	case JobSucceeded, JobFailed, JobCanceled, JobTimeout:
		return true
	}
	return false
}

// Handle identifies a submitted external job.
type Handle struct {
	ExternalRef string `json:"externalRef"`
	Status      string `json:"status"`
}

// Result is the final report of a finished external job.
type Result struct {
	Status     string `json:"status"`
	Summary    string `json:"summary"`
	LogsInline string `json:"logsInline,omitempty"`
}

// Transport is the three-operation wire protocol to the runner service.
type Transport interface {
	SubmitJob(ctx context.Context, phase string, input *TaskInput) (*Handle, error)
	GetJobStatus(ctx context.Context, externalRef string) (*Handle, error)
	GetJobResult(ctx context.Context, externalRef string) (*Result, error)
}

// ExternalAdapter drives implement/verify phases through a Transport.
// On resume it polls the existing job; SubmitJob is never called when a
// resume handle is present.
type ExternalAdapter struct {
	transport Transport
}

// NewExternalAdapter wraps a transport.
func NewExternalAdapter(t Transport) *ExternalAdapter {
	return &ExternalAdapter{transport: t}
}

func (a *ExternalAdapter) RunImplement(ctx context.Context, input *TaskInput) (*Response, error) {
	return a.run(ctx, PhaseImplement, input)
}

func (a *ExternalAdapter) RunVerify(ctx context.Context, input *TaskInput) (*Response, error) {
	return a.run(ctx, PhaseVerify, input)
}

func (a *ExternalAdapter) run(ctx context.Context, phase string, input *TaskInput) (*Response, error) {
	if input == nil {
		return nil, newError(CategoryConfig, "external "+phase, fmt.Errorf("input is required"))
	}

	attempt := nextAttempt(input.Resume)

	if input.Resume != nil && input.Resume.ExternalRef != "" {
		return a.resume(ctx, phase, attempt, input.Resume.ExternalRef)
	}

	handle, err := a.transport.SubmitJob(ctx, phase, input)
	if err != nil {
		return nil, err
	}
	if !jobTerminal(handle.Status) {
		return &Response{
			Summary:     fmt.Sprintf("External %s job %s accepted (%s)", phase, handle.ExternalRef, handle.Status),
			ExternalRef: handle.ExternalRef,
			Metadata:    newMetadata(phase, ModeExternal, attempt, handle.Status),
		}, nil
	}
	return a.finish(ctx, phase, attempt, handle.ExternalRef)
}

// resume polls the job referenced by a prior attempt.
func (a *ExternalAdapter) resume(ctx context.Context, phase string, attempt int, ref string) (*Response, error) {
	handle, err := a.transport.GetJobStatus(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !jobTerminal(handle.Status) {
		return &Response{
			Summary:     fmt.Sprintf("External %s job %s still %s", phase, ref, handle.Status),
			ExternalRef: ref,
			Metadata:    newMetadata(phase, ModeExternal, attempt, handle.Status),
		}, nil
	}
	return a.finish(ctx, phase, attempt, ref)
}

// finish fetches and translates the terminal job result.
func (a *ExternalAdapter) finish(ctx context.Context, phase string, attempt int, ref string) (*Response, error) {
	result, err := a.transport.GetJobResult(ctx, ref)
	if err != nil {
		return nil, err
	}

	outcome := mapJobStatus(result.Status)
	summary := result.Summary
	if summary == "" {
		summary = fmt.Sprintf("External %s job %s finished: %s", phase, ref, outcome)
	}
	return &Response{
		Outcome:     outcomePtr(outcome),
		Summary:     summary,
		ExternalRef: ref,
		Metadata:    newMetadata(phase, ModeExternal, attempt, result.Status),
		LogsInline:  result.LogsInline,
	}, nil
}

// mapJobStatus translates a terminal job state to a station outcome.
// Unknown terminal states count as failed.
func mapJobStatus(status string) string {
	switch status {
	case JobSucceeded:
		return station.OutcomeSucceeded
	case JobCanceled:
		return station.OutcomeCanceled
	case JobTimeout:
		return station.OutcomeTimeout
	default:
		return station.OutcomeFailed
	}
}

// HTTPTransport talks to the runner service over HTTP with bearer auth.
type HTTPTransport struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

// NewHTTPTransport validates settings and builds a transport.
func NewHTTPTransport(baseURL, token string, timeout time.Duration) (*HTTPTransport, error) {
	if baseURL == "" {
		return nil, newError(CategoryConfig, "transport", fmt.Errorf("base URL is required"))
	}
	if token == "" {
		return nil, newError(CategoryConfig, "transport", fmt.Errorf("token is required"))
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPTransport{
		BaseURL: baseURL,
		Token:   token,
		Client:  &http.Client{Timeout: timeout},
	}, nil
}

func (t *HTTPTransport) SubmitJob(ctx context.Context, phase string, input *TaskInput) (*Handle, error) {
	body := struct {
		Phase string     `json:"phase"`
		Task  *TaskInput `json:"task"`
	}{Phase: phase, Task: input}

	var handle Handle
	if err := t.do(ctx, http.MethodPost, "/v1/jobs", body, &handle); err != nil {
		return nil, err
	}
	if handle.ExternalRef == "" {
		return nil, newError(CategoryProvider, "submit job", fmt.Errorf("runner returned no externalRef"))
	}
	return &handle, nil
}

func (t *HTTPTransport) GetJobStatus(ctx context.Context, externalRef string) (*Handle, error) {
	var handle Handle
	path := "/v1/jobs/" + url.PathEscape(externalRef)
	if err := t.do(ctx, http.MethodGet, path, nil, &handle); err != nil {
		return nil, err
	}
	return &handle, nil
}

func (t *HTTPTransport) GetJobResult(ctx context.Context, externalRef string) (*Result, error) {
	var result Result
	path := "/v1/jobs/" + url.PathEscape(externalRef) + "/result"
	if err := t.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// do performs one request and decodes the JSON reply, mapping failures
// into the adapter error taxonomy.
func (t *HTTPTransport) do(ctx context.Context, method, path string, body, out interface{}) error {
	op := method + " " + path

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return newError(CategoryConfig, op, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, t.BaseURL+path, reader)
	if err != nil {
		return newError(CategoryConfig, op, err)
	}
	req.Header.Set("Authorization", "Bearer "+t.Token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.Client.Do(req)
	if err != nil {
		return newError(CategoryTransport, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return newError(categorizeStatus(resp.StatusCode), op,
			fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(data)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return newError(CategoryProvider, op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// categorizeStatus maps an HTTP failure status to an error category.
func categorizeStatus(status int) string {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return CategoryAuth
	case status == http.StatusRequestTimeout || status == http.StatusTooManyRequests || status >= 500:
		return CategoryTransport
	default:
		return CategoryProvider
	}
}
