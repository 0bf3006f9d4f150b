// Package jobstatus is the client for the external generation provider's job
// API: submitting jobs and reading their authoritative status.
package jobstatus

import "context"

// State is the provider-side lifecycle of a job.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// ErrorCodeJobNotFound marks a status synthesized from a provider 404.
const ErrorCodeJobNotFound = "job_not_found"

// Metrics carries provider timing information.
type Metrics struct {
	TotalTimeSeconds float64
}

// Status is the provider's view of one job. Output may be empty even when
// State is StateSucceeded.
type Status struct {
	JobID     string
	State     State
	Output    []string
	Error     string
	ErrorCode string
	Metrics   *Metrics
}

// Pending reports whether the provider is still working on the job.
func (s *Status) Pending() bool {
	return s != nil && (s.State == StateQueued || s.State == StateRunning)
}

// NotFound reports whether the provider does not know the job.
func (s *Status) NotFound() bool {
	return s != nil && s.ErrorCode == ErrorCodeJobNotFound
}

// Fetcher is implemented by Client and used by the recovery orchestrator.
type Fetcher interface {
	GetStatus(ctx context.Context, jobID string) (*Status, error)
}

// Submitter is implemented by Client and used by the submission service.
type Submitter interface {
	Submit(ctx context.Context, req SubmitRequest) (string, error)
}

var (
	_ Fetcher   = (*Client)(nil)
	_ Submitter = (*Client)(nil)
)
