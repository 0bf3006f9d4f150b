// Package reconcile decides the next local state of a generation record from
// the provider's authoritative job status.
package reconcile

import (
	"strings"
	"time"

	"mediarecon/internal/domain"
	"mediarecon/internal/providers/jobstatus"
)

// DefaultTimeout is how long a record may stay PROCESSING before it is failed
// without consulting the provider.
const DefaultTimeout = 10 * time.Minute

const (
	MsgTimeout        = "generation timeout — no response after threshold; provider may be degraded; retry generation."
	MsgEmptyOutput    = "provider reported success with no output"
	MsgJobNotFound    = "provider job not found"
	MsgProviderFailed = "generation failed at provider"
)

// Decision is the outcome of reconciling one record.
type Decision struct {
	Status  domain.Status
	Patch   domain.GenerationPatch
	Changed bool
	Reason  string
}

// Reconciler holds the timing policy.
type Reconciler struct {
	Timeout time.Duration
}

// New returns a Reconciler; a non-positive timeout selects DefaultTimeout.
func New(timeout time.Duration) Reconciler {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return Reconciler{Timeout: timeout}
}

// TimedOut reports whether rec has been in flight longer than the timeout.
func (r Reconciler) TimedOut(rec domain.Generation, now time.Time) bool {
	if rec.Status != domain.StatusProcessing && !(rec.Status == domain.StatusPending && rec.HasJob()) {
		return false
	}
	return now.Sub(rec.CreatedAt) > r.timeout()
}

// Reconcile computes the transition for rec given the provider status (nil
// when no provider query was made or it failed).
func (r Reconciler) Reconcile(rec domain.Generation, status *jobstatus.Status, now time.Time) Decision {
	unchanged := Decision{Status: rec.Status}
	if rec.Status.Terminal() {
		unchanged.Reason = "terminal"
		return unchanged
	}
	if !rec.HasJob() {
		unchanged.Reason = "no job id"
		return unchanged
	}
	if r.TimedOut(rec, now) && (status == nil || status.Pending()) {
		return r.fail(rec, MsgTimeout, now, "timeout")
	}
	if status == nil {
		unchanged.Reason = "no provider status"
		return unchanged
	}

	switch status.State {
	case jobstatus.StateSucceeded:
		urls := cleanURLs(status.Output)
		if len(urls) == 0 {
			return r.fail(rec, MsgEmptyOutput, now, "empty output")
		}
		return r.complete(rec, urls, status.Metrics, now)
	case jobstatus.StateFailed:
		msg := strings.TrimSpace(status.Error)
		switch {
		case status.NotFound():
			msg = MsgJobNotFound
		case msg == "":
			msg = MsgProviderFailed
		}
		return r.fail(rec, msg, now, "provider failed")
	default:
		unchanged.Reason = "provider still " + string(status.State)
		if rec.Status == domain.StatusPending {
			// the job exists upstream; reflect that locally
			next := domain.StatusProcessing
			return Decision{
				Status:  next,
				Changed: true,
				Reason:  unchanged.Reason,
				Patch: domain.GenerationPatch{
					Status:       domain.StatusPtr(next),
					ExpectStatus: domain.StatusPtr(rec.Status),
				},
			}
		}
		return unchanged
	}
}

// Repair restores media on a COMPLETED record that lost its output (a missed
// update). Only a succeeded provider status with output produces a patch; the
// status and completion timestamp are left untouched.
func (r Reconciler) Repair(rec domain.Generation, status *jobstatus.Status) Decision {
	unchanged := Decision{Status: rec.Status}
	if rec.Status != domain.StatusCompleted || len(rec.MediaURLs) > 0 || !rec.HasJob() {
		unchanged.Reason = "not repairable"
		return unchanged
	}
	if status == nil || status.State != jobstatus.StateSucceeded {
		unchanged.Reason = "provider did not report success"
		return unchanged
	}
	urls := cleanURLs(status.Output)
	if len(urls) == 0 {
		unchanged.Reason = MsgEmptyOutput
		return unchanged
	}
	return Decision{
		Status:  rec.Status,
		Changed: true,
		Reason:  "media restored",
		Patch: domain.GenerationPatch{
			MediaURLs:         urls,
			ClearError:        true,
			ExpectStatus:      domain.StatusPtr(domain.StatusCompleted),
			RequireUnmigrated: true,
		},
	}
}

func (r Reconciler) complete(rec domain.Generation, urls []string, metrics *jobstatus.Metrics, now time.Time) Decision {
	next := domain.StatusCompleted
	elapsed := now.Sub(rec.CreatedAt).Milliseconds()
	if metrics != nil && metrics.TotalTimeSeconds > 0 {
		elapsed = int64(metrics.TotalTimeSeconds * 1000)
	}
	completedAt := now
	return Decision{
		Status:  next,
		Changed: true,
		Reason:  "provider succeeded",
		Patch: domain.GenerationPatch{
			Status:           domain.StatusPtr(next),
			MediaURLs:        urls,
			ClearError:       true,
			CompletedAt:      &completedAt,
			ProcessingTimeMs: &elapsed,
			ExpectStatus:     domain.StatusPtr(rec.Status),
		},
	}
}

func (r Reconciler) fail(rec domain.Generation, msg string, now time.Time, reason string) Decision {
	next := domain.StatusFailed
	elapsed := now.Sub(rec.CreatedAt).Milliseconds()
	completedAt := now
	return Decision{
		Status:  next,
		Changed: true,
		Reason:  reason,
		Patch: domain.GenerationPatch{
			Status:           domain.StatusPtr(next),
			ErrorMessage:     domain.StringPtr(msg),
			CompletedAt:      &completedAt,
			ProcessingTimeMs: &elapsed,
			ExpectStatus:     domain.StatusPtr(rec.Status),
		},
	}
}

func (r Reconciler) timeout() time.Duration {
	if r.Timeout <= 0 {
		return DefaultTimeout
	}
	return r.Timeout
}

func cleanURLs(in []string) []string {
	out := make([]string, 0, len(in))
	for _, u := range in {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out
}
