package reconcile

import (
	"strings"
	"testing"
	"time"

	"mediarecon/internal/domain"
	"mediarecon/internal/providers/jobstatus"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func processing(age time.Duration) domain.Generation {
	return domain.Generation{
		ID:        "G1",
		UserID:    "u1",
		Kind:      domain.KindPhoto,
		JobID:     domain.StringPtr("J1"),
		Status:    domain.StatusProcessing,
		CreatedAt: now.Add(-age),
	}
}

func TestReconcileTimeoutWithoutProviderResponse(t *testing.T) {
	d := New(0).Reconcile(processing(11*time.Minute), nil, now)
	if d.Status != domain.StatusFailed || !d.Changed {
		t.Fatalf("expected FAILED, got %#v", d)
	}
	if d.Patch.ErrorMessage == nil || !strings.Contains(*d.Patch.ErrorMessage, "timeout") {
		t.Fatalf("error message must mention timeout, got %v", d.Patch.ErrorMessage)
	}
	if d.Patch.CompletedAt == nil || !d.Patch.CompletedAt.Equal(now) {
		t.Fatalf("completed_at must be set on failure")
	}
	if d.Patch.ExpectStatus == nil || *d.Patch.ExpectStatus != domain.StatusProcessing {
		t.Fatalf("patch must be guarded by the previous status")
	}
}

func TestReconcileTimeoutWhenProviderStillRunning(t *testing.T) {
	d := New(10*time.Minute).Reconcile(processing(11*time.Minute), &jobstatus.Status{State: jobstatus.StateRunning}, now)
	if d.Status != domain.StatusFailed {
		t.Fatalf("expected timeout failure, got %s", d.Status)
	}
}

func TestReconcileLateSuccessBeatsTimeout(t *testing.T) {
	d := New(0).Reconcile(processing(30*time.Minute), &jobstatus.Status{State: jobstatus.StateSucceeded, Output: []string{"https://ephemeral.example/a.png"}}, now)
	if d.Status != domain.StatusCompleted {
		t.Fatalf("provider success must win over timeout, got %s", d.Status)
	}
}

func TestReconcileTransitions(t *testing.T) {
	tests := []struct {
		name      string
		status    *jobstatus.Status
		want      domain.Status
		changed   bool
		wantError string
	}{
		{
			name:    "succeeded with output",
			status:  &jobstatus.Status{State: jobstatus.StateSucceeded, Output: []string{"https://ephemeral.example/a.png", "https://ephemeral.example/b.png"}},
			want:    domain.StatusCompleted,
			changed: true,
		},
		{
			name:      "succeeded empty output",
			status:    &jobstatus.Status{State: jobstatus.StateSucceeded, Output: []string{}},
			want:      domain.StatusFailed,
			changed:   true,
			wantError: MsgEmptyOutput,
		},
		{
			name:      "succeeded nil output",
			status:    &jobstatus.Status{State: jobstatus.StateSucceeded},
			want:      domain.StatusFailed,
			changed:   true,
			wantError: MsgEmptyOutput,
		},
		{
			name:      "failed with message",
			status:    &jobstatus.Status{State: jobstatus.StateFailed, Error: "NSFW content detected"},
			want:      domain.StatusFailed,
			changed:   true,
			wantError: "NSFW content detected",
		},
		{
			name:      "failed without message",
			status:    &jobstatus.Status{State: jobstatus.StateFailed},
			want:      domain.StatusFailed,
			changed:   true,
			wantError: MsgProviderFailed,
		},
		{
			name:      "job not found",
			status:    &jobstatus.Status{State: jobstatus.StateFailed, ErrorCode: jobstatus.ErrorCodeJobNotFound, Error: "404"},
			want:      domain.StatusFailed,
			changed:   true,
			wantError: MsgJobNotFound,
		},
		{
			name:   "queued",
			status: &jobstatus.Status{State: jobstatus.StateQueued},
			want:   domain.StatusProcessing,
		},
		{
			name:   "running",
			status: &jobstatus.Status{State: jobstatus.StateRunning},
			want:   domain.StatusProcessing,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := New(0).Reconcile(processing(2*time.Minute), tc.status, now)
			if d.Status != tc.want || d.Changed != tc.changed {
				t.Fatalf("got status=%s changed=%v, want %s/%v", d.Status, d.Changed, tc.want, tc.changed)
			}
			if !tc.changed && !d.Patch.Empty() {
				t.Fatalf("unchanged decision must carry an empty patch")
			}
			if tc.wantError != "" {
				if d.Patch.ErrorMessage == nil || *d.Patch.ErrorMessage != tc.wantError {
					t.Fatalf("error = %v, want %q", d.Patch.ErrorMessage, tc.wantError)
				}
			}
		})
	}
}

func TestReconcileSuccessPatch(t *testing.T) {
	status := &jobstatus.Status{
		State:   jobstatus.StateSucceeded,
		Output:  []string{"https://ephemeral.example/b.png", " ", "https://ephemeral.example/a.png"},
		Metrics: &jobstatus.Metrics{TotalTimeSeconds: 12.5},
	}
	rec := processing(time.Minute)
	rec.ErrorMessage = domain.StringPtr("old")
	d := New(0).Reconcile(rec, status, now)
	p := d.Patch
	if len(p.MediaURLs) != 2 || p.MediaURLs[0] != "https://ephemeral.example/b.png" || p.MediaURLs[1] != "https://ephemeral.example/a.png" {
		t.Fatalf("media order not preserved: %#v", p.MediaURLs)
	}
	if p.ProcessingTimeMs == nil || *p.ProcessingTimeMs != 12500 {
		t.Fatalf("processing time = %v, want 12500", p.ProcessingTimeMs)
	}
	if !p.ClearError {
		t.Fatalf("success must clear the error message")
	}
	if p.StorageProvider != nil || p.StorageKeys != nil {
		t.Fatalf("reconciler must never write storage fields")
	}
}

func TestReconcileNoOps(t *testing.T) {
	completed := processing(time.Hour)
	completed.Status = domain.StatusCompleted
	failed := processing(time.Hour)
	failed.Status = domain.StatusFailed
	noJob := processing(time.Hour)
	noJob.JobID = nil
	pendingNoJob := noJob
	pendingNoJob.Status = domain.StatusPending

	success := &jobstatus.Status{State: jobstatus.StateSucceeded, Output: []string{"https://x/a.png"}}
	for name, rec := range map[string]domain.Generation{
		"completed":      completed,
		"failed":         failed,
		"no job":         noJob,
		"pending no job": pendingNoJob,
	} {
		d := New(0).Reconcile(rec, success, now)
		if d.Changed || d.Status != rec.Status || !d.Patch.Empty() {
			t.Fatalf("%s: expected no-op, got %#v", name, d)
		}
	}
}

func TestReconcilePendingWithJobMovesToProcessing(t *testing.T) {
	rec := processing(time.Minute)
	rec.Status = domain.StatusPending
	d := New(0).Reconcile(rec, &jobstatus.Status{State: jobstatus.StateRunning}, now)
	if d.Status != domain.StatusProcessing || !d.Changed {
		t.Fatalf("expected PROCESSING, got %#v", d)
	}
}

func TestRepairRestoresMediaOnly(t *testing.T) {
	rec := processing(time.Hour)
	rec.Status = domain.StatusCompleted
	d := New(0).Repair(rec, &jobstatus.Status{State: jobstatus.StateSucceeded, Output: []string{"https://ephemeral.example/a.png"}})
	if !d.Changed || d.Status != domain.StatusCompleted {
		t.Fatalf("expected media repair, got %#v", d)
	}
	if d.Patch.Status != nil || d.Patch.CompletedAt != nil {
		t.Fatalf("repair must not touch status or completion time")
	}
	if len(d.Patch.MediaURLs) != 1 {
		t.Fatalf("repair must restore media, got %#v", d.Patch.MediaURLs)
	}

	d = New(0).Repair(rec, &jobstatus.Status{State: jobstatus.StateFailed})
	if d.Changed {
		t.Fatalf("failed provider status must not rewrite a completed record")
	}
}
