// Package core provides the notification delivery engine: the quiet-hours
// policy, the batch processor that drains the queue, and the metrics surface.
// It centralizes state management and gating so every invocation path (cron,
// internal HTTP trigger, local one-shot) behaves identically.
package core

import (
	"context"
	"time"

	"polly/internal/types"
)

// QueueStore is the subset of the queue repository the processor needs.
// Depending on this narrow interface keeps the processor testable with
// lightweight mocks.
type QueueStore interface {
	// ClaimDueBatch atomically moves up to limit due entries from 'scheduled'
	// to 'processing' and returns them, oldest fire time first.
	ClaimDueBatch(ctx context.Context, now time.Time, limit int) ([]*types.QueueEntry, error)

	// MarkSent/MarkFailed/MarkCancelled finalize a claimed entry. Guarded:
	// they only apply to entries in 'processing'.
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, at time.Time) error
	MarkCancelled(ctx context.Context, id string, at time.Time) error

	// Reschedule pushes a claimed entry back to 'scheduled' with a new fire
	// time. Used for quiet-hours deferral.
	Reschedule(ctx context.Context, id string, newTime time.Time) error
}

// LedgerStore records delivery attempts.
type LedgerStore interface {
	Create(ctx context.Context, n *types.EmailNotification) error
}

// PreferenceStore resolves a user's notification preferences, substituting
// system defaults when the user has no stored row.
type PreferenceStore interface {
	Get(ctx context.Context, userID string) (*types.NotificationPreferences, bool, error)
}

// UserDirectory resolves recipient identity. Resolution happens at dispatch
// time so email and display-name changes after scheduling are honored.
type UserDirectory interface {
	GetByID(ctx context.Context, id string) (*types.User, error)
}

// Renderer produces a provider-ready email for a notification type.
type Renderer interface {
	Render(t types.NotificationType, data types.TemplateData) (*types.RenderedEmail, error)
}

// EmailSender delivers one rendered message and returns the provider's
// message ID on success.
type EmailSender interface {
	Send(ctx context.Context, msg types.EmailMessage) (providerMessageID string, err error)
}

// BatchResult summarizes one processor run.
type BatchResult struct {
	// Claimed is the number of due entries the run took ownership of.
	Claimed int `json:"claimed"`
	// Sent were delivered and recorded on the ledger.
	Sent int `json:"sent"`
	// Failed hit a permanent error (recipient missing, render error,
	// provider rejection); each has a ledger row with the reason.
	Failed int `json:"failed"`
	// Skipped were cancelled by dispatch-time preference re-check or pushed
	// past quiet hours; no ledger row is written for them.
	Skipped int `json:"skipped"`
}

// MetricResult categorizes a delivery outcome for metrics reporting.
type MetricResult string

const (
	MetricSent    MetricResult = "sent"
	MetricFailed  MetricResult = "failed"
	MetricSkipped MetricResult = "skipped"
)

// NotificationMetrics abstracts CloudWatch/telemetry operations for the
// notification system. Implementations must never fail the delivery path;
// metric errors are logged and swallowed.
type NotificationMetrics interface {
	// RecordDelivery counts one outcome for a notification type.
	RecordDelivery(ctx context.Context, t types.NotificationType, result MetricResult)

	// RecordLatency records wall time for one entry's dispatch.
	RecordLatency(ctx context.Context, t types.NotificationType, duration time.Duration)

	// RecordQueueLag records how far past its fire time an entry was claimed.
	RecordQueueLag(ctx context.Context, lag time.Duration)
}
