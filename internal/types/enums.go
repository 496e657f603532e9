package types

// NotificationType identifies the kind of notification event.
type NotificationType string

const (
	NotificationPollClosing24h      NotificationType = "poll_closing_24h"
	NotificationPollClosing1h       NotificationType = "poll_closing_1h"
	NotificationPollClosed          NotificationType = "poll_closed"
	NotificationNewPoll             NotificationType = "new_poll"
	NotificationVotingReminder      NotificationType = "voting_reminder"
	NotificationResultsAnnouncement NotificationType = "results_announcement"
	NotificationAdminAnnouncement   NotificationType = "admin_announcement"
)

// AllNotificationTypes lists every valid notification type. Used by validators
// and by the template renderer to verify coverage at startup.
var AllNotificationTypes = []NotificationType{
	NotificationPollClosing24h,
	NotificationPollClosing1h,
	NotificationPollClosed,
	NotificationNewPoll,
	NotificationVotingReminder,
	NotificationResultsAnnouncement,
	NotificationAdminAnnouncement,
}

// QueueStatus enumerates all valid states for a notification queue entry.
// These values MUST match the CHECK constraint on the notification_queue table.
//
// Transitions are one-directional (scheduled -> processing -> sent/failed/
// cancelled) with a single exception: processing -> scheduled, used when a
// claimed entry is pushed back past the recipient's quiet hours.
type QueueStatus string

const (
	QueueStatusScheduled  QueueStatus = "scheduled"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusSent       QueueStatus = "sent"
	QueueStatusFailed     QueueStatus = "failed"
	QueueStatusCancelled  QueueStatus = "cancelled"
)

// Terminal reports whether the status is a final state that the delivery
// processor may never mutate again.
func (s QueueStatus) Terminal() bool {
	switch s {
	case QueueStatusSent, QueueStatusFailed, QueueStatusCancelled:
		return true
	}
	return false
}

// LedgerStatus enumerates the states recorded on a delivery-history row.
// A ledger row describes a single send attempt; "retry" is reserved for an
// explicit re-enqueue flow and is never set by the automatic processor.
type LedgerStatus string

const (
	LedgerStatusPending LedgerStatus = "pending"
	LedgerStatusSent    LedgerStatus = "sent"
	LedgerStatusFailed  LedgerStatus = "failed"
	LedgerStatusRetry   LedgerStatus = "retry"
)

// Frequency controls how often a user receives notification email.
type Frequency string

const (
	FrequencyImmediate Frequency = "immediate"
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
)

// ValidFrequency reports whether f is one of the known frequency values.
func ValidFrequency(f Frequency) bool {
	switch f {
	case FrequencyImmediate, FrequencyDaily, FrequencyWeekly:
		return true
	}
	return false
}
