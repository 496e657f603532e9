// Package types defines the domain model shared by every Polly package:
// entities, enums, the AppError taxonomy, and the small interfaces (Clock,
// Logger) that keep time and logging injectable.
package types

import (
	"fmt"
	"time"
)

// TimeOfDay is a wall-clock time with no date component. It is stored as a
// Postgres TIME column and compared in minutes-since-midnight space by the
// quiet-hours evaluator. Seconds are carried for storage fidelity but ignored
// by window comparisons.
type TimeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
	Second int `json:"second"`
}

// Minutes returns the minutes-since-midnight representation used for
// quiet-hours window comparison.
func (t TimeOfDay) Minutes() int {
	return t.Hour*60 + t.Minute
}

// String renders the time as "HH:MM:SS".
func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// NotificationPreferences holds one user's notification settings. Exactly one
// row exists per user; absence of a row means DefaultPreferences applies. Rows
// are created lazily on first read-through or explicitly on registration, and
// mutated only by the owning user.
type NotificationPreferences struct {
	UserID string `json:"user_id"`

	// EmailEnabled is the master switch. When false every queued entry for
	// the user is cancelled at dispatch time regardless of per-type flags.
	EmailEnabled bool `json:"email_enabled"`

	PollClosing24h        bool `json:"poll_closing_24h"`
	PollClosing1h         bool `json:"poll_closing_1h"`
	PollClosedImmediately bool `json:"poll_closed_immediately"`
	NewPollNotifications  bool `json:"new_poll_notifications"`
	VotingReminders       bool `json:"voting_reminders"`
	ResultsAnnouncements  bool `json:"results_announcements"`
	AdminNotifications    bool `json:"admin_notifications"`

	Frequency Frequency `json:"frequency"`

	// Quiet hours are interpreted as wall-clock times in Timezone. The window
	// may wrap past midnight (start > end, e.g. 22:00-08:00).
	QuietHoursStart TimeOfDay `json:"quiet_hours_start"`
	QuietHoursEnd   TimeOfDay `json:"quiet_hours_end"`
	Timezone        string    `json:"timezone"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultPreferences returns the system-wide defaults applied to users with no
// stored preferences row: email enabled, closing/closed/reminders/results on,
// new-poll and admin off, immediate frequency, quiet hours 22:00-08:00 UTC.
func DefaultPreferences(userID string) NotificationPreferences {
	return NotificationPreferences{
		UserID:                userID,
		EmailEnabled:          true,
		PollClosing24h:        true,
		PollClosing1h:         true,
		PollClosedImmediately: true,
		NewPollNotifications:  false,
		VotingReminders:       true,
		ResultsAnnouncements:  true,
		AdminNotifications:    false,
		Frequency:             FrequencyImmediate,
		QuietHoursStart:       TimeOfDay{Hour: 22},
		QuietHoursEnd:         TimeOfDay{Hour: 8},
		Timezone:              "UTC",
	}
}

// TypeEnabled reports whether the per-type flag for the given notification
// type is on. The EmailEnabled master switch is checked separately by callers
// so that gating decisions can be logged distinctly.
func (p *NotificationPreferences) TypeEnabled(t NotificationType) bool {
	switch t {
	case NotificationPollClosing24h:
		return p.PollClosing24h
	case NotificationPollClosing1h:
		return p.PollClosing1h
	case NotificationPollClosed:
		return p.PollClosedImmediately
	case NotificationNewPoll:
		return p.NewPollNotifications
	case NotificationVotingReminder:
		return p.VotingReminders
	case NotificationResultsAnnouncement:
		return p.ResultsAnnouncements
	case NotificationAdminAnnouncement:
		return p.AdminNotifications
	}
	return false
}

// TemplateData is the opaque structured payload attached to a queue entry and
// merged into the render call at dispatch time. Stored as JSONB.
type TemplateData map[string]any

// QueueEntry is a single scheduled future notification: one (recipient, poll,
// type) awaiting dispatch. Created by the scheduler, mutated only by the
// delivery processor, never deleted (terminal states are retained for audit).
type QueueEntry struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`

	// PollID is empty for notification types that are not poll-scoped
	// (e.g. admin announcements).
	PollID string `json:"poll_id,omitempty"`

	Type         NotificationType `json:"notification_type"`
	ScheduledFor time.Time        `json:"scheduled_for"`
	Status       QueueStatus      `json:"status"`
	TemplateData TemplateData     `json:"template_data,omitempty"`

	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	ProcessedAt time.Time `json:"processed_at,omitzero"`
}

// EmailNotification is one ledger row: a single delivery attempt. A retried
// queue entry produces multiple ledger rows. Immutable once SentAt or FailedAt
// is set, except for the engagement fields (OpenedAt/ClickedAt).
type EmailNotification struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	PollID string `json:"poll_id,omitempty"`

	Type         NotificationType `json:"notification_type"`
	EmailAddress string           `json:"email_address"`
	Subject      string           `json:"subject"`
	TemplateName string           `json:"template_name"`
	TemplateData TemplateData     `json:"template_data,omitempty"`

	Status        LedgerStatus `json:"status"`
	SentAt        time.Time    `json:"sent_at,omitzero"`
	FailedAt      time.Time    `json:"failed_at,omitzero"`
	RetryCount    int          `json:"retry_count"`
	FailureReason string       `json:"failure_reason,omitempty"`

	// ProviderMessageID is the email provider's message ID, set on success.
	ProviderMessageID string `json:"email_provider_id,omitempty"`

	// Engagement tracking, populated by provider webhooks.
	OpenedAt  time.Time `json:"opened_at,omitzero"`
	ClickedAt time.Time `json:"clicked_at,omitzero"`

	CreatedAt time.Time `json:"created_at"`
}

// Poll is the subset of the poll entity the notification core needs. The poll
// CRUD layer owns the full record.
type Poll struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	Options   []string  `json:"options"`
	CreatorID string    `json:"creator_id"`
	EndTime   time.Time `json:"end_time,omitzero"` // zero = poll never closes
	CreatedAt time.Time `json:"created_at"`
}

// PageInfo carries cursor-based pagination state for list responses. The
// cursor is an opaque RFC3339 timestamp of the last item on the page.
type PageInfo struct {
	HasMore    bool   `json:"has_more"`
	NextCursor string `json:"next_cursor,omitempty"`

	// Limit is a caller-supplied page size hint. Zero means the store default.
	Limit int `json:"-"`
}

// User is the recipient view resolved from the user directory at dispatch
// time, so display-name changes between scheduling and sending are reflected.
type User struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
}
