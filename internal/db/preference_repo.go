package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"polly/internal/types"
)

// PreferenceRepository provides data access for the notification_preferences
// table. One row per user; absence of a row means the system defaults apply.
type PreferenceRepository struct {
	db DBTX
}

// NewPreferenceRepository creates a new PreferenceRepository backed by the
// given database connection (pool or transaction).
func NewPreferenceRepository(db DBTX) *PreferenceRepository {
	return &PreferenceRepository{db: db}
}

// preferenceColumns is the canonical column list for preference scans. The
// TIME columns are cast to text so they scan into plain strings.
const preferenceColumns = `user_id, email_enabled, poll_closing_24h, poll_closing_1h,
	poll_closed_immediately, new_poll_notifications, voting_reminders,
	results_announcements, admin_notifications, frequency,
	quiet_hours_start::text, quiet_hours_end::text, timezone, created_at, updated_at`

// Get returns the user's stored preferences, or the system defaults when no
// row exists. The defaults are NOT persisted on read; rows are only written
// by Upsert. The second return value reports whether a stored row was found.
func (r *PreferenceRepository) Get(ctx context.Context, userID string) (*types.NotificationPreferences, bool, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+preferenceColumns+`
		 FROM notification_preferences
		 WHERE user_id = $1`,
		userID,
	)

	p, err := scanPreferences(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			defaults := types.DefaultPreferences(userID)
			return &defaults, false, nil
		}
		return nil, false, types.NewAppError(types.ErrCodeInternalDB, "failed to get notification preferences", err)
	}
	return p, true, nil
}

// Upsert validates and writes the full preferences row, creating it if absent.
// Preferences are replaced wholesale; partial updates are resolved by the
// handler layer merging into the current (or default) record first.
func (r *PreferenceRepository) Upsert(ctx context.Context, p *types.NotificationPreferences) error {
	if err := p.Validate(); err != nil {
		return err
	}

	row := r.db.QueryRow(ctx,
		`INSERT INTO notification_preferences
		 (user_id, email_enabled, poll_closing_24h, poll_closing_1h,
		  poll_closed_immediately, new_poll_notifications, voting_reminders,
		  results_announcements, admin_notifications, frequency,
		  quiet_hours_start, quiet_hours_end, timezone, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
		 ON CONFLICT (user_id) DO UPDATE SET
		   email_enabled = EXCLUDED.email_enabled,
		   poll_closing_24h = EXCLUDED.poll_closing_24h,
		   poll_closing_1h = EXCLUDED.poll_closing_1h,
		   poll_closed_immediately = EXCLUDED.poll_closed_immediately,
		   new_poll_notifications = EXCLUDED.new_poll_notifications,
		   voting_reminders = EXCLUDED.voting_reminders,
		   results_announcements = EXCLUDED.results_announcements,
		   admin_notifications = EXCLUDED.admin_notifications,
		   frequency = EXCLUDED.frequency,
		   quiet_hours_start = EXCLUDED.quiet_hours_start,
		   quiet_hours_end = EXCLUDED.quiet_hours_end,
		   timezone = EXCLUDED.timezone,
		   updated_at = NOW()
		 RETURNING created_at, updated_at`,
		p.UserID,
		p.EmailEnabled,
		p.PollClosing24h,
		p.PollClosing1h,
		p.PollClosedImmediately,
		p.NewPollNotifications,
		p.VotingReminders,
		p.ResultsAnnouncements,
		p.AdminNotifications,
		string(p.Frequency),
		p.QuietHoursStart.String(),
		p.QuietHoursEnd.String(),
		p.Timezone,
	)
	if err := row.Scan(&p.CreatedAt, &p.UpdatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to upsert notification preferences", err)
	}
	return nil
}

// ListNewPollSubscribers returns the IDs of users who opted in to new-poll
// announcements. The flag defaults to off, so only stored rows can qualify
// and no default-row synthesis is needed.
func (r *PreferenceRepository) ListNewPollSubscribers(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT user_id FROM notification_preferences
		 WHERE new_poll_notifications = TRUE AND email_enabled = TRUE`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list new-poll subscribers", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan subscriber row", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating subscriber rows", err)
	}
	return ids, nil
}

// GetMany returns stored preferences for the given user IDs keyed by user ID.
// Users without a stored row are absent from the map; callers substitute
// defaults. Used by the scheduler to gate a recipient set in one round trip.
func (r *PreferenceRepository) GetMany(ctx context.Context, userIDs []string) (map[string]*types.NotificationPreferences, error) {
	result := make(map[string]*types.NotificationPreferences, len(userIDs))
	if len(userIDs) == 0 {
		return result, nil
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+preferenceColumns+`
		 FROM notification_preferences
		 WHERE user_id = ANY($1)`,
		userIDs,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get notification preferences batch", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanPreferences(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan preferences row", err)
		}
		result[p.UserID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating preferences rows", err)
	}
	return result, nil
}

// scanPreferences scans one notification_preferences row from either a
// pgx.Row or pgx.Rows. Column order must match preferenceColumns. The TIME
// columns arrive as strings ("HH:MM:SS") and are parsed into TimeOfDay.
func scanPreferences(row pgx.Row) (*types.NotificationPreferences, error) {
	var (
		p          types.NotificationPreferences
		frequency  string
		quietStart string
		quietEnd   string
	)

	err := row.Scan(
		&p.UserID,
		&p.EmailEnabled,
		&p.PollClosing24h,
		&p.PollClosing1h,
		&p.PollClosedImmediately,
		&p.NewPollNotifications,
		&p.VotingReminders,
		&p.ResultsAnnouncements,
		&p.AdminNotifications,
		&frequency,
		&quietStart,
		&quietEnd,
		&p.Timezone,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Frequency = types.Frequency(frequency)
	if p.QuietHoursStart, err = types.ParseTimeOfDay(quietStart); err != nil {
		return nil, err
	}
	if p.QuietHoursEnd, err = types.ParseTimeOfDay(quietEnd); err != nil {
		return nil, err
	}
	return &p, nil
}
