package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"polly/internal/types"
)

// LedgerRepository provides data access for the email_notifications table:
// the append-only delivery history. One row per send attempt; a retried queue
// entry produces multiple rows. Rows are never deleted, and once an outcome
// is recorded only the engagement columns may change.
type LedgerRepository struct {
	db DBTX
}

// NewLedgerRepository creates a new LedgerRepository backed by the given
// database connection (pool or transaction).
func NewLedgerRepository(db DBTX) *LedgerRepository {
	return &LedgerRepository{db: db}
}

const ledgerColumns = `id, user_id, poll_id, notification_type, email_address,
	subject, template_name, template_data, status, sent_at, failed_at,
	retry_count, failure_reason, email_provider_id, opened_at, clicked_at,
	created_at`

// Create inserts one delivery-attempt row. The caller sets the outcome fields
// (Status, SentAt or FailedAt, FailureReason, ProviderMessageID) before
// calling; the row is immutable afterwards apart from engagement tracking.
func (r *LedgerRepository) Create(ctx context.Context, n *types.EmailNotification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}

	row := r.db.QueryRow(ctx,
		`INSERT INTO email_notifications
		 (id, user_id, poll_id, notification_type, email_address, subject,
		  template_name, template_data, status, sent_at, failed_at,
		  retry_count, failure_reason, email_provider_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW())
		 RETURNING created_at`,
		n.ID,
		n.UserID,
		n.PollID,
		string(n.Type),
		n.EmailAddress,
		n.Subject,
		n.TemplateName,
		n.TemplateData,
		string(n.Status),
		nilIfZeroTime(n.SentAt),
		nilIfZeroTime(n.FailedAt),
		n.RetryCount,
		nilIfEmpty(n.FailureReason),
		nilIfEmpty(n.ProviderMessageID),
	)
	if err := row.Scan(&n.CreatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create email notification record", err)
	}
	return nil
}

// ListByUser returns a user's delivery history, newest first, with
// cursor-based pagination. The cursor is the created_at timestamp of the last
// item on the previous page (RFC3339Nano). Uses the limit+1 strategy to
// detect whether more pages exist.
func (r *LedgerRepository) ListByUser(ctx context.Context, userID string, page types.PageInfo) ([]*types.EmailNotification, types.PageInfo, error) {
	limit := page.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	query := `SELECT ` + ledgerColumns + `
		 FROM email_notifications
		 WHERE user_id = $1`
	args := []any{userID}

	if page.NextCursor != "" {
		cursorTime, err := time.Parse(time.RFC3339Nano, page.NextCursor)
		if err != nil {
			return nil, types.PageInfo{}, types.NewAppError(
				types.ErrCodeValidationMissingField,
				"invalid cursor format; expected RFC3339 timestamp",
				err,
			)
		}
		query += ` AND created_at < $2`
		args = append(args, cursorTime)
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit+1)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "failed to list email notifications", err)
	}
	defer rows.Close()

	var results []*types.EmailNotification
	for rows.Next() {
		n, scanErr := scanLedgerRow(rows)
		if scanErr != nil {
			return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "failed to scan email notification row", scanErr)
		}
		results = append(results, n)
	}
	if err := rows.Err(); err != nil {
		return nil, types.PageInfo{}, types.NewAppError(types.ErrCodeInternalDB, "error iterating email notification rows", err)
	}

	pageInfo := types.PageInfo{}
	if len(results) > limit {
		pageInfo.HasMore = true
		pageInfo.NextCursor = results[limit-1].CreatedAt.Format(time.RFC3339Nano)
		results = results[:limit]
	}

	return results, pageInfo, nil
}

// MarkOpened records the first open event from the provider webhook.
// Subsequent opens are ignored (opened_at keeps the first timestamp).
func (r *LedgerRepository) MarkOpened(ctx context.Context, providerMessageID string, at time.Time) error {
	return r.markEngagement(ctx, "opened_at", providerMessageID, at)
}

// MarkClicked records the first click event from the provider webhook.
func (r *LedgerRepository) MarkClicked(ctx context.Context, providerMessageID string, at time.Time) error {
	return r.markEngagement(ctx, "clicked_at", providerMessageID, at)
}

func (r *LedgerRepository) markEngagement(ctx context.Context, column string, providerMessageID string, at time.Time) error {
	// column is one of two compile-time constants, never user input.
	tag, err := r.db.Exec(ctx,
		`UPDATE email_notifications SET `+column+` = $2
		 WHERE email_provider_id = $1 AND `+column+` IS NULL`,
		providerMessageID,
		at,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to record engagement event", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundLedger,
			"no email notification found for provider message ID", nil)
	}
	return nil
}

// CountRecentFailures returns the number of failed attempts for a user within
// the window. Used by operational tooling to spot recipients with persistent
// delivery problems.
func (r *LedgerRepository) CountRecentFailures(ctx context.Context, userID string, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM email_notifications
		 WHERE user_id = $1 AND status = 'failed' AND created_at >= $2`,
		userID,
		since,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count recent failures", err)
	}
	return count, nil
}

// scanLedgerRow scans one email_notifications row. Column order must match
// ledgerColumns.
func scanLedgerRow(rows pgx.Rows) (*types.EmailNotification, error) {
	var (
		n             types.EmailNotification
		notifType     string
		status        string
		sentAt        *time.Time
		failedAt      *time.Time
		failureReason *string
		providerID    *string
		openedAt      *time.Time
		clickedAt     *time.Time
	)

	err := rows.Scan(
		&n.ID,
		&n.UserID,
		&n.PollID,
		&notifType,
		&n.EmailAddress,
		&n.Subject,
		&n.TemplateName,
		&n.TemplateData,
		&status,
		&sentAt,
		&failedAt,
		&n.RetryCount,
		&failureReason,
		&providerID,
		&openedAt,
		&clickedAt,
		&n.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	n.Type = types.NotificationType(notifType)
	n.Status = types.LedgerStatus(status)
	if sentAt != nil {
		n.SentAt = *sentAt
	}
	if failedAt != nil {
		n.FailedAt = *failedAt
	}
	if failureReason != nil {
		n.FailureReason = *failureReason
	}
	if providerID != nil {
		n.ProviderMessageID = *providerID
	}
	if openedAt != nil {
		n.OpenedAt = *openedAt
	}
	if clickedAt != nil {
		n.ClickedAt = *clickedAt
	}
	return &n, nil
}
