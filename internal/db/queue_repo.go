package db

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"polly/internal/types"
)

// defaultStaleGrace is how far past its fire time an enqueue request may
// arrive before it is rejected as stale.
const defaultStaleGrace = 5 * time.Minute

// queueColumns is the canonical column list for notification_queue scans.
// Keep in sync with scanQueueEntry.
const queueColumns = `id, user_id, poll_id, notification_type, scheduled_for,
	status, template_data, created_at, updated_at, processed_at`

// QueueRepository provides data access for the notification_queue table: the
// set of scheduled future notifications awaiting dispatch.
//
// Entries move scheduled -> processing -> sent/failed/cancelled. The single
// backward transition (processing -> scheduled) happens via Reschedule when a
// claimed entry lands inside the recipient's quiet hours. Terminal rows are
// never mutated or deleted.
type QueueRepository struct {
	db         DBTX
	clock      types.Clock
	staleGrace time.Duration
}

// NewQueueRepository creates a new QueueRepository backed by the given
// database connection (pool or transaction).
func NewQueueRepository(db DBTX, clock types.Clock) *QueueRepository {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &QueueRepository{db: db, clock: clock, staleGrace: defaultStaleGrace}
}

// WithStaleGrace overrides the stale-rejection grace window. Used by the
// notifier to apply the configured value.
func (r *QueueRepository) WithStaleGrace(grace time.Duration) *QueueRepository {
	if grace > 0 {
		r.staleGrace = grace
	}
	return r
}

// Enqueue inserts a new queue entry in status 'scheduled'.
//
// Idempotency: the table carries UNIQUE (user_id, poll_id, notification_type),
// and the insert uses ON CONFLICT DO NOTHING, so re-delivered poll events
// silently no-op instead of producing duplicate notifications. Returns true
// when a row was actually inserted and false on a duplicate; only a real
// insert populates the entry's ID and CreatedAt.
//
// Staleness: an entry whose fire time is already more than the grace window in
// the past is rejected, so a backed-up event queue cannot flood users with
// notifications about moments long gone.
func (r *QueueRepository) Enqueue(ctx context.Context, e *types.QueueEntry) (bool, error) {
	now := r.clock.Now()
	if e.ScheduledFor.Before(now.Add(-r.staleGrace)) {
		return false, types.NewAppError(types.ErrCodeValidationStaleSchedule,
			fmt.Sprintf("scheduled_for %s is more than %s in the past",
				e.ScheduledFor.Format(time.RFC3339), r.staleGrace), nil)
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	row := r.db.QueryRow(ctx,
		`INSERT INTO notification_queue
		 (id, user_id, poll_id, notification_type, scheduled_for, status,
		  template_data, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, 'scheduled', $6, NOW(), NOW())
		 ON CONFLICT (user_id, poll_id, notification_type) DO NOTHING
		 RETURNING id, created_at`,
		e.ID,
		e.UserID,
		e.PollID,
		string(e.Type),
		e.ScheduledFor,
		e.TemplateData,
	)
	if err := row.Scan(&e.ID, &e.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Duplicate (user, poll, type): idempotent no-op.
			return false, nil
		}
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to enqueue notification", err)
	}
	e.Status = types.QueueStatusScheduled
	return true, nil
}

// ClaimDueBatch atomically claims up to limit due entries for processing.
//
// The claim is a single UPDATE over a FOR UPDATE SKIP LOCKED subselect, so
// concurrent workers never claim the same entry and never block each other:
//
//	UPDATE notification_queue SET status='processing', updated_at=NOW()
//	WHERE id IN (
//	    SELECT id FROM notification_queue
//	    WHERE status='scheduled' AND scheduled_for <= $1
//	    ORDER BY scheduled_for
//	    LIMIT $2
//	    FOR UPDATE SKIP LOCKED
//	)
//	RETURNING *
//
// Entries are returned oldest fire time first.
func (r *QueueRepository) ClaimDueBatch(ctx context.Context, now time.Time, limit int) ([]*types.QueueEntry, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.Query(ctx,
		`UPDATE notification_queue SET status = 'processing', updated_at = NOW()
		 WHERE id IN (
		     SELECT id FROM notification_queue
		     WHERE status = 'scheduled' AND scheduled_for <= $1
		     ORDER BY scheduled_for
		     LIMIT $2
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+queueColumns,
		now,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to claim due notifications", err)
	}
	defer rows.Close()

	entries, err := collectQueueEntries(rows)
	if err != nil {
		return nil, err
	}

	// RETURNING order is not guaranteed to follow the subselect ordering.
	sortByScheduledFor(entries)
	return entries, nil
}

// MarkSent moves a processing entry to its 'sent' terminal state and stamps
// processed_at. The status guard means a stale worker can never overwrite a
// terminal row.
func (r *QueueRepository) MarkSent(ctx context.Context, id string, at time.Time) error {
	return r.finalize(ctx, id, types.QueueStatusSent, at)
}

// MarkFailed moves a processing entry to its 'failed' terminal state. The
// failure reason lands on the ledger row, not the queue; the queue only
// records the outcome.
func (r *QueueRepository) MarkFailed(ctx context.Context, id string, at time.Time) error {
	return r.finalize(ctx, id, types.QueueStatusFailed, at)
}

// MarkCancelled moves a processing entry to its 'cancelled' terminal state.
// Used when dispatch-time preference re-check finds the type disabled.
func (r *QueueRepository) MarkCancelled(ctx context.Context, id string, at time.Time) error {
	return r.finalize(ctx, id, types.QueueStatusCancelled, at)
}

func (r *QueueRepository) finalize(ctx context.Context, id string, status types.QueueStatus, at time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE notification_queue
		 SET status = $2, processed_at = $3, updated_at = NOW()
		 WHERE id = $1 AND status = 'processing'`,
		id,
		string(status),
		at,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update queue entry status", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictInvalidTransition,
			fmt.Sprintf("queue entry %s is not in 'processing' state", id), nil)
	}
	return nil
}

// Reschedule pushes a claimed entry back to 'scheduled' with a new fire time.
// This is the only backward transition in the state machine, used when the
// entry's fire time falls inside the recipient's quiet hours.
func (r *QueueRepository) Reschedule(ctx context.Context, id string, newTime time.Time) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE notification_queue
		 SET status = 'scheduled', scheduled_for = $2, updated_at = NOW()
		 WHERE id = $1 AND status = 'processing'`,
		id,
		newTime,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to reschedule queue entry", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeConflictInvalidTransition,
			fmt.Sprintf("queue entry %s is not in 'processing' state", id), nil)
	}
	return nil
}

// CancelForPoll cancels all pending (scheduled) entries for a poll. Used when
// a poll is deleted or closed early so that obsolete notifications never fire.
// Returns the number of entries cancelled.
func (r *QueueRepository) CancelForPoll(ctx context.Context, pollID string) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE notification_queue
		 SET status = 'cancelled', updated_at = NOW()
		 WHERE poll_id = $1 AND status = 'scheduled'`,
		pollID,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to cancel poll notifications", err)
	}
	return tag.RowsAffected(), nil
}

// ListUpcoming returns a user's pending (scheduled) entries ordered by fire
// time, soonest first.
func (r *QueueRepository) ListUpcoming(ctx context.Context, userID string, limit int) ([]*types.QueueEntry, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+queueColumns+`
		 FROM notification_queue
		 WHERE user_id = $1 AND status = 'scheduled'
		 ORDER BY scheduled_for
		 LIMIT $2`,
		userID,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list upcoming notifications", err)
	}
	defer rows.Close()

	return collectQueueEntries(rows)
}

// RequeueStuck releases entries stuck in 'processing' longer than the cutoff
// back to 'scheduled'. A worker crash between claim and finalize leaves
// orphaned rows; this maintenance sweep returns them to circulation. Returns
// the number of entries released.
func (r *QueueRepository) RequeueStuck(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE notification_queue
		 SET status = 'scheduled', updated_at = NOW()
		 WHERE status = 'processing' AND updated_at < $1`,
		olderThan,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to requeue stuck entries", err)
	}
	return tag.RowsAffected(), nil
}

// collectQueueEntries drains a pgx.Rows result set into queue entries.
func collectQueueEntries(rows pgx.Rows) ([]*types.QueueEntry, error) {
	var entries []*types.QueueEntry
	for rows.Next() {
		e, err := scanQueueEntry(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan queue entry", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating queue entries", err)
	}
	return entries, nil
}

// scanQueueEntry scans one notification_queue row. Column order must match
// queueColumns.
func scanQueueEntry(rows pgx.Rows) (*types.QueueEntry, error) {
	var (
		e           types.QueueEntry
		notifType   string
		status      string
		processedAt *time.Time
	)

	err := rows.Scan(
		&e.ID,
		&e.UserID,
		&e.PollID,
		&notifType,
		&e.ScheduledFor,
		&status,
		&e.TemplateData,
		&e.CreatedAt,
		&e.UpdatedAt,
		&processedAt,
	)
	if err != nil {
		return nil, err
	}

	e.Type = types.NotificationType(notifType)
	e.Status = types.QueueStatus(status)
	if processedAt != nil {
		e.ProcessedAt = *processedAt
	}
	return &e, nil
}

// sortByScheduledFor orders entries oldest fire time first.
func sortByScheduledFor(entries []*types.QueueEntry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ScheduledFor.Before(entries[j].ScheduledFor)
	})
}
