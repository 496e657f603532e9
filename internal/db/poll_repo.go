package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"polly/internal/types"
)

// PollRepository provides read access to the polls and votes tables. The poll
// CRUD service owns these tables; the notification core only reads the fields
// needed for scheduling and rendering.
type PollRepository struct {
	db DBTX
}

// NewPollRepository creates a new PollRepository backed by the given database
// connection (pool or transaction).
func NewPollRepository(db DBTX) *PollRepository {
	return &PollRepository{db: db}
}

// GetByID returns the notification view of a poll. end_time is NULL for polls
// that never close; the zero time carries that through the domain type.
func (r *PollRepository) GetByID(ctx context.Context, id string) (*types.Poll, error) {
	var (
		p       types.Poll
		endTime *time.Time
	)
	err := r.db.QueryRow(ctx,
		`SELECT id, question, options, creator_id, end_time, created_at
		 FROM polls WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Question, &p.Options, &p.CreatorID, &endTime, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundPoll, "poll not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get poll", err)
	}
	if endTime != nil {
		p.EndTime = *endTime
	}
	return &p, nil
}

// ListVoterIDs returns the distinct IDs of users who have voted on the poll.
// These users are interested parties for closing and results notifications.
func (r *PollRepository) ListVoterIDs(ctx context.Context, pollID string) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT user_id FROM votes WHERE poll_id = $1`,
		pollID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list poll voters", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan voter ID", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating voter IDs", err)
	}
	return ids, nil
}
