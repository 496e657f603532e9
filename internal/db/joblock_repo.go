package db

import (
	"context"
	"time"

	"polly/internal/types"
)

// JobLockRepository provides distributed locking via the job_locks table. The
// locking mechanism uses INSERT ... ON CONFLICT DO UPDATE to atomically
// acquire a lock, ensuring only one worker runs a given scheduled job within
// a time window even when multiple notifier instances fire concurrently.
type JobLockRepository struct {
	db    DBTX
	clock types.Clock
}

// NewJobLockRepository creates a new JobLockRepository backed by the given
// database connection (pool or transaction).
func NewJobLockRepository(db DBTX, clock types.Clock) *JobLockRepository {
	if clock == nil {
		clock = types.RealClock{}
	}
	return &JobLockRepository{db: db, clock: clock}
}

// Acquire attempts to insert a lock row. Returns true if acquired, false if
// the lock already exists and has not expired. The lockID is typically
// "task_type:timestamp_window" (e.g., "notifier_batch:2026-08-26T14:05").
//
// expires_at is computed as a concrete timestamp in Go rather than with SQL
// interval arithmetic; Go's duration string format (e.g. "15m0s") is not a
// valid PostgreSQL interval.
//
// If the existing row has expired, the ON CONFLICT UPDATE succeeds and the
// caller reclaims the lock. If the row is still active, the WHERE clause
// prevents the update and zero rows are affected.
func (r *JobLockRepository) Acquire(ctx context.Context, lockID string, workerID string, ttl time.Duration) (bool, error) {
	now := r.clock.Now()
	expiresAt := now.Add(ttl)

	tag, err := r.db.Exec(ctx,
		`INSERT INTO job_locks (id, worker_id, locked_at, expires_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (id) DO UPDATE
		   SET worker_id = EXCLUDED.worker_id,
		       locked_at = EXCLUDED.locked_at,
		       expires_at = EXCLUDED.expires_at
		   WHERE job_locks.expires_at < $3`,
		lockID,
		workerID,
		now,
		expiresAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire job lock", err)
	}

	// 1 row: fresh insert or expired lock reclaimed. 0 rows: held elsewhere.
	return tag.RowsAffected() > 0, nil
}

// Release deletes the lock row so a follow-up run in the same window does not
// have to wait out the TTL. Releasing a lock another worker has since
// reclaimed is a no-op because the worker ID must still match.
func (r *JobLockRepository) Release(ctx context.Context, lockID string, workerID string) error {
	_, err := r.db.Exec(ctx,
		`DELETE FROM job_locks WHERE id = $1 AND worker_id = $2`,
		lockID,
		workerID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to release job lock", err)
	}
	return nil
}
