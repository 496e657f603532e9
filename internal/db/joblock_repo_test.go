package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polly/internal/types"
)

func TestAcquire_FreshLock(t *testing.T) {
	dbtx := &mockDBTX{
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("INSERT 0 1"), nil
		},
	}
	repo := NewJobLockRepository(dbtx, stubClock{now: repoNow})

	acquired, err := repo.Acquire(context.Background(), "notifier:2026-03-10T12:00", "worker-1", 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	assert.Equal(t, "notifier:2026-03-10T12:00", dbtx.lastArgs[0])
	assert.Equal(t, "worker-1", dbtx.lastArgs[1])
	assert.Equal(t, repoNow, dbtx.lastArgs[2])
	assert.Equal(t, repoNow.Add(10*time.Minute), dbtx.lastArgs[3], "expiry is computed in Go, not SQL")
}

func TestAcquire_HeldElsewhere(t *testing.T) {
	dbtx := &mockDBTX{
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("INSERT 0 0"), nil
		},
	}
	repo := NewJobLockRepository(dbtx, stubClock{now: repoNow})

	acquired, err := repo.Acquire(context.Background(), "notifier:2026-03-10T12:00", "worker-2", 10*time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)
}

func TestAcquire_DBError(t *testing.T) {
	dbtx := &mockDBTX{
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			return pgconn.CommandTag{}, errors.New("deadlock detected")
		},
	}
	repo := NewJobLockRepository(dbtx, stubClock{now: repoNow})

	_, err := repo.Acquire(context.Background(), "notifier:2026-03-10T12:00", "worker-1", time.Minute)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestRelease_ScopedToWorker(t *testing.T) {
	dbtx := &mockDBTX{
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("DELETE 0"), nil
		},
	}
	repo := NewJobLockRepository(dbtx, stubClock{now: repoNow})

	// A lock reclaimed by another worker is left alone; no error either way.
	require.NoError(t, repo.Release(context.Background(), "notifier:2026-03-10T12:00", "worker-1"))
	assert.Equal(t, "worker-1", dbtx.lastArgs[1])
	assert.Contains(t, dbtx.lastSQL, "worker_id = $2")
}
