package db

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polly/internal/types"
)

// mockDBTX implements DBTX with pluggable behavior per call. Shared by the
// repository tests in this package.
type mockDBTX struct {
	execFn     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	queryFn    func(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	queryRowFn func(ctx context.Context, sql string, args ...any) pgx.Row

	lastSQL  string
	lastArgs []any
}

func (m *mockDBTX) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	m.lastSQL = sql
	m.lastArgs = args
	if m.execFn != nil {
		return m.execFn(ctx, sql, args...)
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (m *mockDBTX) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	m.lastSQL = sql
	m.lastArgs = args
	if m.queryFn != nil {
		return m.queryFn(ctx, sql, args...)
	}
	return &queueMockRows{}, nil
}

func (m *mockDBTX) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	m.lastSQL = sql
	m.lastArgs = args
	if m.queryRowFn != nil {
		return m.queryRowFn(ctx, sql, args...)
	}
	return &mockRow{}
}

// mockRow implements pgx.Row.
type mockRow struct {
	scanFn func(dest ...any) error
}

func (r *mockRow) Scan(dest ...any) error {
	if r.scanFn != nil {
		return r.scanFn(dest...)
	}
	return pgx.ErrNoRows
}

// queueRowData mirrors the queueColumns scan targets.
type queueRowData struct {
	id           string
	userID       string
	pollID       string
	notifType    string
	scheduledFor time.Time
	status       string
	templateData types.TemplateData
	createdAt    time.Time
	updatedAt    time.Time
	processedAt  *time.Time
}

// queueMockRows implements pgx.Rows over static queueRowData.
type queueMockRows struct {
	data   []queueRowData
	idx    int
	closed bool
	errVal error
}

func (r *queueMockRows) Next() bool {
	if r.closed {
		return false
	}
	r.idx++
	return r.idx <= len(r.data)
}

func (r *queueMockRows) Scan(dest ...any) error {
	row := r.data[r.idx-1]
	*dest[0].(*string) = row.id
	*dest[1].(*string) = row.userID
	*dest[2].(*string) = row.pollID
	*dest[3].(*string) = row.notifType
	*dest[4].(*time.Time) = row.scheduledFor
	*dest[5].(*string) = row.status
	*dest[6].(*types.TemplateData) = row.templateData
	*dest[7].(*time.Time) = row.createdAt
	*dest[8].(*time.Time) = row.updatedAt
	*dest[9].(**time.Time) = row.processedAt
	return nil
}

func (r *queueMockRows) Close()                                       { r.closed = true }
func (r *queueMockRows) Err() error                                   { return r.errVal }
func (r *queueMockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *queueMockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *queueMockRows) RawValues() [][]byte                          { return nil }
func (r *queueMockRows) Values() ([]any, error)                       { return nil, nil }
func (r *queueMockRows) Conn() *pgx.Conn                              { return nil }

type stubClock struct {
	now time.Time
}

func (c stubClock) Now() time.Time { return c.now }

var repoNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestEnqueue_Success(t *testing.T) {
	dbtx := &mockDBTX{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return &mockRow{scanFn: func(dest ...any) error {
				*dest[0].(*string) = args[0].(string)
				*dest[1].(*time.Time) = repoNow
				return nil
			}}
		},
	}
	repo := NewQueueRepository(dbtx, stubClock{now: repoNow})

	entry := &types.QueueEntry{
		UserID:       "user_1",
		PollID:       "poll_1",
		Type:         types.NotificationPollClosing1h,
		ScheduledFor: repoNow.Add(time.Hour),
	}

	created, err := repo.Enqueue(context.Background(), entry)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, types.QueueStatusScheduled, entry.Status)
	assert.True(t, entry.CreatedAt.Equal(repoNow))
}

func TestEnqueue_DuplicateIsIdempotentNoOp(t *testing.T) {
	dbtx := &mockDBTX{} // default QueryRow scans pgx.ErrNoRows
	repo := NewQueueRepository(dbtx, stubClock{now: repoNow})

	entry := &types.QueueEntry{
		UserID:       "user_1",
		PollID:       "poll_1",
		Type:         types.NotificationPollClosed,
		ScheduledFor: repoNow.Add(time.Hour),
	}

	created, err := repo.Enqueue(context.Background(), entry)
	require.NoError(t, err)
	assert.False(t, created)
}

func TestEnqueue_StaleScheduleRejected(t *testing.T) {
	dbtx := &mockDBTX{}
	repo := NewQueueRepository(dbtx, stubClock{now: repoNow})

	entry := &types.QueueEntry{
		UserID:       "user_1",
		PollID:       "poll_1",
		Type:         types.NotificationPollClosing24h,
		ScheduledFor: repoNow.Add(-10 * time.Minute), // beyond the 5m grace
	}

	created, err := repo.Enqueue(context.Background(), entry)
	assert.False(t, created)

	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationStaleSchedule, appErr.Code)
	assert.Empty(t, dbtx.lastSQL, "stale entries must be rejected before any query")
}

func TestEnqueue_WithinGraceAccepted(t *testing.T) {
	dbtx := &mockDBTX{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return &mockRow{scanFn: func(dest ...any) error {
				*dest[0].(*string) = args[0].(string)
				*dest[1].(*time.Time) = repoNow
				return nil
			}}
		},
	}
	repo := NewQueueRepository(dbtx, stubClock{now: repoNow})

	entry := &types.QueueEntry{
		UserID:       "user_1",
		PollID:       "poll_1",
		Type:         types.NotificationPollClosed,
		ScheduledFor: repoNow.Add(-2 * time.Minute), // inside the 5m grace
	}

	created, err := repo.Enqueue(context.Background(), entry)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestClaimDueBatch_SortsByFireTime(t *testing.T) {
	later := repoNow.Add(-time.Minute)
	earlier := repoNow.Add(-time.Hour)
	dbtx := &mockDBTX{
		queryFn: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			return &queueMockRows{data: []queueRowData{
				{id: "q2", userID: "u", notifType: "poll_closed", scheduledFor: later, status: "processing", createdAt: repoNow, updatedAt: repoNow},
				{id: "q1", userID: "u", notifType: "poll_closing_1h", scheduledFor: earlier, status: "processing", createdAt: repoNow, updatedAt: repoNow},
			}}, nil
		},
	}
	repo := NewQueueRepository(dbtx, stubClock{now: repoNow})

	entries, err := repo.ClaimDueBatch(context.Background(), repoNow, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, "q1", entries[0].ID, "oldest fire time first")
	assert.Equal(t, "q2", entries[1].ID)
	assert.Equal(t, types.QueueStatusProcessing, entries[0].Status)
}

func TestClaimDueBatch_AtomicClaimSQL(t *testing.T) {
	// Concurrent runs must never claim the same entry. That rests on the
	// claim being a single UPDATE over a SKIP LOCKED subselect; pin the SQL
	// shape so a refactor cannot silently split it into read-then-write.
	dbtx := &mockDBTX{}
	repo := NewQueueRepository(dbtx, stubClock{now: repoNow})

	_, err := repo.ClaimDueBatch(context.Background(), repoNow, 10)
	require.NoError(t, err)

	assert.Contains(t, dbtx.lastSQL, "FOR UPDATE SKIP LOCKED")
	assert.Contains(t, dbtx.lastSQL, "UPDATE notification_queue SET status = 'processing'")
	assert.Equal(t, 1, strings.Count(dbtx.lastSQL, "UPDATE notification_queue"),
		"claim must be one statement")
	assert.Contains(t, dbtx.lastSQL, "RETURNING")
	assert.Equal(t, []any{repoNow, 10}, dbtx.lastArgs)
}

func TestClaimDueBatch_QueryError(t *testing.T) {
	dbtx := &mockDBTX{
		queryFn: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			return nil, errors.New("connection reset")
		},
	}
	repo := NewQueueRepository(dbtx, stubClock{now: repoNow})

	_, err := repo.ClaimDueBatch(context.Background(), repoNow, 10)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeInternalDB, appErr.Code)
}

func TestMarkSent_GuardsTerminalRows(t *testing.T) {
	dbtx := &mockDBTX{
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		},
	}
	repo := NewQueueRepository(dbtx, stubClock{now: repoNow})

	err := repo.MarkSent(context.Background(), "q1", repoNow)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeConflictInvalidTransition, appErr.Code)
}

func TestMarkSent_Success(t *testing.T) {
	dbtx := &mockDBTX{}
	repo := NewQueueRepository(dbtx, stubClock{now: repoNow})

	require.NoError(t, repo.MarkSent(context.Background(), "q1", repoNow))
	assert.Contains(t, dbtx.lastSQL, "status = 'processing'")
	assert.Equal(t, "q1", dbtx.lastArgs[0])
	assert.Equal(t, "sent", dbtx.lastArgs[1])
}

func TestReschedule_OnlyFromProcessing(t *testing.T) {
	dbtx := &mockDBTX{
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("UPDATE 0"), nil
		},
	}
	repo := NewQueueRepository(dbtx, stubClock{now: repoNow})

	err := repo.Reschedule(context.Background(), "q1", repoNow.Add(4*time.Hour))
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeConflictInvalidTransition, appErr.Code)
}

func TestCancelForPoll_ReturnsCount(t *testing.T) {
	dbtx := &mockDBTX{
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("UPDATE 3"), nil
		},
	}
	repo := NewQueueRepository(dbtx, stubClock{now: repoNow})

	n, err := repo.CancelForPoll(context.Background(), "poll_1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.Equal(t, "poll_1", dbtx.lastArgs[0])
	assert.Contains(t, dbtx.lastSQL, "status = 'scheduled'")
}

func TestRequeueStuck_PassesCutoff(t *testing.T) {
	cutoff := repoNow.Add(-30 * time.Minute)
	dbtx := &mockDBTX{
		execFn: func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
			return pgconn.NewCommandTag("UPDATE 2"), nil
		},
	}
	repo := NewQueueRepository(dbtx, stubClock{now: repoNow})

	n, err := repo.RequeueStuck(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, cutoff, dbtx.lastArgs[0])
}
