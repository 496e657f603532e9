package db

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"polly/internal/types"
)

// idsMockRows implements pgx.Rows over a list of single-column string rows.
type idsMockRows struct {
	ids    []string
	idx    int
	errVal error
}

func (r *idsMockRows) Next() bool {
	r.idx++
	return r.idx <= len(r.ids)
}

func (r *idsMockRows) Scan(dest ...any) error {
	*dest[0].(*string) = r.ids[r.idx-1]
	return nil
}

func (r *idsMockRows) Close()                                       {}
func (r *idsMockRows) Err() error                                   { return r.errVal }
func (r *idsMockRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *idsMockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *idsMockRows) RawValues() [][]byte                          { return nil }
func (r *idsMockRows) Values() ([]any, error)                       { return nil, nil }
func (r *idsMockRows) Conn() *pgx.Conn                              { return nil }

// scanStoredPreferences fills a full preferences row in preferenceColumns order.
func scanStoredPreferences(dest ...any) error {
	*dest[0].(*string) = "user_1"
	*dest[1].(*bool) = true  // email_enabled
	*dest[2].(*bool) = true  // poll_closing_24h
	*dest[3].(*bool) = false // poll_closing_1h
	*dest[4].(*bool) = true  // poll_closed_immediately
	*dest[5].(*bool) = false // new_poll_notifications
	*dest[6].(*bool) = true  // voting_reminders
	*dest[7].(*bool) = true  // results_announcements
	*dest[8].(*bool) = false // admin_notifications
	*dest[9].(*string) = "daily"
	*dest[10].(*string) = "21:30:00"
	*dest[11].(*string) = "07:15:00"
	*dest[12].(*string) = "Europe/Berlin"
	*dest[13].(*time.Time) = repoNow
	*dest[14].(*time.Time) = repoNow
	return nil
}

func TestPreferencesGet_StoredRow(t *testing.T) {
	dbtx := &mockDBTX{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return &mockRow{scanFn: scanStoredPreferences}
		},
	}
	repo := NewPreferenceRepository(dbtx)

	p, found, err := repo.Get(context.Background(), "user_1")
	require.NoError(t, err)
	assert.True(t, found)

	assert.Equal(t, "user_1", p.UserID)
	assert.False(t, p.PollClosing1h)
	assert.Equal(t, types.FrequencyDaily, p.Frequency)
	assert.Equal(t, types.TimeOfDay{Hour: 21, Minute: 30}, p.QuietHoursStart)
	assert.Equal(t, types.TimeOfDay{Hour: 7, Minute: 15}, p.QuietHoursEnd)
	assert.Equal(t, "Europe/Berlin", p.Timezone)
}

func TestPreferencesGet_NoRowReturnsDefaults(t *testing.T) {
	dbtx := &mockDBTX{} // default QueryRow scans pgx.ErrNoRows
	repo := NewPreferenceRepository(dbtx)

	p, found, err := repo.Get(context.Background(), "user_2")
	require.NoError(t, err)
	assert.False(t, found)

	defaults := types.DefaultPreferences("user_2")
	assert.Equal(t, &defaults, p)
}

func TestPreferencesUpsert_ValidatesBeforeWrite(t *testing.T) {
	dbtx := &mockDBTX{}
	repo := NewPreferenceRepository(dbtx)

	p := types.DefaultPreferences("user_1")
	p.Frequency = "hourly"

	err := repo.Upsert(context.Background(), &p)
	var appErr *types.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, types.ErrCodeValidationInvalidFrequency, appErr.Code)
	assert.Empty(t, dbtx.lastSQL, "invalid preferences must not reach the database")
}

func TestPreferencesUpsert_Success(t *testing.T) {
	dbtx := &mockDBTX{
		queryRowFn: func(ctx context.Context, sql string, args ...any) pgx.Row {
			return &mockRow{scanFn: func(dest ...any) error {
				*dest[0].(*time.Time) = repoNow
				*dest[1].(*time.Time) = repoNow
				return nil
			}}
		},
	}
	repo := NewPreferenceRepository(dbtx)

	p := types.DefaultPreferences("user_1")
	require.NoError(t, repo.Upsert(context.Background(), &p))

	assert.True(t, p.CreatedAt.Equal(repoNow))
	assert.Equal(t, "user_1", dbtx.lastArgs[0])
	assert.Equal(t, "22:00:00", dbtx.lastArgs[10], "quiet hours are stored as TIME strings")
	assert.Contains(t, dbtx.lastSQL, "ON CONFLICT (user_id) DO UPDATE")
}

func TestListNewPollSubscribers(t *testing.T) {
	dbtx := &mockDBTX{
		queryFn: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			return &idsMockRows{ids: []string{"user_1", "user_3"}}, nil
		},
	}
	repo := NewPreferenceRepository(dbtx)

	ids, err := repo.ListNewPollSubscribers(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"user_1", "user_3"}, ids)
	assert.Contains(t, dbtx.lastSQL, "new_poll_notifications = TRUE")
	assert.Contains(t, dbtx.lastSQL, "email_enabled = TRUE")
}

func TestGetMany_EmptyInputSkipsQuery(t *testing.T) {
	dbtx := &mockDBTX{
		queryFn: func(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
			return nil, errors.New("should not be called")
		},
	}
	repo := NewPreferenceRepository(dbtx)

	result, err := repo.GetMany(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, result)
	assert.Empty(t, dbtx.lastSQL)
}
