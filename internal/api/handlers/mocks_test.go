package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	notifcore "polly/internal/notifications/core"
	"polly/internal/types"
)

// =============================================================================
// Shared test helpers
// =============================================================================

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// authedRequest builds a request whose context carries the given user ID, as
// the identity middleware would have set it.
func authedRequest(method, target string, body io.Reader, userID string) *http.Request {
	req := httptest.NewRequest(method, target, body)
	if userID != "" {
		req = req.WithContext(types.WithUserID(req.Context(), userID))
	}
	return req
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

// =============================================================================
// Mock implementations
// =============================================================================

type mockPreferenceRepo struct {
	getFn    func(ctx context.Context, userID string) (*types.NotificationPreferences, bool, error)
	upsertFn func(ctx context.Context, p *types.NotificationPreferences) error

	upserted *types.NotificationPreferences
}

func (m *mockPreferenceRepo) Get(ctx context.Context, userID string) (*types.NotificationPreferences, bool, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID)
	}
	p := types.DefaultPreferences(userID)
	return &p, false, nil
}

func (m *mockPreferenceRepo) Upsert(ctx context.Context, p *types.NotificationPreferences) error {
	m.upserted = p
	if m.upsertFn != nil {
		return m.upsertFn(ctx, p)
	}
	return p.Validate()
}

type mockQueueReader struct {
	listUpcomingFn func(ctx context.Context, userID string, limit int) ([]*types.QueueEntry, error)
}

func (m *mockQueueReader) ListUpcoming(ctx context.Context, userID string, limit int) ([]*types.QueueEntry, error) {
	if m.listUpcomingFn != nil {
		return m.listUpcomingFn(ctx, userID, limit)
	}
	return nil, nil
}

type mockLedgerReader struct {
	listByUserFn func(ctx context.Context, userID string, page types.PageInfo) ([]*types.EmailNotification, types.PageInfo, error)
}

func (m *mockLedgerReader) ListByUser(ctx context.Context, userID string, page types.PageInfo) ([]*types.EmailNotification, types.PageInfo, error) {
	if m.listByUserFn != nil {
		return m.listByUserFn(ctx, userID, page)
	}
	return nil, types.PageInfo{}, nil
}

type mockUserReader struct {
	getByIDFn func(ctx context.Context, id string) (*types.User, error)
}

func (m *mockUserReader) GetByID(ctx context.Context, id string) (*types.User, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return &types.User{ID: id, Email: id + "@example.com", DisplayName: "Test User"}, nil
}

type mockTemplateRenderer struct {
	renderFn func(t types.NotificationType, data types.TemplateData) (*types.RenderedEmail, error)

	lastType types.NotificationType
	lastData types.TemplateData
}

func (m *mockTemplateRenderer) Render(t types.NotificationType, data types.TemplateData) (*types.RenderedEmail, error) {
	m.lastType = t
	m.lastData = data
	if m.renderFn != nil {
		return m.renderFn(t, data)
	}
	return &types.RenderedEmail{
		TemplateName: string(t),
		Subject:      "Rendered: " + string(t),
		HTML:         "<p>body</p>",
	}, nil
}

type mockDirectSender struct {
	sendFn func(ctx context.Context, msg types.EmailMessage) (string, error)

	sent []types.EmailMessage
}

func (m *mockDirectSender) Send(ctx context.Context, msg types.EmailMessage) (string, error) {
	m.sent = append(m.sent, msg)
	if m.sendFn != nil {
		return m.sendFn(ctx, msg)
	}
	return "provider-msg-1", nil
}

type mockBatchRunner struct {
	runBatchFn func(ctx context.Context, now time.Time, limit int) (notifcore.BatchResult, error)

	lastNow   time.Time
	lastLimit int
}

func (m *mockBatchRunner) RunBatch(ctx context.Context, now time.Time, limit int) (notifcore.BatchResult, error) {
	m.lastNow = now
	m.lastLimit = limit
	if m.runBatchFn != nil {
		return m.runBatchFn(ctx, now, limit)
	}
	return notifcore.BatchResult{}, nil
}

// decodeJSONBody decodes a recorded response body into a generic map.
func decodeJSONBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v (body: %s)", err, rec.Body.String())
	}
	return body
}

// assertErrorCode decodes a JSON error envelope and asserts its code.
func assertErrorCode(t *testing.T, rec *httptest.ResponseRecorder, want types.ErrorCode) {
	t.Helper()
	body := decodeJSONBody(t, rec)
	errObj, ok := body["error"].(map[string]any)
	if !ok {
		t.Fatalf("no error object in body: %s", rec.Body.String())
	}
	if errObj["code"] != string(want) {
		t.Errorf("error code = %v, want %s", errObj["code"], want)
	}
}
