package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"polly/internal/core"
	"polly/internal/types"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// QueueReader lists a user's pending queue entries.
type QueueReader interface {
	ListUpcoming(ctx context.Context, userID string, limit int) ([]*types.QueueEntry, error)
}

// LedgerReader pages through a user's delivery history.
type LedgerReader interface {
	ListByUser(ctx context.Context, userID string, page types.PageInfo) ([]*types.EmailNotification, types.PageInfo, error)
}

// UserReader resolves a user's delivery address for the test-send endpoint.
type UserReader interface {
	GetByID(ctx context.Context, id string) (*types.User, error)
}

// TemplateRenderer renders a notification into a provider-ready email.
type TemplateRenderer interface {
	Render(t types.NotificationType, data types.TemplateData) (*types.RenderedEmail, error)
}

// DirectSender sends a rendered email immediately, outside the queue.
type DirectSender interface {
	Send(ctx context.Context, msg types.EmailMessage) (string, error)
}

// UpcomingDTO is one scheduled notification in the upcoming view.
type UpcomingDTO struct {
	ID           string    `json:"id"`
	PollID       string    `json:"poll_id,omitempty"`
	Type         string    `json:"notification_type"`
	ScheduledFor time.Time `json:"scheduled_for"`
	CreatedAt    time.Time `json:"created_at"`
}

// HistoryDTO is one delivery-history record.
type HistoryDTO struct {
	ID            string     `json:"id"`
	PollID        string     `json:"poll_id,omitempty"`
	Type          string     `json:"notification_type"`
	Subject       string     `json:"subject"`
	Status        string     `json:"status"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	FailedAt      *time.Time `json:"failed_at,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	OpenedAt      *time.Time `json:"opened_at,omitempty"`
	ClickedAt     *time.Time `json:"clicked_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// TestSendRequest is the body for POST /v1/notifications/test.
type TestSendRequest struct {
	NotificationType string             `json:"notification_type"`
	TemplateData     types.TemplateData `json:"template_data,omitempty"`
}

// TestSendResponse reports the outcome of a test send.
type TestSendResponse struct {
	ProviderMessageID string `json:"provider_message_id"`
	Subject           string `json:"subject"`
	To                string `json:"to"`
}

// NotificationHandler serves the user-facing notification views and the
// test-send surface.
type NotificationHandler struct {
	queue    QueueReader
	ledger   LedgerReader
	users    UserReader
	renderer TemplateRenderer
	sender   DirectSender
	logger   *slog.Logger
}

// NewNotificationHandler creates a NotificationHandler.
func NewNotificationHandler(
	queue QueueReader,
	ledger LedgerReader,
	users UserReader,
	renderer TemplateRenderer,
	sender DirectSender,
	logger *slog.Logger,
) *NotificationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationHandler{
		queue:    queue,
		ledger:   ledger,
		users:    users,
		renderer: renderer,
		sender:   sender,
		logger:   logger,
	}
}

// Mount registers the notification routes on an authenticated router group.
func (h *NotificationHandler) Mount(r chi.Router) {
	r.Get("/notifications/upcoming", h.Upcoming)
	r.Get("/notifications/history", h.History)
	r.Post("/notifications/test", h.TestSend)
}

// Upcoming handles GET /v1/notifications/upcoming: the caller's scheduled
// queue entries, soonest first.
func (h *NotificationHandler) Upcoming(w http.ResponseWriter, r *http.Request) {
	userID, ok := types.GetUserID(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "user identity is required", nil))
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	entries, err := h.queue.ListUpcoming(r.Context(), userID, limit)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	data := make([]UpcomingDTO, 0, len(entries))
	for _, e := range entries {
		data = append(data, UpcomingDTO{
			ID:           e.ID,
			PollID:       e.PollID,
			Type:         string(e.Type),
			ScheduledFor: e.ScheduledFor,
			CreatedAt:    e.CreatedAt,
		})
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: data})
}

// History handles GET /v1/notifications/history: cursor-paginated ledger
// records, newest first.
func (h *NotificationHandler) History(w http.ResponseWriter, r *http.Request) {
	userID, ok := types.GetUserID(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "user identity is required", nil))
		return
	}

	limit, err := parseLimit(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	page := types.PageInfo{
		Limit:      limit,
		NextCursor: r.URL.Query().Get("cursor"),
	}

	records, nextPage, err := h.ledger.ListByUser(r.Context(), userID, page)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	data := make([]HistoryDTO, 0, len(records))
	for _, rec := range records {
		data = append(data, toHistoryDTO(rec))
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: data, Page: &nextPage})
}

// TestSend handles POST /v1/notifications/test. It renders the requested
// template with sample data and sends it to the caller's own address
// immediately. The queue, preference gating, and quiet hours are bypassed:
// the point is verifying what a notification will look like.
func (h *NotificationHandler) TestSend(w http.ResponseWriter, r *http.Request) {
	userID, ok := types.GetUserID(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "user identity is required", nil))
		return
	}

	var req TestSendRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	notifType := types.NotificationType(req.NotificationType)

	user, err := h.users.GetByID(r.Context(), userID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	data := testTemplateData(notifType).Merge(req.TemplateData).Merge(types.TemplateData{
		"user_name":  user.DisplayName,
		"user_email": user.Email,
	})

	rendered, err := h.renderer.Render(notifType, data)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	providerID, err := h.sender.Send(r.Context(), types.EmailMessage{
		To:      user.Email,
		ToName:  user.DisplayName,
		Subject: "[Test] " + rendered.Subject,
		HTML:    rendered.HTML,
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.Info("test notification sent",
		"user_id", userID,
		"notification_type", string(notifType),
		"provider_message_id", providerID,
	)

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: TestSendResponse{
		ProviderMessageID: providerID,
		Subject:           "[Test] " + rendered.Subject,
		To:                user.Email,
	}})
}

// testTemplateData supplies placeholder poll fields so test renders of
// poll-scoped templates have something to show.
func testTemplateData(t types.NotificationType) types.TemplateData {
	now := time.Now().UTC()
	return types.TemplateData{
		"poll_id":         "test-poll",
		"poll_question":   "Where should we hold the offsite?",
		"poll_created_at": now.Format(time.RFC3339),
		"poll_end_time":   now.Add(24 * time.Hour).Format(time.RFC3339),
	}
}

func parseLimit(r *http.Request) (int, error) {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return defaultPageLimit, nil
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit < 1 || limit > maxPageLimit {
		return 0, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"limit must be a number between 1 and 100",
			nil,
		)
	}
	return limit, nil
}

func toHistoryDTO(rec *types.EmailNotification) HistoryDTO {
	dto := HistoryDTO{
		ID:            rec.ID,
		PollID:        rec.PollID,
		Type:          string(rec.Type),
		Subject:       rec.Subject,
		Status:        string(rec.Status),
		FailureReason: rec.FailureReason,
		CreatedAt:     rec.CreatedAt,
	}
	dto.SentAt = timePtr(rec.SentAt)
	dto.FailedAt = timePtr(rec.FailedAt)
	dto.OpenedAt = timePtr(rec.OpenedAt)
	dto.ClickedAt = timePtr(rec.ClickedAt)
	return dto
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
