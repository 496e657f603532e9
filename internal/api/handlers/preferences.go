// Package handlers contains the HTTP handler implementations for the Polly
// notification API: preference management, notification views, and the
// internal batch-run surface.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"polly/internal/core"
	"polly/internal/types"
)

// PreferenceRepo is the data access contract for preference operations.
// Mirrors the concrete db.PreferenceRepository methods this handler uses.
type PreferenceRepo interface {
	Get(ctx context.Context, userID string) (*types.NotificationPreferences, bool, error)
	Upsert(ctx context.Context, p *types.NotificationPreferences) error
}

// UpdatePreferencesRequest is the body for PUT /v1/preferences. Every field is
// optional; omitted fields keep their current (or default) value. Quiet hours
// are wall-clock "HH:MM" or "HH:MM:SS" strings.
type UpdatePreferencesRequest struct {
	EmailEnabled          *bool `json:"email_enabled,omitempty"`
	PollClosing24h        *bool `json:"poll_closing_24h,omitempty"`
	PollClosing1h         *bool `json:"poll_closing_1h,omitempty"`
	PollClosedImmediately *bool `json:"poll_closed_immediately,omitempty"`
	NewPollNotifications  *bool `json:"new_poll_notifications,omitempty"`
	VotingReminders       *bool `json:"voting_reminders,omitempty"`
	ResultsAnnouncements  *bool `json:"results_announcements,omitempty"`
	AdminNotifications    *bool `json:"admin_notifications,omitempty"`

	Frequency       *string `json:"frequency,omitempty"`
	QuietHoursStart *string `json:"quiet_hours_start,omitempty"`
	QuietHoursEnd   *string `json:"quiet_hours_end,omitempty"`
	Timezone        *string `json:"timezone,omitempty"`
}

// PreferencesDTO is the response shape for preference reads and writes. Quiet
// hours are rendered as "HH:MM:SS" strings to match the request format.
type PreferencesDTO struct {
	EmailEnabled          bool `json:"email_enabled"`
	PollClosing24h        bool `json:"poll_closing_24h"`
	PollClosing1h         bool `json:"poll_closing_1h"`
	PollClosedImmediately bool `json:"poll_closed_immediately"`
	NewPollNotifications  bool `json:"new_poll_notifications"`
	VotingReminders       bool `json:"voting_reminders"`
	ResultsAnnouncements  bool `json:"results_announcements"`
	AdminNotifications    bool `json:"admin_notifications"`

	Frequency       string `json:"frequency"`
	QuietHoursStart string `json:"quiet_hours_start"`
	QuietHoursEnd   string `json:"quiet_hours_end"`
	Timezone        string `json:"timezone"`
}

// PreferenceHandler manages the owner-scoped preference endpoints.
type PreferenceHandler struct {
	prefs  PreferenceRepo
	logger *slog.Logger
}

// NewPreferenceHandler creates a PreferenceHandler.
func NewPreferenceHandler(prefs PreferenceRepo, logger *slog.Logger) *PreferenceHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PreferenceHandler{prefs: prefs, logger: logger}
}

// Mount registers the preference routes on an authenticated router group.
func (h *PreferenceHandler) Mount(r chi.Router) {
	r.Get("/preferences", h.Get)
	r.Put("/preferences", h.Update)
}

// Get handles GET /v1/preferences. Users with no stored row see the defaults;
// no row is created by a read.
func (h *PreferenceHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := types.GetUserID(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "user identity is required", nil))
		return
	}

	prefs, _, err := h.prefs.Get(r.Context(), userID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: toPreferencesDTO(prefs)})
}

// Update handles PUT /v1/preferences. The request is merged over the user's
// current settings (defaults when no row exists yet), validated as a whole,
// and persisted. Partial updates therefore never clobber unrelated fields.
func (h *PreferenceHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := types.GetUserID(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthTokenMissing, "user identity is required", nil))
		return
	}

	var req UpdatePreferencesRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}

	current, _, err := h.prefs.Get(r.Context(), userID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if err := applyPreferenceUpdate(current, req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.prefs.Upsert(r.Context(), current); err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.Info("preferences updated", "user_id", userID)
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: toPreferencesDTO(current)})
}

// applyPreferenceUpdate merges the request into prefs. String fields are
// parsed here so that malformed values surface as validation errors before
// anything persists; full-struct validation happens in the repository.
func applyPreferenceUpdate(prefs *types.NotificationPreferences, req UpdatePreferencesRequest) error {
	if req.EmailEnabled != nil {
		prefs.EmailEnabled = *req.EmailEnabled
	}
	if req.PollClosing24h != nil {
		prefs.PollClosing24h = *req.PollClosing24h
	}
	if req.PollClosing1h != nil {
		prefs.PollClosing1h = *req.PollClosing1h
	}
	if req.PollClosedImmediately != nil {
		prefs.PollClosedImmediately = *req.PollClosedImmediately
	}
	if req.NewPollNotifications != nil {
		prefs.NewPollNotifications = *req.NewPollNotifications
	}
	if req.VotingReminders != nil {
		prefs.VotingReminders = *req.VotingReminders
	}
	if req.ResultsAnnouncements != nil {
		prefs.ResultsAnnouncements = *req.ResultsAnnouncements
	}
	if req.AdminNotifications != nil {
		prefs.AdminNotifications = *req.AdminNotifications
	}
	if req.Frequency != nil {
		prefs.Frequency = types.Frequency(*req.Frequency)
	}
	if req.QuietHoursStart != nil {
		t, err := types.ParseTimeOfDay(*req.QuietHoursStart)
		if err != nil {
			return err
		}
		prefs.QuietHoursStart = t
	}
	if req.QuietHoursEnd != nil {
		t, err := types.ParseTimeOfDay(*req.QuietHoursEnd)
		if err != nil {
			return err
		}
		prefs.QuietHoursEnd = t
	}
	if req.Timezone != nil {
		prefs.Timezone = *req.Timezone
	}
	return nil
}

func toPreferencesDTO(p *types.NotificationPreferences) PreferencesDTO {
	return PreferencesDTO{
		EmailEnabled:          p.EmailEnabled,
		PollClosing24h:        p.PollClosing24h,
		PollClosing1h:         p.PollClosing1h,
		PollClosedImmediately: p.PollClosedImmediately,
		NewPollNotifications:  p.NewPollNotifications,
		VotingReminders:       p.VotingReminders,
		ResultsAnnouncements:  p.ResultsAnnouncements,
		AdminNotifications:    p.AdminNotifications,
		Frequency:             string(p.Frequency),
		QuietHoursStart:       p.QuietHoursStart.String(),
		QuietHoursEnd:         p.QuietHoursEnd.String(),
		Timezone:              p.Timezone,
	}
}
