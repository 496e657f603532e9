package core

import (
	"time"

	"polly/internal/types"
)

// PolicyEngine evaluates quiet-hours windows against a user's preferences.
// It is stateless; the logger is only used to surface fail-open decisions.
type PolicyEngine struct {
	logger types.Logger
}

// NewPolicyEngine creates a PolicyEngine.
func NewPolicyEngine(logger types.Logger) *PolicyEngine {
	return &PolicyEngine{logger: logger}
}

// InQuietHours reports whether the instant falls inside the user's quiet
// hours. The instant is converted to the user's timezone and compared in
// minutes-since-midnight space, so the window is a pure wall-clock concept
// and DST transitions cannot widen or shrink it.
//
// Edge cases:
//   - start == end: zero-length window, never quiet.
//   - start > end: overnight window (e.g. 22:00-08:00), wraps past midnight.
//   - unknown timezone: fail open (not quiet). Preferences are validated at
//     write time, so this only happens when the tz database itself changed.
func (e *PolicyEngine) InQuietHours(prefs *types.NotificationPreferences, instant time.Time) bool {
	loc, err := time.LoadLocation(prefs.Timezone)
	if err != nil {
		e.logger.Warn("unknown timezone in stored preferences, treating as not quiet",
			"user_id", prefs.UserID,
			"timezone", prefs.Timezone,
		)
		return false
	}

	local := instant.In(loc)
	nowMin := local.Hour()*60 + local.Minute()
	startMin := prefs.QuietHoursStart.Minutes()
	endMin := prefs.QuietHoursEnd.Minutes()

	switch {
	case startMin == endMin:
		return false
	case startMin < endMin:
		// Same-day window (e.g. 09:00-17:00).
		return nowMin >= startMin && nowMin < endMin
	default:
		// Overnight window (e.g. 22:00-08:00).
		return nowMin >= startMin || nowMin < endMin
	}
}

// NextDeliveryTime returns the earliest instant at or after the given one that
// is outside the user's quiet hours. If the instant is already deliverable it
// is returned unchanged. Otherwise the result is the end of the active window
// in the user's local timezone: today's end time when the clock has already
// wrapped past midnight (or the window is same-day), tomorrow's end time when
// the instant sits in the pre-midnight leg of an overnight window.
func (e *PolicyEngine) NextDeliveryTime(prefs *types.NotificationPreferences, instant time.Time) time.Time {
	if !e.InQuietHours(prefs, instant) {
		return instant
	}

	// InQuietHours returned true, so the timezone loaded successfully.
	loc, _ := time.LoadLocation(prefs.Timezone)
	local := instant.In(loc)
	nowMin := local.Hour()*60 + local.Minute()
	startMin := prefs.QuietHoursStart.Minutes()
	endMin := prefs.QuietHoursEnd.Minutes()
	end := prefs.QuietHoursEnd

	day := local
	if startMin > endMin && nowMin >= startMin {
		// Overnight window, pre-midnight leg: the window ends tomorrow.
		day = local.AddDate(0, 0, 1)
	}

	return time.Date(day.Year(), day.Month(), day.Day(), end.Hour, end.Minute, 0, 0, loc)
}
