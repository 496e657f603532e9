package types

import (
	"fmt"
	"time"
)

// ParseTimeOfDay parses a "HH:MM" or "HH:MM:SS" string into a TimeOfDay.
// Returns a validation AppError on malformed input or out-of-range components.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	var h, m, sec int
	n, err := fmt.Sscanf(s, "%d:%d:%d", &h, &m, &sec)
	if err != nil || n < 2 {
		// Retry as HH:MM; Sscanf on "22:00" stops at n=2 with an error.
		n2, err2 := fmt.Sscanf(s, "%d:%d", &h, &m)
		if err2 != nil || n2 != 2 {
			return TimeOfDay{}, NewAppError(ErrCodeValidationInvalidTimeOfDay,
				fmt.Sprintf("expected HH:MM or HH:MM:SS, got %q", s), nil)
		}
		sec = 0
	}
	if h < 0 || h > 23 || m < 0 || m > 59 || sec < 0 || sec > 59 {
		return TimeOfDay{}, NewAppError(ErrCodeValidationInvalidTimeOfDay,
			fmt.Sprintf("time out of range: %q", s), nil)
	}
	return TimeOfDay{Hour: h, Minute: m, Second: sec}, nil
}

// Validate checks a preferences record at the store boundary. Malformed
// updates are rejected here synchronously and never reach the scheduling core.
func (p *NotificationPreferences) Validate() error {
	if p.UserID == "" {
		return NewAppError(ErrCodeValidationMissingField, "user_id is required", nil)
	}
	if !ValidFrequency(p.Frequency) {
		return NewAppError(ErrCodeValidationInvalidFrequency,
			fmt.Sprintf("unknown frequency %q", p.Frequency), nil)
	}
	if p.Timezone == "" {
		return NewAppError(ErrCodeValidationInvalidTimezone, "timezone is required", nil)
	}
	if _, err := time.LoadLocation(p.Timezone); err != nil {
		return NewAppError(ErrCodeValidationInvalidTimezone,
			fmt.Sprintf("unknown IANA timezone %q", p.Timezone), err)
	}
	// Zero-length and inverted windows are accepted as given; the quiet-hours
	// evaluator treats start==end as "never quiet".
	return nil
}
