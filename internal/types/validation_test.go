package types

import (
	"errors"
	"testing"
)

func TestParseTimeOfDay(t *testing.T) {
	tests := []struct {
		input   string
		want    TimeOfDay
		wantErr bool
	}{
		{"22:00", TimeOfDay{Hour: 22}, false},
		{"08:30", TimeOfDay{Hour: 8, Minute: 30}, false},
		{"22:00:15", TimeOfDay{Hour: 22, Second: 15}, false},
		{"00:00", TimeOfDay{}, false},
		{"23:59:59", TimeOfDay{Hour: 23, Minute: 59, Second: 59}, false},
		{"24:00", TimeOfDay{}, true},
		{"12:60", TimeOfDay{}, true},
		{"12:00:60", TimeOfDay{}, true},
		{"-1:00", TimeOfDay{}, true},
		{"noon", TimeOfDay{}, true},
		{"", TimeOfDay{}, true},
		{"12", TimeOfDay{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseTimeOfDay(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseTimeOfDay(%q) = %+v, want error", tt.input, got)
				}
				var appErr *AppError
				if !errors.As(err, &appErr) || appErr.Code != ErrCodeValidationInvalidTimeOfDay {
					t.Errorf("ParseTimeOfDay(%q) error = %v, want %s", tt.input, err, ErrCodeValidationInvalidTimeOfDay)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseTimeOfDay(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseTimeOfDay(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestPreferencesValidate(t *testing.T) {
	valid := DefaultPreferences("user_1")
	if err := valid.Validate(); err != nil {
		t.Fatalf("default preferences must validate, got: %v", err)
	}

	tests := []struct {
		name     string
		mutate   func(*NotificationPreferences)
		wantCode ErrorCode
	}{
		{
			name:     "missing user id",
			mutate:   func(p *NotificationPreferences) { p.UserID = "" },
			wantCode: ErrCodeValidationMissingField,
		},
		{
			name:     "unknown frequency",
			mutate:   func(p *NotificationPreferences) { p.Frequency = "hourly" },
			wantCode: ErrCodeValidationInvalidFrequency,
		},
		{
			name:     "empty timezone",
			mutate:   func(p *NotificationPreferences) { p.Timezone = "" },
			wantCode: ErrCodeValidationInvalidTimezone,
		},
		{
			name:     "bogus timezone",
			mutate:   func(p *NotificationPreferences) { p.Timezone = "Mars/Olympus_Mons" },
			wantCode: ErrCodeValidationInvalidTimezone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultPreferences("user_1")
			tt.mutate(&p)
			err := p.Validate()
			if err == nil {
				t.Fatal("expected validation error, got nil")
			}
			var appErr *AppError
			if !errors.As(err, &appErr) || appErr.Code != tt.wantCode {
				t.Errorf("error = %v, want code %s", err, tt.wantCode)
			}
		})
	}
}

func TestPreferencesValidate_ZeroLengthQuietWindowAccepted(t *testing.T) {
	p := DefaultPreferences("user_1")
	p.QuietHoursStart = TimeOfDay{Hour: 22}
	p.QuietHoursEnd = TimeOfDay{Hour: 22}
	if err := p.Validate(); err != nil {
		t.Errorf("start == end must be accepted, got: %v", err)
	}
}
