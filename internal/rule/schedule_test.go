package rule

import (
	"errors"
	"testing"

	"notifyd/internal/notify"
)

func TestNormalizeScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "daily", raw: "daily@08:00", want: "0 8 * * *"},
		{name: "daily late", raw: "daily@23:45", want: "45 23 * * *"},
		{name: "weekly name", raw: "weekly@mon:09:30", want: "30 9 * * 1"},
		{name: "weekly numeric", raw: "weekly@0:07:00", want: "0 7 * * 0"},
		{name: "monthly", raw: "monthly@1:00:00", want: "0 0 1 * *"},
		{name: "monthly mid", raw: "monthly@15:12:05", want: "5 12 15 * *"},
		{name: "raw cron", raw: "*/5 * * * *", want: "*/5 * * * *"},
		{name: "descriptor cron", raw: "@hourly", want: "@hourly"},
		{name: "surrounding space", raw: "  daily@08:00  ", want: "0 8 * * *"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeSchedule(tt.raw)
			if err != nil {
				t.Fatalf("NormalizeSchedule(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("NormalizeSchedule(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestNormalizeScheduleInvalid(t *testing.T) {
	t.Parallel()
	invalid := []string{
		"",
		"daily@25:00",
		"daily@08:61",
		"daily@8am",
		"weekly@noday:08:00",
		"weekly@7:08:00",
		"monthly@0:08:00",
		"monthly@32:08:00",
		"monthly@1",
		"not-a-schedule",
		"* * *",
	}
	for _, raw := range invalid {
		if _, err := NormalizeSchedule(raw); !errors.Is(err, notify.ErrValidation) {
			t.Fatalf("NormalizeSchedule(%q): got %v, want ErrValidation", raw, err)
		}
	}
}
