package rule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"

	"notifyd/internal/notify"
)

// Schedule descriptors accepted on a rule trigger:
//   - "daily@HH:MM"          fire every day at HH:MM
//   - "weekly@dow:HH:MM"     dow is mon..sun or 0..6 (0 = Sunday)
//   - "monthly@D:HH:MM"      D is the day of month 1..31
//   - anything else          treated as a raw cron expression
//
// NormalizeSchedule converts a descriptor to the cron expression handed to
// robfig/cron, validating it in the process.

var reHHMM = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

var dowNames = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// NormalizeSchedule returns the cron expression for a schedule descriptor.
// Invalid descriptors fail with a wrapped notify.ErrValidation.
func NormalizeSchedule(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", fmt.Errorf("schedule required: %w", notify.ErrValidation)
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "daily@"):
		hh, mm, err := parseHHMM(s[len("daily@"):])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d %d * * *", mm, hh), nil

	case strings.HasPrefix(low, "weekly@"):
		rest := s[len("weekly@"):]
		dowStr, clock, ok := strings.Cut(rest, ":")
		if !ok {
			return "", fmt.Errorf("weekly schedule %q needs dow:HH:MM: %w", raw, notify.ErrValidation)
		}
		dow, err := parseDow(dowStr)
		if err != nil {
			return "", err
		}
		hh, mm, err := parseHHMM(clock)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d %d * * %d", mm, hh, dow), nil

	case strings.HasPrefix(low, "monthly@"):
		rest := s[len("monthly@"):]
		dayStr, clock, ok := strings.Cut(rest, ":")
		if !ok {
			return "", fmt.Errorf("monthly schedule %q needs D:HH:MM: %w", raw, notify.ErrValidation)
		}
		day, err := strconv.Atoi(strings.TrimSpace(dayStr))
		if err != nil || day < 1 || day > 31 {
			return "", fmt.Errorf("monthly schedule %q: day must be 1..31: %w", raw, notify.ErrValidation)
		}
		hh, mm, err := parseHHMM(clock)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d %d %d * *", mm, hh, day), nil
	}

	// Raw cron: validate before accepting.
	if _, err := cronParser.Parse(s); err != nil {
		return "", fmt.Errorf("invalid schedule %q (use daily@HH:MM, weekly@dow:HH:MM, monthly@D:HH:MM, or a cron expression): %w", raw, notify.ErrValidation)
	}
	return s, nil
}

func parseHHMM(v string) (hh, mm int, err error) {
	m := reHHMM.FindStringSubmatch(strings.TrimSpace(v))
	if m == nil {
		return 0, 0, fmt.Errorf("invalid time %q (want HH:MM): %w", v, notify.ErrValidation)
	}
	hh, _ = strconv.Atoi(m[1])
	mm, _ = strconv.Atoi(m[2])
	if hh > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q: %w", v, notify.ErrValidation)
	}
	if mm > 59 {
		return 0, 0, fmt.Errorf("invalid minutes in %q: %w", v, notify.ErrValidation)
	}
	return hh, mm, nil
}

func parseDow(v string) (int, error) {
	v = strings.ToLower(strings.TrimSpace(v))
	if d, ok := dowNames[v]; ok {
		return d, nil
	}
	if d, err := strconv.Atoi(v); err == nil && d >= 0 && d <= 6 {
		return d, nil
	}
	return 0, fmt.Errorf("invalid day of week %q (mon..sun or 0..6): %w", v, notify.ErrValidation)
}
