package dispatch

import (
	"time"

	"notifyd/internal/notify"
)

// inQuietWindow reports whether t falls inside the recipient's daily quiet
// window. The window is [start, end) in the clock's local day and may wrap
// midnight (22:00–07:00). Malformed bounds disable the window.
func inQuietWindow(qh notify.QuietHours, t time.Time) bool {
	start, okS := parseClock(qh.Start)
	end, okE := parseClock(qh.End)
	if !okS || !okE || start == end {
		return false
	}
	cur := t.Hour()*60 + t.Minute()
	if start < end {
		return cur >= start && cur < end
	}
	// Wraps midnight.
	return cur >= start || cur < end
}

func parseClock(v string) (minutes int, ok bool) {
	if len(v) != 5 || v[2] != ':' {
		return 0, false
	}
	hh := int(v[0]-'0')*10 + int(v[1]-'0')
	mm := int(v[3]-'0')*10 + int(v[4]-'0')
	if v[0] < '0' || v[0] > '9' || v[1] < '0' || v[1] > '9' ||
		v[3] < '0' || v[3] > '9' || v[4] < '0' || v[4] > '9' {
		return 0, false
	}
	if hh > 23 || mm > 59 {
		return 0, false
	}
	return hh*60 + mm, true
}
