package rule

import "notifyd/internal/notify"

// Matches reports whether an enabled rule fires for the event.
//
// A rule matches when its trigger type equals the event type, every key in
// the trigger's conditions appears in the event context with an equal value,
// and the event's facility/device ids pass the rule's membership filters
// (an empty filter admits everything).
func Matches(r *notify.Rule, ev notify.Event) bool {
	if !r.Enabled || r.Trigger.Type == "" || r.Trigger.Type != ev.Type {
		return false
	}
	for k, want := range r.Trigger.Conditions {
		got, ok := ev.Context[k]
		if !ok || got != want {
			return false
		}
	}
	if len(r.FacilityFilter) > 0 && !contains(r.FacilityFilter, ev.FacilityID) {
		return false
	}
	if len(r.DeviceFilter) > 0 && !contains(r.DeviceFilter, ev.DeviceID) {
		return false
	}
	return true
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
