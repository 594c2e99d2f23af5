package notify

// Status is the finite delivery state of a NotificationLog.
type Status string

const (
	StatusPending      Status = "pending"
	StatusSent         Status = "sent"
	StatusDelivered    Status = "delivered"
	StatusFailed       Status = "failed"
	StatusAcknowledged Status = "acknowledged"
)

// CanTransition reports whether a log status may move from → to.
//
// Allowed edges:
//
//	pending   → sent | failed
//	sent      → delivered | acknowledged
//	delivered → acknowledged
//
// failed and acknowledged are terminal. A send that gets stuck is reported
// failed only while still pending; once sent it never regresses.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusSent || to == StatusFailed
	case StatusSent:
		return to == StatusDelivered || to == StatusAcknowledged
	case StatusDelivered:
		return to == StatusAcknowledged
	default:
		return false
	}
}

// Terminal reports whether no further transition (other than the explicit
// acknowledgement edge) can leave s.
func Terminal(s Status) bool {
	return s == StatusFailed || s == StatusAcknowledged
}
