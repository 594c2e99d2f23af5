// Package notify holds the engine's domain model: channels, templates,
// trigger rules, recipients, per-attempt notification logs, and the
// delivery-status state machine.
//
// # State machine
//
// A NotificationLog moves strictly forward:
//
//	pending → sent → delivered → acknowledged
//	pending → failed
//
// Once a log leaves pending it can never regress to failed, and a failed log
// can never be acknowledged. Transition legality lives in CanTransition so the
// storage drivers and the dispatcher enforce the same rules.
package notify
