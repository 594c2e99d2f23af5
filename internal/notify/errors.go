package notify

import (
	"errors"
	"fmt"
)

// Error taxonomy. CRUD and send operations wrap these sentinels with context
// (entity kind + id), so callers branch with errors.Is.
var (
	// ErrNotFound: an unknown id was referenced.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate: id collision on create.
	ErrDuplicate = errors.New("already exists")
	// ErrValidation: malformed configuration or input.
	ErrValidation = errors.New("validation failed")
)

// ChannelSendError is a transport-level failure from a channel sender.
// The dispatcher recovers it locally via the retry loop; it only surfaces as a
// terminal failed log status, never as an error from Send.
type ChannelSendError struct {
	Channel string
	Reason  string
	Err     error
}

func (e *ChannelSendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("channel %s send failed: %s: %v", e.Channel, e.Reason, e.Err)
	}
	return fmt.Sprintf("channel %s send failed: %s", e.Channel, e.Reason)
}

func (e *ChannelSendError) Unwrap() error { return e.Err }
