package dispatch

import (
	"time"

	"notifyd/internal/notify"
)

// Config tunes the dispatch pipeline. Zero values take defaults in Apply.
type Config struct {
	Workers    int
	QueueSize  int
	RatePerSec int
	// SendTimeout bounds one transport attempt. A slow sender fails the
	// attempt instead of stalling the pipeline.
	SendTimeout time.Duration
}

// Request is one dispatch order: render the template for each recipient and
// fan out across the template's channels.
type Request struct {
	TemplateID string
	Recipients []string
	Variables  map[string]string
	// Priority overrides the template's priority when set.
	Priority notify.Priority
	// RuleID tags resulting logs with the rule that fired, if any.
	RuleID string
	// ChannelIDs overrides the template's channel list (used by escalations).
	ChannelIDs []string
	// Metadata is copied onto every resulting log.
	Metadata map[string]string
}

// task is one (recipient, channel) send with its pending log already
// durably recorded.
type task struct {
	log     *notify.NotificationLog
	retry   notify.RetryPolicy
	chType  notify.ChannelType
	dest    string
	config  map[string]string
	results []*notify.NotificationLog
	idx     int
	done    func()
}
