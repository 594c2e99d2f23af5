package storage

import (
	"context"
	"time"

	"notifyd/internal/notify"
)

// Config configures storage.
//
// Driver values:
//   - "memory": in-process maps (tests, dev)
//   - "file":   JSON snapshots + JSONL log journal
//   - "sqlite": SQLite database file
//   - "redis":  shared redis instance
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	RedisURL    string        // redis only
}

// Store aggregates the entity repositories.
type Store interface {
	Channels() ChannelRepo
	Templates() TemplateRepo
	Rules() RuleRepo
	Logs() LogRepo
	Preferences() PreferenceRepo
	Ping(ctx context.Context) error
	Close() error
}

// ChannelRepo persists delivery channels. Channels are never implicitly
// deleted; disable instead.
type ChannelRepo interface {
	List(ctx context.Context) ([]*notify.Channel, error)
	Get(ctx context.Context, id string) (*notify.Channel, error)
	Create(ctx context.Context, c *notify.Channel) error // notify.ErrDuplicate on id collision
	Update(ctx context.Context, c *notify.Channel) error // notify.ErrNotFound if absent
	Count(ctx context.Context) (int, error)
}

type TemplateRepo interface {
	List(ctx context.Context) ([]*notify.Template, error)
	Get(ctx context.Context, id string) (*notify.Template, error)
	Create(ctx context.Context, t *notify.Template) error
	Update(ctx context.Context, t *notify.Template) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

type RuleRepo interface {
	List(ctx context.Context) ([]*notify.Rule, error)
	Get(ctx context.Context, id string) (*notify.Rule, error)
	Create(ctx context.Context, r *notify.Rule) error
	Update(ctx context.Context, r *notify.Rule) error
	Delete(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
	// RecordTrigger increments triggerCount and sets lastTriggered atomically.
	RecordTrigger(ctx context.Context, id string, at time.Time) error
}

type PreferenceRepo interface {
	Get(ctx context.Context, userID string) (*notify.Preference, error)
	Put(ctx context.Context, p *notify.Preference) error
}

// LogQuery filters notification logs. Zero values mean "no filter".
type LogQuery struct {
	Statuses   []notify.Status
	Priorities []notify.Priority
	Channel    string
	RuleID     string
	Since      time.Time
	Until      time.Time
	// Unacknowledged keeps only logs whose status is not acknowledged.
	Unacknowledged bool
	Limit          int
}

func (q LogQuery) matches(l *notify.NotificationLog) bool {
	if len(q.Statuses) > 0 && !containsStatus(q.Statuses, l.Status) {
		return false
	}
	if len(q.Priorities) > 0 && !containsPriority(q.Priorities, l.Priority) {
		return false
	}
	if q.Channel != "" && l.Channel != q.Channel {
		return false
	}
	if q.RuleID != "" && l.RuleID != q.RuleID {
		return false
	}
	if !q.Since.IsZero() && l.CreatedAt.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && l.CreatedAt.After(q.Until) {
		return false
	}
	if q.Unacknowledged && l.Status == notify.StatusAcknowledged {
		return false
	}
	return true
}

func containsStatus(ss []notify.Status, s notify.Status) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

func containsPriority(ps []notify.Priority, p notify.Priority) bool {
	for _, x := range ps {
		if x == p {
			return true
		}
	}
	return false
}

// LogRepo is the append-oriented store of delivery attempts.
type LogRepo interface {
	Append(ctx context.Context, l *notify.NotificationLog) error
	Get(ctx context.Context, id string) (*notify.NotificationLog, error)
	// List returns logs most-recent-first (by createdAt).
	List(ctx context.Context, q LogQuery) ([]*notify.NotificationLog, error)
	Count(ctx context.Context) (int, error)

	// SetStatus applies a forward state-machine transition.
	// to=sent sets sentAt, to=delivered sets deliveredAt, to=failed sets
	// errorMessage. retryCount is updated when >= 0. Illegal transitions fail
	// with notify.ErrValidation.
	SetStatus(ctx context.Context, id string, to notify.Status, at time.Time, errMsg string, retryCount int) (*notify.NotificationLog, error)

	// Acknowledge moves a sent/delivered log to acknowledged.
	// First writer wins: a second call is a no-op returning (log, false, nil).
	// Acknowledging a pending or failed log fails with notify.ErrValidation.
	Acknowledge(ctx context.Context, id, by string, at time.Time) (*notify.NotificationLog, bool, error)

	// MarkEscalated sets lastEscalatedAt=at if the log has not been escalated
	// within the given window. Returns false when another scan already claimed
	// this log (idempotent escalation).
	MarkEscalated(ctx context.Context, id string, at time.Time, window time.Duration) (bool, error)
}
