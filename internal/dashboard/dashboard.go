// Package dashboard computes delivery statistics from the notification log.
package dashboard

import (
	"context"
	"math"
	"time"

	"notifyd/internal/notify"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

// ChannelStats is the per-channel slice of the dashboard.
type ChannelStats struct {
	Total        int `json:"total"`
	Sent         int `json:"sent"`
	Failed       int `json:"failed"`
	Acknowledged int `json:"acknowledged"`
}

// Dashboard is a point-in-time aggregate over all notification logs.
// Rates are percentages rounded to the nearest integer; with no logs at all
// every rate is 0. TotalSent counts every successfully delivered log,
// acknowledged ones included.
type Dashboard struct {
	TotalNotifications int                     `json:"totalNotifications"`
	TotalSent          int                     `json:"totalSent"`
	DeliveryRate       int                     `json:"deliveryRate"`
	AcknowledgeRate    int                     `json:"acknowledgeRate"`
	FailureRate        int                     `json:"failureRate"`
	Channels           map[string]ChannelStats `json:"channels"`
	EnabledRules       int                     `json:"enabledRules"`
	OpenEscalations    int                     `json:"openEscalations"`
	GeneratedAt        time.Time               `json:"generatedAt"`
}

// Aggregator reads the stores on demand; it holds no state of its own.
type Aggregator struct {
	store storage.Store
	log   logx.Logger
	now   func() time.Time
}

func New(store storage.Store, log logx.Logger) *Aggregator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Aggregator{
		store: store,
		log:   log.With(logx.String("comp", "dashboard")),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

func (a *Aggregator) Compute(ctx context.Context) (*Dashboard, error) {
	logs, err := a.store.Logs().List(ctx, storage.LogQuery{})
	if err != nil {
		return nil, err
	}
	rules, err := a.store.Rules().List(ctx)
	if err != nil {
		return nil, err
	}

	now := a.now()
	d := &Dashboard{
		Channels:    map[string]ChannelStats{},
		GeneratedAt: now,
	}

	// Statuses partition the logs, but an acknowledged log was necessarily
	// delivered first, so it counts toward TotalSent as well. Keeps the
	// delivery rate from sagging as operators acknowledge alerts.
	acked := 0
	failed := 0
	for _, l := range logs {
		d.TotalNotifications++
		st := d.Channels[l.Channel]
		st.Total++
		switch l.Status {
		case notify.StatusSent, notify.StatusDelivered:
			d.TotalSent++
			st.Sent++
		case notify.StatusAcknowledged:
			d.TotalSent++
			st.Sent++
			st.Acknowledged++
			acked++
		case notify.StatusFailed:
			st.Failed++
			failed++
		}
		d.Channels[l.Channel] = st
	}
	d.DeliveryRate = percent(d.TotalSent, d.TotalNotifications)
	d.AcknowledgeRate = percent(acked, d.TotalNotifications)
	d.FailureRate = percent(failed, d.TotalNotifications)

	for _, r := range rules {
		if r.Enabled {
			d.EnabledRules++
		}
	}

	d.OpenEscalations = a.openEscalations(ctx, logs, now)
	return d, nil
}

// openEscalations counts logs past an escalation threshold that no scan has
// picked up yet.
func (a *Aggregator) openEscalations(ctx context.Context, logs []*notify.NotificationLog, now time.Time) int {
	// Template escalation delays are cached per id: the log list typically
	// references few distinct templates.
	delays := map[string]time.Duration{}
	lookup := func(id string) time.Duration {
		if d, ok := delays[id]; ok {
			return d
		}
		var minDelay time.Duration
		tpl, err := a.store.Templates().Get(ctx, id)
		if err == nil {
			for _, esc := range tpl.Escalations {
				d := time.Duration(esc.DelayMinutes) * time.Minute
				if minDelay == 0 || d < minDelay {
					minDelay = d
				}
			}
		}
		delays[id] = minDelay
		return minDelay
	}

	open := 0
	for _, l := range logs {
		if l.Status != notify.StatusSent && l.Status != notify.StatusDelivered {
			continue
		}
		if l.Priority != notify.PriorityCritical && l.Priority != notify.PriorityHigh {
			continue
		}
		if l.LastEscalatedAt != nil {
			continue
		}
		delay := lookup(l.TemplateID)
		if delay == 0 {
			continue
		}
		since := l.CreatedAt
		if l.SentAt != nil {
			since = *l.SentAt
		}
		if now.Sub(since) >= delay {
			open++
		}
	}
	return open
}

// percent returns part/total as a percentage rounded to the nearest integer.
// A zero total is 0, not an error.
func percent(part, total int) int {
	if total == 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(total) * 100))
}
