// Package core wires the notification services together and exposes the
// engine operations the API and scheduler call into.
package core

import (
	"context"
	"time"

	"notifyd/internal/channel"
	"notifyd/internal/dashboard"
	"notifyd/internal/dispatch"
	"notifyd/internal/eventbus"
	"notifyd/internal/notify"
	"notifyd/internal/rule"
	"notifyd/internal/storage"
	"notifyd/internal/template"
	logx "notifyd/pkg/logx"
)

// Engine is the primary entry point for dispatch, acknowledgement, event
// ingestion, and reporting. All methods are safe for concurrent use.
type Engine struct {
	store storage.Store

	Channels  *channel.Registry
	Templates *template.Service
	Rules     *rule.Service

	disp *dispatch.Service
	agg  *dashboard.Aggregator
	bus  eventbus.Bus
	log  logx.Logger
	now  func() time.Time
}

func NewEngine(store storage.Store, disp *dispatch.Service, bus eventbus.Bus, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		store:     store,
		Channels:  channel.NewRegistry(store.Channels(), log),
		Templates: template.NewService(store.Templates(), log),
		Rules:     rule.NewService(store.Rules(), log),
		disp:      disp,
		agg:       dashboard.New(store, log),
		bus:       bus,
		log:       log.With(logx.String("comp", "engine")),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SendNotification renders and dispatches a template to the recipients.
// It returns one log per (recipient, channel) attempt chain; transport
// failures end up as failed logs, never as an error.
func (e *Engine) SendNotification(ctx context.Context, templateID string, recipients []string, variables map[string]string, priority notify.Priority) ([]*notify.NotificationLog, error) {
	return e.disp.Send(ctx, dispatch.Request{
		TemplateID: templateID,
		Recipients: recipients,
		Variables:  variables,
		Priority:   priority,
	})
}

// Acknowledge marks a log acknowledged. The first writer wins: a concurrent
// or repeated acknowledgement is a no-op that returns the settled log.
func (e *Engine) Acknowledge(ctx context.Context, logID, by string) (*notify.NotificationLog, error) {
	l, applied, err := e.store.Logs().Acknowledge(ctx, logID, by, e.now())
	if err != nil {
		return nil, err
	}
	if applied {
		e.log.Info("notification acknowledged",
			logx.String("log", l.ID), logx.String("by", by))
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeNotificationAcked, Data: map[string]string{
			"log": l.ID,
			"by":  by,
		}})
	}
	return l, nil
}

// ConfirmDelivery records a transport's arrival confirmation.
func (e *Engine) ConfirmDelivery(ctx context.Context, logID string) (*notify.NotificationLog, error) {
	return e.store.Logs().SetStatus(ctx, logID, notify.StatusDelivered, e.now(), "", -1)
}

// HandleEvent matches the event against enabled rules and dispatches each
// hit. The event context doubles as the template variable set.
func (e *Engine) HandleEvent(ctx context.Context, ev notify.Event) ([]*notify.NotificationLog, error) {
	hits, err := e.Rules.MatchEvent(ctx, ev)
	if err != nil {
		return nil, err
	}
	at := ev.At
	if at.IsZero() {
		at = e.now()
	}

	var out []*notify.NotificationLog
	for _, r := range hits {
		logs, err := e.fireRule(ctx, r, ev.Context, at)
		if err != nil {
			e.log.Warn("rule dispatch failed",
				logx.String("rule", r.ID),
				logx.String("template", r.TemplateID),
				logx.String("event", ev.Type),
				logx.Err(err))
			continue
		}
		out = append(out, logs...)
	}
	return out, nil
}

// FireScheduledRule dispatches a schedule-typed rule; the scheduler calls
// this when its cron entry comes due.
func (e *Engine) FireScheduledRule(ctx context.Context, r *notify.Rule) {
	if _, err := e.fireRule(ctx, r, nil, e.now()); err != nil {
		e.log.Warn("scheduled rule dispatch failed",
			logx.String("rule", r.ID), logx.Err(err))
	}
}

func (e *Engine) fireRule(ctx context.Context, r *notify.Rule, variables map[string]string, at time.Time) ([]*notify.NotificationLog, error) {
	tpl, err := e.store.Templates().Get(ctx, r.TemplateID)
	if err != nil {
		return nil, err
	}
	if !tpl.Active {
		e.log.Debug("rule references inactive template; skipping",
			logx.String("rule", r.ID), logx.String("template", tpl.ID))
		return nil, nil
	}

	if err := e.Rules.RecordTrigger(ctx, r.ID, at); err != nil {
		return nil, err
	}
	e.bus.Publish(eventbus.Event{Type: eventbus.TypeRuleTriggered, Data: map[string]string{
		"rule":     r.ID,
		"template": r.TemplateID,
	}})

	return e.disp.Send(ctx, dispatch.Request{
		TemplateID: r.TemplateID,
		Recipients: r.Recipients,
		Variables:  variables,
		RuleID:     r.ID,
	})
}

// GetDashboard computes the current delivery statistics.
func (e *Engine) GetDashboard(ctx context.Context) (*dashboard.Dashboard, error) {
	return e.agg.Compute(ctx)
}

// GetLogs returns the most recent logs, newest first.
func (e *Engine) GetLogs(ctx context.Context, limit int) ([]*notify.NotificationLog, error) {
	return e.store.Logs().List(ctx, storage.LogQuery{Limit: limit})
}

// GetLog returns one log by id.
func (e *Engine) GetLog(ctx context.Context, id string) (*notify.NotificationLog, error) {
	return e.store.Logs().Get(ctx, id)
}

// Preferences gives direct access to the per-user preference store.
func (e *Engine) Preferences() storage.PreferenceRepo {
	return e.store.Preferences()
}
