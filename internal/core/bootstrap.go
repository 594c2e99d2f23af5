package core

import (
	"context"
	"time"

	"notifyd/internal/channel"
	"notifyd/internal/notify"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

// Bootstrap seeds default channels, starter templates, and sample rules into
// empty collections. Each collection is checked independently and only
// seeded when empty, so an operator wiping one collection on purpose never
// resurrects the others' defaults.
func Bootstrap(ctx context.Context, store storage.Store, log logx.Logger) error {
	if err := channel.SeedDefaults(ctx, store.Channels(), log); err != nil {
		return err
	}
	if err := seedTemplates(ctx, store.Templates(), log); err != nil {
		return err
	}
	return seedRules(ctx, store.Rules(), log)
}

func seedTemplates(ctx context.Context, repo storage.TemplateRepo, log logx.Logger) error {
	n, err := repo.Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	now := time.Now().UTC()
	tpls := []*notify.Template{
		{
			ID:            "maintenance-overdue",
			Type:          "maintenance",
			Subject:       "Maintenance overdue: {{deviceName}}",
			Body:          "Device {{deviceName}} at {{facility}} is overdue for maintenance since {{dueDate}}.",
			ChannelIDs:    []string{"email-primary", "in_app-primary"},
			VariableNames: []string{"deviceName", "facility", "dueDate"},
			Priority:      notify.PriorityHigh,
			Active:        true,
			Escalations: []notify.EscalationRule{{
				ID:           "maintenance-oncall",
				DelayMinutes: 60,
				Channels:     []string{"sms-primary"},
				Recipients:   nil, // escalate to the original recipient
				Condition:    notify.EscalateNotAcknowledged,
			}},
			CreatedAt: now,
			UpdatedAt: now,
		},
		{
			ID:            "device-failure",
			Type:          "device",
			Subject:       "Device failure: {{deviceName}}",
			Body:          "Device {{deviceName}} at {{facility}} reported: {{error}}.",
			ChannelIDs:    []string{"email-primary", "sms-primary", "in_app-primary"},
			VariableNames: []string{"deviceName", "facility", "error"},
			Priority:      notify.PriorityCritical,
			Active:        true,
			Escalations: []notify.EscalationRule{{
				ID:           "device-failure-oncall",
				DelayMinutes: 15,
				Channels:     []string{"phone-primary", "sms-primary"},
				Condition:    notify.EscalateNotAcknowledged,
			}},
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	for _, t := range tpls {
		if err := repo.Create(ctx, t); err != nil {
			return err
		}
	}
	log.Info("seeded starter templates", logx.Int("count", len(tpls)))
	return nil
}

func seedRules(ctx context.Context, repo storage.RuleRepo, log logx.Logger) error {
	n, err := repo.Count(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	now := time.Now().UTC()
	rules := []*notify.Rule{
		{
			ID: "device-failure-critical",
			Trigger: notify.Trigger{
				Type:       "device.failure",
				Conditions: map[string]string{"severity": "critical"},
			},
			TemplateID: "device-failure",
			Recipients: []string{"ops@example.com"},
			Enabled:    true,
			CreatedAt:  now,
			UpdatedAt:  now,
		},
		{
			ID: "maintenance-daily-digest",
			Trigger: notify.Trigger{
				Schedule: "daily@08:00",
			},
			TemplateID: "maintenance-overdue",
			Recipients: []string{"ops@example.com"},
			Enabled:    false, // sample; enable once recipients are real
			CreatedAt:  now,
			UpdatedAt:  now,
		},
	}
	for _, r := range rules {
		if err := repo.Create(ctx, r); err != nil {
			return err
		}
	}
	log.Info("seeded sample rules", logx.Int("count", len(rules)))
	return nil
}
