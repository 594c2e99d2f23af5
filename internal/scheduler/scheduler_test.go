package scheduler

import (
	"context"
	"testing"
	"time"

	"notifyd/internal/notify"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

func seedRules(t *testing.T, repo storage.RuleRepo) {
	t.Helper()
	ctx := context.Background()
	rules := []*notify.Rule{
		{ID: "daily", Trigger: notify.Trigger{Schedule: "daily@08:00"}, TemplateID: "t", Recipients: []string{"a"}, Enabled: true},
		{ID: "cron", Trigger: notify.Trigger{Schedule: "*/5 * * * *"}, TemplateID: "t", Recipients: []string{"a"}, Enabled: true},
		{ID: "disabled", Trigger: notify.Trigger{Schedule: "daily@09:00"}, TemplateID: "t", Recipients: []string{"a"}, Enabled: false},
		{ID: "event-only", Trigger: notify.Trigger{Type: "disk.usage"}, TemplateID: "t", Recipients: []string{"a"}, Enabled: true},
		{ID: "broken", Trigger: notify.Trigger{Schedule: "sometimes"}, TemplateID: "t", Recipients: []string{"a"}, Enabled: true},
	}
	for _, r := range rules {
		if err := repo.Create(ctx, r); err != nil {
			t.Fatalf("seed %s: %v", r.ID, err)
		}
	}
}

func TestStartRegistersScheduleRules(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := storage.NewMemory().Rules()
	seedRules(t, repo)

	svc := New(Config{Enabled: true}, repo, func(context.Context, *notify.Rule) {}, logx.Nop())
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop(ctx)

	// Only enabled rules with a valid schedule register: daily + cron.
	if got := svc.Entries(); got != 2 {
		t.Fatalf("entries: got %d, want 2", got)
	}
}

func TestRebuildPicksUpNewRules(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := storage.NewMemory().Rules()
	seedRules(t, repo)

	svc := New(Config{Enabled: true}, repo, func(context.Context, *notify.Rule) {}, logx.Nop())
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer svc.Stop(ctx)

	if err := repo.Create(ctx, &notify.Rule{
		ID:         "weekly",
		Trigger:    notify.Trigger{Schedule: "weekly@mon:07:00"},
		TemplateID: "t", Recipients: []string{"a"}, Enabled: true,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := svc.Rebuild(ctx); err != nil {
		t.Fatalf("rebuild: %v", err)
	}
	if got := svc.Entries(); got != 3 {
		t.Fatalf("entries after rebuild: got %d, want 3", got)
	}
}

func TestApplyDisableStops(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	repo := storage.NewMemory().Rules()
	seedRules(t, repo)

	svc := New(Config{Enabled: true}, repo, func(context.Context, *notify.Rule) {}, logx.Nop())
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := svc.Apply(stopCtx, Config{Enabled: false}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got := svc.Entries(); got != 0 {
		t.Fatalf("entries after disable: got %d, want 0", got)
	}
}
