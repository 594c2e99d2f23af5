package rule

import (
	"context"
	"errors"
	"testing"
	"time"

	"notifyd/internal/notify"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

func validRule() *notify.Rule {
	return &notify.Rule{
		ID: "disk-critical",
		Trigger: notify.Trigger{
			Type:       "disk.usage",
			Conditions: map[string]string{"severity": "critical"},
		},
		TemplateID: "tpl-disk",
		Recipients: []string{"ops@example.com"},
		Enabled:    true,
	}
}

func TestMatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*notify.Rule)
		ev     notify.Event
		want   bool
	}{
		{
			name: "type and conditions match",
			ev:   notify.Event{Type: "disk.usage", Context: map[string]string{"severity": "critical", "extra": "ok"}},
			want: true,
		},
		{
			name: "wrong type",
			ev:   notify.Event{Type: "cpu.load", Context: map[string]string{"severity": "critical"}},
			want: false,
		},
		{
			name: "condition value differs",
			ev:   notify.Event{Type: "disk.usage", Context: map[string]string{"severity": "warning"}},
			want: false,
		},
		{
			name: "condition key absent",
			ev:   notify.Event{Type: "disk.usage"},
			want: false,
		},
		{
			name:   "disabled rule never matches",
			mutate: func(r *notify.Rule) { r.Enabled = false },
			ev:     notify.Event{Type: "disk.usage", Context: map[string]string{"severity": "critical"}},
			want:   false,
		},
		{
			name:   "facility filter admits member",
			mutate: func(r *notify.Rule) { r.FacilityFilter = []string{"fac-1", "fac-2"} },
			ev:     notify.Event{Type: "disk.usage", Context: map[string]string{"severity": "critical"}, FacilityID: "fac-2"},
			want:   true,
		},
		{
			name:   "facility filter rejects outsider",
			mutate: func(r *notify.Rule) { r.FacilityFilter = []string{"fac-1"} },
			ev:     notify.Event{Type: "disk.usage", Context: map[string]string{"severity": "critical"}, FacilityID: "fac-9"},
			want:   false,
		},
		{
			name:   "device filter rejects outsider",
			mutate: func(r *notify.Rule) { r.DeviceFilter = []string{"dev-1"} },
			ev:     notify.Event{Type: "disk.usage", Context: map[string]string{"severity": "critical"}, DeviceID: "dev-2"},
			want:   false,
		},
		{
			name:   "schedule-only rule never matches events",
			mutate: func(r *notify.Rule) { r.Trigger = notify.Trigger{Schedule: "daily@08:00"} },
			ev:     notify.Event{Type: "disk.usage"},
			want:   false,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			r := validRule()
			if tt.mutate != nil {
				tt.mutate(r)
			}
			if got := Matches(r, tt.ev); got != tt.want {
				t.Fatalf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestServiceValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*notify.Rule)
		wantOK bool
	}{
		{"valid", func(*notify.Rule) {}, true},
		{"valid schedule", func(r *notify.Rule) { r.Trigger = notify.Trigger{Schedule: "daily@06:00"} }, true},
		{"empty id", func(r *notify.Rule) { r.ID = "" }, false},
		{"no template", func(r *notify.Rule) { r.TemplateID = "" }, false},
		{"no trigger at all", func(r *notify.Rule) { r.Trigger = notify.Trigger{} }, false},
		{"no recipients", func(r *notify.Rule) { r.Recipients = nil }, false},
		{"bad schedule", func(r *notify.Rule) { r.Trigger = notify.Trigger{Schedule: "yearly@never"} }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(storage.NewMemory().Rules(), logx.Nop())
			r := validRule()
			tt.mutate(r)
			_, err := svc.Create(ctx, r)
			if tt.wantOK && err != nil {
				t.Fatalf("create: %v", err)
			}
			if !tt.wantOK && !errors.Is(err, notify.ErrValidation) {
				t.Fatalf("create: got %v, want ErrValidation", err)
			}
		})
	}
}

func TestServiceUpdatePreservesCounters(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := NewService(storage.NewMemory().Rules(), logx.Nop())

	created, err := svc.Create(ctx, validRule())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	fired := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := svc.RecordTrigger(ctx, created.ID, fired); err != nil {
		t.Fatalf("record trigger: %v", err)
	}

	upd := validRule()
	upd.Recipients = []string{"oncall@example.com"}
	upd.TriggerCount = 99 // caller-supplied counters are ignored
	got, err := svc.Update(ctx, upd)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.TriggerCount != 1 {
		t.Fatalf("trigger count: got %d, want 1", got.TriggerCount)
	}
	if got.LastTriggered == nil || !got.LastTriggered.Equal(fired) {
		t.Fatalf("last triggered lost: %v", got.LastTriggered)
	}
	if !got.CreatedAt.Equal(created.CreatedAt) {
		t.Fatal("createdAt not preserved")
	}
}

func TestServiceMatchEvent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := NewService(storage.NewMemory().Rules(), logx.Nop())

	a := validRule()
	a.ID = "a"
	b := validRule()
	b.ID = "b"
	b.Trigger.Conditions = map[string]string{"severity": "warning"}
	c := validRule()
	c.ID = "c"
	c.Enabled = false
	for _, r := range []*notify.Rule{a, b, c} {
		if _, err := svc.Create(ctx, r); err != nil {
			t.Fatalf("create %s: %v", r.ID, err)
		}
	}

	hits, err := svc.MatchEvent(ctx, notify.Event{
		Type:    "disk.usage",
		Context: map[string]string{"severity": "critical"},
	})
	if err != nil {
		t.Fatalf("match event: %v", err)
	}
	if len(hits) != 1 || hits[0].ID != "a" {
		t.Fatalf("got %d hits, want exactly rule a", len(hits))
	}
}
