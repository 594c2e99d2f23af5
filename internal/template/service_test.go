package template

import (
	"context"
	"errors"
	"testing"

	"notifyd/internal/notify"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

func validTemplate() *notify.Template {
	return &notify.Template{
		ID:            "tpl-maintenance",
		Type:          "maintenance",
		Subject:       "Maintenance due: {{deviceName}}",
		Body:          "Device {{deviceName}} at {{facility}} is due for maintenance.",
		ChannelIDs:    []string{"email-primary"},
		VariableNames: []string{"deviceName", "facility"},
		Priority:      notify.PriorityHigh,
		Active:        true,
	}
}

func TestTemplateValidation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*notify.Template)
		wantOK bool
	}{
		{"valid", func(*notify.Template) {}, true},
		{"no priority defaults fine", func(tp *notify.Template) { tp.Priority = "" }, true},
		{"empty id", func(tp *notify.Template) { tp.ID = "" }, false},
		{"empty channelIds", func(tp *notify.Template) { tp.ChannelIDs = nil }, false},
		{"bad priority", func(tp *notify.Template) { tp.Priority = "urgent" }, false},
		{"undeclared placeholder in body", func(tp *notify.Template) {
			tp.Body = "Hello {{undeclared}}"
		}, false},
		{"undeclared placeholder in subject", func(tp *notify.Template) {
			tp.Subject = "{{nope}}"
		}, false},
		{"escalation zero delay", func(tp *notify.Template) {
			tp.Escalations = []notify.EscalationRule{{
				ID: "e1", DelayMinutes: 0,
				Condition: notify.EscalateNotAcknowledged,
				Channels:  []string{"sms-primary"},
			}}
		}, false},
		{"escalation bad condition", func(tp *notify.Template) {
			tp.Escalations = []notify.EscalationRule{{
				ID: "e1", DelayMinutes: 15, Condition: "shout_louder",
				Channels: []string{"sms-primary"},
			}}
		}, false},
		{"escalation no targets", func(tp *notify.Template) {
			tp.Escalations = []notify.EscalationRule{{
				ID: "e1", DelayMinutes: 15, Condition: notify.EscalateNotAcknowledged,
			}}
		}, false},
		{"valid escalation", func(tp *notify.Template) {
			tp.Escalations = []notify.EscalationRule{{
				ID: "e1", DelayMinutes: 15,
				Condition:  notify.EscalateNotAcknowledged,
				Channels:   []string{"sms-primary"},
				Recipients: []string{"oncall@example.com"},
			}}
		}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(storage.NewMemory().Templates(), logx.Nop())
			tp := validTemplate()
			tt.mutate(tp)
			_, err := svc.Create(ctx, tp)
			if tt.wantOK && err != nil {
				t.Fatalf("create: %v", err)
			}
			if !tt.wantOK && !errors.Is(err, notify.ErrValidation) {
				t.Fatalf("create: got %v, want ErrValidation", err)
			}
		})
	}
}

func TestTemplateCRUD(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	svc := NewService(storage.NewMemory().Templates(), logx.Nop())

	created, err := svc.Create(ctx, validTemplate())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.Create(ctx, validTemplate()); !errors.Is(err, notify.ErrDuplicate) {
		t.Fatalf("duplicate: got %v, want ErrDuplicate", err)
	}

	upd := validTemplate()
	upd.Subject = "Overdue: {{deviceName}}"
	got, err := svc.Update(ctx, upd)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !got.CreatedAt.Equal(created.CreatedAt) {
		t.Fatal("createdAt not preserved on update")
	}

	if err := svc.Delete(ctx, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.Get(ctx, created.ID); !errors.Is(err, notify.ErrNotFound) {
		t.Fatalf("get after delete: got %v, want ErrNotFound", err)
	}
}
