package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"notifyd/internal/channel"
	"notifyd/internal/eventbus"
	"notifyd/internal/notify"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

func testStore(t *testing.T) storage.Store {
	t.Helper()
	ctx := context.Background()
	s := storage.NewMemory()

	mk := func(id string, typ notify.ChannelType, enabled bool) *notify.Channel {
		return &notify.Channel{
			ID:      id,
			Type:    typ,
			Enabled: enabled,
			Retry:   notify.RetryPolicy{MaxRetries: 2, RetryDelaySeconds: 0.001, BackoffMultiplier: 2},
		}
	}
	for _, ch := range []*notify.Channel{
		mk("email-primary", notify.ChannelEmail, true),
		mk("sms-primary", notify.ChannelSMS, true),
		mk("push-dead", notify.ChannelPush, false),
	} {
		if err := s.Channels().Create(ctx, ch); err != nil {
			t.Fatalf("seed channel %s: %v", ch.ID, err)
		}
	}
	if err := s.Templates().Create(ctx, &notify.Template{
		ID:            "tpl-device",
		Type:          "device",
		Subject:       "Device {{deviceName}} failed",
		Body:          "Check {{deviceName}} immediately.",
		ChannelIDs:    []string{"email-primary", "sms-primary", "push-dead"},
		VariableNames: []string{"deviceName"},
		Priority:      notify.PriorityCritical,
		Active:        true,
	}); err != nil {
		t.Fatalf("seed template: %v", err)
	}
	return s
}

func startService(t *testing.T, store storage.Store, senders *channel.Senders) *Service {
	t.Helper()
	svc := New(Config{Workers: 4, QueueSize: 16, RatePerSec: 1000, SendTimeout: time.Second},
		store, senders, eventbus.New(), logx.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	svc.Start(ctx)
	t.Cleanup(func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
		defer stopCancel()
		svc.Stop(stopCtx)
		cancel()
	})
	return svc
}

func okSender() channel.Sender {
	return channel.SenderFunc(func(context.Context, string, string, string, map[string]string) error {
		return nil
	})
}

func TestSendFanOut(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testStore(t)

	senders := channel.NewSenders()
	senders.Register(notify.ChannelEmail, okSender())
	senders.Register(notify.ChannelSMS, okSender())
	svc := startService(t, store, senders)

	logs, err := svc.Send(ctx, Request{
		TemplateID: "tpl-device",
		Recipients: []string{"alice@example.com", "bob@example.com"},
		Variables:  map[string]string{"deviceName": "OCT-1"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	// 2 recipients x 2 enabled channels; the disabled channel is skipped.
	if len(logs) != 4 {
		t.Fatalf("got %d logs, want 4", len(logs))
	}
	for _, l := range logs {
		if l.Status != notify.StatusSent {
			t.Fatalf("log %s: status %s, want sent", l.ID, l.Status)
		}
		if l.SentAt == nil {
			t.Fatalf("log %s: sentAt not set", l.ID)
		}
		if l.Subject != "Device OCT-1 failed" {
			t.Fatalf("log %s: subject %q not rendered", l.ID, l.Subject)
		}
		if l.Channel == "push-dead" {
			t.Fatal("disabled channel was dispatched")
		}
		if vars := l.Variables(); vars["deviceName"] != "OCT-1" {
			t.Fatalf("log %s: variable snapshot missing: %v", l.ID, vars)
		}
	}

	// All logs are durably recorded by the time Send returns.
	n, err := store.Logs().Count(ctx)
	if err != nil || n != 4 {
		t.Fatalf("durable count: got (%d, %v), want (4, nil)", n, err)
	}
}

func TestSendRetryBound(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testStore(t)

	var emailAttempts atomic.Int32
	senders := channel.NewSenders()
	senders.Register(notify.ChannelEmail, channel.SenderFunc(
		func(context.Context, string, string, string, map[string]string) error {
			emailAttempts.Add(1)
			return &notify.ChannelSendError{Channel: "email-primary", Reason: "smtp: connection refused"}
		}))
	senders.Register(notify.ChannelSMS, okSender())
	svc := startService(t, store, senders)

	logs, err := svc.Send(ctx, Request{
		TemplateID: "tpl-device",
		Recipients: []string{"alice@example.com"},
		Variables:  map[string]string{"deviceName": "OCT-1"},
	})
	// A transport failure must never surface as a Send error.
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("got %d logs, want 2", len(logs))
	}

	var failed, sent *notify.NotificationLog
	for _, l := range logs {
		switch l.Channel {
		case "email-primary":
			failed = l
		case "sms-primary":
			sent = l
		}
	}
	if failed == nil || sent == nil {
		t.Fatalf("fan-out incomplete: %+v", logs)
	}

	// maxRetries=2: initial try + 2 retries = 3 attempts, retryCount 2.
	if got := emailAttempts.Load(); got != 3 {
		t.Fatalf("attempts: got %d, want 3", got)
	}
	if failed.Status != notify.StatusFailed || failed.RetryCount != 2 {
		t.Fatalf("failed log: status=%s retryCount=%d", failed.Status, failed.RetryCount)
	}
	if failed.ErrorMessage == "" {
		t.Fatal("failed log: errorMessage not recorded")
	}
	// Partial failure must not block the sibling send.
	if sent.Status != notify.StatusSent {
		t.Fatalf("sibling send: status %s, want sent", sent.Status)
	}
}

func TestSendUnknownTemplate(t *testing.T) {
	t.Parallel()
	store := testStore(t)
	svc := startService(t, store, channel.NewSenders())

	_, err := svc.Send(context.Background(), Request{
		TemplateID: "nope",
		Recipients: []string{"alice@example.com"},
	})
	if !errors.Is(err, notify.ErrNotFound) {
		t.Fatalf("got %v, want ErrNotFound", err)
	}
}

func TestSendNoSenderRegistered(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testStore(t)
	svc := startService(t, store, channel.NewSenders())

	logs, err := svc.Send(ctx, Request{
		TemplateID: "tpl-device",
		Recipients: []string{"alice@example.com"},
		Variables:  map[string]string{"deviceName": "OCT-1"},
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	for _, l := range logs {
		if l.Status != notify.StatusFailed {
			t.Fatalf("log %s: status %s, want failed", l.ID, l.Status)
		}
	}
}

func TestPreferenceSuppression(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := testStore(t)

	// Template priority is critical in the fixture; use an explicit lower
	// priority so the opt-out applies.
	if err := store.Preferences().Put(ctx, &notify.Preference{
		UserID:   "alice@example.com",
		Channels: map[string]bool{"sms": false},
	}); err != nil {
		t.Fatalf("seed preference: %v", err)
	}

	senders := channel.NewSenders()
	senders.Register(notify.ChannelEmail, okSender())
	senders.Register(notify.ChannelSMS, okSender())
	svc := startService(t, store, senders)

	logs, err := svc.Send(ctx, Request{
		TemplateID: "tpl-device",
		Recipients: []string{"alice@example.com"},
		Variables:  map[string]string{"deviceName": "OCT-1"},
		Priority:   notify.PriorityHigh,
	})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(logs) != 1 || logs[0].Channel != "email-primary" {
		t.Fatalf("sms opt-out ignored: %+v", logs)
	}

	// Critical bypasses the opt-out.
	logs, err = svc.Send(ctx, Request{
		TemplateID: "tpl-device",
		Recipients: []string{"alice@example.com"},
		Variables:  map[string]string{"deviceName": "OCT-1"},
		Priority:   notify.PriorityCritical,
	})
	if err != nil {
		t.Fatalf("send critical: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("critical must bypass suppression: got %d logs", len(logs))
	}
}

func TestQuietWindow(t *testing.T) {
	t.Parallel()
	at := func(hh, mm int) time.Time {
		return time.Date(2026, 3, 1, hh, mm, 0, 0, time.UTC)
	}
	tests := []struct {
		name string
		qh   notify.QuietHours
		t    time.Time
		want bool
	}{
		{"inside plain window", notify.QuietHours{Start: "12:00", End: "14:00"}, at(13, 0), true},
		{"start inclusive", notify.QuietHours{Start: "12:00", End: "14:00"}, at(12, 0), true},
		{"end exclusive", notify.QuietHours{Start: "12:00", End: "14:00"}, at(14, 0), false},
		{"outside plain window", notify.QuietHours{Start: "12:00", End: "14:00"}, at(9, 0), false},
		{"wrap before midnight", notify.QuietHours{Start: "22:00", End: "07:00"}, at(23, 30), true},
		{"wrap after midnight", notify.QuietHours{Start: "22:00", End: "07:00"}, at(6, 59), true},
		{"wrap daytime", notify.QuietHours{Start: "22:00", End: "07:00"}, at(12, 0), false},
		{"malformed start", notify.QuietHours{Start: "late", End: "07:00"}, at(23, 0), false},
		{"empty window", notify.QuietHours{Start: "08:00", End: "08:00"}, at(8, 0), false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := inQuietWindow(tt.qh, tt.t); got != tt.want {
				t.Fatalf("inQuietWindow(%v, %v) = %v, want %v", tt.qh, tt.t, got, tt.want)
			}
		})
	}
}
