package escalate

import (
	"context"
	"sync"
	"testing"
	"time"

	"notifyd/internal/dispatch"
	"notifyd/internal/eventbus"
	"notifyd/internal/notify"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

type fakeDispatcher struct {
	mu   sync.Mutex
	reqs []dispatch.Request
}

func (f *fakeDispatcher) Send(_ context.Context, req dispatch.Request) ([]*notify.NotificationLog, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return nil, nil
}

func (f *fakeDispatcher) calls() []dispatch.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]dispatch.Request(nil), f.reqs...)
}

func seedEscalation(t *testing.T, store storage.Store, sentAt time.Time) *notify.NotificationLog {
	t.Helper()
	ctx := context.Background()
	if err := store.Templates().Create(ctx, &notify.Template{
		ID:         "tpl-device",
		Subject:    "Device {{deviceName}} failed",
		Body:       "Check {{deviceName}}.",
		ChannelIDs: []string{"email-primary"},
		Priority:   notify.PriorityCritical,
		Active:     true,
		Escalations: []notify.EscalationRule{{
			ID:           "esc-oncall",
			DelayMinutes: 15,
			Channels:     []string{"sms-primary"},
			Recipients:   []string{"oncall@example.com"},
			Condition:    notify.EscalateNotAcknowledged,
		}},
	}); err != nil {
		t.Fatalf("seed template: %v", err)
	}

	l := &notify.NotificationLog{
		ID:         "orig-1",
		TemplateID: "tpl-device",
		Recipient:  "alice@example.com",
		Channel:    "email-primary",
		Priority:   notify.PriorityCritical,
		Status:     notify.StatusSent,
		Subject:    "Device OCT-1 failed",
		Body:       "Check OCT-1.",
		Metadata:   map[string]string{notify.MetaVarPrefix + "deviceName": "OCT-1"},
		SentAt:     &sentAt,
		CreatedAt:  sentAt,
	}
	if err := store.Logs().Append(ctx, l); err != nil {
		t.Fatalf("seed log: %v", err)
	}
	return l
}

func TestScanIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()
	sentAt := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	seedEscalation(t, store, sentAt)

	disp := &fakeDispatcher{}
	svc := New(Config{Enabled: true}, store, disp, eventbus.New(), logx.Nop())
	svc.now = func() time.Time { return sentAt.Add(20 * time.Minute) }

	// Two back-to-back scans fire exactly once.
	for i := 0; i < 2; i++ {
		if _, err := svc.Scan(ctx); err != nil {
			t.Fatalf("scan %d: %v", i, err)
		}
	}
	reqs := disp.calls()
	if len(reqs) != 1 {
		t.Fatalf("escalated %d times, want 1", len(reqs))
	}

	req := reqs[0]
	if req.TemplateID != "tpl-device" {
		t.Fatalf("template: %q", req.TemplateID)
	}
	if len(req.Recipients) != 1 || req.Recipients[0] != "oncall@example.com" {
		t.Fatalf("recipients: %v", req.Recipients)
	}
	if len(req.ChannelIDs) != 1 || req.ChannelIDs[0] != "sms-primary" {
		t.Fatalf("channels: %v", req.ChannelIDs)
	}
	if req.Metadata[notify.MetaEscalatedFrom] != "orig-1" {
		t.Fatalf("escalation not linked to original: %v", req.Metadata)
	}
	// Escalation re-renders from the original variable snapshot.
	if req.Variables["deviceName"] != "OCT-1" {
		t.Fatalf("variable snapshot lost: %v", req.Variables)
	}
}

func TestScanRespectsDelay(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()
	sentAt := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	seedEscalation(t, store, sentAt)

	disp := &fakeDispatcher{}
	svc := New(Config{Enabled: true}, store, disp, eventbus.New(), logx.Nop())

	// Before the delay elapses, nothing fires.
	svc.now = func() time.Time { return sentAt.Add(10 * time.Minute) }
	if n, err := svc.Scan(ctx); err != nil || n != 0 {
		t.Fatalf("early scan: got (%d, %v), want (0, nil)", n, err)
	}

	// Once elapsed, one escalation.
	svc.now = func() time.Time { return sentAt.Add(15 * time.Minute) }
	if n, err := svc.Scan(ctx); err != nil || n != 1 {
		t.Fatalf("due scan: got (%d, %v), want (1, nil)", n, err)
	}

	// A full delay window later it fires again for the still-unacked log.
	svc.now = func() time.Time { return sentAt.Add(31 * time.Minute) }
	if n, err := svc.Scan(ctx); err != nil || n != 1 {
		t.Fatalf("next window scan: got (%d, %v), want (1, nil)", n, err)
	}
	if got := len(disp.calls()); got != 2 {
		t.Fatalf("total escalations: got %d, want 2", got)
	}
}

func TestScanSkipsAcknowledged(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()
	sentAt := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	l := seedEscalation(t, store, sentAt)

	if _, _, err := store.Logs().Acknowledge(ctx, l.ID, "alice", sentAt.Add(time.Minute)); err != nil {
		t.Fatalf("ack: %v", err)
	}

	disp := &fakeDispatcher{}
	svc := New(Config{Enabled: true}, store, disp, eventbus.New(), logx.Nop())
	svc.now = func() time.Time { return sentAt.Add(time.Hour) }

	if n, err := svc.Scan(ctx); err != nil || n != 0 {
		t.Fatalf("scan: got (%d, %v), want (0, nil)", n, err)
	}
	if len(disp.calls()) != 0 {
		t.Fatal("acknowledged log escalated")
	}
}

func TestScanSkipsLowPriority(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	store := storage.NewMemory()
	sentAt := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	seedEscalation(t, store, sentAt)

	low := &notify.NotificationLog{
		ID:         "low-1",
		TemplateID: "tpl-device",
		Recipient:  "bob@example.com",
		Channel:    "email-primary",
		Priority:   notify.PriorityLow,
		Status:     notify.StatusSent,
		SentAt:     &sentAt,
		CreatedAt:  sentAt,
	}
	if err := store.Logs().Append(ctx, low); err != nil {
		t.Fatalf("seed low log: %v", err)
	}

	disp := &fakeDispatcher{}
	svc := New(Config{Enabled: true}, store, disp, eventbus.New(), logx.Nop())
	svc.now = func() time.Time { return sentAt.Add(time.Hour) }

	if _, err := svc.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	for _, req := range disp.calls() {
		if req.Metadata[notify.MetaEscalatedFrom] == "low-1" {
			t.Fatal("low-priority log escalated")
		}
	}
}
