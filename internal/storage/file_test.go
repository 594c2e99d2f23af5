package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"notifyd/internal/notify"
	logx "notifyd/pkg/logx"
)

func appendRaw(path, line string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line)
	return err
}

func TestFileStoreReload(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := Config{Driver: "file", Path: filepath.Join(t.TempDir(), "notifyd.db")}

	s, err := Open(ctx, cfg, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	if err := s.Channels().Create(ctx, testChannel("email", notify.ChannelEmail)); err != nil {
		t.Fatalf("create channel: %v", err)
	}
	if err := s.Rules().Create(ctx, &notify.Rule{
		ID:         "disk-full",
		Trigger:    notify.Trigger{Type: "disk.usage"},
		TemplateID: "tpl-disk",
		Enabled:    true,
	}); err != nil {
		t.Fatalf("create rule: %v", err)
	}
	if err := s.Preferences().Put(ctx, &notify.Preference{
		UserID:   "alice",
		Channels: map[string]bool{"sms": false},
	}); err != nil {
		t.Fatalf("put preference: %v", err)
	}

	if err := s.Logs().Append(ctx, testLog("n1", notify.StatusPending, notify.PriorityCritical, now)); err != nil {
		t.Fatalf("append log: %v", err)
	}
	if _, err := s.Logs().SetStatus(ctx, "n1", notify.StatusSent, now.Add(time.Second), "", 0); err != nil {
		t.Fatalf("set status: %v", err)
	}
	if _, _, err := s.Logs().Acknowledge(ctx, "n1", "alice", now.Add(time.Minute)); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Reopen on the same path: the snapshot plus journal replay must rebuild
	// the full state, including the log's final transition.
	s2, err := Open(ctx, cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	ch, err := s2.Channels().Get(ctx, "email")
	if err != nil || ch.Type != notify.ChannelEmail {
		t.Fatalf("channel after reload: %+v, %v", ch, err)
	}
	rule, err := s2.Rules().Get(ctx, "disk-full")
	if err != nil || rule.TemplateID != "tpl-disk" {
		t.Fatalf("rule after reload: %+v, %v", rule, err)
	}
	pref, err := s2.Preferences().Get(ctx, "alice")
	if err != nil || pref.Channels["sms"] {
		t.Fatalf("preference after reload: %+v, %v", pref, err)
	}

	l, err := s2.Logs().Get(ctx, "n1")
	if err != nil {
		t.Fatalf("log after reload: %v", err)
	}
	if l.Status != notify.StatusAcknowledged || l.AcknowledgedBy != "alice" {
		t.Fatalf("log lost its transitions across reload: %+v", l)
	}
	if l.SentAt == nil || !l.SentAt.Equal(now.Add(time.Second)) {
		t.Fatalf("sentAt not preserved: %+v", l)
	}

	// The reloaded state stays live: new writes must still work.
	if _, err := s2.Logs().SetStatus(ctx, "n1", notify.StatusSent, now, "", -1); err == nil {
		t.Fatal("acknowledged log must reject further transitions")
	}
}

func TestFileStoreJournalTornLine(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	cfg := Config{Driver: "file", Path: filepath.Join(t.TempDir(), "notifyd.db")}

	s, err := Open(ctx, cfg, logx.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	now := time.Now().UTC()
	if err := s.Logs().Append(ctx, testLog("n1", notify.StatusSent, notify.PriorityHigh, now)); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Simulate a crash mid-append: a torn trailing line must be skipped, not
	// fail the whole replay.
	journal := filepath.Join(filepath.Dir(cfg.Path), "notifyd.logs.journal.jsonl")
	if err := appendRaw(journal, `{"id":"n2","status":"sen`); err != nil {
		t.Fatalf("corrupt journal: %v", err)
	}

	s2, err := Open(ctx, cfg, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	if _, err := s2.Logs().Get(ctx, "n1"); err != nil {
		t.Fatalf("intact log lost: %v", err)
	}
	if _, err := s2.Logs().Get(ctx, "n2"); err == nil {
		t.Fatal("torn journal line must not materialize a log")
	}
}
