package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestParseYAMLConfig(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./n.db
  busy_timeout: 2s
dispatcher:
  workers: 8
  send_timeout: 3s
api:
  enabled: true
  addr: ":9090"
`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging: %+v", cfg.Logging)
	}
	if cfg.Storage.Driver != "sqlite" || cfg.Storage.BusyTimeout != "2s" {
		t.Fatalf("storage: %+v", cfg.Storage)
	}
	if cfg.Dispatcher.Workers != 8 || cfg.Dispatcher.SendTimeout != "3s" {
		t.Fatalf("dispatcher: %+v", cfg.Dispatcher)
	}
	if !cfg.API.Enabled || cfg.API.Addr != ":9090" {
		t.Fatalf("api: %+v", cfg.API)
	}
}

func TestParseJSONConfig(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.json", `{"storage": {"driver": "memory"}}`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Storage.Driver != "memory" {
		t.Fatalf("storage: %+v", cfg.Storage)
	}
}

func TestParseRejectsUnknownKeys(t *testing.T) {
	t.Parallel()
	path := writeConfig(t, "config.yaml", "storage:\n  driver: memory\ndispatch_typo:\n  workers: 2\n")
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("unknown top-level key accepted")
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		raw     string
		def     time.Duration
		want    time.Duration
		wantErr bool
	}{
		{"empty uses default", "", 5 * time.Second, 5 * time.Second, false},
		{"zero uses default", "0s", time.Minute, time.Minute, false},
		{"explicit value", "250ms", time.Second, 250 * time.Millisecond, false},
		{"whitespace trimmed", "  2m ", time.Second, 2 * time.Minute, false},
		{"garbage rejected", "fast", time.Second, 0, true},
		{"negative rejected", "-1s", time.Second, 0, true},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseDurationOrDefault("x.y", tc.raw, tc.def)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("accepted %q", tc.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse %q: %v", tc.raw, err)
			}
			if got != tc.want {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	_, err := NewManager(filepath.Join(t.TempDir(), "absent.yaml")).Load()
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want not-exist", err)
	}
}
