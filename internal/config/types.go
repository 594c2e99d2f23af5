package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Storage selects the persistence driver backing every entity store.
	Storage StorageConfig `json:"storage"`

	// Dispatcher controls the fan-out send pipeline.
	Dispatcher DispatcherConfig `json:"dispatcher"`

	// Escalation controls the unacknowledged-alert scan loop.
	Escalation EscalationConfig `json:"escalation"`

	// Scheduler fires schedule-typed rules (daily/weekly/monthly/cron).
	Scheduler SchedulerConfig `json:"scheduler"`

	API APIConfig `json:"api"`

	// Bootstrap controls one-time default seeding at startup.
	// Seeding happens only when a collection is empty; an intentionally
	// emptied configuration is never re-seeded on read.
	Bootstrap BootstrapConfig `json:"bootstrap"`
}

type LoggingConfig struct {
	Level   string     `json:"level"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// StorageConfig selects and configures the persistence driver.
//
// Driver values: "memory", "file", "sqlite", "redis".
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./notifyd.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
	RedisURL    string `json:"redis_url,omitempty"`    // redis driver, e.g. redis://localhost:6379/0
}

// DispatcherConfig controls the async send pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type DispatcherConfig struct {
	Workers     int    `json:"workers,omitempty"`      // default 4
	QueueSize   int    `json:"queue_size,omitempty"`   // default 256
	RatePerSec  int    `json:"rate_per_sec,omitempty"` // default 10
	SendTimeout string `json:"send_timeout,omitempty"` // per-attempt timeout, default "10s"
}

type EscalationConfig struct {
	Enabled      bool   `json:"enabled"`
	ScanInterval string `json:"scan_interval,omitempty"` // default "1m"
	ScanTimeout  string `json:"scan_timeout,omitempty"`  // per-scan bound, default "30s"
}

type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone,omitempty"` // IANA TZ, e.g. "Asia/Jakarta"
}

type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default ":8087"
}

type BootstrapConfig struct {
	SeedDefaults bool `json:"seed_defaults"`
}
