package config

// Config is the on-disk configuration. The file is optional; every field has
// a usable default and recognized environment variables are layered on top
// after parsing (see env.go). Bad individual values never abort startup —
// they are logged and replaced with defaults.
type Config struct {
	// Timezone is the IANA zone all due-date decisions are made in.
	// Default: Asia/Tokyo.
	Timezone string `json:"timezone,omitempty"`

	// PollIntervalMS is the scheduler tick period in milliseconds.
	// Default: 30000.
	PollIntervalMS int `json:"poll_interval_ms,omitempty"`

	HTTP    HTTPConfig            `json:"http"`
	Worker  WorkerConfig          `json:"worker"`
	Logging LoggingConfig         `json:"logging"`
	State   StateConfig           `json:"state"`
	Tasks   map[string]TaskConfig `json:"tasks,omitempty"`
	Notify  *NotifyConfig         `json:"notify,omitempty"`
	Janitor *JanitorConfig        `json:"janitor,omitempty"`
}

// HTTPConfig controls the control-plane server.
type HTTPConfig struct {
	Enabled *bool  `json:"enabled,omitempty"` // default: true
	Addr    string `json:"addr,omitempty"`    // default: "127.0.0.1"
	Port    int    `json:"port,omitempty"`    // default: 8787

	// TriggerRatePerMin caps manual /run/<task> requests. Default: 6.
	TriggerRatePerMin int `json:"trigger_rate_per_min,omitempty"`
}

// WorkerConfig controls how worker processes are launched.
type WorkerConfig struct {
	// Interpreter overrides the resolved python executable.
	Interpreter string `json:"interpreter,omitempty"`
	// WorkDir is the working directory for workers (repo root). Default: ".".
	WorkDir string `json:"work_dir,omitempty"`
	// ExtraPaths are appended to the PATH augmentation list.
	ExtraPaths []string `json:"extra_paths,omitempty"`
}

// StateConfig controls run-state persistence.
//
// Driver values:
//   - "file": single JSON document, temp-file + atomic rename (default)
//   - "sqlite": SQLite database file (optional build tag)
type StateConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`         // default: "./scheduler_state.json"
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// TaskConfig tunes one task. The built-in tasks (paper, github) only need
// the override fields; additional script tasks must set Script (and
// LimitFlag if Limit is used).
type TaskConfig struct {
	Script    string            `json:"script,omitempty"`
	At        string            `json:"at,omitempty"` // "HH:MM" trigger time
	Test      bool              `json:"test,omitempty"`
	Limit     int               `json:"limit,omitempty"`
	LimitFlag string            `json:"limit_flag,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Disabled  bool              `json:"disabled,omitempty"`
}

// NotifyConfig controls optional Telegram run notifications.
type NotifyConfig struct {
	Enabled    bool   `json:"enabled"`
	Token      string `json:"token,omitempty"` // do not log
	ChatID     int64  `json:"chat_id,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"` // default: 1
	OnSuccess  bool   `json:"on_success,omitempty"`   // default: failures only
}

// JanitorConfig controls the daily workspace cleanup.
type JanitorConfig struct {
	Enabled *bool  `json:"enabled,omitempty"` // default: true
	At      string `json:"at,omitempty"`      // default: "03:00"
}

type LoggingConfig struct {
	Level   string      `json:"level,omitempty"`
	Console *bool       `json:"console,omitempty"` // default: true
	File    LoggingFile `json:"file"`
	// BootFile is the append-only boot-event log. Default: "./boot.log".
	BootFile string `json:"boot_file,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

func (c *Config) HTTPEnabled() bool { return c.HTTP.Enabled == nil || *c.HTTP.Enabled }

func (c *Config) JanitorEnabled() bool {
	return c.Janitor == nil || c.Janitor.Enabled == nil || *c.Janitor.Enabled
}

func (c *Config) ConsoleLogging() bool {
	return c.Logging.Console == nil || *c.Logging.Console
}
