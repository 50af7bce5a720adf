package config

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Scheduler controls triggering only.
	Scheduler SchedulerConfig `json:"scheduler"`

	// TaskEngine controls execution of triggered work.
	// If omitted, the engine follows scheduler.enabled with defaults.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	Index      IndexConfig              `json:"index"`
	Frontier   FrontierConfig           `json:"frontier"`
	Acceptance AcceptanceConfig         `json:"acceptance"`
	Profiles   map[string]ProfileConfig `json:"profiles,omitempty"`
	Recrawl    RecrawlConfig            `json:"recrawl"`
	Admin      *AdminConfig             `json:"admin,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level"`
	Console bool              `json:"console"`
	File    LoggingFileConfig `json:"file"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type SchedulerConfig struct {
	Enabled  bool   `json:"enabled"`
	Timezone string `json:"timezone"`
}

// TaskEngineConfig controls the task execution engine.
//
// Enabled is a pointer so "omitted" (follow scheduler.enabled) differs from
// an explicit false.
//
// Defaults: workers 1, queue_size 16, default_timeout "0s" (none),
// max_queue_delay "0s" (disabled), history_size 100.
type TaskEngineConfig struct {
	Enabled        *bool  `json:"enabled,omitempty"`
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// IndexConfig selects the document index backend.
//
// Driver is "sqlite" or "file". Path is the database file for sqlite and a
// directory for file.
type IndexConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type FrontierConfig struct {
	// Capacity bounds the total number of queued requests across stacks. 0 means unbounded.
	Capacity int `json:"capacity,omitempty"`
}

type AcceptanceConfig struct {
	BlacklistHosts []string `json:"blacklist_hosts,omitempty"`
	MaxURLLength   int      `json:"max_url_length,omitempty"`
}

// ProfileConfig describes one scheduling profile. Regex fields use Go RE2 syntax.
type ProfileConfig struct {
	MustMatch      string   `json:"must_match,omitempty"`
	MustNotMatch   string   `json:"must_not_match,omitempty"`
	MaxDepth       int      `json:"max_depth,omitempty"`
	Schemes        []string `json:"schemes,omitempty"`
	MaxPerHost     int      `json:"max_per_host,omitempty"`
	MaxQueued      int      `json:"max_queued,omitempty"`
	RecrawlIfOlder string   `json:"recrawl_if_older,omitempty"`
}

// RecrawlConfig controls the periodic re-scheduling cycle.
//
// Defaults: schedule "@every 1m", max_queue_size 500, rows 1000, days 365,
// primary_profile "local", fallback_profile "remote", log_rate_per_sec 20.
//
// MaxQueueSize and Days are pointers: an explicit 0 is a valid ceiling and a
// valid age, distinct from omitted.
type RecrawlConfig struct {
	Enabled         bool   `json:"enabled"`
	Schedule        string `json:"schedule,omitempty"`
	MaxQueueSize    *int   `json:"max_queue_size,omitempty"`
	Rows            int    `json:"rows,omitempty"`
	Days            *int   `json:"days,omitempty"`
	PrimaryProfile  string `json:"primary_profile,omitempty"`
	FallbackProfile string `json:"fallback_profile,omitempty"`
	CycleTimeout    string `json:"cycle_timeout,omitempty"`
	LogRatePerSec   int    `json:"log_rate_per_sec,omitempty"`
}

// AdminConfig controls the admin HTTP listener. Omitted means disabled.
//
// A non-loopback addr requires token or allow_insecure. pprof mounts the Go
// profiler under /debug.
type AdminConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}
