package app

import (
	"fmt"
	"strings"
	"time"

	"recrawler/internal/api"
	"recrawler/internal/config"
	"recrawler/internal/crawl/acceptance"
	"recrawler/internal/crawl/profile"
	"recrawler/internal/recrawl"
	"recrawler/internal/storage"
	"recrawler/internal/task/engine"
	"recrawler/internal/task/scheduler"
	logx "recrawler/pkg/logx"
)

const (
	defaultRecrawlSchedule = "@every 1m"
	defaultCycleTimeout    = 5 * time.Minute
)

// recrawlRuntime is the part of the recrawl section the app owns rather
// than the job.
type recrawlRuntime struct {
	Enabled  bool
	Schedule string
	Timeout  time.Duration
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	ic := cfg.Index
	driver := strings.ToLower(strings.TrimSpace(ic.Driver))
	path := strings.TrimSpace(ic.Path)
	switch driver {
	case "":
		return storage.Config{}, fmt.Errorf("index.driver is required (sqlite or file)")
	case "file":
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, fmt.Errorf("index.path is required when index.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("index.busy_timeout", ic.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown index.driver: %s", ic.Driver)
	}
}

// triggersEnabled reports whether the scheduler runs: recrawl.enabled
// implies it.
func triggersEnabled(cfg *config.Config) bool {
	return cfg.Scheduler.Enabled || cfg.Recrawl.Enabled
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	// The engine follows the scheduler unless task_engine says otherwise.
	enabled := triggersEnabled(cfg)
	workers, queueSize, historySize := 1, 16, 100
	var defTimeout, maxQueueDelay time.Duration

	if te := cfg.TaskEngine; te != nil {
		if te.Enabled != nil {
			enabled = *te.Enabled
		}
		if te.Workers < 0 || te.QueueSize < 0 || te.HistorySize < 0 {
			return engine.Config{}, fmt.Errorf("task_engine: workers, queue_size and history_size must be >= 0")
		}
		if te.Workers > 0 {
			workers = te.Workers
		}
		if te.QueueSize > 0 {
			queueSize = te.QueueSize
		}
		if te.HistorySize > 0 {
			historySize = te.HistorySize
		}
		var err error
		if defTimeout, err = config.ParseDuration("task_engine.default_timeout", te.DefaultTimeout); err != nil {
			return engine.Config{}, err
		}
		if maxQueueDelay, err = config.ParseDuration("task_engine.max_queue_delay", te.MaxQueueDelay); err != nil {
			return engine.Config{}, err
		}
		if triggersEnabled(cfg) && te.Enabled != nil && !*te.Enabled {
			return engine.Config{}, fmt.Errorf("task_engine.enabled cannot be false while scheduler or recrawl is enabled")
		}
	}

	return engine.Config{
		Enabled:        enabled,
		Workers:        workers,
		QueueSize:      queueSize,
		DefaultTimeout: defTimeout,
		MaxQueueDelay:  maxQueueDelay,
		HistorySize:    historySize,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return scheduler.Config{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	return scheduler.Config{Enabled: triggersEnabled(cfg), Timezone: tz}, nil
}

func mapAcceptanceConfig(cfg *config.Config) (acceptance.Config, error) {
	if cfg.Acceptance.MaxURLLength < 0 {
		return acceptance.Config{}, fmt.Errorf("acceptance.max_url_length must be >= 0")
	}
	return acceptance.Config{
		BlacklistHosts: append([]string(nil), cfg.Acceptance.BlacklistHosts...),
		MaxURLLength:   cfg.Acceptance.MaxURLLength,
	}, nil
}

func mapFrontierCapacity(cfg *config.Config) (int, error) {
	if cfg.Frontier.Capacity < 0 {
		return 0, fmt.Errorf("frontier.capacity must be >= 0")
	}
	return cfg.Frontier.Capacity, nil
}

// mapProfileSpecs converts the profiles section. Profiles not named keep
// their built-in definition.
func mapProfileSpecs(cfg *config.Config) (map[string]profile.Spec, error) {
	out := make(map[string]profile.Spec, len(cfg.Profiles))
	for name, pc := range cfg.Profiles {
		field := "profiles." + name + ".recrawl_if_older"
		age, err := config.ParseDuration(field, pc.RecrawlIfOlder)
		if err != nil {
			return nil, err
		}
		spec := profile.Spec{
			MustMatch:      pc.MustMatch,
			MustNotMatch:   pc.MustNotMatch,
			MaxDepth:       pc.MaxDepth,
			Schemes:        append([]string(nil), pc.Schemes...),
			MaxPerHost:     pc.MaxPerHost,
			MaxQueued:      pc.MaxQueued,
			RecrawlIfOlder: age,
		}
		if _, err := profile.Compile(name, spec); err != nil {
			return nil, err
		}
		out[name] = spec
	}
	return out, nil
}

func mapRecrawlSettings(cfg *config.Config) (recrawl.Settings, recrawlRuntime, error) {
	rc := cfg.Recrawl
	ceiling := intOr(rc.MaxQueueSize, recrawl.DefaultMaxQueueSize)
	days := intOr(rc.Days, recrawl.DefaultDays)
	if rc.Rows < 0 || days < 0 || rc.LogRatePerSec < 0 {
		return recrawl.Settings{}, recrawlRuntime{}, fmt.Errorf("recrawl: rows, days and log_rate_per_sec must be >= 0")
	}

	schedule := strings.TrimSpace(rc.Schedule)
	if schedule == "" {
		schedule = defaultRecrawlSchedule
	}
	if err := scheduler.ValidateSchedule(schedule); err != nil {
		return recrawl.Settings{}, recrawlRuntime{}, fmt.Errorf("recrawl.schedule: %w", err)
	}
	timeout, err := config.ParseDurationOrDefault("recrawl.cycle_timeout", rc.CycleTimeout, defaultCycleTimeout)
	if err != nil {
		return recrawl.Settings{}, recrawlRuntime{}, err
	}

	s := recrawl.Settings{
		MaxQueueSize:    ceiling,
		Rows:            rc.Rows,
		Days:            days,
		PrimaryProfile:  strings.TrimSpace(rc.PrimaryProfile),
		FallbackProfile: strings.TrimSpace(rc.FallbackProfile),
		LogRatePerSec:   rc.LogRatePerSec,
	}
	return s, recrawlRuntime{Enabled: rc.Enabled, Schedule: schedule, Timeout: timeout}, nil
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func mapAdminConfig(cfg *config.Config) (api.Config, error) {
	if cfg.Admin == nil {
		return api.Config{}, nil
	}
	ac := cfg.Admin
	read, err := config.ParseDurationOrDefault("admin.read_timeout", ac.ReadTimeout, 10*time.Second)
	if err != nil {
		return api.Config{}, err
	}
	// Long enough for a 30s CPU profile.
	write, err := config.ParseDurationOrDefault("admin.write_timeout", ac.WriteTimeout, 60*time.Second)
	if err != nil {
		return api.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("admin.idle_timeout", ac.IdleTimeout, 60*time.Second)
	if err != nil {
		return api.Config{}, err
	}
	return api.Config{
		Enabled:       ac.Enabled,
		Addr:          strings.TrimSpace(ac.Addr),
		Token:         strings.TrimSpace(ac.Token),
		AllowInsecure: ac.AllowInsecure,
		Pprof:         ac.Pprof,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

// validateConfig rejects a config before it is committed, on load and on
// hot reload.
func validateConfig(cfg *config.Config) error {
	if !logx.ValidLevel(cfg.Logging.Level) {
		return fmt.Errorf("logging.level: invalid %q", cfg.Logging.Level)
	}
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapTaskEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapAcceptanceConfig(cfg); err != nil {
		return err
	}
	if _, err := mapFrontierCapacity(cfg); err != nil {
		return err
	}
	specs, err := mapProfileSpecs(cfg)
	if err != nil {
		return err
	}
	s, _, err := mapRecrawlSettings(cfg)
	if err != nil {
		return err
	}
	for _, name := range []string{s.PrimaryProfile, s.FallbackProfile} {
		if name == "" {
			continue
		}
		if _, ok := specs[name]; ok {
			continue
		}
		if _, ok := profile.DefaultSpecs()[name]; !ok {
			return fmt.Errorf("recrawl: unknown profile %q", name)
		}
	}
	if _, err := mapAdminConfig(cfg); err != nil {
		return err
	}
	return nil
}
