package config

import (
	"reflect"
	"strings"

	logx "recrawler/pkg/logx"
)

// SummarizeConfigChange returns the changed section names and safe structured
// attrs for a reload log line. restart lists sections whose change only takes
// effect after a process restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Scheduler.Enabled != newCfg.Scheduler.Enabled ||
		strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	oTE, nTE := derefTaskEngine(oldCfg.TaskEngine), derefTaskEngine(newCfg.TaskEngine)
	if (oldCfg.TaskEngine != nil) != (newCfg.TaskEngine != nil) || !reflect.DeepEqual(oTE, nTE) {
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Bool("task_engine.present", newCfg.TaskEngine != nil),
			logx.Int("task_engine.workers", nTE.Workers),
			logx.Int("task_engine.queue_size", nTE.QueueSize),
			logx.String("task_engine.default_timeout", strings.TrimSpace(nTE.DefaultTimeout)),
		)
	}

	if oldCfg.Index != newCfg.Index {
		changed = append(changed, "index")
		restart = append(restart, "index")
		attrs = append(attrs,
			logx.String("index.driver", newCfg.Index.Driver),
			logx.String("index.path", newCfg.Index.Path),
		)
	}

	if oldCfg.Frontier != newCfg.Frontier {
		changed = append(changed, "frontier")
		attrs = append(attrs, logx.Int("frontier.capacity", newCfg.Frontier.Capacity))
	}

	if !reflect.DeepEqual(oldCfg.Acceptance, newCfg.Acceptance) {
		changed = append(changed, "acceptance")
		attrs = append(attrs,
			logx.Int("acceptance.blacklist_hosts", len(newCfg.Acceptance.BlacklistHosts)),
			logx.Int("acceptance.max_url_length", newCfg.Acceptance.MaxURLLength),
		)
	}

	if !reflect.DeepEqual(oldCfg.Profiles, newCfg.Profiles) {
		changed = append(changed, "profiles")
		attrs = append(attrs, logx.Int("profiles.count", len(newCfg.Profiles)))
	}

	if !reflect.DeepEqual(oldCfg.Recrawl, newCfg.Recrawl) {
		changed = append(changed, "recrawl")
		attrs = append(attrs,
			logx.Bool("recrawl.enabled", newCfg.Recrawl.Enabled),
			logx.String("recrawl.schedule", strings.TrimSpace(newCfg.Recrawl.Schedule)),
			logx.Any("recrawl.max_queue_size", newCfg.Recrawl.MaxQueueSize),
			logx.Int("recrawl.rows", newCfg.Recrawl.Rows),
			logx.Any("recrawl.days", newCfg.Recrawl.Days),
		)
	}

	oA, nA := derefAdmin(oldCfg.Admin), derefAdmin(newCfg.Admin)
	if oA != nA {
		changed = append(changed, "admin")
		attrs = append(attrs,
			logx.Bool("admin.enabled", nA.Enabled),
			logx.String("admin.addr", strings.TrimSpace(nA.Addr)),
			logx.Bool("admin.token_set", nA.Token != ""),
			logx.Bool("admin.pprof", nA.Pprof),
		)
	}

	return changed, attrs, restart
}

func derefTaskEngine(p *TaskEngineConfig) TaskEngineConfig {
	if p == nil {
		return TaskEngineConfig{}
	}
	return *p
}

func derefAdmin(p *AdminConfig) AdminConfig {
	if p == nil {
		return AdminConfig{}
	}
	return *p
}
