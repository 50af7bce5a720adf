package app

import (
	"context"
	"strings"
	"time"

	"recrawler/internal/config"
	logx "recrawler/pkg/logx"
)

// startReload applies committed config changes to the running services.
func (a *App) startReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

// applyConfig reconciles services with newCfg. The config has already passed
// validateConfig, so mapping errors here are not expected; each one keeps
// the previous setting for that section.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs, restart := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range restart {
		a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
	}

	a.logs.Apply(mapLogConfig(newCfg))

	if capacity, err := mapFrontierCapacity(newCfg); err == nil {
		a.front.Apply(capacity)
	}
	if ac, err := mapAcceptanceConfig(newCfg); err == nil {
		a.stacker.Apply(ac)
	}
	if specs, err := mapProfileSpecs(newCfg); err != nil {
		a.log.Warn("invalid profiles config; keeping previous", logx.Err(err))
	} else if err := a.profiles.Apply(specs); err != nil {
		a.log.Warn("profiles apply failed; keeping previous", logx.Err(err))
	}

	if settings, rc, err := mapRecrawlSettings(newCfg); err != nil {
		a.log.Warn("invalid recrawl config; keeping previous", logx.Err(err))
	} else {
		a.job.Apply(settings)
		a.mu.Lock()
		prev := a.rc
		a.rc = rc
		a.mu.Unlock()
		if prev != rc {
			if err := a.applySchedule(rc); err != nil {
				a.log.Warn("recrawl schedule apply failed", logx.Err(err))
			}
		}
	}

	a.applyExecution(ctx, newCfg)

	if adminCfg, err := mapAdminConfig(newCfg); err != nil {
		a.log.Warn("invalid admin config; keeping previous", logx.Err(err))
	} else {
		a.admin.Reconfigure(ctx, adminCfg)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// applyExecution reconciles the engine and scheduler. On shutdown the
// scheduler goes first; on startup the engine does.
func (a *App) applyExecution(ctx context.Context, newCfg *config.Config) {
	prevSched := a.sched.Enabled()
	prevEng := a.engine.Enabled()

	engCfg, err := mapTaskEngineConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
		return
	}
	schedCfg, err := mapSchedulerConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
		return
	}
	a.engine.Apply(ctx, engCfg)
	a.sched.Apply(schedCfg)

	if prevSched && !schedCfg.Enabled {
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	}
	if prevEng && !engCfg.Enabled {
		a.log.Info("task engine disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.engine.Stop(stopCtx)
		cancel()
	}
	if !prevEng && engCfg.Enabled {
		a.log.Info("task engine enabled via config")
		a.engine.Start(ctx)
	}
	if !prevSched && schedCfg.Enabled {
		a.log.Info("scheduler enabled via config")
		a.sched.Start(ctx)
	}
}
