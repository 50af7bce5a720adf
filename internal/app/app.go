package app

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"recrawler/internal/api"
	"recrawler/internal/config"
	"recrawler/internal/crawl/acceptance"
	"recrawler/internal/crawl/frontier"
	"recrawler/internal/crawl/profile"
	"recrawler/internal/eventbus"
	"recrawler/internal/metrics"
	"recrawler/internal/recrawl"
	rtsup "recrawler/internal/runtime/supervisor"
	"recrawler/internal/storage"
	"recrawler/internal/task/engine"
	"recrawler/internal/task/scheduler"
	logx "recrawler/pkg/logx"
)

// cycleTaskName names the recrawl task in the engine and the scheduler.
const cycleTaskName = "recrawl.cycle"

type App struct {
	cfgPath string
	cfgm    *config.ConfigManager
	sup     *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	store    storage.Store
	front    *frontier.Frontier
	profiles *profile.Registry
	stacker  *acceptance.Stacker
	job      *recrawl.Job

	registry *prometheus.Registry
	metrics  *metrics.Collector

	engine *engine.Service
	sched  *scheduler.Service
	admin  *api.Service

	// cycleState is shared by scheduled and manual triggers so at most one
	// cycle is queued or running.
	cycleState *engine.RunState

	mu sync.Mutex
	rc recrawlRuntime
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validateConfig(cfg) })
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return newApp(cfgm, cfg)
}

func newApp(cfgm *config.ConfigManager, cfg *config.Config) (*App, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))
	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	fail := func(err error) (*App, error) {
		_ = store.Close()
		return nil, err
	}

	capacity, _ := mapFrontierCapacity(cfg)
	front := frontier.New(capacity)

	specs, _ := mapProfileSpecs(cfg)
	profiles, err := profile.NewRegistry(specs)
	if err != nil {
		return fail(err)
	}

	ac, _ := mapAcceptanceConfig(cfg)
	stacker := acceptance.NewStacker(ac, front, store, log.With(logx.String("comp", "acceptance")))

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	col, err := metrics.New(reg)
	if err != nil {
		return fail(err)
	}
	if err := metrics.RegisterFrontier(reg, front); err != nil {
		return fail(err)
	}

	settings, rc, _ := mapRecrawlSettings(cfg)
	job := recrawl.New(settings, recrawl.Deps{
		Index:    store,
		Queue:    frontier.Adapter{F: front, Stack: frontier.StackLocal},
		Acceptor: stacker,
		Profiles: profiles,
		Observer: col,
	}, log, bus)

	engCfg, _ := mapTaskEngineConfig(cfg)
	engineSvc := engine.New(engCfg, log.With(logx.String("comp", "taskengine")), bus)

	schedCfg, _ := mapSchedulerConfig(cfg)
	schedSvc := scheduler.New(schedCfg, engineSvc, log.With(logx.String("comp", "scheduler")))

	a := &App{
		cfgPath:    cfgm.Path(),
		cfgm:       cfgm,
		log:        appLog,
		logs:       logSvc,
		bus:        bus,
		store:      store,
		front:      front,
		profiles:   profiles,
		stacker:    stacker,
		job:        job,
		registry:   reg,
		metrics:    col,
		engine:     engineSvc,
		sched:      schedSvc,
		cycleState: &engine.RunState{},
		rc:         rc,
	}

	adminCfg, _ := mapAdminConfig(cfg)
	a.admin = api.New(adminCfg, a, reg, log.With(logx.String("comp", "admin")))

	appLog.Info("app configured",
		logx.String("config", a.cfgPath),
		logx.String("index.driver", sc.Driver),
		logx.Bool("recrawl.enabled", rc.Enabled),
		logx.String("recrawl.schedule", rc.Schedule),
		logx.Strings("profiles", profiles.Names()),
	)
	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Import seeds the index from a JSON Lines file of documents.
func (a *App) Import(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	n, err := storage.ImportJSONL(ctx, a.store, f)
	if err != nil {
		return n, err
	}
	a.log.Info("index import finished", logx.String("path", path), logx.Int("documents", n))
	return n, nil
}

// RunOnce runs a single cycle in the caller's goroutine, bypassing the
// engine. The recrawl cycle timeout applies.
func (a *App) RunOnce(ctx context.Context) recrawl.CycleOutcome {
	timeout := a.runtime().Timeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return a.job.RunCycle(ctx)
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))

	if a.engine.Enabled() {
		a.engine.Start(a.sup.Context())
	}
	if err := a.applySchedule(a.runtime()); err != nil {
		return err
	}
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	}
	if a.admin.Enabled() {
		a.admin.Start(a.sup.Context())
	}

	a.startEventLog()
	a.startReload()
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})
	a.startSystemd()

	a.log.Info("app started")
	return nil
}

// TriggerCycle enqueues one cycle outside the schedule.
func (a *App) TriggerCycle() error {
	return a.engine.Enqueue(a.cycleTask())
}

func (a *App) LastCycle() (recrawl.CycleOutcome, bool) { return a.job.Last() }

func (a *App) Frontier() frontier.Snapshot { return a.front.Snapshot() }

func (a *App) Engine() engine.Snapshot { return a.engine.Snapshot() }

func (a *App) Schedules() scheduler.Snapshot { return a.sched.Snapshot() }

func (a *App) runtime() recrawlRuntime {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rc
}

func (a *App) cycleTask() engine.Task {
	return engine.Task{
		Name:    cycleTaskName,
		Timeout: a.runtime().Timeout,
		Run:     a.runCycle,
		Opt:     engine.TaskOptions{Overlap: engine.OverlapSkipIfRunning},
		State:   a.cycleState,
	}
}

// runCycle never fails the task: cycle failures are reported in the
// outcome, and the next trigger is the retry.
func (a *App) runCycle(ctx context.Context) error {
	a.job.RunCycle(ctx)
	return nil
}

// applySchedule registers or removes the recrawl trigger.
func (a *App) applySchedule(rc recrawlRuntime) error {
	if !rc.Enabled {
		if a.sched.Remove(cycleTaskName) {
			a.log.Info("recrawl schedule removed")
		}
		return nil
	}
	_, err := a.sched.AddScheduleOpt(cycleTaskName, rc.Schedule, rc.Timeout,
		scheduler.TaskOptions{Overlap: scheduler.OverlapSkipIfRunning}, a.cycleState, a.runCycle)
	if err != nil {
		return fmt.Errorf("recrawl.schedule: %w", err)
	}
	return nil
}

func (a *App) startEventLog() {
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	notifyStopping(a.log)

	a.sup.Cancel()

	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		stepCtx := ctx
		if dl, ok := ctx.Deadline(); !ok || time.Until(dl) > max {
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	// Stop the trigger before the executor so no new cycle is queued.
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("taskengine", 5*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	step("admin", 2*time.Second, func(c context.Context) error { a.admin.Stop(c); return nil })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	return a.close()
}

// close releases the index and log sinks.
func (a *App) close() error {
	err := a.store.Close()
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}
