package recrawl

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"recrawler/internal/crawl/profile"
	"recrawler/internal/eventbus"
	logx "recrawler/pkg/logx"
)

// Deps are the collaborators a Job drives. Observer is optional.
type Deps struct {
	Index    Index
	Queue    Queue
	Acceptor Acceptor
	Profiles Profiles
	Observer Observer
}

// Job runs re-scheduling cycles. RunCycle calls on one Job are serialized.
type Job struct {
	deps Deps
	log  logx.Logger
	bus  eventbus.Bus
	now  func() time.Time

	// run serializes cycles.
	run sync.Mutex

	mu       sync.Mutex
	settings Settings

	selector *Selector
	last     atomic.Pointer[CycleOutcome]
}

func New(s Settings, deps Deps, log logx.Logger, bus eventbus.Bus) *Job {
	if log.IsZero() {
		log = logx.Nop()
	}
	j := &Job{
		deps:     deps,
		log:      log.With(logx.String("comp", "recrawl")),
		bus:      bus,
		now:      time.Now,
		settings: s.withDefaults(),
	}
	j.selector = &Selector{index: deps.Index, now: func() time.Time { return j.now() }}
	return j
}

// Apply replaces the settings used from the next cycle on.
func (j *Job) Apply(s Settings) {
	j.mu.Lock()
	j.settings = s.withDefaults()
	j.mu.Unlock()
}

func (j *Job) Settings() Settings {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.settings
}

// Last returns the most recent finished cycle.
func (j *Job) Last() (CycleOutcome, bool) {
	if o := j.last.Load(); o != nil {
		return *o, true
	}
	return CycleOutcome{}, false
}

// RunCycle runs one cycle to completion and returns its outcome. Failures
// end the cycle early and are reported in the outcome; nothing is retried.
func (j *Job) RunCycle(ctx context.Context) CycleOutcome {
	j.run.Lock()
	defer j.run.Unlock()

	s := j.Settings()
	rep := NewReporter(j.log, s.LogRatePerSec, j.now())
	out := j.cycle(ctx, s, rep)
	j.last.Store(&out)
	if j.deps.Observer != nil {
		j.deps.Observer.ObserveCycle(out)
	}
	j.publish(eventbus.TypeRecrawlCycle, out)
	return out
}

func (j *Job) cycle(ctx context.Context, s Settings, rep *Reporter) CycleOutcome {
	size := j.deps.Queue.Occupancy()
	open := MayRun(size, s.MaxQueueSize)
	rep.Gate(size, s.MaxQueueSize, open)
	j.publish(eventbus.TypeRecrawlGate, GateEvent{QueueSize: size, Ceiling: s.MaxQueueSize, Open: open})
	j.log.Debug("recrawl gate", logx.Int("queue_size", size), logx.Int("ceiling", s.MaxQueueSize), logx.Bool("open", open))
	if !open {
		rep.Abort(fmt.Sprintf("queue size %d exceeds ceiling %d", size, s.MaxQueueSize), nil)
		return rep.Finish(j.now())
	}

	chain, err := j.chain(s)
	if err != nil {
		rep.Abort(err.Error(), err)
		return rep.Finish(j.now())
	}
	if err := ctx.Err(); err != nil {
		rep.Abort(err.Error(), err)
		return rep.Finish(j.now())
	}

	stream, err := j.selector.Select(ctx, s.window(), s.Rows)
	if err != nil {
		j.log.Warn("recrawl query failed", logx.Err(err))
		rep.Abort(err.Error(), err)
		return rep.Finish(j.now())
	}
	defer stream.Close()

	pipe := NewPipeline(j.deps.Acceptor, j.deps.Queue, chain...)
	for {
		if err := ctx.Err(); err != nil {
			rep.Abort(err.Error(), err)
			break
		}
		c, ok := stream.Next()
		if !ok {
			if err := stream.Err(); err != nil {
				j.log.Warn("recrawl cursor failed", logx.Err(err))
				rep.Abort(err.Error(), err)
			}
			break
		}
		rep.Record(c, pipe.Admit(c))
	}
	rep.Malformed(stream.Malformed())
	return rep.Finish(j.now())
}

// chain resolves [primary, fallback]. A fallback equal to the primary is dropped.
func (j *Job) chain(s Settings) ([]*profile.Profile, error) {
	primary, ok := j.deps.Profiles.Get(s.PrimaryProfile)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoProfile, s.PrimaryProfile)
	}
	chain := []*profile.Profile{primary}
	if s.FallbackProfile == s.PrimaryProfile {
		return chain, nil
	}
	fallback, ok := j.deps.Profiles.Get(s.FallbackProfile)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoProfile, s.FallbackProfile)
	}
	return append(chain, fallback), nil
}

func (j *Job) publish(typ string, data any) {
	if j.bus == nil {
		return
	}
	j.bus.Publish(eventbus.Event{Type: typ, Time: j.now(), Data: data})
}
