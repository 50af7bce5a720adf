// Package metrics exports recrawl cycle and frontier state to Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"recrawler/internal/crawl/frontier"
	"recrawler/internal/recrawl"
)

const namespace = "recrawl"

// Cycle results.
const (
	ResultCompleted = "completed"
	ResultGated     = "gated"
	ResultAborted   = "aborted"
)

// Collector implements recrawl.Observer.
type Collector struct {
	cycles     *prometheus.CounterVec
	candidates *prometheus.CounterVec
	occupancy  prometheus.Gauge
	duration   prometheus.Histogram
}

// New registers the recrawl metrics on reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Recrawl cycles by result.",
		}, []string{"result"}),
		candidates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candidates_total",
			Help:      "Recrawl candidates by outcome.",
		}, []string{"outcome"}),
		occupancy: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_occupancy",
			Help:      "Queue occupancy seen by the last gate decision.",
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of recrawl cycles.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
	for _, col := range []prometheus.Collector{c.cycles, c.candidates, c.occupancy, c.duration} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) ObserveCycle(o recrawl.CycleOutcome) {
	c.cycles.WithLabelValues(result(o)).Inc()
	c.occupancy.Set(float64(o.QueueSize))
	c.duration.Observe(o.Finished.Sub(o.Started).Seconds())

	add := func(outcome string, n int) {
		if n > 0 {
			c.candidates.WithLabelValues(outcome).Add(float64(n))
		}
	}
	add(recrawl.ResultAdmitted.String(), o.Admitted)
	add(recrawl.ResultAdmittedFallback.String(), o.AdmittedViaFallback)
	add(recrawl.ResultSkipped.String(), o.Skipped)
	add(recrawl.ResultFailedBoth.String(), o.FailedBoth)
	add("malformed", o.Malformed)
}

func result(o recrawl.CycleOutcome) string {
	switch {
	case !o.GateOpen:
		return ResultGated
	case o.Aborted:
		return ResultAborted
	default:
		return ResultCompleted
	}
}

// RegisterFrontier exports the live length of each frontier stack.
func RegisterFrontier(reg prometheus.Registerer, f *frontier.Frontier) error {
	for _, st := range []frontier.Stack{frontier.StackLocal, frontier.StackGlobal, frontier.StackRemote} {
		g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   "frontier",
			Name:        "stack_length",
			Help:        "Requests waiting in a frontier stack.",
			ConstLabels: prometheus.Labels{"stack": string(st)},
		}, func() float64 { return float64(f.Len(st)) })
		if err := reg.Register(g); err != nil {
			return err
		}
	}
	return nil
}
