package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"recrawler/internal/crawl/frontier"
	"recrawler/internal/recrawl"
	"recrawler/internal/task/engine"
	"recrawler/internal/task/scheduler"
	logx "recrawler/pkg/logx"
)

// Backend is what the admin routes read from and act on.
type Backend interface {
	LastCycle() (recrawl.CycleOutcome, bool)
	// TriggerCycle enqueues one recrawl cycle; it does not wait for it.
	TriggerCycle() error
	Frontier() frontier.Snapshot
	Engine() engine.Snapshot
	Schedules() scheduler.Snapshot
}

// RouterOptions configures NewRouter. A nil Gatherer disables /metrics.
type RouterOptions struct {
	Token    string
	Pprof    bool
	Gatherer prometheus.Gatherer
	Log      logx.Logger
}

type tasksResponse struct {
	Engine    engine.Snapshot    `json:"engine"`
	Scheduler scheduler.Snapshot `json:"scheduler"`
}

type triggerResponse struct {
	Status string `json:"status"`
}

// NewRouter builds the admin routes. /healthz stays open; everything else
// sits behind the bearer token when one is set.
func NewRouter(b Backend, o RouterOptions) http.Handler {
	log := o.Log
	if log.IsZero() {
		log = logx.Nop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(o.Token))

		r.Get("/v1/recrawl/last", func(w http.ResponseWriter, r *http.Request) {
			out, ok := b.LastCycle()
			if !ok {
				writeError(w, http.StatusNotFound, "no cycle has run yet")
				return
			}
			writeJSON(w, http.StatusOK, out)
		})

		r.Post("/v1/recrawl/run", func(w http.ResponseWriter, r *http.Request) {
			if err := b.TriggerCycle(); err != nil {
				writeError(w, triggerStatus(err), err.Error())
				return
			}
			writeJSON(w, http.StatusAccepted, triggerResponse{Status: "accepted"})
		})

		r.Get("/v1/frontier", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, b.Frontier())
		})

		r.Get("/v1/tasks", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, tasksResponse{Engine: b.Engine(), Scheduler: b.Schedules()})
		})

		if o.Gatherer != nil {
			r.Handle("/metrics", promhttp.HandlerFor(o.Gatherer, promhttp.HandlerOpts{}))
		}
		if o.Pprof {
			r.Mount("/debug", middleware.Profiler())
		}
	})

	return r
}

func triggerStatus(err error) int {
	switch {
	case errors.Is(err, engine.ErrOverlapSkip):
		return http.StatusConflict
	case errors.Is(err, engine.ErrDisabled),
		errors.Is(err, engine.ErrStopped),
		errors.Is(err, engine.ErrStopping),
		errors.Is(err, engine.ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
