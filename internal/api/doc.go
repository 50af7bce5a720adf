// Package api serves the admin HTTP surface: health, the last recrawl cycle,
// manual cycle triggers, frontier and task state, Prometheus metrics and
// optionally the Go profiler.
package api
