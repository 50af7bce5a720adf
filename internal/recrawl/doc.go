// Package recrawl re-schedules stale indexed documents into the fetch queue.
//
// One cycle runs the Gate (skip when the queue is already too full), the
// Selector (oldest stale documents first), the admission Pipeline (two
// acceptance checks, then a push under the primary profile with one fallback
// profile) and the Reporter (one outcome, one summary line). A rejected push
// never removes the document from the index.
//
// Triggering is external: the task scheduler calls Job.RunCycle on an
// interval and the admin API may call it on demand.
package recrawl
