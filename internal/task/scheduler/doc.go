// Package scheduler registers recurring triggers (cron or interval) and
// enqueues the matching task into the task engine on every tick.
//
// The scheduler never executes work itself; overlap and timeouts are the
// engine's concern.
package scheduler
