package app

// StopReason is logged when the app stops.
type StopReason string

const (
	StopSignal       StopReason = "signal"
	StopFatalError   StopReason = "fatal_error"
	StopAppStop      StopReason = "app_stop"
	StopOnceFinished StopReason = "once_finished"
)
