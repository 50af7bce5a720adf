package recrawl

// MayRun reports whether a cycle may start: occupancy at the ceiling still runs.
func MayRun(currentSize, ceiling int) bool {
	return currentSize <= ceiling
}

// GateEvent is published on every gate decision.
type GateEvent struct {
	QueueSize int  `json:"queue_size"`
	Ceiling   int  `json:"ceiling"`
	Open      bool `json:"open"`
}
