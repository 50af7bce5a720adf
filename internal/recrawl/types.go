package recrawl

import (
	"errors"
	"time"
)

// FreshExpiryDays is how long ago a document's freshness must have expired.
// It is policy, not configuration.
const FreshExpiryDays = 30

const (
	DefaultMaxQueueSize  = 500
	DefaultRows          = 1000
	DefaultDays          = 365
	DefaultLogRatePerSec = 20
	DefaultPrimary       = "local"
	DefaultFallback      = "remote"
)

var (
	// ErrQueryFailed wraps index query and cursor failures; such a failure
	// aborts the rest of the cycle.
	ErrQueryFailed = errors.New("index query failed")
	ErrNoProfile   = errors.New("profile not found")
)

// Candidate is a stale document picked for re-scheduling.
type Candidate struct {
	URL      string
	Hash     string
	Status   *int
	LoadDate time.Time
}

// WindowSpec holds the two age predicates, both in days and both required.
type WindowSpec struct {
	FreshAgeDays int
	LoadAgeDays  int
}

type Settings struct {
	// MaxQueueSize is the queue occupancy ceiling; a cycle runs while
	// occupancy <= MaxQueueSize.
	MaxQueueSize int
	// Rows bounds the batch read per cycle.
	Rows int
	// Days is the minimum age of the last load.
	Days int

	PrimaryProfile  string
	FallbackProfile string

	// LogRatePerSec caps per-candidate log lines; the rest are counted.
	LogRatePerSec int
}

func DefaultSettings() Settings {
	return Settings{
		MaxQueueSize:    DefaultMaxQueueSize,
		Rows:            DefaultRows,
		Days:            DefaultDays,
		PrimaryProfile:  DefaultPrimary,
		FallbackProfile: DefaultFallback,
		LogRatePerSec:   DefaultLogRatePerSec,
	}
}

// withDefaults fills the fields whose zero value is meaningless. MaxQueueSize
// and Days are taken as given: a ceiling of 0 admits only an empty queue, a
// negative one closes the gate, and 0 days cuts off at the start of today. Start from
// DefaultSettings for the stock values.
func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.Rows <= 0 {
		s.Rows = d.Rows
	}
	if s.PrimaryProfile == "" {
		s.PrimaryProfile = d.PrimaryProfile
	}
	if s.FallbackProfile == "" {
		s.FallbackProfile = d.FallbackProfile
	}
	if s.LogRatePerSec <= 0 {
		s.LogRatePerSec = d.LogRatePerSec
	}
	return s
}

func (s Settings) window() WindowSpec {
	return WindowSpec{FreshAgeDays: FreshExpiryDays, LoadAgeDays: s.Days}
}

// Stage names where a candidate was rejected.
const (
	StageChangeable = "changeable"
	StageInitial    = "initial"
	StagePrimary    = "primary"
	StageFallback   = "fallback"
)

type Rejection struct {
	URL    string `json:"url"`
	Stage  string `json:"stage"`
	Reason string `json:"reason"`
}

// CycleOutcome is the immutable record of one cycle. Total counts well-formed
// candidates; Malformed records are counted apart from it.
type CycleOutcome struct {
	ID       string    `json:"id"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`

	QueueSize int  `json:"queue_size"`
	Ceiling   int  `json:"ceiling"`
	GateOpen  bool `json:"gate_open"`

	Total               int `json:"total"`
	Admitted            int `json:"admitted"`
	AdmittedViaFallback int `json:"admitted_via_fallback"`
	Skipped             int `json:"skipped"`
	FailedBoth          int `json:"failed_both"`
	Malformed           int `json:"malformed"`
	LogsSuppressed      int `json:"logs_suppressed,omitempty"`

	Aborted     bool   `json:"aborted"`
	AbortReason string `json:"abort_reason,omitempty"`
	Err         error  `json:"-"`

	Rejections []Rejection `json:"rejections,omitempty"`
}

// Result classifies what happened to one candidate.
type Result int

const (
	ResultAdmitted Result = iota
	ResultAdmittedFallback
	ResultSkipped
	ResultFailedBoth
)

func (r Result) String() string {
	switch r {
	case ResultAdmitted:
		return "admitted"
	case ResultAdmittedFallback:
		return "admitted_fallback"
	case ResultSkipped:
		return "skipped"
	case ResultFailedBoth:
		return "failed_both"
	default:
		return "unknown"
	}
}
