package recrawl

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
	logx "recrawler/pkg/logx"
)

// Reporter accumulates one cycle. It is not safe for concurrent use; a cycle
// is sequential.
type Reporter struct {
	log     logx.Logger
	limiter *rate.Limiter
	out     CycleOutcome
}

func NewReporter(log logx.Logger, logRatePerSec int, started time.Time) *Reporter {
	if logRatePerSec <= 0 {
		logRatePerSec = DefaultLogRatePerSec
	}
	id := uuid.NewString()
	return &Reporter{
		log:     log.With(logx.String("cycle", id)),
		limiter: rate.NewLimiter(rate.Limit(logRatePerSec), logRatePerSec),
		out:     CycleOutcome{ID: id, Started: started},
	}
}

func (r *Reporter) Gate(queueSize, ceiling int, open bool) {
	r.out.QueueSize = queueSize
	r.out.Ceiling = ceiling
	r.out.GateOpen = open
}

func (r *Reporter) Record(c Candidate, a Admission) {
	r.out.Total++
	switch a.Result {
	case ResultAdmitted:
		r.out.Admitted++
	case ResultAdmittedFallback:
		r.out.AdmittedViaFallback++
	case ResultSkipped:
		r.out.Skipped++
	case ResultFailedBoth:
		r.out.FailedBoth++
	}
	r.out.Rejections = append(r.out.Rejections, a.Rejections...)

	if !r.limiter.Allow() {
		r.out.LogsSuppressed++
		return
	}
	fields := []logx.Field{
		logx.String("url", c.URL),
		logx.String("result", a.Result.String()),
		logx.Time("load_date", c.LoadDate),
	}
	if a.Profile != "" {
		fields = append(fields, logx.String("profile", a.Profile))
	}
	if n := len(a.Rejections); n > 0 {
		last := a.Rejections[n-1]
		fields = append(fields, logx.String("stage", last.Stage), logx.String("reason", last.Reason))
	}
	switch a.Result {
	case ResultAdmitted, ResultAdmittedFallback:
		r.log.Info("recrawl candidate admitted", fields...)
	case ResultFailedBoth:
		r.log.Warn("recrawl candidate rejected by every profile", fields...)
	default:
		r.log.Debug("recrawl candidate skipped", fields...)
	}
}

func (r *Reporter) Malformed(n int) { r.out.Malformed += n }

// Abort marks the cycle as ended early. The first reason wins.
func (r *Reporter) Abort(reason string, err error) {
	if r.out.Aborted {
		return
	}
	r.out.Aborted = true
	r.out.AbortReason = reason
	r.out.Err = err
}

// Finish seals the outcome and logs the summary line exactly once.
func (r *Reporter) Finish(now time.Time) CycleOutcome {
	r.out.Finished = now
	o := r.out
	o.Rejections = append([]Rejection(nil), r.out.Rejections...)

	fields := []logx.Field{
		logx.Int("total", o.Total),
		logx.Int("admitted", o.Admitted),
		logx.Int("admitted_fallback", o.AdmittedViaFallback),
		logx.Int("skipped", o.Skipped),
		logx.Int("failed_both", o.FailedBoth),
		logx.Int("malformed", o.Malformed),
		logx.Duration("took", o.Finished.Sub(o.Started)),
	}
	if o.LogsSuppressed > 0 {
		fields = append(fields, logx.Int("logs_suppressed", o.LogsSuppressed))
	}
	if o.Aborted {
		r.log.Warn(o.Summary(), append(fields, logx.String("abort_reason", o.AbortReason))...)
	} else {
		r.log.Info(o.Summary(), fields...)
	}
	return o
}

// Summary renders the outcome as one line.
func (o CycleOutcome) Summary() string {
	if !o.GateOpen {
		return fmt.Sprintf("RECRAWL gated: queue size %d exceeds ceiling %d, 0 candidates seen", o.QueueSize, o.Ceiling)
	}
	s := fmt.Sprintf("RECRAWL added %d URLs (%d via fallback) of %d candidates; skipped %d, failed both %d, malformed %d",
		o.Admitted+o.AdmittedViaFallback, o.AdmittedViaFallback, o.Total, o.Skipped, o.FailedBoth, o.Malformed)
	if o.Aborted {
		s += fmt.Sprintf("; aborted after %d candidates: %s", o.Total, o.AbortReason)
	}
	return s
}
