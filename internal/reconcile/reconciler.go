// Package reconcile periodically re-derives every location's rating and
// review count from its reviews.
package reconcile

import (
	"context"
	"time"

	"github.com/smukkama/calmcorners/internal/logging"
	"github.com/smukkama/calmcorners/internal/metrics"
	"github.com/smukkama/calmcorners/internal/timer"
)

const taskID = "reconcile-aggregates"

// Target is the operation being scheduled, normally *catalog.Service.
type Target interface {
	Reconcile(ctx context.Context) (int, error)
}

// Reconciler runs Target.Reconcile on interval boundaries.
type Reconciler struct {
	target   Target
	interval time.Duration
	timeout  time.Duration
	now      func() time.Time
}

// New creates a reconciler. Each run is bounded by the interval itself.
func New(target Target, interval time.Duration) *Reconciler {
	return &Reconciler{
		target:   target,
		interval: interval,
		timeout:  interval,
		now:      time.Now,
	}
}

// NextRunTime returns the next multiple of interval after now, so that
// several reconcilers started at different times still run together.
func NextRunTime(now time.Time, interval time.Duration) time.Time {
	next := now.Truncate(interval).Add(interval)
	if !next.After(now) {
		next = next.Add(interval)
	}
	return next
}

// RunOnce reconciles the catalog and returns how many locations were repaired.
func (r *Reconciler) RunOnce(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := r.now()
	fixed, err := r.target.Reconcile(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("reconciliation failed")
		return 0, err
	}

	metrics.ReconcileCorrections.Add(float64(fixed))
	ev := logging.Info()
	if fixed > 0 {
		ev = logging.Warn()
	}
	ev.Int("corrected", fixed).Dur("took", r.now().Sub(start)).Msg("reconciliation completed")
	return fixed, nil
}

// Schedule registers the reconciler with s. After every run the next one
// is scheduled, until ctx is done or s stops.
func (r *Reconciler) Schedule(ctx context.Context, s *timer.Scheduler) error {
	var scheduleNext func() error
	scheduleNext = func() error {
		nextRun := NextRunTime(r.now(), r.interval)
		logging.Info().Time("next_run", nextRun).Msg("reconciliation scheduled")

		return s.Schedule(taskID, nextRun, func() {
			if ctx.Err() != nil {
				return
			}
			_, _ = r.RunOnce(ctx)
			if err := scheduleNext(); err != nil {
				logging.Debug().Err(err).Msg("reconciliation not rescheduled")
			}
		})
	}
	return scheduleNext()
}

// NextRun reports when the next scheduled reconciliation is due on s.
func (r *Reconciler) NextRun(s *timer.Scheduler) (time.Time, bool) {
	return s.NextRun(taskID)
}

// Unschedule drops the pending reconciliation from s. A run already in
// progress is not interrupted; cancel its context for that.
func (r *Reconciler) Unschedule(s *timer.Scheduler) bool {
	return s.Cancel(taskID)
}
