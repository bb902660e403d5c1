// Package featureladder implements the shared feature-degradation pattern
// of spec.md §4.7: a per-endpoint negotiated ceiling that degrades on
// repeated failure and resets after a grace period, reused by every
// remote-endpoint implementation that needs to back off a too-optimistic
// protocol level.
package featureladder

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Level is one point on the ladder, worst to best.
type Level int

// RetryAttempts is the number of consecutive failures within the grace
// window that triggers one demotion step.
const RetryAttempts = 3

// GraceWindow is how long after the last failed attempt a demoted possible
// resets to Best.
const GraceWindow = 5 * time.Minute

// Ladder tracks the negotiated feature ceiling for one endpoint, following
// spec.md §4.7. The zero value is not ready to use; construct with New.
type Ladder struct {
	best, worst Level

	verified Level
	possible Level

	nFailedAttempts  int
	lastFailedAttempt time.Time

	log *logrus.Entry

	// now is overridable for tests; defaults to time.Now.
	now func() time.Time
}

// New constructs a Ladder ranging from worst to best (inclusive), starting
// with possible at best and verified at worst, per spec.md §4.7 and
// testable property 10.
func New(worst, best Level, log *logrus.Entry) *Ladder {
	if log == nil {
		log = logrus.WithField("component", "featureladder")
	}
	return &Ladder{
		best:     best,
		worst:    worst,
		verified: worst,
		possible: best,
		log:      log,
		now:      time.Now,
	}
}

// Possible returns the current ceiling to attempt, applying the grace/
// clamp/demotion rules of spec.md §4.7 before returning. Call this
// immediately before each operation that needs to choose a level.
func (l *Ladder) Possible() Level {
	switch {
	case !l.lastFailedAttempt.IsZero() && l.possible != l.best &&
		l.now().Sub(l.lastFailedAttempt) > GraceWindow:
		l.possible = l.best
		l.nFailedAttempts = 0
		l.lastFailedAttempt = time.Time{}
		l.log.Info("featureladder: grace period over, resuming full feature set")

	case l.possible < l.verified:
		l.possible = l.verified

	case l.nFailedAttempts >= RetryAttempts && l.possible > l.worst:
		l.possible--
		l.nFailedAttempts = 0
		l.log.WithField("level", l.possible).Warn("featureladder: degraded feature set")
	}

	return l.possible
}

// RecordSuccess promotes verified to level if level is higher than the
// current verified ceiling, and clears the failure counter.
func (l *Ladder) RecordSuccess(level Level) {
	if level > l.verified {
		l.verified = level
	}
	l.nFailedAttempts = 0
}

// RecordFailure increments the failure counter and stamps the failure
// time; the next call to Possible applies the demotion/grace rules against
// it.
func (l *Ladder) RecordFailure() {
	l.nFailedAttempts++
	l.lastFailedAttempt = l.now()
}

// Verified returns the highest level ever confirmed to work.
func (l *Ladder) Verified() Level {
	return l.verified
}
