package clock

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

const (
	// ElapsedResolution is the granularity of in-match elapsed time.
	ElapsedResolution = 10 * time.Millisecond

	// CountdownResolution is the granularity of the pre-match countdown.
	CountdownResolution = time.Second

	// ResyncTolerance is the largest start-time correction absorbed without a visible resync.
	ResyncTolerance = time.Second
)

// Clock is the interface we use for time operations.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) clockwork.Timer
	NewTicker(d time.Duration) clockwork.Ticker
}

// NewRealClock returns the wall clock.
func NewRealClock() Clock {
	return clockwork.NewRealClock()
}

// Elapsed returns how long the match has been running at now, never negative.
// A zero effectiveStart means the start has not been assigned yet.
func Elapsed(effectiveStart, now time.Time) time.Duration {
	if effectiveStart.IsZero() {
		return 0
	}
	d := now.Sub(effectiveStart)
	if d < 0 {
		return 0
	}
	return d.Truncate(ElapsedResolution)
}

// Remaining returns the time left before scheduledStart. Negative values mean the
// match should already have started.
func Remaining(scheduledStart, now time.Time) time.Duration {
	if scheduledStart.IsZero() {
		return 0
	}
	return scheduledStart.Sub(now).Truncate(CountdownResolution)
}

// Drift describes a correction from a predicted start time to an authoritative one.
type Drift struct {
	Delta   time.Duration
	Visible bool
}

// Correction classifies moving the start from predicted to authoritative.
func Correction(predicted, authoritative time.Time) Drift {
	delta := authoritative.Sub(predicted)
	abs := delta
	if abs < 0 {
		abs = -abs
	}
	return Drift{Delta: delta, Visible: abs > ResyncTolerance}
}

// Reconciler samples a Clock on every call. It keeps no state of its own, so it is
// safe to share between goroutines.
type Reconciler struct {
	clock Clock
}

func NewReconciler(c Clock) Reconciler {
	if c == nil {
		c = NewRealClock()
	}
	return Reconciler{clock: c}
}

func (r Reconciler) Now() time.Time {
	return r.clock.Now()
}

func (r Reconciler) Elapsed(effectiveStart time.Time) time.Duration {
	return Elapsed(effectiveStart, r.clock.Now())
}

func (r Reconciler) Remaining(scheduledStart time.Time) time.Duration {
	return Remaining(scheduledStart, r.clock.Now())
}

// Until is the untruncated wait before t; zero or negative once t has passed.
func (r Reconciler) Until(t time.Time) time.Duration {
	return t.Sub(r.clock.Now())
}

func (r Reconciler) NewTimer(d time.Duration) clockwork.Timer {
	return r.clock.NewTimer(d)
}

// FormatStopwatch renders d as m:ss.cc.
func FormatStopwatch(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	totalSeconds := ms / 1000
	return fmt.Sprintf("%d:%02d.%02d", totalSeconds/60, totalSeconds%60, (ms%1000)/10)
}

// FormatCountdown renders d as h:mm:ss. Anything at or below zero is 0:00:00.
func FormatCountdown(d time.Duration) string {
	if d <= 0 {
		return "0:00:00"
	}
	total := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", total/3600, (total%3600)/60, total%60)
}
