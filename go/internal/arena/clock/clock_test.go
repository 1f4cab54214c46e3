package clock

import (
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 18, 0, 0, 0, time.UTC)

func TestElapsed(t *testing.T) {
	cases := []struct {
		name  string
		start time.Time
		now   time.Time
		want  time.Duration
	}{
		{name: "unassigned start", start: time.Time{}, now: base, want: 0},
		{name: "before start clamps to zero", start: base, now: base.Add(-3 * time.Second), want: 0},
		{name: "truncates to 10ms", start: base, now: base.Add(2*time.Second + 347*time.Millisecond + 900*time.Microsecond), want: 2340 * time.Millisecond},
		{name: "exact", start: base, now: base.Add(90 * time.Second), want: 90 * time.Second},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Elapsed(tc.start, tc.now))
		})
	}
}

func TestRemaining(t *testing.T) {
	assert.Equal(t, 4*time.Second, Remaining(base, base.Add(-4900*time.Millisecond)))
	assert.Equal(t, -2*time.Second, Remaining(base, base.Add(2500*time.Millisecond)))
	assert.Equal(t, time.Duration(0), Remaining(time.Time{}, base))
}

func TestCorrection(t *testing.T) {
	small := Correction(base, base.Add(50*time.Millisecond))
	assert.Equal(t, 50*time.Millisecond, small.Delta)
	assert.False(t, small.Visible)

	edge := Correction(base, base.Add(-time.Second))
	assert.False(t, edge.Visible)

	large := Correction(base, base.Add(-1500*time.Millisecond))
	assert.Equal(t, -1500*time.Millisecond, large.Delta)
	assert.True(t, large.Visible)
}

func TestReconcilerUsesSampledClock(t *testing.T) {
	fake := clockwork.NewFakeClockAt(base)
	r := NewReconciler(fake)

	assert.Equal(t, 5*time.Second, r.Remaining(base.Add(5*time.Second)))

	fake.Advance(7 * time.Second)
	assert.Equal(t, 2*time.Second, r.Elapsed(base.Add(5*time.Second)))
	assert.Equal(t, -2*time.Second, r.Remaining(base.Add(5*time.Second)))
}

func TestReconcilerTimer(t *testing.T) {
	fake := clockwork.NewFakeClockAt(base)
	r := NewReconciler(fake)

	start := base.Add(1500 * time.Millisecond)
	wait := r.Until(start)
	assert.Equal(t, 1500*time.Millisecond, wait)

	timer := r.NewTimer(wait)
	defer timer.Stop()
	fake.Advance(wait)
	select {
	case fired := <-timer.Chan():
		assert.Equal(t, start, fired)
	case <-time.After(time.Second):
		t.Fatal("timer did not fire")
	}
	assert.Equal(t, time.Duration(0), r.Until(start))
}

func TestReconcilerConcurrentCallers(t *testing.T) {
	fake := clockwork.NewFakeClockAt(base.Add(time.Minute))
	r := NewReconciler(fake)

	var wg sync.WaitGroup
	results := make([]time.Duration, 32)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Elapsed(base)
		}(i)
	}
	wg.Wait()

	for _, got := range results {
		require.Equal(t, time.Minute, got)
	}
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "0:02.00", FormatStopwatch(2*time.Second))
	assert.Equal(t, "1:05.43", FormatStopwatch(65*time.Second+437*time.Millisecond))
	assert.Equal(t, "0:00.00", FormatStopwatch(-time.Second))

	assert.Equal(t, "0:00:05", FormatCountdown(5*time.Second))
	assert.Equal(t, "1:01:01", FormatCountdown(time.Hour+time.Minute+time.Second))
	assert.Equal(t, "0:00:00", FormatCountdown(-3*time.Second))
}
