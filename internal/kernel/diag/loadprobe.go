package diag

import (
	"sync"
	"time"
)

// LoadProbe accumulates busy and idle time over a rolling window and
// reports the busy fraction in tenths of a percent (permille) as
// system_load. It reads the timebase without critical sections and
// tolerates short distortions by design: it is advisory telemetry, not a
// scheduling input.
type LoadProbe struct {
	window time.Duration

	mu          sync.Mutex
	windowStart time.Time
	busy        time.Duration
	idle        time.Duration
	lastPermille uint32
}

// NewLoadProbe returns a probe averaging over the given rolling window
// (about one second is a typical calibration).
func NewLoadProbe(window time.Duration) *LoadProbe {
	return &LoadProbe{window: window, windowStart: time.Now()}
}

// RecordBusy adds d to the current window's busy accumulator (time spent
// running a non-idle task).
func (l *LoadProbe) RecordBusy(d time.Duration) {
	l.mu.Lock()
	l.busy += d
	l.mu.Unlock()
	l.rollIfDue()
}

// RecordIdle adds d to the current window's idle accumulator (time spent
// in the idle context, priority 0).
func (l *LoadProbe) RecordIdle(d time.Duration) {
	l.mu.Lock()
	l.idle += d
	l.mu.Unlock()
	l.rollIfDue()
}

// rollIfDue snapshots permille and starts a fresh window once the busy
// and idle time recorded so far together reach the configured window.
func (l *LoadProbe) rollIfDue() {
	l.mu.Lock()
	defer l.mu.Unlock()

	total := l.busy + l.idle
	if total < l.window {
		return
	}
	if total > 0 {
		l.lastPermille = uint32(l.busy * 1000 / total)
	}
	l.busy = 0
	l.idle = 0
	l.windowStart = time.Now()
}

// Permille implements system_load(): the busy fraction of the most
// recently completed window, in tenths of a percent.
func (l *LoadProbe) Permille() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastPermille
}
