package supervisor

import (
	"sync"
	"time"
)

// CrashTracker counts unexpected exits inside a trailing time window.
// The window slides naturally: entries age out on every query, so a
// cool-down never clears history explicitly — a crash right after the
// cool-down still counts toward a fresh trip once enough recent exits
// accumulate.
type CrashTracker struct {
	window time.Duration
	now    func() time.Time

	mutex sync.Mutex
	exits []time.Time
}

func NewCrashTracker(window time.Duration) *CrashTracker {
	return &CrashTracker{
		window: window,
		now:    time.Now,
	}
}

// RecordExit registers an exit at the current instant and returns the
// number of exits inside the window, including this one. The in-flight
// run is never counted; callers record only after the process is gone.
func (t *CrashTracker) RecordExit() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	now := t.now()
	t.exits = append(t.exits, now)
	t.evict(now)
	return len(t.exits)
}

// Count returns the number of exits currently inside the window.
func (t *CrashTracker) Count() int {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.evict(t.now())
	return len(t.exits)
}

// evict drops entries older than the window. Caller holds the mutex.
func (t *CrashTracker) evict(now time.Time) {
	cutoff := now.Add(-t.window)
	kept := t.exits[:0]
	for _, ts := range t.exits {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	t.exits = kept
}
