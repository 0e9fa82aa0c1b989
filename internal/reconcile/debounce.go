package reconcile

import (
	"sync"
	"time"
)

// Debouncer admits at most one event per window, measured from the last
// admitted event.
type Debouncer struct {
	mu     sync.Mutex
	window time.Duration
	last   time.Time
	fired  bool
}

// NewDebouncer returns a Debouncer with the given window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{window: window}
}

// Allow reports whether an event at now may trigger a refresh, and records it
// as the last firing when it may.
func (d *Debouncer) Allow(now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fired && now.Sub(d.last) < d.window {
		return false
	}
	d.fired = true
	d.last = now
	return true
}
