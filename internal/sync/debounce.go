package sync

import (
	stdsync "sync"
	"time"
)

// debouncer collapses bursts of triggers into one call of fn fired delay
// after the last trigger
type debouncer struct {
	mu      stdsync.Mutex
	delay   time.Duration
	fn      func()
	timer   *time.Timer
	armed   bool
	pending bool
}

func newDebouncer(delay time.Duration, fn func()) *debouncer {
	return &debouncer{delay: delay, fn: fn}
}

// Arm enables triggers
func (d *debouncer) Arm() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.armed = true
}

// Trigger restarts the quiet period. Ignored until Arm is called.
func (d *debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.armed {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = true
	d.timer = time.AfterFunc(d.delay, d.fire)
}

func (d *debouncer) fire() {
	d.mu.Lock()
	if !d.armed || !d.pending {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.mu.Unlock()

	d.fn()
}

// Pending reports whether a call is scheduled
func (d *debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Stop cancels any scheduled call and disables further triggers
func (d *debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.armed = false
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
