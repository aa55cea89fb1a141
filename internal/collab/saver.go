package collab

import (
	"sync"
	"time"
)

// debouncedSave coalesces a stream of save triggers for one room.
// The save runs after wait of quiet, but a continuously edited room is
// still saved at least every maxWait. Flush runs a pending save
// synchronously, which room deletion relies on to not lose the last
// edits.
type debouncedSave struct {
	mu      sync.Mutex
	wait    time.Duration
	maxWait time.Duration
	fn      func()

	timer    *time.Timer
	pending  bool
	deadline time.Time // hard deadline of the current burst
}

func newDebouncedSave(wait, maxWait time.Duration, fn func()) *debouncedSave {
	return &debouncedSave{wait: wait, maxWait: maxWait, fn: fn}
}

// Trigger arms or re-arms the save timer.
func (d *debouncedSave) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if !d.pending {
		d.pending = true
		d.deadline = now.Add(d.maxWait)
	}

	delay := d.wait
	if remaining := d.deadline.Sub(now); remaining < delay {
		delay = remaining
	}
	if delay < 0 {
		delay = 0
	}

	if d.timer == nil {
		d.timer = time.AfterFunc(delay, d.fire)
		return
	}
	d.timer.Stop()
	d.timer.Reset(delay)
}

func (d *debouncedSave) fire() {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return
	}
	d.pending = false
	d.mu.Unlock()

	d.fn()
}

// Cancel drops any pending save without running it.
func (d *debouncedSave) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = false
}

// Flush runs a pending save immediately. No-op when nothing is pending.
func (d *debouncedSave) Flush() {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.pending = false
	d.mu.Unlock()

	d.fn()
}
