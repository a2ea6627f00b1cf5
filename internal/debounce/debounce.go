// Package debounce delays callbacks so that only the most recent of a burst runs.
package debounce

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

// Delays applied to filter input
const (
	ShortQueryDelay = 150 * time.Millisecond
	LongQueryDelay  = 300 * time.Millisecond
	TraitDelay      = 100 * time.Millisecond
)

// Handle is a scheduled callback that can be cancelled
type Handle interface {
	// Stop cancels the callback and reports whether it was still pending
	Stop() bool
}

// Scheduler runs callbacks after a delay.
// Implementations must not invoke f synchronously from AfterFunc.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Handle
}

// RealScheduler schedules on the wall clock
type RealScheduler struct{}

// AfterFunc implements Scheduler using time.AfterFunc
func (RealScheduler) AfterFunc(d time.Duration, f func()) Handle {
	return time.AfterFunc(d, f)
}

// QueryDelay returns the debounce delay for a search query.
// Very short queries settle faster since they are usually the start of typing.
func QueryDelay(query string) time.Duration {
	if utf8.RuneCountInString(strings.TrimSpace(query)) <= 2 {
		return ShortQueryDelay
	}
	return LongQueryDelay
}

// Debouncer keeps at most one pending callback. Triggering again replaces it.
type Debouncer struct {
	mu      sync.Mutex
	sched   Scheduler
	pending Handle
	fn      func()

	// seq identifies the latest trigger; a callback whose Stop lost the race
	// against its timer firing checks it and bails out
	seq uint64
}

// New creates a debouncer on sched, or on the wall clock when sched is nil
func New(sched Scheduler) *Debouncer {
	if sched == nil {
		sched = RealScheduler{}
	}
	return &Debouncer{sched: sched}
}

// Trigger cancels any pending callback and schedules f to run after delay
func (d *Debouncer) Trigger(delay time.Duration, f func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pending != nil {
		d.pending.Stop()
	}
	d.seq++
	seq := d.seq
	d.fn = f
	d.pending = d.sched.AfterFunc(delay, func() {
		if fn := d.claim(seq); fn != nil {
			fn()
		}
	})
}

// claim returns the pending function if seq is still current and clears it
func (d *Debouncer) claim(seq uint64) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if seq != d.seq || d.fn == nil {
		return nil
	}
	fn := d.fn
	d.fn = nil
	d.pending = nil
	return fn
}

// Cancel drops the pending callback and reports whether there was one
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	had := d.fn != nil
	if d.pending != nil {
		d.pending.Stop()
	}
	d.seq++
	d.fn = nil
	d.pending = nil
	return had
}

// Flush runs the pending callback immediately, if any, and reports whether it ran
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	fn := d.fn
	if d.pending != nil {
		d.pending.Stop()
	}
	d.seq++
	d.fn = nil
	d.pending = nil
	d.mu.Unlock()

	if fn == nil {
		return false
	}
	fn()
	return true
}

// Pending reports whether a callback is waiting to run
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fn != nil
}
