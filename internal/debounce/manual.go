package debounce

import (
	"sync"
	"time"
)

// ManualScheduler is a Scheduler driven by an explicit logical clock.
// Nothing fires until Advance is called, which makes debounce behaviour
// reproducible in tests and in replay tooling.
type ManualScheduler struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	timers []*manualTimer
}

type manualTimer struct {
	s       *ManualScheduler
	at      time.Duration
	seq     int
	f       func()
	stopped bool
	fired   bool
}

// NewManualScheduler returns a scheduler whose clock starts at zero
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{}
}

// AfterFunc implements Scheduler
func (s *ManualScheduler) AfterFunc(d time.Duration, f func()) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d < 0 {
		d = 0
	}
	s.seq++
	t := &manualTimer{s: s, at: s.now + d, seq: s.seq, f: f}
	s.timers = append(s.timers, t)
	return t
}

// Stop implements Handle
func (t *manualTimer) Stop() bool {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves the clock forward by d, firing due callbacks in time order.
// Callbacks scheduled by fired callbacks also run if they fall due. It returns
// the number of callbacks fired.
func (s *ManualScheduler) Advance(d time.Duration) int {
	s.mu.Lock()
	target := s.now + d
	s.mu.Unlock()

	fired := 0
	for {
		s.mu.Lock()
		var next *manualTimer
		live := s.timers[:0]
		for _, t := range s.timers {
			if t.stopped || t.fired {
				continue
			}
			live = append(live, t)
			if t.at > target {
				continue
			}
			if next == nil || t.at < next.at || (t.at == next.at && t.seq < next.seq) {
				next = t
			}
		}
		s.timers = live

		if next == nil {
			s.now = target
			s.mu.Unlock()
			return fired
		}
		s.now = next.at
		next.fired = true
		s.mu.Unlock()

		next.f()
		fired++
	}
}

// RunDue fires callbacks already due at the current time
func (s *ManualScheduler) RunDue() int {
	return s.Advance(0)
}

// Now returns the elapsed logical time
func (s *ManualScheduler) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// Pending returns the number of callbacks waiting to fire
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}
