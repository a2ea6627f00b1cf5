// Package circuitbreaker stops calls to metadata sources that keep failing,
// so one broken host cannot stall every ingestion request behind its retries.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrOpen is returned by Allow while a source's circuit is open
var ErrOpen = errors.New("circuit breaker open")

// State represents the current state of one circuit
type State int

// Circuit breaker states
const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Tripped, calls are rejected
	StateHalfOpen              // Cooldown elapsed, probing for recovery
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Options configures a CircuitBreaker
type Options struct {
	// FailureThreshold is the number of consecutive failures that trips a circuit
	FailureThreshold int

	// ResetDelay is how long a tripped circuit rejects calls before probing
	ResetDelay time.Duration

	// SuccessThreshold is the number of successful probes that closes a half-open circuit
	SuccessThreshold int

	// OnTrip is called asynchronously whenever a circuit opens
	OnTrip func(source, reason string)
}

// DefaultOptions returns sensible defaults for metadata sources
func DefaultOptions() Options {
	return Options{
		FailureThreshold: 5,
		ResetDelay:       30 * time.Second,
		SuccessThreshold: 1,
	}
}

// circuit is the state of a single source
type circuit struct {
	state        State
	failures     int
	successCount int
	lastTrip     time.Time
}

// CircuitBreaker keeps one circuit per source key, typically a host name
type CircuitBreaker struct {
	mu       sync.Mutex
	opts     Options
	circuits map[string]*circuit
}

// New creates a breaker with every circuit closed
func New(opts Options) *CircuitBreaker {
	def := DefaultOptions()
	if opts.FailureThreshold <= 0 {
		opts.FailureThreshold = def.FailureThreshold
	}
	if opts.ResetDelay <= 0 {
		opts.ResetDelay = def.ResetDelay
	}
	if opts.SuccessThreshold <= 0 {
		opts.SuccessThreshold = def.SuccessThreshold
	}
	return &CircuitBreaker{
		opts:     opts,
		circuits: make(map[string]*circuit),
	}
}

// get returns the circuit for source, creating it closed. Callers hold cb.mu.
func (cb *CircuitBreaker) get(source string) *circuit {
	c, ok := cb.circuits[source]
	if !ok {
		c = &circuit{state: StateClosed}
		cb.circuits[source] = c
	}
	return c
}

// Allow reports whether a call to source may proceed. An open circuit whose
// reset delay has passed moves to half-open and lets calls through.
func (cb *CircuitBreaker) Allow(source string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(source)
	if c.state != StateOpen {
		return nil
	}
	if remaining := cb.opts.ResetDelay - time.Since(c.lastTrip); remaining > 0 {
		return fmt.Errorf("%w: %s, retry in %s", ErrOpen, source, remaining.Round(time.Millisecond))
	}

	c.state = StateHalfOpen
	c.successCount = 0
	logrus.WithField("source", source).Info("Circuit breaker half-open: testing source recovery")
	return nil
}

// RecordSuccess notes a successful call to source
func (cb *CircuitBreaker) RecordSuccess(source string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(source)
	c.failures = 0
	if c.state != StateHalfOpen {
		return
	}
	c.successCount++
	if c.successCount >= cb.opts.SuccessThreshold {
		c.state = StateClosed
		c.successCount = 0
		logrus.WithField("source", source).Info("Circuit breaker closed: source has recovered")
	}
}

// RecordFailure notes a failed call to source. A half-open circuit trips on the
// first failure, a closed one after FailureThreshold consecutive failures.
func (cb *CircuitBreaker) RecordFailure(source string, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	c := cb.get(source)
	c.failures++
	switch {
	case c.state == StateHalfOpen:
		cb.trip(source, c, fmt.Sprintf("probe failed: %v", err))
	case c.state == StateClosed && c.failures >= cb.opts.FailureThreshold:
		cb.trip(source, c, fmt.Sprintf("%d consecutive failures, last: %v", c.failures, err))
	}
}

// GetState returns the state of the circuit for source
func (cb *CircuitBreaker) GetState(source string) State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if c, ok := cb.circuits[source]; ok {
		return c.state
	}
	return StateClosed
}

// States returns a snapshot of every known circuit
func (cb *CircuitBreaker) States() map[string]State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	out := make(map[string]State, len(cb.circuits))
	for source, c := range cb.circuits {
		out[source] = c.state
	}
	return out
}

// Reset forcibly closes the circuit for source
func (cb *CircuitBreaker) Reset(source string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	delete(cb.circuits, source)
	logrus.WithField("source", source).Info("Circuit breaker manually reset to closed state")
}

// trip opens c. Callers hold cb.mu.
func (cb *CircuitBreaker) trip(source string, c *circuit, reason string) {
	c.state = StateOpen
	c.lastTrip = time.Now()
	c.successCount = 0
	logrus.WithField("source", source).Warnf("Circuit breaker tripped: %s", reason)

	if cb.opts.OnTrip != nil {
		go cb.opts.OnTrip(source, reason)
	}
}
