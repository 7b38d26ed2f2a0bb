// Package resilience provides the retry loop and the failure-count breaker
// that guard remote chat-completion calls.
package resilience

import (
	"sync"
	"sync/atomic"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state; requests flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the failure limit was reached: requests are failed
	// without contacting the remote API for the rest of the run.
	CircuitOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	default:
		return "unknown"
	}
}

// FailureBreakerConfig controls breaker behavior.
type FailureBreakerConfig struct {
	// FailureLimit is the cumulative number of failed records after which
	// the circuit opens. Default: 10.
	FailureLimit int

	// OnStateChange is called once when the circuit opens.
	OnStateChange func(from, to CircuitState)
}

// DefaultFailureBreakerConfig returns sensible defaults.
func DefaultFailureBreakerConfig() FailureBreakerConfig {
	return FailureBreakerConfig{FailureLimit: 10}
}

// FailureBreaker opens permanently once the cumulative failure count of a
// run reaches the limit. Unlike a classic breaker it never half-opens: the
// remaining records of the run fail fast and are left for a later run.
//
// Record is meant to be called by a single goroutine; Open may be called
// from any number of workers.
type FailureBreaker struct {
	cfg      FailureBreakerConfig
	failures atomic.Int64
	open     atomic.Bool
	once     sync.Once
}

// NewFailureBreaker creates a breaker with the given config.
func NewFailureBreaker(cfg FailureBreakerConfig) *FailureBreaker {
	if cfg.FailureLimit <= 0 {
		cfg.FailureLimit = 10
	}
	return &FailureBreaker{cfg: cfg}
}

// Record counts one finished record. It reports whether this call opened
// the circuit.
func (b *FailureBreaker) Record(success bool) bool {
	if success {
		return false
	}
	if b.failures.Add(1) < int64(b.cfg.FailureLimit) {
		return false
	}
	opened := false
	b.once.Do(func() {
		b.open.Store(true)
		opened = true
		if b.cfg.OnStateChange != nil {
			b.cfg.OnStateChange(CircuitClosed, CircuitOpen)
		}
	})
	return opened
}

// Open reports whether new work must short-circuit.
func (b *FailureBreaker) Open() bool {
	return b.open.Load()
}

// State returns the current circuit state.
func (b *FailureBreaker) State() CircuitState {
	if b.open.Load() {
		return CircuitOpen
	}
	return CircuitClosed
}

// Failures returns the cumulative failure count.
func (b *FailureBreaker) Failures() int {
	return int(b.failures.Load())
}

// Limit returns the configured failure limit.
func (b *FailureBreaker) Limit() int {
	return b.cfg.FailureLimit
}
