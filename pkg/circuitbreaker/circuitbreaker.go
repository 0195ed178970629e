package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker short-circuits a call without
// invoking the guarded function.
var ErrOpen = errors.New("circuit open: transport temporarily disabled")

type Settings struct {
	Name          string
	FailThreshold int
	ResetTimeout  time.Duration
}

// CircuitBreaker guards a failing dependency. It trips open once
// FailThreshold failures accumulate and stays open until ResetTimeout has
// elapsed since the last failure; the first call after that is a live probe.
// A successful call never resets the failure count early, only the timeout
// does. State is shared by every caller holding the same instance.
type CircuitBreaker struct {
	name          string
	failThreshold int
	resetTimeout  time.Duration

	mu          sync.Mutex
	failures    int
	lastFailure time.Time

	now func() time.Time
}

func NewCircuitBreaker(settings Settings) *CircuitBreaker {
	return &CircuitBreaker{
		name:          settings.Name,
		failThreshold: settings.FailThreshold,
		resetTimeout:  settings.ResetTimeout,
		now:           time.Now,
	}
}

// Execute runs fn unless the breaker is open. Failures of fn are counted
// and returned unchanged.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.allow(); err != nil {
		return err
	}

	if err := fn(); err != nil {
		cb.recordFailure()
		return err
	}
	return nil
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.failures < cb.failThreshold {
		return nil
	}
	if cb.now().Sub(cb.lastFailure) < cb.resetTimeout {
		return ErrOpen
	}
	// reset after timeout; the caller becomes the live probe
	cb.failures = 0
	return nil
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = cb.now()
}

// Failures reports the current failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}
