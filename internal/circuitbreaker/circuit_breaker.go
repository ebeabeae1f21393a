// Package circuitbreaker isolates the rest of the engine from a failing
// Redis backend: consecutive command failures open the breaker, open
// commands fail fast without dialing, and a single probe after the
// cooldown decides whether to close again.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the breaker position. There is no standing half-open state:
// while open, one probe call is admitted once the cooldown elapses, and
// its outcome decides the next position.
type State int

const (
	StateClosed State = iota
	StateOpen
)

func (s State) String() string {
	if s == StateOpen {
		return "open"
	}
	return "closed"
}

// ErrCircuitBreakerOpen is returned for calls rejected without execution.
var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

// Config holds circuit breaker tuning.
type Config struct {
	FailureThreshold uint32        // consecutive failures to open from closed
	Cooldown         time.Duration // open time before one probe is admitted
	OnStateChange    func(name string, from State, to State)
}

// DefaultConfig returns the settings used when the configuration file
// does not tune the breaker.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

// CircuitBreaker tracks consecutive failures of one dependency and fails
// fast while open.
type CircuitBreaker struct {
	name   string
	config Config
	logger *zap.Logger

	mu       sync.Mutex
	state    State
	failures uint32
	openedAt time.Time
	probing  bool
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, config Config, logger *zap.Logger) *CircuitBreaker {
	return &CircuitBreaker{
		name:   name,
		config: config,
		logger: logger,
	}
}

// Execute runs fn if the breaker admits the call, recording the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn()
	cb.record(probe, err == nil)
	return err
}

// State returns the current breaker position.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// ConsecutiveFailures returns the current failure streak.
func (cb *CircuitBreaker) ConsecutiveFailures() uint32 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// admit decides whether a call may run. The second value is true when the
// call is the open-state probe.
func (cb *CircuitBreaker) admit() (bool, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateClosed {
		return false, nil
	}
	if cb.probing || time.Since(cb.openedAt) < cb.config.Cooldown {
		return false, ErrCircuitBreakerOpen
	}
	cb.probing = true
	return true, nil
}

func (cb *CircuitBreaker) record(probe, success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probing = false
		if success {
			cb.failures = 0
			cb.setState(StateClosed)
		} else {
			// A failed probe restarts the cooldown.
			cb.openedAt = time.Now()
		}
		return
	}

	if cb.state == StateOpen {
		// Late outcome of a call admitted before the breaker opened.
		return
	}
	if success {
		cb.failures = 0
		return
	}
	cb.failures++
	if cb.failures >= cb.config.FailureThreshold {
		cb.openedAt = time.Now()
		cb.setState(StateOpen)
	}
}

// setState runs with cb.mu held.
func (cb *CircuitBreaker) setState(state State) {
	if cb.state == state {
		return
	}
	prev := cb.state
	cb.state = state

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, prev, state)
	}
	cb.logger.Info("Circuit breaker state changed",
		zap.String("name", cb.name),
		zap.String("from", prev.String()),
		zap.String("to", state.String()),
	)
}
