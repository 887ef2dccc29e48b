package resilience

import (
	"sync"
	"time"

	"github.com/juergengeck/esp32/pkg/helper/errors"
	"github.com/juergengeck/esp32/pkg/helper/log"
)

// State is a circuit breaker's current disposition toward new requests.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
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

// CircuitBreakerSettings configures trip and recovery behavior.
type CircuitBreakerSettings struct {
	Name             string
	MaxRequests      uint32
	Timeout          time.Duration
	FailureThreshold float64
	MinRequests      uint32
}

// DefaultCircuitBreakerSettings suits a local hardware collaborator: trip
// fast on a sustained failure run, probe again after a short timeout.
func DefaultCircuitBreakerSettings(name string) CircuitBreakerSettings {
	return CircuitBreakerSettings{
		Name:             name,
		MaxRequests:      3,
		Timeout:          5 * time.Second,
		FailureThreshold: 0.6,
		MinRequests:      3,
	}
}

type counts struct {
	requests             uint32
	totalFailures        uint32
	consecutiveSuccesses uint32
}

// CircuitBreaker trips after a sustained failure run on a collaborator call
// and rejects further calls until a timeout elapses, at which point it lets
// a limited number of probe calls through before closing again.
type CircuitBreaker struct {
	settings CircuitBreakerSettings
	state    State
	counts   counts
	expiry   time.Time
	mu       sync.Mutex
	logger   log.Logger
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(settings CircuitBreakerSettings, logger log.Logger) *CircuitBreaker {
	if logger == nil {
		logger = log.NewBasicLogger(log.InfoLevel)
	}
	return &CircuitBreaker{settings: settings, state: StateClosed, logger: logger}
}

// Execute runs fn if the circuit allows it, and records the outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.beforeRequest(); err != nil {
		return err
	}
	err := fn()
	cb.afterRequest(err == nil)
	return err
}

func (cb *CircuitBreaker) beforeRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	switch cb.state {
	case StateOpen:
		if cb.expiry.Before(now) {
			cb.setState(StateHalfOpen, now)
			return nil
		}
		return errors.Unavailablef("circuit breaker %s is open", cb.settings.Name)
	case StateHalfOpen:
		if cb.counts.requests >= cb.settings.MaxRequests {
			return errors.Unavailablef("circuit breaker %s is half-open and at max probes", cb.settings.Name)
		}
		return nil
	default:
		return nil
	}
}

func (cb *CircuitBreaker) afterRequest(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := time.Now()
	cb.counts.requests++

	if success {
		cb.counts.consecutiveSuccesses++
		if cb.state == StateHalfOpen && cb.counts.consecutiveSuccesses >= cb.settings.MaxRequests {
			cb.setState(StateClosed, now)
		}
		return
	}

	cb.counts.totalFailures++
	cb.counts.consecutiveSuccesses = 0

	if cb.state == StateHalfOpen {
		cb.setState(StateOpen, now)
		return
	}
	if cb.state == StateClosed && cb.shouldTrip() {
		cb.setState(StateOpen, now)
	}
}

func (cb *CircuitBreaker) shouldTrip() bool {
	if cb.counts.requests < cb.settings.MinRequests {
		return false
	}
	failureRatio := float64(cb.counts.totalFailures) / float64(cb.counts.requests)
	return failureRatio >= cb.settings.FailureThreshold
}

func (cb *CircuitBreaker) setState(state State, now time.Time) {
	if cb.state == state {
		return
	}
	old := cb.state
	cb.state = state

	switch state {
	case StateOpen, StateHalfOpen:
		cb.expiry = now.Add(cb.settings.Timeout)
	}
	cb.counts = counts{}

	cb.logger.WithFields(map[string]interface{}{
		"circuit_breaker": cb.settings.Name,
		"from":            old.String(),
		"to":              state.String(),
	}).Info("circuit breaker state changed")
}

// StateFor reports the breaker's current state, for diagnostics.
func (cb *CircuitBreaker) StateFor() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
