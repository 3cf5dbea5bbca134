package pipeline

import (
	"errors"
	"sync"
	"time"
)

// Circuit Breaker States
const (
	StateClosed   = "closed"
	StateOpen     = "open"
	StateHalfOpen = "half-open"
)

// Circuit Breaker Errors
var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// CircuitBreaker protects one externally-dependent pipeline stage —
// transcription or translation — from cascading AWS failures. Each stage
// gets its own instance (see Pipeline.asrBreaker / translateBreaker) so a
// Translate outage cannot starve Transcribe calls and vice versa; a
// shared breaker across both stages would trip ASR on a run of unrelated
// translation errors.
type CircuitBreaker struct {
	name             string
	state            string
	failureCount     int
	successCount     int
	failureThreshold int           // failures before opening
	successThreshold int           // successes in half-open before closing
	cooldownPeriod   time.Duration // time to wait before half-open
	openTime         time.Time
	halfOpenRequests int
	maxHalfOpen      int // max concurrent requests in half-open
	mu               sync.RWMutex

	// Metrics
	totalRequests   int64
	totalFailures   int64
	totalSuccesses  int64
	lastFailureTime time.Time
	lastSuccessTime time.Time
}

// CircuitBreakerConfig configuration for circuit breaker
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold int
	SuccessThreshold int
	CooldownPeriod   time.Duration
	MaxHalfOpen      int
}

// DefaultCircuitBreakerConfig returns default configuration
func DefaultCircuitBreakerConfig(name string) *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 3,
		CooldownPeriod:   30 * time.Second,
		MaxHalfOpen:      1,
	}
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(cfg *CircuitBreakerConfig) *CircuitBreaker {
	if cfg == nil {
		cfg = DefaultCircuitBreakerConfig("default")
	}

	return &CircuitBreaker{
		name:             cfg.Name,
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		cooldownPeriod:   cfg.CooldownPeriod,
		maxHalfOpen:      cfg.MaxHalfOpen,
	}
}

// Execute runs the given function with circuit breaker protection
func (cb *CircuitBreaker) Execute(fn func() error) error {
	// Check and acquire request slot atomically
	cb.mu.Lock()
	allowed := cb.allowRequestLocked()
	if !allowed {
		cb.mu.Unlock()
		return ErrCircuitOpen
	}

	cb.totalRequests++
	wasHalfOpen := cb.state == StateHalfOpen
	if wasHalfOpen {
		cb.halfOpenRequests++
	}
	cb.mu.Unlock()

	// Execute the function (outside lock)
	err := fn()

	// Record result
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if wasHalfOpen && cb.state == StateHalfOpen {
		cb.halfOpenRequests--
	}

	if err != nil {
		cb.recordFailure()
		return err
	}

	cb.recordSuccess()
	return nil
}

// allowRequestLocked checks if a request is allowed (must be called with lock held)
func (cb *CircuitBreaker) allowRequestLocked() bool {
	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		// Check if cooldown period has passed
		if time.Since(cb.openTime) > cb.cooldownPeriod {
			cb.state = StateHalfOpen
			cb.halfOpenRequests = 0
			cb.successCount = 0
			return true
		}
		return false

	case StateHalfOpen:
		// Limit concurrent requests in half-open state
		return cb.halfOpenRequests < cb.maxHalfOpen

	default:
		return true
	}
}

// recordFailure records a failure
func (cb *CircuitBreaker) recordFailure() {
	cb.totalFailures++
	cb.failureCount++
	cb.successCount = 0
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.failureThreshold {
			cb.tripBreaker()
		}

	case StateHalfOpen:
		// Any failure in half-open state trips the breaker
		cb.tripBreaker()
	}
}

// recordSuccess records a success
func (cb *CircuitBreaker) recordSuccess() {
	cb.totalSuccesses++
	cb.successCount++
	cb.lastSuccessTime = time.Now()

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0

	case StateHalfOpen:
		if cb.successCount >= cb.successThreshold {
			cb.reset()
		}
	}
}

// tripBreaker opens the circuit breaker
func (cb *CircuitBreaker) tripBreaker() {
	cb.state = StateOpen
	cb.openTime = time.Now()
	cb.failureCount = 0
	cb.successCount = 0
}

// reset closes the circuit breaker
func (cb *CircuitBreaker) reset() {
	cb.state = StateClosed
	cb.failureCount = 0
	cb.successCount = 0
}

// State returns the current state
func (cb *CircuitBreaker) State() string {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.state
}

// BreakerStats is a snapshot of one stage's breaker counters, folded into
// Pipeline.Health so /healthz can tell an open ASR breaker apart from an
// open Translate breaker instead of reporting one opaque circuit state.
type BreakerStats struct {
	Stage          string `json:"stage"`
	State          string `json:"state"`
	TotalRequests  int64  `json:"totalRequests"`
	TotalFailures  int64  `json:"totalFailures"`
	TotalSuccesses int64  `json:"totalSuccesses"`
}

// Stats returns a snapshot of this breaker's counters.
func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	return BreakerStats{
		Stage:          cb.name,
		State:          cb.state,
		TotalRequests:  cb.totalRequests,
		TotalFailures:  cb.totalFailures,
		TotalSuccesses: cb.totalSuccesses,
	}
}

// ForceOpen manually trips the breaker. Used by the breaker's own tests
// and as an operator-triggered kill switch for a stage known to be down.
func (cb *CircuitBreaker) ForceOpen() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.tripBreaker()
}

// ForceClose manually resets the breaker to closed, skipping the usual
// half-open recovery window.
func (cb *CircuitBreaker) ForceClose() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.reset()
}
