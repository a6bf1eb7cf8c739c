package resilience

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// BreakerState is a circuit breaker state.
type BreakerState int

const (
	// StateClosed allows calls through; failures are counted.
	StateClosed BreakerState = iota
	// StateOpen rejects calls until the open timeout elapses.
	StateOpen
	// StateHalfOpen probes the destination with live calls.
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// BreakerConfig tunes a circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that trips a
	// CLOSED breaker OPEN.
	FailureThreshold int `yaml:"failure_threshold" json:"failure_threshold"`
	// SuccessThreshold is the consecutive-success count that restores a
	// HALF_OPEN breaker to CLOSED.
	SuccessThreshold int `yaml:"success_threshold" json:"success_threshold"`
	// Timeout is how long an OPEN breaker rejects calls before probing.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          60 * time.Second,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	if c.Timeout <= 0 {
		c.Timeout = 60 * time.Second
	}
	return c
}

// Breaker is a per-destination circuit breaker. The zero value is not
// usable; construct with NewBreaker.
type Breaker struct {
	config      BreakerConfig
	destination string
	logger      *zap.Logger
	onChange    func(destination string, to BreakerState)

	mu          sync.Mutex
	state       BreakerState
	failures    int
	successes   int // meaningful only in HALF_OPEN
	lastFailure time.Time
	now         func() time.Time
}

// NewBreaker creates a breaker for a destination.
func NewBreaker(destination string, config BreakerConfig, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Breaker{
		config:      config.withDefaults(),
		destination: destination,
		logger:      logger,
		state:       StateClosed,
		now:         time.Now,
	}
}

// State returns the current state, applying the lazy OPEN to HALF_OPEN
// transition once the open timeout has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeProbe()
	return b.state
}

// CanExecute reports whether a call may be attempted now.
func (b *Breaker) CanExecute() bool {
	return b.State() != StateOpen
}

// RecordSuccess records a successful call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.failures = 0
	case StateHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.transitionTo(StateClosed)
		}
	}
}

// RecordFailure records a failed call.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()

	switch b.state {
	case StateClosed:
		if b.failures >= b.config.FailureThreshold {
			b.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		// A single failure while probing re-opens the circuit.
		b.transitionTo(StateOpen)
	}
}

// Reset forces the breaker back to CLOSED.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionTo(StateClosed)
}

// maybeProbe flips OPEN to HALF_OPEN once the timeout has elapsed.
// Caller must hold b.mu.
func (b *Breaker) maybeProbe() {
	if b.state == StateOpen && b.now().Sub(b.lastFailure) >= b.config.Timeout {
		b.transitionTo(StateHalfOpen)
	}
}

// transitionTo moves to a new state and resets counters. Caller must
// hold b.mu.
func (b *Breaker) transitionTo(to BreakerState) {
	from := b.state
	b.state = to

	switch to {
	case StateClosed:
		b.failures = 0
		b.successes = 0
	case StateHalfOpen:
		b.successes = 0
	}

	if from != to {
		b.logger.Info("circuit breaker state change",
			zap.String("destination", b.destination),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
		if b.onChange != nil {
			b.onChange(b.destination, to)
		}
	}
}
