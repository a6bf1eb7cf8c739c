package resilience

import (
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/leagueflow/internal/metrics"
)

// BreakerRegistry holds one circuit breaker per destination, creating
// them lazily on first use.
type BreakerRegistry struct {
	config  BreakerConfig
	logger  *zap.Logger
	metrics *metrics.Collector

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewBreakerRegistry creates an empty registry.
func NewBreakerRegistry(config BreakerConfig, logger *zap.Logger, collector *metrics.Collector) *BreakerRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BreakerRegistry{
		config:   config.withDefaults(),
		logger:   logger,
		metrics:  collector,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for a destination, creating it if needed.
func (r *BreakerRegistry) Get(destination string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[destination]
	if !ok {
		b = NewBreaker(destination, r.config, r.logger)
		b.onChange = func(dest string, to BreakerState) {
			r.metrics.RecordBreakerTransition(dest, to.String())
		}
		r.breakers[destination] = b
	}
	return b
}

// States returns a snapshot of every known destination's state.
func (r *BreakerRegistry) States() map[string]BreakerState {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	names := make([]string, 0, len(r.breakers))
	for name, b := range r.breakers {
		names = append(names, name)
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	out := make(map[string]BreakerState, len(breakers))
	for i, b := range breakers {
		out[names[i]] = b.State()
	}
	return out
}
