package resilience

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/leagueflow/internal/metrics"
	"github.com/BaSui01/leagueflow/protocol"
)

// Sentinel errors returned by Caller.Call.
var (
	// ErrCircuitOpen means the destination's breaker rejected the call
	// without attempting the network.
	ErrCircuitOpen = errors.New("circuit breaker open")
	// ErrRemoteUnavailable wraps transient transport failures after all
	// retries were exhausted.
	ErrRemoteUnavailable = errors.New("remote unavailable")
	// ErrRejected wraps non-retryable remote rejections (4xx responses
	// and malformed replies); these are never retried.
	ErrRejected = errors.New("request rejected")
)

// CallerConfig tunes retry behavior for outbound calls.
type CallerConfig struct {
	// MaxRetries is the number of retries after the initial attempt.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
	// Backoff is the base delay; attempt n waits Backoff * 2^n.
	Backoff time.Duration `yaml:"backoff" json:"backoff"`
	// RequestTimeout bounds each individual HTTP attempt.
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// DefaultCallerConfig returns sensible defaults.
func DefaultCallerConfig() CallerConfig {
	return CallerConfig{
		MaxRetries:     3,
		Backoff:        time.Second,
		RequestTimeout: 10 * time.Second,
	}
}

func (c CallerConfig) withDefaults() CallerConfig {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.Backoff <= 0 {
		c.Backoff = time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	return c
}

// Caller issues JSON-RPC calls over HTTP with retries and a circuit
// breaker per destination.
type Caller struct {
	config   CallerConfig
	client   *http.Client
	breakers *BreakerRegistry
	logger   *zap.Logger
	metrics  *metrics.Collector

	nextID atomic.Int64
	sleep  func(ctx context.Context, d time.Duration) error
}

// CallerOption customizes a Caller.
type CallerOption func(*Caller)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(client *http.Client) CallerOption {
	return func(c *Caller) { c.client = client }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(collector *metrics.Collector) CallerOption {
	return func(c *Caller) { c.metrics = collector }
}

// NewCaller creates a Caller with its own breaker registry.
func NewCaller(callerCfg CallerConfig, breakerCfg BreakerConfig, logger *zap.Logger, opts ...CallerOption) *Caller {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Caller{
		config: callerCfg.withDefaults(),
		logger: logger,
		sleep:  sleepCtx,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: c.config.RequestTimeout}
	}
	c.breakers = NewBreakerRegistry(breakerCfg, logger, c.metrics)
	return c
}

// Breakers exposes the per-destination breaker registry.
func (c *Caller) Breakers() *BreakerRegistry { return c.breakers }

// Call sends a JSON-RPC request to the destination URL and decodes the
// result into out (which may be nil). Transient failures are retried
// with exponential backoff; rejections fail fast. All failures count
// against the destination's circuit breaker.
func (c *Caller) Call(ctx context.Context, destination, method string, params any, out any) error {
	breaker := c.breakers.Get(destination)
	if !breaker.CanExecute() {
		c.metrics.RecordOutboundCall(destination, method, "breaker_open", 0)
		return fmt.Errorf("%w: %s", ErrCircuitOpen, destination)
	}

	req, err := protocol.NewRequest(method, params, c.nextID.Add(1))
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(float64(c.config.Backoff) * math.Pow(2, float64(attempt-1)))
			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
			c.metrics.RecordRetry(destination)
			c.logger.Debug("retrying call",
				zap.String("destination", destination),
				zap.String("method", method),
				zap.Int("attempt", attempt),
			)
		}

		start := time.Now()
		result, err := c.attempt(ctx, destination, body)
		elapsed := time.Since(start)
		if err == nil {
			breaker.RecordSuccess()
			c.metrics.RecordOutboundCall(destination, method, "success", elapsed)
			if out != nil {
				if err := json.Unmarshal(result, out); err != nil {
					return fmt.Errorf("decode result: %w", err)
				}
			}
			return nil
		}

		breaker.RecordFailure()
		lastErr = err
		if errors.Is(err, ErrRejected) {
			c.metrics.RecordOutboundCall(destination, method, "rejected", elapsed)
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.metrics.RecordOutboundCall(destination, method, "failure", elapsed)
	}

	return fmt.Errorf("%w: %s after %d retries: %v",
		ErrRemoteUnavailable, destination, c.config.MaxRetries, lastErr)
}

// attempt performs one HTTP round trip and classifies the outcome. A
// returned error wrapping ErrRejected must not be retried; any other
// error is transient.
func (c *Caller) attempt(ctx context.Context, destination string, body []byte) (json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, destination, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRejected, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}

	var rpcResp protocol.Response
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", ErrRejected, err)
	}
	if rpcResp.Error != nil {
		if perr := protocol.ProtocolErrorOf(rpcResp.Error); perr != nil {
			if perr.Retryable {
				return nil, perr
			}
			return nil, fmt.Errorf("%w: %w", ErrRejected, perr)
		}
		return nil, fmt.Errorf("%w: rpc error %d: %s", ErrRejected, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	return rpcResp.Result, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
