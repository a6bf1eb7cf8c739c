package resilience

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/BaSui01/leagueflow/protocol"
)

func newTestCaller(t *testing.T) *Caller {
	t.Helper()
	c := NewCaller(CallerConfig{
		MaxRetries:     3,
		Backoff:        time.Millisecond,
		RequestTimeout: time.Second,
	}, DefaultBreakerConfig(), zap.NewNop())
	c.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return c
}

func rpcHandler(t *testing.T, handle func(req protocol.Request) *protocol.Response) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		var req protocol.Request
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := handle(req)
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}
}

func TestCallerSuccess(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, func(req protocol.Request) *protocol.Response {
		assert.Equal(t, "league_register_request", req.Method)
		resp, err := protocol.NewResponse(map[string]string{"status": "ACCEPTED"}, req.ID)
		require.NoError(t, err)
		return resp
	}))
	defer srv.Close()

	c := newTestCaller(t)
	var out struct {
		Status string `json:"status"`
	}
	err := c.Call(context.Background(), srv.URL, "league_register_request", map[string]string{"agent_id": "p1"}, &out)
	require.NoError(t, err)
	assert.Equal(t, "ACCEPTED", out.Status)
	assert.Equal(t, StateClosed, c.Breakers().Get(srv.URL).State())
}

func TestCallerRetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		rpcHandler(t, func(req protocol.Request) *protocol.Response {
			resp, err := protocol.NewResponse(map[string]bool{"ok": true}, req.ID)
			require.NoError(t, err)
			return resp
		})(w, r)
	}))
	defer srv.Close()

	c := newTestCaller(t)
	err := c.Call(context.Background(), srv.URL, "match_invitation", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCallerExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestCaller(t)
	err := c.Call(context.Background(), srv.URL, "match_invitation", nil, nil)
	require.ErrorIs(t, err, ErrRemoteUnavailable)
	assert.Equal(t, int32(4), calls.Load(), "initial attempt plus three retries")
}

func TestCallerFailsFastOnRejection(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newTestCaller(t)
	err := c.Call(context.Background(), srv.URL, "choice_call", nil, nil)
	require.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, int32(1), calls.Load(), "rejections are not retried")
}

func TestCallerFailsFastOnMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := newTestCaller(t)
	err := c.Call(context.Background(), srv.URL, "choice_call", nil, nil)
	require.ErrorIs(t, err, ErrRejected)
}

func TestCallerRetriesRetryableProtocolError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(rpcHandler(t, func(req protocol.Request) *protocol.Response {
		if calls.Add(1) < 2 {
			perr := protocol.NewError(protocol.CodeConnection, "busy")
			return protocol.ErrorResponseFrom(perr, req.ID)
		}
		resp, err := protocol.NewResponse(map[string]bool{"ok": true}, req.ID)
		require.NoError(t, err)
		return resp
	}))
	defer srv.Close()

	c := newTestCaller(t)
	err := c.Call(context.Background(), srv.URL, "join_ack", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}

func TestCallerSurfacesNonRetryableProtocolError(t *testing.T) {
	srv := httptest.NewServer(rpcHandler(t, func(req protocol.Request) *protocol.Response {
		perr := protocol.NewError(protocol.CodeInvalidChoice, "choice must be even or odd")
		return protocol.ErrorResponseFrom(perr, req.ID)
	}))
	defer srv.Close()

	c := newTestCaller(t)
	err := c.Call(context.Background(), srv.URL, "choice_response", nil, nil)
	require.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, protocol.CodeInvalidChoice, protocol.CodeOf(err))
}

func TestCallerRespectsOpenBreaker(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestCaller(t)
	// Two exhausted calls record 8 failures, past the threshold of 5.
	for i := 0; i < 2; i++ {
		err := c.Call(context.Background(), srv.URL, "match_invitation", nil, nil)
		require.ErrorIs(t, err, ErrRemoteUnavailable)
	}
	require.Equal(t, StateOpen, c.Breakers().Get(srv.URL).State())

	before := calls.Load()
	err := c.Call(context.Background(), srv.URL, "match_invitation", nil, nil)
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, before, calls.Load(), "open breaker must not touch the network")
}

func TestCallerContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestCaller(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := c.Call(ctx, srv.URL, "match_invitation", nil, nil)
	require.ErrorIs(t, err, context.Canceled)
}

// TestBreakerModel drives a breaker with a random sequence of
// operations against a simple reference model.
func TestBreakerModel(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		cfg := BreakerConfig{
			FailureThreshold: rapid.IntRange(1, 8).Draw(t, "failureThreshold"),
			SuccessThreshold: rapid.IntRange(1, 4).Draw(t, "successThreshold"),
			Timeout:          time.Minute,
		}
		now := time.Now()
		b := NewBreaker("dest", cfg, zap.NewNop())
		b.now = func() time.Time { return now }

		state := StateClosed
		failures := 0
		successes := 0

		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 2).Draw(t, "op") {
			case 0:
				b.RecordFailure()
				failures++
				if state == StateClosed && failures >= cfg.FailureThreshold {
					state = StateOpen
				} else if state == StateHalfOpen {
					state = StateOpen
				}
			case 1:
				b.RecordSuccess()
				if state == StateClosed {
					failures = 0
				} else if state == StateHalfOpen {
					successes++
					if successes >= cfg.SuccessThreshold {
						state = StateClosed
						failures = 0
						successes = 0
					}
				}
			case 2:
				now = now.Add(cfg.Timeout + time.Second)
				if state == StateOpen {
					state = StateHalfOpen
					successes = 0
				}
			}
			if got := b.State(); got != state {
				t.Fatalf("step %d: breaker state %v, model %v", i, got, state)
			}
		}
	})
}
