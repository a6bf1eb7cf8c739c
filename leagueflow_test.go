package leagueflow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/leagueflow"
	"github.com/BaSui01/leagueflow/agent"
	"github.com/BaSui01/leagueflow/coordinator"
	"github.com/BaSui01/leagueflow/internal/pool"
	"github.com/BaSui01/leagueflow/match"
	"github.com/BaSui01/leagueflow/official"
	"github.com/BaSui01/leagueflow/protocol"
	"github.com/BaSui01/leagueflow/resilience"
	"github.com/BaSui01/leagueflow/strategy"
	"github.com/BaSui01/leagueflow/transport"
)

// scriptedDraw returns a DrawFunc that hands out the given values in
// order, one per match.
func scriptedDraw(values ...int) match.DrawFunc {
	var mu sync.Mutex
	next := 0
	return func(_, _ int) int {
		mu.Lock()
		defer mu.Unlock()
		v := values[next%len(values)]
		next++
		return v
	}
}

// mirror picks the choice the opponent has shown most often, starting
// with even when the history is empty or tied. Unlike the adaptive
// strategy it never randomizes, so a league built on it replays
// identically.
type mirror struct {
	mu   sync.Mutex
	seen map[string][]protocol.Choice
}

func newMirror() *mirror {
	return &mirror{seen: make(map[string][]protocol.Choice)}
}

func (m *mirror) Name() string { return "mirror" }

func (m *mirror) Choose(_, opponentID string) protocol.Choice {
	m.mu.Lock()
	defer m.mu.Unlock()
	even, odd := 0, 0
	for _, c := range m.seen[opponentID] {
		if c == protocol.ChoiceOdd {
			odd++
		} else {
			even++
		}
	}
	if odd > even {
		return protocol.ChoiceOdd
	}
	return protocol.ChoiceEven
}

func (m *mirror) Update(result strategy.Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen[result.OpponentID] = append(m.seen[result.OpponentID], result.OpponentChoice)
}

func newLoopbackServer(t *testing.T, logger *zap.Logger, opts ...transport.ServerOption) *transport.Server {
	t.Helper()
	cfg := transport.DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	server := transport.NewServer(cfg, logger, opts...)
	require.NoError(t, server.Start())
	t.Cleanup(func() { server.Shutdown(context.Background()) })
	return server
}

// Runs a complete four-participant league over loopback HTTP with a
// scripted draw sequence and checks the exact final table. One official
// with a single-worker pool conducts the matches one at a time, so the
// drawn values land on the matches in schedule order:
//
//	R1M1 P01-P02 draws 4  R1M2 P03-P04 draws 3
//	R2M1 P01-P03 draws 7  R2M2 P02-P04 draws 2
//	R3M1 P01-P04 draws 9  R3M2 P02-P03 draws 1
func TestLocalLeagueScriptedDrawsAreDeterministic(t *testing.T) {
	logger := zaptest.NewLogger(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	const leagueID = "league-replay"
	caller := leagueflow.NewCaller(resilience.DefaultCallerConfig(), resilience.DefaultBreakerConfig(), logger)
	authority := agent.NewTokenAuthority([]byte("replay-secret"), leagueID)

	coord := leagueflow.NewCoordinator(coordinator.Config{
		LeagueID:           leagueID,
		MinParticipants:    2,
		MaxParticipants:    4,
		RegistrationWindow: 5 * time.Second,
		RoundTimeout:       10 * time.Second,
	}, caller, authority, logger)

	coordServer := newLoopbackServer(t, logger, transport.WithAuthenticator(authority))
	coord.RegisterHandlers(coordServer)
	coordEndpoint := coordServer.Endpoint()

	off := leagueflow.NewOfficial("ref", coordEndpoint, caller, logger,
		official.WithMatchRules(match.Rules{
			MinNumber: 1,
			MaxNumber: 10,
			Draw:      scriptedDraw(4, 3, 7, 2, 9, 1),
		}),
		official.WithMatchConfig(match.Config{JoinWindow: 2 * time.Second, ChoiceWindow: 2 * time.Second}),
		official.WithPoolConfig(pool.Config{MaxWorkers: 1, QueueSize: 8}),
	)
	offServer := newLoopbackServer(t, logger)
	off.RegisterHandlers(offServer)
	require.NoError(t, off.Register(ctx, offServer.Endpoint()))

	// Registration order fixes the assigned ids: evie=P01, otto=P02,
	// flip=P03, echo=P04.
	players := []struct {
		name string
		s    strategy.Strategy
	}{
		{"evie", strategy.New("deterministic_even")},
		{"otto", strategy.New("deterministic_odd")},
		{"flip", strategy.New("alternating")},
		{"echo", newMirror()},
	}
	for _, pl := range players {
		p := leagueflow.NewParticipant(pl.name, coordEndpoint, caller, logger,
			leagueflow.WithStrategy(pl.s),
			leagueflow.WithDisplayName(pl.name),
		)
		server := newLoopbackServer(t, logger)
		p.RegisterHandlers(server)
		require.NoError(t, p.Register(ctx, server.Endpoint()))
	}

	require.NoError(t, coord.Run(ctx))

	entries := coord.Standings()
	require.Len(t, entries, 4)

	type line struct {
		id                         string
		points, wins, draws, losses int
	}
	want := []line{
		{"P04", 5, 1, 2, 0},
		{"P01", 4, 1, 1, 1},
		{"P03", 4, 1, 1, 1},
		{"P02", 3, 1, 0, 2},
	}
	for i, w := range want {
		assert.Equal(t, i+1, entries[i].Rank)
		assert.Equal(t, w.id, entries[i].ParticipantID)
		assert.Equal(t, w.points, entries[i].Points, "points for %s", w.id)
		assert.Equal(t, w.wins, entries[i].Wins, "wins for %s", w.id)
		assert.Equal(t, w.draws, entries[i].Draws, "draws for %s", w.id)
		assert.Equal(t, w.losses, entries[i].Losses, "losses for %s", w.id)
		assert.Equal(t, 3, entries[i].Played, "played for %s", w.id)
	}
}
