package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/leagueflow/protocol"
)

func TestLifecycleHappyPath(t *testing.T) {
	s := NewState()
	assert.Equal(t, LifecycleInit, s.Lifecycle())
	assert.False(t, s.IsRegistered())
	assert.False(t, s.CanPlay())

	require.NoError(t, s.Register("participant_p1", "tok", "league-2026"))
	assert.Equal(t, LifecycleRegistered, s.Lifecycle())
	assert.True(t, s.IsRegistered())
	assert.True(t, s.CanPlay())
	assert.Equal(t, "participant_p1", s.AgentID())
	assert.Equal(t, "league-2026", s.LeagueID())

	require.NoError(t, s.StartMatch(MatchState{
		MatchID:    "R1M1",
		Round:      1,
		OpponentID: "participant_p2",
		Role:       protocol.SideA,
	}))
	assert.Equal(t, LifecycleActive, s.Lifecycle())

	m, ok := s.CurrentMatch()
	require.True(t, ok)
	assert.Equal(t, "league-2026", m.LeagueID, "league id inherited from registration")

	s.RecordChoice(protocol.ChoiceEven)
	m, _ = s.CurrentMatch()
	assert.Equal(t, protocol.ChoiceEven, m.Choice)

	require.NoError(t, s.EndMatch(protocol.OutcomeWin))
	assert.Equal(t, LifecycleRegistered, s.Lifecycle())
	_, ok = s.CurrentMatch()
	assert.False(t, ok)
	assert.Equal(t, Stats{Wins: 1, TotalGames: 1}, s.Stats())
}

func TestLifecycleSuspendRecover(t *testing.T) {
	s := NewState()
	require.NoError(t, s.Register("participant_p1", "tok", "league-2026"))
	require.NoError(t, s.Suspend())
	assert.Equal(t, LifecycleSuspended, s.Lifecycle())
	assert.False(t, s.CanPlay())

	require.NoError(t, s.Recover())
	assert.Equal(t, LifecycleRegistered, s.Lifecycle())
	assert.True(t, s.CanPlay())

	assert.Error(t, s.Recover(), "recover is only valid from SUSPENDED")
}

func TestLifecycleInvalidTransitions(t *testing.T) {
	s := NewState()
	assert.Error(t, s.StartMatch(MatchState{MatchID: "R1M1"}), "cannot play before registering")
	assert.Error(t, s.Suspend(), "cannot suspend before registering")

	require.NoError(t, s.Shutdown())
	assert.Error(t, s.Register("participant_p1", "tok", "league-2026"), "SHUTDOWN is terminal")
	require.NoError(t, s.Shutdown(), "repeated shutdown is a no-op")
}

func TestStatsCountsTechnicalLossAsLoss(t *testing.T) {
	s := NewState()
	require.NoError(t, s.Register("participant_p1", "tok", "league-2026"))
	require.NoError(t, s.StartMatch(MatchState{MatchID: "R1M1"}))
	require.NoError(t, s.EndMatch(protocol.OutcomeTechnicalLoss))
	assert.Equal(t, Stats{Losses: 1, TotalGames: 1}, s.Stats())
}

func TestCanTransitionTable(t *testing.T) {
	cases := []struct {
		from, to Lifecycle
		ok       bool
	}{
		{LifecycleInit, LifecycleRegistered, true},
		{LifecycleInit, LifecycleActive, false},
		{LifecycleRegistered, LifecycleActive, true},
		{LifecycleActive, LifecycleRegistered, true},
		{LifecycleActive, LifecycleSuspended, true},
		{LifecycleSuspended, LifecycleRegistered, true},
		{LifecycleSuspended, LifecycleActive, false},
		{LifecycleShutdown, LifecycleRegistered, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}
