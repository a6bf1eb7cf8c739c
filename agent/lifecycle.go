// Package agent holds the shared agent runtime pieces: the lifecycle
// state machine, token authentication, and per-sender rate limiting.
package agent

import (
	"fmt"
	"sync"

	"github.com/BaSui01/leagueflow/protocol"
)

// Lifecycle is an agent lifecycle state.
//
//	INIT -> REGISTERED -> ACTIVE -> SHUTDOWN
//	            ^            |
//	            +- SUSPENDED +
type Lifecycle string

const (
	LifecycleInit       Lifecycle = "INIT"
	LifecycleRegistered Lifecycle = "REGISTERED"
	LifecycleActive     Lifecycle = "ACTIVE"
	LifecycleSuspended  Lifecycle = "SUSPENDED"
	LifecycleShutdown   Lifecycle = "SHUTDOWN"
)

var lifecycleTransitions = map[Lifecycle][]Lifecycle{
	LifecycleInit:       {LifecycleRegistered, LifecycleShutdown},
	LifecycleRegistered: {LifecycleActive, LifecycleSuspended, LifecycleShutdown},
	LifecycleActive:     {LifecycleRegistered, LifecycleSuspended, LifecycleShutdown},
	LifecycleSuspended:  {LifecycleRegistered, LifecycleShutdown},
	LifecycleShutdown:   {},
}

// CanTransition reports whether the lifecycle may move from l to next.
func (l Lifecycle) CanTransition(next Lifecycle) bool {
	for _, allowed := range lifecycleTransitions[l] {
		if allowed == next {
			return true
		}
	}
	return false
}

// State is an agent's registration and match bookkeeping. It is safe
// for concurrent use.
type State struct {
	mu sync.RWMutex

	lifecycle Lifecycle
	agentID   string
	authToken string
	leagueID  string

	currentMatch *MatchState
	stats        Stats
}

// MatchState describes the match an agent is currently playing.
type MatchState struct {
	MatchID        string            `json:"match_id"`
	LeagueID       string            `json:"league_id"`
	Round          int               `json:"round_id"`
	OpponentID     string            `json:"opponent_id"`
	Role           protocol.SideRole `json:"role"`
	ConversationID string            `json:"conversation_id"`
	Choice         protocol.Choice   `json:"choice,omitempty"`
	Result         protocol.Outcome  `json:"result,omitempty"`
}

// Stats accumulates an agent's own view of its results.
type Stats struct {
	Wins       int `json:"wins"`
	Losses     int `json:"losses"`
	Draws      int `json:"draws"`
	TotalGames int `json:"total_games"`
}

func (s *Stats) addResult(outcome protocol.Outcome) {
	s.TotalGames++
	switch outcome {
	case protocol.OutcomeWin:
		s.Wins++
	case protocol.OutcomeDraw:
		s.Draws++
	default:
		s.Losses++
	}
}

// NewState creates a State in INIT.
func NewState() *State {
	return &State{lifecycle: LifecycleInit}
}

// Lifecycle returns the current lifecycle state.
func (s *State) Lifecycle() Lifecycle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lifecycle
}

// AgentID returns the id assigned at registration.
func (s *State) AgentID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.agentID
}

// AuthToken returns the token issued at registration.
func (s *State) AuthToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authToken
}

// LeagueID returns the league joined at registration.
func (s *State) LeagueID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leagueID
}

// IsRegistered reports whether the agent has completed registration.
func (s *State) IsRegistered() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lifecycle != LifecycleInit && s.agentID != ""
}

// CanPlay reports whether the agent may take part in matches.
func (s *State) CanPlay() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lifecycle == LifecycleRegistered || s.lifecycle == LifecycleActive
}

func (s *State) transition(next Lifecycle) error {
	if !s.lifecycle.CanTransition(next) {
		return fmt.Errorf("lifecycle transition %s -> %s not allowed", s.lifecycle, next)
	}
	s.lifecycle = next
	return nil
}

// Register records a successful registration.
func (s *State) Register(agentID, authToken, leagueID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transition(LifecycleRegistered); err != nil {
		return err
	}
	s.agentID = agentID
	s.authToken = authToken
	s.leagueID = leagueID
	return nil
}

// StartMatch moves the agent to ACTIVE and records the match context.
func (s *State) StartMatch(m MatchState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transition(LifecycleActive); err != nil {
		return err
	}
	if m.LeagueID == "" {
		m.LeagueID = s.leagueID
	}
	s.currentMatch = &m
	return nil
}

// RecordChoice stores the parity choice made in the current match.
func (s *State) RecordChoice(choice protocol.Choice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentMatch != nil {
		s.currentMatch.Choice = choice
	}
}

// EndMatch records the result, updates stats, and returns to REGISTERED.
func (s *State) EndMatch(outcome protocol.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transition(LifecycleRegistered); err != nil {
		return err
	}
	if s.currentMatch != nil {
		s.currentMatch.Result = outcome
		s.stats.addResult(outcome)
		s.currentMatch = nil
	}
	return nil
}

// CurrentMatch returns a copy of the in-progress match context.
func (s *State) CurrentMatch() (MatchState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.currentMatch == nil {
		return MatchState{}, false
	}
	return *s.currentMatch, true
}

// Stats returns a copy of the accumulated stats.
func (s *State) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

// Suspend marks the agent unresponsive.
func (s *State) Suspend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transition(LifecycleSuspended)
}

// Recover restores a suspended agent to REGISTERED.
func (s *State) Recover() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lifecycle != LifecycleSuspended {
		return fmt.Errorf("recover from %s not allowed", s.lifecycle)
	}
	return s.transition(LifecycleRegistered)
}

// Shutdown is terminal; it is allowed from any non-terminal state.
func (s *State) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lifecycle == LifecycleShutdown {
		return nil
	}
	return s.transition(LifecycleShutdown)
}
