// Package schedule builds round-robin league schedules and tracks
// progress through them.
package schedule

import (
	"fmt"
	"sync"
)

// Pairing is a single scheduled match between two participants.
type Pairing struct {
	MatchID    string `json:"match_id"`
	SideA      string `json:"side_a"`
	SideB      string `json:"side_b"`
	OfficialID string `json:"official_id,omitempty"`
}

// Has reports whether the participant plays in this pairing.
func (p Pairing) Has(participantID string) bool {
	return p.SideA == participantID || p.SideB == participantID
}

// Opponent returns the other side of the pairing, or "" if the
// participant does not play in it.
func (p Pairing) Opponent(participantID string) string {
	switch participantID {
	case p.SideA:
		return p.SideB
	case p.SideB:
		return p.SideA
	default:
		return ""
	}
}

// Round is one schedule round. With an odd participant count one
// participant sits the round out.
type Round struct {
	Number   int       `json:"number"`
	Pairings []Pairing `json:"pairings"`
}

// Generate builds a round-robin schedule where every pair of
// participants meets exactly once. Match ids follow the "R<n>M<m>"
// pattern with both counters starting at 1. Participant order is
// preserved: earlier-registered participants are paired first.
func Generate(participants []string) []Round {
	var rounds []Round
	remaining := make(map[[2]string]bool)
	for i := 0; i < len(participants); i++ {
		for j := i + 1; j < len(participants); j++ {
			remaining[[2]string{participants[i], participants[j]}] = true
		}
	}

	for number := 1; len(remaining) > 0; number++ {
		round := Round{Number: number}
		busy := make(map[string]bool)
		for i := 0; i < len(participants); i++ {
			for j := i + 1; j < len(participants); j++ {
				a, b := participants[i], participants[j]
				if busy[a] || busy[b] || !remaining[[2]string{a, b}] {
					continue
				}
				round.Pairings = append(round.Pairings, Pairing{
					MatchID: fmt.Sprintf("R%dM%d", number, len(round.Pairings)+1),
					SideA:   a,
					SideB:   b,
				})
				busy[a], busy[b] = true, true
				delete(remaining, [2]string{a, b})
			}
		}
		rounds = append(rounds, round)
	}
	return rounds
}

// GenerateWithRepeats builds a schedule where every pair meets `repeats`
// times, as `repeats` consecutive single round-robins with continuous
// round numbering.
func GenerateWithRepeats(participants []string, repeats int) []Round {
	if repeats < 1 {
		repeats = 1
	}
	var all []Round
	for r := 0; r < repeats; r++ {
		for _, round := range Generate(participants) {
			round.Number = len(all) + 1
			for i := range round.Pairings {
				round.Pairings[i].MatchID = fmt.Sprintf("R%dM%d", round.Number, i+1)
			}
			all = append(all, round)
		}
	}
	return all
}

// AssignOfficials distributes officials over all matches round-robin, in
// schedule order across rounds. With no officials the schedule is left
// untouched.
func AssignOfficials(rounds []Round, officials []string) {
	if len(officials) == 0 {
		return
	}
	next := 0
	for r := range rounds {
		for p := range rounds[r].Pairings {
			rounds[r].Pairings[p].OfficialID = officials[next%len(officials)]
			next++
		}
	}
}

// Schedule is a generated schedule plus a cursor over its rounds.
type Schedule struct {
	mu     sync.RWMutex
	rounds []Round
	cursor int
}

// New builds a Schedule for the given participants and officials.
func New(participants, officials []string, roundsPerMatchup int) *Schedule {
	rounds := GenerateWithRepeats(participants, roundsPerMatchup)
	AssignOfficials(rounds, officials)
	return &Schedule{rounds: rounds}
}

// Rounds returns all rounds in order.
func (s *Schedule) Rounds() []Round {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rounds
}

// Len returns the total round count.
func (s *Schedule) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rounds)
}

// Current returns the round at the cursor. ok is false once the
// schedule is exhausted.
func (s *Schedule) Current() (Round, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cursor >= len(s.rounds) {
		return Round{}, false
	}
	return s.rounds[s.cursor], true
}

// Advance moves the cursor to the next round and reports whether one
// exists.
func (s *Schedule) Advance() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor < len(s.rounds) {
		s.cursor++
	}
	return s.cursor < len(s.rounds)
}

// NextMatchFor returns the participant's next pairing at or after the
// cursor, or ok=false if none remain.
func (s *Schedule) NextMatchFor(participantID string) (Pairing, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := s.cursor; i < len(s.rounds); i++ {
		for _, p := range s.rounds[i].Pairings {
			if p.Has(participantID) {
				return p, true
			}
		}
	}
	return Pairing{}, false
}

// RoundPlan is a read-only view of one round for league queries.
type RoundPlan struct {
	Number   int      `json:"number"`
	Matches  []string `json:"matches"`
	Complete bool     `json:"complete"`
}

// Summary returns per-round plans, marking rounds behind the cursor as
// complete.
func (s *Schedule) Summary() []RoundPlan {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RoundPlan, 0, len(s.rounds))
	for i, round := range s.rounds {
		matches := make([]string, 0, len(round.Pairings))
		for _, p := range round.Pairings {
			matches = append(matches, p.MatchID)
		}
		out = append(out, RoundPlan{
			Number:   round.Number,
			Matches:  matches,
			Complete: i < s.cursor,
		})
	}
	return out
}
