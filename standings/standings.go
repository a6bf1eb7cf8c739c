// Package standings maintains the league table: points, win/loss
// records, and ranking.
package standings

import (
	"sort"
	"sync"

	"github.com/BaSui01/leagueflow/protocol"
)

// Points awarded per match outcome.
const (
	PointsWin  = 3
	PointsDraw = 1
	PointsLoss = 0
)

// Record is one participant's accumulated results.
type Record struct {
	ParticipantID   string `json:"participant_id"`
	Played          int    `json:"played"`
	Wins            int    `json:"wins"`
	Draws           int    `json:"draws"`
	Losses          int    `json:"losses"`
	TechnicalLosses int    `json:"technical_losses"`
	Points          int    `json:"points"`
}

// Table is a thread-safe league table. Participants must be registered
// before results can be applied to them.
type Table struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []string // registration order, the ranking tiebreaker
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{records: make(map[string]*Record)}
}

// Register adds a participant with a zeroed record. Registering an
// existing participant is a no-op.
func (t *Table) Register(participantID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.records[participantID]; ok {
		return
	}
	t.records[participantID] = &Record{ParticipantID: participantID}
	t.order = append(t.order, participantID)
}

// Apply records one participant's outcome from a settled match. A
// participant seen for the first time gets a record on the spot, with
// first sight standing in for registration order in tiebreaks.
func (t *Table) Apply(participantID string, outcome protocol.Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[participantID]
	if !ok {
		rec = &Record{ParticipantID: participantID}
		t.records[participantID] = rec
		t.order = append(t.order, participantID)
	}
	rec.Played++
	switch outcome {
	case protocol.OutcomeWin:
		rec.Wins++
		rec.Points += PointsWin
	case protocol.OutcomeDraw:
		rec.Draws++
		rec.Points += PointsDraw
	case protocol.OutcomeLoss:
		rec.Losses++
	case protocol.OutcomeTechnicalLoss:
		rec.TechnicalLosses++
	}
}

// ApplyResult records both sides of a settled match.
func (t *Table) ApplyResult(outcomes map[string]protocol.Outcome) {
	for id, outcome := range outcomes {
		t.Apply(id, outcome)
	}
}

// Rank returns standings ordered by points descending, then wins
// descending, with registration order breaking remaining ties. Rank
// numbers start at 1 and are positional.
func (t *Table) Rank() []protocol.StandingEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, len(t.order))
	copy(ids, t.order)
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := t.records[ids[i]], t.records[ids[j]]
		if a.Points != b.Points {
			return a.Points > b.Points
		}
		return a.Wins > b.Wins
	})

	out := make([]protocol.StandingEntry, 0, len(ids))
	for i, id := range ids {
		rec := t.records[id]
		out = append(out, protocol.StandingEntry{
			Rank:          i + 1,
			ParticipantID: rec.ParticipantID,
			Played:        rec.Played,
			Wins:          rec.Wins,
			Draws:         rec.Draws,
			Losses:        rec.Losses + rec.TechnicalLosses,
			Points:        rec.Points,
		})
	}
	return out
}

// Stats summarizes the whole table.
type Stats struct {
	Participants  int    `json:"participants"`
	MatchesPlayed int    `json:"matches_played"`
	Wins          int    `json:"wins"`
	Draws         int    `json:"draws"`
	Leader        string `json:"leader,omitempty"`
}

// Stats returns league-wide totals. Per-match counters are halved since
// both sides record each match.
func (t *Table) Stats() Stats {
	ranked := t.Rank()

	t.mu.RLock()
	defer t.mu.RUnlock()
	s := Stats{Participants: len(t.order)}
	for _, rec := range t.records {
		s.MatchesPlayed += rec.Played
		s.Wins += rec.Wins
		s.Draws += rec.Draws
	}
	s.MatchesPlayed /= 2
	s.Draws /= 2
	if len(ranked) > 0 {
		s.Leader = ranked[0].ParticipantID
	}
	return s
}

// Record returns a copy of one participant's record.
func (t *Table) Record(participantID string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	rec, ok := t.records[participantID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Len returns the registered participant count.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.order)
}

// Reset zeroes every record while keeping registrations.
func (t *Table) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id := range t.records {
		t.records[id] = &Record{ParticipantID: id}
	}
}
