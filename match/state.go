package match

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/leagueflow/protocol"
)

// Phase is a match's position in its lifecycle.
type Phase string

const (
	PhaseCreated          Phase = "CREATED"
	PhaseInvited          Phase = "INVITED"
	PhaseJoined           Phase = "JOINED"
	PhaseJoinTimeout      Phase = "JOIN_TIMEOUT"
	PhaseChoicesCollected Phase = "CHOICES_COLLECTED"
	PhaseChoiceTimeout    Phase = "CHOICE_TIMEOUT"
	PhaseSettled          Phase = "SETTLED"
)

// Side is one participant in a match.
type Side struct {
	ID       string
	Endpoint string
	Role     protocol.SideRole

	joined bool
	choice protocol.Choice
}

// Spec identifies a match to conduct.
type Spec struct {
	MatchID  string
	Round    int
	LeagueID string

	SideAID       string
	SideAEndpoint string
	SideBID       string
	SideBEndpoint string
}

// Match tracks one in-flight match conversation. Join acks and choice
// responses may arrive either as RPC response payloads or as
// asynchronous inbound messages; both paths land in RecordJoin and
// RecordChoice.
type Match struct {
	Spec
	ConversationID string

	mu    sync.Mutex
	phase Phase
	sideA *Side
	sideB *Side

	joined chan struct{} // closed when both sides have accepted
	chosen chan struct{} // closed when both sides have chosen
}

// New creates a Match in CREATED with a fresh conversation id.
func New(spec Spec) *Match {
	return &Match{
		Spec:           spec,
		ConversationID: protocol.NewConversationID(),
		phase:          PhaseCreated,
		sideA:          &Side{ID: spec.SideAID, Endpoint: spec.SideAEndpoint, Role: protocol.SideA},
		sideB:          &Side{ID: spec.SideBID, Endpoint: spec.SideBEndpoint, Role: protocol.SideB},
		joined:         make(chan struct{}),
		chosen:         make(chan struct{}),
	}
}

// Phase returns the current phase.
func (m *Match) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

func (m *Match) setPhase(p Phase) {
	m.mu.Lock()
	m.phase = p
	m.mu.Unlock()
}

// Sides returns both sides in announcement order.
func (m *Match) Sides() (a, b Side) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.sideA, *m.sideB
}

func (m *Match) side(participantID string) *Side {
	switch participantID {
	case m.sideA.ID:
		return m.sideA
	case m.sideB.ID:
		return m.sideB
	default:
		return nil
	}
}

// RecordJoin marks a side as joined. It returns an error for unknown
// participants and for declined invitations.
func (m *Match) RecordJoin(participantID string, accept bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.side(participantID)
	if s == nil {
		return protocol.NewError(protocol.CodeParticipantNotRegistered,
			fmt.Sprintf("%s does not play in match %s", participantID, m.MatchID))
	}
	if !accept {
		return fmt.Errorf("%s declined match %s", participantID, m.MatchID)
	}
	if s.joined {
		return nil
	}
	s.joined = true
	if m.sideA.joined && m.sideB.joined {
		close(m.joined)
	}
	return nil
}

// RecordChoice stores a side's parity choice. Repeated responses keep
// the first choice.
func (m *Match) RecordChoice(participantID string, choice protocol.Choice) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.side(participantID)
	if s == nil {
		return protocol.NewError(protocol.CodeParticipantNotRegistered,
			fmt.Sprintf("%s does not play in match %s", participantID, m.MatchID))
	}
	if !choice.IsValid() {
		return protocol.NewError(protocol.CodeInvalidChoice,
			fmt.Sprintf("choice %q is not even or odd", choice))
	}
	if s.choice != "" {
		return nil
	}
	s.choice = choice
	if m.sideA.choice != "" && m.sideB.choice != "" {
		close(m.chosen)
	}
	return nil
}

// waitBoth blocks until done closes, the window elapses, or ctx is
// canceled. It reports whether done closed in time.
func waitBoth(ctx context.Context, done <-chan struct{}, window time.Duration) (bool, error) {
	timer := time.NewTimer(window)
	defer timer.Stop()
	select {
	case <-done:
		return true, nil
	case <-timer.C:
		return false, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// Registry is the set of in-flight matches an official is conducting.
type Registry struct {
	mu      sync.RWMutex
	matches map[string]*Match
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{matches: make(map[string]*Match)}
}

// Add registers an in-flight match.
func (r *Registry) Add(m *Match) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.matches[m.MatchID] = m
}

// Get looks up an in-flight match by id.
func (r *Registry) Get(matchID string) (*Match, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.matches[matchID]
	return m, ok
}

// Remove drops a match from the registry.
func (r *Registry) Remove(matchID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.matches, matchID)
}

// Len returns the in-flight match count.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.matches)
}
