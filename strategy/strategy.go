// Package strategy implements parity choice strategies for
// participants.
package strategy

import (
	"math/rand"
	"sync"

	"github.com/BaSui01/leagueflow/protocol"
)

// Result is the per-match feedback fed back into a strategy.
type Result struct {
	MatchID        string
	OpponentID     string
	OwnChoice      protocol.Choice
	OpponentChoice protocol.Choice
	Outcome        protocol.Outcome
}

// Strategy picks a parity choice for each match. Implementations may
// keep state across matches; Update is called after every settled
// match.
type Strategy interface {
	Name() string
	Choose(matchID, opponentID string) protocol.Choice
	Update(result Result)
}

// New returns the strategy registered under name, falling back to
// random for unknown names.
func New(name string) Strategy {
	switch name {
	case "deterministic_even":
		return &Fixed{choice: protocol.ChoiceEven}
	case "deterministic_odd":
		return &Fixed{choice: protocol.ChoiceOdd}
	case "alternating":
		return NewAlternating(protocol.ChoiceEven)
	case "adaptive":
		return NewAdaptive()
	default:
		return NewRandom()
	}
}

// Random picks uniformly at random.
type Random struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandom creates a Random strategy with its own seed.
func NewRandom() *Random {
	return &Random{rng: rand.New(rand.NewSource(rand.Int63()))}
}

func (r *Random) Name() string { return "random" }

func (r *Random) Choose(_, _ string) protocol.Choice {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rng.Intn(2) == 0 {
		return protocol.ChoiceEven
	}
	return protocol.ChoiceOdd
}

func (r *Random) Update(Result) {}

// Fixed always returns the same choice.
type Fixed struct {
	choice protocol.Choice
}

// NewFixed creates a Fixed strategy for the given choice.
func NewFixed(choice protocol.Choice) *Fixed {
	return &Fixed{choice: choice}
}

func (f *Fixed) Name() string {
	if f.choice == protocol.ChoiceOdd {
		return "deterministic_odd"
	}
	return "deterministic_even"
}

func (f *Fixed) Choose(_, _ string) protocol.Choice { return f.choice }

func (f *Fixed) Update(Result) {}

// Alternating flips its choice after every settled match.
type Alternating struct {
	mu      sync.Mutex
	current protocol.Choice
}

// NewAlternating creates an Alternating strategy starting at start.
func NewAlternating(start protocol.Choice) *Alternating {
	if !start.IsValid() {
		start = protocol.ChoiceEven
	}
	return &Alternating{current: start}
}

func (a *Alternating) Name() string { return "alternating" }

func (a *Alternating) Choose(_, _ string) protocol.Choice {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *Alternating) Update(Result) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = a.current.Opposite()
}

// adaptiveWindow caps how much per-opponent history is retained.
const adaptiveWindow = 10

// adaptiveMinSamples is the observation count below which Adaptive
// falls back to random.
const adaptiveMinSamples = 3

// Adaptive mirrors each opponent's dominant historical choice, which
// raises the draw-or-win probability against biased opponents. With too
// little data it picks at random.
type Adaptive struct {
	mu      sync.Mutex
	rng     *rand.Rand
	history map[string][]protocol.Choice
}

// NewAdaptive creates an Adaptive strategy with empty history.
func NewAdaptive() *Adaptive {
	return &Adaptive{
		rng:     rand.New(rand.NewSource(rand.Int63())),
		history: make(map[string][]protocol.Choice),
	}
}

func (a *Adaptive) Name() string { return "adaptive" }

func (a *Adaptive) Choose(_, opponentID string) protocol.Choice {
	a.mu.Lock()
	defer a.mu.Unlock()

	seen := a.history[opponentID]
	if len(seen) < adaptiveMinSamples {
		return a.random()
	}

	even := 0
	for _, c := range seen {
		if c == protocol.ChoiceEven {
			even++
		}
	}
	odd := len(seen) - even
	switch {
	case even > odd:
		return protocol.ChoiceEven
	case odd > even:
		return protocol.ChoiceOdd
	default:
		return a.random()
	}
}

func (a *Adaptive) Update(result Result) {
	if result.OpponentID == "" || !result.OpponentChoice.IsValid() {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	seen := append(a.history[result.OpponentID], result.OpponentChoice)
	if len(seen) > adaptiveWindow {
		seen = seen[len(seen)-adaptiveWindow:]
	}
	a.history[result.OpponentID] = seen
}

// random must be called with a.mu held.
func (a *Adaptive) random() protocol.Choice {
	if a.rng.Intn(2) == 0 {
		return protocol.ChoiceEven
	}
	return protocol.ChoiceOdd
}

var (
	_ Strategy = (*Random)(nil)
	_ Strategy = (*Fixed)(nil)
	_ Strategy = (*Alternating)(nil)
	_ Strategy = (*Adaptive)(nil)
)
