// Package match settles even/odd matches and orchestrates the full
// match conversation between an official and two participants.
package match

import (
	"math/rand"

	"github.com/BaSui01/leagueflow/protocol"
)

// DrawFunc draws a number in [min, max]. Injected for deterministic
// settlement in tests.
type DrawFunc func(min, max int) int

func randomDraw(min, max int) int {
	return min + rand.Intn(max-min+1)
}

// Rules holds the even/odd game parameters.
type Rules struct {
	MinNumber int
	MaxNumber int
	Draw      DrawFunc
}

// DefaultRules draws uniformly from [1, 10].
func DefaultRules() Rules {
	return Rules{MinNumber: 1, MaxNumber: 10, Draw: randomDraw}
}

func (r Rules) withDefaults() Rules {
	if r.MinNumber == 0 && r.MaxNumber == 0 {
		r.MinNumber, r.MaxNumber = 1, 10
	}
	if r.Draw == nil {
		r.Draw = randomDraw
	}
	return r
}

// Parity returns the parity of a drawn number.
func Parity(n int) protocol.Choice {
	if n%2 == 0 {
		return protocol.ChoiceEven
	}
	return protocol.ChoiceOdd
}

// Settlement is the outcome of a settled match.
type Settlement struct {
	DrawnNumber int
	Parity      protocol.Choice
	WinnerID    string
	Choices     map[string]protocol.Choice
	Outcomes    map[string]protocol.Outcome
}

// Settle draws a number and scores both choices against its parity.
// A sole correct guesser wins; both correct or both wrong is a draw.
func (r Rules) Settle(sideAID string, sideAChoice protocol.Choice, sideBID string, sideBChoice protocol.Choice) Settlement {
	r = r.withDefaults()
	drawn := r.Draw(r.MinNumber, r.MaxNumber)
	parity := Parity(drawn)

	s := Settlement{
		DrawnNumber: drawn,
		Parity:      parity,
		Choices: map[string]protocol.Choice{
			sideAID: sideAChoice,
			sideBID: sideBChoice,
		},
		Outcomes: make(map[string]protocol.Outcome, 2),
	}

	aCorrect := sideAChoice == parity
	bCorrect := sideBChoice == parity
	switch {
	case aCorrect == bCorrect:
		s.Outcomes[sideAID] = protocol.OutcomeDraw
		s.Outcomes[sideBID] = protocol.OutcomeDraw
	case aCorrect:
		s.Outcomes[sideAID] = protocol.OutcomeWin
		s.Outcomes[sideBID] = protocol.OutcomeLoss
		s.WinnerID = sideAID
	default:
		s.Outcomes[sideAID] = protocol.OutcomeLoss
		s.Outcomes[sideBID] = protocol.OutcomeWin
		s.WinnerID = sideBID
	}
	return s
}

// Result converts a settlement into the wire-level match result.
func (s Settlement) Result() protocol.MatchResult {
	return protocol.MatchResult{
		WinnerID:    s.WinnerID,
		DrawnNumber: s.DrawnNumber,
		Choices:     s.Choices,
		Outcomes:    s.Outcomes,
	}
}
