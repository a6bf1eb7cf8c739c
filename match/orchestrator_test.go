package match

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/leagueflow/protocol"
)

// fakeCaller routes calls to per-destination handlers and records every
// delivered method.
type fakeCaller struct {
	mu       sync.Mutex
	handlers map[string]func(method string, params any) (any, error)
	calls    []string // "destination method"
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{handlers: make(map[string]func(string, any) (any, error))}
}

func (f *fakeCaller) handle(destination string, h func(method string, params any) (any, error)) {
	f.handlers[destination] = h
}

func (f *fakeCaller) Call(_ context.Context, destination, method string, params, out any) error {
	f.mu.Lock()
	f.calls = append(f.calls, destination+" "+method)
	h := f.handlers[destination]
	f.mu.Unlock()

	if h == nil {
		return nil
	}
	result, err := h(method, params)
	if err != nil || result == nil || out == nil {
		return err
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (f *fakeCaller) delivered(destination, method string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, c := range f.calls {
		if c == destination+" "+method {
			return true
		}
	}
	return false
}

// respondingSide answers invitations with an accepting ack and choice
// calls with the given choice, both as RPC response payloads.
func respondingSide(participantID string, choice protocol.Choice) func(string, any) (any, error) {
	sender := string(protocol.RoleParticipant) + ":" + participantID
	return func(method string, _ any) (any, error) {
		switch method {
		case protocol.KindMatchInvitation.Method():
			return protocol.JoinAck{
				Envelope: protocol.NewEnvelope(protocol.KindMatchJoinAck, sender),
				Accept:   true,
			}, nil
		case protocol.KindChoiceCall.Method():
			return protocol.ChoiceResponse{
				Envelope:      protocol.NewEnvelope(protocol.KindChoiceResponse, sender),
				ParticipantID: participantID,
				Choice:        choice,
			}, nil
		default:
			return nil, nil
		}
	}
}

func testSpec() Spec {
	return Spec{
		MatchID:       "R1M1",
		Round:         1,
		LeagueID:      "league-2026",
		SideAID:       "p1",
		SideAEndpoint: "http://p1/rpc",
		SideBID:       "p2",
		SideBEndpoint: "http://p2/rpc",
	}
}

func newTestOrchestrator(caller Caller, drawn int) *Orchestrator {
	return NewOrchestrator("o1", "http://o1/rpc", "http://coordinator/rpc", caller, zap.NewNop(),
		WithRules(Rules{MinNumber: 1, MaxNumber: 10, Draw: fixedDraw(drawn)}),
		WithConfig(Config{JoinWindow: 100 * time.Millisecond, ChoiceWindow: 100 * time.Millisecond}),
		WithAuthToken("official-token"),
	)
}

func TestConductHappyPath(t *testing.T) {
	caller := newFakeCaller()
	caller.handle("http://p1/rpc", respondingSide("p1", protocol.ChoiceEven))
	caller.handle("http://p2/rpc", respondingSide("p2", protocol.ChoiceOdd))

	o := newTestOrchestrator(caller, 6)
	report, err := o.Conduct(context.Background(), testSpec())
	require.NoError(t, err)

	assert.Equal(t, "p1", report.WinnerID)
	assert.Equal(t, 6, report.DrawnNumber)
	assert.Equal(t, protocol.OutcomeWin, report.SideAResult)
	assert.Equal(t, protocol.OutcomeLoss, report.SideBResult)
	assert.Empty(t, report.Failure)
	assert.Equal(t, protocol.KindMatchResultReport, report.Kind)
	assert.Equal(t, "official:o1", report.Sender)

	assert.True(t, caller.delivered("http://p1/rpc", protocol.KindMatchOver.Method()))
	assert.True(t, caller.delivered("http://p2/rpc", protocol.KindMatchOver.Method()))
	assert.True(t, caller.delivered("http://coordinator/rpc", protocol.KindMatchResultReport.Method()))
	assert.Zero(t, o.Active().Len(), "settled match must leave the registry")
}

func TestConductJoinTimeoutAwardsResponder(t *testing.T) {
	caller := newFakeCaller()
	caller.handle("http://p1/rpc", respondingSide("p1", protocol.ChoiceEven))
	// p2 never answers.

	o := newTestOrchestrator(caller, 6)
	report, err := o.Conduct(context.Background(), testSpec())
	require.NoError(t, err)

	assert.Equal(t, FailureJoinTimeout, report.Failure)
	assert.Equal(t, protocol.OutcomeWin, report.SideAResult)
	assert.Equal(t, protocol.OutcomeTechnicalLoss, report.SideBResult)
	assert.Equal(t, "p1", report.WinnerID)
	assert.Zero(t, report.DrawnNumber, "nothing is drawn without both sides")
}

func TestConductSlowInvitationDoesNotExtendJoinWindow(t *testing.T) {
	caller := newFakeCaller()
	caller.handle("http://p1/rpc", respondingSide("p1", protocol.ChoiceEven))
	// p2's transport stalls past the join window and never joins.
	caller.handle("http://p2/rpc", func(string, any) (any, error) {
		time.Sleep(500 * time.Millisecond)
		return nil, nil
	})

	o := NewOrchestrator("o1", "http://o1/rpc", "http://coordinator/rpc", caller, zap.NewNop(),
		WithRules(Rules{MinNumber: 1, MaxNumber: 10, Draw: fixedDraw(6)}),
		WithConfig(Config{JoinWindow: 200 * time.Millisecond, ChoiceWindow: 200 * time.Millisecond}),
	)

	start := time.Now()
	report, err := o.Conduct(context.Background(), testSpec())
	require.NoError(t, err)

	assert.Equal(t, FailureJoinTimeout, report.Failure)
	assert.Equal(t, "p1", report.WinnerID)
	// The window opened when the invitations went out, so it expired
	// while p2's call was still in flight; it must not restart after
	// the call returns.
	assert.Less(t, time.Since(start), 600*time.Millisecond)
}

func TestConductBothSilentIsDoubleTechnicalLoss(t *testing.T) {
	caller := newFakeCaller()

	o := newTestOrchestrator(caller, 6)
	report, err := o.Conduct(context.Background(), testSpec())
	require.NoError(t, err)

	assert.Equal(t, FailureJoinTimeout, report.Failure)
	assert.Equal(t, protocol.OutcomeTechnicalLoss, report.SideAResult)
	assert.Equal(t, protocol.OutcomeTechnicalLoss, report.SideBResult)
	assert.Empty(t, report.WinnerID)
	assert.Zero(t, o.Active().Len())
}

func TestConductChoiceTimeout(t *testing.T) {
	caller := newFakeCaller()
	caller.handle("http://p1/rpc", respondingSide("p1", protocol.ChoiceEven))
	// p2 joins but never chooses.
	caller.handle("http://p2/rpc", func(method string, _ any) (any, error) {
		if method == protocol.KindMatchInvitation.Method() {
			return protocol.JoinAck{
				Envelope: protocol.NewEnvelope(protocol.KindMatchJoinAck, "participant:p2"),
				Accept:   true,
			}, nil
		}
		return nil, nil
	})

	o := newTestOrchestrator(caller, 6)
	report, err := o.Conduct(context.Background(), testSpec())
	require.NoError(t, err)

	assert.Equal(t, FailureChoiceTimeout, report.Failure)
	assert.Equal(t, protocol.OutcomeWin, report.SideAResult)
	assert.Equal(t, protocol.OutcomeTechnicalLoss, report.SideBResult)
	assert.Equal(t, protocol.ChoiceEven, report.SideAChoice)
	assert.Empty(t, report.SideBChoice)
}

func TestConductAcceptsAsyncResponses(t *testing.T) {
	// Neither RPC response carries a payload; acks and choices arrive
	// through the registry as a transport handler would deliver them.
	caller := newFakeCaller()

	o := newTestOrchestrator(caller, 7)
	go func() {
		for {
			m, ok := o.Active().Get("R1M1")
			if !ok {
				time.Sleep(time.Millisecond)
				continue
			}
			m.RecordJoin("p1", true)
			m.RecordJoin("p2", true)
			for m.Phase() != PhaseJoined {
				time.Sleep(time.Millisecond)
			}
			m.RecordChoice("p1", protocol.ChoiceOdd)
			m.RecordChoice("p2", protocol.ChoiceOdd)
			return
		}
	}()

	report, err := o.Conduct(context.Background(), testSpec())
	require.NoError(t, err)

	assert.Empty(t, report.Failure)
	assert.Equal(t, protocol.OutcomeDraw, report.SideAResult)
	assert.Equal(t, protocol.OutcomeDraw, report.SideBResult)
	assert.Equal(t, 7, report.DrawnNumber)
}

func TestConductContextCancellation(t *testing.T) {
	caller := newFakeCaller()
	o := newTestOrchestrator(caller, 6)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := o.Conduct(ctx, testSpec())
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, o.Active().Len(), "aborted match must leave the registry")
}

func TestRecordJoinRejectsStrangers(t *testing.T) {
	m := New(testSpec())
	err := m.RecordJoin("p9", true)
	assert.Equal(t, protocol.CodeParticipantNotRegistered, protocol.CodeOf(err))
}

func TestRecordChoiceValidation(t *testing.T) {
	m := New(testSpec())
	err := m.RecordChoice("p1", "sideways")
	assert.Equal(t, protocol.CodeInvalidChoice, protocol.CodeOf(err))

	require.NoError(t, m.RecordChoice("p1", protocol.ChoiceEven))
	require.NoError(t, m.RecordChoice("p1", protocol.ChoiceOdd), "late duplicates are ignored")
	a, _ := m.Sides()
	assert.Equal(t, protocol.ChoiceEven, a.choice, "first choice sticks")
}
