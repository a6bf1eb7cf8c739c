package match

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/leagueflow/internal/metrics"
	"github.com/BaSui01/leagueflow/protocol"
)

// Caller issues authenticated JSON-RPC calls to agent endpoints.
type Caller interface {
	Call(ctx context.Context, destination, method string, params, out any) error
}

// Failure reasons carried in technical-loss reports.
const (
	FailureJoinTimeout   = "join_timeout"
	FailureChoiceTimeout = "choice_timeout"
)

// Config tunes the two timed collection windows of a match.
type Config struct {
	JoinWindow   time.Duration `yaml:"join_window" json:"join_window"`
	ChoiceWindow time.Duration `yaml:"choice_window" json:"choice_window"`
}

// DefaultConfig returns the standard 5s join / 30s choice windows.
func DefaultConfig() Config {
	return Config{JoinWindow: 5 * time.Second, ChoiceWindow: 30 * time.Second}
}

func (c Config) withDefaults() Config {
	if c.JoinWindow <= 0 {
		c.JoinWindow = 5 * time.Second
	}
	if c.ChoiceWindow <= 0 {
		c.ChoiceWindow = 30 * time.Second
	}
	return c
}

// Orchestrator conducts matches on behalf of one official: it invites
// both sides, collects parity choices, settles, notifies the sides, and
// reports the result to the coordinator.
type Orchestrator struct {
	officialID          string
	authToken           string
	replyEndpoint       string
	coordinatorEndpoint string

	caller  Caller
	rules   Rules
	config  Config
	logger  *zap.Logger
	metrics *metrics.Collector
	active  *Registry
}

// OrchestratorOption customizes an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithRules replaces the default even/odd rules.
func WithRules(rules Rules) OrchestratorOption {
	return func(o *Orchestrator) { o.rules = rules }
}

// WithConfig replaces the default timing windows.
func WithConfig(config Config) OrchestratorOption {
	return func(o *Orchestrator) { o.config = config.withDefaults() }
}

// WithOrchestratorMetrics attaches a metrics collector.
func WithOrchestratorMetrics(collector *metrics.Collector) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = collector }
}

// WithAuthToken attaches the official's token to every outbound message.
func WithAuthToken(token string) OrchestratorOption {
	return func(o *Orchestrator) { o.authToken = token }
}

// NewOrchestrator creates an Orchestrator for the given official.
// replyEndpoint is the official's own RPC endpoint, handed to
// participants for asynchronous acks and choice responses.
func NewOrchestrator(officialID, replyEndpoint, coordinatorEndpoint string, caller Caller, logger *zap.Logger, opts ...OrchestratorOption) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		officialID:          officialID,
		replyEndpoint:       replyEndpoint,
		coordinatorEndpoint: coordinatorEndpoint,
		caller:              caller,
		rules:               DefaultRules(),
		config:              DefaultConfig(),
		logger:              logger,
		active:              NewRegistry(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Active exposes the in-flight match registry, used by the transport
// layer to route asynchronous acks and choice responses.
func (o *Orchestrator) Active() *Registry { return o.active }

func (o *Orchestrator) sender() string {
	return string(protocol.RoleOfficial) + ":" + o.officialID
}

// Conduct runs one match end to end and returns the result report that
// was sent to the coordinator. The match is removed from the active
// registry whether or not the report delivery succeeds.
func (o *Orchestrator) Conduct(ctx context.Context, spec Spec) (protocol.ResultReport, error) {
	m := New(spec)
	o.active.Add(m)
	defer o.active.Remove(m.MatchID)

	start := time.Now()
	o.logger.Info("match starting",
		zap.String("match_id", m.MatchID),
		zap.Int("round", m.Round),
		zap.String("side_a", m.SideAID),
		zap.String("side_b", m.SideBID),
	)

	report, err := o.conduct(ctx, m)
	if err != nil {
		o.metrics.RecordMatch("aborted", time.Since(start))
		return protocol.ResultReport{}, err
	}
	o.metrics.RecordMatch(string(m.Phase()), time.Since(start))

	o.notifySides(ctx, m, report)
	if reportErr := o.report(ctx, report); reportErr != nil {
		o.logger.Warn("result report delivery failed",
			zap.String("match_id", m.MatchID),
			zap.Error(reportErr),
		)
		return report, reportErr
	}
	return report, nil
}

func (o *Orchestrator) conduct(ctx context.Context, m *Match) (protocol.ResultReport, error) {
	m.setPhase(PhaseInvited)

	// The window opens when the fan-out starts, not when it returns, so
	// a slow or retried call cannot stretch the deadline stamped into
	// the payload.
	joinDeadline := time.Now().Add(o.config.JoinWindow)
	o.sendInvitations(ctx, m, joinDeadline)

	joined, err := waitBoth(ctx, m.joined, time.Until(joinDeadline))
	if err != nil {
		return protocol.ResultReport{}, err
	}
	if !joined {
		m.setPhase(PhaseJoinTimeout)
		return o.technicalReport(m, FailureJoinTimeout), nil
	}
	m.setPhase(PhaseJoined)

	choiceDeadline := time.Now().Add(o.config.ChoiceWindow)
	o.sendChoiceCalls(ctx, m, choiceDeadline)

	chosen, err := waitBoth(ctx, m.chosen, time.Until(choiceDeadline))
	if err != nil {
		return protocol.ResultReport{}, err
	}
	if !chosen {
		m.setPhase(PhaseChoiceTimeout)
		return o.technicalReport(m, FailureChoiceTimeout), nil
	}
	m.setPhase(PhaseChoicesCollected)

	a, b := m.Sides()
	settlement := o.rules.Settle(a.ID, a.choice, b.ID, b.choice)
	m.setPhase(PhaseSettled)

	o.logger.Info("match settled",
		zap.String("match_id", m.MatchID),
		zap.Int("drawn_number", settlement.DrawnNumber),
		zap.String("winner", settlement.WinnerID),
	)
	return o.settledReport(m, settlement), nil
}

// sendInvitations fans out MATCH_INVITATION to both sides. A side whose
// RPC response already carries an accepting join ack is recorded
// immediately; otherwise the ack may still arrive asynchronously before
// the join window closes, so call errors only log.
func (o *Orchestrator) sendInvitations(ctx context.Context, m *Match, windowEnd time.Time) {
	deadline := windowEnd.UTC().Format("2006-01-02T15:04:05Z")
	a, b := m.Sides()

	g, gctx := errgroup.WithContext(ctx)
	for _, side := range []Side{a, b} {
		side := side
		g.Go(func() error {
			inv := protocol.Invitation{
				Envelope: protocol.NewEnvelope(protocol.KindMatchInvitation, o.sender(),
					protocol.WithConversationID(m.ConversationID),
					protocol.WithAuthToken(o.authToken),
					protocol.WithLeague(m.LeagueID),
					protocol.WithMatch(m.Round, m.MatchID),
				),
				GameType:      "even_odd",
				Role:          side.Role,
				OpponentID:    m.opponentOf(side.ID),
				ReplyEndpoint: o.replyEndpoint,
				Deadline:      deadline,
			}
			var ack protocol.JoinAck
			if err := o.caller.Call(gctx, side.Endpoint, protocol.KindMatchInvitation.Method(), inv, &ack); err != nil {
				o.logger.Warn("invitation failed",
					zap.String("match_id", m.MatchID),
					zap.String("participant", side.ID),
					zap.Error(err),
				)
				return nil
			}
			if ack.Kind == protocol.KindMatchJoinAck {
				if err := m.RecordJoin(side.ID, ack.Accept); err != nil {
					o.logger.Warn("join ack rejected",
						zap.String("match_id", m.MatchID),
						zap.String("participant", side.ID),
						zap.Error(err),
					)
				}
			}
			return nil
		})
	}
	g.Wait()
}

// sendChoiceCalls fans out CHOICE_CALL to both sides, mirroring the
// invitation fan-out.
func (o *Orchestrator) sendChoiceCalls(ctx context.Context, m *Match, windowEnd time.Time) {
	deadline := windowEnd.UTC().Format("2006-01-02T15:04:05Z")
	a, b := m.Sides()

	g, gctx := errgroup.WithContext(ctx)
	for _, side := range []Side{a, b} {
		side := side
		g.Go(func() error {
			call := protocol.ChoiceCall{
				Envelope: protocol.NewEnvelope(protocol.KindChoiceCall, o.sender(),
					protocol.WithConversationID(m.ConversationID),
					protocol.WithAuthToken(o.authToken),
					protocol.WithLeague(m.LeagueID),
					protocol.WithMatch(m.Round, m.MatchID),
				),
				ParticipantID: side.ID,
				Context: protocol.ChoiceContext{
					ValidOptions: []string{string(protocol.ChoiceEven), string(protocol.ChoiceOdd)},
					OpponentID:   m.opponentOf(side.ID),
				},
				ReplyEndpoint: o.replyEndpoint,
				Deadline:      deadline,
			}
			var resp protocol.ChoiceResponse
			if err := o.caller.Call(gctx, side.Endpoint, protocol.KindChoiceCall.Method(), call, &resp); err != nil {
				o.logger.Warn("choice call failed",
					zap.String("match_id", m.MatchID),
					zap.String("participant", side.ID),
					zap.Error(err),
				)
				return nil
			}
			if resp.Kind == protocol.KindChoiceResponse {
				if err := m.RecordChoice(side.ID, resp.Choice); err != nil {
					o.logger.Warn("choice response rejected",
						zap.String("match_id", m.MatchID),
						zap.String("participant", side.ID),
						zap.Error(err),
					)
				}
			}
			return nil
		})
	}
	g.Wait()
}

func (m *Match) opponentOf(participantID string) string {
	if participantID == m.SideAID {
		return m.SideBID
	}
	return m.SideAID
}

// technicalReport scores a timed-out match. A side that met every
// deadline so far is awarded the win; a side that missed one takes a
// technical loss.
func (o *Orchestrator) technicalReport(m *Match, failure string) protocol.ResultReport {
	a, b := m.Sides()
	responded := func(s Side) bool {
		if failure == FailureJoinTimeout {
			return s.joined
		}
		return s.choice != ""
	}

	report := o.newReport(m)
	report.Failure = failure
	report.SideAChoice = a.choice
	report.SideBChoice = b.choice

	aOK, bOK := responded(a), responded(b)
	switch {
	case aOK && !bOK:
		report.SideAResult = protocol.OutcomeWin
		report.SideBResult = protocol.OutcomeTechnicalLoss
		report.WinnerID = a.ID
	case bOK && !aOK:
		report.SideAResult = protocol.OutcomeTechnicalLoss
		report.SideBResult = protocol.OutcomeWin
		report.WinnerID = b.ID
	default:
		report.SideAResult = protocol.OutcomeTechnicalLoss
		report.SideBResult = protocol.OutcomeTechnicalLoss
	}
	return report
}

func (o *Orchestrator) settledReport(m *Match, s Settlement) protocol.ResultReport {
	a, b := m.Sides()
	report := o.newReport(m)
	report.SideAChoice = s.Choices[a.ID]
	report.SideBChoice = s.Choices[b.ID]
	report.DrawnNumber = s.DrawnNumber
	report.WinnerID = s.WinnerID
	report.SideAResult = s.Outcomes[a.ID]
	report.SideBResult = s.Outcomes[b.ID]
	return report
}

func (o *Orchestrator) newReport(m *Match) protocol.ResultReport {
	return protocol.ResultReport{
		Envelope: protocol.NewEnvelope(protocol.KindMatchResultReport, o.sender(),
			protocol.WithConversationID(m.ConversationID),
			protocol.WithAuthToken(o.authToken),
			protocol.WithLeague(m.LeagueID),
			protocol.WithMatch(m.Round, m.MatchID),
		),
		SideAID: m.SideAID,
		SideBID: m.SideBID,
	}
}

// notifySides delivers MATCH_OVER to both sides on a best-effort basis.
func (o *Orchestrator) notifySides(ctx context.Context, m *Match, report protocol.ResultReport) {
	result := protocol.MatchResult{
		WinnerID:    report.WinnerID,
		DrawnNumber: report.DrawnNumber,
		Choices: map[string]protocol.Choice{
			report.SideAID: report.SideAChoice,
			report.SideBID: report.SideBChoice,
		},
		Outcomes: map[string]protocol.Outcome{
			report.SideAID: report.SideAResult,
			report.SideBID: report.SideBResult,
		},
	}

	a, b := m.Sides()
	g, gctx := errgroup.WithContext(ctx)
	for _, side := range []Side{a, b} {
		side := side
		g.Go(func() error {
			over := protocol.MatchOver{
				Envelope: protocol.NewEnvelope(protocol.KindMatchOver, o.sender(),
					protocol.WithConversationID(m.ConversationID),
					protocol.WithAuthToken(o.authToken),
					protocol.WithLeague(m.LeagueID),
					protocol.WithMatch(m.Round, m.MatchID),
				),
				Result: result,
			}
			if err := o.caller.Call(gctx, side.Endpoint, protocol.KindMatchOver.Method(), over, nil); err != nil {
				o.logger.Warn("match over delivery failed",
					zap.String("match_id", m.MatchID),
					zap.String("participant", side.ID),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	g.Wait()
}

func (o *Orchestrator) report(ctx context.Context, report protocol.ResultReport) error {
	if o.coordinatorEndpoint == "" {
		return nil
	}
	if err := o.caller.Call(ctx, o.coordinatorEndpoint, protocol.KindMatchResultReport.Method(), report, nil); err != nil {
		return fmt.Errorf("report match %s: %w", report.MatchID, err)
	}
	return nil
}
