// Package official implements the match-conducting agent. An official
// registers with the coordinator, receives round announcements, and
// conducts each assigned match through a match orchestrator.
package official

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/leagueflow/agent"
	"github.com/BaSui01/leagueflow/internal/metrics"
	"github.com/BaSui01/leagueflow/internal/pool"
	"github.com/BaSui01/leagueflow/match"
	"github.com/BaSui01/leagueflow/protocol"
	"github.com/BaSui01/leagueflow/resilience"
	"github.com/BaSui01/leagueflow/transport"
)

var _ match.Caller = (*resilience.Caller)(nil)

// Official is a referee agent. One Official conducts any number of
// concurrent matches through its orchestrator.
type Official struct {
	id                  string
	coordinatorEndpoint string

	caller  match.Caller
	state   *agent.State
	logger  *zap.Logger
	metrics *metrics.Collector

	rules       match.Rules
	matchConfig match.Config

	// baseCtx bounds match conduction, which outlives the announcement
	// request that triggered it.
	baseCtx context.Context
	pool    *pool.Pool

	mu           sync.Mutex
	orchestrator *match.Orchestrator
	wg           sync.WaitGroup
}

// Option customizes an Official.
type Option func(*Official)

// WithMatchRules replaces the default even/odd rules.
func WithMatchRules(rules match.Rules) Option {
	return func(o *Official) { o.rules = rules }
}

// WithMatchConfig replaces the default match timing windows.
func WithMatchConfig(config match.Config) Option {
	return func(o *Official) { o.matchConfig = config }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(o *Official) { o.metrics = collector }
}

// WithBaseContext bounds the lifetime of spawned match conductions.
func WithBaseContext(ctx context.Context) Option {
	return func(o *Official) { o.baseCtx = ctx }
}

// WithPoolConfig resizes the conduction worker pool.
func WithPoolConfig(config pool.Config) Option {
	return func(o *Official) { o.pool = pool.New(config) }
}

// New creates an unregistered Official.
func New(id, coordinatorEndpoint string, caller match.Caller, logger *zap.Logger, opts ...Option) *Official {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Official{
		id:                  id,
		coordinatorEndpoint: coordinatorEndpoint,
		caller:              caller,
		state:               agent.NewState(),
		logger:              logger.With(zap.String("official", id)),
		rules:               match.DefaultRules(),
		matchConfig:         match.DefaultConfig(),
		baseCtx:             context.Background(),
		pool:                pool.New(pool.DefaultConfig()),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State exposes the lifecycle state machine.
func (o *Official) State() *agent.State { return o.state }

func (o *Official) sender() string {
	return string(protocol.RoleOfficial) + ":" + o.id
}

// Register announces this official to the coordinator. replyEndpoint is
// the official's own RPC endpoint, where participants send asynchronous
// acks and choice responses.
func (o *Official) Register(ctx context.Context, replyEndpoint string) error {
	req := protocol.OfficialRegisterRequest{
		Envelope: protocol.NewEnvelope(protocol.KindOfficialRegisterRequest, o.sender()),
		OfficialMeta: protocol.OfficialMeta{
			Version:         "1.0",
			ProtocolVersion: protocol.ProtocolTag,
			ContactEndpoint: replyEndpoint,
		},
	}

	var resp protocol.OfficialRegisterResponse
	if err := o.caller.Call(ctx, o.coordinatorEndpoint, protocol.KindOfficialRegisterRequest.Method(), req, &resp); err != nil {
		return fmt.Errorf("register official %s: %w", o.id, err)
	}
	if resp.Status != protocol.RegistrationAccepted {
		return fmt.Errorf("registration rejected: %s", resp.Reason)
	}
	if err := o.state.Register(resp.OfficialID, resp.Token, resp.LeagueID); err != nil {
		return err
	}

	// The coordinator assigns a sequential id (REF01, REF02, ...) which
	// replaces the local one for all subsequent messages.
	o.mu.Lock()
	if resp.OfficialID != "" && resp.OfficialID != o.id {
		o.id = resp.OfficialID
		o.logger = o.logger.With(zap.String("assigned_id", resp.OfficialID))
	}
	o.mu.Unlock()

	orch := match.NewOrchestrator(o.id, replyEndpoint, o.coordinatorEndpoint, o.caller, o.logger,
		match.WithRules(o.rules),
		match.WithConfig(o.matchConfig),
		match.WithOrchestratorMetrics(o.metrics),
		match.WithAuthToken(resp.Token),
	)
	o.mu.Lock()
	o.orchestrator = orch
	o.mu.Unlock()

	o.logger.Info("registered with coordinator",
		zap.String("league_id", resp.LeagueID),
		zap.String("endpoint", replyEndpoint),
	)
	return nil
}

// RegisterHandlers wires the official's inbound message handlers into a
// transport server. Call before the server starts.
func (o *Official) RegisterHandlers(s *transport.Server) {
	s.Handle(protocol.KindRoundAnnouncement, o.handleRoundAnnouncement)
	s.Handle(protocol.KindMatchJoinAck, o.handleJoinAck)
	s.Handle(protocol.KindChoiceResponse, o.handleChoiceResponse)
	s.Handle(protocol.KindMatchError, o.handleMatchError)
	s.Handle(protocol.KindLeagueCompleted, o.handleLeagueCompleted)
}

// Wait blocks until every spawned match conduction has finished.
func (o *Official) Wait() {
	o.wg.Wait()
}

// Close drains in-flight matches and stops the worker pool.
func (o *Official) Close() {
	o.wg.Wait()
	o.pool.Close()
}

func (o *Official) active() (*match.Orchestrator, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.orchestrator == nil {
		return nil, protocol.NewError(protocol.CodeOfficialNotRegistered,
			fmt.Sprintf("official %s is not registered", o.id))
	}
	return o.orchestrator, nil
}

// handleRoundAnnouncement spawns one conduction per assigned match and
// acknowledges immediately; results flow back to the coordinator as
// each match settles.
func (o *Official) handleRoundAnnouncement(_ context.Context, env *protocol.Envelope, params json.RawMessage) (any, error) {
	orch, err := o.active()
	if err != nil {
		return nil, err
	}
	var announcement protocol.RoundAnnouncement
	if err := json.Unmarshal(params, &announcement); err != nil {
		return nil, protocol.NewError(protocol.CodeMissingField, "malformed round announcement").WithCause(err)
	}

	o.logger.Info("round announced",
		zap.Int("round", env.RoundID),
		zap.Int("matches", len(announcement.Matches)),
	)

	for _, m := range announcement.Matches {
		if m.OfficialID != o.id {
			o.logger.Warn("announcement for another official ignored",
				zap.String("match_id", m.MatchID),
				zap.String("official", m.OfficialID),
			)
			continue
		}
		spec := match.Spec{
			MatchID:       m.MatchID,
			Round:         env.RoundID,
			LeagueID:      env.LeagueID,
			SideAID:       m.SideAID,
			SideAEndpoint: m.SideAEndpoint,
			SideBID:       m.SideBID,
			SideBEndpoint: m.SideBEndpoint,
		}
		o.wg.Add(1)
		err := o.pool.Submit(o.baseCtx, func(ctx context.Context) {
			defer o.wg.Done()
			if _, err := orch.Conduct(ctx, spec); err != nil {
				o.logger.Error("match conduction failed",
					zap.String("match_id", spec.MatchID),
					zap.Error(err),
				)
			}
		})
		if err != nil {
			o.wg.Done()
			return nil, fmt.Errorf("schedule match %s: %w", spec.MatchID, err)
		}
	}
	return nil, nil
}

// handleJoinAck routes an asynchronous join ack to its in-flight match.
func (o *Official) handleJoinAck(_ context.Context, env *protocol.Envelope, params json.RawMessage) (any, error) {
	orch, err := o.active()
	if err != nil {
		return nil, err
	}
	var ack protocol.JoinAck
	if err := json.Unmarshal(params, &ack); err != nil {
		return nil, protocol.NewError(protocol.CodeMissingField, "malformed join ack").WithCause(err)
	}
	identity, err := protocol.ParseIdentity(env.Sender)
	if err != nil {
		return nil, err
	}

	m, ok := orch.Active().Get(env.MatchID)
	if !ok {
		return nil, protocol.NewError(protocol.CodeMissingField,
			fmt.Sprintf("no active match %q", env.MatchID))
	}
	if err := m.RecordJoin(identity.ID, ack.Accept); err != nil {
		return nil, err
	}
	return nil, nil
}

// handleChoiceResponse routes an asynchronous choice to its match.
func (o *Official) handleChoiceResponse(_ context.Context, env *protocol.Envelope, params json.RawMessage) (any, error) {
	orch, err := o.active()
	if err != nil {
		return nil, err
	}
	var resp protocol.ChoiceResponse
	if err := json.Unmarshal(params, &resp); err != nil {
		return nil, protocol.NewError(protocol.CodeMissingField, "malformed choice response").WithCause(err)
	}
	identity, err := protocol.ParseIdentity(env.Sender)
	if err != nil {
		return nil, err
	}

	m, ok := orch.Active().Get(env.MatchID)
	if !ok {
		return nil, protocol.NewError(protocol.CodeMissingField,
			fmt.Sprintf("no active match %q", env.MatchID))
	}
	if err := m.RecordChoice(identity.ID, resp.Choice); err != nil {
		return nil, err
	}
	return nil, nil
}

// handleMatchError logs a participant's match-level error notice. The
// deadline machinery already scores a side that stays silent, so the
// notice is informational.
func (o *Official) handleMatchError(_ context.Context, env *protocol.Envelope, params json.RawMessage) (any, error) {
	var notice protocol.MatchErrorMessage
	if err := json.Unmarshal(params, &notice); err != nil {
		return nil, protocol.NewError(protocol.CodeMissingField, "malformed error notice").WithCause(err)
	}
	o.logger.Warn("match error reported",
		zap.String("match_id", env.MatchID),
		zap.String("participant", notice.ParticipantID),
		zap.String("code", string(notice.ErrorCode)),
		zap.String("description", notice.ErrorDescription),
		zap.Bool("retryable", notice.Retryable),
	)
	return nil, nil
}

func (o *Official) handleLeagueCompleted(_ context.Context, _ *protocol.Envelope, params json.RawMessage) (any, error) {
	var completed protocol.LeagueCompleted
	if err := json.Unmarshal(params, &completed); err != nil {
		return nil, protocol.NewError(protocol.CodeMissingField, "malformed completion notice").WithCause(err)
	}
	o.logger.Info("league completed",
		zap.Int("rounds", completed.Summary.TotalRounds),
		zap.Int("matches", completed.Summary.TotalMatches),
	)
	return nil, o.state.Shutdown()
}
