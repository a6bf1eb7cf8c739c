// Package participant implements the playing agent. A participant
// registers with the coordinator, accepts match invitations, answers
// choice calls through a pluggable strategy, and tracks its own
// results and the league standings.
package participant

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/leagueflow/agent"
	"github.com/BaSui01/leagueflow/internal/metrics"
	"github.com/BaSui01/leagueflow/match"
	"github.com/BaSui01/leagueflow/protocol"
	"github.com/BaSui01/leagueflow/strategy"
	"github.com/BaSui01/leagueflow/transport"
)

// Participant is a playing agent.
type Participant struct {
	id                  string
	displayName         string
	coordinatorEndpoint string

	caller   match.Caller
	state    *agent.State
	strategy strategy.Strategy
	logger   *zap.Logger
	metrics  *metrics.Collector

	mu         sync.Mutex
	standings  []protocol.StandingEntry
	completed  bool
	matchStart time.Time
}

// Option customizes a Participant.
type Option func(*Participant)

// WithStrategy replaces the default random strategy.
func WithStrategy(s strategy.Strategy) Option {
	return func(p *Participant) { p.strategy = s }
}

// WithDisplayName sets the name shown in standings.
func WithDisplayName(name string) Option {
	return func(p *Participant) { p.displayName = name }
}

// WithMetrics attaches a metrics collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(p *Participant) { p.metrics = collector }
}

// New creates an unregistered Participant.
func New(id, coordinatorEndpoint string, caller match.Caller, logger *zap.Logger, opts ...Option) *Participant {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Participant{
		id:                  id,
		displayName:         id,
		coordinatorEndpoint: coordinatorEndpoint,
		caller:              caller,
		state:               agent.NewState(),
		strategy:            strategy.New("random"),
		logger:              logger.With(zap.String("participant", id)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// State exposes the lifecycle state machine.
func (p *Participant) State() *agent.State { return p.state }

// Standings returns the last standings broadcast received.
func (p *Participant) Standings() []protocol.StandingEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]protocol.StandingEntry, len(p.standings))
	copy(out, p.standings)
	return out
}

// LeagueOver reports whether the completion broadcast has arrived.
func (p *Participant) LeagueOver() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.completed
}

func (p *Participant) sender() string {
	return string(protocol.RoleParticipant) + ":" + p.id
}

// Register announces this participant to the coordinator. contactEndpoint
// is the participant's own RPC endpoint, where invitations and choice
// calls arrive.
func (p *Participant) Register(ctx context.Context, contactEndpoint string) error {
	req := protocol.RegisterRequest{
		Envelope: protocol.NewEnvelope(protocol.KindRegisterRequest, p.sender()),
		ParticipantMeta: protocol.ParticipantMeta{
			DisplayName:     p.displayName,
			Version:         "1.0",
			ProtocolVersion: protocol.ProtocolTag,
			GameTypes:       []string{"even_odd"},
			ContactEndpoint: contactEndpoint,
		},
	}

	var resp protocol.RegisterResponse
	if err := p.caller.Call(ctx, p.coordinatorEndpoint, protocol.KindRegisterRequest.Method(), req, &resp); err != nil {
		return fmt.Errorf("register participant %s: %w", p.id, err)
	}
	if resp.Status != protocol.RegistrationAccepted {
		return fmt.Errorf("registration rejected: %s", resp.Reason)
	}
	if err := p.state.Register(resp.ParticipantID, resp.Token, resp.LeagueID); err != nil {
		return err
	}

	// The coordinator assigns a sequential id (P01, P02, ...) which
	// replaces the local one for all subsequent messages.
	p.mu.Lock()
	if resp.ParticipantID != "" && resp.ParticipantID != p.id {
		p.id = resp.ParticipantID
		p.logger = p.logger.With(zap.String("assigned_id", resp.ParticipantID))
	}
	p.mu.Unlock()

	p.logger.Info("registered with coordinator",
		zap.String("league_id", resp.LeagueID),
		zap.String("strategy", p.strategy.Name()),
	)
	return nil
}

// RegisterHandlers wires the participant's inbound message handlers
// into a transport server. Call before the server starts.
func (p *Participant) RegisterHandlers(s *transport.Server) {
	s.Handle(protocol.KindMatchInvitation, p.handleInvitation)
	s.Handle(protocol.KindChoiceCall, p.handleChoiceCall)
	s.Handle(protocol.KindMatchOver, p.handleMatchOver)
	s.Handle(protocol.KindRoundCompleted, p.handleRoundCompleted)
	s.Handle(protocol.KindStandingsUpdate, p.handleStandingsUpdate)
	s.Handle(protocol.KindLeagueCompleted, p.handleLeagueCompleted)
	s.Handle(protocol.KindLeagueError, p.handleLeagueError)
}

func (p *Participant) ack(env *protocol.Envelope, accept bool) protocol.JoinAck {
	return protocol.JoinAck{
		Envelope: protocol.NewEnvelope(protocol.KindMatchJoinAck, p.sender(),
			protocol.WithConversationID(env.ConversationID),
			protocol.WithAuthToken(p.state.AuthToken()),
			protocol.WithLeague(env.LeagueID),
			protocol.WithMatch(env.RoundID, env.MatchID),
		),
		Accept: accept,
	}
}

// handleInvitation accepts when the agent is free to play and records
// the match context. A busy or shut-down agent declines.
func (p *Participant) handleInvitation(_ context.Context, env *protocol.Envelope, params json.RawMessage) (any, error) {
	var inv protocol.Invitation
	if err := json.Unmarshal(params, &inv); err != nil {
		return nil, protocol.NewError(protocol.CodeMissingField, "malformed invitation").WithCause(err)
	}

	err := p.state.StartMatch(agent.MatchState{
		MatchID:        env.MatchID,
		LeagueID:       env.LeagueID,
		Round:          env.RoundID,
		OpponentID:     inv.OpponentID,
		Role:           inv.Role,
		ConversationID: env.ConversationID,
	})
	if err != nil {
		p.logger.Warn("invitation declined",
			zap.String("match_id", env.MatchID),
			zap.Error(err),
		)
		return p.ack(env, false), nil
	}

	p.mu.Lock()
	p.matchStart = time.Now()
	p.mu.Unlock()

	p.logger.Info("match joined",
		zap.String("match_id", env.MatchID),
		zap.String("opponent", inv.OpponentID),
		zap.String("role", string(inv.Role)),
	)
	return p.ack(env, true), nil
}

// handleChoiceCall asks the strategy for a parity choice.
func (p *Participant) handleChoiceCall(_ context.Context, env *protocol.Envelope, params json.RawMessage) (any, error) {
	var call protocol.ChoiceCall
	if err := json.Unmarshal(params, &call); err != nil {
		return nil, protocol.NewError(protocol.CodeMissingField, "malformed choice call").WithCause(err)
	}

	current, ok := p.state.CurrentMatch()
	if !ok || current.MatchID != env.MatchID {
		return nil, protocol.NewError(protocol.CodeMissingField,
			fmt.Sprintf("not playing match %q", env.MatchID))
	}

	choice := p.strategy.Choose(env.MatchID, current.OpponentID)
	p.state.RecordChoice(choice)

	p.logger.Info("choice made",
		zap.String("match_id", env.MatchID),
		zap.String("choice", string(choice)),
	)
	return protocol.ChoiceResponse{
		Envelope: protocol.NewEnvelope(protocol.KindChoiceResponse, p.sender(),
			protocol.WithConversationID(env.ConversationID),
			protocol.WithAuthToken(p.state.AuthToken()),
			protocol.WithLeague(env.LeagueID),
			protocol.WithMatch(env.RoundID, env.MatchID),
		),
		ParticipantID: p.id,
		Choice:        choice,
	}, nil
}

// handleMatchOver folds the settlement into the agent's stats and feeds
// the strategy.
func (p *Participant) handleMatchOver(_ context.Context, env *protocol.Envelope, params json.RawMessage) (any, error) {
	var over protocol.MatchOver
	if err := json.Unmarshal(params, &over); err != nil {
		return nil, protocol.NewError(protocol.CodeMissingField, "malformed match over").WithCause(err)
	}

	current, ok := p.state.CurrentMatch()
	if !ok || current.MatchID != env.MatchID {
		p.logger.Warn("settlement for unknown match ignored",
			zap.String("match_id", env.MatchID))
		return nil, nil
	}

	outcome := over.Result.Outcomes[p.id]
	p.strategy.Update(strategy.Result{
		MatchID:        env.MatchID,
		OpponentID:     current.OpponentID,
		OwnChoice:      over.Result.Choices[p.id],
		OpponentChoice: over.Result.Choices[current.OpponentID],
		Outcome:        outcome,
	})
	if err := p.state.EndMatch(outcome); err != nil {
		return nil, err
	}

	p.mu.Lock()
	started := p.matchStart
	p.mu.Unlock()
	p.metrics.RecordMatch(string(outcome), time.Since(started))

	p.logger.Info("match over",
		zap.String("match_id", env.MatchID),
		zap.String("outcome", string(outcome)),
		zap.Int("drawn_number", over.Result.DrawnNumber),
	)
	return nil, nil
}

func (p *Participant) handleRoundCompleted(_ context.Context, env *protocol.Envelope, params json.RawMessage) (any, error) {
	var completed protocol.RoundCompleted
	if err := json.Unmarshal(params, &completed); err != nil {
		return nil, protocol.NewError(protocol.CodeMissingField, "malformed round summary").WithCause(err)
	}
	p.logger.Info("round completed",
		zap.Int("round", env.RoundID),
		zap.Int("matches", completed.Summary.TotalMatches),
		zap.Int("failed", completed.Summary.FailedMatches),
	)
	return nil, nil
}

func (p *Participant) handleStandingsUpdate(_ context.Context, _ *protocol.Envelope, params json.RawMessage) (any, error) {
	var update protocol.StandingsUpdate
	if err := json.Unmarshal(params, &update); err != nil {
		return nil, protocol.NewError(protocol.CodeMissingField, "malformed standings update").WithCause(err)
	}
	p.mu.Lock()
	p.standings = update.Standings
	p.mu.Unlock()
	return nil, nil
}

func (p *Participant) handleLeagueCompleted(_ context.Context, _ *protocol.Envelope, params json.RawMessage) (any, error) {
	var completed protocol.LeagueCompleted
	if err := json.Unmarshal(params, &completed); err != nil {
		return nil, protocol.NewError(protocol.CodeMissingField, "malformed completion notice").WithCause(err)
	}
	p.mu.Lock()
	p.standings = completed.FinalStandings
	p.completed = true
	p.mu.Unlock()

	stats := p.state.Stats()
	p.logger.Info("league completed",
		zap.Int("wins", stats.Wins),
		zap.Int("draws", stats.Draws),
		zap.Int("losses", stats.Losses),
	)
	return nil, p.state.Shutdown()
}

func (p *Participant) handleLeagueError(_ context.Context, env *protocol.Envelope, params json.RawMessage) (any, error) {
	var notice protocol.LeagueErrorMessage
	if err := json.Unmarshal(params, &notice); err != nil {
		return nil, protocol.NewError(protocol.CodeMissingField, "malformed error notice").WithCause(err)
	}
	p.logger.Warn("league error received",
		zap.String("sender", env.Sender),
		zap.String("code", string(notice.ErrorCode)),
		zap.String("description", notice.ErrorDescription),
		zap.Bool("retryable", notice.Retryable),
	)
	return nil, nil
}
