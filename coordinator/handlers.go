package coordinator

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/leagueflow/agent"
	"github.com/BaSui01/leagueflow/protocol"
	"github.com/BaSui01/leagueflow/schedule"
	"github.com/BaSui01/leagueflow/transport"
)

// RegisterHandlers wires the coordinator's inbound message handlers
// into a transport server.
func (c *Coordinator) RegisterHandlers(s *transport.Server) {
	s.Handle(protocol.KindRegisterRequest, c.handleRegister)
	s.Handle(protocol.KindOfficialRegisterRequest, c.handleOfficialRegister)
	s.Handle(protocol.KindMatchResultReport, c.handleResultReport)
	s.Handle(protocol.KindLeagueQuery, c.handleQuery)
}

func (c *Coordinator) handleRegister(_ context.Context, env *protocol.Envelope, params json.RawMessage) (any, error) {
	var req protocol.RegisterRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, protocol.NewError(protocol.CodeMissingField, "malformed registration").WithCause(err)
	}
	identity, err := protocol.ParseIdentity(env.Sender)
	if err != nil {
		return nil, err
	}
	if identity.Role != protocol.RoleParticipant {
		return nil, protocol.NewError(protocol.CodeMissingField,
			fmt.Sprintf("registration requires a participant sender, got %q", env.Sender))
	}
	if req.ParticipantMeta.ContactEndpoint == "" {
		return nil, protocol.NewError(protocol.CodeMissingField, "participant_meta.contact_endpoint is required")
	}

	c.mu.Lock()
	if c.phase != PhaseRegistration {
		c.mu.Unlock()
		return c.rejection(env, "registration is closed"), nil
	}
	if _, exists := c.registrants[identity.ID]; exists {
		c.mu.Unlock()
		return c.rejection(env, fmt.Sprintf("%s is already registered", identity.ID)), nil
	}
	if len(c.participants) >= c.config.MaxParticipants {
		c.mu.Unlock()
		return c.rejection(env, "league is full"), nil
	}
	assigned := fmt.Sprintf("P%02d", len(c.order)+1)
	name := agent.SanitizeDisplayName(req.ParticipantMeta.DisplayName)
	if name == "" {
		name = assigned
	}
	c.participants[assigned] = &participant{
		ID:          assigned,
		DisplayName: name,
		Endpoint:    req.ParticipantMeta.ContactEndpoint,
	}
	c.order = append(c.order, assigned)
	c.registrants[identity.ID] = assigned
	full := len(c.participants) >= c.config.MaxParticipants
	c.mu.Unlock()

	c.table.Register(assigned)
	if full {
		select {
		case <-c.registrationFull:
		default:
			close(c.registrationFull)
		}
	}

	token, err := c.authority.Mint(assigned, protocol.RoleParticipant)
	if err != nil {
		return nil, fmt.Errorf("mint token for %s: %w", assigned, err)
	}

	c.logger.Info("participant registered",
		zap.String("participant", assigned),
		zap.String("sender", identity.ID),
		zap.String("endpoint", req.ParticipantMeta.ContactEndpoint),
	)
	return protocol.RegisterResponse{
		Envelope:      c.responseEnvelope(protocol.KindRegisterResponse, env),
		Status:        protocol.RegistrationAccepted,
		ParticipantID: assigned,
		Token:         token,
	}, nil
}

func (c *Coordinator) handleOfficialRegister(_ context.Context, env *protocol.Envelope, params json.RawMessage) (any, error) {
	var req protocol.OfficialRegisterRequest
	if err := json.Unmarshal(params, &req); err != nil {
		return nil, protocol.NewError(protocol.CodeMissingField, "malformed registration").WithCause(err)
	}
	identity, err := protocol.ParseIdentity(env.Sender)
	if err != nil {
		return nil, err
	}
	if identity.Role != protocol.RoleOfficial {
		return nil, protocol.NewError(protocol.CodeMissingField,
			fmt.Sprintf("official registration requires an official sender, got %q", env.Sender))
	}
	if req.OfficialMeta.ContactEndpoint == "" {
		return nil, protocol.NewError(protocol.CodeMissingField, "official_meta.contact_endpoint is required")
	}

	c.mu.Lock()
	if c.phase != PhaseRegistration {
		c.mu.Unlock()
		return protocol.OfficialRegisterResponse{
			Envelope: c.responseEnvelope(protocol.KindOfficialRegisterResponse, env),
			Status:   protocol.RegistrationRejected,
			Reason:   "registration is closed",
		}, nil
	}
	if _, exists := c.registrants[identity.ID]; exists {
		c.mu.Unlock()
		return protocol.OfficialRegisterResponse{
			Envelope: c.responseEnvelope(protocol.KindOfficialRegisterResponse, env),
			Status:   protocol.RegistrationRejected,
			Reason:   fmt.Sprintf("%s is already registered", identity.ID),
		}, nil
	}
	assigned := fmt.Sprintf("REF%02d", len(c.officials)+1)
	c.officials = append(c.officials, official{ID: assigned, Endpoint: req.OfficialMeta.ContactEndpoint})
	c.registrants[identity.ID] = assigned
	c.mu.Unlock()

	token, err := c.authority.Mint(assigned, protocol.RoleOfficial)
	if err != nil {
		return nil, fmt.Errorf("mint token for %s: %w", assigned, err)
	}

	c.logger.Info("official registered",
		zap.String("official", assigned),
		zap.String("sender", identity.ID),
		zap.String("endpoint", req.OfficialMeta.ContactEndpoint),
	)
	return protocol.OfficialRegisterResponse{
		Envelope:   c.responseEnvelope(protocol.KindOfficialRegisterResponse, env),
		Status:     protocol.RegistrationAccepted,
		OfficialID: assigned,
		Token:      token,
	}, nil
}

func (c *Coordinator) handleResultReport(ctx context.Context, env *protocol.Envelope, params json.RawMessage) (any, error) {
	var report protocol.ResultReport
	if err := json.Unmarshal(params, &report); err != nil {
		return nil, protocol.NewError(protocol.CodeMissingField, "malformed result report").WithCause(err)
	}
	identity, err := protocol.ParseIdentity(env.Sender)
	if err != nil {
		return nil, err
	}
	if identity.Role != protocol.RoleOfficial {
		return nil, protocol.NewError(protocol.CodeOfficialNotRegistered,
			fmt.Sprintf("result reports must come from officials, got %q", env.Sender))
	}
	if report.MatchID == "" {
		return nil, protocol.NewError(protocol.CodeMissingField, "match_id is required")
	}

	// A lost RPC response makes the official's resilient caller retry
	// the report; only the first delivery may touch the table.
	c.mu.Lock()
	if c.reported[report.MatchID] {
		c.mu.Unlock()
		c.logger.Info("duplicate result report acknowledged",
			zap.String("match_id", report.MatchID))
		return struct{}{}, nil
	}
	c.reported[report.MatchID] = true
	c.mu.Unlock()

	c.table.ApplyResult(map[string]protocol.Outcome{
		report.SideAID: report.SideAResult,
		report.SideBID: report.SideBResult,
	})
	if c.store != nil {
		if err := c.store.SaveResult(ctx, report); err != nil {
			c.logger.Warn("result persistence failed",
				zap.String("match_id", report.MatchID),
				zap.Error(err),
			)
		}
	}

	select {
	case c.results <- report:
	default:
		c.logger.Warn("result channel full, report dropped from round tracking",
			zap.String("match_id", report.MatchID))
	}

	c.logger.Info("result recorded",
		zap.String("match_id", report.MatchID),
		zap.String("winner", report.WinnerID),
		zap.String("failure", report.Failure),
	)
	return struct{}{}, nil
}

func (c *Coordinator) handleQuery(_ context.Context, env *protocol.Envelope, params json.RawMessage) (any, error) {
	var query protocol.LeagueQuery
	if err := json.Unmarshal(params, &query); err != nil {
		return nil, protocol.NewError(protocol.CodeMissingField, "malformed query").WithCause(err)
	}

	resp := protocol.LeagueQueryResponse{
		Envelope:  c.responseEnvelope(protocol.KindLeagueQueryResponse, env),
		QueryType: query.QueryType,
	}
	switch query.QueryType {
	case "standings":
		resp.Result = map[string]any{"standings": c.Standings()}
	case "schedule":
		c.mu.Lock()
		var plans []schedule.RoundPlan
		if c.schedule != nil {
			plans = c.schedule.Summary()
		}
		c.mu.Unlock()
		resp.Result = map[string]any{"rounds": plans}
	case "stats":
		resp.Result = map[string]any{"stats": c.table.Stats()}
	case "next_match":
		identity, err := protocol.ParseIdentity(env.Sender)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		var result map[string]any
		if c.schedule != nil {
			if pairing, ok := c.schedule.NextMatchFor(identity.ID); ok {
				result = map[string]any{"match": pairing}
			}
		}
		c.mu.Unlock()
		if result == nil {
			result = map[string]any{"match": nil}
		}
		resp.Result = result
	case "status":
		c.mu.Lock()
		resp.Result = map[string]any{
			"phase":        string(c.phase),
			"participants": len(c.participants),
			"officials":    len(c.officials),
		}
		c.mu.Unlock()
	default:
		return nil, protocol.NewError(protocol.CodeMissingField,
			fmt.Sprintf("unknown query_type %q", query.QueryType))
	}
	return resp, nil
}

func (c *Coordinator) rejection(env *protocol.Envelope, reason string) protocol.RegisterResponse {
	return protocol.RegisterResponse{
		Envelope: c.responseEnvelope(protocol.KindRegisterResponse, env),
		Status:   protocol.RegistrationRejected,
		Reason:   reason,
	}
}

func (c *Coordinator) responseEnvelope(kind protocol.Kind, inbound *protocol.Envelope) protocol.Envelope {
	return protocol.NewEnvelope(kind, protocol.CoordinatorSender,
		protocol.WithConversationID(inbound.ConversationID),
		protocol.WithLeague(c.config.LeagueID),
	)
}
