package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ProtocolTag is the only protocol identifier accepted by this layer.
const ProtocolTag = "league.v2"

// CoordinatorSender is the reserved sender identity of the coordinator;
// it is the single exception to the role:id sender format.
const CoordinatorSender = "coordinator"

// Role is an agent role in the closed sender-role set.
type Role string

const (
	RoleParticipant Role = "participant"
	RoleOfficial    Role = "official"
)

// IsValid reports whether the role is in the closed set.
func (r Role) IsValid() bool {
	return r == RoleParticipant || r == RoleOfficial
}

// Identity is a typed sender identity (role plus assigned id).
type Identity struct {
	Role Role
	ID   string
}

// String returns the role:id wire form.
func (i Identity) String() string {
	return string(i.Role) + ":" + i.ID
}

// ParseIdentity parses a role:id sender string. The reserved coordinator
// identity is not an Identity; callers check for it separately.
func ParseIdentity(s string) (Identity, error) {
	role, id, ok := strings.Cut(s, ":")
	if !ok {
		return Identity{}, NewError(CodeMissingField, fmt.Sprintf("sender must be role:id, got %q", s))
	}
	r := Role(role)
	if !r.IsValid() {
		return Identity{}, NewError(CodeMissingField, fmt.Sprintf("unknown sender role %q", role))
	}
	if id == "" {
		return Identity{}, NewError(CodeMissingField, "sender id is empty")
	}
	return Identity{Role: r, ID: id}, nil
}

// Envelope is the common header carried by every league.v2 message.
type Envelope struct {
	Protocol       string `json:"protocol"`
	Kind           Kind   `json:"message_type"`
	Sender         string `json:"sender"`
	Timestamp      string `json:"timestamp"`
	ConversationID string `json:"conversation_id"`
	AuthToken      string `json:"auth_token,omitempty"`
	LeagueID       string `json:"league_id,omitempty"`
	RoundID        int    `json:"round_id,omitempty"`
	MatchID        string `json:"match_id,omitempty"`
}

// EnvelopeOption customizes an envelope built by NewEnvelope.
type EnvelopeOption func(*Envelope)

// WithConversationID sets an explicit conversation id instead of a
// generated one.
func WithConversationID(id string) EnvelopeOption {
	return func(e *Envelope) { e.ConversationID = id }
}

// WithAuthToken attaches an auth token.
func WithAuthToken(token string) EnvelopeOption {
	return func(e *Envelope) { e.AuthToken = token }
}

// WithLeague attaches the league context.
func WithLeague(leagueID string) EnvelopeOption {
	return func(e *Envelope) { e.LeagueID = leagueID }
}

// WithMatch attaches the round and match context.
func WithMatch(roundID int, matchID string) EnvelopeOption {
	return func(e *Envelope) {
		e.RoundID = roundID
		e.MatchID = matchID
	}
}

// NewEnvelope builds an envelope stamped with the current UTC time,
// generating a conversation id when none is supplied.
func NewEnvelope(kind Kind, sender string, opts ...EnvelopeOption) Envelope {
	e := Envelope{
		Protocol:  ProtocolTag,
		Kind:      kind,
		Sender:    sender,
		Timestamp: UTCNow(),
	}
	for _, opt := range opts {
		opt(&e)
	}
	if e.ConversationID == "" {
		e.ConversationID = NewConversationID()
	}
	return e
}

// UTCNow returns the current time in the wire timestamp format.
func UTCNow() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05Z")
}

// NewConversationID generates an opaque correlation key.
func NewConversationID() string {
	id := uuid.New()
	return fmt.Sprintf("conv-%x", id[:6])
}

// ParseEnvelope decodes and validates an envelope from raw JSON.
func ParseEnvelope(data []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, NewError(CodeMissingField, "malformed envelope").WithCause(err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return &e, nil
}

// Validate checks the envelope against the league.v2 header contract:
// protocol tag, required fields, UTC timestamp, and sender format.
func (e *Envelope) Validate() error {
	if e.Protocol != ProtocolTag {
		return NewError(CodeProtocolMismatch, fmt.Sprintf("unsupported protocol %q", e.Protocol))
	}
	if e.Kind == "" {
		return NewError(CodeMissingField, "message_type is required")
	}
	if e.Sender == "" {
		return NewError(CodeMissingField, "sender is required")
	}
	if e.ConversationID == "" {
		return NewError(CodeMissingField, "conversation_id is required")
	}
	if err := validateTimestamp(e.Timestamp); err != nil {
		return err
	}
	if e.Sender != CoordinatorSender {
		if _, err := ParseIdentity(e.Sender); err != nil {
			return err
		}
	}
	return nil
}

// validateTimestamp enforces the UTC suffix rule (Z or +00:00) and an
// ISO-8601 parse.
func validateTimestamp(ts string) error {
	if ts == "" {
		return NewError(CodeMissingField, "timestamp is required")
	}
	if !strings.HasSuffix(ts, "Z") && !strings.HasSuffix(ts, "+00:00") {
		return NewError(CodeInvalidTimestamp, fmt.Sprintf("timestamp must be UTC (Z or +00:00), got %q", ts))
	}
	if _, err := time.Parse(time.RFC3339, ts); err != nil {
		return NewError(CodeInvalidTimestamp, fmt.Sprintf("invalid ISO-8601 timestamp %q", ts)).WithCause(err)
	}
	return nil
}
