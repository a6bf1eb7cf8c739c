package protocol

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEnvelope(t *testing.T) {
	env := NewEnvelope(KindMatchInvitation, "official:REF01")

	assert.Equal(t, ProtocolTag, env.Protocol)
	assert.Equal(t, KindMatchInvitation, env.Kind)
	assert.Equal(t, "official:REF01", env.Sender)
	assert.NotEmpty(t, env.ConversationID)
	assert.True(t, strings.HasPrefix(env.ConversationID, "conv-"))
	assert.True(t, strings.HasSuffix(env.Timestamp, "Z"))

	_, err := time.Parse(time.RFC3339, env.Timestamp)
	require.NoError(t, err)

	require.NoError(t, env.Validate())
}

func TestNewEnvelope_Options(t *testing.T) {
	env := NewEnvelope(KindChoiceCall, "official:REF02",
		WithConversationID("conv-fixed"),
		WithAuthToken("tok"),
		WithLeague("L1"),
		WithMatch(3, "R3M1"),
	)

	assert.Equal(t, "conv-fixed", env.ConversationID)
	assert.Equal(t, "tok", env.AuthToken)
	assert.Equal(t, "L1", env.LeagueID)
	assert.Equal(t, 3, env.RoundID)
	assert.Equal(t, "R3M1", env.MatchID)
}

func TestEnvelope_Validate(t *testing.T) {
	valid := func() Envelope {
		return Envelope{
			Protocol:       ProtocolTag,
			Kind:           KindMatchJoinAck,
			Sender:         "participant:P01",
			Timestamp:      "2025-01-15T10:30:00Z",
			ConversationID: "conv-abc123",
		}
	}

	tests := []struct {
		name     string
		mutate   func(*Envelope)
		wantCode ErrorCode
	}{
		{"valid Z suffix", func(e *Envelope) {}, ""},
		{"valid +00:00 suffix", func(e *Envelope) { e.Timestamp = "2025-01-15T10:30:00+00:00" }, ""},
		{"coordinator sender", func(e *Envelope) { e.Sender = CoordinatorSender }, ""},
		{"wrong protocol", func(e *Envelope) { e.Protocol = "league.v1" }, CodeProtocolMismatch},
		{"missing kind", func(e *Envelope) { e.Kind = "" }, CodeMissingField},
		{"missing sender", func(e *Envelope) { e.Sender = "" }, CodeMissingField},
		{"missing conversation id", func(e *Envelope) { e.ConversationID = "" }, CodeMissingField},
		{"missing timestamp", func(e *Envelope) { e.Timestamp = "" }, CodeMissingField},
		{"non-UTC offset", func(e *Envelope) { e.Timestamp = "2025-01-15T10:30:00+02:00" }, CodeInvalidTimestamp},
		{"no timezone", func(e *Envelope) { e.Timestamp = "2025-01-15T10:30:00" }, CodeInvalidTimestamp},
		{"unparseable timestamp", func(e *Envelope) { e.Timestamp = "2025-13-45T99:99:99Z" }, CodeInvalidTimestamp},
		{"sender without colon", func(e *Envelope) { e.Sender = "P01" }, CodeMissingField},
		{"sender with unknown role", func(e *Envelope) { e.Sender = "spectator:S01" }, CodeMissingField},
		{"sender with empty id", func(e *Envelope) { e.Sender = "participant:" }, CodeMissingField},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := valid()
			tt.mutate(&env)
			err := env.Validate()
			if tt.wantCode == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, CodeOf(err))
		})
	}
}

func TestParseEnvelope(t *testing.T) {
	env := NewEnvelope(KindLeagueQuery, "participant:P02", WithAuthToken("tok"))
	raw, err := json.Marshal(env)
	require.NoError(t, err)

	parsed, err := ParseEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, env, *parsed)
}

func TestParseEnvelope_Malformed(t *testing.T) {
	_, err := ParseEnvelope([]byte("{not json"))
	require.Error(t, err)
	assert.Equal(t, CodeMissingField, CodeOf(err))
}

func TestParseIdentity(t *testing.T) {
	id, err := ParseIdentity("participant:P01")
	require.NoError(t, err)
	assert.Equal(t, Identity{Role: RoleParticipant, ID: "P01"}, id)
	assert.Equal(t, "participant:P01", id.String())

	_, err = ParseIdentity("coordinator")
	assert.Error(t, err)
}

func TestNewConversationID_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		id := NewConversationID()
		assert.False(t, seen[id], "duplicate conversation id %s", id)
		seen[id] = true
	}
}
