package protocol

import "strings"

// Kind identifies a league.v2 message. The set is closed; kinds are not
// extensible at runtime.
type Kind string

const (
	KindRegisterRequest          Kind = "LEAGUE_REGISTER_REQUEST"
	KindRegisterResponse         Kind = "LEAGUE_REGISTER_RESPONSE"
	KindOfficialRegisterRequest  Kind = "OFFICIAL_REGISTER_REQUEST"
	KindOfficialRegisterResponse Kind = "OFFICIAL_REGISTER_RESPONSE"
	KindRoundAnnouncement        Kind = "ROUND_ANNOUNCEMENT"
	KindRoundCompleted           Kind = "ROUND_COMPLETED"
	KindMatchInvitation          Kind = "MATCH_INVITATION"
	KindMatchJoinAck             Kind = "MATCH_JOIN_ACK"
	KindChoiceCall               Kind = "CHOICE_CALL"
	KindChoiceResponse           Kind = "CHOICE_RESPONSE"
	KindMatchOver                Kind = "MATCH_OVER"
	KindMatchResultReport        Kind = "MATCH_RESULT_REPORT"
	KindStandingsUpdate          Kind = "STANDINGS_UPDATE"
	KindLeagueQuery              Kind = "LEAGUE_QUERY"
	KindLeagueQueryResponse      Kind = "LEAGUE_QUERY_RESPONSE"
	KindLeagueCompleted          Kind = "LEAGUE_COMPLETED"
	KindLeagueError              Kind = "LEAGUE_ERROR"
	KindMatchError               Kind = "MATCH_ERROR"
)

var allKinds = []Kind{
	KindRegisterRequest, KindRegisterResponse,
	KindOfficialRegisterRequest, KindOfficialRegisterResponse,
	KindRoundAnnouncement, KindRoundCompleted,
	KindMatchInvitation, KindMatchJoinAck,
	KindChoiceCall, KindChoiceResponse,
	KindMatchOver, KindMatchResultReport,
	KindStandingsUpdate,
	KindLeagueQuery, KindLeagueQueryResponse,
	KindLeagueCompleted,
	KindLeagueError, KindMatchError,
}

var kindByMethod = func() map[string]Kind {
	m := make(map[string]Kind, len(allKinds))
	for _, k := range allKinds {
		m[k.Method()] = k
	}
	return m
}()

// IsValid reports whether k belongs to the closed message set.
func (k Kind) IsValid() bool {
	_, ok := kindByMethod[k.Method()]
	return ok && k != ""
}

// String returns the wire form of the kind.
func (k Kind) String() string {
	return string(k)
}

// Method returns the JSON-RPC method name for the kind (lowercased).
func (k Kind) Method() string {
	return strings.ToLower(string(k))
}

// KindFromMethod resolves a JSON-RPC method name back to a message kind.
func KindFromMethod(method string) (Kind, bool) {
	k, ok := kindByMethod[strings.ToLower(method)]
	return k, ok
}
