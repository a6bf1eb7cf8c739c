package protocol

// Choice is a side's pick in the two-element parity choice set.
type Choice string

const (
	ChoiceEven Choice = "even"
	ChoiceOdd  Choice = "odd"
)

// IsValid reports whether the choice is "even" or "odd".
func (c Choice) IsValid() bool {
	return c == ChoiceEven || c == ChoiceOdd
}

// Opposite returns the other member of the choice set.
func (c Choice) Opposite() Choice {
	if c == ChoiceEven {
		return ChoiceOdd
	}
	return ChoiceEven
}

// Outcome is a per-side match result.
type Outcome string

const (
	OutcomeWin           Outcome = "WIN"
	OutcomeLoss          Outcome = "LOSS"
	OutcomeDraw          Outcome = "DRAW"
	OutcomeTechnicalLoss Outcome = "TECHNICAL_LOSS"
)

// SideRole labels the two sides of a match.
type SideRole string

const (
	SideA SideRole = "SIDE_A"
	SideB SideRole = "SIDE_B"
)

// RegistrationStatus is the coordinator's verdict on a registration.
type RegistrationStatus string

const (
	RegistrationAccepted RegistrationStatus = "ACCEPTED"
	RegistrationRejected RegistrationStatus = "REJECTED"
)

// ParticipantMeta describes a registering participant agent.
type ParticipantMeta struct {
	DisplayName     string   `json:"display_name"`
	Version         string   `json:"version"`
	ProtocolVersion string   `json:"protocol_version"`
	GameTypes       []string `json:"game_types"`
	ContactEndpoint string   `json:"contact_endpoint"`
}

// OfficialMeta describes a registering official agent.
type OfficialMeta struct {
	Version         string `json:"version"`
	ProtocolVersion string `json:"protocol_version"`
	ContactEndpoint string `json:"contact_endpoint"`
}

// RegisterRequest is LEAGUE_REGISTER_REQUEST.
type RegisterRequest struct {
	Envelope
	ParticipantMeta ParticipantMeta `json:"participant_meta"`
}

// RegisterResponse is LEAGUE_REGISTER_RESPONSE.
type RegisterResponse struct {
	Envelope
	Status        RegistrationStatus `json:"status"`
	ParticipantID string             `json:"participant_id,omitempty"`
	Token         string             `json:"token,omitempty"`
	Reason        string             `json:"reason,omitempty"`
}

// OfficialRegisterRequest is OFFICIAL_REGISTER_REQUEST.
type OfficialRegisterRequest struct {
	Envelope
	OfficialMeta OfficialMeta `json:"official_meta"`
}

// OfficialRegisterResponse is OFFICIAL_REGISTER_RESPONSE.
type OfficialRegisterResponse struct {
	Envelope
	Status     RegistrationStatus `json:"status"`
	OfficialID string             `json:"official_id,omitempty"`
	Token      string             `json:"token,omitempty"`
	Reason     string             `json:"reason,omitempty"`
}

// MatchAnnouncement is a single match inside a round announcement. It
// carries both sides' contact endpoints so the assigned official can
// reach them directly.
type MatchAnnouncement struct {
	MatchID       string `json:"match_id"`
	GameType      string `json:"game_type"`
	SideAID       string `json:"side_a_id"`
	SideAEndpoint string `json:"side_a_endpoint"`
	SideBID       string `json:"side_b_id"`
	SideBEndpoint string `json:"side_b_endpoint"`
	OfficialID    string `json:"official_id"`
}

// RoundAnnouncement is ROUND_ANNOUNCEMENT.
type RoundAnnouncement struct {
	Envelope
	Matches []MatchAnnouncement `json:"matches"`
}

// Invitation is MATCH_INVITATION, sent by an official to both sides. The
// reply endpoint is where asynchronous acks and choice responses go.
type Invitation struct {
	Envelope
	GameType      string   `json:"game_type"`
	Role          SideRole `json:"role_in_match"`
	OpponentID    string   `json:"opponent_id"`
	ReplyEndpoint string   `json:"reply_endpoint"`
	Deadline      string   `json:"response_deadline"`
}

// JoinAck is MATCH_JOIN_ACK.
type JoinAck struct {
	Envelope
	Accept bool `json:"accept"`
}

// ChoiceContext gives a side the information available when choosing.
type ChoiceContext struct {
	ValidOptions []string `json:"valid_options"`
	OpponentID   string   `json:"opponent_id"`
}

// ChoiceCall is CHOICE_CALL.
type ChoiceCall struct {
	Envelope
	ParticipantID string        `json:"participant_id"`
	Context       ChoiceContext `json:"choice_context"`
	ReplyEndpoint string        `json:"reply_endpoint"`
	Deadline      string        `json:"deadline"`
}

// ChoiceResponse is CHOICE_RESPONSE.
type ChoiceResponse struct {
	Envelope
	ParticipantID string `json:"participant_id"`
	Choice        Choice `json:"choice"`
}

// MatchResult is the settled result carried by MATCH_OVER.
type MatchResult struct {
	WinnerID    string             `json:"winner_id,omitempty"`
	DrawnNumber int                `json:"drawn_number"`
	Choices     map[string]Choice  `json:"choices"`
	Outcomes    map[string]Outcome `json:"outcomes"`
}

// MatchOver is MATCH_OVER, the settlement notice sent to both sides.
type MatchOver struct {
	Envelope
	Result MatchResult `json:"match_result"`
}

// ResultReport is MATCH_RESULT_REPORT, sent by the official to the
// coordinator after settlement.
type ResultReport struct {
	Envelope
	SideAID     string  `json:"side_a_id"`
	SideBID     string  `json:"side_b_id"`
	SideAChoice Choice  `json:"side_a_choice,omitempty"`
	SideBChoice Choice  `json:"side_b_choice,omitempty"`
	DrawnNumber int     `json:"drawn_number,omitempty"`
	WinnerID    string  `json:"winner_id,omitempty"`
	SideAResult Outcome `json:"side_a_result"`
	SideBResult Outcome `json:"side_b_result"`
	Failure     string  `json:"failure,omitempty"`
}

// StandingEntry is one row of a ranked leaderboard.
type StandingEntry struct {
	Rank          int    `json:"rank"`
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name,omitempty"`
	Points        int    `json:"points"`
	Wins          int    `json:"wins"`
	Draws         int    `json:"draws"`
	Losses        int    `json:"losses"`
	Played        int    `json:"played"`
}

// StandingsUpdate is STANDINGS_UPDATE.
type StandingsUpdate struct {
	Envelope
	Standings []StandingEntry `json:"standings"`
}

// LeagueQuery is LEAGUE_QUERY.
type LeagueQuery struct {
	Envelope
	QueryType string `json:"query_type"`
}

// LeagueQueryResponse is LEAGUE_QUERY_RESPONSE.
type LeagueQueryResponse struct {
	Envelope
	QueryType string         `json:"query_type"`
	Result    map[string]any `json:"result"`
}

// RoundSummary summarizes a completed round.
type RoundSummary struct {
	TotalMatches     int `json:"total_matches"`
	CompletedMatches int `json:"completed_matches"`
	FailedMatches    int `json:"failed_matches"`
}

// RoundCompleted is ROUND_COMPLETED.
type RoundCompleted struct {
	Envelope
	Summary RoundSummary `json:"summary"`
}

// LeagueSummary summarizes the whole tournament at completion.
type LeagueSummary struct {
	TotalRounds    int `json:"total_rounds"`
	TotalMatches   int `json:"total_matches"`
	TotalCompleted int `json:"total_completed"`
}

// LeagueCompleted is LEAGUE_COMPLETED.
type LeagueCompleted struct {
	Envelope
	FinalStandings []StandingEntry `json:"final_standings"`
	Summary        LeagueSummary   `json:"summary"`
}

// LeagueErrorMessage is LEAGUE_ERROR, a league-level error notice.
type LeagueErrorMessage struct {
	Envelope
	ErrorCode        ErrorCode      `json:"error_code"`
	ErrorName        string         `json:"error_name"`
	ErrorDescription string         `json:"error_description"`
	Retryable        bool           `json:"retryable"`
	Context          map[string]any `json:"context,omitempty"`
}

// MatchErrorMessage is MATCH_ERROR, a match-level error notice.
type MatchErrorMessage struct {
	Envelope
	ParticipantID    string    `json:"participant_id"`
	ErrorCode        ErrorCode `json:"error_code"`
	ErrorName        string    `json:"error_name"`
	ErrorDescription string    `json:"error_description"`
	Retryable        bool      `json:"retryable"`
}

// NewLeagueError builds a LEAGUE_ERROR message from a protocol error code.
func NewLeagueError(sender string, code ErrorCode, description string) LeagueErrorMessage {
	return LeagueErrorMessage{
		Envelope:         NewEnvelope(KindLeagueError, sender),
		ErrorCode:        code,
		ErrorName:        code.Name(),
		ErrorDescription: description,
		Retryable:        code.Retryable(),
	}
}
