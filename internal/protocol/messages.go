package protocol

import (
	"time"

	"github.com/playperu/league/internal/league"
)

// Message types.
const (
	TypeRefereeRegisterRequest  = "REFEREE_REGISTER_REQUEST"
	TypeRefereeRegisterResponse = "REFEREE_REGISTER_RESPONSE"
	TypeLeagueRegisterRequest   = "LEAGUE_REGISTER_REQUEST"
	TypeLeagueRegisterResponse  = "LEAGUE_REGISTER_RESPONSE"
	TypeStartMatch              = "START_MATCH"
	TypeStartMatchAck           = "START_MATCH_ACK"
	TypeGameInvitation          = "GAME_INVITATION"
	TypeGameJoinAck             = "GAME_JOIN_ACK"
	TypeChooseParityCall        = "CHOOSE_PARITY_CALL"
	TypeChooseParityResponse    = "CHOOSE_PARITY_RESPONSE"
	TypeGameOver                = "GAME_OVER"
	TypeMatchResultReport       = "MATCH_RESULT_REPORT"
	TypeMatchResultAck          = "MATCH_RESULT_ACK"
	TypeRoundAnnouncement       = "ROUND_ANNOUNCEMENT"
	TypeLeagueStandingsUpdate   = "LEAGUE_STANDINGS_UPDATE"
	TypeLeagueCompleted         = "LEAGUE_COMPLETED"
	TypeLeagueQuery             = "LEAGUE_QUERY"
	TypeLeagueQueryResponse     = "LEAGUE_QUERY_RESPONSE"
	TypeNotificationAck         = "NOTIFICATION_ACK"
)

// JSON-RPC method names.
const (
	MethodRegisterReferee   = "register_referee"
	MethodRegisterPlayer    = "register_player"
	MethodReportMatchResult = "report_match_result"
	MethodLeagueQuery       = "league_query"
	MethodStartMatch        = "start_match"
	MethodGameInvitation    = "game_invitation"
	MethodChooseParity      = "choose_parity"
	MethodNotifyGameOver    = "notify_game_over"
	MethodNotify            = "notify"
)

// Registration statuses.
const (
	StatusAccepted = "ACCEPTED"
	StatusRejected = "REJECTED"
)

// League query types.
const (
	QueryStandings = "GET_STANDINGS"
	QuerySchedule  = "GET_SCHEDULE"
	QueryPlayers   = "GET_PLAYERS"
)

type AgentMeta struct {
	DisplayName     string   `json:"display_name"`
	Version         string   `json:"version"`
	GameTypes       []string `json:"game_types,omitempty"`
	ContactEndpoint string   `json:"contact_endpoint"`
}

// RegisterRequest is sent by referees and players to the league manager.
type RegisterRequest struct {
	Envelope
	Meta AgentMeta `json:"meta"`
}

// RegisterResponse carries the assigned id; the issued token travels in the envelope.
type RegisterResponse struct {
	Envelope
	Status        string `json:"status"`
	ParticipantID string `json:"participant_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

type Endpoint struct {
	ID      string `json:"id"`
	Address string `json:"address"`
}

// StartMatch asks a referee to run one pairing.
type StartMatch struct {
	Envelope
	GameType string         `json:"game_type"`
	Pairing  league.Pairing `json:"pairing"`
	PlayerA  Endpoint       `json:"player_a"`
	PlayerB  Endpoint       `json:"player_b"`
	ReportTo string         `json:"report_to,omitempty"`
}

type StartMatchAck struct {
	Envelope
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

type GameInvitation struct {
	Envelope
	GameType    string `json:"game_type"`
	RoleInMatch string `json:"role_in_match"`
	OpponentID  string `json:"opponent_id"`
}

type GameJoinAck struct {
	Envelope
	PlayerID         string    `json:"player_id"`
	ArrivalTimestamp time.Time `json:"arrival_timestamp"`
	Accept           bool      `json:"accept"`
}

type ChoiceContext struct {
	OpponentID string `json:"opponent_id"`
	RoundID    int    `json:"round_id"`
}

type ChooseParityCall struct {
	Envelope
	PlayerID string        `json:"player_id"`
	GameType string        `json:"game_type"`
	Context  ChoiceContext `json:"context"`
	Deadline time.Time     `json:"deadline"`
}

type ChooseParityResponse struct {
	Envelope
	PlayerID     string `json:"player_id"`
	ParityChoice string `json:"parity_choice"`
}

type GameResult struct {
	Status       league.OutcomeStatus `json:"status"`
	Winner       string               `json:"winner_player_id,omitempty"`
	DrawnNumber  int                  `json:"drawn_number,omitempty"`
	NumberParity string               `json:"number_parity,omitempty"`
	Choices      map[string]string    `json:"choices,omitempty"`
	Reason       string               `json:"reason"`
}

type GameOver struct {
	Envelope
	Result GameResult `json:"game_result"`
}

type MatchResultReport struct {
	Envelope
	Result league.Outcome `json:"result"`
}

type MatchResultAck struct {
	Envelope
	Recorded bool `json:"recorded"`
}

type RoundAnnouncement struct {
	Envelope
	Matches []league.Pairing `json:"matches"`
}

type StandingsUpdate struct {
	Envelope
	Standings []league.StandingsEntry `json:"standings"`
}

type LeagueCompleted struct {
	Envelope
	Champions []string                `json:"champions"`
	Standings []league.StandingsEntry `json:"standings"`
}

type NotificationAck struct {
	Envelope
	Received string `json:"received"`
}

type LeagueQuery struct {
	Envelope
	QueryType string `json:"query_type"`
}

type LeagueQueryResponse struct {
	Envelope
	QueryType string                  `json:"query_type"`
	Standings []league.StandingsEntry `json:"standings,omitempty"`
	Schedule  *league.Schedule        `json:"schedule,omitempty"`
	Players   []league.Participant    `json:"players,omitempty"`
}
