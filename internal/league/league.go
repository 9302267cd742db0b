// Package league defines the core domain types shared by every agent.
// It has zero external dependencies.
package league

import (
	"fmt"
	"slices"
	"time"
)

type Role string

const (
	RolePlayer  Role = "player"
	RoleReferee Role = "referee"
	RoleManager Role = "league_manager"
)

type Participant struct {
	ID           string    `json:"id"`
	DisplayName  string    `json:"display_name"`
	Role         Role      `json:"role"`
	Address      string    `json:"address"`
	Token        string    `json:"auth_token,omitempty"`
	GameTypes    []string  `json:"game_types,omitempty"`
	RegisteredAt time.Time `json:"registered_at"`
}

// Supports reports whether a referee can run the given game type.
func (p Participant) Supports(gameType string) bool {
	return len(p.GameTypes) == 0 || slices.Contains(p.GameTypes, gameType)
}

type Pairing struct {
	MatchID string `json:"match_id"`
	Round   int    `json:"round"`
	PlayerA string `json:"player_a"`
	PlayerB string `json:"player_b,omitempty"`
	Referee string `json:"referee,omitempty"`
}

// IsBye reports whether the pairing carries a single participant sitting out the round.
func (p Pairing) IsBye() bool { return p.PlayerB == "" }

// Involves reports whether id plays in the pairing.
func (p Pairing) Involves(id string) bool {
	return id != "" && (p.PlayerA == id || p.PlayerB == id)
}

type Round struct {
	Number   int       `json:"round"`
	Pairings []Pairing `json:"pairings"`
}

// Matches returns the pairings that are played, skipping byes.
func (r Round) Matches() []Pairing {
	out := make([]Pairing, 0, len(r.Pairings))
	for _, p := range r.Pairings {
		if !p.IsBye() {
			out = append(out, p)
		}
	}
	return out
}

type Schedule struct {
	Rounds []Round `json:"rounds"`
}

// MatchCount returns the number of non-bye pairings across all rounds.
func (s Schedule) MatchCount() int {
	n := 0
	for _, r := range s.Rounds {
		n += len(r.Matches())
	}
	return n
}

// Find returns the pairing with the given match id.
func (s Schedule) Find(matchID string) (Pairing, bool) {
	for _, r := range s.Rounds {
		for _, p := range r.Pairings {
			if p.MatchID != "" && p.MatchID == matchID {
				return p, true
			}
		}
	}
	return Pairing{}, false
}

// MatchID builds the identifier of the seq-th match (1-based) in a round.
func MatchID(round, seq int) string {
	return fmt.Sprintf("R%dM%d", round, seq)
}

type OutcomeStatus string

const (
	OutcomeWin           OutcomeStatus = "WIN"
	OutcomeDraw          OutcomeStatus = "DRAW"
	OutcomeTechnicalLoss OutcomeStatus = "TECHNICAL_LOSS"
)

// Outcome is the terminal result of one match.
type Outcome struct {
	MatchID             string            `json:"match_id"`
	Round               int               `json:"round_id"`
	PlayerA             string            `json:"player_a"`
	PlayerB             string            `json:"player_b"`
	Referee             string            `json:"referee,omitempty"`
	Status              OutcomeStatus     `json:"status"`
	Winner              string            `json:"winner,omitempty"`
	DrawnNumber         int               `json:"drawn_number,omitempty"`
	Choices             map[string]string `json:"choices,omitempty"`
	Forfeits            []string          `json:"forfeits,omitempty"`
	Reason              string            `json:"reason"`
	NeedsReconciliation bool              `json:"needs_reconciliation,omitempty"`
	CompletedAt         time.Time         `json:"completed_at"`
}

// Forfeited reports whether id was flagged with a technical loss.
func (o Outcome) Forfeited(id string) bool {
	return slices.Contains(o.Forfeits, id)
}

// Opponent returns the other participant of the match, or "" if id did not play.
func (o Outcome) Opponent(id string) string {
	switch id {
	case o.PlayerA:
		return o.PlayerB
	case o.PlayerB:
		return o.PlayerA
	}
	return ""
}

type StandingsEntry struct {
	Rank            int    `json:"rank"`
	ParticipantID   string `json:"player_id"`
	DisplayName     string `json:"display_name,omitempty"`
	Played          int    `json:"played"`
	Wins            int    `json:"wins"`
	Draws           int    `json:"draws"`
	Losses          int    `json:"losses"`
	TechnicalLosses int    `json:"technical_losses"`
	Points          int    `json:"points"`
}

type LeagueStatus string

const (
	LeagueNotStarted LeagueStatus = "NOT_STARTED"
	LeagueInProgress LeagueStatus = "IN_PROGRESS"
	LeagueCompleted  LeagueStatus = "COMPLETED"
)

type MatchStatus string

const (
	MatchPending   MatchStatus = "pending"
	MatchCompleted MatchStatus = "completed"
	MatchForfeited MatchStatus = "forfeited"
	MatchInDispute MatchStatus = "in_dispute"
	MatchReconcile MatchStatus = "reconcile"
)

// StatusOf maps a terminal outcome to the status surfaced to league operators.
func StatusOf(o Outcome) MatchStatus {
	switch {
	case o.NeedsReconciliation:
		return MatchReconcile
	case o.Status == OutcomeTechnicalLoss:
		return MatchForfeited
	default:
		return MatchCompleted
	}
}
