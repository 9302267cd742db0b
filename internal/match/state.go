// Package match runs a single match between two players as a referee: it
// invites both sides, collects their choices, resolves the game and reports
// the terminal outcome to the league.
package match

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/playperu/league/internal/league"
)

type State string

const (
	StateInvited       State = "INVITED"
	StateJoinPending   State = "JOIN_PENDING"
	StateChoicePending State = "CHOICE_PENDING"
	StateResolving     State = "RESOLVING"
	StateReported      State = "REPORTED"
	StateCompleted     State = "COMPLETED"
	StateTechnicalLoss State = "TECHNICAL_LOSS"
)

var transitions = map[State][]State{
	StateInvited:       {StateJoinPending, StateTechnicalLoss},
	StateJoinPending:   {StateChoicePending, StateTechnicalLoss},
	StateChoicePending: {StateResolving, StateTechnicalLoss},
	StateResolving:     {StateReported, StateTechnicalLoss},
	StateReported:      {StateCompleted},
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateTechnicalLoss
}

func (s State) can(to State) bool {
	return slices.Contains(transitions[s], to)
}

type Transition struct {
	From  State     `json:"from"`
	To    State     `json:"to"`
	Event string    `json:"event"`
	At    time.Time `json:"at"`
}

// Match is the referee's view of one pairing. It is owned by a single
// Coordinator.Run call.
type Match struct {
	ID       string
	Round    int
	PlayerA  string
	PlayerB  string
	Referee  string
	State    State
	Choices  map[string]string
	Forfeits []string
	Winner   string
	Drawn    int
	Reason   string
	History  []Transition
}

func newMatch(p league.Pairing, referee string) *Match {
	return &Match{
		ID:      p.MatchID,
		Round:   p.Round,
		PlayerA: p.PlayerA,
		PlayerB: p.PlayerB,
		Referee: referee,
		State:   StateInvited,
		Choices: make(map[string]string, 2),
	}
}

func (m *Match) transition(to State, event string, at time.Time) error {
	if !m.State.can(to) {
		return fmt.Errorf("match %s: illegal transition %s -> %s", m.ID, m.State, to)
	}
	m.History = append(m.History, Transition{From: m.State, To: to, Event: event, At: at})
	m.State = to
	return nil
}

// forfeit flags failed with a technical loss. A single failure hands the
// win to the opponent; a double failure has no winner.
func (m *Match) forfeit(failed []string, reason string) {
	m.Forfeits = failed
	m.Reason = reason
	m.Winner = ""
	if len(failed) == 1 {
		m.Winner = m.opponent(failed[0])
	}
}

func (m *Match) opponent(id string) string {
	if id == m.PlayerA {
		return m.PlayerB
	}
	return m.PlayerA
}

// Outcome summarizes the match. It is meaningful once the match has been
// resolved or forfeited.
func (m *Match) Outcome(completedAt time.Time) league.Outcome {
	o := league.Outcome{
		MatchID:     m.ID,
		Round:       m.Round,
		PlayerA:     m.PlayerA,
		PlayerB:     m.PlayerB,
		Referee:     m.Referee,
		Winner:      m.Winner,
		DrawnNumber: m.Drawn,
		Choices:     maps.Clone(m.Choices),
		Forfeits:    slices.Clone(m.Forfeits),
		Reason:      m.Reason,
		CompletedAt: completedAt.UTC(),
	}
	switch {
	case len(m.Forfeits) > 0:
		o.Status = league.OutcomeTechnicalLoss
	case m.Winner == "":
		o.Status = league.OutcomeDraw
	default:
		o.Status = league.OutcomeWin
	}
	if len(o.Choices) == 0 {
		o.Choices = nil
	}
	return o
}
