// Package standings folds match outcomes into a ranked league table.
//
// Every counter is a sum over outcomes, so folding the same outcomes in any
// order yields the same table.
package standings

import (
	"cmp"
	"slices"

	"github.com/playperu/league/internal/league"
)

// Scoring is the number of points awarded per result.
type Scoring struct {
	Win           int `yaml:"win" json:"win"`
	Draw          int `yaml:"draw" json:"draw"`
	Loss          int `yaml:"loss" json:"loss"`
	TechnicalLoss int `yaml:"technical_loss" json:"technical_loss"`
}

func DefaultScoring() Scoring {
	return Scoring{Win: 3, Draw: 1}
}

type Table struct {
	scoring Scoring
	rows    map[string]*league.StandingsEntry
}

// NewTable starts an empty table listing every participant with zero
// matches played.
func NewTable(scoring Scoring, participants []league.Participant) *Table {
	t := &Table{
		scoring: scoring,
		rows:    make(map[string]*league.StandingsEntry, len(participants)),
	}
	for _, p := range participants {
		t.rows[p.ID] = &league.StandingsEntry{ParticipantID: p.ID, DisplayName: p.DisplayName}
	}
	return t
}

// Recompute rebuilds the ranked table from the full outcome history.
func Recompute(scoring Scoring, participants []league.Participant, outcomes []league.Outcome) []league.StandingsEntry {
	t := NewTable(scoring, participants)
	for _, o := range outcomes {
		t.Apply(o)
	}
	return t.Ranked()
}

// Apply folds o into the table and returns the updated entries of both
// participants. Rank is left zero; use Ranked for positions.
func (t *Table) Apply(o league.Outcome) []league.StandingsEntry {
	if o.PlayerA == "" || o.PlayerB == "" {
		return nil
	}
	a, b := t.row(o.PlayerA), t.row(o.PlayerB)

	switch o.Status {
	case league.OutcomeWin:
		winner, loser := a, b
		if o.Winner == o.PlayerB {
			winner, loser = b, a
		}
		t.win(winner)
		t.loss(loser)
	case league.OutcomeDraw:
		for _, e := range []*league.StandingsEntry{a, b} {
			e.Played++
			e.Draws++
			e.Points += t.scoring.Draw
		}
	case league.OutcomeTechnicalLoss:
		for _, e := range []*league.StandingsEntry{a, b} {
			if o.Forfeited(e.ParticipantID) {
				e.Played++
				e.Losses++
				e.TechnicalLosses++
				e.Points += t.scoring.TechnicalLoss
			} else {
				t.win(e)
			}
		}
	default:
		return nil
	}

	return []league.StandingsEntry{*a, *b}
}

func (t *Table) win(e *league.StandingsEntry) {
	e.Played++
	e.Wins++
	e.Points += t.scoring.Win
}

func (t *Table) loss(e *league.StandingsEntry) {
	e.Played++
	e.Losses++
	e.Points += t.scoring.Loss
}

func (t *Table) row(id string) *league.StandingsEntry {
	e, ok := t.rows[id]
	if !ok {
		e = &league.StandingsEntry{ParticipantID: id}
		t.rows[id] = e
	}
	return e
}

// Ranked returns the table ordered by points, then wins, both descending,
// then participant id ascending, with Rank set to the 1-based position.
func (t *Table) Ranked() []league.StandingsEntry {
	out := make([]league.StandingsEntry, 0, len(t.rows))
	for _, e := range t.rows {
		out = append(out, *e)
	}
	slices.SortFunc(out, compare)
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}

func compare(a, b league.StandingsEntry) int {
	return cmp.Or(
		cmp.Compare(b.Points, a.Points),
		cmp.Compare(b.Wins, a.Wins),
		cmp.Compare(a.ParticipantID, b.ParticipantID),
	)
}

// Champions returns every participant level with the leader on points and
// wins. Ties at the top are never broken by id.
func Champions(ranked []league.StandingsEntry) []string {
	if len(ranked) == 0 {
		return nil
	}
	top := ranked[0]
	var out []string
	for _, e := range ranked {
		if e.Points != top.Points || e.Wins != top.Wins {
			break
		}
		out = append(out, e.ParticipantID)
	}
	return out
}
