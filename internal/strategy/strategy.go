// Package strategy implements the parity choice strategies a player can run.
// The set is closed: New looks names up in a static table.
package strategy

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/playperu/league/internal/game"
)

var ErrUnknownStrategy = errors.New("unknown strategy")

type Result string

const (
	ResultWin  Result = "WIN"
	ResultLoss Result = "LOSS"
	ResultDraw Result = "DRAW"
)

// Record is one finished match from the player's point of view.
type Record struct {
	MatchID        string    `json:"match_id"`
	OpponentID     string    `json:"opponent_id"`
	MyChoice       string    `json:"my_choice,omitempty"`
	OpponentChoice string    `json:"opponent_choice,omitempty"`
	Result         Result    `json:"result"`
	DrawnNumber    int       `json:"drawn_number,omitempty"`
	PlayedAt       time.Time `json:"played_at"`
}

// Input is what a strategy may look at when choosing.
type Input struct {
	OpponentID string
	Round      int
	History    []Record
}

type Strategy interface {
	Name() string
	Choose(in Input) string
}

var table = map[string]func(rng *rand.Rand) Strategy{
	"random":   func(rng *rand.Rand) Strategy { return randomStrategy{rng: rng} },
	"even":     func(*rand.Rand) Strategy { return fixedStrategy(game.Even) },
	"odd":      func(*rand.Rand) Strategy { return fixedStrategy(game.Odd) },
	"history":  func(rng *rand.Rand) Strategy { return historyStrategy{rng: rng} },
	"adaptive": func(rng *rand.Rand) Strategy { return adaptiveStrategy{rng: rng} },
}

// New returns the strategy registered under name. Strategies are not safe
// for concurrent use because they share rng.
func New(name string, rng *rand.Rand) (Strategy, error) {
	mk, ok := table[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (have %v)", ErrUnknownStrategy, name, Names())
	}
	return mk(rng), nil
}

// Names lists the available strategies.
func Names() []string {
	out := make([]string, 0, len(table))
	for name := range table {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

func coin(rng *rand.Rand) string {
	if rng.IntN(2) == 0 {
		return game.Even
	}
	return game.Odd
}

func flip(choice string) string {
	if choice == game.Even {
		return game.Odd
	}
	return game.Even
}

type randomStrategy struct{ rng *rand.Rand }

func (randomStrategy) Name() string { return "random" }

func (s randomStrategy) Choose(Input) string { return coin(s.rng) }

type fixedStrategy string

func (f fixedStrategy) Name() string { return string(f) }

func (f fixedStrategy) Choose(Input) string { return string(f) }

// historyStrategy leans towards the choice that won more often, once at
// least five matches are on record.
type historyStrategy struct{ rng *rand.Rand }

func (historyStrategy) Name() string { return "history" }

func (s historyStrategy) Choose(in Input) string {
	if len(in.History) < 5 {
		return coin(s.rng)
	}
	var evenWins, oddWins int
	for _, r := range in.History {
		if r.Result != ResultWin {
			continue
		}
		switch r.MyChoice {
		case game.Even:
			evenWins++
		case game.Odd:
			oddWins++
		}
	}
	if evenWins+oddWins == 0 {
		return coin(s.rng)
	}

	favored := game.Odd
	if evenWins >= oddWins {
		favored = game.Even
	}
	if s.rng.Float64() < 0.7 {
		return favored
	}
	return flip(favored)
}

// adaptiveStrategy bets against a streak in the last five drawn numbers,
// then follows the opponent's usual choice when there are at least three
// meetings on record.
type adaptiveStrategy struct{ rng *rand.Rand }

func (adaptiveStrategy) Name() string { return "adaptive" }

func (s adaptiveStrategy) Choose(in Input) string {
	var parities []string
	for _, r := range in.History {
		if r.DrawnNumber > 0 {
			parities = append(parities, game.ParityOf(r.DrawnNumber))
		}
	}
	if len(parities) >= 5 {
		recent := parities[len(parities)-5:]
		evens := 0
		for _, p := range recent {
			if p == game.Even {
				evens++
			}
		}
		switch {
		case evens >= 4 && s.rng.Float64() < 0.6:
			return game.Odd
		case evens <= 1 && s.rng.Float64() < 0.6:
			return game.Even
		}
	}

	if in.OpponentID != "" {
		var meetings, evens, odds int
		for _, r := range in.History {
			if r.OpponentID != in.OpponentID {
				continue
			}
			meetings++
			switch r.OpponentChoice {
			case game.Even:
				evens++
			case game.Odd:
				odds++
			}
		}
		if meetings >= 3 {
			switch {
			case evens > odds && s.rng.Float64() < 0.6:
				return game.Even
			case odds > evens && s.rng.Float64() < 0.6:
				return game.Odd
			}
		}
	}

	return coin(s.rng)
}

// Trim keeps the most recent limit records.
func Trim(history []Record, limit int) []Record {
	if len(history) <= limit {
		return history
	}
	return slices.Clone(history[len(history)-limit:])
}
