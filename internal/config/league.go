package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/playperu/league/internal/game"
	"github.com/playperu/league/internal/standings"
)

var ErrInvalidLeague = errors.New("invalid league file")

// League holds the rules of one league run.
type League struct {
	ID           string            `yaml:"league_id"`
	GameType     string            `yaml:"game_type"`
	Scoring      standings.Scoring `yaml:"scoring"`
	MinPlayers   int               `yaml:"min_players"`
	MaxPlayers   int               `yaml:"max_players"`
	RoundTimeout time.Duration     `yaml:"round_timeout"`
	MatchTimeout time.Duration     `yaml:"match_timeout"`
}

func DefaultLeague() League {
	return League{
		ID:           "league_2025_even_odd",
		GameType:     game.EvenOdd,
		Scoring:      standings.DefaultScoring(),
		MinPlayers:   2,
		MaxPlayers:   10000,
		RoundTimeout: 5 * time.Minute,
		MatchTimeout: 2 * time.Minute,
	}
}

// LoadLeague reads path over the defaults. An empty path yields the defaults.
func LoadLeague(path string) (League, error) {
	l := DefaultLeague()
	if path == "" {
		return l, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return League{}, fmt.Errorf("reading league file: %w", err)
	}
	if err := yaml.Unmarshal(data, &l); err != nil {
		return League{}, fmt.Errorf("%w: %w", ErrInvalidLeague, err)
	}
	if err := l.Validate(); err != nil {
		return League{}, err
	}
	return l, nil
}

func (l League) Validate() error {
	switch {
	case l.ID == "":
		return fmt.Errorf("%w: league_id is empty", ErrInvalidLeague)
	case l.MinPlayers < 2:
		return fmt.Errorf("%w: min_players must be at least 2", ErrInvalidLeague)
	case l.MaxPlayers < l.MinPlayers:
		return fmt.Errorf("%w: max_players below min_players", ErrInvalidLeague)
	case l.RoundTimeout <= 0 || l.MatchTimeout <= 0:
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidLeague)
	}
	if _, err := game.Lookup(l.GameType); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidLeague, err)
	}
	return nil
}
