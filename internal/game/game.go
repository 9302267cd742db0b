// Package game holds the pluggable rules the match coordinator calls into.
package game

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
)

var (
	ErrUnknownGame   = errors.New("unknown game type")
	ErrInvalidChoice = errors.New("invalid choice")
)

// Side identifies a participant position in a match.
type Side int

const (
	SideNone Side = iota
	SideA
	SideB
)

func (s Side) String() string {
	switch s {
	case SideA:
		return "A"
	case SideB:
		return "B"
	}
	return "none"
}

type Resolution struct {
	Winner Side
	Reason string
}

// Rules is everything the match coordinator needs to know about a game.
type Rules interface {
	Name() string
	// ParseChoice normalizes a submitted choice or returns ErrInvalidChoice.
	ParseChoice(raw string) (string, error)
	// Draw picks the value both choices are judged against.
	Draw(rng *rand.Rand) int
	// Resolve must be a pure function of its arguments.
	Resolve(choiceA, choiceB string, drawn int) Resolution
}

var registry = map[string]Rules{
	EvenOdd: Parity{},
}

// Lookup returns the rules registered under name.
func Lookup(name string) (Rules, error) {
	r, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownGame, name)
	}
	return r, nil
}

// Types lists the registered game types in sorted order.
func Types() []string {
	out := make([]string, 0, len(registry))
	for name := range registry {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}
