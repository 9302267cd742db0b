package game

import (
	"fmt"
	"math/rand/v2"
	"strings"
)

const EvenOdd = "even_odd"

const (
	Even = "even"
	Odd  = "odd"
)

// Parity is the even/odd game: a number in [1,10] is drawn and whoever
// guessed its parity wins. Both right or both wrong is a draw.
type Parity struct{}

func (Parity) Name() string { return EvenOdd }

func (Parity) ParseChoice(raw string) (string, error) {
	c := strings.ToLower(strings.TrimSpace(raw))
	if c != Even && c != Odd {
		return "", fmt.Errorf("%w: %q, want %q or %q", ErrInvalidChoice, raw, Even, Odd)
	}
	return c, nil
}

func (Parity) Draw(rng *rand.Rand) int {
	return rng.IntN(10) + 1
}

func (Parity) Resolve(choiceA, choiceB string, drawn int) Resolution {
	parity := ParityOf(drawn)
	aRight, bRight := choiceA == parity, choiceB == parity

	switch {
	case aRight && !bRight:
		return Resolution{Winner: SideA, Reason: fmt.Sprintf("drawn number %d is %s, only A chose %s", drawn, parity, parity)}
	case bRight && !aRight:
		return Resolution{Winner: SideB, Reason: fmt.Sprintf("drawn number %d is %s, only B chose %s", drawn, parity, parity)}
	case aRight:
		return Resolution{Winner: SideNone, Reason: fmt.Sprintf("drawn number %d is %s, both chose %s", drawn, parity, parity)}
	default:
		return Resolution{Winner: SideNone, Reason: fmt.Sprintf("drawn number %d is %s, neither chose %s", drawn, parity, parity)}
	}
}

// ParityOf returns Even or Odd for n.
func ParityOf(n int) string {
	if n%2 == 0 {
		return Even
	}
	return Odd
}
