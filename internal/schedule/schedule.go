// Package schedule builds round-robin schedules with the circle method.
package schedule

import (
	"errors"
	"fmt"
	"slices"

	"github.com/playperu/league/internal/league"
)

var (
	ErrTooFewParticipants   = errors.New("at least two participants are required")
	ErrInvalidParticipant   = errors.New("participant id must not be empty")
	ErrDuplicateParticipant = errors.New("duplicate participant")
	ErrNoReferees           = errors.New("no referees available")
)

// bye marks the empty seat added to the circle when the participant count is odd.
const bye = ""

// Generate returns a schedule in which every unordered pair of ids meets exactly once.
//
// The first id stays fixed while the others rotate one seat per round; seat i
// plays seat n-1-i. An odd count gets an extra empty seat, so each round has
// exactly one bye and each participant sits out exactly once. The result
// depends only on the input order.
func Generate(ids []string) (league.Schedule, error) {
	if len(ids) < 2 {
		return league.Schedule{}, fmt.Errorf("%w: got %d", ErrTooFewParticipants, len(ids))
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == bye {
			return league.Schedule{}, ErrInvalidParticipant
		}
		if _, ok := seen[id]; ok {
			return league.Schedule{}, fmt.Errorf("%w: %s", ErrDuplicateParticipant, id)
		}
		seen[id] = struct{}{}
	}

	circle := slices.Clone(ids)
	if len(circle)%2 == 1 {
		circle = append(circle, bye)
	}
	n := len(circle)

	rounds := make([]league.Round, 0, n-1)
	for number := 1; number < n; number++ {
		round := league.Round{Number: number, Pairings: make([]league.Pairing, 0, n/2)}
		seq := 0
		for i := 0; i < n/2; i++ {
			a, b := circle[i], circle[n-1-i]
			if a == bye {
				a, b = b, a
			}
			p := league.Pairing{Round: number, PlayerA: a, PlayerB: b}
			if b != bye {
				seq++
				p.MatchID = league.MatchID(number, seq)
			}
			round.Pairings = append(round.Pairings, p)
		}
		rounds = append(rounds, round)

		last := circle[n-1]
		copy(circle[2:], circle[1:n-1])
		circle[1] = last
	}

	return league.Schedule{Rounds: rounds}, nil
}

// AssignReferees hands out referees to the played pairings in rotating order
// across the whole schedule. Byes get no referee. The input is not modified.
func AssignReferees(s league.Schedule, referees []string) (league.Schedule, error) {
	if len(referees) == 0 {
		return league.Schedule{}, ErrNoReferees
	}

	out := league.Schedule{Rounds: make([]league.Round, len(s.Rounds))}
	next := 0
	for i, r := range s.Rounds {
		pairings := slices.Clone(r.Pairings)
		for j := range pairings {
			if pairings[j].IsBye() {
				continue
			}
			pairings[j].Referee = referees[next%len(referees)]
			next++
		}
		out.Rounds[i] = league.Round{Number: r.Number, Pairings: pairings}
	}
	return out, nil
}
