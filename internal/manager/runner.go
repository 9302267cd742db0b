package manager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/playperu/league/internal/league"
	"github.com/playperu/league/internal/protocol"
	"github.com/playperu/league/internal/resilience"
)

var ErrMatchRejected = errors.New("referee rejected match")

// RemoteRunner plays a pairing by asking its referee to run it and waiting
// for the referee's report to arrive in the inbox.
type RemoteRunner struct {
	id       string
	token    string
	leagueID string
	gameType string
	reportTo string
	// wait bounds the time between start_match and the report.
	wait        time.Duration
	callTimeout time.Duration

	registry *Registry
	client   *resilience.Client
	inbox    *Inbox
}

func (r *RemoteRunner) RunMatch(ctx context.Context, p league.Pairing) (league.Outcome, error) {
	ref, ok := r.registry.Lookup(p.Referee)
	if !ok {
		return league.Outcome{}, fmt.Errorf("%w: referee %q", ErrUnknownParticipant, p.Referee)
	}
	a, okA := r.registry.Lookup(p.PlayerA)
	b, okB := r.registry.Lookup(p.PlayerB)
	if !okA || !okB {
		return league.Outcome{}, fmt.Errorf("%w: players of %s", ErrUnknownParticipant, p.MatchID)
	}

	reports := r.inbox.Expect(p.MatchID)
	defer r.inbox.Forget(p.MatchID)

	env := protocol.NewEnvelope(protocol.TypeStartMatch, league.RoleManager, r.id)
	env.AuthToken = r.token
	env.LeagueID = r.leagueID
	env.RoundID = p.Round
	env.MatchID = p.MatchID
	msg := protocol.StartMatch{
		Envelope: env,
		GameType: r.gameType,
		Pairing:  p,
		PlayerA:  protocol.Endpoint{ID: a.ID, Address: a.Address},
		PlayerB:  protocol.Endpoint{ID: b.ID, Address: b.Address},
		ReportTo: r.reportTo,
	}

	var ack protocol.StartMatchAck
	if err := r.client.Invoke(ctx, ref.Address, protocol.MethodStartMatch, msg, &ack,
		resilience.WithTimeout(r.callTimeout)); err != nil {
		return league.Outcome{}, fmt.Errorf("starting %s on %s: %w", p.MatchID, ref.ID, err)
	}
	if !ack.Accepted {
		return league.Outcome{}, fmt.Errorf("%w: %s: %s", ErrMatchRejected, p.MatchID, ack.Reason)
	}

	if r.wait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.wait)
		defer cancel()
	}
	select {
	case o := <-reports:
		return o, nil
	case <-ctx.Done():
		return league.Outcome{}, fmt.Errorf("waiting for %s report: %w", p.MatchID, ctx.Err())
	}
}
