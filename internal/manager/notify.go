package manager

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/playperu/league/internal/league"
	"github.com/playperu/league/internal/protocol"
	"github.com/playperu/league/internal/resilience"
	"github.com/playperu/league/internal/server"
)

const broadcastLimit = 16

// RoundStarted announces the round's pairings to every player.
func (m *Manager) RoundStarted(ctx context.Context, round league.Round) {
	m.broker.Publish(FeedTopic, server.Event{Type: "round_started", Data: round})
	m.broadcast(ctx, m.registry.Players(), protocol.TypeRoundAnnouncement, round.Number, func(env protocol.Envelope) any {
		return protocol.RoundAnnouncement{Envelope: env, Matches: round.Pairings}
	})
}

func (m *Manager) RoundCompleted(ctx context.Context, round int, table []league.StandingsEntry) {
	view := m.standingsView()
	view.Round, view.Standings = round, table
	m.broker.Publish(FeedTopic, server.Event{Type: "round_completed", Data: view})
	m.broadcast(ctx, m.registry.Players(), protocol.TypeLeagueStandingsUpdate, round, func(env protocol.Envelope) any {
		return protocol.StandingsUpdate{Envelope: env, Standings: table}
	})
}

// LeagueCompleted tells players and referees who won.
func (m *Manager) LeagueCompleted(ctx context.Context, champions []string, table []league.StandingsEntry) {
	m.broker.Publish(FeedTopic, server.Event{Type: "league_completed", Data: map[string]any{
		"champions": champions,
		"standings": table,
	}})
	everyone := append(m.registry.Players(), m.registry.Referees()...)
	m.broadcast(ctx, everyone, protocol.TypeLeagueCompleted, 0, func(env protocol.Envelope) any {
		return protocol.LeagueCompleted{Envelope: env, Champions: champions, Standings: table}
	})
}

// broadcast sends a notice to each recipient. Delivery is best effort:
// failures are logged and never hold up the league.
func (m *Manager) broadcast(ctx context.Context, to []league.Participant, messageType string, round int, build func(protocol.Envelope) any) {
	var g errgroup.Group
	g.SetLimit(broadcastLimit)
	for _, p := range to {
		g.Go(func() error {
			env := protocol.NewEnvelope(messageType, league.RoleManager, m.cfg.ID)
			env.AuthToken = m.token
			env.LeagueID = m.cfg.League.ID
			env.RoundID = round

			var ack protocol.NotificationAck
			err := m.client.Invoke(ctx, p.Address, protocol.MethodNotify, build(env), &ack,
				resilience.WithTimeout(m.cfg.NotifyTimeout))
			if err != nil {
				m.logger.Warn("notice not delivered", "type", messageType, "to", p.ID, "error", err)
			}
			return nil
		})
	}
	g.Wait()
}
