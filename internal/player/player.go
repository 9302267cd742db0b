// Package player is a league player agent: it accepts invitations, picks a
// parity with its strategy and learns from finished matches.
package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"github.com/playperu/league/internal/agent"
	"github.com/playperu/league/internal/auth"
	"github.com/playperu/league/internal/game"
	"github.com/playperu/league/internal/league"
	"github.com/playperu/league/internal/protocol"
	"github.com/playperu/league/internal/resilience"
	"github.com/playperu/league/internal/server"
	"github.com/playperu/league/internal/store"
	"github.com/playperu/league/internal/strategy"
)

type Config struct {
	DisplayName  string
	PublicURL    string
	ManagerURL   string
	Strategy     string
	HistoryLimit int
	CallTimeout  time.Duration
}

type Player struct {
	cfg      Config
	client   *resilience.Client
	tokens   *auth.Authority
	store    store.Store
	logger   *slog.Logger
	identity agent.Holder
	now      func() time.Time

	mu        sync.Mutex
	strategy  strategy.Strategy
	opponents map[string]string
	standings []league.StandingsEntry
}

type Option func(*Player)

// WithRand fixes the strategy's source of randomness.
func WithRand(rng *rand.Rand) Option {
	return func(p *Player) {
		if s, err := strategy.New(p.cfg.Strategy, rng); err == nil {
			p.strategy = s
		}
	}
}

// New builds a player. Referee and manager messages must carry a token
// that tokens accepts for the sender.
func New(cfg Config, client *resilience.Client, tokens *auth.Authority, st store.Store, logger *slog.Logger, opts ...Option) (*Player, error) {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 100
	}
	s, err := strategy.New(cfg.Strategy, rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))
	if err != nil {
		return nil, err
	}
	p := &Player{
		cfg:       cfg,
		client:    client,
		tokens:    tokens,
		store:     st,
		logger:    logger,
		now:       time.Now,
		strategy:  s,
		opponents: make(map[string]string),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Register joins the league and keeps the assigned identity.
func (p *Player) Register(ctx context.Context) (agent.Identity, error) {
	id, err := agent.Register(ctx, p.client, p.cfg.ManagerURL, league.RolePlayer, protocol.AgentMeta{
		DisplayName:     p.cfg.DisplayName,
		Version:         agent.Version,
		GameTypes:       game.Types(),
		ContactEndpoint: p.cfg.PublicURL,
	}, p.cfg.CallTimeout)
	if err != nil {
		return agent.Identity{}, err
	}
	p.identity.Set(id)
	p.logger.Info("registered with league", "player_id", id.ID, "league_id", id.LeagueID, "strategy", p.strategy.Name())
	return id, nil
}

// SetIdentity adopts an identity obtained elsewhere.
func (p *Player) SetIdentity(id agent.Identity) { p.identity.Set(id) }

func HistoryKey(playerID string) string { return "history/" + playerID }

// History returns the recorded matches, oldest first.
func (p *Player) History(ctx context.Context) ([]strategy.Record, error) {
	me, err := p.identity.Get()
	if err != nil {
		return nil, err
	}
	return p.history(ctx, me.ID)
}

func (p *Player) history(ctx context.Context, id string) ([]strategy.Record, error) {
	var h []strategy.Record
	err := p.store.Load(ctx, HistoryKey(id), &h)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("loading history: %w", err)
	}
	return h, nil
}

// Standings returns the table from the latest league broadcast.
func (p *Player) Standings() []league.StandingsEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.standings)
}

// RPC returns the player's JSON-RPC endpoint.
func (p *Player) RPC() *server.RPC {
	rpc := server.NewRPC(p.logger)
	rpc.Handle(protocol.MethodGameInvitation, server.Bind(p.handleInvitation))
	rpc.Handle(protocol.MethodChooseParity, server.Bind(p.handleChooseParity))
	rpc.Handle(protocol.MethodNotifyGameOver, server.Bind(p.handleGameOver))
	rpc.Handle(protocol.MethodNotify, server.Bind(p.handleNotify))
	return rpc
}

func (p *Player) me() (agent.Identity, error) {
	id, err := p.identity.Get()
	if err != nil {
		return agent.Identity{}, protocol.Errorf(protocol.CodeConflict, "%v", err)
	}
	return id, nil
}

func (p *Player) reply(req *protocol.Envelope, messageType string, me agent.Identity) protocol.Envelope {
	env := req.Reply(messageType, league.RolePlayer, me.ID)
	env.AuthToken = me.Token
	return env
}

// from checks that env was sent by an agent of role holding a token issued
// to it.
func (p *Player) from(env *protocol.Envelope, role league.Role) error {
	got, id, _ := protocol.ParseSender(env.Sender)
	if got != role {
		return protocol.Errorf(protocol.CodeUnauthorized, "sender %q is not a %s", env.Sender, role)
	}
	claims, err := p.tokens.Claims(env.AuthToken, id)
	if err != nil {
		return protocol.Errorf(protocol.CodeUnauthorized, "%v", err)
	}
	if claims.Role != string(role) {
		return protocol.Errorf(protocol.CodeUnauthorized, "token of %s was issued to a %s", id, claims.Role)
	}
	return nil
}

func (p *Player) handleInvitation(_ context.Context, inv *protocol.GameInvitation) (protocol.GameJoinAck, error) {
	me, err := p.me()
	if err != nil {
		return protocol.GameJoinAck{}, err
	}
	if err := p.from(&inv.Envelope, league.RoleReferee); err != nil {
		return protocol.GameJoinAck{}, err
	}
	_, gameErr := game.Lookup(inv.GameType)

	p.mu.Lock()
	p.opponents[inv.MatchID] = inv.OpponentID
	p.mu.Unlock()

	p.logger.Info("invited to match", "match_id", inv.MatchID, "opponent", inv.OpponentID, "role", inv.RoleInMatch)
	return protocol.GameJoinAck{
		Envelope:         p.reply(&inv.Envelope, protocol.TypeGameJoinAck, me),
		PlayerID:         me.ID,
		ArrivalTimestamp: p.now().UTC(),
		Accept:           gameErr == nil,
	}, nil
}

func (p *Player) handleChooseParity(ctx context.Context, call *protocol.ChooseParityCall) (protocol.ChooseParityResponse, error) {
	me, err := p.me()
	if err != nil {
		return protocol.ChooseParityResponse{}, err
	}
	if err := p.from(&call.Envelope, league.RoleReferee); err != nil {
		return protocol.ChooseParityResponse{}, err
	}
	if call.PlayerID != me.ID {
		return protocol.ChooseParityResponse{}, protocol.Errorf(protocol.CodeInvalidParams, "call addressed to %q", call.PlayerID)
	}
	h, err := p.history(ctx, me.ID)
	if err != nil {
		return protocol.ChooseParityResponse{}, err
	}

	p.mu.Lock()
	choice := p.strategy.Choose(strategy.Input{
		OpponentID: call.Context.OpponentID,
		Round:      call.Context.RoundID,
		History:    h,
	})
	p.mu.Unlock()

	p.logger.Info("parity chosen", "match_id", call.MatchID, "choice", choice, "strategy", p.strategy.Name())
	return protocol.ChooseParityResponse{
		Envelope:     p.reply(&call.Envelope, protocol.TypeChooseParityResponse, me),
		PlayerID:     me.ID,
		ParityChoice: choice,
	}, nil
}

func (p *Player) handleGameOver(ctx context.Context, msg *protocol.GameOver) (protocol.NotificationAck, error) {
	me, err := p.me()
	if err != nil {
		return protocol.NotificationAck{}, err
	}
	if err := p.from(&msg.Envelope, league.RoleReferee); err != nil {
		return protocol.NotificationAck{}, err
	}

	p.mu.Lock()
	opponent := p.opponents[msg.MatchID]
	delete(p.opponents, msg.MatchID)
	p.mu.Unlock()
	if opponent == "" {
		for id := range msg.Result.Choices {
			if id != me.ID {
				opponent = id
			}
		}
	}

	rec := strategy.Record{
		MatchID:        msg.MatchID,
		OpponentID:     opponent,
		MyChoice:       msg.Result.Choices[me.ID],
		OpponentChoice: msg.Result.Choices[opponent],
		Result:         resultFor(me.ID, msg.Result),
		DrawnNumber:    msg.Result.DrawnNumber,
		PlayedAt:       msg.Timestamp,
	}
	if err := p.remember(ctx, me.ID, rec); err != nil {
		return protocol.NotificationAck{}, err
	}

	p.logger.Info("match over", "match_id", msg.MatchID, "result", rec.Result, "reason", msg.Result.Reason)
	return protocol.NotificationAck{
		Envelope: p.reply(&msg.Envelope, protocol.TypeNotificationAck, me),
		Received: msg.MessageType,
	}, nil
}

func resultFor(id string, r protocol.GameResult) strategy.Result {
	switch {
	case r.Winner == id:
		return strategy.ResultWin
	case r.Status == league.OutcomeDraw:
		return strategy.ResultDraw
	}
	return strategy.ResultLoss
}

// remember appends rec to the history, keeping the newest HistoryLimit
// records. A redelivered notice for a known match is ignored.
func (p *Player) remember(ctx context.Context, id string, rec strategy.Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	h, err := p.history(ctx, id)
	if err != nil {
		return err
	}
	if slices.ContainsFunc(h, func(r strategy.Record) bool { return r.MatchID == rec.MatchID }) {
		return nil
	}
	h = strategy.Trim(append(h, rec), p.cfg.HistoryLimit)
	if err := p.store.Save(ctx, HistoryKey(id), h); err != nil {
		return fmt.Errorf("saving history: %w", err)
	}
	return nil
}

// notice covers every league broadcast a player receives.
type notice struct {
	protocol.Envelope
	Matches   []league.Pairing        `json:"matches,omitempty"`
	Standings []league.StandingsEntry `json:"standings,omitempty"`
	Champions []string                `json:"champions,omitempty"`
}

func (p *Player) handleNotify(_ context.Context, n *notice) (protocol.NotificationAck, error) {
	me, err := p.me()
	if err != nil {
		return protocol.NotificationAck{}, err
	}
	if err := p.from(&n.Envelope, league.RoleManager); err != nil {
		return protocol.NotificationAck{}, err
	}

	switch n.MessageType {
	case protocol.TypeRoundAnnouncement:
		i := slices.IndexFunc(n.Matches, func(m league.Pairing) bool { return m.Involves(me.ID) })
		switch {
		case i < 0:
			p.logger.Info("round announced, not playing", "round", n.RoundID)
		case n.Matches[i].IsBye():
			p.logger.Info("round announced, sitting out", "round", n.RoundID)
		default:
			p.logger.Info("round announced", "round", n.RoundID, "match_id", n.Matches[i].MatchID)
		}
	case protocol.TypeLeagueStandingsUpdate, protocol.TypeLeagueCompleted:
		p.mu.Lock()
		p.standings = n.Standings
		p.mu.Unlock()
		if i := slices.IndexFunc(n.Standings, func(e league.StandingsEntry) bool { return e.ParticipantID == me.ID }); i >= 0 {
			p.logger.Info("standings received", "type", n.MessageType, "rank", n.Standings[i].Rank, "points", n.Standings[i].Points, "champions", n.Champions)
		}
	default:
		return protocol.NotificationAck{}, protocol.Errorf(protocol.CodeInvalidParams, "unexpected notice %s", n.MessageType)
	}

	return protocol.NotificationAck{
		Envelope: p.reply(&n.Envelope, protocol.TypeNotificationAck, me),
		Received: n.MessageType,
	}, nil
}
