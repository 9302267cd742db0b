// Package referee is the referee agent: it runs the matches the league
// manager assigns and makes sure every outcome reaches the league.
package referee

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/playperu/league/internal/agent"
	"github.com/playperu/league/internal/auth"
	"github.com/playperu/league/internal/game"
	"github.com/playperu/league/internal/league"
	"github.com/playperu/league/internal/match"
	"github.com/playperu/league/internal/protocol"
	"github.com/playperu/league/internal/resilience"
	"github.com/playperu/league/internal/server"
	"github.com/playperu/league/internal/store"
)

const queueSize = 64

type Config struct {
	DisplayName       string
	PublicURL         string
	ManagerURL        string
	LeagueID          string
	JoinTimeout       time.Duration
	MoveTimeout       time.Duration
	CallTimeout       time.Duration
	ReconcileInterval time.Duration
}

type job struct {
	fixture  match.Fixture
	reportTo string
}

type Referee struct {
	cfg       Config
	client    *resilience.Client
	authority *auth.Authority
	store     store.Store
	logger    *slog.Logger
	identity  agent.Holder
	matchOpts []match.Option

	jobs chan job

	kick chan struct{}

	mu    sync.Mutex
	coord *match.Coordinator
	// active maps running matches to where their outcome is reported.
	active map[string]string
}

// New builds a referee. opts are handed to the match coordinator once the
// referee has an identity.
func New(cfg Config, client *resilience.Client, authority *auth.Authority, st store.Store, logger *slog.Logger, opts ...match.Option) *Referee {
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = 15 * time.Second
	}
	return &Referee{
		cfg:       cfg,
		client:    client,
		authority: authority,
		store:     st,
		logger:    logger,
		matchOpts: opts,
		jobs:      make(chan job, queueSize),
		kick:      make(chan struct{}, 1),
		active:    make(map[string]string),
	}
}

// Register joins the league and prepares the coordinator.
func (r *Referee) Register(ctx context.Context) (agent.Identity, error) {
	id, err := agent.Register(ctx, r.client, r.cfg.ManagerURL, league.RoleReferee, protocol.AgentMeta{
		DisplayName:     r.cfg.DisplayName,
		Version:         agent.Version,
		GameTypes:       game.Types(),
		ContactEndpoint: r.cfg.PublicURL,
	}, r.cfg.CallTimeout)
	if err != nil {
		return agent.Identity{}, err
	}
	r.SetIdentity(id)
	r.logger.Info("registered with league", "referee_id", id.ID, "league_id", id.LeagueID)
	return id, nil
}

// SetIdentity adopts id and builds the coordinator that signs as it.
func (r *Referee) SetIdentity(id agent.Identity) {
	coord := match.New(match.Config{
		RefereeID:   id.ID,
		AuthToken:   id.Token,
		JoinTimeout: r.cfg.JoinTimeout,
		MoveTimeout: r.cfg.MoveTimeout,
	}, r.client, r.authority, r, r.logger, append([]match.Option{match.WithRecorder(r.store)}, r.matchOpts...)...)

	r.mu.Lock()
	r.coord = coord
	r.mu.Unlock()
	r.identity.Set(id)
}

// RPC returns the referee's JSON-RPC endpoint.
func (r *Referee) RPC() *server.RPC {
	rpc := server.NewRPC(r.logger)
	rpc.Handle(protocol.MethodStartMatch, server.Bind(r.handleStartMatch))
	rpc.Handle(protocol.MethodNotify, server.Bind(r.handleNotify))
	return rpc
}

// handleStartMatch queues a match and acknowledges at once; the outcome is
// reported separately.
func (r *Referee) handleStartMatch(ctx context.Context, req *protocol.StartMatch) (protocol.StartMatchAck, error) {
	me, err := r.identity.Get()
	if err != nil {
		return protocol.StartMatchAck{}, protocol.Errorf(protocol.CodeConflict, "%v", err)
	}
	if err := r.fromManager(&req.Envelope); err != nil {
		return protocol.StartMatchAck{}, err
	}

	ack := protocol.StartMatchAck{Envelope: req.Reply(protocol.TypeStartMatchAck, league.RoleReferee, me.ID)}
	ack.AuthToken = me.Token
	reject := func(reason string) (protocol.StartMatchAck, error) {
		r.logger.Warn("match rejected", "match_id", req.Pairing.MatchID, "reason", reason)
		ack.Reason = reason
		return ack, nil
	}

	f := match.Fixture{
		LeagueID: req.LeagueID,
		GameType: req.GameType,
		Pairing:  req.Pairing,
		PlayerA:  req.PlayerA,
		PlayerB:  req.PlayerB,
	}
	switch {
	case r.cfg.LeagueID != "" && req.LeagueID != r.cfg.LeagueID:
		return reject(fmt.Sprintf("league %q is not refereed here", req.LeagueID))
	case req.Pairing.Referee != me.ID:
		return reject(fmt.Sprintf("match is assigned to %q", req.Pairing.Referee))
	}
	if err := f.Validate(); err != nil {
		return reject(err.Error())
	}

	id := req.Pairing.MatchID

	// A match already played is not replayed; its outcome is sent again.
	var rec match.Record
	switch err := r.store.Load(ctx, match.RecordKey(id), &rec); {
	case err == nil:
		if err := r.keep(ctx, rec.Outcome, req.ReportTo); err != nil {
			return protocol.StartMatchAck{}, err
		}
		r.Kick()
		ack.Accepted = true
		return ack, nil
	case !errors.Is(err, store.ErrNotFound):
		return protocol.StartMatchAck{}, fmt.Errorf("loading match record: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[id]; ok {
		ack.Accepted = true
		return ack, nil
	}
	select {
	case r.jobs <- job{fixture: f, reportTo: req.ReportTo}:
		r.active[id] = req.ReportTo
		ack.Accepted = true
		r.logger.Info("match accepted", "match_id", id, "round", req.Pairing.Round)
		return ack, nil
	default:
		return reject("referee is busy")
	}
}

func (r *Referee) fromManager(env *protocol.Envelope) error {
	role, id, _ := protocol.ParseSender(env.Sender)
	if role != league.RoleManager {
		return protocol.Errorf(protocol.CodeUnauthorized, "sender %q is not the league manager", env.Sender)
	}
	if err := r.authority.Validate(env.AuthToken, id); err != nil {
		return protocol.Errorf(protocol.CodeUnauthorized, "%v", err)
	}
	return nil
}

type notice struct {
	protocol.Envelope
	Champions []string `json:"champions,omitempty"`
}

func (r *Referee) handleNotify(_ context.Context, n *notice) (protocol.NotificationAck, error) {
	me, err := r.identity.Get()
	if err != nil {
		return protocol.NotificationAck{}, protocol.Errorf(protocol.CodeConflict, "%v", err)
	}
	r.logger.Info("league notice", "type", n.MessageType, "champions", n.Champions)
	ack := protocol.NotificationAck{
		Envelope: n.Reply(protocol.TypeNotificationAck, league.RoleReferee, me.ID),
		Received: n.MessageType,
	}
	ack.AuthToken = me.Token
	return ack, nil
}

// Kick asks Work to reconcile without waiting for the next tick.
func (r *Referee) Kick() {
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// Work runs queued matches and redelivers unreported outcomes every
// ReconcileInterval until ctx is done. It waits for running matches before
// returning.
func (r *Referee) Work(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.ReconcileInterval)
	defer ticker.Stop()

	var g errgroup.Group
	defer g.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case j := <-r.jobs:
			g.Go(func() error {
				r.play(ctx, j)
				return nil
			})
		case <-ticker.C:
			r.reconcile(ctx)
		case <-r.kick:
			r.reconcile(ctx)
		}
	}
}

func (r *Referee) play(ctx context.Context, j job) {
	id := j.fixture.Pairing.MatchID
	defer func() {
		r.mu.Lock()
		delete(r.active, id)
		r.mu.Unlock()
	}()

	r.mu.Lock()
	coord := r.coord
	r.mu.Unlock()

	if _, err := coord.Run(ctx, j.fixture); err != nil {
		r.logger.Error("match not run", "match_id", id, "error", err)
	}
}
