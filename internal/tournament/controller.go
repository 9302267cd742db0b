// Package tournament sequences the rounds of a league and owns its
// authoritative schedule, outcomes and standings.
package tournament

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/playperu/league/internal/league"
	"github.com/playperu/league/internal/schedule"
	"github.com/playperu/league/internal/standings"
	"github.com/playperu/league/internal/store"
)

var (
	ErrAlreadyStarted  = errors.New("league already started")
	ErrNotStarted      = errors.New("league not started")
	ErrCompleted       = errors.New("league completed")
	ErrRoundInProgress = errors.New("a round is in progress")
	ErrUnknownMatch    = errors.New("unknown match")
	ErrMatchMismatch   = errors.New("outcome does not match the scheduled pairing")
	ErrRoundNotStarted = errors.New("round not started")
	ErrInvalidOutcome  = errors.New("invalid outcome")
)

// MatchRunner plays one pairing to a terminal outcome. An error means the
// outcome is unknown, not that a player lost.
type MatchRunner interface {
	RunMatch(ctx context.Context, p league.Pairing) (league.Outcome, error)
}

// Notifier hears about league progress. Calls happen outside the
// controller lock and must not block for long.
type Notifier interface {
	RoundStarted(ctx context.Context, round league.Round)
	RoundCompleted(ctx context.Context, round int, table []league.StandingsEntry)
	LeagueCompleted(ctx context.Context, champions []string, table []league.StandingsEntry)
}

type RoundObserver interface {
	ObserveRound()
}

type Config struct {
	LeagueID string
	GameType string
	Scoring  standings.Scoring
	// RoundTimeout bounds the matches of one round.
	RoundTimeout time.Duration
}

// Snapshot is the persisted league document.
type Snapshot struct {
	LeagueID     string                        `json:"league_id"`
	GameType     string                        `json:"game_type"`
	Status       league.LeagueStatus           `json:"status"`
	Players      []league.Participant          `json:"players"`
	Referees     []league.Participant          `json:"referees"`
	Schedule     league.Schedule               `json:"schedule"`
	CurrentRound int                           `json:"current_round"`
	Outcomes     map[string]league.Outcome     `json:"outcomes"`
	Matches      map[string]league.MatchStatus `json:"matches"`
	Standings    []league.StandingsEntry       `json:"standings"`
	Champions    []string                      `json:"champions,omitempty"`
	StartedAt    time.Time                     `json:"started_at,omitzero"`
	CompletedAt  time.Time                     `json:"completed_at,omitzero"`
}

func (s Snapshot) clone() Snapshot {
	s.Players = slices.Clone(s.Players)
	s.Referees = slices.Clone(s.Referees)
	s.Outcomes = maps.Clone(s.Outcomes)
	s.Matches = maps.Clone(s.Matches)
	s.Standings = slices.Clone(s.Standings)
	s.Champions = slices.Clone(s.Champions)
	return s
}

func Key(leagueID string) string { return "league/" + leagueID }

type Controller struct {
	cfg      Config
	runner   MatchRunner
	store    store.Store
	notifier Notifier
	observer RoundObserver
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time

	mu      sync.Mutex
	state   Snapshot
	running bool
}

type Option func(*Controller)

func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

func WithObserver(o RoundObserver) Option {
	return func(c *Controller) { c.observer = o }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func New(cfg Config, runner MatchRunner, st store.Store, logger *slog.Logger, opts ...Option) *Controller {
	c := &Controller{
		cfg:    cfg,
		runner: runner,
		store:  st,
		logger: logger,
		tracer: otel.Tracer("github.com/playperu/league/internal/tournament"),
		now:    time.Now,
		state: Snapshot{
			LeagueID: cfg.LeagueID,
			GameType: cfg.GameType,
			Status:   league.LeagueNotStarted,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Restore loads a previously persisted league. Matches of a round that was
// interrupted become in_dispute.
func (c *Controller) Restore(ctx context.Context) error {
	var s Snapshot
	err := c.store.Load(ctx, Key(c.cfg.LeagueID), &s)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("restoring league: %w", err)
	}

	interrupted := 0
	for id, st := range s.Matches {
		if st == league.MatchPending {
			s.Matches[id] = league.MatchInDispute
			interrupted++
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = s
	c.logger.Info("league restored",
		"league_id", s.LeagueID,
		"status", s.Status,
		"current_round", s.CurrentRound,
		"interrupted_matches", interrupted,
	)
	return nil
}

// Start builds the schedule and moves the league to IN_PROGRESS. Player
// order decides the pairings.
func (c *Controller) Start(ctx context.Context, players, referees []league.Participant) (league.Schedule, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Status != league.LeagueNotStarted {
		return league.Schedule{}, ErrAlreadyStarted
	}

	ids := make([]string, len(players))
	for i, p := range players {
		ids[i] = p.ID
	}
	refIDs := make([]string, 0, len(referees))
	for _, r := range referees {
		if r.Supports(c.cfg.GameType) {
			refIDs = append(refIDs, r.ID)
		}
	}

	sched, err := schedule.Generate(ids)
	if err != nil {
		return league.Schedule{}, err
	}
	sched, err = schedule.AssignReferees(sched, refIDs)
	if err != nil {
		return league.Schedule{}, err
	}

	next := c.state.clone()
	next.Status = league.LeagueInProgress
	next.Players = slices.Clone(players)
	next.Referees = slices.Clone(referees)
	next.Schedule = sched
	next.Outcomes = make(map[string]league.Outcome)
	next.Matches = make(map[string]league.MatchStatus, sched.MatchCount())
	next.Standings = standings.Recompute(c.cfg.Scoring, players, nil)
	next.StartedAt = c.now().UTC()

	if err := c.commit(ctx, next); err != nil {
		return league.Schedule{}, err
	}
	c.logger.Info("league started",
		"league_id", c.cfg.LeagueID,
		"players", len(players),
		"referees", len(refIDs),
		"rounds", len(sched.Rounds),
		"matches", sched.MatchCount(),
	)
	return sched, nil
}

// RunRound plays the next round and returns once every match in it has an
// outcome or has been marked in_dispute. The last round completes the league.
func (c *Controller) RunRound(ctx context.Context) (league.Round, error) {
	round, err := c.beginRound(ctx)
	if err != nil {
		return league.Round{}, err
	}

	ctx, span := c.tracer.Start(ctx, "tournament.RunRound", trace.WithAttributes(
		attribute.String("league.id", c.cfg.LeagueID),
		attribute.Int("league.round", round.Number),
	))
	defer span.End()

	logger := c.logger.With("league_id", c.cfg.LeagueID, "round", round.Number)
	logger.Info("round started", "matches", len(round.Matches()))
	if c.notifier != nil {
		c.notifier.RoundStarted(ctx, round)
	}

	rctx := ctx
	if c.cfg.RoundTimeout > 0 {
		var cancel context.CancelFunc
		rctx, cancel = context.WithTimeout(ctx, c.cfg.RoundTimeout)
		defer cancel()
	}

	var g errgroup.Group
	for _, p := range round.Matches() {
		g.Go(func() error {
			o, err := c.runner.RunMatch(rctx, p)
			if err != nil {
				c.dispute(ctx, logger, p, err)
				return nil
			}
			if err := c.Record(ctx, o); err != nil {
				c.dispute(ctx, logger, p, err)
			}
			return nil
		})
	}
	g.Wait()

	snap, err := c.endRound(ctx, round.Number)
	if err != nil {
		return round, err
	}
	if c.observer != nil {
		c.observer.ObserveRound()
	}
	logger.Info("round completed", "status", snap.Status)

	if c.notifier != nil {
		c.notifier.RoundCompleted(ctx, round.Number, snap.Standings)
		if snap.Status == league.LeagueCompleted {
			c.notifier.LeagueCompleted(ctx, snap.Champions, snap.Standings)
		}
	}
	return round, nil
}

// Run plays every remaining round in order.
func (c *Controller) Run(ctx context.Context) (Snapshot, error) {
	for {
		if _, err := c.RunRound(ctx); err != nil {
			if errors.Is(err, ErrCompleted) {
				return c.Snapshot(), nil
			}
			return c.Snapshot(), err
		}
		if err := ctx.Err(); err != nil {
			return c.Snapshot(), err
		}
	}
}

func (c *Controller) beginRound(ctx context.Context) (league.Round, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.state.Status == league.LeagueNotStarted:
		return league.Round{}, ErrNotStarted
	case c.state.Status == league.LeagueCompleted:
		return league.Round{}, ErrCompleted
	case c.running:
		return league.Round{}, ErrRoundInProgress
	}

	number := c.state.CurrentRound + 1
	if number > len(c.state.Schedule.Rounds) {
		return league.Round{}, ErrCompleted
	}
	round := c.state.Schedule.Rounds[number-1]

	next := c.state.clone()
	next.CurrentRound = number
	for _, p := range round.Matches() {
		if _, done := next.Outcomes[p.MatchID]; !done {
			next.Matches[p.MatchID] = league.MatchPending
		}
	}
	if err := c.commit(ctx, next); err != nil {
		return league.Round{}, err
	}
	c.running = true
	return round, nil
}

func (c *Controller) endRound(ctx context.Context, number int) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = false

	next := c.state.clone()
	if number == len(next.Schedule.Rounds) {
		next.Status = league.LeagueCompleted
		next.Champions = standings.Champions(next.Standings)
		next.CompletedAt = c.now().UTC()
		c.logger.Info("league completed", "league_id", c.cfg.LeagueID, "champions", next.Champions)
	}
	if err := c.commit(ctx, next); err != nil {
		return Snapshot{}, err
	}
	return next.clone(), nil
}

// Record stores the outcome of a scheduled match and recomputes the
// standings. A match keeps its first outcome: repeats of it are ignored and
// a different result is rejected with ErrMatchMismatch. Outcomes for matches
// marked in_dispute are accepted until the league completes.
func (c *Controller) Record(ctx context.Context, o league.Outcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Status == league.LeagueNotStarted {
		return ErrNotStarted
	}
	if c.state.Status == league.LeagueCompleted {
		return ErrCompleted
	}
	p, ok := c.state.Schedule.Find(o.MatchID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMatch, o.MatchID)
	}
	if p.Round > c.state.CurrentRound {
		return fmt.Errorf("%w: %s belongs to round %d", ErrRoundNotStarted, o.MatchID, p.Round)
	}
	if o.PlayerA != p.PlayerA || o.PlayerB != p.PlayerB {
		return fmt.Errorf("%w: %s", ErrMatchMismatch, o.MatchID)
	}
	if err := checkOutcome(o); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidOutcome, o.MatchID, err)
	}
	if prev, dup := c.state.Outcomes[o.MatchID]; dup {
		if !sameResult(prev, o) {
			return fmt.Errorf("%w: %s already recorded as %s", ErrMatchMismatch, o.MatchID, prev.Status)
		}
		c.logger.Debug("duplicate match outcome ignored", "match_id", o.MatchID)
		return nil
	}

	next := c.state.clone()
	next.Outcomes[o.MatchID] = o
	next.Matches[o.MatchID] = league.StatusOf(o)
	next.Standings = standings.Recompute(c.cfg.Scoring, next.Players, slices.Collect(maps.Values(next.Outcomes)))

	if err := c.commit(ctx, next); err != nil {
		return err
	}
	c.logger.Info("match recorded",
		"match_id", o.MatchID,
		"round", p.Round,
		"status", o.Status,
		"winner", o.Winner,
		"match_status", next.Matches[o.MatchID],
	)
	return nil
}

// checkOutcome verifies that status, winner and forfeits agree.
func checkOutcome(o league.Outcome) error {
	inMatch := func(id string) bool { return id == o.PlayerA || id == o.PlayerB }

	switch o.Status {
	case league.OutcomeWin:
		if !inMatch(o.Winner) {
			return fmt.Errorf("winner %q did not play", o.Winner)
		}
		if len(o.Forfeits) > 0 {
			return errors.New("a win carries no forfeits")
		}
	case league.OutcomeDraw:
		if o.Winner != "" || len(o.Forfeits) > 0 {
			return errors.New("a draw carries no winner or forfeits")
		}
	case league.OutcomeTechnicalLoss:
		if len(o.Forfeits) == 0 || len(o.Forfeits) > 2 {
			return fmt.Errorf("technical loss with %d forfeits", len(o.Forfeits))
		}
		for _, id := range o.Forfeits {
			if !inMatch(id) {
				return fmt.Errorf("forfeit %q did not play", id)
			}
		}
		if len(o.Forfeits) == 2 && o.Forfeits[0] == o.Forfeits[1] {
			return fmt.Errorf("forfeit %q listed twice", o.Forfeits[0])
		}
		want := ""
		if len(o.Forfeits) == 1 {
			want = o.Opponent(o.Forfeits[0])
		}
		if o.Winner != want {
			return fmt.Errorf("winner %q, want %q", o.Winner, want)
		}
	default:
		return fmt.Errorf("unknown status %q", o.Status)
	}
	return nil
}

func sameResult(a, b league.Outcome) bool {
	return a.Status == b.Status &&
		a.Winner == b.Winner &&
		slices.Equal(slices.Sorted(slices.Values(a.Forfeits)), slices.Sorted(slices.Values(b.Forfeits)))
}

func (c *Controller) dispute(ctx context.Context, logger *slog.Logger, p league.Pairing, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, done := c.state.Outcomes[p.MatchID]; done {
		return
	}
	next := c.state.clone()
	next.Matches[p.MatchID] = league.MatchInDispute
	if err := c.commit(ctx, next); err != nil {
		logger.Error("saving disputed match", "match_id", p.MatchID, "error", err)
		return
	}
	logger.Warn("match in dispute", "match_id", p.MatchID, "referee", p.Referee, "error", cause)
}

// commit persists next and makes it the current state. Callers hold mu.
func (c *Controller) commit(ctx context.Context, next Snapshot) error {
	if err := c.store.Save(context.WithoutCancel(ctx), Key(c.cfg.LeagueID), next); err != nil {
		return fmt.Errorf("saving league: %w", err)
	}
	c.state = next
	return nil
}

// Snapshot returns a copy of the current league state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

func (c *Controller) Status() league.LeagueStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Status
}
