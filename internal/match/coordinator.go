package match

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/playperu/league/internal/game"
	"github.com/playperu/league/internal/league"
	"github.com/playperu/league/internal/protocol"
	"github.com/playperu/league/internal/resilience"
)

var (
	ErrInvalidFixture = errors.New("invalid fixture")
	ErrBadReply       = errors.New("bad reply")
)

// Fixture is everything a referee needs to run one pairing.
type Fixture struct {
	LeagueID string
	GameType string
	Pairing  league.Pairing
	PlayerA  protocol.Endpoint
	PlayerB  protocol.Endpoint
}

func (f Fixture) Validate() error {
	p := f.Pairing
	switch {
	case p.MatchID == "":
		return fmt.Errorf("%w: missing match id", ErrInvalidFixture)
	case p.IsBye():
		return fmt.Errorf("%w: %s is a bye", ErrInvalidFixture, p.MatchID)
	case p.PlayerA == p.PlayerB:
		return fmt.Errorf("%w: %s pairs %s with itself", ErrInvalidFixture, p.MatchID, p.PlayerA)
	case f.PlayerA.ID != p.PlayerA || f.PlayerB.ID != p.PlayerB:
		return fmt.Errorf("%w: endpoints do not match pairing %s", ErrInvalidFixture, p.MatchID)
	case f.PlayerA.Address == "" || f.PlayerB.Address == "":
		return fmt.Errorf("%w: missing player address", ErrInvalidFixture)
	}
	if _, err := game.Lookup(f.GameType); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidFixture, err)
	}
	return nil
}

type Config struct {
	RefereeID string
	// AuthToken is attached to every message the referee sends.
	AuthToken   string
	JoinTimeout time.Duration
	MoveTimeout time.Duration
	// NotifyTimeout bounds each GAME_OVER attempt.
	NotifyTimeout time.Duration
}

// TokenValidator checks that a token was issued to participantID.
type TokenValidator interface {
	Validate(token, participantID string) error
}

// Reporter hands a terminal outcome to the league.
type Reporter interface {
	Report(ctx context.Context, o league.Outcome) error
}

// Recorder keeps the referee's local copy of finished matches.
type Recorder interface {
	Save(ctx context.Context, key string, v any) error
}

type Observer interface {
	ObserveMatch(status string, d time.Duration)
}

// Record is what the referee persists per match.
type Record struct {
	Outcome league.Outcome `json:"outcome"`
	State   State          `json:"state"`
	History []Transition   `json:"history"`
}

func RecordKey(matchID string) string { return "matches/" + matchID }

type Coordinator struct {
	cfg      Config
	client   *resilience.Client
	tokens   TokenValidator
	reporter Reporter
	records  Recorder
	observer Observer
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

type Option func(*Coordinator)

func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) { c.records = r }
}

func WithObserver(o Observer) Option {
	return func(c *Coordinator) { c.observer = o }
}

// WithRand fixes the source of drawn numbers.
func WithRand(rng *rand.Rand) Option {
	return func(c *Coordinator) { c.rng = rng }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithTracer(t trace.Tracer) Option {
	return func(c *Coordinator) { c.tracer = t }
}

func New(cfg Config, client *resilience.Client, tokens TokenValidator, reporter Reporter, logger *slog.Logger, opts ...Option) *Coordinator {
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 5 * time.Second
	}
	c := &Coordinator{
		cfg:      cfg,
		client:   client,
		tokens:   tokens,
		reporter: reporter,
		logger:   logger,
		tracer:   otel.Tracer("github.com/playperu/league/internal/match"),
		now:      time.Now,
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type side struct {
	id       string
	addr     string
	role     string
	opponent string
}

// Run drives one match to a terminal state and returns its outcome. Player
// failures end in a technical loss; a failed report is flagged with
// NeedsReconciliation. Only an invalid fixture is returned as an error, and
// then no match is started.
func (c *Coordinator) Run(ctx context.Context, f Fixture) (league.Outcome, error) {
	if err := f.Validate(); err != nil {
		return league.Outcome{}, err
	}
	rules, _ := game.Lookup(f.GameType)

	start := c.now()
	ctx, span := c.tracer.Start(ctx, "match.Run", trace.WithAttributes(
		attribute.String("match.id", f.Pairing.MatchID),
		attribute.Int("match.round", f.Pairing.Round),
	))
	defer span.End()

	m := newMatch(f.Pairing, c.cfg.RefereeID)
	logger := c.logger.With("match_id", m.ID, "round", m.Round)
	logger.Info("match started", "player_a", m.PlayerA, "player_b", m.PlayerB, "game_type", f.GameType)

	c.play(ctx, logger, m, f, rules)

	outcome := m.Outcome(c.now())
	if err := c.finish(ctx, logger, f, outcome); err != nil {
		outcome.NeedsReconciliation = true
		logger.Error("match report failed, flagged for reconciliation", "error", err)
	}
	if m.State == StateReported {
		c.move(logger, m, StateCompleted, "report handed off")
	}
	c.record(ctx, logger, m, outcome)

	span.SetAttributes(attribute.String("match.status", string(outcome.Status)))
	if c.observer != nil {
		c.observer.ObserveMatch(string(league.StatusOf(outcome)), c.now().Sub(start))
	}
	logger.Info("match finished",
		"status", outcome.Status,
		"winner", outcome.Winner,
		"forfeits", outcome.Forfeits,
		"reconcile", outcome.NeedsReconciliation,
	)
	return outcome, nil
}

func (c *Coordinator) play(ctx context.Context, logger *slog.Logger, m *Match, f Fixture, rules game.Rules) {
	sides := [2]side{
		{id: m.PlayerA, addr: f.PlayerA.Address, role: "PLAYER_A", opponent: m.PlayerB},
		{id: m.PlayerB, addr: f.PlayerB.Address, role: "PLAYER_B", opponent: m.PlayerA},
	}

	errs := c.both(ctx, sides, func(ctx context.Context, _ int, s side) error {
		return c.invite(ctx, f, s)
	})
	if lost := failed(sides, errs, undelivered); len(lost) > 0 {
		c.fail(logger, m, failed(sides, errs, nil), "invitation not delivered: "+describe(sides, errs))
		return
	}
	c.move(logger, m, StateJoinPending, "invitations delivered")
	if lost := failed(sides, errs, nil); len(lost) > 0 {
		c.fail(logger, m, lost, "no valid join acknowledgement: "+describe(sides, errs))
		return
	}
	c.move(logger, m, StateChoicePending, "both players joined")

	deadline := c.now().Add(c.cfg.MoveTimeout).UTC()
	var choices [2]string
	errs = c.both(ctx, sides, func(ctx context.Context, i int, s side) error {
		choice, err := c.collect(ctx, f, rules, s, deadline)
		choices[i] = choice
		return err
	})
	for i, s := range sides {
		if errs[i] == nil {
			m.Choices[s.id] = choices[i]
		}
	}
	if lost := failed(sides, errs, nil); len(lost) > 0 {
		c.fail(logger, m, lost, "no valid choice: "+describe(sides, errs))
		return
	}
	c.move(logger, m, StateResolving, "both choices received")

	drawn := c.draw(rules)
	res := rules.Resolve(choices[0], choices[1], drawn)
	m.Drawn = drawn
	m.Reason = res.Reason
	switch res.Winner {
	case game.SideA:
		m.Winner = m.PlayerA
	case game.SideB:
		m.Winner = m.PlayerB
	}
	c.move(logger, m, StateReported, "outcome resolved")
}

// both runs fn for the two sides concurrently and collects their errors.
func (c *Coordinator) both(ctx context.Context, sides [2]side, fn func(context.Context, int, side) error) [2]error {
	var errs [2]error
	var g errgroup.Group
	for i, s := range sides {
		g.Go(func() error {
			errs[i] = fn(ctx, i, s)
			return nil
		})
	}
	g.Wait()
	return errs
}

// undelivered matches failures where the message never reached the player.
func undelivered(err error) bool {
	var callErr *resilience.Error
	if !errors.As(err, &callErr) {
		return false
	}
	return callErr.Kind == resilience.KindConnection || callErr.Kind == resilience.KindCircuit
}

func failed(sides [2]side, errs [2]error, match func(error) bool) []string {
	var ids []string
	for i, err := range errs {
		if err != nil && (match == nil || match(err)) {
			ids = append(ids, sides[i].id)
		}
	}
	return ids
}

func describe(sides [2]side, errs [2]error) string {
	var parts []string
	for i, err := range errs {
		if err != nil {
			parts = append(parts, fmt.Sprintf("%s: %v", sides[i].id, err))
		}
	}
	return strings.Join(parts, "; ")
}

func (c *Coordinator) invite(ctx context.Context, f Fixture, s side) error {
	inv := protocol.GameInvitation{
		Envelope:    c.envelope(protocol.TypeGameInvitation, f),
		GameType:    f.GameType,
		RoleInMatch: s.role,
		OpponentID:  s.opponent,
	}
	var ack protocol.GameJoinAck
	err := c.client.Invoke(ctx, s.addr, protocol.MethodGameInvitation, inv, &ack,
		resilience.WithTimeout(c.cfg.JoinTimeout))
	if err != nil {
		return err
	}
	if err := c.verify(&ack.Envelope, protocol.TypeGameJoinAck, s.id); err != nil {
		return err
	}
	if ack.PlayerID != s.id {
		return fmt.Errorf("%w: join ack names %q", ErrBadReply, ack.PlayerID)
	}
	if !ack.Accept {
		return fmt.Errorf("%w: invitation declined", ErrBadReply)
	}
	return nil
}

func (c *Coordinator) collect(ctx context.Context, f Fixture, rules game.Rules, s side, deadline time.Time) (string, error) {
	call := protocol.ChooseParityCall{
		Envelope: c.envelope(protocol.TypeChooseParityCall, f),
		PlayerID: s.id,
		GameType: f.GameType,
		Context:  protocol.ChoiceContext{OpponentID: s.opponent, RoundID: f.Pairing.Round},
		Deadline: deadline,
	}
	var resp protocol.ChooseParityResponse
	err := c.client.Invoke(ctx, s.addr, protocol.MethodChooseParity, call, &resp,
		resilience.WithTimeout(c.cfg.MoveTimeout))
	if err != nil {
		return "", err
	}
	if err := c.verify(&resp.Envelope, protocol.TypeChooseParityResponse, s.id); err != nil {
		return "", err
	}
	if resp.PlayerID != s.id {
		return "", fmt.Errorf("%w: choice names %q", ErrBadReply, resp.PlayerID)
	}
	return rules.ParseChoice(resp.ParityChoice)
}

// verify checks that a reply is a well-formed message of wantType sent and
// signed by playerID.
func (c *Coordinator) verify(env *protocol.Envelope, wantType, playerID string) error {
	if err := env.Validate(); err != nil {
		return err
	}
	if env.MessageType != wantType {
		return fmt.Errorf("%w: got %s, want %s", ErrBadReply, env.MessageType, wantType)
	}
	role, id, _ := protocol.ParseSender(env.Sender)
	if role != league.RolePlayer || id != playerID {
		return fmt.Errorf("%w: sender %q", ErrBadReply, env.Sender)
	}
	return c.tokens.Validate(env.AuthToken, playerID)
}

func (c *Coordinator) envelope(messageType string, f Fixture) protocol.Envelope {
	env := protocol.NewEnvelope(messageType, league.RoleReferee, c.cfg.RefereeID)
	env.AuthToken = c.cfg.AuthToken
	env.LeagueID = f.LeagueID
	env.RoundID = f.Pairing.Round
	env.MatchID = f.Pairing.MatchID
	return env
}

func (c *Coordinator) draw(rules game.Rules) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return rules.Draw(c.rng)
}

func (c *Coordinator) fail(logger *slog.Logger, m *Match, lost []string, reason string) {
	m.forfeit(lost, reason)
	c.move(logger, m, StateTechnicalLoss, reason)
}

func (c *Coordinator) move(logger *slog.Logger, m *Match, to State, event string) {
	from := m.State
	if err := m.transition(to, event, c.now()); err != nil {
		logger.Error("illegal match transition", "from", from, "to", to, "error", err)
		return
	}
	logger.Info("match state transition", "from", from, "to", to, "event", event)
}

// finish tells both players the result and reports it to the league. The
// notices are best effort; only the report error is returned.
func (c *Coordinator) finish(ctx context.Context, logger *slog.Logger, f Fixture, o league.Outcome) error {
	result := protocol.GameResult{
		Status:      o.Status,
		Winner:      o.Winner,
		DrawnNumber: o.DrawnNumber,
		Choices:     o.Choices,
		Reason:      o.Reason,
	}
	if o.DrawnNumber > 0 && f.GameType == game.EvenOdd {
		result.NumberParity = game.ParityOf(o.DrawnNumber)
	}

	var g errgroup.Group
	for _, p := range []protocol.Endpoint{f.PlayerA, f.PlayerB} {
		g.Go(func() error {
			msg := protocol.GameOver{Envelope: c.envelope(protocol.TypeGameOver, f), Result: result}
			var ack protocol.NotificationAck
			err := c.client.Invoke(ctx, p.Address, protocol.MethodNotifyGameOver, msg, &ack,
				resilience.WithTimeout(c.cfg.NotifyTimeout))
			if err != nil {
				logger.Warn("game over notice not delivered", "player_id", p.ID, "error", err)
			}
			return nil
		})
	}

	err := c.reporter.Report(ctx, o)
	g.Wait()
	return err
}

func (c *Coordinator) record(ctx context.Context, logger *slog.Logger, m *Match, o league.Outcome) {
	if c.records == nil {
		return
	}
	rec := Record{Outcome: o, State: m.State, History: m.History}
	if err := c.records.Save(context.WithoutCancel(ctx), RecordKey(m.ID), rec); err != nil {
		logger.Error("saving match record", "error", err)
	}
}
