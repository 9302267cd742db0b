// Package manager is the league manager agent: it registers referees and
// players, drives the tournament through remote referees and keeps
// everyone informed of the standings.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/playperu/league/internal/auth"
	"github.com/playperu/league/internal/config"
	"github.com/playperu/league/internal/league"
	"github.com/playperu/league/internal/resilience"
	"github.com/playperu/league/internal/server"
	"github.com/playperu/league/internal/store"
	"github.com/playperu/league/internal/tournament"
)

// FeedTopic is the broker topic carrying league events for spectators.
const FeedTopic = "league"

var (
	ErrTooFewPlayers = errors.New("not enough players registered")
	ErrRunPending    = errors.New("a league run is already pending")
)

type Config struct {
	// ID is the manager's participant id in message senders.
	ID     string
	League config.League
	// PublicURL is where referees send their reports.
	PublicURL     string
	CallTimeout   time.Duration
	NotifyTimeout time.Duration
}

type Manager struct {
	cfg        Config
	token      string
	registry   *Registry
	controller *tournament.Controller
	inbox      *Inbox
	authority  *auth.Authority
	client     *resilience.Client
	broker     *server.Broker
	logger     *slog.Logger

	// startMu makes the status check, closing registration and scheduling
	// one step.
	startMu sync.Mutex
	runs    chan struct{}
}

// New wires a manager. Extra controller options such as a round observer
// are passed through.
func New(cfg Config, st store.Store, authority *auth.Authority, client *resilience.Client, broker *server.Broker, logger *slog.Logger, opts ...tournament.Option) (*Manager, error) {
	if cfg.ID == "" {
		cfg.ID = "LM01"
	}
	if cfg.NotifyTimeout <= 0 {
		cfg.NotifyTimeout = 5 * time.Second
	}
	token, err := authority.Issue(league.Participant{ID: cfg.ID, Role: league.RoleManager})
	if err != nil {
		return nil, fmt.Errorf("issuing manager token: %w", err)
	}

	m := &Manager{
		cfg:       cfg,
		token:     token,
		registry:  NewRegistry(cfg.League.ID, cfg.League.MaxPlayers, authority, st),
		inbox:     NewInbox(),
		authority: authority,
		client:    client,
		broker:    broker,
		logger:    logger,
		runs:      make(chan struct{}, 1),
	}
	runner := &RemoteRunner{
		id:          cfg.ID,
		token:       token,
		leagueID:    cfg.League.ID,
		gameType:    cfg.League.GameType,
		reportTo:    cfg.PublicURL,
		wait:        cfg.League.MatchTimeout,
		callTimeout: cfg.CallTimeout,
		registry:    m.registry,
		client:      client,
		inbox:       m.inbox,
	}
	m.controller = tournament.New(tournament.Config{
		LeagueID:     cfg.League.ID,
		GameType:     cfg.League.GameType,
		Scoring:      cfg.League.Scoring,
		RoundTimeout: cfg.League.RoundTimeout,
	}, runner, st, logger, append(opts, tournament.WithNotifier(m))...)
	return m, nil
}

// Restore reloads the roster and the league document after a restart.
func (m *Manager) Restore(ctx context.Context) error {
	if err := m.registry.Restore(ctx); err != nil {
		return err
	}
	return m.controller.Restore(ctx)
}

func (m *Manager) Registry() *Registry                { return m.registry }
func (m *Manager) Controller() *tournament.Controller { return m.controller }

// Start closes registration and schedules the registered players.
func (m *Manager) Start(ctx context.Context) (league.Schedule, error) {
	m.startMu.Lock()
	defer m.startMu.Unlock()

	if m.controller.Status() != league.LeagueNotStarted {
		return league.Schedule{}, tournament.ErrAlreadyStarted
	}
	players := m.registry.Players()
	if len(players) < m.cfg.League.MinPlayers {
		return league.Schedule{}, fmt.Errorf("%w: have %d, need %d", ErrTooFewPlayers, len(players), m.cfg.League.MinPlayers)
	}
	if err := m.registry.Close(ctx); err != nil {
		return league.Schedule{}, fmt.Errorf("closing registration: %w", err)
	}
	sched, err := m.controller.Start(ctx, m.registry.Players(), m.registry.Referees())
	if errors.Is(err, tournament.ErrAlreadyStarted) {
		return league.Schedule{}, err
	}
	if err != nil {
		if rerr := m.registry.Reopen(ctx); rerr != nil {
			m.logger.Error("reopening registration", "error", rerr)
		}
		return league.Schedule{}, err
	}
	return sched, nil
}

// RequestRun queues a full league run for Work.
func (m *Manager) RequestRun() error {
	select {
	case m.runs <- struct{}{}:
		return nil
	default:
		return ErrRunPending
	}
}

// Work plays queued league runs until ctx is done.
func (m *Manager) Work(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.runs:
			snap, err := m.controller.Run(ctx)
			if err != nil {
				m.logger.Error("league run stopped", "error", err, "current_round", snap.CurrentRound)
				continue
			}
			m.logger.Info("league run finished", "status", snap.Status, "champions", snap.Champions)
		}
	}
}
