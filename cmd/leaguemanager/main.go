package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"golang.org/x/sync/errgroup"

	"github.com/playperu/league/internal/auth"
	"github.com/playperu/league/internal/config"
	"github.com/playperu/league/internal/database"
	"github.com/playperu/league/internal/handler/health"
	"github.com/playperu/league/internal/manager"
	"github.com/playperu/league/internal/metrics"
	"github.com/playperu/league/internal/migrations"
	"github.com/playperu/league/internal/resilience"
	"github.com/playperu/league/internal/server"
	"github.com/playperu/league/internal/store"
	"github.com/playperu/league/internal/tournament"
	"github.com/playperu/league/internal/transport"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load[config.Manager]()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	lg, err := config.LoadLeague(cfg.LeagueFile)
	if err != nil {
		return fmt.Errorf("loading league: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})).With("agent", "league_manager")

	// --- SQLite ---
	db, err := database.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("connecting to sqlite: %w", err)
	}
	defer db.Close()

	if err := migrations.Run(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("connected to sqlite", "path", cfg.DBPath)

	// --- League ---
	collector := metrics.New("league_manager")
	breakers := resilience.NewRegistry(cfg.Breaker.Config(), resilience.WithStateHook(func(dest string, from, to resilience.State) {
		collector.ObserveBreaker(dest, from, to)
		logger.Warn("circuit breaker moved", "dest", dest, "from", from.String(), "to", to.String())
	}))
	client := resilience.NewClient(transport.NewHTTP(cfg.CallTimeout), breakers, cfg.Retry.Policy(), logger,
		resilience.WithObserver(collector))
	authority := auth.NewAuthority(cfg.TokenSecret, lg.ID, cfg.TokenTTL)
	broker := server.NewBroker()

	m, err := manager.New(manager.Config{
		League:      lg,
		PublicURL:   cfg.PublicURL,
		CallTimeout: cfg.CallTimeout,
	}, store.NewSQLite(db), authority, client, broker, logger, tournament.WithObserver(collector))
	if err != nil {
		return err
	}
	if err := m.Restore(ctx); err != nil {
		return err
	}
	if cfg.AdminPasswordHash == "" {
		logger.Warn("ADMIN_PASSWORD_HASH is empty, league control routes are locked")
	}
	logger.Info("league ready", "league_id", lg.ID, "game_type", lg.GameType, "status", m.Controller().Status())

	// --- HTTP Server ---
	srv := server.New(cfg.HTTPAddr, logger, func(r chi.Router) {
		r.Mount("/healthz", health.NewHandler(logger, map[string]health.Checker{
			"sqlite": health.DB(db),
		}).Routes())
		r.Handle("/metrics", collector.Handler())
		m.Mount(r, auth.AdminGuard(cfg.AdminUser, cfg.AdminPasswordHash))
	})

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		return m.Work(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return srv.Shutdown(context.Background())
	})

	return g.Wait()
}
