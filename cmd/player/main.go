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
	"github.com/playperu/league/internal/metrics"
	"github.com/playperu/league/internal/migrations"
	"github.com/playperu/league/internal/player"
	"github.com/playperu/league/internal/resilience"
	"github.com/playperu/league/internal/server"
	"github.com/playperu/league/internal/store"
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
	cfg, err := config.Load[config.Player]()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	})).With("agent", "player")

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

	// --- Player ---
	collector := metrics.New("player")
	breakers := resilience.NewRegistry(cfg.Breaker.Config(), resilience.WithStateHook(collector.ObserveBreaker))
	client := resilience.NewClient(transport.NewHTTP(cfg.CallTimeout), breakers, cfg.Retry.Policy(), logger,
		resilience.WithObserver(collector))

	p, err := player.New(player.Config{
		DisplayName:  cfg.DisplayName,
		PublicURL:    cfg.PublicURL,
		ManagerURL:   cfg.ManagerURL,
		Strategy:     cfg.Strategy,
		HistoryLimit: cfg.HistoryLimit,
		CallTimeout:  cfg.CallTimeout,
	}, client, auth.NewAuthority(cfg.TokenSecret, cfg.LeagueID, 0), store.NewSQLite(db), logger)
	if err != nil {
		return err
	}

	// --- HTTP Server ---
	srv := server.New(cfg.HTTPAddr, logger, func(r chi.Router) {
		r.Mount("/healthz", health.NewHandler(logger, map[string]health.Checker{
			"sqlite":  health.DB(db),
			"manager": health.Peer(breakers, cfg.ManagerURL),
		}).Routes())
		r.Handle("/metrics", collector.Handler())
		r.Handle("/mcp", p.RPC())
	})

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		_, err := p.Register(gctx)
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return srv.Shutdown(context.Background())
	})

	return g.Wait()
}
