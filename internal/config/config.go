// Package config reads agent settings from the environment and league rules
// from a YAML file.
package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/playperu/league/internal/resilience"
)

// Retry is read with the RETRY_ prefix.
type Retry struct {
	MaxAttempts  int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	InitialDelay time.Duration `env:"INITIAL_DELAY" envDefault:"1s"`
	MaxDelay     time.Duration `env:"MAX_DELAY" envDefault:"30s"`
}

func (r Retry) Policy() resilience.RetryPolicy {
	return resilience.RetryPolicy{
		MaxAttempts:  r.MaxAttempts,
		InitialDelay: r.InitialDelay,
		MaxDelay:     r.MaxDelay,
	}
}

// Breaker is read with the BREAKER_ prefix.
type Breaker struct {
	Threshold       int           `env:"THRESHOLD" envDefault:"5"`
	RecoveryTimeout time.Duration `env:"RECOVERY_TIMEOUT" envDefault:"60s"`
}

func (b Breaker) Config() resilience.BreakerConfig {
	return resilience.BreakerConfig{
		Threshold:       b.Threshold,
		RecoveryTimeout: b.RecoveryTimeout,
	}
}

type Manager struct {
	HTTPAddr          string        `env:"HTTP_ADDR" envDefault:":8000"`
	PublicURL         string        `env:"PUBLIC_URL" envDefault:"http://localhost:8000/mcp"`
	LogLevel          slog.Level    `env:"LOG_LEVEL" envDefault:"INFO"`
	DBPath            string        `env:"DB_PATH" envDefault:"data/manager.db"`
	LeagueFile        string        `env:"LEAGUE_FILE"`
	TokenSecret       string        `env:"TOKEN_SECRET,required"`
	TokenTTL          time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
	AdminUser         string        `env:"ADMIN_USER" envDefault:"admin"`
	AdminPasswordHash string        `env:"ADMIN_PASSWORD_HASH"`
	CallTimeout       time.Duration `env:"CALL_TIMEOUT" envDefault:"10s"`
	Retry             Retry         `envPrefix:"RETRY_"`
	Breaker           Breaker       `envPrefix:"BREAKER_"`
}

type Referee struct {
	HTTPAddr          string        `env:"HTTP_ADDR" envDefault:":8001"`
	PublicURL         string        `env:"PUBLIC_URL" envDefault:"http://localhost:8001/mcp"`
	ManagerURL        string        `env:"MANAGER_URL" envDefault:"http://localhost:8000/mcp"`
	DisplayName       string        `env:"DISPLAY_NAME" envDefault:"Referee"`
	LogLevel          slog.Level    `env:"LOG_LEVEL" envDefault:"INFO"`
	DBPath            string        `env:"DB_PATH" envDefault:"data/referee.db"`
	TokenSecret       string        `env:"TOKEN_SECRET,required"`
	LeagueID          string        `env:"LEAGUE_ID" envDefault:"league_2025_even_odd"`
	JoinTimeout       time.Duration `env:"JOIN_TIMEOUT" envDefault:"5s"`
	MoveTimeout       time.Duration `env:"MOVE_TIMEOUT" envDefault:"30s"`
	CallTimeout       time.Duration `env:"CALL_TIMEOUT" envDefault:"10s"`
	ReconcileInterval time.Duration `env:"RECONCILE_INTERVAL" envDefault:"15s"`
	Retry             Retry         `envPrefix:"RETRY_"`
	Breaker           Breaker       `envPrefix:"BREAKER_"`
}

type Player struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8101"`
	PublicURL    string        `env:"PUBLIC_URL" envDefault:"http://localhost:8101/mcp"`
	ManagerURL   string        `env:"MANAGER_URL" envDefault:"http://localhost:8000/mcp"`
	DisplayName  string        `env:"DISPLAY_NAME" envDefault:"Player"`
	LogLevel     slog.Level    `env:"LOG_LEVEL" envDefault:"INFO"`
	DBPath       string        `env:"DB_PATH" envDefault:"data/player.db"`
	TokenSecret  string        `env:"TOKEN_SECRET,required"`
	LeagueID     string        `env:"LEAGUE_ID" envDefault:"league_2025_even_odd"`
	Strategy     string        `env:"STRATEGY" envDefault:"random"`
	HistoryLimit int           `env:"HISTORY_LIMIT" envDefault:"100"`
	CallTimeout  time.Duration `env:"CALL_TIMEOUT" envDefault:"10s"`
	Retry        Retry         `envPrefix:"RETRY_"`
	Breaker      Breaker       `envPrefix:"BREAKER_"`
}

// Load parses the environment into T.
func Load[T any]() (*T, error) {
	cfg, err := env.ParseAs[T]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	return &cfg, nil
}
