package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/playperu/league/internal/config"
	"github.com/playperu/league/internal/standings"
)

func TestLoadRefereeDefaults(t *testing.T) {
	t.Setenv("TOKEN_SECRET", "s3cret")
	t.Setenv("RETRY_MAX_ATTEMPTS", "5")
	t.Setenv("BREAKER_RECOVERY_TIMEOUT", "2m")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := config.Load[config.Referee]()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.HTTPAddr != ":8001" || cfg.JoinTimeout != 5*time.Second || cfg.MoveTimeout != 30*time.Second {
		t.Errorf("defaults not applied: %+v", cfg)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want DEBUG", cfg.LogLevel)
	}
	if cfg.Retry.MaxAttempts != 5 || cfg.Retry.InitialDelay != time.Second {
		t.Errorf("Retry = %+v", cfg.Retry)
	}
	if got := cfg.Breaker.Config(); got.Threshold != 5 || got.RecoveryTimeout != 2*time.Minute {
		t.Errorf("Breaker = %+v", got)
	}
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("TOKEN_SECRET", "")
	os.Unsetenv("TOKEN_SECRET")

	if _, err := config.Load[config.Manager](); err == nil {
		t.Error("Load succeeded without TOKEN_SECRET")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "league.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadLeague(t *testing.T) {
	path := writeFile(t, `
league_id: league_test
scoring:
  win: 2
  draw: 1
max_players: 8
round_timeout: 90s
`)

	got, err := config.LoadLeague(path)
	if err != nil {
		t.Fatalf("LoadLeague: %v", err)
	}

	want := config.DefaultLeague()
	want.ID = "league_test"
	want.Scoring = standings.Scoring{Win: 2, Draw: 1}
	want.MaxPlayers = 8
	want.RoundTimeout = 90 * time.Second

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("LoadLeague mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadLeagueEmptyPath(t *testing.T) {
	got, err := config.LoadLeague("")
	if err != nil {
		t.Fatalf("LoadLeague: %v", err)
	}
	if diff := cmp.Diff(config.DefaultLeague(), got); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadLeagueInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "unknown game", body: "game_type: chess\n"},
		{name: "min players", body: "min_players: 1\n"},
		{name: "max below min", body: "min_players: 4\nmax_players: 3\n"},
		{name: "empty id", body: "league_id: \"\"\n"},
		{name: "not yaml", body: "league_id: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.LoadLeague(writeFile(t, tt.body))
			if !errors.Is(err, config.ErrInvalidLeague) {
				t.Errorf("LoadLeague = %v, want ErrInvalidLeague", err)
			}
		})
	}
}
