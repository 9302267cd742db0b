package manager_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/playperu/league/internal/agent"
	"github.com/playperu/league/internal/league"
	"github.com/playperu/league/internal/manager"
	"github.com/playperu/league/internal/player"
	"github.com/playperu/league/internal/referee"
	"github.com/playperu/league/internal/store"
)

// TestLeague plays a four player league over HTTP with one referee.
func TestLeague(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()
	e := newManager(t, nil)

	rsrv, rmux := serve(t)
	ref := referee.New(referee.Config{
		DisplayName:       "Ref",
		PublicURL:         rsrv.URL + "/mcp",
		ManagerURL:        e.rpcURL(),
		LeagueID:          leagueID,
		JoinTimeout:       2 * time.Second,
		MoveTimeout:       2 * time.Second,
		CallTimeout:       2 * time.Second,
		ReconcileInterval: time.Hour,
	}, newClient(), e.authority, store.NewMemory(), discard())
	rmux.Handle("/mcp", ref.RPC())
	if _, err := ref.Register(ctx); err != nil {
		t.Fatal(err)
	}

	workCtx, stopWork := context.WithCancel(ctx)
	worked := make(chan error, 1)
	go func() { worked <- ref.Work(workCtx) }()

	strategies := []string{"even", "odd", "random", "adaptive"}
	players := make([]*player.Player, len(strategies))
	for i, name := range strategies {
		psrv, pmux := serve(t)
		p, err := player.New(player.Config{
			DisplayName:  fmt.Sprintf("Player %d", i+1),
			PublicURL:    psrv.URL + "/mcp",
			ManagerURL:   e.rpcURL(),
			Strategy:     name,
			HistoryLimit: 10,
			CallTimeout:  2 * time.Second,
		}, newClient(), e.authority, store.NewMemory(), discard())
		if err != nil {
			t.Fatal(err)
		}
		pmux.Handle("/mcp", p.RPC())
		if _, err := p.Register(ctx); err != nil {
			t.Fatal(err)
		}
		players[i] = p
	}

	api := e.url + "/api/league"
	var sched league.Schedule
	if status := control(t, http.MethodPost, api+"/start", &sched); status != http.StatusOK {
		t.Fatalf("start: status %d", status)
	}
	if len(sched.Rounds) != 3 || sched.MatchCount() != 6 {
		t.Fatalf("schedule has %d rounds and %d matches, want 3 and 6", len(sched.Rounds), sched.MatchCount())
	}

	late, err := player.New(player.Config{PublicURL: "http://late.test/mcp", ManagerURL: e.rpcURL(), Strategy: "even"},
		newClient(), e.authority, store.NewMemory(), discard())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := late.Register(ctx); !errors.Is(err, agent.ErrRejected) {
		t.Errorf("registration after start: err = %v, want ErrRejected", err)
	}

	for round := 1; round <= 3; round++ {
		var rr manager.RoundResponse
		if status := control(t, http.MethodPost, api+"/rounds/next", &rr); status != http.StatusOK {
			t.Fatalf("round %d: status %d", round, status)
		}
		if rr.Round.Number != round {
			t.Errorf("played round %d, want %d", rr.Round.Number, round)
		}
	}
	if status := control(t, http.MethodPost, api+"/rounds/next", nil); status != http.StatusConflict {
		t.Errorf("round after completion: status %d, want 409", status)
	}

	var view manager.LeagueView
	control(t, http.MethodGet, api, &view)
	if view.Status != league.LeagueCompleted || len(view.Champions) == 0 {
		t.Errorf("league = %+v, want completed with champions", view)
	}
	for id, st := range view.Matches {
		if st != league.MatchCompleted {
			t.Errorf("match %s is %s, want completed", id, st)
		}
	}

	var table manager.StandingsView
	control(t, http.MethodGet, api+"/standings", &table)
	wins, losses, draws, points := 0, 0, 0, 0
	for _, s := range table.Standings {
		if s.Played != 3 || s.Wins+s.Draws+s.Losses != 3 {
			t.Errorf("%s: %+v does not add up to three matches", s.ParticipantID, s)
		}
		wins, losses, draws, points = wins+s.Wins, losses+s.Losses, draws+s.Draws, points+s.Points
	}
	if wins != losses || points != 3*wins+draws {
		t.Errorf("totals: %d wins, %d losses, %d draws, %d points", wins, losses, draws, points)
	}

	// Broadcasts are sent before the round call returns.
	for _, p := range players {
		if got := p.Standings(); len(got) != 4 {
			t.Errorf("player saw %d standings entries, want 4", len(got))
		}
	}

	stopWork()
	if err := <-worked; err != nil {
		t.Errorf("referee work: %v", err)
	}
	for i, p := range players {
		h, err := p.History(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(h) != 3 {
			t.Errorf("player %d history has %d matches, want 3", i+1, len(h))
		}
	}
}

// TestLeagueUnreachableReferee checks that a referee that cannot be reached
// leaves its matches in dispute without stalling the league.
func TestLeagueUnreachableReferee(t *testing.T) {
	e := newManager(t, nil)
	register(t, e, league.RoleReferee, "http://127.0.0.1:1/mcp")
	register(t, e, league.RolePlayer, "http://127.0.0.1:1/p1")
	register(t, e, league.RolePlayer, "http://127.0.0.1:1/p2")

	api := e.url + "/api/league"
	if status := control(t, http.MethodPost, api+"/start", nil); status != http.StatusOK {
		t.Fatalf("start: status %d", status)
	}
	if status := control(t, http.MethodPost, api+"/rounds/next", nil); status != http.StatusOK {
		t.Fatalf("round: status %d", status)
	}

	snap := e.m.Controller().Snapshot()
	if snap.Status != league.LeagueCompleted {
		t.Errorf("status = %s, want completed", snap.Status)
	}
	if st := snap.Matches["R1M1"]; st != league.MatchInDispute {
		t.Errorf("R1M1 = %s, want in_dispute", st)
	}
}
