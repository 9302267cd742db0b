package manager_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/playperu/league/internal/auth"
	"github.com/playperu/league/internal/league"
	"github.com/playperu/league/internal/manager"
	"github.com/playperu/league/internal/protocol"
	"github.com/playperu/league/internal/store"
)

func meta(addr string) protocol.AgentMeta {
	return protocol.AgentMeta{DisplayName: addr, Version: "1.0.0", ContactEndpoint: addr}
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	authority := auth.NewAuthority("secret", "L1", time.Hour)
	st := store.NewMemory()
	reg := manager.NewRegistry("L1", 2, authority, st)

	p1, err := reg.Register(ctx, league.RolePlayer, meta("http://p1/mcp"))
	if err != nil {
		t.Fatal(err)
	}
	p2, err := reg.Register(ctx, league.RolePlayer, meta("http://p2/mcp"))
	if err != nil {
		t.Fatal(err)
	}
	ref, err := reg.Register(ctx, league.RoleReferee, meta("http://r1/mcp"))
	if err != nil {
		t.Fatal(err)
	}
	if p1.ID != "P01" || p2.ID != "P02" || ref.ID != "REF01" {
		t.Errorf("ids = %s %s %s, want P01 P02 REF01", p1.ID, p2.ID, ref.ID)
	}
	if err := authority.Validate(p2.Token, "P02"); err != nil {
		t.Errorf("issued token does not validate: %v", err)
	}

	again, err := reg.Register(ctx, league.RolePlayer, meta("http://p1/mcp"))
	if err != nil {
		t.Fatal(err)
	}
	if again.ID != p1.ID || again.Token != p1.Token {
		t.Errorf("re-registration = %s, want original %s", again.ID, p1.ID)
	}

	if _, err := reg.Register(ctx, league.RolePlayer, meta("http://p3/mcp")); !errors.Is(err, manager.ErrLeagueFull) {
		t.Errorf("third player: err = %v, want ErrLeagueFull", err)
	}
	if _, err := reg.Register(ctx, league.RoleManager, meta("http://m/mcp")); !errors.Is(err, manager.ErrInvalidAgent) {
		t.Errorf("manager role: err = %v, want ErrInvalidAgent", err)
	}
	if _, err := reg.Register(ctx, league.RoleReferee, meta("")); !errors.Is(err, manager.ErrInvalidAgent) {
		t.Errorf("missing endpoint: err = %v, want ErrInvalidAgent", err)
	}

	if err := reg.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.Register(ctx, league.RoleReferee, meta("http://r2/mcp")); !errors.Is(err, manager.ErrRegistrationClosed) {
		t.Errorf("after close: err = %v, want ErrRegistrationClosed", err)
	}
	if _, err := reg.Register(ctx, league.RoleReferee, meta("http://r1/mcp")); err != nil {
		t.Errorf("known referee after close: %v", err)
	}

	restored := manager.NewRegistry("L1", 2, authority, st)
	if err := restored.Restore(ctx); err != nil {
		t.Fatal(err)
	}
	if got, ok := restored.Lookup("P02"); !ok || got.Address != "http://p2/mcp" {
		t.Errorf("restored P02 = %+v, %v", got, ok)
	}
	if _, err := restored.Register(ctx, league.RoleReferee, meta("http://r3/mcp")); !errors.Is(err, manager.ErrRegistrationClosed) {
		t.Errorf("restored registry admits agents: %v", err)
	}
}

func TestPublicStripsTokens(t *testing.T) {
	ps := []league.Participant{{ID: "P01", Token: "t1"}, {ID: "P02", Token: "t2"}}
	for _, p := range manager.Public(ps) {
		if p.Token != "" {
			t.Errorf("%s keeps its token", p.ID)
		}
	}
	if ps[0].Token != "t1" {
		t.Error("Public modified its input")
	}
}

func TestInbox(t *testing.T) {
	in := manager.NewInbox()
	if in.Deliver(league.Outcome{MatchID: "R1M1"}) {
		t.Error("Deliver without a waiter reported success")
	}

	ch := in.Expect("R1M1")
	if !in.Deliver(league.Outcome{MatchID: "R1M1", Winner: "P01"}) {
		t.Fatal("Deliver to a waiter failed")
	}
	if o := <-ch; o.Winner != "P01" {
		t.Errorf("received %+v", o)
	}
	if in.Deliver(league.Outcome{MatchID: "R1M1"}) {
		t.Error("second Deliver reached a satisfied waiter")
	}

	in.Expect("R1M2")
	in.Forget("R1M2")
	if in.Deliver(league.Outcome{MatchID: "R1M2"}) {
		t.Error("Deliver reached a forgotten waiter")
	}
}
