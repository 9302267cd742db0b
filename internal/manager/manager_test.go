package manager_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/playperu/league/internal/agent"
	"github.com/playperu/league/internal/config"
	"github.com/playperu/league/internal/league"
	"github.com/playperu/league/internal/manager"
	"github.com/playperu/league/internal/protocol"
)

func TestRegistrationRPC(t *testing.T) {
	e := newManager(t, func(l *config.League) { l.MaxPlayers = 2 })

	p1 := register(t, e, league.RolePlayer, "http://p1.test/mcp")
	if p1.ID != "P01" || p1.LeagueID != leagueID {
		t.Errorf("identity = %+v", p1)
	}
	if err := e.authority.Validate(p1.Token, "P01"); err != nil {
		t.Errorf("token: %v", err)
	}
	ref := register(t, e, league.RoleReferee, "http://r1.test/mcp")
	if ref.ID != "REF01" {
		t.Errorf("referee id = %s", ref.ID)
	}
	register(t, e, league.RolePlayer, "http://p2.test/mcp")

	_, err := agent.Register(context.Background(), newClient(), e.rpcURL(), league.RolePlayer,
		meta("http://p3.test/mcp"), time.Second)
	if !errors.Is(err, agent.ErrRejected) {
		t.Errorf("third player: err = %v, want ErrRejected", err)
	}

	// A player cannot register as a referee.
	req := protocol.RegisterRequest{
		Envelope: protocol.NewEnvelope(protocol.TypeRefereeRegisterRequest, league.RolePlayer, "unregistered"),
		Meta:     meta("http://x.test/mcp"),
	}
	resp := call(t, e.rpcURL(), protocol.MethodRegisterReferee, req)
	if resp.Error == nil || resp.Error.Code != protocol.CodeInvalidParams {
		t.Errorf("mismatched role: error = %+v, want invalid params", resp.Error)
	}
}

func TestLeagueQuery(t *testing.T) {
	e := newManager(t, nil)
	p1 := register(t, e, league.RolePlayer, "http://p1.test/mcp")
	register(t, e, league.RolePlayer, "http://p2.test/mcp")

	query := func(token, queryType string) protocol.Response {
		q := protocol.LeagueQuery{
			Envelope:  protocol.NewEnvelope(protocol.TypeLeagueQuery, league.RolePlayer, p1.ID),
			QueryType: queryType,
		}
		q.AuthToken = token
		return call(t, e.rpcURL(), protocol.MethodLeagueQuery, q)
	}

	resp := query(p1.Token, protocol.QueryPlayers)
	if resp.Error != nil {
		t.Fatalf("query: %v", resp.Error)
	}
	var out protocol.LeagueQueryResponse
	if err := resp.Decode(&out); err != nil {
		t.Fatal(err)
	}
	if len(out.Players) != 2 {
		t.Fatalf("players = %d, want 2", len(out.Players))
	}
	for _, p := range out.Players {
		if p.Token != "" {
			t.Errorf("%s token leaked", p.ID)
		}
	}

	tests := []struct {
		name      string
		token     string
		queryType string
		code      int
	}{
		{"missing token", "", protocol.QueryStandings, protocol.CodeUnauthorized},
		{"garbage token", "not-a-token", protocol.QueryStandings, protocol.CodeUnauthorized},
		{"unknown query", p1.Token, "GET_EVERYTHING", protocol.CodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := query(tt.token, tt.queryType)
			if resp.Error == nil || resp.Error.Code != tt.code {
				t.Errorf("error = %+v, want code %d", resp.Error, tt.code)
			}
		})
	}
}

func TestReportMatchResultRejected(t *testing.T) {
	e := newManager(t, nil)
	ref := register(t, e, league.RoleReferee, "http://r1.test/mcp")
	register(t, e, league.RolePlayer, "http://p1.test/mcp")
	register(t, e, league.RolePlayer, "http://p2.test/mcp")
	if status := control(t, http.MethodPost, e.url+"/api/league/start", nil); status != http.StatusOK {
		t.Fatalf("start: status %d", status)
	}

	report := func(sender, token string, o league.Outcome) protocol.Response {
		env := protocol.NewEnvelope(protocol.TypeMatchResultReport, league.RoleReferee, sender)
		env.AuthToken = token
		return call(t, e.rpcURL(), protocol.MethodReportMatchResult, protocol.MatchResultReport{Envelope: env, Result: o})
	}
	valid := league.Outcome{
		MatchID: "R1M1", Round: 1, PlayerA: "P01", PlayerB: "P02", Referee: ref.ID,
		Status: league.OutcomeWin, Winner: "P01", CompletedAt: time.Now().UTC(),
	}

	tests := []struct {
		name   string
		sender string
		token  string
		edit   func(*league.Outcome)
		code   int
	}{
		{"unregistered referee", "REF09", ref.Token, nil, protocol.CodeUnauthorized},
		{"bad token", ref.ID, "forged", nil, protocol.CodeUnauthorized},
		{"unknown match", ref.ID, ref.Token, func(o *league.Outcome) { o.MatchID = "R9M9" }, protocol.CodeInvalidParams},
		{"wrong players", ref.ID, ref.Token, func(o *league.Outcome) { o.PlayerB = "P03" }, protocol.CodeInvalidParams},
		{"claims another referee", ref.ID, ref.Token, func(o *league.Outcome) { o.Referee = "REF02" }, protocol.CodeUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := valid
			if tt.edit != nil {
				tt.edit(&o)
			}
			resp := report(tt.sender, tt.token, o)
			if resp.Error == nil || resp.Error.Code != tt.code {
				t.Errorf("error = %+v, want code %d", resp.Error, tt.code)
			}
		})
	}

	// Round 1 has not begun.
	resp := report(ref.ID, ref.Token, valid)
	if resp.Error == nil || resp.Error.Code != protocol.CodeInvalidParams {
		t.Errorf("report before the round: error = %+v, want invalid params", resp.Error)
	}
}

func TestControlAPI(t *testing.T) {
	e := newManager(t, nil)
	api := e.url + "/api/league"

	resp, err := http.Post(api+"/start", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("start without credentials: status %d, want 401", resp.StatusCode)
	}

	if status := control(t, http.MethodPost, api+"/rounds/next", nil); status != http.StatusConflict {
		t.Errorf("next round before start: status %d, want 409", status)
	}
	if status := control(t, http.MethodPost, api+"/run", nil); status != http.StatusConflict {
		t.Errorf("run before start: status %d, want 409", status)
	}

	register(t, e, league.RolePlayer, "http://p1.test/mcp")
	if status := control(t, http.MethodPost, api+"/start", nil); status != http.StatusUnprocessableEntity {
		t.Errorf("start with one player: status %d, want 422", status)
	}

	// Without referees the schedule cannot be built; registration stays open.
	register(t, e, league.RolePlayer, "http://p2.test/mcp")
	if status := control(t, http.MethodPost, api+"/start", nil); status != http.StatusUnprocessableEntity {
		t.Errorf("start without referees: status %d, want 422", status)
	}
	register(t, e, league.RoleReferee, "http://r1.test/mcp")

	var sched league.Schedule
	if status := control(t, http.MethodPost, api+"/start", &sched); status != http.StatusOK {
		t.Fatalf("start: status %d", status)
	}
	if len(sched.Rounds) != 1 || sched.Rounds[0].Pairings[0].Referee != "REF01" {
		t.Errorf("schedule = %+v", sched)
	}
	if status := control(t, http.MethodPost, api+"/start", nil); status != http.StatusConflict {
		t.Errorf("second start: status %d, want 409", status)
	}

	var view manager.LeagueView
	if status := control(t, http.MethodGet, api, &view); status != http.StatusOK {
		t.Fatalf("status: %d", status)
	}
	if view.Status != league.LeagueInProgress || view.Players != 2 || view.Referees != 1 || view.Rounds != 1 {
		t.Errorf("view = %+v", view)
	}

	var players manager.PlayersResponse
	control(t, http.MethodGet, api+"/players", &players)
	if len(players.Players) != 2 || players.Players[0].Token != "" {
		t.Errorf("players = %+v", players)
	}
}

func TestOpenAPIServed(t *testing.T) {
	e := newManager(t, nil)
	resp, err := http.Get(e.url + "/openapi.json")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status %d", resp.StatusCode)
	}
}
