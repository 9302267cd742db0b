package player_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/playperu/league/internal/agent"
	"github.com/playperu/league/internal/auth"
	"github.com/playperu/league/internal/game"
	"github.com/playperu/league/internal/league"
	"github.com/playperu/league/internal/player"
	"github.com/playperu/league/internal/protocol"
	"github.com/playperu/league/internal/store"
	"github.com/playperu/league/internal/strategy"
)

var authority = auth.NewAuthority("secret", "L1", time.Hour)

func tokenFor(id string, role league.Role) string {
	tok, err := authority.Issue(league.Participant{ID: id, Role: role})
	if err != nil {
		panic(err)
	}
	return tok
}

func fromManager(messageType string) protocol.Envelope {
	env := protocol.NewEnvelope(messageType, league.RoleManager, "LM01")
	env.AuthToken = tokenFor("LM01", league.RoleManager)
	return env
}

type harness struct {
	p   *player.Player
	url string
}

func setup(t *testing.T, strategyName string, limit int, registered bool) harness {
	t.Helper()
	p, err := player.New(player.Config{
		DisplayName:  "Tester",
		PublicURL:    "http://p1.test/mcp",
		Strategy:     strategyName,
		HistoryLimit: limit,
	}, nil, authority, store.NewMemory(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}
	if registered {
		p.SetIdentity(agent.Identity{ID: "P01", Token: "tok-P01", LeagueID: "L1"})
	}
	srv := httptest.NewServer(p.RPC())
	t.Cleanup(srv.Close)
	return harness{p: p, url: srv.URL}
}

func (h harness) call(t *testing.T, method string, params, out any) *protocol.Error {
	t.Helper()
	req, err := protocol.NewRequest(method, params)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := json.Marshal(req)
	resp, err := http.Post(h.url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var r protocol.Response
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		t.Fatal(err)
	}
	if r.Error != nil {
		return r.Error
	}
	if err := r.Decode(out); err != nil {
		t.Fatal(err)
	}
	return nil
}

func fromReferee(messageType, matchID string) protocol.Envelope {
	env := protocol.NewEnvelope(messageType, league.RoleReferee, "REF01")
	env.AuthToken = tokenFor("REF01", league.RoleReferee)
	env.LeagueID = "L1"
	env.RoundID = 1
	env.MatchID = matchID
	return env
}

func TestInvitation(t *testing.T) {
	h := setup(t, "even", 10, true)

	inv := protocol.GameInvitation{
		Envelope:    fromReferee(protocol.TypeGameInvitation, "R1M1"),
		GameType:    game.EvenOdd,
		RoleInMatch: "PLAYER_A",
		OpponentID:  "P02",
	}
	var ack protocol.GameJoinAck
	if rpcErr := h.call(t, protocol.MethodGameInvitation, inv, &ack); rpcErr != nil {
		t.Fatal(rpcErr)
	}
	if !ack.Accept || ack.PlayerID != "P01" || ack.AuthToken != "tok-P01" {
		t.Errorf("ack = %+v", ack)
	}
	if ack.Sender != "player:P01" || ack.MessageType != protocol.TypeGameJoinAck || ack.ConversationID != inv.ConversationID {
		t.Errorf("ack envelope = %+v", ack.Envelope)
	}

	inv.GameType = "chess"
	if rpcErr := h.call(t, protocol.MethodGameInvitation, inv, &ack); rpcErr != nil {
		t.Fatal(rpcErr)
	}
	if ack.Accept {
		t.Error("accepted an unknown game type")
	}

	forged := []struct {
		name   string
		sender string
		token  string
	}{
		{name: "player sender", sender: protocol.Sender(league.RolePlayer, "P02"), token: tokenFor("P02", league.RolePlayer)},
		{name: "no token", sender: protocol.Sender(league.RoleReferee, "REF01")},
		{name: "token of another referee", sender: protocol.Sender(league.RoleReferee, "REF01"), token: tokenFor("REF02", league.RoleReferee)},
		{name: "player token under a referee sender", sender: protocol.Sender(league.RoleReferee, "P02"), token: tokenFor("P02", league.RolePlayer)},
		{name: "foreign secret", sender: protocol.Sender(league.RoleReferee, "REF01"), token: foreignToken(t, "REF01")},
	}
	for _, tt := range forged {
		t.Run(tt.name, func(t *testing.T) {
			inv := inv
			inv.GameType = game.EvenOdd
			inv.Sender = tt.sender
			inv.AuthToken = tt.token
			if rpcErr := h.call(t, protocol.MethodGameInvitation, inv, &ack); rpcErr == nil || rpcErr.Code != protocol.CodeUnauthorized {
				t.Errorf("error = %v, want unauthorized", rpcErr)
			}
		})
	}
}

func foreignToken(t *testing.T, id string) string {
	t.Helper()
	tok, err := auth.NewAuthority("other", "L1", time.Hour).Issue(league.Participant{ID: id, Role: league.RoleReferee})
	if err != nil {
		t.Fatal(err)
	}
	return tok
}

func TestUnregistered(t *testing.T) {
	h := setup(t, "even", 10, false)
	inv := protocol.GameInvitation{Envelope: fromReferee(protocol.TypeGameInvitation, "R1M1"), GameType: game.EvenOdd}
	var ack protocol.GameJoinAck
	if rpcErr := h.call(t, protocol.MethodGameInvitation, inv, &ack); rpcErr == nil || rpcErr.Code != protocol.CodeConflict {
		t.Errorf("error = %v, want conflict", rpcErr)
	}
}

func TestChooseParity(t *testing.T) {
	tests := []struct {
		strategy string
		playerID string
		want     string
		code     int
	}{
		{strategy: "even", playerID: "P01", want: game.Even},
		{strategy: "odd", playerID: "P01", want: game.Odd},
		{strategy: "even", playerID: "P02", code: protocol.CodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.strategy+"/"+tt.playerID, func(t *testing.T) {
			h := setup(t, tt.strategy, 10, true)
			call := protocol.ChooseParityCall{
				Envelope: fromReferee(protocol.TypeChooseParityCall, "R1M1"),
				PlayerID: tt.playerID,
				GameType: game.EvenOdd,
				Context:  protocol.ChoiceContext{OpponentID: "P02", RoundID: 1},
				Deadline: time.Now().Add(time.Minute).UTC(),
			}
			var resp protocol.ChooseParityResponse
			rpcErr := h.call(t, protocol.MethodChooseParity, call, &resp)
			if tt.code != 0 {
				if rpcErr == nil || rpcErr.Code != tt.code {
					t.Errorf("error = %v, want code %d", rpcErr, tt.code)
				}
				return
			}
			if rpcErr != nil {
				t.Fatal(rpcErr)
			}
			if resp.ParityChoice != tt.want || resp.PlayerID != "P01" {
				t.Errorf("response = %+v, want %s", resp, tt.want)
			}
		})
	}
}

func gameOver(matchID, winner string, drawn int, status league.OutcomeStatus) protocol.GameOver {
	return protocol.GameOver{
		Envelope: fromReferee(protocol.TypeGameOver, matchID),
		Result: protocol.GameResult{
			Status:      status,
			Winner:      winner,
			DrawnNumber: drawn,
			Choices:     map[string]string{"P01": game.Even, "P02": game.Odd},
		},
	}
}

func TestGameOverHistory(t *testing.T) {
	h := setup(t, "even", 2, true)
	ctx := context.Background()

	inv := protocol.GameInvitation{Envelope: fromReferee(protocol.TypeGameInvitation, "R1M1"), GameType: game.EvenOdd, OpponentID: "P02"}
	var ack protocol.GameJoinAck
	if rpcErr := h.call(t, protocol.MethodGameInvitation, inv, &ack); rpcErr != nil {
		t.Fatal(rpcErr)
	}

	results := []protocol.GameOver{
		gameOver("R1M1", "P01", 4, league.OutcomeWin),
		gameOver("R1M1", "P01", 4, league.OutcomeWin), // redelivered
		gameOver("R2M1", "P02", 3, league.OutcomeWin),
		gameOver("R3M1", "", 5, league.OutcomeDraw),
	}
	for _, msg := range results {
		var n protocol.NotificationAck
		if rpcErr := h.call(t, protocol.MethodNotifyGameOver, msg, &n); rpcErr != nil {
			t.Fatal(rpcErr)
		}
		if n.Received != protocol.TypeGameOver {
			t.Errorf("ack received = %q", n.Received)
		}
	}

	hist, err := h.p.History(ctx)
	if err != nil {
		t.Fatal(err)
	}
	got := make([]string, len(hist))
	for i, r := range hist {
		got[i] = fmt.Sprintf("%s %s %s/%s vs %s", r.MatchID, r.Result, r.MyChoice, r.OpponentChoice, r.OpponentID)
	}
	want := []string{
		"R2M1 LOSS even/odd vs P02",
		"R3M1 DRAW even/odd vs P02",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
	if hist[0].Result != strategy.ResultLoss {
		t.Errorf("first kept record = %+v", hist[0])
	}
}

func TestNotify(t *testing.T) {
	h := setup(t, "even", 10, true)

	update := protocol.StandingsUpdate{
		Envelope:  fromManager(protocol.TypeLeagueStandingsUpdate),
		Standings: []league.StandingsEntry{{Rank: 1, ParticipantID: "P01", Points: 3}, {Rank: 2, ParticipantID: "P02"}},
	}
	var ack protocol.NotificationAck
	if rpcErr := h.call(t, protocol.MethodNotify, update, &ack); rpcErr != nil {
		t.Fatal(rpcErr)
	}
	if diff := cmp.Diff(update.Standings, h.p.Standings()); diff != "" {
		t.Errorf("standings mismatch (-want +got):\n%s", diff)
	}

	announce := protocol.RoundAnnouncement{
		Envelope: fromManager(protocol.TypeRoundAnnouncement),
		Matches:  []league.Pairing{{MatchID: "R2M1", Round: 2, PlayerA: "P01", PlayerB: "P02"}},
	}
	if rpcErr := h.call(t, protocol.MethodNotify, announce, &ack); rpcErr != nil {
		t.Fatal(rpcErr)
	}

	odd := protocol.NotificationAck{Envelope: fromManager(protocol.TypeMatchResultAck)}
	if rpcErr := h.call(t, protocol.MethodNotify, odd, &ack); rpcErr == nil || rpcErr.Code != protocol.CodeInvalidParams {
		t.Errorf("unexpected notice: error = %v, want invalid params", rpcErr)
	}

	spoofed := update
	spoofed.Envelope = fromManager(protocol.TypeLeagueStandingsUpdate)
	spoofed.AuthToken = tokenFor("REF01", league.RoleReferee)
	spoofed.Standings = []league.StandingsEntry{{Rank: 1, ParticipantID: "P02", Points: 99}}
	if rpcErr := h.call(t, protocol.MethodNotify, spoofed, &ack); rpcErr == nil || rpcErr.Code != protocol.CodeUnauthorized {
		t.Errorf("notice with a referee token: error = %v, want unauthorized", rpcErr)
	}
	if diff := cmp.Diff(update.Standings, h.p.Standings()); diff != "" {
		t.Errorf("standings changed by a rejected notice (-want +got):\n%s", diff)
	}
}

func TestUnknownStrategy(t *testing.T) {
	_, err := player.New(player.Config{Strategy: "psychic"}, nil, authority, store.NewMemory(), slog.Default())
	if err == nil {
		t.Fatal("expected an error for an unknown strategy")
	}
}
