package protocol_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/playperu/league/internal/league"
	"github.com/playperu/league/internal/protocol"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	ts := time.Date(2025, 3, 14, 15, 9, 26, 535000000, time.UTC)

	tests := []struct {
		name string
		env  protocol.Envelope
	}{
		{
			name: "all fields",
			env: protocol.Envelope{
				Protocol:       protocol.Version,
				MessageType:    protocol.TypeChooseParityCall,
				Sender:         "referee:REF01",
				Timestamp:      ts,
				ConversationID: "conv-1",
				AuthToken:      "tok",
				LeagueID:       "league_2025_even_odd",
				RoundID:        3,
				MatchID:        "R3M2",
			},
		},
		{
			name: "optional fields absent",
			env: protocol.Envelope{
				Protocol:    protocol.Version,
				MessageType: protocol.TypeGameOver,
				Sender:      "player:P07",
				Timestamp:   ts,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := protocol.ChooseParityResponse{Envelope: tt.env, PlayerID: "P01", ParityChoice: "even"}

			data, err := json.Marshal(msg)
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if !strings.Contains(string(data), `"timestamp":"2025-03-14T15:09:26.535Z"`) {
				t.Errorf("timestamp not encoded as UTC: %s", data)
			}

			var got protocol.ChooseParityResponse
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if diff := cmp.Diff(msg, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEnvelopeFieldsAreTopLevel(t *testing.T) {
	msg := protocol.GameInvitation{
		Envelope: protocol.NewEnvelope(protocol.TypeGameInvitation, league.RoleReferee, "REF01"),
		GameType: "even_odd",
	}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"protocol", "message_type", "sender", "timestamp", "conversation_id", "game_type"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing top-level key %q in %s", key, data)
		}
	}
	for _, key := range []string{"auth_token", "league_id", "round_id", "match_id"} {
		if _, ok := raw[key]; ok {
			t.Errorf("unexpected empty key %q in %s", key, data)
		}
	}
}

func TestEnvelopeValidate(t *testing.T) {
	valid := func() protocol.Envelope {
		return protocol.NewEnvelope(protocol.TypeGameJoinAck, league.RolePlayer, "P01")
	}

	tests := []struct {
		name    string
		mutate  func(e *protocol.Envelope)
		wantErr bool
	}{
		{name: "valid", mutate: func(*protocol.Envelope) {}},
		{name: "wrong protocol", mutate: func(e *protocol.Envelope) { e.Protocol = "league.v1" }, wantErr: true},
		{name: "no message type", mutate: func(e *protocol.Envelope) { e.MessageType = "" }, wantErr: true},
		{name: "bad sender", mutate: func(e *protocol.Envelope) { e.Sender = "P01" }, wantErr: true},
		{name: "zero timestamp", mutate: func(e *protocol.Envelope) { e.Timestamp = time.Time{} }, wantErr: true},
		{
			name: "non utc timestamp",
			mutate: func(e *protocol.Envelope) {
				e.Timestamp = e.Timestamp.In(time.FixedZone("CET", 3600))
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := valid()
			tt.mutate(&env)
			err := env.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, protocol.ErrInvalidEnvelope) {
				t.Errorf("error %v does not wrap ErrInvalidEnvelope", err)
			}
		})
	}
}

func TestReplyKeepsCorrelation(t *testing.T) {
	in := protocol.NewEnvelope(protocol.TypeGameInvitation, league.RoleReferee, "REF01")
	in.LeagueID = "L1"
	in.RoundID = 2
	in.MatchID = "R2M1"

	out := in.Reply(protocol.TypeGameJoinAck, league.RolePlayer, "P03")
	if out.ConversationID != in.ConversationID {
		t.Errorf("conversation id = %q, want %q", out.ConversationID, in.ConversationID)
	}
	if out.LeagueID != "L1" || out.RoundID != 2 || out.MatchID != "R2M1" {
		t.Errorf("scope not copied: %+v", out)
	}
	if out.Sender != "player:P03" {
		t.Errorf("sender = %q, want player:P03", out.Sender)
	}
}

func TestParseSender(t *testing.T) {
	role, id, err := protocol.ParseSender("league_manager:LM")
	if err != nil {
		t.Fatalf("ParseSender: %v", err)
	}
	if role != league.RoleManager || id != "LM" {
		t.Errorf("got (%q, %q)", role, id)
	}
	for _, bad := range []string{"", "player", ":P01", "player:"} {
		if _, _, err := protocol.ParseSender(bad); err == nil {
			t.Errorf("ParseSender(%q) succeeded, want error", bad)
		}
	}
}

func TestRequestResponse(t *testing.T) {
	req, err := protocol.NewRequest(protocol.MethodLeagueQuery, protocol.LeagueQuery{QueryType: protocol.QueryStandings})
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if err := req.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	var q protocol.LeagueQuery
	if err := req.DecodeParams(&q); err != nil {
		t.Fatalf("DecodeParams: %v", err)
	}
	if q.QueryType != protocol.QueryStandings {
		t.Errorf("query type = %q", q.QueryType)
	}

	resp, err := protocol.NewResult(req.ID, protocol.NotificationAck{Received: "ok"})
	if err != nil {
		t.Fatalf("NewResult: %v", err)
	}
	if string(resp.ID) != string(req.ID) {
		t.Errorf("response id = %s, want %s", resp.ID, req.ID)
	}
	var ack protocol.NotificationAck
	if err := resp.Decode(&ack); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ack.Received != "ok" {
		t.Errorf("received = %q", ack.Received)
	}
}

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
	}{
		{name: "rpc error", err: protocol.Errorf(protocol.CodeUnauthorized, "bad token"), wantCode: protocol.CodeUnauthorized},
		{name: "plain error", err: errors.New("boom"), wantCode: protocol.CodeInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := protocol.NewErrorResponse(nil, tt.err)
			if string(resp.ID) != "null" {
				t.Errorf("id = %s, want null", resp.ID)
			}

			var v any
			err := resp.Decode(&v)
			var rpcErr *protocol.Error
			if !errors.As(err, &rpcErr) {
				t.Fatalf("Decode error = %v, want *protocol.Error", err)
			}
			if rpcErr.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", rpcErr.Code, tt.wantCode)
			}
		})
	}
}

func TestRequestValidate(t *testing.T) {
	tests := []struct {
		name string
		req  protocol.Request
	}{
		{name: "wrong version", req: protocol.Request{JSONRPC: "1.0", Method: "x"}},
		{name: "missing method", req: protocol.Request{JSONRPC: "2.0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			var rpcErr *protocol.Error
			if !errors.As(err, &rpcErr) || rpcErr.Code != protocol.CodeInvalidRequest {
				t.Errorf("Validate() = %v, want invalid request", err)
			}
		})
	}
}
