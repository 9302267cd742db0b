package manager

import (
	"context"
	"errors"

	"github.com/playperu/league/internal/league"
	"github.com/playperu/league/internal/protocol"
	"github.com/playperu/league/internal/server"
	"github.com/playperu/league/internal/tournament"
)

// RPC returns the manager's JSON-RPC endpoint.
func (m *Manager) RPC() *server.RPC {
	rpc := server.NewRPC(m.logger)
	rpc.Handle(protocol.MethodRegisterReferee, server.Bind(m.registerReferee))
	rpc.Handle(protocol.MethodRegisterPlayer, server.Bind(m.registerPlayer))
	rpc.Handle(protocol.MethodReportMatchResult, server.Bind(m.reportMatchResult))
	rpc.Handle(protocol.MethodLeagueQuery, server.Bind(m.leagueQuery))
	return rpc
}

func (m *Manager) registerReferee(ctx context.Context, req *protocol.RegisterRequest) (protocol.RegisterResponse, error) {
	return m.register(ctx, req, league.RoleReferee, protocol.TypeRefereeRegisterResponse)
}

func (m *Manager) registerPlayer(ctx context.Context, req *protocol.RegisterRequest) (protocol.RegisterResponse, error) {
	return m.register(ctx, req, league.RolePlayer, protocol.TypeLeagueRegisterResponse)
}

// register answers rejections in the response body; only malformed requests
// and storage failures are JSON-RPC errors.
func (m *Manager) register(ctx context.Context, req *protocol.RegisterRequest, role league.Role, replyType string) (protocol.RegisterResponse, error) {
	if sender, _, _ := protocol.ParseSender(req.Sender); sender != role {
		return protocol.RegisterResponse{}, protocol.Errorf(protocol.CodeInvalidParams, "sender %q cannot register as %s", req.Sender, role)
	}

	resp := protocol.RegisterResponse{Envelope: req.Reply(replyType, league.RoleManager, m.cfg.ID)}
	resp.LeagueID = m.cfg.League.ID

	p, err := m.registry.Register(ctx, role, req.Meta)
	switch {
	case errors.Is(err, ErrRegistrationClosed), errors.Is(err, ErrLeagueFull), errors.Is(err, ErrInvalidAgent):
		resp.Status = protocol.StatusRejected
		resp.Reason = err.Error()
		m.logger.Info("registration rejected", "role", role, "endpoint", req.Meta.ContactEndpoint, "reason", err)
		return resp, nil
	case err != nil:
		return protocol.RegisterResponse{}, err
	}

	resp.Status = protocol.StatusAccepted
	resp.ParticipantID = p.ID
	resp.AuthToken = p.Token
	m.logger.Info("agent registered", "role", role, "participant_id", p.ID, "endpoint", p.Address)
	return resp, nil
}

func (m *Manager) reportMatchResult(ctx context.Context, req *protocol.MatchResultReport) (protocol.MatchResultAck, error) {
	refID, err := m.authenticate(&req.Envelope, league.RoleReferee)
	if err != nil {
		return protocol.MatchResultAck{}, err
	}
	o := req.Result
	p, ok := m.controller.Snapshot().Schedule.Find(o.MatchID)
	switch {
	case !ok:
		return protocol.MatchResultAck{}, protocol.Errorf(protocol.CodeInvalidParams, "%v: %s", tournament.ErrUnknownMatch, o.MatchID)
	case p.Referee != refID || o.Referee != refID:
		return protocol.MatchResultAck{}, protocol.Errorf(protocol.CodeUnauthorized, "%s is not the referee of %s", refID, o.MatchID)
	case o.PlayerA != p.PlayerA || o.PlayerB != p.PlayerB:
		return protocol.MatchResultAck{}, protocol.Errorf(protocol.CodeInvalidParams, "%v: %s", tournament.ErrMatchMismatch, o.MatchID)
	}

	ack := protocol.MatchResultAck{
		Envelope: req.Reply(protocol.TypeMatchResultAck, league.RoleManager, m.cfg.ID),
		Recorded: true,
	}
	if m.inbox.Deliver(o) {
		return ack, nil
	}
	// Nobody waits for it: a late or re-delivered report.
	if err := m.controller.Record(ctx, o); err != nil {
		return protocol.MatchResultAck{}, rpcError(err)
	}
	m.logger.Info("late match report recorded", "match_id", o.MatchID, "referee", refID)
	return ack, nil
}

func (m *Manager) leagueQuery(_ context.Context, req *protocol.LeagueQuery) (protocol.LeagueQueryResponse, error) {
	role, _, _ := protocol.ParseSender(req.Sender)
	if _, err := m.authenticate(&req.Envelope, role); err != nil {
		return protocol.LeagueQueryResponse{}, err
	}

	resp := protocol.LeagueQueryResponse{
		Envelope:  req.Reply(protocol.TypeLeagueQueryResponse, league.RoleManager, m.cfg.ID),
		QueryType: req.QueryType,
	}
	snap := m.controller.Snapshot()
	switch req.QueryType {
	case protocol.QueryStandings:
		resp.Standings = snap.Standings
	case protocol.QuerySchedule:
		resp.Schedule = &snap.Schedule
	case protocol.QueryPlayers:
		resp.Players = Public(m.registry.Players())
	default:
		return protocol.LeagueQueryResponse{}, protocol.Errorf(protocol.CodeInvalidParams, "unknown query type %q", req.QueryType)
	}
	return resp, nil
}

// authenticate checks that env was sent by a registered participant of
// role carrying its own token, and returns the participant id.
func (m *Manager) authenticate(env *protocol.Envelope, role league.Role) (string, error) {
	r, id, err := protocol.ParseSender(env.Sender)
	if err != nil || r != role {
		return "", protocol.Errorf(protocol.CodeUnauthorized, "sender %q is not a %s", env.Sender, role)
	}
	p, ok := m.registry.Lookup(id)
	if !ok || p.Role != role {
		return "", protocol.Errorf(protocol.CodeUnauthorized, "%v: %s", ErrUnknownParticipant, id)
	}
	if err := m.authority.Validate(env.AuthToken, id); err != nil {
		return "", protocol.Errorf(protocol.CodeUnauthorized, "%v", err)
	}
	return id, nil
}

func rpcError(err error) error {
	switch {
	case errors.Is(err, tournament.ErrUnknownMatch),
		errors.Is(err, tournament.ErrMatchMismatch),
		errors.Is(err, tournament.ErrInvalidOutcome),
		errors.Is(err, tournament.ErrRoundNotStarted):
		return protocol.Errorf(protocol.CodeInvalidParams, "%v", err)
	case errors.Is(err, tournament.ErrNotStarted),
		errors.Is(err, tournament.ErrCompleted):
		return protocol.Errorf(protocol.CodeConflict, "%v", err)
	}
	return err
}
