package manager

import (
	"net/http"

	openapi "github.com/swaggest/openapi-go"
	"github.com/swaggest/openapi-go/openapi3"

	"github.com/playperu/league/internal/league"
	"github.com/playperu/league/internal/protocol"
	"github.com/playperu/league/internal/server"
)

// OpenAPI describes the manager's HTTP surface.
func OpenAPI() *openapi3.Spec {
	r := openapi3.NewReflector()
	r.Spec.Info.Title = "League Manager API"
	r.Spec.Info.Version = "0.1.0"
	r.Spec.Info.WithDescription("Control and observe an even/odd league. POST routes need admin Basic credentials.")

	getStatus, _ := r.NewOperationContext(http.MethodGet, "/api/league")
	getStatus.SetSummary("League status")
	getStatus.AddRespStructure(LeagueView{}, openapi.WithHTTPStatus(http.StatusOK))
	_ = r.AddOperation(getStatus)

	getStandings, _ := r.NewOperationContext(http.MethodGet, "/api/league/standings")
	getStandings.SetSummary("Standings")
	getStandings.AddRespStructure(StandingsView{}, openapi.WithHTTPStatus(http.StatusOK))
	_ = r.AddOperation(getStandings)

	getSchedule, _ := r.NewOperationContext(http.MethodGet, "/api/league/schedule")
	getSchedule.SetSummary("Round-robin schedule")
	getSchedule.AddRespStructure(league.Schedule{}, openapi.WithHTTPStatus(http.StatusOK))
	_ = r.AddOperation(getSchedule)

	getPlayers, _ := r.NewOperationContext(http.MethodGet, "/api/league/players")
	getPlayers.SetSummary("Registered agents")
	getPlayers.AddRespStructure(PlayersResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	_ = r.AddOperation(getPlayers)

	postStart, _ := r.NewOperationContext(http.MethodPost, "/api/league/start")
	postStart.SetSummary("Start league")
	postStart.SetDescription("Closes registration and builds the schedule.")
	postStart.AddRespStructure(league.Schedule{}, openapi.WithHTTPStatus(http.StatusOK))
	postStart.AddRespStructure(server.ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	postStart.AddRespStructure(server.ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	postStart.AddRespStructure(server.ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnprocessableEntity))
	_ = r.AddOperation(postStart)

	postRound, _ := r.NewOperationContext(http.MethodPost, "/api/league/rounds/next")
	postRound.SetSummary("Play next round")
	postRound.SetDescription("Plays the next round and returns once all its matches are settled.")
	postRound.AddRespStructure(RoundResponse{}, openapi.WithHTTPStatus(http.StatusOK))
	postRound.AddRespStructure(server.ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	postRound.AddRespStructure(server.ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	_ = r.AddOperation(postRound)

	postRun, _ := r.NewOperationContext(http.MethodPost, "/api/league/run")
	postRun.SetSummary("Run league")
	postRun.SetDescription("Plays every remaining round in the background.")
	postRun.AddRespStructure(RunResponse{}, openapi.WithHTTPStatus(http.StatusAccepted))
	postRun.AddRespStructure(server.ErrorResponse{}, openapi.WithHTTPStatus(http.StatusUnauthorized))
	postRun.AddRespStructure(server.ErrorResponse{}, openapi.WithHTTPStatus(http.StatusConflict))
	_ = r.AddOperation(postRun)

	postRPC, _ := r.NewOperationContext(http.MethodPost, "/mcp")
	postRPC.SetSummary("Agent JSON-RPC endpoint")
	postRPC.SetDescription("register_referee, register_player, report_match_result and league_query.")
	postRPC.AddReqStructure(protocol.Request{})
	postRPC.AddRespStructure(protocol.Response{}, openapi.WithHTTPStatus(http.StatusOK))
	_ = r.AddOperation(postRPC)

	getEvents, _ := r.NewOperationContext(http.MethodGet, "/api/events")
	getEvents.SetSummary("SSE event stream")
	getEvents.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusOK),
		openapi.WithContentType("text/event-stream"))
	_ = r.AddOperation(getEvents)

	getFeed, _ := r.NewOperationContext(http.MethodGet, "/ws/standings")
	getFeed.SetSummary("Standings WebSocket feed")
	getFeed.AddRespStructure(nil, openapi.WithHTTPStatus(http.StatusSwitchingProtocols),
		openapi.WithContentType("application/json"))
	_ = r.AddOperation(getFeed)

	return r.Spec
}
