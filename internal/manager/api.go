package manager

import (
	"errors"
	"net/http"
	"time"

	"github.com/playperu/league/internal/league"
	"github.com/playperu/league/internal/schedule"
	"github.com/playperu/league/internal/server"
	"github.com/playperu/league/internal/tournament"
)

// LeagueView summarises the league for operators.
type LeagueView struct {
	LeagueID     string                        `json:"league_id"`
	GameType     string                        `json:"game_type"`
	Status       league.LeagueStatus           `json:"status"`
	CurrentRound int                           `json:"current_round"`
	Rounds       int                           `json:"rounds"`
	Players      int                           `json:"players"`
	Referees     int                           `json:"referees"`
	Matches      map[string]league.MatchStatus `json:"matches,omitempty"`
	Champions    []string                      `json:"champions,omitempty"`
	StartedAt    time.Time                     `json:"started_at,omitzero"`
	CompletedAt  time.Time                     `json:"completed_at,omitzero"`
}

type StandingsView struct {
	LeagueID  string                  `json:"league_id"`
	Status    league.LeagueStatus     `json:"status"`
	Round     int                     `json:"round"`
	Standings []league.StandingsEntry `json:"standings"`
	Champions []string                `json:"champions,omitempty"`
}

type RoundResponse struct {
	Round     league.Round            `json:"round"`
	Standings []league.StandingsEntry `json:"standings"`
}

type RunResponse struct {
	Status string `json:"status"`
}

type PlayersResponse struct {
	Players  []league.Participant `json:"players"`
	Referees []league.Participant `json:"referees"`
}

func (m *Manager) leagueView() LeagueView {
	snap := m.controller.Snapshot()
	v := LeagueView{
		LeagueID:     m.cfg.League.ID,
		GameType:     m.cfg.League.GameType,
		Status:       snap.Status,
		CurrentRound: snap.CurrentRound,
		Rounds:       len(snap.Schedule.Rounds),
		Players:      len(m.registry.Players()),
		Referees:     len(m.registry.Referees()),
		Matches:      snap.Matches,
		Champions:    snap.Champions,
		StartedAt:    snap.StartedAt,
		CompletedAt:  snap.CompletedAt,
	}
	return v
}

func (m *Manager) standingsView() StandingsView {
	snap := m.controller.Snapshot()
	return StandingsView{
		LeagueID:  m.cfg.League.ID,
		Status:    snap.Status,
		Round:     snap.CurrentRound,
		Standings: snap.Standings,
		Champions: snap.Champions,
	}
}

// FeedSnapshot is the first frame sent to a new spectator.
func (m *Manager) FeedSnapshot() server.Event {
	return server.Event{Type: "standings", Data: m.standingsView()}
}

func (m *Manager) handleStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		server.WriteJSON(w, http.StatusOK, m.leagueView())
	}
}

func (m *Manager) handleStandings() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		server.WriteJSON(w, http.StatusOK, m.standingsView())
	}
}

func (m *Manager) handleSchedule() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		server.WriteJSON(w, http.StatusOK, m.controller.Snapshot().Schedule)
	}
}

func (m *Manager) handlePlayers() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		server.WriteJSON(w, http.StatusOK, PlayersResponse{
			Players:  Public(m.registry.Players()),
			Referees: Public(m.registry.Referees()),
		})
	}
}

func (m *Manager) handleStart() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sched, err := m.Start(r.Context())
		if err != nil {
			m.writeControlError(w, err)
			return
		}
		server.WriteJSON(w, http.StatusOK, sched)
	}
}

func (m *Manager) handleNextRound() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		round, err := m.controller.RunRound(r.Context())
		if err != nil {
			m.writeControlError(w, err)
			return
		}
		server.WriteJSON(w, http.StatusOK, RoundResponse{
			Round:     round,
			Standings: m.controller.Snapshot().Standings,
		})
	}
}

func (m *Manager) handleRun() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch m.controller.Status() {
		case league.LeagueNotStarted:
			m.writeControlError(w, tournament.ErrNotStarted)
			return
		case league.LeagueCompleted:
			m.writeControlError(w, tournament.ErrCompleted)
			return
		}
		if err := m.RequestRun(); err != nil {
			m.writeControlError(w, err)
			return
		}
		server.WriteJSON(w, http.StatusAccepted, RunResponse{Status: "running"})
	}
}

func (m *Manager) writeControlError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, tournament.ErrAlreadyStarted),
		errors.Is(err, tournament.ErrNotStarted),
		errors.Is(err, tournament.ErrCompleted),
		errors.Is(err, tournament.ErrRoundInProgress),
		errors.Is(err, ErrRunPending):
		status = http.StatusConflict
	case errors.Is(err, ErrTooFewPlayers),
		errors.Is(err, schedule.ErrTooFewParticipants),
		errors.Is(err, schedule.ErrNoReferees):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		m.logger.Error("league control failed", "error", err)
	}
	server.WriteError(w, status, err.Error())
}
