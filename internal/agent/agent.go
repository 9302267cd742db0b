// Package agent holds what referees and players share: joining a league
// and keeping the identity it hands out.
package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/playperu/league/internal/league"
	"github.com/playperu/league/internal/protocol"
	"github.com/playperu/league/internal/resilience"
)

// Version is reported in registration metadata.
const Version = "1.0.0"

var (
	ErrRejected      = errors.New("registration rejected")
	ErrNotRegistered = errors.New("agent not registered")
)

// Identity is what the league manager assigns on registration.
type Identity struct {
	ID       string
	Token    string
	LeagueID string
}

// Register joins the league at managerURL as role. The call goes through
// client and so retries with backoff while the manager is unreachable.
func Register(ctx context.Context, client *resilience.Client, managerURL string, role league.Role, meta protocol.AgentMeta, timeout time.Duration) (Identity, error) {
	method, reqType, respType := protocol.MethodRegisterPlayer, protocol.TypeLeagueRegisterRequest, protocol.TypeLeagueRegisterResponse
	if role == league.RoleReferee {
		method, reqType, respType = protocol.MethodRegisterReferee, protocol.TypeRefereeRegisterRequest, protocol.TypeRefereeRegisterResponse
	}

	req := protocol.RegisterRequest{
		Envelope: protocol.NewEnvelope(reqType, role, "unregistered"),
		Meta:     meta,
	}
	var resp protocol.RegisterResponse
	if err := client.Invoke(ctx, managerURL, method, req, &resp, resilience.WithTimeout(timeout)); err != nil {
		return Identity{}, fmt.Errorf("registering with %s: %w", managerURL, err)
	}
	if err := resp.Validate(); err != nil {
		return Identity{}, err
	}
	if resp.MessageType != respType {
		return Identity{}, fmt.Errorf("%w: unexpected %s", protocol.ErrInvalidEnvelope, resp.MessageType)
	}
	if resp.Status != protocol.StatusAccepted {
		return Identity{}, fmt.Errorf("%w: %s", ErrRejected, resp.Reason)
	}
	if resp.ParticipantID == "" || resp.AuthToken == "" {
		return Identity{}, fmt.Errorf("%w: response carries no identity", protocol.ErrInvalidEnvelope)
	}
	return Identity{ID: resp.ParticipantID, Token: resp.AuthToken, LeagueID: resp.LeagueID}, nil
}

// Holder guards an identity set after startup.
type Holder struct {
	mu sync.RWMutex
	id Identity
}

func (h *Holder) Set(id Identity) {
	h.mu.Lock()
	h.id = id
	h.mu.Unlock()
}

// Get returns the identity or ErrNotRegistered.
func (h *Holder) Get() (Identity, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.id.ID == "" {
		return Identity{}, ErrNotRegistered
	}
	return h.id, nil
}
