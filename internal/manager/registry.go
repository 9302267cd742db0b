package manager

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/playperu/league/internal/auth"
	"github.com/playperu/league/internal/league"
	"github.com/playperu/league/internal/protocol"
	"github.com/playperu/league/internal/store"
)

var (
	ErrRegistrationClosed = errors.New("registration closed")
	ErrLeagueFull         = errors.New("league is full")
	ErrInvalidAgent       = errors.New("invalid agent")
	ErrUnknownParticipant = errors.New("unknown participant")
)

type roster struct {
	Players  []league.Participant `json:"players"`
	Referees []league.Participant `json:"referees"`
	Closed   bool                 `json:"closed"`
}

// Registry admits referees and players until the league starts and issues
// their tokens.
type Registry struct {
	leagueID   string
	maxPlayers int
	authority  *auth.Authority
	store      store.Store
	now        func() time.Time

	mu     sync.RWMutex
	roster roster
}

func NewRegistry(leagueID string, maxPlayers int, authority *auth.Authority, st store.Store) *Registry {
	return &Registry{
		leagueID:   leagueID,
		maxPlayers: maxPlayers,
		authority:  authority,
		store:      st,
		now:        time.Now,
	}
}

func rosterKey(leagueID string) string { return "roster/" + leagueID }

// Restore reloads a persisted roster, if any.
func (r *Registry) Restore(ctx context.Context) error {
	var ro roster
	err := r.store.Load(ctx, rosterKey(r.leagueID), &ro)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("restoring roster: %w", err)
	}
	r.mu.Lock()
	r.roster = ro
	r.mu.Unlock()
	return nil
}

// Register admits an agent of role. Registering the same contact endpoint
// twice returns the original participant.
func (r *Registry) Register(ctx context.Context, role league.Role, meta protocol.AgentMeta) (league.Participant, error) {
	if meta.ContactEndpoint == "" {
		return league.Participant{}, fmt.Errorf("%w: contact endpoint is required", ErrInvalidAgent)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	list := &r.roster.Players
	prefix := "P"
	if role == league.RoleReferee {
		list, prefix = &r.roster.Referees, "REF"
	} else if role != league.RolePlayer {
		return league.Participant{}, fmt.Errorf("%w: role %q cannot register", ErrInvalidAgent, role)
	}

	if i := slices.IndexFunc(*list, func(p league.Participant) bool { return p.Address == meta.ContactEndpoint }); i >= 0 {
		return (*list)[i], nil
	}
	if r.roster.Closed {
		return league.Participant{}, ErrRegistrationClosed
	}
	if role == league.RolePlayer && len(*list) >= r.maxPlayers {
		return league.Participant{}, fmt.Errorf("%w: %d players", ErrLeagueFull, r.maxPlayers)
	}

	p := league.Participant{
		ID:           fmt.Sprintf("%s%02d", prefix, len(*list)+1),
		DisplayName:  meta.DisplayName,
		Role:         role,
		Address:      meta.ContactEndpoint,
		GameTypes:    meta.GameTypes,
		RegisteredAt: r.now().UTC(),
	}
	token, err := r.authority.Issue(p)
	if err != nil {
		return league.Participant{}, err
	}
	p.Token = token

	*list = append(*list, p)
	if err := r.store.Save(ctx, rosterKey(r.leagueID), r.roster); err != nil {
		*list = (*list)[:len(*list)-1]
		return league.Participant{}, fmt.Errorf("saving roster: %w", err)
	}
	return p, nil
}

// Close stops admitting new agents.
func (r *Registry) Close(ctx context.Context) error { return r.setClosed(ctx, true) }

// Reopen admits agents again after a start that did not go through.
func (r *Registry) Reopen(ctx context.Context) error { return r.setClosed(ctx, false) }

func (r *Registry) setClosed(ctx context.Context, closed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.roster.Closed = closed
	return r.store.Save(ctx, rosterKey(r.leagueID), r.roster)
}

// Lookup finds a player or referee by id.
func (r *Registry) Lookup(id string) (league.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, list := range [][]league.Participant{r.roster.Players, r.roster.Referees} {
		if i := slices.IndexFunc(list, func(p league.Participant) bool { return p.ID == id }); i >= 0 {
			return list[i], true
		}
	}
	return league.Participant{}, false
}

func (r *Registry) Players() []league.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.roster.Players)
}

func (r *Registry) Referees() []league.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.roster.Referees)
}

// Public strips tokens so participants can be shown to anyone.
func Public(ps []league.Participant) []league.Participant {
	out := make([]league.Participant, len(ps))
	for i, p := range ps {
		p.Token = ""
		out[i] = p
	}
	return out
}
