package manager_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/playperu/league/internal/agent"
	"github.com/playperu/league/internal/auth"
	"github.com/playperu/league/internal/config"
	"github.com/playperu/league/internal/league"
	"github.com/playperu/league/internal/manager"
	"github.com/playperu/league/internal/protocol"
	"github.com/playperu/league/internal/resilience"
	"github.com/playperu/league/internal/server"
	"github.com/playperu/league/internal/store"
	"github.com/playperu/league/internal/transport"
)

const (
	leagueID  = "league_test"
	adminUser = "admin"
	adminPass = "s3cret"
)

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newClient() *resilience.Client {
	return resilience.NewClient(
		transport.NewHTTP(5*time.Second),
		resilience.NewRegistry(resilience.BreakerConfig{Threshold: 5, RecoveryTimeout: time.Second}),
		resilience.RetryPolicy{MaxAttempts: 2, InitialDelay: 5 * time.Millisecond, MaxDelay: 20 * time.Millisecond},
		discard(),
	)
}

// serve starts a server whose routes are added after its URL is known.
func serve(t *testing.T) (*httptest.Server, chi.Router) {
	t.Helper()
	r := chi.NewRouter()
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, r
}

type managerEnv struct {
	m         *manager.Manager
	url       string
	authority *auth.Authority
	store     *store.Memory
}

func (e managerEnv) rpcURL() string { return e.url + "/mcp" }

func newManager(t *testing.T, mutate func(*config.League)) managerEnv {
	t.Helper()
	lg := config.DefaultLeague()
	lg.ID = leagueID
	lg.RoundTimeout = 20 * time.Second
	lg.MatchTimeout = 10 * time.Second
	if mutate != nil {
		mutate(&lg)
	}

	hash, err := auth.HashPassword(adminPass)
	if err != nil {
		t.Fatal(err)
	}
	authority := auth.NewAuthority("test-secret", leagueID, time.Hour)
	st := store.NewMemory()
	srv, r := serve(t)

	m, err := manager.New(manager.Config{
		League:        lg,
		PublicURL:     srv.URL + "/mcp",
		CallTimeout:   2 * time.Second,
		NotifyTimeout: time.Second,
	}, st, authority, newClient(), server.NewBroker(), discard())
	if err != nil {
		t.Fatal(err)
	}
	m.Mount(r, auth.AdminGuard(adminUser, hash))
	return managerEnv{m: m, url: srv.URL, authority: authority, store: st}
}

func register(t *testing.T, e managerEnv, role league.Role, addr string) agent.Identity {
	t.Helper()
	id, err := agent.Register(context.Background(), newClient(), e.rpcURL(), role,
		protocol.AgentMeta{DisplayName: addr, Version: "1.0.0", ContactEndpoint: addr}, time.Second)
	if err != nil {
		t.Fatalf("registering %s: %v", addr, err)
	}
	return id
}

// control calls the league control API with admin credentials and decodes
// the body into out when it is not nil.
func control(t *testing.T, method, url string, out any) int {
	t.Helper()
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	req.SetBasicAuth(adminUser, adminPass)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decoding %s %s: %v", method, url, err)
		}
	}
	return resp.StatusCode
}

// call posts one JSON-RPC request and returns the raw response.
func call(t *testing.T, url, method string, params any) protocol.Response {
	t.Helper()
	req, err := protocol.NewRequest(method, params)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := json.Marshal(req)
	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out protocol.Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}
