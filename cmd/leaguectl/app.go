package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/playperu/league/internal/auth"
	"github.com/playperu/league/internal/league"
	"github.com/playperu/league/internal/manager"
)

func newApp(stdout io.Writer) *cli.App {
	return &cli.App{
		Name:   "leaguectl",
		Usage:  "control an even/odd league",
		Writer: stdout,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Value: "http://localhost:8000", EnvVars: []string{"LEAGUE_URL"}, Usage: "league manager base URL"},
			&cli.StringFlag{Name: "user", Value: "admin", EnvVars: []string{"ADMIN_USER"}},
			&cli.StringFlag{Name: "password", EnvVars: []string{"ADMIN_PASSWORD"}},
			&cli.DurationFlag{Name: "timeout", Value: 10 * time.Minute, Usage: "request timeout; rounds block until settled"},
		},
		Commands: []*cli.Command{
			{
				Name:  "status",
				Usage: "show league status",
				Action: func(c *cli.Context) error {
					var v manager.LeagueView
					if err := apiFrom(c).do(c, http.MethodGet, "/api/league", &v); err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "league %s (%s): %s, round %d of %d, %d players, %d referees\n",
						v.LeagueID, v.GameType, v.Status, v.CurrentRound, v.Rounds, v.Players, v.Referees)
					if len(v.Champions) > 0 {
						fmt.Fprintf(c.App.Writer, "champions: %s\n", strings.Join(v.Champions, ", "))
					}
					return nil
				},
			},
			{
				Name:  "start",
				Usage: "close registration and build the schedule",
				Action: func(c *cli.Context) error {
					var s league.Schedule
					if err := apiFrom(c).do(c, http.MethodPost, "/api/league/start", &s); err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "league started: %d rounds, %d matches\n", len(s.Rounds), s.MatchCount())
					return nil
				},
			},
			{
				Name:  "round",
				Usage: "play the next round and wait for it",
				Action: func(c *cli.Context) error {
					var r manager.RoundResponse
					if err := apiFrom(c).do(c, http.MethodPost, "/api/league/rounds/next", &r); err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "round %d played (%d matches)\n", r.Round.Number, len(r.Round.Matches()))
					return printStandings(c.App.Writer, r.Standings)
				},
			},
			{
				Name:  "run",
				Usage: "play all remaining rounds in the background",
				Action: func(c *cli.Context) error {
					var r manager.RunResponse
					if err := apiFrom(c).do(c, http.MethodPost, "/api/league/run", &r); err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "league %s\n", r.Status)
					return nil
				},
			},
			{
				Name:  "standings",
				Usage: "print the standings table",
				Action: func(c *cli.Context) error {
					var v manager.StandingsView
					if err := apiFrom(c).do(c, http.MethodGet, "/api/league/standings", &v); err != nil {
						return err
					}
					return printStandings(c.App.Writer, v.Standings)
				},
			},
			{
				Name:  "schedule",
				Usage: "print the round-robin schedule",
				Action: func(c *cli.Context) error {
					var s league.Schedule
					if err := apiFrom(c).do(c, http.MethodGet, "/api/league/schedule", &s); err != nil {
						return err
					}
					w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "ROUND\tMATCH\tPLAYER A\tPLAYER B\tREFEREE")
					for _, r := range s.Rounds {
						for _, p := range r.Pairings {
							b := p.PlayerB
							if p.IsBye() {
								b = "(bye)"
							}
							fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", r.Number, p.MatchID, p.PlayerA, b, p.Referee)
						}
					}
					return w.Flush()
				},
			},
			{
				Name:  "players",
				Usage: "list registered agents",
				Action: func(c *cli.Context) error {
					var pr manager.PlayersResponse
					if err := apiFrom(c).do(c, http.MethodGet, "/api/league/players", &pr); err != nil {
						return err
					}
					w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "ID\tROLE\tNAME\tADDRESS")
					for _, p := range append(pr.Referees, pr.Players...) {
						fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Role, p.DisplayName, p.Address)
					}
					return w.Flush()
				},
			},
			{
				Name:      "hash-password",
				Usage:     "print the bcrypt hash for ADMIN_PASSWORD_HASH",
				ArgsUsage: "<password>",
				Action: func(c *cli.Context) error {
					if c.NArg() != 1 {
						return cli.Exit("expected exactly one password", 2)
					}
					hash, err := auth.HashPassword(c.Args().First())
					if err != nil {
						return err
					}
					fmt.Fprintln(c.App.Writer, hash)
					return nil
				},
			},
		},
	}
}

func printStandings(w io.Writer, table []league.StandingsEntry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tPLAYER\tP\tW\tD\tL\tTL\tPTS")
	for _, e := range table {
		fmt.Fprintf(tw, "%d\t%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			e.Rank, e.ParticipantID, e.Played, e.Wins, e.Draws, e.Losses, e.TechnicalLosses, e.Points)
	}
	return tw.Flush()
}

type api struct {
	base     string
	user     string
	password string
	client   *http.Client
}

func apiFrom(c *cli.Context) *api {
	return &api{
		base:     strings.TrimRight(c.String("url"), "/"),
		user:     c.String("user"),
		password: c.String("password"),
		client:   &http.Client{Timeout: c.Duration("timeout")},
	}
}

func (a *api) do(c *cli.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(c.Context, method, a.base+path, nil)
	if err != nil {
		return err
	}
	if a.password != "" {
		req.SetBasicAuth(a.user, a.password)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, e.Error)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding %s response: %w", path, err)
	}
	return nil
}
