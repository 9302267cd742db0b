package referee

import (
	"context"
	"errors"
	"fmt"

	"github.com/playperu/league/internal/league"
	"github.com/playperu/league/internal/protocol"
	"github.com/playperu/league/internal/resilience"
)

const outboxPrefix = "outbox/"

var ErrNotRecorded = errors.New("report not recorded")

// OutboxKey is where an outcome waits until the league acknowledges it.
func OutboxKey(matchID string) string { return outboxPrefix + matchID }

type pending struct {
	Outcome  league.Outcome `json:"outcome"`
	ReportTo string         `json:"report_to,omitempty"`
}

// Report sends o to the league manager. An outcome that cannot be delivered
// is kept in the outbox for Reconcile; one the league rejects is dropped.
func (r *Referee) Report(ctx context.Context, o league.Outcome) error {
	r.mu.Lock()
	reportTo := r.active[o.MatchID]
	r.mu.Unlock()

	err := r.deliver(ctx, o, reportTo)
	if err == nil {
		return nil
	}
	if rejected(err) {
		r.logger.Warn("match report rejected by league", "match_id", o.MatchID, "error", err)
		return err
	}
	o.NeedsReconciliation = true
	if serr := r.keep(context.WithoutCancel(ctx), o, reportTo); serr != nil {
		r.logger.Error("keeping unreported outcome", "match_id", o.MatchID, "error", serr)
	}
	return err
}

func (r *Referee) keep(ctx context.Context, o league.Outcome, reportTo string) error {
	if err := r.store.Save(ctx, OutboxKey(o.MatchID), pending{Outcome: o, ReportTo: reportTo}); err != nil {
		return fmt.Errorf("saving outbox entry: %w", err)
	}
	return nil
}

func (r *Referee) deliver(ctx context.Context, o league.Outcome, reportTo string) error {
	me, err := r.identity.Get()
	if err != nil {
		return err
	}
	if reportTo == "" {
		reportTo = r.cfg.ManagerURL
	}

	env := protocol.NewEnvelope(protocol.TypeMatchResultReport, league.RoleReferee, me.ID)
	env.AuthToken = me.Token
	env.LeagueID = me.LeagueID
	env.RoundID = o.Round
	env.MatchID = o.MatchID

	var ack protocol.MatchResultAck
	err = r.client.Invoke(ctx, reportTo, protocol.MethodReportMatchResult,
		protocol.MatchResultReport{Envelope: env, Result: o}, &ack,
		resilience.WithTimeout(r.cfg.CallTimeout))
	if err != nil {
		return err
	}
	if !ack.Recorded {
		return fmt.Errorf("%w: %s", ErrNotRecorded, o.MatchID)
	}
	return nil
}

// rejected reports whether the league refused the report for good.
func rejected(err error) bool {
	var rpcErr *protocol.Error
	if !errors.As(err, &rpcErr) {
		return false
	}
	switch rpcErr.Code {
	case protocol.CodeInvalidParams, protocol.CodeConflict, protocol.CodeUnauthorized:
		return true
	}
	return false
}

// Reconcile redelivers every outcome in the outbox and returns how many
// left it.
func (r *Referee) Reconcile(ctx context.Context) (int, error) {
	keys, err := r.store.Keys(ctx, outboxPrefix)
	if err != nil {
		return 0, fmt.Errorf("listing outbox: %w", err)
	}

	done := 0
	for _, key := range keys {
		var p pending
		if err := r.store.Load(ctx, key, &p); err != nil {
			r.logger.Error("loading outbox entry", "key", key, "error", err)
			continue
		}
		err := r.deliver(ctx, p.Outcome, p.ReportTo)
		switch {
		case err == nil:
			r.logger.Info("outcome reconciled", "match_id", p.Outcome.MatchID)
		case rejected(err):
			r.logger.Warn("outcome dropped, league rejected it", "match_id", p.Outcome.MatchID, "error", err)
		default:
			r.logger.Warn("outcome still undelivered", "match_id", p.Outcome.MatchID, "error", err)
			continue
		}
		if err := r.store.Delete(ctx, key); err != nil {
			return done, fmt.Errorf("clearing outbox entry: %w", err)
		}
		done++
	}
	return done, nil
}

func (r *Referee) reconcile(ctx context.Context) {
	n, err := r.Reconcile(ctx)
	if err != nil {
		r.logger.Error("reconciliation failed", "error", err)
		return
	}
	if n > 0 {
		r.logger.Info("reconciliation finished", "settled", n)
	}
}
