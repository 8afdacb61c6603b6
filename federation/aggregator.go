// Package federation runs one item concurrently in several zones and combines the delegate
// coordinators' local results into one global decision.
package federation

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cloudx-io/dutchauction/auctionapi"
	"github.com/cloudx-io/dutchauction/auctionapi/parsing"
	"github.com/cloudx-io/dutchauction/core"
	"github.com/cloudx-io/dutchauction/logging"
	"github.com/cloudx-io/dutchauction/metrics"
	"github.com/cloudx-io/dutchauction/transport"
)

// Delegate is the aggregator's handle on one delegate coordinator.
type Delegate struct {
	Address   string
	Zone      string
	PublicKey *ecdsa.PublicKey
}

// Aggregator collects delegate reports for one federated auction at a time.
// A zero timeout waits until every delegate has reported.
type Aggregator struct {
	endpoint transport.Endpoint
	timeout  time.Duration
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewAggregator(ep transport.Endpoint, timeout time.Duration, logger *zap.Logger, m *metrics.Metrics) *Aggregator {
	if timeout < 0 {
		timeout = 0
	}
	return &Aggregator{
		endpoint: ep,
		timeout:  timeout,
		logger:   logging.Participant(logger, "aggregator", ep.Address()),
		metrics:  m,
	}
}

// Address is the address delegates report to.
func (a *Aggregator) Address() string {
	return a.endpoint.Address()
}

// Collect waits until every delegate has reported, selects the global winner and notifies the
// local winners: the global winner gets the final acceptance, every other local winner a
// rejection. A report that fails verification counts as a failure of that delegate.
//
// With a timeout configured, delegates that have not reported when it passes count as failed
// and the winner is selected without them. Collect then keeps waiting for their reports and
// rejects every late local winner, so no bidder is left with a provisional win. It returns
// once all of them have reported or ctx is done.
func (a *Aggregator) Collect(ctx context.Context, item core.Item, federationID string, delegates []Delegate) (core.GlobalDecision, error) {
	conversation := core.ConversationID(item.Name)
	logger := a.logger.With(zap.String(logging.FieldConversation, conversation), zap.String("federation", federationID))

	keys := make(map[string]*ecdsa.PublicKey, len(delegates))
	ids := make([]string, 0, len(delegates))
	for _, d := range delegates {
		keys[d.Address] = d.PublicKey
		ids = append(ids, d.Address)
	}
	tally := core.NewTally(item.Name, ids)

	waitCtx := ctx
	if a.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	filter := transport.And(
		transport.Conversation(conversation),
		transport.Types(auctionapi.TypeReport, auctionapi.TypeConfirm),
	)
	var late []string
	for !tally.Complete() {
		env, err := a.endpoint.Receive(waitCtx, filter)
		if err != nil {
			if ctx.Err() != nil {
				return core.GlobalDecision{}, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				late = tally.Outstanding()
				for _, d := range late {
					logger.Warn("delegate did not report", zap.String(logging.FieldDelegate, d))
					tally.Record(d, core.Failure(conversation, item.Name, core.ReasonCoordinatorDown, 0))
				}
				break
			}
			return core.GlobalDecision{}, err
		}

		if env.Type == auctionapi.TypeConfirm {
			logger.Debug("confirmation from an earlier federation", zap.String("bidder", env.Sender))
			continue
		}

		outcome, err := a.verify(env, keys, federationID)
		a.metrics.ReportReceived(err == nil)
		if err != nil {
			logger.Warn("rejecting delegate report", zap.String(logging.FieldDelegate, env.Sender), zap.Error(err))
			outcome = core.Failure(conversation, item.Name, core.ReasonInvalidReport, 0)
		}
		if tally.Record(env.Sender, outcome) {
			logger.Info("delegate reported",
				zap.String(logging.FieldDelegate, env.Sender),
				zap.Stringer("outcome", outcome),
				zap.Strings("outstanding", tally.Outstanding()))
		}
	}

	decision := tally.Select()
	a.metrics.FederationDecided(decision)

	if err := a.notify(ctx, conversation, decision); err != nil {
		return decision, err
	}
	if decision.Won {
		logger.Info("global winner selected",
			zap.String(logging.FieldDelegate, decision.Winner.Delegate),
			zap.String("winner", decision.Winner.Outcome.Winner),
			zap.Float64("amount", decision.Winner.Outcome.WinningBid),
			zap.Int("local_winners", len(decision.Losers)+1))
	} else {
		logger.Info("federated auction failed", zap.String("reason", string(core.ReasonNoLocalWinners)))
	}

	if len(late) > 0 {
		a.rejectLate(ctx, logger, filter, item.Name, keys, federationID, late)
	}
	return decision, nil
}

// rejectLate receives the reports of delegates written off at the deadline and sends a
// rejection to every local winner among them.
func (a *Aggregator) rejectLate(ctx context.Context, logger *zap.Logger, filter transport.Filter, item string, keys map[string]*ecdsa.PublicKey, federationID string, late []string) {
	pending := make(map[string]bool, len(late))
	for _, d := range late {
		pending[d] = true
	}

	for len(pending) > 0 {
		env, err := a.endpoint.Receive(ctx, filter)
		if err != nil {
			outstanding := make([]string, 0, len(pending))
			for d := range pending {
				outstanding = append(outstanding, d)
			}
			logger.Warn("stopped waiting for late delegates", zap.Strings("outstanding", outstanding), zap.Error(err))
			return
		}
		if env.Type == auctionapi.TypeConfirm || !pending[env.Sender] {
			continue
		}

		outcome, err := a.verify(env, keys, federationID)
		a.metrics.ReportReceived(err == nil)
		if err != nil {
			logger.Warn("rejecting delegate report", zap.String(logging.FieldDelegate, env.Sender), zap.Error(err))
		}
		delete(pending, env.Sender)
		if err != nil || !outcome.Won {
			continue
		}

		logger.Warn("late local winner rejected",
			zap.String(logging.FieldDelegate, env.Sender),
			zap.String("winner", outcome.Winner),
			zap.Float64("amount", outcome.WinningBid))
		result := core.DelegateResult{Delegate: env.Sender, Outcome: outcome}
		if err := a.sendNotice(ctx, env.ConversationID, item, auctionapi.TypeReject, result, "reported after the deadline"); err != nil {
			return
		}
	}
}

func (a *Aggregator) verify(env auctionapi.Envelope, keys map[string]*ecdsa.PublicKey, federationID string) (core.Outcome, error) {
	report, err := parsing.DecodeReport(env)
	if err != nil {
		return core.Outcome{}, err
	}
	key, ok := keys[env.Sender]
	if !ok || report.Delegate != env.Sender {
		return core.Outcome{}, fmt.Errorf("%w: unexpected delegate %q", ErrInvalidReport, report.Delegate)
	}

	so, err := VerifyReport(report.Signed, key)
	if err != nil {
		var claimed SignedOutcome
		if peekErr := parsing.PeekOutcome(report.Signed, &claimed); peekErr == nil {
			a.logger.Debug("unverified report content", zap.Stringer("claimed", claimed.Outcome))
		}
		return core.Outcome{}, err
	}
	if so.Delegate != env.Sender || so.Federation != federationID {
		return core.Outcome{}, fmt.Errorf("%w: report for %s/%s", ErrInvalidReport, so.Delegate, so.Federation)
	}
	if so.Outcome.ConversationID != env.ConversationID {
		return core.Outcome{}, fmt.Errorf("%w: report for conversation %q", ErrInvalidReport, so.Outcome.ConversationID)
	}
	return so.Outcome, nil
}

func (a *Aggregator) notify(ctx context.Context, conversation string, decision core.GlobalDecision) error {
	if !decision.Won {
		return nil
	}

	if err := a.sendNotice(ctx, conversation, decision.Item, auctionapi.TypeAccept, *decision.Winner, ""); err != nil {
		return err
	}
	for _, loser := range decision.Losers {
		if err := a.sendNotice(ctx, conversation, decision.Item, auctionapi.TypeReject, loser, "outbid in another zone"); err != nil {
			return err
		}
	}
	return nil
}

// sendNotice tells a local winner the global result. Undeliverable notices are logged; only a
// closed endpoint or a done context is an error.
func (a *Aggregator) sendNotice(ctx context.Context, conversation, item string, typ auctionapi.MessageType, result core.DelegateResult, reason string) error {
	env, err := auctionapi.NewEnvelope(typ, conversation, a.Address(), result.Outcome.RoundsRun, auctionapi.Notice{
		Item:   item,
		Amount: result.Outcome.WinningBid,
		Reason: reason,
	})
	if err != nil {
		return err
	}
	err = a.endpoint.Send(ctx, result.Outcome.Winner, env)
	if err != nil && (errors.Is(err, transport.ErrClosed) || ctx.Err() != nil) {
		return err
	}
	if err != nil {
		a.logger.Debug("notice not delivered", zap.String("bidder", result.Outcome.Winner), zap.Error(err))
	}
	return nil
}
