// Package coordinator runs the descending-price round protocol for one item.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/cloudx-io/dutchauction/auctionapi"
	"github.com/cloudx-io/dutchauction/auctionapi/parsing"
	"github.com/cloudx-io/dutchauction/core"
	"github.com/cloudx-io/dutchauction/directory"
	"github.com/cloudx-io/dutchauction/logging"
	"github.com/cloudx-io/dutchauction/metrics"
	"github.com/cloudx-io/dutchauction/transport"
)

// DefaultRoundTimeout bounds how long a round waits for replies.
const DefaultRoundTimeout = 2 * time.Second

// Config configures one coordinator run.
type Config struct {
	Item         core.Item
	RoundTimeout time.Duration

	// Bidders fixes the bidder pool. When nil the pool is looked up in the directory once, at
	// the start of the run.
	Bidders []string
	// Zone restricts a directory lookup to bidders registered in that zone.
	Zone string

	// ConfirmGrace is how long the coordinator keeps listening for the winner's confirmation
	// after a final acceptance. Zero does not wait; the outcome never depends on it.
	ConfirmGrace time.Duration
}

// Reporter forwards a delegate's outcome to its federation aggregator.
type Reporter interface {
	Report(ctx context.Context, outcome core.Outcome) error
}

// Deps are the collaborators of a coordinator.
type Deps struct {
	Endpoint  transport.Endpoint
	Directory directory.Registry
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	// Reporter is set when the coordinator is a federation delegate. The local winner then only
	// receives a provisional notice; the aggregator sends the final one.
	Reporter Reporter
}

// Coordinator owns one auction. A Coordinator is single use: Run may be called once.
type Coordinator struct {
	cfg  Config
	deps Deps

	conversation string
	logger       *zap.Logger
	state        atomic.Int32
	started      atomic.Bool
}

func New(cfg Config, deps Deps) *Coordinator {
	if cfg.RoundTimeout <= 0 {
		cfg.RoundTimeout = DefaultRoundTimeout
	}
	conversation := core.ConversationID(cfg.Item.Name)
	return &Coordinator{
		cfg:          cfg,
		deps:         deps,
		conversation: conversation,
		logger: logging.Participant(deps.Logger, "coordinator", deps.Endpoint.Address()).
			With(zap.String(logging.FieldConversation, conversation)),
	}
}

// State returns the current protocol state.
func (c *Coordinator) State() State {
	return State(c.state.Load())
}

// ConversationID is the conversation all messages of this auction carry.
func (c *Coordinator) ConversationID() string {
	return c.conversation
}

func (c *Coordinator) transition(s State) {
	prev := State(c.state.Swap(int32(s)))
	c.logger.Debug("state transition", zap.Stringer("from", prev), zap.Stringer("to", s))
}

// Run executes the auction to a terminal outcome. Protocol conditions (declines, faults,
// timeouts, an exhausted price ladder) end up in the outcome. An error is returned only when ctx
// is cancelled or the endpoint closes before the auction ends, or when the outcome could not be
// reported to the aggregator.
func (c *Coordinator) Run(ctx context.Context) (core.Outcome, error) {
	if c.started.Swap(true) {
		return core.Outcome{}, errors.New("coordinator already run")
	}
	if err := core.ValidateItem(c.cfg.Item); err != nil {
		return core.Outcome{}, err
	}

	c.deps.Metrics.AuctionStarted()
	outcome, err := c.run(ctx)
	// drop replies that arrived after their round closed
	if n := c.deps.Endpoint.Discard(transport.Conversation(c.conversation)); n > 0 {
		c.logger.Debug("discarded leftover messages", zap.Int("count", n))
	}
	if err != nil {
		outcome = core.Failure(c.conversation, c.cfg.Item.Name, core.ReasonCoordinatorDown, outcome.RoundsRun)
		c.deps.Metrics.AuctionFinished(outcome)
		return outcome, err
	}
	c.deps.Metrics.AuctionFinished(outcome)

	c.logger.Info("auction finished",
		zap.Stringer("state", c.State()),
		zap.Stringer("outcome", outcome))

	if c.deps.Reporter != nil {
		if err := c.deps.Reporter.Report(ctx, outcome); err != nil {
			return outcome, fmt.Errorf("report outcome: %w", err)
		}
	}
	return outcome, nil
}

func (c *Coordinator) run(ctx context.Context) (core.Outcome, error) {
	item := c.cfg.Item
	c.transition(StateAnnounced)

	bidders, err := c.bidderPool(ctx)
	if err != nil {
		return core.Outcome{}, err
	}
	if len(bidders) == 0 {
		c.transition(StateFailed)
		return core.Failure(c.conversation, item.Name, core.ReasonNoBidders, 0), nil
	}

	announcement, err := auctionapi.NewEnvelope(auctionapi.TypeAnnounce, c.conversation, c.address(), 0,
		auctionapi.Announcement{Item: item, Coordinator: c.address()})
	if err != nil {
		return core.Outcome{}, err
	}
	if err := c.multicast(ctx, bidders, announcement); err != nil {
		return core.Outcome{}, err
	}

	round := core.Round{
		Number:      1,
		AskingPrice: core.InitialAskingPrice(item.BaseValue),
		FloorPrice:  core.FloorPrice(item.BaseValue),
		Eligible:    bidders,
	}
	c.logger.Info("auction started",
		zap.String(logging.FieldItem, item.Name),
		zap.Int("bidders", len(bidders)),
		zap.Float64(logging.FieldAskingPrice, round.AskingPrice),
		zap.Float64("floor_price", round.FloorPrice))

	for {
		c.transition(StateRoundOpen)
		responses, err := c.openRound(ctx, round)
		if err != nil {
			return core.Outcome{RoundsRun: round.Number}, err
		}

		c.transition(StateEvaluating)
		decision := core.EvaluateRound(round, responses)
		c.deps.Metrics.RoundEvaluated(decision)
		c.logger.Info("round evaluated",
			zap.Int(logging.FieldRound, round.Number),
			zap.Float64(logging.FieldAskingPrice, round.AskingPrice),
			zap.Stringer("decision", decision.Decision),
			zap.Int("bids", len(decision.Bids)),
			zap.Int("declines", len(decision.Declines)),
			zap.Int("faults", len(decision.Faults)),
			zap.Int("timeouts", len(decision.TimedOut)))

		switch decision.Decision {
		case core.DecisionSucceeded:
			c.transition(StateSucceeded)
			winner := decision.Winner
			outcome := core.Success(c.conversation, item.Name, winner.Bidder, winner.Amount, round.Number)
			if err := c.notify(ctx, round, decision); err != nil {
				return outcome, err
			}
			return outcome, nil

		case core.DecisionNextRound:
			round = core.Round{
				Number:      round.Number + 1,
				AskingPrice: decision.NextAskingPrice,
				FloorPrice:  round.FloorPrice,
				Eligible:    decision.Eligible,
			}

		default:
			c.transition(StateFailed)
			return core.Failure(c.conversation, item.Name, decision.FailureReason(), round.Number), nil
		}
	}
}

func (c *Coordinator) address() string {
	return c.deps.Endpoint.Address()
}

// bidderPool returns a private copy of the bidders this auction is run against.
func (c *Coordinator) bidderPool(ctx context.Context) ([]string, error) {
	if c.cfg.Bidders != nil {
		return lo.Uniq(c.cfg.Bidders), nil
	}
	if c.deps.Directory == nil {
		return nil, nil
	}

	participants, err := c.deps.Directory.Find(ctx, directory.RoleBidder)
	if err != nil {
		return nil, fmt.Errorf("find bidders: %w", err)
	}
	if c.cfg.Zone != "" {
		participants = lo.Filter(participants, func(p directory.Participant, _ int) bool {
			return p.Zone == c.cfg.Zone
		})
	}
	return directory.Addresses(participants), nil
}

// multicast sends env to every recipient. Undeliverable messages are logged: at-most-once
// delivery makes them indistinguishable from a bidder that does not answer.
func (c *Coordinator) multicast(ctx context.Context, recipients []string, env auctionapi.Envelope) error {
	err := transport.Multicast(ctx, c.deps.Endpoint, recipients, env)
	if err == nil {
		return nil
	}
	if errors.Is(err, transport.ErrClosed) || ctx.Err() != nil {
		return err
	}
	c.logger.Debug("message not delivered", zap.String("type", string(env.Type)), zap.Error(err))
	return nil
}

func (c *Coordinator) sendNotice(ctx context.Context, typ auctionapi.MessageType, round int, to string, notice auctionapi.Notice) error {
	env, err := auctionapi.NewEnvelope(typ, c.conversation, c.address(), round, notice)
	if err != nil {
		return err
	}
	return c.multicast(ctx, []string{to}, env)
}

// openRound sends the round's offer to every eligible bidder and collects one response per
// bidder until all have answered or the round deadline passes. Non-responders are returned as
// timeouts. Replies to earlier rounds are discarded.
func (c *Coordinator) openRound(ctx context.Context, round core.Round) ([]core.Response, error) {
	offer, err := auctionapi.NewEnvelope(auctionapi.TypeOffer, c.conversation, c.address(), round.Number,
		auctionapi.Offer{Item: c.cfg.Item, AskingPrice: round.AskingPrice, Round: round.Number})
	if err != nil {
		return nil, err
	}
	if err := c.multicast(ctx, round.Eligible, offer); err != nil {
		return nil, err
	}
	c.logger.Info("round opened",
		zap.Int(logging.FieldRound, round.Number),
		zap.Float64(logging.FieldAskingPrice, round.AskingPrice),
		zap.Int("eligible", len(round.Eligible)))

	roundCtx, cancel := context.WithTimeout(ctx, c.cfg.RoundTimeout)
	defer cancel()

	pending := make(map[string]bool, len(round.Eligible))
	for _, b := range round.Eligible {
		pending[b] = true
	}
	responses := make([]core.Response, 0, len(round.Eligible))

	for len(pending) > 0 {
		env, err := c.deps.Endpoint.Receive(roundCtx, transport.Conversation(c.conversation))
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return nil, err
		}

		logger := c.logger.With(zap.String("sender", env.Sender), zap.Int(logging.FieldRound, env.Round))
		switch {
		case env.Type == auctionapi.TypeConfirm:
			logger.Debug("late confirmation")
			continue
		case env.Round != round.Number:
			logger.Debug("discarding reply for another round", zap.String("type", string(env.Type)))
			continue
		case !pending[env.Sender]:
			logger.Debug("discarding unexpected reply", zap.String("type", string(env.Type)))
			continue
		}

		response, err := parsing.DecodeReply(env)
		if err != nil {
			response = core.ProtocolFault(env.Sender, err.Error())
		}
		logger.Debug("reply received", zap.Stringer("kind", response.Kind), zap.Float64("amount", response.Amount))

		delete(pending, env.Sender)
		responses = append(responses, response)
	}

	for _, b := range round.Eligible {
		if pending[b] {
			responses = append(responses, core.Response{Bidder: b, Kind: core.ResponseTimeout})
		}
	}
	return responses, nil
}

// notify sends the acceptance (or, for a delegate, the provisional acceptance) to the winner
// and a rejection to every other eligible bidder of the final round.
func (c *Coordinator) notify(ctx context.Context, round core.Round, decision core.RoundDecision) error {
	winner := decision.Winner
	accept := auctionapi.TypeAccept
	if c.deps.Reporter != nil {
		accept = auctionapi.TypeProvisional
	}

	if err := c.sendNotice(ctx, accept, round.Number, winner.Bidder,
		auctionapi.Notice{Item: c.cfg.Item.Name, Amount: winner.Amount}); err != nil {
		return err
	}
	for _, b := range decision.Rejected {
		if err := c.sendNotice(ctx, auctionapi.TypeReject, round.Number, b,
			auctionapi.Notice{Item: c.cfg.Item.Name, Reason: "outbid"}); err != nil {
			return err
		}
	}

	if accept == auctionapi.TypeAccept && c.cfg.ConfirmGrace > 0 {
		c.awaitConfirmation(ctx, winner.Bidder)
	}
	return nil
}

func (c *Coordinator) awaitConfirmation(ctx context.Context, winner string) {
	graceCtx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmGrace)
	defer cancel()

	env, err := c.deps.Endpoint.Receive(graceCtx, transport.And(
		transport.Conversation(c.conversation),
		transport.Types(auctionapi.TypeConfirm),
		func(env auctionapi.Envelope) bool { return env.Sender == winner },
	))
	if err != nil {
		c.logger.Debug("no confirmation from winner", zap.String("winner", winner), zap.Error(err))
		return
	}
	c.logger.Info("winner confirmed", zap.String("winner", env.Sender))
}
