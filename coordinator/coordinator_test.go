package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"go.uber.org/zap/zaptest"

	"github.com/cloudx-io/dutchauction/auctionapi"
	"github.com/cloudx-io/dutchauction/auctionapi/parsing"
	"github.com/cloudx-io/dutchauction/bidder"
	"github.com/cloudx-io/dutchauction/core"
	"github.com/cloudx-io/dutchauction/directory"
	"github.com/cloudx-io/dutchauction/transport"
)

var monaLisa = core.Item{
	Name:       "Mona Lisa",
	BaseValue:  500,
	Attributes: core.Attributes{Subject: "Portrait", Medium: "Oil", Creator: "Leonardo da Vinci", Era: 15},
}

var bouquet = core.Item{
	Name:       "Bouquet",
	BaseValue:  200,
	Attributes: core.Attributes{Subject: "StillLife", Medium: "Oil", Creator: "Jan Brueghel the Elder", Era: 15},
}

type fixture struct {
	t       *testing.T
	ctx     context.Context
	network *transport.Memory
}

func newFixture(t *testing.T) *fixture {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return &fixture{t: t, ctx: ctx, network: transport.NewMemory()}
}

func (f *fixture) endpoint(addr string) transport.Endpoint {
	f.t.Helper()
	ep, err := f.network.Endpoint(f.ctx, addr)
	assert.NoError(f.t, err)
	f.t.Cleanup(func() { _ = ep.Close() })
	return ep
}

// bidder starts a real bidder with a fixed profile.
func (f *fixture) bidder(addr string, strategy core.Strategy, profile core.Profile) *bidder.Bidder {
	f.t.Helper()
	b, err := bidder.New(bidder.Config{Strategy: strategy, Profile: &profile}, f.endpoint(addr), zaptest.NewLogger(f.t))
	assert.NoError(f.t, err)

	ctx, cancel := context.WithCancel(f.ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = b.Run(ctx)
	}()
	f.t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return b
}

// scripted answers every offer with whatever reply returns, and records everything it receives.
type scripted struct {
	mu       sync.Mutex
	received []auctionapi.Envelope
}

func (s *scripted) messages() []auctionapi.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]auctionapi.Envelope(nil), s.received...)
}

func (s *scripted) offers() []int {
	var rounds []int
	for _, env := range s.messages() {
		if env.Type == auctionapi.TypeOffer {
			rounds = append(rounds, env.Round)
		}
	}
	return rounds
}

func (f *fixture) scripted(addr string, reply func(env auctionapi.Envelope) (auctionapi.Envelope, bool)) *scripted {
	ep := f.endpoint(addr)
	s := &scripted{}
	go func() {
		for {
			env, err := ep.Receive(f.ctx, transport.Any)
			if err != nil {
				return
			}
			s.mu.Lock()
			s.received = append(s.received, env)
			s.mu.Unlock()

			if env.Type != auctionapi.TypeOffer {
				continue
			}
			if out, ok := reply(env); ok {
				_ = ep.Send(f.ctx, env.Sender, out)
			}
		}
	}()
	return s
}

func garbage(env auctionapi.Envelope) (auctionapi.Envelope, bool) {
	out := auctionapi.Envelope{ID: "garbage", Type: auctionapi.TypeBid, ConversationID: env.ConversationID, Round: env.Round, Payload: []byte{0xff}}
	return out, true
}

func silent(auctionapi.Envelope) (auctionapi.Envelope, bool) {
	return auctionapi.Envelope{}, false
}

func (f *fixture) run(cfg Config, deps Deps) (core.Outcome, *Coordinator) {
	f.t.Helper()
	if deps.Endpoint == nil {
		deps.Endpoint = f.endpoint("coordinator")
	}
	deps.Logger = zaptest.NewLogger(f.t)
	c := New(cfg, deps)
	outcome, err := c.Run(f.ctx)
	assert.NoError(f.t, err)
	return outcome, c
}

var portraitOil = core.Profile{Subjects: []string{"Portrait"}, Media: []string{"Oil"}}

func TestCoordinator_SingleBidderWinsInRoundTwo(t *testing.T) {
	f := newFixture(t)
	winner := f.bidder("curator-1", core.StrategyMedium, portraitOil)

	outcome, c := f.run(Config{Item: monaLisa, Bidders: []string{"curator-1"}, ConfirmGrace: time.Second}, Deps{})

	check.Equal(t, core.Success("auction-Mona Lisa", "Mona Lisa", "curator-1", 900, 2), outcome)
	check.Equal(t, StateSucceeded, c.State())
	check.Equal(t, 1, len(winner.Wins()))
}

func TestCoordinator_ReserveReached(t *testing.T) {
	f := newFixture(t)
	f.bidder("curator-1", core.StrategyPassive, core.Profile{})
	f.bidder("curator-2", core.StrategyPassive, core.Profile{})

	outcome, c := f.run(Config{Item: bouquet, Bidders: []string{"curator-1", "curator-2"}}, Deps{})

	check.Equal(t, core.Failure("auction-Bouquet", "Bouquet", core.ReasonReserveReached, 7), outcome)
	check.Equal(t, StateFailed, c.State())
}

func TestCoordinator_ProtocolFaultIsExcluded(t *testing.T) {
	f := newFixture(t)
	faulty := f.scripted("curator-0", garbage)
	f.bidder("curator-1", core.StrategyMedium, portraitOil)
	f.bidder("curator-2", core.StrategyPassive, core.Profile{})

	outcome, _ := f.run(Config{Item: monaLisa, Bidders: []string{"curator-0", "curator-1", "curator-2"}}, Deps{})

	check.Equal(t, core.Success("auction-Mona Lisa", "Mona Lisa", "curator-1", 900, 2), outcome)
	check.Equal(t, []int{1}, faulty.offers())
	for _, env := range faulty.messages() {
		check.NotEqual(t, auctionapi.TypeReject, env.Type)
	}
}

func TestCoordinator_NoBiddersLeft(t *testing.T) {
	f := newFixture(t)
	f.scripted("curator-0", garbage)
	f.scripted("curator-1", garbage)

	outcome, _ := f.run(Config{Item: monaLisa, Bidders: []string{"curator-0", "curator-1"}}, Deps{})

	check.Equal(t, core.Failure("auction-Mona Lisa", "Mona Lisa", core.ReasonNoBiddersLeft, 1), outcome)
}

func TestCoordinator_TimeoutsLowerThePrice(t *testing.T) {
	f := newFixture(t)
	mute := f.scripted("curator-1", silent)

	outcome, _ := f.run(Config{Item: bouquet, Bidders: []string{"curator-1"}, RoundTimeout: 20 * time.Millisecond}, Deps{})

	check.Equal(t, core.Failure("auction-Bouquet", "Bouquet", core.ReasonReserveReached, 7), outcome)
	check.Equal(t, []int{1, 2, 3, 4, 5, 6, 7}, mute.offers())
}

func TestCoordinator_UnreachableBidderTimesOut(t *testing.T) {
	f := newFixture(t)
	f.bidder("curator-1", core.StrategyMedium, portraitOil)

	outcome, _ := f.run(Config{
		Item:         monaLisa,
		Bidders:      []string{"curator-1", "gone"},
		RoundTimeout: 20 * time.Millisecond,
	}, Deps{})

	check.True(t, outcome.Won)
	check.Equal(t, 900.0, outcome.WinningBid)
}

func TestCoordinator_StaleRepliesAreIgnored(t *testing.T) {
	f := newFixture(t)
	// answers every offer with a bid for the previous round's price, tagged with the previous round
	f.scripted("curator-1", func(env auctionapi.Envelope) (auctionapi.Envelope, bool) {
		if env.Round == 1 {
			return auctionapi.Envelope{}, false
		}
		out, _ := auctionapi.NewEnvelope(auctionapi.TypeBid, env.ConversationID, "", env.Round-1, auctionapi.Reply{Amount: 10000})
		return out, true
	})

	outcome, _ := f.run(Config{Item: bouquet, Bidders: []string{"curator-1"}, RoundTimeout: 20 * time.Millisecond}, Deps{})

	check.False(t, outcome.Won)
	check.Equal(t, core.ReasonReserveReached, outcome.Reason)
}

func TestCoordinator_FirstBidWinsTies(t *testing.T) {
	f := newFixture(t)
	aggressive := core.Profile{Subjects: []string{"Portrait"}, Media: []string{"Oil"}, Creators: []string{"Leonardo da Vinci"}}
	f.bidder("curator-1", core.StrategyAggressive, aggressive)
	second := f.scripted("curator-2", func(env auctionapi.Envelope) (auctionapi.Envelope, bool) {
		// answers after curator-1 has had time to answer
		time.Sleep(50 * time.Millisecond)
		offer, _ := parsing.DecodeOffer(env)
		out, _ := auctionapi.NewEnvelope(auctionapi.TypeBid, env.ConversationID, "", env.Round, auctionapi.Reply{Amount: offer.AskingPrice})
		return out, true
	})

	outcome, _ := f.run(Config{Item: monaLisa, Bidders: []string{"curator-1", "curator-2"}}, Deps{})

	check.Equal(t, "curator-1", outcome.Winner)
	check.Equal(t, 1000.0, outcome.WinningBid)
	check.Equal(t, 1, outcome.RoundsRun)

	// the losing bidder is told
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		msgs := second.messages()
		if len(msgs) > 0 && msgs[len(msgs)-1].Type == auctionapi.TypeReject {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("losing bidder was not rejected")
}

func TestCoordinator_NoBidders(t *testing.T) {
	f := newFixture(t)

	outcome, c := f.run(Config{Item: monaLisa}, Deps{Directory: directory.NewMemory(0)})

	check.Equal(t, core.Failure("auction-Mona Lisa", "Mona Lisa", core.ReasonNoBidders, 0), outcome)
	check.Equal(t, StateFailed, c.State())
}

func TestCoordinator_DirectoryZone(t *testing.T) {
	f := newFixture(t)
	reg := directory.NewMemory(0)
	f.bidder("curator-a", core.StrategyMedium, portraitOil)
	other := f.scripted("curator-b", silent)
	assert.NoError(t, reg.Register(f.ctx, directory.Participant{Address: "curator-a", Role: directory.RoleBidder, Zone: "a"}))
	assert.NoError(t, reg.Register(f.ctx, directory.Participant{Address: "curator-b", Role: directory.RoleBidder, Zone: "b"}))

	outcome, _ := f.run(Config{Item: monaLisa, Zone: "a"}, Deps{Directory: reg})

	check.Equal(t, "curator-a", outcome.Winner)
	check.Equal(t, 0, len(other.messages()))
}

type recordingReporter struct {
	outcomes []core.Outcome
	err      error
}

func (r *recordingReporter) Report(_ context.Context, o core.Outcome) error {
	r.outcomes = append(r.outcomes, o)
	return r.err
}

func TestCoordinator_DelegateSendsProvisionalAndReports(t *testing.T) {
	f := newFixture(t)
	winner := f.bidder("curator-1", core.StrategyMedium, portraitOil)
	reporter := &recordingReporter{}

	outcome, _ := f.run(Config{Item: monaLisa, Bidders: []string{"curator-1"}}, Deps{Reporter: reporter})

	check.Equal(t, []core.Outcome{outcome}, reporter.outcomes)

	deadline := time.Now().Add(time.Second)
	for len(winner.Wins()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	wins := winner.Wins()
	assert.Equal(t, 1, len(wins))
	check.False(t, wins[0].Final)
}

func TestCoordinator_ReportFailure(t *testing.T) {
	f := newFixture(t)
	reporter := &recordingReporter{err: errors.New("aggregator unreachable")}
	c := New(Config{Item: monaLisa, Bidders: []string{}}, Deps{Endpoint: f.endpoint("coordinator"), Reporter: reporter})

	outcome, err := c.Run(f.ctx)
	check.Error(t, err)
	check.Equal(t, core.ReasonNoBidders, outcome.Reason)
}

func TestCoordinator_Cancelled(t *testing.T) {
	f := newFixture(t)
	f.scripted("curator-1", silent)
	ctx, cancel := context.WithCancel(f.ctx)
	c := New(Config{Item: monaLisa, Bidders: []string{"curator-1"}, RoundTimeout: time.Minute},
		Deps{Endpoint: f.endpoint("coordinator")})

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	outcome, err := c.Run(ctx)

	check.True(t, errors.Is(err, context.Canceled))
	check.Equal(t, core.ReasonCoordinatorDown, outcome.Reason)
}

func TestCoordinator_RunOnce(t *testing.T) {
	f := newFixture(t)
	c := New(Config{Item: monaLisa, Bidders: []string{}}, Deps{Endpoint: f.endpoint("coordinator")})

	_, err := c.Run(f.ctx)
	assert.NoError(t, err)
	_, err = c.Run(f.ctx)
	check.Error(t, err)
}

func TestCoordinator_InvalidItem(t *testing.T) {
	f := newFixture(t)
	c := New(Config{Item: core.Item{Name: "Nothing"}}, Deps{Endpoint: f.endpoint("coordinator")})

	_, err := c.Run(f.ctx)
	check.True(t, errors.Is(err, core.ErrInvalidItem))
}

func TestCoordinator_DiscardsLeftoverReplies(t *testing.T) {
	f := newFixture(t)
	ep := f.endpoint("coordinator")
	late := f.endpoint("curator-late")

	conversation := core.ConversationID(monaLisa.Name)
	for _, conv := range []string{conversation, conversation, "auction-Bouquet"} {
		env, err := auctionapi.NewEnvelope(auctionapi.TypeBid, conv, "", 3, auctionapi.Reply{Amount: 900})
		assert.NoError(t, err)
		assert.NoError(t, late.Send(f.ctx, "coordinator", env))
	}

	c := New(Config{Item: monaLisa, Bidders: []string{}}, Deps{Endpoint: ep})
	_, err := c.Run(f.ctx)
	assert.NoError(t, err)

	ctx, cancel := context.WithTimeout(f.ctx, 20*time.Millisecond)
	defer cancel()
	_, err = ep.Receive(ctx, transport.Conversation(conversation))
	check.True(t, errors.Is(err, context.DeadlineExceeded))

	other, err := ep.Receive(f.ctx, transport.Any)
	assert.NoError(t, err)
	check.Equal(t, "auction-Bouquet", other.ConversationID)
}
