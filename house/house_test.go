package house

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"go.uber.org/zap/zaptest"

	"github.com/cloudx-io/dutchauction/bidder"
	"github.com/cloudx-io/dutchauction/core"
	"github.com/cloudx-io/dutchauction/directory"
	"github.com/cloudx-io/dutchauction/federation"
	"github.com/cloudx-io/dutchauction/ledger"
	"github.com/cloudx-io/dutchauction/transport"
)

var monaLisa = core.Item{
	Name:       "Mona Lisa",
	BaseValue:  500,
	Attributes: core.Attributes{Subject: "Portrait", Medium: "Oil", Creator: "Leonardo da Vinci", Era: 15},
}

var splash = core.Item{
	Name:       "A Bigger Splash",
	BaseValue:  200,
	Attributes: core.Attributes{Subject: "Landscape", Medium: "Acrylic", Creator: "David Hockney", Era: 20},
}

type fixture struct {
	t         *testing.T
	ctx       context.Context
	network   *transport.Memory
	directory *directory.Memory
}

func newFixture(t *testing.T) *fixture {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return &fixture{t: t, ctx: ctx, network: transport.NewMemory(), directory: directory.NewMemory(0)}
}

func (f *fixture) bidder(addr, zone string, strategy core.Strategy, profile core.Profile) {
	f.t.Helper()
	ep, err := f.network.Endpoint(f.ctx, addr)
	assert.NoError(f.t, err)
	b, err := bidder.New(bidder.Config{Strategy: strategy, Profile: &profile}, ep, zaptest.NewLogger(f.t))
	assert.NoError(f.t, err)
	assert.NoError(f.t, f.directory.Register(f.ctx, directory.Participant{Address: addr, Role: directory.RoleBidder, Zone: zone}))

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
}

func (f *fixture) house(cfg Config, l ledger.Ledger) *House {
	cfg.RoundTimeout = 500 * time.Millisecond
	return New(cfg, Deps{
		Network:   f.network,
		Directory: f.directory,
		Ledger:    l,
		Logger:    zaptest.NewLogger(f.t),
	})
}

func (f *fixture) standardBidders() {
	f.bidder("curator-1", "a", core.StrategyMedium, core.Profile{Subjects: []string{"Portrait"}, Media: []string{"Oil"}})
	f.bidder("curator-2", "b", core.StrategyPassive, core.Profile{})
}

func TestHouse_RunAll(t *testing.T) {
	for _, workers := range []int{1, 2} {
		t.Run("", func(t *testing.T) {
			f := newFixture(t)
			f.standardBidders()
			l := ledger.NewMemory()

			records, err := f.house(Config{MaxConcurrent: workers}, l).RunAll(f.ctx, []core.Item{monaLisa, splash})
			assert.NoError(t, err)
			assert.Equal(t, 2, len(records))

			check.Equal(t, core.Success("auction-Mona Lisa", "Mona Lisa", "curator-1", 900, 2), records[0].Outcome)
			check.Equal(t, core.Failure("auction-A Bigger Splash", "A Bigger Splash", core.ReasonReserveReached, 7), records[1].Outcome)
			check.NotEqual(t, records[0].RunID, records[1].RunID)
			check.Nil(t, records[0].Federation)

			entries, err := l.List(f.ctx)
			assert.NoError(t, err)
			check.Equal(t, 2, len(entries))
			check.NoError(t, ledger.Verify(entries))
		})
	}
}

func TestHouse_Federated(t *testing.T) {
	f := newFixture(t)
	f.standardBidders()

	records, err := f.house(Config{Federated: true, AggregatorTimeout: 5 * time.Second}, nil).
		RunAll(f.ctx, []core.Item{monaLisa, splash})
	assert.NoError(t, err)
	assert.Equal(t, 2, len(records))

	check.Equal(t, core.Success("auction-Mona Lisa", "Mona Lisa", "curator-1", 900, 2), records[0].Outcome)
	assert.NotNil(t, records[0].Federation)
	check.Equal(t, 2, records[0].Federation.Decision.Delegates)

	check.Equal(t, core.Failure("auction-A Bigger Splash", "A Bigger Splash", core.ReasonNoLocalWinners, 7), records[1].Outcome)
}

func TestHouse_DuplicateItem(t *testing.T) {
	f := newFixture(t)
	_, err := f.house(Config{}, nil).RunAll(f.ctx, []core.Item{monaLisa, splash, monaLisa})
	check.True(t, errors.Is(err, ErrDuplicateItem))
}

func TestHouse_InvalidItem(t *testing.T) {
	f := newFixture(t)
	_, err := f.house(Config{}, nil).RunAll(f.ctx, []core.Item{{Name: "Nothing"}})
	check.True(t, errors.Is(err, core.ErrInvalidItem))
}

func TestHouse_Cancelled(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(f.ctx)
	cancel()

	_, err := f.house(Config{}, nil).RunAll(ctx, []core.Item{monaLisa})
	check.Error(t, err)
}

func TestGlobalOutcome(t *testing.T) {
	winner := core.DelegateResult{Delegate: "aggregator/Mona Lisa/a", Outcome: core.Success("auction-Mona Lisa", "Mona Lisa", "curator-1", 950, 3)}
	won := federation.Result{
		Decision: core.GlobalDecision{Item: "Mona Lisa", Won: true, Winner: &winner, Delegates: 2},
	}
	check.Equal(t, core.Success("auction-Mona Lisa", "Mona Lisa", "curator-1", 950, 3), GlobalOutcome(monaLisa, won))

	lost := federation.Result{
		Decision: core.GlobalDecision{Item: "Mona Lisa", Delegates: 2},
		Local: []core.DelegateResult{
			{Delegate: "a", Outcome: core.Failure("auction-Mona Lisa", "Mona Lisa", core.ReasonReserveReached, 7)},
			{Delegate: "b", Outcome: core.Failure("auction-Mona Lisa", "Mona Lisa", core.ReasonNoBidders, 0)},
		},
	}
	check.Equal(t, core.Failure("auction-Mona Lisa", "Mona Lisa", core.ReasonNoLocalWinners, 7), GlobalOutcome(monaLisa, lost))
}
