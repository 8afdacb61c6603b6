package federation

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cloudx-io/dutchauction/coordinator"
	"github.com/cloudx-io/dutchauction/core"
	"github.com/cloudx-io/dutchauction/directory"
	"github.com/cloudx-io/dutchauction/logging"
	"github.com/cloudx-io/dutchauction/metrics"
	"github.com/cloudx-io/dutchauction/transport"
)

// Pool is the bidder subset one delegate coordinator runs against.
type Pool struct {
	Zone    string
	Bidders []string
}

// Partition groups bidders by zone. Pools are ordered by zone name, bidders by address.
func Partition(participants []directory.Participant) []Pool {
	bidders := lo.Filter(participants, func(p directory.Participant, _ int) bool {
		return p.Role == directory.RoleBidder
	})
	byZone := lo.GroupBy(bidders, func(p directory.Participant) string {
		return p.Zone
	})

	zones := lo.Keys(byZone)
	slices.Sort(zones)

	pools := make([]Pool, 0, len(zones))
	for _, zone := range zones {
		addrs := directory.Addresses(byZone[zone])
		slices.Sort(addrs)
		pools = append(pools, Pool{Zone: zone, Bidders: addrs})
	}
	return pools
}

// Split deals addrs round-robin into n disjoint pools named zone-1 to zone-n. Pools may be
// empty when there are fewer bidders than pools.
func Split(addrs []string, n int) []Pool {
	if n <= 0 {
		return nil
	}
	pools := make([]Pool, n)
	for i := range pools {
		pools[i] = Pool{Zone: fmt.Sprintf("zone-%d", i+1), Bidders: []string{}}
	}
	for i, addr := range addrs {
		pools[i%n].Bidders = append(pools[i%n].Bidders, addr)
	}
	return pools
}

// Options configures a federated run.
type Options struct {
	// Aggregator is the aggregator address. Delegates listen on "<Aggregator>/<zone>".
	// Defaults to "aggregator/<item name>".
	Aggregator        string
	RoundTimeout      time.Duration
	AggregatorTimeout time.Duration
	Logger            *zap.Logger
	Metrics           *metrics.Metrics
}

func (o Options) aggregatorAddress(item core.Item) string {
	if o.Aggregator != "" {
		return o.Aggregator
	}
	return "aggregator/" + item.Name
}

// Delegation tracks the delegate coordinators spawned for one federated auction.
type Delegation struct {
	Delegates []Delegate

	mu      sync.Mutex
	results []core.DelegateResult
}

func (d *Delegation) record(result core.DelegateResult) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, result)
}

// Results returns the local outcomes of delegates that have finished, in completion order.
func (d *Delegation) Results() []core.DelegateResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]core.DelegateResult(nil), d.results...)
}

// Spawn starts one delegate coordinator per pool on g. Each delegate gets its own signing key;
// the returned handles carry the public keys the aggregator verifies reports with.
func Spawn(ctx context.Context, g *errgroup.Group, network transport.Network, item core.Item, federationID string, pools []Pool, opts Options) (*Delegation, error) {
	aggregator := opts.aggregatorAddress(item)
	delegation := &Delegation{Delegates: make([]Delegate, 0, len(pools))}
	logger := logging.OrNop(opts.Logger).With(
		zap.String(logging.FieldItem, item.Name),
		zap.String("federation_id", federationID))

	for _, pool := range pools {
		keys, err := NewKeyManager()
		if err != nil {
			return delegation, err
		}
		ep, err := network.Endpoint(ctx, aggregator+"/"+pool.Zone)
		if err != nil {
			return delegation, fmt.Errorf("open delegate endpoint: %w", err)
		}

		bidders := pool.Bidders
		if bidders == nil {
			bidders = []string{}
		}
		c := coordinator.New(coordinator.Config{
			Item:         item,
			RoundTimeout: opts.RoundTimeout,
			Bidders:      bidders,
			Zone:         pool.Zone,
		}, coordinator.Deps{
			Endpoint: ep,
			Logger:   opts.Logger,
			Metrics:  opts.Metrics,
			Reporter: Reporter{
				Endpoint:     ep,
				Aggregator:   aggregator,
				FederationID: federationID,
				Keys:         keys,
			},
		})

		delegation.Delegates = append(delegation.Delegates, Delegate{
			Address:   ep.Address(),
			Zone:      pool.Zone,
			PublicKey: keys.PublicKey,
		})
		if publicKey, err := keys.PublicKeyPEM(); err == nil {
			logger.Info("delegate spawned",
				zap.String(logging.FieldDelegate, ep.Address()),
				zap.String("zone", pool.Zone),
				zap.Int("bidders", len(bidders)),
				zap.String("public_key", publicKey))
		}
		g.Go(func() error {
			defer ep.Close()
			outcome, err := c.Run(ctx)
			if err != nil {
				return fmt.Errorf("delegate %s: %w", ep.Address(), err)
			}
			delegation.record(core.DelegateResult{Delegate: ep.Address(), Outcome: outcome})
			return nil
		})
	}
	return delegation, nil
}

// Result is the result of a federated auction.
type Result struct {
	FederationID string
	Decision     core.GlobalDecision
	// Local holds every delegate's local outcome.
	Local []core.DelegateResult
}

// Run sells item in every pool concurrently and returns the global decision once every delegate
// has reported.
func Run(ctx context.Context, network transport.Network, item core.Item, pools []Pool, opts Options) (Result, error) {
	if err := core.ValidateItem(item); err != nil {
		return Result{}, err
	}
	federationID := uuid.NewString()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	aggEndpoint, err := network.Endpoint(ctx, opts.aggregatorAddress(item))
	if err != nil {
		return Result{}, fmt.Errorf("open aggregator endpoint: %w", err)
	}
	defer aggEndpoint.Close()
	aggregator := NewAggregator(aggEndpoint, opts.AggregatorTimeout, opts.Logger, opts.Metrics)

	g, gctx := errgroup.WithContext(ctx)
	delegation, err := Spawn(gctx, g, network, item, federationID, pools, opts)
	if err != nil {
		cancel()
		_ = g.Wait()
		return Result{}, err
	}

	var decision core.GlobalDecision
	g.Go(func() error {
		var err error
		decision, err = aggregator.Collect(gctx, item, federationID, delegation.Delegates)
		return err
	})
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	return Result{
		FederationID: federationID,
		Decision:     decision,
		Local:        delegation.Results(),
	}, nil
}
