// Command auction-sim runs Dutch auctions between simulated bidders in a single process.
//
// Usage:
//
//	auction-sim --bidders 6 --strategy medium --items "Mona Lisa,Bouquet"
//	auction-sim --all --federated --zones 3 --format json
//	auction-sim --runs 3 --seed 42 --loss 0.05
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cloudx-io/dutchauction/bidder"
	"github.com/cloudx-io/dutchauction/catalog"
	"github.com/cloudx-io/dutchauction/core"
	"github.com/cloudx-io/dutchauction/directory"
	"github.com/cloudx-io/dutchauction/federation"
	"github.com/cloudx-io/dutchauction/house"
	"github.com/cloudx-io/dutchauction/ledger"
	"github.com/cloudx-io/dutchauction/logging"
	"github.com/cloudx-io/dutchauction/metrics"
	"github.com/cloudx-io/dutchauction/transport"
)

type options struct {
	bidders           int
	strategy          string
	items             []string
	all               bool
	runs              int
	federated         bool
	zones             int
	roundTimeout      time.Duration
	aggregatorTimeout time.Duration
	confirmGrace      time.Duration
	maxConcurrent     int
	loss              float64
	latency           time.Duration
	seed              int64
	format            string
	logLevel          string
	postgresDSN       string
	metricsAddr       string
}

func main() {
	var opts options
	flags := pflag.NewFlagSet("auction-sim", pflag.ContinueOnError)
	flags.IntVar(&opts.bidders, "bidders", 5, "number of simulated bidders")
	flags.StringVar(&opts.strategy, "strategy", "passive", "bidder strategy: passive, medium or aggressive")
	flags.StringSliceVar(&opts.items, "items", nil, "catalog items to sell (default: one random item)")
	flags.BoolVar(&opts.all, "all", false, "sell every catalog item")
	flags.IntVar(&opts.runs, "runs", 1, "number of sales; bidders get fresh interests between sales")
	flags.BoolVar(&opts.federated, "federated", false, "run federated auctions with one delegate per zone")
	flags.IntVar(&opts.zones, "zones", 3, "number of bidder zones in federated mode")
	flags.DurationVar(&opts.roundTimeout, "round-timeout", 200*time.Millisecond, "how long a round waits for replies")
	flags.DurationVar(&opts.aggregatorTimeout, "aggregator-timeout", 0, "how long the aggregator waits for delegate reports; 0 waits for all")
	flags.DurationVar(&opts.confirmGrace, "confirm-grace", 0, "how long a coordinator waits for the winner's confirmation")
	flags.IntVar(&opts.maxConcurrent, "max-concurrent", house.DefaultMaxConcurrent, "auctions running at once")
	flags.Float64Var(&opts.loss, "loss", 0, "probability that a message is dropped")
	flags.DurationVar(&opts.latency, "latency", 0, "delivery delay of every message")
	flags.Int64Var(&opts.seed, "seed", 0, "random seed (0 uses a secure random source)")
	flags.StringVar(&opts.format, "format", "text", "output format: text or json")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level")
	flags.StringVar(&opts.postgresDSN, "postgres-dsn", "", "journal outcomes to this PostgreSQL database")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while running")

	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// lockedRand makes a seeded math/rand source safe for the concurrent network.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

func randSource(seed int64) core.RandSource {
	if seed == 0 {
		return core.DefaultRandSource
	}
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

// sale is the result of one pass over the items.
type sale struct {
	Run     int           `json:"run"`
	Records []house.Record `json:"records"`
	Bidders []bidderState `json:"bidders"`
}

type bidderState struct {
	Address string       `json:"address"`
	Zone    string       `json:"zone,omitempty"`
	Profile core.Profile `json:"profile"`
	Wins    []bidder.Win `json:"wins,omitempty"`
}

func run(ctx context.Context, opts options, out io.Writer) error {
	strategy, err := core.ParseStrategy(opts.strategy)
	if err != nil {
		return err
	}
	if opts.bidders < 0 || opts.runs <= 0 || opts.zones <= 0 {
		return errors.New("--bidders, --runs and --zones must be positive")
	}
	if opts.format != "text" && opts.format != "json" {
		return fmt.Errorf("unknown format %q", opts.format)
	}

	logger, err := logging.New(opts.logLevel, "console")
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	rs := randSource(opts.seed)
	cat, err := catalog.New(catalog.Paintings, rs)
	if err != nil {
		return err
	}
	items, err := selectItems(cat, opts)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)
	g, ctx := errgroup.WithContext(ctx)
	defer func() {
		cancel()
		_ = g.Wait()
	}()
	if opts.metricsAddr != "" {
		server := metrics.NewServer(opts.metricsAddr, registry, logger)
		g.Go(func() error { return server.Run(ctx) })
	}

	var journal ledger.Ledger = ledger.NewMemory()
	if opts.postgresDSN != "" {
		pg, err := ledger.Connect(ctx, opts.postgresDSN)
		if err != nil {
			return err
		}
		defer pg.Close()
		journal = pg
	}

	network := transport.NewMemory(
		transport.WithLoss(opts.loss, rs),
		transport.WithLatency(opts.latency),
		transport.WithLogger(logger))
	dir := directory.NewMemory(0)

	bidders, zones, err := spawnBidders(ctx, g, network, dir, opts, strategy, cat, rs, logger)
	if err != nil {
		return err
	}

	h := house.New(house.Config{
		MaxConcurrent:     opts.maxConcurrent,
		RoundTimeout:      opts.roundTimeout,
		ConfirmGrace:      opts.confirmGrace,
		Federated:         opts.federated,
		AggregatorTimeout: opts.aggregatorTimeout,
	}, house.Deps{
		Network:   network,
		Directory: dir,
		Ledger:    journal,
		Metrics:   m,
		Logger:    logger,
	})

	var sales []sale
	for i := 1; i <= opts.runs; i++ {
		if i > 1 {
			for _, b := range bidders {
				if err := b.Respawn(rs); err != nil {
					return err
				}
			}
		}
		records, err := h.RunAll(ctx, items)
		if err != nil {
			return err
		}
		s := sale{Run: i, Records: records}
		for _, b := range bidders {
			s.Bidders = append(s.Bidders, bidderState{
				Address: b.Address(),
				Zone:    zones[b.Address()],
				Profile: b.Profile(),
				Wins:    b.Wins(),
			})
		}
		sales = append(sales, s)
	}

	entries, err := journal.List(ctx)
	if err != nil {
		return err
	}
	if err := ledger.Verify(entries); err != nil {
		return err
	}

	cancel()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if opts.format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(sales)
	}
	printText(out, sales, opts.federated)
	return nil
}

func selectItems(cat *catalog.Catalog, opts options) ([]core.Item, error) {
	switch {
	case opts.all:
		return cat.Items(), nil
	case len(opts.items) > 0:
		items := make([]core.Item, 0, len(opts.items))
		for _, name := range opts.items {
			item, ok := cat.Lookup(name)
			if !ok {
				return nil, fmt.Errorf("unknown item %q", name)
			}
			items = append(items, item)
		}
		return items, nil
	default:
		item, err := cat.NextItem()
		if err != nil {
			return nil, err
		}
		return []core.Item{item}, nil
	}
}

// spawnBidders starts the bidders on g and registers them in dir. In federated mode bidders are
// dealt round-robin into zones.
func spawnBidders(ctx context.Context, g *errgroup.Group, network transport.Network, dir directory.Registry,
	opts options, strategy core.Strategy, cat *catalog.Catalog, rs core.RandSource, logger *zap.Logger,
) ([]*bidder.Bidder, map[string]string, error) {
	addrs := make([]string, opts.bidders)
	for i := range addrs {
		addrs[i] = fmt.Sprintf("curator-%d", i+1)
	}

	zones := make(map[string]string, len(addrs))
	if opts.federated {
		for _, pool := range federation.Split(addrs, opts.zones) {
			for _, addr := range pool.Bidders {
				zones[addr] = pool.Zone
			}
		}
	}

	bidders := make([]*bidder.Bidder, 0, len(addrs))
	for _, addr := range addrs {
		ep, err := network.Endpoint(ctx, addr)
		if err != nil {
			return nil, nil, err
		}
		b, err := bidder.New(bidder.Config{
			Strategy: strategy,
			Creators: cat.Creators(),
			Rand:     rs,
		}, ep, logger)
		if err != nil {
			return nil, nil, err
		}
		p := directory.Participant{Address: addr, Role: directory.RoleBidder, Zone: zones[addr]}
		if err := dir.Register(ctx, p); err != nil {
			return nil, nil, err
		}
		bidders = append(bidders, b)

		g.Go(func() error {
			defer ep.Close()
			return b.Run(ctx)
		})
	}
	return bidders, zones, nil
}

func printText(out io.Writer, sales []sale, federated bool) {
	for _, s := range sales {
		fmt.Fprintf(out, "Sale %d\n", s.Run)
		for _, b := range s.Bidders {
			zone := ""
			if b.Zone != "" {
				zone = " [" + b.Zone + "]"
			}
			fmt.Fprintf(out, "  %s%s %s subjects=%v media=%v creators=%v\n",
				b.Address, zone, b.Profile.Strategy, b.Profile.Subjects, b.Profile.Media, b.Profile.Creators)
		}
		for _, r := range s.Records {
			fmt.Fprintf(out, "  %-28s %s\n", r.Item, r.Outcome)
			if federated && r.Federation != nil {
				for _, local := range r.Federation.Local {
					fmt.Fprintf(out, "    %-26s %s\n", local.Delegate, local.Outcome)
				}
			}
		}
		fmt.Fprintln(out)
	}
}
