// Command auctiond runs one auction participant over Redis.
//
// The role is chosen with AUCTION_ROLE:
//
//	bidder       answers offers until stopped
//	coordinator  sells AUCTION_ITEM (or a random catalog item) to the registered bidders
//	aggregator   sells the item as a federated auction, one delegate per bidder zone
//
// Every process registers itself in the Redis directory and serves Prometheus metrics on
// METRICS_ADDR. Outcomes are journaled to PostgreSQL when POSTGRES_DSN is set.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cloudx-io/dutchauction/bidder"
	"github.com/cloudx-io/dutchauction/catalog"
	"github.com/cloudx-io/dutchauction/config"
	"github.com/cloudx-io/dutchauction/core"
	"github.com/cloudx-io/dutchauction/directory"
	"github.com/cloudx-io/dutchauction/house"
	"github.com/cloudx-io/dutchauction/ledger"
	"github.com/cloudx-io/dutchauction/logging"
	"github.com/cloudx-io/dutchauction/metrics"
	"github.com/cloudx-io/dutchauction/transport/redistransport"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(2)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error building logger: %v\n", err)
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("auctiond stopped", zap.Error(err))
		os.Exit(1)
	}
}

// node holds the infrastructure shared by every role.
type node struct {
	cfg       config.Config
	client    *redis.Client
	network   *redistransport.Network
	directory *directory.Redis
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

func connect(ctx context.Context, cfg config.Config, logger *zap.Logger) (*node, error) {
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.RedisAddr, err)
	}

	registry := prometheus.NewRegistry()
	return &node{
		cfg:       cfg,
		client:    client,
		network:   redistransport.New(client, logger),
		directory: directory.NewRedis(client, cfg.DirectoryTTL),
		registry:  registry,
		metrics:   metrics.New(registry),
		logger:    logging.Participant(logger, cfg.Role, cfg.Address),
	}, nil
}

func (n *node) Close() error {
	return n.client.Close()
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	n, err := connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer n.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		server := metrics.NewServer(cfg.MetricsAddr, n.registry, n.logger)
		g.Go(func() error { return server.Run(ctx) })
	}

	if err := n.register(ctx, g); err != nil {
		return err
	}

	g.Go(func() error {
		// the metrics server and keepalive stop once the role is done
		defer cancel()

		switch directory.Role(cfg.Role) {
		case directory.RoleBidder:
			return n.serveBidder(ctx)
		default:
			records, err := n.sell(ctx)
			if err != nil {
				return err
			}
			for _, r := range records {
				n.logger.Info("sale closed",
					zap.String(logging.FieldItem, r.Item),
					zap.String("run_id", r.RunID),
					zap.Stringer("outcome", r.Outcome))
			}
			return nil
		}
	})
	return g.Wait()
}

// register lists this process in the directory and keeps the entry alive until ctx is done.
func (n *node) register(ctx context.Context, g *errgroup.Group) error {
	p := directory.Participant{
		Address: n.cfg.Address,
		Role:    directory.Role(n.cfg.Role),
		Zone:    n.cfg.Zone,
	}
	if err := n.directory.Register(ctx, p); err != nil {
		return fmt.Errorf("register %s: %w", p.Address, err)
	}

	g.Go(func() error {
		directory.Keepalive(ctx, n.directory, p, n.cfg.DirectoryTTL/3, func(err error) {
			n.logger.Warn("directory keepalive failed", zap.Error(err))
		})
		return nil
	})
	return nil
}

func (n *node) serveBidder(ctx context.Context) error {
	ep, err := n.network.Endpoint(ctx, n.cfg.Address)
	if err != nil {
		return err
	}
	defer ep.Close()

	b, err := bidder.New(bidder.Config{
		Strategy: n.cfg.BidderStrategy(),
		Creators: catalog.Default().Creators(),
	}, ep, n.logger)
	if err != nil {
		return err
	}

	profile := b.Profile()
	n.logger.Info("bidder ready",
		zap.Stringer("strategy", profile.Strategy),
		zap.Strings("subjects", profile.Subjects),
		zap.Strings("media", profile.Media),
		zap.Strings("creators", profile.Creators))
	return b.Run(ctx)
}

func (n *node) item() (core.Item, error) {
	cat := catalog.Default()
	if n.cfg.Item == "" {
		return cat.NextItem()
	}
	item, ok := cat.Lookup(n.cfg.Item)
	if !ok {
		return core.Item{}, fmt.Errorf("item %q not in catalog", n.cfg.Item)
	}
	return item, nil
}

func (n *node) sell(ctx context.Context) ([]house.Record, error) {
	item, err := n.item()
	if err != nil {
		return nil, err
	}

	var journal ledger.Ledger
	if n.cfg.PostgresDSN != "" {
		pg, err := ledger.Connect(ctx, n.cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		defer pg.Close()
		journal = pg
	}

	h := house.New(house.Config{
		MaxConcurrent:     n.cfg.MaxConcurrentAuctions,
		RoundTimeout:      n.cfg.RoundTimeout,
		Federated:         n.cfg.Role == string(directory.RoleAggregator),
		AggregatorTimeout: n.cfg.AggregatorTimeout,
	}, house.Deps{
		Network:   n.network,
		Directory: n.directory,
		Ledger:    journal,
		Metrics:   n.metrics,
		Logger:    n.logger,
	})
	return h.RunAll(ctx, []core.Item{item})
}
