// Package house runs many auctions of different items concurrently and journals their outcomes.
package house

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cloudx-io/dutchauction/coordinator"
	"github.com/cloudx-io/dutchauction/core"
	"github.com/cloudx-io/dutchauction/directory"
	"github.com/cloudx-io/dutchauction/federation"
	"github.com/cloudx-io/dutchauction/ledger"
	"github.com/cloudx-io/dutchauction/logging"
	"github.com/cloudx-io/dutchauction/metrics"
	"github.com/cloudx-io/dutchauction/transport"
)

// DefaultMaxConcurrent bounds the number of auctions running at once.
const DefaultMaxConcurrent = 4

// ErrDuplicateItem is returned when RunAll is asked to sell the same item twice. Two
// coordinators for one item would share a conversation id.
var ErrDuplicateItem = errors.New("item listed twice")

// Config configures a House.
type Config struct {
	MaxConcurrent int
	RoundTimeout  time.Duration
	ConfirmGrace  time.Duration

	// Federated runs every item as a federated auction with one delegate per pool.
	Federated bool
	// Pools are the delegate bidder pools. When empty in federated mode the registered bidders
	// are partitioned by zone.
	Pools             []federation.Pool
	AggregatorTimeout time.Duration
}

// Deps are the collaborators of a House.
type Deps struct {
	Network   transport.Network
	Directory directory.Registry
	// Ledger journals outcomes. Optional.
	Ledger  ledger.Ledger
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

// Record is the result of one auction run by the house.
type Record struct {
	RunID   string       `json:"run_id"`
	Item    string       `json:"item"`
	Outcome core.Outcome `json:"outcome"`
	// Entry is the ledger entry, zero when no ledger is configured.
	Entry ledger.Entry `json:"entry,omitzero"`
	// Federation is set for federated auctions.
	Federation *federation.Result `json:"federation,omitempty"`
}

type House struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger
}

func New(cfg Config, deps Deps) *House {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	return &House{
		cfg:    cfg,
		deps:   deps,
		logger: logging.OrNop(deps.Logger).Named("house"),
	}
}

// RunAll sells every item, at most MaxConcurrent at a time, and returns the records in item
// order. An auction that ends in Failure is a normal record; an error is returned only for
// infrastructure failures, and it cancels the auctions still running.
func (h *House) RunAll(ctx context.Context, items []core.Item) ([]Record, error) {
	if dup := lo.FindDuplicatesBy(items, func(it core.Item) string { return it.Name }); len(dup) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateItem, dup[0].Name)
	}
	for _, item := range items {
		if err := core.ValidateItem(item); err != nil {
			return nil, err
		}
	}

	records := make([]Record, len(items))
	semaphore := make(chan struct{}, h.cfg.MaxConcurrent)
	g, gctx := errgroup.WithContext(ctx)

	h.logger.Info("house opened",
		zap.Int("items", len(items)),
		zap.Int("max_concurrent", h.cfg.MaxConcurrent),
		zap.Bool("federated", h.cfg.Federated))

	var mu sync.Mutex
dispatch:
	for i, item := range items {
		// Acquire worker slot
		select {
		case semaphore <- struct{}{}:
		case <-gctx.Done():
			break dispatch
		}

		g.Go(func() error {
			defer func() { <-semaphore }() // Release worker slot

			record, err := h.runOne(gctx, item)
			if err != nil {
				return fmt.Errorf("auction %q: %w", item.Name, err)
			}
			mu.Lock()
			records[i] = record
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (h *House) runOne(ctx context.Context, item core.Item) (Record, error) {
	record := Record{RunID: uuid.NewString(), Item: item.Name}
	logger := h.logger.With(
		zap.String(logging.FieldItem, item.Name),
		zap.String("run_id", record.RunID))

	if h.cfg.Federated {
		result, err := h.runFederated(ctx, item)
		if err != nil {
			return record, err
		}
		record.Federation = &result
		record.Outcome = GlobalOutcome(item, result)
	} else {
		outcome, err := h.runLocal(ctx, item)
		if err != nil {
			return record, err
		}
		record.Outcome = outcome
	}

	if h.deps.Ledger != nil {
		entry, err := h.deps.Ledger.Record(ctx, record.RunID, record.Outcome)
		if err != nil {
			return record, fmt.Errorf("record outcome: %w", err)
		}
		record.Entry = entry
	}
	logger.Info("auction closed", zap.Stringer("outcome", record.Outcome))
	return record, nil
}

func (h *House) runLocal(ctx context.Context, item core.Item) (core.Outcome, error) {
	ep, err := h.deps.Network.Endpoint(ctx, "coordinator/"+item.Name)
	if err != nil {
		return core.Outcome{}, fmt.Errorf("open coordinator endpoint: %w", err)
	}
	defer ep.Close()

	c := coordinator.New(coordinator.Config{
		Item:         item,
		RoundTimeout: h.cfg.RoundTimeout,
		ConfirmGrace: h.cfg.ConfirmGrace,
	}, coordinator.Deps{
		Endpoint:  ep,
		Directory: h.deps.Directory,
		Logger:    h.deps.Logger,
		Metrics:   h.deps.Metrics,
	})
	return c.Run(ctx)
}

func (h *House) runFederated(ctx context.Context, item core.Item) (federation.Result, error) {
	pools := h.cfg.Pools
	if len(pools) == 0 {
		if h.deps.Directory == nil {
			return federation.Result{}, errors.New("federated auction without pools or directory")
		}
		participants, err := h.deps.Directory.Find(ctx, directory.RoleBidder)
		if err != nil {
			return federation.Result{}, fmt.Errorf("find bidders: %w", err)
		}
		pools = federation.Partition(participants)
	}

	return federation.Run(ctx, h.deps.Network, item, pools, federation.Options{
		RoundTimeout:      h.cfg.RoundTimeout,
		AggregatorTimeout: h.cfg.AggregatorTimeout,
		Logger:            h.deps.Logger,
		Metrics:           h.deps.Metrics,
	})
}

// GlobalOutcome folds a federated result into a single outcome for the item. RoundsRun is the
// winning delegate's round count, or the longest local run when nobody won.
func GlobalOutcome(item core.Item, result federation.Result) core.Outcome {
	conversation := core.ConversationID(item.Name)
	if d := result.Decision; d.Won && d.Winner != nil {
		w := d.Winner.Outcome
		return core.Success(conversation, item.Name, w.Winner, w.WinningBid, w.RoundsRun)
	}
	rounds := lo.Max(lo.Map(result.Local, func(r core.DelegateResult, _ int) int {
		return r.Outcome.RoundsRun
	}))
	return core.Failure(conversation, item.Name, core.ReasonNoLocalWinners, rounds)
}
