package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cloudx-io/dutchauction/auctionapi"
	"github.com/cloudx-io/dutchauction/core"
)

// Memory is an in-process network. It can drop or delay messages to simulate an unreliable
// transport.
type Memory struct {
	mu    sync.RWMutex
	boxes map[string]*Mailbox

	lossPerMille int
	latency      time.Duration
	logger       *zap.Logger

	// randMu serializes draws: senders run concurrently and RandSource need not be safe for that.
	randMu sync.Mutex
	rand   core.RandSource
}

// MemoryOption configures a Memory network.
type MemoryOption func(*Memory)

// WithLoss drops each message with probability p (0 to 1).
func WithLoss(p float64, rs core.RandSource) MemoryOption {
	return func(n *Memory) {
		n.lossPerMille = int(p * 1000)
		if rs != nil {
			n.rand = rs
		}
	}
}

// WithLatency delays every delivery by d.
func WithLatency(d time.Duration) MemoryOption {
	return func(n *Memory) {
		n.latency = d
	}
}

// WithLogger logs dropped messages.
func WithLogger(logger *zap.Logger) MemoryOption {
	return func(n *Memory) {
		n.logger = logger
	}
}

func NewMemory(opts ...MemoryOption) *Memory {
	n := &Memory{
		boxes:  make(map[string]*Mailbox),
		rand:   core.DefaultRandSource,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Endpoint opens the endpoint for addr. Each address can be open once at a time.
func (n *Memory) Endpoint(_ context.Context, addr string) (Endpoint, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.boxes[addr]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAddressInUse, addr)
	}
	box := NewMailbox()
	n.boxes[addr] = box
	return &memoryEndpoint{network: n, addr: addr, box: box}, nil
}

func (n *Memory) lookup(addr string) (*Mailbox, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	box, ok := n.boxes[addr]
	return box, ok
}

func (n *Memory) detach(addr string, box *Mailbox) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.boxes[addr] == box {
		delete(n.boxes, addr)
	}
}

func (n *Memory) dropped() bool {
	if n.lossPerMille <= 0 {
		return false
	}
	n.randMu.Lock()
	defer n.randMu.Unlock()
	return n.rand.Intn(1000) < n.lossPerMille
}

func (n *Memory) deliver(box *Mailbox, env auctionapi.Envelope) {
	if n.dropped() {
		n.logger.Debug("message dropped",
			zap.String("type", string(env.Type)),
			zap.String("sender", env.Sender),
			zap.String("conversation", env.ConversationID))
		return
	}
	if n.latency > 0 {
		time.AfterFunc(n.latency, func() { _ = box.Deliver(env) })
		return
	}
	// a recipient that closed in the meantime behaves like a lost message
	_ = box.Deliver(env)
}

type memoryEndpoint struct {
	network *Memory
	addr    string
	box     *Mailbox

	mu     sync.Mutex
	closed bool
}

func (e *memoryEndpoint) Address() string { return e.addr }

func (e *memoryEndpoint) Send(ctx context.Context, to string, env auctionapi.Envelope) error {
	if e.isClosed() {
		return ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	box, ok := e.network.lookup(to)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownRecipient, to)
	}
	env.Sender = e.addr
	e.network.deliver(box, env)
	return nil
}

func (e *memoryEndpoint) Receive(ctx context.Context, filter Filter) (auctionapi.Envelope, error) {
	return e.box.Receive(ctx, filter)
}

func (e *memoryEndpoint) Discard(filter Filter) int {
	return e.box.Discard(filter)
}

func (e *memoryEndpoint) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.network.detach(e.addr, e.box)
	e.box.Close()
	return nil
}

func (e *memoryEndpoint) isClosed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}
