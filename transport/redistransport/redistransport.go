// Package redistransport carries envelopes over Redis pub/sub, one channel per participant address.
package redistransport

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cloudx-io/dutchauction/auctionapi"
	"github.com/cloudx-io/dutchauction/auctionapi/parsing"
	"github.com/cloudx-io/dutchauction/transport"
)

const channelPrefix = "dutchauction:mailbox:"

// Channel returns the pub/sub channel an address listens on.
func Channel(addr string) string {
	return channelPrefix + addr
}

// Network opens endpoints on a shared Redis client.
type Network struct {
	client *redis.Client
	logger *zap.Logger
}

func New(client *redis.Client, logger *zap.Logger) *Network {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Network{client: client, logger: logger}
}

// Endpoint subscribes to the address channel and waits for the subscription to be confirmed,
// so messages published after Endpoint returns are not missed.
func (n *Network) Endpoint(ctx context.Context, addr string) (transport.Endpoint, error) {
	sub := n.client.Subscribe(ctx, Channel(addr))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", addr, err)
	}

	e := &endpoint{
		client: n.client,
		addr:   addr,
		sub:    sub,
		box:    transport.NewMailbox(),
		logger: n.logger.With(zap.String("address", addr)),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go e.pump()
	return e, nil
}

type endpoint struct {
	client *redis.Client
	addr   string
	sub    *redis.PubSub
	box    *transport.Mailbox
	logger *zap.Logger

	closeOnce sync.Once
	closed    chan struct{}
	done      chan struct{}
}

func (e *endpoint) Address() string { return e.addr }

func (e *endpoint) pump() {
	defer close(e.done)
	for msg := range e.sub.Channel() {
		env, err := parsing.DecodeEnvelope([]byte(msg.Payload))
		if err != nil {
			// no sender can be blamed for an undecodable frame
			e.logger.Warn("dropping undecodable message", zap.Error(err))
			continue
		}
		if err := e.box.Deliver(env); err != nil {
			return
		}
	}
}

func (e *endpoint) Send(ctx context.Context, to string, env auctionapi.Envelope) error {
	select {
	case <-e.closed:
		return transport.ErrClosed
	default:
	}

	env.Sender = e.addr
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	receivers, err := e.client.Publish(ctx, Channel(to), data).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", to, err)
	}
	if receivers == 0 {
		return fmt.Errorf("%w: %s", transport.ErrUnknownRecipient, to)
	}
	return nil
}

func (e *endpoint) Receive(ctx context.Context, filter transport.Filter) (auctionapi.Envelope, error) {
	return e.box.Receive(ctx, filter)
}

func (e *endpoint) Discard(filter transport.Filter) int {
	return e.box.Discard(filter)
}

func (e *endpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		close(e.closed)
		e.box.Close()
		err = e.sub.Close()
		<-e.done
	})
	return err
}
