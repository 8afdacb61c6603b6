package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudx-io/dutchauction/auctionapi"
)

var (
	// ErrClosed is returned by operations on a closed endpoint.
	ErrClosed = errors.New("endpoint closed")
	// ErrUnknownRecipient is returned when no endpoint is listening on the recipient address.
	ErrUnknownRecipient = errors.New("unknown recipient")
	// ErrAddressInUse is returned when an endpoint is opened twice on one address.
	ErrAddressInUse = errors.New("address already in use")
)

// Endpoint is one participant's attachment to a network. Delivery is at most once: a lost message
// is indistinguishable from a participant that did not answer.
type Endpoint interface {
	// Address is the address other participants send to.
	Address() string
	// Send delivers env to the endpoint listening on to. The envelope's Sender is set to Address.
	Send(ctx context.Context, to string, env auctionapi.Envelope) error
	// Receive blocks until a message matching filter arrives or ctx is done, in which case it
	// returns ctx.Err(). Messages that do not match stay queued for a later Receive.
	Receive(ctx context.Context, filter Filter) (auctionapi.Envelope, error)
	// Discard drops queued messages matching filter and returns how many were dropped.
	Discard(filter Filter) int
	// Close detaches the endpoint. Pending and later Receive calls return ErrClosed.
	Close() error
}

// Network hands out endpoints.
type Network interface {
	Endpoint(ctx context.Context, addr string) (Endpoint, error)
}

// Multicast sends env to every recipient. Failed deliveries are collected per recipient and
// returned joined; the remaining recipients are still attempted.
func Multicast(ctx context.Context, ep Endpoint, recipients []string, env auctionapi.Envelope) error {
	var errs []error
	for _, to := range recipients {
		if err := ep.Send(ctx, to, env); err != nil {
			if errors.Is(err, ErrClosed) {
				return err
			}
			errs = append(errs, fmt.Errorf("send %s to %s: %w", env.Type, to, err))
		}
	}
	return errors.Join(errs...)
}
