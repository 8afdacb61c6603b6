package transport

import (
	"context"
	"sync"

	"github.com/cloudx-io/dutchauction/auctionapi"
)

// Mailbox is a selective-receive queue. Receive takes the oldest queued message that matches
// its filter; other messages keep their order.
type Mailbox struct {
	mu      sync.Mutex
	queue   []auctionapi.Envelope
	changed chan struct{}
	closed  bool
}

func NewMailbox() *Mailbox {
	return &Mailbox{changed: make(chan struct{})}
}

// Deliver appends env to the queue and wakes waiting receivers.
func (m *Mailbox) Deliver(env auctionapi.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	m.queue = append(m.queue, env)
	m.notifyLocked()
	return nil
}

func (m *Mailbox) notifyLocked() {
	close(m.changed)
	m.changed = make(chan struct{})
}

// Receive returns the oldest queued message accepted by filter, waiting for one if necessary.
func (m *Mailbox) Receive(ctx context.Context, filter Filter) (auctionapi.Envelope, error) {
	if filter == nil {
		filter = Any
	}
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return auctionapi.Envelope{}, ErrClosed
		}
		for i, env := range m.queue {
			if filter(env) {
				m.queue = append(m.queue[:i], m.queue[i+1:]...)
				m.mu.Unlock()
				return env, nil
			}
		}
		changed := m.changed
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return auctionapi.Envelope{}, ctx.Err()
		case <-changed:
		}
	}
}

// Discard drops every queued message accepted by filter and returns how many were dropped.
func (m *Mailbox) Discard(filter Filter) int {
	if filter == nil {
		filter = Any
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.queue[:0]
	for _, env := range m.queue {
		if !filter(env) {
			kept = append(kept, env)
		}
	}
	dropped := len(m.queue) - len(kept)
	clear(m.queue[len(kept):])
	m.queue = kept
	return dropped
}

// Len returns the number of queued messages.
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

// Close wakes every receiver with ErrClosed and drops the queue.
func (m *Mailbox) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}
	m.closed = true
	m.queue = nil
	m.notifyLocked()
}
