package directory

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
)

// Memory is an in-process registry whose entries expire after a TTL unless re-registered.
type Memory struct {
	entries *cache.Cache
	ttl     time.Duration
}

// NewMemory creates a registry. A ttl of zero keeps entries until they are deregistered.
func NewMemory(ttl time.Duration) *Memory {
	expiration := cache.NoExpiration
	cleanup := time.Duration(0)
	if ttl > 0 {
		expiration = ttl
		cleanup = ttl
	}
	return &Memory{
		entries: cache.New(expiration, cleanup),
		ttl:     expiration,
	}
}

func (m *Memory) Register(_ context.Context, p Participant) error {
	if p.Address == "" {
		return fmt.Errorf("register: empty address")
	}
	m.entries.Set(p.Address, p, m.ttl)
	return nil
}

func (m *Memory) Deregister(_ context.Context, address string) error {
	m.entries.Delete(address)
	return nil
}

func (m *Memory) Get(_ context.Context, address string) (Participant, error) {
	v, ok := m.entries.Get(address)
	if !ok {
		return Participant{}, fmt.Errorf("%w: %s", ErrNotFound, address)
	}
	return v.(Participant), nil
}

func (m *Memory) Find(_ context.Context, role Role) ([]Participant, error) {
	var out []Participant
	for _, item := range m.entries.Items() {
		p := item.Object.(Participant)
		if p.Role == role {
			out = append(out, p)
		}
	}
	sortParticipants(out)
	return out, nil
}
