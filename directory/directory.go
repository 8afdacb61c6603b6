package directory

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"
)

// ErrNotFound is returned when no participant is registered under an address.
var ErrNotFound = errors.New("participant not found")

// Role is the kind of participant registered in the directory.
type Role string

const (
	RoleBidder      Role = "bidder"
	RoleCoordinator Role = "coordinator"
	RoleAggregator  Role = "aggregator"
)

// Participant is one directory entry.
type Participant struct {
	Address string `json:"address"`
	Role    Role   `json:"role"`
	// Zone is the network partition the participant runs in. Federated auctions run one delegate
	// coordinator per zone.
	Zone string `json:"zone,omitempty"`
}

// Registry is the directory service. Find returns a snapshot: later registrations do not change
// a slice already returned.
type Registry interface {
	Register(ctx context.Context, p Participant) error
	Deregister(ctx context.Context, address string) error
	Get(ctx context.Context, address string) (Participant, error)
	Find(ctx context.Context, role Role) ([]Participant, error)
}

// Addresses extracts the addresses of participants, preserving order.
func Addresses(ps []Participant) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Address
	}
	return out
}

func sortParticipants(ps []Participant) {
	slices.SortFunc(ps, func(a, b Participant) int {
		return strings.Compare(a.Address, b.Address)
	})
}

// Keepalive re-registers p every interval until ctx is done, so that TTL-based registries keep
// it listed. It deregisters p on exit.
func Keepalive(ctx context.Context, reg Registry, p Participant, interval time.Duration, onError func(error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer func() {
		if err := reg.Deregister(context.WithoutCancel(ctx), p.Address); err != nil && onError != nil {
			onError(err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := reg.Register(ctx, p); err != nil && onError != nil {
				onError(err)
			}
		}
	}
}
