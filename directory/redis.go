package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"
)

const (
	keyPrefix  = "dutchauction:participant:"
	rolePrefix = "dutchauction:role:"
)

// Redis is a registry shared by processes through Redis. Each participant is a JSON value with
// a TTL; a set per role indexes the addresses. Stale index members are pruned by Find.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

func participantKey(address string) string { return keyPrefix + address }
func roleKey(role Role) string             { return rolePrefix + string(role) }

func (r *Redis) Register(ctx context.Context, p Participant) error {
	if p.Address == "" {
		return fmt.Errorf("register: empty address")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode participant: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, participantKey(p.Address), data, r.ttl)
		pipe.SAdd(ctx, roleKey(p.Role), p.Address)
		return nil
	})
	if err != nil {
		return fmt.Errorf("register %s: %w", p.Address, err)
	}
	return nil
}

func (r *Redis) Deregister(ctx context.Context, address string) error {
	p, err := r.Get(ctx, address)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, participantKey(address))
		pipe.SRem(ctx, roleKey(p.Role), address)
		return nil
	})
	if err != nil {
		return fmt.Errorf("deregister %s: %w", address, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, address string) (Participant, error) {
	data, err := r.client.Get(ctx, participantKey(address)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Participant{}, fmt.Errorf("%w: %s", ErrNotFound, address)
	}
	if err != nil {
		return Participant{}, fmt.Errorf("get %s: %w", address, err)
	}

	var p Participant
	if err := json.Unmarshal(data, &p); err != nil {
		return Participant{}, fmt.Errorf("decode participant %s: %w", address, err)
	}
	return p, nil
}

func (r *Redis) Find(ctx context.Context, role Role) ([]Participant, error) {
	addresses, err := r.client.SMembers(ctx, roleKey(role)).Result()
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", role, err)
	}
	if len(addresses) == 0 {
		return nil, nil
	}

	values, err := r.client.MGet(ctx, lo.Map(addresses, func(a string, _ int) string {
		return participantKey(a)
	})...).Result()
	if err != nil {
		return nil, fmt.Errorf("find %s: %w", role, err)
	}

	var out []Participant
	var expired []any
	for i, v := range values {
		s, ok := v.(string)
		if !ok {
			expired = append(expired, addresses[i])
			continue
		}
		var p Participant
		if err := json.Unmarshal([]byte(s), &p); err != nil {
			return nil, fmt.Errorf("decode participant %s: %w", addresses[i], err)
		}
		out = append(out, p)
	}
	if len(expired) > 0 {
		if err := r.client.SRem(ctx, roleKey(role), expired...).Err(); err != nil {
			return nil, fmt.Errorf("prune %s: %w", role, err)
		}
	}

	sortParticipants(out)
	return out, nil
}
