package redisdedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "walletscope:record:"

// Deduper claims record ids with SETNX so restarts do not deliver a record twice.
type Deduper struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// New connects to addr and checks the connection.
func New(ctx context.Context, addr string, ttl time.Duration) (*Deduper, error) {
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewWithClient(client, ttl), nil
}

// NewWithClient wraps an existing client. A zero ttl keeps claims forever.
func NewWithClient(client redis.UniversalClient, ttl time.Duration) *Deduper {
	return &Deduper{client: client, ttl: ttl}
}

func (d *Deduper) Claim(ctx context.Context, id string) (bool, error) {
	ok, err := d.client.SetNX(ctx, Key(id), time.Now().Unix(), d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", id, err)
	}
	return ok, nil
}

func (d *Deduper) Close() error {
	return d.client.Close()
}

// Key is the redis key of a record id.
func Key(id string) string {
	return keyPrefix + id
}
