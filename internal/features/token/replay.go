// Package token: replay.go is the single-use hook for action links.
// By default links can be replayed; the Redis guard makes state-changing
// links usable once.
package token

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayGuard records that a token id has been used.
type ReplayGuard interface {
	// Claim marks id as used. It returns false when it was already claimed.
	Claim(ctx context.Context, id string) (bool, error)
	// Release forgets a claim, used when applying the decision failed.
	Release(ctx context.Context, id string) error
}

// NoReplayGuard accepts every token any number of times.
type NoReplayGuard struct{}

func (NoReplayGuard) Claim(context.Context, string) (bool, error) { return true, nil }
func (NoReplayGuard) Release(context.Context, string) error       { return nil }

// RedisReplayGuard stores used token ids in Redis with a TTL.
type RedisReplayGuard struct {
	rdb    *redis.Client
	window time.Duration
	prefix string
}

// NewRedisReplayGuard creates a guard that remembers ids for window.
func NewRedisReplayGuard(rdb *redis.Client, window time.Duration) *RedisReplayGuard {
	return &RedisReplayGuard{rdb: rdb, window: window, prefix: "payment-action:used:"}
}

func (g *RedisReplayGuard) Claim(ctx context.Context, id string) (bool, error) {
	if id == "" {
		// legacy links carry no id and cannot be tracked
		return true, nil
	}
	ok, err := g.rdb.SetNX(ctx, g.prefix+id, time.Now().Unix(), g.window).Result()
	if err != nil {
		return false, fmt.Errorf("failed to claim action token: %w", err)
	}
	return ok, nil
}

func (g *RedisReplayGuard) Release(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := g.rdb.Del(ctx, g.prefix+id).Err(); err != nil {
		return fmt.Errorf("failed to release action token: %w", err)
	}
	return nil
}
