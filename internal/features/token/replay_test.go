package token

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisReplayGuard_LegacyIDsUntracked(t *testing.T) {
	// nothing listens here; ids without jti must not reach Redis
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	defer rdb.Close()
	g := NewRedisReplayGuard(rdb, time.Hour)

	ok, err := g.Claim(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, g.Release(context.Background(), ""))

	_, err = g.Claim(context.Background(), "3f1c0a52-5c8b-4a57-9d7e-0f5f1b3c2a11")
	assert.Error(t, err, "Redis errors surface instead of allowing a replay")
}
