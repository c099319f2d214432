package projects

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisRateLimiter_ZeroLimitDisablesCounting(t *testing.T) {
	// An unreachable client proves no command is issued
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1})
	defer rdb.Close()

	l := NewRedisRateLimiter(rdb, "upload-rate", 0, time.Hour)
	ok, err := l.Allow(context.Background(), "user")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisRateLimiter_ReportsBackendErrors(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	defer rdb.Close()

	l := NewRedisRateLimiter(rdb, "upload-rate", 5, time.Hour)
	_, err := l.Allow(context.Background(), "user")
	assert.Error(t, err)
}
