package redis

import (
	"context"
	"testing"
	"time"

	domainauth "github.com/NordCoder/sessiongate/internal/domain/auth"
	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimiter(t *testing.T, max int, ttl time.Duration) (*LoginLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewLoginLimiter(rdb, Config{MaxLoginAttempts: max, LoginCooldown: ttl}), mr
}

func TestLoginLimiter_BlocksAfterMax(t *testing.T) {
	ctx := context.Background()
	l, _ := newLimiter(t, 3, time.Minute)

	for i := 0; i < 3; i++ {
		require.NoError(t, l.CheckLogin(ctx, "alice", "10.0.0.1"))
		require.NoError(t, l.IncrementLogin(ctx, "alice", "10.0.0.1"))
	}
	require.ErrorIs(t, l.CheckLogin(ctx, "alice", "10.0.0.1"), domainauth.ErrLoginThrottled)
	require.ErrorIs(t, l.CheckLogin(ctx, "alice", "10.0.0.2"), domainauth.ErrLoginThrottled, "username counter")
	require.ErrorIs(t, l.CheckLogin(ctx, "bob", "10.0.0.1"), domainauth.ErrLoginThrottled, "ip counter")
	require.NoError(t, l.CheckLogin(ctx, "bob", "10.0.0.2"))
}

func TestLoginLimiter_WindowExpires(t *testing.T) {
	ctx := context.Background()
	l, mr := newLimiter(t, 1, time.Minute)

	require.NoError(t, l.IncrementLogin(ctx, "alice", ""))
	require.ErrorIs(t, l.CheckLogin(ctx, "alice", ""), domainauth.ErrLoginThrottled)

	mr.FastForward(61 * time.Second)
	require.NoError(t, l.CheckLogin(ctx, "alice", ""))
}

func TestLoginLimiter_ResetKeepsIPCounter(t *testing.T) {
	ctx := context.Background()
	l, mr := newLimiter(t, 2, time.Minute)

	require.NoError(t, l.IncrementLogin(ctx, "alice", "10.0.0.1"))
	require.NoError(t, l.ResetLogin(ctx, "alice"))

	assert.False(t, mr.Exists(loginUserKey("alice")))
	assert.True(t, mr.Exists(loginIPKey("10.0.0.1")))
}

func TestLoginLimiter_RedisDown(t *testing.T) {
	l, mr := newLimiter(t, 2, time.Minute)
	mr.Close()

	require.ErrorIs(t, l.CheckLogin(context.Background(), "alice", ""), ErrRedisUnavailable)
}
