// Package redis holds the Redis-backed login throttle.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainauth "github.com/NordCoder/sessiongate/internal/domain/auth"
	goredis "github.com/redis/go-redis/v9"
)

var ErrRedisUnavailable = errors.New("redis unavailable")

type Config struct {
	Addr             string        `mapstructure:"addr"`
	Password         string        `mapstructure:"password"`
	DB               int           `mapstructure:"db"`
	MaxLoginAttempts int           `mapstructure:"max_login_attempts"`
	LoginCooldown    time.Duration `mapstructure:"login_cooldown"`
}

func NewClient(ctx context.Context, cfg Config) (*goredis.Client, error) {
	c := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return c, nil
}

// LoginLimiter counts failed logins per username and per client IP in fixed
// windows of LoginCooldown. Reaching MaxLoginAttempts in either counter blocks
// further attempts until the window ends.
type LoginLimiter struct {
	rdb goredis.UniversalClient
	max int
	ttl time.Duration
}

func NewLoginLimiter(rdb goredis.UniversalClient, cfg Config) *LoginLimiter {
	if cfg.MaxLoginAttempts <= 0 {
		cfg.MaxLoginAttempts = 5
	}
	if cfg.LoginCooldown <= 0 {
		cfg.LoginCooldown = 15 * time.Minute
	}
	return &LoginLimiter{rdb: rdb, max: cfg.MaxLoginAttempts, ttl: cfg.LoginCooldown}
}

func loginUserKey(username string) string { return "sg:login:user:" + username }
func loginIPKey(ip string) string         { return "sg:login:ip:" + ip }

func (l *LoginLimiter) keys(username, ip string) []string {
	keys := []string{loginUserKey(username)}
	if ip != "" {
		keys = append(keys, loginIPKey(ip))
	}
	return keys
}

func (l *LoginLimiter) CheckLogin(ctx context.Context, username, ip string) error {
	for _, key := range l.keys(username, ip) {
		n, err := l.rdb.Get(ctx, key).Int64()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if n >= int64(l.max) {
			return domainauth.ErrLoginThrottled
		}
	}
	return nil
}

// IncrementLogin records one failed attempt.
func (l *LoginLimiter) IncrementLogin(ctx context.Context, username, ip string) error {
	for _, key := range l.keys(username, ip) {
		n, err := l.rdb.Incr(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		// fixed window: the first hit opens it
		if n == 1 {
			if err := l.rdb.Expire(ctx, key, l.ttl).Err(); err != nil {
				return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
		}
	}
	return nil
}

// ResetLogin clears the username counter after a successful login. The IP
// counter is left alone so one valid account can't unlock guessing for others.
func (l *LoginLimiter) ResetLogin(ctx context.Context, username string) error {
	if err := l.rdb.Del(ctx, loginUserKey(username)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
