package db

import (
	"context"
	"time"

	"rujukan/cfg"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Redis keeps per-session token reveals so every instance behind a load
// balancer shows a delete token at most once.
type Redis struct {
	client  *redis.Client
	timeout time.Duration
	ttl     time.Duration
}

func NewRedis(url string, c *cfg.Cfg) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	opt.PoolSize = 50
	opt.MinIdleConns = 10
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute
	opt.MaxRetries = 3
	opt.MinRetryBackoff = 8 * time.Millisecond
	opt.MaxRetryBackoff = 512 * time.Millisecond
	if c.RedisUsername != "" {
		opt.Username = c.RedisUsername
	}
	if c.RedisPassword.Value() != "" {
		opt.Password = c.RedisPassword.Value()
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrap(err, "ping redis")
	}
	return &Redis{
		client:  client,
		timeout: c.RedisTimeout,
		ttl:     c.SessionTTL,
	}, nil
}

func revealKey(sessionID, pasteID string) string {
	return "reveal:" + sessionID + ":" + pasteID
}

func (r *Redis) Stash(ctx context.Context, sessionID, pasteID, token string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return errors.Wrap(r.client.Set(ctx, revealKey(sessionID, pasteID), token, r.ttl).Err(), "stash reveal")
}

// Take returns the pending token and removes it; "" when nothing is pending.
func (r *Redis) Take(ctx context.Context, sessionID, pasteID string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	token, err := r.client.GetDel(ctx, revealKey(sessionID, pasteID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "take reveal")
	}
	return token, nil
}

func (r *Redis) Forget(ctx context.Context, sessionID, pasteID string) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return errors.Wrap(r.client.Del(ctx, revealKey(sessionID, pasteID)).Err(), "forget reveal")
}

func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}
