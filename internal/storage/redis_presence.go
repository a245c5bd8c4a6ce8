// Package storage holds external persistence adapters for presence state.
package storage

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// TTL bounds how long a presence key outlives a crashed relay; 0 keeps
	// keys until cleared.
	TTL time.Duration
}

// RedisPresence mirrors identity -> connection bindings into Redis under
// chat:presence:<username>.
type RedisPresence struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisPresence(ctx context.Context, c RedisConfig) (*RedisPresence, error) {
	rdb := redis.NewClient(&redis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB})

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrapf(err, "ping redis %s", c.Addr)
	}
	return &RedisPresence{rdb: rdb, ttl: c.TTL}, nil
}

func presenceKey(user string) string { return "chat:presence:" + user }

func (p *RedisPresence) RecordConnection(ctx context.Context, username, connectionToken string) error {
	err := p.rdb.Set(ctx, presenceKey(username), connectionToken, p.ttl).Err()
	return errors.Wrapf(err, "record presence for %s", username)
}

func (p *RedisPresence) ClearConnection(ctx context.Context, username string) error {
	err := p.rdb.Del(ctx, presenceKey(username)).Err()
	return errors.Wrapf(err, "clear presence for %s", username)
}

// lookup reports the mirrored connection token for username.
func (p *RedisPresence) lookup(ctx context.Context, username string) (token string, online bool, err error) {
	val, err := p.rdb.Get(ctx, presenceKey(username)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "lookup presence for %s", username)
	}
	return val, true, nil
}

func (p *RedisPresence) Close() error {
	return p.rdb.Close()
}
