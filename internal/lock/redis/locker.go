// Package redislock implements crawler.Locker on Redis with SET NX PX leases.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/JakeFAU/newswatch/internal/crawler"
)

// DefaultPrefix namespaces lock keys.
const DefaultPrefix = "newswatch:lock:"

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Config controls key naming.
type Config struct {
	Prefix string
}

// Locker grants leases backed by Redis keys.
type Locker struct {
	client redis.UniversalClient
	idGen  crawler.IDGenerator
	prefix string
}

// New builds a Locker. Each acquisition gets a fresh token from idGen.
func New(client redis.UniversalClient, idGen crawler.IDGenerator, cfg Config) (*Locker, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if idGen == nil {
		return nil, errors.New("id generator is required")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Locker{client: client, idGen: idGen, prefix: prefix}, nil
}

// TryAcquire sets the key if absent. It never blocks or retries.
func (l *Locker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (crawler.Lease, bool, error) {
	if key == "" {
		return nil, false, errors.New("lock key is required")
	}
	if ttl <= 0 {
		return nil, false, fmt.Errorf("lock ttl must be > 0, got %s", ttl)
	}
	token, err := l.idGen.NewID()
	if err != nil {
		return nil, false, fmt.Errorf("lock token: %w", err)
	}
	ok, err := l.client.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock %q: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	return &lease{client: l.client, key: key, redisKey: l.prefix + key, token: token}, true, nil
}

// Ping checks connectivity for readiness probes.
func (l *Locker) Ping(ctx context.Context) error {
	if err := l.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

type lease struct {
	client   redis.UniversalClient
	key      string
	redisKey string
	token    string
}

func (l *lease) Key() string {
	return l.key
}

// Release deletes the key if the token still matches. A missing or foreign
// key is not an error: the lease already expired.
func (l *lease) Release(ctx context.Context) error {
	if _, err := releaseScript.Run(ctx, l.client, []string{l.redisKey}, l.token).Int(); err != nil {
		return fmt.Errorf("release lock %q: %w", l.key, err)
	}
	return nil
}
