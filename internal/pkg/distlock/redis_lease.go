package distlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the lease key only when the stored token is ours,
// so a slow holder whose TTL already expired cannot release a successor's
// lease.
var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	end
	return 0
`)

// extendScript refreshes the TTL under the same ownership check.
var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	end
	return 0
`)

// RedisLease implements Lease with SET NX + TTL. Each instance carries a
// random ownership token checked by the Lua scripts above.
type RedisLease struct {
	client *redis.Client
	key    string
	token  string
	ttl    time.Duration
}

// NewRedisLease creates a lease on the key "outreach:lease:<name>".
func NewRedisLease(client *redis.Client, name string, ttl time.Duration) *RedisLease {
	buf := make([]byte, 16)
	rand.Read(buf)
	return &RedisLease{
		client: client,
		key:    "outreach:lease:" + name,
		token:  hex.EncodeToString(buf),
		ttl:    ttl,
	}
}

func (l *RedisLease) TryAcquire(ctx context.Context) (bool, error) {
	held, err := l.client.SetNX(ctx, l.key, l.token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", l.key, err)
	}
	return held, nil
}

func (l *RedisLease) Release(ctx context.Context) error {
	if _, err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Result(); err != nil {
		return fmt.Errorf("release lease %s: %w", l.key, err)
	}
	return nil
}

// Extend refreshes the TTL for a tick that outlives the lease window.
func (l *RedisLease) Extend(ctx context.Context, ttl time.Duration) error {
	if _, err := extendScript.Run(ctx, l.client, []string{l.key}, l.token, ttl.Milliseconds()).Result(); err != nil {
		return fmt.Errorf("extend lease %s: %w", l.key, err)
	}
	return nil
}
