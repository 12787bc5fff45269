package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Blacklist records revoked token ids until the tokens would have expired anyway.
type Blacklist interface {
	Revoke(ctx context.Context, jti string, until time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// MemoryBlacklist keeps revoked ids in process memory. It is best-effort and
// forgets everything on restart.
type MemoryBlacklist struct {
	mu      sync.Mutex
	revoked map[string]time.Time
	now     func() time.Time
}

// NewMemoryBlacklist creates an empty MemoryBlacklist.
func NewMemoryBlacklist() *MemoryBlacklist {
	return &MemoryBlacklist{revoked: make(map[string]time.Time), now: time.Now}
}

// Revoke marks jti revoked until the given time. Expired entries are swept on each call.
func (b *MemoryBlacklist) Revoke(_ context.Context, jti string, until time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()
	for id, exp := range b.revoked {
		if !exp.After(now) {
			delete(b.revoked, id)
		}
	}
	if until.After(now) {
		b.revoked[jti] = until
	}
	return nil
}

// IsRevoked reports whether jti is still revoked.
func (b *MemoryBlacklist) IsRevoked(_ context.Context, jti string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	exp, ok := b.revoked[jti]
	return ok && exp.After(b.now()), nil
}

// Len returns the number of entries held, expired or not.
func (b *MemoryBlacklist) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.revoked)
}

// RedisBlacklist stores revoked ids as expiring Redis keys.
type RedisBlacklist struct {
	client redis.Cmdable
	prefix string
}

// NewRedisBlacklist creates a RedisBlacklist storing keys under prefix.
func NewRedisBlacklist(client redis.Cmdable, prefix string) *RedisBlacklist {
	return &RedisBlacklist{client: client, prefix: prefix + "revoked:"}
}

// Revoke sets jti with a TTL reaching until.
func (b *RedisBlacklist) Revoke(ctx context.Context, jti string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	if err := b.client.Set(ctx, b.prefix+jti, 1, ttl).Err(); err != nil {
		return fmt.Errorf("failed to revoke token: %w", err)
	}
	return nil
}

// IsRevoked reports whether jti's key exists.
func (b *RedisBlacklist) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := b.client.Exists(ctx, b.prefix+jti).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check token revocation: %w", err)
	}
	return n > 0, nil
}
