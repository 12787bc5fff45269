// Package ratelimit counts requests per key over a fixed window.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Limiter decides whether one more request for key fits in the current window.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Config sets how many requests a key may make per window.
type Config struct {
	Requests int
	Window   time.Duration
}

func (c Config) validate() error {
	if c.Requests < 1 || c.Window <= 0 {
		return errors.New("requests and window must be positive")
	}
	return nil
}

// MemoryLimiter keeps a token bucket per key in process memory. It is
// best-effort: state is lost on restart and not shared between replicas.
type MemoryLimiter struct {
	cfg     Config
	idle    time.Duration
	mu      sync.Mutex
	clients map[string]*client
	stop    chan struct{}
	once    sync.Once
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewMemoryLimiter creates a MemoryLimiter and starts its janitor, which
// forgets keys idle for two windows. Call Close to stop it.
func NewMemoryLimiter(cfg Config) (*MemoryLimiter, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	l := &MemoryLimiter{
		cfg:     cfg,
		idle:    2 * cfg.Window,
		clients: make(map[string]*client),
		stop:    make(chan struct{}),
	}
	go l.janitor(cfg.Window)
	return l, nil
}

// Allow takes a token from key's bucket. The bucket refills at
// Requests/Window and holds at most Requests tokens.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (bool, error) {
	now := time.Now()
	l.mu.Lock()
	cl, ok := l.clients[key]
	if !ok {
		every := rate.Every(l.cfg.Window / time.Duration(l.cfg.Requests))
		cl = &client{limiter: rate.NewLimiter(every, l.cfg.Requests)}
		l.clients[key] = cl
	}
	cl.lastSeen = now
	l.mu.Unlock()
	return cl.limiter.AllowN(now, 1), nil
}

// Tracked returns the number of keys currently held.
func (l *MemoryLimiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

func (l *MemoryLimiter) janitor(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-l.stop:
			return
		case now := <-ticker.C:
			l.evict(now)
		}
	}
}

func (l *MemoryLimiter) evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, cl := range l.clients {
		if now.Sub(cl.lastSeen) > l.idle {
			delete(l.clients, key)
		}
	}
}

// Close stops the janitor.
func (l *MemoryLimiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

// RedisLimiter counts requests in Redis so every replica shares one window.
type RedisLimiter struct {
	client redis.Cmdable
	cfg    Config
	prefix string
}

// NewRedisLimiter creates a RedisLimiter. Keys are stored under prefix.
func NewRedisLimiter(client redis.Cmdable, prefix string, cfg Config) (*RedisLimiter, error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &RedisLimiter{client: client, cfg: cfg, prefix: prefix}, nil
}

// Allow increments key's counter for the current window. The counter expires
// with the window that created it.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := l.prefix + "ratelimit:" + key
	var incr *redis.IntCmd
	_, err := l.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.ExpireNX(ctx, k, l.cfg.Window)
		return nil
	})
	if err != nil {
		return false, err
	}
	return incr.Val() <= int64(l.cfg.Requests), nil
}
