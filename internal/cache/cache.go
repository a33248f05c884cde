package cache

import (
	"context"
	"time"

	"github.com/die-net/lrucache"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Cache stores finished masks by key. Implementations are safe for
// concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	String() string
}

type LRU struct {
	c *lrucache.LruCache
}

// NewLRU returns an in-memory cache bounded by maxBytes. Entries older than
// ttl are dropped; a zero ttl keeps them until evicted.
func NewLRU(maxBytes int64, ttl time.Duration) *LRU {
	return &LRU{c: lrucache.New(maxBytes, int64(ttl.Seconds()))}
}

func (l *LRU) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, ok := l.c.Get(key)
	return b, ok, nil
}

func (l *LRU) Set(_ context.Context, key string, value []byte) error {
	l.c.Set(key, value)
	return nil
}

func (l *LRU) Size() int64 { return l.c.Size() }

func (l *LRU) String() string { return "lru" }

type Redis struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedis connects to addr and pings it once.
func NewRedis(ctx context.Context, addr string, ttl time.Duration) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, errors.Wrapf(err, "redis ping %s", addr)
	}
	return &Redis{client: client, ttl: ttl, prefix: "samask:"}, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "redis get")
	}
	return b, true, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	return errors.Wrap(r.client.Set(ctx, r.prefix+key, value, r.ttl).Err(), "redis set")
}

func (r *Redis) Close() error { return r.client.Close() }

func (r *Redis) String() string { return "redis" }
