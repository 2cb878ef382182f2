// Package cache is a namespaced value cache over a key-value Backend.
//
// Every operation degrades instead of failing: with no backend, or when the
// backend errors, reads miss and writes are no-ops. Failures are counted and
// logged, never returned.
package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type Namespace string

const (
	Content    Namespace = "content:"
	Search     Namespace = "search:"
	Embeddings Namespace = "embeddings:"
	Metadata   Namespace = "metadata:"
	Session    Namespace = "session:"
	API        Namespace = "api:"
)

var namespaces = map[string]Namespace{
	"content":    Content,
	"search":     Search,
	"embeddings": Embeddings,
	"metadata":   Metadata,
	"session":    Session,
	"api":        API,
}

// ParseNamespace accepts a namespace name such as "search".
func ParseNamespace(name string) (Namespace, bool) {
	ns, ok := namespaces[name]
	return ns, ok
}

// ErrNotFound is returned by a Backend for a missing key.
var ErrNotFound = errors.New("cache key not found")

// Backend is the key-value store under the cache. Single-key operations are
// atomic; MGet and MSet make no cross-key guarantee.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	// MGet returns one entry per key, nil for missing keys.
	MGet(ctx context.Context, keys []string) ([][]byte, error)
	// MSet reports how many keys were written.
	MSet(ctx context.Context, items map[string][]byte, ttl time.Duration) (int, error)
	Incr(ctx context.Context, key string, n int64) (int64, error)
	Keys(ctx context.Context, prefix string) ([]string, error)
	// AcquireLock sets key to token only if key is absent.
	AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// ReleaseLock deletes key only while it still holds token.
	ReleaseLock(ctx context.Context, key, token string) (bool, error)
	Ping(ctx context.Context) error
}

type Config struct {
	DefaultTTL           time.Duration
	CompressionThreshold int
	SlowOp               time.Duration
}

type Cache struct {
	backend Backend
	codec   codec
	ttl     time.Duration
	slowOp  time.Duration
	logger  *slog.Logger
	stats   *collector
}

type Option func(*Cache)

func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New builds a cache over backend. A nil backend yields a cache that always
// misses.
func New(backend Backend, cfg Config, opts ...Option) *Cache {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = time.Hour
	}
	if cfg.CompressionThreshold <= 0 {
		cfg.CompressionThreshold = DefaultCompressionThreshold
	}
	if cfg.SlowOp <= 0 {
		cfg.SlowOp = 100 * time.Millisecond
	}
	c := &Cache{
		backend: backend,
		codec:   codec{threshold: cfg.CompressionThreshold},
		ttl:     cfg.DefaultTTL,
		slowOp:  cfg.SlowOp,
		logger:  slog.Default(),
		stats:   &collector{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Available reports whether a backend is configured.
func (c *Cache) Available() bool { return c.backend != nil }

func (c *Cache) Ping(ctx context.Context) bool {
	if c.backend == nil {
		return false
	}
	if err := c.backend.Ping(ctx); err != nil {
		c.logger.Error("cache ping failed", "error", err)
		return false
	}
	return true
}

func fullKey(ns Namespace, key string) string { return string(ns) + key }

// Get decodes the cached value into dest and reports whether it was found.
func (c *Cache) Get(ctx context.Context, ns Namespace, key string, dest any) bool {
	if c.backend == nil {
		c.stats.miss()
		return false
	}
	start := time.Now()
	data, err := c.backend.Get(ctx, fullKey(ns, key))
	elapsed := time.Since(start)
	c.stats.observeGet(elapsed)
	c.warnSlow("get", key, elapsed)

	switch {
	case errors.Is(err, ErrNotFound):
		c.stats.miss()
		return false
	case err != nil:
		c.stats.fail()
		c.stats.miss()
		c.logger.Error("cache get failed", "key", key, "namespace", string(ns), "error", err)
		return false
	}
	if err := c.codec.decode(data, dest); err != nil {
		c.stats.fail()
		c.stats.miss()
		c.logger.Error("cache decode failed", "key", key, "namespace", string(ns), "error", err)
		return false
	}
	c.stats.hit()
	return true
}

// Set stores value for ttl, or the default TTL when ttl is zero.
func (c *Cache) Set(ctx context.Context, ns Namespace, key string, value any, ttl time.Duration) bool {
	if c.backend == nil {
		return false
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	start := time.Now()
	data, err := c.codec.encode(value)
	if err != nil {
		c.stats.fail()
		c.logger.Error("cache encode failed", "key", key, "namespace", string(ns), "error", err)
		return false
	}
	if err := c.backend.Set(ctx, fullKey(ns, key), data, ttl); err != nil {
		c.stats.fail()
		c.logger.Error("cache set failed", "key", key, "namespace", string(ns), "error", err)
		return false
	}
	elapsed := time.Since(start)
	c.stats.observeSet(elapsed, 1)
	c.warnSlow("set", key, elapsed)
	return true
}

func (c *Cache) Delete(ctx context.Context, ns Namespace, key string) bool {
	if c.backend == nil {
		return false
	}
	n, err := c.backend.Del(ctx, fullKey(ns, key))
	if err != nil {
		c.stats.fail()
		c.logger.Error("cache delete failed", "key", key, "namespace", string(ns), "error", err)
		return false
	}
	c.stats.deleted()
	return n > 0
}

func (c *Cache) Exists(ctx context.Context, ns Namespace, key string) bool {
	if c.backend == nil {
		return false
	}
	ok, err := c.backend.Exists(ctx, fullKey(ns, key))
	if err != nil {
		c.stats.fail()
		c.logger.Error("cache exists failed", "key", key, "namespace", string(ns), "error", err)
		return false
	}
	return ok
}

// SetMultiple writes every encodable value and returns how many were stored.
func (c *Cache) SetMultiple(ctx context.Context, ns Namespace, values map[string]any, ttl time.Duration) int {
	if c.backend == nil || len(values) == 0 {
		return 0
	}
	if ttl <= 0 {
		ttl = c.ttl
	}
	start := time.Now()
	items := make(map[string][]byte, len(values))
	for k, v := range values {
		data, err := c.codec.encode(v)
		if err != nil {
			c.stats.fail()
			c.logger.Error("cache encode failed", "key", k, "namespace", string(ns), "error", err)
			continue
		}
		items[fullKey(ns, k)] = data
	}
	n, err := c.backend.MSet(ctx, items, ttl)
	if err != nil {
		c.stats.fail()
		c.logger.Error("cache set multiple failed", "namespace", string(ns), "error", err)
	}
	c.stats.observeSet(time.Since(start), n)
	c.stats.ops(len(values) - n)
	return n
}

// GetMultiple returns the entries found; missing or failed keys are absent.
func (c *Cache) GetMultiple(ctx context.Context, ns Namespace, keys []string) map[string]Entry {
	out := map[string]Entry{}
	if len(keys) == 0 {
		return out
	}
	if c.backend == nil {
		for range keys {
			c.stats.miss()
		}
		return out
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = fullKey(ns, k)
	}
	values, err := c.backend.MGet(ctx, full)
	if err != nil {
		c.stats.fail()
		c.logger.Error("cache get multiple failed", "namespace", string(ns), "error", err)
		return out
	}
	for i, k := range keys {
		if i >= len(values) || values[i] == nil {
			c.stats.miss()
			continue
		}
		c.stats.hit()
		out[k] = Entry{data: values[i], codec: c.codec}
	}
	return out
}

// Increment adds n to an integer counter, creating it at zero.
func (c *Cache) Increment(ctx context.Context, ns Namespace, key string, n int64) (int64, bool) {
	if c.backend == nil {
		return 0, false
	}
	v, err := c.backend.Incr(ctx, fullKey(ns, key), n)
	if err != nil {
		c.stats.fail()
		c.logger.Error("cache increment failed", "key", key, "namespace", string(ns), "error", err)
		return 0, false
	}
	c.stats.ops(1)
	return v, true
}

// ClearNamespace deletes every key under ns and returns how many were removed.
func (c *Cache) ClearNamespace(ctx context.Context, ns Namespace) int {
	if c.backend == nil {
		return 0
	}
	keys, err := c.backend.Keys(ctx, string(ns))
	if err != nil {
		c.stats.fail()
		c.logger.Error("cache scan failed", "namespace", string(ns), "error", err)
		return 0
	}
	if len(keys) == 0 {
		return 0
	}
	n, err := c.backend.Del(ctx, keys...)
	if err != nil {
		c.stats.fail()
		c.logger.Error("cache clear failed", "namespace", string(ns), "error", err)
		return 0
	}
	c.logger.Info("cleared cache namespace", "namespace", string(ns), "keys", n)
	return int(n)
}

// Lock is an advisory lock held by this process.
type Lock struct {
	backend Backend
	key     string
	token   string
}

// Release frees the lock if it is still ours.
func (l *Lock) Release(ctx context.Context) error {
	if l == nil {
		return nil
	}
	_, err := l.backend.ReleaseLock(ctx, l.key, l.token)
	return err
}

// GetWithLock takes a non-blocking advisory lock on key and, once held, reads
// the current value into dest. When the lock is taken elsewhere or the
// backend is unavailable it returns (false, nil): try again later.
func (c *Cache) GetWithLock(ctx context.Context, ns Namespace, key string, dest any, lockTTL time.Duration) (bool, *Lock) {
	if c.backend == nil {
		return false, nil
	}
	if lockTTL <= 0 {
		lockTTL = 10 * time.Second
	}
	l := &Lock{backend: c.backend, key: "lock:" + fullKey(ns, key), token: uuid.NewString()}
	ok, err := c.backend.AcquireLock(ctx, l.key, l.token, lockTTL)
	if err != nil {
		c.stats.fail()
		c.logger.Error("cache lock failed", "key", key, "namespace", string(ns), "error", err)
		return false, nil
	}
	if !ok {
		return false, nil
	}
	return c.Get(ctx, ns, key, dest), l
}

func (c *Cache) warnSlow(op, key string, elapsed time.Duration) {
	if elapsed > c.slowOp {
		c.logger.Warn("slow cache operation", "op", op, "key", key, "elapsed", elapsed)
	}
}

func (c *Cache) Stats() Stats { return c.stats.snapshot() }

func (c *Cache) ResetStats() { c.stats.reset() }
