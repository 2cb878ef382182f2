package cache

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

// MemoryBackend is an in-process Backend for single-instance deployments.
// Expired keys are dropped lazily on access.
type MemoryBackend struct {
	mu    sync.Mutex
	items map[string]memItem
	now   func() time.Time
}

type memItem struct {
	value   []byte
	expires time.Time
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{items: map[string]memItem{}, now: time.Now}
}

func (m *MemoryBackend) lookup(key string) (memItem, bool) {
	it, ok := m.items[key]
	if !ok {
		return memItem{}, false
	}
	if !it.expires.IsZero() && !m.now().Before(it.expires) {
		delete(m.items, key)
		return memItem{}, false
	}
	return it, true
}

func (m *MemoryBackend) put(key string, value []byte, ttl time.Duration) {
	it := memItem{value: append([]byte(nil), value...)}
	if ttl > 0 {
		it.expires = m.now().Add(ttl)
	}
	m.items[key] = it
}

func (m *MemoryBackend) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.lookup(key)
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), it.value...), nil
}

func (m *MemoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(key, value, ttl)
	return nil
}

func (m *MemoryBackend) Del(_ context.Context, keys ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := m.lookup(k); ok {
			delete(m.items, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryBackend) Exists(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.lookup(key)
	return ok, nil
}

func (m *MemoryBackend) MGet(_ context.Context, keys []string) ([][]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(keys))
	for i, k := range keys {
		if it, ok := m.lookup(k); ok {
			out[i] = append([]byte(nil), it.value...)
		}
	}
	return out, nil
}

func (m *MemoryBackend) MSet(_ context.Context, items map[string][]byte, ttl time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range items {
		m.put(k, v, ttl)
	}
	return len(items), nil
}

func (m *MemoryBackend) Incr(_ context.Context, key string, n int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var cur int64
	it, ok := m.lookup(key)
	if ok {
		v, err := strconv.ParseInt(string(it.value), 10, 64)
		if err != nil {
			return 0, err
		}
		cur = v
	}
	cur += n
	it.value = []byte(strconv.FormatInt(cur, 10))
	m.items[key] = it
	return cur, nil
}

func (m *MemoryBackend) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.items {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if _, ok := m.lookup(k); ok {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *MemoryBackend) AcquireLock(_ context.Context, key, token string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lookup(key); ok {
		return false, nil
	}
	m.put(key, []byte(token), ttl)
	return true, nil
}

func (m *MemoryBackend) ReleaseLock(_ context.Context, key, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it, ok := m.lookup(key)
	if !ok || string(it.value) != token {
		return false, nil
	}
	delete(m.items, key)
	return true, nil
}

func (m *MemoryBackend) Ping(context.Context) error { return nil }
