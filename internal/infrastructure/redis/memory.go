package redis

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryEntry struct {
	value   string
	expires time.Time
}

// MemoryClient is an in-process RedisClient for tests.
type MemoryClient struct {
	mu   sync.Mutex
	data map[string]memoryEntry
	now  func() time.Time
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{data: make(map[string]memoryEntry), now: time.Now}
}

func (m *MemoryClient) get(key string) (memoryEntry, bool) {
	e, ok := m.data[key]
	if !ok {
		return e, false
	}
	if !e.expires.IsZero() && m.now().After(e.expires) {
		delete(m.data, key)
		return e, false
	}
	return e, true
}

func (m *MemoryClient) put(key string, value interface{}, expiration time.Duration) {
	e := memoryEntry{value: fmt.Sprint(value)}
	if expiration > 0 {
		e.expires = m.now().Add(expiration)
	}
	m.data[key] = e
}

func (m *MemoryClient) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.get(key)
	if !ok {
		return "", ErrKeyNotFound
	}
	return e.value, nil
}

func (m *MemoryClient) Set(_ context.Context, key string, value interface{}, expiration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.put(key, value, expiration)
	return nil
}

func (m *MemoryClient) SetNX(_ context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.get(key); ok {
		return false, nil
	}
	m.put(key, value, expiration)
	return true, nil
}

func (m *MemoryClient) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *MemoryClient) Ping(context.Context) error { return nil }

func (m *MemoryClient) Close() error { return nil }
