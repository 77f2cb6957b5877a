package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// MemoryCache is an in-process LRU cache with lazy TTL eviction.
// Each namespace keeps its own recency list and capacity budget.
type MemoryCache struct {
	mu         sync.Mutex
	capacity   int
	namespaces map[string]*namespaceStore
	now        func() time.Time
}

type namespaceStore struct {
	entries map[string]*list.Element
	order   *list.List // front = most recently used
}

type memoryEntry struct {
	key       string
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// NewMemoryCache creates a cache holding at most capacity entries per
// namespace.
func NewMemoryCache(capacity int) *MemoryCache {
	if capacity < 1 {
		capacity = 1
	}
	return &MemoryCache{
		capacity:   capacity,
		namespaces: make(map[string]*namespaceStore),
		now:        time.Now,
	}
}

func (c *MemoryCache) Get(ctx context.Context, namespace, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ns, ok := c.namespaces[namespace]
	if !ok {
		return nil, false, nil
	}
	elem, ok := ns.entries[key]
	if !ok {
		return nil, false, nil
	}

	entry := elem.Value.(*memoryEntry)
	if !entry.expiresAt.IsZero() && !c.now().Before(entry.expiresAt) {
		// Expired entries are removed on access, not by a sweeper.
		ns.order.Remove(elem)
		delete(ns.entries, key)
		return nil, false, nil
	}

	ns.order.MoveToFront(elem)
	return entry.value, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, namespace, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ns, ok := c.namespaces[namespace]
	if !ok {
		ns = &namespaceStore{
			entries: make(map[string]*list.Element),
			order:   list.New(),
		}
		c.namespaces[namespace] = ns
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = c.now().Add(ttl)
	}

	if elem, ok := ns.entries[key]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.value = value
		entry.expiresAt = expiresAt
		ns.order.MoveToFront(elem)
		return nil
	}

	elem := ns.order.PushFront(&memoryEntry{key: key, value: value, expiresAt: expiresAt})
	ns.entries[key] = elem

	for ns.order.Len() > c.capacity {
		oldest := ns.order.Back()
		if oldest == nil {
			break
		}
		ns.order.Remove(oldest)
		delete(ns.entries, oldest.Value.(*memoryEntry).key)
	}

	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, namespace, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ns, ok := c.namespaces[namespace]
	if !ok {
		return nil
	}
	if elem, ok := ns.entries[key]; ok {
		ns.order.Remove(elem)
		delete(ns.entries, key)
	}
	return nil
}

func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.namespaces = make(map[string]*namespaceStore)
	return nil
}
