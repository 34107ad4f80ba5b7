package machine

import "sync"

// Cache is the engine's read accelerator, keyed by machine ID.
// Implementations must be safe for concurrent use. Put always replaces the
// previous entry; nothing expires on its own.
type Cache interface {
	Get(id string) (*Machine, bool)
	Put(id string, m *Machine)
}

// MemoryCache is an unbounded in-process Cache.
// It stores and returns deep copies, so callers can't mutate cached records.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]*Machine
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*Machine)}
}

// Get returns a copy of the cached machine.
func (c *MemoryCache) Get(id string) (*Machine, bool) {
	c.mu.RLock()
	m, ok := c.entries[id]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return m.DeepCopy(), true
}

// Put stores a copy of m under id, replacing any previous entry.
func (c *MemoryCache) Put(id string, m *Machine) {
	if m == nil {
		return
	}
	c.mu.Lock()
	c.entries[id] = m.DeepCopy()
	c.mu.Unlock()
}

// Len returns the number of cached machines.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
